// Command authorityd runs the MindCache instance authority: the REST
// control plane and the `/sync/{instanceId}` WebSocket endpoint backed
// by internal/authority's per-instance actors and internal/registry's
// durable store.
package main

import (
	"context"
	"flag"
	"net/http"
	"os/signal"
	"strconv"
	"strings"
	"syscall"
	"time"

	"github.com/go-logr/logr"
	"github.com/go-logr/zapr"
	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
	ctrllog "sigs.k8s.io/controller-runtime/pkg/log"

	"github.com/dh7/mindcache/internal/authority"
	"github.com/dh7/mindcache/internal/httpserver"
	authimpl "github.com/dh7/mindcache/internal/httpserver/auth"
	"github.com/dh7/mindcache/internal/goruntime"
	"github.com/dh7/mindcache/internal/registry"
	"github.com/dh7/mindcache/pkg/auth"
	"github.com/dh7/mindcache/pkg/env"
)

func setupLogger(logLevel string) (logr.Logger, *zap.Logger) {
	var zapLevel zapcore.Level
	switch strings.ToLower(logLevel) {
	case "debug":
		zapLevel = zapcore.DebugLevel
	case "warn", "warning":
		zapLevel = zapcore.WarnLevel
	case "error":
		zapLevel = zapcore.ErrorLevel
	default:
		zapLevel = zapcore.InfoLevel
	}

	zapConfig := zap.NewProductionConfig()
	zapConfig.Level = zap.NewAtomicLevelAt(zapLevel)
	zapConfig.EncoderConfig.TimeKey = "timestamp"
	zapConfig.EncoderConfig.EncodeTime = zapcore.ISO8601TimeEncoder

	zapLogger, err := zapConfig.Build()
	if err != nil {
		devConfig := zap.NewDevelopmentConfig()
		devConfig.Level = zap.NewAtomicLevelAt(zapLevel)
		zapLogger, _ = devConfig.Build()
	}
	return zapr.NewLogger(zapLogger), zapLogger
}

// getAuthenticator selects the REST/sync authenticator from
// pkg/env.AuthMode, in the teacher's AUTH_MODE switch idiom.
func getAuthenticator() auth.Authenticator {
	switch env.AuthMode.Get() {
	case "jwt":
		return authimpl.NewBearerJWTAuthenticator([]byte(env.JWTSigningSecret.Get()))
	default:
		return &authimpl.UnsecureAuthenticator{}
	}
}

func main() {
	logLevel := flag.String("log-level", "info", "Set the logging level (debug, info, warn, error)")
	flag.Parse()

	logger, zapLogger := setupLogger(*logLevel)
	defer func() { _ = zapLogger.Sync() }()
	ctrllog.SetLogger(logger)

	goruntime.SetMemLimit(logger, parseRatio(env.MemLimitRatio.Get()))

	mgr, err := registry.NewManager(env.DatabaseURL.Get())
	if err != nil {
		logger.Error(err, "failed to open registry database")
		return
	}
	defer mgr.Close()
	if err := mgr.Initialize(); err != nil {
		logger.Error(err, "failed to migrate registry schema")
		return
	}
	reg := registry.NewStore(mgr)

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	hub := authority.NewHub(ctx, reg)
	defer hub.StopAll()

	authn := getAuthenticator()
	authz := &authimpl.InstanceAuthorizer{Registry: reg}
	delegateAuthn := &authimpl.DelegateSecretAuthenticator{Verifier: reg}

	srv := httpserver.NewServer(reg, hub, authn, authz, delegateAuthn)
	router := srv.NewRouter(httpserver.DefaultAuditLogConfig())

	addr := env.ListenAddr.Get()
	httpSrv := &http.Server{
		Addr:              addr,
		Handler:           router,
		ReadHeaderTimeout: 10 * time.Second,
	}

	logger.Info("authority listening", "addr", addr, "auth_mode", env.AuthMode.Get())
	go func() {
		<-ctx.Done()
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		_ = httpSrv.Shutdown(shutdownCtx)
	}()
	if err := httpSrv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
		logger.Error(err, "authority server exited")
	}
}

func parseRatio(s string) float64 {
	f, err := strconv.ParseFloat(s, 64)
	if err != nil {
		return 0.9
	}
	return f
}
