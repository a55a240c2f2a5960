package httpserver

import (
	"bufio"
	"fmt"
	"net"
	"net/http"
	"regexp"
	"time"

	"github.com/google/uuid"
	ctrllog "sigs.k8s.io/controller-runtime/pkg/log"

	"github.com/dh7/mindcache/pkg/auth"
)

// AuditLogConfig holds configuration for the audit logging middleware.
type AuditLogConfig struct {
	Enabled  bool
	LogLevel int
}

// DefaultAuditLogConfig enables audit logging unless explicitly disabled.
func DefaultAuditLogConfig() AuditLogConfig {
	return AuditLogConfig{Enabled: true, LogLevel: 0}
}

// instancePattern matches the instance id in API paths like
// /api/instances/{instanceId}/...
var instancePattern = regexp.MustCompile(`^/api/instances/([^/]+)(?:/|$)`)

func auditLoggingMiddleware(config AuditLogConfig) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			if !config.Enabled {
				next.ServeHTTP(w, r)
				return
			}

			start := time.Now()
			requestID := r.Header.Get("X-Request-ID")
			if requestID == "" {
				requestID = uuid.New().String()
			}

			userID := "anonymous"
			if session, ok := auth.AuthSessionFrom(r.Context()); ok && session != nil {
				if id := session.Principal().User.ID; id != "" {
					userID = id
				}
			}

			instanceID := extractInstanceID(r)
			action := r.Method + " " + r.URL.Path

			auditLog := ctrllog.Log.WithName("audit").WithValues(
				"request_id", requestID,
				"timestamp", start.UTC().Format(time.RFC3339Nano),
				"user", userID,
				"instance_id", instanceID,
				"action", action,
				"remote_addr", r.RemoteAddr,
			)

			ww := newStatusResponseWriter(w)
			auditLog.V(config.LogLevel).Info("audit: request started")
			next.ServeHTTP(ww, r)
			duration := time.Since(start)

			auditLog.Info("audit: request completed",
				"status", ww.status,
				"result", categorizeResult(ww.status),
				"duration_ms", duration.Milliseconds(),
			)
		})
	}
}

func extractInstanceID(r *http.Request) string {
	if matches := instancePattern.FindStringSubmatch(r.URL.Path); len(matches) > 1 {
		return matches[1]
	}
	if id := r.URL.Query().Get("instanceId"); id != "" {
		return id
	}
	return "unknown"
}

func categorizeResult(status int) string {
	switch {
	case status >= 200 && status < 300:
		return "success"
	case status >= 300 && status < 400:
		return "redirect"
	case status >= 400 && status < 500:
		return "client_error"
	case status >= 500:
		return "server_error"
	default:
		return "unknown"
	}
}

func loggingMiddleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		start := time.Now()
		log := ctrllog.Log.WithName("http").WithValues(
			"method", r.Method,
			"path", r.URL.Path,
			"remote_addr", r.RemoteAddr,
		)

		ww := newStatusResponseWriter(w)
		ctx := ctrllog.IntoContext(r.Context(), log)
		log.V(1).Info("request started")
		next.ServeHTTP(ww, r.WithContext(ctx))
		log.Info("request completed",
			"status", ww.status,
			"duration", time.Since(start),
		)
	})
}

var _ http.Flusher = &statusResponseWriter{}

type statusResponseWriter struct {
	http.ResponseWriter
	status int
}

func newStatusResponseWriter(w http.ResponseWriter) *statusResponseWriter {
	return &statusResponseWriter{w, http.StatusOK}
}

func (w *statusResponseWriter) Flush() {
	if flusher, ok := w.ResponseWriter.(http.Flusher); ok {
		flusher.Flush()
	}
}

func (w *statusResponseWriter) WriteHeader(code int) {
	w.status = code
	w.ResponseWriter.WriteHeader(code)
}

// Hijack forwards to the underlying ResponseWriter so the /sync
// WebSocket upgrade still works when this writer sits in front of it.
func (w *statusResponseWriter) Hijack() (net.Conn, *bufio.ReadWriter, error) {
	hj, ok := w.ResponseWriter.(http.Hijacker)
	if !ok {
		return nil, nil, fmt.Errorf("underlying ResponseWriter does not support hijacking")
	}
	return hj.Hijack()
}

func contentTypeMiddleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if len(r.URL.Path) >= 4 && r.URL.Path[:4] == "/api" {
			w.Header().Set("Content-Type", "application/json")
		}
		next.ServeHTTP(w, r)
	})
}
