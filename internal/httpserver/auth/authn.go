package auth

import (
	"context"
	"fmt"
	"net/http"
	"net/url"
	"strings"

	"github.com/golang-jwt/jwt/v5"

	"github.com/dh7/mindcache/pkg/auth"
	"github.com/dh7/mindcache/pkg/env"
	"github.com/dh7/mindcache/pkg/mcerr"
)

// SimpleSession is the Session implementation every Authenticator below
// returns.
type SimpleSession struct {
	P auth.Principal
}

func (s *SimpleSession) Principal() auth.Principal { return s.P }

// UnsecureAuthenticator trusts X-User-Id (or a user_id query param)
// verbatim. It exists for local development and single-process "local
// mode" embeddings where the Store never leaves the process, matching
// spec §1's local-mode requirement of zero mandatory network identity.
type UnsecureAuthenticator struct{}

func (a *UnsecureAuthenticator) Authenticate(ctx context.Context, reqHeaders http.Header, query url.Values) (auth.Session, error) {
	userID := query.Get("user_id")
	if userID == "" {
		userID = reqHeaders.Get("X-User-Id")
	}
	if userID == "" {
		userID = "local"
	}
	agentID := reqHeaders.Get("X-Agent-Id")

	return &SimpleSession{
		P: auth.Principal{
			User:  auth.User{ID: userID},
			Agent: auth.Agent{ID: agentID},
		},
	}, nil
}

func (a *UnsecureAuthenticator) UpstreamAuth(r *http.Request, session auth.Session, upstreamPrincipal auth.Principal) error {
	if session == nil || session.Principal().User.ID == "" {
		return nil
	}
	r.Header.Set("X-User-Id", session.Principal().User.ID)
	return nil
}

var _ auth.AuthProvider = (*BearerJWTAuthenticator)(nil)

// BearerJWTAuthenticator verifies an identity-provider bearer token
// against the configured issuer, per spec §4.3.1's "bearer credential
// from the user's identity provider". Verification is HMAC-based here;
// a JWKS-backed RSA/EC verifier is a direct extension of the same
// github.com/golang-jwt/jwt/v5 Keyfunc hook.
type BearerJWTAuthenticator struct {
	Issuer    string
	secretKey []byte
}

// NewBearerJWTAuthenticator builds an authenticator with the given
// signing secret, reading its issuer from pkg/env in the teacher's
// env-registry idiom.
func NewBearerJWTAuthenticator(secretKey []byte) *BearerJWTAuthenticator {
	return &BearerJWTAuthenticator{Issuer: env.IdentityProviderIssuer.Get(), secretKey: secretKey}
}

func (a *BearerJWTAuthenticator) Authenticate(ctx context.Context, reqHeaders http.Header, query url.Values) (auth.Session, error) {
	raw := reqHeaders.Get("Authorization")
	tokenStr := strings.TrimPrefix(raw, "Bearer ")
	if tokenStr == "" || tokenStr == raw {
		return nil, mcerr.New(mcerr.Unauthenticated, "missing bearer token")
	}

	claims := jwt.MapClaims{}
	token, err := jwt.ParseWithClaims(tokenStr, claims, func(t *jwt.Token) (interface{}, error) {
		if _, ok := t.Method.(*jwt.SigningMethodHMAC); !ok {
			return nil, fmt.Errorf("unexpected signing method: %v", t.Header["alg"])
		}
		return a.secretKey, nil
	})
	if err != nil || !token.Valid {
		return nil, mcerr.Wrap(mcerr.Unauthenticated, "invalid bearer token", err)
	}
	if a.Issuer != "" {
		if iss, _ := claims.GetIssuer(); iss != a.Issuer {
			return nil, mcerr.New(mcerr.Unauthenticated, "unexpected token issuer")
		}
	}

	sub, _ := claims.GetSubject()
	return &SimpleSession{P: auth.Principal{
		User:   auth.User{ID: sub},
		Claims: claims,
	}}, nil
}

func (a *BearerJWTAuthenticator) UpstreamAuth(r *http.Request, session auth.Session, upstreamPrincipal auth.Principal) error {
	return nil
}

func (a *BearerJWTAuthenticator) Check(ctx context.Context, principal auth.Principal, verb auth.Verb, resource auth.Resource) error {
	return nil
}

// DelegateSecretVerifier checks a plaintext delegate secret against the
// bcrypt hash on file, the boundary internal/registry owns. Kept as an
// interface here so internal/httpserver/auth has no import dependency on
// gorm/internal/registry.
type DelegateSecretVerifier interface {
	VerifyDelegateSecret(ctx context.Context, instanceID, secret string) (delegateID string, ok bool, err error)
}

var _ auth.Authenticator = (*DelegateSecretAuthenticator)(nil)

// DelegateSecretAuthenticator authenticates a connection using a
// delegate secret (spec §4.3.1's second credential form), identified by
// the instanceId path/query parameter and an X-Delegate-Secret header.
type DelegateSecretAuthenticator struct {
	Verifier DelegateSecretVerifier
}

func (a *DelegateSecretAuthenticator) Authenticate(ctx context.Context, reqHeaders http.Header, query url.Values) (auth.Session, error) {
	secret := reqHeaders.Get("X-Delegate-Secret")
	if secret == "" {
		secret = query.Get("delegate_secret")
	}
	if secret == "" {
		return nil, mcerr.New(mcerr.Unauthenticated, "missing delegate secret")
	}
	instanceID := query.Get("instanceId")
	delegateID, ok, err := a.Verifier.VerifyDelegateSecret(ctx, instanceID, secret)
	if err != nil {
		return nil, mcerr.Wrap(mcerr.Fatal, "verifying delegate secret", err)
	}
	if !ok {
		return nil, mcerr.New(mcerr.Unauthenticated, "invalid delegate secret")
	}
	return &SimpleSession{P: auth.Principal{
		Claims: map[string]any{"delegate_id": delegateID, "instance_id": instanceID},
	}}, nil
}
