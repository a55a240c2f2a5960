// Package auth defines the identity and authorization contract shared by
// internal/httpserver, internal/authority, and internal/registry: who is
// making a request (Principal), how a connection's identity persists
// across messages (Session), and the verb/resource shape Authorizer
// checks are expressed in (spec §4.3.4, §4.7's owner/delegate/permission
// matrix).
package auth

import (
	"context"
	"net/http"
	"net/url"
)

// User identifies a human account authenticated against the configured
// identity provider.
type User struct {
	ID string
}

// Agent identifies the LLM agent or automated actor making a request,
// distinct from the human User that may be delegating to it.
type Agent struct {
	ID string
}

// Principal is the authenticated identity behind a request: a user, an
// agent acting on its behalf, or a delegate holding only a scoped
// instance secret (in which case User.ID is empty and Claims carries the
// delegate's id under "delegate_id").
type Principal struct {
	User   User
	Agent  Agent
	Claims map[string]any
}

// Session is the per-connection identity an Authenticator produces. It
// outlives a single request on the WebSocket sync channel, where one
// auth handshake governs every subsequent message.
type Session interface {
	Principal() Principal
}

// Verb is the action an Authorizer evaluates.
type Verb string

const (
	VerbGet    Verb = "get"
	VerbCreate Verb = "create"
	VerbUpdate Verb = "update"
	VerbDelete Verb = "delete"
)

// Resource identifies what a Verb is being applied to, e.g. an
// instance's store entry or the instance itself.
type Resource struct {
	Type string // "instance", "entry", "delegate", ...
	Name string
	// InstanceID scopes the check to one instance's owner/delegate
	// records when Type requires it.
	InstanceID string
}

// Authenticator extracts a Session from request headers and query
// parameters, the shape every transport (HTTP control-plane, WebSocket
// handshake) authenticates through.
type Authenticator interface {
	Authenticate(ctx context.Context, reqHeaders http.Header, query url.Values) (Session, error)
}

// Authorizer decides whether principal may perform verb on resource.
type Authorizer interface {
	Check(ctx context.Context, principal Principal, verb Verb, resource Resource) error
}

// AuthProvider bundles an Authenticator and Authorizer with the upstream
// credential-forwarding behavior a transport needs when proxying a
// request on the caller's behalf.
type AuthProvider interface {
	Authenticator
	Authorizer
	// UpstreamAuth attaches session's credential to an outgoing request
	// made upstream of the caller, e.g. the authority's own calls to an
	// AI provider on a delegate's behalf.
	UpstreamAuth(r *http.Request, session Session, upstreamPrincipal Principal) error
}

type contextKey int

const sessionContextKey contextKey = iota

// AuthSessionFrom retrieves the Session attached to ctx by AuthnMiddleware.
func AuthSessionFrom(ctx context.Context) (Session, bool) {
	s, ok := ctx.Value(sessionContextKey).(Session)
	return s, ok
}

// WithSession attaches session to ctx.
func WithSession(ctx context.Context, session Session) context.Context {
	return context.WithValue(ctx, sessionContextKey, session)
}

// AuthnMiddleware authenticates every request through provider and
// rejects it with 401 on failure, otherwise attaching the resulting
// Session to the request context.
func AuthnMiddleware(provider Authenticator) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			session, err := provider.Authenticate(r.Context(), r.Header, r.URL.Query())
			if err != nil || session == nil {
				http.Error(w, "unauthenticated", http.StatusUnauthorized)
				return
			}
			next.ServeHTTP(w, r.WithContext(WithSession(r.Context(), session)))
		})
	}
}
