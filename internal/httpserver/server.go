// Package httpserver exposes the control-plane REST API and the
// `/sync/{instanceId}` WebSocket endpoint that together form the
// external interface of spec §6: gorilla/mux routes the former,
// gorilla/websocket serves the latter, and both authenticate through
// internal/httpserver/auth before reaching internal/authority or
// internal/registry.
package httpserver

import (
	"context"
	"encoding/json"
	"net/http"
	"time"

	"github.com/go-logr/logr"
	"github.com/google/uuid"
	"github.com/gorilla/mux"
	"github.com/gorilla/websocket"
	ctrllog "sigs.k8s.io/controller-runtime/pkg/log"

	"github.com/dh7/mindcache/internal/authority"
	httpauth "github.com/dh7/mindcache/internal/httpserver/auth"
	"github.com/dh7/mindcache/internal/registry"
	"github.com/dh7/mindcache/pkg/auth"
	"github.com/dh7/mindcache/pkg/mcerr"
	"github.com/dh7/mindcache/pkg/wire"
)

// Server wires the control-plane and sync endpoints to their backing
// registry, authority hub, and authentication providers. Authn serves
// both the REST control plane and the WebSocket handshake's bearer-token
// path; Authz evaluates the owner/delegate/permission matrix (spec
// §4.3.4 steps 1-2) against admin actions on the control plane.
type Server struct {
	Registry      *registry.Store
	Hub           *authority.Hub
	Authn         auth.Authenticator
	Authz         auth.Authorizer
	DelegateAuthn *httpauth.DelegateSecretAuthenticator

	upgrader websocket.Upgrader
}

// NewServer builds a Server ready for NewRouter.
func NewServer(reg *registry.Store, hub *authority.Hub, authn auth.Authenticator, authz auth.Authorizer, delegate *httpauth.DelegateSecretAuthenticator) *Server {
	return &Server{
		Registry:      reg,
		Hub:           hub,
		Authn:         authn,
		Authz:         authz,
		DelegateAuthn: delegate,
		upgrader: websocket.Upgrader{
			ReadBufferSize:  4096,
			WriteBufferSize: 4096,
			CheckOrigin:     func(r *http.Request) bool { return true },
		},
	}
}

// NewRouter assembles the full route table, in the teacher's
// mux.NewRouter()-plus-middleware-chain idiom.
func (s *Server) NewRouter(auditCfg AuditLogConfig) *mux.Router {
	r := mux.NewRouter()
	r.Use(loggingMiddleware)
	r.Use(contentTypeMiddleware)
	r.Use(auditLoggingMiddleware(auditCfg))

	r.HandleFunc("/health", s.handleHealth).Methods(http.MethodGet)

	api := r.PathPrefix("/api").Subrouter()
	api.Use(auth.AuthnMiddleware(s.Authn))

	api.HandleFunc("/instances", s.handleCreateInstance).Methods(http.MethodPost)
	api.HandleFunc("/instances", s.handleListInstances).Methods(http.MethodGet)
	api.HandleFunc("/instances/{instanceId}", s.handleGetInstance).Methods(http.MethodGet)
	api.HandleFunc("/instances/{instanceId}", s.handleDeleteInstance).Methods(http.MethodDelete)
	api.HandleFunc("/instances/{instanceId}/clone", s.handleCloneInstance).Methods(http.MethodPost)
	api.HandleFunc("/instances/{instanceId}/delegates", s.handleCreateDelegate).Methods(http.MethodPost)
	api.HandleFunc("/instances/{instanceId}/delegates", s.handleListDelegates).Methods(http.MethodGet)
	api.HandleFunc("/instances/{instanceId}/delegates/{delegateId}", s.handleDeleteDelegate).Methods(http.MethodDelete)
	api.HandleFunc("/instances/{instanceId}/permissions", s.handleGrantPermission).Methods(http.MethodPost)
	api.HandleFunc("/instances/{instanceId}/permissions/{actorId}", s.handleRevokePermission).Methods(http.MethodDelete)

	r.HandleFunc("/sync/{instanceId}", s.handleSync).Methods(http.MethodGet)

	return r
}

func (s *Server) handleHealth(w http.ResponseWriter, r *http.Request) {
	w.WriteHeader(http.StatusOK)
	_, _ = w.Write([]byte("OK"))
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}

func writeError(w http.ResponseWriter, err error) {
	kind := mcerr.Of(err)
	writeJSON(w, kind.HTTPStatus(), map[string]string{"kind": string(kind), "message": err.Error()})
}

func currentUserID(r *http.Request) string {
	session, ok := auth.AuthSessionFrom(r.Context())
	if !ok || session == nil {
		return ""
	}
	return session.Principal().User.ID
}

type createInstanceRequest struct {
	ID   string `json:"id"`
	Name string `json:"name"`
}

func (s *Server) handleCreateInstance(w http.ResponseWriter, r *http.Request) {
	var req createInstanceRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, mcerr.Wrap(mcerr.InvalidValue, "decoding request body", err))
		return
	}
	if req.ID == "" {
		req.ID = uuid.New().String()
	}
	inst, err := s.Registry.CreateInstance(r.Context(), req.ID, req.Name, currentUserID(r))
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusCreated, inst)
}

func (s *Server) handleListInstances(w http.ResponseWriter, r *http.Request) {
	list, err := s.Registry.ListInstances(r.Context(), currentUserID(r))
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, list)
}

func (s *Server) handleGetInstance(w http.ResponseWriter, r *http.Request) {
	inst, err := s.Registry.GetInstance(r.Context(), mux.Vars(r)["instanceId"])
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, inst)
}

func (s *Server) handleDeleteInstance(w http.ResponseWriter, r *http.Request) {
	instanceID := mux.Vars(r)["instanceId"]
	if err := s.authorize(r, auth.VerbDelete, "instance", instanceID); err != nil {
		writeError(w, err)
		return
	}
	if err := s.Registry.DeleteInstance(r.Context(), instanceID); err != nil {
		writeError(w, err)
		return
	}
	s.Hub.Stop(instanceID)
	w.WriteHeader(http.StatusNoContent)
}

type cloneInstanceRequest struct {
	ID   string `json:"id"`
	Name string `json:"name"`
}

func (s *Server) handleCloneInstance(w http.ResponseWriter, r *http.Request) {
	sourceID := mux.Vars(r)["instanceId"]
	var req cloneInstanceRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, mcerr.Wrap(mcerr.InvalidValue, "decoding request body", err))
		return
	}
	if req.ID == "" {
		req.ID = uuid.New().String()
	}
	clone, err := s.Registry.CloneInstance(r.Context(), req.ID, req.Name, currentUserID(r), sourceID)
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusCreated, clone)
}

type createDelegateRequest struct {
	ID         string `json:"id"`
	CanRead    bool   `json:"canRead"`
	CanWrite   bool   `json:"canWrite"`
	CanSystem  bool   `json:"canSystem"`
	TTLSeconds int    `json:"ttlSeconds"`
}

type createDelegateResponse struct {
	ID     string `json:"id"`
	Secret string `json:"secret"`
}

func (s *Server) handleCreateDelegate(w http.ResponseWriter, r *http.Request) {
	instanceID := mux.Vars(r)["instanceId"]
	if err := s.authorize(r, auth.VerbCreate, "delegate", instanceID); err != nil {
		writeError(w, err)
		return
	}
	var req createDelegateRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, mcerr.Wrap(mcerr.InvalidValue, "decoding request body", err))
		return
	}
	if req.ID == "" {
		req.ID = uuid.New().String()
	}
	bits := permissionBits(req.CanRead, req.CanWrite, req.CanSystem)
	var ttl time.Duration
	if req.TTLSeconds > 0 {
		ttl = time.Duration(req.TTLSeconds) * time.Second
	}
	secret, err := s.Registry.CreateDelegate(r.Context(), req.ID, instanceID, currentUserID(r), bits, ttl)
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusCreated, createDelegateResponse{ID: req.ID, Secret: secret})
}

func (s *Server) handleListDelegates(w http.ResponseWriter, r *http.Request) {
	instanceID := mux.Vars(r)["instanceId"]
	if err := s.authorize(r, auth.VerbGet, "delegate", instanceID); err != nil {
		writeError(w, err)
		return
	}
	list, err := s.Registry.ListDelegates(r.Context(), instanceID)
	if err != nil {
		writeError(w, err)
		return
	}
	views := make([]delegateView, 0, len(list))
	for _, d := range list {
		views = append(views, delegateView{
			ID: d.ID, InstanceID: d.InstanceID, OwnerID: d.OwnerID,
			Capabilities: d.Capabilities, ExpiresAt: d.ExpiresAt.Ptr(),
		})
	}
	writeJSON(w, http.StatusOK, views)
}

// delegateView omits Delegate's SecretHash; only CreateDelegate's
// response ever carries the plaintext secret, and only once.
type delegateView struct {
	ID           string          `json:"id"`
	InstanceID   string          `json:"instanceId"`
	OwnerID      string          `json:"ownerId"`
	Capabilities wire.Permission `json:"capabilities"`
	ExpiresAt    *time.Time      `json:"expiresAt,omitempty"`
}

func (s *Server) handleDeleteDelegate(w http.ResponseWriter, r *http.Request) {
	vars := mux.Vars(r)
	if err := s.authorize(r, auth.VerbDelete, "delegate", vars["instanceId"]); err != nil {
		writeError(w, err)
		return
	}
	if err := s.Registry.DeleteDelegate(r.Context(), vars["delegateId"]); err != nil {
		writeError(w, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

type grantPermissionRequest struct {
	ActorID   string `json:"actorId"`
	CanRead   bool   `json:"canRead"`
	CanWrite  bool   `json:"canWrite"`
	CanSystem bool   `json:"canSystem"`
}

func (s *Server) handleGrantPermission(w http.ResponseWriter, r *http.Request) {
	instanceID := mux.Vars(r)["instanceId"]
	if err := s.authorize(r, auth.VerbCreate, "permission", instanceID); err != nil {
		writeError(w, err)
		return
	}
	var req grantPermissionRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, mcerr.Wrap(mcerr.InvalidValue, "decoding request body", err))
		return
	}
	bits := permissionBits(req.CanRead, req.CanWrite, req.CanSystem)
	if err := s.Registry.GrantPermission(r.Context(), instanceID, req.ActorID, bits, currentUserID(r)); err != nil {
		writeError(w, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

func (s *Server) handleRevokePermission(w http.ResponseWriter, r *http.Request) {
	vars := mux.Vars(r)
	if err := s.authorize(r, auth.VerbDelete, "permission", vars["instanceId"]); err != nil {
		writeError(w, err)
		return
	}
	if err := s.Registry.RevokePermission(r.Context(), vars["instanceId"], vars["actorId"]); err != nil {
		writeError(w, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

func permissionBits(canRead, canWrite, canSystem bool) wire.Permission {
	var bits wire.Permission
	if canRead {
		bits |= wire.PermRead
	}
	if canWrite {
		bits |= wire.PermWrite
	}
	if canSystem {
		bits |= wire.PermSystem
	}
	return bits
}

// authorize runs the authenticated request's principal through the
// owner/delegate/permission matrix for a control-plane admin action
// (spec §4.3.4 steps 1-2, evaluated by internal/httpserver/auth's
// InstanceAuthorizer against internal/registry).
func (s *Server) authorize(r *http.Request, verb auth.Verb, resourceType, instanceID string) error {
	session, ok := auth.AuthSessionFrom(r.Context())
	if !ok || session == nil {
		return mcerr.New(mcerr.Unauthenticated, "missing session")
	}
	if err := s.Authz.Check(r.Context(), session.Principal(), verb, auth.Resource{Type: resourceType, InstanceID: instanceID}); err != nil {
		return mcerr.Wrap(mcerr.Unauthorized, err.Error(), err)
	}
	return nil
}

// handleSync upgrades to a WebSocket, runs the auth handshake of spec
// §4.3.1-§4.3.2, attaches a Session to the instance actor, and then
// pumps frames in both directions until the connection closes.
func (s *Server) handleSync(w http.ResponseWriter, r *http.Request) {
	instanceID := mux.Vars(r)["instanceId"]
	log := ctrllog.Log.WithName("sync").WithValues("instance_id", instanceID)

	conn, err := s.upgrader.Upgrade(w, r, nil)
	if err != nil {
		log.Error(err, "websocket upgrade failed")
		return
	}
	defer conn.Close()

	_, raw, err := conn.ReadMessage()
	if err != nil {
		return
	}
	var env wire.Envelope
	if err := json.Unmarshal(raw, &env); err != nil || env.Type != wire.TypeAuth {
		s.closeWithFailure(conn, "first message must be an auth frame", wire.CloseAuthFailed)
		return
	}
	var authMsg wire.Auth
	if err := json.Unmarshal(env.Payload, &authMsg); err != nil {
		s.closeWithFailure(conn, "malformed auth payload", wire.CloseAuthFailed)
		return
	}
	authMsg.InstanceID = instanceID

	ctx := r.Context()
	instance, err := s.Registry.GetInstance(ctx, instanceID)
	if err != nil {
		s.closeWithFailure(conn, "unknown instance", wire.CloseAuthFailed)
		return
	}

	actorID, isOwner, perms, err := s.authenticateSync(ctx, authMsg, instance)
	if err != nil {
		s.closeWithFailure(conn, err.Error(), wire.CloseAuthFailed)
		return
	}
	if !isOwner && !perms.Has(wire.PermRead) {
		s.closeWithFailure(conn, "actor lacks read permission on this instance", wire.ClosePermissionDenied)
		return
	}

	actor, err := s.Hub.GetOrStart(ctx, instanceID, instance.OwnerID)
	if err != nil {
		s.closeWithFailure(conn, "failed to start instance actor", wire.CloseAuthFailed)
		return
	}

	session := authority.NewSession(uuid.New().String(), actorID, isOwner, perms)
	sync, err := actor.Attach(ctx, session)
	if err != nil {
		s.closeWithFailure(conn, err.Error(), wire.CloseAuthFailed)
		return
	}

	successFrame, err := wire.MarshalFrame(wire.TypeAuthSuccess, wire.AuthSuccess{SessionID: session.ID, Permissions: perms})
	if err != nil {
		return
	}
	if err := conn.WriteMessage(websocket.TextMessage, successFrame); err != nil {
		return
	}
	syncFrame, err := wire.MarshalFrame(wire.TypeSync, sync)
	if err != nil {
		return
	}
	if err := conn.WriteMessage(websocket.TextMessage, syncFrame); err != nil {
		return
	}

	done := make(chan struct{})
	go s.writePump(conn, session, done)
	s.readPump(ctx, conn, actor, session, log)
	close(done)
	actor.Detach(ctx, session)
}

func (s *Server) closeWithFailure(conn *websocket.Conn, reason string, code wire.CloseCode) {
	frame, err := wire.MarshalFrame(wire.TypeAuthFailure, wire.AuthFailure{Reason: reason})
	if err == nil {
		_ = conn.WriteMessage(websocket.TextMessage, frame)
	}
	_ = conn.WriteControl(websocket.CloseMessage,
		websocket.FormatCloseMessage(int(code), reason), time.Now().Add(time.Second))
}

// authenticateSync resolves the actor identity and effective Permission
// bitmask from an Auth handshake payload, trying the bearer and
// delegate-secret credential forms in turn (spec §4.3.1).
func (s *Server) authenticateSync(ctx context.Context, msg wire.Auth, instance *registry.Instance) (actorID string, isOwner bool, perms wire.Permission, err error) {
	switch {
	case msg.BearerToken != "":
		headers := http.Header{"Authorization": []string{"Bearer " + msg.BearerToken}}
		if msg.ActorID != "" {
			headers.Set("X-User-Id", msg.ActorID)
		}
		session, err := s.Authn.Authenticate(ctx, headers, nil)
		if err != nil {
			return "", false, 0, err
		}
		actorID = session.Principal().User.ID
		isOwner = actorID == instance.OwnerID
	case msg.DelegateSecret != "":
		if s.DelegateAuthn == nil {
			return "", false, 0, mcerr.New(mcerr.Unauthenticated, "delegate authentication is not configured")
		}
		headers := http.Header{"X-Delegate-Secret": []string{msg.DelegateSecret}}
		query := map[string][]string{"instanceId": {instance.ID}}
		session, err := s.DelegateAuthn.Authenticate(ctx, headers, query)
		if err != nil {
			return "", false, 0, err
		}
		actorID, _ = session.Principal().Claims["delegate_id"].(string)
	default:
		return "", false, 0, mcerr.New(mcerr.Unauthenticated, "auth frame carries no credential")
	}

	if isOwner {
		return actorID, true, wire.PermRead | wire.PermWrite | wire.PermSystem, nil
	}
	canRead, canWrite, canSystem, err := s.Registry.DelegatePermission(ctx, actorID, instance.ID)
	if err != nil {
		return "", false, 0, err
	}
	perms = permissionBits(canRead, canWrite, canSystem)
	return actorID, false, perms, nil
}

func (s *Server) writePump(conn *websocket.Conn, session *authority.Session, done <-chan struct{}) {
	for {
		select {
		case frame := <-session.Outbound():
			if err := conn.WriteMessage(websocket.TextMessage, frame); err != nil {
				return
			}
		case <-session.Closed():
			_ = conn.WriteControl(websocket.CloseMessage,
				websocket.FormatCloseMessage(int(wire.ClosePermissionDenied), "session evicted"), time.Now().Add(time.Second))
			_ = conn.Close()
			return
		case <-done:
			return
		}
	}
}

func (s *Server) readPump(ctx context.Context, conn *websocket.Conn, actor *authority.Actor, session *authority.Session, log logr.Logger) {
	for {
		_, raw, err := conn.ReadMessage()
		if err != nil {
			return
		}
		var env wire.Envelope
		if err := json.Unmarshal(raw, &env); err != nil {
			s.sendProtocolError(session, mcerr.InvalidValue, "malformed frame")
			continue
		}

		var opErr error
		switch env.Type {
		case wire.TypeSet:
			var msg wire.Set
			if err := json.Unmarshal(env.Payload, &msg); err != nil {
				s.sendProtocolError(session, mcerr.InvalidValue, "malformed set payload")
				continue
			}
			opErr = actor.Set(ctx, session, msg)
		case wire.TypeDelete:
			var msg wire.Delete
			if err := json.Unmarshal(env.Payload, &msg); err != nil {
				s.sendProtocolError(session, mcerr.InvalidValue, "malformed delete payload")
				continue
			}
			opErr = actor.Delete(ctx, session, msg)
		case wire.TypeDocUpdate:
			var msg wire.DocUpdate
			if err := json.Unmarshal(env.Payload, &msg); err != nil {
				s.sendProtocolError(session, mcerr.InvalidValue, "malformed doc_update payload")
				continue
			}
			opErr = actor.DocUpdate(ctx, session, msg)
		default:
			s.sendProtocolError(session, mcerr.InvalidValue, "unrecognized frame type")
			continue
		}
		if opErr != nil {
			log.V(1).Info("rejected op", "kind", env.Type, "error", opErr)
			s.sendProtocolError(session, mcerr.Of(opErr), opErr.Error())
		}
	}
}

func (s *Server) sendProtocolError(session *authority.Session, kind mcerr.Kind, message string) {
	frame, err := wire.MarshalFrame(wire.TypeError, wire.Error{Kind: string(kind), Message: message})
	if err != nil {
		return
	}
	session.EnqueueFrame(frame)
}
