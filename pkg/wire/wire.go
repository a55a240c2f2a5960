// Package wire defines the JSON message envelopes exchanged between a
// pkg/cloud adapter and internal/authority over the sync WebSocket, plus
// the connection close codes that carry protocol-level outcomes.
package wire

import (
	"encoding/json"
	"time"

	"github.com/dh7/mindcache/pkg/store"
)

// Type discriminates the JSON envelope kinds of spec §4.3.2. Every frame
// sent as a WebSocket text message carries one of these in its "type"
// field; doc_update ops travel inside the DocUpdate payload's Ops field.
type Type string

const (
	TypeAuth        Type = "auth"
	TypeAuthSuccess Type = "auth_success"
	TypeAuthFailure Type = "auth_failure"
	TypeSync        Type = "sync"
	TypeSet         Type = "set"
	TypeDelete      Type = "delete"
	TypeDocUpdate   Type = "doc_update"
	TypeError       Type = "error"
)

// CloseCode enumerates the WebSocket close codes with protocol meaning
// beyond RFC 6455's generic ones (spec §6).
type CloseCode int

const (
	CloseAuthFailed       CloseCode = 4401
	ClosePermissionDenied CloseCode = 4403
	CloseNormal           CloseCode = 1000
)

// Envelope is the outer shape every JSON text frame shares; Payload is
// re-decoded into the concrete type indicated by Type.
type Envelope struct {
	Type    Type            `json:"type"`
	Payload json.RawMessage `json:"payload,omitempty"`
}

// Auth is the client's credential presentation (spec §4.3.1). Exactly
// one of BearerToken or DelegateSecret is set.
type Auth struct {
	InstanceID     string `json:"instanceId"`
	ActorID        string `json:"actorId"`
	BearerToken    string `json:"bearerToken,omitempty"`
	DelegateSecret string `json:"delegateSecret,omitempty"`
}

// Permission is a bitmask of capabilities an authenticated session holds
// over an instance (spec §9's delegate capability decision).
type Permission uint8

const (
	PermRead Permission = 1 << iota
	PermWrite
	PermSystem
)

func (p Permission) Has(bit Permission) bool { return p&bit != 0 }

// AuthSuccess is sent in reply to a valid Auth, immediately followed by
// a Sync envelope carrying the full snapshot.
type AuthSuccess struct {
	SessionID   string     `json:"sessionId"`
	Permissions Permission `json:"permissions"`
}

// AuthFailure precedes the server closing the channel with CloseAuthFailed.
type AuthFailure struct {
	Reason string `json:"reason"`
}

// SyncEntry is one key's worth of state inside a Sync snapshot.
type SyncEntry struct {
	Value      json.RawMessage `json:"value"`
	Type       store.Kind      `json:"type"`
	Attributes json.RawMessage `json:"attributes"`
	Revision   uint64          `json:"revision"`
	UpdatedAt  time.Time       `json:"updatedAt"`
}

// Sync is the full non-reserved snapshot sent after AuthSuccess (spec §4.3.2).
type Sync struct {
	Entries  map[string]SyncEntry `json:"entries"`
	Revision uint64               `json:"revision"`
}

// Set is a write op, sent in either direction. BaseRev is set by clients
// optimistically resolving a conflict and omitted otherwise; the
// authority always omits it on the way out since it is the one
// assigning revisions.
type Set struct {
	Key        string          `json:"key"`
	Value      json.RawMessage `json:"value"`
	Type       store.Kind      `json:"type"`
	Attributes json.RawMessage `json:"attributes"`
	ClientTs   time.Time       `json:"clientTs"`
	BaseRev    *uint64         `json:"baseRev,omitempty"`
	Revision   uint64          `json:"revision,omitempty"`
}

// Delete is a remove op, sent in either direction.
type Delete struct {
	Key      string    `json:"key"`
	ClientTs time.Time `json:"clientTs"`
	Revision uint64    `json:"revision,omitempty"`
}

// DocUpdate carries an opaque doc-CRDT delta for the document named by
// Key, inside the JSON envelope (Ops is base64 in JSON). The Ops field carries the rga wire
// encoding (see pkg/rga.EncodeOps) and is never interpreted by pkg/wire
// itself.
type DocUpdate struct {
	Key string `json:"key"`
	Ops []byte `json:"ops"`
}

// Error carries a protocol or permission failure (spec §7's error kinds,
// stringified so pkg/wire has no import dependency on pkg/mcerr).
type Error struct {
	Kind    string `json:"kind"`
	Message string `json:"message"`
}

// Encode wraps a typed payload into an Envelope ready for json.Marshal.
func Encode(t Type, payload any) (Envelope, error) {
	raw, err := json.Marshal(payload)
	if err != nil {
		return Envelope{}, err
	}
	return Envelope{Type: t, Payload: raw}, nil
}

// MarshalFrame is a convenience wrapper combining Encode and json.Marshal.
func MarshalFrame(t Type, payload any) ([]byte, error) {
	env, err := Encode(t, payload)
	if err != nil {
		return nil, err
	}
	return json.Marshal(env)
}
