package authority

import "github.com/dh7/mindcache/pkg/wire"

// outboundBuffer bounds how far behind a slow consumer can fall before
// its session is dropped rather than stalling the instance's turn loop.
const outboundBuffer = 256

// Session is one attached client connection to an instance actor. It is
// created when an `auth` handshake succeeds and lives until the
// WebSocket closes or the actor evicts it for being too slow.
type Session struct {
	ID          string
	ActorID     string
	IsOwner     bool
	Permissions wire.Permission

	send   chan []byte
	closed chan struct{}
}

// NewSession creates a Session ready to be handed to an Actor's Attach.
// internal/httpserver constructs one per successful WebSocket auth
// handshake; tests construct one directly against an Actor.
func NewSession(id, actorID string, isOwner bool, perms wire.Permission) *Session {
	return newSession(id, actorID, isOwner, perms)
}

func newSession(id, actorID string, isOwner bool, perms wire.Permission) *Session {
	return &Session{
		ID:          id,
		ActorID:     actorID,
		IsOwner:     isOwner,
		Permissions: perms,
		send:        make(chan []byte, outboundBuffer),
		closed:      make(chan struct{}),
	}
}

// Outbound is the channel the WebSocket write pump drains.
func (s *Session) Outbound() <-chan []byte { return s.send }

// EnqueueFrame pushes a pre-encoded frame (e.g. a protocol-level error
// that never went through a turn) onto this session's outbound queue.
// Reports false if the session was evicted for being too slow.
func (s *Session) EnqueueFrame(frame []byte) bool { return s.deliver(frame) }

// Closed signals when the actor has evicted this session.
func (s *Session) Closed() <-chan struct{} { return s.closed }

// deliver attempts a non-blocking send, reporting false (and closing the
// session) if the consumer is too far behind to keep up.
func (s *Session) deliver(frame []byte) bool {
	select {
	case s.send <- frame:
		return true
	default:
		s.evict()
		return false
	}
}

func (s *Session) evict() {
	select {
	case <-s.closed:
	default:
		close(s.closed)
	}
}
