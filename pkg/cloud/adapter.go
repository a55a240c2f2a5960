// Package cloud implements the Cloud Adapter (L3): a client that attaches
// a pkg/store.Store to a remote instance authority over the sync
// WebSocket, keeping the store's view converged with the authority's
// canonical state while it is connected, and queuing local writes while
// it is not (spec §4.3.3).
package cloud

import (
	"context"
	"encoding/json"
	"fmt"
	"math/rand"
	"net/url"
	"sync"
	"time"

	"github.com/gorilla/websocket"

	"github.com/dh7/mindcache/pkg/env"
	"github.com/dh7/mindcache/pkg/mcerr"
	"github.com/dh7/mindcache/pkg/rga"
	"github.com/dh7/mindcache/pkg/store"
	"github.com/dh7/mindcache/pkg/wire"
)

// State is the adapter's connection lifecycle state (spec §4.3.3).
type State string

const (
	StateDisconnected   State = "disconnected"
	StateConnecting     State = "connecting"
	StateAuthenticating State = "authenticating"
	StateReady          State = "ready"
	StateError          State = "error"
)

// Credentials presents exactly one of BearerToken or DelegateSecret to
// the authority's auth handshake (spec §4.3.1).
type Credentials struct {
	ActorID        string
	BearerToken    string
	DelegateSecret string
}

// ErrorCallback is invoked once per fatal handshake/session failure
// (Unauthenticated, Unauthorized, Fatal) and with Transient when a local
// write is dropped because the outbound queue is full. Transient network
// hiccups are not reported; the adapter absorbs and retries them.
type ErrorCallback func(kind mcerr.Kind, err error)

// Config configures an Adapter. URL is the ws:// or wss:// sync endpoint
// including the instance id, e.g. "wss://host/sync/inst-123".
type Config struct {
	URL         string
	Credentials Credentials
	OnError     ErrorCallback

	BaseDelay time.Duration
	MaxDelay  time.Duration
	QueueCap  int

	dialer *websocket.Dialer // overridable by tests
}

// Adapter owns the WebSocket connection and the outbound write queue for
// one Store attachment. It is the only writer of the attached Store's
// remote-originated mutations, and the only reader of the Store's
// locally-originated ones (spec §5: "owned by a single adapter at a
// time").
type Adapter struct {
	cfg   Config
	store *store.Store

	mu            sync.Mutex
	state         State
	isLoaded      bool
	pendingWrites int
	attempt       int
	permissions   wire.Permission

	outbound chan queuedOp
	docs     map[string]*rga.Doc

	cancel context.CancelFunc
	wg     sync.WaitGroup

	detached bool
}

type queuedOp struct {
	frame []byte
	// rollback undoes the local mutation that produced this op, invoked
	// if the op is ultimately classified as the cause of a fatal error
	// rather than delivered (spec §4.3.3 propagation policy).
	rollback func()
}

// New creates an Adapter for store, filling unset Config fields from
// pkg/env defaults. Call Attach to begin connecting.
func New(s *store.Store, cfg Config) *Adapter {
	if cfg.BaseDelay == 0 {
		cfg.BaseDelay = env.ReconnectBaseDelay.Get()
	}
	if cfg.MaxDelay == 0 {
		cfg.MaxDelay = env.ReconnectMaxDelay.Get()
	}
	if cfg.QueueCap == 0 {
		cfg.QueueCap = env.OutboundQueueCap.Get()
	}
	if cfg.dialer == nil {
		cfg.dialer = websocket.DefaultDialer
	}
	return &Adapter{
		cfg:      cfg,
		store:    s,
		state:    StateDisconnected,
		outbound: make(chan queuedOp, cfg.QueueCap),
		docs:     make(map[string]*rga.Doc),
	}
}

// State returns the adapter's current connection state.
func (a *Adapter) State() State {
	a.mu.Lock()
	defer a.mu.Unlock()
	return a.state
}

// IsLoaded reports whether the first snapshot has ever been applied. Per
// spec §4.3.3 it becomes true on the first `sync` and never reverts to
// false for the lifetime of this attachment, even across reconnects.
func (a *Adapter) IsLoaded() bool {
	a.mu.Lock()
	defer a.mu.Unlock()
	return a.isLoaded
}

// HasPendingWrites reports whether any local write is still queued
// waiting to reach the authority.
func (a *Adapter) HasPendingWrites() bool {
	a.mu.Lock()
	defer a.mu.Unlock()
	return a.pendingWrites > 0
}

// Permissions returns the permission bitmask granted by the most recent
// successful handshake.
func (a *Adapter) Permissions() wire.Permission {
	a.mu.Lock()
	defer a.mu.Unlock()
	return a.permissions
}

func (a *Adapter) setState(s State) {
	a.mu.Lock()
	a.state = s
	a.mu.Unlock()
}

// Attach claims the Store and starts the connect/reconnect loop. It
// returns immediately; connection happens in the background.
func (a *Adapter) Attach(ctx context.Context) error {
	if err := a.store.Attach(a); err != nil {
		return err
	}
	a.store.OnLocalMutation(a.onLocalMutation)

	runCtx, cancel := context.WithCancel(ctx)
	a.cancel = cancel
	a.wg.Add(1)
	go a.run(runCtx)
	return nil
}

// Detach stops reconnection, drops the outbound queue, and releases the
// Store. No further writes are attempted after this returns.
func (a *Adapter) Detach() {
	a.mu.Lock()
	a.detached = true
	a.pendingWrites = 0
	a.mu.Unlock()

	if a.cancel != nil {
		a.cancel()
	}
	a.wg.Wait()
drain:
	for {
		select {
		case <-a.outbound:
		default:
			break drain
		}
	}
	a.store.OnLocalMutation(nil)
	a.store.Detach(a)
	a.setState(StateDisconnected)
}

// run drives the connect -> authenticate -> ready -> disconnect cycle,
// reconnecting with exponential backoff until ctx is cancelled (spec
// §4.3.3's top-level state machine).
func (a *Adapter) run(ctx context.Context) {
	defer a.wg.Done()
	for {
		if ctx.Err() != nil {
			a.setState(StateDisconnected)
			return
		}
		err := a.connectAndServe(ctx)
		if ctx.Err() != nil {
			a.setState(StateDisconnected)
			return
		}
		kind := mcerr.Of(err)
		if kind == mcerr.Unauthenticated || kind == mcerr.Unauthorized || kind == mcerr.Fatal {
			a.setState(StateError)
			a.failPending(kind, err)
			if a.cfg.OnError != nil {
				a.cfg.OnError(kind, err)
			}
			return
		}
		a.setState(StateDisconnected)
		a.wait(ctx)
	}
}

// wait sleeps for the current backoff delay (jittered) and advances the
// attempt counter, respecting ctx cancellation.
func (a *Adapter) wait(ctx context.Context) {
	delay := a.nextDelay()
	select {
	case <-time.After(delay):
	case <-ctx.Done():
	}
}

// nextDelay computes the exponential-with-jitter delay for the current
// attempt and increments it. Resets happen in connectAndServe on every
// successful transition to ready.
func (a *Adapter) nextDelay() time.Duration {
	a.mu.Lock()
	attempt := a.attempt
	a.attempt++
	a.mu.Unlock()

	base := float64(a.cfg.BaseDelay)
	ceiling := float64(a.cfg.MaxDelay)
	d := base * float64(int64(1)<<uint(minInt(attempt, 32)))
	if d > ceiling || d <= 0 {
		d = ceiling
	}
	jitter := d * 0.2
	d = d - jitter + rand.Float64()*2*jitter
	return time.Duration(d)
}

func (a *Adapter) resetBackoff() {
	a.mu.Lock()
	a.attempt = 0
	a.mu.Unlock()
}

func minInt(a, b int) int {
	if a < b {
		return a
	}
	return b
}

// connectAndServe dials once, runs the auth handshake, and pumps frames
// until the connection drops or ctx is cancelled. Its return error's
// mcerr.Kind tells run whether to retry (Transient) or give up (anything
// else).
func (a *Adapter) connectAndServe(ctx context.Context) error {
	a.setState(StateConnecting)

	u, err := url.Parse(a.cfg.URL)
	if err != nil {
		return mcerr.Wrap(mcerr.Fatal, "invalid sync url", err)
	}

	conn, _, err := a.cfg.dialer.DialContext(ctx, u.String(), nil)
	if err != nil {
		return mcerr.Wrap(mcerr.Transient, "dial sync endpoint", err)
	}
	defer conn.Close()

	a.setState(StateAuthenticating)
	perms, err := a.handshake(conn)
	if err != nil {
		return err
	}

	a.resetBackoff()
	a.setState(StateReady)

	drainCtx, drainCancel := context.WithCancel(ctx)
	defer drainCancel()
	go a.drainOutbound(drainCtx, conn)

	err = a.readLoop(ctx, conn, perms)
	return err
}

// handshake sends the auth frame and processes auth_success/sync or
// auth_failure (spec §4.3.1-§4.3.2).
func (a *Adapter) handshake(conn *websocket.Conn) (wire.Permission, error) {
	authFrame, err := wire.MarshalFrame(wire.TypeAuth, wire.Auth{
		ActorID:        a.cfg.Credentials.ActorID,
		BearerToken:    a.cfg.Credentials.BearerToken,
		DelegateSecret: a.cfg.Credentials.DelegateSecret,
	})
	if err != nil {
		return 0, mcerr.Wrap(mcerr.Fatal, "encoding auth frame", err)
	}
	if err := conn.WriteMessage(websocket.TextMessage, authFrame); err != nil {
		return 0, mcerr.Wrap(mcerr.Transient, "sending auth frame", err)
	}

	_, raw, err := conn.ReadMessage()
	if err != nil {
		return 0, mcerr.Wrap(mcerr.Transient, "reading auth reply", err)
	}
	var envelope wire.Envelope
	if err := json.Unmarshal(raw, &envelope); err != nil {
		return 0, mcerr.Wrap(mcerr.Fatal, "malformed auth reply", err)
	}
	switch envelope.Type {
	case wire.TypeAuthFailure:
		var fail wire.AuthFailure
		_ = json.Unmarshal(envelope.Payload, &fail)
		return 0, mcerr.New(mcerr.Unauthenticated, fail.Reason)
	case wire.TypeAuthSuccess:
		var success wire.AuthSuccess
		if err := json.Unmarshal(envelope.Payload, &success); err != nil {
			return 0, mcerr.Wrap(mcerr.Fatal, "malformed auth_success", err)
		}
		if !success.Permissions.Has(wire.PermRead) {
			return 0, mcerr.New(mcerr.Unauthorized, "session lacks read permission")
		}
		if err := a.awaitSync(conn); err != nil {
			return 0, err
		}
		return success.Permissions, nil
	default:
		return 0, mcerr.New(mcerr.Fatal, fmt.Sprintf("expected auth_success or auth_failure, got %q", envelope.Type))
	}
}

// awaitSync reads the full snapshot that follows auth_success and
// replaces the Store's non-reserved state with it, without emitting the
// replacement back to the network (spec §4.3.3: "atomically replace...
// without emitting local writes").
func (a *Adapter) awaitSync(conn *websocket.Conn) error {
	_, raw, err := conn.ReadMessage()
	if err != nil {
		return mcerr.Wrap(mcerr.Transient, "reading sync snapshot", err)
	}
	var envelope wire.Envelope
	if err := json.Unmarshal(raw, &envelope); err != nil || envelope.Type != wire.TypeSync {
		return mcerr.New(mcerr.Fatal, "expected sync frame after auth_success")
	}
	var sync wire.Sync
	if err := json.Unmarshal(envelope.Payload, &sync); err != nil {
		return mcerr.Wrap(mcerr.Fatal, "malformed sync frame", err)
	}

	entries := make(map[string]store.Entry, len(sync.Entries))
	a.mu.Lock()
	a.docs = make(map[string]*rga.Doc)
	a.mu.Unlock()
	for key, se := range sync.Entries {
		value, err := store.DecodeValue(se.Type, se.Value)
		if err != nil {
			continue
		}
		attrs, err := store.DecodeAttributes(se.Attributes)
		if err != nil {
			continue
		}
		if se.Type == store.KindDocument {
			if doc, ok := value.(store.DocumentValue); ok {
				a.mu.Lock()
				a.docs[key] = rga.NewDocFromText(a.cfg.Credentials.ActorID, doc.Text)
				a.mu.Unlock()
			}
		}
		entries[key] = store.Entry{Key: key, Value: value, Attributes: attrs, Revision: se.Revision, UpdatedAt: se.UpdatedAt}
	}
	a.store.ReplaceSnapshot(entries, sync.Revision)

	a.mu.Lock()
	a.isLoaded = true
	a.mu.Unlock()
	return nil
}

// onLocalMutation is the pkg/store.Store.OnLocalMutation hook. When
// disconnected it enqueues the op for later delivery; when connected it
// still enqueues (drainOutbound is the single place frames hit the
// wire), keeping send ordering identical in both states.
func (a *Adapter) onLocalMutation(change store.Change) {
	a.mu.Lock()
	detached := a.detached
	a.mu.Unlock()
	if detached {
		return
	}

	frame, rollback, err := a.encodeLocalChange(change)
	if err != nil {
		return
	}

	a.mu.Lock()
	a.pendingWrites++
	a.mu.Unlock()

	select {
	case a.outbound <- queuedOp{frame: frame, rollback: rollback}:
	default:
		// Queue is full: per spec §4.3.3's "Reconnection backoff" testable
		// property, overflow is visible as a Transient failure rather than
		// silently dropped or blocking the caller's mutating call.
		a.mu.Lock()
		a.pendingWrites--
		a.mu.Unlock()
		if a.cfg.OnError != nil {
			a.cfg.OnError(mcerr.Transient, mcerr.New(mcerr.Transient, "outbound queue full, write dropped"))
		}
	}
}

func (a *Adapter) encodeLocalChange(change store.Change) ([]byte, func(), error) {
	rollback := a.rollbackFor(change)
	switch change.Kind {
	case store.ChangeDelete:
		frame, err := wire.MarshalFrame(wire.TypeDelete, wire.Delete{Key: change.Key, ClientTs: time.Now()})
		return frame, rollback, err
	default:
		if change.Value != nil && change.Value.Kind() == store.KindDocument {
			return a.encodeDocumentChange(change)
		}
		valueRaw, err := store.EncodeValue(change.Value)
		if err != nil {
			return nil, nil, err
		}
		attrsRaw, err := store.EncodeAttributes(change.Attributes)
		if err != nil {
			return nil, nil, err
		}
		frame, err := wire.MarshalFrame(wire.TypeSet, wire.Set{
			Key:        change.Key,
			Value:      valueRaw,
			Type:       change.Value.Kind(),
			Attributes: attrsRaw,
			ClientTs:   time.Now(),
		})
		return frame, rollback, err
	}
}

// rollbackFor restores change.Previous (or removes the key if it had no
// previous entry) via ApplyRemote, which bypasses onLocalMutation so the
// restoration itself is never re-queued for delivery. Invoked by
// failPending when the authority rejects a session outright and the
// writes that were still in flight need to be undone locally.
func (a *Adapter) rollbackFor(change store.Change) func() {
	key, previous := change.Key, change.Previous
	return func() {
		if previous == nil {
			a.store.ApplyRemote(store.Change{Key: key, Kind: store.ChangeDelete})
			return
		}
		a.store.ApplyRemote(store.Change{
			Key:        key,
			Kind:       store.ChangeSet,
			Value:      previous.Value,
			Attributes: previous.Attributes,
			Revision:   previous.Revision,
		})
	}
}

// encodeDocumentChange diffs the locally edited text against this
// adapter's document mirror and ships the resulting minimal ops rather
// than the full text (spec §4.4's replicated-sequence model applies
// symmetrically on the client).
func (a *Adapter) encodeDocumentChange(change store.Change) ([]byte, func(), error) {
	doc, ok := change.Value.(store.DocumentValue)
	if !ok {
		return nil, nil, mcerr.New(mcerr.InvalidValue, "document change carries non-document value")
	}
	a.mu.Lock()
	mirror, exists := a.docs[change.Key]
	if !exists {
		mirror = rga.NewDoc(a.cfg.Credentials.ActorID)
		a.docs[change.Key] = mirror
	}
	a.mu.Unlock()

	ops := rga.DiffToOps(mirror, doc.Text)
	frame, err := wire.MarshalFrame(wire.TypeDocUpdate, wire.DocUpdate{Key: change.Key, Ops: rga.EncodeOps(ops)})
	// Rollback restores the Store's materialized text; it does not undo
	// DiffToOps's mutation of the client-side rga.Doc mirror, which a
	// future sync's snapshot rebuild corrects.
	return frame, a.rollbackFor(change), err
}

// drainOutbound forwards queued ops to the wire while connected. A write
// failure here puts the op back at the front conceptually by simply
// letting connectAndServe return Transient and retry delivery of
// whatever is still queued; already-sent-but-unacked ops are not
// resent, matching spec's "applied exactly once by the authority" model
// for a stream that resumes with a fresh snapshot.
func (a *Adapter) drainOutbound(ctx context.Context, conn *websocket.Conn) {
	for {
		select {
		case <-ctx.Done():
			return
		case op := <-a.outbound:
			if err := conn.WriteMessage(websocket.TextMessage, op.frame); err != nil {
				// Put it back so the next connection attempt still sends it.
				select {
				case a.outbound <- op:
				default:
				}
				return
			}
			a.mu.Lock()
			if a.pendingWrites > 0 {
				a.pendingWrites--
			}
			a.mu.Unlock()
		}
	}
}

// readLoop applies inbound deltas to the Store until the connection
// closes (spec §4.3.3: "ready: ... inbound deltas applied with a
// from-remote flag suppressing re-broadcast" -- ApplyRemote never
// triggers onLocalMutation).
func (a *Adapter) readLoop(ctx context.Context, conn *websocket.Conn, perms wire.Permission) error {
	a.mu.Lock()
	a.permissions = perms
	a.mu.Unlock()
	for {
		if ctx.Err() != nil {
			return mcerr.New(mcerr.Transient, "attachment cancelled")
		}
		_, raw, err := conn.ReadMessage()
		if err != nil {
			if ctx.Err() != nil {
				return mcerr.New(mcerr.Transient, "attachment cancelled")
			}
			if ce, ok := err.(*websocket.CloseError); ok {
				switch wire.CloseCode(ce.Code) {
				case wire.CloseAuthFailed:
					return mcerr.New(mcerr.Unauthenticated, "session closed: auth failed")
				case wire.ClosePermissionDenied:
					return mcerr.New(mcerr.Unauthorized, "session closed: permission denied")
				}
			}
			return mcerr.Wrap(mcerr.Transient, "sync connection closed", err)
		}
		if err := a.applyInboundFrame(raw); err != nil {
			continue
		}
	}
}

func (a *Adapter) applyInboundFrame(raw []byte) error {
	var envelope wire.Envelope
	if err := json.Unmarshal(raw, &envelope); err != nil {
		return err
	}
	switch envelope.Type {
	case wire.TypeSet:
		var msg wire.Set
		if err := json.Unmarshal(envelope.Payload, &msg); err != nil {
			return err
		}
		value, err := store.DecodeValue(msg.Type, msg.Value)
		if err != nil {
			return err
		}
		attrs := store.Attributes{}
		if len(msg.Attributes) > 0 {
			if attrs, err = store.DecodeAttributes(msg.Attributes); err != nil {
				return err
			}
		}
		a.store.ApplyRemote(store.Change{Key: msg.Key, Kind: store.ChangeSet, Value: value, Attributes: attrs, Revision: msg.Revision})
	case wire.TypeDelete:
		var msg wire.Delete
		if err := json.Unmarshal(envelope.Payload, &msg); err != nil {
			return err
		}
		a.mu.Lock()
		delete(a.docs, msg.Key)
		a.mu.Unlock()
		a.store.ApplyRemote(store.Change{Key: msg.Key, Kind: store.ChangeDelete, Revision: msg.Revision})
	case wire.TypeDocUpdate:
		return a.applyDocUpdate(envelope.Payload)
	case wire.TypeError:
		// Server-side rejection of one of our ops; spec treats this as
		// informational at the adapter layer (the op is simply not
		// reflected in later syncs). Nothing to roll back here since the
		// local Store already carries the optimistic write.
	}
	return nil
}

func (a *Adapter) applyDocUpdate(payload json.RawMessage) error {
	var msg wire.DocUpdate
	if err := json.Unmarshal(payload, &msg); err != nil {
		return err
	}
	ops, err := rga.DecodeOps(msg.Ops)
	if err != nil {
		return err
	}
	a.mu.Lock()
	doc, ok := a.docs[msg.Key]
	if !ok {
		doc = rga.NewDoc(a.cfg.Credentials.ActorID)
		a.docs[msg.Key] = doc
	}
	a.mu.Unlock()
	for _, op := range ops {
		if err := doc.Apply(op); err != nil {
			return err
		}
	}
	a.store.ApplyRemote(store.Change{Key: msg.Key, Kind: store.ChangeSet, Value: store.DocumentValue{Text: doc.Text()}})
	return nil
}

// failPending rolls back every write still sitting in the outbound queue
// and reports it Transient no more; it is the cause of the fatal error
// that just ended the session (spec §4.3.3 propagation policy).
func (a *Adapter) failPending(kind mcerr.Kind, cause error) {
	for {
		select {
		case op := <-a.outbound:
			if op.rollback != nil {
				op.rollback()
			}
		default:
			a.mu.Lock()
			a.pendingWrites = 0
			a.mu.Unlock()
			return
		}
	}
}
