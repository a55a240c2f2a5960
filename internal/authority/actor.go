// Package authority implements the Instance Authority (L4): one
// single-writer actor per instance, reachable only through a channel of
// ops, that authorizes, persists, and broadcasts every accepted write
// (spec §4.3.4, §5).
package authority

import (
	"context"
	"fmt"

	"github.com/go-logr/logr"
	ctrllog "sigs.k8s.io/controller-runtime/pkg/log"

	"github.com/dh7/mindcache/internal/registry"
	"github.com/dh7/mindcache/pkg/mcerr"
	"github.com/dh7/mindcache/pkg/rga"
	"github.com/dh7/mindcache/pkg/store"
	"github.com/dh7/mindcache/pkg/wire"
)

const turnQueueDepth = 64

// docActorID is the RGA actor identity the authority stamps on inserts
// it performs while materializing a client's full-text `set` into
// minimal ops (spec §4.4: "the authority hosts the canonical replicated
// sequence").
const docActorID = "authority"

// Actor owns one instance's canonical state and is the only goroutine
// ever allowed to mutate it (spec §5: "one actor per instance; one
// instance per actor").
type Actor struct {
	instanceID string
	ownerID    string
	registry   *registry.Store

	canonical *store.Store
	docs      map[string]*rga.Doc

	sessions map[string]*Session

	turnCh chan turn
	done   chan struct{}

	log logr.Logger
}

// NewActor rehydrates instanceID's canonical state from the registry (or
// starts empty if it has never taken a durable write) and returns an
// Actor ready to Run.
func NewActor(ctx context.Context, instanceID, ownerID string, reg *registry.Store) (*Actor, error) {
	canonical := store.New()
	canonical.SetActorID(docActorID)

	snapshotJSON, _, ok, err := reg.LoadSnapshot(ctx, instanceID)
	if err != nil {
		return nil, err
	}
	docs := make(map[string]*rga.Doc)
	if ok {
		if err := canonical.FromJSON(snapshotJSON); err != nil {
			return nil, mcerr.Wrap(mcerr.Fatal, "rehydrating instance snapshot", err)
		}
		for key, entry := range canonical.GetAll() {
			if text, isDoc := entry.Value.(store.DocumentValue); isDoc {
				docs[key] = rga.NewDocFromText(docActorID, text.Text)
			}
		}
	}

	return &Actor{
		instanceID: instanceID,
		ownerID:    ownerID,
		registry:   reg,
		canonical:  canonical,
		docs:       docs,
		sessions:   make(map[string]*Session),
		turnCh:     make(chan turn, turnQueueDepth),
		done:       make(chan struct{}),
		log:        ctrllog.Log.WithName("authority").WithValues("instanceId", instanceID),
	}, nil
}

// Run drives the turn loop until ctx is cancelled. Callers start exactly
// one Run per Actor, typically from internal/authority.Hub.
func (a *Actor) Run(ctx context.Context) {
	activeActors.Inc()
	defer activeActors.Dec()
	defer close(a.done)

	a.log.Info("authority actor started", "ownerId", a.ownerID)
	for {
		select {
		case <-ctx.Done():
			a.log.Info("authority actor stopped")
			return
		case t := <-a.turnCh:
			a.process(ctx, t)
		}
	}
}

// Done reports when Run has returned.
func (a *Actor) Done() <-chan struct{} { return a.done }

func (a *Actor) submit(ctx context.Context, t turn) turnResult {
	t.reply = make(chan turnResult, 1)
	select {
	case a.turnCh <- t:
	case <-ctx.Done():
		return turnResult{err: mcerr.New(mcerr.Transient, "authority actor is shutting down")}
	}
	select {
	case res := <-t.reply:
		return res
	case <-ctx.Done():
		return turnResult{err: mcerr.New(mcerr.Transient, "authority actor is shutting down")}
	}
}

// Attach admits a newly authenticated session and returns its full
// snapshot (spec §4.3.1: auth_success is "followed by a full snapshot").
func (a *Actor) Attach(ctx context.Context, session *Session) (*wire.Sync, error) {
	res := a.submit(ctx, turn{kind: turnAttach, session: session})
	return res.sync, res.err
}

// Detach removes a session, e.g. on WebSocket close.
func (a *Actor) Detach(ctx context.Context, session *Session) {
	a.submit(ctx, turn{kind: turnDetach, session: session})
}

// Set submits a write op from session (spec §4.3.4).
func (a *Actor) Set(ctx context.Context, session *Session, msg wire.Set) error {
	res := a.submit(ctx, turn{kind: turnSet, session: session, set: msg})
	return res.err
}

// Delete submits a remove op from session.
func (a *Actor) Delete(ctx context.Context, session *Session, msg wire.Delete) error {
	res := a.submit(ctx, turn{kind: turnDelete, session: session, del: msg})
	return res.err
}

// DocUpdate submits an opaque document CRDT delta from session.
func (a *Actor) DocUpdate(ctx context.Context, session *Session, msg wire.DocUpdate) error {
	res := a.submit(ctx, turn{kind: turnDocUpdate, session: session, doc: msg})
	return res.err
}

func (a *Actor) process(ctx context.Context, t turn) {
	var res turnResult
	switch t.kind {
	case turnAttach:
		res.sync = a.doAttach(t.session)
	case turnDetach:
		a.doDetach(t.session)
	case turnSet:
		res.err = a.doSet(ctx, t.session, t.set)
	case turnDelete:
		res.err = a.doDelete(ctx, t.session, t.del)
	case turnDocUpdate:
		res.err = a.doDocUpdate(ctx, t.session, t.doc)
	}
	if t.reply != nil {
		t.reply <- res
	}
}

func (a *Actor) doAttach(session *Session) *wire.Sync {
	a.sessions[session.ID] = session
	activeSessions.WithLabelValues(a.instanceID).Set(float64(len(a.sessions)))
	a.log.V(1).Info("session attached", "sessionId", session.ID, "actorId", session.ActorID)
	return a.snapshot()
}

func (a *Actor) doDetach(session *Session) {
	delete(a.sessions, session.ID)
	activeSessions.WithLabelValues(a.instanceID).Set(float64(len(a.sessions)))
	a.log.V(1).Info("session detached", "sessionId", session.ID)
}

func (a *Actor) snapshot() *wire.Sync {
	entries := a.canonical.GetAll()
	out := make(map[string]wire.SyncEntry, len(entries))
	for k, e := range entries {
		raw, err := store.EncodeValue(e.Value)
		if err != nil {
			continue
		}
		attrs, err := store.EncodeAttributes(e.Attributes)
		if err != nil {
			continue
		}
		out[k] = wire.SyncEntry{Value: raw, Type: e.Value.Kind(), Attributes: attrs, Revision: e.Revision, UpdatedAt: e.UpdatedAt}
	}
	return &wire.Sync{Entries: out, Revision: a.canonical.Revision()}
}

// authorizeMutation implements spec §4.3.4 steps 1-2.
func (a *Actor) authorizeMutation(session *Session, key string) error {
	if !session.Permissions.Has(wire.PermWrite) {
		opsRejected.WithLabelValues("mutate", "unauthorized").Inc()
		return mcerr.New(mcerr.Unauthorized, "write permission required")
	}
	existing, err := a.canonical.GetAttributes(key)
	if err != nil {
		return nil // key does not exist yet: nothing further to check.
	}
	if existing.Protected && !session.IsOwner {
		opsRejected.WithLabelValues("mutate", "protected").Inc()
		return mcerr.New(mcerr.Conflict, fmt.Sprintf("key %q is protected", key))
	}
	if existing.Readonly && !session.Permissions.Has(wire.PermSystem) {
		opsRejected.WithLabelValues("mutate", "readonly").Inc()
		return mcerr.New(mcerr.Unauthorized, fmt.Sprintf("key %q is readonly; system permission required", key))
	}
	return nil
}

func (a *Actor) authorizeAttributeChange(session *Session, existing store.Attributes, incoming *store.Attributes) error {
	if incoming == nil || session.Permissions.Has(wire.PermSystem) {
		return nil
	}
	if !sameSystemTags(existing.SystemTags, incoming.SystemTags) {
		opsRejected.WithLabelValues("mutate", "systemTags").Inc()
		return mcerr.New(mcerr.Unauthorized, "system permission required to change systemTags")
	}
	return nil
}

func sameSystemTags(a, b []store.SystemTag) bool {
	if len(a) != len(b) {
		return false
	}
	seen := make(map[store.SystemTag]bool, len(a))
	for _, t := range a {
		seen[t] = true
	}
	for _, t := range b {
		if !seen[t] {
			return false
		}
	}
	return true
}

func (a *Actor) doSet(ctx context.Context, session *Session, msg wire.Set) error {
	if err := a.authorizeMutation(session, msg.Key); err != nil {
		return err
	}

	existingAttrs, getErr := a.canonical.GetAttributes(msg.Key)

	var attrsPtr *store.Attributes
	if len(msg.Attributes) > 0 {
		attrs, err := store.DecodeAttributes(msg.Attributes)
		if err != nil {
			opsRejected.WithLabelValues("set", "invalid_attributes").Inc()
			return err
		}
		if getErr == nil {
			if err := a.authorizeAttributeChange(session, existingAttrs, &attrs); err != nil {
				return err
			}
		}
		attrsPtr = &attrs
	}

	value, err := store.DecodeValue(msg.Type, msg.Value)
	if err != nil {
		opsRejected.WithLabelValues("set", "invalid_value").Inc()
		return err
	}

	if msg.Type == store.KindDocument {
		doc := a.docFor(msg.Key)
		text, _ := value.(store.DocumentValue)
		ops := rga.DiffToOps(doc, text.Text)
		if err := a.canonical.Set(msg.Key, store.DocumentValue{Text: doc.Text()}, attrsPtr); err != nil {
			return err
		}
		opsAccepted.WithLabelValues("set_document").Inc()
		a.persist(ctx)
		if len(ops) > 0 {
			a.broadcastDocUpdate(session, msg.Key, rga.EncodeOps(ops))
		}
		return nil
	}

	if err := a.canonical.Set(msg.Key, value, attrsPtr); err != nil {
		opsRejected.WithLabelValues("set", "invalid").Inc()
		return err
	}
	opsAccepted.WithLabelValues("set").Inc()

	rev := a.canonical.Revision()
	out := wire.Set{Key: msg.Key, Value: msg.Value, Type: msg.Type, ClientTs: msg.ClientTs, Revision: rev}
	if attrsPtr != nil {
		out.Attributes = msg.Attributes
	}
	a.persist(ctx)
	a.broadcastSet(session, out)
	return nil
}

func (a *Actor) doDelete(ctx context.Context, session *Session, msg wire.Delete) error {
	if err := a.authorizeMutation(session, msg.Key); err != nil {
		return err
	}
	if err := a.canonical.Delete(msg.Key); err != nil {
		opsRejected.WithLabelValues("delete", "not_found").Inc()
		return err
	}
	delete(a.docs, msg.Key)
	opsAccepted.WithLabelValues("delete").Inc()

	out := wire.Delete{Key: msg.Key, ClientTs: msg.ClientTs, Revision: a.canonical.Revision()}
	a.persist(ctx)
	a.broadcastDelete(session, out)
	return nil
}

func (a *Actor) doDocUpdate(ctx context.Context, session *Session, msg wire.DocUpdate) error {
	if err := a.authorizeMutation(session, msg.Key); err != nil {
		return err
	}
	ops, err := rga.DecodeOps(msg.Ops)
	if err != nil {
		opsRejected.WithLabelValues("doc_update", "invalid_ops").Inc()
		return mcerr.Wrap(mcerr.InvalidValue, "decoding document ops", err)
	}
	doc := a.docFor(msg.Key)
	for _, op := range ops {
		if err := doc.Apply(op); err != nil {
			opsRejected.WithLabelValues("doc_update", "apply_failed").Inc()
			return mcerr.Wrap(mcerr.InvalidValue, "applying document op", err)
		}
	}
	if err := a.canonical.Set(msg.Key, store.DocumentValue{Text: doc.Text()}, nil); err != nil {
		return err
	}
	opsAccepted.WithLabelValues("doc_update").Inc()
	a.persist(ctx)
	a.broadcastDocUpdate(session, msg.Key, msg.Ops)
	return nil
}

func (a *Actor) docFor(key string) *rga.Doc {
	if doc, ok := a.docs[key]; ok {
		return doc
	}
	doc := rga.NewDoc(docActorID)
	a.docs[key] = doc
	return doc
}

func (a *Actor) persist(ctx context.Context) {
	snapshotJSON, err := a.canonical.ToJSON()
	if err != nil {
		a.log.Error(err, "marshaling snapshot for durable write")
		return
	}
	if err := a.registry.SaveSnapshot(ctx, a.instanceID, snapshotJSON, a.canonical.Revision()); err != nil {
		a.log.Error(err, "persisting instance snapshot")
	}
}

func (a *Actor) broadcastSet(from *Session, msg wire.Set) {
	frame, err := wire.MarshalFrame(wire.TypeSet, msg)
	if err != nil {
		a.log.Error(err, "encoding set broadcast")
		return
	}
	a.broadcast(from, frame)
}

func (a *Actor) broadcastDelete(from *Session, msg wire.Delete) {
	frame, err := wire.MarshalFrame(wire.TypeDelete, msg)
	if err != nil {
		a.log.Error(err, "encoding delete broadcast")
		return
	}
	a.broadcast(from, frame)
}

func (a *Actor) broadcastDocUpdate(from *Session, key string, ops []byte) {
	frame, err := wire.MarshalFrame(wire.TypeDocUpdate, wire.DocUpdate{Key: key, Ops: ops})
	if err != nil {
		a.log.Error(err, "encoding doc_update broadcast")
		return
	}
	a.broadcast(from, frame)
}

// broadcast fans frame out to every session but the one that originated
// the op (spec §4.3.4 step 5: "every other currently-attached client").
func (a *Actor) broadcast(from *Session, frame []byte) {
	fanout := 0
	for id, session := range a.sessions {
		if from != nil && id == from.ID {
			continue
		}
		if session.deliver(frame) {
			fanout++
		}
	}
	broadcastFanout.Observe(float64(fanout))
}
