// Package store implements the L1 in-memory typed key-value engine: the
// Store type, its attributes/tags/subscriptions, template expansion, and
// markdown/JSON serialization (spec §4.1).
package store

import (
	"fmt"
	"sync"
	"time"

	"github.com/dh7/mindcache/pkg/mcerr"
)

// ChangeKind discriminates a Set notification from a Delete notification
// (spec §4.1: "notifies subscribers with an explicit deletion signal
// distinct from 'value set to empty'").
type ChangeKind int

const (
	ChangeSet ChangeKind = iota
	ChangeDelete
)

// Change is delivered to subscribers on every mutating call. Previous
// holds the entry as it stood immediately before this change, or nil if
// the key did not exist; pkg/cloud uses it to roll back a locally
// originated write that the authority ultimately refused.
type Change struct {
	Key        string
	Kind       ChangeKind
	Value      Value
	Attributes Attributes
	Revision   uint64
	Previous   *Entry
}

// Subscriber receives one Change per mutating call it was registered for.
type Subscriber func(Change)

// Unsubscribe removes a previously registered subscriber. Safe to call
// more than once.
type Unsubscribe func()

type subscription struct {
	id int
	fn Subscriber
}

// Store is the L1 in-memory engine. It is safe for concurrent use, though
// the cloud adapter and authority only ever drive it from a single
// goroutine at a time (spec §5).
type Store struct {
	mu sync.Mutex

	entries map[string]*Entry
	reserved map[string]reservedResolver

	keySubs      map[string][]subscription
	wildcardSubs []subscription
	nextSubID    int

	revision uint64
	actorID  string
	name     string

	nowFn func() time.Time

	// attachedAdapter is set by pkg/cloud.Attach to enforce spec §5's
	// "owned by a single adapter at a time" rule. It is an opaque token
	// (the adapter's own identity) rather than an interface, so pkg/store
	// has no import-cycle dependency on pkg/cloud.
	attachedAdapter any
	// onLocalMutation, when set, is invoked after every locally-originated
	// mutation (not ones applied via ApplyRemote) so pkg/cloud can forward
	// the op to the authority. It runs after subscriber notification, per
	// spec §4.3.3's ordering: mutate, notify, enqueue/send.
	onLocalMutation func(Change)
}

// New creates an empty, unattached Store.
func New() *Store {
	return &Store{
		entries:  make(map[string]*Entry),
		reserved: make(map[string]reservedResolver),
		keySubs:  make(map[string][]subscription),
		nowFn:    time.Now,
	}
}

func (s *Store) now() time.Time { return s.nowFn() }

// SetActorID sets the writer id stamped onto entries this Store mutates
// locally. Spec §3 calls this "last-writer id" but leaves its local
// source unspecified; internal/authority sets it on its canonical Store.
// A Store on which it is never called stamps an empty writer id.
func (s *Store) SetActorID(id string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.actorID = id
}

// SetNowFunc overrides the clock used for reserved keys ($date/$time/$now)
// and entry timestamps. Intended for tests.
func (s *Store) SetNowFunc(fn func() time.Time) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.nowFn = fn
}

// RegisterReserved adds a runtime-computed reserved key beyond the
// built-ins ($date/$time/$now), e.g. for an embedding application to
// expose "$user" or "$locale".
func (s *Store) RegisterReserved(key string, fn func(now time.Time) Value) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.reserved[key] = fn
}

// Attach claims exclusive ownership of the Store for a cloud adapter.
// Returns mcerr.Conflict if another adapter already owns it (spec §5).
func (s *Store) Attach(owner any) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.attachedAdapter != nil && s.attachedAdapter != owner {
		return mcerr.New(mcerr.Conflict, "store already attached to a cloud adapter")
	}
	s.attachedAdapter = owner
	return nil
}

// Detach releases ownership previously claimed by Attach.
func (s *Store) Detach(owner any) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.attachedAdapter == owner {
		s.attachedAdapter = nil
	}
}

// OnLocalMutation registers the callback pkg/cloud uses to forward
// locally-originated writes to the authority. Only one callback is
// supported, matching the one-adapter-at-a-time rule.
func (s *Store) OnLocalMutation(fn func(Change)) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.onLocalMutation = fn
}

func validateKeyForWrite(key string) error {
	if key == "" {
		return mcerr.New(mcerr.InvalidKey, "key must not be empty")
	}
	if IsReserved(key) {
		return mcerr.New(mcerr.InvalidKey, fmt.Sprintf("key %q is reserved", key))
	}
	return nil
}

// Set creates or overwrites key (spec §4.1). attrs == nil preserves the
// existing entry's attributes (read-modify-write is on the caller);
// attrs != nil replaces them wholesale.
func (s *Store) Set(key string, value Value, attrs *Attributes) error {
	if err := validateKeyForWrite(key); err != nil {
		return err
	}
	if value == nil {
		return mcerr.New(mcerr.InvalidValue, "value must not be nil")
	}

	s.mu.Lock()
	existing, had := s.entries[key]

	var finalAttrs Attributes
	switch {
	case attrs != nil:
		finalAttrs = attrs.Clone()
	case had:
		finalAttrs = existing.Attributes.Clone()
	default:
		finalAttrs = DefaultAttributes()
	}
	if finalAttrs.Readonly && finalAttrs.Has(LLMWrite) {
		s.mu.Unlock()
		return mcerr.New(mcerr.InvalidAttributes, "readonly and LLMWrite are mutually exclusive")
	}

	// Kind transition that would carry a stale contentType resets it
	// (spec §3 invariant 2).
	if had && existing.Value.Kind() != value.Kind() {
		if value.Kind() != KindImage && value.Kind() != KindFile {
			finalAttrs.ContentType = ""
		}
	}

	if value.Kind() == KindDocument && had {
		// The store only holds the materialized text. internal/authority
		// hosts the actual rga.Doc and calls rga.DiffToOps against the
		// prior materialization to turn this write into a minimal op
		// sequence before broadcasting it.
		newDoc := value.(DocumentValue)
		value = DocumentValue{Text: newDoc.Text}
	}

	if had && valuesEqual(existing.Value, value) && existing.Attributes.Equal(finalAttrs) {
		s.mu.Unlock()
		return nil
	}

	s.revision++
	entry := &Entry{
		Key:        key,
		Value:      value,
		Attributes: finalAttrs,
		LastWriter: s.actorID,
		Revision:   s.revision,
		UpdatedAt:  s.now(),
	}
	s.entries[key] = entry
	var previous *Entry
	if had {
		clone := existing.Clone()
		previous = &clone
	}
	change := Change{Key: key, Kind: ChangeSet, Value: value, Attributes: finalAttrs.Clone(), Revision: entry.Revision, Previous: previous}
	onMutation := s.onLocalMutation
	s.mu.Unlock()

	s.notify(change)
	if onMutation != nil {
		onMutation(change)
	}
	return nil
}

// Get returns key's value after reserved-key computation and template
// expansion (spec §4.1). The stored value is never mutated by a Get.
func (s *Store) Get(key string) (Value, error) {
	if v, ok := s.resolveReserved(key); ok {
		return v, nil
	}

	s.mu.Lock()
	entry, ok := s.entries[key]
	if !ok {
		s.mu.Unlock()
		return nil, mcerr.New(mcerr.NotFound, fmt.Sprintf("key %q not found", key))
	}
	value := entry.Value
	applyTemplate := entry.Attributes.Has(ApplyTemplate)
	s.mu.Unlock()

	if applyTemplate {
		if text, ok := value.(TextValue); ok {
			return TextValue(s.expandTemplate(string(text))), nil
		}
	}
	return value, nil
}

// Has reports whether key exists. A reserved key exists when it resolves
// (the built-in ones and any registered by the host).
func (s *Store) Has(key string) bool {
	if IsReserved(key) {
		_, ok := s.resolveReserved(key)
		return ok
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	_, ok := s.entries[key]
	return ok
}

// Keys returns every non-reserved key currently stored, in no particular
// order.
func (s *Store) Keys() []string {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make([]string, 0, len(s.entries))
	for k := range s.entries {
		out = append(out, k)
	}
	return out
}

// GetAll returns every non-reserved entry (spec §4.1). Values reflect
// template expansion the same way Get does.
func (s *Store) GetAll() map[string]Entry {
	s.mu.Lock()
	keys := make([]string, 0, len(s.entries))
	for k := range s.entries {
		keys = append(keys, k)
	}
	s.mu.Unlock()

	out := make(map[string]Entry, len(keys))
	for _, k := range keys {
		s.mu.Lock()
		entry, ok := s.entries[k]
		if !ok {
			s.mu.Unlock()
			continue
		}
		clone := entry.Clone()
		s.mu.Unlock()
		if v, err := s.Get(k); err == nil {
			clone.Value = v
		}
		out[k] = clone
	}
	return out
}

// Delete removes key, notifying subscribers with an explicit deletion
// signal (spec §4.1). There is no no-op case to guard here: deleting an
// absent key returns NotFound before any notify, and deleting a present
// one always changes state.
func (s *Store) Delete(key string) error {
	s.mu.Lock()
	existing, ok := s.entries[key]
	if !ok {
		s.mu.Unlock()
		return mcerr.New(mcerr.NotFound, fmt.Sprintf("key %q not found", key))
	}
	previous := existing.Clone()
	delete(s.entries, key)
	s.revision++
	change := Change{Key: key, Kind: ChangeDelete, Revision: s.revision, Previous: &previous}
	onMutation := s.onLocalMutation
	s.mu.Unlock()

	s.notify(change)
	if onMutation != nil {
		onMutation(change)
	}
	return nil
}

// GetAttributes returns a copy of key's attributes.
func (s *Store) GetAttributes(key string) (Attributes, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	entry, ok := s.entries[key]
	if !ok {
		return Attributes{}, mcerr.New(mcerr.NotFound, fmt.Sprintf("key %q not found", key))
	}
	return entry.Attributes.Clone(), nil
}

// SetAttributes replaces key's attributes without touching its value
// (spec §4.1). Fails NotFound on a missing key.
func (s *Store) SetAttributes(key string, attrs Attributes) error {
	if attrs.Readonly && attrs.Has(LLMWrite) {
		return mcerr.New(mcerr.InvalidAttributes, "readonly and LLMWrite are mutually exclusive")
	}
	s.mu.Lock()
	entry, ok := s.entries[key]
	if !ok {
		s.mu.Unlock()
		return mcerr.New(mcerr.NotFound, fmt.Sprintf("key %q not found", key))
	}
	if entry.Attributes.Equal(attrs) {
		s.mu.Unlock()
		return nil
	}
	s.revision++
	entry.Attributes = attrs.Clone()
	entry.Revision = s.revision
	entry.UpdatedAt = s.now()
	change := Change{Key: key, Kind: ChangeSet, Value: entry.Value, Attributes: entry.Attributes.Clone(), Revision: entry.Revision}
	onMutation := s.onLocalMutation
	s.mu.Unlock()

	s.notify(change)
	if onMutation != nil {
		onMutation(change)
	}
	return nil
}

// Subscribe registers fn to be called once per mutating call on key.
// Duplicate registrations are tolerated; each delivers independently
// (spec §9 Subscriber management).
func (s *Store) Subscribe(key string, fn Subscriber) Unsubscribe {
	s.mu.Lock()
	id := s.nextSubID
	s.nextSubID++
	s.keySubs[key] = append(s.keySubs[key], subscription{id: id, fn: fn})
	s.mu.Unlock()

	return func() {
		s.mu.Lock()
		defer s.mu.Unlock()
		subs := s.keySubs[key]
		for i, sub := range subs {
			if sub.id == id {
				s.keySubs[key] = append(subs[:i:i], subs[i+1:]...)
				break
			}
		}
	}
}

// SubscribeToAll registers fn to be called once per mutating call on any
// key.
func (s *Store) SubscribeToAll(fn Subscriber) Unsubscribe {
	s.mu.Lock()
	id := s.nextSubID
	s.nextSubID++
	s.wildcardSubs = append(s.wildcardSubs, subscription{id: id, fn: fn})
	s.mu.Unlock()

	return func() {
		s.mu.Lock()
		defer s.mu.Unlock()
		for i, sub := range s.wildcardSubs {
			if sub.id == id {
				s.wildcardSubs = append(s.wildcardSubs[:i:i], s.wildcardSubs[i+1:]...)
				break
			}
		}
	}
}

// notify delivers change to key-subscribers then wildcard-subscribers, in
// registration order, synchronously within the mutating call (spec §5).
// A panicking subscriber is recovered and does not block later ones.
func (s *Store) notify(change Change) {
	s.mu.Lock()
	keySubs := append([]subscription(nil), s.keySubs[change.Key]...)
	wildcard := append([]subscription(nil), s.wildcardSubs...)
	s.mu.Unlock()

	deliver := func(sub subscription) {
		defer func() {
			if r := recover(); r != nil {
				// Per spec §5: exceptions from one callback are caught and
				// logged, and do not abort notification of later callbacks.
				fmt.Printf("mindcache: store subscriber panicked on key %q: %v\n", change.Key, r)
			}
		}()
		sub.fn(change)
	}

	for _, sub := range keySubs {
		deliver(sub)
	}
	for _, sub := range wildcard {
		deliver(sub)
	}
}

// ApplyRemote applies an inbound delta from the cloud adapter without
// treating it as a local mutation (it must not loop back to the
// authority, and it must not go through validateKeyForWrite's reserved
// check — the authority never sends deltas for reserved keys in the
// first place, but a stray one should not panic).
func (s *Store) ApplyRemote(change Change) {
	s.mu.Lock()
	switch change.Kind {
	case ChangeDelete:
		delete(s.entries, change.Key)
	default:
		s.entries[change.Key] = &Entry{
			Key:        change.Key,
			Value:      change.Value,
			Attributes: change.Attributes.Clone(),
			Revision:   change.Revision,
			UpdatedAt:  s.now(),
		}
	}
	if change.Revision > s.revision {
		s.revision = change.Revision
	}
	s.mu.Unlock()
	s.notify(change)
}

// ReplaceSnapshot atomically replaces every non-reserved entry, used when
// a `sync` snapshot arrives on (re)connect (spec §4.3.3). It returns
// nothing and notifies no subscriber, per key or otherwise; pkg/cloud
// calls it as-is, so a snapshot replacement produces no Change.
func (s *Store) ReplaceSnapshot(entries map[string]Entry, revision uint64) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.entries = make(map[string]*Entry, len(entries))
	for k, e := range entries {
		ec := e
		ec.Attributes = ec.Attributes.Clone()
		s.entries[k] = &ec
	}
	if revision > s.revision {
		s.revision = revision
	}
}

// Revision returns the store's current local revision counter.
func (s *Store) Revision() uint64 {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.revision
}
