// Package mindcache exposes the single value type a caller embeds: a
// Store that can run purely local, or attached to a cloud instance
// through pkg/cloud, behind one API (spec §6).
package mindcache

import (
	"context"
	"time"

	"github.com/dh7/mindcache/pkg/cloud"
	"github.com/dh7/mindcache/pkg/mcerr"
	"github.com/dh7/mindcache/pkg/store"
	"github.com/dh7/mindcache/pkg/toolgen"
	"github.com/dh7/mindcache/pkg/wire"
)

// MindCache wraps pkg/store.Store with the optional cloud attachment,
// so a caller holds one value regardless of mode.
type MindCache struct {
	store   *store.Store
	adapter *cloud.Adapter
}

// New constructs a local-mode MindCache: Store operations never touch
// the network, and IsCloud reports false.
func New() *MindCache {
	return &MindCache{store: store.New()}
}

// Connect constructs a cloud-mode MindCache and starts the attach/auth
// cycle in the background; it returns immediately, and the adapter
// enters StateConnecting from its background goroutine.
// Use ConnectionState/IsLoaded to observe progress, or WaitUntilLoaded
// to block for the first successful sync.
func Connect(ctx context.Context, url string, creds cloud.Credentials, opts ...Option) (*MindCache, error) {
	s := store.New()
	cfg := cloud.Config{URL: url, Credentials: creds}
	for _, opt := range opts {
		opt(&cfg)
	}
	adapter := cloud.New(s, cfg)
	if err := adapter.Attach(ctx); err != nil {
		return nil, err
	}
	return &MindCache{store: s, adapter: adapter}, nil
}

// Option configures Connect's underlying cloud.Config.
type Option func(*cloud.Config)

// WithErrorCallback registers the callback invoked for any fatal or
// unauthenticated error the adapter surfaces, and with Transient for a
// write dropped on outbound-queue overflow (spec §4.3.3).
func WithErrorCallback(fn cloud.ErrorCallback) Option {
	return func(c *cloud.Config) { c.OnError = fn }
}

// WithReconnectBounds overrides the default exponential-backoff range.
func WithReconnectBounds(base, max time.Duration) Option {
	return func(c *cloud.Config) { c.BaseDelay = base; c.MaxDelay = max }
}

// IsCloud reports whether this instance was constructed with Connect.
func (m *MindCache) IsCloud() bool { return m.adapter != nil }

// ConnectionState returns the adapter's state machine position, or
// StateReady for a local-mode instance, which is never anything else.
func (m *MindCache) ConnectionState() cloud.State {
	if m.adapter == nil {
		return cloud.StateReady
	}
	return m.adapter.State()
}

// IsLoaded reports whether the local view reflects at least one
// successful sync. Always true for local-mode instances.
func (m *MindCache) IsLoaded() bool {
	if m.adapter == nil {
		return true
	}
	return m.adapter.IsLoaded()
}

// HasPendingWrites reports whether any local mutation is still queued
// for delivery to the authority. Always false for local-mode instances.
func (m *MindCache) HasPendingWrites() bool {
	if m.adapter == nil {
		return false
	}
	return m.adapter.HasPendingWrites()
}

// Permissions returns the effective permission bitmask granted by the
// authority, or full read/write/system for local-mode instances.
func (m *MindCache) Permissions() wire.Permission {
	if m.adapter == nil {
		return wire.PermRead | wire.PermWrite | wire.PermSystem
	}
	return m.adapter.Permissions()
}

// WaitUntilLoaded blocks until IsLoaded reports true or ctx is done.
func (m *MindCache) WaitUntilLoaded(ctx context.Context) error {
	if m.IsLoaded() {
		return nil
	}
	ticker := time.NewTicker(10 * time.Millisecond)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-ticker.C:
			if m.IsLoaded() {
				return nil
			}
		}
	}
}

// Disconnect detaches from the cloud and stops the reconnect loop. A
// no-op for local-mode instances.
func (m *MindCache) Disconnect() {
	if m.adapter != nil {
		m.adapter.Detach()
	}
}

// Get, Set, Delete, Has, Keys, GetAll, Attributes and Subscribe pass
// straight through to the underlying Store; pkg/cloud observes every
// local mutation transparently via Store.OnLocalMutation when attached.

func (m *MindCache) Get(key string) (store.Value, error) { return m.store.Get(key) }

func (m *MindCache) Set(key string, value store.Value, attrs *store.Attributes) error {
	return m.store.Set(key, value, attrs)
}

func (m *MindCache) Delete(key string) error { return m.store.Delete(key) }

func (m *MindCache) Has(key string) bool { return m.store.Has(key) }

func (m *MindCache) Keys() []string { return m.store.Keys() }

func (m *MindCache) GetAll() map[string]store.Entry { return m.store.GetAll() }

func (m *MindCache) GetAttributes(key string) (store.Attributes, error) {
	return m.store.GetAttributes(key)
}

func (m *MindCache) SetAttributes(key string, attrs store.Attributes) error {
	return m.store.SetAttributes(key, attrs)
}

func (m *MindCache) Subscribe(key string, fn store.Subscriber) store.Unsubscribe {
	return m.store.Subscribe(key, fn)
}

func (m *MindCache) SubscribeToAll(fn store.Subscriber) store.Unsubscribe {
	return m.store.SubscribeToAll(fn)
}

// SystemPrompt renders the L2 system prompt for the Store's current
// state (spec §4.2), read-only regardless of mode.
func (m *MindCache) SystemPrompt() string {
	return toolgen.Derive(m.store, toolgen.ModeUse).SystemPrompt
}

// Tools derives the callable tool surface and their executors for the
// Store's current state (spec §4.2). mode controls whether structural
// tools (create_key, delete_key, set_attributes) are included.
func (m *MindCache) Tools(mode toolgen.Mode) toolgen.Result {
	return toolgen.Derive(m.store, mode)
}

// RunTool looks up name among the tools mode currently exposes and
// invokes its executor with args, returning mcerr.NotFound if name
// isn't presently a valid tool.
func (m *MindCache) RunTool(mode toolgen.Mode, name string, args map[string]any) (string, error) {
	result := m.Tools(mode)
	exec, ok := result.Executors[name]
	if !ok {
		return "", mcerr.New(mcerr.NotFound, "no such tool: "+name)
	}
	return exec(m.store, args)
}
