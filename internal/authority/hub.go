package authority

import (
	"context"
	"sync"

	"github.com/dh7/mindcache/internal/registry"
	"github.com/dh7/mindcache/pkg/mcerr"
)

// Hub owns the set of running instance actors for this authority process
// and guarantees at most one actor per instance id.
type Hub struct {
	mu      sync.Mutex
	reg     *registry.Store
	actors  map[string]*Actor
	cancels map[string]context.CancelFunc
	hubCtx  context.Context
	hubStop context.CancelFunc
}

// NewHub creates a Hub bound to the given registry. ctx bounds the
// lifetime of every actor the Hub spawns; cancelling it stops them all.
func NewHub(ctx context.Context, reg *registry.Store) *Hub {
	hubCtx, stop := context.WithCancel(ctx)
	return &Hub{
		reg:     reg,
		actors:  make(map[string]*Actor),
		cancels: make(map[string]context.CancelFunc),
		hubCtx:  hubCtx,
		hubStop: stop,
	}
}

// GetOrStart returns the running actor for instanceID, starting one if
// none exists yet.
func (h *Hub) GetOrStart(ctx context.Context, instanceID, ownerID string) (*Actor, error) {
	h.mu.Lock()
	defer h.mu.Unlock()

	if actor, ok := h.actors[instanceID]; ok {
		return actor, nil
	}

	actor, err := NewActor(ctx, instanceID, ownerID, h.reg)
	if err != nil {
		return nil, mcerr.Wrap(mcerr.Fatal, "starting instance actor", err)
	}
	actorCtx, cancel := context.WithCancel(h.hubCtx)
	h.actors[instanceID] = actor
	h.cancels[instanceID] = cancel
	go actor.Run(actorCtx)
	return actor, nil
}

// Stop cancels and forgets the actor for instanceID, if running.
func (h *Hub) Stop(instanceID string) {
	h.mu.Lock()
	defer h.mu.Unlock()
	if cancel, ok := h.cancels[instanceID]; ok {
		cancel()
		delete(h.cancels, instanceID)
		delete(h.actors, instanceID)
	}
}

// StopAll cancels every running actor, used on authority shutdown.
func (h *Hub) StopAll() { h.hubStop() }
