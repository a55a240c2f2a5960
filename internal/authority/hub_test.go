package authority_test

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/dh7/mindcache/internal/authority"
)

func TestHubGetOrStartReturnsSameActor(t *testing.T) {
	ctx := context.Background()
	reg := newTestRegistry(t)
	require.NoError(t, must(reg.CreateInstance(ctx, "inst1", "a", "alice")))

	hub := authority.NewHub(ctx, reg)
	t.Cleanup(hub.StopAll)

	a1, err := hub.GetOrStart(ctx, "inst1", "alice")
	require.NoError(t, err)
	a2, err := hub.GetOrStart(ctx, "inst1", "alice")
	require.NoError(t, err)
	assert.Same(t, a1, a2, "GetOrStart must not spawn a second actor for the same instance")
}

func TestHubStopAllowsRestart(t *testing.T) {
	ctx := context.Background()
	reg := newTestRegistry(t)
	require.NoError(t, must(reg.CreateInstance(ctx, "inst1", "a", "alice")))

	hub := authority.NewHub(ctx, reg)
	t.Cleanup(hub.StopAll)

	a1, err := hub.GetOrStart(ctx, "inst1", "alice")
	require.NoError(t, err)
	hub.Stop("inst1")

	a2, err := hub.GetOrStart(ctx, "inst1", "alice")
	require.NoError(t, err)
	assert.NotSame(t, a1, a2)
}
