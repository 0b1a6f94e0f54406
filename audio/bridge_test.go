package audio_test

import (
	"context"
	"errors"
	"testing"

	"github.com/Reverse-Call-Center/acd/audio"
	"github.com/Reverse-Call-Center/acd/logging"
	"github.com/Reverse-Call-Center/acd/server"
	"github.com/Reverse-Call-Center/acd/types"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

const (
	music  = "queue_music"
	silent = "queue_silent"
)

func newOrchestrator() (*audio.Orchestrator, *server.MemoryTransport) {
	tel := server.NewMemoryTransport()
	return audio.NewOrchestrator(tel, logging.Discard()), tel
}

func TestEnsureHoldingBridge_CreatedOnce(t *testing.T) {
	o, tel := newOrchestrator()
	ctx := context.Background()

	a, err := o.EnsureHoldingBridge(ctx, music)
	require.NoError(t, err)
	b, err := o.EnsureHoldingBridge(ctx, music)
	require.NoError(t, err)

	assert.Same(t, a, b)
	assert.Equal(t, 1, tel.Count(server.OpCreateBridge))
	assert.Equal(t, types.BridgeHolding, a.Type)
}

func TestAttachHolding_OneBridgePerChannel(t *testing.T) {
	o, tel := newOrchestrator()
	ctx := context.Background()
	ch := tel.Incoming("5551234")

	held, err := o.AttachHolding(ctx, ch, music)
	require.NoError(t, err)
	assert.Equal(t, []string{ch}, tel.Members(held.ID))

	mix, err := o.CreateMixingBridge(ctx)
	require.NoError(t, err)
	assert.Error(t, o.Attach(ctx, ch, mix))

	require.NoError(t, o.Detach(ctx, ch, held))
	require.NoError(t, o.Attach(ctx, ch, mix))
	assert.Empty(t, tel.Members(held.ID))
	assert.Equal(t, []string{ch}, tel.Members(mix.ID))
}

func TestAttach_MixingBridgeTakesTwo(t *testing.T) {
	o, tel := newOrchestrator()
	ctx := context.Background()
	mix, err := o.CreateMixingBridge(ctx)
	require.NoError(t, err)

	require.NoError(t, o.Attach(ctx, tel.Incoming("1"), mix))
	require.NoError(t, o.Attach(ctx, tel.Incoming("2"), mix))
	assert.ErrorIs(t, o.Attach(ctx, tel.Incoming("3"), mix), audio.ErrBridgeFull)
	assert.Equal(t, 2, mix.Len())
}

func TestToggleHold(t *testing.T) {
	o, tel := newOrchestrator()
	ctx := context.Background()
	ch := tel.Incoming("5551234")

	_, err := o.AttachHolding(ctx, ch, music)
	require.NoError(t, err)

	b, err := o.ToggleHold(ctx, ch, music, silent)
	require.NoError(t, err)
	assert.Equal(t, silent, b.Name)
	assertOnlyIn(t, o, tel, ch, silent)

	b, err = o.ToggleHold(ctx, ch, music, silent)
	require.NoError(t, err)
	assert.Equal(t, music, b.Name)
	assertOnlyIn(t, o, tel, ch, music)

	// both variants are created once and reused
	assert.Equal(t, 2, tel.BridgeCount(types.BridgeHolding))
	assert.Equal(t, 2, tel.Count(server.OpCreateBridge))

	held, ok := o.Holding(music)
	require.True(t, ok)
	assert.Same(t, b, held)
	assert.Equal(t, []string{ch}, held.MemberIDs())
	quiet, ok := o.Holding(silent)
	require.True(t, ok)
	assert.Empty(t, quiet.MemberIDs())
}

func TestToggleHold_RecreatesVanishedTarget(t *testing.T) {
	o, tel := newOrchestrator()
	ctx := context.Background()
	ch := tel.Incoming("5551234")

	_, err := o.AttachHolding(ctx, ch, music)
	require.NoError(t, err)
	stale, err := o.EnsureHoldingBridge(ctx, silent)
	require.NoError(t, err)
	require.NoError(t, tel.DestroyBridge(ctx, stale.ID))

	b, err := o.ToggleHold(ctx, ch, music, silent)
	require.NoError(t, err)
	assert.NotEqual(t, stale.ID, b.ID)
	assert.Equal(t, []string{ch}, tel.Members(b.ID))
	_, known := o.Get(stale.ID)
	assert.False(t, known)
	assertOnlyIn(t, o, tel, ch, silent)
}

func TestToggleHold_NotHeld(t *testing.T) {
	o, tel := newOrchestrator()
	_, err := o.ToggleHold(context.Background(), tel.Incoming("1"), music, silent)
	assert.ErrorIs(t, err, audio.ErrNotHeld)
}

func TestAttachHolding_RecreatesVanishedBridge(t *testing.T) {
	o, tel := newOrchestrator()
	ctx := context.Background()

	first, err := o.EnsureHoldingBridge(ctx, music)
	require.NoError(t, err)
	require.NoError(t, tel.DestroyBridge(ctx, first.ID))

	ch := tel.Incoming("1")
	b, err := o.AttachHolding(ctx, ch, music)
	require.NoError(t, err)
	assert.NotEqual(t, first.ID, b.ID)
	assert.Equal(t, []string{ch}, tel.Members(b.ID))
}

func TestDetachAndDestroy_TolerateNotFound(t *testing.T) {
	o, tel := newOrchestrator()
	ctx := context.Background()
	ch := tel.Incoming("1")

	mix, err := o.CreateMixingBridge(ctx)
	require.NoError(t, err)
	require.NoError(t, o.Attach(ctx, ch, mix))

	tel.FailNext(server.OpRemoveFromBridge, types.ErrNotFound)
	require.NoError(t, o.Detach(ctx, ch, mix))
	_, inBridge := o.BridgeOf(ch)
	assert.False(t, inBridge)

	tel.FailNext(server.OpDestroyBridge, types.ErrNotFound)
	require.NoError(t, o.DestroyBridge(ctx, mix))
	_, known := o.Get(mix.ID)
	assert.False(t, known)
}

func TestDestroyBridge_PropagatesOtherErrors(t *testing.T) {
	o, tel := newOrchestrator()
	ctx := context.Background()
	mix, err := o.CreateMixingBridge(ctx)
	require.NoError(t, err)

	boom := errors.New("boom")
	tel.FailNext(server.OpDestroyBridge, boom)
	assert.ErrorIs(t, o.DestroyBridge(ctx, mix), boom)
}

func assertOnlyIn(t *testing.T, o *audio.Orchestrator, tel *server.MemoryTransport, ch, name string) {
	t.Helper()
	for _, b := range o.Bridges() {
		want := b.Name == name
		assert.Equal(t, want, b.Has(ch), "bridge %s", b.Name)
		assert.Equal(t, want, len(tel.Members(b.ID)) == 1, "transport bridge %s", b.Name)
	}
}
