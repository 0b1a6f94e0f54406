package server

import (
	"context"
	"errors"
	"testing"

	"github.com/Reverse-Call-Center/acd/types"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestMemoryTransport_OriginateRaisesEvents(t *testing.T) {
	m := NewMemoryTransport()
	ctx := context.Background()

	leg, err := m.Originate(ctx, types.OriginateRequest{Endpoint: "1002-agent", AppArgs: types.DialedArg})
	require.NoError(t, err)

	evs := m.Drain()
	require.Len(t, evs, 2)
	started, ok := evs[0].(types.CallStarted)
	require.True(t, ok)
	assert.True(t, started.IsAgentLeg())
	assert.Equal(t, types.LegAnswered{ChannelID: leg}, evs[1])
	assert.Empty(t, m.Drain())
	assert.Equal(t, []string{leg}, m.Legs())
}

func TestMemoryTransport_NoAutoAnswer(t *testing.T) {
	m := NewMemoryTransport(WithAutoAnswer(false))
	leg, err := m.Originate(context.Background(), types.OriginateRequest{Endpoint: "a", AppArgs: types.DialedArg})
	require.NoError(t, err)
	assert.Len(t, m.Drain(), 1)

	m.AnswerLeg(leg)
	assert.Equal(t, []types.Event{types.LegAnswered{ChannelID: leg}}, m.Drain())
}

func TestMemoryTransport_BridgeMembership(t *testing.T) {
	m := NewMemoryTransport()
	ctx := context.Background()
	ch := m.Incoming("1")
	m.Drain()

	a, err := m.CreateBridge(ctx, types.BridgeHolding, "queue_music")
	require.NoError(t, err)
	b, err := m.CreateBridge(ctx, types.BridgeHolding, "queue_silent")
	require.NoError(t, err)

	require.NoError(t, m.AddToBridge(ctx, a, ch))
	require.NoError(t, m.AddToBridge(ctx, b, ch))
	assert.Empty(t, m.Members(a))
	assert.Equal(t, []string{ch}, m.Members(b))

	evs := m.Drain()
	require.Len(t, evs, 2)
	assert.Equal(t, types.ChannelEnteredBridge{ChannelID: ch, BridgeID: b}, evs[1])

	assert.ErrorIs(t, m.RemoveFromBridge(ctx, a, ch), types.ErrNotFound)
	id, ok := m.BridgeNamed("queue_silent")
	require.True(t, ok)
	assert.Equal(t, b, id)
}

func TestMemoryTransport_HangupRaisesBothEvents(t *testing.T) {
	m := NewMemoryTransport()
	ctx := context.Background()
	ch := m.Incoming("1")
	m.Drain()

	require.NoError(t, m.Hangup(ctx, ch))
	assert.Equal(t, []types.Event{types.CallEnded{ChannelID: ch}, types.LegDestroyed{ChannelID: ch}}, m.Drain())
	assert.False(t, m.Alive(ch))
	assert.ErrorIs(t, m.Hangup(ctx, ch), types.ErrNotFound)
}

func TestMemoryTransport_FailureInjection(t *testing.T) {
	m := NewMemoryTransport()
	ctx := context.Background()
	boom := errors.New("boom")

	m.FailNext(OpOriginate, boom)
	_, err := m.Originate(ctx, types.OriginateRequest{Endpoint: "a"})
	assert.ErrorIs(t, err, boom)
	_, err = m.Originate(ctx, types.OriginateRequest{Endpoint: "a"})
	assert.NoError(t, err)

	x, y := m.Incoming("1"), m.Incoming("2")
	m.FailFor(OpAnswer, y, boom)
	assert.NoError(t, m.Answer(ctx, x))
	assert.ErrorIs(t, m.Answer(ctx, y), boom)
	assert.NoError(t, m.Answer(ctx, y))

	assert.Equal(t, 2, m.Count(OpOriginate))
	assert.Equal(t, 3, m.Count(OpAnswer))
}
