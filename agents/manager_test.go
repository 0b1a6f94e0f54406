package agents

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestNewPool_RejectsBadRoster(t *testing.T) {
	_, err := NewPool([]string{"1002-agent", "1002-agent"})
	assert.Error(t, err)

	_, err = NewPool([]string{""})
	assert.Error(t, err)

	p, err := NewPool(nil)
	require.NoError(t, err)
	assert.Zero(t, p.Len())
	assert.Nil(t, p.FindAvailable())
}

func TestPool_FirstAvailableInRosterOrder(t *testing.T) {
	p, err := NewPool([]string{"a", "b", "c"})
	require.NoError(t, err)

	first := p.FindAvailable()
	require.NotNil(t, first)
	assert.Equal(t, "a", first.Endpoint)

	p.MarkBusy(first, "call_1")
	next := p.FindAvailable()
	require.NotNil(t, next)
	assert.Equal(t, "b", next.Endpoint)

	b, _ := p.Get("b")
	p.MarkOffline(b)
	next = p.FindAvailable()
	require.NotNil(t, next)
	assert.Equal(t, "c", next.Endpoint)

	assert.Equal(t, 2, p.Online())
	assert.Equal(t, 1, p.Available())
}

func TestPool_StatusTransitionsClearCall(t *testing.T) {
	p, err := NewPool([]string{"a"})
	require.NoError(t, err)
	a, ok := p.Get("a")
	require.True(t, ok)

	p.MarkBusy(a, "call_1")
	assert.Equal(t, StatusBusy, a.Status)
	assert.Equal(t, "call_1", a.CurrentCall)
	assert.Nil(t, p.FindAvailable())

	p.MarkAvailable(a)
	assert.Equal(t, StatusAvailable, a.Status)
	assert.Empty(t, a.CurrentCall)

	p.MarkOffline(a)
	assert.Zero(t, p.Online())
	assert.Equal(t, "offline", a.Status.String())
}

func TestPool_StrategyAnswerMustBeAvailable(t *testing.T) {
	last := func(roster []*Agent) *Agent {
		return roster[len(roster)-1]
	}
	p, err := NewPool([]string{"a", "b"}, WithStrategy(last))
	require.NoError(t, err)

	agent := p.FindAvailable()
	require.NotNil(t, agent)
	assert.Equal(t, "b", agent.Endpoint)

	p.MarkBusy(agent, "call_1")
	assert.Nil(t, p.FindAvailable())
}

func TestPool_AgentsReturnsCopies(t *testing.T) {
	p, err := NewPool([]string{"a"})
	require.NoError(t, err)

	snapshot := p.Agents()
	snapshot[0].Status = StatusBusy

	a, _ := p.Get("a")
	assert.Equal(t, StatusAvailable, a.Status)
}
