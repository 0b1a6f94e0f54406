package session

import (
	"errors"
	"fmt"
	"time"

	"github.com/Reverse-Call-Center/acd/types"
)

var ErrInvalidTransition = errors.New("invalid state transition")

var callerTransitions = map[types.CallState][]types.CallState{
	types.StateIncoming: {types.StateAnswered},
	types.StateAnswered: {types.StateQueued, types.StateDialing},
	types.StateQueued:   {types.StateDialing},
	types.StateDialing:  {types.StateBridged},
}

var legTransitions = map[types.CallState][]types.CallState{
	types.StateDialed:   {types.StateAnswered},
	types.StateAnswered: {types.StateBridged},
}

// Registry is the authoritative set of live channels. Terminated channels are
// remembered for a while after removal so late duplicate events are ignored.
// It is not safe for concurrent use.
type Registry struct {
	active     map[string]*types.CallSession
	terminated map[string]time.Time
	ttl        time.Duration
	now        func() time.Time
}

// NewRegistry creates a registry that remembers terminated ids for ttl.
func NewRegistry(ttl time.Duration, now func() time.Time) *Registry {
	if now == nil {
		now = time.Now
	}
	return &Registry{
		active:     make(map[string]*types.CallSession),
		terminated: make(map[string]time.Time),
		ttl:        ttl,
		now:        now,
	}
}

// Create registers a new channel in its role's initial state. It fails when the
// channel is already live or was recently terminated.
func (r *Registry) Create(id string, role types.Role) (*types.CallSession, error) {
	r.prune()
	if _, ok := r.active[id]; ok {
		return nil, fmt.Errorf("session %s already registered", id)
	}
	if r.IsTerminated(id) {
		return nil, fmt.Errorf("session %s already terminated", id)
	}
	state := types.StateIncoming
	if role == types.RoleAgentLeg {
		state = types.StateDialed
	}
	now := r.now()
	s := &types.CallSession{
		ID:        id,
		Role:      role,
		State:     state,
		StartTime: now,
		UpdatedAt: now,
	}
	r.active[id] = s
	return s, nil
}

func (r *Registry) Get(id string) (*types.CallSession, bool) {
	s, ok := r.active[id]
	return s, ok
}

// IsTerminated reports whether id was terminated within the tombstone ttl.
func (r *Registry) IsTerminated(id string) bool {
	at, ok := r.terminated[id]
	if !ok {
		return false
	}
	return r.now().Sub(at) < r.ttl
}

// Transition moves s to state if its role allows it. Terminated is reachable
// from any live state and is absorbing.
func (r *Registry) Transition(s *types.CallSession, to types.CallState) error {
	if s.State.IsTerminal() {
		return fmt.Errorf("%w: %s is terminated", ErrInvalidTransition, s.ID)
	}
	if to != types.StateTerminated && !allowed(s.Role, s.State, to) {
		return fmt.Errorf("%w: %s %s %s -> %s", ErrInvalidTransition, s.Role, s.ID, s.State, to)
	}
	s.State = to
	s.UpdatedAt = r.now()
	return nil
}

// Terminate marks s terminated and drops it from the live set.
func (r *Registry) Terminate(s *types.CallSession) {
	s.State = types.StateTerminated
	s.UpdatedAt = r.now()
	delete(r.active, s.ID)
	r.terminated[s.ID] = s.UpdatedAt
}

// Bury records id as terminated without it ever having been registered, for
// legs that die before their start event.
func (r *Registry) Bury(id string) {
	r.terminated[id] = r.now()
}

// Link pairs a caller with its agent leg.
func (r *Registry) Link(a, b *types.CallSession) {
	a.LinkedSessionID = b.ID
	b.LinkedSessionID = a.ID
}

func (r *Registry) Len() int {
	return len(r.active)
}

// Sessions returns copies of every live session.
func (r *Registry) Sessions() []*types.CallSession {
	out := make([]*types.CallSession, 0, len(r.active))
	for _, s := range r.active {
		out = append(out, s.Clone())
	}
	return out
}

// InState returns the live sessions currently in state.
func (r *Registry) InState(state types.CallState) []*types.CallSession {
	var out []*types.CallSession
	for _, s := range r.active {
		if s.State == state {
			out = append(out, s)
		}
	}
	return out
}

func (r *Registry) prune() {
	now := r.now()
	for id, at := range r.terminated {
		if now.Sub(at) >= r.ttl {
			delete(r.terminated, id)
		}
	}
}

func allowed(role types.Role, from, to types.CallState) bool {
	table := callerTransitions
	if role == types.RoleAgentLeg {
		table = legTransitions
	}
	for _, next := range table[from] {
		if next == to {
			return true
		}
	}
	return false
}
