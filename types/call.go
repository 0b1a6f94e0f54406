package types

import (
	"fmt"
	"time"
)

// Role tells a caller leg apart from an agent leg originated by the distributor.
type Role int

const (
	RoleCaller Role = iota
	RoleAgentLeg
)

func (r Role) String() string {
	switch r {
	case RoleCaller:
		return "caller"
	case RoleAgentLeg:
		return "agent-leg"
	default:
		return fmt.Sprintf("role(%d)", int(r))
	}
}

// CallState is the lifecycle state of a single channel.
//
// Callers move Incoming -> Answered -> Queued -> Dialing -> Bridged -> Terminated
// (Queued is skipped when an agent is free on arrival). Agent legs move
// Dialed -> Answered -> Bridged -> Terminated.
type CallState int

const (
	StateIncoming CallState = iota
	StateAnswered
	StateQueued
	StateDialing
	StateDialed
	StateBridged
	StateTerminated
)

func (s CallState) String() string {
	switch s {
	case StateIncoming:
		return "incoming"
	case StateAnswered:
		return "answered"
	case StateQueued:
		return "queued"
	case StateDialing:
		return "dialing"
	case StateDialed:
		return "dialed"
	case StateBridged:
		return "bridged"
	case StateTerminated:
		return "terminated"
	default:
		return fmt.Sprintf("state(%d)", int(s))
	}
}

// IsTerminal reports whether no further transition can leave s.
func (s CallState) IsTerminal() bool {
	return s == StateTerminated
}

// CallSession is the distributor's view of one channel.
type CallSession struct {
	ID              string
	Role            Role
	State           CallState
	LinkedSessionID string
	BridgeID        string
	AgentEndpoint   string
	CallerNumber    string
	StartTime       time.Time
	UpdatedAt       time.Time
}

// Clone returns a copy safe to hand out of the engine's lock.
func (s *CallSession) Clone() *CallSession {
	c := *s
	return &c
}
