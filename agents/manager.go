package agents

import (
	"fmt"
)

// Status is the availability of an agent.
type Status int

const (
	StatusAvailable Status = iota
	StatusBusy
	StatusOffline
)

func (s Status) String() string {
	switch s {
	case StatusAvailable:
		return "available"
	case StatusBusy:
		return "busy"
	case StatusOffline:
		return "offline"
	default:
		return fmt.Sprintf("status(%d)", int(s))
	}
}

// Agent is one member of the fixed roster.
type Agent struct {
	Endpoint    string
	Status      Status
	CurrentCall string
}

// Strategy picks the agent for the next call out of the roster, in roster
// order. It returns nil when nobody can take a call.
type Strategy func(roster []*Agent) *Agent

// FirstAvailable returns the first agent in roster order with StatusAvailable.
func FirstAvailable(roster []*Agent) *Agent {
	for _, agent := range roster {
		if agent.Status == StatusAvailable {
			return agent
		}
	}
	return nil
}

// Pool owns the roster. It is not safe for concurrent use; the engine
// serializes every access.
type Pool struct {
	roster   []*Agent
	byID     map[string]*Agent
	strategy Strategy
}

type PoolOption func(*Pool)

// WithStrategy replaces the first-available selection policy.
func WithStrategy(s Strategy) PoolOption {
	return func(p *Pool) {
		p.strategy = s
	}
}

// NewPool builds the roster from endpoints, in order, all available. Duplicate
// and empty endpoints are rejected.
func NewPool(endpoints []string, opts ...PoolOption) (*Pool, error) {
	p := &Pool{
		byID:     make(map[string]*Agent, len(endpoints)),
		strategy: FirstAvailable,
	}
	for _, ep := range endpoints {
		if ep == "" {
			return nil, fmt.Errorf("empty agent endpoint")
		}
		if _, exists := p.byID[ep]; exists {
			return nil, fmt.Errorf("duplicate agent endpoint %s", ep)
		}
		agent := &Agent{Endpoint: ep, Status: StatusAvailable}
		p.roster = append(p.roster, agent)
		p.byID[ep] = agent
	}
	for _, opt := range opts {
		opt(p)
	}
	return p, nil
}

// FindAvailable applies the selection strategy. A strategy answer that is not
// actually available is discarded.
func (p *Pool) FindAvailable() *Agent {
	agent := p.strategy(p.roster)
	if agent == nil || agent.Status != StatusAvailable {
		return nil
	}
	return agent
}

// Get returns the agent with the given endpoint.
func (p *Pool) Get(endpoint string) (*Agent, bool) {
	agent, ok := p.byID[endpoint]
	return agent, ok
}

// MarkBusy links the agent to the caller session it is serving.
func (p *Pool) MarkBusy(agent *Agent, callID string) {
	agent.Status = StatusBusy
	agent.CurrentCall = callID
}

func (p *Pool) MarkAvailable(agent *Agent) {
	agent.Status = StatusAvailable
	agent.CurrentCall = ""
}

func (p *Pool) MarkOffline(agent *Agent) {
	agent.Status = StatusOffline
	agent.CurrentCall = ""
}

// Online counts agents that are not offline.
func (p *Pool) Online() int {
	n := 0
	for _, agent := range p.roster {
		if agent.Status != StatusOffline {
			n++
		}
	}
	return n
}

func (p *Pool) Available() int {
	n := 0
	for _, agent := range p.roster {
		if agent.Status == StatusAvailable {
			n++
		}
	}
	return n
}

func (p *Pool) Len() int {
	return len(p.roster)
}

// Agents returns copies of the roster in order.
func (p *Pool) Agents() []Agent {
	out := make([]Agent, 0, len(p.roster))
	for _, agent := range p.roster {
		out = append(out, *agent)
	}
	return out
}
