// Package queue holds callers waiting for an agent, in arrival order.
//
// The queue also tracks callers that have been assigned an agent but are not
// yet audio-connected, so a caller mid-dial is never lost track of. An entry
// leaves the queue once it is both assigned and bridged, or when it is removed.
package queue

import (
	"errors"
	"time"
)

var (
	ErrNotQueued      = errors.New("session is not queued")
	ErrNoAgentsOnline = errors.New("no agents online")
)

// Entry is one queued caller.
type Entry struct {
	SessionID     string
	EnqueuedAt    time.Time
	AssignedAgent string
	Bridged       bool
}

// Waiting reports whether the entry is still waiting for an agent.
func (e *Entry) Waiting() bool {
	return e.AssignedAgent == "" && !e.Bridged
}

// Position is a rough wait estimate for a queued caller.
type Position struct {
	Pos   int
	Total int
	ETA   time.Duration
}

// Queue is not safe for concurrent use.
type Queue struct {
	entries []*Entry
	index   map[string]*Entry
	now     func() time.Time
}

// New creates an empty queue. now stamps EnqueuedAt; nil means time.Now.
func New(now func() time.Time) *Queue {
	if now == nil {
		now = time.Now
	}
	return &Queue{
		index: make(map[string]*Entry),
		now:   now,
	}
}

// Enqueue appends id unless it is already queued. It reports whether an entry
// was added.
func (q *Queue) Enqueue(id string) bool {
	if _, exists := q.index[id]; exists {
		return false
	}
	e := &Entry{SessionID: id, EnqueuedAt: q.now()}
	q.entries = append(q.entries, e)
	q.index[id] = e
	return true
}

// Next returns the oldest waiting entry without removing it.
func (q *Queue) Next() (string, bool) {
	for _, e := range q.entries {
		if e.Waiting() {
			return e.SessionID, true
		}
	}
	return "", false
}

// Assign records the agent being dialed for id.
func (q *Queue) Assign(id, endpoint string) error {
	e, ok := q.index[id]
	if !ok {
		return ErrNotQueued
	}
	e.AssignedAgent = endpoint
	return nil
}

// MarkBridged flags id as audio-connected. An assigned, bridged entry no longer
// belongs in the queue and is dropped.
func (q *Queue) MarkBridged(id string) error {
	e, ok := q.index[id]
	if !ok {
		return ErrNotQueued
	}
	e.Bridged = true
	if e.AssignedAgent != "" {
		q.Remove(id)
	}
	return nil
}

// Remove drops id regardless of its sub-state. It reports whether id was queued.
func (q *Queue) Remove(id string) bool {
	if _, ok := q.index[id]; !ok {
		return false
	}
	delete(q.index, id)
	for i, e := range q.entries {
		if e.SessionID == id {
			q.entries = append(q.entries[:i], q.entries[i+1:]...)
			break
		}
	}
	return true
}

func (q *Queue) Contains(id string) bool {
	_, ok := q.index[id]
	return ok
}

func (q *Queue) Get(id string) (Entry, bool) {
	e, ok := q.index[id]
	if !ok {
		return Entry{}, false
	}
	return *e, true
}

// Len counts every entry, waiting or mid-dial.
func (q *Queue) Len() int {
	return len(q.entries)
}

// WaitingLen counts entries still waiting for an agent.
func (q *Queue) WaitingLen() int {
	n := 0
	for _, e := range q.entries {
		if e.Waiting() {
			n++
		}
	}
	return n
}

// Entries returns copies of all entries in arrival order.
func (q *Queue) Entries() []Entry {
	out := make([]Entry, 0, len(q.entries))
	for _, e := range q.entries {
		out = append(out, *e)
	}
	return out
}

// PositionOf computes the caller's place among waiting entries and a linear
// ETA of max(pos/agents*perCall, perCall). This is a heuristic, not a
// prediction. With zero agents online it returns ErrNoAgentsOnline alongside
// the position, and a zero ETA.
func (q *Queue) PositionOf(id string, agents int, perCall time.Duration) (Position, error) {
	target, ok := q.index[id]
	if !ok {
		return Position{}, ErrNotQueued
	}

	pos := 1
	total := 0
	seen := false
	for _, e := range q.entries {
		if e == target {
			seen = true
		}
		if !e.Waiting() {
			continue
		}
		total++
		if !seen {
			pos++
		}
	}
	if !target.Waiting() {
		// a caller mid-dial still counts itself
		total++
	}

	p := Position{Pos: pos, Total: total}
	if agents <= 0 {
		return p, ErrNoAgentsOnline
	}
	p.ETA = ETA(pos, agents, perCall)
	return p, nil
}

// ETA is the floor-clamped linear estimate for position pos with agents online.
func ETA(pos, agents int, perCall time.Duration) time.Duration {
	if agents <= 0 {
		return 0
	}
	eta := time.Duration(float64(pos) / float64(agents) * float64(perCall))
	if eta < perCall {
		return perCall
	}
	return eta
}
