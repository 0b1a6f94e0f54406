package server

import (
	"context"
	"sort"
	"sync"

	"github.com/Reverse-Call-Center/acd/types"
	"github.com/Reverse-Call-Center/acd/utils"
)

// Operation names recorded by MemoryTransport.
const (
	OpAnswer           = "answer"
	OpOriginate        = "originate"
	OpPlayAudio        = "play"
	OpCreateBridge     = "create_bridge"
	OpAddToBridge      = "add_to_bridge"
	OpRemoveFromBridge = "remove_from_bridge"
	OpDestroyBridge    = "destroy_bridge"
	OpHangup           = "hangup"
)

// Command is one call made against MemoryTransport.
type Command struct {
	Op       string
	Channel  string
	Bridge   string
	Type     types.BridgeType
	Name     string
	Endpoint string
	Clip     string
	Err      error
}

type memChannel struct {
	id       string
	agentLeg bool
	endpoint string
	answered bool
	bridge   string
}

type memBridge struct {
	id      string
	typ     types.BridgeType
	name    string
	members map[string]struct{}
}

// MemoryTransport is an in-process Telephony. Every command is recorded, and
// the events a real control plane would raise in response are buffered until
// Drain is called. Failures can be injected per operation.
type MemoryTransport struct {
	mu       sync.Mutex
	channels map[string]*memChannel
	bridges  map[string]*memBridge
	commands []Command
	events   []types.Event
	failures map[string][]error
	targeted map[string]error

	autoAnswer bool
	confirm    bool
}

type MemoryOption func(*MemoryTransport)

// WithAutoAnswer controls whether originated legs are answered right away.
func WithAutoAnswer(enabled bool) MemoryOption {
	return func(m *MemoryTransport) {
		m.autoAnswer = enabled
	}
}

// WithBridgeConfirmations controls whether AddToBridge raises ChannelEnteredBridge.
func WithBridgeConfirmations(enabled bool) MemoryOption {
	return func(m *MemoryTransport) {
		m.confirm = enabled
	}
}

func NewMemoryTransport(opts ...MemoryOption) *MemoryTransport {
	m := &MemoryTransport{
		channels:   make(map[string]*memChannel),
		bridges:    make(map[string]*memBridge),
		failures:   make(map[string][]error),
		targeted:   make(map[string]error),
		autoAnswer: true,
		confirm:    true,
	}
	for _, opt := range opts {
		opt(m)
	}
	return m
}

// Incoming simulates a new inbound caller and returns its channel id.
func (m *MemoryTransport) Incoming(callerNumber string) string {
	m.mu.Lock()
	defer m.mu.Unlock()
	id := utils.GenerateCallID()
	m.channels[id] = &memChannel{id: id}
	m.events = append(m.events, types.CallStarted{ChannelID: id, CallerNumber: callerNumber})
	return id
}

// Press simulates a DTMF digit on channelID.
func (m *MemoryTransport) Press(channelID, digit string) {
	m.Emit(types.DigitPressed{ChannelID: channelID, Digit: digit})
}

// AnswerLeg simulates the agent picking up an originated leg.
func (m *MemoryTransport) AnswerLeg(channelID string) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if ch, ok := m.channels[channelID]; ok {
		ch.answered = true
	}
	m.events = append(m.events, types.LegAnswered{ChannelID: channelID})
}

// RemoteHangup simulates the far end hanging up channelID.
func (m *MemoryTransport) RemoteHangup(channelID string) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.destroyLocked(channelID)
}

// Emit buffers an arbitrary event.
func (m *MemoryTransport) Emit(ev types.Event) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.events = append(m.events, ev)
}

// Drain returns and clears the buffered events.
func (m *MemoryTransport) Drain() []types.Event {
	m.mu.Lock()
	defer m.mu.Unlock()
	evs := m.events
	m.events = nil
	return evs
}

// FailNext makes the next call to op fail with err. Calls queue up.
func (m *MemoryTransport) FailNext(op string, err error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.failures[op] = append(m.failures[op], err)
}

// FailFor makes the next call to op on channelID fail with err.
func (m *MemoryTransport) FailFor(op, channelID string, err error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.targeted[op+"/"+channelID] = err
}

// Commands returns every recorded command in call order.
func (m *MemoryTransport) Commands() []Command {
	m.mu.Lock()
	defer m.mu.Unlock()
	return append([]Command(nil), m.commands...)
}

// Count returns how many times op was called.
func (m *MemoryTransport) Count(op string) int {
	m.mu.Lock()
	defer m.mu.Unlock()
	n := 0
	for _, c := range m.commands {
		if c.Op == op {
			n++
		}
	}
	return n
}

// Alive reports whether channelID exists on the transport.
func (m *MemoryTransport) Alive(channelID string) bool {
	m.mu.Lock()
	defer m.mu.Unlock()
	_, ok := m.channels[channelID]
	return ok
}

// Members returns the sorted channel ids in bridgeID.
func (m *MemoryTransport) Members(bridgeID string) []string {
	m.mu.Lock()
	defer m.mu.Unlock()
	b, ok := m.bridges[bridgeID]
	if !ok {
		return nil
	}
	ids := make([]string, 0, len(b.members))
	for id := range b.members {
		ids = append(ids, id)
	}
	sort.Strings(ids)
	return ids
}

// BridgeNamed returns the id of the live bridge called name.
func (m *MemoryTransport) BridgeNamed(name string) (string, bool) {
	m.mu.Lock()
	defer m.mu.Unlock()
	for _, b := range m.bridges {
		if b.name == name && name != "" {
			return b.id, true
		}
	}
	return "", false
}

// BridgeCount returns the number of live bridges of typ.
func (m *MemoryTransport) BridgeCount(typ types.BridgeType) int {
	m.mu.Lock()
	defer m.mu.Unlock()
	n := 0
	for _, b := range m.bridges {
		if b.typ == typ {
			n++
		}
	}
	return n
}

// Legs returns the ids of live originated legs.
func (m *MemoryTransport) Legs() []string {
	m.mu.Lock()
	defer m.mu.Unlock()
	var ids []string
	for id, ch := range m.channels {
		if ch.agentLeg {
			ids = append(ids, id)
		}
	}
	sort.Strings(ids)
	return ids
}

func (m *MemoryTransport) Answer(ctx context.Context, channelID string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if err := m.record(Command{Op: OpAnswer, Channel: channelID}); err != nil {
		return err
	}
	ch, ok := m.channels[channelID]
	if !ok {
		return types.ErrNotFound
	}
	ch.answered = true
	return nil
}

func (m *MemoryTransport) Originate(ctx context.Context, req types.OriginateRequest) (string, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if err := m.record(Command{Op: OpOriginate, Endpoint: req.Endpoint}); err != nil {
		return "", err
	}
	id := utils.GenerateCallID()
	m.channels[id] = &memChannel{id: id, agentLeg: true, endpoint: req.Endpoint, answered: m.autoAnswer}
	m.events = append(m.events, types.CallStarted{ChannelID: id, Args: []string{req.AppArgs}})
	if m.autoAnswer {
		m.events = append(m.events, types.LegAnswered{ChannelID: id})
	}
	return id, nil
}

func (m *MemoryTransport) PlayAudio(ctx context.Context, channelID, clip string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if err := m.record(Command{Op: OpPlayAudio, Channel: channelID, Clip: clip}); err != nil {
		return err
	}
	if _, ok := m.channels[channelID]; !ok {
		return types.ErrNotFound
	}
	return nil
}

func (m *MemoryTransport) CreateBridge(ctx context.Context, typ types.BridgeType, name string) (string, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if err := m.record(Command{Op: OpCreateBridge, Type: typ, Name: name}); err != nil {
		return "", err
	}
	id := utils.GenerateBridgeID()
	m.bridges[id] = &memBridge{id: id, typ: typ, name: name, members: make(map[string]struct{})}
	return id, nil
}

func (m *MemoryTransport) AddToBridge(ctx context.Context, bridgeID, channelID string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if err := m.record(Command{Op: OpAddToBridge, Bridge: bridgeID, Channel: channelID}); err != nil {
		return err
	}
	b, ok := m.bridges[bridgeID]
	if !ok {
		return types.ErrNotFound
	}
	ch, ok := m.channels[channelID]
	if !ok {
		return types.ErrNotFound
	}
	if prev, ok := m.bridges[ch.bridge]; ok {
		delete(prev.members, channelID)
	}
	b.members[channelID] = struct{}{}
	ch.bridge = bridgeID
	if m.confirm {
		m.events = append(m.events, types.ChannelEnteredBridge{ChannelID: channelID, BridgeID: bridgeID})
	}
	return nil
}

func (m *MemoryTransport) RemoveFromBridge(ctx context.Context, bridgeID, channelID string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if err := m.record(Command{Op: OpRemoveFromBridge, Bridge: bridgeID, Channel: channelID}); err != nil {
		return err
	}
	b, ok := m.bridges[bridgeID]
	if !ok {
		return types.ErrNotFound
	}
	if _, ok := b.members[channelID]; !ok {
		return types.ErrNotFound
	}
	delete(b.members, channelID)
	if ch, ok := m.channels[channelID]; ok {
		ch.bridge = ""
	}
	return nil
}

func (m *MemoryTransport) DestroyBridge(ctx context.Context, bridgeID string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if err := m.record(Command{Op: OpDestroyBridge, Bridge: bridgeID}); err != nil {
		return err
	}
	b, ok := m.bridges[bridgeID]
	if !ok {
		return types.ErrNotFound
	}
	for id := range b.members {
		if ch, ok := m.channels[id]; ok {
			ch.bridge = ""
		}
	}
	delete(m.bridges, bridgeID)
	return nil
}

func (m *MemoryTransport) Hangup(ctx context.Context, channelID string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if err := m.record(Command{Op: OpHangup, Channel: channelID}); err != nil {
		return err
	}
	if _, ok := m.channels[channelID]; !ok {
		return types.ErrNotFound
	}
	m.destroyLocked(channelID)
	return nil
}

// destroyLocked removes the channel and raises both the leave and the destroy
// notification, as a real control plane does.
func (m *MemoryTransport) destroyLocked(channelID string) {
	ch, ok := m.channels[channelID]
	if !ok {
		return
	}
	if b, ok := m.bridges[ch.bridge]; ok {
		delete(b.members, channelID)
	}
	delete(m.channels, channelID)
	m.events = append(m.events,
		types.CallEnded{ChannelID: channelID},
		types.LegDestroyed{ChannelID: channelID},
	)
}

func (m *MemoryTransport) record(c Command) error {
	if err, ok := m.targeted[c.Op+"/"+c.Channel]; ok && c.Channel != "" {
		delete(m.targeted, c.Op+"/"+c.Channel)
		m.commands = append(m.commands, Command{Op: c.Op, Channel: c.Channel, Bridge: c.Bridge, Err: err})
		return err
	}
	if queued := m.failures[c.Op]; len(queued) > 0 {
		c.Err = queued[0]
		m.failures[c.Op] = queued[1:]
	}
	m.commands = append(m.commands, c)
	return c.Err
}
