package handlers

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/Reverse-Call-Center/acd/agents"
	"github.com/Reverse-Call-Center/acd/audio"
	"github.com/Reverse-Call-Center/acd/queue"
	"github.com/Reverse-Call-Center/acd/session"
	"github.com/Reverse-Call-Center/acd/types"
	"github.com/Reverse-Call-Center/acd/utils"
	"github.com/sirupsen/logrus"
)

// Options tunes the distributor.
type Options struct {
	App           string
	CallerIDLabel string

	// ProcessingETA is the per-call handling estimate used for queue ETAs.
	ProcessingETA time.Duration
	// RematchDelay lets the transport settle a torn-down call before the
	// freed agent is dialed again.
	RematchDelay time.Duration
	// DialTimeout bounds how long an agent leg may ring.
	DialTimeout time.Duration
	// BridgeConfirmTimeout bounds the wait for both legs to be confirmed in
	// the mixing bridge.
	BridgeConfirmTimeout time.Duration

	MusicBridge  string
	SilentBridge string

	// WelcomeClip is played once after a caller is answered; empty skips it.
	WelcomeClip  string
	PositionClip string
	NoAgentsClip string

	TombstoneTTL time.Duration
}

// DefaultOptions returns the settings used when WithOptions is not given.
func DefaultOptions() Options {
	return Options{
		App:                  "myapp",
		CallerIDLabel:        "Support Agent",
		ProcessingETA:        120 * time.Second,
		RematchDelay:         500 * time.Millisecond,
		DialTimeout:          30 * time.Second,
		BridgeConfirmTimeout: 5 * time.Second,
		MusicBridge:          "queue_music",
		SilentBridge:         "queue_silent",
		TombstoneTTL:         5 * time.Minute,
	}
}

// Observer receives the human-readable status lines meant for operators.
type Observer interface {
	Status(channelID, line string)
}

// ObserverFunc adapts a function to Observer.
type ObserverFunc func(channelID, line string)

func (f ObserverFunc) Status(channelID, line string) { f(channelID, line) }

type logObserver struct {
	log *logrus.Entry
}

func (o logObserver) Status(channelID, line string) {
	o.log.WithField("channel", channelID).Info(line)
}

// Engine is the call distributor. All state is guarded by one mutex: each
// event, timer and operator command runs to completion, transport round trips
// included, before the next one starts.
type Engine struct {
	mu sync.Mutex

	tel      types.Telephony
	pool     *agents.Pool
	queue    *queue.Queue
	sessions *session.Registry
	bridges  *audio.Orchestrator

	clock      utils.Clock
	log        *logrus.Entry
	observer   Observer
	opts       Options
	statusHook func(online, available int)
	baseCtx    context.Context

	pairings map[string]*pairing
	legs     map[string]string
	retiring map[string]bool
	attempts uint64
	rematch  utils.Timer
}

// pairing is one caller being connected to one agent.
type pairing struct {
	attempt   uint64
	callerID  string
	legID     string
	agent     *agents.Agent
	bridge    *audio.Bridge
	confirmed map[string]bool
	bridged   bool

	dialTimer    utils.Timer
	confirmTimer utils.Timer
}

// Option configures an Engine.
type Option func(*Engine)

// WithClock replaces the real-time clock driving all timers.
func WithClock(c utils.Clock) Option {
	return func(e *Engine) {
		e.clock = c
	}
}

// WithLogger sets the logger for engine and bridge messages.
func WithLogger(l *logrus.Entry) Option {
	return func(e *Engine) {
		e.log = l
	}
}

// WithObserver receives the operator status lines instead of the logger.
func WithObserver(o Observer) Option {
	return func(e *Engine) {
		e.observer = o
	}
}

// WithOptions replaces DefaultOptions.
func WithOptions(o Options) Option {
	return func(e *Engine) {
		e.opts = o
	}
}

// WithStatusHook is called with the online and available agent counts after
// every agent status change.
func WithStatusHook(f func(online, available int)) Option {
	return func(e *Engine) {
		e.statusHook = f
	}
}

// NewEngine creates a distributor serving callers from pool through tel.
func NewEngine(tel types.Telephony, pool *agents.Pool, opts ...Option) *Engine {
	e := &Engine{
		tel:      tel,
		pool:     pool,
		clock:    utils.NewAutoClock(),
		log:      logrus.NewEntry(logrus.StandardLogger()),
		opts:     DefaultOptions(),
		baseCtx:  context.Background(),
		pairings: make(map[string]*pairing),
		legs:     make(map[string]string),
		retiring: make(map[string]bool),
	}
	for _, opt := range opts {
		opt(e)
	}
	if e.observer == nil {
		e.observer = logObserver{log: e.log}
	}
	e.queue = queue.New(e.clock.Now)
	e.sessions = session.NewRegistry(e.opts.TombstoneTTL, e.clock.Now)
	e.bridges = audio.NewOrchestrator(tel, e.log)
	e.agentsChanged()
	return e
}

// Run feeds events to Handle until ctx is done or events is closed. Timers
// fired while running use ctx for their transport commands.
func (e *Engine) Run(ctx context.Context, events <-chan types.Event) error {
	e.mu.Lock()
	e.baseCtx = ctx
	e.mu.Unlock()

	e.log.Info("call distributor running")
	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case ev, ok := <-events:
			if !ok {
				return nil
			}
			e.Handle(ctx, ev)
		}
	}
}

// Handle processes one transport event to completion.
func (e *Engine) Handle(ctx context.Context, ev types.Event) {
	e.mu.Lock()
	defer e.mu.Unlock()

	switch ev := ev.(type) {
	case types.CallStarted:
		if ev.IsAgentLeg() {
			e.onLegStarted(ctx, ev)
		} else {
			e.onCallerStarted(ctx, ev)
		}
	case types.CallEnded:
		e.onChannelGone(ctx, ev.ChannelID, "call ended")
	case types.LegDestroyed:
		e.onChannelGone(ctx, ev.ChannelID, "channel destroyed")
	case types.DigitPressed:
		e.onDigit(ctx, ev)
	case types.LegAnswered:
		e.onLegAnswered(ctx, ev)
	case types.ChannelEnteredBridge:
		e.onEnteredBridge(ctx, ev)
	default:
		e.log.Warnf("unhandled event %T", ev)
	}
}

// SetAgentOffline takes an agent out of rotation. A busy agent finishes its
// current call first.
func (e *Engine) SetAgentOffline(ctx context.Context, endpoint string) error {
	e.mu.Lock()
	defer e.mu.Unlock()

	agent, ok := e.pool.Get(endpoint)
	if !ok {
		return fmt.Errorf("agent %s not found", endpoint)
	}
	if agent.Status == agents.StatusBusy {
		e.retiring[endpoint] = true
		e.log.WithField("agent", endpoint).Info("agent goes offline after current call")
		return nil
	}
	e.pool.MarkOffline(agent)
	e.log.WithField("agent", endpoint).Info("agent offline")
	e.agentsChanged()
	return nil
}

// SetAgentOnline puts an agent back in rotation and serves waiting callers.
func (e *Engine) SetAgentOnline(ctx context.Context, endpoint string) error {
	e.mu.Lock()
	defer e.mu.Unlock()

	agent, ok := e.pool.Get(endpoint)
	if !ok {
		return fmt.Errorf("agent %s not found", endpoint)
	}
	delete(e.retiring, endpoint)
	if agent.Status != agents.StatusOffline {
		return nil
	}
	e.pool.MarkAvailable(agent)
	e.log.WithField("agent", endpoint).Info("agent online")
	e.agentsChanged()
	e.match(ctx)
	return nil
}

// Position reports a queued caller's place and wait estimate.
func (e *Engine) Position(callerID string) (queue.Position, error) {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.queue.PositionOf(callerID, e.pool.Online(), e.opts.ProcessingETA)
}

// Snapshot is a copy of the distributor state.
type Snapshot struct {
	Sessions []*types.CallSession
	Agents   []agents.Agent
	Queue    []queue.Entry
	Bridges  []audio.Bridge
}

func (e *Engine) Snapshot() Snapshot {
	e.mu.Lock()
	defer e.mu.Unlock()
	return Snapshot{
		Sessions: e.sessions.Sessions(),
		Agents:   e.pool.Agents(),
		Queue:    e.queue.Entries(),
		Bridges:  e.bridges.Bridges(),
	}
}

// Session returns a copy of the live session for channelID.
func (e *Engine) Session(channelID string) (*types.CallSession, bool) {
	e.mu.Lock()
	defer e.mu.Unlock()
	s, ok := e.sessions.Get(channelID)
	if !ok {
		return nil, false
	}
	return s.Clone(), true
}

func (e *Engine) agentsChanged() {
	if e.statusHook != nil {
		e.statusHook(e.pool.Online(), e.pool.Available())
	}
}

func (e *Engine) observe(channelID, format string, args ...any) {
	e.observer.Status(channelID, fmt.Sprintf(format, args...))
}

// afterFunc schedules f under the engine lock.
func (e *Engine) afterFunc(d time.Duration, f func(ctx context.Context)) utils.Timer {
	return e.clock.AfterFunc(d, func() {
		e.mu.Lock()
		defer e.mu.Unlock()
		f(e.baseCtx)
	})
}
