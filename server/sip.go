package server

import (
	"context"
	"errors"
	"fmt"
	"io"
	"sync"
	"time"

	"github.com/Reverse-Call-Center/acd/audio"
	"github.com/Reverse-Call-Center/acd/config"
	"github.com/Reverse-Call-Center/acd/types"
	"github.com/Reverse-Call-Center/acd/utils"
	"github.com/emiago/diago"
	"github.com/emiago/sipgo"
	"github.com/emiago/sipgo/sip"
	"github.com/sirupsen/logrus"
)

const dtmfWindow = 10 * time.Second

type sipChannel struct {
	id       string
	agentLeg bool
	server   *diago.DialogServerSession
	client   *diago.DialogClientSession
	cancel   context.CancelFunc
	stopHold context.CancelFunc
	bridge   string
	mixing   bool
}

func (ch *sipChannel) dialog() diago.DialogSession {
	if ch.server != nil {
		return ch.server
	}
	if ch.client != nil {
		return ch.client
	}
	return nil
}

func (ch *sipChannel) player() player {
	if ch.server != nil {
		return ch.server
	}
	if ch.client != nil {
		return ch.client
	}
	return nil
}

type sipBridge struct {
	id      string
	typ     types.BridgeType
	name    string
	mix     *diago.Bridge
	members map[string]struct{}
}

// SIPTransport is a B2BUA built on diago. It accepts callers, originates agent
// legs and mixes them, and reports everything as distributor events.
type SIPTransport struct {
	cfg     *config.Config
	dg      *diago.Diago
	log     *logrus.Entry
	silence []byte

	mu       sync.Mutex
	ctx      context.Context
	channels map[string]*sipChannel
	bridges  map[string]*sipBridge
	pending  []types.Event
	wake     chan struct{}
	out      chan types.Event
}

func NewSIPTransport(cfg *config.Config, log *logrus.Entry) (*SIPTransport, error) {
	ua, err := sipgo.NewUA()
	if err != nil {
		return nil, fmt.Errorf("error creating SIP user agent: %w", err)
	}
	dg := diago.NewDiago(ua, diago.WithTransport(diago.Transport{
		Transport: cfg.SIPProtocol,
		BindHost:  cfg.SIPListenAddress,
		BindPort:  cfg.SIPPort,
	}))

	return &SIPTransport{
		cfg:      cfg,
		dg:       dg,
		log:      log,
		silence:  audio.SilenceWAV(time.Second),
		ctx:      context.Background(),
		channels: make(map[string]*sipChannel),
		bridges:  make(map[string]*sipBridge),
		wake:     make(chan struct{}, 1),
		out:      make(chan types.Event, 64),
	}, nil
}

// Events is the stream consumed by the engine.
func (t *SIPTransport) Events() <-chan types.Event {
	return t.out
}

// Serve accepts calls until ctx is done.
func (t *SIPTransport) Serve(ctx context.Context) error {
	t.mu.Lock()
	t.ctx = ctx
	t.mu.Unlock()

	go t.forward(ctx)

	t.log.Infof("starting SIP server on %s %s:%d", t.cfg.SIPProtocol, t.cfg.SIPListenAddress, t.cfg.SIPPort)
	return t.dg.Serve(ctx, func(inDialog *diago.DialogServerSession) {
		t.handleIncoming(ctx, inDialog)
	})
}

func (t *SIPTransport) handleIncoming(ctx context.Context, inDialog *diago.DialogServerSession) {
	ch := &sipChannel{id: utils.GenerateCallID(), server: inDialog}
	t.mu.Lock()
	t.channels[ch.id] = ch
	t.mu.Unlock()

	log := t.log.WithField("channel", ch.id)
	if err := inDialog.Trying(); err != nil {
		log.WithError(err).Warn("error sending trying")
	}

	t.emit(types.CallStarted{
		ChannelID:    ch.id,
		CallerNumber: utils.ExtractCallerPhone(inDialog.InviteRequest.Headers()),
	})

	// diago tears the dialog down once this handler returns
	select {
	case <-inDialog.Context().Done():
	case <-ctx.Done():
	}
	t.gone(ch.id)
}

func (t *SIPTransport) Answer(ctx context.Context, channelID string) error {
	ch, err := t.channel(channelID)
	if err != nil {
		return err
	}
	if ch.server == nil {
		return fmt.Errorf("channel %s is not an inbound call", channelID)
	}
	if err := ch.server.Answer(); err != nil {
		return fmt.Errorf("answer %s: %w", channelID, err)
	}
	go t.listenDTMF(ch)
	return nil
}

func (t *SIPTransport) listenDTMF(ch *sipChannel) {
	log := t.log.WithField("channel", ch.id)
	reader := ch.server.AudioReaderDTMF()
	dctx := ch.server.Context()
	for dctx.Err() == nil {
		t.mu.Lock()
		mixing := ch.mixing
		t.mu.Unlock()
		if mixing {
			return
		}
		err := reader.Listen(func(dtmf rune) error {
			t.emit(types.DigitPressed{ChannelID: ch.id, Digit: string(dtmf)})
			return nil
		}, dtmfWindow)
		if errors.Is(err, io.EOF) || dctx.Err() != nil {
			return
		}
		if err != nil {
			log.WithError(err).Debug("dtmf listen")
		}
	}
}

func (t *SIPTransport) Originate(ctx context.Context, req types.OriginateRequest) (string, error) {
	var uri sip.Uri
	if err := sip.ParseUri(fmt.Sprintf("sip:%s@%s", req.Endpoint, t.cfg.AgentDomain), &uri); err != nil {
		return "", fmt.Errorf("agent endpoint %s: %w", req.Endpoint, err)
	}

	t.mu.Lock()
	ictx, cancel := context.WithCancel(t.ctx)
	ch := &sipChannel{id: utils.GenerateCallID(), agentLeg: true, cancel: cancel}
	t.channels[ch.id] = ch
	t.mu.Unlock()

	go t.dialAgent(ictx, ch, uri, req)
	return ch.id, nil
}

func (t *SIPTransport) dialAgent(ctx context.Context, ch *sipChannel, uri sip.Uri, req types.OriginateRequest) {
	log := t.log.WithFields(logrus.Fields{"channel": ch.id, "agent": req.Endpoint})
	defer t.gone(ch.id)

	d, err := t.dg.Invite(ctx, uri, diago.InviteOptions{
		Headers: []sip.Header{
			sip.NewHeader("Subject", req.CallerID),
			sip.NewHeader("X-ACD-App", req.App),
		},
	})
	if err != nil {
		log.WithError(err).Warn("agent leg failed")
		return
	}
	if ctx.Err() != nil {
		_ = d.Hangup(context.Background())
		return
	}

	t.mu.Lock()
	ch.client = d
	t.mu.Unlock()

	t.emit(types.CallStarted{ChannelID: ch.id, Args: []string{req.AppArgs}})
	t.emit(types.LegAnswered{ChannelID: ch.id})

	select {
	case <-d.Context().Done():
	case <-ctx.Done():
		_ = d.Hangup(context.Background())
	}
}

func (t *SIPTransport) PlayAudio(ctx context.Context, channelID, clip string) error {
	ch, err := t.channel(channelID)
	if err != nil {
		return err
	}
	d, p := t.media(ch)
	if p == nil {
		return fmt.Errorf("channel %s has no media yet", channelID)
	}
	go func() {
		if err := playFile(d.Context(), p, t.cfg.SoundsDir, clip); err != nil {
			t.log.WithField("channel", channelID).WithError(err).Warn("error playing clip")
		}
	}()
	return nil
}

func (t *SIPTransport) CreateBridge(ctx context.Context, typ types.BridgeType, name string) (string, error) {
	b := &sipBridge{
		id:      utils.GenerateBridgeID(),
		typ:     typ,
		name:    name,
		members: make(map[string]struct{}),
	}
	if typ == types.BridgeMixing {
		mix := diago.NewBridge()
		b.mix = &mix
	}
	t.mu.Lock()
	t.bridges[b.id] = b
	t.mu.Unlock()
	return b.id, nil
}

func (t *SIPTransport) AddToBridge(ctx context.Context, bridgeID, channelID string) error {
	t.mu.Lock()
	b, ok := t.bridges[bridgeID]
	ch, chOK := t.channels[channelID]
	t.mu.Unlock()
	if !ok || !chOK {
		return types.ErrNotFound
	}

	d, p := t.media(ch)
	switch b.typ {
	case types.BridgeMixing:
		if d == nil {
			return fmt.Errorf("channel %s has no dialog", channelID)
		}
		t.stopHold(ch)
		t.mu.Lock()
		ch.mixing = true
		t.mu.Unlock()
		if err := b.mix.AddDialogSession(d); err != nil {
			return fmt.Errorf("mix %s: %w", channelID, err)
		}
	case types.BridgeHolding:
		if p == nil {
			return fmt.Errorf("channel %s has no media", channelID)
		}
		t.stopHold(ch)
		clip := t.cfg.HoldMusic
		if b.name == t.cfg.SilentBridge {
			clip = ""
		}
		hctx, stop := context.WithCancel(d.Context())
		t.mu.Lock()
		ch.stopHold = stop
		t.mu.Unlock()
		go func() {
			if err := loopHold(hctx, p, t.cfg.SoundsDir, clip, t.silence); err != nil {
				t.log.WithField("channel", channelID).WithError(err).Warn("hold playback stopped")
			}
		}()
	}

	t.mu.Lock()
	if prev, ok := t.bridges[ch.bridge]; ok {
		delete(prev.members, channelID)
	}
	b.members[channelID] = struct{}{}
	ch.bridge = bridgeID
	t.mu.Unlock()

	t.emit(types.ChannelEnteredBridge{ChannelID: channelID, BridgeID: bridgeID})
	return nil
}

func (t *SIPTransport) RemoveFromBridge(ctx context.Context, bridgeID, channelID string) error {
	t.mu.Lock()
	b, ok := t.bridges[bridgeID]
	ch, chOK := t.channels[channelID]
	if !ok || !chOK {
		t.mu.Unlock()
		return types.ErrNotFound
	}
	if _, member := b.members[channelID]; !member {
		t.mu.Unlock()
		return types.ErrNotFound
	}
	delete(b.members, channelID)
	ch.bridge = ""
	t.mu.Unlock()

	if b.typ == types.BridgeHolding {
		t.stopHold(ch)
	}
	return nil
}

func (t *SIPTransport) DestroyBridge(ctx context.Context, bridgeID string) error {
	t.mu.Lock()
	defer t.mu.Unlock()
	b, ok := t.bridges[bridgeID]
	if !ok {
		return types.ErrNotFound
	}
	for id := range b.members {
		if ch, ok := t.channels[id]; ok {
			ch.bridge = ""
		}
	}
	delete(t.bridges, bridgeID)
	return nil
}

func (t *SIPTransport) Hangup(ctx context.Context, channelID string) error {
	ch, err := t.channel(channelID)
	if err != nil {
		return err
	}
	t.stopHold(ch)

	t.mu.Lock()
	d := ch.dialog()
	cancel := ch.cancel
	t.mu.Unlock()

	if d == nil {
		// agent leg still ringing
		if cancel != nil {
			cancel()
		}
		return nil
	}
	if err := d.Hangup(ctx); err != nil {
		return fmt.Errorf("hangup %s: %w", channelID, err)
	}
	return nil
}

func (t *SIPTransport) channel(id string) (*sipChannel, error) {
	t.mu.Lock()
	defer t.mu.Unlock()
	ch, ok := t.channels[id]
	if !ok {
		return nil, types.ErrNotFound
	}
	return ch, nil
}

func (t *SIPTransport) media(ch *sipChannel) (diago.DialogSession, player) {
	t.mu.Lock()
	defer t.mu.Unlock()
	return ch.dialog(), ch.player()
}

func (t *SIPTransport) stopHold(ch *sipChannel) {
	t.mu.Lock()
	stop := ch.stopHold
	ch.stopHold = nil
	t.mu.Unlock()
	if stop != nil {
		stop()
	}
}

// gone forgets a channel whose dialog ended and reports it.
func (t *SIPTransport) gone(id string) {
	t.mu.Lock()
	ch, ok := t.channels[id]
	if ok {
		delete(t.channels, id)
		if b, ok := t.bridges[ch.bridge]; ok {
			delete(b.members, id)
		}
	}
	t.mu.Unlock()
	if !ok {
		return
	}
	t.stopHold(ch)
	if ch.cancel != nil {
		ch.cancel()
	}
	t.log.WithField("channel", id).Info("channel ended")
	t.emit(types.CallEnded{ChannelID: id})
	t.emit(types.LegDestroyed{ChannelID: id})
}

// emit never blocks: transport commands run on the engine's goroutine, which
// is also the consumer of Events.
func (t *SIPTransport) emit(ev types.Event) {
	t.mu.Lock()
	t.pending = append(t.pending, ev)
	t.mu.Unlock()
	select {
	case t.wake <- struct{}{}:
	default:
	}
}

func (t *SIPTransport) forward(ctx context.Context) {
	for {
		t.mu.Lock()
		evs := t.pending
		t.pending = nil
		t.mu.Unlock()

		for _, ev := range evs {
			select {
			case t.out <- ev:
			case <-ctx.Done():
				return
			}
		}
		if len(evs) > 0 {
			continue
		}
		select {
		case <-t.wake:
		case <-ctx.Done():
			return
		}
	}
}
