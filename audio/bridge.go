package audio

import (
	"context"
	"errors"
	"fmt"
	"sort"

	"github.com/Reverse-Call-Center/acd/types"
	"github.com/sirupsen/logrus"
)

var (
	ErrBridgeFull = errors.New("mixing bridge already has two members")
	ErrNotHeld    = errors.New("channel is not in a holding bridge")
)

// Bridge is the local record of a transport bridge.
type Bridge struct {
	ID      string
	Type    types.BridgeType
	Name    string
	Members map[string]struct{}
}

// Len returns the number of member channels.
func (b *Bridge) Len() int {
	return len(b.Members)
}

func (b *Bridge) Has(channelID string) bool {
	_, ok := b.Members[channelID]
	return ok
}

// MemberIDs returns the member channel ids, sorted.
func (b *Bridge) MemberIDs() []string {
	ids := make([]string, 0, len(b.Members))
	for id := range b.Members {
		ids = append(ids, id)
	}
	sort.Strings(ids)
	return ids
}

func (b *Bridge) clone() Bridge {
	c := *b
	c.Members = make(map[string]struct{}, len(b.Members))
	for id := range b.Members {
		c.Members[id] = struct{}{}
	}
	return c
}

// Orchestrator creates and mutates bridges through the transport and tracks
// which bridge each channel is in. A channel is in at most one bridge. It is
// not safe for concurrent use.
type Orchestrator struct {
	tel      types.Telephony
	bridges  map[string]*Bridge
	holding  map[string]*Bridge
	channels map[string]*Bridge
	log      *logrus.Entry
}

func NewOrchestrator(tel types.Telephony, log *logrus.Entry) *Orchestrator {
	return &Orchestrator{
		tel:      tel,
		bridges:  make(map[string]*Bridge),
		holding:  make(map[string]*Bridge),
		channels: make(map[string]*Bridge),
		log:      log,
	}
}

// EnsureHoldingBridge returns the holding bridge called name, creating it on
// first use.
func (o *Orchestrator) EnsureHoldingBridge(ctx context.Context, name string) (*Bridge, error) {
	if b, ok := o.holding[name]; ok {
		return b, nil
	}
	id, err := o.tel.CreateBridge(ctx, types.BridgeHolding, name)
	if err != nil {
		return nil, fmt.Errorf("create holding bridge %s: %w", name, err)
	}
	b := &Bridge{ID: id, Type: types.BridgeHolding, Name: name, Members: make(map[string]struct{})}
	o.bridges[id] = b
	o.holding[name] = b
	o.log.WithFields(logrus.Fields{"bridge": id, "name": name}).Info("holding bridge created")
	return b, nil
}

// CreateMixingBridge creates an anonymous bridge for one connected call.
func (o *Orchestrator) CreateMixingBridge(ctx context.Context) (*Bridge, error) {
	id, err := o.tel.CreateBridge(ctx, types.BridgeMixing, "")
	if err != nil {
		return nil, fmt.Errorf("create mixing bridge: %w", err)
	}
	b := &Bridge{ID: id, Type: types.BridgeMixing, Members: make(map[string]struct{})}
	o.bridges[id] = b
	return b, nil
}

// Attach adds channelID to b. The channel must not be in another bridge, and a
// mixing bridge never takes a third member.
func (o *Orchestrator) Attach(ctx context.Context, channelID string, b *Bridge) error {
	if cur, ok := o.channels[channelID]; ok {
		if cur == b {
			return nil
		}
		return fmt.Errorf("channel %s is still in bridge %s", channelID, cur.ID)
	}
	if b.Type == types.BridgeMixing && b.Len() >= 2 {
		return ErrBridgeFull
	}
	if err := o.tel.AddToBridge(ctx, b.ID, channelID); err != nil {
		return fmt.Errorf("add %s to bridge %s: %w", channelID, b.ID, err)
	}
	b.Members[channelID] = struct{}{}
	o.channels[channelID] = b
	return nil
}

// AttachHolding places channelID in the named holding bridge. A cached bridge
// the transport no longer knows is recreated once.
func (o *Orchestrator) AttachHolding(ctx context.Context, channelID, name string) (*Bridge, error) {
	b, err := o.EnsureHoldingBridge(ctx, name)
	if err != nil {
		return nil, err
	}
	err = o.Attach(ctx, channelID, b)
	if errors.Is(err, types.ErrNotFound) {
		o.log.WithField("bridge", b.ID).Warn("holding bridge vanished, recreating")
		o.drop(b)
		if b, err = o.EnsureHoldingBridge(ctx, name); err != nil {
			return nil, err
		}
		err = o.Attach(ctx, channelID, b)
	}
	if err != nil {
		return nil, err
	}
	return b, nil
}

// Detach removes channelID from b. A bridge or channel the transport no longer
// knows counts as detached.
func (o *Orchestrator) Detach(ctx context.Context, channelID string, b *Bridge) error {
	if o.channels[channelID] != b {
		return nil
	}
	err := o.tel.RemoveFromBridge(ctx, b.ID, channelID)
	if err != nil && !errors.Is(err, types.ErrNotFound) {
		return fmt.Errorf("remove %s from bridge %s: %w", channelID, b.ID, err)
	}
	o.Forget(channelID)
	return nil
}

// ToggleHold moves a held channel from one holding variant to the other and
// returns the bridge it ended up in. On error the channel may be in neither
// bridge and must be torn down by the caller.
func (o *Orchestrator) ToggleHold(ctx context.Context, channelID, music, silent string) (*Bridge, error) {
	cur, ok := o.channels[channelID]
	if !ok || cur.Type != types.BridgeHolding {
		return nil, ErrNotHeld
	}
	target := music
	if cur.Name == music {
		target = silent
	}
	if _, err := o.EnsureHoldingBridge(ctx, target); err != nil {
		return nil, err
	}
	if err := o.Detach(ctx, channelID, cur); err != nil {
		return nil, err
	}
	return o.AttachHolding(ctx, channelID, target)
}

// DestroyBridge destroys b on the transport and forgets it and its members.
// A bridge already gone on the transport side is not an error.
func (o *Orchestrator) DestroyBridge(ctx context.Context, b *Bridge) error {
	o.drop(b)
	if err := o.tel.DestroyBridge(ctx, b.ID); err != nil && !errors.Is(err, types.ErrNotFound) {
		return fmt.Errorf("destroy bridge %s: %w", b.ID, err)
	}
	return nil
}

// Forget drops channelID's membership without a transport command, for
// channels that are already gone.
func (o *Orchestrator) Forget(channelID string) {
	b, ok := o.channels[channelID]
	if !ok {
		return
	}
	delete(b.Members, channelID)
	delete(o.channels, channelID)
}

// BridgeOf returns the bridge channelID is in.
func (o *Orchestrator) BridgeOf(channelID string) (*Bridge, bool) {
	b, ok := o.channels[channelID]
	return b, ok
}

func (o *Orchestrator) Get(id string) (*Bridge, bool) {
	b, ok := o.bridges[id]
	return b, ok
}

// Holding returns the holding bridge called name, if it was created.
func (o *Orchestrator) Holding(name string) (*Bridge, bool) {
	b, ok := o.holding[name]
	return b, ok
}

// Bridges returns copies of every known bridge.
func (o *Orchestrator) Bridges() []Bridge {
	out := make([]Bridge, 0, len(o.bridges))
	for _, b := range o.bridges {
		out = append(out, b.clone())
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ID < out[j].ID })
	return out
}

func (o *Orchestrator) drop(b *Bridge) {
	for id := range b.Members {
		delete(o.channels, id)
	}
	b.Members = make(map[string]struct{})
	delete(o.bridges, b.ID)
	if o.holding[b.Name] == b {
		delete(o.holding, b.Name)
	}
}
