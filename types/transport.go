package types

import (
	"context"
	"errors"
)

// ErrNotFound is returned by a Telephony when the referenced channel or bridge
// no longer exists on the transport side.
var ErrNotFound = errors.New("not found")

// BridgeType selects how a bridge treats its members.
type BridgeType string

const (
	BridgeMixing  BridgeType = "mixing"
	BridgeHolding BridgeType = "holding"
)

// OriginateRequest describes an outbound agent leg.
type OriginateRequest struct {
	Endpoint string
	App      string
	AppArgs  string
	CallerID string
}

// Telephony is the command side of the telephony control plane. Every method is
// a blocking round trip and may fail.
type Telephony interface {
	Answer(ctx context.Context, channelID string) error
	Originate(ctx context.Context, req OriginateRequest) (string, error)
	PlayAudio(ctx context.Context, channelID, clip string) error
	CreateBridge(ctx context.Context, typ BridgeType, name string) (string, error)
	AddToBridge(ctx context.Context, bridgeID, channelID string) error
	RemoveFromBridge(ctx context.Context, bridgeID, channelID string) error
	DestroyBridge(ctx context.Context, bridgeID string) error
	Hangup(ctx context.Context, channelID string) error
}
