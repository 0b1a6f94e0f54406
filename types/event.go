package types

// DialedArg is the application argument carried by agent legs the distributor
// originates, so their start event can be told apart from an inbound caller.
const DialedArg = "dialed"

// Event is one inbound notification from the telephony control plane. The set
// of implementations is closed; the dispatcher switches over all of them.
type Event interface {
	Channel() string
	event()
}

// CallStarted is raised when a channel enters the application.
type CallStarted struct {
	ChannelID    string
	Args         []string
	CallerNumber string
}

// IsAgentLeg reports whether the channel is a leg originated towards an agent.
func (e CallStarted) IsAgentLeg() bool {
	return len(e.Args) > 0 && e.Args[0] == DialedArg
}

// CallEnded is raised when a channel leaves the application.
type CallEnded struct {
	ChannelID string
}

// DigitPressed carries one DTMF digit.
type DigitPressed struct {
	ChannelID string
	Digit     string
}

// LegAnswered is raised when an originated agent leg is answered.
type LegAnswered struct {
	ChannelID string
}

// LegDestroyed is raised when the channel is gone on the transport side.
type LegDestroyed struct {
	ChannelID string
}

// ChannelEnteredBridge confirms that the transport placed a channel in a bridge.
type ChannelEnteredBridge struct {
	ChannelID string
	BridgeID  string
}

func (e CallStarted) Channel() string          { return e.ChannelID }
func (e CallEnded) Channel() string            { return e.ChannelID }
func (e DigitPressed) Channel() string         { return e.ChannelID }
func (e LegAnswered) Channel() string          { return e.ChannelID }
func (e LegDestroyed) Channel() string         { return e.ChannelID }
func (e ChannelEnteredBridge) Channel() string { return e.ChannelID }

func (CallStarted) event()          {}
func (CallEnded) event()            {}
func (DigitPressed) event()         {}
func (LegAnswered) event()          {}
func (LegDestroyed) event()         {}
func (ChannelEnteredBridge) event() {}
