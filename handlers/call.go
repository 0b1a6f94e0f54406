package handlers

import (
	"context"
	"errors"

	"github.com/Reverse-Call-Center/acd/queue"
	"github.com/Reverse-Call-Center/acd/types"
	"github.com/sirupsen/logrus"
)

func (e *Engine) onCallerStarted(ctx context.Context, ev types.CallStarted) {
	id := ev.ChannelID
	log := e.log.WithField("channel", id)
	if e.sessions.IsTerminated(id) {
		log.Debug("start event for terminated channel ignored")
		return
	}
	if _, ok := e.sessions.Get(id); ok {
		log.Warn("duplicate start event ignored")
		return
	}

	s, err := e.sessions.Create(id, types.RoleCaller)
	if err != nil {
		log.WithError(err).Warn("cannot register caller")
		return
	}
	s.CallerNumber = ev.CallerNumber
	log.WithField("from", ev.CallerNumber).Info("new call")

	if err := e.tel.Answer(ctx, id); err != nil {
		log.WithError(err).Error("error answering call")
		e.terminate(ctx, id, false, false, "answer failed")
		return
	}
	if err := e.sessions.Transition(s, types.StateAnswered); err != nil {
		log.WithError(err).Error("caller state")
		return
	}
	e.play(ctx, id, e.opts.WelcomeClip)

	e.queue.Enqueue(id)
	if e.pool.Online() == 0 {
		e.observe(id, "No agents online, please call again later")
		e.play(ctx, id, e.opts.NoAgentsClip)
	}
	e.match(ctx)
}

func (e *Engine) onLegStarted(ctx context.Context, ev types.CallStarted) {
	id := ev.ChannelID
	log := e.log.WithField("channel", id)
	if e.sessions.IsTerminated(id) {
		log.Debug("start event for terminated leg ignored")
		return
	}
	callerID, ok := e.legs[id]
	if !ok {
		log.Warn("unknown agent leg, hanging up")
		e.hangup(ctx, id)
		return
	}
	if _, ok := e.sessions.Get(id); ok {
		log.Debug("duplicate leg start ignored")
		return
	}
	e.ensureLeg(id, callerID)
}

func (e *Engine) onLegAnswered(ctx context.Context, ev types.LegAnswered) {
	id := ev.ChannelID
	log := e.log.WithField("channel", id)
	if e.sessions.IsTerminated(id) {
		log.Debug("answer for terminated leg ignored")
		return
	}
	callerID, ok := e.legs[id]
	if !ok {
		log.Warn("answer for unknown leg, hanging up")
		e.hangup(ctx, id)
		return
	}
	p := e.pairings[callerID]
	caller, ok := e.sessions.Get(callerID)
	if p == nil || !ok {
		log.Warn("caller is gone, hanging up agent leg")
		e.hangup(ctx, id)
		return
	}

	leg := e.ensureLeg(id, callerID)
	if leg.State != types.StateDialed {
		log.Debug("duplicate leg answer ignored")
		return
	}
	if err := e.sessions.Transition(leg, types.StateAnswered); err != nil {
		log.WithError(err).Error("agent leg state")
		return
	}
	if p.dialTimer != nil {
		p.dialTimer.Stop()
		p.dialTimer = nil
	}
	e.bridgePair(ctx, p, caller, leg)
}

func (e *Engine) onEnteredBridge(ctx context.Context, ev types.ChannelEnteredBridge) {
	callerID := ev.ChannelID
	if id, ok := e.legs[ev.ChannelID]; ok {
		callerID = id
	}
	p := e.pairings[callerID]
	if p == nil || p.bridge == nil || p.bridge.ID != ev.BridgeID {
		return
	}
	p.confirmed[ev.ChannelID] = true
	e.completeIfConfirmed(p)
}

func (e *Engine) onChannelGone(ctx context.Context, id, reason string) {
	log := e.log.WithField("channel", id)
	if e.sessions.IsTerminated(id) {
		log.Debug("duplicate termination ignored")
		return
	}

	s, ok := e.sessions.Get(id)
	if !ok {
		// a leg can be destroyed before its start event ever arrives
		if callerID, isLeg := e.legs[id]; isLeg {
			e.terminate(ctx, callerID, false, true, reason)
			return
		}
		log.Debug("termination for unknown channel ignored")
		return
	}

	switch s.Role {
	case types.RoleCaller:
		e.terminate(ctx, id, true, false, reason)
	case types.RoleAgentLeg:
		callerID, isLeg := e.legs[id]
		if !isLeg {
			callerID = s.LinkedSessionID
		}
		if _, live := e.pairings[callerID]; live {
			e.terminate(ctx, callerID, false, true, reason)
			return
		}
		e.bridges.Forget(id)
		e.sessions.Terminate(s)
	}
}

func (e *Engine) onDigit(ctx context.Context, ev types.DigitPressed) {
	log := e.log.WithFields(logrus.Fields{"channel": ev.ChannelID, "digit": ev.Digit})
	s, ok := e.sessions.Get(ev.ChannelID)
	if !ok {
		log.Debug("digit for unknown channel ignored")
		return
	}
	if s.Role != types.RoleCaller || s.State != types.StateQueued {
		log.Debugf("digit ignored in state %s", s.State)
		return
	}
	log.Info("caller pressed digit")

	switch ev.Digit {
	case "1":
		e.announcePosition(ctx, s.ID)
	case "2":
		b, err := e.bridges.ToggleHold(ctx, s.ID, e.opts.MusicBridge, e.opts.SilentBridge)
		if err != nil {
			log.WithError(err).Error("hold toggle failed")
			e.terminate(ctx, s.ID, false, false, "hold toggle failed")
			return
		}
		s.BridgeID = b.ID
		e.observe(s.ID, "Hold switched to %s", b.Name)
	}
}

func (e *Engine) announcePosition(ctx context.Context, callerID string) {
	pos, err := e.queue.PositionOf(callerID, e.pool.Online(), e.opts.ProcessingETA)
	switch {
	case errors.Is(err, queue.ErrNoAgentsOnline):
		e.observe(callerID, "No agents online, please call again later")
		e.play(ctx, callerID, e.opts.NoAgentsClip)
		return
	case err != nil:
		e.log.WithField("channel", callerID).WithError(err).Warn("no queue position")
		return
	}
	e.observe(callerID, "You are %d out of %d in the queue. ETA: %s", pos.Pos, pos.Total, pos.ETA)
	e.play(ctx, callerID, e.opts.PositionClip)
}

func (e *Engine) ensureLeg(legID, callerID string) *types.CallSession {
	if leg, ok := e.sessions.Get(legID); ok {
		return leg
	}
	leg, err := e.sessions.Create(legID, types.RoleAgentLeg)
	if err != nil {
		// only reachable for tombstoned ids, which callers filter out
		e.log.WithField("channel", legID).WithError(err).Error("cannot register agent leg")
		return &types.CallSession{ID: legID, Role: types.RoleAgentLeg, State: types.StateTerminated}
	}
	if p := e.pairings[callerID]; p != nil {
		leg.AgentEndpoint = p.agent.Endpoint
	}
	if caller, ok := e.sessions.Get(callerID); ok {
		e.sessions.Link(caller, leg)
	}
	return leg
}

func (e *Engine) play(ctx context.Context, channelID, clip string) {
	if clip == "" {
		return
	}
	if err := e.tel.PlayAudio(ctx, channelID, clip); err != nil {
		e.log.WithFields(logrus.Fields{"channel": channelID, "clip": clip}).WithError(err).Warn("error playing audio")
	}
}

// hangup is best effort: a failure is logged and otherwise ignored.
func (e *Engine) hangup(ctx context.Context, channelID string) {
	if err := e.tel.Hangup(ctx, channelID); err != nil && !errors.Is(err, types.ErrNotFound) {
		e.log.WithField("channel", channelID).WithError(err).Warn("hangup failed")
	}
}
