package handlers

import (
	"context"

	"github.com/Reverse-Call-Center/acd/agents"
	"github.com/Reverse-Call-Center/acd/types"
	"github.com/sirupsen/logrus"
)

// match pairs the oldest waiting callers with available agents, then parks
// whoever is still waiting on the music holding bridge. It always starts from
// the queue head, never from the caller that triggered it.
func (e *Engine) match(ctx context.Context) {
	for {
		callerID, ok := e.queue.Next()
		if !ok {
			break
		}
		agent := e.pool.FindAvailable()
		if agent == nil {
			break
		}
		caller, ok := e.sessions.Get(callerID)
		if !ok {
			e.queue.Remove(callerID)
			continue
		}
		if !e.dial(ctx, agent, caller) {
			break
		}
	}
	e.parkWaiting(ctx)
}

func (e *Engine) parkWaiting(ctx context.Context) {
	for _, entry := range e.queue.Entries() {
		if !entry.Waiting() {
			continue
		}
		s, ok := e.sessions.Get(entry.SessionID)
		if !ok || s.State != types.StateAnswered {
			continue
		}
		log := e.log.WithField("channel", s.ID)
		if err := e.sessions.Transition(s, types.StateQueued); err != nil {
			log.WithError(err).Error("caller state")
			continue
		}
		b, err := e.bridges.AttachHolding(ctx, s.ID, e.opts.MusicBridge)
		if err != nil {
			log.WithError(err).Error("cannot place caller on hold")
			e.terminate(ctx, s.ID, false, false, "hold failed")
			continue
		}
		s.BridgeID = b.ID
		log.Info("no available agents, caller queued")
		if pos, err := e.queue.PositionOf(s.ID, e.pool.Online(), e.opts.ProcessingETA); err == nil {
			e.observe(s.ID, "You are %d out of %d in the queue. ETA: %s", pos.Pos, pos.Total, pos.ETA)
		}
	}
}

// dial originates the agent leg for caller. It reports false when the
// origination failed and the caller was dropped.
func (e *Engine) dial(ctx context.Context, agent *agents.Agent, caller *types.CallSession) bool {
	e.attempts++
	p := &pairing{
		attempt:   e.attempts,
		callerID:  caller.ID,
		agent:     agent,
		confirmed: make(map[string]bool, 2),
	}
	log := e.log.WithFields(logrus.Fields{"channel": caller.ID, "agent": agent.Endpoint})

	e.pool.MarkBusy(agent, caller.ID)
	e.agentsChanged()
	if err := e.queue.Assign(caller.ID, agent.Endpoint); err != nil {
		log.WithError(err).Warn("dialed caller missing from queue")
	}
	if err := e.sessions.Transition(caller, types.StateDialing); err != nil {
		log.WithError(err).Error("caller state")
	}
	caller.AgentEndpoint = agent.Endpoint
	e.pairings[caller.ID] = p

	log.Info("dialing agent")
	legID, err := e.tel.Originate(ctx, types.OriginateRequest{
		Endpoint: agent.Endpoint,
		App:      e.opts.App,
		AppArgs:  types.DialedArg,
		CallerID: e.opts.CallerIDLabel,
	})
	if err != nil {
		log.WithError(err).Error("failed to originate agent call")
		e.terminate(ctx, caller.ID, false, false, "originate failed")
		return false
	}

	p.legID = legID
	caller.LinkedSessionID = legID
	e.legs[legID] = caller.ID
	attempt := p.attempt
	p.dialTimer = e.afterFunc(e.opts.DialTimeout, func(ctx context.Context) {
		e.expire(ctx, caller.ID, attempt, "agent did not answer")
	})
	return true
}

// bridgePair moves both legs into a fresh mixing bridge. Any failure tears the
// pairing down; a half-populated bridge is never kept.
func (e *Engine) bridgePair(ctx context.Context, p *pairing, caller, leg *types.CallSession) {
	log := e.log.WithFields(logrus.Fields{"channel": caller.ID, "leg": leg.ID})

	b, err := e.bridges.CreateMixingBridge(ctx)
	if err != nil {
		log.WithError(err).Error("cannot create mixing bridge")
		e.terminate(ctx, caller.ID, false, false, "bridge create failed")
		return
	}
	p.bridge = b

	if held, ok := e.bridges.BridgeOf(caller.ID); ok {
		if err := e.bridges.Detach(ctx, caller.ID, held); err != nil {
			log.WithError(err).Error("cannot take caller off hold")
			e.terminate(ctx, caller.ID, false, false, "hold release failed")
			return
		}
		caller.BridgeID = ""
	}
	for _, s := range []*types.CallSession{caller, leg} {
		if err := e.bridges.Attach(ctx, s.ID, b); err != nil {
			log.WithError(err).Errorf("cannot add %s to mixing bridge", s.ID)
			e.terminate(ctx, caller.ID, false, false, "bridge add failed")
			return
		}
		s.BridgeID = b.ID
	}

	attempt := p.attempt
	p.confirmTimer = e.afterFunc(e.opts.BridgeConfirmTimeout, func(ctx context.Context) {
		e.expire(ctx, caller.ID, attempt, "bridge not confirmed")
	})
	e.completeIfConfirmed(p)
}

// completeIfConfirmed declares the pairing bridged once the transport has
// confirmed both legs in the mixing bridge.
func (e *Engine) completeIfConfirmed(p *pairing) {
	if p.bridged || !p.confirmed[p.callerID] || !p.confirmed[p.legID] {
		return
	}
	caller, ok := e.sessions.Get(p.callerID)
	if !ok {
		return
	}
	leg, ok := e.sessions.Get(p.legID)
	if !ok {
		return
	}
	if p.confirmTimer != nil {
		p.confirmTimer.Stop()
		p.confirmTimer = nil
	}
	p.bridged = true
	if err := e.queue.MarkBridged(caller.ID); err != nil {
		e.log.WithField("channel", caller.ID).WithError(err).Warn("bridged caller missing from queue")
	}
	for _, s := range []*types.CallSession{caller, leg} {
		if err := e.sessions.Transition(s, types.StateBridged); err != nil {
			e.log.WithField("channel", s.ID).WithError(err).Error("bridged state")
		}
	}
	e.log.WithFields(logrus.Fields{"channel": caller.ID, "leg": leg.ID, "agent": p.agent.Endpoint, "bridge": p.bridge.ID}).
		Info("connected caller to agent")
	e.observe(caller.ID, "Connected to agent %s", p.agent.Endpoint)
}

// expire runs the failure path for a pairing whose timer fired, unless the
// pairing moved on since the timer was set.
func (e *Engine) expire(ctx context.Context, callerID string, attempt uint64, reason string) {
	p := e.pairings[callerID]
	if p == nil || p.attempt != attempt || p.bridged {
		return
	}
	e.log.WithFields(logrus.Fields{"channel": callerID, "agent": p.agent.Endpoint}).Warn(reason)
	e.terminate(ctx, callerID, false, false, reason)
}

// terminate ends a caller and everything paired with it: the agent leg is hung
// up, the mixing bridge destroyed, the agent released and the caller purged
// from queue and bridge bookkeeping. callerGone and legGone mark channels the
// transport already tore down, which are not hung up again.
func (e *Engine) terminate(ctx context.Context, callerID string, callerGone, legGone bool, reason string) {
	log := e.log.WithFields(logrus.Fields{"channel": callerID, "reason": reason})

	if p := e.pairings[callerID]; p != nil {
		delete(e.pairings, callerID)
		if p.dialTimer != nil {
			p.dialTimer.Stop()
		}
		if p.confirmTimer != nil {
			p.confirmTimer.Stop()
		}
		if p.bridge != nil {
			if err := e.bridges.DestroyBridge(ctx, p.bridge); err != nil {
				log.WithError(err).Warn("error destroying mixing bridge")
			}
		}
		if p.legID != "" {
			delete(e.legs, p.legID)
			if !legGone {
				e.hangup(ctx, p.legID)
			}
			e.bridges.Forget(p.legID)
			if leg, ok := e.sessions.Get(p.legID); ok {
				e.sessions.Terminate(leg)
			} else {
				e.sessions.Bury(p.legID)
			}
		}
		e.releaseAgent(p.agent)
	}

	caller, ok := e.sessions.Get(callerID)
	if !ok {
		return
	}
	e.queue.Remove(callerID)
	if !callerGone {
		e.hangup(ctx, callerID)
	}
	e.bridges.Forget(callerID)
	e.sessions.Terminate(caller)
	log.Infof("call %s ended", callerID)
}

func (e *Engine) releaseAgent(agent *agents.Agent) {
	if e.retiring[agent.Endpoint] {
		delete(e.retiring, agent.Endpoint)
		e.pool.MarkOffline(agent)
		e.log.WithField("agent", agent.Endpoint).Info("agent offline")
	} else {
		e.pool.MarkAvailable(agent)
		e.log.WithField("agent", agent.Endpoint).Info("agent available")
	}
	e.agentsChanged()
	e.scheduleRematch()
}

// scheduleRematch runs matching after the settle delay. One pending rematch
// covers any number of freed agents.
func (e *Engine) scheduleRematch() {
	if e.rematch != nil {
		return
	}
	e.rematch = e.afterFunc(e.opts.RematchDelay, func(ctx context.Context) {
		e.rematch = nil
		e.match(ctx)
	})
}
