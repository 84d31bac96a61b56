package orch

import (
	"fmt"
	"time"

	"github.com/dkeye/Dial/internal/app/billing"
	"github.com/dkeye/Dial/internal/domain"
	"github.com/dkeye/Dial/internal/protocol"
)

func (o *Orchestrator) dispatch(env protocol.Envelope) {
	if err := env.Validate(); err != nil {
		o.logger.Debug().Err(err).Msg("invalid envelope ignored")
		return
	}
	switch env.Type {
	case protocol.TypeCallRequest:
		o.onCallRequest(env)
	case protocol.TypeCallAccepted:
		o.onCallAccepted(env)
	case protocol.TypeOffer:
		o.onOffer(env)
	case protocol.TypeAnswer:
		o.onAnswer(env)
	case protocol.TypeICECandidate:
		o.onCandidate(env)
	case protocol.TypeChatMessage, protocol.TypeFileMessage:
		o.onChat(env)
	case protocol.TypeCallEnded:
		o.onCallEnded(env)
	case protocol.TypeError:
		o.report(fmt.Errorf("%w: %s", ErrRelay, env.Error))
	case protocol.TypePong:
		o.logger.Debug().Msg("pong")
	default:
		o.logger.Debug().Str("type", string(env.Type)).Msg("unknown envelope ignored")
	}
}

// fromPartner reports whether env belongs to the current call: sent by its
// remote party and, when it names a call, naming this one.
func (o *Orchestrator) fromPartner(env protocol.Envelope) bool {
	if o.call == nil {
		o.logger.Debug().Str("type", string(env.Type)).Msg("no call, envelope ignored")
		return false
	}
	if env.From != o.call.Remote || (env.CallID != "" && env.CallID != o.call.ID) {
		o.callLogger().Debug().
			Str("type", string(env.Type)).
			Str("from", string(env.From)).
			Str("env_call_id", string(env.CallID)).
			Msg("envelope for another call ignored")
		return false
	}
	return true
}

func (o *Orchestrator) onCallRequest(env protocol.Envelope) {
	caller := *env.Caller
	if caller.ID == "" || caller.ID == o.self {
		o.logger.Debug().Str("caller", string(caller.ID)).Msg("call_request with bad caller ignored")
		return
	}
	c := domain.Call{ID: env.CallID, Local: o.self, Remote: caller.ID, Role: domain.CalleeRole}

	if o.call != nil {
		if o.call.ID == env.CallID || o.queued(env.CallID) >= 0 {
			o.callLogger().Debug().Msg("duplicate call_request ignored")
			return
		}
		o.enqueue(c, caller)
		return
	}
	o.open(c)
	o.transition(domain.PhaseIncomingPending)
	if o.hooks.OnIncoming != nil {
		o.hooks.OnIncoming(*o.call, caller)
	}
}

func (o *Orchestrator) onCallAccepted(env protocol.Envelope) {
	if o.call == nil || env.CallID != o.call.ID {
		o.logger.Debug().Str("env_call_id", string(env.CallID)).Msg("call_accepted for unknown call")
		return
	}
	if o.call.Role != domain.CallerRole || o.call.Phase != domain.PhaseOutgoingPending {
		o.callLogger().Debug().Str("phase", string(o.call.Phase)).Msg("call_accepted ignored")
		return
	}
	o.call.StartedAt = time.Now()
	o.beginNegotiation()
}

// onOffer handles the callee side: the first offer, or an ICE-restart offer
// once active.
func (o *Orchestrator) onOffer(env protocol.Envelope) {
	if !o.fromPartner(env) {
		return
	}
	if o.call.Role != domain.CalleeRole {
		o.callLogger().Warn().Str("phase", string(o.call.Phase)).Msg("offer ignored")
		return
	}
	if o.neg == nil {
		if o.call.Phase != domain.PhaseIncomingPending {
			o.callLogger().Warn().Str("phase", string(o.call.Phase)).Msg("offer ignored")
			return
		}
		// Accept still in flight: hold until the context exists.
		o.earlyOffer = env.SDP
		return
	}
	if !o.neg.Ready() {
		o.neg.HoldOffer(*env.SDP)
		return
	}
	o.answer(*env.SDP)
}

func (o *Orchestrator) onAnswer(env protocol.Envelope) {
	if !o.fromPartner(env) {
		return
	}
	if o.call.Role != domain.CallerRole || o.neg == nil || !o.neg.Ready() {
		o.callLogger().Debug().Str("phase", string(o.call.Phase)).Msg("answer ignored")
		return
	}
	// A bad answer is reported and left to the connection state monitor.
	if err := o.neg.ApplyAnswer(*env.SDP); err != nil {
		o.report(fmt.Errorf("apply answer: %w", err))
		return
	}
	if o.call.Phase == domain.PhaseNegotiating {
		o.transition(domain.PhaseActive)
	}
}

func (o *Orchestrator) onCandidate(env protocol.Envelope) {
	if !o.fromPartner(env) {
		return
	}
	if o.neg == nil {
		// Accept still in flight: hold until the context exists.
		o.early = append(o.early, *env.Candidate)
		return
	}
	o.neg.AddRemoteCandidate(*env.Candidate)
}

func (o *Orchestrator) onChat(env protocol.Envelope) {
	if !o.fromPartner(env) {
		return
	}
	e := domain.ChatEntry{From: env.From, Timestamp: time.Now(), Message: env.Message, File: env.File}
	if env.Timestamp != nil {
		e.Timestamp = *env.Timestamp
	}
	if err := o.transcript.Append(e); err != nil {
		o.callLogger().Debug().Err(err).Msg("chat entry ignored")
		return
	}
	if o.hooks.OnChat != nil {
		o.hooks.OnChat(e)
	}
}

func (o *Orchestrator) onCallEnded(env protocol.Envelope) {
	if env.CallID != "" {
		if i := o.queued(env.CallID); i >= 0 {
			o.dequeue(i, domain.PhaseCancelled)
			return
		}
	}
	if o.call == nil || (env.CallID != "" && env.CallID != o.call.ID) {
		o.logger.Debug().Str("env_call_id", string(env.CallID)).Msg("call_ended for unknown call")
		return
	}
	receipt := billing.FromEnvelope(o.call.ID, env)
	// The caller gave up before this side accepted.
	if o.call.Phase == domain.PhaseIncomingPending {
		o.finish(domain.PhaseCancelled, nil)
		return
	}
	o.finish(domain.PhaseEnded, nil)
	if o.hooks.OnCallEnded != nil {
		o.hooks.OnCallEnded(receipt)
	}
}
