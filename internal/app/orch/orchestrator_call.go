package orch

import (
	"context"
	"fmt"
	"time"

	"github.com/dkeye/Dial/internal/app/billing"
	"github.com/dkeye/Dial/internal/app/chat"
	"github.com/dkeye/Dial/internal/domain"
	"github.com/dkeye/Dial/internal/protocol"
)

// Call places a call to remote, which must be online.
func (o *Orchestrator) Call(ctx context.Context, remote domain.UserID) (domain.CallID, error) {
	var id domain.CallID
	err := o.do(ctx, func() error {
		if o.call != nil {
			return ErrCallInProgress
		}
		if remote == o.self {
			return ErrSelfCall
		}
		if err := domain.ValidateUserID(remote); err != nil {
			return err
		}
		apiCtx, cancel := o.apiContext(ctx)
		defer cancel()

		status, err := o.deps.API.Presence(apiCtx, remote)
		if err != nil {
			return fmt.Errorf("presence of %s: %w", remote, err)
		}
		if status != domain.PresenceOnline {
			return fmt.Errorf("%w: %s is %s", ErrNotAvailable, remote, status)
		}
		callID, err := o.deps.API.Initiate(apiCtx, remote)
		if err != nil {
			return fmt.Errorf("initiate call: %w", err)
		}
		o.open(domain.Call{ID: callID, Local: o.self, Remote: remote, Role: domain.CallerRole})
		o.transition(domain.PhaseOutgoingPending)
		o.armTimeout()
		id = callID
		return nil
	})
	return id, err
}

// Accept answers the current incoming call. A queued request cannot be
// accepted until the current call is over.
func (o *Orchestrator) Accept(ctx context.Context, id domain.CallID) error {
	return o.do(ctx, func() error {
		if o.call == nil || o.call.ID != id {
			if o.queued(id) >= 0 {
				return ErrCallInProgress
			}
			return ErrUnknownCall
		}
		if o.call.Phase != domain.PhaseIncomingPending {
			return fmt.Errorf("%w: accept in %s", domain.ErrInvalidTransition, o.call.Phase)
		}
		apiCtx, cancel := o.apiContext(ctx)
		defer cancel()
		if err := o.deps.API.Accept(apiCtx, id); err != nil {
			return fmt.Errorf("accept call: %w", err)
		}
		o.call.StartedAt = time.Now()
		o.beginNegotiation()
		return nil
	})
}

// Reject dismisses an incoming request, current or queued. Nothing is sent to
// the caller.
func (o *Orchestrator) Reject(ctx context.Context, id domain.CallID) error {
	return o.do(ctx, func() error {
		if i := o.queued(id); i >= 0 {
			o.dequeue(i, domain.PhaseRejected)
			return nil
		}
		if o.call == nil || o.call.ID != id {
			return ErrUnknownCall
		}
		if o.call.Phase != domain.PhaseIncomingPending {
			return fmt.Errorf("%w: reject in %s", domain.ErrInvalidTransition, o.call.Phase)
		}
		o.finish(domain.PhaseRejected, nil)
		return nil
	})
}

// End hangs up the current call. It is a no-op without one. Local teardown
// happens even when the collaborator cannot be reached.
func (o *Orchestrator) End(ctx context.Context) error {
	return o.do(ctx, func() error {
		if o.call == nil {
			return nil
		}
		return o.hangup(ctx)
	})
}

// hangup settles the call with the collaborator and tears it down as ended.
func (o *Orchestrator) hangup(ctx context.Context) error {
	id := o.call.ID
	apiCtx, cancel := o.apiContext(ctx)
	defer cancel()
	res, err := o.deps.API.End(apiCtx, id)
	o.finish(domain.PhaseEnded, nil)
	if err != nil {
		err = fmt.Errorf("end call: %w", err)
		o.report(err)
		return err
	}
	if o.hooks.OnCallEnded != nil {
		o.hooks.OnCallEnded(billing.FromResult(id, res))
	}
	return nil
}

// SendChat sends a text message to the current remote. The entry is in the
// local transcript before the send is attempted.
func (o *Orchestrator) SendChat(ctx context.Context, text string) error {
	msg, err := chat.CheckMessage(text)
	if err != nil {
		return err
	}
	return o.do(ctx, func() error {
		if o.call == nil {
			return ErrNoCall
		}
		o.echo(domain.ChatEntry{From: o.self, Timestamp: time.Now(), Message: msg})
		env := protocol.NewChat(o.call.Remote, msg)
		env.CallID = o.call.ID
		return o.deps.Transport.Send(env)
	})
}

// SendFile sends an attachment to the current remote. Size and type are
// checked here; the receiver does not check them again.
func (o *Orchestrator) SendFile(ctx context.Context, name string, data []byte) error {
	att, err := chat.NewAttachment(name, data)
	if err != nil {
		return err
	}
	return o.do(ctx, func() error {
		if o.call == nil {
			return ErrNoCall
		}
		o.echo(domain.ChatEntry{From: o.self, Timestamp: time.Now(), File: &att})
		env := protocol.NewFile(o.call.Remote, att)
		env.CallID = o.call.ID
		return o.deps.Transport.Send(env)
	})
}

func (o *Orchestrator) echo(e domain.ChatEntry) {
	if err := o.transcript.Append(e); err != nil {
		o.callLogger().Warn().Err(err).Msg("chat entry dropped")
		return
	}
	if o.hooks.OnChat != nil {
		o.hooks.OnChat(e)
	}
}

// Snapshot returns a copy of the current call.
func (o *Orchestrator) Snapshot(ctx context.Context) (domain.Call, bool, error) {
	var (
		c  domain.Call
		ok bool
	)
	err := o.do(ctx, func() error {
		if o.call != nil {
			c, ok = *o.call, true
		}
		return nil
	})
	return c, ok, err
}

// Transcript returns the chat entries of the current call.
func (o *Orchestrator) Transcript(ctx context.Context) ([]domain.ChatEntry, error) {
	var out []domain.ChatEntry
	err := o.do(ctx, func() error {
		out = o.transcript.Entries()
		return nil
	})
	return out, err
}

// open makes c the current call. c starts idle.
func (o *Orchestrator) open(c domain.Call) {
	c.Phase = domain.PhaseIdle
	o.gen++
	o.call = &c
	o.early = nil
	o.earlyOffer = nil
	o.transcript.Clear()
}

func (o *Orchestrator) transition(to domain.Phase) {
	from := o.call.Phase
	if err := o.call.Transition(to); err != nil {
		o.callLogger().Error().Err(err).Str("from", string(from)).Str("to", string(to)).Msg("refused transition")
		return
	}
	o.callLogger().Info().Str("from", string(from)).Str("to", string(to)).Msg("phase")
	if to == domain.PhaseActive {
		o.disarmTimeout()
	}
	o.notifyPhase()
}

// finish moves the current call to a terminal phase and tears it down. It is
// safe from any phase and a no-op without a call.
func (o *Orchestrator) finish(to domain.Phase, cause error) {
	if o.call == nil {
		return
	}
	from := o.call.Phase
	if err := o.call.Transition(to); err != nil {
		// Teardown is unconditional.
		o.callLogger().Warn().Err(err).Str("from", string(from)).Str("to", string(to)).Msg("forced terminal phase")
		o.call.Phase = to
	}
	o.callLogger().Info().Str("from", string(from)).Str("to", string(to)).Msg("phase")

	o.disarmTimeout()
	o.disarmRestart()
	if o.neg != nil {
		o.neg.Close()
		o.neg = nil
	}
	o.early = nil
	o.earlyOffer = nil
	o.transcript.Clear()

	o.notifyPhase()
	if cause != nil {
		o.report(cause)
	}
	o.call = nil
	o.promote()
}
