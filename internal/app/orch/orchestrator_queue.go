package orch

import (
	"context"
	"slices"

	"github.com/dkeye/Dial/internal/domain"
)

// incoming is a call request that arrived while another call was open.
type incoming struct {
	call   domain.Call
	caller domain.User
}

// Incoming is the public view of a queued request.
type Incoming struct {
	Call   domain.Call
	Caller domain.User
}

func (o *Orchestrator) enqueue(c domain.Call, caller domain.User) {
	c.Phase = domain.PhaseIncomingPending
	o.queue = append(o.queue, incoming{call: c, caller: caller})
	o.logger.Info().
		Str("queued_call_id", string(c.ID)).
		Str("caller", string(caller.ID)).
		Int("queued", len(o.queue)).
		Msg("call request queued")
	if o.hooks.OnIncoming != nil {
		o.hooks.OnIncoming(c, caller)
	}
}

func (o *Orchestrator) queued(id domain.CallID) int {
	return slices.IndexFunc(o.queue, func(in incoming) bool { return in.call.ID == id })
}

// dequeue drops the i-th queued request and reports it as ended in phase to.
func (o *Orchestrator) dequeue(i int, to domain.Phase) {
	in := o.queue[i]
	o.queue = slices.Delete(o.queue, i, i+1)
	in.call.Phase = to
	o.logger.Info().Str("queued_call_id", string(in.call.ID)).Str("to", string(to)).Msg("queued request dropped")
	if o.hooks.OnPhase != nil {
		o.hooks.OnPhase(in.call)
	}
}

// promote makes the oldest queued request the current call once the line is
// free.
func (o *Orchestrator) promote() {
	if o.call != nil || len(o.queue) == 0 {
		return
	}
	in := o.queue[0]
	o.queue = slices.Delete(o.queue, 0, 1)
	o.open(in.call)
	o.transition(domain.PhaseIncomingPending)
	if o.hooks.OnIncoming != nil {
		o.hooks.OnIncoming(*o.call, in.caller)
	}
}

// Pending returns the queued requests, oldest first.
func (o *Orchestrator) Pending(ctx context.Context) ([]Incoming, error) {
	var out []Incoming
	err := o.do(ctx, func() error {
		for _, in := range o.queue {
			out = append(out, Incoming{Call: in.call, Caller: in.caller})
		}
		return nil
	})
	return out, err
}
