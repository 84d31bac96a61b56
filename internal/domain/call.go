package domain

import (
	"errors"
	"time"
)

var ErrInvalidTransition = errors.New("invalid call phase transition")

type CallID string

// CallRole is the local side of a call.
type CallRole string

const (
	CallerRole CallRole = "caller"
	CalleeRole CallRole = "callee"
)

type Phase string

const (
	PhaseIdle            Phase = "idle"
	PhaseOutgoingPending Phase = "outgoing_pending"
	PhaseIncomingPending Phase = "incoming_pending"
	PhaseNegotiating     Phase = "negotiating"
	PhaseActive          Phase = "active"
	PhaseEnded           Phase = "ended"
	PhaseRejected        Phase = "rejected"
	PhaseCancelled       Phase = "cancelled"
	PhaseFailed          Phase = "failed"
)

var transitions = map[Phase][]Phase{
	PhaseIdle:            {PhaseOutgoingPending, PhaseIncomingPending},
	PhaseOutgoingPending: {PhaseNegotiating, PhaseEnded, PhaseCancelled, PhaseFailed},
	PhaseIncomingPending: {PhaseNegotiating, PhaseRejected, PhaseCancelled, PhaseEnded, PhaseFailed},
	PhaseNegotiating:     {PhaseActive, PhaseEnded, PhaseFailed},
	PhaseActive:          {PhaseEnded, PhaseFailed},
}

// CanTransition reports whether a call may move from one phase to another.
// Terminal phases have no outgoing edges.
func CanTransition(from, to Phase) bool {
	for _, p := range transitions[from] {
		if p == to {
			return true
		}
	}
	return false
}

func (p Phase) Terminal() bool {
	switch p {
	case PhaseEnded, PhaseRejected, PhaseCancelled, PhaseFailed:
		return true
	}
	return false
}

// Negotiating reports whether a call in phase p owns a negotiation context.
func (p Phase) Negotiating() bool {
	return p == PhaseNegotiating || p == PhaseActive
}

func (p Phase) String() string { return string(p) }

// Call is the local record of one 1:1 call. It is discarded once Phase is terminal.
type Call struct {
	ID        CallID    `json:"call_id"`
	Local     UserID    `json:"local_id"`
	Remote    UserID    `json:"remote_id"`
	Role      CallRole  `json:"role"`
	Phase     Phase     `json:"phase"`
	StartedAt time.Time `json:"started_at,omitzero"`
}

func (c *Call) Transition(to Phase) error {
	if !CanTransition(c.Phase, to) {
		return ErrInvalidTransition
	}
	c.Phase = to
	return nil
}
