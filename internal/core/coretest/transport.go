package coretest

import (
	"context"
	"slices"
	"sync"

	"github.com/dkeye/Dial/internal/core"
	"github.com/dkeye/Dial/internal/domain"
	"github.com/dkeye/Dial/internal/protocol"
)

// Transport records sent envelopes and lets tests inject inbound ones.
type Transport struct {
	in chan protocol.Envelope

	mu     sync.Mutex
	sent   []protocol.Envelope
	closed bool
}

func NewTransport() *Transport {
	return &Transport{in: make(chan protocol.Envelope, 64)}
}

func (t *Transport) Send(env protocol.Envelope) error {
	t.mu.Lock()
	defer t.mu.Unlock()
	if t.closed {
		return core.ErrTransportClosed
	}
	t.sent = append(t.sent, env)
	return nil
}

func (t *Transport) Inbound() <-chan protocol.Envelope { return t.in }

// Deliver queues an inbound envelope.
func (t *Transport) Deliver(env protocol.Envelope) { t.in <- env }

// Pending reports how many inbound envelopes the reader has not taken yet.
func (t *Transport) Pending() int { return len(t.in) }

// Drop closes the inbound channel and fails further sends.
func (t *Transport) Drop() {
	t.mu.Lock()
	defer t.mu.Unlock()
	if t.closed {
		return
	}
	t.closed = true
	close(t.in)
}

func (t *Transport) Sent() []protocol.Envelope {
	t.mu.Lock()
	defer t.mu.Unlock()
	return slices.Clone(t.sent)
}

// SentOf returns sent envelopes of one type, in order.
func (t *Transport) SentOf(typ protocol.Type) []protocol.Envelope {
	t.mu.Lock()
	defer t.mu.Unlock()
	var out []protocol.Envelope
	for _, env := range t.sent {
		if env.Type == typ {
			out = append(out, env)
		}
	}
	return out
}

// CallAPI is an in-memory call-management collaborator.
type CallAPI struct {
	mu       sync.Mutex
	presence map[domain.UserID]domain.Presence
	calls    []string

	NextID      domain.CallID
	Result      core.EndResult
	InitiateErr error
	AcceptErr   error
	EndErr      error
}

func NewCallAPI() *CallAPI {
	return &CallAPI{presence: make(map[domain.UserID]domain.Presence), NextID: "c1"}
}

func (a *CallAPI) SetPresence(id domain.UserID, p domain.Presence) {
	a.mu.Lock()
	defer a.mu.Unlock()
	a.presence[id] = p
}

func (a *CallAPI) Initiate(_ context.Context, remote domain.UserID) (domain.CallID, error) {
	a.mu.Lock()
	defer a.mu.Unlock()
	a.calls = append(a.calls, "initiate:"+string(remote))
	if a.InitiateErr != nil {
		return "", a.InitiateErr
	}
	return a.NextID, nil
}

func (a *CallAPI) Accept(_ context.Context, id domain.CallID) error {
	a.mu.Lock()
	defer a.mu.Unlock()
	a.calls = append(a.calls, "accept:"+string(id))
	return a.AcceptErr
}

func (a *CallAPI) End(_ context.Context, id domain.CallID) (core.EndResult, error) {
	a.mu.Lock()
	defer a.mu.Unlock()
	a.calls = append(a.calls, "end:"+string(id))
	if a.EndErr != nil {
		return core.EndResult{}, a.EndErr
	}
	return a.Result, nil
}

func (a *CallAPI) Presence(_ context.Context, id domain.UserID) (domain.Presence, error) {
	a.mu.Lock()
	defer a.mu.Unlock()
	a.calls = append(a.calls, "presence:"+string(id))
	if p, ok := a.presence[id]; ok {
		return p, nil
	}
	return domain.PresenceOffline, nil
}

// Calls returns the collaborator operations in order, as "op:arg".
func (a *CallAPI) Calls() []string {
	a.mu.Lock()
	defer a.mu.Unlock()
	return slices.Clone(a.calls)
}
