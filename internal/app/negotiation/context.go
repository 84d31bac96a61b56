// Package negotiation drives the offer/answer/ICE exchange of one call.
//
// A Context is owned by a single goroutine (the orchestrator's control loop)
// and is not safe for concurrent use.
package negotiation

import (
	"errors"
	"fmt"

	"github.com/dkeye/Dial/internal/core"
	"github.com/dkeye/Dial/internal/domain"
	"github.com/dkeye/Dial/internal/protocol"
	"github.com/pion/webrtc/v4"
	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"
)

var (
	ErrClosed       = errors.New("negotiation closed")
	ErrNotAttached  = errors.New("peer connection not attached")
	ErrWrongRole    = errors.New("operation not valid for this call role")
	ErrRestartSpent = errors.New("ice restart already attempted")
)

// Sender delivers an outbound envelope to the signaling transport.
type Sender func(protocol.Envelope) error

type Context struct {
	callID domain.CallID
	remote domain.UserID
	role   domain.CallRole
	send   Sender
	logger zerolog.Logger

	pc     core.PeerConnection
	stream core.LocalStream

	// pending holds remote candidates until a remote description is applied.
	pending   []webrtc.ICECandidateInit
	remoteSet bool
	// heldOffer is an offer that arrived before local media was ready.
	heldOffer *webrtc.SessionDescription

	restarted  bool
	restarting bool
	closed     bool
}

func New(callID domain.CallID, remote domain.UserID, role domain.CallRole, send Sender) *Context {
	return &Context{
		callID: callID,
		remote: remote,
		role:   role,
		send:   send,
		logger: log.With().
			Str("module", "negotiation").
			Str("call_id", string(callID)).
			Str("remote", string(remote)).
			Logger(),
	}
}

func (c *Context) CallID() domain.CallID { return c.callID }

// Ready reports whether local media and the peer connection are attached.
func (c *Context) Ready() bool { return c.pc != nil && !c.closed }

// Pending returns the number of buffered remote candidates.
func (c *Context) Pending() int { return len(c.pending) }

func (c *Context) Closed() bool { return c.closed }

// Attach takes ownership of stream and pc and adds every local track to pc.
// Tracks are attached before any description is created or applied.
func (c *Context) Attach(stream core.LocalStream, pc core.PeerConnection) error {
	if c.closed {
		stream.Stop()
		_ = pc.Close()
		return ErrClosed
	}
	c.stream = stream
	c.pc = pc
	for _, t := range stream.Tracks() {
		if err := pc.AddLocalTrack(t); err != nil {
			return fmt.Errorf("add %s track: %w", t.Kind(), err)
		}
	}
	c.logger.Debug().Int("tracks", len(stream.Tracks())).Msg("local media attached")
	return nil
}

// Offer creates the caller's offer, sets it locally and sends it.
func (c *Context) Offer() error {
	return c.offer(false)
}

func (c *Context) offer(iceRestart bool) error {
	if err := c.usable(); err != nil {
		return err
	}
	if c.role != domain.CallerRole {
		return ErrWrongRole
	}
	sdp, err := c.pc.CreateOffer(iceRestart)
	if err != nil {
		return fmt.Errorf("create offer: %w", err)
	}
	if err := c.send(protocol.NewOffer(c.callID, c.remote, *sdp)); err != nil {
		return fmt.Errorf("send offer: %w", err)
	}
	c.logger.Info().Bool("ice_restart", iceRestart).Msg("offer sent")
	return nil
}

// HoldOffer keeps an offer that arrived before Attach. A later offer replaces it.
func (c *Context) HoldOffer(sdp webrtc.SessionDescription) {
	c.heldOffer = &sdp
	c.logger.Debug().Msg("offer held until local media is ready")
}

// TakeHeldOffer returns and clears the held offer.
func (c *Context) TakeHeldOffer() (webrtc.SessionDescription, bool) {
	if c.heldOffer == nil {
		return webrtc.SessionDescription{}, false
	}
	sdp := *c.heldOffer
	c.heldOffer = nil
	return sdp, true
}

// AcceptOffer applies a remote offer, flushes buffered candidates, then
// creates, sets and sends the answer. It also answers ICE-restart offers on an
// established connection.
func (c *Context) AcceptOffer(sdp webrtc.SessionDescription) error {
	if err := c.usable(); err != nil {
		return err
	}
	if c.role != domain.CalleeRole {
		return ErrWrongRole
	}
	if err := c.applyRemote(sdp); err != nil {
		return err
	}
	answer, err := c.pc.CreateAnswer()
	if err != nil {
		return fmt.Errorf("create answer: %w", err)
	}
	if err := c.send(protocol.NewAnswer(c.callID, c.remote, *answer)); err != nil {
		return fmt.Errorf("send answer: %w", err)
	}
	c.logger.Info().Bool("renegotiation", c.restarting).Msg("answer sent")
	return nil
}

// ApplyAnswer applies the callee's answer and flushes buffered candidates.
func (c *Context) ApplyAnswer(sdp webrtc.SessionDescription) error {
	if err := c.usable(); err != nil {
		return err
	}
	if c.role != domain.CallerRole {
		return ErrWrongRole
	}
	return c.applyRemote(sdp)
}

func (c *Context) applyRemote(sdp webrtc.SessionDescription) error {
	if err := c.pc.SetRemoteDescription(sdp); err != nil {
		return fmt.Errorf("set remote %s: %w", sdp.Type, err)
	}
	c.remoteSet = true
	c.flush()
	return nil
}

// AddRemoteCandidate applies c immediately once a remote description exists,
// otherwise buffers it.
func (c *Context) AddRemoteCandidate(cand webrtc.ICECandidateInit) {
	if c.closed {
		return
	}
	if c.pc == nil || !c.remoteSet {
		c.pending = append(c.pending, cand)
		c.logger.Debug().Int("buffered", len(c.pending)).Msg("remote candidate buffered")
		return
	}
	if err := c.pc.AddICECandidate(cand); err != nil {
		c.logger.Warn().Err(err).Str("candidate", cand.Candidate).Msg("add remote candidate")
	}
}

// flush applies buffered candidates in arrival order. One failure does not
// stop the rest.
func (c *Context) flush() {
	if len(c.pending) == 0 {
		return
	}
	buf := c.pending
	c.pending = nil
	applied := 0
	for _, cand := range buf {
		if err := c.pc.AddICECandidate(cand); err != nil {
			c.logger.Warn().Err(err).Str("candidate", cand.Candidate).Msg("flush remote candidate")
			continue
		}
		applied++
	}
	c.logger.Debug().Int("applied", applied).Int("buffered", len(buf)).Msg("candidates flushed")
}

// SendLocalCandidate forwards a gathered candidate to the remote party.
func (c *Context) SendLocalCandidate(cand webrtc.ICECandidateInit) error {
	if c.closed {
		return ErrClosed
	}
	return c.send(protocol.NewCandidate(c.callID, c.remote, cand))
}

// RestartICE starts the single ICE-restart attempt. The caller sends a
// restart offer on the existing connection; the callee waits for it.
func (c *Context) RestartICE() error {
	if err := c.usable(); err != nil {
		return err
	}
	if c.restarted {
		return ErrRestartSpent
	}
	c.restarted = true
	c.restarting = true
	c.logger.Warn().Str("role", string(c.role)).Msg("connection failed, restarting ice")
	if c.role == domain.CallerRole {
		return c.offer(true)
	}
	return nil
}

// Restarting reports whether an ICE restart is in flight.
func (c *Context) Restarting() bool { return c.restarting }

// Restarted reports whether the ICE restart has been used.
func (c *Context) Restarted() bool { return c.restarted }

// Recovered marks the connection as healthy again.
func (c *Context) Recovered() {
	if c.restarting {
		c.logger.Info().Msg("ice restart recovered")
	}
	c.restarting = false
}

// Close stops local media, closes the peer connection and drops every buffer.
// It is idempotent.
func (c *Context) Close() {
	if c.closed {
		return
	}
	c.closed = true
	if c.stream != nil {
		c.stream.Stop()
	}
	if c.pc != nil {
		if err := c.pc.Close(); err != nil {
			c.logger.Warn().Err(err).Msg("close peer connection")
		}
	}
	c.pending = nil
	c.heldOffer = nil
	c.remoteSet = false
	c.logger.Info().Msg("negotiation closed")
}

func (c *Context) usable() error {
	if c.closed {
		return ErrClosed
	}
	if c.pc == nil {
		return ErrNotAttached
	}
	return nil
}
