package orch

import (
	"context"
	"fmt"
	"time"

	"github.com/dkeye/Dial/internal/app/negotiation"
	"github.com/dkeye/Dial/internal/core"
	"github.com/dkeye/Dial/internal/domain"
	"github.com/pion/webrtc/v4"
)

// beginNegotiation enters negotiating, allocates the negotiation context and
// starts media acquisition off the loop.
func (o *Orchestrator) beginNegotiation() {
	o.transition(domain.PhaseNegotiating)
	o.neg = negotiation.New(o.call.ID, o.call.Remote, o.call.Role, o.deps.Transport.Send)
	for _, c := range o.early {
		o.neg.AddRemoteCandidate(c)
	}
	o.early = nil
	if o.earlyOffer != nil {
		o.neg.HoldOffer(*o.earlyOffer)
		o.earlyOffer = nil
	}
	o.armTimeout()

	gen := o.gen
	ctx := o.runCtx
	go func() {
		stream, err := o.deps.Media.Acquire(ctx)
		if !o.post(func() { o.onMedia(gen, stream, err) }) && stream != nil {
			stream.Stop()
		}
	}()
}

// onMedia continues negotiation once local media resolves. A result for a
// call that has moved on is released at once.
func (o *Orchestrator) onMedia(gen uint64, stream core.LocalStream, err error) {
	if !o.current(gen) || o.neg == nil {
		if stream != nil {
			stream.Stop()
		}
		o.logger.Debug().Msg("stale media result released")
		return
	}
	if err != nil {
		// Nothing has been sent to the remote yet.
		o.finish(domain.PhaseFailed, fmt.Errorf("acquire media: %w", err))
		return
	}
	pc, err := o.deps.Peers.NewPeerConnection()
	if err != nil {
		stream.Stop()
		o.finish(domain.PhaseFailed, fmt.Errorf("new peer connection: %w", err))
		return
	}
	o.wire(gen, pc)
	if err := o.neg.Attach(stream, pc); err != nil {
		o.finish(domain.PhaseFailed, fmt.Errorf("attach media: %w", err))
		return
	}

	if o.call.Role == domain.CallerRole {
		if err := o.neg.Offer(); err != nil {
			o.finish(domain.PhaseFailed, err)
		}
		return
	}
	if sdp, ok := o.neg.TakeHeldOffer(); ok {
		o.answer(sdp)
	}
}

// answer applies an offer on the callee side and replies. A failure on the
// first offer fails the call; a failed restart offer is only reported.
func (o *Orchestrator) answer(sdp webrtc.SessionDescription) {
	if err := o.neg.AcceptOffer(sdp); err != nil {
		err = fmt.Errorf("apply offer: %w", err)
		if o.call.Phase == domain.PhaseNegotiating {
			o.finish(domain.PhaseFailed, err)
			return
		}
		o.report(err)
		return
	}
	if o.call.Phase == domain.PhaseNegotiating {
		o.transition(domain.PhaseActive)
	}
}

// wire routes peer connection callbacks onto the loop, tagged with gen.
func (o *Orchestrator) wire(gen uint64, pc core.PeerConnection) {
	pc.OnICECandidate(func(c webrtc.ICECandidateInit) {
		o.post(func() {
			if !o.current(gen) || o.neg == nil {
				return
			}
			if err := o.neg.SendLocalCandidate(c); err != nil {
				o.callLogger().Warn().Err(err).Msg("send local candidate")
			}
		})
	})
	pc.OnConnectionStateChange(func(s webrtc.PeerConnectionState) {
		o.post(func() { o.onConnectionState(gen, s) })
	})
	pc.OnTrack(func(ctx context.Context, track *webrtc.TrackRemote, receiver *webrtc.RTPReceiver) {
		o.post(func() {
			if !o.current(gen) {
				return
			}
			o.callLogger().Info().Str("kind", track.Kind().String()).Str("track_id", track.ID()).Msg("remote track")
			if o.hooks.OnRemoteTrack != nil {
				o.hooks.OnRemoteTrack(ctx, track, receiver)
			}
		})
	})
}

func (o *Orchestrator) onConnectionState(gen uint64, s webrtc.PeerConnectionState) {
	if !o.current(gen) || o.neg == nil {
		return
	}
	o.callLogger().Info().Str("peer_connection_state", s.String()).Msg("peer state")
	switch s {
	case webrtc.PeerConnectionStateConnected:
		o.disarmRestart()
		o.neg.Recovered()
	case webrtc.PeerConnectionStateFailed:
		if o.neg.Restarted() {
			o.finish(domain.PhaseFailed, ErrConnectionFailed)
			return
		}
		if err := o.neg.RestartICE(); err != nil {
			o.finish(domain.PhaseFailed, fmt.Errorf("%w: ice restart: %w", ErrConnectionFailed, err))
			return
		}
		o.armRestart()
	}
}

func (o *Orchestrator) armTimeout() {
	o.disarmTimeout()
	gen := o.gen
	o.timeout = time.AfterFunc(o.cfg.NegotiationTimeout, func() {
		o.post(func() { o.onTimeout(gen) })
	})
}

func (o *Orchestrator) disarmTimeout() {
	if o.timeout != nil {
		o.timeout.Stop()
		o.timeout = nil
	}
}

// onTimeout fails a call stuck before active and tells the collaborator, so
// the remote side is released too.
func (o *Orchestrator) onTimeout(gen uint64) {
	if !o.current(gen) {
		return
	}
	switch o.call.Phase {
	case domain.PhaseOutgoingPending, domain.PhaseNegotiating:
	default:
		return
	}
	ctx, cancel := o.apiContext(context.Background())
	defer cancel()
	if _, err := o.deps.API.End(ctx, o.call.ID); err != nil {
		o.callLogger().Warn().Err(err).Msg("end after timeout")
	}
	o.finish(domain.PhaseFailed, ErrNegotiationTimeout)
}

func (o *Orchestrator) armRestart() {
	o.disarmRestart()
	gen := o.gen
	o.restartTimer = time.AfterFunc(o.cfg.ICERestartGrace, func() {
		o.post(func() {
			if !o.current(gen) || o.neg == nil || !o.neg.Restarting() {
				return
			}
			o.finish(domain.PhaseFailed, fmt.Errorf("%w: no recovery after ice restart", ErrConnectionFailed))
		})
	})
}

func (o *Orchestrator) disarmRestart() {
	if o.restartTimer != nil {
		o.restartTimer.Stop()
		o.restartTimer = nil
	}
}
