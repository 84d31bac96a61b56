package rtc

import (
	"context"
	"sync"
	"sync/atomic"

	"github.com/pion/webrtc/v4"
	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"
)

// WebRTCConnection adapts a pion peer connection to core.PeerConnection.
// Callbacks may be set at any time; they run on pion's goroutines.
type WebRTCConnection struct {
	pc     *webrtc.PeerConnection
	id     string
	logger zerolog.Logger

	ctx    context.Context
	cancel context.CancelFunc
	closed atomic.Bool

	mu      sync.RWMutex
	onICE   func(webrtc.ICECandidateInit)
	onTrack func(ctx context.Context, track *webrtc.TrackRemote, receiver *webrtc.RTPReceiver)
	onState func(webrtc.PeerConnectionState)
}

func newWebRTCConnection(pc *webrtc.PeerConnection, id string) *WebRTCConnection {
	ctx, cancel := context.WithCancel(context.Background())
	c := &WebRTCConnection{
		pc:     pc,
		id:     id,
		logger: log.With().Str("module", "webrtc").Str("pc", id).Logger(),
		ctx:    ctx,
		cancel: cancel,
	}
	c.start()
	return c
}

func (c *WebRTCConnection) start() {
	c.pc.OnICEConnectionStateChange(func(s webrtc.ICEConnectionState) {
		c.logger.Debug().Str("ice_state", s.String()).Msg("ICE state")
	})

	c.pc.OnConnectionStateChange(func(s webrtc.PeerConnectionState) {
		c.logger.Info().Str("peer_connection_state", s.String()).Msg("Peer state")
		if s == webrtc.PeerConnectionStateClosed {
			c.cancel()
		}
		c.mu.RLock()
		fn := c.onState
		c.mu.RUnlock()
		if fn != nil {
			fn(s)
		}
	})

	c.pc.OnICECandidate(func(cand *webrtc.ICECandidate) {
		if cand == nil {
			return
		}
		c.mu.RLock()
		fn := c.onICE
		c.mu.RUnlock()
		if fn != nil {
			fn(cand.ToJSON())
		}
	})

	c.pc.OnTrack(func(track *webrtc.TrackRemote, receiver *webrtc.RTPReceiver) {
		c.logger.Info().
			Str("kind", track.Kind().String()).
			Str("track_id", track.ID()).
			Str("stream_id", track.StreamID()).
			Msg("OnTrack received")
		c.mu.RLock()
		fn := c.onTrack
		c.mu.RUnlock()
		if fn != nil {
			fn(c.ctx, track, receiver)
		}
	})
}

// AddLocalTrack attaches a local track to the PeerConnection.
func (c *WebRTCConnection) AddLocalTrack(track webrtc.TrackLocal) error {
	_, err := c.pc.AddTrack(track)
	return err
}

func (c *WebRTCConnection) SetRemoteDescription(sd webrtc.SessionDescription) error {
	return c.pc.SetRemoteDescription(sd)
}

// CreateOffer creates an offer and sets it as the local description. The
// offer always asks to receive audio and video.
func (c *WebRTCConnection) CreateOffer(iceRestart bool) (*webrtc.SessionDescription, error) {
	if err := c.ensureReceive(); err != nil {
		return nil, err
	}
	var opts *webrtc.OfferOptions
	if iceRestart {
		opts = &webrtc.OfferOptions{ICERestart: true}
	}
	offer, err := c.pc.CreateOffer(opts)
	if err != nil {
		return nil, err
	}
	if err := c.pc.SetLocalDescription(offer); err != nil {
		return nil, err
	}
	return &offer, nil
}

// CreateAnswer creates an answer and sets it as the local description.
func (c *WebRTCConnection) CreateAnswer() (*webrtc.SessionDescription, error) {
	answer, err := c.pc.CreateAnswer(nil)
	if err != nil {
		return nil, err
	}
	if err := c.pc.SetLocalDescription(answer); err != nil {
		return nil, err
	}
	return &answer, nil
}

// ensureReceive adds a receive-only transceiver for each kind without one.
func (c *WebRTCConnection) ensureReceive() error {
	have := map[webrtc.RTPCodecType]bool{}
	for _, t := range c.pc.GetTransceivers() {
		have[t.Kind()] = true
	}
	for _, kind := range []webrtc.RTPCodecType{webrtc.RTPCodecTypeAudio, webrtc.RTPCodecTypeVideo} {
		if have[kind] {
			continue
		}
		if _, err := c.pc.AddTransceiverFromKind(kind, webrtc.RTPTransceiverInit{
			Direction: webrtc.RTPTransceiverDirectionRecvonly,
		}); err != nil {
			return err
		}
	}
	return nil
}

func (c *WebRTCConnection) AddICECandidate(ci webrtc.ICECandidateInit) error {
	return c.pc.AddICECandidate(ci)
}

func (c *WebRTCConnection) LocalDescription() *webrtc.SessionDescription {
	return c.pc.LocalDescription()
}

func (c *WebRTCConnection) OnICECandidate(fn func(webrtc.ICECandidateInit)) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.onICE = fn
}

// OnTrack sets application-level callback for remote tracks. ctx ends when the
// connection closes.
func (c *WebRTCConnection) OnTrack(fn func(ctx context.Context, track *webrtc.TrackRemote, receiver *webrtc.RTPReceiver)) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.onTrack = fn
}

func (c *WebRTCConnection) OnConnectionStateChange(fn func(webrtc.PeerConnectionState)) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.onState = fn
}

// Close is idempotent.
func (c *WebRTCConnection) Close() error {
	if c.closed.Swap(true) {
		return nil
	}
	c.cancel()
	if err := c.pc.Close(); err != nil {
		c.logger.Error().Err(err).Msg("close error")
		return err
	}
	c.logger.Info().Msg("closed")
	return nil
}

func (c *WebRTCConnection) IsClosed() bool {
	return c.closed.Load()
}
