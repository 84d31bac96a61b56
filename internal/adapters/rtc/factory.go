// Package rtc adapts pion/webrtc to the peer connection port and fans remote
// media out to local sinks.
package rtc

import (
	"fmt"

	"github.com/dkeye/Dial/internal/core"
	"github.com/google/uuid"
	"github.com/pion/interceptor"
	"github.com/pion/webrtc/v4"
)

// Codecs registers the codecs a media source produces. A
// mediadevices.CodecSelector satisfies it.
type Codecs interface {
	Populate(*webrtc.MediaEngine)
}

// Factory builds peer connections sharing one pion API.
type Factory struct {
	api *webrtc.API
	cfg webrtc.Configuration
}

// DefaultWebRTCConfig is STUN only.
func DefaultWebRTCConfig(stun []string) webrtc.Configuration {
	if len(stun) == 0 {
		return webrtc.Configuration{}
	}
	return webrtc.Configuration{
		ICEServers: []webrtc.ICEServer{{URLs: stun}},
	}
}

// NewFactory builds a factory. With nil codecs the pion default codecs are
// registered.
func NewFactory(stun []string, codecs Codecs) (*Factory, error) {
	me := &webrtc.MediaEngine{}
	if codecs != nil {
		codecs.Populate(me)
	} else if err := me.RegisterDefaultCodecs(); err != nil {
		return nil, fmt.Errorf("register codecs: %w", err)
	}

	reg := &interceptor.Registry{}
	if err := webrtc.RegisterDefaultInterceptors(me, reg); err != nil {
		return nil, fmt.Errorf("register interceptors: %w", err)
	}

	return &Factory{
		api: webrtc.NewAPI(webrtc.WithMediaEngine(me), webrtc.WithInterceptorRegistry(reg)),
		cfg: DefaultWebRTCConfig(stun),
	}, nil
}

func (f *Factory) NewPeerConnection() (core.PeerConnection, error) {
	return f.NewWebRTCConnection()
}

func (f *Factory) NewWebRTCConnection() (*WebRTCConnection, error) {
	pc, err := f.api.NewPeerConnection(f.cfg)
	if err != nil {
		return nil, err
	}
	return newWebRTCConnection(pc, uuid.NewString()), nil
}
