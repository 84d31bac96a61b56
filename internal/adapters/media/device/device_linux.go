//go:build linux && cgo

package device

import (
	"context"
	"fmt"
	"sync"

	"github.com/dkeye/Dial/internal/core"
	"github.com/pion/mediadevices"
	"github.com/pion/mediadevices/pkg/codec/opus"
	"github.com/pion/mediadevices/pkg/codec/vpx"
	_ "github.com/pion/mediadevices/pkg/driver/camera"
	_ "github.com/pion/mediadevices/pkg/driver/microphone"
	"github.com/pion/mediadevices/pkg/frame"
	"github.com/pion/mediadevices/pkg/prop"
	"github.com/pion/webrtc/v4"
	"github.com/rs/zerolog/log"
)

// Source captures VP8 video and Opus audio. Its codec selector must populate
// the media engine of the peer connections the tracks are added to.
type Source struct {
	opts     Options
	selector *mediadevices.CodecSelector
}

func New(opts Options) (*Source, error) {
	opts = opts.withDefaults()

	vpxParams, err := vpx.NewVP8Params()
	if err != nil {
		return nil, fmt.Errorf("vp8 params: %w", err)
	}
	vpxParams.BitRate = opts.VideoBitRate

	opusParams, err := opus.NewParams()
	if err != nil {
		return nil, fmt.Errorf("opus params: %w", err)
	}

	return &Source{
		opts: opts,
		selector: mediadevices.NewCodecSelector(
			mediadevices.WithVideoEncoders(&vpxParams),
			mediadevices.WithAudioEncoders(&opusParams),
		),
	}, nil
}

// Populate registers the capture codecs on me.
func (s *Source) Populate(me *webrtc.MediaEngine) {
	s.selector.Populate(me)
}

// Acquire tries video+audio, then video only, then audio only.
func (s *Source) Acquire(ctx context.Context) (core.LocalStream, error) {
	logger := log.With().Str("module", "media.device").Logger()

	devices := mediadevices.EnumerateDevices()
	if len(devices) == 0 {
		return nil, fmt.Errorf("%w: no capture devices", core.ErrMediaUnavailable)
	}
	for _, d := range devices {
		logger.Debug().Str("kind", fmt.Sprint(d.Kind)).Str("label", d.Label).Msg("media device")
	}

	attempts := []struct {
		video, audio bool
		label        string
	}{
		{true, true, "video+audio"},
		{true, false, "video-only"},
		{false, true, "audio-only"},
	}

	var lastErr error
	for _, a := range attempts {
		if err := ctx.Err(); err != nil {
			return nil, err
		}
		constraints := mediadevices.MediaStreamConstraints{Codec: s.selector}
		if a.video {
			constraints.Video = func(c *mediadevices.MediaTrackConstraints) {
				c.FrameFormat = prop.FrameFormatOneOf{
					frame.FormatYUYV,
					frame.FormatI420,
					frame.FormatI444,
					frame.FormatRGBA,
				}
				c.Width = prop.IntRanged{Max: s.opts.MaxWidth}
				c.Height = prop.IntRanged{Max: s.opts.MaxHeight}
			}
		}
		if a.audio {
			constraints.Audio = func(*mediadevices.MediaTrackConstraints) {}
		}

		ms, err := mediadevices.GetUserMedia(constraints)
		if err != nil {
			logger.Warn().Err(err).Str("attempt", a.label).Msg("GetUserMedia failed")
			lastErr = err
			continue
		}
		tracks := ms.GetTracks()
		for _, t := range tracks {
			t.OnEnded(func(err error) {
				if err != nil {
					logger.Warn().Err(err).Str("track", t.ID()).Msg("local track ended")
				}
			})
		}
		logger.Info().Str("attempt", a.label).Int("tracks", len(tracks)).Msg("local media captured")
		return &stream{tracks: tracks}, nil
	}
	return nil, fmt.Errorf("%w: %w", core.ErrMediaUnavailable, lastErr)
}

type stream struct {
	tracks []mediadevices.Track
	once   sync.Once
}

func (s *stream) Tracks() []webrtc.TrackLocal {
	out := make([]webrtc.TrackLocal, 0, len(s.tracks))
	for _, t := range s.tracks {
		out = append(out, t)
	}
	return out
}

func (s *stream) Stop() {
	s.once.Do(func() {
		for _, t := range s.tracks {
			if err := t.Close(); err != nil {
				log.Debug().Err(err).Str("module", "media.device").Msg("close track")
			}
		}
	})
}
