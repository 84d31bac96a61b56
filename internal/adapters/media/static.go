// Package media provides local stream sources that need no capture hardware.
package media

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/dkeye/Dial/internal/core"
	"github.com/google/uuid"
	"github.com/pion/webrtc/v4"
	"github.com/pion/webrtc/v4/pkg/media"
	"github.com/rs/zerolog/log"
)

const (
	audioFrame = 20 * time.Millisecond
	videoFrame = 33 * time.Millisecond
)

var (
	// Opus TOC for a 20ms silence frame.
	opusSilence = []byte{0xf8, 0xff, 0xfe}
	// VP8 key frame header of a 2x2 picture.
	vp8Key = []byte{0x10, 0x02, 0x00, 0x9d, 0x01, 0x2a, 0x02, 0x00, 0x02, 0x00}
)

// Static produces synthetic opus and vp8 sample tracks. It lets headless agents
// take part in calls.
type Static struct{}

func (Static) Acquire(ctx context.Context) (core.LocalStream, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	id := uuid.NewString()
	audio, err := webrtc.NewTrackLocalStaticSample(
		webrtc.RTPCodecCapability{MimeType: webrtc.MimeTypeOpus, ClockRate: 48000, Channels: 2}, "audio", id)
	if err != nil {
		return nil, fmt.Errorf("%w: audio track: %w", core.ErrMediaUnavailable, err)
	}
	video, err := webrtc.NewTrackLocalStaticSample(
		webrtc.RTPCodecCapability{MimeType: webrtc.MimeTypeVP8, ClockRate: 90000}, "video", id)
	if err != nil {
		return nil, fmt.Errorf("%w: video track: %w", core.ErrMediaUnavailable, err)
	}

	s := &StaticStream{
		id:    id,
		audio: audio,
		video: video,
		stop:  make(chan struct{}),
	}
	s.wg.Add(2)
	go s.pump(audio, opusSilence, audioFrame)
	go s.pump(video, vp8Key, videoFrame)
	log.Debug().Str("module", "media").Str("stream", id).Msg("static stream started")
	return s, nil
}

// StaticStream is the stream handed out by Static.
type StaticStream struct {
	id    string
	audio *webrtc.TrackLocalStaticSample
	video *webrtc.TrackLocalStaticSample

	stop     chan struct{}
	stopOnce sync.Once
	wg       sync.WaitGroup
}

func (s *StaticStream) ID() string { return s.id }

func (s *StaticStream) Tracks() []webrtc.TrackLocal {
	return []webrtc.TrackLocal{s.audio, s.video}
}

// Stop ends both pumps and waits for them.
func (s *StaticStream) Stop() {
	s.stopOnce.Do(func() {
		close(s.stop)
		s.wg.Wait()
		log.Debug().Str("module", "media").Str("stream", s.id).Msg("static stream stopped")
	})
}

func (s *StaticStream) pump(track *webrtc.TrackLocalStaticSample, payload []byte, every time.Duration) {
	defer s.wg.Done()
	ticker := time.NewTicker(every)
	defer ticker.Stop()
	for {
		select {
		case <-s.stop:
			return
		case <-ticker.C:
			// Unbound tracks drop samples without error.
			if err := track.WriteSample(media.Sample{Data: payload, Duration: every}); err != nil {
				log.Warn().Err(err).Str("module", "media").Str("track", track.ID()).Msg("write sample failed")
				return
			}
		}
	}
}
