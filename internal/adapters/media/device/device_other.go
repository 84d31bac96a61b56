//go:build !linux || !cgo

package device

import (
	"context"
	"fmt"

	"github.com/dkeye/Dial/internal/core"
	"github.com/pion/webrtc/v4"
)

type Source struct{}

func New(Options) (*Source, error) {
	return &Source{}, nil
}

func (s *Source) Populate(me *webrtc.MediaEngine) {
	_ = me.RegisterDefaultCodecs()
}

func (s *Source) Acquire(context.Context) (core.LocalStream, error) {
	return nil, fmt.Errorf("%w: %w", core.ErrMediaUnavailable, ErrUnsupported)
}
