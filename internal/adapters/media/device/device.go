// Package device captures camera and microphone through pion/mediadevices.
package device

import "errors"

// ErrUnsupported is returned where capture drivers are not built in.
var ErrUnsupported = errors.New("device capture not supported on this platform")

// Options tune the capture.
type Options struct {
	VideoBitRate int
	MaxWidth     int
	MaxHeight    int
}

func (o Options) withDefaults() Options {
	if o.VideoBitRate <= 0 {
		o.VideoBitRate = 1_500_000
	}
	if o.MaxWidth <= 0 {
		o.MaxWidth = 640
	}
	if o.MaxHeight <= 0 {
		o.MaxHeight = 480
	}
	return o
}
