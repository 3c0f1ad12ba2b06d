package rtc

import (
	"context"
	"fmt"
	"time"

	"github.com/pion/webrtc/v4"
	"github.com/pion/webrtc/v4/pkg/media"
)

// opusSilence is a canonical 20 ms Opus silence frame.
var opusSilence = []byte{0xf8, 0xff, 0xfe}

const captureFrameDuration = 20 * time.Millisecond

// SilenceCapture is the audio capture source of a headless client: one
// local Opus track fed with silence frames, enough to hold a mesh link
// open and verify the media path. A desktop build would swap in a real
// microphone source behind the same Track/Stop pair.
type SilenceCapture struct {
	track  *webrtc.TrackLocalStaticSample
	cancel context.CancelFunc
}

func NewSilenceCapture(id string) (*SilenceCapture, error) {
	track, err := webrtc.NewTrackLocalStaticSample(
		webrtc.RTPCodecCapability{MimeType: webrtc.MimeTypeOpus},
		"audio", id,
	)
	if err != nil {
		return nil, fmt.Errorf("new local track: %w", err)
	}

	ctx, cancel := context.WithCancel(context.Background())
	c := &SilenceCapture{track: track, cancel: cancel}
	go c.pump(ctx)
	return c, nil
}

func (c *SilenceCapture) pump(ctx context.Context) {
	ticker := time.NewTicker(captureFrameDuration)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			_ = c.track.WriteSample(media.Sample{Data: opusSilence, Duration: captureFrameDuration})
		}
	}
}

func (c *SilenceCapture) Track() webrtc.TrackLocal { return c.track }

func (c *SilenceCapture) Stop() { c.cancel() }
