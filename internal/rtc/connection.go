// Package rtc wraps pion behind the small surface the voice mesh needs,
// so the mesh is testable with a fake connection.
package rtc

import (
	"fmt"
	"sync"

	"github.com/pion/webrtc/v4"
	"github.com/rs/zerolog/log"
)

// PeerConnection is one point-to-point connection capability. Callbacks
// must be installed before signaling starts.
type PeerConnection interface {
	// CreateOffer produces and sets the local offer description.
	CreateOffer() (webrtc.SessionDescription, error)
	// CreateAnswer applies the remote offer and produces the local answer.
	CreateAnswer(offer webrtc.SessionDescription) (webrtc.SessionDescription, error)
	// ApplyAnswer sets the remote answer on an offering connection.
	ApplyAnswer(answer webrtc.SessionDescription) error
	AddICECandidate(webrtc.ICECandidateInit) error
	// AddRecvOnlyAudio declares interest in the peer's audio without
	// sending any.
	AddRecvOnlyAudio() error
	AddTrack(track webrtc.TrackLocal) error
	OnICECandidate(fn func(webrtc.ICECandidateInit))
	OnTrack(fn func(*webrtc.TrackRemote))
	OnICEStateChange(fn func(webrtc.ICEConnectionState))
	Close()
}

// Factory builds fresh peer connections; the voice mesh gets one per
// peer link.
type Factory func() (PeerConnection, error)

// NewFactory returns a pion-backed factory. urls may be empty, meaning
// host/LAN-only candidates.
func NewFactory(urls []string) Factory {
	cfg := webrtc.Configuration{}
	if len(urls) > 0 {
		cfg.ICEServers = []webrtc.ICEServer{{URLs: urls}}
	}
	return func() (PeerConnection, error) {
		return NewConnection(cfg)
	}
}

// Conn adapts a pion PeerConnection to the PeerConnection interface.
type Conn struct {
	pc *webrtc.PeerConnection

	mu         sync.Mutex
	onICE      func(webrtc.ICECandidateInit)
	onTrack    func(*webrtc.TrackRemote)
	onICEState func(webrtc.ICEConnectionState)
}

func NewConnection(cfg webrtc.Configuration) (*Conn, error) {
	pc, err := webrtc.NewPeerConnection(cfg)
	if err != nil {
		return nil, fmt.Errorf("new peer connection: %w", err)
	}
	c := &Conn{pc: pc}

	pc.OnICECandidate(func(cand *webrtc.ICECandidate) {
		if cand == nil {
			return
		}
		c.mu.Lock()
		fn := c.onICE
		c.mu.Unlock()
		if fn != nil {
			fn(cand.ToJSON())
		}
	})

	pc.OnTrack(func(track *webrtc.TrackRemote, _ *webrtc.RTPReceiver) {
		log.Info().Str("module", "rtc").Str("kind", track.Kind().String()).Str("stream_id", track.StreamID()).Msg("remote track")
		c.mu.Lock()
		fn := c.onTrack
		c.mu.Unlock()
		if fn != nil {
			fn(track)
		}
	})

	pc.OnICEConnectionStateChange(func(s webrtc.ICEConnectionState) {
		log.Info().Str("module", "rtc").Str("ice_state", s.String()).Msg("ICE state")
		c.mu.Lock()
		fn := c.onICEState
		c.mu.Unlock()
		if fn != nil {
			fn(s)
		}
	})

	return c, nil
}

func (c *Conn) CreateOffer() (webrtc.SessionDescription, error) {
	offer, err := c.pc.CreateOffer(nil)
	if err != nil {
		return webrtc.SessionDescription{}, fmt.Errorf("create offer: %w", err)
	}
	if err := c.pc.SetLocalDescription(offer); err != nil {
		return webrtc.SessionDescription{}, fmt.Errorf("set local description: %w", err)
	}
	return offer, nil
}

func (c *Conn) CreateAnswer(offer webrtc.SessionDescription) (webrtc.SessionDescription, error) {
	if err := c.pc.SetRemoteDescription(offer); err != nil {
		return webrtc.SessionDescription{}, fmt.Errorf("set remote description: %w", err)
	}
	answer, err := c.pc.CreateAnswer(nil)
	if err != nil {
		return webrtc.SessionDescription{}, fmt.Errorf("create answer: %w", err)
	}
	if err := c.pc.SetLocalDescription(answer); err != nil {
		return webrtc.SessionDescription{}, fmt.Errorf("set local description: %w", err)
	}
	return answer, nil
}

func (c *Conn) ApplyAnswer(answer webrtc.SessionDescription) error {
	return c.pc.SetRemoteDescription(answer)
}

func (c *Conn) AddICECandidate(ci webrtc.ICECandidateInit) error {
	return c.pc.AddICECandidate(ci)
}

func (c *Conn) AddRecvOnlyAudio() error {
	_, err := c.pc.AddTransceiverFromKind(webrtc.RTPCodecTypeAudio, webrtc.RTPTransceiverInit{
		Direction: webrtc.RTPTransceiverDirectionRecvonly,
	})
	return err
}

func (c *Conn) AddTrack(track webrtc.TrackLocal) error {
	_, err := c.pc.AddTrack(track)
	return err
}

func (c *Conn) OnICECandidate(fn func(webrtc.ICECandidateInit)) {
	c.mu.Lock()
	c.onICE = fn
	c.mu.Unlock()
}

func (c *Conn) OnTrack(fn func(*webrtc.TrackRemote)) {
	c.mu.Lock()
	c.onTrack = fn
	c.mu.Unlock()
}

func (c *Conn) OnICEStateChange(fn func(webrtc.ICEConnectionState)) {
	c.mu.Lock()
	c.onICEState = fn
	c.mu.Unlock()
}

func (c *Conn) Close() {
	if err := c.pc.Close(); err != nil {
		log.Error().Err(err).Str("module", "rtc").Msg("close error")
	}
}
