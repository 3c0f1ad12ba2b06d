// Package voice maintains a full mesh of point-to-point audio links
// among the participants who opted into voice. The relay carries only
// signaling; media flows peer to peer.
package voice

import (
	"errors"
	"fmt"
	"sync"

	"github.com/pion/webrtc/v4"
	"github.com/rs/zerolog/log"

	"github.com/dkeye/Watch/internal/domain"
	"github.com/dkeye/Watch/internal/protocol"
	"github.com/dkeye/Watch/internal/rtc"
)

// ErrCapture reports a capability failure acquiring the local audio
// source. Voice state is left unchanged when it occurs.
var ErrCapture = errors.New("audio capture unavailable")

// CaptureSource is one local audio-only capture capability.
type CaptureSource interface {
	Track() webrtc.TrackLocal
	Stop()
}

// Mesh exclusively owns the PeerLink map. Links are created and
// destroyed only through open/close below; handlers never touch the map
// directly. Envelope emission goes through emit because trickle ICE
// candidates surface asynchronously from pion.
type Mesh struct {
	self    domain.ParticipantID
	newConn rtc.Factory
	acquire func() (CaptureSource, error)
	emit    func(protocol.Envelope)

	onStream     func(peer domain.ParticipantID, track *webrtc.TrackRemote)
	onStreamGone func(peer domain.ParticipantID)

	mu      sync.Mutex
	links   map[domain.ParticipantID]*PeerLink
	capture CaptureSource
}

type MeshConfig struct {
	Self    domain.ParticipantID
	NewConn rtc.Factory
	Acquire func() (CaptureSource, error)
	Emit    func(protocol.Envelope)
	// OnStream publishes a remote audio track keyed by the peer that
	// produced it; OnStreamGone retracts it.
	OnStream     func(peer domain.ParticipantID, track *webrtc.TrackRemote)
	OnStreamGone func(peer domain.ParticipantID)
}

func NewMesh(cfg MeshConfig) *Mesh {
	return &Mesh{
		self:         cfg.Self,
		newConn:      cfg.NewConn,
		acquire:      cfg.Acquire,
		emit:         cfg.Emit,
		onStream:     cfg.OnStream,
		onStreamGone: cfg.OnStreamGone,
		links:        make(map[domain.ParticipantID]*PeerLink),
	}
}

// Enable acquires the local capture source and announces voice entry.
// On capture failure nothing changes: no announcement, no links.
func (m *Mesh) Enable() error {
	m.mu.Lock()
	if m.capture != nil {
		m.mu.Unlock()
		return nil
	}
	src, err := m.acquire()
	if err != nil {
		m.mu.Unlock()
		return fmt.Errorf("%w: %v", ErrCapture, err)
	}
	m.capture = src
	m.mu.Unlock()

	log.Info().Str("module", "voice").Msg("voice enabled")
	m.emit(protocol.Envelope{Type: protocol.TypeJoinVoice})
	return nil
}

// Disable is a hard reset: stop capturing, close every link, clear all
// remote stream state. Partial teardown is a defect, so this never
// negotiates per peer.
func (m *Mesh) Disable() {
	m.mu.Lock()
	if m.capture != nil {
		m.capture.Stop()
		m.capture = nil
	}
	peers := make([]domain.ParticipantID, 0, len(m.links))
	for peer := range m.links {
		peers = append(peers, peer)
	}
	m.mu.Unlock()

	for _, peer := range peers {
		m.closeLink(peer)
	}
	log.Info().Str("module", "voice").Msg("voice disabled")
}

// Close tears the mesh down on session end.
func (m *Mesh) Close() { m.Disable() }

func (m *Mesh) Enabled() bool {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.capture != nil
}

// Linked reports whether a live PeerLink to peer exists.
func (m *Mesh) Linked(peer domain.ParticipantID) bool {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.links[peer] != nil
}

// LinkState reports the lifecycle state of the link to peer.
func (m *Mesh) LinkState(peer domain.ParticipantID) (LinkState, bool) {
	m.mu.Lock()
	defer m.mu.Unlock()
	link, ok := m.links[peer]
	if !ok {
		return LinkClosed, false
	}
	return link.State(), true
}

// Peers lists the participants with a live link.
func (m *Mesh) Peers() []domain.ParticipantID {
	m.mu.Lock()
	defer m.mu.Unlock()
	out := make([]domain.ParticipantID, 0, len(m.links))
	for _, link := range m.links {
		out = append(out, link.Remote())
	}
	return out
}

// HandleJoinVoice reacts to a participant entering voice: the existing
// participants call the newcomer, never the other way around, which
// avoids duplicate mutual offers in the common two-party join.
func (m *Mesh) HandleJoinVoice(sender domain.ParticipantID) {
	if sender == m.self || sender == "" {
		return
	}
	link, err := m.openLink(sender)
	if err != nil {
		log.Error().Err(err).Str("module", "voice").Str("peer", string(sender)).Msg("open link")
		return
	}
	if err := link.conn.AddRecvOnlyAudio(); err != nil {
		log.Error().Err(err).Str("module", "voice").Str("peer", string(sender)).Msg("add recvonly transceiver")
		m.closeLink(sender)
		return
	}
	offer, err := link.conn.CreateOffer()
	if err != nil {
		log.Error().Err(err).Str("module", "voice").Str("peer", string(sender)).Msg("create offer")
		m.closeLink(sender)
		return
	}
	log.Info().Str("module", "voice").Str("peer", string(sender)).Msg("calling peer")
	m.emit(protocol.NewOffer(sender, offer))
}

// HandleOffer answers an offer targeted at self.
func (m *Mesh) HandleOffer(sender domain.ParticipantID, env protocol.Envelope) {
	offer, err := env.DecodeOffer()
	if err != nil {
		log.Error().Err(err).Str("module", "voice").Str("peer", string(sender)).Msg("bad offer payload")
		return
	}
	link, err := m.openLink(sender)
	if err != nil {
		log.Error().Err(err).Str("module", "voice").Str("peer", string(sender)).Msg("open link")
		return
	}
	answer, err := link.conn.CreateAnswer(offer)
	if err != nil {
		log.Error().Err(err).Str("module", "voice").Str("peer", string(sender)).Msg("answer negotiation failed, discarding link")
		m.closeLink(sender)
		return
	}
	m.emit(protocol.NewAnswer(sender, answer))
}

// HandleAnswer completes a negotiation this side started. Answers with
// no matching link are stale and dropped silently.
func (m *Mesh) HandleAnswer(sender domain.ParticipantID, env protocol.Envelope) {
	m.mu.Lock()
	link := m.links[sender]
	m.mu.Unlock()
	if link == nil {
		return
	}
	answer, err := env.DecodeAnswer()
	if err != nil {
		log.Error().Err(err).Str("module", "voice").Str("peer", string(sender)).Msg("bad answer payload")
		return
	}
	if err := link.conn.ApplyAnswer(answer); err != nil {
		log.Error().Err(err).Str("module", "voice").Str("peer", string(sender)).Msg("apply answer failed, discarding link")
		m.closeLink(sender)
	}
}

// HandleCandidate adds a trickled remote candidate. Candidates may race
// ahead of or behind the link's lifetime; without a link they are
// dropped silently.
func (m *Mesh) HandleCandidate(sender domain.ParticipantID, env protocol.Envelope) {
	m.mu.Lock()
	link := m.links[sender]
	m.mu.Unlock()
	if link == nil {
		return
	}
	ci, err := env.DecodeCandidate()
	if err != nil {
		log.Error().Err(err).Str("module", "voice").Str("peer", string(sender)).Msg("bad candidate payload")
		return
	}
	if err := link.conn.AddICECandidate(ci); err != nil {
		log.Error().Err(err).Str("module", "voice").Str("peer", string(sender)).Msg("add ice candidate")
	}
}

// openLink is the only creation path for PeerLinks. An existing live
// link is reused.
func (m *Mesh) openLink(peer domain.ParticipantID) (*PeerLink, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if link, ok := m.links[peer]; ok {
		return link, nil
	}

	conn, err := m.newConn()
	if err != nil {
		return nil, err
	}
	link := &PeerLink{remote: peer, conn: conn, state: LinkConnecting}

	conn.OnICECandidate(func(ci webrtc.ICECandidateInit) {
		// Trickle: each candidate goes out as soon as it is produced.
		m.emit(protocol.NewCandidate(peer, ci))
	})
	conn.OnTrack(func(track *webrtc.TrackRemote) {
		m.mu.Lock()
		if l := m.links[peer]; l != nil {
			l.state = LinkConnected
		}
		m.mu.Unlock()
		if m.onStream != nil {
			m.onStream(peer, track)
		}
	})
	conn.OnICEStateChange(func(s webrtc.ICEConnectionState) {
		if s == webrtc.ICEConnectionStateDisconnected || s == webrtc.ICEConnectionStateFailed {
			log.Warn().Str("module", "voice").Str("peer", string(peer)).Str("ice_state", s.String()).Msg("link lost")
			m.closeLink(peer)
		}
	})

	if m.capture != nil {
		if err := conn.AddTrack(m.capture.Track()); err != nil {
			conn.Close()
			return nil, err
		}
	}

	m.links[peer] = link
	log.Info().Str("module", "voice").Str("peer", string(peer)).Msg("link opened")
	return link, nil
}

// closeLink is the only destruction path for PeerLinks. One peer's
// failure removes only that link.
func (m *Mesh) closeLink(peer domain.ParticipantID) {
	m.mu.Lock()
	link := m.links[peer]
	delete(m.links, peer)
	m.mu.Unlock()
	if link == nil {
		return
	}
	link.state = LinkClosed
	link.conn.Close()
	if m.onStreamGone != nil {
		m.onStreamGone(peer)
	}
	log.Info().Str("module", "voice").Str("peer", string(peer)).Msg("link closed")
}
