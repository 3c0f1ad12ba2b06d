// Package client binds transport, sync engine, voice mesh, and chat
// adapter into one room session. All engine state is mutated from the
// single Run loop; player callbacks and timers are marshaled into it as
// events, which keeps the engines free of parallel mutation.
package client

import (
	"context"
	"time"

	"github.com/pion/webrtc/v4"
	"github.com/rs/zerolog/log"

	"github.com/dkeye/Watch/internal/chat"
	"github.com/dkeye/Watch/internal/domain"
	"github.com/dkeye/Watch/internal/media"
	"github.com/dkeye/Watch/internal/protocol"
	"github.com/dkeye/Watch/internal/rtc"
	"github.com/dkeye/Watch/internal/sync"
	"github.com/dkeye/Watch/internal/transport"
	"github.com/dkeye/Watch/internal/voice"
)

type eventKind int

const (
	evLocalPlay eventKind = iota
	evLocalPause
	evLocalSeek
	evMetadataReady
	evSoloTimeout
	evContentChange
)

// Player is what a session needs from its media primitive: the sync
// engine's control surface plus notification wiring.
type Player interface {
	media.Player
	SetHandlers(media.Handlers)
}

type Params struct {
	Self      domain.ParticipantID
	Transport *transport.Client
	Player    Player
	Sync      sync.Options
	NewConn   rtc.Factory
	Acquire   func() (voice.CaptureSource, error)

	OnStream     func(peer domain.ParticipantID, track *webrtc.TrackRemote)
	OnStreamGone func(peer domain.ParticipantID)
	OnNotice     func(text string)
}

type Session struct {
	self   domain.ParticipantID
	trans  *transport.Client
	player Player
	engine *sync.Engine
	mesh   *voice.Mesh
	chat   *chat.Adapter

	events    chan eventKind
	soloTimer *time.Timer
	cancel    context.CancelFunc
}

func NewSession(p Params) *Session {
	s := &Session{
		self:   p.Self,
		trans:  p.Transport,
		player: p.Player,
		events: make(chan eventKind, 64),
	}
	s.engine = sync.NewEngine(p.Self, p.Player, p.Sync)
	s.mesh = voice.NewMesh(voice.MeshConfig{
		Self:         p.Self,
		NewConn:      p.NewConn,
		Acquire:      p.Acquire,
		Emit:         s.trans.Send,
		OnStream:     p.OnStream,
		OnStreamGone: p.OnStreamGone,
	})
	s.chat = chat.NewAdapter(p.Self, p.OnNotice, func() {
		// Kicked: sever the transport; the Run loop unwinds from the
		// closed incoming channel.
		s.trans.Close()
	})

	p.Player.SetHandlers(media.Handlers{
		Play:          func() { s.post(evLocalPlay) },
		Pause:         func() { s.post(evLocalPause) },
		Seeked:        func() { s.post(evLocalSeek) },
		MetadataReady: func() { s.post(evMetadataReady) },
	})
	return s
}

func (s *Session) post(ev eventKind) {
	select {
	case s.events <- ev:
	default:
		log.Warn().Str("module", "client").Int("event", int(ev)).Msg("event queue full, dropped")
	}
}

// Run drives the session until the context ends, the connection drops,
// or this client is kicked. All session-scoped state dies with it; a
// reconnect means a fresh session and a fresh join protocol.
func (s *Session) Run(ctx context.Context) {
	ctx, cancel := context.WithCancel(ctx)
	s.cancel = cancel
	defer s.teardown()

	s.dispatch(s.engine.OnConnect())

	for {
		select {
		case <-ctx.Done():
			return
		case env, ok := <-s.trans.Incoming():
			if !ok {
				log.Info().Str("module", "client").Msg("relay connection lost")
				return
			}
			s.handleEnvelope(env)
		case ev := <-s.events:
			s.handleEvent(ev)
		}
	}
}

func (s *Session) handleEnvelope(env protocol.Envelope) {
	if env.Target != "" && env.Target != s.self {
		return
	}

	switch env.Type {
	case protocol.TypeVideoEvent:
		s.dispatch(s.engine.HandleVideoEvent(env))
	case protocol.TypeJoinVoice:
		s.mesh.HandleJoinVoice(env.Sender)
	case protocol.TypeOffer:
		s.mesh.HandleOffer(env.Sender, env)
	case protocol.TypeAnswer:
		s.mesh.HandleAnswer(env.Sender, env)
	case protocol.TypeICECandidate:
		s.mesh.HandleCandidate(env.Sender, env)
	case protocol.TypeChatMessage:
		s.chat.HandleChat(env)
	case protocol.TypeUserKicked:
		s.chat.HandleKicked(env)
	case protocol.TypeSystem:
		s.chat.HandleSystem(env)
	default:
		log.Warn().Str("module", "client").Str("type", string(env.Type)).Msg("unknown envelope type, dropped")
	}
}

func (s *Session) handleEvent(ev eventKind) {
	switch ev {
	case evLocalPlay:
		s.dispatch(s.engine.OnLocalPlay())
	case evLocalPause:
		s.dispatch(s.engine.OnLocalPause())
	case evLocalSeek:
		s.dispatch(s.engine.OnLocalSeek())
	case evMetadataReady:
		s.engine.OnMetadataReady()
	case evSoloTimeout:
		s.engine.OnSoloTimeout()
	case evContentChange:
		s.dispatch(s.engine.OnContentChange())
	}
}

// dispatch sends the engine's outbound envelopes and arms the solo
// fallback whenever a request_sync goes out.
func (s *Session) dispatch(outs []protocol.Envelope) {
	for _, env := range outs {
		s.trans.Send(env)
		if env.Type == protocol.TypeRequestSync {
			s.armSoloTimer()
		}
	}
}

func (s *Session) armSoloTimer() {
	if s.soloTimer != nil {
		s.soloTimer.Stop()
	}
	s.soloTimer = time.AfterFunc(s.engine.SoloTimeout(), func() { s.post(evSoloTimeout) })
}

func (s *Session) teardown() {
	if s.soloTimer != nil {
		s.soloTimer.Stop()
	}
	s.mesh.Close()
	s.trans.Close()
	s.cancel()
	log.Info().Str("module", "client").Msg("session ended")
}

// EnableVoice acquires the microphone and announces voice entry. Safe
// from any goroutine; the mesh does its own locking.
func (s *Session) EnableVoice() error { return s.mesh.Enable() }

// DisableVoice hard-resets the voice mesh.
func (s *Session) DisableVoice() { s.mesh.Disable() }

// VoicePeers lists participants with a live audio link.
func (s *Session) VoicePeers() []domain.ParticipantID { return s.mesh.Peers() }

// SendChat broadcasts a chat line.
func (s *Session) SendChat(text string) { s.trans.Send(s.chat.Compose(text)) }

// Kick asks the relay to remove target; honored only if this client
// owns the room.
func (s *Session) Kick(target domain.ParticipantID) { s.trans.Send(s.chat.ComposeKick(target)) }

// ChatLog returns the message log snapshot.
func (s *Session) ChatLog() []chat.Message { return s.chat.Log() }

// ChangeVideo announces a source switch and re-runs the local join
// protocol against the new content.
func (s *Session) ChangeVideo() {
	s.trans.Send(protocol.Envelope{Type: protocol.TypeChangeVideo})
	s.post(evContentChange)
}

// Leave ends the session.
func (s *Session) Leave() {
	if s.cancel != nil {
		s.cancel()
	}
}
