package relay

import (
	"encoding/json"

	"github.com/rs/zerolog/log"

	"github.com/dkeye/Watch/internal/domain"
	"github.com/dkeye/Watch/internal/protocol"
)

// handleEnvelope routes one inbound envelope. The relay is a fan-out:
// it stamps the sender, rewraps playback types as video events, honors
// point-to-point targets, and drops whatever it does not recognize.
func (ctl *Controller) handleEnvelope(sid SessionID, env protocol.Envelope) {
	room, name, ok := ctl.Registry.Get(sid)
	if !ok {
		return
	}
	env.Sender = name

	switch {
	case protocol.IsVideoType(env.Type):
		ctl.relayVideoEvent(sid, room, env)
	case env.Type == protocol.TypeJoinVoice:
		ctl.broadcastExcept(sid, room, env)
	case env.Type == protocol.TypeOffer, env.Type == protocol.TypeAnswer, env.Type == protocol.TypeICECandidate:
		ctl.relayToTarget(room, env)
	case env.Type == protocol.TypeChatMessage:
		ctl.relayChat(room, name, env)
	case env.Type == protocol.TypeKickUser:
		ctl.relayKick(room, name, env)
	default:
		log.Warn().Str("module", "relay").Str("type", string(env.Type)).Msg("unknown envelope type")
	}
}

// relayVideoEvent rewraps a bare playback type under the video_event
// umbrella and fans it out to everyone but the sender, so a client never
// hears its own action echoed back by the relay.
func (ctl *Controller) relayVideoEvent(from SessionID, room domain.RoomName, env protocol.Envelope) {
	out := protocol.Envelope{
		Type:        protocol.TypeVideoEvent,
		Action:      env.Type,
		Sender:      env.Sender,
		Data:        env.Data,
		CurrentTime: env.CurrentTime,
		Paused:      env.Paused,
	}
	ctl.broadcastExcept(from, room, out)
}

// relayToTarget delivers a signaling envelope point-to-point. Envelopes
// without a target or naming an absent participant are dropped silently.
func (ctl *Controller) relayToTarget(room domain.RoomName, env protocol.Envelope) {
	if env.Target == "" {
		return
	}
	for _, m := range ctl.Registry.MembersOfRoom(room) {
		if m.Name == env.Target {
			ctl.send(m.Conn, env)
			return
		}
	}
	log.Debug().Str("module", "relay").Str("target", string(env.Target)).Str("type", string(env.Type)).Msg("target not in room, dropped")
}

// relayChat fans a chat message out to the whole room, sender included,
// in arrival order. The relay keeps no history.
func (ctl *Controller) relayChat(room domain.RoomName, name domain.ParticipantID, env protocol.Envelope) {
	out := protocol.Envelope{
		Type:     protocol.TypeChatMessage,
		Sender:   name,
		Username: env.Username,
		Message:  env.Message,
	}
	if out.Username == "" {
		out.Username = string(name)
	}
	ctl.broadcast(room, out)
}

// relayKick honors a kick only from the room owner and tells everyone,
// target included, who was kicked.
func (ctl *Controller) relayKick(room domain.RoomName, name domain.ParticipantID, env protocol.Envelope) {
	if !ctl.Registry.IsOwner(room, name) {
		log.Warn().Str("module", "relay").Str("name", string(name)).Msg("kick from non-owner ignored")
		return
	}
	kicked := env.Kicked
	if kicked == "" {
		kicked = domain.ParticipantID(env.Username)
	}
	if kicked == "" {
		return
	}
	ctl.broadcast(room, protocol.Envelope{
		Type:   protocol.TypeUserKicked,
		Sender: name,
		Kicked: kicked,
	})
}

func (ctl *Controller) broadcast(room domain.RoomName, env protocol.Envelope) {
	frame, err := json.Marshal(env)
	if err != nil {
		log.Error().Err(err).Str("module", "relay").Msg("broadcast marshal")
		return
	}
	for _, m := range ctl.Registry.MembersOfRoom(room) {
		if err := m.Conn.TrySend(frame); err != nil {
			log.Warn().Err(err).Str("module", "relay").Str("name", string(m.Name)).Msg("send dropped")
		}
	}
}

func (ctl *Controller) broadcastExcept(from SessionID, room domain.RoomName, env protocol.Envelope) {
	frame, err := json.Marshal(env)
	if err != nil {
		log.Error().Err(err).Str("module", "relay").Msg("broadcast marshal")
		return
	}
	for _, m := range ctl.Registry.MembersOfRoom(room) {
		if m.SID == from {
			continue
		}
		if err := m.Conn.TrySend(frame); err != nil {
			log.Warn().Err(err).Str("module", "relay").Str("name", string(m.Name)).Msg("send dropped")
		}
	}
}

func (ctl *Controller) send(conn SignalConnection, env protocol.Envelope) {
	frame, err := json.Marshal(env)
	if err != nil {
		log.Error().Err(err).Str("module", "relay").Msg("send marshal")
		return
	}
	_ = conn.TrySend(frame)
}
