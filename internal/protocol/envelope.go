// Package protocol defines the typed envelope carried over the relay
// connection and the payload shapes keyed by envelope type.
package protocol

import (
	"encoding/json"

	"github.com/pion/webrtc/v4"

	"github.com/dkeye/Watch/internal/domain"
)

type MessageType string

// Wire catalogue. A client sends the bare playback types; the relay
// rebroadcasts them wrapped under TypeVideoEvent with Action set.
const (
	TypeRequestSync  MessageType = "request_sync"
	TypeResponseSync MessageType = "response_sync"
	TypePlay         MessageType = "play"
	TypePause        MessageType = "pause"
	TypeSeek         MessageType = "seek"
	TypeChangeVideo  MessageType = "change_video"
	TypeVideoEvent   MessageType = "video_event"

	TypeJoinVoice    MessageType = "join_voice"
	TypeOffer        MessageType = "webrtc_offer"
	TypeAnswer       MessageType = "webrtc_answer"
	TypeICECandidate MessageType = "webrtc_ice_candidate"

	TypeChatMessage MessageType = "chat_message"
	TypeKickUser    MessageType = "kick_user"
	TypeUserKicked  MessageType = "user_kicked"
	TypeSystem      MessageType = "system"
)

// Envelope is one message unit on the relay connection. Exactly one Type
// per envelope; Data shape is determined by Type. Empty Target means
// broadcast to the room, non-empty means point-to-point delivery.
type Envelope struct {
	Type        MessageType          `json:"type"`
	Action      MessageType          `json:"action,omitempty"`
	Sender      domain.ParticipantID `json:"sender,omitempty"`
	Target      domain.ParticipantID `json:"target,omitempty"`
	Data        json.RawMessage      `json:"data,omitempty"`
	CurrentTime float64              `json:"currentTime,omitempty"`
	Paused      bool                 `json:"paused,omitempty"`
	Message     string               `json:"message,omitempty"`
	Username    string               `json:"username,omitempty"`
	Kicked      domain.ParticipantID `json:"kicked_username,omitempty"`
}

// IsVideoType reports whether t is one of the bare playback types the
// relay rewraps as a video_event.
func IsVideoType(t MessageType) bool {
	switch t {
	case TypeRequestSync, TypeResponseSync, TypePlay, TypePause, TypeSeek, TypeChangeVideo:
		return true
	}
	return false
}

type OfferPayload struct {
	Offer webrtc.SessionDescription `json:"offer"`
}

type AnswerPayload struct {
	Answer webrtc.SessionDescription `json:"answer"`
}

type CandidatePayload struct {
	Candidate webrtc.ICECandidateInit `json:"candidate"`
}

// NewOffer builds a point-to-point offer envelope for target.
func NewOffer(target domain.ParticipantID, sdp webrtc.SessionDescription) Envelope {
	data, _ := json.Marshal(OfferPayload{Offer: sdp})
	return Envelope{Type: TypeOffer, Target: target, Data: data}
}

func NewAnswer(target domain.ParticipantID, sdp webrtc.SessionDescription) Envelope {
	data, _ := json.Marshal(AnswerPayload{Answer: sdp})
	return Envelope{Type: TypeAnswer, Target: target, Data: data}
}

func NewCandidate(target domain.ParticipantID, ci webrtc.ICECandidateInit) Envelope {
	data, _ := json.Marshal(CandidatePayload{Candidate: ci})
	return Envelope{Type: TypeICECandidate, Target: target, Data: data}
}

func (e Envelope) DecodeOffer() (webrtc.SessionDescription, error) {
	var p OfferPayload
	err := json.Unmarshal(e.Data, &p)
	return p.Offer, err
}

func (e Envelope) DecodeAnswer() (webrtc.SessionDescription, error) {
	var p AnswerPayload
	err := json.Unmarshal(e.Data, &p)
	return p.Answer, err
}

func (e Envelope) DecodeCandidate() (webrtc.ICECandidateInit, error) {
	var p CandidatePayload
	err := json.Unmarshal(e.Data, &p)
	return p.Candidate, err
}

// PlaybackState extracts the playback fields of a sync envelope.
func (e Envelope) PlaybackState() domain.PlaybackState {
	return domain.PlaybackState{CurrentTime: e.CurrentTime, Paused: e.Paused}
}

// NewResponseSync builds the reply to a request_sync. Per relay
// convention the reply is broadcast; clients that already synced ignore it.
func NewResponseSync(state domain.PlaybackState) Envelope {
	return Envelope{Type: TypeResponseSync, CurrentTime: state.CurrentTime, Paused: state.Paused}
}
