// Package chat is the pass-through adapter for chat and moderation
// envelopes. No state machine here: an append-only message log and
// shape translation.
package chat

import (
	"sync"

	"github.com/rs/zerolog/log"

	"github.com/dkeye/Watch/internal/domain"
	"github.com/dkeye/Watch/internal/protocol"
)

// Message is one chat or system line, in arrival order.
type Message struct {
	From   domain.ParticipantID
	Text   string
	System bool
}

// Adapter translates chat/moderation envelopes. OnNotice surfaces
// system lines and kick notices; OnKicked fires when this client itself
// is kicked and must leave.
type Adapter struct {
	self     domain.ParticipantID
	onNotice func(text string)
	onKicked func()

	mu     sync.Mutex
	logged []Message
}

func NewAdapter(self domain.ParticipantID, onNotice func(string), onKicked func()) *Adapter {
	return &Adapter{self: self, onNotice: onNotice, onKicked: onKicked}
}

// Compose builds an outbound chat envelope.
func (a *Adapter) Compose(text string) protocol.Envelope {
	return protocol.Envelope{
		Type:     protocol.TypeChatMessage,
		Message:  text,
		Username: string(a.self),
	}
}

// ComposeKick builds the owner-only kick broadcast.
func (a *Adapter) ComposeKick(target domain.ParticipantID) protocol.Envelope {
	return protocol.Envelope{Type: protocol.TypeKickUser, Kicked: target}
}

// HandleChat appends an inbound message to the log in arrival order.
func (a *Adapter) HandleChat(env protocol.Envelope) {
	from := env.Sender
	if from == "" {
		from = domain.ParticipantID(env.Username)
	}
	a.append(Message{From: from, Text: env.Message})
}

// HandleSystem records a relay notice.
func (a *Adapter) HandleSystem(env protocol.Envelope) {
	a.append(Message{Text: env.Message, System: true})
	if a.onNotice != nil {
		a.onNotice(env.Message)
	}
}

// HandleKicked reacts to a user_kicked broadcast: the named client
// leaves, everyone else gets a notice.
func (a *Adapter) HandleKicked(env protocol.Envelope) {
	if env.Kicked == a.self {
		log.Warn().Str("module", "chat").Msg("kicked from room")
		if a.onKicked != nil {
			a.onKicked()
		}
		return
	}
	notice := string(env.Kicked) + " was kicked"
	a.append(Message{Text: notice, System: true})
	if a.onNotice != nil {
		a.onNotice(notice)
	}
}

func (a *Adapter) append(m Message) {
	a.mu.Lock()
	a.logged = append(a.logged, m)
	a.mu.Unlock()
}

// Log returns a snapshot of the message log.
func (a *Adapter) Log() []Message {
	a.mu.Lock()
	defer a.mu.Unlock()
	out := make([]Message, len(a.logged))
	copy(out, a.logged)
	return out
}
