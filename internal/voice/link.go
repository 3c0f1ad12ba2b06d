package voice

import (
	"github.com/dkeye/Watch/internal/domain"
	"github.com/dkeye/Watch/internal/rtc"
)

type LinkState int

const (
	LinkConnecting LinkState = iota
	LinkConnected
	LinkClosed
)

func (s LinkState) String() string {
	switch s {
	case LinkConnecting:
		return "connecting"
	case LinkConnected:
		return "connected"
	case LinkClosed:
		return "closed"
	}
	return "unknown"
}

// PeerLink is one peer-to-peer audio connection to a specific
// participant. Created on the first offer/answer involving the peer,
// removed from the mesh once closed; re-entry to voice builds a fresh
// link, never reuses one.
type PeerLink struct {
	remote domain.ParticipantID
	conn   rtc.PeerConnection
	state  LinkState
}

func (l *PeerLink) Remote() domain.ParticipantID { return l.remote }
func (l *PeerLink) State() LinkState             { return l.state }
