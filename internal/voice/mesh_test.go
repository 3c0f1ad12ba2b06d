package voice

import (
	"errors"
	"testing"

	"github.com/pion/webrtc/v4"

	"github.com/dkeye/Watch/internal/domain"
	"github.com/dkeye/Watch/internal/protocol"
	"github.com/dkeye/Watch/internal/rtc"
)

type fakeConn struct {
	offered   bool
	answered  bool
	recvonly  bool
	tracks    int
	closed    bool
	applyErr  error
	answerErr error

	candidates []webrtc.ICECandidateInit

	onICE      func(webrtc.ICECandidateInit)
	onTrack    func(*webrtc.TrackRemote)
	onICEState func(webrtc.ICEConnectionState)
}

func (c *fakeConn) CreateOffer() (webrtc.SessionDescription, error) {
	c.offered = true
	return webrtc.SessionDescription{Type: webrtc.SDPTypeOffer, SDP: "v=0 fake-offer"}, nil
}

func (c *fakeConn) CreateAnswer(webrtc.SessionDescription) (webrtc.SessionDescription, error) {
	if c.answerErr != nil {
		return webrtc.SessionDescription{}, c.answerErr
	}
	c.answered = true
	return webrtc.SessionDescription{Type: webrtc.SDPTypeAnswer, SDP: "v=0 fake-answer"}, nil
}

func (c *fakeConn) ApplyAnswer(webrtc.SessionDescription) error { return c.applyErr }

func (c *fakeConn) AddICECandidate(ci webrtc.ICECandidateInit) error {
	c.candidates = append(c.candidates, ci)
	return nil
}

func (c *fakeConn) AddRecvOnlyAudio() error {
	c.recvonly = true
	return nil
}

func (c *fakeConn) AddTrack(webrtc.TrackLocal) error {
	c.tracks++
	return nil
}

func (c *fakeConn) OnICECandidate(fn func(webrtc.ICECandidateInit)) { c.onICE = fn }
func (c *fakeConn) OnTrack(fn func(*webrtc.TrackRemote))            { c.onTrack = fn }
func (c *fakeConn) OnICEStateChange(fn func(webrtc.ICEConnectionState)) {
	c.onICEState = fn
}
func (c *fakeConn) Close() { c.closed = true }

type fakeCapture struct{ stopped bool }

func (f *fakeCapture) Track() webrtc.TrackLocal { return nil }
func (f *fakeCapture) Stop()                    { f.stopped = true }

type meshFixture struct {
	mesh    *Mesh
	conns   map[domain.ParticipantID]*fakeConn
	sent    []protocol.Envelope
	capture *fakeCapture
	gone    []domain.ParticipantID

	// track records which fake connection the last handler built for a
	// peer, since the factory has no peer argument.
	track func(peer domain.ParticipantID)
}

func newFixture(t *testing.T, acquireErr error) *meshFixture {
	t.Helper()
	f := &meshFixture{conns: make(map[domain.ParticipantID]*fakeConn), capture: &fakeCapture{}}

	var next *fakeConn
	factory := rtc.Factory(func() (rtc.PeerConnection, error) {
		next = &fakeConn{}
		return next, nil
	})
	f.track = func(peer domain.ParticipantID) { f.conns[peer] = next }

	f.mesh = NewMesh(MeshConfig{
		Self:    "alice",
		NewConn: factory,
		Acquire: func() (CaptureSource, error) {
			if acquireErr != nil {
				return nil, acquireErr
			}
			return f.capture, nil
		},
		Emit: func(env protocol.Envelope) { f.sent = append(f.sent, env) },
		OnStreamGone: func(peer domain.ParticipantID) {
			f.gone = append(f.gone, peer)
		},
	})
	return f
}

func TestJoinVoiceCallsNewcomer(t *testing.T) {
	f := newFixture(t, nil)

	f.mesh.HandleJoinVoice("bob")
	f.track("bob")

	if !f.mesh.Linked("bob") {
		t.Fatalf("join_voice must open a link to the newcomer")
	}
	conn := f.conns["bob"]
	if !conn.recvonly {
		t.Fatalf("caller must add a receive-only audio transceiver")
	}
	if !conn.offered {
		t.Fatalf("caller must produce an offer")
	}
	if len(f.sent) != 1 || f.sent[0].Type != protocol.TypeOffer || f.sent[0].Target != "bob" {
		t.Fatalf("offer must go point-to-point to the newcomer, sent=%v", f.sent)
	}
}

func TestJoinVoiceIgnoresSelf(t *testing.T) {
	f := newFixture(t, nil)

	f.mesh.HandleJoinVoice("alice")
	if len(f.mesh.Peers()) != 0 || len(f.sent) != 0 {
		t.Fatalf("the joiner must never call itself")
	}
}

func TestOfferAnswered(t *testing.T) {
	f := newFixture(t, nil)

	offer := protocol.NewOffer("alice", webrtc.SessionDescription{Type: webrtc.SDPTypeOffer, SDP: "v=0"})
	offer.Sender = "bob"
	f.mesh.HandleOffer("bob", offer)
	f.track("bob")

	if !f.mesh.Linked("bob") {
		t.Fatalf("an offer must open a link to its sender")
	}
	if !f.conns["bob"].answered {
		t.Fatalf("remote offer must be answered")
	}
	if len(f.sent) != 1 || f.sent[0].Type != protocol.TypeAnswer || f.sent[0].Target != "bob" {
		t.Fatalf("answer must go point-to-point back to the sender, sent=%v", f.sent)
	}
}

func TestNegotiationFailureDiscardsLink(t *testing.T) {
	f := newFixture(t, nil)

	var made *fakeConn
	f.mesh.newConn = func() (rtc.PeerConnection, error) {
		made = &fakeConn{answerErr: errors.New("bad sdp")}
		return made, nil
	}

	offer := protocol.NewOffer("alice", webrtc.SessionDescription{Type: webrtc.SDPTypeOffer, SDP: "v=0"})
	f.mesh.HandleOffer("bob", offer)

	if f.mesh.Linked("bob") {
		t.Fatalf("failed negotiation must discard the link")
	}
	if !made.closed {
		t.Fatalf("discarded link must close its connection")
	}
}

func TestStaleAnswerDropped(t *testing.T) {
	f := newFixture(t, nil)

	answer := protocol.NewAnswer("alice", webrtc.SessionDescription{Type: webrtc.SDPTypeAnswer, SDP: "v=0"})
	f.mesh.HandleAnswer("bob", answer)

	if f.mesh.Linked("bob") {
		t.Fatalf("an answer without a link must not create one")
	}
}

func TestCandidateWithoutLinkDropped(t *testing.T) {
	f := newFixture(t, nil)

	cand := protocol.NewCandidate("alice", webrtc.ICECandidateInit{Candidate: "candidate:0"})
	f.mesh.HandleCandidate("bob", cand)

	if f.mesh.Linked("bob") {
		t.Fatalf("a candidate without a link must be dropped silently")
	}
}

func TestCandidateAppliedToLink(t *testing.T) {
	f := newFixture(t, nil)
	f.mesh.HandleJoinVoice("bob")
	f.track("bob")

	cand := protocol.NewCandidate("alice", webrtc.ICECandidateInit{Candidate: "candidate:1"})
	f.mesh.HandleCandidate("bob", cand)

	if len(f.conns["bob"].candidates) != 1 {
		t.Fatalf("candidate must reach the peer connection")
	}
}

func TestTrickleCandidatesSentImmediately(t *testing.T) {
	f := newFixture(t, nil)
	f.mesh.HandleJoinVoice("bob")
	f.track("bob")
	f.sent = nil

	f.conns["bob"].onICE(webrtc.ICECandidateInit{Candidate: "candidate:2"})

	if len(f.sent) != 1 || f.sent[0].Type != protocol.TypeICECandidate || f.sent[0].Target != "bob" {
		t.Fatalf("local candidates must trickle point-to-point, sent=%v", f.sent)
	}
}

func TestLinkStateFollowsTrackArrival(t *testing.T) {
	f := newFixture(t, nil)
	f.mesh.HandleJoinVoice("bob")
	f.track("bob")

	if st, ok := f.mesh.LinkState("bob"); !ok || st != LinkConnecting {
		t.Fatalf("fresh link must be connecting, got %v ok=%v", st, ok)
	}

	f.conns["bob"].onTrack(nil)
	if st, _ := f.mesh.LinkState("bob"); st != LinkConnected {
		t.Fatalf("track arrival must mark the link connected, got %v", st)
	}

	f.conns["bob"].onICEState(webrtc.ICEConnectionStateDisconnected)
	if _, ok := f.mesh.LinkState("bob"); ok {
		t.Fatalf("lost link must leave the mesh")
	}
}

func TestCaptureFailureLeavesStateUnchanged(t *testing.T) {
	f := newFixture(t, errors.New("permission denied"))

	err := f.mesh.Enable()
	if !errors.Is(err, ErrCapture) {
		t.Fatalf("expected capture error, got %v", err)
	}
	if f.mesh.Enabled() {
		t.Fatalf("failed enable must not half-enable voice")
	}
	if len(f.sent) != 0 {
		t.Fatalf("failed enable must not announce join_voice")
	}
}

func TestEnableAnnouncesAndAttachesTrack(t *testing.T) {
	f := newFixture(t, nil)

	if err := f.mesh.Enable(); err != nil {
		t.Fatalf("enable: %v", err)
	}
	if len(f.sent) != 1 || f.sent[0].Type != protocol.TypeJoinVoice {
		t.Fatalf("enable must broadcast join_voice, sent=%v", f.sent)
	}

	f.mesh.HandleJoinVoice("bob")
	f.track("bob")
	if f.conns["bob"].tracks != 1 {
		t.Fatalf("capturing mesh must attach its local track to new links")
	}
}

func TestDisableHardReset(t *testing.T) {
	f := newFixture(t, nil)
	if err := f.mesh.Enable(); err != nil {
		t.Fatalf("enable: %v", err)
	}
	f.mesh.HandleJoinVoice("bob")
	f.track("bob")
	f.mesh.HandleJoinVoice("carol")
	f.track("carol")

	f.mesh.Disable()

	if len(f.mesh.Peers()) != 0 {
		t.Fatalf("disable must close every link, left %v", f.mesh.Peers())
	}
	if !f.conns["bob"].closed || !f.conns["carol"].closed {
		t.Fatalf("disable must close the underlying connections")
	}
	if !f.capture.stopped {
		t.Fatalf("disable must stop the capture source")
	}
	if len(f.gone) != 2 {
		t.Fatalf("disable must retract every remote stream, got %v", f.gone)
	}
}

func TestICEFailureIsolatedToOneLink(t *testing.T) {
	f := newFixture(t, nil)
	f.mesh.HandleJoinVoice("bob")
	f.track("bob")
	f.mesh.HandleJoinVoice("carol")
	f.track("carol")

	f.conns["bob"].onICEState(webrtc.ICEConnectionStateFailed)

	if f.mesh.Linked("bob") {
		t.Fatalf("failed link must be removed")
	}
	if !f.mesh.Linked("carol") {
		t.Fatalf("other links must survive one peer's failure")
	}
	if !f.conns["bob"].closed {
		t.Fatalf("failed link must close its connection")
	}
}
