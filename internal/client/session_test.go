package client

import (
	"context"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/pion/webrtc/v4"

	"github.com/dkeye/Watch/internal/config"
	"github.com/dkeye/Watch/internal/domain"
	"github.com/dkeye/Watch/internal/media"
	"github.com/dkeye/Watch/internal/protocol"
	"github.com/dkeye/Watch/internal/relay"
	"github.com/dkeye/Watch/internal/rtc"
	"github.com/dkeye/Watch/internal/sync"
	"github.com/dkeye/Watch/internal/transport"
	"github.com/dkeye/Watch/internal/voice"
)

// fakePeerConn lets the sessions complete the signaling handshake
// without real ICE; media connectivity is pion's business, not this
// test's.
type fakePeerConn struct{}

func (fakePeerConn) CreateOffer() (webrtc.SessionDescription, error) {
	return webrtc.SessionDescription{Type: webrtc.SDPTypeOffer, SDP: "v=0 fake-offer"}, nil
}
func (fakePeerConn) CreateAnswer(webrtc.SessionDescription) (webrtc.SessionDescription, error) {
	return webrtc.SessionDescription{Type: webrtc.SDPTypeAnswer, SDP: "v=0 fake-answer"}, nil
}
func (fakePeerConn) ApplyAnswer(webrtc.SessionDescription) error      { return nil }
func (fakePeerConn) AddICECandidate(webrtc.ICECandidateInit) error    { return nil }
func (fakePeerConn) AddRecvOnlyAudio() error                          { return nil }
func (fakePeerConn) AddTrack(webrtc.TrackLocal) error                 { return nil }
func (fakePeerConn) OnICECandidate(func(webrtc.ICECandidateInit))     {}
func (fakePeerConn) OnTrack(func(*webrtc.TrackRemote))                {}
func (fakePeerConn) OnICEStateChange(func(webrtc.ICEConnectionState)) {}
func (fakePeerConn) Close()                                           {}

type fakeCapture struct{}

func (fakeCapture) Track() webrtc.TrackLocal { return nil }
func (fakeCapture) Stop()                    {}

type testClient struct {
	session *Session
	player  *media.SimPlayer
	done    chan struct{}
}

func startRelay(t *testing.T) *httptest.Server {
	t.Helper()
	cfg := &config.Relay{
		Mode:       "release",
		ReadLimit:  32768,
		PingPeriod: 50 * time.Second,
		Secret:     "test-secret",
	}
	reg := relay.NewRegistry()
	ctl := relay.NewController(cfg, reg)
	router := relay.SetupRouter(context.Background(), cfg, ctl)
	srv := httptest.NewServer(router)
	t.Cleanup(srv.Close)
	return srv
}

func join(t *testing.T, srv *httptest.Server, username string, solo time.Duration) *testClient {
	t.Helper()
	wsURL := "ws" + strings.TrimPrefix(srv.URL, "http") + "/api/ws/player/movies?username=" + username

	trans := transport.NewClient(wsURL)
	if err := trans.Connect(); err != nil {
		t.Fatalf("%s connect: %v", username, err)
	}

	player := media.NewSimPlayer(nil)
	player.SetSource("movie.mp4")

	sess := NewSession(Params{
		Self:      domain.ParticipantID(username),
		Transport: trans,
		Player:    player,
		Sync:      sync.Options{SoloTimeout: solo},
		NewConn:   func() (rtc.PeerConnection, error) { return fakePeerConn{}, nil },
		Acquire:   func() (voice.CaptureSource, error) { return fakeCapture{}, nil },
	})
	player.LoadMetadata()

	tc := &testClient{session: sess, player: player, done: make(chan struct{})}
	go func() {
		sess.Run(context.Background())
		close(tc.done)
	}()
	return tc
}

func waitFor(t *testing.T, what string, cond func() bool) {
	t.Helper()
	deadline := time.Now().Add(3 * time.Second)
	for time.Now().Before(deadline) {
		if cond() {
			return
		}
		time.Sleep(10 * time.Millisecond)
	}
	t.Fatalf("timed out waiting for %s", what)
}

// TestWatchPartyScenario walks the whole protocol: solo join, late
// joiner reconciliation, voice mesh establishment, chat, and a kick.
func TestWatchPartyScenario(t *testing.T) {
	srv := startRelay(t)

	// Alice joins an empty room; nobody answers her request_sync, so
	// the solo fallback unmutes her, with no peer links.
	alice := join(t, srv, "alice", 100*time.Millisecond)
	waitFor(t, "alice solo sync", func() bool { return !alice.player.Muted() })
	if peers := alice.session.VoicePeers(); len(peers) != 0 {
		t.Fatalf("solo viewer must have no peer links, got %v", peers)
	}

	// Alice watches from 42s.
	_ = alice.player.Play()
	alice.player.SetCurrentTime(42)

	// Bob joins; alice answers his request_sync and bob lands on her
	// position, playing and unmuted.
	bob := join(t, srv, "bob", 5*time.Second)
	waitFor(t, "bob reconciled with alice", func() bool {
		return !bob.player.Muted() && !bob.player.Paused() && bob.player.CurrentTime() >= 42
	})
	if bob.player.CurrentTime() > 50 {
		t.Fatalf("bob landed far from alice: %v", bob.player.CurrentTime())
	}

	// Alice enables voice; bob, already present, calls her. Both end
	// with exactly one link to the other.
	if err := alice.session.EnableVoice(); err != nil {
		t.Fatalf("enable voice: %v", err)
	}
	waitFor(t, "mesh symmetry", func() bool {
		return len(alice.session.VoicePeers()) == 1 && len(bob.session.VoicePeers()) == 1
	})

	// Chat reaches both, sender included.
	bob.session.SendChat("hello")
	waitFor(t, "chat fan-out", func() bool {
		return chatContains(alice.session, "hello") && chatContains(bob.session, "hello")
	})

	// Alice owns the room (first joiner); kicking bob ends his session
	// and leaves a notice at alice's.
	alice.session.Kick("bob")
	select {
	case <-bob.done:
	case <-time.After(3 * time.Second):
		t.Fatalf("kicked client must leave the room")
	}
	waitFor(t, "kick notice at alice", func() bool { return chatContains(alice.session, "bob was kicked") })

	alice.session.Leave()
	select {
	case <-alice.done:
	case <-time.After(3 * time.Second):
		t.Fatalf("leave must end the session")
	}
}

func chatContains(s *Session, text string) bool {
	for _, m := range s.ChatLog() {
		if m.Text == text {
			return true
		}
	}
	return false
}

// TestLateResponderDoesNotRehome covers first-responder-wins across the
// wire: a second sync response arriving after the first is ignored.
func TestLateResponderDoesNotRehome(t *testing.T) {
	srv := startRelay(t)

	alice := join(t, srv, "alice", 100*time.Millisecond)
	waitFor(t, "alice solo sync", func() bool { return !alice.player.Muted() })
	_ = alice.player.Play()
	alice.player.SetCurrentTime(42)

	carol := join(t, srv, "carol", 100*time.Millisecond)
	waitFor(t, "carol solo or synced", func() bool { return !carol.player.Muted() })

	// A stray late response must not move an already-synced client.
	before := alice.player.CurrentTime()
	bobTrans := transport.NewClient("ws" + strings.TrimPrefix(srv.URL, "http") + "/api/ws/player/movies?username=bob")
	if err := bobTrans.Connect(); err != nil {
		t.Fatalf("bob connect: %v", err)
	}
	bobTrans.Send(protocol.Envelope{Type: protocol.TypeResponseSync, CurrentTime: 7, Paused: true})

	time.Sleep(300 * time.Millisecond)
	if alice.player.Paused() {
		t.Fatalf("late response must not pause a synced client")
	}
	if alice.player.CurrentTime() < before {
		t.Fatalf("late response must not rewind a synced client")
	}
	bobTrans.Close()
	alice.session.Leave()
	carol.session.Leave()
}
