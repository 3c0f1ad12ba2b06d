// Package sync keeps one media player consistent with the shared room
// state. No participant is a fixed server: a joiner asks the room, the
// first responder wins, and an empty room resolves to solo playback.
//
// The engine is driven from a single goroutine (the session loop).
// Handlers mutate engine state and return the envelopes to send; all IO
// (transport writes, timers) stays in the shell.
package sync

import (
	"math"
	"time"

	"github.com/rs/zerolog/log"

	"github.com/dkeye/Watch/internal/domain"
	"github.com/dkeye/Watch/internal/media"
	"github.com/dkeye/Watch/internal/protocol"
)

// Phase is the join state of the engine. Joining means the client has
// not yet reconciled with the room and its player stays muted.
type Phase int

const (
	PhaseJoining Phase = iota
	PhaseSynced
)

const (
	DefaultDriftThreshold = 500 * time.Millisecond
	DefaultSeekThreshold  = time.Second
	DefaultGuardWindow    = 500 * time.Millisecond
	DefaultSoloTimeout    = 1500 * time.Millisecond
)

type Options struct {
	// DriftThreshold is the reconciliation band: differences under it
	// tolerate network jitter instead of re-seeking.
	DriftThreshold time.Duration
	// SeekThreshold bounds how far a remote seek may differ from local
	// position before the engine actually seeks.
	SeekThreshold time.Duration
	// GuardWindow is how long outbound events stay suppressed after a
	// remote change is applied, absorbing the player's own callbacks.
	GuardWindow time.Duration
	// SoloTimeout is how long a joiner waits for a response_sync before
	// declaring itself authoritative.
	SoloTimeout time.Duration
	// Now is the clock; defaults to time.Now.
	Now func() time.Time
}

func (o *Options) fill() {
	if o.DriftThreshold <= 0 {
		o.DriftThreshold = DefaultDriftThreshold
	}
	if o.SeekThreshold <= 0 {
		o.SeekThreshold = DefaultSeekThreshold
	}
	if o.GuardWindow <= 0 {
		o.GuardWindow = DefaultGuardWindow
	}
	if o.SoloTimeout <= 0 {
		o.SoloTimeout = DefaultSoloTimeout
	}
	if o.Now == nil {
		o.Now = time.Now
	}
}

// Engine owns the player on behalf of the room. Nothing else may mutate
// playback state.
type Engine struct {
	self   domain.ParticipantID
	player media.Player
	opts   Options

	phase         Phase
	pending       *domain.PlaybackState
	suppressUntil time.Time
}

func NewEngine(self domain.ParticipantID, player media.Player, opts Options) *Engine {
	opts.fill()
	return &Engine{self: self, player: player, opts: opts, phase: PhaseJoining}
}

func (e *Engine) Phase() Phase { return e.phase }

// SoloTimeout is the fallback delay the shell must arm after every
// request_sync broadcast.
func (e *Engine) SoloTimeout() time.Duration { return e.opts.SoloTimeout }

// OnConnect starts the join protocol: mute until the first sync lands
// and ask the room where it is.
func (e *Engine) OnConnect() []protocol.Envelope {
	return e.rejoin()
}

func (e *Engine) rejoin() []protocol.Envelope {
	e.phase = PhaseJoining
	e.pending = nil
	e.player.SetMuted(true)
	return []protocol.Envelope{{Type: protocol.TypeRequestSync}}
}

// OnSoloTimeout resolves a join that nobody answered: the client is
// alone and becomes authoritative. Fires at most once per join; a late
// response_sync after this is ignored like any other post-sync response.
func (e *Engine) OnSoloTimeout() {
	if e.phase != PhaseJoining {
		return
	}
	e.phase = PhaseSynced
	e.player.SetMuted(false)
	log.Info().Str("module", "sync").Msg("no sync response, assuming solo viewer")
}

// OnMetadataReady drains a sync state that arrived before the player
// could seek.
func (e *Engine) OnMetadataReady() {
	if e.pending != nil && e.phase == PhaseJoining {
		e.reconcile(*e.pending)
	}
}

// OnContentChange handles the owner switching the video source: the new
// source is a new virtual room, so the join protocol runs again.
func (e *Engine) OnContentChange() []protocol.Envelope {
	log.Info().Str("module", "sync").Msg("content changed, re-running join")
	return e.rejoin()
}

// OnLocalPlay converts a local play action into a broadcast, unless the
// action is the player echoing a change this engine just applied.
func (e *Engine) OnLocalPlay() []protocol.Envelope {
	if e.suppressed() {
		return nil
	}
	return []protocol.Envelope{{Type: protocol.TypePlay, CurrentTime: e.player.CurrentTime()}}
}

func (e *Engine) OnLocalPause() []protocol.Envelope {
	if e.suppressed() {
		return nil
	}
	return []protocol.Envelope{{Type: protocol.TypePause, CurrentTime: e.player.CurrentTime()}}
}

// OnLocalSeek fires on end-of-seek, not intermediate scrubbing.
func (e *Engine) OnLocalSeek() []protocol.Envelope {
	if e.suppressed() {
		return nil
	}
	return []protocol.Envelope{{Type: protocol.TypeSeek, CurrentTime: e.player.CurrentTime()}}
}

// HandleVideoEvent applies one inbound video_event envelope and returns
// any replies. Unknown actions are dropped, never fatal.
func (e *Engine) HandleVideoEvent(env protocol.Envelope) []protocol.Envelope {
	if env.Sender == e.self {
		return nil
	}

	switch env.Action {
	case protocol.TypeRequestSync:
		return e.answerSyncRequest()
	case protocol.TypeResponseSync:
		e.applySyncResponse(env.PlaybackState())
		return nil
	case protocol.TypePlay:
		e.guard()
		if err := e.player.Play(); err != nil {
			log.Debug().Err(err).Str("module", "sync").Msg("remote play rejected by player")
		}
		return nil
	case protocol.TypePause:
		e.guard()
		e.player.Pause()
		return nil
	case protocol.TypeSeek:
		e.guard()
		if math.Abs(e.player.CurrentTime()-env.CurrentTime) > e.opts.SeekThreshold.Seconds() {
			e.player.SetCurrentTime(env.CurrentTime)
		}
		return nil
	case protocol.TypeChangeVideo:
		return e.OnContentChange()
	default:
		log.Warn().Str("module", "sync").Str("action", string(env.Action)).Msg("unknown video action")
		return nil
	}
}

// answerSyncRequest replies with the local playback state. A player with
// no loaded metadata has nothing authoritative to say and stays silent.
func (e *Engine) answerSyncRequest() []protocol.Envelope {
	if !e.player.Ready() {
		return nil
	}
	state := domain.PlaybackState{
		CurrentTime: e.player.CurrentTime(),
		Paused:      e.player.Paused(),
	}
	return []protocol.Envelope{protocol.NewResponseSync(state)}
}

// applySyncResponse accepts the first response observed while joining.
// Later responders are dropped, not merged: convergence is first
// responder wins. A response ahead of metadata is buffered and applied
// from OnMetadataReady.
func (e *Engine) applySyncResponse(state domain.PlaybackState) {
	if e.phase == PhaseSynced {
		return
	}
	if !e.player.Ready() {
		e.pending = &state
		log.Debug().Str("module", "sync").Msg("sync response buffered, player not ready")
		return
	}
	e.reconcile(state)
}

// reconcile makes local playback match remote. Seeks only outside the
// drift band (or when the player never started), so repeated identical
// states are no-ops.
func (e *Engine) reconcile(state domain.PlaybackState) {
	e.guard()
	local := e.player.CurrentTime()
	drift := math.Abs(local - state.CurrentTime)
	if drift > e.opts.DriftThreshold.Seconds() || local == 0 {
		e.player.SetCurrentTime(state.CurrentTime)
	}
	if state.Paused {
		e.player.Pause()
	} else if err := e.player.Play(); err != nil {
		log.Debug().Err(err).Str("module", "sync").Msg("sync play rejected by player")
	}
	e.phase = PhaseSynced
	e.pending = nil
	e.player.SetMuted(false)
	log.Info().Str("module", "sync").Float64("time", state.CurrentTime).Bool("paused", state.Paused).Msg("reconciled with room")
}

func (e *Engine) guard() {
	e.suppressUntil = e.opts.Now().Add(e.opts.GuardWindow)
}

func (e *Engine) suppressed() bool {
	return e.opts.Now().Before(e.suppressUntil)
}
