// Package media defines the playback primitive the sync engine drives,
// and a clock-driven implementation for headless clients and tests.
package media

// Player is the one media-playback primitive a session owns. Play may
// fail (autoplay policy on real backends); callers swallow the error and
// let the next sync exchange correct any drift.
type Player interface {
	CurrentTime() float64
	SetCurrentTime(seconds float64)
	Paused() bool
	Play() error
	Pause()
	// Ready reports whether enough metadata is loaded to seek.
	Ready() bool
	SetMuted(muted bool)
	Muted() bool
}

// Handlers are the discrete playback notifications a player emits. They
// fire for every state change, remote-applied ones included, exactly as
// a real video element does; echo suppression is the sync engine's job.
type Handlers struct {
	Play          func()
	Pause         func()
	Seeked        func()
	MetadataReady func()
}
