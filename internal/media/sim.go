package media

import (
	"sync"
	"time"
)

// SimPlayer advances its position against a wall clock while playing.
// It backs the headless client and the engine tests; the Handlers
// contract matches a browser video element, so the sync engines drive
// it exactly as they would a real player.
type SimPlayer struct {
	mu       sync.Mutex
	source   string
	pos      float64
	playing  bool
	ready    bool
	muted    bool
	lastTick time.Time

	now      func() time.Time
	handlers Handlers
}

func NewSimPlayer(now func() time.Time) *SimPlayer {
	if now == nil {
		now = time.Now
	}
	return &SimPlayer{now: now}
}

// SetHandlers installs the notification callbacks. Call before wiring
// the player into a session.
func (p *SimPlayer) SetHandlers(h Handlers) {
	p.mu.Lock()
	p.handlers = h
	p.mu.Unlock()
}

// SetSource swaps the underlying video. Metadata must load again before
// the player is seekable, mirroring a src change on a video element.
func (p *SimPlayer) SetSource(url string) {
	p.mu.Lock()
	p.source = url
	p.pos = 0
	p.playing = false
	p.ready = false
	p.mu.Unlock()
}

// LoadMetadata marks the player seekable and fires the readiness
// notification.
func (p *SimPlayer) LoadMetadata() {
	p.mu.Lock()
	p.ready = true
	fire := p.handlers.MetadataReady
	p.mu.Unlock()
	if fire != nil {
		fire()
	}
}

func (p *SimPlayer) tickLocked() {
	if p.playing {
		now := p.now()
		p.pos += now.Sub(p.lastTick).Seconds()
		p.lastTick = now
	}
}

func (p *SimPlayer) CurrentTime() float64 {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.tickLocked()
	return p.pos
}

func (p *SimPlayer) SetCurrentTime(seconds float64) {
	p.mu.Lock()
	p.tickLocked()
	p.pos = seconds
	fire := p.handlers.Seeked
	p.mu.Unlock()
	if fire != nil {
		fire()
	}
}

func (p *SimPlayer) Paused() bool {
	p.mu.Lock()
	defer p.mu.Unlock()
	return !p.playing
}

func (p *SimPlayer) Play() error {
	p.mu.Lock()
	if p.playing {
		p.mu.Unlock()
		return nil
	}
	p.playing = true
	p.lastTick = p.now()
	fire := p.handlers.Play
	p.mu.Unlock()
	if fire != nil {
		fire()
	}
	return nil
}

func (p *SimPlayer) Pause() {
	p.mu.Lock()
	if !p.playing {
		p.mu.Unlock()
		return
	}
	p.tickLocked()
	p.playing = false
	fire := p.handlers.Pause
	p.mu.Unlock()
	if fire != nil {
		fire()
	}
}

func (p *SimPlayer) Ready() bool {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.ready
}

func (p *SimPlayer) SetMuted(muted bool) {
	p.mu.Lock()
	p.muted = muted
	p.mu.Unlock()
}

func (p *SimPlayer) Muted() bool {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.muted
}
