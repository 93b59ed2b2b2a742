package player

import (
	"sync"
	"time"
)

// SimElement is a clock-driven MediaElement used by the headless player and
// in tests. Its position advances with the clock while playing. With a
// duration set it stops at the end and fires the ended callback; the end
// timer runs on wall time.
type SimElement struct {
	mu    sync.Mutex
	now   func() time.Time
	asset string

	duration float64
	onEnded  func()
	timer    *time.Timer
	gen      uint64

	handle  Handle
	ready   bool
	playing bool
	base    float64
	since   time.Time
	volume  float64
	closed  bool

	// BlockAutoplay makes Play fail with ErrAutoplayBlocked.
	BlockAutoplay bool
	// LoadErr, when set, is returned by Load.
	LoadErr error

	seeks int
	plays int
}

func NewSimElement(asset string, now func() time.Time) *SimElement {
	if now == nil {
		now = time.Now
	}
	return &SimElement{asset: asset, now: now, volume: 1}
}

// SetDuration sets the media length in seconds; 0 means endless.
func (e *SimElement) SetDuration(d float64) {
	e.mu.Lock()
	defer e.mu.Unlock()
	e.duration = d
	e.armLocked()
}

func (e *SimElement) Asset() string { return e.asset }

func (e *SimElement) OnEnded(fn func()) {
	e.mu.Lock()
	e.onEnded = fn
	e.mu.Unlock()
}

// End makes the element reach its natural end now.
func (e *SimElement) End() { e.finish(0) }

// finish ends playback unless gen names a timer that has since been
// replaced. gen 0 always ends.
func (e *SimElement) finish(gen uint64) {
	e.mu.Lock()
	if e.closed || !e.playing || (gen != 0 && gen != e.gen) {
		e.mu.Unlock()
		return
	}
	e.disarmLocked()
	if e.duration > 0 {
		e.base = e.duration
	} else {
		e.base = e.positionLocked()
	}
	e.playing = false
	fn := e.onEnded
	e.mu.Unlock()
	if fn != nil {
		fn()
	}
}

func (e *SimElement) armLocked() {
	e.disarmLocked()
	if e.duration <= 0 || !e.playing || e.closed {
		return
	}
	left := max(e.duration-e.positionLocked(), 0)
	gen := e.gen
	e.timer = time.AfterFunc(time.Duration(left*float64(time.Second)), func() { e.finish(gen) })
}

func (e *SimElement) disarmLocked() {
	e.gen++
	if e.timer != nil {
		e.timer.Stop()
		e.timer = nil
	}
}

func (e *SimElement) Load(h Handle) error {
	e.mu.Lock()
	defer e.mu.Unlock()
	if e.LoadErr != nil {
		return e.LoadErr
	}
	e.handle = h
	e.ready = true
	return nil
}

func (e *SimElement) Handle() Handle {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.handle
}

func (e *SimElement) Ready() bool {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.ready && !e.closed
}

func (e *SimElement) CurrentPosition() float64 {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.positionLocked()
}

func (e *SimElement) positionLocked() float64 {
	if !e.playing {
		return e.base
	}
	pos := e.base + e.now().Sub(e.since).Seconds()
	if e.duration > 0 && pos > e.duration {
		return e.duration
	}
	return pos
}

func (e *SimElement) Seek(pos float64) {
	e.mu.Lock()
	defer e.mu.Unlock()
	e.seeks++
	e.base = pos
	e.since = e.now()
	e.armLocked()
}

func (e *SimElement) Paused() bool {
	e.mu.Lock()
	defer e.mu.Unlock()
	return !e.playing
}

func (e *SimElement) Play() error {
	e.mu.Lock()
	defer e.mu.Unlock()
	if e.BlockAutoplay {
		return ErrAutoplayBlocked
	}
	if !e.playing {
		e.plays++
		e.since = e.now()
		e.playing = true
		e.armLocked()
	}
	return nil
}

func (e *SimElement) Pause() {
	e.mu.Lock()
	defer e.mu.Unlock()
	if e.playing {
		e.base = e.positionLocked()
		e.playing = false
		e.disarmLocked()
	}
}

func (e *SimElement) SetVolume(v float64) {
	e.mu.Lock()
	e.volume = v
	e.mu.Unlock()
}

func (e *SimElement) Volume() float64 {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.volume
}

// Counts returns how many seeks and play starts the element has seen.
func (e *SimElement) Counts() (seeks, plays int) {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.seeks, e.plays
}

func (e *SimElement) Close() {
	e.mu.Lock()
	e.closed = true
	e.playing = false
	e.disarmLocked()
	e.mu.Unlock()
}

func (e *SimElement) Closed() bool {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.closed
}
