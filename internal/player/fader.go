package player

import (
	"math"
	"sync"
	"time"
)

const (
	// FadeRate is volume units per second; a full 0 to 1 sweep takes 0.5 s.
	FadeRate    = 2.0
	FadeEpsilon = 0.001
	framePeriod = 16 * time.Millisecond
)

// Level is a volume to apply to one layer: animated volume times master.
type Level struct {
	ID     string
	Volume float64
}

// Fader animates per-layer volumes toward their server targets. The frame
// loop only runs while some layer is more than FadeEpsilon from its target.
type Fader struct {
	apply func(Level)
	now   func() time.Time
	frame time.Duration

	mu       sync.Mutex
	target   map[string]float64
	animated map[string]float64
	master   float64
	running  bool
	stop     chan struct{}
	last     time.Time
}

func NewFader(apply func(Level), now func() time.Time) *Fader {
	if now == nil {
		now = time.Now
	}
	return &Fader{
		apply:    apply,
		now:      now,
		frame:    framePeriod,
		target:   make(map[string]float64),
		animated: make(map[string]float64),
		master:   1,
	}
}

// SetTargets replaces the layer set. New layers jump straight to their target;
// removed layers are forgotten. The returned levels must be applied by the
// caller; the frame loop applies everything after that.
func (f *Fader) SetTargets(targets map[string]float64) []Level {
	f.mu.Lock()
	defer f.mu.Unlock()

	var now []Level
	for id := range f.target {
		if _, ok := targets[id]; !ok {
			delete(f.target, id)
			delete(f.animated, id)
		}
	}
	for id, v := range targets {
		if _, ok := f.target[id]; !ok {
			f.animated[id] = v
			now = append(now, Level{ID: id, Volume: v * f.master})
		}
		f.target[id] = v
	}
	f.kickLocked()
	return now
}

// SetMaster changes the master volume and returns every layer's new level.
func (f *Fader) SetMaster(v float64) []Level {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.master = clamp01(v)
	out := make([]Level, 0, len(f.animated))
	for id, a := range f.animated {
		out = append(out, Level{ID: id, Volume: a * f.master})
	}
	return out
}

// Animated returns the current animated (pre-master) volume of a layer.
func (f *Fader) Animated(id string) (float64, bool) {
	f.mu.Lock()
	defer f.mu.Unlock()
	v, ok := f.animated[id]
	return v, ok
}

// Running reports whether the frame loop is active.
func (f *Fader) Running() bool {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.running
}

// Stop cancels the frame loop and drops every layer.
func (f *Fader) Stop() {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.running {
		close(f.stop)
		f.running = false
	}
	clear(f.target)
	clear(f.animated)
}

func (f *Fader) kickLocked() {
	if f.running || f.idleLocked() {
		return
	}
	f.running = true
	f.stop = make(chan struct{})
	f.last = f.now()
	go f.loop(f.stop)
}

func (f *Fader) loop(stop chan struct{}) {
	t := time.NewTicker(f.frame)
	defer t.Stop()
	for {
		select {
		case <-stop:
			return
		case <-t.C:
			levels, more := f.frameTick(stop)
			for _, l := range levels {
				f.apply(l)
			}
			if !more {
				return
			}
		}
	}
}

func (f *Fader) frameTick(stop chan struct{}) ([]Level, bool) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.stop != stop || !f.running {
		return nil, false
	}
	now := f.now()
	dt := now.Sub(f.last).Seconds()
	f.last = now
	levels := f.stepLocked(dt)
	if f.idleLocked() {
		f.running = false
		return levels, false
	}
	return levels, true
}

// stepLocked moves every animated value toward its target by FadeRate*dt
// without overshooting, and returns the levels that changed.
func (f *Fader) stepLocked(dt float64) []Level {
	if dt < 0 {
		dt = 0
	}
	maxStep := FadeRate * dt
	var out []Level
	for id, want := range f.target {
		cur := f.animated[id]
		diff := want - cur
		if math.Abs(diff) <= FadeEpsilon {
			if cur != want {
				f.animated[id] = want
				out = append(out, Level{ID: id, Volume: want * f.master})
			}
			continue
		}
		if math.Abs(diff) <= maxStep {
			cur = want
		} else {
			cur += math.Copysign(maxStep, diff)
		}
		f.animated[id] = cur
		out = append(out, Level{ID: id, Volume: cur * f.master})
	}
	return out
}

func (f *Fader) idleLocked() bool {
	for id, want := range f.target {
		if math.Abs(want-f.animated[id]) > FadeEpsilon {
			return false
		}
	}
	return true
}

func clamp01(v float64) float64 {
	return math.Max(0, math.Min(1, v))
}
