package player

import (
	"context"
	"sync"
	"time"

	"github.com/rs/zerolog/log"

	"github.com/dkeye/Stagehand/internal/domain"
)

// FetchFunc downloads an asset's bytes when the cache misses.
type FetchFunc func(ctx context.Context, assetID string) ([]byte, error)

// ElementFactory creates an unloaded element for an asset.
type ElementFactory func(assetID string) MediaElement

// EndedFunc receives the asset and playlist index of a track that played
// to its end.
type EndedFunc func(assetID string, index int)

type EngineConfig struct {
	Cache      BlobCache
	Fetch      FetchFunc
	NewElement ElementFactory
	Now        func() time.Time
	// OnTrackEnded is told when the single-asset element ends naturally.
	OnTrackEnded EndedFunc
}

type track struct {
	assetID string
	el      MediaElement
	handle  Handle
	cancel  context.CancelFunc
	closed  bool

	// timestamp of the snapshot whose end was already reported
	reported   bool
	reportedAt int64
}

// Engine owns the local media for one client. Single-asset and sequential
// playback use one element; layered playback uses one element per layer.
type Engine struct {
	ctx   context.Context
	cache BlobCache
	fetch FetchFunc
	newEl ElementFactory
	now   func() time.Time
	ended EndedFunc
	fader *Fader

	mu     sync.Mutex
	last   *domain.PlaybackState
	single *track
	layers map[string]*track
	master float64
	wg     sync.WaitGroup
}

func NewEngine(ctx context.Context, cfg EngineConfig) *Engine {
	if cfg.Now == nil {
		cfg.Now = time.Now
	}
	e := &Engine{
		ctx:    ctx,
		cache:  cfg.Cache,
		fetch:  cfg.Fetch,
		newEl:  cfg.NewElement,
		now:    cfg.Now,
		ended:  cfg.OnTrackEnded,
		layers: make(map[string]*track),
		master: 1,
	}
	e.fader = NewFader(e.applyLevel, cfg.Now)
	return e
}

// Apply reconciles local media against a new snapshot.
func (e *Engine) Apply(s domain.PlaybackState) {
	e.mu.Lock()
	defer e.mu.Unlock()

	timing := e.last == nil || TimingChanged(*e.last, s)
	snap := s.Clone()
	e.last = &snap

	if s.Layered() {
		e.closeTrackLocked(e.single)
		e.single = nil
		e.syncLayersLocked(snap)
		if timing {
			for _, t := range e.layers {
				e.reconcileLocked(t)
			}
		}
		return
	}

	if len(e.layers) > 0 {
		e.teardownLayersLocked()
	}
	id := domain.StrVal(s.AssetID)
	if e.single != nil && e.single.assetID != id {
		e.closeTrackLocked(e.single)
		e.single = nil
	}
	if e.single == nil && s.AssetID != nil {
		t := e.openLocked(id)
		t.el.SetVolume(e.master)
		t.el.OnEnded(func() { e.trackEnded(t) })
		e.single = t
	}
	if timing && e.single != nil {
		e.reconcileLocked(e.single)
	}
}

// Resync applies a full snapshot and reconciles every element regardless of
// what was applied before, as after a (re)join.
func (e *Engine) Resync(s domain.PlaybackState) {
	e.mu.Lock()
	e.last = nil
	e.mu.Unlock()
	e.Apply(s)
}

// SetMaster sets the local master volume.
func (e *Engine) SetMaster(v float64) {
	levels := e.fader.SetMaster(v)
	e.mu.Lock()
	defer e.mu.Unlock()
	e.master = clamp01(v)
	if e.single != nil {
		e.single.el.SetVolume(e.master)
	}
	for _, l := range levels {
		if t, ok := e.layers[l.ID]; ok {
			t.el.SetVolume(l.Volume)
		}
	}
}

// Reset drops all media, as on reload or leaving a campaign.
func (e *Engine) Reset() {
	e.mu.Lock()
	defer e.mu.Unlock()
	e.closeTrackLocked(e.single)
	e.single = nil
	e.teardownLayersLocked()
	e.last = nil
}

// Reload drops all media and empties the blob cache, as a hard reload
// would. The next snapshot starts from a cold cache.
func (e *Engine) Reload() {
	e.Reset()
	e.wg.Wait()
	e.cache.Purge()
}

// Wait blocks until in-flight loads finish.
func (e *Engine) Wait() { e.wg.Wait() }

// Snapshot returns the last applied playback state, if any.
func (e *Engine) Snapshot() (domain.PlaybackState, bool) {
	e.mu.Lock()
	defer e.mu.Unlock()
	if e.last == nil {
		return domain.PlaybackState{}, false
	}
	return e.last.Clone(), true
}

// Single returns the element of the current single-asset track.
func (e *Engine) Single() (MediaElement, bool) {
	e.mu.Lock()
	defer e.mu.Unlock()
	if e.single == nil {
		return nil, false
	}
	return e.single.el, true
}

// Layer returns the element playing a layer.
func (e *Engine) Layer(assetID string) (MediaElement, bool) {
	e.mu.Lock()
	defer e.mu.Unlock()
	t, ok := e.layers[assetID]
	if !ok {
		return nil, false
	}
	return t.el, true
}

func (e *Engine) Fader() *Fader { return e.fader }

// trackEnded reports the natural end of the single track at most once per
// playback snapshot, and only while the room still plays that asset.
func (e *Engine) trackEnded(t *track) {
	e.mu.Lock()
	s := e.last
	if t.closed || e.single != t || s == nil || !s.Playing ||
		domain.StrVal(s.AssetID) != t.assetID ||
		(t.reported && t.reportedAt == s.Timestamp) {
		e.mu.Unlock()
		return
	}
	t.reported = true
	t.reportedAt = s.Timestamp
	index := s.PlaylistIndex
	e.mu.Unlock()

	log.Debug().Str("module", "player").Str("asset", t.assetID).Int("index", index).Msg("track ended")
	if e.ended != nil {
		e.ended(t.assetID, index)
	}
}

func (e *Engine) syncLayersLocked(s domain.PlaybackState) {
	for id, t := range e.layers {
		if _, ok := s.LayerVolumes[id]; !ok {
			e.closeTrackLocked(t)
			delete(e.layers, id)
		}
	}
	for id := range s.LayerVolumes {
		if _, ok := e.layers[id]; !ok {
			e.layers[id] = e.openLocked(id)
		}
	}
	for _, l := range e.fader.SetTargets(s.LayerVolumes) {
		if t, ok := e.layers[l.ID]; ok {
			t.el.SetVolume(l.Volume)
		}
	}
}

func (e *Engine) teardownLayersLocked() {
	e.fader.Stop()
	for id, t := range e.layers {
		e.closeTrackLocked(t)
		delete(e.layers, id)
	}
}

func (e *Engine) applyLevel(l Level) {
	e.mu.Lock()
	defer e.mu.Unlock()
	if t, ok := e.layers[l.ID]; ok {
		t.el.SetVolume(l.Volume)
	}
}

// openLocked creates the element now and resolves its blob in the
// background; transport is applied once the element is ready.
func (e *Engine) openLocked(assetID string) *track {
	ctx, cancel := context.WithCancel(e.ctx)
	t := &track{assetID: assetID, el: e.newEl(assetID), cancel: cancel}
	e.wg.Add(1)
	go e.load(ctx, t)
	return t
}

func (e *Engine) load(ctx context.Context, t *track) {
	defer e.wg.Done()

	h, ok := e.cache.Get(t.assetID)
	if !ok {
		blob, err := e.fetch(ctx, t.assetID)
		if err != nil {
			if ctx.Err() == nil {
				log.Warn().Err(err).Str("module", "player").Str("asset", t.assetID).Msg("asset fetch failed")
			}
			return
		}
		h = e.cache.Put(t.assetID, blob)
	}

	e.mu.Lock()
	defer e.mu.Unlock()
	if t.closed {
		e.cache.Revoke(h)
		return
	}
	t.handle = h
	if err := t.el.Load(h); err != nil {
		log.Warn().Err(err).Str("module", "player").Str("asset", t.assetID).Msg("element load failed")
		return
	}
	e.reconcileLocked(t)
}

func (e *Engine) reconcileLocked(t *track) {
	if e.last == nil {
		return
	}
	if err := Reconcile(t.el, *e.last, e.now()); err != nil {
		log.Warn().Err(err).Str("module", "player").Str("asset", t.assetID).Msg("reconcile failed")
	}
}

func (e *Engine) closeTrackLocked(t *track) {
	if t == nil || t.closed {
		return
	}
	t.closed = true
	t.cancel()
	t.el.Close()
	if t.handle != "" {
		e.cache.Revoke(t.handle)
		t.handle = ""
	}
}
