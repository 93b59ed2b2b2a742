// Package player is the client half of playback sync: it keeps local media
// elements aligned with the room's latest playback snapshot.
package player

import (
	"errors"
	"math"
	"time"

	"github.com/dkeye/Stagehand/internal/domain"
)

var (
	// ErrAutoplayBlocked is returned by MediaElement.Play when the host
	// refuses to start media without a user gesture. It is never fatal.
	ErrAutoplayBlocked = errors.New("autoplay blocked")
	ErrConnectionLost  = errors.New("connection lost")
)

// HardSeekThreshold is the drift, in seconds, beyond which an element is
// seeked instead of left alone.
const HardSeekThreshold = 0.5

// MediaElement is one local audio/video/image sink.
type MediaElement interface {
	// Load binds the element to a resolved blob. Until it returns the element
	// is not Ready and transport changes are deferred.
	Load(h Handle) error
	Ready() bool
	CurrentPosition() float64
	Seek(pos float64)
	Paused() bool
	Play() error
	Pause()
	SetVolume(v float64)
	// OnEnded registers fn to run, outside any element lock, each time
	// playback reaches the natural end of the media.
	OnEnded(fn func())
	Close()
}

// TimingChanged reports whether next differs from prev in a way that needs
// transport reconciliation. Queue and volume edits do not.
func TimingChanged(prev, next domain.PlaybackState) bool {
	return domain.StrVal(prev.AssetID) != domain.StrVal(next.AssetID) ||
		(prev.AssetID == nil) != (next.AssetID == nil) ||
		prev.Playing != next.Playing ||
		prev.Position != next.Position ||
		prev.Timestamp != next.Timestamp
}

// Reconcile drives el toward s as of now. A non-ready element is left
// untouched; the caller re-runs Reconcile once it becomes ready.
func Reconcile(el MediaElement, s domain.PlaybackState, now time.Time) error {
	if !el.Ready() {
		return nil
	}
	target := s.PositionAt(now)
	if math.Abs(el.CurrentPosition()-target) > HardSeekThreshold {
		el.Seek(target)
	}
	switch {
	case s.Playing && el.Paused():
		if err := el.Play(); err != nil && !errors.Is(err, ErrAutoplayBlocked) {
			return err
		}
	case !s.Playing && !el.Paused():
		el.Pause()
	}
	return nil
}
