package playback

import (
	"context"
	"sync"
)

type State string

const (
	StatePlaying State = "playing"
	StateLooping State = "looping"
	StatePaused  State = "paused"
)

// PauseAfterLoops is the number of natural clip ends before autoplay stops.
const PauseAfterLoops = 3

// ViewFunc is fired when a view should be counted.
type ViewFunc func(ctx context.Context)

// Governor is the per-player loop state machine:
// Playing -> Looping(1) -> Looping(2) -> Paused on the third clip end.
type Governor struct {
	mu           sync.Mutex
	state        State
	loops        int
	showReengage bool
	onView       ViewFunc
}

func NewGovernor(onView ViewFunc) *Governor {
	return &Governor{state: StatePlaying, onView: onView}
}

// ClipEnded records a natural end of clip and returns the new state.
func (governor *Governor) ClipEnded() State {
	governor.mu.Lock()
	defer governor.mu.Unlock()

	if governor.state == StatePaused {
		return governor.state
	}
	governor.loops++
	if governor.loops >= PauseAfterLoops {
		governor.state = StatePaused
		governor.showReengage = true
	} else {
		governor.state = StateLooping
	}
	return governor.state
}

// ReEngage is the explicit "watch again" action. It resets the loop count,
// resumes playback and counts another view.
func (governor *Governor) ReEngage(ctx context.Context) State {
	governor.mu.Lock()
	governor.reset()
	onView := governor.onView
	governor.mu.Unlock()

	if onView != nil {
		onView(ctx)
	}
	return StatePlaying
}

// EnterView resumes a player scrolled back into view with a fresh loop count.
func (governor *Governor) EnterView(ctx context.Context) State {
	return governor.ReEngage(ctx)
}

// LeaveView pauses a player scrolled out of view.
func (governor *Governor) LeaveView() State {
	return governor.forcePause()
}

// LoseFocus pauses when the owning screen loses navigation focus.
func (governor *Governor) LoseFocus() State {
	return governor.forcePause()
}

func (governor *Governor) forcePause() State {
	governor.mu.Lock()
	defer governor.mu.Unlock()

	governor.state = StatePaused
	return governor.state
}

func (governor *Governor) reset() {
	governor.state = StatePlaying
	governor.loops = 0
	governor.showReengage = false
}

func (governor *Governor) State() State {
	governor.mu.Lock()
	defer governor.mu.Unlock()
	return governor.state
}

func (governor *Governor) Loops() int {
	governor.mu.Lock()
	defer governor.mu.Unlock()
	return governor.loops
}

// ShowReengage reports whether the fade-in "watch again" affordance is up.
func (governor *Governor) ShowReengage() bool {
	governor.mu.Lock()
	defer governor.mu.Unlock()
	return governor.showReengage
}
