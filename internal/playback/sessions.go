package playback

import (
	"context"
	"fmt"
	"sync"
)

type Event string

const (
	EventEnded     Event = "ended"
	EventReEngage  Event = "reengage"
	EventEnterView Event = "enter"
	EventLeaveView Event = "leave"
	EventBlur      Event = "blur"
)

// ViewerFunc counts a view for postID by viewerID.
type ViewerFunc func(ctx context.Context, postID int64, viewerID string)

type sessionKey struct {
	postID   int64
	viewerID string
}

// Sessions keeps one Governor per (post, viewer) for players driven over
// the API. A session is dropped once its player leaves view or focus.
type Sessions struct {
	mu      sync.Mutex
	players map[sessionKey]*Governor
	onView  ViewerFunc
}

func NewSessions(onView ViewerFunc) *Sessions {
	return &Sessions{players: make(map[sessionKey]*Governor), onView: onView}
}

type Snapshot struct {
	State        State `json:"state"`
	Loops        int   `json:"loops"`
	ShowReengage bool  `json:"show_reengage"`
}

// Apply feeds event to the viewer's player for postID.
func (sessions *Sessions) Apply(ctx context.Context, postID int64, viewerID string, event Event) (Snapshot, error) {
	switch event {
	case EventEnded, EventReEngage, EventEnterView, EventLeaveView, EventBlur:
	default:
		return Snapshot{}, fmt.Errorf("unknown player event %q", event)
	}
	key := sessionKey{postID, viewerID}

	sessions.mu.Lock()
	governor, ok := sessions.players[key]
	if !ok {
		governor = NewGovernor(func(ctx context.Context) {
			if sessions.onView != nil {
				sessions.onView(ctx, postID, viewerID)
			}
		})
		sessions.players[key] = governor
	}
	sessions.mu.Unlock()

	switch event {
	case EventEnded:
		governor.ClipEnded()
	case EventReEngage:
		governor.ReEngage(ctx)
	case EventEnterView:
		governor.EnterView(ctx)
	case EventLeaveView:
		governor.LeaveView()
		sessions.forget(key)
	case EventBlur:
		governor.LoseFocus()
		sessions.forget(key)
	}

	return Snapshot{State: governor.State(), Loops: governor.Loops(), ShowReengage: governor.ShowReengage()}, nil
}

// Len is the number of live sessions.
func (sessions *Sessions) Len() int {
	sessions.mu.Lock()
	defer sessions.mu.Unlock()
	return len(sessions.players)
}

func (sessions *Sessions) forget(key sessionKey) {
	sessions.mu.Lock()
	delete(sessions.players, key)
	sessions.mu.Unlock()
}
