package publish

import (
	"sync"

	"github.com/google/uuid"

	"wildfire/internal/post"
)

type State string

const (
	StateIdle                      State = "idle"
	StateUploadingThumbnail        State = "uploading_thumbnail"
	StateUploadingVideo            State = "uploading_video"
	StateRecordCreated             State = "record_created"
	StateStreamingAssetRequested   State = "streaming_asset_requested"
	StateStreamingUploadInProgress State = "streaming_upload_in_progress"
	StateFinalized                 State = "finalized"
	StateFailed                    State = "failed"
)

// Observer receives every transition of an attempt, in order.
type Observer func(attemptID string, from, to State)

// Attempt tracks one publish. It is safe for concurrent use; phase two may
// still be moving it forward after Publish returns.
type Attempt struct {
	id string

	mu          sync.Mutex
	state       State
	failedStage State
	record      *post.Record
	err         error
	streamErr   error
	degraded    bool
	done        chan struct{}
	observer    Observer
}

func newAttempt(observer Observer) *Attempt {
	return &Attempt{
		id:       uuid.NewString(),
		state:    StateIdle,
		done:     make(chan struct{}),
		observer: observer,
	}
}

func (attempt *Attempt) ID() string { return attempt.id }

func (attempt *Attempt) State() State {
	attempt.mu.Lock()
	defer attempt.mu.Unlock()
	return attempt.state
}

// FailedStage is the stage that was active when the attempt entered StateFailed.
func (attempt *Attempt) FailedStage() State {
	attempt.mu.Lock()
	defer attempt.mu.Unlock()
	return attempt.failedStage
}

// Record returns a copy of the persisted record, or nil before RecordCreated.
func (attempt *Attempt) Record() *post.Record {
	attempt.mu.Lock()
	defer attempt.mu.Unlock()
	if attempt.record == nil {
		return nil
	}
	rec := *attempt.record
	return &rec
}

// Err is the terminal error of a failed first phase. Streaming errors are
// never reported here.
func (attempt *Attempt) Err() error {
	attempt.mu.Lock()
	defer attempt.mu.Unlock()
	return attempt.err
}

// StreamingErr is the logged cause of degraded playback, if any.
func (attempt *Attempt) StreamingErr() error {
	attempt.mu.Lock()
	defer attempt.mu.Unlock()
	return attempt.streamErr
}

// Degraded reports a published post that will play from the object store.
func (attempt *Attempt) Degraded() bool {
	attempt.mu.Lock()
	defer attempt.mu.Unlock()
	return attempt.degraded
}

// Published reports whether the placeholder record exists.
func (attempt *Attempt) Published() bool {
	attempt.mu.Lock()
	defer attempt.mu.Unlock()
	return attempt.record != nil
}

// Done is closed once the attempt stops moving.
func (attempt *Attempt) Done() <-chan struct{} { return attempt.done }

type Snapshot struct {
	ID          string `json:"id"`
	State       State  `json:"state"`
	FailedStage State  `json:"failed_stage,omitempty"`
	Published   bool   `json:"published"`
	Degraded    bool   `json:"degraded"`
	PostID      int64  `json:"post_id,omitempty"`
	Error       string `json:"error,omitempty"`
}

func (attempt *Attempt) Snapshot() Snapshot {
	attempt.mu.Lock()
	defer attempt.mu.Unlock()

	s := Snapshot{
		ID:          attempt.id,
		State:       attempt.state,
		FailedStage: attempt.failedStage,
		Published:   attempt.record != nil,
		Degraded:    attempt.degraded,
	}
	if attempt.record != nil {
		s.PostID = attempt.record.ID
	}
	if attempt.err != nil {
		s.Error = attempt.err.Error()
	}
	return s
}

func (attempt *Attempt) transition(to State) {
	attempt.mu.Lock()
	from := attempt.state
	attempt.state = to
	observer := attempt.observer
	attempt.mu.Unlock()

	if observer != nil {
		observer(attempt.id, from, to)
	}
}

func (attempt *Attempt) setRecord(rec post.Record) {
	attempt.mu.Lock()
	attempt.record = &rec
	attempt.mu.Unlock()
}

func (attempt *Attempt) setPlaybackID(playbackID string) {
	attempt.mu.Lock()
	if attempt.record != nil {
		attempt.record.PlaybackID = &playbackID
	}
	attempt.mu.Unlock()
}

func (attempt *Attempt) fail(err error) State {
	attempt.mu.Lock()
	stage := attempt.state
	attempt.failedStage = stage
	attempt.err = err
	attempt.mu.Unlock()

	attempt.transition(StateFailed)
	return stage
}

func (attempt *Attempt) degrade(err error) State {
	attempt.mu.Lock()
	stage := attempt.state
	attempt.failedStage = stage
	attempt.streamErr = err
	attempt.degraded = true
	attempt.mu.Unlock()

	attempt.transition(StateFailed)
	return stage
}

func (attempt *Attempt) finish() {
	close(attempt.done)
}
