package publish

import (
	"errors"
	"fmt"
)

// UploadError is terminal for an attempt: no record exists afterwards.
type UploadError struct {
	Stage State
	Err   error
}

func (e *UploadError) Error() string {
	return fmt.Sprintf("publish %s: %v", e.Stage, e.Err)
}

func (e *UploadError) Unwrap() error { return e.Err }

// StreamingError leaves a published post in degraded playback.
type StreamingError struct {
	Stage State
	Err   error
}

func (e *StreamingError) Error() string {
	return fmt.Sprintf("streaming %s: %v", e.Stage, e.Err)
}

func (e *StreamingError) Unwrap() error { return e.Err }

// FinalizeError means the streaming upload landed but the record update did not.
type FinalizeError struct {
	RecordID int64
	Err      error
}

func (e *FinalizeError) Error() string {
	return fmt.Sprintf("finalize post %d: %v", e.RecordID, e.Err)
}

func (e *FinalizeError) Unwrap() error { return e.Err }

var ErrInvalidInput = errors.New("publish: asset and owner are required")

func IsUploadError(err error) bool {
	var uploadErr *UploadError
	return errors.As(err, &uploadErr)
}
