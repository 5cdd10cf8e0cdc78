package transcoder

import (
	"context"
	"errors"
	"fmt"

	"wildfire/internal/exec"
)

type Outcome string

const (
	OutcomeSuccess   Outcome = "success"
	OutcomeCancelled Outcome = "cancelled"
	OutcomeFailed    Outcome = "failed"
)

type Step string

const (
	StepCrop              Step = "crop"
	StepThumbnail         Step = "thumbnail"
	StepCompressThumbnail Step = "compress_thumbnail"
	StepCompressVideo     Step = "compress_video"
)

// Error reports the step that stopped normalisation. Only OutcomeFailed is
// meant for the user; OutcomeCancelled is silent abandonment.
type Error struct {
	Step    Step
	Outcome Outcome
	Err     error
}

func (e *Error) Error() string {
	return fmt.Sprintf("transcode %s %s: %v", e.Step, e.Outcome, e.Err)
}

func (e *Error) Unwrap() error { return e.Err }

func IsCancelled(err error) bool {
	var transcodeErr *Error
	return errors.As(err, &transcodeErr) && transcodeErr.Outcome == OutcomeCancelled
}

func IsFailed(err error) bool {
	var transcodeErr *Error
	return errors.As(err, &transcodeErr) && transcodeErr.Outcome == OutcomeFailed
}

// ffmpeg exits with 255 when interrupted.
const interruptedExitCode = 255

// classify maps a step result onto exactly one outcome.
func classify(ctx context.Context, err error) Outcome {
	switch {
	case err == nil:
		return OutcomeSuccess
	case ctx.Err() != nil, errors.Is(err, context.Canceled), exec.ExitCode(err) == interruptedExitCode:
		return OutcomeCancelled
	default:
		return OutcomeFailed
	}
}
