package media

import (
	"errors"
	"fmt"
	"math"
	"regexp"
)

type Kind string

const (
	KindCapture Kind = "capture"
	KindLibrary Kind = "library"
)

// Asset is a raw media handle produced by a capture or a library pick.
type Asset struct {
	Kind       Kind
	URI        string
	DurationMs int64
	Width      int
	Height     int
	// NeedsReshape is set when the aspect ratio is outside tolerance.
	NeedsReshape bool
}

func (asset *Asset) AspectRatio() float64 {
	if asset.Height == 0 {
		return 0
	}
	return float64(asset.Width) / float64(asset.Height)
}

// Constraints bound what a source will accept.
type Constraints struct {
	MinDurationMs int64
	MaxDurationMs int64
	AspectRatio   float64
	Tolerance     float64
}

const (
	TargetAspectRatio = 9.0 / 16.0
	AspectTolerance   = 0.01
	// MinFrameSide is the smallest width or height accepted.
	MinFrameSide = 32
)

func DefaultConstraints() Constraints {
	return Constraints{
		MinDurationMs: 2500,
		MaxDurationMs: 3500,
		AspectRatio:   TargetAspectRatio,
		Tolerance:     AspectTolerance,
	}
}

// OutsideTolerance reports |actual - target| > tolerance.
func (c Constraints) OutsideTolerance(actual float64) bool {
	return math.Abs(actual-c.AspectRatio) > c.Tolerance
}

// ErrCancelled means the user backed out. It is never shown as an error.
var ErrCancelled = errors.New("media: cancelled")

type ValidationError struct {
	Field  string
	Reason string
}

func (e *ValidationError) Error() string {
	return fmt.Sprintf("invalid %s: %s", e.Field, e.Reason)
}

func IsValidationError(err error) bool {
	var validationErr *ValidationError
	return errors.As(err, &validationErr)
}

// Validate rejects out-of-bounds durations and flags off-ratio media for reshape.
func Validate(asset *Asset, constraints Constraints) error {
	if asset.Width <= 0 || asset.Height <= 0 {
		return &ValidationError{Field: "dimensions", Reason: "video has no visible frames"}
	}
	if asset.Width < MinFrameSide || asset.Height < MinFrameSide {
		return &ValidationError{
			Field:  "dimensions",
			Reason: fmt.Sprintf("%dx%d is smaller than %dpx on a side", asset.Width, asset.Height, MinFrameSide),
		}
	}
	if asset.DurationMs < constraints.MinDurationMs || asset.DurationMs > constraints.MaxDurationMs {
		return &ValidationError{
			Field: "duration",
			Reason: fmt.Sprintf("%.1fs is outside %.1fs to %.1fs",
				float64(asset.DurationMs)/1000,
				float64(constraints.MinDurationMs)/1000,
				float64(constraints.MaxDurationMs)/1000),
		}
	}
	asset.NeedsReshape = constraints.OutsideTolerance(asset.AspectRatio())
	return nil
}

var usernamePattern = regexp.MustCompile(`^[a-z0-9][a-z0-9_]{2,15}$`)

// ValidateUsername checks the handle shape used at registration.
func ValidateUsername(username string) error {
	if !usernamePattern.MatchString(username) {
		return &ValidationError{
			Field:  "username",
			Reason: "must be 3-16 lowercase letters, digits or underscores and not start with an underscore",
		}
	}
	return nil
}
