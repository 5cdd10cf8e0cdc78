package media

import (
	"context"
	"fmt"
	"time"
)

// RunCountdown samples the wall clock every interval and reports elapsed
// time until limit is reached or ctx is done. It never touches the
// operation it is visualising.
func RunCountdown(ctx context.Context, interval, limit time.Duration, onTick func(elapsed time.Duration)) {
	if interval <= 0 {
		interval = 10 * time.Millisecond
	}
	start := time.Now()
	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case now := <-ticker.C:
			elapsed := now.Sub(start)
			if limit > 0 && elapsed >= limit {
				onTick(limit)
				return
			}
			onTick(elapsed)
		}
	}
}

// FormatElapsed renders d as SS:mmm.
func FormatElapsed(d time.Duration) string {
	if d < 0 {
		d = 0
	}
	ms := d.Milliseconds()
	return fmt.Sprintf("%02d:%03d", ms/1000, ms%1000)
}
