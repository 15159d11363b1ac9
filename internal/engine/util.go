package engine

import (
	"os"
	"time"
)

// timeNow is the one clock read in the package, isolated so tests can
// reason about elapsed-time-derived fields (Speed, ETA) deterministically
// by controlling StartTime directly instead of sleeping.
func timeNow() time.Time {
	return time.Now()
}

// cleanupPartFiles removes every path, ignoring missing files — used after
// Cancel and after a failed Segmented/single-stream run so no .part* files
// survive a non-Completed terminal state.
func cleanupPartFiles(paths []string) {
	for _, p := range paths {
		if p == "" {
			continue
		}
		_ = os.Remove(p)
	}
}
