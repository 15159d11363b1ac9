package engine

import (
	"context"
	"fmt"
	"io"
	"net/http"
	"os"
	"time"

	"github.com/shadefetch/shadefetch/internal/transport"
)

const writeChunkSize = 8 * 1024 // 8 KiB

// segmentRunner downloads one byte range of a Transfer into its own part
// file. It owns seg.PartPath exclusively and publishes Downloaded through
// t.Mu, the same lock the Registry uses for the containing Transfer.
type segmentRunner struct {
	client        *http.Client
	headers       transport.HeaderPolicy
	t             *Transfer
	seg           *Segment
	url           string
	retryCount    int
	retryDelay    time.Duration
	speedLimitBps int64 // 0 = unlimited; this segment's share of the transfer-wide limit
	bus           *Bus
}

// run drives one segment to completion, retrying the whole GET up to
// retryCount times on I/O/network error. It
// returns nil when the segment reached Completed, or when the transfer was
// paused/canceled out from under it (not an error — the Executor observes
// the transfer-wide status change). It returns a non-nil error only when
// retries are exhausted.
func (r *segmentRunner) run(ctx context.Context) error {
	var lastErr error
	for attempt := 0; attempt <= r.retryCount; attempt++ {
		if attempt > 0 {
			select {
			case <-ctx.Done():
				// Only Cancel closes ctx mid-run, after setting Canceled.
				return nil
			case <-time.After(r.retryDelay):
			}
		}

		if !r.transferDownloading() {
			return nil
		}

		r.setStatus(SegDownloading)
		done, err := r.attempt(ctx)
		if done {
			return nil
		}
		lastErr = err
		if !r.transferDownloading() {
			// Paused/Canceled mid-attempt: not a failure, let the Executor
			// decide what happens next.
			return nil
		}
	}

	r.t.Mu.Lock()
	r.seg.Status = SegFailed
	if lastErr != nil {
		r.seg.Error = lastErr.Error()
	}
	r.t.Mu.Unlock()
	return fmt.Errorf("%w: segment %d: %v", ErrSegmentFailed, r.seg.Index, lastErr)
}

// attempt issues one GET for the segment's remaining range and streams the
// body to the part file. done=true means the segment is Completed;
// done=false with a nil error means the transfer was paused/canceled.
func (r *segmentRunner) attempt(ctx context.Context) (done bool, err error) {
	start := r.seg.Start + r.segDownloaded()
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, r.url, nil)
	if err != nil {
		return false, err
	}
	req.Header.Set("Range", fmt.Sprintf("bytes=%d-%d", start, r.seg.End))
	transport.ApplyHeaders(req, r.headers)

	resp, err := r.client.Do(req)
	if err != nil {
		return false, err
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusPartialContent && resp.StatusCode/100 != 2 {
		return false, fmt.Errorf("segment %d: unexpected status %s", r.seg.Index, resp.Status)
	}

	f, err := os.OpenFile(r.seg.PartPath, os.O_CREATE|os.O_WRONLY|os.O_APPEND, 0o600)
	if err != nil {
		return false, err
	}
	defer f.Close()

	body := throttle(resp.Body, r.speedLimitBps)
	buf := make([]byte, writeChunkSize)
	for {
		if !r.transferDownloading() {
			return false, nil
		}

		n, readErr := body.Read(buf)
		if n > 0 {
			if _, werr := f.Write(buf[:n]); werr != nil {
				return false, werr
			}
			r.recordProgress(int64(n))
		}
		if readErr != nil {
			if readErr == io.EOF {
				break
			}
			return false, readErr
		}
	}

	r.t.Mu.Lock()
	r.seg.Status = SegCompleted
	r.t.Mu.Unlock()
	return true, nil
}

func (r *segmentRunner) segDownloaded() int64 {
	r.t.Mu.Lock()
	defer r.t.Mu.Unlock()
	return r.seg.Downloaded
}

func (r *segmentRunner) transferDownloading() bool {
	r.t.Mu.Lock()
	defer r.t.Mu.Unlock()
	return r.t.Status == StatusDownloading
}

func (r *segmentRunner) setStatus(s SegmentStatus) {
	r.t.Mu.Lock()
	r.seg.Status = s
	r.t.Mu.Unlock()
}

// recordProgress folds one successful write into both the segment and the
// owning transfer under a single critical section, then emits a Progress
// event outside the lock.
func (r *segmentRunner) recordProgress(n int64) {
	r.t.Mu.Lock()
	r.seg.Downloaded += n
	r.t.addProgressLocked(n)
	downloaded, total := r.t.Downloaded, r.t.Size
	r.t.Mu.Unlock()

	if r.bus != nil {
		r.bus.Emit(Event{Kind: EventProgress, ID: r.t.ID, Downloaded: downloaded, Total: total})
	}
}
