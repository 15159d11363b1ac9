package engine

import (
	"sync"
	"time"

	"github.com/shadefetch/shadefetch/internal/transport"
)

// Status is a Transfer's position in the state machine described in the
// engine design: Waiting -> Downloading <-> Paused -> {Completed, Failed, Canceled}.
type Status int

const (
	StatusWaiting Status = iota
	StatusDownloading
	StatusPaused
	StatusCompleted
	StatusFailed
	StatusCanceled
)

func (s Status) String() string {
	switch s {
	case StatusWaiting:
		return "waiting"
	case StatusDownloading:
		return "downloading"
	case StatusPaused:
		return "paused"
	case StatusCompleted:
		return "completed"
	case StatusFailed:
		return "failed"
	case StatusCanceled:
		return "canceled"
	default:
		return "unknown"
	}
}

// Terminal reports whether the status admits no further transitions.
func (s Status) Terminal() bool {
	return s == StatusCompleted || s == StatusFailed || s == StatusCanceled
}

// PrivacyMode selects the transport a Transfer is routed through. It is a
// type alias onto transport.Mode: the Selector must not import this package
// back (it would create an import cycle), so the Mode type lives in
// transport and engine reuses it under its own name.
type PrivacyMode = transport.Mode

const (
	Normal PrivacyMode = transport.ModeNormal
	Proxy  PrivacyMode = transport.ModeProxy
	Relay  PrivacyMode = transport.ModeRelay
)

// SegmentStatus is one Segment's lifecycle state, a strict subset of Status.
type SegmentStatus int

const (
	SegWaiting SegmentStatus = iota
	SegDownloading
	SegCompleted
	SegFailed
)

// Segment is one contiguous, inclusive byte range of a Transfer, downloaded
// independently into its own part file.
type Segment struct {
	Index       int
	Start       int64
	End         int64 // inclusive
	PartPath    string
	Downloaded  int64
	Status      SegmentStatus
	Error       string
}

// Transfer is the central entity: a single user-submitted download.
//
// Every field below Start/TargetDir is guarded by Mu; a Transfer must only
// be mutated through the Registry that owns its map slot, or by the single
// Executor currently driving it.
type Transfer struct {
	Mu sync.Mutex

	ID          string
	URL         string
	TargetDir   string
	Filename    string
	PrivacyMode PrivacyMode

	Size       int64 // -1 until probed, or if the server omits it
	Downloaded int64
	StartTime  time.Time
	Status     Status
	Err        string

	Segments []*Segment

	// SupportsRange and Segmented record the strategy decision made during
	// probe, for observability/tests; they do not participate in invariants.
	SupportsRange bool
	Segmented     bool

	// probed, partPath and expectedHash are Executor-private bookkeeping:
	// they let a re-dispatch after pause/resume skip probing and conflict
	// resolution a second time. Never read by the Registry or Scheduler.
	probed       bool
	partPath     string // single-stream ".part" path
	expectedHash string
}

// Snapshot is an immutable, lock-free copy of a Transfer for callers that
// enumerate via Registry.ListAll — taking this instead of the live pointer
// keeps readers out of the owning Executor's critical section.
type Snapshot struct {
	ID          string
	URL         string
	TargetDir   string
	Filename    string
	PrivacyMode PrivacyMode
	Size        int64
	Downloaded  int64
	Status      Status
	Err         string
	Speed       float64
	ETA         int64
	Segments    []Segment
}

// speedLocked returns bytes/second since StartTime, 0 before Downloading starts.
func (t *Transfer) speedLocked() float64 {
	if t.StartTime.IsZero() {
		return 0
	}
	elapsed := time.Since(t.StartTime).Seconds()
	if elapsed <= 0 {
		return 0
	}
	return float64(t.Downloaded) / elapsed
}

// etaLocked returns seconds remaining, or -1 when size or speed are unknown.
func (t *Transfer) etaLocked(speed float64) int64 {
	if t.Size <= 0 || speed <= 0 {
		return -1
	}
	remaining := t.Size - t.Downloaded
	if remaining <= 0 {
		return 0
	}
	return int64(float64(remaining) / speed)
}

// Snapshot takes the transfer's lock and copies out a point-in-time view.
func (t *Transfer) Snapshot() Snapshot {
	t.Mu.Lock()
	defer t.Mu.Unlock()

	speed := t.speedLocked()
	segs := make([]Segment, len(t.Segments))
	for i, s := range t.Segments {
		segs[i] = *s
	}
	return Snapshot{
		ID:          t.ID,
		URL:         t.URL,
		TargetDir:   t.TargetDir,
		Filename:    t.Filename,
		PrivacyMode: t.PrivacyMode,
		Size:        t.Size,
		Downloaded:  t.Downloaded,
		Status:      t.Status,
		Err:         t.Err,
		Speed:       speed,
		ETA:         t.etaLocked(speed),
		Segments:    segs,
	}
}

// addProgressLocked folds one successful write of n bytes into the
// transfer's total. Caller must hold t.Mu.
func (t *Transfer) addProgressLocked(n int64) {
	t.Downloaded += n
	if t.Size >= 0 && t.Downloaded > t.Size {
		t.Downloaded = t.Size
	}
}
