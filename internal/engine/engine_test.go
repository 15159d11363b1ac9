package engine

import (
	"fmt"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"sync"
	"testing"
	"time"
)

func newTestEngine(t *testing.T, cfg Config) *Engine {
	t.Helper()
	eng := New(cfg, nil)
	t.Cleanup(eng.Stop)
	return eng
}

func waitForTerminal(t *testing.T, eng *Engine, id string, timeout time.Duration) Snapshot {
	t.Helper()
	deadline := time.Now().Add(timeout)
	for time.Now().Before(deadline) {
		snap := eng.Get(id)
		if snap != nil && snap.Status.Terminal() {
			return *snap
		}
		time.Sleep(10 * time.Millisecond)
	}
	t.Fatalf("transfer %s did not reach a terminal status within %s", id, timeout)
	return Snapshot{}
}

// TestSingleStreamHappyPath exercises a plain unsegmented download end to end.
func TestSingleStreamHappyPath(t *testing.T) {
	body := make([]byte, 1024)
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Length", fmt.Sprintf("%d", len(body)))
		if r.Method == http.MethodHead {
			return
		}
		w.Write(body)
	}))
	defer srv.Close()

	dir := t.TempDir()
	cfg := DefaultConfig()
	cfg.ChunkEnabled = true
	cfg.ChunkMinSize = 1 << 30 // force single-stream: nothing qualifies as "big enough"
	cfg.RetryDelay = 10 * time.Millisecond
	cfg.DownloadFolder = dir

	eng := newTestEngine(t, cfg)
	var events []EventKind
	var mu sync.Mutex
	eng.Subscribe(ObserverFunc(func(e Event) {
		mu.Lock()
		events = append(events, e.Kind)
		mu.Unlock()
	}))

	id := eng.AddDownload(srv.URL+"/file.bin", dir, "file.bin", Normal)
	snap := waitForTerminal(t, eng, id, 5*time.Second)
	if snap.Status != StatusCompleted {
		t.Fatalf("expected Completed, got %s (err=%s)", snap.Status, snap.Err)
	}

	data, err := os.ReadFile(filepath.Join(dir, "file.bin"))
	if err != nil {
		t.Fatalf("expected output file: %v", err)
	}
	if len(data) != len(body) {
		t.Errorf("expected %d bytes, got %d", len(body), len(data))
	}

	mu.Lock()
	defer mu.Unlock()
	if events[0] != EventAdded || events[1] != EventStarted {
		t.Errorf("expected Added then Started first, got %v", events)
	}
	if events[len(events)-1] != EventCompleted {
		t.Errorf("expected the last event to be Completed, got %v", events[len(events)-1])
	}
}

// TestSegmentedFourWay exercises a range-supporting download split into four segments.
func TestSegmentedFourWay(t *testing.T) {
	const total = 100000
	body := make([]byte, total)
	for i := range body {
		body[i] = byte(i % 251)
	}

	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Accept-Ranges", "bytes")
		if r.Method == http.MethodHead {
			w.Header().Set("Content-Length", fmt.Sprintf("%d", total))
			return
		}
		rangeHeader := r.Header.Get("Range")
		if rangeHeader == "" {
			w.Header().Set("Content-Length", fmt.Sprintf("%d", total))
			w.Write(body)
			return
		}
		var start, end int64
		fmt.Sscanf(rangeHeader, "bytes=%d-%d", &start, &end)
		w.Header().Set("Content-Range", fmt.Sprintf("bytes %d-%d/%d", start, end, total))
		w.WriteHeader(http.StatusPartialContent)
		w.Write(body[start : end+1])
	}))
	defer srv.Close()

	dir := t.TempDir()
	cfg := DefaultConfig()
	cfg.ChunkEnabled = true
	cfg.ChunkCount = 4
	cfg.ChunkMinSize = 1024
	cfg.RetryDelay = 10 * time.Millisecond
	cfg.DownloadFolder = dir

	eng := newTestEngine(t, cfg)
	id := eng.AddDownload(srv.URL+"/big.bin", dir, "big.bin", Normal)
	snap := waitForTerminal(t, eng, id, 10*time.Second)
	if snap.Status != StatusCompleted {
		t.Fatalf("expected Completed, got %s (err=%s)", snap.Status, snap.Err)
	}
	if len(snap.Segments) != 4 {
		t.Fatalf("expected 4 segments, got %d", len(snap.Segments))
	}

	data, err := os.ReadFile(filepath.Join(dir, "big.bin"))
	if err != nil {
		t.Fatalf("expected output file: %v", err)
	}
	if len(data) != total {
		t.Fatalf("expected %d bytes, got %d", total, len(data))
	}
	for i := range data {
		if data[i] != body[i] {
			t.Fatalf("assembled file diverges from source at byte %d", i)
		}
	}

	matches, _ := filepath.Glob(filepath.Join(dir, "big.bin.part*"))
	if len(matches) != 0 {
		t.Errorf("expected no leftover part files, found %v", matches)
	}
}

// TestRetryThenSucceed checks that a transient failure is retried and the transfer still completes.
func TestRetryThenSucceed(t *testing.T) {
	var attempts int
	var mu sync.Mutex
	body := []byte("eventually ok")

	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.Method == http.MethodHead {
			w.Header().Set("Content-Length", fmt.Sprintf("%d", len(body)))
			return
		}
		mu.Lock()
		attempts++
		n := attempts
		mu.Unlock()
		if n == 1 {
			w.WriteHeader(http.StatusServiceUnavailable)
			return
		}
		w.Write(body)
	}))
	defer srv.Close()

	dir := t.TempDir()
	cfg := DefaultConfig()
	cfg.ChunkMinSize = 1 << 30
	cfg.RetryCount = 3
	cfg.RetryDelay = 50 * time.Millisecond
	cfg.DownloadFolder = dir

	eng := newTestEngine(t, cfg)
	start := time.Now()
	id := eng.AddDownload(srv.URL+"/f.txt", dir, "f.txt", Normal)
	snap := waitForTerminal(t, eng, id, 5*time.Second)
	elapsed := time.Since(start)

	if snap.Status != StatusCompleted {
		t.Fatalf("expected Completed, got %s (err=%s)", snap.Status, snap.Err)
	}
	if snap.Err != "" {
		t.Errorf("expected no error recorded, got %q", snap.Err)
	}
	if elapsed < cfg.RetryDelay {
		t.Errorf("expected at least one retry delay to elapse, took %s", elapsed)
	}
}

// TestRetryThenFail checks that exhausting all retries leaves the transfer Failed.
func TestRetryThenFail(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.Method == http.MethodHead {
			w.Header().Set("Content-Length", "10")
			return
		}
		w.WriteHeader(http.StatusServiceUnavailable)
	}))
	defer srv.Close()

	dir := t.TempDir()
	cfg := DefaultConfig()
	cfg.ChunkMinSize = 1 << 30
	cfg.RetryCount = 2
	cfg.RetryDelay = 10 * time.Millisecond
	cfg.DownloadFolder = dir

	eng := newTestEngine(t, cfg)
	id := eng.AddDownload(srv.URL+"/f.txt", dir, "f.txt", Normal)
	snap := waitForTerminal(t, eng, id, 5*time.Second)

	if snap.Status != StatusFailed {
		t.Fatalf("expected Failed, got %s", snap.Status)
	}
	if snap.Err == "" {
		t.Errorf("expected a human-readable error on Failed")
	}
	matches, _ := filepath.Glob(filepath.Join(dir, "f.txt*"))
	if len(matches) != 0 {
		t.Errorf("expected no leftover .part file, found %v", matches)
	}
}

// TestCancelMidTransfer checks that canceling a Downloading transfer leaves it Canceled with no part files.
func TestCancelMidTransfer(t *testing.T) {
	const total = 5_000_000
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.Method == http.MethodHead {
			w.Header().Set("Content-Length", fmt.Sprintf("%d", total))
			return
		}
		w.Header().Set("Content-Length", fmt.Sprintf("%d", total))
		flusher, _ := w.(http.Flusher)
		chunk := make([]byte, 4096)
		for sent := 0; sent < total; sent += len(chunk) {
			if _, err := w.Write(chunk); err != nil {
				return
			}
			if flusher != nil {
				flusher.Flush()
			}
			time.Sleep(2 * time.Millisecond)
		}
	}))
	defer srv.Close()

	dir := t.TempDir()
	cfg := DefaultConfig()
	cfg.ChunkMinSize = 1 << 30
	cfg.DownloadFolder = dir

	eng := newTestEngine(t, cfg)
	id := eng.AddDownload(srv.URL+"/big.bin", dir, "big.bin", Normal)

	// Wait until some bytes have flowed, then cancel.
	deadline := time.Now().Add(3 * time.Second)
	for time.Now().Before(deadline) {
		snap := eng.Get(id)
		if snap != nil && snap.Downloaded > 0 {
			break
		}
		time.Sleep(5 * time.Millisecond)
	}
	if err := eng.Cancel(id); err != nil {
		t.Fatalf("cancel failed: %v", err)
	}

	snap := waitForTerminal(t, eng, id, 3*time.Second)
	if snap.Status != StatusCanceled {
		t.Fatalf("expected Canceled, got %s", snap.Status)
	}
	if _, err := os.Stat(filepath.Join(dir, "big.bin")); err == nil {
		t.Errorf("expected no final file after cancel")
	}
	matches, _ := filepath.Glob(filepath.Join(dir, "big.bin*"))
	if len(matches) != 0 {
		t.Errorf("expected no leftover part files after cancel, found %v", matches)
	}
}

// TestConflictAutoRename checks that an existing file at the target path is renamed rather than overwritten.
func TestConflictAutoRename(t *testing.T) {
	body := []byte("payload")
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Length", fmt.Sprintf("%d", len(body)))
		if r.Method == http.MethodHead {
			return
		}
		w.Write(body)
	}))
	defer srv.Close()

	dir := t.TempDir()
	if err := os.WriteFile(filepath.Join(dir, "out.bin"), []byte("existing"), 0o644); err != nil {
		t.Fatalf("seed failed: %v", err)
	}

	cfg := DefaultConfig()
	cfg.ChunkMinSize = 1 << 30
	cfg.FileConflict = ConflictAutoRename
	cfg.DownloadFolder = dir

	eng := newTestEngine(t, cfg)
	id1 := eng.AddDownload(srv.URL+"/out.bin", dir, "out.bin", Normal)
	snap1 := waitForTerminal(t, eng, id1, 5*time.Second)
	if snap1.Status != StatusCompleted || snap1.Filename != "out (1).bin" {
		t.Fatalf("expected Completed as 'out (1).bin', got status=%s filename=%s", snap1.Status, snap1.Filename)
	}

	id2 := eng.AddDownload(srv.URL+"/out.bin", dir, "out.bin", Normal)
	snap2 := waitForTerminal(t, eng, id2, 5*time.Second)
	if snap2.Status != StatusCompleted || snap2.Filename != "out (2).bin" {
		t.Fatalf("expected Completed as 'out (2).bin', got status=%s filename=%s", snap2.Status, snap2.Filename)
	}
}

// TestMaxDownloadsBound checks that no more than max_downloads transfers are
// Downloading simultaneously.
func TestMaxDownloadsBound(t *testing.T) {
	var mu sync.Mutex
	active, peak := 0, 0
	release := make(chan struct{})

	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.Method == http.MethodHead {
			w.Header().Set("Content-Length", "4")
			return
		}
		mu.Lock()
		active++
		if active > peak {
			peak = active
		}
		mu.Unlock()
		<-release
		mu.Lock()
		active--
		mu.Unlock()
		w.Write([]byte("ping"))
	}))
	defer srv.Close()

	dir := t.TempDir()
	cfg := DefaultConfig()
	cfg.MaxDownloads = 2
	cfg.ChunkMinSize = 1 << 30
	cfg.DownloadFolder = dir

	eng := newTestEngine(t, cfg)
	var ids []string
	for i := 0; i < 5; i++ {
		ids = append(ids, eng.AddDownload(fmt.Sprintf("%s/f%d.bin", srv.URL, i), dir, fmt.Sprintf("f%d.bin", i), Normal))
	}

	time.Sleep(300 * time.Millisecond)
	close(release)

	for _, id := range ids {
		waitForTerminal(t, eng, id, 5*time.Second)
	}

	mu.Lock()
	defer mu.Unlock()
	if peak > cfg.MaxDownloads {
		t.Errorf("expected at most %d concurrent downloads, observed %d", cfg.MaxDownloads, peak)
	}
}
