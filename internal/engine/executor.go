package engine

import (
	"context"
	"fmt"
	"io"
	"net"
	"net/http"
	"net/url"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"time"

	"github.com/shadefetch/shadefetch/internal/logx"
	"github.com/shadefetch/shadefetch/internal/postprocess"
	"github.com/shadefetch/shadefetch/internal/transport"
)

// Executor owns a transfer from the moment the Scheduler assigns it
// through to terminal status.
type Executor struct {
	Bus       *Bus
	Selector  *transport.Selector
	Cfg       Config
	Resolver  ConflictResolver
	Verifier  postprocess.Verifier
	Extractor postprocess.Extractor
}

// NewExecutor wires the default no-op post-process hooks.
func NewExecutor(bus *Bus, sel *transport.Selector, cfg Config) *Executor {
	return &Executor{
		Bus:       bus,
		Selector:  sel,
		Cfg:       cfg,
		Verifier:  postprocess.NoopVerifier{},
		Extractor: postprocess.NoopExtractor{},
	}
}

// Run drives t to a terminal status, or returns with t left Paused if a
// cooperative check observed a pause request mid-flight. It never leaves t
// in Downloading when it returns, except transiently before the Scheduler
// has finished its own bookkeeping (see scheduler.go).
func (ex *Executor) Run(ctx context.Context, t *Transfer) {
	client, headers, err := ex.Selector.Select(transport.Request{
		Mode:              t.PrivacyMode,
		ConnectionTimeout: ex.Cfg.ConnectionTimeout,
		UAType:            ex.Cfg.UAType,
		CustomUA:          ex.Cfg.CustomUA,
		SendReferer:       ex.Cfg.SendReferer,
	})
	if err != nil {
		ex.fail(t, err)
		return
	}

	if !ex.alreadyProbed(t) {
		if err := ex.prepare(ctx, t, client, headers); err != nil {
			if err == errSkipped {
				ex.complete(t)
				return
			}
			ex.fail(t, err)
			return
		}
	}

	if !ex.stillDownloading(t) {
		// Paused or canceled between dispatch and prepare.
		return
	}

	if ex.segmentedLocked(t) {
		ex.runSegmented(ctx, t, client, headers)
	} else {
		ex.runSingleStream(ctx, t, client, headers)
	}
}

func (ex *Executor) alreadyProbed(t *Transfer) bool {
	t.Mu.Lock()
	defer t.Mu.Unlock()
	return t.probed
}

func (ex *Executor) segmentedLocked(t *Transfer) bool {
	t.Mu.Lock()
	defer t.Mu.Unlock()
	return t.Segmented
}

func (ex *Executor) stillDownloading(t *Transfer) bool {
	t.Mu.Lock()
	defer t.Mu.Unlock()
	return t.Status == StatusDownloading
}

var errSkipped = fmt.Errorf("engine: conflict policy resolved to skip")

// prepare runs probe, conflict resolution, directory prep and strategy
// selection exactly once per transfer.
func (ex *Executor) prepare(ctx context.Context, t *Transfer, client *http.Client, headers transport.HeaderPolicy) error {
	finalURL, size, supportsRange, dispositionName, err := probe(ctx, client, headers, t.URL)
	if err != nil {
		return fmt.Errorf("%w: %v", ErrProbeFailed, err)
	}

	t.Mu.Lock()
	t.URL = finalURL
	t.Size = size
	t.SupportsRange = supportsRange
	if dispositionName != "" {
		t.Filename = dispositionName
	}
	filename := t.Filename
	targetDir := t.TargetDir
	t.Mu.Unlock()

	if err := os.MkdirAll(targetDir, 0o755); err != nil {
		return err
	}

	resolution, err := ResolveConflict(targetDir, filename, ex.Cfg.FileConflict, ex.Resolver)
	if err != nil {
		return err
	}
	if resolution.Skip {
		return errSkipped
	}

	segmented := supportsRange && ex.Cfg.ChunkEnabled && size >= ex.Cfg.ChunkMinSize && ex.Cfg.ChunkMinSize > 0

	t.Mu.Lock()
	t.Filename = resolution.Filename
	t.Segmented = segmented
	t.probed = true
	if segmented {
		t.Segments = partitionSegments(size, ex.Cfg.ChunkCount, targetDir, resolution.Filename)
	} else {
		t.partPath = filepath.Join(targetDir, resolution.Filename+".part")
	}
	t.Mu.Unlock()
	return nil
}

// probe issues a HEAD request to resolve the final URL, content length,
// range support and any Content-Disposition filename.
func probe(ctx context.Context, client *http.Client, headers transport.HeaderPolicy, rawURL string) (finalURL string, size int64, supportsRange bool, dispositionName string, err error) {
	logResolvedIPv4(ctx, rawURL)

	req, err := http.NewRequestWithContext(ctx, http.MethodHead, rawURL, nil)
	if err != nil {
		return "", -1, false, "", err
	}
	transport.ApplyHeaders(req, headers)

	resp, err := client.Do(req)
	if err != nil {
		return "", -1, false, "", err
	}
	defer resp.Body.Close()

	size = int64(-1)
	if cl := resp.Header.Get("Content-Length"); cl != "" {
		var v int64
		if _, scanErr := fmt.Sscanf(cl, "%d", &v); scanErr == nil && v >= 0 {
			size = v
		}
	}
	supportsRange = hasAcceptRanges(resp.Header.Get("Accept-Ranges"))
	if name, ok := FilenameFromContentDisposition(resp.Header.Get("Content-Disposition")); ok {
		dispositionName = name
	}

	final := rawURL
	if resp.Request != nil && resp.Request.URL != nil {
		final = resp.Request.URL.String()
	}
	return final, size, supportsRange, dispositionName, nil
}

func hasAcceptRanges(v string) bool {
	return len(v) >= 5 && (v == "bytes" || v[:5] == "bytes")
}

// logResolvedIPv4 resolves the target host and logs its IPv4 addresses
// before the probe request goes out, a diagnostic line useful for telling
// a stalled DNS resolution apart from a stalled connection. Best-effort:
// a lookup failure here is not reported, since the probe's own request
// will surface the real DNS error momentarily.
func logResolvedIPv4(ctx context.Context, rawURL string) {
	u, err := url.Parse(rawURL)
	if err != nil || u.Hostname() == "" {
		return
	}
	addrs, err := net.DefaultResolver.LookupIPAddr(ctx, u.Hostname())
	if err != nil {
		return
	}
	var v4 []string
	for _, a := range addrs {
		if ip := a.IP.To4(); ip != nil {
			v4 = append(v4, ip.String())
		}
	}
	if len(v4) > 0 {
		logx.Infof("resolve ip: %s\n", strings.Join(v4, " | "))
	}
}

// partitionSegments splits [0, size-1] into count contiguous ranges, each
// floor(size/count) wide except the last, which absorbs the remainder.
func partitionSegments(size int64, count int, targetDir, filename string) []*Segment {
	if count < 1 {
		count = 1
	}
	segs := make([]*Segment, count)
	width := size / int64(count)
	for i := 0; i < count; i++ {
		start := width * int64(i)
		var end int64
		if i < count-1 {
			end = width*int64(i+1) - 1
		} else {
			end = size - 1
		}
		segs[i] = &Segment{
			Index:    i,
			Start:    start,
			End:      end,
			PartPath: filepath.Join(targetDir, fmt.Sprintf("%s.part%06d", filename, i)),
			Status:   SegWaiting,
		}
	}
	return segs
}

// runSegmented spawns one Segment Worker per range and assembles the
// result.
func (ex *Executor) runSegmented(ctx context.Context, t *Transfer, client *http.Client, headers transport.HeaderPolicy) {
	t.Mu.Lock()
	segs := t.Segments
	url := t.URL
	t.Mu.Unlock()

	// Split the transfer-wide limit evenly across segments so N parallel
	// segments don't each independently re-spend the full budget.
	var perSegmentBps int64
	if ex.Cfg.SpeedLimitBps > 0 && len(segs) > 0 {
		perSegmentBps = ex.Cfg.SpeedLimitBps / int64(len(segs))
		if perSegmentBps < 1 {
			perSegmentBps = 1
		}
	}

	errCh := make(chan error, len(segs))
	for _, seg := range segs {
		go func(seg *Segment) {
			runner := &segmentRunner{
				client:        client,
				headers:       headers,
				t:             t,
				seg:           seg,
				url:           url,
				retryCount:    ex.Cfg.RetryCount,
				retryDelay:    ex.Cfg.RetryDelay,
				speedLimitBps: perSegmentBps,
				bus:           ex.Bus,
			}
			errCh <- runner.run(ctx)
		}(seg)
	}

	var firstErr error
	for range segs {
		if err := <-errCh; err != nil && firstErr == nil {
			firstErr = err
		}
	}

	if !ex.stillDownloading(t) {
		// Paused or Canceled: let the Scheduler observe it. Cleanup of
		// part files on Cancel happens at cancellation time (scheduler.go),
		// not here.
		return
	}

	if firstErr != nil {
		ex.cleanupParts(segmentPaths(segs))
		ex.fail(t, firstErr)
		return
	}

	if err := ex.assemble(t, segs); err != nil {
		ex.cleanupParts(segmentPaths(segs))
		ex.fail(t, fmt.Errorf("%w: %v", ErrAssemblyFailed, err))
		return
	}

	ex.cleanupParts(segmentPaths(segs))
	ex.postProcessAndComplete(t)
}

func segmentPaths(segs []*Segment) []string {
	paths := make([]string, len(segs))
	for i, s := range segs {
		paths[i] = s.PartPath
	}
	return paths
}

// assemble concatenates part files in index order into the final file.
func (ex *Executor) assemble(t *Transfer, segs []*Segment) error {
	sorted := append([]*Segment(nil), segs...)
	sort.Slice(sorted, func(i, j int) bool { return sorted[i].Index < sorted[j].Index })

	t.Mu.Lock()
	dest := filepath.Join(t.TargetDir, t.Filename)
	t.Mu.Unlock()

	out, err := os.OpenFile(dest, os.O_CREATE|os.O_WRONLY|os.O_TRUNC, 0o644)
	if err != nil {
		return err
	}
	defer out.Close()

	for _, seg := range sorted {
		in, err := os.Open(seg.PartPath)
		if err != nil {
			return err
		}
		_, err = io.Copy(out, in)
		in.Close()
		if err != nil {
			return err
		}
	}
	return nil
}

// runSingleStream streams the whole body, retrying the entire GET up to
// RetryCount times.
func (ex *Executor) runSingleStream(ctx context.Context, t *Transfer, client *http.Client, headers transport.HeaderPolicy) {
	t.Mu.Lock()
	url := t.URL
	partPath := t.partPath
	t.Mu.Unlock()

	var lastErr error
	for attempt := 0; attempt <= ex.Cfg.RetryCount; attempt++ {
		if attempt > 0 {
			select {
			case <-ctx.Done():
				// Cancel always sets a terminal status before closing ctx
				// (scheduler.go), so the stillDownloading check just below
				// observes it and returns without touching status here.
			case <-time.After(ex.Cfg.RetryDelay):
			}
		}
		if !ex.stillDownloading(t) {
			return
		}

		done, err := ex.singleStreamAttempt(ctx, t, client, headers, url, partPath)
		if done {
			dest := ex.renameToFinal(t, partPath)
			if dest == "" {
				ex.fail(t, fmt.Errorf("%w: rename failed", ErrAssemblyFailed))
				return
			}
			ex.postProcessAndComplete(t)
			return
		}
		lastErr = err
		if !ex.stillDownloading(t) {
			return
		}
	}

	ex.cleanupParts([]string{partPath})
	if lastErr == nil {
		lastErr = fmt.Errorf("retries exhausted")
	}
	ex.fail(t, lastErr)
}

func (ex *Executor) singleStreamAttempt(ctx context.Context, t *Transfer, client *http.Client, headers transport.HeaderPolicy, url, partPath string) (done bool, err error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, url, nil)
	if err != nil {
		return false, err
	}
	transport.ApplyHeaders(req, headers)

	resp, err := client.Do(req)
	if err != nil {
		return false, err
	}
	defer resp.Body.Close()
	if resp.StatusCode/100 != 2 {
		return false, fmt.Errorf("unexpected status %s", resp.Status)
	}

	f, err := os.OpenFile(partPath, os.O_CREATE|os.O_WRONLY|os.O_TRUNC, 0o600)
	if err != nil {
		return false, err
	}
	defer f.Close()

	body := throttleShapeio(resp.Body, ex.Cfg.SpeedLimitBps)
	buf := make([]byte, writeChunkSize)
	t.Mu.Lock()
	t.Downloaded = 0
	t.Mu.Unlock()

	for {
		if !ex.stillDownloading(t) {
			return false, nil
		}
		n, readErr := body.Read(buf)
		if n > 0 {
			if _, werr := f.Write(buf[:n]); werr != nil {
				return false, werr
			}
			t.Mu.Lock()
			t.addProgressLocked(int64(n))
			downloaded, total := t.Downloaded, t.Size
			t.Mu.Unlock()
			ex.Bus.Emit(Event{Kind: EventProgress, ID: t.ID, Downloaded: downloaded, Total: total})
		}
		if readErr != nil {
			if readErr == io.EOF {
				break
			}
			return false, readErr
		}
	}
	return true, nil
}

func (ex *Executor) renameToFinal(t *Transfer, partPath string) string {
	t.Mu.Lock()
	dest := filepath.Join(t.TargetDir, t.Filename)
	t.Mu.Unlock()
	if err := os.Rename(partPath, dest); err != nil {
		return ""
	}
	return dest
}

func (ex *Executor) cleanupParts(paths []string) {
	for _, p := range paths {
		_ = os.Remove(p)
	}
}

// postProcessAndComplete runs the hash-verify / auto-extract hooks.
// Failures here never demote Completed; they are logged as warnings instead.
func (ex *Executor) postProcessAndComplete(t *Transfer) {
	t.Mu.Lock()
	dest := filepath.Join(t.TargetDir, t.Filename)
	filename := t.Filename
	expected := t.expectedHash
	t.Mu.Unlock()

	if ex.Cfg.VerifyHash && expected != "" {
		ok, err := ex.Verifier.Verify(dest, expected)
		if err != nil {
			logx.Warnf("hash verification errored for %s: %v\n", filename, err)
		} else if !ok {
			logx.Warnf("hash verification failed for %s\n", filename)
		}
	}
	if ex.Cfg.AutoExtract && postprocess.IsArchive(filename) {
		if _, err := ex.Extractor.Extract(dest, filepath.Dir(dest)); err != nil {
			logx.Warnf("auto-extract errored for %s: %v\n", filename, err)
		}
	}

	ex.complete(t)
}

func (ex *Executor) complete(t *Transfer) {
	t.Mu.Lock()
	t.Status = StatusCompleted
	t.Mu.Unlock()
	ex.Bus.Emit(Event{Kind: EventCompleted, ID: t.ID})
}

func (ex *Executor) fail(t *Transfer, err error) {
	t.Mu.Lock()
	t.Status = StatusFailed
	t.Err = err.Error()
	msg := t.Err
	t.Mu.Unlock()
	ex.Bus.Emit(Event{Kind: EventFailed, ID: t.ID, Err: msg})
}
