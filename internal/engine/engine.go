// Package engine is the download engine core: the Transfer/Segment data
// model, the Transport Selector, Segment Worker, Transfer Executor,
// Transfer Registry, Scheduler and Event Channel. Everything outside this
// package (settings store, privacy provider, UI/event consumers,
// hash/extract implementations) is an external collaborator the engine
// only calls through a narrow interface.
package engine

import (
	"os"
	"path/filepath"
	"strings"

	"github.com/shadefetch/shadefetch/internal/postprocess"
	"github.com/shadefetch/shadefetch/internal/privacy"
	"github.com/shadefetch/shadefetch/internal/transport"
)

// Engine is the public façade: addDownload/pause/resume/cancel/delete/
// clearCompleted/get/listAll/defaultSavePath plus event subscription.
type Engine struct {
	cfg       Config
	registry  *Registry
	bus       *Bus
	scheduler *Scheduler
	executor  *Executor
}

// New builds an Engine from a fully-resolved Config and a privacy
// provider. The engine reads cfg once here and never again.
func New(cfg Config, privacyProvider privacy.Provider) *Engine {
	bus := NewBus()
	registry := NewRegistry()
	selector := transport.NewSelector(privacyProvider)
	executor := NewExecutor(bus, selector, cfg)
	scheduler := NewScheduler(registry, bus, executor, cfg.MaxDownloads)

	e := &Engine{
		cfg:       cfg,
		registry:  registry,
		bus:       bus,
		scheduler: scheduler,
		executor:  executor,
	}
	scheduler.Start()
	return e
}

// WithPostProcess overrides the default no-op hash/extract hooks.
func (e *Engine) WithPostProcess(v postprocess.Verifier, x postprocess.Extractor) *Engine {
	if v != nil {
		e.executor.Verifier = v
	}
	if x != nil {
		e.executor.Extractor = x
	}
	return e
}

// WithConflictResolver registers the "Always ask" callback.
func (e *Engine) WithConflictResolver(r ConflictResolver) *Engine {
	e.executor.Resolver = r
	return e
}

// Subscribe registers an observer for lifecycle/progress events.
func (e *Engine) Subscribe(o Observer) {
	e.bus.Subscribe(o)
}

// AddDownload creates a Waiting transfer and enqueues it. filename and
// targetDir empty strings fall back to the derived name and the
// configured download folder, respectively.
func (e *Engine) AddDownload(url, targetDir, filename string, mode PrivacyMode) string {
	if targetDir == "" {
		targetDir = e.DefaultSavePath()
	}
	if filename == "" {
		filename = FilenameFromURL(url)
	}
	t := e.registry.Create(url, targetDir, filename, mode)
	e.bus.Emit(Event{Kind: EventAdded, ID: t.ID})
	e.scheduler.Enqueue(t.ID)
	return t.ID
}

func (e *Engine) Pause(id string) error           { return e.scheduler.Pause(id) }
func (e *Engine) Resume(id string) error          { return e.scheduler.Resume(id) }
func (e *Engine) Cancel(id string) error          { return e.scheduler.Cancel(id) }
func (e *Engine) Delete(id string) error          { return e.scheduler.Delete(id) }

// ClearCompleted deletes every transfer in a terminal status; idempotent.
func (e *Engine) ClearCompleted() {
	for _, t := range e.registry.ListAll() {
		t.Mu.Lock()
		terminal := t.Status.Terminal()
		id := t.ID
		t.Mu.Unlock()
		if terminal {
			e.bus.forget(id)
		}
	}
	e.registry.ClearCompleted()
}

// Get returns a point-in-time snapshot, or nil if id is unknown.
func (e *Engine) Get(id string) *Snapshot {
	t := e.registry.Get(id)
	if t == nil {
		return nil
	}
	snap := t.Snapshot()
	return &snap
}

// ListAll returns a snapshot of every transfer currently in the Registry.
func (e *Engine) ListAll() []Snapshot {
	all := e.registry.ListAll()
	out := make([]Snapshot, len(all))
	for i, t := range all {
		out[i] = t.Snapshot()
	}
	return out
}

// DefaultSavePath expands the configured download folder ("~/Downloads"
// by default).
func (e *Engine) DefaultSavePath() string {
	folder := e.cfg.DownloadFolder
	if folder == "" {
		folder = "~/Downloads"
	}
	if strings.HasPrefix(folder, "~") {
		home, err := os.UserHomeDir()
		if err == nil {
			folder = filepath.Join(home, strings.TrimPrefix(folder, "~"))
		}
	}
	return folder
}

// Stop drains the scheduler's worker pool. Queued transfers remain
// Waiting; in-flight ones are left to the caller to Cancel first if an
// immediate shutdown is required.
func (e *Engine) Stop() {
	e.scheduler.Stop()
}
