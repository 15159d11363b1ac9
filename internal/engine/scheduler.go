package engine

import (
	"context"
	"fmt"
	"sync"
)

// Scheduler is the bounded worker pool: a FIFO queue of ids and W
// long-lived workers, W = MaxDownloads fixed at construction (not
// dynamically resized).
type Scheduler struct {
	registry *Registry
	bus      *Bus
	executor *Executor

	queue   *idQueue
	workers int

	mu      sync.Mutex
	cancels map[string]context.CancelFunc
	active  map[string]bool

	wg       sync.WaitGroup
	stopOnce sync.Once
	stopCh   chan struct{}
}

func NewScheduler(registry *Registry, bus *Bus, executor *Executor, workers int) *Scheduler {
	if workers < 1 {
		workers = 1
	}
	return &Scheduler{
		registry: registry,
		bus:      bus,
		executor: executor,
		queue:    newIDQueue(),
		workers:  workers,
		cancels:  make(map[string]context.CancelFunc),
		active:   make(map[string]bool),
		stopCh:   make(chan struct{}),
	}
}

// Start launches the W worker goroutines. Safe to call once.
func (s *Scheduler) Start() {
	for i := 0; i < s.workers; i++ {
		s.wg.Add(1)
		go s.workerLoop()
	}
}

// Stop signals every worker to exit after its current transfer and waits
// for them to drain. Queued-but-undispatched ids are left in place.
func (s *Scheduler) Stop() {
	s.stopOnce.Do(func() {
		close(s.stopCh)
		s.queue.closeForDrain()
	})
	s.wg.Wait()
}

// Enqueue appends id to the FIFO queue; used by both the add path and the
// resume re-enqueue path.
func (s *Scheduler) Enqueue(id string) {
	s.queue.push(id)
}

func (s *Scheduler) workerLoop() {
	defer s.wg.Done()
	for {
		select {
		case <-s.stopCh:
			return
		default:
		}
		id, ok := s.queue.pop()
		if !ok {
			return
		}

		t := s.registry.Get(id)
		if t == nil {
			continue
		}

		s.mu.Lock()
		if s.active[id] {
			// A previous Executor for this id has not returned yet (it can
			// only still be mid-flight here if Resume raced its own
			// pause-observation return); re-queue and let that Executor
			// finish instead of running two at once.
			s.mu.Unlock()
			s.queue.push(id)
			continue
		}
		s.mu.Unlock()

		t.Mu.Lock()
		eligible := t.Status == StatusWaiting
		if eligible {
			t.Status = StatusDownloading
			t.StartTime = timeNow()
		}
		t.Mu.Unlock()
		if !eligible {
			// Absent, terminal or paused: drop and continue.
			continue
		}

		s.mu.Lock()
		s.active[id] = true
		s.mu.Unlock()

		s.bus.Emit(Event{Kind: EventStarted, ID: id})

		ctx, cancel := context.WithCancel(context.Background())
		s.mu.Lock()
		s.cancels[id] = cancel
		s.mu.Unlock()

		s.executor.Run(ctx, t)

		s.mu.Lock()
		delete(s.cancels, id)
		delete(s.active, id)
		s.mu.Unlock()
		cancel()

		t.Mu.Lock()
		stillDownloading := t.Status == StatusDownloading
		if stillDownloading {
			t.Status = StatusFailed
			t.Err = "executor returned without reaching a terminal status"
		}
		t.Mu.Unlock()
		if stillDownloading {
			s.bus.Emit(Event{Kind: EventFailed, ID: id, Err: "executor returned without reaching a terminal status"})
		}
	}
}

// Pause moves a Downloading transfer to Paused. The Executor observes the
// change at its next cooperative check point and returns without
// committing a terminal status.
func (s *Scheduler) Pause(id string) error {
	t := s.registry.Get(id)
	if t == nil {
		return fmt.Errorf("engine: pause %s: %w", id, ErrNotFound)
	}
	t.Mu.Lock()
	if t.Status != StatusDownloading {
		t.Mu.Unlock()
		return nil
	}
	t.Status = StatusPaused
	t.Mu.Unlock()
	s.bus.Emit(Event{Kind: EventPaused, ID: id})
	return nil
}

// Resume moves a Paused transfer to Waiting and re-enqueues it.
func (s *Scheduler) Resume(id string) error {
	t := s.registry.Get(id)
	if t == nil {
		return fmt.Errorf("engine: resume %s: %w", id, ErrNotFound)
	}
	t.Mu.Lock()
	if t.Status != StatusPaused {
		t.Mu.Unlock()
		return nil
	}
	t.Status = StatusWaiting
	t.Mu.Unlock()
	s.bus.Emit(Event{Kind: EventResumed, ID: id})
	s.Enqueue(id)
	return nil
}

// Cancel sets Canceled from any non-terminal state and signals any
// in-flight Executor to drop its work on its next cooperative check.
func (s *Scheduler) Cancel(id string) error {
	t := s.registry.Get(id)
	if t == nil {
		return fmt.Errorf("engine: cancel %s: %w", id, ErrNotFound)
	}
	t.Mu.Lock()
	if t.Status.Terminal() {
		t.Mu.Unlock()
		return nil
	}
	t.Status = StatusCanceled
	parts := partPathsLocked(t)
	t.Mu.Unlock()

	s.mu.Lock()
	if cancel, ok := s.cancels[id]; ok {
		cancel()
	}
	s.mu.Unlock()

	cleanupPartFiles(parts)
	s.bus.Emit(Event{Kind: EventCanceled, ID: id})
	return nil
}

// Delete cancels id if active, then removes it from the Registry. Any
// surviving worker will see "absent" on its next Registry.Get and bail.
func (s *Scheduler) Delete(id string) error {
	_ = s.Cancel(id)
	s.registry.Delete(id)
	s.bus.forget(id)
	return nil
}

func partPathsLocked(t *Transfer) []string {
	if t.Segmented {
		paths := make([]string, len(t.Segments))
		for i, seg := range t.Segments {
			paths[i] = seg.PartPath
		}
		return paths
	}
	if t.partPath != "" {
		return []string{t.partPath}
	}
	return nil
}
