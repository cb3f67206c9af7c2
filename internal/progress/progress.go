// Package progress replaces the source's QFutureInterface cooperative
// cancellation/pause/progress plumbing and Qt signal/slot wiring (see the
// design notes in spec.md §9) with a plain TaskHandle injected into every
// FileTask and Operation, plus a ProgressCoordinator that aggregates many
// concurrent tasks into one percentage for the CLI/TUI front-end.
package progress

import (
	"sync"
	"sync/atomic"
)

// State is the lifecycle state of a task as seen by its TaskHandle.
type State int32

const (
	StateIdle State = iota
	StateRunning
	StatePaused
	StateCanceled
	StateFinished
)

// TaskHandle is the cooperative cancel/pause/progress/result contract every
// FileTask and Operation is given. It is the Go replacement for
// QFutureInterface: tasks call ReportProgress/ReportResult/ReportException
// from worker goroutines; callers (usually a ProgressCoordinator) poll or
// subscribe to Updates().
type TaskHandle struct {
	mu       sync.Mutex
	cond     *sync.Cond
	state    atomic.Int32
	progress atomic.Int64 // 0-100
	text     string
	updates  chan Update
}

// Update is one progress tick delivered to Updates().
type Update struct {
	Progress int64
	Text     string
}

// NewTaskHandle returns an idle TaskHandle ready to be started.
func NewTaskHandle() *TaskHandle {
	h := &TaskHandle{updates: make(chan Update, 64)}
	h.cond = sync.NewCond(&h.mu)
	h.state.Store(int32(StateIdle))
	return h
}

// Start transitions an idle handle to Running. Tasks must call this before
// any I/O, per spec.md §4.3(a). A handle canceled before Start stays
// canceled, so the task stops at its first cancellation check.
func (h *TaskHandle) Start() {
	h.state.CompareAndSwap(int32(StateIdle), int32(StateRunning))
}

// IsCanceled reports whether the task should stop at its next suspension
// point (§5: block boundary, before perform(), during a prompt).
func (h *TaskHandle) IsCanceled() bool {
	return State(h.state.Load()) == StateCanceled
}

// Cancel requests cancellation. Safe to call from any goroutine, any number
// of times; also wakes anything blocked in WaitOnResume so a paused task
// reacts to cancellation instead of hanging.
func (h *TaskHandle) Cancel() {
	h.state.Store(int32(StateCanceled))
	h.mu.Lock()
	h.cond.Broadcast()
	h.mu.Unlock()
}

// Pause requests the task suspend at its next WaitOnResume call. Per
// spec.md §4.4, network transfers do not support pause: DownloadFileTask
// must translate a Pause into a Cancel with an explanatory error instead
// of calling this.
func (h *TaskHandle) Pause() {
	h.state.CompareAndSwap(int32(StateRunning), int32(StatePaused))
}

// Resume clears a pause request.
func (h *TaskHandle) Resume() {
	h.state.CompareAndSwap(int32(StatePaused), int32(StateRunning))
	h.mu.Lock()
	h.cond.Broadcast()
	h.mu.Unlock()
}

// WaitOnResume blocks while the handle is paused, per spec.md §4.3(c). It
// returns immediately if the task is not paused or has been canceled.
func (h *TaskHandle) WaitOnResume() {
	h.mu.Lock()
	defer h.mu.Unlock()
	for State(h.state.Load()) == StatePaused {
		h.cond.Wait()
	}
}

// ReportProgress records a 0-100 progress value and optional status text and
// delivers it on Updates(), dropping the update if the channel is full
// rather than blocking the worker.
func (h *TaskHandle) ReportProgress(value int64, text string) {
	h.progress.Store(value)
	h.mu.Lock()
	h.text = text
	h.mu.Unlock()
	select {
	case h.updates <- Update{Progress: value, Text: text}:
	default:
	}
}

// Progress returns the last reported progress value.
func (h *TaskHandle) Progress() int64 {
	return h.progress.Load()
}

// Updates returns the channel of progress ticks for consumers (the
// ProgressCoordinator or a direct CLI subscriber) to range over.
func (h *TaskHandle) Updates() <-chan Update {
	return h.updates
}

// Finish marks the handle Finished and closes the update channel, per
// spec.md §4.3(e): "on error ... still emit finished".
func (h *TaskHandle) Finish() {
	if State(h.state.Load()) != StateCanceled {
		h.state.Store(int32(StateFinished))
	}
	close(h.updates)
}

// Coordinator aggregates the progress of many concurrently-running tasks
// into a single percentage, matching the Downloader's aggregate-progress
// formula in spec.md §4.4: (finished_count*100 + sum(per_item_progress)) /
// total_count.
type Coordinator struct {
	mu       sync.Mutex
	total    int
	finished int
	perItem  map[*TaskHandle]int64
}

// NewCoordinator returns a Coordinator expecting total tasks to register.
func NewCoordinator(total int) *Coordinator {
	return &Coordinator{total: total, perItem: make(map[*TaskHandle]int64)}
}

// Track registers a handle with the coordinator so its progress ticks
// count toward the aggregate.
func (c *Coordinator) Track(h *TaskHandle) {
	c.mu.Lock()
	c.perItem[h] = 0
	c.mu.Unlock()
	go func() {
		for u := range h.Updates() {
			c.mu.Lock()
			c.perItem[h] = u.Progress
			c.mu.Unlock()
		}
		c.mu.Lock()
		c.finished++
		delete(c.perItem, h)
		c.mu.Unlock()
	}()
}

// Aggregate returns the current overall percentage across every tracked
// task.
func (c *Coordinator) Aggregate() int64 {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.total == 0 {
		return 100
	}
	var sum int64
	for _, p := range c.perItem {
		sum += p
	}
	return (int64(c.finished)*100 + sum) / int64(c.total)
}
