// Package queue implements the download queue: an explicitly constructed
// manager owning the task map and a fixed-size worker pool that bounds
// concurrent transfers. Excess requests wait in FIFO submission order in the
// pool's backlog.
package queue

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/sirupsen/logrus"

	"github.com/clipdesk/clipdesk/internal/extract"
	"github.com/clipdesk/clipdesk/internal/fetch"
	"github.com/clipdesk/clipdesk/internal/model"
)

const (
	// TaskIDPrefix prefixes every generated task ID.
	TaskIDPrefix = "task-"

	// DefaultQueueDepth is the backlog size when none is configured.
	DefaultQueueDepth = 128

	eventBuffer = 32
)

// Fetcher executes one transfer, streaming progress events and closing the
// channel before returning. The queue manager is deliberately ignorant of
// what engine sits behind it.
type Fetcher interface {
	Download(ctx context.Context, req fetch.Request, events chan<- model.ProgressEvent) *model.Result
}

// CookieRemover releases a task's short-lived credential file.
type CookieRemover interface {
	Remove(path string)
}

// Config holds the queue manager settings.
type Config struct {
	// MaxConcurrent is the worker pool size; at most this many tasks are
	// Downloading or Processing at once.
	MaxConcurrent int

	// QueueDepth is the backlog capacity for submitted-but-not-started
	// tasks. Zero means DefaultQueueDepth.
	QueueDepth int

	// AudioAvailable gates generic audio-only requests; checked at enqueue
	// so a missing transcoder surfaces before any work is done.
	AudioAvailable bool
}

// EnqueueRequest describes one download submission. URL is the already
// resolved download URL.
type EnqueueRequest struct {
	URL         string
	OriginalURL string
	Title       string
	FormatID    string
	AudioOnly   bool
	CookieFile  string
}

// Manager owns the set of tasks and schedules their execution.
type Manager struct {
	cfg     Config
	fetcher Fetcher
	cookies CookieRemover
	log     *logrus.Entry

	mu     sync.RWMutex
	tasks  map[string]*model.Task
	order  []string
	closed bool

	runq chan *model.Task
	wg   sync.WaitGroup

	subMu sync.RWMutex
	subs  []func(model.TaskView)
}

// NewManager creates the manager and starts its worker pool. cookies may be
// nil when no credential store is in use.
func NewManager(cfg Config, fetcher Fetcher, cookies CookieRemover, logger *logrus.Logger) *Manager {
	if cfg.MaxConcurrent < 1 {
		cfg.MaxConcurrent = 1
	}
	if cfg.QueueDepth <= 0 {
		cfg.QueueDepth = DefaultQueueDepth
	}

	m := &Manager{
		cfg:     cfg,
		fetcher: fetcher,
		cookies: cookies,
		log:     logger.WithField("component", "queue"),
		tasks:   make(map[string]*model.Task),
		runq:    make(chan *model.Task, cfg.QueueDepth),
	}

	for i := 0; i < cfg.MaxConcurrent; i++ {
		m.wg.Add(1)
		go m.worker()
	}
	return m
}

// Subscribe registers a callback invoked with a task view on every progress
// update and state change. Callbacks must not block.
func (m *Manager) Subscribe(fn func(model.TaskView)) {
	m.subMu.Lock()
	defer m.subMu.Unlock()
	m.subs = append(m.subs, fn)
}

// Enqueue validates the request, creates a Pending task and submits it to
// the worker pool. It returns immediately; the transfer runs asynchronously.
func (m *Manager) Enqueue(req EnqueueRequest) (*model.Task, error) {
	if req.URL == "" {
		return nil, model.ErrURLRequired
	}
	if req.AudioOnly && !m.cfg.AudioAvailable && !extract.IsSmartPlayer(req.URL) {
		return nil, model.ErrTranscoderUnavailable
	}

	m.mu.Lock()
	defer m.mu.Unlock()
	if m.closed {
		return nil, model.ErrQueueClosed
	}

	task := model.NewTask(generateTaskID(), req.URL, req.OriginalURL, req.Title, req.FormatID, req.AudioOnly, req.CookieFile)

	select {
	case m.runq <- task:
	default:
		return nil, fmt.Errorf("download queue is full (%d waiting)", cap(m.runq))
	}

	m.tasks[task.ID] = task
	m.order = append(m.order, task.ID)
	m.log.WithField("task_id", task.ID).Infof("enqueued %s (audio_only=%v)", req.URL, req.AudioOnly)
	return task, nil
}

// Get returns a task by ID.
func (m *Manager) Get(id string) (*model.Task, bool) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	task, ok := m.tasks[id]
	return task, ok
}

// Snapshot returns a point-in-time view of every task in submission order.
// Safe to call concurrently with running workers.
func (m *Manager) Snapshot() []model.TaskView {
	m.mu.RLock()
	defer m.mu.RUnlock()

	views := make([]model.TaskView, 0, len(m.order))
	for _, id := range m.order {
		if task, ok := m.tasks[id]; ok {
			views = append(views, task.View())
		}
	}
	return views
}

// ActiveCount reports how many tasks are occupying a worker, i.e. currently
// Downloading or Processing. Queued Pending tasks are not counted.
func (m *Manager) ActiveCount() int {
	m.mu.RLock()
	defer m.mu.RUnlock()

	active := 0
	for _, task := range m.tasks {
		if task.Status().IsActive() {
			active++
		}
	}
	return active
}

// Cancel signals a task's execution to stop. Returns false if the task is
// unknown or already terminal.
func (m *Manager) Cancel(id string) bool {
	task, ok := m.Get(id)
	if !ok {
		return false
	}
	cancelled := task.Cancel()
	if cancelled {
		m.log.WithField("task_id", id).Info("cancellation requested")
		m.notify(task)
	}
	return cancelled
}

// Remove deletes a task, but only once it is terminal; an active task's
// worker still references it.
func (m *Manager) Remove(id string) bool {
	m.mu.Lock()
	defer m.mu.Unlock()

	task, ok := m.tasks[id]
	if !ok || !task.Status().IsTerminal() {
		return false
	}
	m.deleteLocked(id)
	return true
}

// ClearCompleted removes every terminal task and returns how many went away.
func (m *Manager) ClearCompleted() int {
	m.mu.Lock()
	defer m.mu.Unlock()

	removed := 0
	for _, id := range append([]string(nil), m.order...) {
		if task, ok := m.tasks[id]; ok && task.Status().IsTerminal() {
			m.deleteLocked(id)
			removed++
		}
	}
	return removed
}

// Shutdown stops intake, cancels everything still pending or running and
// returns without waiting for in-flight transfers to unwind.
func (m *Manager) Shutdown() {
	m.mu.Lock()
	if m.closed {
		m.mu.Unlock()
		return
	}
	m.closed = true
	tasks := make([]*model.Task, 0, len(m.tasks))
	for _, task := range m.tasks {
		tasks = append(tasks, task)
	}
	close(m.runq)
	m.mu.Unlock()

	for _, task := range tasks {
		task.Cancel()
	}
	m.log.Info("queue manager shut down")
}

// Wait blocks until all workers have exited. Only used by tests; Shutdown
// itself is non-blocking by design.
func (m *Manager) Wait() {
	m.wg.Wait()
}

func (m *Manager) deleteLocked(id string) {
	delete(m.tasks, id)
	for i, existing := range m.order {
		if existing == id {
			m.order = append(m.order[:i], m.order[i+1:]...)
			break
		}
	}
}

func (m *Manager) worker() {
	defer m.wg.Done()
	for task := range m.runq {
		m.run(task)
	}
}

// run executes one task to a terminal state. Any fault is confined to this
// task; a worker never dies with its task.
func (m *Manager) run(task *model.Task) {
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	if !task.TryStart(cancel) {
		// Cancelled while queued; release its credentials and move on.
		m.releaseCookies(task)
		return
	}

	log := m.log.WithField("task_id", task.ID)
	log.Infof("starting download: %s", task.URL)
	m.notify(task)

	defer func() {
		if r := recover(); r != nil {
			log.Errorf("download worker panic: %v", r)
			task.Finish(&model.Result{Err: fmt.Sprintf("internal error: %v", r)})
		}
		m.releaseCookies(task)
		m.notify(task)
	}()

	events := make(chan model.ProgressEvent, eventBuffer)
	done := make(chan struct{})
	go func() {
		defer close(done)
		for ev := range events {
			task.ApplyEvent(ev)
			m.notify(task)
		}
	}()

	result := m.fetcher.Download(ctx, fetch.Request{
		URL:        task.URL,
		FormatID:   task.FormatID,
		AudioOnly:  task.AudioOnly,
		CookieFile: task.CookieFile,
	}, events)
	<-done

	task.Finish(result)

	switch {
	case result.Success:
		log.Infof("completed: %s", result.Filename)
	case result.Cancelled:
		log.Info("cancelled")
	default:
		log.Warnf("failed: %s", result.Err)
	}
}

func (m *Manager) releaseCookies(task *model.Task) {
	if m.cookies != nil && task.CookieFile != "" {
		m.cookies.Remove(task.CookieFile)
	}
}

func (m *Manager) notify(task *model.Task) {
	m.subMu.RLock()
	subs := m.subs
	m.subMu.RUnlock()
	if len(subs) == 0 {
		return
	}
	view := task.View()
	for _, fn := range subs {
		fn(view)
	}
}

// generateTaskID returns a time-ordered unique task ID.
func generateTaskID() string {
	id, err := uuid.NewV7()
	if err != nil {
		return fmt.Sprintf(TaskIDPrefix+"%d", time.Now().UnixNano())
	}
	return TaskIDPrefix + id.String()
}
