package model

import (
	"context"
	"fmt"
	"strings"
	"sync"
	"time"
)

// Progress is a point-in-time progress record for a task. It is replaced as
// a whole on every update so snapshot readers never observe a half-written
// record.
type Progress struct {
	Percent         float64
	Speed           string // human readable speed (e.g., "1.2MB/s")
	ETA             string // formatted as hh:mm:ss, empty if unknown
	Filename        string
	DownloadedBytes int64
	TotalBytes      int64
}

// ProgressEvent is one element of the finite event stream a fetch execution
// produces. Stage is either TaskStatusDownloading or TaskStatusProcessing.
type ProgressEvent struct {
	Progress Progress
	Stage    TaskStatus
	Title    string // video title once the engine knows it, otherwise empty
}

// Result is the outcome of a fetch execution.
type Result struct {
	Success   bool
	Cancelled bool
	Filename  string
	Filepath  string
	Title     string
	Duration  int // seconds
	Err       string
}

// Task records one user-requested download from creation to terminal state.
// Identity fields are immutable after creation; everything else is guarded
// by the task's own mutex so queue snapshots can run concurrently with the
// owning worker.
type Task struct {
	ID          string
	URL         string // resolved URL handed to the fetcher
	OriginalURL string // page URL as submitted, empty when identical to URL
	FormatID    string
	AudioOnly   bool
	CookieFile  string
	CreatedAt   time.Time

	mu          sync.Mutex
	title       string
	status      TaskStatus
	progress    Progress
	errText     string
	result      *Result
	startedAt   time.Time
	completedAt time.Time
	cancel      context.CancelFunc // in-flight execution handle, nil when idle
}

// NewTask creates a Pending task. Title may be empty; the engine fills it in
// once metadata is known.
func NewTask(id, url, originalURL, title, formatID string, audioOnly bool, cookieFile string) *Task {
	return &Task{
		ID:          id,
		URL:         url,
		OriginalURL: originalURL,
		FormatID:    formatID,
		AudioOnly:   audioOnly,
		CookieFile:  cookieFile,
		CreatedAt:   time.Now(),
		title:       title,
		status:      TaskStatusPending,
	}
}

// Status returns the current status.
func (t *Task) Status() TaskStatus {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.status
}

// Title returns the current display title.
func (t *Task) Title() string {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.title
}

// Progress returns the last progress record.
func (t *Task) Progress() Progress {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.progress
}

// Result returns the fetch result, nil until the task is terminal.
func (t *Task) Result() *Result {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.result
}

// TryStart transitions Pending -> Downloading and binds the execution's
// cancellation handle. It returns false if the task is no longer Pending
// (cancelled while queued), in which case the worker must skip it.
func (t *Task) TryStart(cancel context.CancelFunc) bool {
	t.mu.Lock()
	defer t.mu.Unlock()
	if t.status != TaskStatusPending {
		return false
	}
	t.status = TaskStatusDownloading
	t.startedAt = time.Now()
	t.cancel = cancel
	return true
}

// ApplyEvent folds one progress event into the task. Events arriving after
// the task reached a terminal state are dropped.
func (t *Task) ApplyEvent(ev ProgressEvent) {
	t.mu.Lock()
	defer t.mu.Unlock()
	if t.status.IsTerminal() {
		return
	}
	if ev.Title != "" && t.title == "" {
		t.title = ev.Title
	}
	// When the engine does not know the total size, keep the last known
	// percentage instead of reporting zero.
	if ev.Progress.TotalBytes <= 0 && ev.Progress.Percent == 0 {
		ev.Progress.Percent = t.progress.Percent
	}
	t.progress = ev.Progress
	if ev.Stage == TaskStatusProcessing && t.status == TaskStatusDownloading {
		t.status = TaskStatusProcessing
	}
}

// Finish records the terminal state for a finished execution and releases
// the cancellation handle. Exactly one of the three terminal states is
// chosen from the result.
func (t *Task) Finish(r *Result) {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.cancel = nil
	if t.status.IsTerminal() {
		return
	}
	t.result = r
	t.completedAt = time.Now()
	switch {
	case r.Success:
		t.status = TaskStatusCompleted
		t.progress.Percent = 100
		t.progress.Filename = r.Filename
		if r.Title != "" {
			t.title = r.Title
		}
	case r.Cancelled:
		t.status = TaskStatusCancelled
	default:
		t.status = TaskStatusError
		t.errText = r.Err
	}
}

// Cancel requests cancellation. A Pending task is cancelled immediately; an
// active task gets its execution handle signalled and reaches Cancelled once
// the worker notices. Returns false when the task is already terminal.
func (t *Task) Cancel() bool {
	t.mu.Lock()
	defer t.mu.Unlock()
	switch {
	case t.status == TaskStatusPending:
		t.status = TaskStatusCancelled
		t.completedAt = time.Now()
		return true
	case t.status.IsActive() && t.cancel != nil:
		t.cancel()
		return true
	default:
		return false
	}
}

// TaskView is the read-only JSON representation served to polling clients.
type TaskView struct {
	ID              string     `json:"id"`
	URL             string     `json:"url"`
	OriginalURL     string     `json:"original_url,omitempty"`
	Title           string     `json:"title"`
	DisplayTitle    string     `json:"display_title"`
	Status          TaskStatus `json:"status"`
	Progress        float64    `json:"progress"`
	Speed           string     `json:"speed"`
	ETA             string     `json:"eta"`
	Filename        string     `json:"filename"`
	DownloadedBytes int64      `json:"downloaded_bytes"`
	TotalBytes      int64      `json:"total_bytes"`
	Error           string     `json:"error,omitempty"`
	CreatedAt       time.Time  `json:"created_at"`
	StartedAt       *time.Time `json:"started_at"`
	CompletedAt     *time.Time `json:"completed_at"`
}

// View returns a point-in-time copy of the task for snapshots.
func (t *Task) View() TaskView {
	t.mu.Lock()
	defer t.mu.Unlock()

	v := TaskView{
		ID:              t.ID,
		URL:             t.URL,
		OriginalURL:     t.OriginalURL,
		Title:           t.title,
		DisplayTitle:    t.displayTitle(),
		Status:          t.status,
		Progress:        t.progress.Percent,
		Speed:           t.progress.Speed,
		ETA:             t.progress.ETA,
		Filename:        t.progress.Filename,
		DownloadedBytes: t.progress.DownloadedBytes,
		TotalBytes:      t.progress.TotalBytes,
		Error:           t.errText,
		CreatedAt:       t.CreatedAt,
	}
	if !t.startedAt.IsZero() {
		started := t.startedAt
		v.StartedAt = &started
	}
	if !t.completedAt.IsZero() {
		completed := t.completedAt
		v.CompletedAt = &completed
	}
	return v
}

// DisplayTitle returns title, filename, or URL in order of preference.
func (t *Task) DisplayTitle() string {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.displayTitle()
}

// displayTitle is DisplayTitle without the lock, for use inside View.
func (t *Task) displayTitle() string {
	if t.title != "" && !strings.HasPrefix(t.title, "http") {
		return t.title
	}
	if t.progress.Filename != "" {
		name := t.progress.Filename
		if idx := strings.LastIndex(name, "."); idx > 0 {
			name = name[:idx]
		}
		return name
	}
	return t.URL
}

// FormatETA returns seconds formatted as hh:mm:ss (or mm:ss below one hour),
// or "—" if unknown.
func FormatETA(etaSec int) string {
	if etaSec <= 0 {
		return "—"
	}

	hours := etaSec / 3600
	minutes := (etaSec % 3600) / 60
	seconds := etaSec % 60

	if hours > 0 {
		return fmt.Sprintf("%02d:%02d:%02d", hours, minutes, seconds)
	}
	return fmt.Sprintf("%02d:%02d", minutes, seconds)
}
