package queue

import (
	"context"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/sirupsen/logrus"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/clipdesk/clipdesk/internal/fetch"
	"github.com/clipdesk/clipdesk/internal/model"
)

// fetcherFunc adapts a function to the Fetcher interface.
type fetcherFunc func(ctx context.Context, req fetch.Request, events chan<- model.ProgressEvent) *model.Result

func (f fetcherFunc) Download(ctx context.Context, req fetch.Request, events chan<- model.ProgressEvent) *model.Result {
	return f(ctx, req, events)
}

// instantSuccess completes immediately after emitting one progress event.
func instantSuccess() Fetcher {
	return fetcherFunc(func(ctx context.Context, req fetch.Request, events chan<- model.ProgressEvent) *model.Result {
		defer close(events)
		events <- model.ProgressEvent{
			Stage:    model.TaskStatusDownloading,
			Progress: model.Progress{Percent: 50, DownloadedBytes: 100, TotalBytes: 200},
		}
		return &model.Result{Success: true, Filename: "video.mp4", Title: "Video"}
	})
}

// blockUntilCancelled holds the worker until the task is cancelled.
func blockUntilCancelled() Fetcher {
	return fetcherFunc(func(ctx context.Context, req fetch.Request, events chan<- model.ProgressEvent) *model.Result {
		defer close(events)
		<-ctx.Done()
		return &model.Result{Cancelled: true, Err: model.ErrCancelled.Error()}
	})
}

func newTestManager(t *testing.T, cfg Config, f Fetcher) *Manager {
	t.Helper()
	logger := logrus.New()
	logger.SetLevel(logrus.ErrorLevel)
	m := NewManager(cfg, f, nil, logger)
	t.Cleanup(m.Shutdown)
	return m
}

func waitForStatus(t *testing.T, task *model.Task, want model.TaskStatus) {
	t.Helper()
	deadline := time.Now().Add(3 * time.Second)
	for time.Now().Before(deadline) {
		if task.Status() == want {
			return
		}
		time.Sleep(10 * time.Millisecond)
	}
	t.Fatalf("task %s never reached %s, stuck at %s", task.ID, want, task.Status())
}

func TestEnqueue_Validation(t *testing.T) {
	m := newTestManager(t, Config{MaxConcurrent: 1}, instantSuccess())

	_, err := m.Enqueue(EnqueueRequest{})
	assert.ErrorIs(t, err, model.ErrURLRequired)

	// Generic audio-only without ffmpeg is rejected before a task exists.
	_, err = m.Enqueue(EnqueueRequest{URL: "https://youtube.com/watch?v=a", AudioOnly: true})
	assert.ErrorIs(t, err, model.ErrTranscoderUnavailable)
	assert.Empty(t, m.Snapshot())

	// SmartPlayer audio is a direct sibling download; no transcoder needed
	// at admission time.
	_, err = m.Enqueue(EnqueueRequest{URL: "https://stream.smartplayer.io/aa/bb/x_720p.mp4", AudioOnly: true})
	assert.NoError(t, err)
}

func TestTaskReachesCompleted(t *testing.T) {
	m := newTestManager(t, Config{MaxConcurrent: 1}, instantSuccess())

	task, err := m.Enqueue(EnqueueRequest{URL: "https://youtube.com/watch?v=a"})
	require.NoError(t, err)

	waitForStatus(t, task, model.TaskStatusCompleted)
	view := task.View()
	assert.Equal(t, 100.0, view.Progress)
	assert.Equal(t, "video.mp4", view.Filename)
	assert.Equal(t, "Video", view.Title)
	assert.NotNil(t, view.CompletedAt)
}

func TestTaskReachesError(t *testing.T) {
	m := newTestManager(t, Config{MaxConcurrent: 1}, fetcherFunc(
		func(ctx context.Context, req fetch.Request, events chan<- model.ProgressEvent) *model.Result {
			defer close(events)
			return &model.Result{Err: "HTTP Error 403: Forbidden"}
		}))

	task, err := m.Enqueue(EnqueueRequest{URL: "https://youtube.com/watch?v=a"})
	require.NoError(t, err)

	waitForStatus(t, task, model.TaskStatusError)
	assert.Equal(t, "HTTP Error 403: Forbidden", task.View().Error)
}

func TestWorkerSurvivesPanic(t *testing.T) {
	m := newTestManager(t, Config{MaxConcurrent: 1}, fetcherFunc(
		func(ctx context.Context, req fetch.Request, events chan<- model.ProgressEvent) *model.Result {
			close(events)
			panic("engine blew up")
		}))

	task, err := m.Enqueue(EnqueueRequest{URL: "https://youtube.com/watch?v=a"})
	require.NoError(t, err)
	waitForStatus(t, task, model.TaskStatusError)

	// The worker that recovered must still be able to run the next task.
	m.fetcher = instantSuccess()
	next, err := m.Enqueue(EnqueueRequest{URL: "https://youtube.com/watch?v=b"})
	require.NoError(t, err)
	waitForStatus(t, next, model.TaskStatusCompleted)
}

func TestConcurrencyBound(t *testing.T) {
	var active, maxActive int64
	release := make(chan struct{})

	m := newTestManager(t, Config{MaxConcurrent: 2}, fetcherFunc(
		func(ctx context.Context, req fetch.Request, events chan<- model.ProgressEvent) *model.Result {
			defer close(events)
			cur := atomic.AddInt64(&active, 1)
			for {
				old := atomic.LoadInt64(&maxActive)
				if cur <= old || atomic.CompareAndSwapInt64(&maxActive, old, cur) {
					break
				}
			}
			<-release
			atomic.AddInt64(&active, -1)
			return &model.Result{Success: true}
		}))

	tasks := make([]*model.Task, 0, 5)
	for i := 0; i < 5; i++ {
		task, err := m.Enqueue(EnqueueRequest{URL: "https://youtube.com/watch?v=a"})
		require.NoError(t, err)
		tasks = append(tasks, task)
	}

	// Let two transfers start, then release everything.
	time.Sleep(100 * time.Millisecond)
	close(release)

	for _, task := range tasks {
		waitForStatus(t, task, model.TaskStatusCompleted)
	}
	assert.LessOrEqual(t, atomic.LoadInt64(&maxActive), int64(2),
		"more tasks ran concurrently than the pool allows")
}

func TestActiveCountExcludesQueued(t *testing.T) {
	release := make(chan struct{})
	m := newTestManager(t, Config{MaxConcurrent: 1}, fetcherFunc(
		func(ctx context.Context, req fetch.Request, events chan<- model.ProgressEvent) *model.Result {
			defer close(events)
			<-release
			return &model.Result{Success: true}
		}))

	first, err := m.Enqueue(EnqueueRequest{URL: "https://youtube.com/watch?v=a"})
	require.NoError(t, err)
	second, err := m.Enqueue(EnqueueRequest{URL: "https://youtube.com/watch?v=b"})
	require.NoError(t, err)

	waitForStatus(t, first, model.TaskStatusDownloading)

	// One task holds the worker; the queued one does not count as active.
	assert.Equal(t, 1, m.ActiveCount())

	close(release)
	waitForStatus(t, first, model.TaskStatusCompleted)
	waitForStatus(t, second, model.TaskStatusCompleted)
	assert.Equal(t, 0, m.ActiveCount())
}

func TestCancelPendingIsImmediate(t *testing.T) {
	release := make(chan struct{})
	var downloads int64

	m := newTestManager(t, Config{MaxConcurrent: 1}, fetcherFunc(
		func(ctx context.Context, req fetch.Request, events chan<- model.ProgressEvent) *model.Result {
			defer close(events)
			atomic.AddInt64(&downloads, 1)
			<-release
			return &model.Result{Success: true}
		}))

	first, err := m.Enqueue(EnqueueRequest{URL: "https://youtube.com/watch?v=a"})
	require.NoError(t, err)
	waitForStatus(t, first, model.TaskStatusDownloading)

	// The second task sits in the backlog; cancelling it takes effect now.
	second, err := m.Enqueue(EnqueueRequest{URL: "https://youtube.com/watch?v=b"})
	require.NoError(t, err)
	require.Equal(t, model.TaskStatusPending, second.Status())

	assert.True(t, m.Cancel(second.ID))
	assert.Equal(t, model.TaskStatusCancelled, second.Status())

	close(release)
	waitForStatus(t, first, model.TaskStatusCompleted)

	// The cancelled task must never have reached the fetcher.
	assert.Eventually(t, func() bool {
		return atomic.LoadInt64(&downloads) == 1
	}, time.Second, 10*time.Millisecond)
}

func TestCancelDownloading(t *testing.T) {
	m := newTestManager(t, Config{MaxConcurrent: 1}, blockUntilCancelled())

	task, err := m.Enqueue(EnqueueRequest{URL: "https://youtube.com/watch?v=a"})
	require.NoError(t, err)
	waitForStatus(t, task, model.TaskStatusDownloading)

	assert.True(t, m.Cancel(task.ID))
	waitForStatus(t, task, model.TaskStatusCancelled)

	// A second cancel on a terminal task reports failure.
	assert.False(t, m.Cancel(task.ID))
}

func TestCancelUnknown(t *testing.T) {
	m := newTestManager(t, Config{MaxConcurrent: 1}, instantSuccess())
	assert.False(t, m.Cancel("task-nope"))
}

func TestRemoveOnlyTerminal(t *testing.T) {
	release := make(chan struct{})
	m := newTestManager(t, Config{MaxConcurrent: 1}, fetcherFunc(
		func(ctx context.Context, req fetch.Request, events chan<- model.ProgressEvent) *model.Result {
			defer close(events)
			<-release
			return &model.Result{Success: true}
		}))

	task, err := m.Enqueue(EnqueueRequest{URL: "https://youtube.com/watch?v=a"})
	require.NoError(t, err)
	waitForStatus(t, task, model.TaskStatusDownloading)

	assert.False(t, m.Remove(task.ID), "active task must not be removable")

	close(release)
	waitForStatus(t, task, model.TaskStatusCompleted)

	assert.True(t, m.Remove(task.ID))
	assert.Empty(t, m.Snapshot())
	assert.False(t, m.Remove(task.ID), "second remove finds nothing")
}

func TestClearCompleted(t *testing.T) {
	release := make(chan struct{})
	m := newTestManager(t, Config{MaxConcurrent: 3}, fetcherFunc(
		func(ctx context.Context, req fetch.Request, events chan<- model.ProgressEvent) *model.Result {
			defer close(events)
			if req.URL == "https://youtube.com/watch?v=slow" {
				<-release
			}
			return &model.Result{Success: true}
		}))

	fast1, err := m.Enqueue(EnqueueRequest{URL: "https://youtube.com/watch?v=a"})
	require.NoError(t, err)
	fast2, err := m.Enqueue(EnqueueRequest{URL: "https://youtube.com/watch?v=b"})
	require.NoError(t, err)
	slow, err := m.Enqueue(EnqueueRequest{URL: "https://youtube.com/watch?v=slow"})
	require.NoError(t, err)

	waitForStatus(t, fast1, model.TaskStatusCompleted)
	waitForStatus(t, fast2, model.TaskStatusCompleted)
	waitForStatus(t, slow, model.TaskStatusDownloading)

	assert.Equal(t, 2, m.ClearCompleted())

	views := m.Snapshot()
	require.Len(t, views, 1)
	assert.Equal(t, slow.ID, views[0].ID)

	close(release)
	waitForStatus(t, slow, model.TaskStatusCompleted)
}

func TestSnapshotOrder(t *testing.T) {
	m := newTestManager(t, Config{MaxConcurrent: 1}, instantSuccess())

	first, err := m.Enqueue(EnqueueRequest{URL: "https://youtube.com/watch?v=a"})
	require.NoError(t, err)
	second, err := m.Enqueue(EnqueueRequest{URL: "https://youtube.com/watch?v=b"})
	require.NoError(t, err)

	views := m.Snapshot()
	require.Len(t, views, 2)
	assert.Equal(t, first.ID, views[0].ID)
	assert.Equal(t, second.ID, views[1].ID)
}

func TestSubscribe(t *testing.T) {
	m := newTestManager(t, Config{MaxConcurrent: 1}, instantSuccess())

	var mu sync.Mutex
	var statuses []model.TaskStatus
	m.Subscribe(func(view model.TaskView) {
		mu.Lock()
		statuses = append(statuses, view.Status)
		mu.Unlock()
	})

	task, err := m.Enqueue(EnqueueRequest{URL: "https://youtube.com/watch?v=a"})
	require.NoError(t, err)
	waitForStatus(t, task, model.TaskStatusCompleted)

	assert.Eventually(t, func() bool {
		mu.Lock()
		defer mu.Unlock()
		return len(statuses) > 0 && statuses[len(statuses)-1] == model.TaskStatusCompleted
	}, time.Second, 10*time.Millisecond)
}

type recordingRemover struct {
	mu    sync.Mutex
	paths []string
}

func (r *recordingRemover) Remove(path string) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.paths = append(r.paths, path)
}

func TestCookieFileReleasedAfterRun(t *testing.T) {
	remover := &recordingRemover{}
	logger := logrus.New()
	logger.SetLevel(logrus.ErrorLevel)
	m := NewManager(Config{MaxConcurrent: 1}, instantSuccess(), remover, logger)
	t.Cleanup(m.Shutdown)

	task, err := m.Enqueue(EnqueueRequest{URL: "https://youtube.com/watch?v=a", CookieFile: "/tmp/cookies_x.txt"})
	require.NoError(t, err)
	waitForStatus(t, task, model.TaskStatusCompleted)

	assert.Eventually(t, func() bool {
		remover.mu.Lock()
		defer remover.mu.Unlock()
		return len(remover.paths) == 1 && remover.paths[0] == "/tmp/cookies_x.txt"
	}, time.Second, 10*time.Millisecond)
}

func TestShutdown(t *testing.T) {
	logger := logrus.New()
	logger.SetLevel(logrus.ErrorLevel)
	m := NewManager(Config{MaxConcurrent: 1}, blockUntilCancelled(), nil, logger)

	running, err := m.Enqueue(EnqueueRequest{URL: "https://youtube.com/watch?v=a"})
	require.NoError(t, err)
	waitForStatus(t, running, model.TaskStatusDownloading)

	queued, err := m.Enqueue(EnqueueRequest{URL: "https://youtube.com/watch?v=b"})
	require.NoError(t, err)

	m.Shutdown()

	// Queued work is cancelled outright; running work is signalled.
	assert.Equal(t, model.TaskStatusCancelled, queued.Status())
	waitForStatus(t, running, model.TaskStatusCancelled)

	_, err = m.Enqueue(EnqueueRequest{URL: "https://youtube.com/watch?v=c"})
	assert.ErrorIs(t, err, model.ErrQueueClosed)

	// Workers drain and exit once the queue is closed.
	m.Wait()
}
