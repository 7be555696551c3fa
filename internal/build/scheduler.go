package build

import (
	"context"
	"fmt"
	"runtime"
	"sync"
	"time"

	"golang.org/x/sync/semaphore"

	"github.com/conneroisu/quill/internal/errors"
	"github.com/conneroisu/quill/internal/logging"
	"github.com/conneroisu/quill/internal/metrics"
)

// TaskType distinguishes rendered content from copied assets.
type TaskType string

const (
	TaskContent TaskType = "content"
	TaskAsset   TaskType = "asset"
)

// Task is one unit of rebuild work. Tasks are immutable once submitted.
type Task struct {
	ID       string
	FilePath string
	Type     TaskType
	Data     any
}

// Output is what a worker produces for a task.
type Output struct {
	Content      []byte
	Dependencies []string
}

// Worker executes a single task. It must honor ctx cancellation to stop
// early when the batch deadline passes.
type Worker func(ctx context.Context, task Task) (Output, error)

// Result reports the outcome of one task.
type Result struct {
	TaskID       string
	FilePath     string
	Type         TaskType
	Success      bool
	Output       []byte
	Dependencies []string
	Error        string
	Duration     time.Duration
}

// RunOptions bounds a batch.
type RunOptions struct {
	// MaxConcurrency caps live workers; zero or less means runtime.NumCPU().
	MaxConcurrency int
	// Timeout bounds the whole batch; zero means no deadline.
	Timeout time.Duration
}

// BatchStats summarizes one Run.
type BatchStats struct {
	Submitted int
	Succeeded int
	Failed    int
	TimedOut  int
	Duration  time.Duration
}

// TaskScheduler runs batches of independent tasks with bounded concurrency.
// A failing or panicking task never aborts its batch.
type TaskScheduler struct {
	logger  logging.Logger
	metrics *metrics.Metrics

	mu   sync.Mutex
	last BatchStats
}

// NewTaskScheduler creates a scheduler. m may be nil.
func NewTaskScheduler(logger logging.Logger, m *metrics.Metrics) *TaskScheduler {
	return &TaskScheduler{
		logger:  logging.OrNop(logger).WithComponent("scheduler"),
		metrics: m,
	}
}

// Run executes tasks and returns exactly one Result per task, in submission
// order. When the batch deadline passes or ctx is cancelled, tasks without a
// result are reported as failed and results arriving later are discarded.
func (s *TaskScheduler) Run(ctx context.Context, tasks []Task, worker Worker, opts RunOptions) []Result {
	if len(tasks) == 0 {
		return []Result{}
	}

	start := time.Now()

	limit := opts.MaxConcurrency
	if limit <= 0 {
		limit = runtime.NumCPU()
	}
	if limit > len(tasks) {
		limit = len(tasks)
	}

	var (
		runCtx context.Context
		cancel context.CancelFunc
	)
	if opts.Timeout > 0 {
		runCtx, cancel = context.WithTimeout(ctx, opts.Timeout)
	} else {
		runCtx, cancel = context.WithCancel(ctx)
	}
	defer cancel()

	collector := newResultCollector(len(tasks))
	sem := semaphore.NewWeighted(int64(limit))

	done := make(chan struct{})
	go func() {
		defer close(done)

		var wg sync.WaitGroup
		for i, task := range tasks {
			if err := sem.Acquire(runCtx, 1); err != nil {
				break
			}
			wg.Add(1)
			go func(i int, task Task) {
				defer wg.Done()
				defer sem.Release(1)
				collector.set(i, s.execute(runCtx, task, worker))
			}(i, task)
		}
		wg.Wait()
	}()

	select {
	case <-done:
	case <-runCtx.Done():
	}

	results, missing := collector.close(func(i int) Result {
		return s.unfinished(runCtx, tasks[i], time.Since(start))
	})

	stats := BatchStats{Submitted: len(tasks)}
	for i, r := range results {
		status := metrics.StatusSuccess
		switch {
		case r.Success:
			stats.Succeeded++
		case missing[i]:
			stats.TimedOut++
			status = metrics.StatusTimeout
		default:
			stats.Failed++
			status = metrics.StatusFailure
		}
		s.metrics.ObserveTask(string(r.Type), status)
	}
	stats.Duration = time.Since(start)
	s.metrics.ObserveBatch(stats.Duration)

	s.mu.Lock()
	s.last = stats
	s.mu.Unlock()

	s.logger.Info(ctx, "batch complete",
		"submitted", stats.Submitted,
		"succeeded", stats.Succeeded,
		"failed", stats.Failed,
		"timed_out", stats.TimedOut,
		"concurrency", limit,
		"duration", stats.Duration)

	return results
}

// LastBatch returns the statistics of the most recent Run.
func (s *TaskScheduler) LastBatch() BatchStats {
	s.mu.Lock()
	defer s.mu.Unlock()

	return s.last
}

func (s *TaskScheduler) execute(ctx context.Context, task Task, worker Worker) (result Result) {
	start := time.Now()
	result = Result{
		TaskID:   task.ID,
		FilePath: task.FilePath,
		Type:     task.Type,
	}

	defer func() {
		if r := recover(); r != nil {
			err := errors.NewBuildError(errors.ErrCodeTaskPanic,
				fmt.Sprintf("task panicked: %v", r), nil).WithPath(task.FilePath)
			s.logger.Error(ctx, err, "worker panic", "task", task.ID)
			result.Success = false
			result.Output = nil
			result.Dependencies = nil
			result.Error = err.Error()
		}
		result.Duration = time.Since(start)
	}()

	out, err := worker(ctx, task)
	if err != nil {
		result.Error = err.Error()
		if result.Error == "" {
			result.Error = "task failed"
		}
		s.logger.Debug(ctx, "task failed", "task", task.ID, "path", task.FilePath, "error", result.Error)
		return result
	}

	result.Success = true
	result.Output = out.Content
	result.Dependencies = out.Dependencies

	return result
}

func (s *TaskScheduler) unfinished(ctx context.Context, task Task, elapsed time.Duration) Result {
	var err *errors.QuillError
	if errors.Is(ctx.Err(), context.DeadlineExceeded) {
		err = errors.NewBuildError(errors.ErrCodeTaskTimeout, "task did not finish before the batch deadline", ctx.Err())
	} else {
		err = errors.NewBuildError(errors.ErrCodeTaskCancelled, "batch cancelled before the task finished", ctx.Err())
	}

	return Result{
		TaskID:   task.ID,
		FilePath: task.FilePath,
		Type:     task.Type,
		Success:  false,
		Error:    err.WithPath(task.FilePath).Error(),
		Duration: elapsed,
	}
}

// resultCollector holds one slot per task. Once closed, late results are
// dropped.
type resultCollector struct {
	mu      sync.Mutex
	results []Result
	filled  []bool
	closed  bool
}

func newResultCollector(n int) *resultCollector {
	return &resultCollector{
		results: make([]Result, n),
		filled:  make([]bool, n),
	}
}

func (c *resultCollector) set(i int, r Result) bool {
	c.mu.Lock()
	defer c.mu.Unlock()

	if c.closed {
		return false
	}
	c.results[i] = r
	c.filled[i] = true
	return true
}

// close stops collection and fills every empty slot with fill(i). The
// second return value marks the filled slots.
func (c *resultCollector) close(fill func(i int) Result) ([]Result, []bool) {
	c.mu.Lock()
	defer c.mu.Unlock()

	c.closed = true
	out := make([]Result, len(c.results))
	missing := make([]bool, len(c.results))
	for i := range c.results {
		if c.filled[i] {
			out[i] = c.results[i]
		} else {
			out[i] = fill(i)
			missing[i] = true
		}
	}
	return out, missing
}
