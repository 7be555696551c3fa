package build

import (
	"context"
	"fmt"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/conneroisu/quill/internal/errors"
	"github.com/conneroisu/quill/internal/logging"
	"github.com/conneroisu/quill/internal/metrics"
)

func makeTasks(n int) []Task {
	tasks := make([]Task, n)
	for i := range tasks {
		path := fmt.Sprintf("content/page-%d.md", i)
		tasks[i] = Task{ID: path, FilePath: path, Type: TaskContent}
	}
	return tasks
}

func TestRunEmptyBatch(t *testing.T) {
	s := NewTaskScheduler(logging.NewNop(), nil)

	called := false
	results := s.Run(context.Background(), nil, func(context.Context, Task) (Output, error) {
		called = true
		return Output{}, nil
	}, RunOptions{})

	require.NotNil(t, results)
	assert.Empty(t, results)
	assert.False(t, called)
}

func TestRunOneResultPerTask(t *testing.T) {
	s := NewTaskScheduler(logging.NewNop(), metrics.New(nil))
	tasks := makeTasks(20)

	results := s.Run(context.Background(), tasks, func(_ context.Context, task Task) (Output, error) {
		return Output{Content: []byte(task.ID), Dependencies: []string{"layouts/default.html"}}, nil
	}, RunOptions{MaxConcurrency: 4})

	require.Len(t, results, len(tasks))
	for i, r := range results {
		assert.Equal(t, tasks[i].ID, r.TaskID)
		assert.True(t, r.Success)
		assert.Equal(t, tasks[i].ID, string(r.Output))
		assert.Equal(t, []string{"layouts/default.html"}, r.Dependencies)
		assert.Empty(t, r.Error)
	}

	stats := s.LastBatch()
	assert.Equal(t, 20, stats.Submitted)
	assert.Equal(t, 20, stats.Succeeded)
}

func TestRunIsolatesFailures(t *testing.T) {
	s := NewTaskScheduler(logging.NewNop(), nil)
	tasks := makeTasks(6)

	results := s.Run(context.Background(), tasks, func(_ context.Context, task Task) (Output, error) {
		switch task.ID {
		case "content/page-1.md":
			return Output{}, fmt.Errorf("render exploded")
		case "content/page-3.md":
			panic("worker bug")
		}
		return Output{Content: []byte("ok")}, nil
	}, RunOptions{MaxConcurrency: 2})

	require.Len(t, results, 6)
	for _, r := range results {
		switch r.TaskID {
		case "content/page-1.md":
			assert.False(t, r.Success)
			assert.Equal(t, "render exploded", r.Error)
		case "content/page-3.md":
			assert.False(t, r.Success)
			assert.Contains(t, r.Error, errors.ErrCodeTaskPanic)
			assert.Contains(t, r.Error, "worker bug")
		default:
			assert.True(t, r.Success, r.TaskID)
		}
	}

	stats := s.LastBatch()
	assert.Equal(t, 4, stats.Succeeded)
	assert.Equal(t, 2, stats.Failed)
}

func TestRunRespectsConcurrencyLimit(t *testing.T) {
	s := NewTaskScheduler(logging.NewNop(), nil)

	var live, peak int32
	results := s.Run(context.Background(), makeTasks(30), func(context.Context, Task) (Output, error) {
		n := atomic.AddInt32(&live, 1)
		for {
			p := atomic.LoadInt32(&peak)
			if n <= p || atomic.CompareAndSwapInt32(&peak, p, n) {
				break
			}
		}
		time.Sleep(2 * time.Millisecond)
		atomic.AddInt32(&live, -1)
		return Output{}, nil
	}, RunOptions{MaxConcurrency: 3})

	assert.Len(t, results, 30)
	assert.LessOrEqual(t, atomic.LoadInt32(&peak), int32(3))
	assert.Greater(t, atomic.LoadInt32(&peak), int32(0))
}

func TestRunTimeout(t *testing.T) {
	s := NewTaskScheduler(logging.NewNop(), nil)
	tasks := makeTasks(4)
	release := make(chan struct{})
	defer close(release)

	results := s.Run(context.Background(), tasks, func(ctx context.Context, task Task) (Output, error) {
		if task.ID == "content/page-0.md" {
			return Output{Content: []byte("fast")}, nil
		}
		// ignores ctx on purpose to produce a late result
		<-release
		return Output{Content: []byte("late")}, nil
	}, RunOptions{MaxConcurrency: 4, Timeout: 50 * time.Millisecond})

	require.Len(t, results, 4)
	assert.True(t, results[0].Success)
	for _, r := range results[1:] {
		assert.False(t, r.Success)
		assert.Contains(t, r.Error, errors.ErrCodeTaskTimeout)
		assert.Nil(t, r.Output)
	}
	assert.Equal(t, 3, s.LastBatch().TimedOut)
}

func TestRunParentCancellation(t *testing.T) {
	s := NewTaskScheduler(logging.NewNop(), nil)
	ctx, cancel := context.WithCancel(context.Background())

	var started int32
	go func() {
		for atomic.LoadInt32(&started) == 0 {
			time.Sleep(time.Millisecond)
		}
		cancel()
	}()

	results := s.Run(ctx, makeTasks(3), func(ctx context.Context, task Task) (Output, error) {
		atomic.StoreInt32(&started, 1)
		<-ctx.Done()
		return Output{}, ctx.Err()
	}, RunOptions{MaxConcurrency: 1})

	require.Len(t, results, 3)
	for _, r := range results {
		assert.False(t, r.Success)
		assert.NotEmpty(t, r.Error)
	}
}

func TestResultCollectorDropsLateResults(t *testing.T) {
	c := newResultCollector(2)
	assert.True(t, c.set(0, Result{TaskID: "a", Success: true}))

	results, missing := c.close(func(i int) Result { return Result{TaskID: "filled"} })
	assert.Equal(t, []bool{false, true}, missing)
	assert.Equal(t, "a", results[0].TaskID)
	assert.Equal(t, "filled", results[1].TaskID)

	assert.False(t, c.set(1, Result{TaskID: "late"}))
}
