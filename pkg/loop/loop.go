// Package loop provides a cooperative scheduler: any number of goroutines may
// submit tasks, but only one task runs at a time, and a running task keeps
// the loop until it yields or returns.
package loop

import (
	"context"
	"runtime"
	"sync/atomic"

	"golang.org/x/sync/semaphore"
)

// Loop is a cooperative scheduler with a single run token.
type Loop struct {
	token *semaphore.Weighted

	tasks  atomic.Int64
	yields atomic.Int64
	active atomic.Int64
}

// Stats is a snapshot of loop counters.
type Stats struct {
	TasksRun int64 `json:"tasksRun"`
	Yields   int64 `json:"yields"`
	Active   int64 `json:"active"`
}

// task tracks whether a running task currently holds the run token. It is
// owned by the goroutine executing the task.
type task struct {
	loop *Loop
	held bool
}

type taskKey struct{}

// New creates a loop.
func New() *Loop {
	return &Loop{token: semaphore.NewWeighted(1)}
}

// Run waits for the run token and executes fn while holding it. The context
// passed to fn marks it as a task of this loop, which is what Yield uses to
// decide whether it may give the token away. The task context must not be
// shared with other goroutines.
func (l *Loop) Run(ctx context.Context, fn func(ctx context.Context) error) error {
	if err := l.token.Acquire(ctx, 1); err != nil {
		return err
	}
	l.tasks.Add(1)
	l.active.Add(1)

	t := &task{loop: l, held: true}
	defer func() {
		l.active.Add(-1)
		if t.held {
			l.token.Release(1)
		}
	}()

	return fn(context.WithValue(ctx, taskKey{}, t))
}

// Yield lets other tasks run. Called from inside a task of this loop it
// releases the run token, yields the processor and waits to get the token
// back. Called from anywhere else it only reports whether ctx is done.
func (l *Loop) Yield(ctx context.Context) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	t, _ := ctx.Value(taskKey{}).(*task)
	if t == nil || t.loop != l || !t.held {
		return nil
	}

	l.yields.Add(1)
	t.held = false
	l.token.Release(1)
	runtime.Gosched()
	if err := l.token.Acquire(ctx, 1); err != nil {
		return err
	}
	t.held = true
	return nil
}

// Stats returns the current loop counters.
func (l *Loop) Stats() Stats {
	return Stats{
		TasksRun: l.tasks.Load(),
		Yields:   l.yields.Load(),
		Active:   l.active.Load(),
	}
}
