package taskctrl

import (
	"context"
	"errors"
	"sync"
)

var ErrBusy = errors.New("session already has an active generation task")

// Task is the handle for one in-flight generation. Cancellation propagates
// through the task context; the generation loop observes it between
// fragment deliveries.
type Task struct {
	sessionID string
	ctx       context.Context
	cancel    context.CancelFunc
}

// Context returns the context that is cancelled when the task is stopped.
func (t *Task) Context() context.Context { return t.ctx }

// SessionID returns the owning session.
func (t *Task) SessionID() string { return t.sessionID }

// Controller is the process-wide registry mapping a session to its active
// generation task. It enforces at most one active task per session and
// serializes access so a late cancel cannot race a completing task.
type Controller struct {
	mu    sync.Mutex
	tasks map[string]*Task
}

func NewController() *Controller {
	return &Controller{
		tasks: make(map[string]*Task),
	}
}

// Register creates and registers a task for the session. It fails with
// ErrBusy while another task for the same session is still registered. The
// task context derives from parent, so caller deadlines still apply.
func (c *Controller) Register(parent context.Context, sessionID string) (*Task, error) {
	c.mu.Lock()
	defer c.mu.Unlock()

	if _, ok := c.tasks[sessionID]; ok {
		return nil, ErrBusy
	}

	ctx, cancel := context.WithCancel(parent)
	task := &Task{
		sessionID: sessionID,
		ctx:       ctx,
		cancel:    cancel,
	}
	c.tasks[sessionID] = task
	return task, nil
}

// Cancel raises the cancellation signal for the session's active task.
// Cancelling a session with no active task is a no-op, not an error:
// stopping an already finished generation is idempotent.
func (c *Controller) Cancel(sessionID string) {
	c.mu.Lock()
	task, ok := c.tasks[sessionID]
	c.mu.Unlock()

	if ok {
		task.cancel()
	}
}

// CancelTask raises the cancellation signal for one specific task. Unlike
// Cancel it can never reach a successor task registered under the same
// session, so holders of a stale handle may cancel late without harm.
func (c *Controller) CancelTask(task *Task) {
	task.cancel()
}

// Unregister removes the task from the registry and releases its context.
// Only the task that currently owns the entry is removed, so a stale
// unregister cannot evict a successor task registered in the meantime.
func (c *Controller) Unregister(task *Task) {
	c.mu.Lock()
	if current, ok := c.tasks[task.sessionID]; ok && current == task {
		delete(c.tasks, task.sessionID)
	}
	c.mu.Unlock()

	task.cancel()
}

// Active reports whether the session currently has a registered task.
func (c *Controller) Active(sessionID string) bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	_, ok := c.tasks[sessionID]
	return ok
}

// ActiveCount returns the number of registered tasks across all sessions.
func (c *Controller) ActiveCount() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return len(c.tasks)
}
