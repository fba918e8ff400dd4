package processing

import (
	"os/exec"
	"sync"
)

// Task tracks one in-flight processing job and lets the controller cancel
// it. Cancellation is idempotent; a cancel handler set after cancellation
// already happened fires immediately on attachment.
type Task struct {
	mu        sync.Mutex
	cancelled bool
	cancelFn  func()
	proc      *exec.Cmd
}

func newTask() *Task {
	return &Task{}
}

// NewTask constructs a Task not bound to any running process. It exists so
// callers outside this package (notably controller tests) can exercise
// cancellation semantics against a stand-in Task without a real
// coordinator.
func NewTask() *Task {
	return newTask()
}

// Cancel marks the task cancelled and invokes the attached handler, if any.
// Safe to call more than once.
func (t *Task) Cancel() {
	t.mu.Lock()
	if t.cancelled {
		t.mu.Unlock()
		return
	}
	t.cancelled = true
	fn := t.cancelFn
	t.mu.Unlock()
	if fn != nil {
		fn()
	}
}

// setCancelHandler attaches fn as the action to run on cancellation. If the
// task was already cancelled, fn fires immediately, synchronously, before
// this call returns.
func (t *Task) setCancelHandler(fn func()) {
	t.mu.Lock()
	t.cancelFn = fn
	fire := t.cancelled && fn != nil
	t.mu.Unlock()
	if fire {
		fn()
	}
}

// isCancelled reports the current cancellation state.
func (t *Task) isCancelled() bool {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.cancelled
}

func (t *Task) attachProcess(cmd *exec.Cmd) {
	t.mu.Lock()
	t.proc = cmd
	t.mu.Unlock()
}

func (t *Task) terminate() {
	t.mu.Lock()
	proc := t.proc
	t.mu.Unlock()
	if proc != nil && proc.Process != nil {
		_ = proc.Process.Kill()
	}
}
