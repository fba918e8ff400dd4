// Package controller drives one active playback session: it turns a URL
// into a plan, a plan into a materialized artifact and HTTP handle, and
// owns the renderer attach/detach and failure-escalation lifecycle around
// it. All state mutation happens on a single internal run-loop goroutine;
// callbacks arriving from the coordinator's background worker or from the
// renderer are posted onto that loop as closures, mirroring the single
// UI-thread scheduling model the host app drives this core from.
package controller

import (
	"github.com/vplayer/core/internal/planner"
	"github.com/vplayer/core/internal/processing"
)

// BackendState is the playback session state machine.
type BackendState int

const (
	StateIdle BackendState = iota
	StatePreparing
	StateActive
	StateCompleted
)

func (s BackendState) String() string {
	switch s {
	case StateIdle:
		return "idle"
	case StatePreparing:
		return "preparing"
	case StateActive:
		return "active"
	case StateCompleted:
		return "completed"
	default:
		return "unknown"
	}
}

// RendererCallbacks is the observer set the controller wires once per
// session and clears on teardown.
type RendererCallbacks struct {
	OnReady       func()
	OnFailure     func(message string)
	OnEndOfStream func()
	OnTimeUpdate  func(seconds float64)
}

// Renderer is the external playback-engine collaborator. Attach wires the
// callback set for the session beginning playback of url; Detach clears it.
// Seek is only meaningful after OnReady has fired.
type Renderer interface {
	Attach(url string, callbacks RendererCallbacks) error
	Detach()
	Seek(seconds float64)
}

// PlaybackSession is the controller's private per-session state. It is
// only ever touched from the run-loop goroutine.
type PlaybackSession struct {
	url  string
	plan planner.PlaybackPlan

	artifact cleanupTarget
	handle   cleanupTarget
	procTask *processing.Task

	hasEscalated   bool
	awaitingReplay bool

	resumeOffset         *float64
	lastPersistedSeconds float64
}

// cleanupTarget abstracts the artifact and HTTP-handle cleanup calls so
// teardown can treat both uniformly and idempotently.
type cleanupTarget interface {
	Cleanup() error
}

func (s *PlaybackSession) setTask(t *processing.Task) {
	s.procTask = t
}

// cancelTask cancels and drops the outstanding processing task, if any.
// Idempotent: Task.Cancel is itself idempotent.
func (s *PlaybackSession) cancelTask() {
	if s.procTask != nil {
		s.procTask.Cancel()
		s.procTask = nil
	}
}
