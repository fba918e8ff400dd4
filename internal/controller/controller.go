package controller

import (
	"context"

	"github.com/hashicorp/go-hclog"

	"github.com/vplayer/core/internal/diagnostics"
	"github.com/vplayer/core/internal/perr"
	"github.com/vplayer/core/internal/planner"
	"github.com/vplayer/core/internal/processing"
	"github.com/vplayer/core/internal/streamserver"
)

// Planner is the subset of *planner.Planner the controller depends on.
type Planner interface {
	Plan(ctx context.Context, url string) (planner.PlaybackPlan, error)
	ForcedTranscodePlan(ctx context.Context, url string) planner.PlaybackPlan
}

// Coordinator is the subset of *processing.Coordinator the controller
// depends on.
type Coordinator interface {
	PrepareRemux(ctx context.Context, req planner.RemuxRequest) (*processing.Task, <-chan processing.Result, error)
	PrepareTranscode(ctx context.Context, req planner.TranscodeRequest) (*processing.Task, <-chan processing.Result, error)
}

// StreamServer is the subset of *streamserver.Server the controller
// depends on.
type StreamServer interface {
	RegisterFile(path string) (*streamserver.StreamHandle, error)
	RegisterHLS(directory, playlistFilename string) (*streamserver.StreamHandle, error)
}

// HistoryStore is the subset of *history.Store the controller depends on.
type HistoryStore interface {
	ResumeForURL(path string) (*float64, error)
	RecordPosition(path string, seconds float64) error
}

// SourceAccess models the platform-specific security-scoped access token
// acquired for a source URL. This is a Cocoa/AppKit sandboxing concept
// with no Go-native equivalent; a nil
// SourceAccess (the default) makes acquire/release a no-op, which is
// correct for sources that need no such token.
type SourceAccess interface {
	Acquire(url string) (release func(), err error)
}

// Config wires a Controller's collaborators.
type Config struct {
	Planner      Planner
	Coordinator  Coordinator
	StreamServer StreamServer
	History      HistoryStore
	Renderer     Renderer
	SourceAccess SourceAccess
	Bus          *diagnostics.Bus
	Logger       hclog.Logger
}

// Controller drives one active PlaybackSession. All state is only ever
// touched on the internal run-loop goroutine; every exported method either
// posts a closure onto it or blocks for a reply computed there.
type Controller struct {
	planner      Planner
	coordinator  Coordinator
	streamServer StreamServer
	history      HistoryStore
	renderer     Renderer
	sourceAccess SourceAccess
	bus          *diagnostics.Bus
	logger       hclog.Logger

	actions chan func()
	stopCh  chan struct{}

	state         BackendState
	session       *PlaybackSession
	releaseAccess func()
}

// New constructs a Controller and starts its run loop. Call Close to stop it.
func New(cfg Config) *Controller {
	logger := cfg.Logger
	if logger == nil {
		logger = hclog.NewNullLogger()
	}
	c := &Controller{
		planner:      cfg.Planner,
		coordinator:  cfg.Coordinator,
		streamServer: cfg.StreamServer,
		history:      cfg.History,
		renderer:     cfg.Renderer,
		sourceAccess: cfg.SourceAccess,
		bus:          cfg.Bus,
		logger:       logger.Named("controller"),
		actions:      make(chan func(), 32),
		stopCh:       make(chan struct{}),
		state:        StateIdle,
	}
	go c.runLoop()
	return c
}

func (c *Controller) runLoop() {
	for {
		select {
		case fn := <-c.actions:
			fn()
		case <-c.stopCh:
			return
		}
	}
}

// Close stops the run loop after tearing down any active session.
func (c *Controller) Close() {
	done := make(chan struct{})
	c.dispatch(func() {
		c.teardown()
		close(done)
	})
	<-done
	close(c.stopCh)
}

func (c *Controller) dispatch(fn func()) {
	select {
	case c.actions <- fn:
	case <-c.stopCh:
	}
}

func (c *Controller) publish(e diagnostics.Event) {
	if c.bus != nil {
		c.bus.Publish(e)
	}
}

// State returns the controller's current BackendState.
func (c *Controller) State() BackendState {
	result := make(chan BackendState, 1)
	c.dispatch(func() { result <- c.state })
	return <-result
}

// Load tears down any current session and begins loading url. It returns
// immediately; completion is signalled by a later state transition.
func (c *Controller) Load(url string) {
	c.dispatch(func() { c.handleLoad(url) })
}

// Stop tears down the active session and returns to Idle.
func (c *Controller) Stop() {
	c.dispatch(func() {
		c.teardown()
		c.setState(StateIdle)
	})
}

// Replay restarts the completed session at zero, resolving the replay
// countdown in the renderer's favor.
func (c *Controller) Replay() {
	c.dispatch(func() {
		if c.session == nil || !c.session.awaitingReplay {
			return
		}
		c.session.awaitingReplay = false
		c.session.lastPersistedSeconds = 0
		c.setState(StateActive)
		if c.renderer != nil {
			c.renderer.Seek(0)
		}
	})
}

// CancelReplay resolves the replay countdown in the stay-in-Completed
// direction; the session stays Completed until the next user action.
func (c *Controller) CancelReplay() {
	c.dispatch(func() {
		if c.session != nil {
			c.session.awaitingReplay = false
		}
	})
}

func (c *Controller) setState(s BackendState) {
	c.state = s
	c.publish(diagnostics.Event{
		Type:    diagnostics.EventSessionStateChanged,
		Message: s.String(),
	})
}

func (c *Controller) handleLoad(url string) {
	c.teardown()

	release, err := c.acquireSourceAccess(url)
	if err != nil {
		c.logger.Error("could not acquire source access", "url", url, "error", err)
		c.setState(StateIdle)
		return
	}
	c.releaseAccess = release

	resumeOffset, err := c.history.ResumeForURL(url)
	if err != nil {
		c.logger.Warn("history lookup failed, proceeding without resume offset", "url", url, "error", err)
	}

	c.session = &PlaybackSession{url: url, resumeOffset: resumeOffset}

	plan, _ := c.planner.Plan(context.Background(), url)
	c.session.plan = plan

	c.startPlan(url, plan)
}

func (c *Controller) acquireSourceAccess(url string) (func(), error) {
	if c.sourceAccess == nil {
		return func() {}, nil
	}
	release, err := c.sourceAccess.Acquire(url)
	if err != nil {
		return nil, perr.New(perr.KindPermissionDenied, "could not acquire source access for "+url, err)
	}
	return release, nil
}

// startPlan dispatches on plan.Kind: Direct goes straight to Active; Remux
// and Transcode enter Preparing and wait on the coordinator.
func (c *Controller) startPlan(url string, plan planner.PlaybackPlan) {
	switch plan.Kind {
	case planner.KindDirect:
		c.setState(StateActive)
		c.attachRenderer(url, plan.DirectURL)

	case planner.KindRemux:
		c.setState(StatePreparing)
		task, results, err := c.coordinator.PrepareRemux(context.Background(), *plan.Remux)
		if err != nil {
			c.failPreparing(err)
			return
		}
		c.session.setTask(task)
		go c.awaitProcessingResult(url, results)

	case planner.KindTranscode:
		c.setState(StatePreparing)
		task, results, err := c.coordinator.PrepareTranscode(context.Background(), *plan.Transcode)
		if err != nil {
			c.failPreparing(err)
			return
		}
		c.session.setTask(task)
		go c.awaitProcessingResult(url, results)
	}
}

func (c *Controller) failPreparing(err error) {
	c.logger.Error("processing preparation failed", "error", err)
	c.publish(diagnostics.Event{Type: diagnostics.EventProcessingFailed, Message: err.Error()})
	c.teardown()
	c.setState(StateIdle)
}

// awaitProcessingResult runs on its own goroutine (the coordinator's
// background worker) and posts the outcome back to the run loop, dropping
// it if url is no longer the current session.
func (c *Controller) awaitProcessingResult(url string, results <-chan processing.Result) {
	result := <-results
	c.dispatch(func() {
		if c.session == nil || c.session.url != url {
			if result.Artifact != nil {
				_ = result.Artifact.Cleanup()
			}
			return
		}
		if result.Err != nil {
			if perr.IsKind(result.Err, perr.KindCancelled) {
				return
			}
			c.failPreparing(result.Err)
			return
		}
		c.registerArtifact(url, result.Artifact)
	})
}

func (c *Controller) registerArtifact(url string, artifact *processing.Artifact) {
	c.session.artifact = artifact

	var handle *streamserver.StreamHandle
	var err error
	switch artifact.Kind {
	case processing.ArtifactFile:
		handle, err = c.streamServer.RegisterFile(artifact.FilePath)
	case processing.ArtifactHLS:
		handle, err = c.streamServer.RegisterHLS(artifact.HLSDirectory, artifact.HLSPlaylist)
	}
	if err != nil {
		c.failPreparing(err)
		return
	}
	c.session.handle = handle

	c.setState(StateActive)
	c.attachRenderer(url, handle.URL)
}

// attachRenderer wires the renderer's observer callbacks, each of which
// captures url and re-checks it against the live session before acting.
func (c *Controller) attachRenderer(url string, servableURL string) {
	if c.renderer == nil {
		return
	}

	callbacks := RendererCallbacks{
		OnReady: func() {
			c.dispatch(func() {
				if c.session == nil || c.session.url != url {
					return
				}
				if c.session.resumeOffset != nil {
					c.renderer.Seek(*c.session.resumeOffset)
				}
			})
		},
		OnFailure: func(message string) {
			c.dispatch(func() { c.handleRendererFailure(url, message) })
		},
		OnEndOfStream: func() {
			c.dispatch(func() {
				if c.session == nil || c.session.url != url {
					return
				}
				c.setState(StateCompleted)
				c.session.awaitingReplay = true
			})
		},
		OnTimeUpdate: func(seconds float64) {
			c.dispatch(func() { c.handleTimeUpdate(url, seconds) })
		},
	}

	if err := c.renderer.Attach(servableURL, callbacks); err != nil {
		c.failPreparing(perr.New(perr.KindRendererFailure, "renderer could not attach", err))
	}
}

// handleRendererFailure implements the one-shot escalation rule (spec
// §4.5, §8): a failure while Direct or Remux escalates once to a forced
// Transcode; any later failure is fatal.
func (c *Controller) handleRendererFailure(url, message string) {
	if c.session == nil || c.session.url != url {
		return
	}

	if !c.session.hasEscalated && c.session.plan.Kind != planner.KindTranscode {
		c.session.hasEscalated = true
		c.logger.Warn("renderer failure, escalating to forced transcode", "url", url, "message", message)

		c.detachRendererAndDropTask()

		plan := c.planner.ForcedTranscodePlan(context.Background(), url)
		c.session.plan = plan
		c.startPlan(url, plan)
		return
	}

	c.logger.Error("renderer failure after escalation, surfacing fatal error", "url", url, "message", message)
	c.publish(diagnostics.Event{Type: diagnostics.EventEscalated, Message: message})
	c.teardown()
	c.setState(StateIdle)
}

// handleTimeUpdate persists the resume offset once playback has advanced
// at least one second since the last persist.
func (c *Controller) handleTimeUpdate(url string, seconds float64) {
	if c.session == nil || c.session.url != url {
		return
	}
	if seconds-c.session.lastPersistedSeconds < 1.0 {
		return
	}
	c.session.lastPersistedSeconds = seconds
	if err := c.history.RecordPosition(url, seconds); err != nil {
		c.logger.Warn("could not persist playback position", "url", url, "error", err)
	}
}

// detachRendererAndDropTask runs the renderer-detach, task-cancel, and
// artifact/handle cleanup steps of teardown without clearing the session
// itself, used by escalation: the session (url, resume offset,
// hasEscalated bit) survives, but its superseded Direct/Remux output does
// not.
func (c *Controller) detachRendererAndDropTask() {
	if c.renderer != nil {
		c.renderer.Detach()
	}
	if c.session == nil {
		return
	}
	c.session.cancelTask()
	if c.session.handle != nil {
		_ = c.session.handle.Cleanup()
		c.session.handle = nil
	}
	if c.session.artifact != nil {
		_ = c.session.artifact.Cleanup()
		c.session.artifact = nil
	}
}

// teardown runs the full cleanup order: detach renderer, cancel and drop
// any outstanding processing task, cleanup the HTTP handle, run the
// artifact cleanup, release the source-URL access token, clear tracking.
// Every step is idempotent and safe to call with no active session.
func (c *Controller) teardown() {
	if c.renderer != nil {
		c.renderer.Detach()
	}

	if c.session != nil {
		c.session.cancelTask()
		if c.session.handle != nil {
			_ = c.session.handle.Cleanup()
		}
		if c.session.artifact != nil {
			_ = c.session.artifact.Cleanup()
		}
	}

	if c.releaseAccess != nil {
		c.releaseAccess()
		c.releaseAccess = nil
	}

	c.session = nil
}
