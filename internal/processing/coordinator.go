package processing

import (
	"bufio"
	"context"
	"errors"
	"fmt"
	"io"
	"os"
	"os/exec"
	"path/filepath"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/hashicorp/go-hclog"
	"github.com/shirou/gopsutil/v4/disk"

	"github.com/vplayer/core/internal/diagnostics"
	"github.com/vplayer/core/internal/perr"
	"github.com/vplayer/core/internal/planner"
)

const stderrTailLimit = 4096

// Coordinator drives the external media-processing binary and manages the
// per-job scratch directories under its root.
type Coordinator struct {
	ffmpegPath  string
	scratchRoot string

	minFreeBytes uint64

	hlsPollInterval time.Duration
	hlsReadyTimeout time.Duration

	logger hclog.Logger
	bus    *diagnostics.Bus
}

// Config configures a Coordinator.
type Config struct {
	FFmpegPath      string
	ScratchRoot     string
	MinFreeBytes    uint64
	HLSPollInterval time.Duration
	HLSReadyTimeout time.Duration
	Logger          hclog.Logger
	Bus             *diagnostics.Bus
}

// New creates a Coordinator from cfg, applying defaults for zero fields.
func New(cfg Config) *Coordinator {
	logger := cfg.Logger
	if logger == nil {
		logger = hclog.NewNullLogger()
	}
	pollInterval := cfg.HLSPollInterval
	if pollInterval <= 0 {
		pollInterval = 200 * time.Millisecond
	}
	readyTimeout := cfg.HLSReadyTimeout
	if readyTimeout <= 0 {
		readyTimeout = 8 * time.Second
	}
	return &Coordinator{
		ffmpegPath:      cfg.FFmpegPath,
		scratchRoot:     cfg.ScratchRoot,
		minFreeBytes:    cfg.MinFreeBytes,
		hlsPollInterval: pollInterval,
		hlsReadyTimeout: readyTimeout,
		logger:          logger.Named("processing-coordinator"),
		bus:             cfg.Bus,
	}
}

func (c *Coordinator) publish(e diagnostics.Event) {
	if c.bus != nil {
		c.bus.Publish(e)
	}
}

// allocateScratchDir checks free space against the configured floor, then
// creates and returns a fresh UUID-named subdirectory of the scratch root.
func (c *Coordinator) allocateScratchDir() (string, error) {
	if c.minFreeBytes > 0 {
		if err := os.MkdirAll(c.scratchRoot, 0755); err == nil {
			if usage, err := disk.Usage(c.scratchRoot); err == nil {
				if usage.Free < c.minFreeBytes {
					return "", perr.New(perr.KindProcessingFailed,
						fmt.Sprintf("insufficient free space at %s: %d bytes free, %d required", c.scratchRoot, usage.Free, c.minFreeBytes), nil)
				}
			}
		}
	}

	dir := filepath.Join(c.scratchRoot, uuid.NewString())
	if err := os.MkdirAll(dir, 0755); err != nil {
		return "", perr.New(perr.KindProcessingFailed, "could not create scratch directory", err)
	}
	return dir, nil
}

// PrepareRemux starts a remux job and returns a Task plus a channel that
// delivers exactly one Result.
func (c *Coordinator) PrepareRemux(ctx context.Context, req planner.RemuxRequest) (*Task, <-chan Result, error) {
	scratchDir, err := c.allocateScratchDir()
	if err != nil {
		return nil, nil, err
	}
	args := buildRemuxArgs(req, scratchDir)
	outputPath := filepath.Join(scratchDir, "output.mp4")

	task := newTask()
	results := make(chan Result, 1)
	go c.runFileJob(ctx, task, scratchDir, outputPath, args, results)
	return task, results, nil
}

// PrepareTranscode starts a transcode job and returns a Task plus a channel
// that delivers exactly one Result.
func (c *Coordinator) PrepareTranscode(ctx context.Context, req planner.TranscodeRequest) (*Task, <-chan Result, error) {
	scratchDir, err := c.allocateScratchDir()
	if err != nil {
		return nil, nil, err
	}
	args := buildTranscodeArgs(req, scratchDir)

	task := newTask()
	results := make(chan Result, 1)

	switch req.Output {
	case planner.OutputHLS:
		playlist := filepath.Join(scratchDir, "master.m3u8")
		go c.runHLSJob(ctx, task, scratchDir, playlist, args, results)
	default:
		outputPath := filepath.Join(scratchDir, "output.mp4")
		go c.runFileJob(ctx, task, scratchDir, outputPath, args, results)
	}
	return task, results, nil
}

func (c *Coordinator) startProcess(ctx context.Context, task *Task, args []string) (*exec.Cmd, *stderrTail, error) {
	cmd := exec.CommandContext(ctx, c.ffmpegPath, args...)

	stderrPipe, err := cmd.StderrPipe()
	if err != nil {
		return nil, nil, perr.New(perr.KindProcessingFailed, "could not attach stderr pipe", err)
	}

	tail := newStderrTail(stderrTailLimit)
	go c.drainStderr(stderrPipe, tail)

	if err := cmd.Start(); err != nil {
		return nil, nil, perr.New(perr.KindProcessingFailed, "could not start processor", err)
	}

	task.attachProcess(cmd)
	task.setCancelHandler(task.terminate)

	return cmd, tail, nil
}

func (c *Coordinator) drainStderr(r io.Reader, tail *stderrTail) {
	scanner := bufio.NewScanner(r)
	scanner.Buffer(make([]byte, 64*1024), 1024*1024)
	for scanner.Scan() {
		line := scanner.Text()
		tail.append(line)
		c.logger.Debug("processor stderr", "line", line)
		c.publish(diagnostics.Event{Type: diagnostics.EventProcessingStderr, Message: line})
	}
}

// runFileJob implements the File readiness protocol: wait for process exit;
// success requires exit code 0 and the output file present.
func (c *Coordinator) runFileJob(ctx context.Context, task *Task, scratchDir, outputPath string, args []string, results chan<- Result) {
	defer close(results)

	cmd, tail, err := c.startProcess(ctx, task, args)
	if err != nil {
		_ = os.RemoveAll(scratchDir)
		results <- Result{Err: err}
		return
	}

	c.publish(diagnostics.Event{Type: diagnostics.EventProcessingStarted, Message: outputPath})

	waitErr := cmd.Wait()

	if task.isCancelled() {
		_ = os.RemoveAll(scratchDir)
		results <- Result{Err: perr.New(perr.KindCancelled, "processing cancelled", nil)}
		return
	}

	if waitErr != nil || !fileExists(outputPath) {
		exitCode := exitCodeOf(waitErr)
		_ = os.RemoveAll(scratchDir)
		results <- Result{Err: perr.ProcessingFailed(exitCode, tail.String())}
		return
	}

	results <- Result{Artifact: &Artifact{
		Kind:       ArtifactFile,
		FilePath:   outputPath,
		scratchDir: scratchDir,
	}}
}

// runHLSJob implements the Hls readiness protocol: surface the artifact as
// soon as the playlist contains a segment, without waiting for the process
// to exit; the process keeps appending segments afterward.
func (c *Coordinator) runHLSJob(ctx context.Context, task *Task, scratchDir, playlistPath string, args []string, results chan<- Result) {
	cmd, tail, err := c.startProcess(ctx, task, args)
	if err != nil {
		_ = os.RemoveAll(scratchDir)
		results <- Result{Err: err}
		close(results)
		return
	}

	c.publish(diagnostics.Event{Type: diagnostics.EventProcessingStarted, Message: playlistPath})

	ready := make(chan bool, 1)
	go func() {
		ready <- c.pollPlaylistReady(ctx, task, playlistPath)
	}()

	if ok := <-ready; !ok {
		task.terminate()
		_ = cmd.Wait()
		_ = os.RemoveAll(scratchDir)
		results <- Result{Err: perr.New(perr.KindOutputMissing, "hls playlist did not become ready", nil)}
		close(results)
		return
	}

	c.publish(diagnostics.Event{Type: diagnostics.EventProcessingReady, Message: playlistPath})

	results <- Result{Artifact: &Artifact{
		Kind:         ArtifactHLS,
		HLSDirectory: scratchDir,
		HLSPlaylist:  filepath.Base(playlistPath),
		scratchDir:   scratchDir,
	}}
	close(results)

	// The process keeps running to append further segments. Its eventual
	// exit is logged, not propagated: the artifact is already in use.
	go func() {
		if waitErr := cmd.Wait(); waitErr != nil && !task.isCancelled() {
			c.logger.Warn("hls processor exited non-zero after artifact surfaced", "error", waitErr, "stderr_tail", tail.String())
			c.publish(diagnostics.Event{Type: diagnostics.EventProcessingFailed, Message: tail.String()})
		}
	}()
}

// pollPlaylistReady polls the playlist file every hlsPollInterval up to
// hlsReadyTimeout, returning true once it exists and contains "#EXTINF".
// Returns false on timeout or cancellation.
func (c *Coordinator) pollPlaylistReady(ctx context.Context, task *Task, playlistPath string) bool {
	deadline := time.Now().Add(c.hlsReadyTimeout)
	ticker := time.NewTicker(c.hlsPollInterval)
	defer ticker.Stop()

	for {
		if task.isCancelled() {
			return false
		}
		if playlistHasSegment(playlistPath) {
			return true
		}
		if time.Now().After(deadline) {
			return false
		}
		select {
		case <-ctx.Done():
			return false
		case <-ticker.C:
		}
	}
}

func playlistHasSegment(path string) bool {
	data, err := os.ReadFile(path)
	if err != nil {
		return false
	}
	return strings.Contains(string(data), "#EXTINF")
}

func fileExists(path string) bool {
	info, err := os.Stat(path)
	return err == nil && !info.IsDir()
}

func exitCodeOf(err error) int {
	if err == nil {
		return 0
	}
	var exitErr *exec.ExitError
	if errors.As(err, &exitErr) {
		return exitErr.ExitCode()
	}
	return -1
}
