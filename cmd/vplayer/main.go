// Command vplayer wires the preparation-pipeline core together and drives
// it from the command line: point it at a media path or URL and it plans,
// prepares, and serves the result over the loopback stream server, the way
// the macOS host app would after handing off to AVPlayer. There is no
// AVPlayer here, so playback itself is represented by a console renderer
// that logs what a real renderer would be told to do.
package main

import (
	"context"
	"flag"
	"fmt"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/hashicorp/go-hclog"

	"github.com/vplayer/core/internal/binpath"
	"github.com/vplayer/core/internal/config"
	"github.com/vplayer/core/internal/controller"
	"github.com/vplayer/core/internal/diagnostics"
	"github.com/vplayer/core/internal/history"
	"github.com/vplayer/core/internal/inspector"
	"github.com/vplayer/core/internal/logger"
	"github.com/vplayer/core/internal/planner"
	"github.com/vplayer/core/internal/processing"
	"github.com/vplayer/core/internal/streamserver"
)

func main() {
	debugAddr := flag.String("debug-addr", "", "loopback host:port to serve a diagnostics websocket on (disabled if empty)")
	flag.Parse()

	log := logger.Root()

	fmt.Println("=======================================")
	fmt.Println("  vPlayer preparation pipeline core     ")
	fmt.Println("=======================================")

	cfg := config.Default()

	ffmpegPath, err := binpath.FFmpeg()
	if err != nil {
		log.Error("ffmpeg not found", "error", err)
		os.Exit(1)
	}
	ffprobePath, err := binpath.FFprobe()
	if err != nil {
		log.Error("ffprobe not found", "error", err)
		os.Exit(1)
	}
	cfg.FFmpegPath = ffmpegPath
	cfg.FFprobePath = ffprobePath
	log.Info("resolved media binaries", "ffmpeg", ffmpegPath, "ffprobe", ffprobePath)

	bus := diagnostics.New(log.Named("bus"))
	unsubscribe := bus.Subscribe(func(e diagnostics.Event) {
		log.Debug("event", "type", e.Type, "message", e.Message)
	})
	defer unsubscribe()

	var broadcaster *diagnostics.Broadcaster
	if *debugAddr != "" {
		broadcaster = diagnostics.NewBroadcaster(bus)
		go func() {
			if err := broadcaster.Serve(context.Background(), *debugAddr); err != nil {
				log.Warn("diagnostics broadcaster stopped", "error", err)
			}
		}()
		log.Info("diagnostics websocket listening", "addr", *debugAddr)
	}

	probe := inspector.New(cfg.FFprobePath, log.Named("inspector"))
	plan := planner.New(probe, log.Named("planner"))

	coordinator := processing.New(processing.Config{
		FFmpegPath:      cfg.FFmpegPath,
		ScratchRoot:     cfg.ScratchRoot,
		MinFreeBytes:    cfg.MinScratchFreeBytes,
		HLSPollInterval: cfg.HLSPollInterval,
		HLSReadyTimeout: cfg.HLSReadyTimeout,
		Logger:          log.Named("processing"),
		Bus:             bus,
	})

	stream := streamserver.New(streamserver.Config{
		Host:   cfg.ListenHost,
		Port:   cfg.ListenPort,
		Logger: log.Named("streamserver"),
	})
	defer stream.Close()

	hist, err := history.New(cfg.HistoryPath, log.Named("history"))
	if err != nil {
		log.Error("could not open history store", "path", cfg.HistoryPath, "error", err)
		os.Exit(1)
	}
	defer hist.Close()

	backend := controller.New(controller.Config{
		Planner:      plan,
		Coordinator:  coordinator,
		StreamServer: stream,
		History:      hist,
		Renderer:     newConsoleRenderer(log.Named("renderer")),
		Bus:          bus,
		Logger:       log.Named("controller"),
	})
	defer backend.Close()

	ctx, cancel := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer cancel()

	args := flag.Args()
	if len(args) == 1 {
		log.Info("loading", "url", args[0])
		backend.Load(args[0])
	} else {
		fmt.Println("usage: vplayer [-debug-addr host:port] <media-path-or-url>")
	}

	<-ctx.Done()
	log.Info("shutting down")
	if broadcaster != nil {
		_ = broadcaster.Close()
	}
}

// consoleRenderer stands in for the host app's AVPlayer-backed renderer: it
// satisfies controller.Renderer by logging each call and reporting itself
// ready immediately, so the pipeline can be exercised end to end from the
// command line without a real playback engine attached.
type consoleRenderer struct {
	logger hclog.Logger
}

func newConsoleRenderer(logger hclog.Logger) *consoleRenderer {
	return &consoleRenderer{logger: logger}
}

func (r *consoleRenderer) Attach(url string, callbacks controller.RendererCallbacks) error {
	r.logger.Info("attach", "url", url)
	go func() {
		time.Sleep(50 * time.Millisecond)
		if callbacks.OnReady != nil {
			callbacks.OnReady()
		}
	}()
	return nil
}

func (r *consoleRenderer) Detach() {
	r.logger.Info("detach")
}

func (r *consoleRenderer) Seek(seconds float64) {
	r.logger.Info("seek", "seconds", seconds)
}
