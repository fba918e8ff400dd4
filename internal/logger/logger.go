// Package logger provides a process-wide convenience logger for call sites
// that don't carry a component-scoped hclog.Logger. Components that do own
// one should log through it directly; this package exists for package-level
// helpers and package init paths.
package logger

import (
	"os"

	"github.com/hashicorp/go-hclog"
)

var root hclog.Logger

func init() {
	level := hclog.Info
	if os.Getenv("VPLAYER_LOG_LEVEL") == "debug" {
		level = hclog.Debug
	}
	root = hclog.New(&hclog.LoggerOptions{
		Name:       "vplayer",
		Level:      level,
		JSONFormat: os.Getenv("VPLAYER_LOG_FORMAT") == "json",
	})
}

// Root returns the process-wide root logger. Components should derive a
// named child via Named instead of logging through Root directly.
func Root() hclog.Logger {
	return root
}

// Named returns a child of the root logger scoped to name.
func Named(name string) hclog.Logger {
	return root.Named(name)
}

func Info(msg string, args ...interface{})  { root.Info(msg, args...) }
func Warn(msg string, args ...interface{})  { root.Warn(msg, args...) }
func Error(msg string, args ...interface{}) { root.Error(msg, args...) }
func Debug(msg string, args ...interface{}) { root.Debug(msg, args...) }
