// Package binpath locates the ffmpeg/ffprobe binaries the core shells out
// to: environment override, bundled-relative path, then fixed candidate
// directories.
package binpath

import (
	"fmt"
	"os"
	"path/filepath"
)

// candidateDirs are checked, in order, after the environment-variable and
// bundled-relative overrides have failed.
var candidateDirs = []string{
	"/opt/homebrew/bin",
	"/usr/local/bin",
	"/opt/local/bin",
	"/usr/bin",
}

// Locate resolves the path to a named binary ("ffmpeg" or "ffprobe").
// envPrimary and envFallback are the two environment variables checked
// before the bundled-relative path and the fixed candidate directories
// (e.g. "VPLAYER_FFMPEG_PATH", "FFMPEG_PATH").
func Locate(name, envPrimary, envFallback string) (string, error) {
	if v := os.Getenv(envPrimary); v != "" {
		if isExecutable(v) {
			return v, nil
		}
	}
	if v := os.Getenv(envFallback); v != "" {
		if isExecutable(v) {
			return v, nil
		}
	}
	if exe, err := os.Executable(); err == nil {
		bundled := filepath.Join(filepath.Dir(exe), name)
		if isExecutable(bundled) {
			return bundled, nil
		}
	}
	for _, dir := range candidateDirs {
		candidate := filepath.Join(dir, name)
		if isExecutable(candidate) {
			return candidate, nil
		}
	}
	return "", fmt.Errorf("binpath: %s not found via env, bundle, or candidate directories", name)
}

// FFmpeg resolves the media-processing binary.
func FFmpeg() (string, error) {
	return Locate("ffmpeg", "VPLAYER_FFMPEG_PATH", "FFMPEG_PATH")
}

// FFprobe resolves the media-probe binary.
func FFprobe() (string, error) {
	return Locate("ffprobe", "VPLAYER_FFPROBE_PATH", "FFPROBE_PATH")
}

func isExecutable(path string) bool {
	info, err := os.Stat(path)
	if err != nil || info.IsDir() {
		return false
	}
	return info.Mode()&0111 != 0
}
