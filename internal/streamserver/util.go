package streamserver

import (
	"errors"
	"os"
)

var errPathEscapesDirectory = errors.New("resolved path escapes session directory")

func fileExists(path string) bool {
	info, err := os.Stat(path)
	return err == nil && !info.IsDir()
}
