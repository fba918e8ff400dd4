package streamserver

import (
	"fmt"
	"strconv"
	"strings"
)

// byteRange is a resolved, in-bounds [start, end] pair, inclusive.
type byteRange struct {
	start int64
	end   int64
}

// length returns the number of bytes in the range.
func (r byteRange) length() int64 {
	return r.end - r.start + 1
}

// isFullFile reports whether r covers the entire 0..size-1 span, in which
// case the response status is 200 rather than 206.
func (r byteRange) isFullFile(size int64) bool {
	return r.start == 0 && r.end == size-1
}

// errRangeNotSatisfiable signals a 416 response.
var errRangeNotSatisfiable = fmt.Errorf("range not satisfiable")

// parseRange parses a single "bytes=a-b" / "bytes=a-" / "bytes=-N" spec
// against size, clamping end to size-1. Multiple comma-separated ranges are
// not supported; the first is used. Returns errRangeNotSatisfiable when
// start > end or start >= size.
func parseRange(header string, size int64) (byteRange, error) {
	const prefix = "bytes="
	if !strings.HasPrefix(header, prefix) {
		return byteRange{}, fmt.Errorf("invalid range header: %q", header)
	}
	spec := strings.TrimPrefix(header, prefix)
	if idx := strings.IndexByte(spec, ','); idx >= 0 {
		spec = spec[:idx]
	}

	startStr, endStr, ok := strings.Cut(spec, "-")
	if !ok {
		return byteRange{}, fmt.Errorf("invalid range spec: %q", spec)
	}

	var start, end int64

	switch {
	case startStr == "" && endStr == "":
		return byteRange{}, fmt.Errorf("empty range spec")

	case startStr == "":
		// Suffix form: "-N" means the last N bytes.
		n, err := strconv.ParseInt(endStr, 10, 64)
		if err != nil {
			return byteRange{}, err
		}
		start = size - n
		if start < 0 {
			start = 0
		}
		end = size - 1

	default:
		s, err := strconv.ParseInt(startStr, 10, 64)
		if err != nil {
			return byteRange{}, err
		}
		start = s
		if endStr == "" {
			end = size - 1
		} else {
			e, err := strconv.ParseInt(endStr, 10, 64)
			if err != nil {
				return byteRange{}, err
			}
			end = e
		}
	}

	if end > size-1 {
		end = size - 1
	}
	if start > end || start >= size {
		return byteRange{}, errRangeNotSatisfiable
	}

	return byteRange{start: start, end: end}, nil
}

func formatContentRange(r byteRange, size int64) string {
	return fmt.Sprintf("bytes %d-%d/%d", r.start, r.end, size)
}
