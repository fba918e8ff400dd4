package streamserver

import (
	"errors"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strconv"
)

const chunkSize = 1 << 20 // 1 MiB

var statusText = map[int]string{
	200: "OK",
	206: "Partial Content",
	400: "Bad Request",
	404: "Not Found",
	405: "Method Not Allowed",
	410: "Gone",
	416: "Requested Range Not Satisfiable",
	500: "Internal Server Error",
}

func writeStatusLine(w io.Writer, code int) error {
	_, err := fmt.Fprintf(w, "HTTP/1.1 %d %s\r\n", code, statusText[code])
	return err
}

// writeError writes a complete, self-contained error response per spec
// §4.4's fixed format.
func writeError(w io.Writer, code int, body string) {
	_ = writeStatusLine(w, code)
	_, _ = fmt.Fprintf(w, "Content-Length: %d\r\n", len(body))
	_, _ = io.WriteString(w, "Content-Type: text/plain; charset=utf-8\r\n")
	_, _ = io.WriteString(w, "Connection: close\r\n\r\n")
	_, _ = io.WriteString(w, body)
}

// writeFileResponse serves a local file with byte-range support, per spec
// §4.4's file byte-range semantics.
func writeFileResponse(w io.Writer, path string, rangeHeader string) {
	f, err := os.Open(path)
	if err != nil {
		writeError(w, 404, "not found")
		return
	}
	defer f.Close()

	info, err := f.Stat()
	if err != nil {
		writeError(w, 500, "could not stat file")
		return
	}
	size := info.Size()

	if rangeHeader == "" {
		writeHeaders(w, 200, map[string]string{
			"Content-Type":   "video/mp4",
			"Content-Length": strconv.FormatInt(size, 10),
			"Accept-Ranges":  "bytes",
			"Connection":     "close",
		})
		copyChunked(w, f, size)
		return
	}

	r, err := parseRange(rangeHeader, size)
	if err != nil {
		if errors.Is(err, errRangeNotSatisfiable) {
			writeRangeNotSatisfiable(w, size)
			return
		}
		writeError(w, 400, "invalid range header")
		return
	}

	status := 206
	if r.isFullFile(size) {
		status = 200
	}

	headers := map[string]string{
		"Content-Type":   "video/mp4",
		"Content-Length": strconv.FormatInt(r.length(), 10),
		"Accept-Ranges":  "bytes",
		"Connection":     "close",
	}
	if status == 206 {
		headers["Content-Range"] = formatContentRange(r, size)
	}
	writeHeaders(w, status, headers)

	if _, err := f.Seek(r.start, io.SeekStart); err != nil {
		return
	}
	copyChunked(w, io.LimitReader(f, r.length()), r.length())
}

// writeRangeNotSatisfiable writes a 416 response in the standard error
// format, additionally carrying Content-Range: bytes */size per RFC 7233.
func writeRangeNotSatisfiable(w io.Writer, size int64) {
	body := fmt.Sprintf("range not satisfiable: bytes */%d", size)
	_ = writeStatusLine(w, 416)
	_, _ = fmt.Fprintf(w, "Content-Range: bytes */%d\r\n", size)
	_, _ = fmt.Fprintf(w, "Content-Length: %d\r\n", len(body))
	_, _ = io.WriteString(w, "Content-Type: text/plain; charset=utf-8\r\n")
	_, _ = io.WriteString(w, "Connection: close\r\n\r\n")
	_, _ = io.WriteString(w, body)
}

// writeHLSResponse serves a file from an HLS session directory in full,
// never honoring Range: HLS responses are always served in full.
func writeHLSResponse(w io.Writer, path string) {
	f, err := os.Open(path)
	if err != nil {
		writeError(w, 404, "not found")
		return
	}
	defer f.Close()

	info, err := f.Stat()
	if err != nil {
		writeError(w, 500, "could not stat file")
		return
	}
	size := info.Size()

	writeHeaders(w, 200, map[string]string{
		"Content-Type":   hlsContentType(path),
		"Content-Length": strconv.FormatInt(size, 10),
		"Connection":     "close",
	})
	copyChunked(w, f, size)
}

func hlsContentType(path string) string {
	switch filepath.Ext(path) {
	case ".m3u8":
		return "application/vnd.apple.mpegurl"
	case ".ts":
		return "video/mp2t"
	case ".mp4", ".m4s":
		return "video/mp4"
	default:
		return "application/octet-stream"
	}
}

func writeHeaders(w io.Writer, status int, headers map[string]string) {
	_ = writeStatusLine(w, status)
	for name, value := range headers {
		_, _ = fmt.Fprintf(w, "%s: %s\r\n", name, value)
	}
	_, _ = io.WriteString(w, "\r\n")
}

// copyChunked streams up to n bytes from r to w in chunkSize pieces, per
// File bodies are streamed in <=1 MiB chunks.
func copyChunked(w io.Writer, r io.Reader, n int64) {
	buf := make([]byte, chunkSize)
	remaining := n
	for remaining > 0 {
		toRead := int64(len(buf))
		if remaining < toRead {
			toRead = remaining
		}
		read, err := io.ReadFull(r, buf[:toRead])
		if read > 0 {
			if _, werr := w.Write(buf[:read]); werr != nil {
				return
			}
			remaining -= int64(read)
		}
		if err != nil {
			return
		}
	}
}
