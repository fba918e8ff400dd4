package streamserver

import (
	"bufio"
	"net"
	"path/filepath"
	"strings"
)

func (s *Server) handleConn(conn net.Conn) {
	defer conn.Close()

	reader := bufio.NewReader(conn)
	req, err := readRequest(reader)
	if err != nil {
		writeError(conn, 400, "malformed request")
		return
	}

	if req.method != "GET" {
		writeError(conn, 405, "method not allowed")
		return
	}

	segments, err := decodedSegments(req.path)
	if err != nil {
		writeError(conn, 400, "malformed path")
		return
	}

	s.route(conn, segments, req)
}

// route dispatches a parsed request to the file or HLS handler per spec
// §4.4's route table.
func (s *Server) route(conn net.Conn, segments []string, req *request) {
	if len(segments) < 2 {
		writeError(conn, 404, "not found")
		return
	}

	switch segments[0] {
	case "stream":
		s.serveStreamRoute(conn, segments[1], req)
	case "hls":
		s.serveHLSRoute(conn, segments[1], segments[2:], req)
	default:
		writeError(conn, 404, "not found")
	}
}

func (s *Server) serveStreamRoute(conn net.Conn, id string, req *request) {
	sess, ok := s.lookup(id)
	if !ok || sess.kind != SessionFile {
		writeError(conn, 404, "unknown session")
		return
	}
	writeFileResponse(conn, sess.filePath, req.header("range"))
}

func (s *Server) serveHLSRoute(conn net.Conn, id string, relative []string, req *request) {
	sess, ok := s.lookup(id)
	if !ok || sess.kind != SessionHLS {
		writeError(conn, 404, "unknown session")
		return
	}

	name := sess.playlistFilename
	if len(relative) > 0 {
		name = filepath.Join(relative...)
	}

	path, err := safeJoin(sess.directory, name)
	if err != nil {
		writeError(conn, 404, "not found")
		return
	}

	writeHLSResponse(conn, path)
}

// safeJoin joins directory and name, rejecting any result that escapes
// directory's canonical prefix (path-traversal guard; ".." components are
// already stripped from name by decodedSegments, and this also rejects
// names that climb out lexically; an absolute-looking name is joined under
// directory). When the joined path exists, it and directory are resolved
// through symlinks and compared again, so a symlink pointing outside
// directory is rejected too.
func safeJoin(directory, name string) (string, error) {
	base, err := filepath.Abs(directory)
	if err != nil {
		return "", err
	}
	joined := filepath.Join(base, name)
	rel, err := filepath.Rel(base, joined)
	if err != nil {
		return "", err
	}
	if rel == ".." || strings.HasPrefix(rel, "../") {
		return "", errPathEscapesDirectory
	}
	if resolved, err := filepath.EvalSymlinks(joined); err == nil {
		realBase, err := filepath.EvalSymlinks(base)
		if err != nil {
			return "", err
		}
		rel, err := filepath.Rel(realBase, resolved)
		if err != nil || rel == ".." || strings.HasPrefix(rel, "../") {
			return "", errPathEscapesDirectory
		}
	}
	return joined, nil
}
