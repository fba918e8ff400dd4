// Package streamserver is a process-singleton loopback HTTP server that
// serves materialized processing artifacts (a single file, or an HLS
// playlist plus segments) to the renderer. Its request parsing is
// hand-rolled rather than built on net/http's mux: the routing and
// byte-range rules it implements are narrow and fully enumerated, and a
// hand-rolled reader keeps the parsing visible rather than hidden behind
// handler registration (see DESIGN.md).
package streamserver

import (
	"fmt"
	"net"
	"sync"

	"github.com/google/uuid"
	"github.com/hashicorp/go-hclog"

	"github.com/vplayer/core/internal/perr"
)

// SessionKind discriminates the two servable session shapes.
type SessionKind int

const (
	SessionFile SessionKind = iota
	SessionHLS
)

type session struct {
	kind SessionKind

	// File
	filePath string

	// HLS
	directory        string
	playlistFilename string
}

// Config configures a Server. The zero value of Port requests any free
// port from the OS rather than the conventional default; callers that want
// the conventional fixed port must request it explicitly.
type Config struct {
	Host   string // default 127.0.0.1
	Port   int    // 0 requests any free port
	Logger hclog.Logger
}

// DefaultPort is the loopback port requested by cmd/vplayer's production
// wiring.
const DefaultPort = 39453

// Server is the loopback HTTP surface. The listener is lazily created on
// first registration; a single mutex guards both listener startup and the
// session table, so a session is never visible before the server can serve it.
type Server struct {
	mu sync.Mutex

	host string
	port int

	listener net.Listener
	boundURL string

	sessions map[string]*session

	logger hclog.Logger
}

// New constructs a Server. The listener is not created until the first
// registration call.
func New(cfg Config) *Server {
	host := cfg.Host
	if host == "" {
		host = "127.0.0.1"
	}
	logger := cfg.Logger
	if logger == nil {
		logger = hclog.NewNullLogger()
	}
	return &Server{
		host:     host,
		port:     cfg.Port,
		sessions: make(map[string]*session),
		logger:   logger.Named("streamserver"),
	}
}

// ensureListening binds the listener if it has not been bound yet. Callers
// must hold s.mu.
func (s *Server) ensureListening() error {
	if s.listener != nil {
		return nil
	}
	addr := fmt.Sprintf("%s:%d", s.host, s.port)
	ln, err := net.Listen("tcp", addr)
	if err != nil {
		return perr.New(perr.KindListenerUnavailable, "could not bind loopback listener at "+addr, err)
	}
	s.listener = ln
	s.boundURL = fmt.Sprintf("http://%s", ln.Addr().String())
	go s.acceptLoop(ln)
	return nil
}

func (s *Server) acceptLoop(ln net.Listener) {
	for {
		conn, err := ln.Accept()
		if err != nil {
			s.logger.Debug("accept loop stopped", "error", err)
			return
		}
		go s.handleConn(conn)
	}
}

// RegisterFile inserts a file session and returns a handle whose URL serves
// it with byte-range support.
func (s *Server) RegisterFile(path string) (*StreamHandle, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if err := s.ensureListening(); err != nil {
		return nil, err
	}

	id := uuid.NewString()
	s.sessions[id] = &session{kind: SessionFile, filePath: path}

	return &StreamHandle{
		id:     id,
		server: s,
		URL:    fmt.Sprintf("%s/stream/%s", s.boundURL, id),
	}, nil
}

// RegisterHLS verifies the playlist exists, inserts an HLS session, and
// returns a handle whose URL serves the playlist (and, by relative path,
// its segments).
func (s *Server) RegisterHLS(directory, playlistFilename string) (*StreamHandle, error) {
	playlistPath, err := safeJoin(directory, playlistFilename)
	if err != nil {
		return nil, perr.New(perr.KindInvalidRequest, "invalid playlist filename", err)
	}
	if !fileExists(playlistPath) {
		return nil, perr.New(perr.KindInvalidRequest, "hls playlist does not exist: "+playlistPath, nil)
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	if err := s.ensureListening(); err != nil {
		return nil, err
	}

	id := uuid.NewString()
	s.sessions[id] = &session{kind: SessionHLS, directory: directory, playlistFilename: playlistFilename}

	return &StreamHandle{
		id:     id,
		server: s,
		URL:    fmt.Sprintf("%s/hls/%s/%s", s.boundURL, id, playlistFilename),
	}, nil
}

func (s *Server) lookup(id string) (*session, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	sess, ok := s.sessions[id]
	return sess, ok
}

func (s *Server) drop(id string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	delete(s.sessions, id)
}

// Close stops accepting new connections. Existing sessions are dropped.
func (s *Server) Close() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.sessions = make(map[string]*session)
	if s.listener == nil {
		return nil
	}
	err := s.listener.Close()
	s.listener = nil
	return err
}

// StreamHandle is a disposable reference to a registered session.
type StreamHandle struct {
	id          string
	server      *Server
	cleanupOnce sync.Once

	URL string
}

// Cleanup removes the session binding. It does not remove the artifact's
// scratch directory; that is the artifact's own responsibility. Safe to
// call more than once, and on a handle not bound to any server.
func (h *StreamHandle) Cleanup() error {
	h.cleanupOnce.Do(func() {
		if h.server != nil {
			h.server.drop(h.id)
		}
	})
	return nil
}
