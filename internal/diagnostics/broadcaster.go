package diagnostics

import (
	"context"
	"errors"
	"net"
	"net/http"
	"sync"
	"time"

	"github.com/gorilla/websocket"
)

// Broadcaster mirrors every event published on a Bus to whatever debug
// clients are currently connected over a loopback websocket. It is
// optional: nothing in the core depends on it, and a process with no
// attached client pays only the cost of a Bus.Subscribe fan-out. It is a
// bare loopback endpoint rather than a public API surface, with no
// per-section subscription bookkeeping: every client gets every event.
type Broadcaster struct {
	bus      *Bus
	upgrader websocket.Upgrader

	mu      sync.RWMutex
	clients map[*websocket.Conn]struct{}

	unsubscribe func()
	server      *http.Server
}

// NewBroadcaster wires a Broadcaster to bus. Call Serve to actually start
// accepting connections.
func NewBroadcaster(bus *Bus) *Broadcaster {
	b := &Broadcaster{
		bus: bus,
		upgrader: websocket.Upgrader{
			// Loopback-only debug endpoint; no browser CORS surface to police.
			CheckOrigin: func(r *http.Request) bool { return true },
		},
		clients: make(map[*websocket.Conn]struct{}),
	}
	b.unsubscribe = bus.Subscribe(b.broadcast)
	return b
}

// Serve starts accepting websocket connections on addr (host:port, normally
// a loopback address) and blocks until ctx is cancelled or the listener
// fails. It is safe to call at most once per Broadcaster.
func (b *Broadcaster) Serve(ctx context.Context, addr string) error {
	mux := http.NewServeMux()
	mux.HandleFunc("/", b.handleUpgrade)

	ln, err := net.Listen("tcp", addr)
	if err != nil {
		return err
	}

	b.server = &http.Server{Handler: mux}

	errCh := make(chan error, 1)
	go func() { errCh <- b.server.Serve(ln) }()

	select {
	case <-ctx.Done():
		_ = b.server.Close()
		return ctx.Err()
	case err := <-errCh:
		if errors.Is(err, http.ErrServerClosed) {
			return nil
		}
		return err
	}
}

// Close stops the listener (if running), disconnects every client, and
// unsubscribes from the bus.
func (b *Broadcaster) Close() error {
	b.unsubscribe()

	b.mu.Lock()
	for c := range b.clients {
		_ = c.Close()
		delete(b.clients, c)
	}
	b.mu.Unlock()

	if b.server != nil {
		return b.server.Close()
	}
	return nil
}

func (b *Broadcaster) handleUpgrade(w http.ResponseWriter, r *http.Request) {
	conn, err := b.upgrader.Upgrade(w, r, nil)
	if err != nil {
		return
	}

	b.mu.Lock()
	b.clients[conn] = struct{}{}
	b.mu.Unlock()

	defer func() {
		b.mu.Lock()
		delete(b.clients, conn)
		b.mu.Unlock()
		_ = conn.Close()
	}()

	// The debug client never sends anything meaningful; block on reads
	// purely to detect disconnection.
	for {
		if _, _, err := conn.ReadMessage(); err != nil {
			return
		}
	}
}

func (b *Broadcaster) broadcast(e Event) {
	payload, err := marshal(e)
	if err != nil {
		return
	}

	b.mu.RLock()
	defer b.mu.RUnlock()
	for c := range b.clients {
		_ = c.SetWriteDeadline(time.Now().Add(5 * time.Second))
		_ = c.WriteMessage(websocket.TextMessage, payload)
	}
}
