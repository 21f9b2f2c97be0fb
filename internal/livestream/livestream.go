// Package livestream pushes probe state snapshots to WebSocket clients.
package livestream

import (
	"net/http"
	"sync"
	"time"

	"github.com/apex/log"
	"github.com/gorilla/websocket"

	"github.com/m-lab/speedprobe-go/internal/logging"
)

const writeTimeout = 5 * time.Second

// conn wraps a WebSocket connection with its own mutex for writes.
type conn struct {
	ws *websocket.Conn
	mu sync.Mutex
}

func (c *conn) writeJSON(v interface{}) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	if err := c.ws.SetWriteDeadline(time.Now().Add(writeTimeout)); err != nil {
		return err
	}
	return c.ws.WriteJSON(v)
}

// Broadcaster is an http.Handler upgrading requests to WebSocket and
// sending every broadcast message to all the connected clients. Newly
// connected clients immediately receive the last message, if any.
type Broadcaster struct {
	Logger log.Interface

	upgrader websocket.Upgrader

	mu    sync.RWMutex
	conns map[*websocket.Conn]*conn
	last  interface{}
}

// New returns a new Broadcaster.
func New() *Broadcaster {
	return &Broadcaster{
		Logger: logging.Logger,
		upgrader: websocket.Upgrader{
			ReadBufferSize:    1024,
			WriteBufferSize:   1024,
			EnableCompression: false,
			CheckOrigin: func(r *http.Request) bool {
				// Dashboards are served from anywhere.
				return true
			},
		},
		conns: make(map[*websocket.Conn]*conn),
	}
}

// ServeHTTP implements http.Handler.
func (b *Broadcaster) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	ws, err := b.upgrader.Upgrade(w, r, nil)
	if err != nil {
		b.Logger.WithError(err).Debug("websocket upgrade failed")
		return
	}
	c := b.add(ws)
	defer b.remove(ws)
	b.mu.RLock()
	last := b.last
	b.mu.RUnlock()
	if last != nil {
		if err := c.writeJSON(last); err != nil {
			return
		}
	}
	// Clients are not expected to talk; reading just notices when
	// they go away and handles control frames.
	for {
		if _, _, err := ws.NextReader(); err != nil {
			return
		}
	}
}

func (b *Broadcaster) add(ws *websocket.Conn) *conn {
	c := &conn{ws: ws}
	b.mu.Lock()
	b.conns[ws] = c
	b.mu.Unlock()
	return c
}

func (b *Broadcaster) remove(ws *websocket.Conn) {
	b.mu.Lock()
	_, found := b.conns[ws]
	delete(b.conns, ws)
	b.mu.Unlock()
	if found {
		ws.Close()
	}
}

// Broadcast sends v, encoded as JSON, to all the connected clients.
// Clients that cannot keep up are disconnected.
func (b *Broadcaster) Broadcast(v interface{}) {
	b.mu.Lock()
	b.last = v
	conns := make([]*conn, 0, len(b.conns))
	for _, c := range b.conns {
		conns = append(conns, c)
	}
	b.mu.Unlock()
	for _, c := range conns {
		if err := c.writeJSON(v); err != nil {
			b.Logger.WithError(err).Debug("dropping websocket client")
			b.remove(c.ws)
		}
	}
}

// Len returns the number of connected clients.
func (b *Broadcaster) Len() int {
	b.mu.RLock()
	defer b.mu.RUnlock()
	return len(b.conns)
}

// Close disconnects all the clients.
func (b *Broadcaster) Close() {
	b.mu.Lock()
	conns := b.conns
	b.conns = make(map[*websocket.Conn]*conn)
	b.mu.Unlock()
	for ws := range conns {
		ws.Close()
	}
}
