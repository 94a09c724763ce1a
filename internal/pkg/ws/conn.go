package ws

import (
	"sync"

	"github.com/gorilla/websocket"
)

// Connection is the write side of a persistent client connection as seen by
// the dispatcher and the session entities. Entities never own the
// connection's lifetime; closing is driven by the read loop or by a failed
// fan-out delivery.
type Connection interface {
	// SendJSON serializes v and writes it as a text frame.
	SendJSON(v interface{}) error
	// SendError writes an error envelope. A zero code is omitted on the wire.
	SendError(message string, code int) error
	// Close closes the underlying transport and fires close hooks once.
	Close() error
	// OnClose registers fn to run when the connection closes. Hooks run once.
	OnClose(fn func())
}

type errorMessage struct {
	Error string `json:"error"`
	Code  int    `json:"code,omitempty"`
}

// Conn wraps a gorilla websocket connection with mutex-guarded writes and
// close-hook fan-in.
type Conn struct {
	mu     sync.Mutex
	ws     *websocket.Conn
	closed bool
	hooks  []func()
}

// NewConn wraps an upgraded websocket connection
func NewConn(ws *websocket.Conn) *Conn {
	return &Conn{ws: ws}
}

// SendJSON writes v as a JSON text frame
func (c *Conn) SendJSON(v interface{}) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.closed {
		return websocket.ErrCloseSent
	}
	return c.ws.WriteJSON(v)
}

// SendError writes an error envelope
func (c *Conn) SendError(message string, code int) error {
	return c.SendJSON(errorMessage{Error: message, Code: code})
}

// Close closes the transport and runs close hooks exactly once
func (c *Conn) Close() error {
	c.mu.Lock()
	if c.closed {
		c.mu.Unlock()
		return nil
	}
	c.closed = true
	hooks := c.hooks
	c.hooks = nil
	err := c.ws.Close()
	c.mu.Unlock()

	for _, fn := range hooks {
		fn()
	}
	return err
}

// OnClose registers a close hook. If the connection is already closed the
// hook runs immediately.
func (c *Conn) OnClose(fn func()) {
	c.mu.Lock()
	if c.closed {
		c.mu.Unlock()
		fn()
		return
	}
	c.hooks = append(c.hooks, fn)
	c.mu.Unlock()
}
