package gateway

import (
	"sync"
	"sync/atomic"
	"time"

	"golang.org/x/net/websocket"
)

// State is the lifecycle state of a connection.
type State int32

const (
	StateConnecting State = iota
	StateAuthenticated
	StateDisconnected
)

func (s State) String() string {
	switch s {
	case StateConnecting:
		return "CONNECTING"
	case StateAuthenticated:
		return "AUTHENTICATED"
	default:
		return "DISCONNECTED"
	}
}

const writeTimeout = 5 * time.Second

// Conn is one client connection. Writes are serialized so concurrent fan-outs
// never interleave frames.
type Conn struct {
	id     string
	userID string
	state  atomic.Int32

	mu sync.Mutex
	ws *websocket.Conn

	closeOnce sync.Once
}

func newConn(id string) *Conn {
	c := &Conn{id: id}
	c.state.Store(int32(StateConnecting))
	return c
}

func (c *Conn) ID() string     { return c.id }
func (c *Conn) UserID() string { return c.userID }

// State returns the current lifecycle state.
func (c *Conn) State() State {
	return State(c.state.Load())
}

func (c *Conn) authenticate(userID string) {
	c.userID = userID
	c.state.Store(int32(StateAuthenticated))
}

func (c *Conn) attach(ws *websocket.Conn) {
	c.mu.Lock()
	c.ws = ws
	c.mu.Unlock()
}

func (c *Conn) send(frame []byte) error {
	c.mu.Lock()
	defer c.mu.Unlock()

	if c.ws == nil || c.State() != StateAuthenticated {
		return errConnClosed
	}
	if err := c.ws.SetWriteDeadline(time.Now().Add(writeTimeout)); err != nil {
		return err
	}
	return websocket.Message.Send(c.ws, string(frame))
}

func (c *Conn) close() {
	c.closeOnce.Do(func() {
		c.state.Store(int32(StateDisconnected))
		c.mu.Lock()
		ws := c.ws
		c.mu.Unlock()
		if ws != nil {
			_ = ws.Close()
		}
	})
}
