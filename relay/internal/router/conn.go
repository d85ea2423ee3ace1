package router

import (
	"encoding/json"
	"errors"
	"fmt"
	"sync"
	"sync/atomic"
	"time"

	"github.com/gorilla/websocket"
	"golang.org/x/time/rate"

	"github.com/token-beam/token-beam/pkg/protocol"
)

const writeWait = 10 * time.Second

var errConnClosed = errors.New("connection closed")

// maxCloseReason is the room left for a reason in a close frame.
const maxCloseReason = 123

// wsConn is one client socket. It implements session.Conn.
type wsConn struct {
	id         string
	remoteAddr string
	origin     string // HTTP Origin header
	conn       *websocket.Conn
	limiter    *rate.Limiter

	mu     sync.Mutex // guards writes to conn
	closed atomic.Bool
}

func (c *wsConn) ID() string { return c.id }

func (c *wsConn) Open() bool { return !c.closed.Load() }

func (c *wsConn) Send(msg protocol.Message) error {
	if c.closed.Load() {
		return fmt.Errorf("conn %s: %w", c.id, errConnClosed)
	}
	data, err := json.Marshal(msg)
	if err != nil {
		return fmt.Errorf("marshal %s: %w", msg.Type, err)
	}
	c.mu.Lock()
	defer c.mu.Unlock()
	_ = c.conn.SetWriteDeadline(time.Now().Add(writeWait))
	return c.conn.WriteMessage(websocket.TextMessage, data)
}

// Close sends a close frame carrying reason and closes the socket. Only the
// first call has any effect.
func (c *wsConn) Close(reason string) {
	if !c.closed.CompareAndSwap(false, true) {
		return
	}
	if len(reason) > maxCloseReason {
		reason = reason[:maxCloseReason]
	}
	c.mu.Lock()
	_ = c.conn.WriteControl(websocket.CloseMessage,
		websocket.FormatCloseMessage(websocket.CloseNormalClosure, reason), time.Now().Add(time.Second))
	c.mu.Unlock()
	_ = c.conn.Close()
}

func (c *wsConn) sendError(text string) {
	_ = c.Send(protocol.ErrorMessage(text))
}
