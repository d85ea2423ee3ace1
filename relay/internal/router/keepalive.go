package router

import (
	"sync"
	"time"

	"github.com/gorilla/websocket"
)

// Keepalive timings. A peer that sends nothing, pongs included, for the pong
// wait is dropped by the read deadline.
const (
	defaultPingInterval = 30 * time.Second
	defaultPongWait     = 60 * time.Second
	pingWriteWait       = 10 * time.Second
)

func (c *wsConn) extendDeadline(wait time.Duration) {
	_ = c.conn.SetReadDeadline(time.Now().Add(wait))
}

func (c *wsConn) ping() error {
	if c.closed.Load() {
		return errConnClosed
	}
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.conn.WriteControl(websocket.PingMessage, nil, time.Now().Add(pingWriteWait))
}

// keepalive arms the read deadline, pushes it out on every pong and pings the
// peer each interval until stop is called or a ping write fails.
func (c *wsConn) keepalive(interval, wait time.Duration) (stop func()) {
	c.extendDeadline(wait)
	c.conn.SetPongHandler(func(string) error {
		c.extendDeadline(wait)
		return nil
	})

	quit := make(chan struct{})
	go func() {
		ticker := time.NewTicker(interval)
		defer ticker.Stop()
		for {
			select {
			case <-quit:
				return
			case <-ticker.C:
				if c.ping() != nil {
					return
				}
			}
		}
	}()

	var once sync.Once
	return func() { once.Do(func() { close(quit) }) }
}
