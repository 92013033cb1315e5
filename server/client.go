// Package server exposes the racing service to the network: a websocket
// protocol of JSON frames for live play, an HTTP surface for race
// management, and the connection registry and broadcast fan-out behind
// both.
package server

import (
	"encoding/json"
	"sync"
	"sync/atomic"
	"time"

	"github.com/google/uuid"
	"github.com/gorilla/websocket"
	"github.com/rs/zerolog"
	"golang.org/x/time/rate"
)

const (
	// sendBuffer bounds each client's outbound queue. A client that
	// falls this far behind the tick stream is disconnected rather
	// than allowed to stall the broadcaster.
	sendBuffer = 256

	readLimit     = 4096
	readTimeout   = 60 * time.Second
	writeTimeout  = 10 * time.Second
	pingInterval  = 54 * time.Second
	inboundPerSec = 50
	inboundBurst  = 20
)

// Frame is one JSON message in either direction.
type Frame struct {
	Type string `json:"type"`
	Data any    `json:"data,omitempty"`
}

// InboundFrame defers payload decoding until the type is known.
type InboundFrame struct {
	Type string          `json:"type"`
	Data json.RawMessage `json:"data"`
}

// Client is one websocket connection. It carries no game identity of its
// own; the connection registry maps it to a player and races.
type Client struct {
	ID string

	conn      *websocket.Conn
	send      chan Frame
	done      chan struct{}
	closeOnce sync.Once
	limiter   *rate.Limiter
	lastSeen  atomic.Int64
	log       zerolog.Logger
}

// NewClient wraps an upgraded connection. The pumps are started
// separately so tests can drive a client without a live socket.
func NewClient(conn *websocket.Conn, logger zerolog.Logger) *Client {
	c := &Client{
		ID:      "sock_" + uuid.NewString()[:8],
		conn:    conn,
		send:    make(chan Frame, sendBuffer),
		done:    make(chan struct{}),
		limiter: rate.NewLimiter(rate.Limit(inboundPerSec), inboundBurst),
	}
	c.log = logger.With().Str("socket_id", c.ID).Logger()
	c.Touch()
	return c
}

// Touch records client activity for the stale sweep.
func (c *Client) Touch() {
	c.lastSeen.Store(time.Now().UnixNano())
}

// LastSeen reports the most recent inbound activity.
func (c *Client) LastSeen() time.Time {
	return time.Unix(0, c.lastSeen.Load())
}

// TrySend queues a frame without blocking. False means the buffer is
// full and the frame was dropped.
func (c *Client) TrySend(f Frame) bool {
	select {
	case <-c.done:
		return false
	default:
	}
	select {
	case c.send <- f:
		return true
	default:
		return false
	}
}

// Close tears the connection down. Safe to call from any goroutine and
// more than once.
func (c *Client) Close() {
	c.closeOnce.Do(func() {
		close(c.done)
		if c.conn != nil {
			c.conn.Close()
		}
	})
}

// Done closes when the client has been shut down.
func (c *Client) Done() <-chan struct{} {
	return c.done
}

// readPump decodes inbound frames and hands them to handle until the
// socket dies. onClose runs exactly once afterwards.
func (c *Client) readPump(handle func(*Client, InboundFrame), onClose func(*Client)) {
	defer func() {
		c.Close()
		onClose(c)
	}()

	c.conn.SetReadLimit(readLimit)
	c.conn.SetReadDeadline(time.Now().Add(readTimeout))
	c.conn.SetPongHandler(func(string) error {
		c.conn.SetReadDeadline(time.Now().Add(readTimeout))
		c.Touch()
		return nil
	})

	for {
		var frame InboundFrame
		if err := c.conn.ReadJSON(&frame); err != nil {
			if websocket.IsUnexpectedCloseError(err, websocket.CloseGoingAway, websocket.CloseNormalClosure) {
				c.log.Debug().Err(err).Msg("socket read failed")
			}
			return
		}
		c.Touch()
		// Transport abuse guard. Game-level command pacing is the
		// queue's job; excess frames here are dropped outright.
		if !c.limiter.Allow() {
			c.log.Debug().Str("type", frame.Type).Msg("inbound frame dropped by limiter")
			continue
		}
		handle(c, frame)
	}
}

// writePump drains the send buffer onto the socket and keeps the
// connection alive with pings.
func (c *Client) writePump() {
	ticker := time.NewTicker(pingInterval)
	defer func() {
		ticker.Stop()
		c.Close()
	}()

	for {
		select {
		case <-c.done:
			c.conn.SetWriteDeadline(time.Now().Add(writeTimeout))
			c.conn.WriteMessage(websocket.CloseMessage,
				websocket.FormatCloseMessage(websocket.CloseNormalClosure, ""))
			return
		case frame := <-c.send:
			c.conn.SetWriteDeadline(time.Now().Add(writeTimeout))
			if err := c.conn.WriteJSON(frame); err != nil {
				c.log.Debug().Err(err).Msg("socket write failed")
				return
			}
		case <-ticker.C:
			c.conn.SetWriteDeadline(time.Now().Add(writeTimeout))
			if err := c.conn.WriteMessage(websocket.PingMessage, nil); err != nil {
				return
			}
		}
	}
}
