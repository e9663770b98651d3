package websocket

import (
	"encoding/json"
	"fmt"
	"log/slog"
	"net/url"
	"sync"
	"time"

	"github.com/fleetconsole/tracker/pkg/streaming"
	ws "github.com/gorilla/websocket"
)

const (
	queueLimit     = 1_000
	ackChSize      = 16
	maxReconnect   = 10
	initialBackoff = time.Second
	maxBackoff     = 30 * time.Second
	writeWait      = 10 * time.Second
	ackTimeout     = 10 * time.Second
)

// connection keeps one link to the map open and feeds it from an outbox.
// Each link has its own write and read goroutine; losing the link starts a
// reconnect that replays the outbox scene onto the new one.
type connection struct {
	mu     sync.Mutex
	conn   *ws.Conn
	stop   chan struct{} // closed when the current link is lost
	closed bool

	out     *outbox
	ackCh   chan streaming.AckMessage
	done    chan struct{} // closed on shutdown
	backoff time.Duration

	wsURL  string
	secret string

	logger *slog.Logger
}

func newConnection(logger *slog.Logger) *connection {
	return &connection{
		out:     newOutbox(queueLimit),
		ackCh:   make(chan streaming.AckMessage, ackChSize),
		done:    make(chan struct{}),
		backoff: initialBackoff,
		logger:  logger,
	}
}

// dial connects and starts the link goroutines.
func (c *connection) dial(rawURL, secret string) error {
	c.wsURL = rawURL
	c.secret = secret

	conn, err := c.dialOnce()
	if err != nil {
		return err
	}
	c.attach(conn)
	return nil
}

// dialOnce performs a single dial, passing the secret as a query parameter.
func (c *connection) dialOnce() (*ws.Conn, error) {
	u, err := url.Parse(c.wsURL)
	if err != nil {
		return nil, fmt.Errorf("invalid websocket URL: %w", err)
	}
	if c.secret != "" {
		q := u.Query()
		q.Set("secret", c.secret)
		u.RawQuery = q.Encode()
	}

	conn, _, err := ws.DefaultDialer.Dial(u.String(), nil)
	if err != nil {
		return nil, fmt.Errorf("websocket dial failed: %w", err)
	}
	return conn, nil
}

func (c *connection) attach(conn *ws.Conn) {
	c.mu.Lock()
	if c.closed {
		c.mu.Unlock()
		_ = conn.Close()
		return
	}
	c.conn = conn
	c.stop = make(chan struct{})
	stop := c.stop
	c.mu.Unlock()

	go c.writeLoop(conn, stop)
	go c.readLoop(conn)
}

// lost tears down conn and starts a reconnect. Only the first report for
// the current link has an effect.
func (c *connection) lost(conn *ws.Conn, err error) {
	c.mu.Lock()
	if c.closed || c.conn != conn {
		c.mu.Unlock()
		return
	}
	c.conn = nil
	close(c.stop)
	c.mu.Unlock()

	_ = conn.Close()
	c.logger.Warn("map surface link lost", "error", err)
	go c.reconnect()
}

func (c *connection) writeLoop(conn *ws.Conn, stop chan struct{}) {
	for {
		select {
		case <-c.done:
			return
		case <-stop:
			return
		default:
		}

		f, ok := c.out.next()
		if !ok {
			select {
			case <-c.done:
				return
			case <-stop:
				return
			case <-c.out.wake:
			}
			continue
		}

		if err := conn.SetWriteDeadline(time.Now().Add(writeWait)); err != nil {
			c.lost(conn, err)
			return
		}
		if err := conn.WriteMessage(ws.TextMessage, f.data); err != nil {
			c.lost(conn, fmt.Errorf("write %s: %w", f.kind, err))
			return
		}
	}
}

// readLoop routes acks from the map client to ackCh.
func (c *connection) readLoop(conn *ws.Conn) {
	for {
		_, message, err := conn.ReadMessage()
		if err != nil {
			select {
			case <-c.done:
			default:
				c.lost(conn, err)
			}
			return
		}

		var ack streaming.AckMessage
		if err := json.Unmarshal(message, &ack); err != nil || ack.Type != "ack" {
			c.logger.Debug("ignoring non-ack message", "raw", string(message))
			continue
		}

		select {
		case c.ackCh <- ack:
		default:
			c.logger.Debug("ack channel full, dropping", "for", ack.For)
		}
	}
}

// reconnect re-dials with exponential backoff and replays the scene.
func (c *connection) reconnect() {
	backoff := c.backoff
	for attempt := 1; attempt <= maxReconnect; attempt++ {
		select {
		case <-c.done:
			return
		case <-time.After(backoff):
		}

		c.logger.Info("reconnecting to map surface", "attempt", attempt)
		conn, err := c.dialOnce()
		if err != nil {
			c.logger.Warn("reconnect dial failed", "attempt", attempt, "error", err)
			backoff = min(backoff*2, maxBackoff)
			continue
		}

		c.out.replay()
		c.attach(conn)
		c.logger.Info("map surface reconnected", "attempt", attempt)
		return
	}

	c.logger.Error("map surface reconnect failed", "maxAttempts", maxReconnect)
}

// send queues an envelope for handle.
func (c *connection) send(kind, handle string, data []byte) {
	if !c.out.push(kind, handle, data) {
		c.logger.Warn("map surface queue full, dropping message", "type", kind, "handle", handle)
	}
}

// sendAndWait sends data and blocks until the map acks kind or the timeout.
func (c *connection) sendAndWait(kind string, data []byte, timeout time.Duration) error {
	c.send(kind, "", data)

	timer := time.NewTimer(timeout)
	defer timer.Stop()

	for {
		select {
		case ack := <-c.ackCh:
			if ack.For == kind {
				return nil
			}
		case <-timer.C:
			return fmt.Errorf("timeout waiting for ack of %q", kind)
		case <-c.done:
			return fmt.Errorf("connection closed while waiting for ack of %q", kind)
		}
	}
}

// close sends a close frame and stops all goroutines.
func (c *connection) close() error {
	c.mu.Lock()
	if c.closed {
		c.mu.Unlock()
		return nil
	}
	c.closed = true
	close(c.done)
	conn := c.conn
	c.conn = nil
	c.mu.Unlock()

	if conn != nil {
		_ = conn.WriteControl(
			ws.CloseMessage,
			ws.FormatCloseMessage(ws.CloseNormalClosure, ""),
			time.Now().Add(writeWait),
		)
		return conn.Close()
	}
	return nil
}
