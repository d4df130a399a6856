package ws

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/gorilla/websocket"

	tsnet "ticksync/internal/net"
	"ticksync/internal/telemetry"
)

const (
	defaultWriteWait     = 10 * time.Second
	defaultInboxCapacity = 256
	defaultReadLimit     = 1 << 16
)

// Config tunes a websocket link.
type Config struct {
	WriteWait     time.Duration
	InboxCapacity int
	ReadLimit     int64
	Logger        telemetry.Logger
	Metrics       telemetry.Metrics
}

func (c Config) withDefaults() Config {
	if c.WriteWait <= 0 {
		c.WriteWait = defaultWriteWait
	}
	if c.InboxCapacity < 1 {
		c.InboxCapacity = defaultInboxCapacity
	}
	if c.ReadLimit <= 0 {
		c.ReadLimit = defaultReadLimit
	}
	if c.Logger == nil {
		c.Logger = telemetry.WrapLogger(nil)
	}
	return c
}

// Conn carries binary packets over a websocket. A read pump feeds the inbox;
// writes are serialized and bounded by the write deadline.
type Conn struct {
	id    string
	conn  *websocket.Conn
	cfg   Config
	inbox *tsnet.Inbox

	mu        sync.Mutex
	done      chan struct{}
	closeOnce sync.Once
}

var _ tsnet.Transport = (*Conn)(nil)

// NewConn wraps an established websocket and starts its read pump.
func NewConn(conn *websocket.Conn, cfg Config) *Conn {
	cfg = cfg.withDefaults()
	c := &Conn{
		id:    uuid.NewString(),
		conn:  conn,
		cfg:   cfg,
		inbox: tsnet.NewInbox(cfg.InboxCapacity, cfg.Metrics),
		done:  make(chan struct{}),
	}
	conn.SetReadLimit(cfg.ReadLimit)
	go c.readPump()
	return c
}

// Dial connects to a websocket endpoint.
func Dial(ctx context.Context, url string, cfg Config) (*Conn, error) {
	conn, resp, err := websocket.DefaultDialer.DialContext(ctx, url, nil)
	if resp != nil && resp.Body != nil {
		resp.Body.Close()
	}
	if err != nil {
		return nil, fmt.Errorf("dial %s: %w", url, err)
	}
	return NewConn(conn, cfg), nil
}

// ID implements Transport.
func (c *Conn) ID() string { return c.id }

// Send writes one binary message.
func (c *Conn) Send(data []byte) error {
	select {
	case <-c.done:
		return tsnet.ErrClosed
	default:
	}
	c.mu.Lock()
	defer c.mu.Unlock()
	c.conn.SetWriteDeadline(time.Now().Add(c.cfg.WriteWait))
	if err := c.conn.WriteMessage(websocket.BinaryMessage, data); err != nil {
		c.shutdown()
		return fmt.Errorf("write %s: %w", c.id, err)
	}
	return nil
}

// Receive implements Transport.
func (c *Conn) Receive() ([]byte, bool) {
	return c.inbox.Pop()
}

// Done implements Transport.
func (c *Conn) Done() <-chan struct{} {
	return c.done
}

// Close sends a close frame and releases the socket.
func (c *Conn) Close() error {
	select {
	case <-c.done:
		return nil
	default:
	}
	c.mu.Lock()
	message := websocket.FormatCloseMessage(websocket.CloseNormalClosure, "")
	c.conn.WriteControl(websocket.CloseMessage, message, time.Now().Add(c.cfg.WriteWait))
	c.mu.Unlock()
	c.shutdown()
	return nil
}

func (c *Conn) shutdown() {
	c.closeOnce.Do(func() {
		close(c.done)
		c.conn.Close()
	})
}

func (c *Conn) readPump() {
	defer c.shutdown()
	for {
		kind, payload, err := c.conn.ReadMessage()
		if err != nil {
			var closeErr *websocket.CloseError
			if !errors.As(err, &closeErr) {
				select {
				case <-c.done:
				default:
					c.cfg.Logger.Printf("websocket %s read failed: %v", c.id, err)
				}
			}
			return
		}
		if kind != websocket.BinaryMessage {
			c.cfg.Logger.Printf("discarding non-binary message from %s", c.id)
			continue
		}
		c.inbox.Push(payload)
	}
}
