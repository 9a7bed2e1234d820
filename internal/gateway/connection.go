package gateway

import (
	"context"
	"sync"
	"time"

	"github.com/gorilla/websocket"

	"coachwire/internal/config"
	"coachwire/internal/protocol"
)

// Connection wraps one WebSocket with a single writer goroutine so that
// broadcasts from the registry and targeted replies never interleave a
// frame. It implements registry.Subscriber.
type Connection struct {
	conn         *websocket.Conn
	writeCh      chan []byte
	userID       string
	sessionID    string
	writeTimeout time.Duration
	ctx          context.Context
	cancel       context.CancelFunc
	closeOnce    sync.Once
	writerDone   chan struct{}
}

func NewConnection(ws *websocket.Conn, userID, sessionID string, cfg config.WebSocket) *Connection {
	ctx, cancel := context.WithCancel(context.Background())
	c := &Connection{
		conn:         ws,
		writeCh:      make(chan []byte, cfg.BufferSize),
		userID:       userID,
		sessionID:    sessionID,
		writeTimeout: cfg.WriteTimeout,
		ctx:          ctx,
		cancel:       cancel,
		writerDone:   make(chan struct{}),
	}
	go c.writeLoop()
	return c
}

func (c *Connection) writeLoop() {
	defer close(c.writerDone)
	for {
		select {
		case data := <-c.writeCh:
			if data == nil {
				deadline := time.Now().Add(c.writeTimeout)
				msg := websocket.FormatCloseMessage(websocket.CloseNormalClosure, "")
				c.conn.WriteControl(websocket.CloseMessage, msg, deadline)
				return
			}
			if err := c.conn.SetWriteDeadline(time.Now().Add(c.writeTimeout)); err != nil {
				return
			}
			if err := c.conn.WriteMessage(websocket.TextMessage, data); err != nil {
				return
			}
		case <-c.ctx.Done():
			return
		}
	}
}

// Send encodes an outbound event and queues it for the writer. It fails
// fast when the buffer has been full for the write timeout, so a stalled
// client cannot hold up a broadcasting machine.
func (c *Connection) Send(ev protocol.Outbound) error {
	select {
	case <-c.ctx.Done():
		return ErrConnectionClosed
	default:
	}

	data, err := protocol.Encode(ev)
	if err != nil {
		return err
	}

	select {
	case c.writeCh <- data:
		return nil
	case <-time.After(c.writeTimeout):
		return ErrWriteTimeout
	case <-c.ctx.Done():
		return ErrConnectionClosed
	}
}

func (c *Connection) UserID() string {
	return c.userID
}

func (c *Connection) SessionID() string {
	return c.sessionID
}

// closeGracefully queues a close frame behind any pending events and waits
// for the writer to drain, so the peer sees everything sent before the
// socket goes away.
func (c *Connection) closeGracefully() {
	select {
	case c.writeCh <- nil:
	case <-time.After(c.writeTimeout):
	case <-c.ctx.Done():
	}
	select {
	case <-c.writerDone:
	case <-time.After(c.writeTimeout):
	}
}

func (c *Connection) Close() error {
	var err error
	c.closeOnce.Do(func() {
		c.cancel()
		err = c.conn.Close()
	})
	return err
}
