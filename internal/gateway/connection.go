package gateway

import (
	"context"
	"encoding/json"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/gorilla/websocket"

	"cmelive/pkg/types"
)

// sender is the surface event handlers need from a connection. The concrete
// Connection wraps a WebSocket; tests substitute an in-memory fake.
type sender interface {
	ID() string
	User() *types.User
	WriteJSON(v interface{}) error
	Close() error
}

// Connection wraps one WebSocket session. The id is unique per active
// session and the user is set at construction, after verification, and
// never changes. All writes are serialized through a single writer
// goroutine.
type Connection struct {
	id           string
	user         *types.User
	conn         *websocket.Conn
	writeCh      chan []byte
	writeTimeout time.Duration
	ctx          context.Context
	cancel       context.CancelFunc
	closeOnce    sync.Once
}

// newConnection creates a connection wrapper and starts its writer
// goroutine.
func newConnection(conn *websocket.Conn, user *types.User, bufferSize int, writeTimeout time.Duration) *Connection {
	ctx, cancel := context.WithCancel(context.Background())
	c := &Connection{
		id:           uuid.New().String(),
		user:         user,
		conn:         conn,
		writeCh:      make(chan []byte, bufferSize),
		writeTimeout: writeTimeout,
		ctx:          ctx,
		cancel:       cancel,
	}

	go c.writeLoop()

	return c
}

func (c *Connection) writeLoop() {
	for {
		select {
		case data := <-c.writeCh:
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

// ID returns the opaque connection identifier.
func (c *Connection) ID() string {
	return c.id
}

// User returns the identity attached at connect time.
func (c *Connection) User() *types.User {
	return c.user
}

// WriteJSON queues a JSON message for the writer goroutine.
func (c *Connection) WriteJSON(v interface{}) error {
	select {
	case <-c.ctx.Done():
		return ErrConnectionClosed
	default:
	}

	data, err := json.Marshal(v)
	if err != nil {
		return ErrInvalidJSON
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

// Close stops the writer goroutine and closes the WebSocket.
func (c *Connection) Close() error {
	var err error
	c.closeOnce.Do(func() {
		c.cancel()
		if c.conn != nil {
			err = c.conn.Close()
		}
	})
	return err
}
