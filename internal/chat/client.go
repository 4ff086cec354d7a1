package chat

import (
	"log/slog"
	"sync"
	"time"

	"github.com/gofiber/contrib/websocket"
	"github.com/google/uuid"
	"golang.org/x/time/rate"

	"github.com/pelusa-v/duochat/internal/errs"
)

const defaultWriterGrace = 10 * time.Second

type Client struct {
	Id   string
	Conn ConnLike
	Send chan []byte

	limiter    *rate.Limiter
	closeOnce  sync.Once
	writerDone chan struct{}
}

// ConnLike is the subset of a websocket connection the pumps need.
type ConnLike interface {
	ReadMessage() (int, []byte, error)
	WriteMessage(int, []byte) error
	SetWriteDeadline(time.Time) error
	Close() error
}

// NewClient wraps conn with a fresh id. A nil limiter disables frame rate
// limiting.
func NewClient(conn ConnLike, sendBuffer int, limiter *rate.Limiter) *Client {
	if sendBuffer <= 0 {
		sendBuffer = 64
	}
	return &Client{
		Id:      uuid.NewString(),
		Conn:    conn,
		Send:       make(chan []byte, sendBuffer),
		limiter:    limiter,
		writerDone: make(chan struct{}),
	}
}

// allow reports whether one more inbound frame fits the rate limit.
func (c *Client) allow() bool {
	return c.limiter == nil || c.limiter.Allow()
}

// closeSend closes the outbound queue exactly once; WritePump then exits.
func (c *Client) closeSend() {
	c.closeOnce.Do(func() { close(c.Send) })
}

// ReadPump feeds every inbound text frame to handle until the peer goes away.
func (c *Client) ReadPump(handle func(*Client, []byte)) {
	for {
		mt, data, err := c.Conn.ReadMessage()
		if err != nil {
			return
		}
		if mt != websocket.TextMessage {
			continue
		}
		handle(c, data)
	}
}

// WritePump drains Send onto the connection. A failed or timed out write
// closes the connection so ReadPump unblocks and the client is unregistered.
func (c *Client) WritePump(writeTimeout time.Duration, log *slog.Logger) {
	defer close(c.writerDone)
	for data := range c.Send {
		if writeTimeout > 0 {
			_ = c.Conn.SetWriteDeadline(time.Now().Add(writeTimeout))
		}
		if err := c.Conn.WriteMessage(websocket.TextMessage, data); err != nil {
			log.Debug("ws_write_failed", "conn", c.Id, "error", errs.Wrap(errs.CodeTransportFailure, "write frame", err))
			_ = c.Conn.Close()
			for range c.Send {
			}
			return
		}
	}
}

// awaitWriter blocks until WritePump has returned. Send must already be
// closed. A writer still stuck after grace gets its connection closed so the
// pending write fails.
func (c *Client) awaitWriter(grace time.Duration) {
	if grace <= 0 {
		grace = defaultWriterGrace
	}
	timer := time.NewTimer(grace)
	defer timer.Stop()
	select {
	case <-c.writerDone:
		return
	case <-timer.C:
	}
	_ = c.Conn.Close()
	<-c.writerDone
}
