package client

import (
	"context"
	"errors"
	"net"
	"net/http"
	"sync"
	"time"

	"github.com/gorilla/websocket"
	"github.com/rs/zerolog/log"

	"github.com/cbrcs/studysession/internal/protocol"
)

const (
	channelBuffer = 64
	writeWait     = 5 * time.Second
)

// Channel is the client end of the signaling websocket. Sends are queued
// and written in order; received frames are decoded onto Messages.
type Channel struct {
	conn *websocket.Conn
	send chan []byte
	in   chan protocol.Message
	done chan struct{}

	mu     sync.RWMutex
	closed bool
	err    error
}

// Dial opens the websocket at url. header may carry cookies.
func Dial(ctx context.Context, url string, header http.Header) (*Channel, error) {
	ws, _, err := websocket.DefaultDialer.DialContext(ctx, url, header)
	if err != nil {
		return nil, err
	}
	c := &Channel{
		conn: ws,
		send: make(chan []byte, channelBuffer),
		in:   make(chan protocol.Message, channelBuffer),
		done: make(chan struct{}),
	}
	go c.writeLoop()
	go c.readLoop()
	return c, nil
}

// Messages is closed once the connection is gone; Err tells why.
func (c *Channel) Messages() <-chan protocol.Message { return c.in }

// Done is closed when the read side has stopped.
func (c *Channel) Done() <-chan struct{} { return c.done }

func (c *Channel) Err() error {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.err
}

// Send queues m behind every message sent before it.
func (c *Channel) Send(m protocol.Message) error {
	b, err := protocol.Encode(m)
	if err != nil {
		return err
	}
	c.mu.RLock()
	defer c.mu.RUnlock()
	if c.closed {
		return ErrChannelClosed
	}
	select {
	case c.send <- b:
		return nil
	case <-c.done:
		return ErrChannelClosed
	}
}

// Close flushes queued messages, then closes the socket.
func (c *Channel) Close() {
	c.mu.Lock()
	if c.closed {
		c.mu.Unlock()
		return
	}
	c.closed = true
	close(c.send)
	c.mu.Unlock()
}

func (c *Channel) writeLoop() {
	defer func() { _ = c.conn.Close() }()
	for data := range c.send {
		_ = c.conn.SetWriteDeadline(time.Now().Add(writeWait))
		if err := c.conn.WriteMessage(websocket.TextMessage, data); err != nil {
			log.Warn().Err(err).Str("module", "client.channel").Msg("write")
			c.drain()
			return
		}
	}
	_ = c.conn.SetWriteDeadline(time.Now().Add(writeWait))
	_ = c.conn.WriteMessage(websocket.CloseMessage, websocket.FormatCloseMessage(websocket.CloseNormalClosure, "leave"))
}

// drain unblocks senders after a write failure until Close is called.
func (c *Channel) drain() {
	go func() {
		for range c.send {
		}
	}()
}

func (c *Channel) readLoop() {
	defer func() {
		close(c.in)
		close(c.done)
		c.Close()
	}()
	for {
		_, data, err := c.conn.ReadMessage()
		if err != nil {
			c.setErr(err)
			return
		}
		m, err := protocol.ParseServer(data)
		if err != nil {
			log.Warn().Err(err).Str("module", "client.channel").Msg("bad frame")
			continue
		}
		c.in <- m
	}
}

func (c *Channel) setErr(err error) {
	if websocket.IsCloseError(err, websocket.CloseNormalClosure, websocket.CloseGoingAway) || errors.Is(err, net.ErrClosed) {
		err = ErrChannelClosed
	} else {
		log.Info().Err(err).Str("module", "client.channel").Msg("connection lost")
	}
	c.mu.Lock()
	c.err = err
	c.mu.Unlock()
}
