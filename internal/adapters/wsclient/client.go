// Package wsclient is the client-side signaling channel: a WebSocket
// to the relay with keepalive, decoding inbound frames into protocol
// messages.
package wsclient

import (
	"context"
	"errors"
	"sync"
	"time"

	"github.com/gorilla/websocket"
	"github.com/rs/zerolog/log"

	"github.com/Ameba1399/MES/internal/protocol"
)

const (
	writeWait      = 10 * time.Second
	pongWait       = 60 * time.Second
	pingPeriod     = (pongWait * 9) / 10
	maxMessageSize = 64 * 1024
)

var ErrClosed = errors.New("signaling channel closed")

type Client struct {
	conn     *websocket.Conn
	incoming chan protocol.Message
	outgoing chan protocol.Message
	done     chan struct{}
	once     sync.Once
}

// Dial connects to the relay's signal endpoint.
func Dial(ctx context.Context, rawURL string) (*Client, error) {
	conn, _, err := websocket.DefaultDialer.DialContext(ctx, rawURL, nil)
	if err != nil {
		return nil, err
	}

	c := &Client{
		conn:     conn,
		incoming: make(chan protocol.Message, 16),
		outgoing: make(chan protocol.Message, 16),
		done:     make(chan struct{}),
	}

	conn.SetReadLimit(maxMessageSize)
	_ = conn.SetReadDeadline(time.Now().Add(pongWait))
	conn.SetPongHandler(func(string) error {
		return conn.SetReadDeadline(time.Now().Add(pongWait))
	})

	go c.readPump()
	go c.writePump()

	return c, nil
}

// Send enqueues one message for the relay. Implements mesh.SignalSender.
func (c *Client) Send(m protocol.Message) error {
	select {
	case <-c.done:
		return ErrClosed
	case c.outgoing <- m:
		return nil
	}
}

// Messages is the inbound stream; closed when the channel drops.
func (c *Client) Messages() <-chan protocol.Message { return c.incoming }

func (c *Client) Close() {
	c.once.Do(func() {
		close(c.done)
		_ = c.conn.Close()
	})
}

func (c *Client) readPump() {
	defer func() {
		c.Close()
		close(c.incoming)
	}()

	for {
		_, data, err := c.conn.ReadMessage()
		if err != nil {
			log.Debug().Err(err).Str("module", "wsclient").Msg("read error")
			return
		}
		msg, err := protocol.Decode(data)
		if err != nil {
			log.Warn().Err(err).Str("module", "wsclient").Msg("bad frame")
			continue
		}
		select {
		case c.incoming <- msg:
		case <-c.done:
			return
		}
	}
}

func (c *Client) writePump() {
	ticker := time.NewTicker(pingPeriod)
	defer func() {
		ticker.Stop()
		c.Close()
	}()

	for {
		select {
		case <-c.done:
			return
		case <-ticker.C:
			_ = c.conn.SetWriteDeadline(time.Now().Add(writeWait))
			if err := c.conn.WriteMessage(websocket.PingMessage, nil); err != nil {
				return
			}
		case m := <-c.outgoing:
			data, err := protocol.Marshal(m)
			if err != nil {
				log.Error().Err(err).Str("module", "wsclient").Msg("encode message")
				continue
			}
			_ = c.conn.SetWriteDeadline(time.Now().Add(writeWait))
			if err := c.conn.WriteMessage(websocket.TextMessage, data); err != nil {
				log.Debug().Err(err).Str("module", "wsclient").Msg("write error")
				return
			}
		}
	}
}
