// Package transport owns the client side of the relay connection: one
// persistent websocket carrying JSON envelopes.
package transport

import (
	"fmt"
	"sync"
	"sync/atomic"
	"time"

	"github.com/gorilla/websocket"
	"github.com/rs/zerolog/log"

	"github.com/dkeye/Watch/internal/protocol"
)

const (
	writeWait      = 10 * time.Second
	pongWait       = 60 * time.Second
	pingPeriod     = (pongWait * 9) / 10
	maxMessageSize = 64 * 1024
)

// Client is the relay connection handle injected into every engine.
// Inbound envelopes arrive on Incoming() in arrival order; Send queues
// one envelope for the write pump. No retry is performed here: when the
// socket dies, Connected flips false, Incoming closes, and reconnect
// policy belongs to the caller.
type Client struct {
	conn      *websocket.Conn
	serverURL string
	incoming  chan protocol.Envelope
	outgoing  chan protocol.Envelope
	done      chan struct{}
	connected atomic.Bool

	closeOnce sync.Once
}

func NewClient(serverURL string) *Client {
	return &Client{
		serverURL: serverURL,
		incoming:  make(chan protocol.Envelope, 32),
		outgoing:  make(chan protocol.Envelope, 32),
		done:      make(chan struct{}),
	}
}

// Connect dials the relay and starts the read/write pumps.
func (c *Client) Connect() error {
	conn, _, err := websocket.DefaultDialer.Dial(c.serverURL, nil)
	if err != nil {
		return fmt.Errorf("failed to connect: %w", err)
	}
	c.conn = conn
	c.conn.SetReadLimit(maxMessageSize)
	c.conn.SetPongHandler(func(string) error {
		return c.conn.SetReadDeadline(time.Now().Add(pongWait))
	})
	c.connected.Store(true)

	go c.readPump()
	go c.writePump()
	return nil
}

func (c *Client) readPump() {
	defer func() {
		c.connected.Store(false)
		_ = c.conn.Close()
		close(c.incoming)
	}()

	_ = c.conn.SetReadDeadline(time.Now().Add(pongWait))
	for {
		var env protocol.Envelope
		if err := c.conn.ReadJSON(&env); err != nil {
			log.Debug().Err(err).Str("module", "transport").Msg("read pump closing")
			return
		}
		c.incoming <- env
	}
}

func (c *Client) writePump() {
	ticker := time.NewTicker(pingPeriod)
	defer func() {
		ticker.Stop()
		_ = c.conn.Close()
	}()

	for {
		select {
		case env := <-c.outgoing:
			_ = c.conn.SetWriteDeadline(time.Now().Add(writeWait))
			if err := c.conn.WriteJSON(env); err != nil {
				return
			}
		case <-ticker.C:
			_ = c.conn.SetWriteDeadline(time.Now().Add(writeWait))
			if err := c.conn.WriteMessage(websocket.PingMessage, nil); err != nil {
				return
			}
		case <-c.done:
			_ = c.conn.SetWriteDeadline(time.Now().Add(writeWait))
			_ = c.conn.WriteMessage(websocket.CloseMessage, []byte{})
			return
		}
	}
}

// Send queues one envelope. Sends on a dead connection are dropped; the
// protocol tolerates loss by reconciling on the next sync exchange.
func (c *Client) Send(env protocol.Envelope) {
	if !c.connected.Load() {
		return
	}
	select {
	case c.outgoing <- env:
	default:
		log.Warn().Str("module", "transport").Str("type", string(env.Type)).Msg("outbound queue full, dropped")
	}
}

// Incoming returns the inbound envelope channel. It closes when the
// connection is lost.
func (c *Client) Incoming() <-chan protocol.Envelope {
	return c.incoming
}

func (c *Client) Connected() bool {
	return c.connected.Load()
}

// Close severs the connection; safe to call more than once.
func (c *Client) Close() {
	c.closeOnce.Do(func() {
		c.connected.Store(false)
		close(c.done)
	})
}
