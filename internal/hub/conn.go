package hub

import (
	"sync"
	"time"

	"github.com/gorilla/websocket"
	"github.com/sirupsen/logrus"

	"github.com/Hello-LuckyHuang/lan-file-transfer-hub/internal/models"
	"github.com/Hello-LuckyHuang/lan-file-transfer-hub/internal/presence"
)

const (
	writeWait      = 10 * time.Second
	pongWait       = 60 * time.Second
	pingPeriod     = (pongWait * 9) / 10
	maxMessageSize = 64 * 1024
	sendQueueSize  = 64
)

// Conn is one WebSocket connection to the hub. Its ID doubles as the device
// id for anything the connection registers or reports.
type Conn struct {
	ID         string
	RemoteAddr string

	hub       *Hub
	ws        *websocket.Conn
	send      chan models.Envelope
	closeOnce sync.Once
}

// ServeConn adopts an upgraded WebSocket connection: it assigns the
// connection id, registers with the run loop and starts the pumps. The
// device id the client will see on its own updates is fixed here.
func (h *Hub) ServeConn(ws *websocket.Conn, remoteAddr string) *Conn {
	c := &Conn{
		ID:         presence.NewConnectionID(),
		RemoteAddr: remoteAddr,
		hub:        h,
		ws:         ws,
		send:       make(chan models.Envelope, sendQueueSize),
	}

	select {
	case h.register <- c:
	case <-h.done:
		ws.Close()
		return c
	}

	go c.writePump()
	go c.readPump()
	return c
}

// readPump parses inbound envelopes and hands them to the run loop.
// Per-connection order is preserved: messages are forwarded in the order
// they arrive and handled to completion one at a time.
func (c *Conn) readPump() {
	defer func() {
		select {
		case c.hub.unregister <- c:
		case <-c.hub.done:
		}
		c.ws.Close()
	}()

	c.ws.SetReadLimit(maxMessageSize)
	c.ws.SetReadDeadline(time.Now().Add(pongWait))
	c.ws.SetPongHandler(func(string) error {
		c.ws.SetReadDeadline(time.Now().Add(pongWait))
		return nil
	})

	for {
		var env models.Envelope
		if err := c.ws.ReadJSON(&env); err != nil {
			if websocket.IsUnexpectedCloseError(err, websocket.CloseGoingAway, websocket.CloseNormalClosure) {
				logrus.WithError(err).WithField("conn", c.ID).Debug("Read error")
			}
			return
		}
		select {
		case c.hub.inbound <- inboundMessage{conn: c, env: env}:
		case <-c.hub.done:
			return
		}
	}
}

// writePump drains the send queue onto the wire and keeps the connection
// alive with pings. It exits when close() closes the queue.
func (c *Conn) writePump() {
	ticker := time.NewTicker(pingPeriod)
	defer func() {
		ticker.Stop()
		c.ws.Close()
	}()

	for {
		select {
		case env, ok := <-c.send:
			c.ws.SetWriteDeadline(time.Now().Add(writeWait))
			if !ok {
				c.ws.WriteMessage(websocket.CloseMessage, []byte{})
				return
			}
			if err := c.ws.WriteJSON(env); err != nil {
				return
			}
		case <-ticker.C:
			c.ws.SetWriteDeadline(time.Now().Add(writeWait))
			if err := c.ws.WriteMessage(websocket.PingMessage, nil); err != nil {
				return
			}
		}
	}
}

// close shuts the send queue exactly once; only the run loop calls it.
func (c *Conn) close() {
	c.closeOnce.Do(func() { close(c.send) })
}
