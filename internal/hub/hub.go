// Package hub implements the presence and transfer-state coordination
// protocol between the server and its WebSocket clients.
//
// All registry and store mutations funnel through a single run loop, so no
// two registrations or status upserts ever interleave: every broadcast sees
// the state it was computed from. Delivery itself is fire-and-forget through
// per-connection bounded queues; a slow client is dropped rather than
// allowed to stall the others.
package hub

import (
	"encoding/json"

	"github.com/sirupsen/logrus"

	"github.com/Hello-LuckyHuang/lan-file-transfer-hub/internal/models"
	"github.com/Hello-LuckyHuang/lan-file-transfer-hub/internal/presence"
	"github.com/Hello-LuckyHuang/lan-file-transfer-hub/internal/transferstate"
)

type inboundMessage struct {
	conn *Conn
	env  models.Envelope
}

// Hub owns the device registry and the transfer state store.
type Hub struct {
	registry *presence.Registry
	store    *transferstate.Store

	conns      map[*Conn]struct{}
	register   chan *Conn
	unregister chan *Conn
	inbound    chan inboundMessage
	outbound   chan models.Envelope
	done       chan struct{}
}

func New(registry *presence.Registry, store *transferstate.Store) *Hub {
	return &Hub{
		registry:   registry,
		store:      store,
		conns:      make(map[*Conn]struct{}),
		register:   make(chan *Conn),
		unregister: make(chan *Conn),
		inbound:    make(chan inboundMessage, 64),
		outbound:   make(chan models.Envelope, 16),
		done:       make(chan struct{}),
	}
}

// Registry exposes the device registry for read-only HTTP queries.
func (h *Hub) Registry() *presence.Registry { return h.registry }

// Store exposes the transfer state store for read-only HTTP queries.
func (h *Hub) Store() *transferstate.Store { return h.store }

// Run processes connection and message events until Close is called. It is
// the only goroutine that mutates the registry, the store or the connection
// set.
func (h *Hub) Run() {
	for {
		select {
		case c := <-h.register:
			h.conns[c] = struct{}{}
			logrus.WithFields(logrus.Fields{
				"conn":  c.ID,
				"addr":  c.RemoteAddr,
				"total": len(h.conns),
			}).Info("Connection opened")

		case c := <-h.unregister:
			h.dropConn(c)

		case msg := <-h.inbound:
			h.dispatch(msg.conn, msg.env)

		case env := <-h.outbound:
			h.broadcast(env, nil)

		case <-h.done:
			for c := range h.conns {
				c.close()
			}
			return
		}
	}
}

// Close stops the run loop and closes every connection.
func (h *Hub) Close() {
	close(h.done)
}

// Broadcast sends a message to every connected client. Safe to call from
// any goroutine; the actual fan-out happens on the run loop.
func (h *Hub) Broadcast(msgType string, payload interface{}) {
	env, err := models.NewEnvelope(msgType, payload)
	if err != nil {
		logrus.WithError(err).WithField("type", msgType).Error("Encode broadcast")
		return
	}
	select {
	case h.outbound <- env:
	case <-h.done:
	}
}

// dispatch routes one inbound message to its handler. Unknown message types
// are ignored: the protocol has no error-acknowledgement channel.
func (h *Hub) dispatch(c *Conn, env models.Envelope) {
	switch env.Type {
	case models.MsgRegisterDevice:
		h.handleRegisterDevice(c, env.Payload)
	case models.MsgTransferStatusUpdate:
		h.handleStatusUpdate(c, env.Payload)
	case models.MsgRequestActiveTransfers:
		h.handleRequestActiveTransfers(c)
	default:
		logrus.WithFields(logrus.Fields{
			"conn": c.ID,
			"type": env.Type,
		}).Debug("Ignoring unknown message type")
	}
}

func (h *Hub) handleRegisterDevice(c *Conn, payload json.RawMessage) {
	var info models.RegisterDevice
	if len(payload) > 0 {
		if err := json.Unmarshal(payload, &info); err != nil {
			logrus.WithError(err).WithField("conn", c.ID).Debug("Bad register payload")
			return
		}
	}

	// The registry commits before anything is broadcast, so a client that
	// queries the device list right after the event sees consistent state.
	device, created := h.registry.Register(c.ID, info, c.RemoteAddr)

	// The sender cannot see itself in any broadcast, so its own assigned
	// identity is echoed back first.
	h.sendEnvelope(c, models.MsgDeviceRegistered, device)

	if created {
		h.broadcastEnvelope(models.MsgDeviceConnected, device, c)
		h.sendEnvelope(c, models.MsgOnlineDevices, h.registry.Snapshot(c.ID))
		return
	}

	// Rename: keep the owner name on active transfer records in step.
	h.store.RenameDevice(device.ID, device.Name)
	h.broadcastEnvelope(models.MsgDeviceUpdated, device, nil)
}

func (h *Hub) handleStatusUpdate(c *Conn, payload json.RawMessage) {
	var in models.TransferStatusRecord
	if err := json.Unmarshal(payload, &in); err != nil {
		logrus.WithError(err).WithField("conn", c.ID).Debug("Bad status payload")
		return
	}

	rec, _, ok := h.store.Upsert(in, c.ID, h.registry.Name(c.ID))
	if !ok {
		return
	}

	// Every update is echoed to all clients, the sender included, so one
	// rendering path serves both local and foreign transfers.
	h.broadcastEnvelope(models.MsgTransferStatusUpdate, rec, nil)
}

func (h *Hub) handleRequestActiveTransfers(c *Conn) {
	h.sendEnvelope(c, models.MsgActiveTransfers, h.store.Snapshot())
}

// dropConn finalizes a disconnect: active transfers owned by the device are
// bulk-removed first, then the presence delta goes out. Idempotent, since a
// connection can be dropped by its read pump and by queue overflow.
func (h *Hub) dropConn(c *Conn) {
	if _, ok := h.conns[c]; !ok {
		return
	}
	delete(h.conns, c)
	c.close()

	if removed := h.store.RemoveByDevice(c.ID); len(removed) > 0 {
		h.broadcastEnvelope(models.MsgTransferStatusRemove, models.TransferRemove{TransferIDs: removed}, nil)
	}
	if device, ok := h.registry.Remove(c.ID); ok {
		h.broadcastEnvelope(models.MsgDeviceDisconnected, device.ID, nil)
	}
	logrus.WithFields(logrus.Fields{
		"conn":  c.ID,
		"total": len(h.conns),
	}).Info("Connection closed")
}

func (h *Hub) broadcastEnvelope(msgType string, payload interface{}, except *Conn) {
	env, err := models.NewEnvelope(msgType, payload)
	if err != nil {
		logrus.WithError(err).WithField("type", msgType).Error("Encode message")
		return
	}
	h.broadcast(env, except)
}

// broadcast fans env out to every connection. Overflowed connections are
// dropped only after the fan-out: dropping mid-loop would let the disconnect
// messages overtake the envelope still being delivered, and a status update
// arriving after its own removal would resurrect the entry at the observers.
func (h *Hub) broadcast(env models.Envelope, except *Conn) {
	var overflowed []*Conn
	for c := range h.conns {
		if c == except {
			continue
		}
		select {
		case c.send <- env:
		default:
			overflowed = append(overflowed, c)
		}
	}
	for _, c := range overflowed {
		logrus.WithField("conn", c.ID).Warn("Send queue overflow, dropping connection")
		h.dropConn(c)
	}
}

func (h *Hub) sendEnvelope(c *Conn, msgType string, payload interface{}) {
	env, err := models.NewEnvelope(msgType, payload)
	if err != nil {
		logrus.WithError(err).WithField("type", msgType).Error("Encode message")
		return
	}
	h.push(c, env)
}

// push enqueues without blocking. A full queue means the client stopped
// draining; it gets disconnected instead of holding up delivery to others.
func (h *Hub) push(c *Conn, env models.Envelope) {
	select {
	case c.send <- env:
	default:
		logrus.WithField("conn", c.ID).Warn("Send queue overflow, dropping connection")
		h.dropConn(c)
	}
}
