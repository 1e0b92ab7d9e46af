package hub

import (
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/gorilla/websocket"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/Hello-LuckyHuang/lan-file-transfer-hub/internal/models"
	"github.com/Hello-LuckyHuang/lan-file-transfer-hub/internal/presence"
	"github.com/Hello-LuckyHuang/lan-file-transfer-hub/internal/transferstate"
)

func newTestHub(t *testing.T) *httptest.Server {
	t.Helper()
	h := New(presence.NewRegistry(), transferstate.NewStore())
	go h.Run()

	upgrader := websocket.Upgrader{CheckOrigin: func(*http.Request) bool { return true }}
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		ws, err := upgrader.Upgrade(w, r, nil)
		if err != nil {
			return
		}
		h.ServeConn(ws, r.RemoteAddr)
	}))
	t.Cleanup(func() {
		srv.Close()
		h.Close()
	})
	return srv
}

type testClient struct {
	t    *testing.T
	ws   *websocket.Conn
	self models.Device
}

func dial(t *testing.T, srv *httptest.Server) *testClient {
	t.Helper()
	url := "ws" + strings.TrimPrefix(srv.URL, "http")
	ws, _, err := websocket.DefaultDialer.Dial(url, nil)
	require.NoError(t, err)
	t.Cleanup(func() { ws.Close() })
	return &testClient{t: t, ws: ws}
}

func (c *testClient) send(msgType string, payload interface{}) {
	c.t.Helper()
	env, err := models.NewEnvelope(msgType, payload)
	require.NoError(c.t, err)
	require.NoError(c.t, c.ws.WriteJSON(env))
}

func (c *testClient) next() models.Envelope {
	c.t.Helper()
	require.NoError(c.t, c.ws.SetReadDeadline(time.Now().Add(2*time.Second)))
	var env models.Envelope
	require.NoError(c.t, c.ws.ReadJSON(&env))
	return env
}

func (c *testClient) expect(msgType string) models.Envelope {
	c.t.Helper()
	env := c.next()
	require.Equal(c.t, msgType, env.Type)
	return env
}

// register completes the handshake and consumes the identity echo and the
// device listing every fresh connection receives.
func (c *testClient) register(name, devType string) models.Device {
	c.t.Helper()
	c.send(models.MsgRegisterDevice, models.RegisterDevice{Name: name, Type: devType})
	env := c.expect(models.MsgDeviceRegistered)
	require.NoError(c.t, json.Unmarshal(env.Payload, &c.self))
	c.expect(models.MsgOnlineDevices)
	return c.self
}

func TestRegistrationFlow(t *testing.T) {
	srv := newTestHub(t)

	a := dial(t, srv)
	a.send(models.MsgRegisterDevice, models.RegisterDevice{Name: "Alice", Type: "desktop"})

	env := a.expect(models.MsgDeviceRegistered)
	require.NoError(t, json.Unmarshal(env.Payload, &a.self))
	assert.Equal(t, "Alice", a.self.Name)
	assert.NotEmpty(t, a.self.ID)

	env = a.expect(models.MsgOnlineDevices)
	var devices []models.Device
	require.NoError(t, json.Unmarshal(env.Payload, &devices))
	assert.Empty(t, devices, "first device sees nobody else online")

	b := dial(t, srv)
	b.register("Bob", "mobile")

	// The existing device learns about the newcomer.
	env = a.expect(models.MsgDeviceConnected)
	var joined models.Device
	require.NoError(t, json.Unmarshal(env.Payload, &joined))
	assert.Equal(t, "Bob", joined.Name)

	// The newcomer's listing carries everyone but itself.
	a2 := dial(t, srv)
	a2.send(models.MsgRegisterDevice, models.RegisterDevice{Name: "Carol", Type: "tablet"})
	a2.expect(models.MsgDeviceRegistered)
	env = a2.expect(models.MsgOnlineDevices)
	require.NoError(t, json.Unmarshal(env.Payload, &devices))
	require.Len(t, devices, 2)
	for _, d := range devices {
		assert.NotEqual(t, "Carol", d.Name)
	}
}

func TestReregisterUpdatesInPlace(t *testing.T) {
	srv := newTestHub(t)

	a := dial(t, srv)
	first := a.register("Alice", "desktop")
	b := dial(t, srv)
	b.register("Bob", "mobile")
	a.expect(models.MsgDeviceConnected)

	a.send(models.MsgRegisterDevice, models.RegisterDevice{Name: "Alice-Laptop", Type: "desktop"})

	env := a.expect(models.MsgDeviceRegistered)
	var self models.Device
	require.NoError(t, json.Unmarshal(env.Payload, &self))
	assert.Equal(t, first.ID, self.ID, "a rename keeps the device id")
	assert.Equal(t, "Alice-Laptop", self.Name)

	// Everyone, sender included, gets the update broadcast.
	env = a.expect(models.MsgDeviceUpdated)
	require.NoError(t, json.Unmarshal(env.Payload, &self))
	assert.Equal(t, "Alice-Laptop", self.Name)

	env = b.expect(models.MsgDeviceUpdated)
	require.NoError(t, json.Unmarshal(env.Payload, &self))
	assert.Equal(t, first.ID, self.ID)
	assert.Equal(t, "Alice-Laptop", self.Name)
}

func TestStatusUpdateBroadcastToAll(t *testing.T) {
	srv := newTestHub(t)

	a := dial(t, srv)
	selfA := a.register("Alice", "desktop")
	b := dial(t, srv)
	b.register("Bob", "mobile")
	a.expect(models.MsgDeviceConnected)

	a.send(models.MsgTransferStatusUpdate, models.TransferStatusRecord{
		TransferID: "t1",
		FileName:   "report.pdf",
		FileSize:   2048,
		Status:     models.StatusUploading,
		Progress:   10,
		SpeedText:  "1.00 MB/s",
	})

	for _, c := range []*testClient{a, b} {
		env := c.expect(models.MsgTransferStatusUpdate)
		var rec models.TransferStatusRecord
		require.NoError(t, json.Unmarshal(env.Payload, &rec))
		assert.Equal(t, "t1", rec.TransferID)
		assert.Equal(t, selfA.ID, rec.DeviceID, "the hub stamps the sender as owner")
		assert.Equal(t, "Alice", rec.DeviceName)
		assert.Equal(t, 10.0, rec.Progress)
		assert.False(t, rec.UpdatedAt.IsZero())
	}
}

func TestTerminalStatusBroadcastThenEvicted(t *testing.T) {
	srv := newTestHub(t)

	a := dial(t, srv)
	a.register("Alice", "desktop")

	a.send(models.MsgTransferStatusUpdate, models.TransferStatusRecord{
		TransferID: "t1", FileName: "a.bin", Status: models.StatusUploading, Progress: 50,
	})
	a.expect(models.MsgTransferStatusUpdate)

	a.send(models.MsgTransferStatusUpdate, models.TransferStatusRecord{
		TransferID: "t1", FileName: "a.bin", Status: models.StatusCompleted, Progress: 100,
	})
	env := a.expect(models.MsgTransferStatusUpdate)
	var rec models.TransferStatusRecord
	require.NoError(t, json.Unmarshal(env.Payload, &rec))
	assert.Equal(t, models.StatusCompleted, rec.Status)

	// A device joining after the completion sees an empty active set.
	c := dial(t, srv)
	c.register("Carol", "tablet")
	c.send(models.MsgRequestActiveTransfers, nil)
	env = c.expect(models.MsgActiveTransfers)
	var snapshot []models.TransferStatusRecord
	require.NoError(t, json.Unmarshal(env.Payload, &snapshot))
	assert.Empty(t, snapshot)
}

func TestSnapshotListsActiveTransfers(t *testing.T) {
	srv := newTestHub(t)

	a := dial(t, srv)
	a.register("Alice", "desktop")
	a.send(models.MsgTransferStatusUpdate, models.TransferStatusRecord{
		TransferID: "t2", FileName: "b.bin", Status: models.StatusDownloading, Progress: 30,
	})
	a.expect(models.MsgTransferStatusUpdate)

	c := dial(t, srv)
	c.register("Carol", "tablet")
	c.send(models.MsgRequestActiveTransfers, nil)
	env := c.expect(models.MsgActiveTransfers)
	var snapshot []models.TransferStatusRecord
	require.NoError(t, json.Unmarshal(env.Payload, &snapshot))
	require.Len(t, snapshot, 1)
	assert.Equal(t, "t2", snapshot[0].TransferID)
	assert.Equal(t, "Alice", snapshot[0].DeviceName)
}

func TestDisconnectRemovesOwnedTransfers(t *testing.T) {
	srv := newTestHub(t)

	a := dial(t, srv)
	a.register("Alice", "desktop")
	b := dial(t, srv)
	selfB := b.register("Bob", "mobile")
	a.expect(models.MsgDeviceConnected)

	b.send(models.MsgTransferStatusUpdate, models.TransferStatusRecord{
		TransferID: "t2", FileName: "c.bin", Status: models.StatusUploading, Progress: 5,
	})
	a.expect(models.MsgTransferStatusUpdate)
	b.expect(models.MsgTransferStatusUpdate)

	require.NoError(t, b.ws.Close())

	// The transfer removal lands before the presence delta, so nobody ever
	// holds a record for a device they no longer know.
	env := a.expect(models.MsgTransferStatusRemove)
	var removal models.TransferRemove
	require.NoError(t, json.Unmarshal(env.Payload, &removal))
	assert.Equal(t, []string{"t2"}, removal.TransferIDs)

	env = a.expect(models.MsgDeviceDisconnected)
	var goneID string
	require.NoError(t, json.Unmarshal(env.Payload, &goneID))
	assert.Equal(t, selfB.ID, goneID)
}

func TestDisconnectWithoutTransfers(t *testing.T) {
	srv := newTestHub(t)

	a := dial(t, srv)
	a.register("Alice", "desktop")
	b := dial(t, srv)
	b.register("Bob", "mobile")
	a.expect(models.MsgDeviceConnected)

	require.NoError(t, b.ws.Close())

	// No removal message when the device owned nothing.
	env := a.expect(models.MsgDeviceDisconnected)
	var goneID string
	require.NoError(t, json.Unmarshal(env.Payload, &goneID))
	assert.NotEmpty(t, goneID)
}

func TestMalformedStatusUpdateDropped(t *testing.T) {
	srv := newTestHub(t)

	a := dial(t, srv)
	a.register("Alice", "desktop")

	// Missing transferId, fileName or status: none of these produce a
	// broadcast.
	a.send(models.MsgTransferStatusUpdate, models.TransferStatusRecord{
		FileName: "orphan.bin", Status: models.StatusUploading,
	})
	a.send(models.MsgTransferStatusUpdate, models.TransferStatusRecord{
		TransferID: "t-no-name", Status: models.StatusUploading,
	})
	a.send(models.MsgTransferStatusUpdate, models.TransferStatusRecord{
		TransferID: "t-no-status", FileName: "x.bin",
	})
	a.send(models.MsgTransferStatusUpdate, models.TransferStatusRecord{
		TransferID: "t-ok", FileName: "ok.bin", Status: models.StatusUploading,
	})

	env := a.expect(models.MsgTransferStatusUpdate)
	var rec models.TransferStatusRecord
	require.NoError(t, json.Unmarshal(env.Payload, &rec))
	assert.Equal(t, "t-ok", rec.TransferID)
}

// quietConn builds a connection whose queue is never drained, standing in
// for a client that stopped reading.
func quietConn(h *Hub, queue int) *Conn {
	return &Conn{
		ID:   presence.NewConnectionID(),
		hub:  h,
		send: make(chan models.Envelope, queue),
	}
}

func recvEnv(t *testing.T, c *Conn) models.Envelope {
	t.Helper()
	select {
	case env, ok := <-c.send:
		require.True(t, ok, "send queue closed")
		return env
	case <-time.After(2 * time.Second):
		t.Fatal("no envelope delivered")
		return models.Envelope{}
	}
}

func inject(t *testing.T, h *Hub, c *Conn, msgType string, payload interface{}) {
	t.Helper()
	env, err := models.NewEnvelope(msgType, payload)
	require.NoError(t, err)
	h.inbound <- inboundMessage{conn: c, env: env}
}

func TestSlowConnectionDroppedWithoutReordering(t *testing.T) {
	h := New(presence.NewRegistry(), transferstate.NewStore())
	go h.Run()
	defer h.Close()

	healthy := quietConn(h, sendQueueSize)
	slow := quietConn(h, 4)
	h.register <- healthy
	h.register <- slow

	inject(t, h, healthy, models.MsgRegisterDevice, models.RegisterDevice{Name: "Steady", Type: "desktop"})
	recvEnv(t, healthy) // device-registered
	recvEnv(t, healthy) // online-devices

	// Registration uses slots 1-2 of the slow queue.
	inject(t, h, slow, models.MsgRegisterDevice, models.RegisterDevice{Name: "Sluggish", Type: "mobile"})
	recvEnv(t, healthy) // device-connected

	// Slots 3-4, echoed to both ends.
	inject(t, h, slow, models.MsgTransferStatusUpdate, models.TransferStatusRecord{
		TransferID: "t1", FileName: "big.iso", Status: models.StatusUploading, Progress: 10,
	})
	recvEnv(t, healthy)
	inject(t, h, slow, models.MsgTransferStatusUpdate, models.TransferStatusRecord{
		TransferID: "t1", FileName: "big.iso", Status: models.StatusUploading, Progress: 40,
	})
	recvEnv(t, healthy)

	// This echo overflows the slow queue and gets it dropped, but the
	// healthy client must still see the update before the cleanup pair.
	inject(t, h, slow, models.MsgTransferStatusUpdate, models.TransferStatusRecord{
		TransferID: "t1", FileName: "big.iso", Status: models.StatusUploading, Progress: 70,
	})

	env := recvEnv(t, healthy)
	require.Equal(t, models.MsgTransferStatusUpdate, env.Type)
	var rec models.TransferStatusRecord
	require.NoError(t, json.Unmarshal(env.Payload, &rec))
	assert.Equal(t, 70.0, rec.Progress)

	env = recvEnv(t, healthy)
	require.Equal(t, models.MsgTransferStatusRemove, env.Type)
	var removal models.TransferRemove
	require.NoError(t, json.Unmarshal(env.Payload, &removal))
	assert.Equal(t, []string{"t1"}, removal.TransferIDs)

	env = recvEnv(t, healthy)
	require.Equal(t, models.MsgDeviceDisconnected, env.Type)

	// Delivery to the healthy client keeps working after the drop.
	inject(t, h, healthy, models.MsgRequestActiveTransfers, nil)
	env = recvEnv(t, healthy)
	require.Equal(t, models.MsgActiveTransfers, env.Type)
	var snapshot []models.TransferStatusRecord
	require.NoError(t, json.Unmarshal(env.Payload, &snapshot))
	assert.Empty(t, snapshot)

	// The dropped connection's queue is closed once drained.
	for i := 0; i < 4; i++ {
		recvEnv(t, slow)
	}
	_, ok := <-slow.send
	assert.False(t, ok)
}

func TestUnknownMessageTypeIgnored(t *testing.T) {
	srv := newTestHub(t)

	a := dial(t, srv)
	a.register("Alice", "desktop")

	a.send("teleport-device", map[string]string{"to": "mars"})
	a.send(models.MsgRequestActiveTransfers, nil)

	// The connection survives and the next request is served normally.
	a.expect(models.MsgActiveTransfers)
}
