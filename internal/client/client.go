// Package client implements the hub's counterpart: a device that registers
// itself, reports its transfers, and reconciles everything the hub
// broadcasts into one render-ready view.
package client

import (
	"context"
	"encoding/json"
	"net/http"
	"net/url"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/gorilla/websocket"
	"github.com/sirupsen/logrus"

	"github.com/Hello-LuckyHuang/lan-file-transfer-hub/internal/models"
)

const (
	dialTimeout      = 10 * time.Second
	reconnectBackoff = time.Second
	maxBackoff       = 30 * time.Second
)

// Client maintains one logical session with the hub across reconnects.
type Client struct {
	wsURL       string
	baseURL     string
	deviceName  string
	deviceType  string
	downloadDir string

	merger *Merger
	httpc  *http.Client

	mu        sync.RWMutex
	conn      *websocket.Conn
	self      models.Device
	devices   map[string]models.Device
	transfers map[string]*transferOp

	writeMu sync.Mutex
	notify  chan struct{}
}

// New builds a client for the hub at wsURL (a ws:// or wss:// endpoint with
// the /ws path).
func New(wsURL, deviceName, deviceType, downloadDir string) (*Client, error) {
	base, err := httpBaseURL(wsURL)
	if err != nil {
		return nil, err
	}
	return &Client{
		wsURL:       wsURL,
		baseURL:     base,
		deviceName:  deviceName,
		deviceType:  deviceType,
		downloadDir: downloadDir,
		merger:      NewMerger(),
		httpc:       &http.Client{},
		devices:     make(map[string]models.Device),
		transfers:   make(map[string]*transferOp),
		notify:      make(chan struct{}, 1),
	}, nil
}

// Merger exposes the merged transfer view.
func (c *Client) Merger() *Merger { return c.merger }

// Notify returns a coalesced change signal; receivers re-read whatever view
// they render after each tick.
func (c *Client) Notify() <-chan struct{} { return c.notify }

// Run keeps the session alive until ctx is cancelled. Every (re)connect
// re-registers the device and re-requests the active-transfer snapshot: a
// reconnect after a drop may have missed broadcasts.
func (c *Client) Run(ctx context.Context) error {
	backoff := reconnectBackoff
	for {
		if err := c.connectAndServe(ctx); err != nil {
			if ctx.Err() != nil {
				return ctx.Err()
			}
			logrus.WithError(err).Debug("Hub session ended")
		}

		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-time.After(backoff):
		}
		if backoff < maxBackoff {
			backoff *= 2
		}
	}
}

func (c *Client) connectAndServe(ctx context.Context) error {
	dialCtx, cancel := context.WithTimeout(ctx, dialTimeout)
	conn, _, err := websocket.DefaultDialer.DialContext(dialCtx, c.wsURL, nil)
	cancel()
	if err != nil {
		return err
	}

	c.mu.Lock()
	c.conn = conn
	c.mu.Unlock()

	// The watcher is scoped to this connection, not the session: it must die
	// with the connection or every reconnect would strand one goroutine.
	connCtx, connCancel := context.WithCancel(ctx)
	defer func() {
		connCancel()
		c.mu.Lock()
		c.conn = nil
		c.mu.Unlock()
		conn.Close()
	}()
	go func() {
		<-connCtx.Done()
		conn.Close()
	}()

	logrus.WithField("hub", c.wsURL).Info("Connected to hub")

	if err := c.Rename(c.deviceName); err != nil {
		return err
	}
	if err := c.sendEnvelope(models.MsgRequestActiveTransfers, nil); err != nil {
		return err
	}

	for {
		var env models.Envelope
		if err := conn.ReadJSON(&env); err != nil {
			return err
		}
		c.handleMessage(env)
	}
}

// Rename (re-)registers the device under name. Over a live connection the
// hub treats this as an update, not a new device.
func (c *Client) Rename(name string) error {
	name = strings.TrimSpace(name)
	if name == "" {
		return nil
	}
	c.mu.Lock()
	c.deviceName = name
	c.mu.Unlock()
	return c.sendEnvelope(models.MsgRegisterDevice, models.RegisterDevice{
		Name: name,
		Type: c.deviceType,
	})
}

func (c *Client) handleMessage(env models.Envelope) {
	switch env.Type {
	case models.MsgDeviceRegistered:
		var d models.Device
		if json.Unmarshal(env.Payload, &d) != nil {
			return
		}
		c.mu.Lock()
		c.self = d
		c.mu.Unlock()
		c.merger.SetSelfID(d.ID)

	case models.MsgOnlineDevices:
		var list []models.Device
		if json.Unmarshal(env.Payload, &list) != nil {
			return
		}
		c.mu.Lock()
		c.devices = make(map[string]models.Device, len(list))
		for _, d := range list {
			c.devices[d.ID] = d
		}
		c.mu.Unlock()

	case models.MsgDeviceConnected, models.MsgDeviceUpdated:
		var d models.Device
		if json.Unmarshal(env.Payload, &d) != nil {
			return
		}
		c.mu.Lock()
		if d.ID == c.self.ID {
			c.self = d
		} else {
			c.devices[d.ID] = d
		}
		c.mu.Unlock()

	case models.MsgDeviceDisconnected:
		var id string
		if json.Unmarshal(env.Payload, &id) != nil {
			return
		}
		c.mu.Lock()
		delete(c.devices, id)
		c.mu.Unlock()

	case models.MsgTransferStatusUpdate:
		var rec models.TransferStatusRecord
		if json.Unmarshal(env.Payload, &rec) != nil {
			return
		}
		c.merger.ApplyBroadcast(rec)

	case models.MsgActiveTransfers:
		var recs []models.TransferStatusRecord
		if json.Unmarshal(env.Payload, &recs) != nil {
			return
		}
		c.merger.ApplySnapshot(recs)

	case models.MsgTransferStatusRemove:
		var rm models.TransferRemove
		if json.Unmarshal(env.Payload, &rm) != nil {
			return
		}
		c.merger.ApplyRemove(rm.TransferIDs)

	case models.MsgFilesUpdated:
		// Nothing merged; the change signal below makes the UI re-list.

	default:
		return
	}
	c.changed()
}

// Self returns this client's hub-assigned Device record.
func (c *Client) Self() models.Device {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.self
}

// Devices lists the other online devices, sorted by name.
func (c *Client) Devices() []models.Device {
	c.mu.RLock()
	defer c.mu.RUnlock()
	out := make([]models.Device, 0, len(c.devices))
	for _, d := range c.devices {
		out = append(out, d)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Name < out[j].Name })
	return out
}

// Connected reports whether a hub connection is currently up.
func (c *Client) Connected() bool {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.conn != nil
}

// ListFiles fetches the hub's stored-file listing.
func (c *Client) ListFiles(ctx context.Context) ([]models.FileInfo, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, c.baseURL+"/api/files/list", nil)
	if err != nil {
		return nil, err
	}
	resp, err := c.httpc.Do(req)
	if err != nil {
		return nil, err
	}
	defer resp.Body.Close()
	var files []models.FileInfo
	if err := json.NewDecoder(resp.Body).Decode(&files); err != nil {
		return nil, err
	}
	return files, nil
}

// reportStatus writes a local operation's status into the merger and
// broadcasts the same record, so every client renders identical values.
func (c *Client) reportStatus(rec models.TransferStatusRecord) {
	c.merger.ApplyLocal(rec)
	if err := c.sendEnvelope(models.MsgTransferStatusUpdate, rec); err != nil {
		logrus.WithError(err).WithField("transfer", rec.TransferID).Debug("Status emit failed")
	}
	c.changed()
}

func (c *Client) sendEnvelope(msgType string, payload interface{}) error {
	env, err := models.NewEnvelope(msgType, payload)
	if err != nil {
		return err
	}

	c.mu.RLock()
	conn := c.conn
	c.mu.RUnlock()
	if conn == nil {
		return ErrNotConnected
	}

	c.writeMu.Lock()
	defer c.writeMu.Unlock()
	return conn.WriteJSON(env)
}

// changed coalesces change notifications for the UI.
func (c *Client) changed() {
	select {
	case c.notify <- struct{}{}:
	default:
	}
}

func httpBaseURL(wsURL string) (string, error) {
	u, err := url.Parse(wsURL)
	if err != nil {
		return "", err
	}
	switch u.Scheme {
	case "ws":
		u.Scheme = "http"
	case "wss":
		u.Scheme = "https"
	}
	u.Path = ""
	return u.String(), nil
}
