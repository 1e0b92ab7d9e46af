// Package presence tracks which devices are currently connected to the hub.
//
// The registry is the single writer for Device records: devices are created
// on the first registration over a connection, updated in place when the same
// connection re-registers (a rename must not look like a new device joining),
// and deleted when the connection closes.
package presence

import (
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/sirupsen/logrus"

	"github.com/Hello-LuckyHuang/lan-file-transfer-hub/internal/models"
)

const maxDeviceNameLen = 64

var deviceTypes = map[string]bool{
	"mobile":  true,
	"tablet":  true,
	"desktop": true,
}

// Registry maps live connection ids to Device records. Mutations are driven
// by the hub's run loop only; the mutex makes concurrent reads from HTTP
// handlers safe.
type Registry struct {
	mu      sync.RWMutex
	devices map[string]*models.Device // connection id -> device
}

func NewRegistry() *Registry {
	return &Registry{devices: make(map[string]*models.Device)}
}

// NewConnectionID returns a fresh hub-assigned device/connection id.
func NewConnectionID() string {
	return uuid.NewString()
}

// Register creates or updates the Device for connID and reports whether it
// was newly created. On re-registration only name and type change; id,
// address and connectedAt stay as captured at connect time. The returned
// Device is a copy, committed before the caller broadcasts anything.
func (r *Registry) Register(connID string, info models.RegisterDevice, addr string) (models.Device, bool) {
	name := strings.TrimSpace(info.Name)
	if name == "" {
		name = fallbackName(connID)
	}
	if len(name) > maxDeviceNameLen {
		name = name[:maxDeviceNameLen]
	}
	devType := info.Type
	if !deviceTypes[devType] {
		devType = "desktop"
	}

	r.mu.Lock()
	defer r.mu.Unlock()

	if d, ok := r.devices[connID]; ok {
		d.Name = name
		d.Type = devType
		logrus.WithFields(logrus.Fields{
			"device": connID,
			"name":   name,
		}).Info("Device re-registered")
		return *d, false
	}

	d := &models.Device{
		ID:          connID,
		Name:        name,
		Address:     addr,
		Type:        devType,
		ConnectedAt: time.Now(),
	}
	r.devices[connID] = d
	logrus.WithFields(logrus.Fields{
		"device": connID,
		"name":   name,
		"type":   devType,
		"addr":   addr,
	}).Info("Device registered")
	return *d, true
}

// Remove deletes the Device for connID. It reports false when the connection
// never completed a registration.
func (r *Registry) Remove(connID string) (models.Device, bool) {
	r.mu.Lock()
	defer r.mu.Unlock()
	d, ok := r.devices[connID]
	if !ok {
		return models.Device{}, false
	}
	delete(r.devices, connID)
	logrus.WithFields(logrus.Fields{
		"device": connID,
		"name":   d.Name,
	}).Info("Device removed")
	return *d, true
}

// Get returns the Device for connID, if registered.
func (r *Registry) Get(connID string) (models.Device, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	d, ok := r.devices[connID]
	if !ok {
		return models.Device{}, false
	}
	return *d, true
}

// Name returns the display name for connID, falling back to a short
// id-derived placeholder for connections that never registered.
func (r *Registry) Name(connID string) string {
	if d, ok := r.Get(connID); ok {
		return d.Name
	}
	return fallbackName(connID)
}

// Snapshot lists all online devices. When exclude is non-empty that
// connection's own device is left out: a device never appears in its own
// online list.
func (r *Registry) Snapshot(exclude string) []models.Device {
	r.mu.RLock()
	defer r.mu.RUnlock()
	out := make([]models.Device, 0, len(r.devices))
	for id, d := range r.devices {
		if id == exclude {
			continue
		}
		out = append(out, *d)
	}
	return out
}

// Count returns the number of online devices.
func (r *Registry) Count() int {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return len(r.devices)
}

func fallbackName(connID string) string {
	short := connID
	if len(short) > 6 {
		short = short[:6]
	}
	return "Device-" + short
}
