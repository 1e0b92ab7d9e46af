package models

import (
	"encoding/json"
	"time"
)

// Device is one connected client instance. The hub assigns the ID at
// connection time; it is stable for the lifetime of that connection and
// reassigned on reconnect.
type Device struct {
	ID          string    `json:"id"`
	Name        string    `json:"name"`
	Address     string    `json:"ip"`
	Type        string    `json:"type"` // mobile, tablet, desktop
	ConnectedAt time.Time `json:"connectedAt"`
}

// Transfer status values. Pending, uploading and downloading are active;
// the other three are terminal and never retained by the store.
const (
	StatusPending     = "pending"
	StatusUploading   = "uploading"
	StatusDownloading = "downloading"
	StatusCompleted   = "completed"
	StatusFailed      = "failed"
	StatusCancelled   = "cancelled"
)

// IsActiveStatus reports whether s keeps a transfer in the active table.
func IsActiveStatus(s string) bool {
	return s == StatusPending || s == StatusUploading || s == StatusDownloading
}

// IsTerminalStatus reports whether s ends a transfer.
func IsTerminalStatus(s string) bool {
	return s == StatusCompleted || s == StatusFailed || s == StatusCancelled
}

// UnknownSpeed is the sentinel speedText for "no throughput sample yet".
const UnknownSpeed = "--"

// TransferStatusRecord is the unit broadcast and stored by the hub. Clients
// send it without DeviceID, DeviceName and UpdatedAt; the hub stamps those
// before re-broadcasting.
type TransferStatusRecord struct {
	TransferID string    `json:"transferId"`
	FileName   string    `json:"fileName"`
	FileSize   int64     `json:"fileSize"`
	Status     string    `json:"status"`
	Progress   float64   `json:"progress"` // [0, 100], two decimals
	SpeedText  string    `json:"speedText"`
	DeviceID   string    `json:"deviceId,omitempty"`
	DeviceName string    `json:"deviceName,omitempty"`
	UpdatedAt  time.Time `json:"updatedAt,omitempty"`
}

// RegisterDevice is the client's registration payload. Re-sending it over a
// live connection updates name/type in place instead of creating a device.
type RegisterDevice struct {
	Name string `json:"name"`
	Type string `json:"type"`
}

// TransferRemove notifies clients that a set of transfers silently vanished
// because the owning device disconnected. It deliberately has its own shape:
// receivers must treat it as "the remote end is gone", not a normal terminal
// status.
type TransferRemove struct {
	TransferIDs []string `json:"transferIds"`
}

// FilesUpdated announces a change to the hub's file listing.
type FilesUpdated struct {
	Action   string `json:"action"` // upload, delete
	FileName string `json:"fileName"`
}

// Message type constants for the envelope.
const (
	MsgRegisterDevice         = "register-device"
	MsgDeviceRegistered       = "device-registered"
	MsgOnlineDevices          = "online-devices"
	MsgDeviceConnected        = "device-connected"
	MsgDeviceUpdated          = "device-updated"
	MsgDeviceDisconnected     = "device-disconnected"
	MsgTransferStatusUpdate   = "transfer-status-update"
	MsgRequestActiveTransfers = "request-active-transfers"
	MsgActiveTransfers        = "active-transfers"
	MsgTransferStatusRemove   = "transfer-status-remove"
	MsgFilesUpdated           = "files-updated"
)

// Envelope wraps every message on the wire.
type Envelope struct {
	Type    string          `json:"type"`
	Payload json.RawMessage `json:"payload,omitempty"`
}

// NewEnvelope marshals payload into an Envelope. A nil payload yields an
// envelope with no payload field (request-active-transfers has none).
func NewEnvelope(msgType string, payload interface{}) (Envelope, error) {
	env := Envelope{Type: msgType}
	if payload == nil {
		return env, nil
	}
	raw, err := json.Marshal(payload)
	if err != nil {
		return Envelope{}, err
	}
	env.Payload = raw
	return env, nil
}

// FileInfo describes one stored file in a listing.
type FileInfo struct {
	FileName string    `json:"filename"`
	Size     int64     `json:"size"`
	ModTime  time.Time `json:"mtime"`
}
