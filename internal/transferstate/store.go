// Package transferstate holds the hub's authoritative table of in-flight
// transfers. Only non-terminal records (pending, uploading, downloading) are
// retained; terminal statuses are broadcast once and forgotten, so a late
// echo for a finished transfer is a no-op rather than an error.
package transferstate

import (
	"math"
	"sync"
	"time"

	"github.com/sirupsen/logrus"

	"github.com/Hello-LuckyHuang/lan-file-transfer-hub/internal/models"
)

// MaxSpeedTextLen bounds client-supplied throughput strings so a buggy or
// adversarial client cannot pollute every other client's display.
const MaxSpeedTextLen = 32

// Store keeps at most one record per transferId. Mutations go through the
// hub's run loop; reads may come from HTTP handlers concurrently.
type Store struct {
	mu     sync.RWMutex
	active map[string]models.TransferStatusRecord
}

func NewStore() *Store {
	return &Store{active: make(map[string]models.TransferStatusRecord)}
}

// Upsert validates and normalizes a client-reported status update. The
// returned record carries the server-stamped owner identity and timestamp.
// ok is false for malformed input (missing transferId, fileName or status),
// which is dropped without touching the table. active reports whether the
// record is retained; a terminal status evicts the id.
func (s *Store) Upsert(in models.TransferStatusRecord, deviceID, deviceName string) (rec models.TransferStatusRecord, active, ok bool) {
	if in.TransferID == "" || in.FileName == "" || in.Status == "" {
		logrus.WithFields(logrus.Fields{
			"transfer": in.TransferID,
			"device":   deviceID,
		}).Debug("Dropping malformed status update")
		return models.TransferStatusRecord{}, false, false
	}

	rec = models.TransferStatusRecord{
		TransferID: in.TransferID,
		FileName:   in.FileName,
		FileSize:   in.FileSize,
		Status:     in.Status,
		Progress:   NormalizeProgress(in.Progress),
		SpeedText:  normalizeSpeedText(in.SpeedText),
		DeviceID:   deviceID,
		DeviceName: deviceName,
		UpdatedAt:  time.Now().UTC(),
	}
	if rec.FileSize < 0 {
		rec.FileSize = 0
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	if models.IsActiveStatus(rec.Status) {
		s.active[rec.TransferID] = rec
		return rec, true, true
	}
	delete(s.active, rec.TransferID)
	return rec, false, true
}

// Snapshot returns all currently active records, used to seed a late joiner
// or a reconnecting client that lost its local state.
func (s *Store) Snapshot() []models.TransferStatusRecord {
	s.mu.RLock()
	defer s.mu.RUnlock()
	out := make([]models.TransferStatusRecord, 0, len(s.active))
	for _, rec := range s.active {
		out = append(out, rec)
	}
	return out
}

// RemoveByDevice atomically drops every active record owned by deviceID and
// returns the removed transfer ids, so the hub can emit a single bulk
// removal notification.
func (s *Store) RemoveByDevice(deviceID string) []string {
	s.mu.Lock()
	defer s.mu.Unlock()
	var removed []string
	for id, rec := range s.active {
		if rec.DeviceID == deviceID {
			delete(s.active, id)
			removed = append(removed, id)
		}
	}
	if len(removed) > 0 {
		logrus.WithFields(logrus.Fields{
			"device": deviceID,
			"count":  len(removed),
		}).Info("Removed transfers for disconnected device")
	}
	return removed
}

// RenameDevice rewrites the owner display name on active records after a
// device re-registers under a new name.
func (s *Store) RenameDevice(deviceID, name string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	for id, rec := range s.active {
		if rec.DeviceID == deviceID {
			rec.DeviceName = name
			s.active[id] = rec
		}
	}
}

// Len returns the number of active records.
func (s *Store) Len() int {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return len(s.active)
}

// NormalizeProgress clamps a progress value to [0, 100] and rounds it to two
// decimal places. Non-finite values collapse to 0.
func NormalizeProgress(p float64) float64 {
	if math.IsNaN(p) || math.IsInf(p, 0) {
		return 0
	}
	if p < 0 {
		return 0
	}
	if p > 100 {
		return 100
	}
	return math.Round(p*100) / 100
}

func normalizeSpeedText(s string) string {
	if s == "" {
		return models.UnknownSpeed
	}
	if len(s) > MaxSpeedTextLen {
		return s[:MaxSpeedTextLen]
	}
	return s
}
