package client

import (
	"sort"
	"sync"
	"time"

	"github.com/Hello-LuckyHuang/lan-file-transfer-hub/internal/models"
	"github.com/Hello-LuckyHuang/lan-file-transfer-hub/internal/transferstate"
)

// Item is one render-ready entry in the transfer activity view. IsLocal is
// the only provenance an item carries: the hub echoes every local tick back,
// so "where the last event came from" alternates on every echo and cannot
// drive any decision.
type Item struct {
	TransferID string
	FileName   string
	FileSize   int64
	Status     string
	Progress   float64
	SpeedText  string
	DeviceID   string
	DeviceName string
	UpdatedAt  time.Time
	IsLocal    bool
}

// FileState is one row of the "files currently transferring" table. Unlike
// the activity view it is pruned the moment a transfer completes.
type FileState struct {
	TransferID string
	FileName   string
	FileSize   int64
	Status     string
	Progress   float64
	SpeedText  string
	UpdatedAt  time.Time
}

// Merger unifies three state sources into one deduplicated collection keyed
// by transfer id: this client's own in-flight operations, hub broadcasts
// about any device's transfers, and the active-transfer snapshot fetched on
// every (re)connect. The merge rule is last-writer-wins per field in arrival
// order; empty incoming fields keep the current value.
type Merger struct {
	mu         sync.RWMutex
	selfID     string
	items      map[string]Item
	fileStates map[string]FileState
	suppressed *suppressSet
}

func NewMerger() *Merger {
	return &Merger{
		items:      make(map[string]Item),
		fileStates: make(map[string]FileState),
		suppressed: newSuppressSet(),
	}
}

// SetSelfID records the hub-assigned device id for this connection. It
// changes on every reconnect, so locality of older entries is recomputed
// against the id they were stored with, not rewritten.
func (m *Merger) SetSelfID(id string) {
	m.mu.Lock()
	m.selfID = id
	m.mu.Unlock()
}

// SelfID returns the current hub-assigned device id.
func (m *Merger) SelfID() string {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.selfID
}

// Suppress arms a one-shot token for id: the next matching cancelled
// self-echo from the hub is swallowed instead of re-applied. Called right
// before a local cancel aborts the transport.
func (m *Merger) Suppress(id string) {
	m.suppressed.add(id)
}

// ApplyBroadcast merges a transfer-status-update received from the hub.
func (m *Merger) ApplyBroadcast(rec models.TransferStatusRecord) {
	if rec.TransferID == "" {
		return
	}

	m.mu.Lock()
	defer m.mu.Unlock()

	// Self-echo of a cancel the user already applied locally: consume the
	// token and do nothing, otherwise the entry would flicker back as a
	// foreign cancelled transfer.
	if rec.DeviceID == m.selfID && rec.Status == models.StatusCancelled && m.suppressed.consume(rec.TransferID) {
		return
	}

	m.applyLocked(rec)
}

// ApplySnapshot seeds the view from the hub's active-transfers listing.
func (m *Merger) ApplySnapshot(recs []models.TransferStatusRecord) {
	m.mu.Lock()
	defer m.mu.Unlock()
	for _, rec := range recs {
		if rec.TransferID == "" {
			continue
		}
		m.applyLocked(rec)
	}
}

// ApplyLocal merges a tick from this client's own transport operation. The
// caller broadcasts the same record, so every other client renders exactly
// what this one does.
func (m *Merger) ApplyLocal(rec models.TransferStatusRecord) {
	m.mu.Lock()
	defer m.mu.Unlock()
	rec.DeviceID = m.selfID
	m.applyLocked(rec)
}

// ApplyRemove handles a bulk transfer-status-remove: only foreign entries
// are dropped. A local in-flight transfer is never force-removed here; its
// own completion events control its lifecycle.
func (m *Merger) ApplyRemove(ids []string) {
	m.mu.Lock()
	defer m.mu.Unlock()
	for _, id := range ids {
		delete(m.fileStates, id)
		item, ok := m.items[id]
		if !ok || item.IsLocal {
			continue
		}
		delete(m.items, id)
	}
}

// applyLocked runs the actual merge and keeps both projections in step from
// the same event, so the activity view and the file table never drift.
func (m *Merger) applyLocked(rec models.TransferStatusRecord) {
	incoming := Item{
		TransferID: rec.TransferID,
		FileName:   rec.FileName,
		FileSize:   rec.FileSize,
		Status:     rec.Status,
		Progress:   transferstate.NormalizeProgress(rec.Progress),
		SpeedText:  rec.SpeedText,
		DeviceID:   rec.DeviceID,
		DeviceName: rec.DeviceName,
		UpdatedAt:  rec.UpdatedAt,
		IsLocal:    rec.DeviceID != "" && rec.DeviceID == m.selfID,
	}

	merged := mergeItem(m.items[rec.TransferID], incoming)
	m.items[rec.TransferID] = merged
	m.syncFileState(merged)
}

// mergeItem is the pure reconciliation rule: the incoming event wins per
// field, with empty fields falling back to the current view.
func mergeItem(current, incoming Item) Item {
	out := incoming
	if out.FileName == "" {
		out.FileName = current.FileName
	}
	if out.Status == "" {
		out.Status = current.Status
		if out.Status == "" {
			out.Status = models.StatusPending
		}
	}
	if out.FileSize <= 0 {
		out.FileSize = current.FileSize
	}
	if out.SpeedText == "" {
		out.SpeedText = current.SpeedText
	}
	if out.DeviceID == "" {
		out.DeviceID = current.DeviceID
		out.IsLocal = current.IsLocal
	}
	if out.DeviceName == "" {
		out.DeviceName = current.DeviceName
	}
	if out.UpdatedAt.IsZero() {
		out.UpdatedAt = time.Now()
	}
	// Once an entry is known to be ours it stays ours: a snapshot taken
	// after a reconnect carries the old device id.
	if current.IsLocal {
		out.IsLocal = true
	}
	return out
}

// syncFileState projects an item onto the transferring-files table:
// in-flight and failed/cancelled entries are shown, completed ones pruned.
func (m *Merger) syncFileState(it Item) {
	switch {
	case models.IsActiveStatus(it.Status):
		m.fileStates[it.TransferID] = FileState{
			TransferID: it.TransferID,
			FileName:   it.FileName,
			FileSize:   it.FileSize,
			Status:     it.Status,
			Progress:   it.Progress,
			SpeedText:  it.SpeedText,
			UpdatedAt:  it.UpdatedAt,
		}
	case it.Status == models.StatusFailed || it.Status == models.StatusCancelled:
		m.fileStates[it.TransferID] = FileState{
			TransferID: it.TransferID,
			FileName:   it.FileName,
			FileSize:   it.FileSize,
			Status:     it.Status,
			SpeedText:  models.UnknownSpeed,
			UpdatedAt:  it.UpdatedAt,
		}
	case it.Status == models.StatusCompleted:
		delete(m.fileStates, it.TransferID)
	}
}

// CancelLocal applies a user cancel of this client's own transfer: the
// activity entry disappears immediately and the file table keeps a
// cancelled row the user can clear later.
func (m *Merger) CancelLocal(id, fileName string, size int64) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if it, ok := m.items[id]; ok {
		if fileName == "" {
			fileName = it.FileName
		}
		if size <= 0 {
			size = it.FileSize
		}
		delete(m.items, id)
	}
	m.fileStates[id] = FileState{
		TransferID: id,
		FileName:   fileName,
		FileSize:   size,
		Status:     models.StatusCancelled,
		SpeedText:  models.UnknownSpeed,
		UpdatedAt:  time.Now(),
	}
}

// Get returns the view item for a transfer id.
func (m *Merger) Get(id string) (Item, bool) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	it, ok := m.items[id]
	return it, ok
}

// Items returns the activity view, oldest first.
func (m *Merger) Items() []Item {
	m.mu.RLock()
	defer m.mu.RUnlock()
	out := make([]Item, 0, len(m.items))
	for _, it := range m.items {
		out = append(out, it)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].UpdatedAt.Before(out[j].UpdatedAt) })
	return out
}

// FileStates returns the transferring-files table, oldest first.
func (m *Merger) FileStates() []FileState {
	m.mu.RLock()
	defer m.mu.RUnlock()
	out := make([]FileState, 0, len(m.fileStates))
	for _, fs := range m.fileStates {
		out = append(out, fs)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].UpdatedAt.Before(out[j].UpdatedAt) })
	return out
}

// Remove drops a single finished entry from both projections. In-flight
// entries are refused; they must be cancelled through their operation.
func (m *Merger) Remove(id string) bool {
	m.mu.Lock()
	defer m.mu.Unlock()
	it, ok := m.items[id]
	if !ok || models.IsActiveStatus(it.Status) {
		return false
	}
	delete(m.items, id)
	delete(m.fileStates, id)
	return true
}

// ClearFinished removes every terminal entry from the activity view and
// returns how many were cleared.
func (m *Merger) ClearFinished() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	cleared := 0
	for id, it := range m.items {
		if models.IsTerminalStatus(it.Status) {
			delete(m.items, id)
			delete(m.fileStates, id)
			cleared++
		}
	}
	return cleared
}
