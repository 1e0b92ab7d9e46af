package presence

import (
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/Hello-LuckyHuang/lan-file-transfer-hub/internal/models"
)

func TestRegisterCreatesDevice(t *testing.T) {
	r := NewRegistry()

	d, created := r.Register("conn-1", models.RegisterDevice{Name: "Laptop", Type: "desktop"}, "192.168.1.5")
	require.True(t, created)
	assert.Equal(t, "conn-1", d.ID)
	assert.Equal(t, "Laptop", d.Name)
	assert.Equal(t, "desktop", d.Type)
	assert.Equal(t, "192.168.1.5", d.Address)
	assert.False(t, d.ConnectedAt.IsZero())
	assert.Equal(t, 1, r.Count())
}

func TestReRegisterUpdatesInPlace(t *testing.T) {
	r := NewRegistry()

	first, created := r.Register("conn-1", models.RegisterDevice{Name: "Laptop", Type: "desktop"}, "192.168.1.5")
	require.True(t, created)

	second, created := r.Register("conn-1", models.RegisterDevice{Name: "Work Laptop", Type: "desktop"}, "192.168.1.99")
	assert.False(t, created, "a rename must not look like a new device")
	assert.Equal(t, first.ID, second.ID)
	assert.Equal(t, "Work Laptop", second.Name)
	assert.Equal(t, first.Address, second.Address, "address is captured at connect time")
	assert.Equal(t, first.ConnectedAt, second.ConnectedAt)
	assert.Equal(t, 1, r.Count())
}

func TestRegisterDefaults(t *testing.T) {
	r := NewRegistry()

	d, _ := r.Register("abcdef123456", models.RegisterDevice{Name: "  ", Type: "toaster"}, "10.0.0.1")
	assert.Equal(t, "Device-abcdef", d.Name)
	assert.Equal(t, "desktop", d.Type)

	long, _ := r.Register("conn-2", models.RegisterDevice{Name: strings.Repeat("n", 200), Type: "mobile"}, "10.0.0.2")
	assert.Len(t, long.Name, maxDeviceNameLen)
	assert.Equal(t, "mobile", long.Type)
}

func TestSnapshotExcludesSelf(t *testing.T) {
	r := NewRegistry()
	r.Register("conn-1", models.RegisterDevice{Name: "A", Type: "desktop"}, "10.0.0.1")
	r.Register("conn-2", models.RegisterDevice{Name: "B", Type: "mobile"}, "10.0.0.2")

	snap := r.Snapshot("conn-1")
	require.Len(t, snap, 1)
	assert.Equal(t, "conn-2", snap[0].ID)

	assert.Len(t, r.Snapshot(""), 2)
}

func TestRemove(t *testing.T) {
	r := NewRegistry()
	r.Register("conn-1", models.RegisterDevice{Name: "A", Type: "desktop"}, "10.0.0.1")

	d, ok := r.Remove("conn-1")
	require.True(t, ok)
	assert.Equal(t, "A", d.Name)
	assert.Equal(t, 0, r.Count())

	_, ok = r.Remove("conn-1")
	assert.False(t, ok)
}

func TestNameFallback(t *testing.T) {
	r := NewRegistry()
	assert.Equal(t, "Device-abc123", r.Name("abc123def"))

	r.Register("conn-1", models.RegisterDevice{Name: "Phone", Type: "mobile"}, "10.0.0.1")
	assert.Equal(t, "Phone", r.Name("conn-1"))
}
