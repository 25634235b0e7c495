package blockdev

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/nerrad567/hwreg/internal/device"
)

func volumeDraft(t *testing.T, path, dev string) *Draft {
	t.Helper()
	d, outcome := classifier(nil).Classify(Node{Path: path, Attrs: attrs("dev", dev)}, "block_8_0", "block")
	require.Equal(t, OutcomeClassified, outcome)
	return d
}

func TestCandidate(t *testing.T) {
	assert.Equal(t, "block_8_0", Candidate("block_", 8, 0, 0))
	assert.Equal(t, "ns_8_0-1", Candidate("ns_", 8, 0, 1))
	assert.Equal(t, "ns_253_12-40", Candidate("ns_", 253, 12, 40))
}

func TestAllocate_Base(t *testing.T) {
	reg := newFakeRegistry()
	a := NewAllocator(reg, "ns_")

	got, err := a.Allocate(context.Background(), volumeDraft(t, "/sys/block/sda/sda1", "8:1"))
	require.NoError(t, err)
	assert.Equal(t, Allocation{ID: "ns_8_1"}, got)
	assert.Contains(t, reg.devices, "ns_8_1")
}

func TestAllocate_CollisionScenario(t *testing.T) {
	reg := newFakeRegistry()
	reg.seed("ns_8_0", "block", "/sys/block/other0", nil)
	reg.seed("ns_8_0-1", "block", "/sys/block/other1", nil)

	got, err := NewAllocator(reg, "ns_").Allocate(context.Background(), volumeDraft(t, "/sys/block/sdq", "8:0"))
	require.NoError(t, err)
	assert.Equal(t, "ns_8_0-2", got.ID)
	assert.False(t, got.Rediscovered)
}

func TestAllocate_MonotonicProbe(t *testing.T) {
	for k := 1; k <= 12; k++ {
		t.Run(fmt.Sprintf("k=%d", k), func(t *testing.T) {
			reg := newFakeRegistry()
			for n := 0; n < k; n++ {
				reg.seed(Candidate("block_", 8, 0, n), "block", fmt.Sprintf("/sys/taken/%d", n), nil)
			}

			got, err := NewAllocator(reg, "").Allocate(context.Background(), volumeDraft(t, "/sys/block/new", "8:0"))
			require.NoError(t, err)
			assert.Equal(t, Candidate("block_", 8, 0, k), got.ID)
		})
	}
}

func TestAllocate_Rediscovery(t *testing.T) {
	reg := newFakeRegistry()
	reg.seed("block_8_1", "block", "/sys/block/sda/sda1", map[string]any{device.PropProduct: "Old"})

	got, err := NewAllocator(reg, "").Allocate(context.Background(), volumeDraft(t, "/sys/block/sda/sda1", "8:1"))
	require.NoError(t, err)
	assert.Equal(t, Allocation{ID: "block_8_1", Rediscovered: true}, got)
	assert.Len(t, reg.devices, 1, "no suffixed duplicate")
	assert.Equal(t, "Volume", reg.devices["block_8_1"].StringProperty(device.PropProduct), "draft merged")
}

func TestAllocate_RediscoveryKeepsStoredData(t *testing.T) {
	reg := newFakeRegistry()
	reg.seed("block_8_1", "block", "/sys/block/sda/sda1", map[string]any{device.PropBlockMedia: "cdrom"})
	reg.devices["block_8_1"].AddCapability("removableMedia")

	_, err := NewAllocator(reg, "").Allocate(context.Background(), volumeDraft(t, "/sys/block/sda/sda1", "8:1"))
	require.NoError(t, err)

	stored := reg.devices["block_8_1"]
	assert.Equal(t, "cdrom", stored.StringProperty(device.PropBlockMedia))
	assert.True(t, stored.HasCapability("removableMedia"))
	assert.True(t, stored.BoolProperty(device.PropIsVirtual))
}

func TestAllocate_RediscoveryOfSuffixedRecord(t *testing.T) {
	reg := newFakeRegistry()
	reg.seed("block_8_1", "block", "/sys/block/sdb/sdb1", nil)
	reg.seed("block_8_1-1", "block", "/sys/block/sda/sda1", nil)

	got, err := NewAllocator(reg, "").Allocate(context.Background(), volumeDraft(t, "/sys/block/sda/sda1", "8:1"))
	require.NoError(t, err)
	assert.Equal(t, "block_8_1-1", got.ID)
	assert.True(t, got.Rediscovered)
}

func TestAllocate_InsertFailure(t *testing.T) {
	reg := newFakeRegistry()
	reg.insertErr = errors.New("database is locked")

	_, err := NewAllocator(reg, "").Allocate(context.Background(), volumeDraft(t, "/sys/block/sda/sda1", "8:1"))
	require.Error(t, err)
	assert.Contains(t, err.Error(), "database is locked")
}

func TestAllocate_Cancelled(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	_, err := NewAllocator(newFakeRegistry(), "").Allocate(ctx, volumeDraft(t, "/sys/block/sda/sda1", "8:1"))
	assert.ErrorIs(t, err, context.Canceled)
}

func TestAllocate_ConcurrentSameNumbers(t *testing.T) {
	reg := newFakeRegistry()
	a := NewAllocator(reg, "")

	const n = 8
	drafts := make([]*Draft, n)
	for i := range n {
		drafts[i] = volumeDraft(t, fmt.Sprintf("/sys/block/loop%d", i), "7:0")
	}

	ids := make([]string, n)
	var wg sync.WaitGroup
	for i := range n {
		wg.Add(1)
		go func() {
			defer wg.Done()
			got, err := a.Allocate(context.Background(), drafts[i])
			assert.NoError(t, err)
			ids[i] = got.ID
		}()
	}
	wg.Wait()

	seen := make(map[string]bool)
	for _, id := range ids {
		assert.False(t, seen[id], "duplicate id %s", id)
		seen[id] = true
	}
	for k := range n {
		assert.True(t, seen[Candidate("block_", 7, 0, k)], "probe %d unused", k)
	}
}
