package blockdev

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/nerrad567/hwreg/internal/device"
)

func newTestVisitor(reg *fakeRegistry, res *fakeResolver, lines fakeLines) *Visitor {
	return NewVisitor(reg, res, lines, Config{Prefix: "ns_", ParentTimeout: time.Second})
}

func TestVisit_SkipWithoutDevMakesNoCalls(t *testing.T) {
	reg := newFakeRegistry()
	res := &fakeResolver{}
	v := newTestVisitor(reg, res, nil)

	for _, node := range []Node{
		{Path: "/sys/block/sda", Attrs: attrs("size", "100", "range", "16")},
		{Path: "/sys/block/sda/queue"},
		{Path: "/sys/block/sdb", Attrs: attrs("dev", "not-a-dev")},
	} {
		got, err := v.Visit(context.Background(), node)
		require.NoError(t, err)
		assert.Equal(t, OutcomeSkipped, got.Outcome)
		assert.Nil(t, got.Device)
	}
	assert.Zero(t, reg.callCount())
	assert.Empty(t, res.lookups)
}

func TestVisit_ParentNotFoundMakesNoRegistryCalls(t *testing.T) {
	reg := newFakeRegistry()
	res := &fakeResolver{}
	v := newTestVisitor(reg, res, nil)

	got, err := v.Visit(context.Background(), Node{Path: "/sys/block/sda/sda1", Attrs: attrs("dev", "8:1")})
	require.NoError(t, err)
	assert.Equal(t, OutcomeDiscarded, got.Outcome)
	assert.Nil(t, got.Device)
	assert.Zero(t, reg.callCount())
	assert.Equal(t, []string{"/sys/block/sda"}, res.lookups)
}

func TestVisit_ResolverLookupPath(t *testing.T) {
	res := &fakeResolver{}
	v := newTestVisitor(newFakeRegistry(), res, nil)

	_, err := v.Visit(context.Background(), Node{
		Path:         "/sys/block/sda",
		Attrs:        attrs("dev", "8:0", "range", "16"),
		PhysicalPath: "/sys/devices/pci0000:00/0000:00:1f.2/host0/target0:0:0/0:0:0:0",
	})
	require.NoError(t, err)
	assert.Equal(t, []string{"/sys/devices/pci0000:00/0000:00:1f.2/host0/target0:0:0/0:0:0:0"}, res.lookups)
	assert.Equal(t, []time.Duration{time.Second}, res.timeouts)

	_, err = v.WithParentTimeout(0).Visit(context.Background(), Node{Path: "/sys/block/sda/sda1", Attrs: attrs("dev", "8:1")})
	require.NoError(t, err)
	assert.Equal(t, "/sys/block/sda", res.lookups[1])
	assert.Equal(t, time.Duration(0), res.timeouts[1])
}

func TestVisit_CommitsDiskAndVolume(t *testing.T) {
	reg := newFakeRegistry()
	reg.seed("bus_ide0", "ide", "/sys/devices/ide0/0.0", nil)
	res := &fakeResolver{ids: map[string]string{
		"/sys/devices/ide0/0.0": "bus_ide0",
		"/sys/block/hda":        "ns_3_0",
	}}
	lines := fakeLines{"/proc/ide/hda/media": "disk", "/proc/ide/hda/model": "ST380011A"}
	v := newTestVisitor(reg, res, lines)
	ctx := context.Background()

	disk, err := v.Visit(ctx, Node{Path: "/sys/block/hda", Attrs: attrs("dev", "3:0\n", "range", "64\n", "size", "156301488\n"), PhysicalPath: "/sys/devices/ide0/0.0"})
	require.NoError(t, err)
	require.Equal(t, OutcomeCommitted, disk.Outcome)
	assert.Equal(t, "ns_3_0", disk.Device.ID)
	assert.Equal(t, "fixedMedia.harddisk", disk.Device.Category)
	assert.Equal(t, "ST380011A", disk.Device.StringProperty(device.PropProduct))
	assert.Equal(t, "bus_ide0", disk.Device.ParentID)
	_, hasPhysical := disk.Device.Property(device.PropPhysicalDevice)
	assert.False(t, hasPhysical, "disks are their own physical device")

	vol, err := v.Visit(ctx, Node{Path: "/sys/block/hda/hda1", Attrs: attrs("dev", "3:1\n", "start", "63\n")})
	require.NoError(t, err)
	require.Equal(t, OutcomeCommitted, vol.Outcome)
	assert.Equal(t, "ns_3_1", vol.Device.ID)
	assert.Equal(t, "volume", vol.Device.Category)
	assert.Equal(t, "ns_3_0", vol.Device.ParentID)
	assert.Equal(t, "ns_3_0", vol.Device.StringProperty(device.PropPhysicalDevice))
	assert.True(t, vol.Device.BoolProperty(device.PropIsVirtual))
}

func TestVisit_Rediscovery(t *testing.T) {
	reg := newFakeRegistry()
	reg.seed("bus_usb1", "usb", "/sys/devices/usb1/1-1", nil)
	res := &fakeResolver{ids: map[string]string{"/sys/devices/usb1/1-1": "bus_usb1"}}
	v := newTestVisitor(reg, res, nil)
	node := Node{Path: "/sys/block/sda", Attrs: attrs("dev", "8:0", "range", "16"), PhysicalPath: "/sys/devices/usb1/1-1"}

	first, err := v.Visit(context.Background(), node)
	require.NoError(t, err)
	assert.False(t, first.Rediscovered)

	second, err := v.Visit(context.Background(), node)
	require.NoError(t, err)
	assert.Equal(t, OutcomeCommitted, second.Outcome)
	assert.True(t, second.Rediscovered)
	assert.Equal(t, first.Device.ID, second.Device.ID)
	assert.Len(t, reg.devices, 2)
}

func TestVisit_RegistryFailure(t *testing.T) {
	reg := newFakeRegistry()
	reg.seed("bus_usb1", "usb", "/sys/devices/usb1/1-1", nil)
	reg.insertErr = errors.New("disk I/O error")
	res := &fakeResolver{ids: map[string]string{"/sys/devices/usb1/1-1": "bus_usb1"}}

	_, err := newTestVisitor(reg, res, nil).Visit(context.Background(),
		Node{Path: "/sys/block/sda", Attrs: attrs("dev", "8:0", "range", "16"), PhysicalPath: "/sys/devices/usb1/1-1"})
	assert.Error(t, err)
}

func TestOutcome_String(t *testing.T) {
	assert.Equal(t, "skipped", OutcomeSkipped.String())
	assert.Equal(t, "classified", OutcomeClassified.String())
	assert.Equal(t, "discarded", OutcomeDiscarded.String())
	assert.Equal(t, "committed", OutcomeCommitted.String())
}
