package blockdev

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/nerrad567/hwreg/internal/device"
	"github.com/nerrad567/hwreg/internal/sysfs"
)

// fakeRegistry is an in-memory Registry that counts every call.
type fakeRegistry struct {
	mu        sync.Mutex
	devices   map[string]*device.Device
	calls     int
	insertErr error
}

func newFakeRegistry() *fakeRegistry {
	return &fakeRegistry{devices: make(map[string]*device.Device)}
}

// seed stores a record without counting it as a call.
func (f *fakeRegistry) seed(id, bus, sysfsPath string, props map[string]any) {
	d := &device.Device{ID: id}
	d.SetProperty(device.PropBus, bus)
	d.SetProperty(device.PropSysfsPath, sysfsPath)
	d.SetProperty(device.PropSysfsPathDevice, sysfsPath)
	for k, v := range props {
		d.SetProperty(k, v)
	}
	f.devices[id] = d
}

func (f *fakeRegistry) Exists(_ context.Context, id string) bool {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.calls++
	_, ok := f.devices[id]
	return ok
}

func (f *fakeRegistry) Insert(_ context.Context, d *device.Device) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.calls++
	if f.insertErr != nil {
		return f.insertErr
	}
	if _, ok := f.devices[d.ID]; ok {
		return device.ErrDeviceExists
	}
	f.devices[d.ID] = d.DeepCopy()
	return nil
}

func (f *fakeRegistry) GetProperty(_ context.Context, id, key string) (any, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.calls++
	d, ok := f.devices[id]
	if !ok {
		return nil, device.ErrDeviceNotFound
	}
	v, ok := d.Properties[key]
	if !ok {
		return nil, device.ErrPropertyNotFound
	}
	return v, nil
}

func (f *fakeRegistry) SetProperty(_ context.Context, id, key string, value any) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.calls++
	d, ok := f.devices[id]
	if !ok {
		return device.ErrDeviceNotFound
	}
	d.SetProperty(key, value)
	return nil
}

func (f *fakeRegistry) GetDevice(_ context.Context, id string) (*device.Device, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.calls++
	d, ok := f.devices[id]
	if !ok {
		return nil, device.ErrDeviceNotFound
	}
	return d.DeepCopy(), nil
}

func (f *fakeRegistry) PhysicalDevice(_ context.Context, parentID string) (string, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.calls++
	id := parentID
	for range 32 {
		d, ok := f.devices[id]
		if !ok {
			return "", device.ErrDeviceNotFound
		}
		if _, backed := d.Properties[device.PropPhysicalDevice]; !backed {
			return id, nil
		}
		id = d.ParentID
	}
	return "", device.ErrParentCycle
}

func (f *fakeRegistry) callCount() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.calls
}

// fakeResolver answers from a fixed path table.
type fakeResolver struct {
	mu       sync.Mutex
	ids      map[string]string
	lookups  []string
	timeouts []time.Duration
}

func (f *fakeResolver) Resolve(_ context.Context, path string, timeout time.Duration) (string, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.lookups = append(f.lookups, path)
	f.timeouts = append(f.timeouts, timeout)
	if id, ok := f.ids[path]; ok {
		return id, nil
	}
	return "", fmt.Errorf("%s: %w", path, ErrParentNotFound)
}

// fakeLines serves side-channel files from a map keyed by formatted path.
type fakeLines map[string]string

func (f fakeLines) ReadSingleLine(format string, args ...any) (string, bool) {
	v, ok := f[fmt.Sprintf(format, args...)]
	return v, ok
}

func attrs(pairs ...string) sysfs.AttributeSet {
	set := make(sysfs.AttributeSet, 0, len(pairs)/2)
	for i := 0; i+1 < len(pairs); i += 2 {
		set = append(set, sysfs.Attribute{Name: pairs[i], Value: pairs[i+1]})
	}
	return set
}
