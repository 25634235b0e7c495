package blockdev

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/nerrad567/hwreg/internal/device"
)

// PropertyWaiter is implemented by *device.Registry.
type PropertyWaiter interface {
	WaitForProperty(ctx context.Context, key string, value any) (*device.Device, error)
}

// RegistryResolver resolves parents by waiting for a record whose
// Linux.sysfs_path_device equals the lookup path.
type RegistryResolver struct {
	waiter PropertyWaiter
}

// NewRegistryResolver creates a resolver backed by waiter.
func NewRegistryResolver(waiter PropertyWaiter) *RegistryResolver {
	return &RegistryResolver{waiter: waiter}
}

// Resolve waits up to timeout for path to be claimed. A zero timeout means a
// single lookup. Cancellation of ctx itself is returned as ctx.Err(), not
// as ErrParentNotFound.
func (r *RegistryResolver) Resolve(ctx context.Context, path string, timeout time.Duration) (string, error) {
	waitCtx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()

	d, err := r.waiter.WaitForProperty(waitCtx, device.PropSysfsPathDevice, path)
	if err == nil {
		return d.ID, nil
	}
	if ctx.Err() != nil {
		return "", ctx.Err()
	}
	if errors.Is(err, context.DeadlineExceeded) {
		return "", fmt.Errorf("%s after %s: %w", path, timeout, ErrParentNotFound)
	}
	return "", err
}
