package blockdev

import (
	"context"
	"errors"
	"fmt"
	"strconv"
	"sync"

	"github.com/nerrad567/hwreg/internal/device"
)

// DefaultPrefix is the identifier prefix for block records.
const DefaultPrefix = "block_"

// Allocation is the result of committing a draft.
type Allocation struct {
	ID           string
	Rediscovered bool
}

// Allocator assigns identifiers and commits drafts. Calls are serialised
// so two drafts never race for the same candidate.
type Allocator struct {
	registry Registry
	prefix   string
	mu       sync.Mutex
	logger   Logger
}

// NewAllocator creates an allocator committing to registry.
func NewAllocator(registry Registry, prefix string) *Allocator {
	if prefix == "" {
		prefix = DefaultPrefix
	}
	return &Allocator{registry: registry, prefix: prefix, logger: noopLogger{}}
}

// SetLogger sets the logger for the allocator.
func (a *Allocator) SetLogger(logger Logger) {
	a.logger = logger
}

// Candidate formats the identifier for probe n; n == 0 has no suffix.
func Candidate(prefix string, major, minor, n int) string {
	id := prefix + strconv.Itoa(major) + "_" + strconv.Itoa(minor)
	if n > 0 {
		id += "-" + strconv.Itoa(n)
	}
	return id
}

// Allocate commits d under the first free candidate: the base identifier,
// then -1, -2, ... with no upper bound. A taken candidate whose record has
// the same sysfs path as d is the same node seen again: d's properties
// are merged into it and its identifier is returned with Rediscovered set.
func (a *Allocator) Allocate(ctx context.Context, d *Draft) (Allocation, error) {
	a.mu.Lock()
	defer a.mu.Unlock()

	for n := 0; ; n++ {
		if err := ctx.Err(); err != nil {
			return Allocation{}, err
		}

		id := Candidate(a.prefix, d.Major, d.Minor, n)
		if !a.registry.Exists(ctx, id) {
			err := a.registry.Insert(ctx, d.Record(id))
			if err == nil {
				a.logger.Debug("identifier allocated", "temp_id", d.TempID, "id", id, "probes", n)
				return Allocation{ID: id}, nil
			}
			if !errors.Is(err, device.ErrDeviceExists) {
				return Allocation{}, fmt.Errorf("inserting %s: %w", id, err)
			}
		}

		same, err := a.sameNode(ctx, id, d)
		if err != nil {
			return Allocation{}, err
		}
		if same {
			if err := a.merge(ctx, id, d); err != nil {
				return Allocation{}, err
			}
			a.logger.Debug("node rediscovered", "temp_id", d.TempID, "id", id)
			return Allocation{ID: id, Rediscovered: true}, nil
		}
	}
}

func (a *Allocator) sameNode(ctx context.Context, id string, d *Draft) (bool, error) {
	v, err := a.registry.GetProperty(ctx, id, device.PropSysfsPath)
	if errors.Is(err, device.ErrPropertyNotFound) {
		return false, nil
	}
	if err != nil {
		return false, fmt.Errorf("checking %s: %w", id, err)
	}
	return v == d.SysfsPath, nil
}

// merge copies every property of d that differs from the stored record.
// It only adds and overwrites: properties the draft lacks and the stored
// capabilities are kept, so a record never loses information on rescan.
// A node whose media really changed is removed and re-added instead.
func (a *Allocator) merge(ctx context.Context, id string, d *Draft) error {
	existing, err := a.registry.GetDevice(ctx, id)
	if err != nil {
		return fmt.Errorf("loading %s: %w", id, err)
	}
	for k, v := range d.Properties {
		if cur, ok := existing.Properties[k]; ok && cur == v {
			continue
		}
		if err := a.registry.SetProperty(ctx, id, k, v); err != nil {
			return fmt.Errorf("merging %s into %s: %w", k, id, err)
		}
	}
	return nil
}
