package device

import (
	"context"
	"fmt"
	"sort"
	"sync"
	"time"
)

// Logger defines the logging interface used by the Registry.
type Logger interface {
	Debug(msg string, args ...any)
	Info(msg string, args ...any)
	Warn(msg string, args ...any)
	Error(msg string, args ...any)
}

// noopLogger is a logger that does nothing.
type noopLogger struct{}

func (noopLogger) Debug(string, ...any) {}
func (noopLogger) Info(string, ...any)  {}
func (noopLogger) Warn(string, ...any)  {}
func (noopLogger) Error(string, ...any) {}

// Registry caches every record in memory on top of a Repository.
//
// The cache is authoritative once RefreshCache has run: uniqueness checks
// and lookups never hit the repository. Writes go to the repository first
// and only then to the cache, so a failed write leaves both untouched.
//
// All public methods are thread-safe.
type Registry struct {
	repo    Repository
	cache   map[string]*Device
	cacheMu sync.RWMutex

	// changed is closed and replaced on every insert or property change,
	// waking WaitForProperty callers. Guarded by cacheMu.
	changed chan struct{}

	listeners   []Listener
	listenersMu sync.RWMutex

	logger Logger
	now    func() time.Time
}

// NewRegistry creates a registry persisting through repo.
func NewRegistry(repo Repository) *Registry {
	return &Registry{
		repo:    repo,
		cache:   make(map[string]*Device),
		changed: make(chan struct{}),
		logger:  noopLogger{},
		now:     time.Now,
	}
}

// SetLogger sets the logger for the registry.
func (r *Registry) SetLogger(logger Logger) {
	r.logger = logger
}

// Subscribe registers l for every subsequent event.
func (r *Registry) Subscribe(l Listener) {
	r.listenersMu.Lock()
	r.listeners = append(r.listeners, l)
	r.listenersMu.Unlock()
}

func (r *Registry) emit(e Event) {
	r.listenersMu.RLock()
	listeners := r.listeners
	r.listenersMu.RUnlock()

	for _, l := range listeners {
		l(e)
	}
}

// broadcastLocked wakes all waiters. Caller holds cacheMu for writing.
func (r *Registry) broadcastLocked() {
	close(r.changed)
	r.changed = make(chan struct{})
}

// RefreshCache reloads all records from the repository.
// Call it once on startup before the first scan.
func (r *Registry) RefreshCache(ctx context.Context) error {
	devices, err := r.repo.List(ctx)
	if err != nil {
		return fmt.Errorf("loading devices: %w", err)
	}

	r.cacheMu.Lock()
	r.cache = make(map[string]*Device, len(devices))
	for i := range devices {
		r.cache[devices[i].ID] = devices[i].DeepCopy()
	}
	r.broadcastLocked()
	r.cacheMu.Unlock()

	r.logger.Info("device cache refreshed", "count", len(devices))
	return nil
}

// Exists reports whether id is taken.
func (r *Registry) Exists(_ context.Context, id string) bool {
	r.cacheMu.RLock()
	defer r.cacheMu.RUnlock()
	_, ok := r.cache[id]
	return ok
}

// Insert commits a new record. It returns ErrDeviceExists when the ID is
// already taken; the check and the write happen under one lock.
func (r *Registry) Insert(ctx context.Context, d *Device) error {
	if err := ValidateDevice(d); err != nil {
		return err
	}

	rec := d.DeepCopy()
	now := r.now().UTC()
	rec.CreatedAt = now
	rec.UpdatedAt = now

	r.cacheMu.Lock()
	if _, ok := r.cache[rec.ID]; ok {
		r.cacheMu.Unlock()
		return ErrDeviceExists
	}
	if err := r.repo.Create(ctx, rec); err != nil {
		r.cacheMu.Unlock()
		return fmt.Errorf("creating device %s: %w", rec.ID, err)
	}
	r.cache[rec.ID] = rec
	r.broadcastLocked()
	r.cacheMu.Unlock()

	d.CreatedAt, d.UpdatedAt = now, now

	r.logger.Debug("device inserted", "id", rec.ID, "bus", rec.Bus)
	r.emit(Event{Type: EventAdded, Device: rec.DeepCopy()})
	return nil
}

// GetDevice returns a copy of the record with the given ID.
func (r *Registry) GetDevice(_ context.Context, id string) (*Device, error) {
	r.cacheMu.RLock()
	defer r.cacheMu.RUnlock()

	d, ok := r.cache[id]
	if !ok {
		return nil, ErrDeviceNotFound
	}
	return d.DeepCopy(), nil
}

// ListDevices returns copies of all records sorted by ID.
func (r *Registry) ListDevices(ctx context.Context) []Device {
	return r.FindDevices(ctx, Filter{})
}

// FindDevices returns copies of the records matching f, sorted by ID.
func (r *Registry) FindDevices(_ context.Context, f Filter) []Device {
	r.cacheMu.RLock()
	out := make([]Device, 0, len(r.cache))
	for _, d := range r.cache {
		if f.Matches(d) {
			out = append(out, *d.DeepCopy())
		}
	}
	r.cacheMu.RUnlock()

	sort.Slice(out, func(i, j int) bool { return out[i].ID < out[j].ID })
	return out
}

// DeviceCount returns the number of cached records.
func (r *Registry) DeviceCount() int {
	r.cacheMu.RLock()
	defer r.cacheMu.RUnlock()
	return len(r.cache)
}

// GetProperty returns one property of a record.
func (r *Registry) GetProperty(_ context.Context, id, key string) (any, error) {
	r.cacheMu.RLock()
	defer r.cacheMu.RUnlock()

	d, ok := r.cache[id]
	if !ok {
		return nil, ErrDeviceNotFound
	}
	v, ok := d.Properties[key]
	if !ok {
		return nil, fmt.Errorf("%s on %s: %w", key, id, ErrPropertyNotFound)
	}
	return v, nil
}

// SetProperty updates one property of a record and persists it.
func (r *Registry) SetProperty(ctx context.Context, id, key string, value any) error {
	r.cacheMu.Lock()
	cur, ok := r.cache[id]
	if !ok {
		r.cacheMu.Unlock()
		return ErrDeviceNotFound
	}

	next := cur.DeepCopy()
	next.SetProperty(key, value)
	next.UpdatedAt = r.now().UTC()

	if err := r.repo.Update(ctx, next); err != nil {
		r.cacheMu.Unlock()
		return fmt.Errorf("updating device %s: %w", id, err)
	}
	r.cache[id] = next
	r.broadcastLocked()
	r.cacheMu.Unlock()

	r.emit(Event{Type: EventPropertyChanged, Device: next.DeepCopy(), Key: key})
	return nil
}

// DeleteDevice removes a record.
func (r *Registry) DeleteDevice(ctx context.Context, id string) error {
	r.cacheMu.Lock()
	cur, ok := r.cache[id]
	if !ok {
		r.cacheMu.Unlock()
		return ErrDeviceNotFound
	}
	if err := r.repo.Delete(ctx, id); err != nil {
		r.cacheMu.Unlock()
		return fmt.Errorf("deleting device %s: %w", id, err)
	}
	delete(r.cache, id)
	r.cacheMu.Unlock()

	r.logger.Debug("device removed", "id", id)
	r.emit(Event{Type: EventRemoved, Device: cur.DeepCopy()})
	return nil
}

// FindByProperty returns the record (lowest ID first) whose key property
// equals value.
func (r *Registry) FindByProperty(key string, value any) (*Device, bool) {
	r.cacheMu.RLock()
	defer r.cacheMu.RUnlock()
	d := r.findLocked(key, value)
	if d == nil {
		return nil, false
	}
	return d.DeepCopy(), true
}

func (r *Registry) findLocked(key string, value any) *Device {
	var found *Device
	for _, d := range r.cache {
		if v, ok := d.Properties[key]; ok && v == value {
			if found == nil || d.ID < found.ID {
				found = d
			}
		}
	}
	return found
}

// WaitForProperty returns the record whose key property equals value,
// blocking until one is inserted or ctx ends. The cache is always checked
// once, so a zero wait is an already-expired context.
func (r *Registry) WaitForProperty(ctx context.Context, key string, value any) (*Device, error) {
	for {
		r.cacheMu.RLock()
		d := r.findLocked(key, value)
		ch := r.changed
		r.cacheMu.RUnlock()

		if d != nil {
			return d.DeepCopy(), nil
		}

		select {
		case <-ctx.Done():
			return nil, ctx.Err()
		case <-ch:
		}
	}
}

// PhysicalDevice walks up from parentID and returns the first record that
// has no PhysicalDevice property of its own.
func (r *Registry) PhysicalDevice(_ context.Context, parentID string) (string, error) {
	r.cacheMu.RLock()
	defer r.cacheMu.RUnlock()

	seen := make(map[string]struct{})
	id := parentID
	for {
		if _, loop := seen[id]; loop {
			return "", fmt.Errorf("resolving physical device of %s: %w", parentID, ErrParentCycle)
		}
		seen[id] = struct{}{}

		d, ok := r.cache[id]
		if !ok {
			return "", fmt.Errorf("resolving physical device, %s: %w", id, ErrDeviceNotFound)
		}
		if _, backed := d.Properties[PropPhysicalDevice]; !backed {
			return id, nil
		}
		if d.ParentID == "" {
			return "", fmt.Errorf("resolving physical device, %s has no parent: %w", id, ErrDeviceNotFound)
		}
		id = d.ParentID
	}
}
