package device

import (
	"encoding/json"
	"maps"
	"slices"
	"time"
)

// Properties holds scalar record properties (string, bool or int).
type Properties map[string]any

// Device is a committed hardware record.
// Bus, Category and ParentID mirror the Bus, Category and Parent
// properties; SetProperty keeps them in step.
type Device struct {
	ID           string     `json:"id"`
	Bus          string     `json:"bus"`
	Category     string     `json:"category"`
	ParentID     string     `json:"parent_id,omitempty"`
	Capabilities []string   `json:"capabilities"`
	Properties   Properties `json:"properties"`

	CreatedAt time.Time `json:"created_at"`
	UpdatedAt time.Time `json:"updated_at"`
}

// DeepCopy returns an independent copy; property values are scalars so a
// map clone is enough.
func (d *Device) DeepCopy() *Device {
	if d == nil {
		return nil
	}
	cpy := *d
	cpy.Capabilities = slices.Clone(d.Capabilities)
	cpy.Properties = maps.Clone(d.Properties)
	return &cpy
}

// HasCapability reports whether the capability set contains c.
func (d *Device) HasCapability(c string) bool {
	return slices.Contains(d.Capabilities, c)
}

// AddCapability appends c unless it is already present.
func (d *Device) AddCapability(c string) {
	if !d.HasCapability(c) {
		d.Capabilities = append(d.Capabilities, c)
	}
}

// Property returns the raw value stored under key.
func (d *Device) Property(key string) (any, bool) {
	v, ok := d.Properties[key]
	return v, ok
}

// StringProperty returns the value under key if it is a string.
func (d *Device) StringProperty(key string) string {
	s, _ := d.Properties[key].(string)
	return s
}

// IntProperty returns the value under key as an int. Values decoded from
// JSON arrive as float64 or json.Number and are converted.
func (d *Device) IntProperty(key string) (int, bool) {
	switch v := d.Properties[key].(type) {
	case int:
		return v, true
	case int64:
		return int(v), true
	case float64:
		return int(v), true
	case json.Number:
		n, err := v.Int64()
		return int(n), err == nil
	default:
		return 0, false
	}
}

// BoolProperty returns the value under key if it is a bool.
func (d *Device) BoolProperty(key string) bool {
	b, _ := d.Properties[key].(bool)
	return b
}

// SetProperty stores value under key, syncing the mirrored fields.
func (d *Device) SetProperty(key string, value any) {
	if d.Properties == nil {
		d.Properties = make(Properties)
	}
	d.Properties[key] = value

	s, _ := value.(string)
	switch key {
	case PropBus:
		d.Bus = s
	case PropCategory:
		d.Category = s
	case PropParent:
		d.ParentID = s
	}
}

// SysfsPath returns the Linux.sysfs_path property.
func (d *Device) SysfsPath() string {
	return d.StringProperty(PropSysfsPath)
}

// Filter selects devices in FindDevices. Empty fields match everything.
type Filter struct {
	Bus        string
	Category   string
	Capability string
	ParentID   string
}

// Matches reports whether d satisfies every non-empty field of f.
func (f Filter) Matches(d *Device) bool {
	if f.Bus != "" && d.Bus != f.Bus {
		return false
	}
	if f.Category != "" && d.Category != f.Category {
		return false
	}
	if f.ParentID != "" && d.ParentID != f.ParentID {
		return false
	}
	if f.Capability != "" && !d.HasCapability(f.Capability) {
		return false
	}
	return true
}

// EventType names a registry change.
type EventType string

// Registry event types.
const (
	EventAdded           EventType = "added"
	EventRemoved         EventType = "removed"
	EventPropertyChanged EventType = "property_changed"
)

// Event describes one registry change. Device is a copy taken after the
// change (before it, for removals). Key is set for property changes.
type Event struct {
	Type   EventType `json:"type"`
	Device *Device   `json:"device"`
	Key    string    `json:"key,omitempty"`
}

// Listener receives registry events. Listeners run synchronously on the
// goroutine that made the change and must not call back into the registry's
// write methods.
type Listener func(Event)
