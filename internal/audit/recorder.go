package audit

import (
	"context"
	"time"

	"github.com/nerrad567/hwreg/internal/device"
)

const writeTimeout = 5 * time.Second

// Logger defines the logging interface used by the recorder.
type Logger interface {
	Warn(msg string, args ...any)
}

type noopLogger struct{}

func (noopLogger) Warn(string, ...any) {}

// Recorder turns registry events into entries.
type Recorder struct {
	repo   Repository
	logger Logger
}

// NewRecorder creates a recorder. Register it with
// registry.Subscribe(rec.HandleEvent).
func NewRecorder(repo Repository) *Recorder {
	return &Recorder{repo: repo, logger: noopLogger{}}
}

// SetLogger sets the logger for failed writes.
func (r *Recorder) SetLogger(logger Logger) {
	r.logger = logger
}

// HandleEvent writes one entry. Failures are logged, never returned to
// the registry.
func (r *Recorder) HandleEvent(e device.Event) {
	if e.Device == nil {
		return
	}

	entry := &Entry{
		Action:   string(e.Type),
		DeviceID: e.Device.ID,
		Bus:      e.Device.Bus,
		Property: e.Key,
	}
	switch e.Type {
	case device.EventAdded, device.EventRemoved:
		entry.Details = map[string]any{
			"category":   e.Device.Category,
			"parent":     e.Device.ParentID,
			"sysfs_path": e.Device.SysfsPath(),
		}
	case device.EventPropertyChanged:
		if v, ok := e.Device.Property(e.Key); ok {
			entry.Details = map[string]any{"value": v}
		}
	}

	ctx, cancel := context.WithTimeout(context.Background(), writeTimeout)
	defer cancel()
	if err := r.repo.Create(ctx, entry); err != nil {
		r.logger.Warn("recording audit entry failed", "device_id", entry.DeviceID, "action", entry.Action, "error", err)
	}
}
