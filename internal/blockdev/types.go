package blockdev

import (
	"context"
	"time"

	"github.com/nerrad567/hwreg/internal/device"
	"github.com/nerrad567/hwreg/internal/sysfs"
)

// Logger defines the logging interface used by this package.
type Logger interface {
	Debug(msg string, args ...any)
	Info(msg string, args ...any)
	Warn(msg string, args ...any)
	Error(msg string, args ...any)
}

type noopLogger struct{}

func (noopLogger) Debug(string, ...any) {}
func (noopLogger) Info(string, ...any)  {}
func (noopLogger) Warn(string, ...any)  {}
func (noopLogger) Error(string, ...any) {}

// Registry is the subset of *device.Registry used to commit records.
type Registry interface {
	Exists(ctx context.Context, id string) bool
	Insert(ctx context.Context, d *device.Device) error
	GetProperty(ctx context.Context, id, key string) (any, error)
	SetProperty(ctx context.Context, id, key string, value any) error
	GetDevice(ctx context.Context, id string) (*device.Device, error)
	PhysicalDevice(ctx context.Context, parentID string) (string, error)
}

// ParentResolver maps a sysfs path to the ID of the registered device that
// claims it, waiting up to timeout. It returns ErrParentNotFound when the
// deadline passes.
type ParentResolver interface {
	Resolve(ctx context.Context, path string, timeout time.Duration) (string, error)
}

// LineReader reads the first line of a side-channel file. It reports false
// for missing files.
type LineReader interface {
	ReadSingleLine(format string, args ...any) (string, bool)
}

// Node is one block node found by the tree walk.
type Node struct {
	// Path is the node's sysfs directory.
	Path  string
	Attrs sysfs.AttributeSet

	// PhysicalPath is the resolved target of the node's device link, empty
	// when it has none (partitions).
	PhysicalPath string
}

// HasPhysicalLink reports whether the node points at a physical device.
func (n Node) HasPhysicalLink() bool {
	return n.PhysicalPath != ""
}

// ParentLookupPath is the path the parent must have registered as its
// Linux.sysfs_path_device.
func (n Node) ParentLookupPath() string {
	if n.HasPhysicalLink() {
		return n.PhysicalPath
	}
	return sysfs.ParentPath(n.Path)
}

// Outcome is the terminal (or intermediate) state of one node.
type Outcome int

const (
	// OutcomeSkipped: the node has no usable dev attribute.
	OutcomeSkipped Outcome = iota
	// OutcomeClassified: a draft was produced but not yet committed.
	OutcomeClassified
	// OutcomeDiscarded: the parent was not registered in time.
	OutcomeDiscarded
	// OutcomeCommitted: the record is in the registry.
	OutcomeCommitted
)

func (o Outcome) String() string {
	switch o {
	case OutcomeSkipped:
		return "skipped"
	case OutcomeClassified:
		return "classified"
	case OutcomeDiscarded:
		return "discarded"
	case OutcomeCommitted:
		return "committed"
	default:
		return "unknown"
	}
}

// Result is what Visit reports for one node.
type Result struct {
	Outcome Outcome

	// Device is the committed record (or the merged existing record when
	// Rediscovered is set). Nil unless Outcome is OutcomeCommitted.
	Device       *device.Device
	Rediscovered bool
}
