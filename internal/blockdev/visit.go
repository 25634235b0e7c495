package blockdev

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/nerrad567/hwreg/internal/device"
)

// DefaultParentTimeout bounds the wait for a parent to be registered.
const DefaultParentTimeout = 60 * time.Second

// Config configures a Visitor.
type Config struct {
	Prefix        string
	ParentTimeout time.Duration
	IDEModelPath  string
	IDEMediaPath  string
}

// Visitor is the per-node entry point: resolve the parent, classify, and
// commit.
type Visitor struct {
	registry   Registry
	resolver   ParentResolver
	classifier *Classifier
	allocator  *Allocator
	timeout    time.Duration
	logger     Logger
}

// NewVisitor wires a visitor from its collaborators.
func NewVisitor(registry Registry, resolver ParentResolver, lines LineReader, cfg Config) *Visitor {
	return &Visitor{
		registry:   registry,
		resolver:   resolver,
		classifier: NewClassifier(lines, cfg.IDEModelPath, cfg.IDEMediaPath),
		allocator:  NewAllocator(registry, cfg.Prefix),
		timeout:    cfg.ParentTimeout,
		logger:     noopLogger{},
	}
}

// SetLogger sets the logger for the visitor and its allocator.
func (v *Visitor) SetLogger(logger Logger) {
	v.logger = logger
	v.allocator.SetLogger(logger)
}

// WithParentTimeout returns a visitor that shares v's allocator but waits
// d for parents. Coldplug scans use it with the probe timeout.
func (v *Visitor) WithParentTimeout(d time.Duration) *Visitor {
	cpy := *v
	cpy.timeout = d
	return &cpy
}

// Visit processes one node. Skipped and discarded nodes are outcomes, not
// errors, and leave the registry untouched; an error means the registry
// failed or ctx was cancelled.
func (v *Visitor) Visit(ctx context.Context, node Node) (Result, error) {
	if _, _, err := ParseDev(node.Attrs); err != nil {
		v.logger.Debug("skipping block node", "path", node.Path, "reason", err,
			"is_volume", !node.Attrs.Has("range"))
		return Result{Outcome: OutcomeSkipped}, nil
	}

	lookup := node.ParentLookupPath()
	parentID, err := v.resolver.Resolve(ctx, lookup, v.timeout)
	if errors.Is(err, ErrParentNotFound) {
		v.logger.Info("no parent for block node, discarded", "path", node.Path, "parent_path", lookup)
		return Result{Outcome: OutcomeDiscarded}, nil
	}
	if err != nil {
		return Result{}, fmt.Errorf("resolving parent of %s: %w", node.Path, err)
	}

	parentBus := ""
	if bus, err := v.registry.GetProperty(ctx, parentID, device.PropBus); err == nil {
		parentBus, _ = bus.(string)
	}

	draft, outcome := v.classifier.Classify(node, parentID, parentBus)
	if outcome == OutcomeSkipped {
		return Result{Outcome: OutcomeSkipped}, nil
	}

	if draft.Kind == KindVolume {
		physical, err := v.registry.PhysicalDevice(ctx, parentID)
		if err != nil {
			v.logger.Warn("no physical device for volume", "path", node.Path, "parent", parentID, "error", err)
		} else {
			draft.set(device.PropPhysicalDevice, physical)
		}
	}

	alloc, err := v.allocator.Allocate(ctx, draft)
	if err != nil {
		return Result{}, fmt.Errorf("committing %s: %w", node.Path, err)
	}

	rec, err := v.registry.GetDevice(ctx, alloc.ID)
	if err != nil {
		return Result{}, fmt.Errorf("reading back %s: %w", alloc.ID, err)
	}

	v.logger.Debug("block node committed", "path", node.Path, "id", alloc.ID,
		"kind", draft.Kind.String(), "category", draft.Category, "rediscovered", alloc.Rediscovered)
	return Result{Outcome: OutcomeCommitted, Device: rec, Rediscovered: alloc.Rediscovered}, nil
}
