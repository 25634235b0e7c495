package discovery

import (
	"context"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"sync"
	"time"

	"golang.org/x/sync/errgroup"

	"github.com/nerrad567/hwreg/internal/blockdev"
	"github.com/nerrad567/hwreg/internal/device"
	"github.com/nerrad567/hwreg/internal/sysfs"
)

// Logger defines the logging interface used by the scanner.
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

// Registry is the subset of *device.Registry the scanner needs.
type Registry interface {
	Insert(ctx context.Context, d *device.Device) error
	FindByProperty(key string, value any) (*device.Device, bool)
	ListDevices(ctx context.Context) []device.Device
	DeleteDevice(ctx context.Context, id string) error
}

// Visitor is implemented by *blockdev.Visitor.
type Visitor interface {
	Visit(ctx context.Context, node blockdev.Node) (blockdev.Result, error)
}

// StatsSink receives the outcome of every completed scan.
type StatsSink interface {
	RecordScan(ctx context.Context, stats Stats, elapsed time.Duration) error
}

// Config contains scanner settings; it mirrors config.DiscoveryConfig.
type Config struct {
	SysfsRoot      string
	BusPrefix      string
	Workers        int
	RescanInterval time.Duration
}

// Scanner enumerates block nodes under a sysfs root.
type Scanner struct {
	registry Registry

	// scanVisitor is used during full scans, hotplugVisitor by Add; they
	// differ only in parent timeout.
	scanVisitor    Visitor
	hotplugVisitor Visitor

	root      string
	busPrefix string
	workers   int
	interval  time.Duration

	sink   StatsSink
	logger Logger

	// scanMu keeps scans from overlapping.
	scanMu sync.Mutex
}

// NewScanner creates a scanner. scan is used for full walks (typically the
// visitor configured with the probe timeout), hotplug for Add.
func NewScanner(registry Registry, scan, hotplug Visitor, cfg Config) *Scanner {
	root := cfg.SysfsRoot
	if resolved, err := filepath.EvalSymlinks(root); err == nil {
		root = resolved
	}
	workers := cfg.Workers
	if workers < 1 {
		workers = 1
	}
	prefix := cfg.BusPrefix
	if prefix == "" {
		prefix = "bus_"
	}
	return &Scanner{
		registry:       registry,
		scanVisitor:    scan,
		hotplugVisitor: hotplug,
		root:           root,
		busPrefix:      prefix,
		workers:        workers,
		interval:       cfg.RescanInterval,
		logger:         noopLogger{},
	}
}

// SetLogger sets the logger for the scanner.
func (s *Scanner) SetLogger(logger Logger) {
	s.logger = logger
}

// SetStatsSink sets where scan statistics are reported.
func (s *Scanner) SetStatsSink(sink StatsSink) {
	s.sink = sink
}

// Run scans once, then rescans every RescanInterval until ctx ends. With a
// zero interval it returns after the first scan.
func (s *Scanner) Run(ctx context.Context) error {
	if _, err := s.Scan(ctx); err != nil {
		return err
	}
	if s.interval <= 0 {
		return nil
	}

	ticker := time.NewTicker(s.interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return nil
		case <-ticker.C:
			if _, err := s.Scan(ctx); err != nil {
				if ctx.Err() != nil {
					return nil
				}
				s.logger.Error("rescan failed", "error", err)
			}
		}
	}
}

// Scan removes vanished records, then visits every block node.
func (s *Scanner) Scan(ctx context.Context) (Stats, error) {
	s.scanMu.Lock()
	defer s.scanMu.Unlock()

	start := time.Now()

	removed, err := s.removeVanished(ctx)
	if err != nil {
		return Stats{}, err
	}

	disks, err := s.listNodes()
	if err != nil {
		return Stats{}, err
	}

	var collector statsCollector
	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(s.workers)

	for _, disk := range disks {
		g.Go(func() error {
			for _, path := range append([]string{disk.path}, disk.partitions...) {
				res, err := s.visitPath(gctx, s.scanVisitor, path)
				if err != nil && gctx.Err() != nil {
					return gctx.Err()
				}
				if err != nil {
					s.logger.Error("visiting block node failed", "path", path, "error", err)
				}
				collector.record(res, err)
			}
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		return collector.snapshot(), fmt.Errorf("scanning %s: %w", s.root, err)
	}

	stats := collector.snapshot()
	stats.Removed = removed
	elapsed := time.Since(start)

	s.logger.Info("block scan complete",
		"visited", stats.Visited,
		"committed", stats.Committed,
		"rediscovered", stats.Rediscovered,
		"skipped", stats.Skipped,
		"discarded", stats.Discarded,
		"failed", stats.Failed,
		"removed", stats.Removed,
		"elapsed", elapsed,
	)

	if s.sink != nil {
		if err := s.sink.RecordScan(ctx, stats, elapsed); err != nil {
			s.logger.Warn("recording scan stats failed", "error", err)
		}
	}
	return stats, nil
}

// Add handles one hotplugged block node at path.
func (s *Scanner) Add(ctx context.Context, path string) (blockdev.Result, error) {
	return s.visitPath(ctx, s.hotplugVisitor, path)
}

// Remove deletes the record for path and any record below it.
func (s *Scanner) Remove(ctx context.Context, path string) (int, error) {
	path = filepath.Clean(path)
	var matched []device.Device
	for _, d := range s.registry.ListDevices(ctx) {
		p := d.SysfsPath()
		if p == path || strings.HasPrefix(p, path+"/") {
			matched = append(matched, d)
		}
	}
	return s.deleteAll(ctx, matched)
}

func (s *Scanner) visitPath(ctx context.Context, v Visitor, path string) (blockdev.Result, error) {
	attrs, err := sysfs.ReadAttributes(path)
	if err != nil {
		return blockdev.Result{}, err
	}

	node := blockdev.Node{Path: path, Attrs: attrs}
	if physical, ok := sysfs.ResolveLink(path, "device"); ok {
		node.PhysicalPath = physical
	}
	// Nodes the visitor will skip must not touch the registry.
	if _, _, err := blockdev.ParseDev(attrs); err != nil {
		return v.Visit(ctx, node)
	}
	if node.PhysicalPath != "" {
		if err := s.ensurePhysical(ctx, node.PhysicalPath); err != nil {
			return blockdev.Result{}, err
		}
	}
	return v.Visit(ctx, node)
}

// ensurePhysical registers a generic record for a physical device unless one
// already claims its path.
func (s *Scanner) ensurePhysical(ctx context.Context, path string) error {
	if _, ok := s.registry.FindByProperty(device.PropSysfsPathDevice, path); ok {
		return nil
	}

	bus := "unknown"
	if subsystem, ok := sysfs.ResolveLink(path, "subsystem"); ok {
		bus = sysfs.LastElement(subsystem)
	}

	rel := strings.TrimPrefix(path, s.root)
	d := &device.Device{ID: s.busPrefix + device.SanitizeID(rel)}
	d.SetProperty(device.PropBus, bus)
	d.SetProperty(device.PropCategory, bus)
	d.SetProperty(device.PropSysfsPath, path)
	d.SetProperty(device.PropSysfsPathDevice, path)
	d.SetProperty(device.PropProduct, sysfs.LastElement(path))

	err := s.registry.Insert(ctx, d)
	if errors.Is(err, device.ErrDeviceExists) {
		return nil
	}
	if err != nil {
		return fmt.Errorf("registering physical device %s: %w", path, err)
	}
	s.logger.Debug("physical device registered", "id", d.ID, "bus", bus, "path", path)
	return nil
}

type diskNode struct {
	path       string
	partitions []string
}

// listNodes returns the disk directories under <root>/block, each with the
// partition directories (subdirectories holding a dev file) below it.
func (s *Scanner) listNodes() ([]diskNode, error) {
	blockDir := filepath.Join(s.root, "block")
	entries, err := os.ReadDir(blockDir)
	if err != nil {
		return nil, fmt.Errorf("reading %s: %w", blockDir, err)
	}

	var disks []diskNode
	for _, e := range entries {
		disk := diskNode{path: filepath.Join(blockDir, e.Name())}
		if !isDir(disk.path) {
			continue
		}

		children, err := os.ReadDir(disk.path)
		if err != nil {
			s.logger.Warn("reading block node failed", "path", disk.path, "error", err)
			continue
		}
		for _, c := range children {
			if !c.IsDir() {
				continue
			}
			part := filepath.Join(disk.path, c.Name())
			if _, err := os.Stat(filepath.Join(part, "dev")); err == nil {
				disk.partitions = append(disk.partitions, part)
			}
		}
		disks = append(disks, disk)
	}
	return disks, nil
}

// removeVanished deletes records under the sysfs root whose path is gone.
func (s *Scanner) removeVanished(ctx context.Context) (int, error) {
	var gone []device.Device
	for _, d := range s.registry.ListDevices(ctx) {
		p := d.SysfsPath()
		if p == "" || !strings.HasPrefix(p, s.root+"/") {
			continue
		}
		if _, err := os.Lstat(p); errors.Is(err, os.ErrNotExist) {
			gone = append(gone, d)
		}
	}
	return s.deleteAll(ctx, gone)
}

// deleteAll removes devices deepest path first, so children go before
// their parents.
func (s *Scanner) deleteAll(ctx context.Context, devices []device.Device) (int, error) {
	sort.Slice(devices, func(i, j int) bool {
		return strings.Count(devices[i].SysfsPath(), "/") > strings.Count(devices[j].SysfsPath(), "/")
	})

	removed := 0
	for _, d := range devices {
		id := d.ID
		err := s.registry.DeleteDevice(ctx, id)
		if errors.Is(err, device.ErrDeviceNotFound) {
			continue
		}
		if err != nil {
			return removed, fmt.Errorf("removing %s: %w", id, err)
		}
		s.logger.Info("device removed", "id", id)
		removed++
	}
	return removed, nil
}

func isDir(path string) bool {
	fi, err := os.Stat(path)
	return err == nil && fi.IsDir()
}
