package influxdb

import (
	"context"
	"time"

	"github.com/influxdata/influxdb-client-go/v2/api/write"

	"github.com/nerrad567/hwreg/internal/device"
	"github.com/nerrad567/hwreg/internal/discovery"
)

const (
	measurementScan      = "block_scan"
	measurementInventory = "block_inventory"
)

// RecordScan implements discovery.StatsSink. The write is queued; errors
// surface through SetOnError.
func (c *Client) RecordScan(_ context.Context, stats discovery.Stats, elapsed time.Duration) error {
	if !c.IsConnected() {
		return ErrNotConnected
	}
	c.writeAPI.WritePoint(scanPoint(stats, elapsed, time.Now()))
	return nil
}

// RecordInventory writes the number of records per bus and category.
func (c *Client) RecordInventory(devices []device.Device) {
	if !c.IsConnected() {
		return
	}
	for _, p := range inventoryPoints(devices, time.Now()) {
		c.writeAPI.WritePoint(p)
	}
}

func scanPoint(stats discovery.Stats, elapsed time.Duration, ts time.Time) *write.Point {
	return write.NewPoint(
		measurementScan,
		nil,
		map[string]any{
			"visited":      stats.Visited,
			"committed":    stats.Committed,
			"rediscovered": stats.Rediscovered,
			"skipped":      stats.Skipped,
			"discarded":    stats.Discarded,
			"failed":       stats.Failed,
			"removed":      stats.Removed,
			"elapsed_ms":   elapsed.Milliseconds(),
		},
		ts,
	)
}

type inventoryKey struct {
	bus      string
	category string
}

func inventoryPoints(devices []device.Device, ts time.Time) []*write.Point {
	counts := make(map[inventoryKey]int)
	var order []inventoryKey
	for _, d := range devices {
		k := inventoryKey{bus: d.Bus, category: d.Category}
		if _, seen := counts[k]; !seen {
			order = append(order, k)
		}
		counts[k]++
	}

	points := make([]*write.Point, 0, len(order))
	for _, k := range order {
		points = append(points, write.NewPoint(
			measurementInventory,
			map[string]string{"bus": k.bus, "category": k.category},
			map[string]any{"count": counts[k]},
			ts,
		))
	}
	return points
}
