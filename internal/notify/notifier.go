package notify

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"path/filepath"
	"time"

	"github.com/nerrad567/hwreg/internal/device"
	"github.com/nerrad567/hwreg/internal/discovery"
	"github.com/nerrad567/hwreg/internal/infrastructure/mqtt"
)

const (
	defaultQueueSize = 256
	hotplugQueueSize = 64
)

// Hotplug actions.
const (
	HotplugActionAdd    = "add"
	HotplugActionRemove = "remove"
)

// ErrInvalidCommand is returned for hotplug payloads that cannot be acted on.
var ErrInvalidCommand = errors.New("invalid hotplug command")

// Publisher is implemented by *mqtt.Client.
type Publisher interface {
	Publish(topic string, payload []byte, qos byte, retained bool) error
	QoS() byte
}

// Logger defines the logging interface used by the notifier.
type Logger interface {
	Debug(msg string, args ...any)
	Warn(msg string, args ...any)
}

type noopLogger struct{}

func (noopLogger) Debug(string, ...any) {}
func (noopLogger) Warn(string, ...any)  {}

// DeviceMessage is the payload of the added and removed topics.
type DeviceMessage struct {
	ID        string `json:"id"`
	Bus       string `json:"bus"`
	Category  string `json:"category"`
	ParentID  string `json:"parent_id,omitempty"`
	Timestamp string `json:"timestamp"`
}

// ScanMessage is the payload of the scan result topic.
type ScanMessage struct {
	discovery.Stats
	ElapsedMS int64  `json:"elapsed_ms"`
	Timestamp string `json:"timestamp"`
}

// HotplugRequest is the payload of the hotplug command topic.
type HotplugRequest struct {
	Action string `json:"action"`
	Path   string `json:"path"`
}

// MQTTNotifier publishes registry events and scan results.
type MQTTNotifier struct {
	pub     Publisher
	topics  mqtt.Topics
	queue   chan device.Event
	rescans chan struct{}
	hotplug chan HotplugRequest
	logger  Logger
	now     func() time.Time
}

// NewMQTTNotifier creates a notifier. Register it with
// registry.Subscribe(n.HandleEvent) and start Run.
func NewMQTTNotifier(pub Publisher) *MQTTNotifier {
	return &MQTTNotifier{
		pub:     pub,
		queue:   make(chan device.Event, defaultQueueSize),
		rescans: make(chan struct{}, 1),
		hotplug: make(chan HotplugRequest, hotplugQueueSize),
		logger:  noopLogger{},
		now:     time.Now,
	}
}

// SetLogger sets the logger for the notifier.
func (n *MQTTNotifier) SetLogger(logger Logger) {
	n.logger = logger
}

// HandleEvent queues e for publication. It never blocks; when the queue is
// full the event is dropped with a warning.
func (n *MQTTNotifier) HandleEvent(e device.Event) {
	select {
	case n.queue <- e:
	default:
		id := ""
		if e.Device != nil {
			id = e.Device.ID
		}
		n.logger.Warn("notification queue full, event dropped", "type", e.Type, "id", id)
	}
}

// Run publishes queued events until ctx is cancelled.
func (n *MQTTNotifier) Run(ctx context.Context) {
	for {
		select {
		case <-ctx.Done():
			return
		case e := <-n.queue:
			if err := n.publishEvent(e); err != nil {
				n.logger.Warn("publishing device event failed", "type", e.Type, "error", err)
			}
		}
	}
}

func (n *MQTTNotifier) publishEvent(e device.Event) error {
	if e.Device == nil {
		return nil
	}
	d := e.Device
	qos := n.pub.QoS()

	switch e.Type {
	case device.EventAdded:
		if err := n.publishJSON(n.topics.DeviceAdded(), n.deviceMessage(d), qos, false); err != nil {
			return err
		}
		return n.publishJSON(n.topics.DeviceState(d.ID), d, qos, true)

	case device.EventPropertyChanged:
		return n.publishJSON(n.topics.DeviceState(d.ID), d, qos, true)

	case device.EventRemoved:
		if err := n.publishJSON(n.topics.DeviceRemoved(), n.deviceMessage(d), qos, false); err != nil {
			return err
		}
		// An empty retained payload deletes the retained message.
		return n.pub.Publish(n.topics.DeviceState(d.ID), nil, qos, true)
	}

	n.logger.Debug("ignoring unknown event type", "type", e.Type)
	return nil
}

func (n *MQTTNotifier) deviceMessage(d *device.Device) DeviceMessage {
	return DeviceMessage{
		ID:        d.ID,
		Bus:       d.Bus,
		Category:  d.Category,
		ParentID:  d.ParentID,
		Timestamp: n.now().UTC().Format(time.RFC3339),
	}
}

func (n *MQTTNotifier) publishJSON(topic string, v any, qos byte, retained bool) error {
	payload, err := json.Marshal(v)
	if err != nil {
		return fmt.Errorf("marshalling %s: %w", topic, err)
	}
	if err := n.pub.Publish(topic, payload, qos, retained); err != nil {
		return fmt.Errorf("publishing %s: %w", topic, err)
	}
	return nil
}

// RecordScan implements discovery.StatsSink.
func (n *MQTTNotifier) RecordScan(_ context.Context, stats discovery.Stats, elapsed time.Duration) error {
	return n.publishJSON(n.topics.ScanResult(), ScanMessage{
		Stats:     stats,
		ElapsedMS: elapsed.Milliseconds(),
		Timestamp: n.now().UTC().Format(time.RFC3339),
	}, n.pub.QoS(), false)
}

// HandleRescan is an mqtt.MessageHandler for the rescan command topic.
// Requests arriving while one is already pending are coalesced.
func (n *MQTTNotifier) HandleRescan(_ string, _ []byte) error {
	select {
	case n.rescans <- struct{}{}:
	default:
	}
	return nil
}

// Rescans delivers one value per (coalesced) rescan request.
func (n *MQTTNotifier) Rescans() <-chan struct{} {
	return n.rescans
}

// HandleHotplug is an mqtt.MessageHandler for the hotplug command topic.
// The payload is a JSON HotplugRequest with an absolute sysfs path.
func (n *MQTTNotifier) HandleHotplug(_ string, payload []byte) error {
	var req HotplugRequest
	if err := json.Unmarshal(payload, &req); err != nil {
		return fmt.Errorf("%w: %w", ErrInvalidCommand, err)
	}
	if req.Action != HotplugActionAdd && req.Action != HotplugActionRemove {
		return fmt.Errorf("%w: unknown action %q", ErrInvalidCommand, req.Action)
	}
	if !filepath.IsAbs(req.Path) {
		return fmt.Errorf("%w: path %q is not absolute", ErrInvalidCommand, req.Path)
	}
	req.Path = filepath.Clean(req.Path)

	select {
	case n.hotplug <- req:
		return nil
	default:
		n.logger.Warn("hotplug queue full, dropping request", "action", req.Action, "path", req.Path)
		return errors.New("hotplug queue full")
	}
}

// Hotplugs delivers validated hotplug requests in arrival order.
func (n *MQTTNotifier) Hotplugs() <-chan HotplugRequest {
	return n.hotplug
}
