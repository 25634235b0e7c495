package api

import (
	"context"
	"encoding/json"
	"errors"
	"io"
	"net/http"
	"net/http/httptest"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/gorilla/websocket"

	"github.com/nerrad567/hwreg/internal/audit"
	"github.com/nerrad567/hwreg/internal/device"
	"github.com/nerrad567/hwreg/internal/discovery"
	"github.com/nerrad567/hwreg/internal/infrastructure/config"
	"github.com/nerrad567/hwreg/internal/infrastructure/database"
	"github.com/nerrad567/hwreg/internal/infrastructure/logging"
	"github.com/nerrad567/hwreg/migrations"
)

// testServer creates a Server over a registry backed by a temporary SQLite
// database.
func testServer(t *testing.T, checks map[string]HealthChecker) (*Server, *device.Registry) {
	t.Helper()
	ctx := context.Background()

	db, err := database.Open(ctx, database.Config{Path: filepath.Join(t.TempDir(), "api.db"), BusyTimeout: 1})
	if err != nil {
		t.Fatalf("Open: %v", err)
	}
	t.Cleanup(func() { db.Close() }) //nolint:errcheck // Test cleanup
	if err := db.Migrate(ctx, migrations.FS); err != nil {
		t.Fatalf("Migrate: %v", err)
	}

	registry := device.NewRegistry(device.NewSQLiteRepository(db.DB))
	auditRepo := audit.NewSQLiteRepository(db.DB)
	registry.Subscribe(audit.NewRecorder(auditRepo).HandleEvent)
	if err := registry.RefreshCache(ctx); err != nil {
		t.Fatalf("RefreshCache: %v", err)
	}

	log := logging.NewWithWriter(config.LoggingConfig{Level: "error", Format: "text"}, "test", io.Discard)

	srv, err := New(Deps{
		Config: config.APIConfig{
			Host:     "127.0.0.1",
			Timeouts: config.APITimeoutConfig{Read: 5, Write: 5, Idle: 5},
		},
		WS: config.WebSocketConfig{
			MaxMessageSize: 8192,
			PingInterval:   30,
			PongTimeout:    10,
		},
		Logger:   log,
		Registry: registry,
		Audit:    auditRepo,
		Checks:   checks,
		Version:  "test",
	})
	if err != nil {
		t.Fatalf("New() error: %v", err)
	}

	hubCtx, cancel := context.WithCancel(context.Background())
	t.Cleanup(cancel)
	go srv.hub.Run(hubCtx)

	return srv, registry
}

func seed(t *testing.T, registry *device.Registry) {
	t.Helper()
	ctx := context.Background()

	bus := &device.Device{ID: "bus_usb1", Capabilities: []string{}}
	bus.SetProperty(device.PropBus, "usb")
	bus.SetProperty(device.PropCategory, "usb")

	disk := &device.Device{ID: "block_8_0", Capabilities: []string{"block", "fixedMedia", "fixedMedia.flash"}}
	disk.SetProperty(device.PropBus, device.BusBlock)
	disk.SetProperty(device.PropCategory, "fixedMedia.flash")
	disk.SetProperty(device.PropParent, "bus_usb1")
	disk.SetProperty(device.PropSysfsPath, "/sys/block/sda")
	disk.SetProperty(device.PropBlockMajor, 8)

	vol := &device.Device{ID: "block_8_1", Capabilities: []string{"block", "volume"}}
	vol.SetProperty(device.PropBus, device.BusBlock)
	vol.SetProperty(device.PropCategory, "volume")
	vol.SetProperty(device.PropParent, "block_8_0")
	vol.SetProperty(device.PropSysfsPath, "/sys/block/sda/sda1")

	for _, d := range []*device.Device{bus, disk, vol} {
		if err := registry.Insert(ctx, d); err != nil {
			t.Fatalf("Insert(%s): %v", d.ID, err)
		}
	}
}

func doGet(t *testing.T, srv *Server, path string) *httptest.ResponseRecorder {
	t.Helper()
	req := httptest.NewRequest(http.MethodGet, path, nil)
	rec := httptest.NewRecorder()
	srv.buildRouter().ServeHTTP(rec, req)
	return rec
}

type listResponse struct {
	Devices []device.Device `json:"devices"`
	Count   int             `json:"count"`
}

func TestListDevices_Filters(t *testing.T) {
	srv, registry := testServer(t, nil)
	seed(t, registry)

	tests := []struct {
		query string
		want  []string
	}{
		{"", []string{"block_8_0", "block_8_1", "bus_usb1"}},
		{"?bus=block", []string{"block_8_0", "block_8_1"}},
		{"?category=volume", []string{"block_8_1"}},
		{"?capability=fixedMedia.flash", []string{"block_8_0"}},
		{"?parent=bus_usb1", []string{"block_8_0"}},
		{"?bus=block&capability=volume", []string{"block_8_1"}},
		{"?bus=scsi", []string{}},
	}

	for _, tt := range tests {
		t.Run(tt.query, func(t *testing.T) {
			rec := doGet(t, srv, "/api/v1/devices"+tt.query)
			if rec.Code != http.StatusOK {
				t.Fatalf("status = %d, want 200", rec.Code)
			}

			var resp listResponse
			if err := json.Unmarshal(rec.Body.Bytes(), &resp); err != nil {
				t.Fatalf("decode: %v", err)
			}
			if resp.Count != len(tt.want) {
				t.Fatalf("count = %d, want %d", resp.Count, len(tt.want))
			}
			for i, id := range tt.want {
				if resp.Devices[i].ID != id {
					t.Errorf("devices[%d] = %s, want %s", i, resp.Devices[i].ID, id)
				}
			}
		})
	}
}

func TestGetDevice(t *testing.T) {
	srv, registry := testServer(t, nil)
	seed(t, registry)

	rec := doGet(t, srv, "/api/v1/devices/block_8_1")
	if rec.Code != http.StatusOK {
		t.Fatalf("status = %d, want 200", rec.Code)
	}
	var got device.Device
	if err := json.Unmarshal(rec.Body.Bytes(), &got); err != nil {
		t.Fatalf("decode: %v", err)
	}
	if got.ParentID != "block_8_0" || got.Category != "volume" {
		t.Errorf("got parent %q category %q", got.ParentID, got.Category)
	}

	rec = doGet(t, srv, "/api/v1/devices/block_9_9")
	if rec.Code != http.StatusNotFound {
		t.Fatalf("status = %d, want 404", rec.Code)
	}
	var apiErr Error
	if err := json.Unmarshal(rec.Body.Bytes(), &apiErr); err != nil {
		t.Fatalf("decode: %v", err)
	}
	if apiErr.Code != ErrCodeNotFound {
		t.Errorf("code = %q, want %q", apiErr.Code, ErrCodeNotFound)
	}
}

func TestGetProperty(t *testing.T) {
	srv, registry := testServer(t, nil)
	seed(t, registry)

	rec := doGet(t, srv, "/api/v1/devices/block_8_0/properties/block.major")
	if rec.Code != http.StatusOK {
		t.Fatalf("status = %d, want 200", rec.Code)
	}
	var body map[string]any
	if err := json.Unmarshal(rec.Body.Bytes(), &body); err != nil {
		t.Fatalf("decode: %v", err)
	}
	if body["value"] != float64(8) || body["key"] != "block.major" {
		t.Errorf("body = %v", body)
	}

	for _, path := range []string{
		"/api/v1/devices/block_8_0/properties/block.model",
		"/api/v1/devices/block_9_9/properties/block.major",
	} {
		if rec := doGet(t, srv, path); rec.Code != http.StatusNotFound {
			t.Errorf("GET %s status = %d, want 404", path, rec.Code)
		}
	}
}

func TestRoutes_ReadOnly(t *testing.T) {
	srv, _ := testServer(t, nil)

	req := httptest.NewRequest(http.MethodDelete, "/api/v1/devices/block_8_0", nil)
	rec := httptest.NewRecorder()
	srv.buildRouter().ServeHTTP(rec, req)
	if rec.Code != http.StatusMethodNotAllowed {
		t.Errorf("DELETE status = %d, want 405", rec.Code)
	}

	if rec := doGet(t, srv, "/api/v1/nothing"); rec.Code != http.StatusNotFound {
		t.Errorf("unknown route status = %d, want 404", rec.Code)
	}
}

func TestRequestID(t *testing.T) {
	srv, _ := testServer(t, nil)

	rec := doGet(t, srv, "/api/v1/health")
	if rec.Header().Get("X-Request-ID") == "" {
		t.Error("expected a generated X-Request-ID")
	}

	req := httptest.NewRequest(http.MethodGet, "/api/v1/health", nil)
	req.Header.Set("X-Request-ID", "abc123")
	rec = httptest.NewRecorder()
	srv.buildRouter().ServeHTTP(rec, req)
	if got := rec.Header().Get("X-Request-ID"); got != "abc123" {
		t.Errorf("X-Request-ID = %q, want abc123", got)
	}
}

type checkFunc func(ctx context.Context) error

func (f checkFunc) HealthCheck(ctx context.Context) error { return f(ctx) }

func TestHealth(t *testing.T) {
	healthy := checkFunc(func(context.Context) error { return nil })
	broken := checkFunc(func(context.Context) error { return errors.New("not connected") })

	srv, registry := testServer(t, map[string]HealthChecker{"database": healthy})
	seed(t, registry)

	rec := doGet(t, srv, "/api/v1/health")
	if rec.Code != http.StatusOK {
		t.Fatalf("status = %d, want 200", rec.Code)
	}
	var body map[string]any
	if err := json.Unmarshal(rec.Body.Bytes(), &body); err != nil {
		t.Fatalf("decode: %v", err)
	}
	if body["status"] != "ok" || body["devices"] != float64(3) || body["version"] != "test" {
		t.Errorf("body = %v", body)
	}

	srv, _ = testServer(t, map[string]HealthChecker{"database": healthy, "mqtt": broken})
	rec = doGet(t, srv, "/api/v1/health")
	if rec.Code != http.StatusServiceUnavailable {
		t.Fatalf("status = %d, want 503", rec.Code)
	}
	if !strings.Contains(rec.Body.String(), "not connected") {
		t.Errorf("body %s does not name the failing component", rec.Body.String())
	}
}

func TestLastScan(t *testing.T) {
	srv, _ := testServer(t, nil)

	if rec := doGet(t, srv, "/api/v1/scan"); rec.Code != http.StatusNotFound {
		t.Fatalf("status before first scan = %d, want 404", rec.Code)
	}

	var sink discovery.StatsSink = srv
	if err := sink.RecordScan(context.Background(), discovery.Stats{Visited: 6, Committed: 4}, 2*time.Second); err != nil {
		t.Fatalf("RecordScan: %v", err)
	}

	rec := doGet(t, srv, "/api/v1/scan")
	if rec.Code != http.StatusOK {
		t.Fatalf("status = %d, want 200", rec.Code)
	}
	var got scanReport
	if err := json.Unmarshal(rec.Body.Bytes(), &got); err != nil {
		t.Fatalf("decode: %v", err)
	}
	if got.Visited != 6 || got.Committed != 4 || got.ElapsedMS != 2000 {
		t.Errorf("report = %+v", got)
	}
}

func TestWebSocket_RequiresUpgrade(t *testing.T) {
	srv, _ := testServer(t, nil)

	if rec := doGet(t, srv, "/api/v1/ws"); rec.Code != http.StatusBadRequest {
		t.Errorf("status = %d, want 400", rec.Code)
	}
}

func dialWS(t *testing.T, srv *Server, query string) *websocket.Conn {
	t.Helper()
	ts := httptest.NewServer(srv.buildRouter())
	t.Cleanup(ts.Close)

	url := "ws" + strings.TrimPrefix(ts.URL, "http") + "/api/v1/ws" + query
	conn, resp, err := websocket.DefaultDialer.Dial(url, nil)
	if err != nil {
		t.Fatalf("Dial: %v", err)
	}
	resp.Body.Close()
	t.Cleanup(func() { conn.Close() })

	deadline := time.Now().Add(2 * time.Second)
	for srv.hub.ClientCount() == 0 {
		if time.Now().After(deadline) {
			t.Fatal("client never registered")
		}
		time.Sleep(5 * time.Millisecond)
	}
	return conn
}

func readMessage(t *testing.T, conn *websocket.Conn) WSMessage {
	t.Helper()
	//nolint:errcheck // Test deadline
	conn.SetReadDeadline(time.Now().Add(2 * time.Second))
	var msg WSMessage
	if err := conn.ReadJSON(&msg); err != nil {
		t.Fatalf("ReadJSON: %v", err)
	}
	return msg
}

func TestWebSocket_RelaysRegistryEvents(t *testing.T) {
	srv, registry := testServer(t, nil)
	conn := dialWS(t, srv, "?channels=device.added,device.removed")

	d := &device.Device{ID: "block_3_0", Capabilities: []string{"block"}}
	d.SetProperty(device.PropBus, device.BusBlock)
	if err := registry.Insert(context.Background(), d); err != nil {
		t.Fatalf("Insert: %v", err)
	}

	msg := readMessage(t, conn)
	if msg.Type != WSTypeEvent || msg.EventType != ChannelDeviceAdded {
		t.Fatalf("got %+v, want device.added event", msg)
	}
	payload, _ := msg.Payload.(map[string]any)
	if payload["id"] != "block_3_0" {
		t.Errorf("payload id = %v", payload["id"])
	}

	// device.changed is not subscribed, so the next message is the removal.
	if err := registry.SetProperty(context.Background(), "block_3_0", device.PropBlockSize, 100); err != nil {
		t.Fatalf("SetProperty: %v", err)
	}
	if err := registry.DeleteDevice(context.Background(), "block_3_0"); err != nil {
		t.Fatalf("DeleteDevice: %v", err)
	}
	if msg := readMessage(t, conn); msg.EventType != ChannelDeviceRemoved {
		t.Errorf("event = %q, want %q", msg.EventType, ChannelDeviceRemoved)
	}
}

func TestWebSocket_SubscribeAndPing(t *testing.T) {
	srv, _ := testServer(t, nil)
	conn := dialWS(t, srv, "")

	if err := conn.WriteJSON(WSMessage{Type: WSTypeSubscribe, ID: "1", Payload: WSSubscribePayload{Channels: []string{ChannelScanCompleted}}}); err != nil {
		t.Fatalf("WriteJSON: %v", err)
	}
	if msg := readMessage(t, conn); msg.Type != WSTypeResponse || msg.ID != "1" {
		t.Fatalf("got %+v, want subscribe response", msg)
	}

	if err := srv.RecordScan(context.Background(), discovery.Stats{Visited: 1}, time.Millisecond); err != nil {
		t.Fatalf("RecordScan: %v", err)
	}
	if msg := readMessage(t, conn); msg.EventType != ChannelScanCompleted {
		t.Errorf("event = %q, want %q", msg.EventType, ChannelScanCompleted)
	}

	if err := conn.WriteJSON(WSMessage{Type: WSTypePing, ID: "2"}); err != nil {
		t.Fatalf("WriteJSON: %v", err)
	}
	if msg := readMessage(t, conn); msg.Type != WSTypePong || msg.ID != "2" {
		t.Errorf("got %+v, want pong", msg)
	}

	if err := conn.WriteMessage(websocket.TextMessage, []byte("{not json")); err != nil {
		t.Fatalf("WriteMessage: %v", err)
	}
	if msg := readMessage(t, conn); msg.Type != WSTypeError {
		t.Errorf("got %+v, want error", msg)
	}
}

func TestListAudit(t *testing.T) {
	srv, registry := testServer(t, nil)
	seed(t, registry)

	rec := doGet(t, srv, "/api/v1/audit?device_id=block_8_1")
	if rec.Code != http.StatusOK {
		t.Fatalf("status = %d, want 200", rec.Code)
	}
	var got audit.ListResult
	if err := json.Unmarshal(rec.Body.Bytes(), &got); err != nil {
		t.Fatalf("decode: %v", err)
	}
	if got.Total != 1 || got.Entries[0].Action != "added" {
		t.Errorf("result = %+v", got)
	}

	rec = doGet(t, srv, "/api/v1/audit?limit=2")
	if err := json.Unmarshal(rec.Body.Bytes(), &got); err != nil {
		t.Fatalf("decode: %v", err)
	}
	if got.Total != 3 || len(got.Entries) != 2 {
		t.Errorf("total = %d entries = %d, want 3 and 2", got.Total, len(got.Entries))
	}

	for _, q := range []string{"?limit=abc", "?offset=-1"} {
		if rec := doGet(t, srv, "/api/v1/audit"+q); rec.Code != http.StatusBadRequest {
			t.Errorf("GET /audit%s status = %d, want 400", q, rec.Code)
		}
	}
}

func TestListAudit_Disabled(t *testing.T) {
	srv, _ := testServer(t, nil)
	srv.audit = nil

	if rec := doGet(t, srv, "/api/v1/audit"); rec.Code != http.StatusNotFound {
		t.Errorf("status = %d, want 404", rec.Code)
	}
}
