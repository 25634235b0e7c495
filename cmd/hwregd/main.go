// hwregd keeps a registry of the machine's block devices.
//
// It walks sysfs, classifies every disk and partition, records them in a
// SQLite-backed registry and publishes changes over MQTT, a read-only HTTP
// API and a WebSocket event stream.
package main

import (
	"context"
	"errors"
	"fmt"
	"os"
	"os/signal"
	"sync"
	"syscall"
	"time"

	"golang.org/x/sync/errgroup"

	"github.com/nerrad567/hwreg/internal/api"
	"github.com/nerrad567/hwreg/internal/audit"
	"github.com/nerrad567/hwreg/internal/blockdev"
	"github.com/nerrad567/hwreg/internal/device"
	"github.com/nerrad567/hwreg/internal/discovery"
	"github.com/nerrad567/hwreg/internal/infrastructure/config"
	"github.com/nerrad567/hwreg/internal/infrastructure/database"
	"github.com/nerrad567/hwreg/internal/infrastructure/influxdb"
	"github.com/nerrad567/hwreg/internal/infrastructure/logging"
	"github.com/nerrad567/hwreg/internal/infrastructure/mqtt"
	"github.com/nerrad567/hwreg/internal/notify"
	"github.com/nerrad567/hwreg/internal/sysfs"
	"github.com/nerrad567/hwreg/migrations"
)

// Set at build time via -ldflags "-X main.version=...".
var (
	version = "dev"
	commit  = "unknown"
	date    = "unknown"
)

const defaultConfigPath = "configs/config.yaml"

func main() {
	ctx, cancel := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer cancel()

	if err := run(ctx); err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		os.Exit(1)
	}
}

func run(ctx context.Context) error { //nolint:gocognit,gocyclo // startup sequence reads top to bottom
	log := logging.Default()
	log.Info("starting hwregd", "version", version, "commit", commit, "build_date", date)

	cfg, configPath, err := loadConfig()
	if err != nil {
		return fmt.Errorf("loading config: %w", err)
	}
	log = logging.New(cfg.Logging, version)
	log.Info("configuration loaded", "path", configPath, "sysfs_root", cfg.Discovery.SysfsRoot)

	db, err := database.Open(ctx, database.Config{
		Path:        cfg.Database.Path,
		WALMode:     cfg.Database.WALMode,
		BusyTimeout: cfg.Database.BusyTimeout,
	})
	if err != nil {
		return fmt.Errorf("opening database: %w", err)
	}
	defer func() {
		log.Info("closing database")
		if closeErr := db.Close(); closeErr != nil {
			log.Error("error closing database", "error", closeErr)
		}
	}()

	if err := db.Migrate(ctx, migrations.FS); err != nil {
		return fmt.Errorf("running migrations: %w", err)
	}

	registry := device.NewRegistry(device.NewSQLiteRepository(db.DB))
	registry.SetLogger(log.With("component", "registry"))
	if err := registry.RefreshCache(ctx); err != nil {
		return fmt.Errorf("loading device registry: %w", err)
	}
	log.Info("device registry loaded", "devices", registry.DeviceCount())

	auditRepo := audit.NewSQLiteRepository(db.DB)
	recorder := audit.NewRecorder(auditRepo)
	recorder.SetLogger(log.With("component", "audit"))
	registry.Subscribe(recorder.HandleEvent)

	checks := map[string]api.HealthChecker{"database": db}
	var sinks discovery.Sinks

	var notifier *notify.MQTTNotifier
	if cfg.MQTT.Enabled {
		mqttClient, err := mqtt.Connect(cfg.MQTT)
		if err != nil {
			return fmt.Errorf("connecting to MQTT: %w", err)
		}
		defer func() {
			log.Info("disconnecting from MQTT")
			if closeErr := mqttClient.Close(); closeErr != nil {
				log.Error("error closing MQTT", "error", closeErr)
			}
		}()
		mqttClient.SetLogger(log.With("component", "mqtt"))
		mqttClient.SetOnConnect(func() { log.Info("MQTT connected") })
		log.Info("MQTT connected",
			"broker", fmt.Sprintf("%s:%d", cfg.MQTT.Broker.Host, cfg.MQTT.Broker.Port),
			"client_id", cfg.MQTT.Broker.ClientID,
		)

		notifier = notify.NewMQTTNotifier(mqttClient)
		notifier.SetLogger(log.With("component", "notify"))
		registry.Subscribe(notifier.HandleEvent)
		if err := mqttClient.Subscribe(mqtt.Topics{}.RescanCommand(), mqttClient.QoS(), notifier.HandleRescan); err != nil {
			return fmt.Errorf("subscribing to rescan command: %w", err)
		}
		if err := mqttClient.Subscribe(mqtt.Topics{}.HotplugCommand(), mqttClient.QoS(), notifier.HandleHotplug); err != nil {
			return fmt.Errorf("subscribing to hotplug command: %w", err)
		}

		checks["mqtt"] = mqttClient
		sinks = append(sinks, notifier)
	} else {
		log.Info("MQTT disabled")
	}

	if cfg.InfluxDB.Enabled {
		influxClient, err := influxdb.Connect(cfg.InfluxDB)
		if err != nil {
			return fmt.Errorf("connecting to InfluxDB: %w", err)
		}
		defer func() {
			log.Info("closing InfluxDB connection")
			if closeErr := influxClient.Close(); closeErr != nil {
				log.Error("error closing InfluxDB", "error", closeErr)
			}
		}()
		influxClient.SetOnError(func(err error) {
			log.Error("InfluxDB write error", "error", err)
		})
		log.Info("InfluxDB connected", "url", cfg.InfluxDB.URL, "bucket", cfg.InfluxDB.Bucket)

		checks["influxdb"] = influxClient
		sinks = append(sinks, influxClient, inventorySink{registry: registry, influx: influxClient})
	} else {
		log.Info("InfluxDB disabled")
	}

	if cfg.API.Enabled {
		server, err := api.New(api.Deps{
			Config:   cfg.API,
			WS:       cfg.WebSocket,
			Logger:   log.With("component", "api"),
			Registry: registry,
			Audit:    auditRepo,
			Checks:   checks,
			Version:  version,
		})
		if err != nil {
			return fmt.Errorf("creating API server: %w", err)
		}
		if err := server.Start(ctx); err != nil {
			return fmt.Errorf("starting API server: %w", err)
		}
		defer func() {
			if closeErr := server.Close(); closeErr != nil {
				log.Error("error closing API server", "error", closeErr)
			}
		}()
		sinks = append(sinks, server)
	}

	scanner := newScanner(cfg, registry, log)
	if len(sinks) > 0 {
		scanner.SetStatsSink(sinks)
	}

	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error { return scanner.Run(gctx) })
	if notifier != nil {
		g.Go(func() error {
			notifier.Run(gctx)
			return nil
		})
		g.Go(func() error { return rescanOnRequest(gctx, scanner, notifier.Rescans(), log) })
		g.Go(func() error { return hotplugOnRequest(gctx, scanner, notifier.Hotplugs(), log) })
	}

	log.Info("initialisation complete, waiting for shutdown signal")
	<-gctx.Done()
	log.Info("shutting down, cleaning up")

	if err := g.Wait(); err != nil && !errors.Is(err, context.Canceled) {
		return err
	}
	log.Info("hwregd stopped")
	return nil
}

// loadConfig reads HWREG_CONFIG, or the default path when it exists, or
// falls back to built-in defaults.
func loadConfig() (*config.Config, string, error) {
	if path := os.Getenv("HWREG_CONFIG"); path != "" {
		cfg, err := config.Load(path)
		return cfg, path, err
	}
	if _, err := os.Stat(defaultConfigPath); err == nil {
		cfg, err := config.Load(defaultConfigPath)
		return cfg, defaultConfigPath, err
	}
	cfg := config.Default()
	if err := cfg.Validate(); err != nil {
		return nil, "", err
	}
	return cfg, "(defaults)", nil
}

// newScanner builds the two visitors (hotplug and coldplug differ only in
// parent timeout) and the scanner that drives them.
func newScanner(cfg *config.Config, registry *device.Registry, log *logging.Logger) *discovery.Scanner {
	hotplug := blockdev.NewVisitor(
		registry,
		blockdev.NewRegistryResolver(registry),
		sysfs.FileLineReader{},
		blockdev.Config{
			Prefix:        cfg.Registry.BlockPrefix,
			ParentTimeout: cfg.Discovery.ParentTimeout,
			IDEModelPath:  cfg.Discovery.IDEModelPath,
			IDEMediaPath:  cfg.Discovery.IDEMediaPath,
		},
	)
	hotplug.SetLogger(log.With("component", "blockdev"))
	coldplug := hotplug.WithParentTimeout(cfg.Discovery.ProbeParentTimeout)

	scanner := discovery.NewScanner(registry, coldplug, hotplug, discovery.Config{
		SysfsRoot:      cfg.Discovery.SysfsRoot,
		BusPrefix:      cfg.Registry.BusPrefix,
		Workers:        cfg.Discovery.Workers,
		RescanInterval: cfg.Discovery.RescanInterval,
	})
	scanner.SetLogger(log.With("component", "discovery"))
	return scanner
}

// rescanOnRequest runs a full scan for every request until ctx ends.
func rescanOnRequest(ctx context.Context, scanner *discovery.Scanner, requests <-chan struct{}, log *logging.Logger) error {
	for {
		select {
		case <-ctx.Done():
			return nil
		case <-requests:
			log.Info("rescan requested")
			if _, err := scanner.Scan(ctx); err != nil && ctx.Err() == nil {
				log.Error("requested rescan failed", "error", err)
			}
		}
	}
}

// hotplugOnRequest applies hotplug requests until ctx ends. Each add runs
// on its own goroutine so a node waiting for its parent never holds up the
// request that registers that parent.
func hotplugOnRequest(ctx context.Context, scanner *discovery.Scanner, requests <-chan notify.HotplugRequest, log *logging.Logger) error {
	var wg sync.WaitGroup
	defer wg.Wait()

	for {
		select {
		case <-ctx.Done():
			return nil
		case req := <-requests:
			switch req.Action {
			case notify.HotplugActionAdd:
				wg.Add(1)
				go func() {
					defer wg.Done()
					res, err := scanner.Add(ctx, req.Path)
					if err != nil {
						log.Error("hotplug add failed", "path", req.Path, "error", err)
						return
					}
					log.Info("hotplug add", "path", req.Path, "outcome", res.Outcome.String())
				}()
			case notify.HotplugActionRemove:
				n, err := scanner.Remove(ctx, req.Path)
				if err != nil {
					log.Error("hotplug remove failed", "path", req.Path, "error", err)
					continue
				}
				log.Info("hotplug remove", "path", req.Path, "removed", n)
			}
		}
	}
}

// inventorySink writes per-category record counts after every scan.
type inventorySink struct {
	registry *device.Registry
	influx   *influxdb.Client
}

func (s inventorySink) RecordScan(ctx context.Context, _ discovery.Stats, _ time.Duration) error {
	s.influx.RecordInventory(s.registry.ListDevices(ctx))
	return nil
}
