package main

import (
	"context"
	"fmt"
	"os"
	"time"

	"github.com/gammarips/overnightedge/internal/audit"
	"github.com/gammarips/overnightedge/internal/config"
	"github.com/gammarips/overnightedge/internal/fetch"
	"github.com/gammarips/overnightedge/internal/fixtures"
	"github.com/gammarips/overnightedge/internal/httpapi"
	"github.com/gammarips/overnightedge/internal/logger"
	"github.com/gammarips/overnightedge/internal/mcp"
	"github.com/gammarips/overnightedge/internal/mongostore"
	"github.com/gammarips/overnightedge/internal/monitor"
	"github.com/gammarips/overnightedge/internal/signals"
	"github.com/gammarips/overnightedge/internal/storage"
	"github.com/gammarips/overnightedge/internal/telegram"
	"github.com/gammarips/overnightedge/internal/tools"
	"github.com/gammarips/overnightedge/internal/warehouse"
	"github.com/gin-gonic/gin"
	"github.com/joho/godotenv"
)

// primaryStore is what the app needs from either primary backend.
type primaryStore interface {
	signals.Primary
	fixtures.Writer
	monitor.Probe
	SetObserver(obs fetch.Observer)
}

// app holds the wired components shared by every subcommand.
type app struct {
	cfg        *config.Config
	primary    primaryStore
	warehouse  *warehouse.Warehouse
	service    *signals.Service
	dispatcher *tools.Dispatcher
	publisher  audit.Publisher
	closers    []func() error
}

func loadConfig(path string) (*config.Config, error) {
	// A local .env may supply the OVERNIGHT_EDGE_* secrets; real environment wins.
	_ = godotenv.Load()

	cfg, err := config.Load(path)
	if err != nil {
		return nil, fmt.Errorf("failed to load config: %w", err)
	}
	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("invalid configuration: %w", err)
	}
	logger.Init(cfg.Logging.Level, cfg.Logging.Format)
	logger.Info("Configuration loaded from %s", path)
	return cfg, nil
}

// watchLogLevel applies logging.level edits to the running process.
func watchLogLevel(path string) {
	err := config.Watch(path, func(c *config.Config) {
		logger.SetLevel(c.Logging.Level)
		logger.Info("Log level set to %s", c.Logging.Level)
	}, func(err error) {
		logger.Warn("%v", err)
	})
	if err != nil {
		logger.Warn("Config watch disabled: %v", err)
	}
}

// newApp opens both stores and the audit publisher and builds the tool dispatcher.
func newApp(ctx context.Context, configPath string) (*app, error) {
	cfg, err := loadConfig(configPath)
	if err != nil {
		return nil, err
	}
	a := &app{cfg: cfg}

	if err := a.openPrimary(ctx); err != nil {
		a.close()
		return nil, err
	}

	wh, err := warehouse.Open(warehouse.Config{
		Driver:          cfg.Warehouse.Driver,
		DSN:             cfg.Warehouse.DSN,
		MaxOpenConns:    cfg.Warehouse.MaxOpenConns,
		MaxIdleConns:    cfg.Warehouse.MaxIdleConns,
		ConnMaxLifetime: cfg.Warehouse.ConnMaxLifetime,
	})
	if err != nil {
		a.close()
		return nil, err
	}
	a.warehouse = wh
	a.closers = append(a.closers, wh.Close)
	if cfg.Warehouse.AutoMigrate {
		if err := wh.Migrate(); err != nil {
			a.close()
			return nil, fmt.Errorf("failed to migrate warehouse: %w", err)
		}
	}
	logger.Info("Warehouse opened (driver: %s)", cfg.Warehouse.Driver)

	a.publisher = audit.Nop{}
	if cfg.Audit.Enabled {
		pub, err := audit.Connect(cfg.Audit.NATSURL, cfg.Audit.Subject)
		if err != nil {
			a.close()
			return nil, err
		}
		a.publisher = pub
		a.closers = append(a.closers, pub.Close)
		logger.Info("Publishing tool call audit events to %s", cfg.Audit.Subject)
	}

	a.service = signals.NewService(a.primary, a.warehouse, signals.Config{
		Location:   cfg.Location(),
		PricingURL: cfg.Service.PricingURL,
	})
	a.dispatcher = tools.NewDispatcher(a.service, a.publisher)
	return a, nil
}

func (a *app) openPrimary(ctx context.Context) error {
	switch a.cfg.Primary.Driver {
	case "mongo":
		mc := a.cfg.Primary.Mongo
		store, err := mongostore.Connect(ctx, mongostore.Config{
			URI:               mc.URI,
			Database:          mc.Database,
			SignalsCollection: mc.SignalsCollection,
			ThemesCollection:  mc.ThemesCollection,
			Timeout:           mc.Timeout,
		})
		if err != nil {
			return err
		}
		a.primary = store
		a.closers = append(a.closers, func() error {
			cctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
			defer cancel()
			return store.Close(cctx)
		})
	default:
		store, err := storage.New(a.cfg.Primary.SQLite.Path)
		if err != nil {
			return fmt.Errorf("failed to initialize storage: %w", err)
		}
		a.primary = store
		a.closers = append(a.closers, store.Close)
	}
	logger.Info("Primary store opened (driver: %s)", a.cfg.Primary.Driver)
	return nil
}

// startMonitor attaches a store monitor to the primary and probes both stores on
// schedule. It returns nil when monitoring is disabled.
func (a *app) startMonitor(ctx context.Context, notifier monitor.Notifier) (*monitor.Monitor, error) {
	if !a.cfg.Monitor.Enabled {
		logger.Debug("Store monitor disabled")
		return nil, nil
	}
	mon := monitor.New(monitor.Config{
		ProbeSchedule: a.cfg.Monitor.ProbeSchedule,
		ProbeTimeout:  a.cfg.Monitor.ProbeTimeout,
	}, notifier)
	a.primary.SetObserver(mon)
	mon.AddProbe(a.primary)
	mon.AddProbe(a.warehouse)
	if err := mon.Start(ctx); err != nil {
		return nil, err
	}
	return mon, nil
}

func (a *app) close() {
	for i := len(a.closers) - 1; i >= 0; i-- {
		if err := a.closers[i](); err != nil {
			logger.Error("Failed to close: %v", err)
		}
	}
	logger.Sync()
}

func runMCP(ctx context.Context, configPath string) error {
	a, err := newApp(ctx, configPath)
	if err != nil {
		return err
	}
	defer a.close()
	watchLogLevel(configPath)

	mon, err := a.startMonitor(ctx, nil)
	if err != nil {
		return err
	}
	if mon != nil {
		defer mon.Stop()
	}

	logger.Info("Serving MCP on stdio")
	return mcp.NewServer(a.dispatcher, version).Run(ctx, os.Stdin, os.Stdout)
}

func runHTTP(ctx context.Context, configPath string) error {
	a, err := newApp(ctx, configPath)
	if err != nil {
		return err
	}
	defer a.close()
	watchLogLevel(configPath)

	mon, err := a.startMonitor(ctx, nil)
	if err != nil {
		return err
	}
	var health httpapi.Health
	if mon != nil {
		defer mon.Stop()
		health = mon
	}

	if a.cfg.Logging.Level != "debug" {
		gin.SetMode(gin.ReleaseMode)
	}
	srv := httpapi.NewServer(httpapi.Config{
		Addr:         a.cfg.HTTP.Addr,
		ReadTimeout:  a.cfg.HTTP.ReadTimeout,
		WriteTimeout: a.cfg.HTTP.WriteTimeout,
	}, a.dispatcher, health)
	return srv.Run(ctx)
}

func runBot(ctx context.Context, configPath string) error {
	a, err := newApp(ctx, configPath)
	if err != nil {
		return err
	}
	defer a.close()
	watchLogLevel(configPath)

	tc := a.cfg.Telegram
	if !tc.Enabled {
		return fmt.Errorf("telegram is disabled in configuration")
	}
	client, err := telegram.NewClient(telegram.Config{
		BotToken:       tc.BotToken,
		AlertChatID:    tc.AlertChatID,
		ChatTiers:      tc.ChatTiers,
		MaxRetries:     tc.MaxRetries,
		RetryDelayBase: tc.RetryDelayBase,
	}, a.dispatcher)
	if err != nil {
		return fmt.Errorf("failed to initialize Telegram client: %w", err)
	}
	logger.Info("Telegram client initialized successfully")

	mon, err := a.startMonitor(ctx, client)
	if err != nil {
		return err
	}
	if mon != nil {
		defer mon.Stop()
	}

	client.ListenForCommands(ctx)
	<-ctx.Done()
	logger.Info("Shutdown signal received, cleaning up...")
	return nil
}

func runSeed(ctx context.Context, configPath, fixturePath string, toWarehouse bool) error {
	a, err := newApp(ctx, configPath)
	if err != nil {
		return err
	}
	defer a.close()

	f, err := fixtures.Load(fixturePath)
	if err != nil {
		return err
	}

	now := time.Now().UTC()
	stats, err := fixtures.Apply(ctx, a.primary, f, now)
	if err != nil {
		return fmt.Errorf("failed to seed primary store: %w", err)
	}
	logger.Info("Seeded primary store: %d signals, %d theme summaries", stats.Signals, stats.Themes)

	if toWarehouse {
		stats, err = fixtures.Apply(ctx, a.warehouse, f, now)
		if err != nil {
			return fmt.Errorf("failed to seed warehouse: %w", err)
		}
		logger.Info("Seeded warehouse: %d signals, %d theme summaries", stats.Signals, stats.Themes)
	}
	return nil
}
