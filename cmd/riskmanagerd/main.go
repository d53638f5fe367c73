package main

import (
	"context"
	"flag"
	"log"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/joho/godotenv"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/redis/go-redis/v9"
	"go.uber.org/zap"

	"github.com/Jakers471/risk-manager-v34-sub006/internal/audit"
	"github.com/Jakers471/risk-manager-v34-sub006/internal/clock"
	"github.com/Jakers471/risk-manager-v34-sub006/internal/config"
	"github.com/Jakers471/risk-manager-v34-sub006/internal/enforce"
	"github.com/Jakers471/risk-manager-v34-sub006/internal/engine"
	"github.com/Jakers471/risk-manager-v34-sub006/internal/events"
	"github.com/Jakers471/risk-manager-v34-sub006/internal/ingest"
	"github.com/Jakers471/risk-manager-v34-sub006/internal/lockout"
	"github.com/Jakers471/risk-manager-v34-sub006/internal/pnl"
	"github.com/Jakers471/risk-manager-v34-sub006/internal/reset"
	"github.com/Jakers471/risk-manager-v34-sub006/internal/rules"
	"github.com/Jakers471/risk-manager-v34-sub006/internal/session"
	"github.com/Jakers471/risk-manager-v34-sub006/internal/store"
	"github.com/Jakers471/risk-manager-v34-sub006/internal/timer"
	"github.com/Jakers471/risk-manager-v34-sub006/pkg/logger"
)

func main() {
	configPath := flag.String("config", "", "path to the yaml configuration file")
	flag.Parse()

	// Load environment variables
	if err := godotenv.Load(); err != nil {
		log.Println("Warning: .env file not found, using environment variables")
	}

	// Load configuration
	cfg, err := config.Load(*configPath)
	if err != nil {
		log.Fatalf("Failed to load configuration: %v", err)
	}

	// Create logger
	zapLogger, err := logger.New(cfg.Logging.Level, cfg.Logging.Format)
	if err != nil {
		log.Fatalf("Failed to create logger: %v", err)
	}
	defer zapLogger.Sync()

	// Open the persistent store. Lockout durability depends on it, so an
	// unreachable store is fatal.
	st, err := store.Open(cfg.Store.Driver, cfg.Store.Path, cfg.Store.DSN, zapLogger)
	if err != nil {
		zapLogger.Fatal("Failed to open store", zap.Error(err))
	}
	defer st.Close()

	// Build the trading calendar
	holidays := []string{}
	if cfg.Reset.HolidayFile != "" {
		holidays, err = session.LoadHolidayFile(cfg.Reset.HolidayFile)
		if err != nil {
			zapLogger.Fatal("Failed to load holiday calendar", zap.Error(err))
		}
	}
	cal, err := session.NewCalendar(cfg.Reset.Timezone, cfg.Reset.Time, holidays, cfg.Reset.SkipHolidays)
	if err != nil {
		zapLogger.Fatal("Failed to build calendar", zap.Error(err))
	}

	clk := clock.New()
	ctx := context.Background()

	// P&L tracker with snapshot recovery
	tracker := pnl.NewTracker(cal, clk, st, zapLogger)
	if err := tracker.Restore(ctx); err != nil {
		zapLogger.Fatal("Failed to restore pnl snapshots", zap.Error(err))
	}

	// Lockout manager with crash recovery
	timers := timer.NewRegistry(clk, timer.DefaultScanInterval, zapLogger)
	lockouts := lockout.NewManager(st, clk, timers, zapLogger)
	if err := lockouts.Recover(ctx); err != nil {
		zapLogger.Fatal("Failed to recover lockout state", zap.Error(err))
	}

	// Audit recorder with optional redis publishing
	var rdb *redis.Client
	if cfg.Redis.Enabled {
		rdb = redis.NewClient(&redis.Options{
			Addr:     cfg.Redis.Addr,
			Password: cfg.Redis.Password,
			DB:       cfg.Redis.DB,
		})
		if err := rdb.Ping(ctx).Err(); err != nil {
			zapLogger.Warn("Redis unreachable, actions will be published once it recovers", zap.Error(err))
		}
		defer rdb.Close()
	}
	recorder := audit.NewRecorder(st, rdb, cfg.Redis.Channel, zapLogger)

	// Enforcement gateway. The sim gateway is the default wiring until a
	// platform adapter is configured in front of it.
	gateway := enforce.NewRetrier(enforce.NewSimGateway(zapLogger), zapLogger)

	// Rule engine
	eng := engine.New(clk, cal, tracker, lockouts, gateway, recorder, zapLogger)
	ruleSet, faults := rules.Build(cfg.Rules, rules.Deps{PnL: tracker, Sessions: cal, Now: clk.Now}, zapLogger)
	if len(faults) > 0 {
		zapLogger.Warn("Some rule definitions were rejected", zap.Int("rejected", len(faults)))
	}
	eng.Reload(ruleSet)

	// Event bus
	bus := events.NewBus(zapLogger)
	eng.AttachBus(bus)

	// Reset scheduler
	scheduler := reset.NewScheduler(cal, clk, st, tracker, lockouts, eng, cfg.Accounts, cfg.Reset.CheckInterval, zapLogger)
	if err := scheduler.InitAtStartup(ctx); err != nil {
		zapLogger.Fatal("Failed to initialize reset scheduler", zap.Error(err))
	}

	// Start background components
	lockouts.Start()
	tracker.Start()
	scheduler.Start()

	// Start event sources
	var ws *ingest.WSSource
	if cfg.Ingest.Websocket.Enabled {
		ws = ingest.NewWSSource(cfg.Ingest.Websocket.URL, bus, zapLogger)
		ws.Start()
	}
	var kafkaSrc *ingest.KafkaSource
	if cfg.Ingest.Kafka.Enabled {
		kafkaSrc = ingest.NewKafkaSource(cfg.Ingest.Kafka.Brokers, cfg.Ingest.Kafka.Topic, cfg.Ingest.Kafka.Group, bus, zapLogger)
		kafkaSrc.Start()
	}

	// Metrics listener
	if cfg.Metrics.Enabled {
		go func() {
			mux := http.NewServeMux()
			mux.Handle("/metrics", promhttp.Handler())
			srv := &http.Server{
				Addr:         cfg.Metrics.Listen,
				Handler:      mux,
				ReadTimeout:  5 * time.Second,
				WriteTimeout: 10 * time.Second,
			}
			zapLogger.Info("Starting metrics listener", zap.String("addr", cfg.Metrics.Listen))
			if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
				zapLogger.Error("Metrics listener failed", zap.Error(err))
			}
		}()
	}

	zapLogger.Info("Risk manager started",
		zap.Int("rules", len(ruleSet)),
		zap.Int("configured_accounts", len(cfg.Accounts)),
		zap.String("store", cfg.Store.Driver))

	// SIGHUP reloads rule definitions; SIGINT/SIGTERM shut down.
	signals := make(chan os.Signal, 1)
	signal.Notify(signals, syscall.SIGINT, syscall.SIGTERM, syscall.SIGHUP)
	for sig := range signals {
		if sig == syscall.SIGHUP {
			defs, err := config.ReloadRules(*configPath)
			if err != nil {
				zapLogger.Error("Rule reload failed, keeping current set", zap.Error(err))
				continue
			}
			ruleSet, faults := rules.Build(defs, rules.Deps{PnL: tracker, Sessions: cal, Now: clk.Now}, zapLogger)
			if len(faults) > 0 {
				zapLogger.Warn("Some reloaded rule definitions were rejected", zap.Int("rejected", len(faults)))
			}
			eng.Reload(ruleSet)
			continue
		}
		zapLogger.Info("Shutting down", zap.String("signal", sig.String()))
		break
	}

	// Stop sources first so no new events arrive, then drain the bus,
	// then stop the timed components.
	if ws != nil {
		ws.Stop()
	}
	if kafkaSrc != nil {
		kafkaSrc.Stop()
	}
	bus.Close()
	scheduler.Stop()
	tracker.Stop()
	lockouts.Stop()

	zapLogger.Info("Risk manager exited properly")
}
