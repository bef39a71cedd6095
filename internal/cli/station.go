package cli

import (
	"context"
	"fmt"
	"io"
	"log/slog"
	"time"

	"github.com/roach88/stockscan/internal/capture"
	"github.com/roach88/stockscan/internal/config"
	"github.com/roach88/stockscan/internal/feedback"
	"github.com/roach88/stockscan/internal/inventory"
	"github.com/roach88/stockscan/internal/kv"
	"github.com/roach88/stockscan/internal/kv/memory"
	"github.com/roach88/stockscan/internal/kv/redis"
	"github.com/roach88/stockscan/internal/kv/sqlite"
)

// redisConnectTimeout bounds the whole Redis connect-and-ping sequence.
const redisConnectTimeout = 10 * time.Second

// loadConfig reads the layered configuration and configures logging from it.
func loadConfig(opts *RootOptions, errOut io.Writer) (*config.Config, error) {
	cfg, err := config.Load(config.LoadOptions{Path: opts.Config, EnvFile: opts.EnvFile})
	if err != nil {
		return nil, WrapExitError(ExitCommandError, "failed to load configuration", err)
	}
	setupLogging(cfg.Log, opts.Verbose, errOut)
	return cfg, nil
}

// setupLogging installs the default slog logger. --verbose forces debug.
func setupLogging(lc config.LogConfig, verbose bool, w io.Writer) {
	level := slog.LevelInfo
	switch lc.Level {
	case "debug":
		level = slog.LevelDebug
	case "warn":
		level = slog.LevelWarn
	case "error":
		level = slog.LevelError
	}
	if verbose {
		level = slog.LevelDebug
	}

	hopts := &slog.HandlerOptions{Level: level}
	var handler slog.Handler = slog.NewTextHandler(w, hopts)
	if lc.Format == "json" {
		handler = slog.NewJSONHandler(w, hopts)
	}
	slog.SetDefault(slog.New(handler))
}

// openStore opens the configured inventory store.
func openStore(ctx context.Context, sc config.StoreConfig) (kv.Store, error) {
	switch sc.Kind {
	case "memory":
		slog.Warn("using in-memory store, inventory will not survive exit")
		return memory.New(), nil
	case "sqlite":
		slog.Debug("opening sqlite store", "path", sc.Path)
		st, err := sqlite.Open(sc.Path)
		if err != nil {
			return nil, err
		}
		return st, nil
	case "redis":
		slog.Debug("connecting to redis store")
		st, err := redis.Open(ctx, redis.Config{
			URL:            sc.RedisURL,
			KeyPrefix:      sc.RedisPrefix,
			RetryAttempts:  3,
			RetryInterval:  time.Second,
			ConnectTimeout: redisConnectTimeout,
		})
		if err != nil {
			return nil, err
		}
		return st, nil
	}
	return nil, fmt.Errorf("unknown store kind %q", sc.Kind)
}

// withInventory opens the store, loads the inventory and calls fn with it.
// The store is closed when fn returns.
func withInventory(ctx context.Context, cfg *config.Config, fn func(log *inventory.Log) error) error {
	store, err := openStore(ctx, cfg.Store)
	if err != nil {
		return WrapExitError(ExitCommandError, "failed to open store", err)
	}
	defer func() {
		if err := store.Close(); err != nil {
			slog.Error("error closing store", "error", err)
		}
	}()

	log := inventory.New(store)
	log.Load(ctx)
	if err := log.LoadError(); err != nil {
		slog.Warn("inventory could not be read", "error", err)
	}
	return fn(log)
}

// engineHandle is the capture engine built from configuration. sim is set
// only for the simulated engine, which accepts injected scans.
type engineHandle struct {
	engine capture.Engine
	sim    *capture.SimEngine
	close  func() error
}

func newEngine(ec config.EngineConfig) (*engineHandle, error) {
	switch ec.Kind {
	case "sim":
		sim := capture.NewSimEngine(capture.WithDedupWindow(ec.DedupWindow))
		return &engineHandle{engine: sim, sim: sim, close: func() error { return nil }}, nil
	case "nats":
		ne, err := capture.NewNATSEngine(ec.NATSURL, ec.NATSPrefix, ec.Timeout)
		if err != nil {
			return nil, err
		}
		return &engineHandle{engine: ne, close: ne.Close}, nil
	}
	return nil, fmt.Errorf("unknown engine kind %q", ec.Kind)
}

// newNotifiers builds the feedback notifiers. The returned func closes any
// connections they hold.
func newNotifiers(fc config.FeedbackConfig, out io.Writer) ([]feedback.Notifier, func(), error) {
	notifiers := []feedback.Notifier{feedback.LogNotifier{}}
	if fc.Bell {
		notifiers = append(notifiers, feedback.Bell{W: out})
	}

	cleanup := func() {}
	if fc.NATSURL != "" {
		nn, err := feedback.NewNATSNotifier(fc.NATSURL, fc.Topic)
		if err != nil {
			return nil, cleanup, err
		}
		notifiers = append(notifiers, nn)
		cleanup = func() {
			if err := nn.Flush(); err != nil {
				slog.Warn("failed to flush feedback notifier", "error", err)
			}
			_ = nn.Close()
		}
	}
	return notifiers, cleanup, nil
}
