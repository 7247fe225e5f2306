package main

import (
	"context"
	"fmt"
	"log/slog"
	"os"
	"time"

	"github.com/robfig/cron/v3"
	"github.com/spf13/cobra"

	"github.com/kadaliao/claude-relay-service/pkg/account"
	"github.com/kadaliao/claude-relay-service/pkg/config"
	"github.com/kadaliao/claude-relay-service/pkg/relay"
	"github.com/kadaliao/claude-relay-service/pkg/scheduler"
	"github.com/kadaliao/claude-relay-service/pkg/scheduler/strategies"
	"github.com/kadaliao/claude-relay-service/pkg/server"
	"github.com/kadaliao/claude-relay-service/pkg/store"
	"github.com/kadaliao/claude-relay-service/pkg/telemetry/logging"
	"github.com/kadaliao/claude-relay-service/pkg/telemetry/metrics"
	"github.com/kadaliao/claude-relay-service/pkg/token"
	"github.com/kadaliao/claude-relay-service/pkg/transport"
	"github.com/kadaliao/claude-relay-service/pkg/upstream"
	"github.com/kadaliao/claude-relay-service/pkg/usage"
)

var runFlags struct {
	listenAddress string
	logLevel      string
	dryRun        bool
	watch         bool
}

var runCmd = &cobra.Command{
	Use:   "run",
	Short: "Start the relay server",
	Long: `Start the relay server with the specified configuration.

The server exposes the relay endpoints, selects an upstream account per
request, keeps credentials fresh in the background, and records usage.

Examples:
  # Start with default config
  claude-relay run

  # Start with custom config
  claude-relay run --config /etc/claude-relay/config.yaml

  # Override listen address
  claude-relay run --listen 0.0.0.0:8080

  # Validate config without starting the server
  claude-relay run --dry-run`,
	RunE: runServer,
}

func init() {
	rootCmd.AddCommand(runCmd)

	runCmd.Flags().StringVarP(&runFlags.listenAddress, "listen", "l", "", "override listen address")
	runCmd.Flags().StringVar(&runFlags.logLevel, "log-level", "", "override log level (debug, info, warn, error)")
	runCmd.Flags().BoolVar(&runFlags.dryRun, "dry-run", false, "validate config without starting server")
	runCmd.Flags().BoolVar(&runFlags.watch, "watch", true, "reload hot-reloadable config fields on file change")
}

func runServer(cmd *cobra.Command, args []string) error {
	cfg, err := config.Load(cfgFile)
	if err != nil {
		return fmt.Errorf("failed to load config: %w", err)
	}

	if runFlags.listenAddress != "" {
		cfg.Server.ListenAddress = runFlags.listenAddress
	}
	if runFlags.logLevel != "" {
		cfg.Telemetry.Logging.Level = runFlags.logLevel
	}
	if verbose {
		cfg.Telemetry.Logging.Level = "debug"
	}

	logger, err := logging.Setup(cfg.Telemetry.Logging, os.Stdout)
	if err != nil {
		return err
	}

	if runFlags.dryRun {
		fmt.Println("configuration valid")
		return nil
	}

	ctx, cancel := context.WithCancel(cmd.Context())
	defer cancel()

	// Account store
	cipher, err := store.NewCipher(cfg.Store.MasterKey)
	if err != nil {
		return fmt.Errorf("failed to initialize credential cipher: %w", err)
	}
	st, err := store.Open(&store.Config{
		Path:         cfg.Store.Path,
		MaxOpenConns: cfg.Store.MaxOpenConns,
		MaxIdleConns: cfg.Store.MaxIdleConns,
		WALMode:      cfg.Store.WALMode,
		BusyTimeout:  cfg.Store.BusyTimeout,
	}, cipher)
	if err != nil {
		return fmt.Errorf("failed to open account store: %w", err)
	}
	defer st.Close()

	// Outbound transports
	transports := transport.NewPool(&transport.Config{
		Timeout:             cfg.Transport.Timeout,
		MaxIdleConns:        cfg.Transport.MaxIdleConns,
		MaxIdleConnsPerHost: cfg.Transport.MaxIdleConnsPerHost,
		IdleConnTimeout:     cfg.Transport.IdleConnTimeout,
	})
	defer transports.Close()

	// Upstream adapters
	registry := upstream.NewRegistry(
		upstream.NewClaude(upstream.ClaudeConfig{
			BaseURL:  cfg.Upstream.Claude.BaseURL,
			TokenURL: cfg.Upstream.Claude.TokenURL,
			ClientID: cfg.Upstream.Claude.ClientID,
		}),
		upstream.NewConsole(upstream.ConsoleConfig{
			BaseURL: cfg.Upstream.Console.BaseURL,
		}),
		upstream.NewOpenAI(upstream.OpenAIConfig{
			BaseURL:  cfg.Upstream.OpenAI.BaseURL,
			TokenURL: cfg.Upstream.OpenAI.TokenURL,
			ClientID: cfg.Upstream.OpenAI.ClientID,
		}),
	)

	// Account pool
	pool := scheduler.NewPool(st, strategies.ByName(cfg.Scheduler.Strategy), cfg.Scheduler.DefaultCooldown)
	if err := pool.Reload(ctx); err != nil {
		return fmt.Errorf("failed to load accounts: %w", err)
	}

	// Token manager
	tokens := token.NewManager(st, pool, transports, registry, &token.Config{
		RefreshMargin:  cfg.Token.RefreshMargin,
		MaxRetries:     cfg.Token.MaxRetries,
		RetryBaseDelay: cfg.Token.RetryBaseDelay,
		SweepWindow:    cfg.Token.SweepWindow,
	})

	// Metrics
	var collector *metrics.Collector
	var relayMetrics *metrics.RelayMetrics
	if cfg.Telemetry.Metrics.Enabled {
		collector = metrics.NewCollector(&cfg.Telemetry.Metrics, nil)
		relayMetrics = collector.Relay()
		tokens.SetMetrics(collector.Accounts())
		go publishPoolGauges(ctx, pool, collector.Accounts())
	}

	// Usage recording
	var sink usage.Sink
	switch cfg.Usage.Sink {
	case "log":
		sink = usage.NewLogSink()
	default:
		sink = usage.NewStoreSink(st)
	}
	recorder := usage.NewRecorder(sink, &usage.Config{
		Enabled:      cfg.Usage.Enabled,
		AsyncBuffer:  cfg.Usage.AsyncBuffer,
		WriteTimeout: cfg.Usage.WriteTimeout,
	})
	defer recorder.Close()

	// Relay forwarder
	forwarder := relay.NewForwarder(pool, tokens, transports, registry, recorder, relayMetrics, &relay.Config{
		MaxAttempts:  cfg.Relay.MaxAttempts,
		MaxBodyBytes: cfg.Relay.MaxBodyBytes,
	})

	// Background jobs
	jobs, err := startJobs(ctx, cfg, st, pool, tokens)
	if err != nil {
		return err
	}
	defer func() {
		jobCtx := jobs.Stop()
		<-jobCtx.Done()
	}()

	// Config hot reload
	if runFlags.watch {
		watcher, err := config.NewWatcher(cfgFile)
		if err != nil {
			logger.Warn("config watcher unavailable", "error", err)
		} else {
			go watcher.Watch(ctx, func(next *config.Config) {
				if next.Scheduler.Strategy != cfg.Scheduler.Strategy {
					pool.SetStrategy(strategies.ByName(next.Scheduler.Strategy))
					cfg.Scheduler.Strategy = next.Scheduler.Strategy
				}
			})
		}
	}

	srv := server.NewServer(&cfg.Server, &cfg.Telemetry.Metrics, forwarder, pool, st, collector)
	return srv.Start(ctx)
}

// publishPoolGauges refreshes the account status and in-flight gauges
// from the pool snapshot.
func publishPoolGauges(ctx context.Context, pool *scheduler.Pool, am *metrics.AccountMetrics) {
	statuses := []string{
		string(account.StatusNormal),
		string(account.StatusRateLimited),
		string(account.StatusPaused),
		string(account.StatusError),
	}

	ticker := time.NewTicker(15 * time.Second)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			for _, state := range pool.Snapshot() {
				am.SetStatus(state.ID, string(state.Platform), string(state.Status), statuses)
				am.SetInFlight(state.ID, string(state.Platform), state.InFlight)
			}
		}
	}
}

// startJobs schedules the background sweeps: token refresh ahead of
// expiry, cooldown restoration, and usage retention.
func startJobs(ctx context.Context, cfg *config.Config, st *store.Store, pool *scheduler.Pool, tokens *token.Manager) (*cron.Cron, error) {
	c := cron.New()

	if _, err := c.AddFunc(cfg.Token.SweepSchedule, func() {
		if n := tokens.SweepExpiring(ctx); n > 0 {
			slog.Info("refresh sweep complete", "refreshed", n)
		}
	}); err != nil {
		return nil, fmt.Errorf("invalid token sweep schedule %q: %w", cfg.Token.SweepSchedule, err)
	}

	if _, err := c.AddFunc(cfg.Scheduler.CooldownSweepSchedule, func() {
		pool.RestoreCooledDown(ctx)
	}); err != nil {
		return nil, fmt.Errorf("invalid cooldown sweep schedule %q: %w", cfg.Scheduler.CooldownSweepSchedule, err)
	}

	if cfg.Usage.RetentionDays > 0 {
		retention := time.Duration(cfg.Usage.RetentionDays) * 24 * time.Hour
		if _, err := c.AddFunc(cfg.Usage.RetentionSchedule, func() {
			n, err := st.PurgeUsageBefore(ctx, time.Now().Add(-retention))
			if err != nil {
				slog.Error("usage retention purge failed", "error", err)
				return
			}
			if n > 0 {
				slog.Info("usage retention purge complete", "deleted", n)
			}
		}); err != nil {
			return nil, fmt.Errorf("invalid retention schedule %q: %w", cfg.Usage.RetentionSchedule, err)
		}
	}

	c.Start()
	return c, nil
}
