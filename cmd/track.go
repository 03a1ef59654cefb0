package cmd

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/joho/godotenv"
	"github.com/spf13/cobra"

	"github.com/teemow/mailledger/internal/analyzer"
	"github.com/teemow/mailledger/internal/config"
	"github.com/teemow/mailledger/internal/gmail"
	"github.com/teemow/mailledger/internal/instrumentation"
	"github.com/teemow/mailledger/internal/llm"
	"github.com/teemow/mailledger/internal/logging"
	"github.com/teemow/mailledger/internal/server"
	"github.com/teemow/mailledger/internal/store"
	"github.com/teemow/mailledger/internal/tracker"
)

// pipeline bundles everything a polling or backfill run needs.
type pipeline struct {
	cfg      config.Config
	logger   *slog.Logger
	provider *instrumentation.Provider
	store    *store.Store
	tracker  *tracker.Tracker
}

func (p *pipeline) close(ctx context.Context) {
	if p.store != nil {
		if err := p.store.Close(); err != nil {
			p.logger.Error("closing store failed", logging.Err(err))
		}
	}
	if p.provider != nil {
		if err := p.provider.Shutdown(ctx); err != nil {
			p.logger.Error("shutting down instrumentation failed", logging.Err(err))
		}
	}
}

// buildPipeline loads configuration and wires the mailbox client, analyzer,
// store and tracker together. The address and filter flags override the
// config file.
func buildPipeline(ctx context.Context, address, readFilter, secretsDir string) (*pipeline, error) {
	// .env is optional; real config comes from file and environment
	_ = godotenv.Load()

	cfg, err := config.Load()
	if err != nil {
		return nil, err
	}
	if address != "" {
		cfg.Mailbox.Address = address
	}
	if cfg.Mailbox.Address == "" {
		return nil, fmt.Errorf("no mailbox address configured; set mailbox.address or pass --address")
	}

	logger := logging.Setup(os.Stderr, cfg.Log.Level, cfg.Log.Format)

	instrCfg := instrumentation.DefaultConfig()
	instrCfg.ServiceVersion = version
	if !cfg.Metrics.Enabled {
		instrCfg.Enabled = false
	}
	if err := instrCfg.Validate(); err != nil {
		return nil, fmt.Errorf("invalid instrumentation config: %w", err)
	}
	provider, err := instrumentation.NewProvider(ctx, instrCfg)
	if err != nil {
		return nil, fmt.Errorf("initialize instrumentation: %w", err)
	}

	client, err := gmail.NewClient(ctx, gmail.Options{
		SecretsDir:          secretsDir,
		DownloadAttachments: cfg.Attachments.Download,
		AttachmentsDir:      cfg.Attachments.Dir,
		Logger:              logger,
		Metrics:             provider.Metrics(),
	})
	if err != nil {
		_ = provider.Shutdown(ctx)
		return nil, fmt.Errorf("create gmail client: %w", err)
	}

	st, err := store.Open(cfg.Database.Path)
	if err != nil {
		_ = provider.Shutdown(ctx)
		return nil, fmt.Errorf("open store: %w", err)
	}

	oracle, err := llm.NewOpenAIOracle(cfg.LLM.ResolveAPIKey(), cfg.LLM.Model)
	if err != nil {
		_ = st.Close()
		_ = provider.Shutdown(ctx)
		return nil, err
	}

	anl := analyzer.New(oracle,
		analyzer.NewRetryPolicy(cfg.Retry.MaxAttempts, cfg.Retry.Delay()),
		logger, provider.Metrics())

	tr := tracker.New(client, anl, st, tracker.Options{
		Address:    cfg.Mailbox.Address,
		Interval:   cfg.Poll.Interval(),
		Overlap:    cfg.Poll.Overlap(),
		Lookback:   cfg.Poll.Lookback(),
		RetryDelay: cfg.Retry.Delay(),
		ReadFilter: gmail.ReadFilter(readFilter),
		Logger:     logger,
		Metrics:    provider.Metrics(),
	})

	return &pipeline{
		cfg:      cfg,
		logger:   logger,
		provider: provider,
		store:    st,
		tracker:  tr,
	}, nil
}

func newTrackCmd() *cobra.Command {
	var (
		address    string
		readFilter string
		secretsDir string
	)

	cmd := &cobra.Command{
		Use:   "track",
		Short: "Run the polling daemon that ingests and analyzes mail",
		Long: `Poll the configured Gmail mailbox on a fixed interval. Each cycle fetches
messages in an incremental time window, folds them into conversations,
classifies and extracts financial transactions, and stores them. Failed
cycles are retried after a shorter delay; the daemon only stops on SIGINT
or SIGTERM.`,
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx, stop := signal.NotifyContext(context.Background(),
				os.Interrupt, syscall.SIGTERM)
			defer stop()

			p, err := buildPipeline(ctx, address, readFilter, secretsDir)
			if err != nil {
				return err
			}
			defer p.close(context.Background())

			var metricsServer *server.MetricsServer
			if p.provider.HasPrometheusExporter() {
				metricsServer, err = server.NewMetricsServer(server.MetricsServerConfig{
					Addr:                    p.cfg.Metrics.ListenAddr,
					InstrumentationProvider: p.provider,
				})
				if err != nil {
					return err
				}
				go func() {
					if err := metricsServer.Start(); err != nil && !errors.Is(err, http.ErrServerClosed) {
						p.logger.Error("metrics server failed", logging.Err(err))
					}
				}()
			}

			err = p.tracker.Run(ctx)

			if metricsServer != nil {
				shutdownCtx, cancel := context.WithTimeout(context.Background(), server.DefaultShutdownTimeout)
				defer cancel()
				if shutdownErr := metricsServer.Shutdown(shutdownCtx); shutdownErr != nil {
					p.logger.Error("metrics server shutdown failed", logging.Err(shutdownErr))
				}
			}

			if errors.Is(err, context.Canceled) {
				p.logger.Info("tracker stopped")
				return nil
			}
			return err
		},
	}

	cmd.Flags().StringVar(&address, "address", "", "mailbox address to track (overrides config)")
	cmd.Flags().StringVar(&readFilter, "read-filter", string(gmail.FilterAll), "process conversations by read state: all, read or unread")
	cmd.Flags().StringVar(&secretsDir, "secrets-dir", ".secrets", "directory holding OAuth credentials and token")
	return cmd
}

func newBackfillCmd() *cobra.Command {
	var (
		address    string
		readFilter string
		secretsDir string
		fromStr    string
		toStr      string
	)

	cmd := &cobra.Command{
		Use:   "backfill",
		Short: "Run a single pipeline pass over an explicit time window",
		Long: `Fetch and analyze mail for a fixed window instead of the incremental one
derived from stored state. Already-processed conversations are skipped, so
backfilling an overlapping range never stores a transaction twice.`,
		RunE: func(cmd *cobra.Command, args []string) error {
			from, err := parseWindowTime(fromStr)
			if err != nil {
				return fmt.Errorf("invalid --from: %w", err)
			}
			to := time.Now()
			if toStr != "" {
				if to, err = parseWindowTime(toStr); err != nil {
					return fmt.Errorf("invalid --to: %w", err)
				}
			}
			if !from.Before(to) {
				return fmt.Errorf("--from (%s) must be before --to (%s)", from, to)
			}

			ctx, stop := signal.NotifyContext(context.Background(),
				os.Interrupt, syscall.SIGTERM)
			defer stop()

			p, err := buildPipeline(ctx, address, readFilter, secretsDir)
			if err != nil {
				return err
			}
			defer p.close(context.Background())

			stats, err := p.tracker.Backfill(ctx, from, to)
			if err != nil {
				return err
			}

			fmt.Printf("fetched %d messages, %d conversations, stored %d transactions (%d skipped, %d non-transactional)\n",
				stats.Fetched, stats.Conversations, stats.Stored,
				stats.SkippedDuplicate, stats.NonTransactional)
			return nil
		},
	}

	cmd.Flags().StringVar(&address, "address", "", "mailbox address to track (overrides config)")
	cmd.Flags().StringVar(&readFilter, "read-filter", string(gmail.FilterAll), "process conversations by read state: all, read or unread")
	cmd.Flags().StringVar(&secretsDir, "secrets-dir", ".secrets", "directory holding OAuth credentials and token")
	cmd.Flags().StringVar(&fromStr, "from", "", "window start, RFC3339 or YYYY-MM-DD (required)")
	cmd.Flags().StringVar(&toStr, "to", "", "window end, RFC3339 or YYYY-MM-DD (default: now)")
	_ = cmd.MarkFlagRequired("from")
	return cmd
}

// parseWindowTime accepts RFC3339 timestamps and plain calendar dates.
func parseWindowTime(value string) (time.Time, error) {
	if t, err := time.Parse(time.RFC3339, value); err == nil {
		return t, nil
	}
	return time.Parse("2006-01-02", value)
}
