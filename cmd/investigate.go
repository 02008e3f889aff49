package cmd

import (
	"context"
	"errors"
	"fmt"
	"io"
	"os"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/spf13/cobra"
	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"

	"github.com/xkilldash9x/darkswarm/internal/agent"
	"github.com/xkilldash9x/darkswarm/internal/observability"
	"github.com/xkilldash9x/darkswarm/internal/store"
	"github.com/xkilldash9x/darkswarm/internal/swarm"
)

// ErrInvestigationFailed is returned when the swarm hit an invariant violation.
var ErrInvestigationFailed = errors.New("investigation failed")

const saveTimeout = 30 * time.Second

type investigateOptions struct {
	output     string
	format     string
	snapshotID string
	resume     string
}

func newInvestigateCmd(a *app) *cobra.Command {
	opts := &investigateOptions{}
	investigateCmd := &cobra.Command{
		Use:   "investigate [query...]",
		Short: "Runs the swarm on a query and prints the intelligence summary",
		Long: `Seeds the signal field with the query and lets the agents work until a
summary is produced, the swarm stops making progress or a limit is reached.
With --resume the field is restored from a stored snapshot and the query is optional.`,
		Example: `  darkswarm investigate "lockbit affiliate recruitment"
  darkswarm investigate --specialists --enrich -o report.md "carding forum btc wallets"
  darkswarm investigate --blockchain --pastes "ransomware payment addresses"
  darkswarm investigate --resume 5f0c...`,
		RunE: func(cmd *cobra.Command, args []string) error {
			query := strings.TrimSpace(strings.Join(args, " "))
			if query == "" && opts.resume == "" {
				return errors.New("a query is required unless --resume is given")
			}
			return a.investigate(cmd.Context(), query, opts)
		},
	}

	f := investigateCmd.Flags()
	f.StringVarP(&opts.output, "output", "o", "", "Write the report to a file instead of stdout.")
	f.StringVarP(&opts.format, "format", "f", "markdown", "Report format: 'markdown' or 'json'.")
	f.StringVar(&opts.snapshotID, "snapshot-id", "", "ID to store the final field snapshot under. Defaults to a new UUID when a store is configured.")
	f.StringVar(&opts.resume, "resume", "", "Restore the field from this snapshot ID before running.")

	f.Int("max-ticks", 0, "Maximum number of ticks. (Overrides config/env)")
	f.Duration("timeout", 0, "Wall clock limit for the run. (Overrides config/env)")
	f.Int("crawlers", 0, "Number of crawler agents. (Overrides config/env)")
	f.Int("scrapers", 0, "Number of scraper agents. (Overrides config/env)")
	f.Bool("specialists", false, "Use specialist analysts and a lead analyst. (Overrides config/env)")
	f.Bool("enrich", false, "Enrich artifacts from surface web sources. (Overrides config/env)")
	f.Bool("blockchain", false, "Analyze the history of extracted wallet addresses. (Overrides config/env)")
	f.Bool("pastes", false, "Search paste sites for refined queries. (Overrides config/env)")
	f.String("metrics-addr", "", "Serve Prometheus metrics on this address, e.g. :9090. (Overrides config/env)")
	f.String("proxy", "", "SOCKS or HTTP proxy for onion fetches. (Overrides config/env)")
	f.String("store", "", "Snapshot store: none, postgres or badger. (Overrides config/env)")

	bindConfigFlag(investigateCmd, "max-ticks", "swarm.max_ticks")
	bindConfigFlag(investigateCmd, "timeout", "swarm.timeout")
	bindConfigFlag(investigateCmd, "crawlers", "swarm.crawlers")
	bindConfigFlag(investigateCmd, "scrapers", "swarm.scrapers")
	bindConfigFlag(investigateCmd, "specialists", "swarm.specialists")
	bindConfigFlag(investigateCmd, "enrich", "swarm.enrich")
	bindConfigFlag(investigateCmd, "blockchain", "swarm.blockchain")
	bindConfigFlag(investigateCmd, "pastes", "swarm.pastes")
	bindConfigFlag(investigateCmd, "metrics-addr", "metrics.addr")
	bindConfigFlag(investigateCmd, "proxy", "network.proxy_url")
	bindConfigFlag(investigateCmd, "store", "store.type")
	return investigateCmd
}

func (a *app) investigate(ctx context.Context, query string, opts *investigateOptions) error {
	cfg, logger := a.cfg, a.logger
	render, err := rendererFor(opts.format)
	if err != nil {
		return err
	}

	runCtx, cancel := context.WithCancel(ctx)
	g, gctx := errgroup.WithContext(runCtx)
	defer func() {
		cancel()
		_ = g.Wait()
	}()

	metrics := observability.NewMetrics()
	if cfg.Metrics.Addr != "" {
		g.Go(func() error {
			if err := metrics.Serve(gctx, cfg.Metrics.Addr, logger); err != nil {
				logger.Warn("Metrics server stopped.", zap.Error(err))
			}
			return nil
		})
	}

	st, err := openStore(ctx, cfg.Store, logger)
	if err != nil {
		return fmt.Errorf("failed to open snapshot store: %w", err)
	}
	if st != nil {
		defer func() {
			if err := st.Close(); err != nil {
				logger.Warn("Error closing snapshot store.", zap.Error(err))
			}
		}()
	}
	if opts.resume != "" && st == nil {
		return errors.New("--resume needs a snapshot store (set store.type)")
	}

	deps, err := rosterBuilder(ctx, cfg, logger)
	if err != nil {
		return fmt.Errorf("failed to initialize components: %w", err)
	}
	agents, err := agent.BuildRoster(cfg.Swarm, deps)
	if err != nil {
		return fmt.Errorf("failed to build agent roster: %w", err)
	}
	fc, err := cfg.FieldConfig()
	if err != nil {
		return err
	}
	coord, err := swarm.Assemble(agents, swarm.ConfigFrom(cfg.Swarm, fc),
		swarm.WithLogger(logger),
		swarm.WithRecorder(metrics),
		swarm.WithObserver(tickLogger(logger)))
	if err != nil {
		return err
	}

	if opts.resume != "" {
		snap, err := store.Load(ctx, st, opts.resume)
		if err != nil {
			return err
		}
		if err := coord.Restore(snap); err != nil {
			return fmt.Errorf("failed to restore snapshot %s: %w", opts.resume, err)
		}
		logger.Info("Field restored.", zap.String("snapshot_id", opts.resume), zap.Int64("tick", snap.Tick), zap.Int("signals", len(snap.Signals)))
	}
	if query != "" {
		if err := coord.SubmitSeed(query); err != nil {
			return err
		}
	}

	logger.Info("Starting investigation.",
		zap.String("query", query),
		zap.Int("agents", len(agents)),
		zap.Int("max_ticks", cfg.Swarm.MaxTicks),
		zap.Duration("timeout", cfg.Swarm.Timeout))

	outcome, err := coord.Run(runCtx)
	if err != nil {
		return err
	}

	report := reportFrom(query, outcome)
	if st != nil {
		report.SnapshotID = opts.snapshotID
		if report.SnapshotID == "" {
			report.SnapshotID = uuid.NewString()
		}
		// Save even when the run was interrupted so it can be resumed.
		saveCtx, cancelSave := context.WithTimeout(context.WithoutCancel(ctx), saveTimeout)
		err := store.Save(saveCtx, st, report.SnapshotID, outcome.Snapshot)
		cancelSave()
		if err != nil {
			logger.Error("Failed to save snapshot.", zap.String("snapshot_id", report.SnapshotID), zap.Error(err))
			report.SnapshotID = ""
		} else {
			logger.Info("Snapshot saved.", zap.String("snapshot_id", report.SnapshotID))
		}
	}

	if err := a.writeReport(render, report, opts.output); err != nil {
		return err
	}

	if outcome.Status == swarm.StatusFailed {
		return fmt.Errorf("%w: %s", ErrInvestigationFailed, outcome.Diagnostic)
	}
	if err := ctx.Err(); err != nil {
		return err
	}
	return nil
}

func (a *app) writeReport(render renderer, report runReport, path string) error {
	var w io.Writer = a.stdout
	if path != "" {
		f, err := os.Create(path)
		if err != nil {
			return fmt.Errorf("failed to create report file: %w", err)
		}
		defer f.Close()
		w = f
	}
	if err := render(w, report); err != nil {
		return fmt.Errorf("failed to write report: %w", err)
	}
	if path != "" {
		a.logger.Info("Report written.", zap.String("path", path))
	}
	return nil
}

// tickLogger reports progress at info level every few ticks.
func tickLogger(logger *zap.Logger) swarm.Observer {
	return func(r swarm.TickReport) {
		level := zap.DebugLevel
		if r.Tick%5 == 0 || r.Failures > 0 {
			level = zap.InfoLevel
		}
		if ce := logger.Check(level, "Tick complete."); ce != nil {
			ce.Write(
				zap.Int64("tick", r.Tick),
				zap.Int("signals", r.Active),
				zap.Int("new", r.Inserted),
				zap.Int("reinforced", r.Reinforced),
				zap.Int("expired", r.Decay.Expired),
				zap.Int("failures", r.Failures),
				zap.Duration("took", r.Duration))
		}
	}
}
