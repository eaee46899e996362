package cli

import (
	"context"
	"log/slog"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/spf13/cobra"

	"github.com/roach88/edb/internal/config"
	"github.com/roach88/edb/internal/edb"
	"github.com/roach88/edb/internal/kvstore"
	"github.com/roach88/edb/internal/metrics"
	"github.com/roach88/edb/internal/store"
)

// session is an open database plus the output and logging a command uses.
type session struct {
	db       *edb.Database
	out      *OutputFormatter
	logger   *slog.Logger
	registry *prometheus.Registry
}

// openSession resolves settings and opens the configured backend. The
// caller must Close the session.
func openSession(cmd *cobra.Command, opts *RootOptions) (*session, error) {
	cfg, err := opts.settings()
	if err != nil {
		return nil, WrapExitError(ExitCommandError, "invalid settings", err)
	}

	logger := slog.New(slog.NewTextHandler(cmd.ErrOrStderr(), &slog.HandlerOptions{
		Level: opts.logLevel(cfg),
	}))
	reg := prometheus.NewRegistry()

	logger.Debug("opening database", "backend", cfg.Backend, "path", cfg.Path)
	st, err := openStore(cfg, reg)
	if err != nil {
		return nil, WrapExitError(ExitCommandError, "failed to open database", err)
	}

	dbOpts := append(cfg.DatabaseOptions(),
		edb.WithLogger(logger),
		edb.WithMetrics(metrics.New(reg)),
	)
	db, err := edb.New(commandContext(cmd), st, dbOpts...)
	if err != nil {
		st.Close()
		return nil, WrapExitError(ExitCommandError, "failed to open database", err)
	}

	return &session{
		db: db,
		out: &OutputFormatter{
			Format:    opts.Format,
			Writer:    cmd.OutOrStdout(),
			ErrWriter: cmd.ErrOrStderr(),
			Verbose:   opts.Verbose,
		},
		logger:   logger,
		registry: reg,
	}, nil
}

func openStore(cfg config.Config, reg prometheus.Registerer) (edb.Store, error) {
	switch cfg.Backend {
	case config.BackendPebble:
		st, err := kvstore.Open(cfg.Path)
		if err != nil {
			return nil, err
		}
		reg.MustRegister(st.Collector())
		return st, nil
	default:
		return store.Open(cfg.Path)
	}
}

// Close logs the session's counters at debug level and closes the
// database.
func (s *session) Close() {
	s.logCounters()
	if err := s.db.Close(); err != nil {
		s.logger.Error("error closing database", "error", err)
	}
}

func (s *session) logCounters() {
	if !s.logger.Enabled(context.Background(), slog.LevelDebug) {
		return
	}
	families, err := s.registry.Gather()
	if err != nil {
		s.logger.Debug("gather metrics", "error", err)
		return
	}
	for _, mf := range families {
		var total float64
		for _, m := range mf.GetMetric() {
			if c := m.GetCounter(); c != nil {
				total += c.GetValue()
			}
			if h := m.GetHistogram(); h != nil {
				total += float64(h.GetSampleCount())
			}
		}
		if total > 0 {
			s.logger.Debug("metric", "name", mf.GetName(), "value", total)
		}
	}
}

func commandContext(cmd *cobra.Command) context.Context {
	if ctx := cmd.Context(); ctx != nil {
		return ctx
	}
	return context.Background()
}
