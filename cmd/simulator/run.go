package main

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"time"

	"github.com/Aidin1998/pincex_sim/internal/trading/config"
	"github.com/Aidin1998/pincex_sim/internal/trading/journal"
	"github.com/Aidin1998/pincex_sim/internal/trading/model"
	"github.com/Aidin1998/pincex_sim/internal/trading/repository"
	"github.com/Aidin1998/pincex_sim/internal/trading/simulator"
	"github.com/Aidin1998/pincex_sim/pkg/metrics"
	"github.com/google/uuid"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"go.uber.org/zap"
)

// sinks receives every emitted batch.
type sinks struct {
	runID  uuid.UUID
	writer *journal.Writer
	store  *journal.BadgerStore
	repo   *repository.Store
	seq    int64
	report *Report
}

func (s *sinks) emit(ctx context.Context, out model.Batch) error {
	if len(out) == 0 {
		return nil
	}
	s.report.count(out)
	if s.writer != nil {
		if err := s.writer.Write(out...); err != nil {
			return err
		}
	}
	if s.store != nil {
		next, err := s.store.Append(s.runID, s.seq+1, out...)
		if err != nil {
			return fmt.Errorf("failed to store outputs: %w", err)
		}
		s.seq = next - 1
	}
	if s.repo != nil {
		if _, err := s.repo.SaveTrades(ctx, s.runID, out); err != nil {
			return err
		}
	}
	return nil
}

// run replays the input journal through a fresh router and records the outputs.
func run(ctx context.Context, cfg *config.Config, logger *zap.Logger) (*Report, error) {
	runID := uuid.New()
	logger = logger.With(zap.String("run_id", runID.String()))
	started := time.Now().UTC()

	reg := prometheus.NewRegistry()
	collector := metrics.NewCollector(reg)
	if cfg.Metrics.Addr != "" {
		srv := &http.Server{Addr: cfg.Metrics.Addr, Handler: promhttp.HandlerFor(reg, promhttp.HandlerOpts{})}
		go func() {
			logger.Info("Starting metrics server", zap.String("addr", cfg.Metrics.Addr))
			if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
				logger.Error("Metrics server failed", zap.Error(err))
			}
		}()
		defer func() {
			shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
			defer cancel()
			_ = srv.Shutdown(shutdownCtx)
		}()
	}

	router, err := simulator.New(cfg.Simulator, logger, collector)
	if err != nil {
		return nil, err
	}

	report := newReport(runID, cfg, started)
	s := &sinks{runID: runID, report: report}

	if cfg.Journal.Output != "" {
		if s.writer, err = journal.Create(cfg.Journal.Output, runID, logger); err != nil {
			return nil, err
		}
		defer func() {
			if err := s.writer.Close(); err != nil {
				logger.Error("Failed to close output journal", zap.Error(err))
			}
		}()
	}
	if cfg.Journal.BadgerDir != "" {
		if s.store, err = journal.OpenBadger(cfg.Journal.BadgerDir, logger); err != nil {
			return nil, err
		}
		defer s.store.Close()
	}

	settingsYAML, err := config.Dump(&config.Config{Simulator: cfg.Simulator})
	if err != nil {
		return nil, err
	}
	runRecord := &repository.RunRecord{RunID: runID.String(), StartedAt: started, Settings: string(settingsYAML)}
	if cfg.Database.DSN != "" {
		if s.repo, err = repository.Open(cfg.Database.DSN, logger); err != nil {
			return nil, err
		}
		defer s.repo.Close()
		if err := s.repo.Migrate(ctx); err != nil {
			return nil, err
		}
		if err := s.repo.SaveRun(ctx, runRecord); err != nil {
			return nil, err
		}
	}

	logger.Info("Replaying input journal", zap.String("input", cfg.Journal.Input))
	stats, err := journal.ReplayFile(cfg.Journal.Input, logger, func(msg model.Message) (bool, error) {
		if ctx.Err() != nil {
			logger.Warn("Replay interrupted", zap.Int64("inputs", report.Inputs))
			return false, nil
		}
		report.Inputs++
		return true, s.emit(ctx, router.Process(msg))
	})
	if err != nil {
		return nil, err
	}
	if err := s.emit(ctx, router.Flush()); err != nil {
		return nil, err
	}

	report.Skipped = stats.Skipped
	report.finish(time.Now().UTC(), router.Ledgers())

	if s.repo != nil {
		if err := s.repo.SavePortfolios(ctx, runID, router.Ledgers()); err != nil {
			return nil, err
		}
		runRecord.FinishedAt = report.FinishedAt
		runRecord.Inputs = report.Inputs
		runRecord.Outputs = report.Outputs
		runRecord.Fills = report.Fills
		runRecord.Rejections = report.Rejections
		if err := s.repo.SaveRun(ctx, runRecord); err != nil {
			return nil, err
		}
	}
	if cfg.Report != "" {
		if err := report.WriteFile(cfg.Report); err != nil {
			return nil, err
		}
		logger.Info("Run report written", zap.String("path", cfg.Report))
	}
	return report, nil
}
