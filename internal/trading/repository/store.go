// Package repository persists the results of simulation runs with gorm.
package repository

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/Aidin1998/pincex_sim/internal/trading/model"
	"github.com/Aidin1998/pincex_sim/internal/trading/portfolio"
	"github.com/google/uuid"
	"go.uber.org/zap"
	"gorm.io/driver/postgres"
	"gorm.io/driver/sqlite"
	"gorm.io/gorm"
	gormlogger "gorm.io/gorm/logger"
)

const batchSize = 100

// Store keeps runs, their trades and their final portfolios.
type Store struct {
	db     *gorm.DB
	logger *zap.Logger
}

// New wraps an open database.
func New(db *gorm.DB, logger *zap.Logger) *Store {
	return &Store{db: db, logger: logger.Named("repository")}
}

// dialector picks postgres for URL or keyword/value DSNs and sqlite for everything else.
func dialector(dsn string) gorm.Dialector {
	if strings.HasPrefix(dsn, "postgres://") || strings.HasPrefix(dsn, "postgresql://") || strings.HasPrefix(dsn, "host=") {
		return postgres.Open(dsn)
	}
	return sqlite.Open(dsn)
}

// Open opens the database at dsn: a postgres DSN, a sqlite file or ":memory:".
func Open(dsn string, logger *zap.Logger) (*Store, error) {
	db, err := gorm.Open(dialector(dsn), &gorm.Config{
		Logger: gormlogger.Default.LogMode(gormlogger.Silent),
	})
	if err != nil {
		return nil, fmt.Errorf("failed to open database: %w", err)
	}
	if dsn == ":memory:" {
		// every connection would get its own empty database
		sqlDB, err := db.DB()
		if err != nil {
			return nil, err
		}
		sqlDB.SetMaxOpenConns(1)
	}
	return New(db, logger), nil
}

// Migrate creates or updates the tables.
func (s *Store) Migrate(ctx context.Context) error {
	if err := s.db.WithContext(ctx).AutoMigrate(&RunRecord{}, &TradeRecord{}, &PortfolioRecord{}, &PositionRecord{}); err != nil {
		return fmt.Errorf("failed to migrate: %w", err)
	}
	return nil
}

// SaveRun inserts or updates the run summary.
func (s *Store) SaveRun(ctx context.Context, run *RunRecord) error {
	if err := s.db.WithContext(ctx).Save(run).Error; err != nil {
		s.logger.Error("Failed to save run", zap.Error(err), zap.String("run_id", run.RunID))
		return fmt.Errorf("failed to save run: %w", err)
	}
	return nil
}

// GetRun loads a run summary.
func (s *Store) GetRun(ctx context.Context, runID uuid.UUID) (*RunRecord, error) {
	var run RunRecord
	if err := s.db.WithContext(ctx).Where("run_id = ?", runID.String()).First(&run).Error; err != nil {
		return nil, fmt.Errorf("failed to get run %s: %w", runID, err)
	}
	return &run, nil
}

// SaveTrades stores the own trade reports found in out and returns how many there were.
func (s *Store) SaveTrades(ctx context.Context, runID uuid.UUID, out []model.Message) (int, error) {
	var trades []TradeRecord
	for _, msg := range out {
		exec, ok := msg.(*model.Execution)
		if !ok || exec.DataType != model.DataTypeTransactions || !exec.HasTradeInfo {
			continue
		}
		trades = append(trades, TradeRecord{
			RunID:         runID.String(),
			TradeID:       exec.TradeID,
			OrderID:       exec.OrderID,
			TransactionID: exec.OriginalTransactionID,
			Security:      exec.SecurityID.Code,
			Board:         exec.SecurityID.Board,
			Portfolio:     exec.PortfolioName,
			Side:          string(exec.Side),
			Price:         exec.TradePrice.Decimal,
			Volume:        exec.TradeVolume.Decimal,
			IsMaker:       exec.IsMaker,
			Commission:    exec.Commission,
			TradedAt:      exec.ServerTime,
		})
	}
	if len(trades) == 0 {
		return 0, nil
	}

	start := time.Now()
	if err := s.db.WithContext(ctx).CreateInBatches(trades, batchSize).Error; err != nil {
		return 0, fmt.Errorf("failed to batch create trades: %w", err)
	}
	s.logger.Debug("trades saved",
		zap.String("run_id", runID.String()),
		zap.Int("trade_count", len(trades)),
		zap.Duration("duration", time.Since(start)))
	return len(trades), nil
}

// SavePortfolios stores the final money state and positions of every ledger in one transaction.
func (s *Store) SavePortfolios(ctx context.Context, runID uuid.UUID, ledgers []*portfolio.Ledger) error {
	return s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		for _, l := range ledgers {
			pf := PortfolioRecord{
				RunID:         runID.String(),
				Portfolio:     l.Name(),
				CurrentMoney:  l.CurrentMoney(),
				BlockedMoney:  l.BlockedMoney(),
				Commission:    l.Commission(),
				RealizedPnL:   l.PnL().RealizedPnL(),
				UnrealizedPnL: l.PnL().UnrealizedPnL(),
			}
			if err := tx.Create(&pf).Error; err != nil {
				return fmt.Errorf("failed to create portfolio %s: %w", l.Name(), err)
			}

			positions := l.Snapshot()
			if len(positions) == 0 {
				continue
			}
			rows := make([]PositionRecord, 0, len(positions))
			for _, p := range positions {
				rows = append(rows, PositionRecord{
					RunID:        runID.String(),
					Portfolio:    l.Name(),
					Security:     p.SecurityID.Code,
					Board:        p.SecurityID.Board,
					Current:      p.Current,
					AveragePrice: p.AveragePrice,
					TotalBids:    p.TotalBids,
					TotalAsks:    p.TotalAsks,
					Blocked:      p.Blocked,
				})
			}
			if err := tx.CreateInBatches(rows, batchSize).Error; err != nil {
				return fmt.Errorf("failed to create positions of %s: %w", l.Name(), err)
			}
		}
		return nil
	})
}

// TradesByRun returns the trades of a run in the order they happened.
func (s *Store) TradesByRun(ctx context.Context, runID uuid.UUID) ([]TradeRecord, error) {
	var trades []TradeRecord
	err := s.db.WithContext(ctx).Where("run_id = ?", runID.String()).Order("id").Find(&trades).Error
	if err != nil {
		return nil, fmt.Errorf("failed to list trades: %w", err)
	}
	return trades, nil
}

// PortfoliosByRun returns the final portfolios of a run.
func (s *Store) PortfoliosByRun(ctx context.Context, runID uuid.UUID) ([]PortfolioRecord, error) {
	var rows []PortfolioRecord
	err := s.db.WithContext(ctx).Where("run_id = ?", runID.String()).Order("id").Find(&rows).Error
	if err != nil {
		return nil, fmt.Errorf("failed to list portfolios: %w", err)
	}
	return rows, nil
}

// PositionsByRun returns the final positions of a run, optionally of one portfolio.
func (s *Store) PositionsByRun(ctx context.Context, runID uuid.UUID, portfolioName string) ([]PositionRecord, error) {
	query := s.db.WithContext(ctx).Where("run_id = ?", runID.String())
	if portfolioName != "" {
		query = query.Where("portfolio = ?", portfolioName)
	}
	var rows []PositionRecord
	if err := query.Order("id").Find(&rows).Error; err != nil {
		return nil, fmt.Errorf("failed to list positions: %w", err)
	}
	return rows, nil
}

// Close closes the underlying connection pool.
func (s *Store) Close() error {
	sqlDB, err := s.db.DB()
	if err != nil {
		return err
	}
	return sqlDB.Close()
}
