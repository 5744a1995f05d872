package main

import (
	"fmt"
	"os"
	"time"

	"github.com/Aidin1998/pincex_sim/internal/trading/config"
	"github.com/Aidin1998/pincex_sim/internal/trading/model"
	"github.com/Aidin1998/pincex_sim/internal/trading/portfolio"
	"github.com/google/uuid"
	"gopkg.in/yaml.v3"
)

// Report is the YAML summary of a run.
type Report struct {
	RunID        string            `yaml:"run_id"`
	Input        string            `yaml:"input"`
	StartedAt    time.Time         `yaml:"started_at"`
	FinishedAt   time.Time         `yaml:"finished_at"`
	Inputs       int64             `yaml:"inputs"`
	Skipped      int               `yaml:"skipped,omitempty"`
	Outputs      int64             `yaml:"outputs"`
	Fills        int64             `yaml:"fills"`
	Rejections   int64             `yaml:"rejections"`
	ErrorReports int64             `yaml:"error_reports"`
	Portfolios   []PortfolioReport `yaml:"portfolios"`
}

type PortfolioReport struct {
	Name          string           `yaml:"name"`
	CurrentMoney  string           `yaml:"current_money"`
	BlockedMoney  string           `yaml:"blocked_money"`
	Commission    string           `yaml:"commission"`
	RealizedPnL   string           `yaml:"realized_pnl"`
	UnrealizedPnL string           `yaml:"unrealized_pnl"`
	Positions     []PositionReport `yaml:"positions,omitempty"`
}

type PositionReport struct {
	Security     string `yaml:"security"`
	Current      string `yaml:"current"`
	AveragePrice string `yaml:"average_price"`
}

func newReport(runID uuid.UUID, cfg *config.Config, started time.Time) *Report {
	return &Report{RunID: runID.String(), Input: cfg.Journal.Input, StartedAt: started}
}

func (r *Report) count(out model.Batch) {
	for _, msg := range out {
		r.Outputs++
		switch m := msg.(type) {
		case *model.ErrorReport:
			r.ErrorReports++
		case *model.Execution:
			if m.DataType != model.DataTypeTransactions {
				continue
			}
			if m.HasTradeInfo {
				r.Fills++
			}
			if m.OrderState == model.OrderStateFailed {
				r.Rejections++
			}
		}
	}
}

func (r *Report) finish(t time.Time, ledgers []*portfolio.Ledger) {
	r.FinishedAt = t
	r.Portfolios = r.Portfolios[:0]
	for _, l := range ledgers {
		pf := PortfolioReport{
			Name:          l.Name(),
			CurrentMoney:  l.CurrentMoney().String(),
			BlockedMoney:  l.BlockedMoney().String(),
			Commission:    l.Commission().String(),
			RealizedPnL:   l.PnL().RealizedPnL().String(),
			UnrealizedPnL: l.PnL().UnrealizedPnL().String(),
		}
		for _, p := range l.Snapshot() {
			pf.Positions = append(pf.Positions, PositionReport{
				Security:     p.SecurityID.String(),
				Current:      p.Current.String(),
				AveragePrice: p.AveragePrice.String(),
			})
		}
		r.Portfolios = append(r.Portfolios, pf)
	}
}

// WriteFile renders the report as YAML at path.
func (r *Report) WriteFile(path string) error {
	data, err := yaml.Marshal(r)
	if err != nil {
		return fmt.Errorf("failed to encode report: %w", err)
	}
	if err := os.WriteFile(path, data, 0644); err != nil {
		return fmt.Errorf("failed to write report: %w", err)
	}
	return nil
}
