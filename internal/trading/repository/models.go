package repository

import (
	"time"

	"github.com/shopspring/decimal"
)

// RunRecord summarizes one simulation run.
type RunRecord struct {
	RunID      string    `gorm:"primaryKey;type:text"`
	StartedAt  time.Time `gorm:"not null"`
	FinishedAt time.Time
	Inputs     int64
	Outputs    int64
	Fills      int64
	Rejections int64
	// Settings is the YAML dump of the settings the run used.
	Settings string `gorm:"type:text"`
}

// TradeRecord is an own trade produced during a run.
type TradeRecord struct {
	ID            uint   `gorm:"primaryKey"`
	RunID         string `gorm:"type:text;index;not null"`
	TradeID       int64  `gorm:"index"`
	OrderID       int64
	TransactionID int64
	Security      string `gorm:"not null"`
	Board         string
	Portfolio     string              `gorm:"index"`
	Side          string              `gorm:"not null"`
	Price         decimal.Decimal     `gorm:"type:text;not null"`
	Volume        decimal.Decimal     `gorm:"type:text;not null"`
	IsMaker       bool                `gorm:"not null;default:false"`
	Commission    decimal.NullDecimal `gorm:"type:text"`
	TradedAt      time.Time           `gorm:"not null"`
}

// PortfolioRecord is the money state of a portfolio at the end of a run.
type PortfolioRecord struct {
	ID            uint            `gorm:"primaryKey"`
	RunID         string          `gorm:"type:text;index;not null"`
	Portfolio     string          `gorm:"not null"`
	CurrentMoney  decimal.Decimal `gorm:"type:text"`
	BlockedMoney  decimal.Decimal `gorm:"type:text"`
	Commission    decimal.Decimal `gorm:"type:text"`
	RealizedPnL   decimal.Decimal `gorm:"type:text"`
	UnrealizedPnL decimal.Decimal `gorm:"type:text"`
}

// PositionRecord is a security position at the end of a run.
type PositionRecord struct {
	ID           uint            `gorm:"primaryKey"`
	RunID        string          `gorm:"type:text;index;not null"`
	Portfolio    string          `gorm:"not null"`
	Security     string          `gorm:"not null"`
	Board        string
	Current      decimal.Decimal `gorm:"type:text"`
	AveragePrice decimal.Decimal `gorm:"type:text"`
	TotalBids    decimal.Decimal `gorm:"type:text"`
	TotalAsks    decimal.Decimal `gorm:"type:text"`
	Blocked      decimal.Decimal `gorm:"type:text"`
}
