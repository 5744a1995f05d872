package config

import (
	"errors"
	"fmt"
	"reflect"
	"strings"
	"time"

	"github.com/Aidin1998/pincex_sim/pkg/logger"
	"github.com/go-playground/validator/v10"
	"github.com/shopspring/decimal"
)

// Settings is the behaviour surface of the simulator.
type Settings struct {
	// Latency delays own order commands before they reach the matcher.
	Latency time.Duration `mapstructure:"latency" yaml:"latency" validate:"gte=0"`
	// Failing is the percent probability of rejecting an otherwise valid command.
	Failing float64 `mapstructure:"failing" yaml:"failing" validate:"gte=0,lte=100"`
	// SpreadSize is the number of price steps between synthesized bid and ask.
	SpreadSize int `mapstructure:"spread_size" yaml:"spread_size" validate:"gte=1"`
	// MaxDepth caps the synthesized book depth.
	MaxDepth            int  `mapstructure:"max_depth" yaml:"max_depth" validate:"gte=1"`
	MatchOnTouch        bool `mapstructure:"match_on_touch" yaml:"match_on_touch"`
	IncreaseDepthVolume bool `mapstructure:"increase_depth_volume" yaml:"increase_depth_volume"`
	CheckMoney          bool `mapstructure:"check_money" yaml:"check_money"`
	CheckShortable      bool `mapstructure:"check_shortable" yaml:"check_shortable"`
	CheckTradingState   bool `mapstructure:"check_trading_state" yaml:"check_trading_state"`
	// PriceLimitOffset is the daily band half width; zero disables price limits.
	PriceLimitOffset        decimal.Decimal `mapstructure:"price_limit_offset" yaml:"price_limit_offset"`
	PortfolioRecalcInterval time.Duration   `mapstructure:"portfolio_recalc_interval" yaml:"portfolio_recalc_interval" validate:"gte=0"`
	BufferTime              time.Duration   `mapstructure:"buffer_time" yaml:"buffer_time" validate:"gte=0"`
	ConvertTime             bool            `mapstructure:"convert_time" yaml:"convert_time"`
	TimeZone                string          `mapstructure:"time_zone" yaml:"time_zone" validate:"omitempty,timezone"`

	InitialOrderID   int64  `mapstructure:"initial_order_id" yaml:"initial_order_id"`
	InitialTradeID   int64  `mapstructure:"initial_trade_id" yaml:"initial_trade_id"`
	RandomSeed       int64  `mapstructure:"random_seed" yaml:"random_seed"`
	DefaultPortfolio string `mapstructure:"default_portfolio" yaml:"default_portfolio" validate:"required"`
}

// DefaultSettings returns the platform defaults.
func DefaultSettings() Settings {
	return Settings{
		SpreadSize:          2,
		MaxDepth:            5,
		IncreaseDepthVolume: true,
		PriceLimitOffset:    decimal.NewFromInt(40),
		DefaultPortfolio:    "Simulator",
	}
}

var validate = newValidator()

func newValidator() *validator.Validate {
	v := validator.New()
	v.RegisterTagNameFunc(func(fld reflect.StructField) string {
		name := strings.SplitN(fld.Tag.Get("mapstructure"), ",", 2)[0]
		if name == "-" {
			return ""
		}
		return name
	})
	return v
}

// Validate checks the settings ranges.
func (s *Settings) Validate() error {
	if err := validate.Struct(s); err != nil {
		var fieldsError validator.ValidationErrors
		if errors.As(err, &fieldsError) && len(fieldsError) > 0 {
			f := fieldsError[0]
			return fmt.Errorf("%s must satisfy %s=%s, got %v", f.Field(), f.Tag(), f.Param(), f.Value())
		}
		return err
	}
	if s.PriceLimitOffset.IsNegative() {
		return fmt.Errorf("price_limit_offset must not be negative, got %s", s.PriceLimitOffset)
	}
	if _, err := s.Location(); err != nil {
		return err
	}
	return nil
}

// Location resolves TimeZone, nil when unset.
func (s *Settings) Location() (*time.Location, error) {
	if s.TimeZone == "" {
		return nil, nil
	}
	loc, err := time.LoadLocation(s.TimeZone)
	if err != nil {
		return nil, fmt.Errorf("invalid time_zone %q: %w", s.TimeZone, err)
	}
	return loc, nil
}

// JournalConfig locates the input and output message journals.
type JournalConfig struct {
	Input  string `mapstructure:"input" yaml:"input"`
	Output string `mapstructure:"output" yaml:"output"`
	// BadgerDir stores run outputs in badger when set.
	BadgerDir string `mapstructure:"badger_dir" yaml:"badger_dir"`
}

// DatabaseConfig points the result repository at a sqlite file or a postgres DSN.
type DatabaseConfig struct {
	DSN string `mapstructure:"dsn" yaml:"dsn"`
}

// MetricsConfig exposes prometheus metrics over HTTP when Addr is set.
type MetricsConfig struct {
	Addr string `mapstructure:"addr" yaml:"addr"`
}

// Config is the full configuration of a simulation run.
type Config struct {
	Log       logger.Config  `mapstructure:"log" yaml:"log"`
	Simulator Settings       `mapstructure:"simulator" yaml:"simulator"`
	Journal   JournalConfig  `mapstructure:"journal" yaml:"journal"`
	Database  DatabaseConfig `mapstructure:"database" yaml:"database"`
	Metrics   MetricsConfig  `mapstructure:"metrics" yaml:"metrics"`
	// Report is the path of the YAML run report.
	Report string `mapstructure:"report" yaml:"report"`
}

// DefaultConfig returns a configuration that replays nothing and writes nothing.
func DefaultConfig() *Config {
	return &Config{
		Log:       logger.Config{Level: "info"},
		Simulator: DefaultSettings(),
	}
}

// Validate checks every section.
func (c *Config) Validate() error {
	if err := c.Simulator.Validate(); err != nil {
		return fmt.Errorf("simulator: %w", err)
	}
	return nil
}
