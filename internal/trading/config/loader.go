package config

import (
	"fmt"
	"os"
	"reflect"
	"strings"

	"github.com/go-viper/mapstructure/v2"
	"github.com/shopspring/decimal"
	"github.com/spf13/viper"
	"go.uber.org/zap"
	"gopkg.in/yaml.v3"
)

// EnvPrefix prefixes environment overrides, e.g. SIM_SIMULATOR_LATENCY=500ms.
const EnvPrefix = "SIM"

// Load reads configuration from path, or from simulator.yaml in the usual
// locations when path is empty. Environment variables override file values.
// A missing file falls back to defaults.
func Load(path string, logger *zap.Logger) (*Config, error) {
	logger = logger.Named("config")
	v := viper.New()
	setDefaults(v, DefaultConfig())

	v.SetEnvPrefix(EnvPrefix)
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	if path != "" {
		if _, err := os.Stat(path); os.IsNotExist(err) {
			return nil, fmt.Errorf("configuration file does not exist: %s", path)
		}
		v.SetConfigFile(path)
	} else {
		v.SetConfigName("simulator")
		v.SetConfigType("yaml")
		v.AddConfigPath(".")
		v.AddConfigPath("./configs")
		v.AddConfigPath("/etc/pincex")
	}

	if err := v.ReadInConfig(); err != nil {
		if _, ok := err.(viper.ConfigFileNotFoundError); !ok {
			return nil, fmt.Errorf("failed to read configuration: %w", err)
		}
		logger.Warn("Configuration file not found, using defaults")
	} else {
		logger.Info("Configuration loaded", zap.String("file", v.ConfigFileUsed()))
	}

	cfg := &Config{}
	if err := v.Unmarshal(cfg, viper.DecodeHook(mapstructure.ComposeDecodeHookFunc(
		mapstructure.StringToTimeDurationHookFunc(),
		stringToDecimalHook(),
	))); err != nil {
		return nil, fmt.Errorf("failed to decode configuration: %w", err)
	}
	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("invalid configuration: %w", err)
	}
	return cfg, nil
}

// setDefaults registers every key so that AutomaticEnv can override it.
func setDefaults(v *viper.Viper, cfg *Config) {
	s := cfg.Simulator
	v.SetDefault("log.level", cfg.Log.Level)
	v.SetDefault("log.development", cfg.Log.Development)
	v.SetDefault("simulator.latency", s.Latency)
	v.SetDefault("simulator.failing", s.Failing)
	v.SetDefault("simulator.spread_size", s.SpreadSize)
	v.SetDefault("simulator.max_depth", s.MaxDepth)
	v.SetDefault("simulator.match_on_touch", s.MatchOnTouch)
	v.SetDefault("simulator.increase_depth_volume", s.IncreaseDepthVolume)
	v.SetDefault("simulator.check_money", s.CheckMoney)
	v.SetDefault("simulator.check_shortable", s.CheckShortable)
	v.SetDefault("simulator.check_trading_state", s.CheckTradingState)
	v.SetDefault("simulator.price_limit_offset", s.PriceLimitOffset.String())
	v.SetDefault("simulator.portfolio_recalc_interval", s.PortfolioRecalcInterval)
	v.SetDefault("simulator.buffer_time", s.BufferTime)
	v.SetDefault("simulator.convert_time", s.ConvertTime)
	v.SetDefault("simulator.time_zone", s.TimeZone)
	v.SetDefault("simulator.initial_order_id", s.InitialOrderID)
	v.SetDefault("simulator.initial_trade_id", s.InitialTradeID)
	v.SetDefault("simulator.random_seed", s.RandomSeed)
	v.SetDefault("simulator.default_portfolio", s.DefaultPortfolio)
	v.SetDefault("journal.input", cfg.Journal.Input)
	v.SetDefault("journal.output", cfg.Journal.Output)
	v.SetDefault("journal.badger_dir", cfg.Journal.BadgerDir)
	v.SetDefault("database.dsn", cfg.Database.DSN)
	v.SetDefault("metrics.addr", cfg.Metrics.Addr)
	v.SetDefault("report", cfg.Report)
}

// stringToDecimalHook decodes strings and numbers into decimal.Decimal.
func stringToDecimalHook() mapstructure.DecodeHookFuncType {
	target := reflect.TypeOf(decimal.Decimal{})
	return func(from reflect.Type, to reflect.Type, data interface{}) (interface{}, error) {
		if to != target {
			return data, nil
		}
		switch v := data.(type) {
		case string:
			if v == "" {
				return decimal.Zero, nil
			}
			return decimal.NewFromString(v)
		case int:
			return decimal.NewFromInt(int64(v)), nil
		case int64:
			return decimal.NewFromInt(v), nil
		case float64:
			return decimal.NewFromFloat(v), nil
		}
		return data, nil
	}
}

// Dump renders the configuration as YAML.
func Dump(cfg *Config) ([]byte, error) {
	out, err := yaml.Marshal(cfg)
	if err != nil {
		return nil, fmt.Errorf("failed to encode configuration: %w", err)
	}
	return out, nil
}
