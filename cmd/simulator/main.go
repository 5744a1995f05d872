package main

import (
	"context"
	"log"
	"os"
	"os/signal"
	"syscall"

	"github.com/Aidin1998/pincex_sim/internal/trading/config"
	"github.com/Aidin1998/pincex_sim/pkg/logger"
	"github.com/joho/godotenv"
	"github.com/spf13/pflag"
	"go.uber.org/zap"
)

func main() {
	// Load environment variables
	if err := godotenv.Load(); err != nil {
		log.Println("Warning: .env file not found, using environment variables")
	}

	configPath := pflag.StringP("config", "c", "", "path of the YAML configuration file")
	input := pflag.StringP("input", "i", "", "input message journal (JSON lines)")
	output := pflag.StringP("output", "o", "", "output message journal (JSON lines)")
	badgerDir := pflag.String("badger-dir", "", "directory of the badger run store")
	dsn := pflag.String("db", "", "sqlite file or postgres DSN for trades and final positions")
	report := pflag.String("report", "", "path of the YAML run report")
	metricsAddr := pflag.String("metrics-addr", "", "serve prometheus metrics on this address")
	logLevel := pflag.String("log-level", "", "log level (debug, info, warn, error)")
	pflag.Parse()

	// Bootstrap logger until the configuration is known
	level := os.Getenv("LOG_LEVEL")
	if level == "" {
		level = "info"
	}
	zapLogger, err := logger.NewLogger(level)
	if err != nil {
		log.Fatalf("Failed to create logger: %v", err)
	}

	cfg, err := config.Load(*configPath, zapLogger)
	if err != nil {
		zapLogger.Fatal("Failed to load configuration", zap.Error(err))
	}

	overrides := map[*string]*string{
		input:       &cfg.Journal.Input,
		output:      &cfg.Journal.Output,
		badgerDir:   &cfg.Journal.BadgerDir,
		dsn:         &cfg.Database.DSN,
		report:      &cfg.Report,
		metricsAddr: &cfg.Metrics.Addr,
		logLevel:    &cfg.Log.Level,
	}
	for flag, field := range overrides {
		if *flag != "" {
			*field = *flag
		}
	}
	if cfg.Journal.Input == "" {
		zapLogger.Fatal("No input journal given, use --input or journal.input")
	}

	zapLogger, err = logger.New(cfg.Log)
	if err != nil {
		log.Fatalf("Failed to create logger: %v", err)
	}
	defer zapLogger.Sync()

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	summary, err := run(ctx, cfg, zapLogger)
	if err != nil {
		zapLogger.Fatal("Simulation failed", zap.Error(err))
	}
	zapLogger.Info("Simulation finished",
		zap.String("run_id", summary.RunID),
		zap.Int64("inputs", summary.Inputs),
		zap.Int64("outputs", summary.Outputs),
		zap.Int64("fills", summary.Fills))
}
