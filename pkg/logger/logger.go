// Package logger builds the zap loggers the buffer pool engine runs on.
// Besides the usual level/format/output knobs it owns two concerns specific
// to this engine: rate sampling, because the pool logs from very hot paths
// (page gets, flush batches, eviction scans) where an unthrottled debug
// level would dominate the run; and the identity fields (engine id, pool
// instance, page) that every component attaches so one engine's shards can
// be told apart in aggregated output.
package logger

import (
	"fmt"
	"os"
	"strings"
	"time"

	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
)

// Shared field keys. Components use these instead of ad-hoc strings so the
// engine id and shard index are queryable across every log line.
const (
	FieldEngineID     = "engine_id"
	FieldPoolInstance = "pool_instance"
	FieldPage         = "page"
)

// Config holds all the configuration for the logger.
type Config struct {
	// Level sets the minimum log level (e.g., "debug", "info", "warn", "error").
	Level string `yaml:"level"`
	// Format specifies the log output format ("json" or "console").
	Format string `yaml:"format"`
	// OutputFile specifies the file to write logs to. "stdout" or "stderr"
	// can be used to log to the console.
	OutputFile string `yaml:"output_file"`
	// Sampling throttles repeated entries; meant to be enabled whenever the
	// pool runs at debug level under load.
	Sampling Sampling `yaml:"sampling"`
}

// Sampling caps identical log entries per second: Initial entries pass,
// then every Thereafter-th.
type Sampling struct {
	Enabled    bool `yaml:"enabled"`
	Initial    int  `yaml:"initial"`
	Thereafter int  `yaml:"thereafter"`
}

// New creates the engine's root zap.Logger. It's designed to be called once
// at startup; components derive their own loggers via ForEngine and
// ForInstance.
func New(config Config) (*zap.Logger, error) {
	logLevel := zap.NewAtomicLevel()
	if err := logLevel.UnmarshalText([]byte(config.Level)); err != nil {
		logLevel.SetLevel(zap.InfoLevel)
	}

	sink, err := openSink(config.OutputFile)
	if err != nil {
		return nil, err
	}

	core := zapcore.NewCore(buildEncoder(config.Format), sink, logLevel)
	if config.Sampling.Enabled {
		initial, thereafter := config.Sampling.Initial, config.Sampling.Thereafter
		if initial <= 0 {
			initial = 100
		}
		if thereafter <= 0 {
			thereafter = 100
		}
		core = zapcore.NewSamplerWithOptions(core, time.Second, initial, thereafter)
	}

	logger := zap.New(core, zap.AddCaller()).
		WithOptions(zap.Fields(zap.String("service", "yureidb")))
	return logger, nil
}

// ForEngine derives the logger one engine instance hands to its components:
// named after the subsystem and carrying the engine's identity, so lines
// from two engines in one process never blur together.
func ForEngine(base *zap.Logger, engineID string) *zap.Logger {
	return base.Named("bufpool").With(zap.String(FieldEngineID, engineID))
}

// ForInstance derives a pool shard's logger.
func ForInstance(base *zap.Logger, instance int) *zap.Logger {
	return base.With(zap.Int(FieldPoolInstance, instance))
}

// buildEncoder maps the configured format onto an encoder; JSON for
// machines, console for humans.
func buildEncoder(format string) zapcore.Encoder {
	encoderConfig := zap.NewProductionEncoderConfig()
	encoderConfig.EncodeTime = zapcore.ISO8601TimeEncoder
	encoderConfig.EncodeLevel = zapcore.CapitalLevelEncoder
	if strings.ToLower(format) == "console" {
		return zapcore.NewConsoleEncoder(encoderConfig)
	}
	return zapcore.NewJSONEncoder(encoderConfig)
}

// openSink resolves the output destination.
func openSink(outputFile string) (zapcore.WriteSyncer, error) {
	switch strings.ToLower(outputFile) {
	case "stdout", "":
		return zapcore.AddSync(os.Stdout), nil
	case "stderr":
		return zapcore.AddSync(os.Stderr), nil
	default:
		file, err := os.OpenFile(outputFile, os.O_APPEND|os.O_CREATE|os.O_WRONLY, 0644)
		if err != nil {
			return nil, fmt.Errorf("failed to open log file %s: %w", outputFile, err)
		}
		return zapcore.AddSync(file), nil
	}
}
