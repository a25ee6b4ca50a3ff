package main

import (
	"fmt"
	"os"
	"path/filepath"
	"time"

	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"

	"github.com/dgnsrekt/livetiming-relay/internal/config"
)

const logFileLayout = "2006-01-02_15-04-05"

// logSetup builds the process logger. Console output goes to stderr and,
// when file logging is enabled, a JSON copy goes to a timestamped file.
type logSetup struct {
	verbose bool
	cfg     *config.LoggingConfig
	now     func() time.Time
	stderr  zapcore.WriteSyncer
}

func newLogSetup(verbose bool, cfg *config.LoggingConfig) logSetup {
	return logSetup{verbose: verbose, cfg: cfg, now: time.Now, stderr: zapcore.Lock(os.Stderr)}
}

func (s logSetup) level() (zapcore.Level, error) {
	if s.verbose {
		return zapcore.DebugLevel, nil
	}
	if s.cfg == nil || s.cfg.Level == "" {
		return zapcore.InfoLevel, nil
	}
	lvl, err := zapcore.ParseLevel(s.cfg.Level)
	if err != nil {
		return zapcore.InfoLevel, fmt.Errorf("parsing log level: %w", err)
	}
	return lvl, nil
}

// build returns the logger and a function that closes any log file.
func (s logSetup) build() (*zap.Logger, func(), error) {
	lvl, err := s.level()
	if err != nil {
		return nil, nil, err
	}
	enabled := zap.NewAtomicLevelAt(lvl)

	consoleEnc := zap.NewProductionEncoderConfig()
	consoleEnc.EncodeTime = zapcore.ISO8601TimeEncoder
	var console zapcore.Encoder
	if s.verbose {
		consoleEnc.EncodeLevel = zapcore.CapitalColorLevelEncoder
		console = zapcore.NewConsoleEncoder(consoleEnc)
	} else {
		console = zapcore.NewJSONEncoder(consoleEnc)
	}
	cores := []zapcore.Core{zapcore.NewCore(console, s.stderr, enabled)}

	closeFile := func() {}
	if s.cfg != nil && s.cfg.Enabled {
		if err := os.MkdirAll(s.cfg.Directory, 0o755); err != nil {
			return nil, nil, fmt.Errorf("creating logs directory: %w", err)
		}
		path := filepath.Join(s.cfg.Directory, "relay_"+s.now().Format(logFileLayout)+".log")
		sink, closer, err := zap.Open(path)
		if err != nil {
			return nil, nil, fmt.Errorf("opening log file: %w", err)
		}
		closeFile = closer
		cores = append(cores, zapcore.NewCore(zapcore.NewJSONEncoder(zap.NewProductionEncoderConfig()), sink, enabled))
	}

	opts := []zap.Option{zap.AddCaller()}
	if s.verbose {
		opts = append(opts, zap.Development(), zap.AddStacktrace(zapcore.ErrorLevel))
	}
	return zap.New(zapcore.NewTee(cores...), opts...), closeFile, nil
}
