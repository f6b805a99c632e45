package main

import (
	"context"
	"errors"
	"flag"
	"io/fs"
	"log"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/KevinKickass/OpenLoadbank/internal/config"
	"github.com/KevinKickass/OpenLoadbank/internal/console"
	"github.com/KevinKickass/OpenLoadbank/internal/system"
	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
)

const defaultConfigPath = "configs/config.yaml"

func main() {
	configPath := flag.String("config", defaultConfigPath, "path to the YAML config file")
	profilePath := flag.String("profile", "", "profile file to schedule (overrides profile.path)")
	outTag := flag.String("out", "", "tag appended to the results file name (overrides results.tag)")
	verbose := flag.Bool("verbose", false, "log every sample and enable debug logging")
	auto := flag.Bool("auto", false, "start with the voltage hold enabled")
	noConsole := flag.Bool("no-console", false, "run headless until SIGINT or SIGTERM")
	flag.Parse()

	cfg, err := loadConfig(*configPath)
	if err != nil {
		log.Fatalf("Failed to load config: %v", err)
	}

	if *profilePath != "" {
		cfg.Profile.Path = *profilePath
		cfg.Profile.BaseDir = ""
	}
	if *outTag != "" {
		cfg.Results.Tag = *outTag
	}
	if *verbose {
		cfg.Logging.Verbose = true
		cfg.Logging.Level = "debug"
	}
	if *auto {
		cfg.Control.AutoHold = true
	}

	logOut := newLogOutput(os.Stderr)
	logger, err := newLogger(cfg.Logging, logOut)
	if err != nil {
		log.Fatalf("Failed to create logger: %v", err)
	}
	defer logger.Sync()

	logger.Info("Config loaded successfully", zap.String("path", *configPath))

	ctx, cancel := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer cancel()

	lifecycle := system.NewLifecycleManager(cfg, logger)

	if err := lifecycle.Start(ctx); err != nil {
		logger.Error("Failed to start system", zap.Error(err))
		lifecycle.Shutdown(context.Background())
		os.Exit(1)
	}

	logger.Info("OpenLoadbank started successfully",
		zap.Any("status", lifecycle.GetCurrentStatus()))

	if !*noConsole {
		con, err := console.New(lifecycle.Controller(), time.Now())
		if err != nil {
			logger.Error("Console unavailable, running headless", zap.Error(err))
		} else {
			logOut.Redirect(con.Stdout())
			go func() {
				con.Run(ctx, cancel)
				logOut.Redirect(os.Stderr)
			}()
		}
	}

	select {
	case <-ctx.Done():
		logger.Info("Shutdown requested")
	case <-lifecycle.Done():
		logger.Warn("Control loop exited")
	}

	timeout := cfg.Server.ShutdownTimeout + 5*time.Second
	shutdownCtx, stop := context.WithTimeout(context.Background(), timeout)
	defer stop()

	if err := lifecycle.Shutdown(shutdownCtx); err != nil {
		logger.Error("Shutdown failed. Turn off the loadbank manually", zap.Error(err))
		os.Exit(1)
	}

	logger.Info("OpenLoadbank stopped successfully")
}

// loadConfig reads path. A missing file at the default location falls back
// to the built-in defaults.
func loadConfig(path string) (*config.Config, error) {
	if path == defaultConfigPath {
		if _, err := os.Stat(path); errors.Is(err, fs.ErrNotExist) {
			return config.Load("")
		}
	}
	return config.Load(path)
}

// newLogger builds the zap logger described by cfg, writing to out.
func newLogger(cfg config.LoggingConfig, out zapcore.WriteSyncer) (*zap.Logger, error) {
	zc := zap.NewProductionConfig()
	if cfg.Development {
		zc = zap.NewDevelopmentConfig()
	}
	if cfg.Level != "" {
		level, err := zap.ParseAtomicLevel(cfg.Level)
		if err != nil {
			return nil, err
		}
		zc.Level = level
	}

	encoder := zapcore.NewJSONEncoder(zc.EncoderConfig)
	if zc.Encoding == "console" {
		encoder = zapcore.NewConsoleEncoder(zc.EncoderConfig)
	}

	opts := []zap.Option{zap.AddCaller(), zap.AddStacktrace(zapcore.ErrorLevel)}
	if cfg.Development {
		opts = append(opts, zap.Development(), zap.AddStacktrace(zapcore.WarnLevel))
	}
	return zap.New(zapcore.NewCore(encoder, out, zc.Level), opts...), nil
}
