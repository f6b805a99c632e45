// Command loadbank-sim serves a simulated loadbank for bench-free testing.
package main

import (
	"flag"
	"log"
	"os"
	"os/signal"
	"syscall"

	"github.com/KevinKickass/OpenLoadbank/internal/simulator"
	"go.uber.org/zap"
)

func main() {
	scenario := flag.String("config", "", "YAML scenario file (see configs/simulator.yaml)")
	listen := flag.String("listen", "", "listen address, overrides listen_address")
	flag.Parse()

	logger, err := zap.NewDevelopment()
	if err != nil {
		log.Fatalf("Failed to create logger: %v", err)
	}
	defer logger.Sync()

	var cfg simulator.Config
	if *scenario != "" {
		cfg, err = simulator.LoadConfig(*scenario)
		if err != nil {
			logger.Fatal("Failed to load scenario", zap.Error(err))
		}
	}

	sim := simulator.New(cfg, logger)
	if err := sim.Start(*listen); err != nil {
		logger.Fatal("Failed to start simulator", zap.Error(err))
	}

	sigChan := make(chan os.Signal, 1)
	signal.Notify(sigChan, syscall.SIGINT, syscall.SIGTERM)
	<-sigChan

	logger.Info("Shutdown signal received")
	if err := sim.Close(); err != nil {
		logger.Error("Simulator close failed", zap.Error(err))
		os.Exit(1)
	}
}
