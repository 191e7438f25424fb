package main

import (
	"flag"
	"fmt"
	"log"

	"github.com/joho/godotenv"

	"ZWatch/internal/di"
	"ZWatch/pkg/config"
)

func main() {
	if err := run(); err != nil {
		log.Fatal(err)
	}
}

func run() error {
	// .env fills gaps for local development; a missing file is fine.
	_ = godotenv.Load()

	configPath := flag.String("config", "config/config.yaml", "path to the YAML config")
	flag.Parse()

	cfg, err := config.LoadWithEnv(*configPath)
	if err != nil {
		return fmt.Errorf("load config: %w", err)
	}

	log.Printf("starting env=%s backend=%s symbols=%v",
		cfg.Environment, cfg.Backend.Type, cfg.MarketData.Symbols)

	app, err := di.InitializeApp(cfg)
	if err != nil {
		return fmt.Errorf("initialize: %w", err)
	}

	// Blocks until a shutdown signal arrives.
	return app.Run()
}
