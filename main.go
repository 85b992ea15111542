package main

import (
	"log"
	"os"

	"github.com/joho/godotenv"

	"docextract/cmd"
	"docextract/internal/config"
	"docextract/internal/logger"
)

func main() {
	// Load environment variables
	if err := godotenv.Load(); err != nil && !os.IsNotExist(err) {
		log.Printf("Warning: Could not load .env file: %v", err)
	}

	// Commands load and validate configuration themselves; here it only
	// drives logger setup.
	cfg, err := config.Load()
	if err != nil {
		if err := logger.Setup(logger.DefaultConfig()); err != nil {
			log.Fatalf("Failed to initialize logger: %v", err)
		}
	} else {
		if err := logger.Setup(cfg.GetLoggerConfig()); err != nil {
			log.Fatalf("Failed to initialize logger: %v", err)
		}
	}

	log := logger.WithComponent("main")
	log.Debug().Msg("Starting docextract")

	cmd.Execute()

	log.Debug().Msg("docextract shutdown")
	os.Exit(0)
}
