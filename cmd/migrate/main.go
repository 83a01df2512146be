package main

import (
	"context"
	"flag"
	"fmt"
	"io/fs"
	"os"

	"github.com/rs/zerolog/log"

	"hookline/internal/pkg/logger"
	"hookline/internal/platform/config"
	"hookline/internal/platform/database"
	"hookline/migrations"
)

func main() {
	configPath := flag.String("config", "configs/config.yaml", "Path to config file")
	dir := flag.String("dir", "", "Read migrations from this directory instead of the embedded set")
	flag.Parse()

	cfg, err := config.Load(*configPath)
	if err != nil {
		log.Fatal().Err(err).Msg("Failed to load config")
	}
	if err := logger.Init(cfg.Logging); err != nil {
		log.Warn().Err(err).Msg("Log file unavailable, logging to stdout")
	}

	db, err := database.Open(cfg.Database)
	if err != nil {
		log.Fatal().Err(err).Msg("Failed to connect to database")
	}
	defer db.Close()

	var source fs.FS = migrations.FS
	if *dir != "" {
		source = os.DirFS(*dir)
	}

	applied, err := database.Migrate(context.Background(), db, source)
	if err != nil {
		log.Fatal().Err(err).Strs("applied", applied).Msg("Migration failed")
	}

	fmt.Printf("Migration completed successfully (%d applied)\n", len(applied))
}
