package main

import (
	"context"
	"fmt"

	"github.com/MKhiriev/go-card-sync/internal/config"
	handlerhttp "github.com/MKhiriev/go-card-sync/internal/handler/http"
	"github.com/MKhiriev/go-card-sync/internal/logger"
	"github.com/MKhiriev/go-card-sync/internal/server"
	"github.com/MKhiriev/go-card-sync/internal/service"
	"github.com/MKhiriev/go-card-sync/internal/store"
	"github.com/MKhiriev/go-card-sync/internal/worker"
)

var (
	buildVersion string
	buildDate    string
	buildCommit  string
)

func main() {
	printBuildInfo()

	log := logger.NewLogger("go-card-sync")
	cfg, err := config.GetStructuredConfig()
	if err != nil {
		log.Fatal().Err(err).Msg("error getting configs")
	}

	log.Debug().Any("config", cfg).Msg("received configs")

	ctx := context.Background()

	db, err := store.NewDatabase(ctx, cfg.Storage.DB, log)
	if err != nil {
		log.Fatal().Err(err).Msg("error connecting server database")
	}
	defer db.Close()

	if err = db.Migrate(); err != nil {
		log.Fatal().Err(err).Msg("error migrating server database")
	}

	users := store.NewUserRepository(db, log)
	sessions := store.NewSessionRepository(db, log)

	services := service.NewServices(users, sessions, cfg, log)

	registry := worker.NewRegistry(
		func(ctx context.Context, path string) (*store.Collection, error) {
			return store.OpenCollection(ctx, path, log)
		},
		cfg.Workers.CollectionIdleTimeout,
		log,
	)

	handlers := handlerhttp.NewHandler(services, registry, cfg.Server, log)

	srv, err := server.NewServer(handlers.Init(), registry, cfg.Server, log)
	if err != nil {
		log.Fatal().Err(err).Msg("error creating server")
	}

	srv.RunServer()
}

func printBuildInfo() {
	if buildVersion == "" {
		buildVersion = "N/A"
	}

	if buildDate == "" {
		buildDate = "N/A"
	}

	if buildCommit == "" {
		buildCommit = "N/A"
	}

	fmt.Printf("Build version: %s\n", buildVersion)
	fmt.Printf("Build date: %s\n", buildDate)
	fmt.Printf("Build commit: %s\n", buildCommit)
}
