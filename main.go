package main

import (
	"log/slog"
	"net/http"
	"os"

	"hermannm.dev/dashboard/api"
	"hermannm.dev/dashboard/config"
	"hermannm.dev/dashboard/db"
	"hermannm.dev/dashboard/db/elastic"
	"hermannm.dev/dashboard/db/flatfile"
	"hermannm.dev/dashboard/db/relational"
	"hermannm.dev/devlog"
	"hermannm.dev/devlog/log"
)

func main() {
	logHandler := devlog.NewHandler(os.Stdout, &devlog.Options{Level: slog.LevelDebug})
	slog.SetDefault(slog.New(logHandler))

	log.Info("Loading environment variables...")
	conf, err := config.ReadFromEnv()
	if err != nil {
		log.ErrorCause(err, "failed to read config from env")
		os.Exit(1)
	}

	log.Infof("Connecting to %s data backend...", conf.Backend)
	backend, err := initializeBackend(conf)
	if err != nil {
		log.ErrorCause(err, "failed to initialize data backend")
		os.Exit(1)
	}

	dashboardAPI := api.NewDashboardAPI(backend, http.DefaultServeMux, conf)

	log.Infof("Listening on port %s...", conf.API.Port)
	if err := dashboardAPI.ListenAndServe(); err != nil {
		log.ErrorCause(err, "server stopped")
		os.Exit(1)
	}
}

func initializeBackend(conf config.Config) (db.Backend, error) {
	switch conf.Backend {
	case config.BackendSQLite:
		return relational.NewBackend(conf)
	case config.BackendFlatFile:
		return flatfile.NewBackend(conf.FlatFile.DataDir)
	case config.BackendElasticsearch:
		return elastic.NewBackend(conf)
	default:
		return nil, db.ConfigurationError{
			Reason: "unrecognized data backend in config",
		}
	}
}
