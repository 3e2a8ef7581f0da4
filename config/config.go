package config

import (
	"fmt"

	"github.com/caarlos0/env/v9"
	"github.com/joho/godotenv"
	"hermannm.dev/wrap"
)

type Config struct {
	BaseConfig
	SQLite        SQLite
	FlatFile      FlatFile
	Elasticsearch Elasticsearch
}

type BaseConfig struct {
	IsProduction bool             `env:"PRODUCTION"`
	Backend      SupportedBackend `env:"DATA_BACKEND"`
	API          API
}

type API struct {
	Port string `env:"API_PORT"`
}

type SQLite struct {
	Path  string `env:"SQLITE_PATH"`
	Debug bool   `env:"SQLITE_DEBUG_ENABLED" envDefault:"false"`
}

type FlatFile struct {
	DataDir string `env:"FLATFILE_DATA_DIR"`
}

type Elasticsearch struct {
	Address string `env:"ELASTICSEARCH_ADDRESS"`
	Debug   bool   `env:"ELASTICSEARCH_DEBUG_ENABLED" envDefault:"false"`
}

type SupportedBackend string

const (
	BackendSQLite        SupportedBackend = "sqlite"
	BackendFlatFile      SupportedBackend = "csv"
	BackendElasticsearch SupportedBackend = "elasticsearch"
)

func ReadFromEnv() (Config, error) {
	if err := godotenv.Load(); err != nil {
		return Config{}, wrap.Error(err, "failed to load .env file")
	}

	parseOptions := env.Options{RequiredIfNoDef: true}

	var config Config

	if err := env.ParseWithOptions(&config.BaseConfig, parseOptions); err != nil {
		return Config{}, err
	}

	switch config.Backend {
	case BackendSQLite:
		if err := env.ParseWithOptions(&config.SQLite, parseOptions); err != nil {
			return Config{}, err
		}
	case BackendFlatFile:
		if err := env.ParseWithOptions(&config.FlatFile, parseOptions); err != nil {
			return Config{}, err
		}
	case BackendElasticsearch:
		if err := env.ParseWithOptions(&config.Elasticsearch, parseOptions); err != nil {
			return Config{}, err
		}
	default:
		err := fmt.Errorf(
			"must be one of: '%s', '%s', '%s'",
			BackendSQLite, BackendFlatFile, BackendElasticsearch,
		)
		return Config{}, wrap.Errorf(
			err, "unsupported value '%s' for DATA_BACKEND in env", config.Backend,
		)
	}

	return config, nil
}
