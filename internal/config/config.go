package config

import (
	"github.com/caarlos0/env/v11"
)

// Config is the full runtime configuration, parsed from the environment.
type Config struct {
	Addr        string `env:"ADDR" envDefault:":8420"`
	DataDir     string `env:"DATA_DIR" envDefault:"./data"`
	Environment string `env:"ENVIRONMENT" envDefault:"dev"`
	LogLevel    string `env:"LOG_LEVEL" envDefault:"info"`

	// Debug disables projection masking and enables phantom identities.
	// Never default-on.
	Debug bool `env:"DEBUG" envDefault:"false"`

	// Gateway ceilings.
	MaxEventsPerSecond int `env:"MAX_EVENTS_PER_SECOND" envDefault:"20"`
	MaxConnsPerAddr    int `env:"MAX_CONNS_PER_ADDR" envDefault:"5"`

	// Persistence substrate geometry.
	DataShards   int `env:"DATA_SHARDS" envDefault:"4"`
	ParityShards int `env:"PARITY_SHARDS" envDefault:"2"`
}

func Load() (Config, error) {
	var cfg Config
	if err := env.Parse(&cfg); err != nil {
		return Config{}, err
	}
	return cfg, nil
}
