package server

import (
	"fmt"
	"time"

	"github.com/caarlos0/env/v11"
	_ "github.com/joho/godotenv/autoload"
)

// Config holds all environment-driven settings. FORMING_TIMEOUT bounds
// sessions that never finish the invitation handshake; PLAYING_TIMEOUT bounds
// games that are never explicitly ended.
type Config struct {
	Port           int           `env:"PORT" envDefault:"8080"`
	DatabaseURL    string        `env:"DATABASE_URL"`
	TokenSecret    string        `env:"TOKEN_SECRET,required"`
	Origin         string        `env:"ORIGIN" envDefault:"*"`
	FormingTimeout time.Duration `env:"FORMING_TIMEOUT" envDefault:"10m"`
	PlayingTimeout time.Duration `env:"PLAYING_TIMEOUT" envDefault:"1h"`
}

func LoadConfig() (Config, error) {
	var cfg Config
	if err := env.Parse(&cfg); err != nil {
		return Config{}, fmt.Errorf("parse env: %w", err)
	}
	return cfg, nil
}
