package config

import (
	"github.com/ilyakaznacheev/cleanenv"
	"github.com/joho/godotenv"
)

type Config struct {
	GatewayURL   string `yaml:"GATEWAY_URL"    env:"GATEWAY_URL"    env-default:"http://localhost:8080"`
	GatewayWsURL string `yaml:"GATEWAY_WS_URL" env:"GATEWAY_WS_URL" env-default:"ws://localhost:8080"`
	EventID      string `yaml:"EVENT_ID"       env:"EVENT_ID"`
	GuestStore   string `yaml:"GUEST_STORE"    env:"GUEST_STORE"    env-default:"guest.json"`
	GuestName    string `yaml:"GUEST_NAME"     env:"GUEST_NAME"`
	LogLevel     string `yaml:"LOG_LEVEL"      env:"LOG_LEVEL"      env-default:"debug"`
}

func New() (*Config, error) {
	// a missing .env is fine, the environment may carry everything
	_ = godotenv.Load()

	var config Config
	if err := cleanenv.ReadEnv(&config); err != nil {
		return nil, err
	}
	return &config, nil
}
