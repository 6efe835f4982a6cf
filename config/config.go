package config

import (
	"os"
	"strconv"

	"github.com/joho/godotenv"
)

type AppConfig struct {
	DBConfig *DBConfig
}

// New loads the configuration from the environment, with a .env file
// taken into account when present.
func New() *AppConfig {
	_ = godotenv.Load()

	return &AppConfig{
		DBConfig: NewDBConfig(),
	}
}

func getEnv(key, fallback string) string {
	if v, ok := os.LookupEnv(key); ok {
		return v
	}
	return fallback
}

func getEnvInt(key string, fallback int) int {
	if v, ok := os.LookupEnv(key); ok {
		if n, err := strconv.Atoi(v); err == nil {
			return n
		}
	}
	return fallback
}
