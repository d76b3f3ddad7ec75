package config

import (
	"fmt"
	"strings"
	"time"

	"github.com/caarlos0/env/v11"
	"github.com/rs/zerolog/log"
)

var knownWeakSecrets = []string{
	"change-me", "dev-secret-change-me", "secret", "admin", "password",
}

type Config struct {
	Port                int    `env:"PORT" envDefault:"8080"`
	DatabaseURL         string `env:"DATABASE_URL,required,notEmpty"`
	RedisURL            string `env:"REDIS_URL,required,notEmpty"`
	OpenAIAPIKey        string `env:"OPENAI_API_KEY,required,notEmpty"`
	OpenAIBaseURL       string `env:"OPENAI_BASE_URL" envDefault:""`
	SecretKey           string `env:"SECRET_KEY,required,notEmpty"`
	TurnTimeoutSeconds  int    `env:"TURN_TIMEOUT_SECONDS" envDefault:"35"`
	CallbackMaxAgeSecs  int    `env:"CALLBACK_TOKEN_MAX_AGE_SECONDS" envDefault:"120"`
	DispatchTimeoutSecs int    `env:"DISPATCH_TIMEOUT_SECONDS" envDefault:"30"`
	LogLevel            string `env:"LOG_LEVEL" envDefault:"info"`
}

func (c *Config) TurnTimeout() time.Duration {
	return time.Duration(c.TurnTimeoutSeconds) * time.Second
}

func (c *Config) CallbackTokenMaxAge() time.Duration {
	return time.Duration(c.CallbackMaxAgeSecs) * time.Second
}

func (c *Config) DispatchTimeout() time.Duration {
	return time.Duration(c.DispatchTimeoutSecs) * time.Second
}

func (c *Config) Addr() string {
	return fmt.Sprintf(":%d", c.Port)
}

func (c *Config) Validate(isProduction bool) error {
	if isProduction {
		if err := validateSecret("SECRET_KEY", c.SecretKey); err != nil {
			return err
		}
		if strings.HasPrefix(c.RedisURL, "redis://") {
			log.Warn().Msg("REDIS_URL uses redis:// (not TLS) in production: consider using rediss://")
		}
	}

	return nil
}

func validateSecret(name, value string) error {
	if len(value) < 32 {
		return fmt.Errorf("%s must be at least 32 characters in production (generate with: openssl rand -base64 32)", name)
	}
	for _, weak := range knownWeakSecrets {
		if value == weak {
			return fmt.Errorf("%s is a known weak default; set a strong secret in production", name)
		}
	}
	return nil
}

func Load() (*Config, error) {
	var cfg Config
	if err := env.Parse(&cfg); err != nil {
		return nil, fmt.Errorf("failed to parse config: %w", err)
	}
	return &cfg, nil
}
