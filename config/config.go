package config

import (
	"fmt"
	"strings"
	"time"

	"github.com/caarlos0/env/v11"
	"github.com/joho/godotenv"

	"openplay-matchmaking/models"
)

// Config хранит все конфигурационные параметры сервиса
type Config struct {
	// Redis (хранилище матчей и ростера)
	RedisAddr     string `env:"REDIS_ADDR" envDefault:"localhost:6379"`
	RedisPassword string `env:"REDIS_PASSWORD" envDefault:"0000"` // Пароль из docker-compose.yml
	RedisDB       int    `env:"REDIS_DB" envDefault:"0"`

	// HTTP
	ServerAddr string `env:"SERVER_ADDR" envDefault:":8080"`

	// Корты сессии
	Courts        []string `env:"COURTS" envSeparator:"," envDefault:"court-1,court-2,court-3"`
	CourtCapacity int      `env:"COURT_CAPACITY" envDefault:"4"`

	// Удаленные вызовы
	RemoteTimeout        time.Duration `env:"REMOTE_TIMEOUT" envDefault:"5s"`
	MatchRefreshInterval time.Duration `env:"MATCH_REFRESH_INTERVAL" envDefault:"10s"`

	LogLevel string `env:"LOG_LEVEL" envDefault:"info"`
}

// Load загружает конфигурацию из переменных окружения.
// Опционально подгружает .env файл (полезно для локальной разработки).
func Load() (*Config, error) {
	// Отсутствие .env не ошибка
	_ = godotenv.Load()

	cfg := &Config{}
	if err := env.Parse(cfg); err != nil {
		return nil, fmt.Errorf("parse config: %w", err)
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

// Validate проверяет значения, с которыми сервис не сможет работать
func (c *Config) Validate() error {
	if c.CourtCapacity < 2 || c.CourtCapacity%2 != 0 {
		return fmt.Errorf("COURT_CAPACITY must be an even number >= 2, got %d", c.CourtCapacity)
	}
	if len(c.courtIDs()) == 0 {
		return fmt.Errorf("COURTS must list at least one court")
	}
	if c.RemoteTimeout <= 0 {
		return fmt.Errorf("REMOTE_TIMEOUT must be positive, got %s", c.RemoteTimeout)
	}
	if c.MatchRefreshInterval <= 0 {
		return fmt.Errorf("MATCH_REFRESH_INTERVAL must be positive, got %s", c.MatchRefreshInterval)
	}
	return nil
}

// CourtList возвращает корты сессии, все открыты
func (c *Config) CourtList() []models.Court {
	ids := c.courtIDs()
	courts := make([]models.Court, 0, len(ids))
	for _, id := range ids {
		courts = append(courts, models.Court{
			ID:       id,
			Name:     id,
			Capacity: c.CourtCapacity,
			Status:   models.CourtOpen,
		})
	}
	return courts
}

func (c *Config) courtIDs() []string {
	ids := make([]string, 0, len(c.Courts))
	seen := make(map[string]bool, len(c.Courts))
	for _, id := range c.Courts {
		id = strings.TrimSpace(id)
		if id == "" || seen[id] {
			continue
		}
		seen[id] = true
		ids = append(ids, id)
	}
	return ids
}
