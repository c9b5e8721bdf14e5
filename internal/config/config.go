// Package config загружает конфигурацию Ensemble.
//
// Порядок: значения по умолчанию < YAML (ENSEMBLE_CONFIG, по умолчанию
// ensemble.yaml) < переменные окружения.
package config

import (
	"time"

	"github.com/shaiso/Ensemble/internal/agent"
	"github.com/shaiso/Ensemble/internal/cache"
	"github.com/shaiso/Ensemble/internal/domain"
	"github.com/shaiso/Ensemble/internal/executor"
	"github.com/shaiso/Ensemble/internal/mq"
	"github.com/shaiso/Ensemble/internal/quality"
	"github.com/shaiso/Ensemble/internal/repo"
)

// Config — корневая конфигурация.
type Config struct {
	Engine      Engine                 `yaml:"engine"`
	Retry       Retry                  `yaml:"retry"`
	Timeouts    Timeouts               `yaml:"timeouts"`
	Quality     quality.Thresholds     `yaml:"quality"`
	Correlation Correlation            `yaml:"correlation"`
	Agents      []agent.Spec           `yaml:"agents"`
	Plans       map[string]domain.Plan `yaml:"plans"`
	DefaultPlan string                 `yaml:"default_plan"`
	Planner     Role                   `yaml:"planner"`
	Synthesis   Role                   `yaml:"synthesis"`
	Database    Database               `yaml:"database"`
	RabbitMQ    RabbitMQ               `yaml:"rabbitmq"`
	Cache       Cache                  `yaml:"cache"`
	Server      Server                 `yaml:"server"`
}

// Engine — параметры движка выполнения.
type Engine struct {
	// MaxInFlight — общий предел одновременных вызовов агентов.
	MaxInFlight int `yaml:"max_in_flight"`

	// Prefetch — сколько запросов из очереди выполняется одновременно.
	Prefetch int `yaml:"prefetch"`
}

// Retry — политика повторов удалённых вызовов.
type Retry struct {
	MaxAttempts int           `yaml:"max_attempts"`
	BaseBackoff time.Duration `yaml:"base_backoff"`
	Multiplier  float64       `yaml:"multiplier"`
	MaxBackoff  time.Duration `yaml:"max_backoff"`
}

// Timeouts — таймауты удалённых вызовов.
type Timeouts struct {
	Attempt time.Duration `yaml:"attempt"`
	Connect time.Duration `yaml:"connect"`
	Read    time.Duration `yaml:"read"`
}

// Correlation — поля payload, по которым сравниваются агенты.
type Correlation struct {
	Fields []string `yaml:"fields"`
}

// Role — агент в служебной роли (планировщик или синтез).
// Пустой Agent отключает роль.
type Role struct {
	Agent       string `yaml:"agent"`
	Instruction string `yaml:"instruction"`
}

// Database — PostgreSQL. Пустой URL отключает хранение runs.
type Database struct {
	URL     string `yaml:"url"`
	Migrate bool   `yaml:"migrate"`
}

// RabbitMQ — брокер сообщений. Пустой URL отключает события.
type RabbitMQ struct {
	URL string `yaml:"url"`
}

// Cache — кэш итогов для resume.
type Cache struct {
	Enabled bool          `yaml:"enabled"`
	MaxCost int64         `yaml:"max_cost"`
	TTL     time.Duration `yaml:"ttl"`
}

// Server — порты и адреса бинарников.
type Server struct {
	APIPort          string `yaml:"api_port"`
	OrchestratorPort string `yaml:"orchestrator_port"`
	APIURL           string `yaml:"api_url"`
}

// Defaults возвращает конфигурацию по умолчанию.
func Defaults() Config {
	return Config{
		Engine: Engine{MaxInFlight: executor.DefaultMaxInFlight, Prefetch: 4},
		Retry: Retry{
			MaxAttempts: agent.DefaultMaxAttempts,
			BaseBackoff: agent.DefaultBaseBackoff,
			Multiplier:  agent.DefaultMultiplier,
			MaxBackoff:  agent.DefaultMaxBackoff,
		},
		Timeouts: Timeouts{
			Attempt: agent.DefaultAttemptTimeout,
			Connect: agent.DefaultConnectTimeout,
			Read:    agent.DefaultReadTimeout,
		},
		Quality:  quality.DefaultThresholds(),
		Plans:    map[string]domain.Plan{},
		Database: Database{URL: repo.DefaultDSN, Migrate: true},
		RabbitMQ: RabbitMQ{URL: mq.DefaultURL()},
		Cache: Cache{
			Enabled: true,
			MaxCost: cache.DefaultMaxCost,
			TTL:     cache.DefaultTTL,
		},
		Server: Server{
			APIPort:          "8080",
			OrchestratorPort: "8083",
			APIURL:           "http://localhost:8080",
		},
	}
}

// AgentConfig возвращает настройки клиента агентов.
func (c *Config) AgentConfig() agent.Config {
	return agent.Config{
		MaxAttempts:    c.Retry.MaxAttempts,
		BaseBackoff:    c.Retry.BaseBackoff,
		Multiplier:     c.Retry.Multiplier,
		MaxBackoff:     c.Retry.MaxBackoff,
		AttemptTimeout: c.Timeouts.Attempt,
		ReadTimeout:    c.Timeouts.Read,
	}
}
