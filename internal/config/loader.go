package config

import (
	"errors"
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"

	"gopkg.in/yaml.v3"
)

// DefaultConfigFile — YAML файл конфигурации по умолчанию.
const DefaultConfigFile = "ensemble.yaml"

// EnvConfigFile — переменная окружения с путём к YAML.
const EnvConfigFile = "ENSEMBLE_CONFIG"

// Load загружает конфигурацию: defaults < YAML < ENV.
// Путь к YAML берётся из ENSEMBLE_CONFIG. Отсутствие файла не ошибка.
func Load() (*Config, error) {
	path := os.Getenv(EnvConfigFile)
	if path == "" {
		path = DefaultConfigFile
	}
	return LoadFrom(path)
}

// LoadFrom загружает конфигурацию из указанного YAML.
func LoadFrom(yamlPath string) (*Config, error) {
	cfg := Defaults()

	if err := loadYAML(&cfg, yamlPath); err != nil {
		return nil, fmt.Errorf("config yaml: %w", err)
	}

	loadEnv(&cfg)

	if err := validate(&cfg); err != nil {
		return nil, fmt.Errorf("config validate: %w", err)
	}

	return &cfg, nil
}

// loadYAML накладывает YAML на cfg. Отсутствующий файл пропускается.
func loadYAML(cfg *Config, path string) error {
	data, err := os.ReadFile(path) //nolint:gosec // путь задаёт оператор
	if err != nil {
		if errors.Is(err, os.ErrNotExist) {
			return nil
		}
		return fmt.Errorf("read %s: %w", path, err)
	}

	if err := yaml.Unmarshal(data, cfg); err != nil {
		return fmt.Errorf("parse %s: %w", path, err)
	}

	// yaml.v3 дописывает ключи в существующую map, поэтому явный
	// quality.checks заменяет набор проверок по умолчанию целиком.
	var override struct {
		Quality struct {
			Checks map[string]float64 `yaml:"checks"`
		} `yaml:"quality"`
	}
	if err := yaml.Unmarshal(data, &override); err != nil {
		return fmt.Errorf("parse %s: %w", path, err)
	}
	if override.Quality.Checks != nil {
		cfg.Quality.Checks = override.Quality.Checks
	}

	for name, plan := range cfg.Plans {
		if plan.Name == "" {
			plan.Name = name
			cfg.Plans[name] = plan
		}
	}

	return nil
}

// loadEnv накладывает переменные окружения. Пустые значения игнорируются.
func loadEnv(cfg *Config) {
	setInt(&cfg.Engine.MaxInFlight, "ENSEMBLE_MAX_IN_FLIGHT")
	setInt(&cfg.Engine.Prefetch, "ENSEMBLE_PREFETCH")

	// Retry
	setInt(&cfg.Retry.MaxAttempts, "ENSEMBLE_MAX_ATTEMPTS")
	setDuration(&cfg.Retry.BaseBackoff, "ENSEMBLE_BASE_BACKOFF")
	setFloat64(&cfg.Retry.Multiplier, "ENSEMBLE_BACKOFF_MULTIPLIER")
	setDuration(&cfg.Retry.MaxBackoff, "ENSEMBLE_MAX_BACKOFF")

	// Timeouts
	setDuration(&cfg.Timeouts.Attempt, "ENSEMBLE_ATTEMPT_TIMEOUT")
	setDuration(&cfg.Timeouts.Connect, "ENSEMBLE_CONNECT_TIMEOUT")
	setDuration(&cfg.Timeouts.Read, "ENSEMBLE_READ_TIMEOUT")

	// Quality gate
	setFloat64(&cfg.Quality.ApproveAt, "ENSEMBLE_APPROVE_AT")
	setFloat64(&cfg.Quality.ConditionalAt, "ENSEMBLE_CONDITIONAL_AT")
	setStrings(&cfg.Correlation.Fields, "ENSEMBLE_CORRELATION_FIELDS")

	// Roles
	setString(&cfg.DefaultPlan, "ENSEMBLE_DEFAULT_PLAN")
	setString(&cfg.Planner.Agent, "ENSEMBLE_PLANNER_AGENT")
	setString(&cfg.Synthesis.Agent, "ENSEMBLE_SYNTHESIS_AGENT")

	// Infrastructure
	setString(&cfg.Database.URL, "DB_URL")
	setBool(&cfg.Database.Migrate, "DB_MIGRATE")
	setString(&cfg.RabbitMQ.URL, "RABBITMQ_URL")
	setBool(&cfg.Cache.Enabled, "ENSEMBLE_CACHE_ENABLED")
	setInt64(&cfg.Cache.MaxCost, "ENSEMBLE_CACHE_MAX_COST")
	setDuration(&cfg.Cache.TTL, "ENSEMBLE_CACHE_TTL")

	// Server
	setString(&cfg.Server.APIPort, "API_PORT")
	setString(&cfg.Server.OrchestratorPort, "ORCH_PORT")
	setString(&cfg.Server.APIURL, "ENSEMBLE_API_URL")
}

// validate проверяет согласованность конфигурации.
func validate(cfg *Config) error {
	if cfg.Engine.MaxInFlight < 1 {
		return errors.New("engine.max_in_flight must be >= 1")
	}
	if cfg.Engine.Prefetch < 1 {
		return errors.New("engine.prefetch must be >= 1")
	}
	if cfg.Retry.MaxAttempts < 1 {
		return errors.New("retry.max_attempts must be >= 1")
	}
	if cfg.Retry.Multiplier < 1 {
		return errors.New("retry.multiplier must be >= 1")
	}
	if cfg.Retry.BaseBackoff < 0 || cfg.Retry.MaxBackoff < cfg.Retry.BaseBackoff {
		return errors.New("retry.max_backoff must be >= retry.base_backoff >= 0")
	}
	if cfg.Timeouts.Attempt <= 0 || cfg.Timeouts.Connect <= 0 || cfg.Timeouts.Read <= 0 {
		return errors.New("timeouts must be positive")
	}

	q := cfg.Quality
	if q.ApproveAt <= 0 || q.ApproveAt > 1 {
		return errors.New("quality.approve_at must be in (0, 1]")
	}
	if q.ConditionalAt <= 0 || q.ConditionalAt > q.ApproveAt {
		return errors.New("quality.conditional_at must be in (0, approve_at]")
	}

	names := make(map[string]struct{}, len(cfg.Agents))
	for i, spec := range cfg.Agents {
		if spec.Name == "" {
			return fmt.Errorf("agents[%d].name is required", i)
		}
		if _, dup := names[spec.Name]; dup {
			return fmt.Errorf("agents[%d]: duplicate name %q", i, spec.Name)
		}
		names[spec.Name] = struct{}{}
	}
	for role, name := range map[string]string{"planner": cfg.Planner.Agent, "synthesis": cfg.Synthesis.Agent} {
		if name == "" {
			continue
		}
		if _, ok := names[name]; !ok {
			return fmt.Errorf("%s.agent: unknown agent %q", role, name)
		}
	}

	if cfg.DefaultPlan != "" {
		if _, ok := cfg.Plans[cfg.DefaultPlan]; !ok {
			return fmt.Errorf("default_plan: unknown plan %q", cfg.DefaultPlan)
		}
	}

	if cfg.Cache.Enabled && cfg.Cache.MaxCost < 1 {
		return errors.New("cache.max_cost must be >= 1")
	}
	if cfg.Server.APIPort == "" || cfg.Server.OrchestratorPort == "" {
		return errors.New("server ports are required")
	}
	return nil
}

func setString(dst *string, key string) {
	if v := os.Getenv(key); v != "" {
		*dst = v
	}
}

// setStrings читает список через запятую.
func setStrings(dst *[]string, key string) {
	v := os.Getenv(key)
	if v == "" {
		return
	}
	var out []string
	for _, part := range strings.Split(v, ",") {
		if part = strings.TrimSpace(part); part != "" {
			out = append(out, part)
		}
	}
	*dst = out
}

func setInt(dst *int, key string) {
	if v := os.Getenv(key); v != "" {
		if n, err := strconv.Atoi(v); err == nil {
			*dst = n
		}
	}
}

func setInt64(dst *int64, key string) {
	if v := os.Getenv(key); v != "" {
		if n, err := strconv.ParseInt(v, 10, 64); err == nil {
			*dst = n
		}
	}
}

func setFloat64(dst *float64, key string) {
	if v := os.Getenv(key); v != "" {
		if f, err := strconv.ParseFloat(v, 64); err == nil {
			*dst = f
		}
	}
}

func setBool(dst *bool, key string) {
	if v := os.Getenv(key); v != "" {
		if b, err := strconv.ParseBool(v); err == nil {
			*dst = b
		}
	}
}

func setDuration(dst *time.Duration, key string) {
	if v := os.Getenv(key); v != "" {
		if d, err := time.ParseDuration(v); err == nil {
			*dst = d
		}
	}
}
