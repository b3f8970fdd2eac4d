package config

import (
	"fmt"
	"os"
	"strconv"
	"strings"

	"github.com/joho/godotenv"
	"gopkg.in/yaml.v3"
)

// AppConfig is the process-level configuration: store DSNs, provider
// credentials, logging and telemetry settings. Unlike MissionSettings this is
// never frozen into a mission snapshot -- it describes the deployment, not
// a single mission.
type AppConfig struct {
	Log struct {
		Level string `yaml:"level"`
		Path  string `yaml:"path"`
	} `yaml:"log"`

	Postgres struct {
		DSN string `yaml:"dsn"`
	} `yaml:"postgres"`

	Redis struct {
		Addr     string `yaml:"addr"`
		Password string `yaml:"password"`
		DB       int    `yaml:"db"`
	} `yaml:"redis"`

	Qdrant struct {
		Addr   string `yaml:"addr"`
		APIKey string `yaml:"api_key"`
		UseTLS bool   `yaml:"use_tls"`
	} `yaml:"qdrant"`

	ClickHouse struct {
		DSN     string `yaml:"dsn"`
		Enabled bool   `yaml:"enabled"`
	} `yaml:"clickhouse"`

	Providers struct {
		AnthropicAPIKey string `yaml:"anthropic_api_key"`
		OpenAIAPIKey    string `yaml:"openai_api_key"`
		GoogleAPIKey    string `yaml:"google_api_key"`
	} `yaml:"providers"`

	WebSearch struct {
		Provider   string `yaml:"provider"`
		SearxngURL string `yaml:"searxng_url"`
		APIKey     string `yaml:"api_key"`
	} `yaml:"web_search"`

	Telemetry struct {
		ServiceName string `yaml:"service_name"`
	} `yaml:"telemetry"`

	Settings MissionSettings `yaml:"default_mission_settings"`
}

// Load reads AppConfig from a YAML file at path (if it exists), applies a
// .env file from the working directory if present, and then overlays
// environment variables -- the same precedence order the teacher's loader
// used (file defaults, then process environment wins). An empty path skips
// the file step entirely and returns defaults plus env overrides.
func Load(path string) (*AppConfig, error) {
	_ = godotenv.Overload()

	cfg := &AppConfig{}
	cfg.Settings = DefaultMissionSettings()
	cfg.Log.Level = "info"
	cfg.Redis.DB = 0
	cfg.WebSearch.Provider = "searxng"

	if path != "" {
		if data, err := os.ReadFile(path); err == nil {
			if err := yaml.Unmarshal(data, cfg); err != nil {
				return nil, fmt.Errorf("config: parsing %s: %w", path, err)
			}
		} else if !os.IsNotExist(err) {
			return nil, fmt.Errorf("config: reading %s: %w", path, err)
		}
	}

	applyEnvOverrides(cfg)
	return cfg, nil
}

// applyEnvOverrides lets deployment secrets and per-environment knobs live in
// the process environment rather than in a checked-in YAML file, mirroring
// the MAESTRO_* / PG_* style prefix the teacher used for its own settings.
func applyEnvOverrides(cfg *AppConfig) {
	str(&cfg.Log.Level, "MAESTRO_LOG_LEVEL")
	str(&cfg.Log.Path, "MAESTRO_LOG_PATH")

	str(&cfg.Postgres.DSN, "MAESTRO_POSTGRES_DSN")

	str(&cfg.Redis.Addr, "MAESTRO_REDIS_ADDR")
	str(&cfg.Redis.Password, "MAESTRO_REDIS_PASSWORD")
	intv(&cfg.Redis.DB, "MAESTRO_REDIS_DB")

	str(&cfg.Qdrant.Addr, "MAESTRO_QDRANT_ADDR")
	str(&cfg.Qdrant.APIKey, "MAESTRO_QDRANT_API_KEY")
	boolv(&cfg.Qdrant.UseTLS, "MAESTRO_QDRANT_TLS")

	str(&cfg.ClickHouse.DSN, "MAESTRO_CLICKHOUSE_DSN")
	boolv(&cfg.ClickHouse.Enabled, "MAESTRO_CLICKHOUSE_ENABLED")

	str(&cfg.Providers.AnthropicAPIKey, "ANTHROPIC_API_KEY")
	str(&cfg.Providers.OpenAIAPIKey, "OPENAI_API_KEY")
	str(&cfg.Providers.GoogleAPIKey, "GOOGLE_API_KEY")

	str(&cfg.WebSearch.Provider, "MAESTRO_WEB_SEARCH_PROVIDER")
	str(&cfg.WebSearch.SearxngURL, "MAESTRO_SEARXNG_URL")
	str(&cfg.WebSearch.APIKey, "MAESTRO_WEB_SEARCH_API_KEY")

	str(&cfg.Telemetry.ServiceName, "MAESTRO_SERVICE_NAME")
}

func str(dst *string, env string) {
	if v, ok := os.LookupEnv(env); ok && strings.TrimSpace(v) != "" {
		*dst = v
	}
}

func intv(dst *int, env string) {
	if v, ok := os.LookupEnv(env); ok {
		if n, err := strconv.Atoi(strings.TrimSpace(v)); err == nil {
			*dst = n
		}
	}
}

func boolv(dst *bool, env string) {
	if v, ok := os.LookupEnv(env); ok {
		if b, err := strconv.ParseBool(strings.TrimSpace(v)); err == nil {
			*dst = b
		}
	}
}
