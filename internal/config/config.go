package config

import (
	"strings"

	"github.com/rotisserie/eris"
	"github.com/spf13/viper"
	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"

	"github.com/sells-group/healthmap/internal/monitoring"
	"github.com/sells-group/healthmap/internal/store"
)

// Config holds the full application configuration.
type Config struct {
	Log        LogConfig                `yaml:"log" mapstructure:"log"`
	Tracing    monitoring.TracingConfig `yaml:"tracing" mapstructure:"tracing"`
	Server     ServerConfig             `yaml:"server" mapstructure:"server"`
	API        APIConfig                `yaml:"api" mapstructure:"api"`
	Geometry   GeometryConfig           `yaml:"geometry" mapstructure:"geometry"`
	Scale      ScaleConfig              `yaml:"scale" mapstructure:"scale"`
	Session    SessionConfig            `yaml:"session" mapstructure:"session"`
	Datasource DatasourceConfig         `yaml:"datasource" mapstructure:"datasource"`
}

// LogConfig configures logging.
type LogConfig struct {
	Level  string `yaml:"level" mapstructure:"level"`
	Format string `yaml:"format" mapstructure:"format"`
}

// ServerConfig configures the map API server.
type ServerConfig struct {
	Port               int      `yaml:"port" mapstructure:"port"`
	AllowedOrigins     []string `yaml:"allowed_origins" mapstructure:"allowed_origins"`
	RequestTimeoutSecs int      `yaml:"request_timeout_secs" mapstructure:"request_timeout_secs"`
}

// APIConfig configures the disease-count API client.
type APIConfig struct {
	BaseURL     string  `yaml:"base_url" mapstructure:"base_url"`
	TimeoutSecs int     `yaml:"timeout_secs" mapstructure:"timeout_secs"`
	RateLimit   float64 `yaml:"rate_limit" mapstructure:"rate_limit"`
	RateBurst   int     `yaml:"rate_burst" mapstructure:"rate_burst"`
	UserAgent   string  `yaml:"user_agent" mapstructure:"user_agent"`
	LookupBy    string  `yaml:"lookup_by" mapstructure:"lookup_by"` // code | name
}

// GeometryConfig locates the borough boundary file.
type GeometryConfig struct {
	Path    string `yaml:"path" mapstructure:"path"`
	Charset string `yaml:"charset" mapstructure:"charset"`
}

// ScaleConfig optionally overrides the built-in color scale.
type ScaleConfig struct {
	Path string `yaml:"path" mapstructure:"path"`
}

// SessionConfig configures map view sessions.
type SessionConfig struct {
	Mode                string `yaml:"mode" mapstructure:"mode"`
	PrefetchConcurrency int    `yaml:"prefetch_concurrency" mapstructure:"prefetch_concurrency"`
}

// DatasourceConfig configures the bundled disease-count API.
type DatasourceConfig struct {
	Port      int          `yaml:"port" mapstructure:"port"`
	Store     store.Config `yaml:"store" mapstructure:"store"`
	CasesPath string       `yaml:"cases_path" mapstructure:"cases_path"`
}

// Load reads configuration from file and environment.
func Load() (*Config, error) {
	v := viper.New()

	// Config file
	v.SetConfigName("config")
	v.SetConfigType("yaml")
	v.AddConfigPath(".")

	// Environment
	v.SetEnvPrefix("HEALTHMAP")
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	// Defaults
	v.SetDefault("log.level", "info")
	v.SetDefault("log.format", "json")
	v.SetDefault("tracing.enabled", false)
	v.SetDefault("tracing.service_name", "healthmap")
	v.SetDefault("tracing.exporter", "stdout")
	v.SetDefault("tracing.endpoint", "")
	v.SetDefault("tracing.sample_ratio", 1.0)
	v.SetDefault("server.port", 8080)
	v.SetDefault("server.allowed_origins", []string{"*"})
	v.SetDefault("server.request_timeout_secs", 30)
	v.SetDefault("api.base_url", "http://localhost:5000")
	v.SetDefault("api.timeout_secs", 15)
	v.SetDefault("api.rate_limit", 0)
	v.SetDefault("api.rate_burst", 1)
	v.SetDefault("api.user_agent", "healthmap/1.0")
	v.SetDefault("api.lookup_by", "code")
	v.SetDefault("geometry.path", "alcaldias.geojson")
	v.SetDefault("geometry.charset", "windows-1252")
	v.SetDefault("scale.path", "")
	v.SetDefault("session.mode", "lazy")
	v.SetDefault("session.prefetch_concurrency", 8)
	v.SetDefault("datasource.port", 5000)
	v.SetDefault("datasource.store.driver", "json")
	v.SetDefault("datasource.store.json_path", "datos.json")
	v.SetDefault("datasource.store.database_url", "")
	v.SetDefault("datasource.cases_path", "")

	// Read config file (optional)
	if err := v.ReadInConfig(); err != nil {
		if _, ok := err.(viper.ConfigFileNotFoundError); !ok {
			return nil, eris.Wrap(err, "config: read file")
		}
	}

	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return nil, eris.Wrap(err, "config: unmarshal")
	}

	return &cfg, nil
}

// Validate checks the settings a command needs. mode is "serve", "levels"
// or "datasource".
func (c *Config) Validate(mode string) error {
	var errs []string

	switch mode {
	case "serve", "levels":
		if mode == "serve" && c.Server.Port <= 0 {
			errs = append(errs, "server.port must be > 0")
		}
		if c.Geometry.Path == "" {
			errs = append(errs, "geometry.path is required")
		}
		if c.API.TimeoutSecs <= 0 {
			errs = append(errs, "api.timeout_secs must be > 0")
		}
		if c.API.RateLimit < 0 {
			errs = append(errs, "api.rate_limit must be >= 0")
		}
		if c.Session.PrefetchConcurrency < 0 || c.Session.PrefetchConcurrency > 64 {
			errs = append(errs, "session.prefetch_concurrency must be between 0 and 64")
		}
		switch strings.ToLower(c.API.LookupBy) {
		case "", "code", "name":
		default:
			errs = append(errs, "api.lookup_by must be code or name")
		}
		switch strings.ToLower(c.Session.Mode) {
		case "", "lazy", "prefetch":
		default:
			errs = append(errs, "session.mode must be lazy or prefetch")
		}
	case "datasource":
		if c.Datasource.Port <= 0 {
			errs = append(errs, "datasource.port must be > 0")
		}
		switch strings.ToLower(c.Datasource.Store.Driver) {
		case "", "json":
			if c.Datasource.Store.JSONPath == "" {
				errs = append(errs, "datasource.store.json_path is required for the json driver")
			}
		case "sqlite", "postgres":
			if c.Datasource.Store.DatabaseURL == "" {
				errs = append(errs, "datasource.store.database_url is required for the "+c.Datasource.Store.Driver+" driver")
			}
		default:
			errs = append(errs, "datasource.store.driver must be json, sqlite or postgres")
		}
	default:
		return eris.Errorf("config: unknown mode %q", mode)
	}

	if c.Tracing.Enabled {
		switch strings.ToLower(c.Tracing.Exporter) {
		case "", "stdout", "otlp":
		default:
			errs = append(errs, "tracing.exporter must be stdout or otlp")
		}
		if c.Tracing.SampleRatio < 0 || c.Tracing.SampleRatio > 1 {
			errs = append(errs, "tracing.sample_ratio must be between 0 and 1")
		}
	}

	if len(errs) > 0 {
		return eris.Errorf("config: %s", strings.Join(errs, "; "))
	}
	return nil
}

// InitLogger initializes the global zap logger.
func InitLogger(cfg LogConfig) error {
	var zapCfg zap.Config
	if cfg.Format == "console" {
		zapCfg = zap.NewDevelopmentConfig()
	} else {
		zapCfg = zap.NewProductionConfig()
	}

	level, err := zapcore.ParseLevel(cfg.Level)
	if err != nil {
		return eris.Wrap(err, "config: parse log level")
	}
	zapCfg.Level.SetLevel(level)

	logger, err := zapCfg.Build()
	if err != nil {
		return eris.Wrap(err, "config: build logger")
	}
	zap.ReplaceGlobals(logger)

	return nil
}
