package config

import (
	"os"
	"strconv"
	"strings"
	"time"

	"reportpilot/models"
)

type Config struct {
	Port           string
	DBPath         string // badger: sessions and interactions
	WorkingSetPath string // sqlite file; empty keeps the working set in memory
	ConfigFile     string // optional YAML with sources and redaction rules
	Inference      InferenceConfig
	Core           CoreConfig
	Log            LogConfig
	SQLServer      SQLServerConfig

	// Filled from ConfigFile.
	Sources   []SourceConfig
	Redaction []models.RedactionRule
}

type InferenceConfig struct {
	Backend           string // "dashscope" or "openai"
	APIKey            string
	ModelName         string
	BaseURL           string
	Timeout           time.Duration
	MaxRetries        int
	RetryBaseDelay    time.Duration
	RequestsPerSecond float64
	ChartCacheTTL     time.Duration
}

type CoreConfig struct {
	MaxTablesPerSession int
	RecentTurns         int
	IdleTTL             time.Duration
	JanitorInterval     time.Duration
	SourceTimeout       time.Duration
	StoreTimeout        time.Duration
	CompressAfterTurns  int
	// Multi-axis charts normalize when column spans differ by more than
	// NormalizeRatio, onto [NormalizeLower, NormalizeUpper].
	NormalizeRatio float64
	NormalizeLower float64
	NormalizeUpper float64
}

type LogConfig struct {
	Dir        string
	MaxSizeMB  int
	MaxBackups int
	MaxAgeDays int
	Compress   bool
	TraceFile  string
}

// SQLServerConfig describes the SQL Server source configured from the
// environment alone, without a YAML file.
type SQLServerConfig struct {
	Server   string `yaml:"server" validate:"required"`
	Port     string `yaml:"port"`
	Database string `yaml:"database" validate:"required"`
	UserID   string `yaml:"user_id"`
	Password string `yaml:"password"`
	Encrypt  bool   `yaml:"encrypt"`
}

func GetConfig() Config {
	return Config{
		Port:           getEnv("PORT", "9090"),
		DBPath:         getEnv("DB_PATH", "./data/badger"),
		WorkingSetPath: getEnv("WORKING_SET_PATH", "./data/workingset.db"),
		ConfigFile:     getEnv("REPORTPILOT_CONFIG", ""),
		Inference: InferenceConfig{
			Backend:           getEnv("INFERENCE_BACKEND", "dashscope"),
			APIKey:            getEnv("INFERENCE_API_KEY", ""),
			ModelName:         getEnv("INFERENCE_MODEL", "qwen3-max"),
			BaseURL:           getEnv("INFERENCE_BASE_URL", ""),
			Timeout:           getEnvDuration("INFERENCE_TIMEOUT", 120*time.Second),
			MaxRetries:        getEnvInt("INFERENCE_MAX_RETRIES", 3),
			RetryBaseDelay:    getEnvDuration("INFERENCE_RETRY_DELAY", 2*time.Second),
			RequestsPerSecond: getEnvFloat("INFERENCE_RPS", 2),
			ChartCacheTTL:     getEnvDuration("CHART_CACHE_TTL", time.Hour),
		},
		Core: CoreConfig{
			MaxTablesPerSession: getEnvInt("MAX_TABLES_PER_SESSION", 20),
			RecentTurns:         getEnvInt("RECENT_TURNS", 5),
			IdleTTL:             getEnvDuration("SESSION_IDLE_TTL", 2*time.Hour),
			JanitorInterval:     getEnvDuration("SESSION_JANITOR_INTERVAL", 5*time.Minute),
			SourceTimeout:       getEnvDuration("SOURCE_TIMEOUT", 60*time.Second),
			StoreTimeout:        getEnvDuration("WORKING_SET_TIMEOUT", 30*time.Second),
			CompressAfterTurns:  getEnvInt("COMPRESS_AFTER_TURNS", 10),
			NormalizeRatio:      getEnvFloat("CHART_NORMALIZE_RATIO", 10),
			NormalizeLower:      getEnvFloat("CHART_NORMALIZE_LOWER", 0),
			NormalizeUpper:      getEnvFloat("CHART_NORMALIZE_UPPER", 100),
		},
		Log: LogConfig{
			Dir:        getEnv("LOG_DIR", "./logs"),
			MaxSizeMB:  getEnvInt("LOG_MAX_SIZE_MB", 10),
			MaxBackups: getEnvInt("LOG_MAX_BACKUPS", 3),
			MaxAgeDays: getEnvInt("LOG_MAX_AGE_DAYS", 28),
			Compress:   getEnvBool("LOG_COMPRESS", true),
			TraceFile:  getEnv("TRACE_FILE", ""),
		},
		SQLServer: SQLServerConfig{
			Server:   getEnv("SQL_SERVER", ""),
			Port:     getEnv("SQL_PORT", "1433"),
			Database: getEnv("SQL_DATABASE", ""),
			UserID:   getEnv("SQL_USER", ""),
			Password: getEnv("SQL_PASSWORD", ""),
			Encrypt:  getEnvBool("SQL_ENCRYPT", true),
		},
	}
}

// Load reads the environment and then the optional YAML file.
func Load() (*Config, error) {
	cfg := GetConfig()
	if cfg.ConfigFile != "" {
		file, err := ReadFile(cfg.ConfigFile)
		if err != nil {
			return nil, err
		}
		cfg.apply(file)
	}
	if cfg.SQLServer.Server != "" && cfg.SQLServer.Database != "" && !cfg.hasSource("sqlserver") {
		cfg.Sources = append(cfg.Sources, SourceConfig{
			ID:          "sqlserver",
			Kind:        KindSQLServer,
			Description: "SQL Server " + cfg.SQLServer.Database,
			SQLServer:   cfg.SQLServer,
		})
	}
	return &cfg, nil
}

func (c *Config) apply(f *FileConfig) {
	c.Sources = f.Sources
	c.Redaction = f.Redaction
}

func (c *Config) hasSource(id string) bool {
	for _, s := range c.Sources {
		if s.ID == id {
			return true
		}
	}
	return false
}

func getEnv(key, defaultValue string) string {
	if value := os.Getenv(key); value != "" {
		return value
	}
	return defaultValue
}

func getEnvInt(key string, defaultValue int) int {
	if v, err := strconv.Atoi(os.Getenv(key)); err == nil {
		return v
	}
	return defaultValue
}

func getEnvFloat(key string, defaultValue float64) float64 {
	if v, err := strconv.ParseFloat(os.Getenv(key), 64); err == nil {
		return v
	}
	return defaultValue
}

func getEnvBool(key string, defaultValue bool) bool {
	switch strings.ToLower(os.Getenv(key)) {
	case "true", "1", "yes":
		return true
	case "false", "0", "no":
		return false
	}
	return defaultValue
}

func getEnvDuration(key string, defaultValue time.Duration) time.Duration {
	if v, err := time.ParseDuration(os.Getenv(key)); err == nil {
		return v
	}
	return defaultValue
}
