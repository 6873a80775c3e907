// Package config loads the gateway configuration from the environment.
// All knobs have working defaults so the binary boots with no env at all;
// external stores (postgres, redis) are best-effort and the gateway degrades
// to memory-only when they are absent.
package config

import (
	"os"
	"strconv"
	"strings"
	"time"
)

type Config struct {
	Server      ServerConfig
	Database    DatabaseConfig
	Redis       RedisConfig
	Ensemble    EnsembleConfig
	Admission   AdmissionConfig
	Cache       CacheConfig
	Calibration CalibrationConfig
	Synthesis   SynthesisConfig
	Validation  ValidationConfig
	Monitoring  MonitoringConfig
	Tiers       map[string]TierConfig
	Providers   map[string]ProviderConfig
}

type ServerConfig struct {
	Host         string
	Port         string
	Mode         string // "debug" or "release"
	ReadTimeout  time.Duration
	WriteTimeout time.Duration
	LogLevel     string
}

type DatabaseConfig struct {
	Host        string
	Port        string
	User        string
	Password    string
	Name        string
	SSLMode     string
	PoolSize    int
	ConnTimeout time.Duration
	Enabled     bool
}

// URL builds the pgx connection string.
func (d DatabaseConfig) URL() string {
	return "postgres://" + d.User + ":" + d.Password + "@" + d.Host + ":" + d.Port +
		"/" + d.Name + "?sslmode=" + d.SSLMode
}

type RedisConfig struct {
	Host     string
	Port     string
	Password string
	DB       int
	Enabled  bool
}

// Addr returns host:port for the redis client.
func (r RedisConfig) Addr() string { return r.Host + ":" + r.Port }

// ProviderConfig characterizes one upstream model backend.
type ProviderConfig struct {
	Name            string
	Model           string
	BaseURL         string
	APIKey          string
	CostPer1KInput  float64
	CostPer1KOutput float64
	Deadline        time.Duration
	MaxTokens       int
}

// TierConfig enumerates a tier's provider list and limits.
type TierConfig struct {
	Providers       []string
	MaxPromptLength int
	Concurrency     int
	RequestDeadline time.Duration
}

// EnsembleConfig tunes the orchestrator pipeline.
type EnsembleConfig struct {
	OverheadBudget      time.Duration // subtracted from the request deadline per provider
	TieMargin           float64       // margin at or below which the tie-breaker runs
	MetaVoterFloor      float64       // top score below which the meta-voter runs
	AbstentionThreshold float64       // composite quality below which abstention triggers
	DiversityFloor      float64
	RequeryBudget       int
	FastThreshold       time.Duration // response-time score reference
	HedgingEnabled      bool
	SynthesisProvider   string
	MetaVoterProvider   string
}

// AdmissionConfig bounds the request admission queue.
type AdmissionConfig struct {
	Capacity          int
	DepthThreshold    int
	P95Threshold      time.Duration
	DefaultDeadline   time.Duration
	PremiumPriority   bool
	ShutdownDrainTime time.Duration
}

// CacheConfig tunes the response cache.
type CacheConfig struct {
	BaseTTL             time.Duration
	MinTTL              time.Duration
	MaxTTL              time.Duration
	LocalCapacity       int
	SemanticEnabled     bool
	SimilarityThreshold float64
	CleanupInterval     time.Duration
}

// CalibrationConfig tunes the calibration subsystem.
type CalibrationConfig struct {
	WindowSize      int
	BinCount        int
	MinSamples      int
	RebuildEvery    int
	RebuildInterval time.Duration
	BrierWindow     int
	BrierSummaryN   int
}

// SynthesisConfig tunes the synthesizer.
type SynthesisConfig struct {
	MaxSections         int
	MinSectionWords     int
	QualityFloor        float64
	RedundancyThreshold float64
}

// ValidationConfig selects the validator strictness level.
type ValidationConfig struct {
	Level string // "strict", "standard" or "lenient"
}

type MonitoringConfig struct {
	MetricsPath string
	Enabled     bool
}

// Load reads configuration from the environment with defaults.
func Load() *Config {
	cfg := &Config{
		Server: ServerConfig{
			Host:         getEnv("SERVER_HOST", "0.0.0.0"),
			Port:         getEnv("SERVER_PORT", "8080"),
			Mode:         getEnv("SERVER_MODE", "release"),
			ReadTimeout:  getEnvDuration("SERVER_READ_TIMEOUT", 30*time.Second),
			WriteTimeout: getEnvDuration("SERVER_WRITE_TIMEOUT", 60*time.Second),
			LogLevel:     getEnv("LOG_LEVEL", "info"),
		},
		Database: DatabaseConfig{
			Host:        getEnv("DB_HOST", "localhost"),
			Port:        getEnv("DB_PORT", "5432"),
			User:        getEnv("DB_USER", "gateway"),
			Password:    getEnv("DB_PASSWORD", ""),
			Name:        getEnv("DB_NAME", "gateway"),
			SSLMode:     getEnv("DB_SSLMODE", "disable"),
			PoolSize:    getEnvInt("DB_POOL_SIZE", 10),
			ConnTimeout: getEnvDuration("DB_CONN_TIMEOUT", 5*time.Second),
			Enabled:     getEnvBool("DB_ENABLED", false),
		},
		Redis: RedisConfig{
			Host:     getEnv("REDIS_HOST", "localhost"),
			Port:     getEnv("REDIS_PORT", "6379"),
			Password: getEnv("REDIS_PASSWORD", ""),
			DB:       getEnvInt("REDIS_DB", 0),
			Enabled:  getEnvBool("REDIS_ENABLED", false),
		},
		Ensemble: EnsembleConfig{
			OverheadBudget:      getEnvDuration("ENSEMBLE_OVERHEAD_BUDGET", 1500*time.Millisecond),
			TieMargin:           getEnvFloat("ENSEMBLE_TIE_MARGIN", 0.05),
			MetaVoterFloor:      getEnvFloat("ENSEMBLE_META_VOTER_FLOOR", 0.45),
			AbstentionThreshold: getEnvFloat("ENSEMBLE_ABSTENTION_THRESHOLD", 0.4),
			DiversityFloor:      getEnvFloat("ENSEMBLE_DIVERSITY_FLOOR", 0.15),
			RequeryBudget:       getEnvInt("ENSEMBLE_REQUERY_BUDGET", 1),
			FastThreshold:       getEnvDuration("ENSEMBLE_FAST_THRESHOLD", 3*time.Second),
			HedgingEnabled:      getEnvBool("ENSEMBLE_HEDGING_ENABLED", true),
			SynthesisProvider:   getEnv("ENSEMBLE_SYNTHESIS_PROVIDER", "gpt4o"),
			MetaVoterProvider:   getEnv("ENSEMBLE_META_VOTER_PROVIDER", "gpt4o"),
		},
		Admission: AdmissionConfig{
			Capacity:          getEnvInt("ADMISSION_CAPACITY", 10),
			DepthThreshold:    getEnvInt("ADMISSION_DEPTH_THRESHOLD", 10),
			P95Threshold:      getEnvDuration("ADMISSION_P95_THRESHOLD", 8*time.Second),
			DefaultDeadline:   getEnvDuration("ADMISSION_DEFAULT_DEADLINE", 30*time.Second),
			PremiumPriority:   getEnvBool("ADMISSION_PREMIUM_PRIORITY", true),
			ShutdownDrainTime: getEnvDuration("ADMISSION_SHUTDOWN_DRAIN", 10*time.Second),
		},
		Cache: CacheConfig{
			BaseTTL:             getEnvDuration("CACHE_BASE_TTL", 2*time.Hour),
			MinTTL:              getEnvDuration("CACHE_MIN_TTL", 1*time.Hour),
			MaxTTL:              getEnvDuration("CACHE_MAX_TTL", 3*time.Hour),
			LocalCapacity:       getEnvInt("CACHE_LOCAL_CAPACITY", 1000),
			SemanticEnabled:     getEnvBool("CACHE_SEMANTIC_ENABLED", true),
			SimilarityThreshold: getEnvFloat("CACHE_SIMILARITY_THRESHOLD", 0.85),
			CleanupInterval:     getEnvDuration("CACHE_CLEANUP_INTERVAL", 30*time.Minute),
		},
		Calibration: CalibrationConfig{
			WindowSize:      getEnvInt("CALIBRATION_WINDOW_SIZE", 500),
			BinCount:        getEnvInt("CALIBRATION_BIN_COUNT", 10),
			MinSamples:      getEnvInt("CALIBRATION_MIN_SAMPLES", 20),
			RebuildEvery:    getEnvInt("CALIBRATION_REBUILD_EVERY", 10),
			RebuildInterval: getEnvDuration("CALIBRATION_REBUILD_INTERVAL", 6*time.Hour),
			BrierWindow:     getEnvInt("CALIBRATION_BRIER_WINDOW", 100),
			BrierSummaryN:   getEnvInt("CALIBRATION_BRIER_SUMMARY_N", 20),
		},
		Synthesis: SynthesisConfig{
			MaxSections:         getEnvInt("SYNTHESIS_MAX_SECTIONS", 6),
			MinSectionWords:     getEnvInt("SYNTHESIS_MIN_SECTION_WORDS", 8),
			QualityFloor:        getEnvFloat("SYNTHESIS_QUALITY_FLOOR", 0.3),
			RedundancyThreshold: getEnvFloat("SYNTHESIS_REDUNDANCY_THRESHOLD", 0.7),
		},
		Validation: ValidationConfig{
			Level: getEnv("VALIDATION_LEVEL", "standard"),
		},
		Monitoring: MonitoringConfig{
			MetricsPath: getEnv("METRICS_PATH", "/metrics"),
			Enabled:     getEnvBool("METRICS_ENABLED", true),
		},
		Tiers:     defaultTiers(),
		Providers: defaultProviders(),
	}

	return cfg
}

// defaultProviders is the startup model/cost table. Role tags are stable
// identifiers independent of the underlying model names.
func defaultProviders() map[string]ProviderConfig {
	return map[string]ProviderConfig{
		"gpt4o": {
			Name:            "openai",
			Model:           getEnv("PROVIDER_GPT4O_MODEL", "gpt-4o-mini"),
			BaseURL:         getEnv("PROVIDER_GPT4O_URL", "https://api.openai.com/v1"),
			APIKey:          getEnv("OPENAI_API_KEY", ""),
			CostPer1KInput:  0.00015,
			CostPer1KOutput: 0.0006,
			Deadline:        getEnvDuration("PROVIDER_GPT4O_DEADLINE", 12*time.Second),
			MaxTokens:       2048,
		},
		"gemini": {
			Name:            "google",
			Model:           getEnv("PROVIDER_GEMINI_MODEL", "gemini-1.5-flash"),
			BaseURL:         getEnv("PROVIDER_GEMINI_URL", "https://generativelanguage.googleapis.com/v1beta"),
			APIKey:          getEnv("GEMINI_API_KEY", ""),
			CostPer1KInput:  0.000075,
			CostPer1KOutput: 0.0003,
			Deadline:        getEnvDuration("PROVIDER_GEMINI_DEADLINE", 12*time.Second),
			MaxTokens:       2048,
		},
		"claude": {
			Name:            "anthropic",
			Model:           getEnv("PROVIDER_CLAUDE_MODEL", "claude-3-5-haiku-latest"),
			BaseURL:         getEnv("PROVIDER_CLAUDE_URL", "https://api.anthropic.com/v1"),
			APIKey:          getEnv("ANTHROPIC_API_KEY", ""),
			CostPer1KInput:  0.0008,
			CostPer1KOutput: 0.004,
			Deadline:        getEnvDuration("PROVIDER_CLAUDE_DEADLINE", 12*time.Second),
			MaxTokens:       2048,
		},
		"gpt4o-premium": {
			Name:            "openai",
			Model:           getEnv("PROVIDER_GPT4O_PREMIUM_MODEL", "gpt-4o"),
			BaseURL:         getEnv("PROVIDER_GPT4O_URL", "https://api.openai.com/v1"),
			APIKey:          getEnv("OPENAI_API_KEY", ""),
			CostPer1KInput:  0.0025,
			CostPer1KOutput: 0.01,
			Deadline:        getEnvDuration("PROVIDER_GPT4O_PREMIUM_DEADLINE", 20*time.Second),
			MaxTokens:       4096,
		},
		"claude-premium": {
			Name:            "anthropic",
			Model:           getEnv("PROVIDER_CLAUDE_PREMIUM_MODEL", "claude-sonnet-4-20250514"),
			BaseURL:         getEnv("PROVIDER_CLAUDE_URL", "https://api.anthropic.com/v1"),
			APIKey:          getEnv("ANTHROPIC_API_KEY", ""),
			CostPer1KInput:  0.003,
			CostPer1KOutput: 0.015,
			Deadline:        getEnvDuration("PROVIDER_CLAUDE_PREMIUM_DEADLINE", 20*time.Second),
			MaxTokens:       4096,
		},
		"gemini-premium": {
			Name:            "google",
			Model:           getEnv("PROVIDER_GEMINI_PREMIUM_MODEL", "gemini-1.5-pro"),
			BaseURL:         getEnv("PROVIDER_GEMINI_URL", "https://generativelanguage.googleapis.com/v1beta"),
			APIKey:          getEnv("GEMINI_API_KEY", ""),
			CostPer1KInput:  0.00125,
			CostPer1KOutput: 0.005,
			Deadline:        getEnvDuration("PROVIDER_GEMINI_PREMIUM_DEADLINE", 20*time.Second),
			MaxTokens:       4096,
		},
	}
}

func defaultTiers() map[string]TierConfig {
	return map[string]TierConfig{
		"free": {
			Providers:       getEnvSlice("TIER_FREE_PROVIDERS", []string{"gpt4o", "gemini", "claude"}),
			MaxPromptLength: getEnvInt("TIER_FREE_MAX_PROMPT", 4000),
			Concurrency:     getEnvInt("TIER_FREE_CONCURRENCY", 10),
			RequestDeadline: getEnvDuration("TIER_FREE_DEADLINE", 30*time.Second),
		},
		"premium": {
			Providers:       getEnvSlice("TIER_PREMIUM_PROVIDERS", []string{"gpt4o-premium", "gemini-premium", "claude-premium"}),
			MaxPromptLength: getEnvInt("TIER_PREMIUM_MAX_PROMPT", 16000),
			Concurrency:     getEnvInt("TIER_PREMIUM_CONCURRENCY", 20),
			RequestDeadline: getEnvDuration("TIER_PREMIUM_DEADLINE", 45*time.Second),
		},
	}
}

func getEnv(key, defaultValue string) string {
	if value := os.Getenv(key); value != "" {
		return value
	}
	return defaultValue
}

func getEnvInt(key string, defaultValue int) int {
	if value := os.Getenv(key); value != "" {
		if n, err := strconv.Atoi(value); err == nil {
			return n
		}
	}
	return defaultValue
}

func getEnvFloat(key string, defaultValue float64) float64 {
	if value := os.Getenv(key); value != "" {
		if f, err := strconv.ParseFloat(value, 64); err == nil {
			return f
		}
	}
	return defaultValue
}

func getEnvBool(key string, defaultValue bool) bool {
	if value := os.Getenv(key); value != "" {
		if b, err := strconv.ParseBool(value); err == nil {
			return b
		}
	}
	return defaultValue
}

func getEnvDuration(key string, defaultValue time.Duration) time.Duration {
	if value := os.Getenv(key); value != "" {
		if d, err := time.ParseDuration(value); err == nil {
			return d
		}
	}
	return defaultValue
}

func getEnvSlice(key string, defaultValue []string) []string {
	if value := os.Getenv(key); value != "" {
		parts := strings.Split(value, ",")
		for i := range parts {
			parts[i] = strings.TrimSpace(parts[i])
		}
		return parts
	}
	return defaultValue
}
