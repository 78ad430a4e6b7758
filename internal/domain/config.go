package domain

import (
	"os"
	"strconv"
	"strings"
	"time"
)

// Config holds the complete service configuration.
type Config struct {
	// Server settings
	Server ServerConfig `json:"server"`

	// Tier determines which infrastructure backends are used
	Tier Tier `json:"tier"`

	// AnalysisMode determines whether the narrative scorer is consulted
	// - "assisted": ratios → thresholds → rules → narrative scorer → reconciliation
	// - "deterministic": ratios → thresholds → rules, no external call
	AnalysisMode AnalysisMode `json:"analysisMode"`

	// Component configurations
	Repository RepositoryConfig `json:"repository"`
	Cache      CacheConfig      `json:"cache"`
	EventBus   EventBusConfig   `json:"eventBus"`
	Scorer     ScorerConfig     `json:"scorer"`
	Policy     PolicyConfig     `json:"policy"`
	Quota      QuotaConfig      `json:"quota"`
	Notify     NotifyConfig     `json:"notify"`

	// Worker
	AsyncWorker bool     `json:"asyncWorker"`
	WorkerCount int      `json:"workerCount"`
	Tenants     []string `json:"tenants"`
	SeedRules   bool     `json:"seedRules"`

	// Observability
	Logging LoggingConfig `json:"logging"`
	Tracing TracingConfig `json:"tracing"`
}

// AnalysisMode determines the analysis strategy.
type AnalysisMode string

const (
	// ModeAssisted asks the external narrative scorer and reconciles its
	// answer with the threshold table.
	ModeAssisted AnalysisMode = "assisted"

	// ModeDeterministic builds the result from the threshold table alone.
	ModeDeterministic AnalysisMode = "deterministic"
)

// ServerConfig holds HTTP server settings.
type ServerConfig struct {
	Host         string `json:"host"`
	Port         int    `json:"port"`
	ReadTimeout  int    `json:"readTimeout"`  // seconds
	WriteTimeout int    `json:"writeTimeout"` // seconds

	// CORSOrigins lists browser origins allowed with credentials. Empty
	// allows any origin without credentials.
	CORSOrigins []string `json:"corsOrigins"`
}

// ScorerConfig configures the external narrative scorer.
type ScorerConfig struct {
	// Provider is "stub" or "http" (OpenAI-compatible chat completions)
	Provider    string `json:"provider"`
	Endpoint    string `json:"endpoint"`
	APIKey      string `json:"-"`
	Model       string `json:"model"`
	TimeoutSecs int    `json:"timeoutSecs"`
	Language    string `json:"language"` // prompt and narrative language
}

// Timeout returns the bound applied to one scorer call.
func (c ScorerConfig) Timeout() time.Duration {
	if c.TimeoutSecs <= 0 {
		return 30 * time.Second
	}
	return time.Duration(c.TimeoutSecs) * time.Second
}

// PolicyConfig holds the default classifier thresholds. Requests may
// override them through their policy object.
type PolicyConfig struct {
	MaxHistoricalDelayDays float64 `json:"maxHistoricalDelayDays"`
	MaxDebtServiceRatio    float64 `json:"maxDebtServiceRatio"`
	MaxExposureRatio       float64 `json:"maxExposureRatio"`
	MinGuaranteeCoverage   float64 `json:"minGuaranteeCoverage"`
	MinRegularizationRate  float64 `json:"minRegularizationRate"`
}

// QuotaConfig bounds how often a single dossier can be analysed.
type QuotaConfig struct {
	MaxAnalyses int `json:"maxAnalyses"` // 0 disables the quota
	WindowSecs  int `json:"windowSecs"`
}

// NotifyConfig configures credit committee notifications.
type NotifyConfig struct {
	Enabled    bool     `json:"enabled"`
	SMTPHost   string   `json:"smtpHost"`
	SMTPPort   int      `json:"smtpPort"`
	SMTPUser   string   `json:"smtpUser"`
	SMTPPass   string   `json:"-"`
	From       string   `json:"from"`
	Recipients []string `json:"recipients"`
}

// LoggingConfig holds logging settings.
type LoggingConfig struct {
	Level  string `json:"level"`  // debug, info, warn, error
	Format string `json:"format"` // json, text
}

// TracingConfig holds OpenTelemetry settings.
type TracingConfig struct {
	Enabled      bool   `json:"enabled"`
	ServiceName  string `json:"serviceName"`
	ExporterType string `json:"exporterType"` // stdout, otlp, jaeger
	Endpoint     string `json:"endpoint"`
}

// Tier represents the deployment tier.
type Tier string

const (
	// TierCommunity runs on SQLite + channels + in-memory cache
	TierCommunity Tier = "community"

	// TierPro runs on PostgreSQL + NATS + Redis
	TierPro Tier = "pro"
)

// DefaultConfig returns a default configuration for the Community tier.
func DefaultConfig() *Config {
	return &Config{
		Server: ServerConfig{
			Host:         "0.0.0.0",
			Port:         8080,
			ReadTimeout:  30,
			WriteTimeout: 60,
		},
		Tier:         TierCommunity,
		AnalysisMode: ModeAssisted,
		Repository: RepositoryConfig{
			Driver:     "sqlite",
			SQLitePath: "./dossier.db",
		},
		Cache: CacheConfig{
			Type:         "memory",
			LocalMaxSize: 10000,
			LocalTTL:     5 * time.Minute,
			ResultTTL:    time.Hour,
		},
		EventBus: EventBusConfig{
			Type:              "channel",
			ChannelBufferSize: 1000,
		},
		Scorer: ScorerConfig{
			Provider:    "stub",
			Model:       "gpt-4o-mini",
			TimeoutSecs: 30,
			Language:    "fr",
		},
		Policy: DefaultPolicy(),
		Quota: QuotaConfig{
			MaxAnalyses: 10,
			WindowSecs:  3600,
		},
		Notify: NotifyConfig{
			SMTPPort: 587,
		},
		WorkerCount: 4,
		Logging: LoggingConfig{
			Level:  "info",
			Format: "json",
		},
		Tracing: TracingConfig{
			Enabled:     false,
			ServiceName: "dossier",
		},
	}
}

// ProConfig returns a configuration for the Pro tier.
func ProConfig() *Config {
	cfg := DefaultConfig()
	cfg.Tier = TierPro
	cfg.Repository = RepositoryConfig{
		Driver:          "postgres",
		PostgresHost:    "localhost",
		PostgresPort:    5432,
		PostgresDB:      "dossier",
		PostgresSSLMode: "disable",
		MaxOpenConns:    25,
		MaxIdleConns:    5,
		ConnMaxLifetime: 5 * time.Minute,
	}
	cfg.Cache = CacheConfig{
		Type:           "redis",
		RedisAddr:      "localhost:6379",
		EnableTwoPhase: true,
		LocalMaxSize:   1000,
		LocalTTL:       time.Minute,
		ResultTTL:      time.Hour,
	}
	cfg.EventBus = EventBusConfig{
		Type:              "nats",
		NATSUrl:           "nats://localhost:4222",
		NATSMaxReconnects: 10,
		NATSReconnectWait: 5,
		NATSQueue:         "dossier",
	}
	cfg.Scorer.Provider = "http"
	cfg.Scorer.Endpoint = "https://api.openai.com/v1/chat/completions"
	cfg.AsyncWorker = true
	cfg.WorkerCount = 16
	cfg.Tracing.Enabled = true
	return cfg
}

// DefaultPolicy returns the standard classification thresholds.
func DefaultPolicy() PolicyConfig {
	return PolicyConfig{
		MaxHistoricalDelayDays: 90,
		MaxDebtServiceRatio:    65,
		MaxExposureRatio:       0.5,
		MinGuaranteeCoverage:   50,
		MinRegularizationRate:  0.8,
	}
}

// LoadConfig picks the tier from DOSSIER_TIER and applies the environment.
func LoadConfig() *Config {
	cfg := DefaultConfig()
	if Tier(strings.ToLower(os.Getenv("DOSSIER_TIER"))) == TierPro {
		cfg = ProConfig()
	}
	ApplyEnv(cfg)
	return cfg
}

// ApplyEnv overlays DOSSIER_* environment variables on cfg.
// Unset or malformed variables keep the existing value.
func ApplyEnv(cfg *Config) {
	cfg.Server.Host = getEnv("DOSSIER_HOST", cfg.Server.Host)
	cfg.Server.Port = getEnvInt("DOSSIER_PORT", cfg.Server.Port)
	if v := getEnv("DOSSIER_CORS_ORIGINS", ""); v != "" {
		cfg.Server.CORSOrigins = splitList(v)
	}

	if m := AnalysisMode(getEnv("DOSSIER_MODE", string(cfg.AnalysisMode))); m == ModeAssisted || m == ModeDeterministic {
		cfg.AnalysisMode = m
	}

	cfg.Repository.Driver = getEnv("DOSSIER_DB_DRIVER", cfg.Repository.Driver)
	cfg.Repository.SQLitePath = getEnv("DOSSIER_SQLITE_PATH", cfg.Repository.SQLitePath)
	cfg.Repository.PostgresHost = getEnv("DOSSIER_POSTGRES_HOST", cfg.Repository.PostgresHost)
	cfg.Repository.PostgresPort = getEnvInt("DOSSIER_POSTGRES_PORT", cfg.Repository.PostgresPort)
	cfg.Repository.PostgresUser = getEnv("DOSSIER_POSTGRES_USER", cfg.Repository.PostgresUser)
	cfg.Repository.PostgresPassword = getEnv("DOSSIER_POSTGRES_PASSWORD", cfg.Repository.PostgresPassword)
	cfg.Repository.PostgresDB = getEnv("DOSSIER_POSTGRES_DB", cfg.Repository.PostgresDB)
	cfg.Repository.PostgresSSLMode = getEnv("DOSSIER_POSTGRES_SSLMODE", cfg.Repository.PostgresSSLMode)
	cfg.Repository.PostgresURL = getEnv("DOSSIER_DATABASE_URL", cfg.Repository.PostgresURL)

	cfg.Cache.RedisAddr = getEnv("DOSSIER_REDIS_ADDR", cfg.Cache.RedisAddr)
	cfg.Cache.RedisPassword = getEnv("DOSSIER_REDIS_PASSWORD", cfg.Cache.RedisPassword)
	cfg.Cache.RedisDB = getEnvInt("DOSSIER_REDIS_DB", cfg.Cache.RedisDB)

	cfg.EventBus.NATSUrl = getEnv("DOSSIER_NATS_URL", cfg.EventBus.NATSUrl)
	cfg.EventBus.NATSToken = getEnv("DOSSIER_NATS_TOKEN", cfg.EventBus.NATSToken)
	cfg.EventBus.NATSQueue = getEnv("DOSSIER_NATS_QUEUE", cfg.EventBus.NATSQueue)

	cfg.Scorer.Provider = getEnv("DOSSIER_SCORER_PROVIDER", cfg.Scorer.Provider)
	cfg.Scorer.Endpoint = getEnv("DOSSIER_SCORER_ENDPOINT", cfg.Scorer.Endpoint)
	cfg.Scorer.APIKey = getEnv("DOSSIER_SCORER_API_KEY", cfg.Scorer.APIKey)
	cfg.Scorer.Model = getEnv("DOSSIER_SCORER_MODEL", cfg.Scorer.Model)
	cfg.Scorer.TimeoutSecs = getEnvInt("DOSSIER_SCORER_TIMEOUT", cfg.Scorer.TimeoutSecs)
	cfg.Scorer.Language = getEnv("DOSSIER_SCORER_LANGUAGE", cfg.Scorer.Language)

	cfg.Policy.MaxHistoricalDelayDays = getEnvFloat("DOSSIER_MAX_DELAY_DAYS", cfg.Policy.MaxHistoricalDelayDays)
	cfg.Policy.MaxDebtServiceRatio = getEnvFloat("DOSSIER_MAX_DSR", cfg.Policy.MaxDebtServiceRatio)
	cfg.Policy.MaxExposureRatio = getEnvFloat("DOSSIER_MAX_EXPOSURE", cfg.Policy.MaxExposureRatio)
	cfg.Policy.MinGuaranteeCoverage = getEnvFloat("DOSSIER_MIN_COVERAGE", cfg.Policy.MinGuaranteeCoverage)
	cfg.Policy.MinRegularizationRate = getEnvFloat("DOSSIER_MIN_REGULARIZATION", cfg.Policy.MinRegularizationRate)

	cfg.Quota.MaxAnalyses = getEnvInt("DOSSIER_QUOTA_MAX", cfg.Quota.MaxAnalyses)
	cfg.Quota.WindowSecs = getEnvInt("DOSSIER_QUOTA_WINDOW", cfg.Quota.WindowSecs)

	cfg.Notify.SMTPHost = getEnv("DOSSIER_SMTP_HOST", cfg.Notify.SMTPHost)
	cfg.Notify.SMTPPort = getEnvInt("DOSSIER_SMTP_PORT", cfg.Notify.SMTPPort)
	cfg.Notify.SMTPUser = getEnv("DOSSIER_SMTP_USER", cfg.Notify.SMTPUser)
	cfg.Notify.SMTPPass = getEnv("DOSSIER_SMTP_PASSWORD", cfg.Notify.SMTPPass)
	cfg.Notify.From = getEnv("DOSSIER_SMTP_FROM", cfg.Notify.From)
	if v := getEnv("DOSSIER_NOTIFY_RECIPIENTS", ""); v != "" {
		cfg.Notify.Recipients = splitList(v)
	}
	cfg.Notify.Enabled = getEnvBool("DOSSIER_NOTIFY", cfg.Notify.Enabled || len(cfg.Notify.Recipients) > 0)

	cfg.AsyncWorker = getEnvBool("DOSSIER_ASYNC_WORKER", cfg.AsyncWorker)
	cfg.WorkerCount = getEnvInt("DOSSIER_WORKER_COUNT", cfg.WorkerCount)
	if v := getEnv("DOSSIER_TENANTS", ""); v != "" {
		cfg.Tenants = splitList(v)
	}
	cfg.SeedRules = getEnvBool("DOSSIER_SEED_RULES", cfg.SeedRules)

	cfg.Logging.Level = getEnv("DOSSIER_LOG_LEVEL", cfg.Logging.Level)
	cfg.Logging.Format = getEnv("DOSSIER_LOG_FORMAT", cfg.Logging.Format)
	cfg.Tracing.Enabled = getEnvBool("DOSSIER_TRACING", cfg.Tracing.Enabled)
}

func getEnv(key, fallback string) string {
	if v, ok := os.LookupEnv(key); ok && v != "" {
		return v
	}
	return fallback
}

func getEnvInt(key string, fallback int) int {
	if v, err := strconv.Atoi(getEnv(key, "")); err == nil {
		return v
	}
	return fallback
}

func getEnvFloat(key string, fallback float64) float64 {
	if v, err := strconv.ParseFloat(getEnv(key, ""), 64); err == nil {
		return v
	}
	return fallback
}

func getEnvBool(key string, fallback bool) bool {
	if v, err := strconv.ParseBool(getEnv(key, "")); err == nil {
		return v
	}
	return fallback
}

func splitList(s string) []string {
	var out []string
	for _, part := range strings.Split(s, ",") {
		if p := strings.TrimSpace(part); p != "" {
			out = append(out, p)
		}
	}
	return out
}
