package config

import (
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"
)

type Config struct {
	Server      ServerConfig
	Database    DatabaseConfig
	JWT         JWTConfig
	OpenFinance OpenFinanceConfig
	Poll        PollConfig
	Sync        SyncConfig
	Resume      ResumeConfig
	Scheduler   SchedulerConfig
	Telemetry   TelemetryConfig
	LogLevel    string
}

type ServerConfig struct {
	Port string
	Host string
}

type DatabaseConfig struct {
	Host     string
	Port     int
	User     string
	Password string
	DBName   string
	SSLMode  string
}

type JWTConfig struct {
	Secret string
}

// OpenFinanceConfig holds the aggregator credentials and HTTP client tuning.
type OpenFinanceConfig struct {
	BaseURL        string
	ClientID       string
	ClientSecret   string
	Timeout        time.Duration
	APIKeyTTL      time.Duration
	MaxRetries     int
	InitialBackoff time.Duration
}

type PollConfig struct {
	MaxAttempts int
	Interval    time.Duration
}

type SyncConfig struct {
	Lookback    time.Duration
	Overlap     time.Duration
	Concurrency int
}

// ResumeConfig selects where the OAuth resume slot lives ("postgres" or "redis").
type ResumeConfig struct {
	Store         string
	RedisAddr     string
	RedisPassword string
	RedisDB       int
}

type SchedulerConfig struct {
	Enabled       bool
	ScheduleTimes []string
	WorkerCount   int
	JobDelay      time.Duration
	QueueSize     int
	RunOnStartup  bool
	StaleAfter    time.Duration
}

type TelemetryConfig struct {
	Enabled      bool
	ServiceName  string
	OTLPEndpoint string
}

func Load() (*Config, error) {
	dbPort, err := getIntEnv("DB_PORT", 5432)
	if err != nil {
		return nil, err
	}

	ofTimeout, err := getDurationEnv("OPENFINANCE_TIMEOUT", 60*time.Second)
	if err != nil {
		return nil, err
	}
	ofKeyTTL, err := getDurationEnv("OPENFINANCE_API_KEY_TTL", 110*time.Minute)
	if err != nil {
		return nil, err
	}
	ofRetries, err := getIntEnv("OPENFINANCE_MAX_RETRIES", 3)
	if err != nil {
		return nil, err
	}
	ofBackoff, err := getDurationEnv("OPENFINANCE_INITIAL_BACKOFF", 200*time.Millisecond)
	if err != nil {
		return nil, err
	}

	pollAttempts, err := getIntEnv("POLL_MAX_ATTEMPTS", 15)
	if err != nil {
		return nil, err
	}
	pollInterval, err := getDurationEnv("POLL_INTERVAL", 2*time.Second)
	if err != nil {
		return nil, err
	}

	syncLookback, err := getDurationEnv("SYNC_LOOKBACK", 90*24*time.Hour)
	if err != nil {
		return nil, err
	}
	syncOverlap, err := getDurationEnv("SYNC_OVERLAP", 7*24*time.Hour)
	if err != nil {
		return nil, err
	}
	syncConcurrency, err := getIntEnv("SYNC_CONCURRENCY", 4)
	if err != nil {
		return nil, err
	}

	redisDB, err := getIntEnv("REDIS_DB", 0)
	if err != nil {
		return nil, err
	}

	schedulerWorkers, err := getIntEnv("SCHEDULER_WORKERS", 3)
	if err != nil {
		return nil, err
	}
	schedulerJobDelay, err := getDurationEnv("SCHEDULER_JOB_DELAY", time.Second)
	if err != nil {
		return nil, err
	}
	schedulerQueueSize, err := getIntEnv("SCHEDULER_QUEUE_SIZE", 100)
	if err != nil {
		return nil, err
	}
	schedulerStaleAfter, err := getDurationEnv("SCHEDULER_STALE_AFTER", 24*time.Hour)
	if err != nil {
		return nil, err
	}

	cfg := &Config{
		Server: ServerConfig{
			Port: getEnv("PORT", "8080"),
			Host: getEnv("HOST", "0.0.0.0"),
		},
		Database: DatabaseConfig{
			Host:     getEnv("DB_HOST", "localhost"),
			Port:     dbPort,
			User:     getEnv("DB_USER", "finlink"),
			Password: getEnv("DB_PASSWORD", ""),
			DBName:   getEnv("DB_NAME", "finlink"),
			SSLMode:  getEnv("DB_SSLMODE", "disable"),
		},
		JWT: JWTConfig{
			Secret: getEnv("JWT_SECRET", ""),
		},
		OpenFinance: OpenFinanceConfig{
			BaseURL:        strings.TrimRight(getEnv("OPENFINANCE_BASE_URL", "https://api.pluggy.ai"), "/"),
			ClientID:       getEnv("OPENFINANCE_CLIENT_ID", ""),
			ClientSecret:   getEnv("OPENFINANCE_CLIENT_SECRET", ""),
			Timeout:        ofTimeout,
			APIKeyTTL:      ofKeyTTL,
			MaxRetries:     ofRetries,
			InitialBackoff: ofBackoff,
		},
		Poll: PollConfig{
			MaxAttempts: pollAttempts,
			Interval:    pollInterval,
		},
		Sync: SyncConfig{
			Lookback:    syncLookback,
			Overlap:     syncOverlap,
			Concurrency: syncConcurrency,
		},
		Resume: ResumeConfig{
			Store:         strings.ToLower(getEnv("RESUME_STORE", "postgres")),
			RedisAddr:     getEnv("REDIS_ADDR", "localhost:6379"),
			RedisPassword: getEnv("REDIS_PASSWORD", ""),
			RedisDB:       redisDB,
		},
		Scheduler: SchedulerConfig{
			Enabled:       getBoolEnv("SCHEDULER_ENABLED", true),
			ScheduleTimes: splitList(getEnv("SCHEDULER_TIMES", "06:00,12:00,18:00")),
			WorkerCount:   schedulerWorkers,
			JobDelay:      schedulerJobDelay,
			QueueSize:     schedulerQueueSize,
			RunOnStartup:  getBoolEnv("SCHEDULER_RUN_ON_STARTUP", false),
			StaleAfter:    schedulerStaleAfter,
		},
		Telemetry: TelemetryConfig{
			Enabled:      getBoolEnv("OTEL_ENABLED", false),
			ServiceName:  getEnv("OTEL_SERVICE_NAME", "finlink-api"),
			OTLPEndpoint: getEnv("OTEL_EXPORTER_ENDPOINT", "localhost:4317"),
		},
		LogLevel: getEnv("LOG_LEVEL", "info"),
	}

	if cfg.JWT.Secret == "" {
		return nil, fmt.Errorf("JWT_SECRET is required")
	}
	if cfg.OpenFinance.ClientID == "" || cfg.OpenFinance.ClientSecret == "" {
		return nil, fmt.Errorf("OPENFINANCE_CLIENT_ID and OPENFINANCE_CLIENT_SECRET are required")
	}
	if cfg.Poll.MaxAttempts < 1 {
		return nil, fmt.Errorf("POLL_MAX_ATTEMPTS must be at least 1")
	}
	if cfg.Poll.Interval < 0 {
		return nil, fmt.Errorf("POLL_INTERVAL must not be negative")
	}
	if cfg.Sync.Concurrency < 1 {
		return nil, fmt.Errorf("SYNC_CONCURRENCY must be at least 1")
	}
	switch cfg.Resume.Store {
	case "postgres", "redis":
	default:
		return nil, fmt.Errorf("RESUME_STORE must be 'postgres' or 'redis', got %q", cfg.Resume.Store)
	}

	return cfg, nil
}

func (c *DatabaseConfig) ConnectionString() string {
	return fmt.Sprintf(
		"host=%s port=%d user=%s password=%s dbname=%s sslmode=%s",
		c.Host, c.Port, c.User, c.Password, c.DBName, c.SSLMode,
	)
}

func getEnv(key, defaultValue string) string {
	if value := os.Getenv(key); value != "" {
		return value
	}
	return defaultValue
}

func getBoolEnv(key string, defaultValue bool) bool {
	value := os.Getenv(key)
	if value == "" {
		return defaultValue
	}
	switch strings.ToLower(value) {
	case "true", "1", "yes":
		return true
	case "false", "0", "no":
		return false
	default:
		return defaultValue
	}
}

func getIntEnv(key string, defaultValue int) (int, error) {
	value := os.Getenv(key)
	if value == "" {
		return defaultValue, nil
	}
	n, err := strconv.Atoi(value)
	if err != nil {
		return 0, fmt.Errorf("invalid %s: %w", key, err)
	}
	return n, nil
}

func getDurationEnv(key string, defaultValue time.Duration) (time.Duration, error) {
	value := os.Getenv(key)
	if value == "" {
		return defaultValue, nil
	}
	d, err := time.ParseDuration(value)
	if err != nil {
		return 0, fmt.Errorf("invalid %s: %w", key, err)
	}
	return d, nil
}

func splitList(s string) []string {
	var out []string
	for _, part := range strings.Split(s, ",") {
		part = strings.TrimSpace(part)
		if part != "" {
			out = append(out, part)
		}
	}
	return out
}
