package config

import (
	"fmt"
	"log/slog"
	"math"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/joho/godotenv"
)

const (
	StoreDriverPostgres = "postgres"
	StoreDriverBolt     = "bolt"
	StoreDriverMemory   = "memory"

	ReusePolicyRevoke = "revoke"
	ReusePolicyReject = "reject"

	minSecretBytes = 32

	maxHashIterations  = 1 << 10
	maxHashParallelism = 255
	maxHashMemoryKB    = 4 << 20
)

type Config struct {
	ServerPort              string
	ServerReadHeaderTimeout time.Duration
	ServerWriteTimeout      time.Duration
	ServerIdleTimeout       time.Duration
	RequestTimeout          time.Duration

	StoreDriver string
	DatabaseURL string
	DBMaxConns  int
	DBMinConns  int
	BoltPath    string

	JWTSecret     string
	JWTAlgorithm  string
	JWTIssuer     string
	JWTAccessTTL  time.Duration
	JWTRefreshTTL time.Duration
	JWTClockSkew  time.Duration
	EmailTokenTTL time.Duration

	// Hash parameters stay int until Validate has range-checked them.
	PasswordHashMemoryKB    int
	PasswordHashIterations  int
	PasswordHashParallelism int

	EmailActivationEnabled bool
	RefreshReusePolicy     string
	ModeratorCanEdit       bool
	ModeratorCanBan        bool

	BootstrapAdminUsername string
	BootstrapAdminEmail    string
	BootstrapAdminPassword string

	SMTPHost     string
	SMTPPort     string
	SMTPUsername string
	SMTPPassword string
	SMTPFrom     string

	PublicBaseURL    string
	CORSOrigins      []string
	RateLimitRPM     int
	AuthRateLimitRPM int

	LogLevel  string
	LogFormat string
}

func Load() (*Config, error) {
	_ = godotenv.Load()

	cfg := &Config{
		ServerPort:              getEnv("SERVER_PORT", "8080"),
		ServerReadHeaderTimeout: getDuration("SERVER_READ_HEADER_TIMEOUT", 10*time.Second),
		ServerWriteTimeout:      getDuration("SERVER_WRITE_TIMEOUT", 30*time.Second),
		ServerIdleTimeout:       getDuration("SERVER_IDLE_TIMEOUT", 120*time.Second),
		RequestTimeout:          getDuration("REQUEST_TIMEOUT", 30*time.Second),

		StoreDriver: strings.ToLower(getEnv("STORE_DRIVER", StoreDriverPostgres)),
		DatabaseURL: strings.TrimSpace(os.Getenv("DATABASE_URL")),
		DBMaxConns:  getInt("DB_MAX_CONNS", 10),
		DBMinConns:  getInt("DB_MIN_CONNS", 1),
		BoltPath:    getEnv("BOLT_PATH", "./state/users.db"),

		JWTSecret:     strings.TrimSpace(os.Getenv("JWT_SECRET")),
		JWTAlgorithm:  strings.ToUpper(getEnv("JWT_ALGORITHM", "HS256")),
		JWTIssuer:     getEnv("JWT_ISSUER", "photoshare"),
		JWTAccessTTL:  getDuration("JWT_ACCESS_TTL", 15*time.Minute),
		JWTRefreshTTL: getDuration("JWT_REFRESH_TTL", 168*time.Hour),
		JWTClockSkew:  getDuration("JWT_CLOCK_SKEW", 5*time.Second),
		EmailTokenTTL: getDuration("EMAIL_TOKEN_TTL", 24*time.Hour),

		PasswordHashMemoryKB:    getInt("PASSWORD_HASH_MEMORY_KB", 64*1024),
		PasswordHashIterations:  getInt("PASSWORD_HASH_ITERATIONS", 3),
		PasswordHashParallelism: getInt("PASSWORD_HASH_PARALLELISM", 2),

		EmailActivationEnabled: getBool("EMAIL_ACTIVATION_ENABLED", false),
		RefreshReusePolicy:     strings.ToLower(getEnv("REFRESH_REUSE_POLICY", ReusePolicyRevoke)),
		ModeratorCanEdit:       getBool("MODERATOR_CAN_EDIT", false),
		ModeratorCanBan:        getBool("MODERATOR_CAN_BAN", false),

		BootstrapAdminUsername: strings.TrimSpace(os.Getenv("BOOTSTRAP_ADMIN_USERNAME")),
		BootstrapAdminEmail:    strings.TrimSpace(os.Getenv("BOOTSTRAP_ADMIN_EMAIL")),
		BootstrapAdminPassword: os.Getenv("BOOTSTRAP_ADMIN_PASSWORD"),

		SMTPHost:     strings.TrimSpace(os.Getenv("SMTP_HOST")),
		SMTPPort:     getEnv("SMTP_PORT", "587"),
		SMTPUsername: strings.TrimSpace(os.Getenv("SMTP_USERNAME")),
		SMTPPassword: os.Getenv("SMTP_PASSWORD"),
		SMTPFrom:     strings.TrimSpace(os.Getenv("SMTP_FROM")),

		PublicBaseURL:    strings.TrimRight(getEnv("PUBLIC_BASE_URL", "http://localhost:8080"), "/"),
		CORSOrigins:      splitCSV(getEnv("CORS_ORIGINS", "*")),
		RateLimitRPM:     getInt("RATE_LIMIT_RPM", 100),
		AuthRateLimitRPM: getInt("AUTH_RATE_LIMIT_RPM", 10),

		LogLevel:  strings.ToLower(getEnv("LOG_LEVEL", "info")),
		LogFormat: strings.ToLower(getEnv("LOG_FORMAT", "pretty")),
	}

	if err := cfg.Validate(); err != nil {
		return nil, err
	}

	return cfg, nil
}

func (c *Config) Validate() error {
	if len(c.JWTSecret) < minSecretBytes {
		return fmt.Errorf("JWT_SECRET must be at least %d bytes", minSecretBytes)
	}

	if c.JWTAlgorithm != "HS256" && c.JWTAlgorithm != "HS512" {
		return fmt.Errorf("JWT_ALGORITHM must be HS256 or HS512, got %q", c.JWTAlgorithm)
	}

	if c.JWTAccessTTL <= 0 || c.JWTRefreshTTL <= 0 || c.EmailTokenTTL <= 0 {
		return fmt.Errorf("JWT_ACCESS_TTL, JWT_REFRESH_TTL and EMAIL_TOKEN_TTL must be positive")
	}

	if c.JWTAccessTTL >= c.JWTRefreshTTL {
		return fmt.Errorf("JWT_ACCESS_TTL must be shorter than JWT_REFRESH_TTL")
	}

	if c.JWTClockSkew < 0 || c.JWTClockSkew > time.Minute {
		return fmt.Errorf("JWT_CLOCK_SKEW must be between 0 and 1m")
	}

	if c.PasswordHashIterations < 1 || c.PasswordHashIterations > maxHashIterations {
		return fmt.Errorf("PASSWORD_HASH_ITERATIONS must be between 1 and %d, got %d", maxHashIterations, c.PasswordHashIterations)
	}

	if c.PasswordHashParallelism < 1 || c.PasswordHashParallelism > maxHashParallelism {
		return fmt.Errorf("PASSWORD_HASH_PARALLELISM must be between 1 and %d, got %d", maxHashParallelism, c.PasswordHashParallelism)
	}

	if c.PasswordHashMemoryKB < 8*c.PasswordHashParallelism || c.PasswordHashMemoryKB > maxHashMemoryKB {
		return fmt.Errorf("PASSWORD_HASH_MEMORY_KB must be between 8 * PASSWORD_HASH_PARALLELISM and %d, got %d", maxHashMemoryKB, c.PasswordHashMemoryKB)
	}

	switch c.StoreDriver {
	case StoreDriverPostgres:
		if c.DatabaseURL == "" {
			return fmt.Errorf("DATABASE_URL is required for the postgres store")
		}
		if c.DBMaxConns <= 0 || c.DBMaxConns > math.MaxInt32 || c.DBMinConns < 0 || c.DBMinConns > c.DBMaxConns {
			return fmt.Errorf("DB_MAX_CONNS must be positive, fit in int32 and not be below DB_MIN_CONNS")
		}
	case StoreDriverBolt:
		if strings.TrimSpace(c.BoltPath) == "" {
			return fmt.Errorf("BOLT_PATH cannot be empty")
		}
	case StoreDriverMemory:
	default:
		return fmt.Errorf("STORE_DRIVER must be one of postgres, bolt, memory; got %q", c.StoreDriver)
	}

	if c.RefreshReusePolicy != ReusePolicyRevoke && c.RefreshReusePolicy != ReusePolicyReject {
		return fmt.Errorf("REFRESH_REUSE_POLICY must be revoke or reject, got %q", c.RefreshReusePolicy)
	}

	admin := []string{c.BootstrapAdminUsername, c.BootstrapAdminEmail, c.BootstrapAdminPassword}
	set := 0
	for _, v := range admin {
		if v != "" {
			set++
		}
	}
	if set != 0 && set != len(admin) {
		return fmt.Errorf("BOOTSTRAP_ADMIN_USERNAME, BOOTSTRAP_ADMIN_EMAIL and BOOTSTRAP_ADMIN_PASSWORD must be set together")
	}

	if c.SMTPHost != "" && c.SMTPFrom == "" {
		return fmt.Errorf("SMTP_FROM is required when SMTP_HOST is set")
	}

	if c.ServerPort == "" {
		return fmt.Errorf("SERVER_PORT cannot be empty")
	}

	if c.RequestTimeout <= 0 {
		return fmt.Errorf("REQUEST_TIMEOUT must be positive")
	}

	switch c.LogFormat {
	case "pretty", "json":
	default:
		return fmt.Errorf("LOG_FORMAT must be pretty or json, got %q", c.LogFormat)
	}

	return nil
}

func getEnv(key string, fallback string) string {
	v := strings.TrimSpace(os.Getenv(key))
	if v == "" {
		return fallback
	}

	return v
}

func getInt(key string, fallback int) int {
	raw := strings.TrimSpace(os.Getenv(key))
	if raw == "" {
		return fallback
	}

	v, err := strconv.Atoi(raw)
	if err != nil {
		slog.Warn("ignoring unparseable config value", "key", key, "value", raw, "fallback", fallback)
		return fallback
	}

	return v
}

func getBool(key string, fallback bool) bool {
	raw := strings.TrimSpace(os.Getenv(key))
	if raw == "" {
		return fallback
	}

	v, err := strconv.ParseBool(raw)
	if err != nil {
		slog.Warn("ignoring unparseable config value", "key", key, "value", raw, "fallback", fallback)
		return fallback
	}

	return v
}

func getDuration(key string, fallback time.Duration) time.Duration {
	raw := strings.TrimSpace(os.Getenv(key))
	if raw == "" {
		return fallback
	}

	v, err := time.ParseDuration(raw)
	if err != nil {
		slog.Warn("ignoring unparseable config value", "key", key, "value", raw, "fallback", fallback)
		return fallback
	}

	return v
}

func splitCSV(raw string) []string {
	if strings.TrimSpace(raw) == "" {
		return nil
	}

	parts := strings.Split(raw, ",")
	out := make([]string, 0, len(parts))
	for _, part := range parts {
		trimmed := strings.TrimSpace(part)
		if trimmed == "" {
			continue
		}
		out = append(out, trimmed)
	}

	return out
}
