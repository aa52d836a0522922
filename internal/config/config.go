package config

import (
	"fmt"
	"strings"
	"time"

	"github.com/spf13/viper"
)

type Config struct {
	Port        string `mapstructure:"PORT"`
	Env         string `mapstructure:"ENV"`
	DatabaseURL string `mapstructure:"DATABASE_URL"`
	DBMaxConns  int32  `mapstructure:"DB_MAX_CONNS"`
	DBMinConns  int32  `mapstructure:"DB_MIN_CONNS"`

	RedisURL    string        `mapstructure:"REDIS_URL"`
	LockBackend string        `mapstructure:"LOCK_BACKEND"`
	LockTTL     time.Duration `mapstructure:"LOCK_TTL"`
	LockWait    time.Duration `mapstructure:"LOCK_WAIT"`

	SlotGranularityMinutes  int      `mapstructure:"SLOT_GRANULARITY_MINUTES"`
	ShiftPriority           []string `mapstructure:"SHIFT_PRIORITY"`
	TieBreak                string   `mapstructure:"TIE_BREAK"`
	BookingWindowDays       int      `mapstructure:"BOOKING_WINDOW_DAYS"`
	EarliestMaxDays         int      `mapstructure:"EARLIEST_MAX_DAYS"`
	AvailabilityConcurrency int      `mapstructure:"AVAILABILITY_CONCURRENCY"`

	RequestTimeout time.Duration `mapstructure:"REQUEST_TIMEOUT"`
	CORSOrigins    []string      `mapstructure:"CORS_ORIGINS"`
	MigrationsDir  string        `mapstructure:"MIGRATIONS_DIR"`
}

var keys = []string{
	"PORT", "ENV", "DATABASE_URL", "DB_MAX_CONNS", "DB_MIN_CONNS",
	"REDIS_URL", "LOCK_BACKEND", "LOCK_TTL", "LOCK_WAIT",
	"SLOT_GRANULARITY_MINUTES", "SHIFT_PRIORITY", "TIE_BREAK", "BOOKING_WINDOW_DAYS",
	"EARLIEST_MAX_DAYS", "AVAILABILITY_CONCURRENCY",
	"REQUEST_TIMEOUT", "CORS_ORIGINS", "MIGRATIONS_DIR",
}

func Load() (*Config, error) {
	v := viper.New()
	v.SetConfigFile(".env")
	v.SetConfigType("env")
	v.AutomaticEnv()

	// Defaults
	v.SetDefault("PORT", "8000")
	v.SetDefault("ENV", "development")
	v.SetDefault("DB_MAX_CONNS", 20)
	v.SetDefault("DB_MIN_CONNS", 5)
	v.SetDefault("LOCK_BACKEND", "local")
	v.SetDefault("LOCK_TTL", "30s")
	v.SetDefault("LOCK_WAIT", "5s")
	v.SetDefault("SLOT_GRANULARITY_MINUTES", 30)
	v.SetDefault("SHIFT_PRIORITY", "early,morning,noon,afternoon,evening,night,late")
	v.SetDefault("TIE_BREAK", "lowest-id")
	v.SetDefault("BOOKING_WINDOW_DAYS", 7)
	v.SetDefault("EARLIEST_MAX_DAYS", 31)
	v.SetDefault("AVAILABILITY_CONCURRENCY", 8)
	v.SetDefault("REQUEST_TIMEOUT", "30s")
	v.SetDefault("CORS_ORIGINS", "http://localhost:3000")

	// Bind env vars explicitly so Unmarshal picks them up
	for _, k := range keys {
		_ = v.BindEnv(k)
	}

	// Try reading .env file, but don't fail if missing
	_ = v.ReadInConfig()

	cfg := &Config{}
	if err := v.Unmarshal(cfg); err != nil {
		return nil, fmt.Errorf("unmarshal config: %w", err)
	}

	cfg.CORSOrigins = splitList(cfg.CORSOrigins, v.GetString("CORS_ORIGINS"))
	cfg.ShiftPriority = splitList(cfg.ShiftPriority, v.GetString("SHIFT_PRIORITY"))
	cfg.TieBreak = strings.ToLower(strings.TrimSpace(cfg.TieBreak))
	cfg.LockBackend = strings.ToLower(strings.TrimSpace(cfg.LockBackend))

	return cfg, nil
}

// splitList normalizes a comma separated setting. Values decoded as a
// single element still holding commas are split again.
func splitList(decoded []string, raw string) []string {
	if len(decoded) <= 1 {
		decoded = strings.Split(raw, ",")
	}
	out := make([]string, 0, len(decoded))
	for _, s := range decoded {
		if s = strings.TrimSpace(s); s != "" {
			out = append(out, s)
		}
	}
	return out
}

func (c *Config) IsDev() bool {
	return c.Env == "development"
}

// IsProduction returns true when the server is configured for production mode.
func (c *Config) IsProduction() bool {
	return c.Env == "production"
}

// Granularity is the default slot length.
func (c *Config) Granularity() time.Duration {
	return time.Duration(c.SlotGranularityMinutes) * time.Minute
}

// RequireDatabase reports a missing DATABASE_URL for commands that cannot
// run on the in-memory store.
func (c *Config) RequireDatabase() error {
	if c.DatabaseURL == "" {
		return fmt.Errorf("DATABASE_URL is required")
	}
	return nil
}

// Validate checks that the configuration is safe to run. Production must
// use PostgreSQL; a shared lock backend is required only when REDIS_URL
// is the chosen one.
func (c *Config) Validate() error {
	if c.IsProduction() {
		if err := c.RequireDatabase(); err != nil {
			return fmt.Errorf("%w in production", err)
		}
	}

	switch c.LockBackend {
	case "local":
	case "redis":
		if c.RedisURL == "" {
			return fmt.Errorf("REDIS_URL is required when LOCK_BACKEND is \"redis\"")
		}
	default:
		return fmt.Errorf("LOCK_BACKEND must be \"local\" or \"redis\", got %q", c.LockBackend)
	}
	if c.LockTTL <= 0 || c.LockWait <= 0 {
		return fmt.Errorf("LOCK_TTL and LOCK_WAIT must be positive")
	}

	if c.SlotGranularityMinutes < 1 || c.SlotGranularityMinutes > 1440 {
		return fmt.Errorf("SLOT_GRANULARITY_MINUTES must be between 1 and 1440, got %d", c.SlotGranularityMinutes)
	}
	if c.TieBreak != "lowest-id" && c.TieBreak != "random" {
		return fmt.Errorf("TIE_BREAK must be \"lowest-id\" or \"random\", got %q", c.TieBreak)
	}
	if c.BookingWindowDays < 0 {
		return fmt.Errorf("BOOKING_WINDOW_DAYS must not be negative")
	}
	if c.EarliestMaxDays < 1 {
		return fmt.Errorf("EARLIEST_MAX_DAYS must be at least 1")
	}
	if c.AvailabilityConcurrency < 1 {
		return fmt.Errorf("AVAILABILITY_CONCURRENCY must be at least 1")
	}
	if c.DBMinConns > c.DBMaxConns {
		return fmt.Errorf("DB_MIN_CONNS (%d) exceeds DB_MAX_CONNS (%d)", c.DBMinConns, c.DBMaxConns)
	}
	return nil
}
