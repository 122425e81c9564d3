package config

import (
	"errors"
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/joho/godotenv"
	"github.com/sirupsen/logrus"

	"github.com/aridsondez/sqlease/internal/retry"
)

// Config holds all environment configuration
type Config struct {
	Port                 int
	DatabaseURL          string
	Queue                string
	LeaseInterval        time.Duration
	LeaseTolerance       time.Duration
	LeaseRenewal         bool
	LeaseRenewalInterval time.Duration
	LeasedBy             string
	RetryAttempts        int
	RetryDelays          []time.Duration
	ReceiptSweepInterval time.Duration
	Workers              int
	PollDelay            time.Duration
	LogLevel             logrus.Level
	DBConnectionTimeout  time.Duration
}

// getEnvAsDuration accepts Go durations ("30s", "5m") or integer seconds.
func getEnvAsDuration(name string, defaultVal time.Duration) (time.Duration, error) {
	value, exists := os.LookupEnv(name)
	if !exists || value == "" {
		return defaultVal, nil
	}
	return parseDuration(name, value)
}

func parseDuration(name, value string) (time.Duration, error) {
	value = strings.TrimSpace(value)
	if i, err := strconv.Atoi(value); err == nil {
		return time.Duration(i) * time.Second, nil
	}
	d, err := time.ParseDuration(value)
	if err != nil {
		return 0, fmt.Errorf("invalid %s %q: %w", name, value, err)
	}
	return d, nil
}

func getEnvAsDurations(name string, defaultVal []time.Duration) ([]time.Duration, error) {
	value, exists := os.LookupEnv(name)
	if !exists || strings.TrimSpace(value) == "" {
		return defaultVal, nil
	}
	var out []time.Duration
	for _, part := range strings.Split(value, ",") {
		d, err := parseDuration(name, part)
		if err != nil {
			return nil, err
		}
		out = append(out, d)
	}
	return out, nil
}

func getEnvAsInt(name string, defaultVal int) (int, error) {
	value, exists := os.LookupEnv(name)
	if !exists || value == "" {
		return defaultVal, nil
	}
	i, err := strconv.Atoi(value)
	if err != nil {
		return 0, fmt.Errorf("invalid %s %q: %w", name, value, err)
	}
	return i, nil
}

func getEnvAsBool(name string, defaultVal bool) (bool, error) {
	value, exists := os.LookupEnv(name)
	if !exists || value == "" {
		return defaultVal, nil
	}
	b, err := strconv.ParseBool(value)
	if err != nil {
		return false, fmt.Errorf("invalid %s %q: %w", name, value, err)
	}
	return b, nil
}

func getEnv(name, defaultVal string) string {
	if value, exists := os.LookupEnv(name); exists {
		return value
	}
	return defaultVal
}

// LoadConfig reads .env when present and then the process environment.
// Variables already set in the environment win over the file.
func LoadConfig() (*Config, error) {
	_ = godotenv.Load()
	return fromEnv()
}

func fromEnv() (*Config, error) {
	cfg := &Config{
		DatabaseURL: getEnv("DATABASE_URL", ""),
		Queue:       getEnv("QUEUE", "messages"),
		LeasedBy:    getEnv("LEASED_BY", ""),
	}

	var errs []error
	intVar := func(dst *int, name string, def int) {
		v, err := getEnvAsInt(name, def)
		errs = append(errs, err)
		*dst = v
	}
	durVar := func(dst *time.Duration, name string, def time.Duration) {
		v, err := getEnvAsDuration(name, def)
		errs = append(errs, err)
		*dst = v
	}

	intVar(&cfg.Port, "PORT", 8080)
	intVar(&cfg.RetryAttempts, "RETRY_ATTEMPTS", retry.DefaultAttempts)
	intVar(&cfg.Workers, "WORKERS", 4)
	durVar(&cfg.LeaseInterval, "LEASE_INTERVAL", 5*time.Minute)
	durVar(&cfg.LeaseTolerance, "LEASE_TOLERANCE", 30*time.Second)
	durVar(&cfg.LeaseRenewalInterval, "LEASE_RENEWAL_INTERVAL", 0)
	durVar(&cfg.ReceiptSweepInterval, "RECEIPT_SWEEP_INTERVAL", 30*time.Second)
	durVar(&cfg.PollDelay, "POLL_DELAY", time.Second)
	durVar(&cfg.DBConnectionTimeout, "DB_CONNECTION_TIMEOUT", 5*time.Second)

	renew, err := getEnvAsBool("LEASE_RENEWAL", false)
	errs = append(errs, err)
	cfg.LeaseRenewal = renew

	delays, err := getEnvAsDurations("RETRY_DELAYS", retry.DefaultDelays)
	errs = append(errs, err)
	cfg.RetryDelays = delays

	level, err := logrus.ParseLevel(getEnv("LOG_LEVEL", "info"))
	errs = append(errs, err)
	cfg.LogLevel = level

	if err := errors.Join(errs...); err != nil {
		return nil, err
	}
	if err := cfg.validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

func (cfg *Config) validate() error {
	if cfg.DatabaseURL == "" {
		return errors.New("DATABASE_URL is required")
	}
	if cfg.Port <= 0 || cfg.Port > 65535 {
		return fmt.Errorf("invalid PORT: %d", cfg.Port)
	}
	if cfg.Queue == "" {
		return errors.New("QUEUE must not be empty")
	}
	if cfg.LeaseInterval <= 0 {
		return fmt.Errorf("invalid LEASE_INTERVAL: %s", cfg.LeaseInterval)
	}
	if cfg.LeaseTolerance < 0 {
		return fmt.Errorf("invalid LEASE_TOLERANCE: %s", cfg.LeaseTolerance)
	}
	if cfg.LeaseRenewalInterval < 0 || cfg.LeaseRenewalInterval >= cfg.LeaseInterval {
		return fmt.Errorf("LEASE_RENEWAL_INTERVAL %s must be shorter than LEASE_INTERVAL %s",
			cfg.LeaseRenewalInterval, cfg.LeaseInterval)
	}
	if cfg.RetryAttempts < 1 {
		return fmt.Errorf("invalid RETRY_ATTEMPTS: %d", cfg.RetryAttempts)
	}
	for _, d := range cfg.RetryDelays {
		if d < 0 {
			return fmt.Errorf("invalid RETRY_DELAYS entry: %s", d)
		}
	}
	if cfg.ReceiptSweepInterval <= 0 {
		return fmt.Errorf("invalid RECEIPT_SWEEP_INTERVAL: %s", cfg.ReceiptSweepInterval)
	}
	if cfg.Workers <= 0 {
		return fmt.Errorf("invalid WORKERS: %d", cfg.Workers)
	}
	if cfg.PollDelay <= 0 {
		return fmt.Errorf("invalid POLL_DELAY: %s", cfg.PollDelay)
	}
	return nil
}
