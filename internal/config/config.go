package config

import (
	"errors"
	"fmt"
	"net/url"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/joho/godotenv"
)

const (
	envConfigFile             = "GS_CONFIG_FILE"
	envStackARN               = "GS_STACK_ARN"
	envClusterARN             = "GS_CLUSTER_ARN"
	envServerHost             = "GS_SERVER_HOST"
	envRoleARN                = "GS_ROLE_ARN"
	envRegion                 = "GS_REGION"
	envTableName              = "GS_TABLE_NAME"
	envStateFile              = "GS_STATE_FILE"
	envIdleThreshold          = "GS_IDLE_THRESHOLD"
	envTickInterval           = "GS_TICK_INTERVAL"
	envStatusSocketTimeout    = "GS_STATUS_SOCKET_TIMEOUT"
	envStatusAttemptTimeout   = "GS_STATUS_ATTEMPT_TIMEOUT"
	envWatchdogSocketTimeout  = "GS_WATCHDOG_SOCKET_TIMEOUT"
	envWatchdogAttemptTimeout = "GS_WATCHDOG_ATTEMPT_TIMEOUT"
	envListenAddr             = "GS_LISTEN_ADDR"
	envHealthPort             = "GS_HEALTH_PORT"
	envMetricsPort            = "GS_METRICS_PORT"
	envSlackWebhookURL        = "GS_SLACK_WEBHOOK_URL"
	envWebhookURL             = "GS_WEBHOOK_URL"
	envWebhookTemplate        = "GS_WEBHOOK_TEMPLATE"
	envNotifyDryRun           = "GS_NOTIFY_DRY_RUN"
	envLogLevel               = "GS_LOG_LEVEL"
)

const (
	defaultStateFile              = "data/watermark.json"
	defaultIdleThreshold          = 15 * time.Minute
	defaultTickInterval           = 5 * time.Minute
	defaultStatusSocketTimeout    = 100 * time.Millisecond
	defaultStatusAttemptTimeout   = 300 * time.Millisecond
	defaultWatchdogSocketTimeout  = 500 * time.Millisecond
	defaultWatchdogAttemptTimeout = 10 * time.Second
	defaultListenAddr             = ":8080"
	defaultLogLevel               = "info"
)

// QueryTimeouts bounds a live player query. Socket limits a single ping,
// Attempt limits the whole query including retries.
type QueryTimeouts struct {
	Socket  time.Duration
	Attempt time.Duration
}

// Config describes runtime configuration loaded from the environment.
type Config struct {
	StackARN   string
	ClusterARN string
	ServerHost string
	RoleARN    string
	Region     string

	// TableName selects the DynamoDB watermark table. When empty the
	// watermark is kept in StateFile instead.
	TableName string
	StateFile string

	IdleThreshold time.Duration
	// TickInterval drives the in-process watchdog runner in serve mode.
	// Zero leaves scheduling to an external trigger.
	TickInterval time.Duration

	StatusQuery   QueryTimeouts
	WatchdogQuery QueryTimeouts

	ListenAddr  string
	HealthPort  int
	MetricsPort int

	SlackWebhookURL string
	WebhookURL      string
	WebhookTemplate string
	NotifyDryRun    bool

	LogLevel string
}

// Defaults returns a Config populated with default values only.
func Defaults() Config {
	return Config{
		StateFile:     defaultStateFile,
		IdleThreshold: defaultIdleThreshold,
		TickInterval:  defaultTickInterval,
		StatusQuery: QueryTimeouts{
			Socket:  defaultStatusSocketTimeout,
			Attempt: defaultStatusAttemptTimeout,
		},
		WatchdogQuery: QueryTimeouts{
			Socket:  defaultWatchdogSocketTimeout,
			Attempt: defaultWatchdogAttemptTimeout,
		},
		ListenAddr: defaultListenAddr,
		LogLevel:   defaultLogLevel,
	}
}

// Load reads configuration from environment variables, a local .env file if present,
// and the YAML file named by GS_CONFIG_FILE if set.
// Environment variables take precedence over .env, which takes precedence over the YAML file.
func Load() (Config, error) {
	if err := loadDotEnvIfPresent(".env"); err != nil {
		return Config{}, err
	}

	cfg := Defaults()

	if path, ok := lookupTrimmed(envConfigFile); ok && path != "" {
		file, err := LoadFile(path)
		if err != nil {
			return Config{}, err
		}
		file.apply(&cfg)
	}

	if err := applyEnv(&cfg); err != nil {
		return Config{}, err
	}

	if err := Validate(cfg); err != nil {
		return Config{}, err
	}

	return cfg, nil
}

func applyEnv(cfg *Config) error {
	strs := []struct {
		key string
		dst *string
	}{
		{envStackARN, &cfg.StackARN},
		{envClusterARN, &cfg.ClusterARN},
		{envServerHost, &cfg.ServerHost},
		{envRoleARN, &cfg.RoleARN},
		{envRegion, &cfg.Region},
		{envTableName, &cfg.TableName},
		{envStateFile, &cfg.StateFile},
		{envListenAddr, &cfg.ListenAddr},
		{envSlackWebhookURL, &cfg.SlackWebhookURL},
		{envWebhookURL, &cfg.WebhookURL},
		{envWebhookTemplate, &cfg.WebhookTemplate},
		{envLogLevel, &cfg.LogLevel},
	}
	for _, s := range strs {
		if value, ok := lookupTrimmed(s.key); ok {
			*s.dst = value
		}
	}

	durations := []struct {
		key string
		dst *time.Duration
	}{
		{envIdleThreshold, &cfg.IdleThreshold},
		{envTickInterval, &cfg.TickInterval},
		{envStatusSocketTimeout, &cfg.StatusQuery.Socket},
		{envStatusAttemptTimeout, &cfg.StatusQuery.Attempt},
		{envWatchdogSocketTimeout, &cfg.WatchdogQuery.Socket},
		{envWatchdogAttemptTimeout, &cfg.WatchdogQuery.Attempt},
	}
	for _, d := range durations {
		value, ok := lookupTrimmed(d.key)
		if !ok || value == "" {
			continue
		}
		parsed, err := time.ParseDuration(value)
		if err != nil {
			return fmt.Errorf("invalid %s: %w", d.key, err)
		}
		*d.dst = parsed
	}

	ports := []struct {
		key string
		dst *int
	}{
		{envHealthPort, &cfg.HealthPort},
		{envMetricsPort, &cfg.MetricsPort},
	}
	for _, p := range ports {
		value, ok := lookupTrimmed(p.key)
		if !ok || value == "" {
			continue
		}
		port, err := strconv.Atoi(value)
		if err != nil {
			return fmt.Errorf("invalid %s: %w", p.key, err)
		}
		*p.dst = port
	}

	if value, ok := lookupTrimmed(envNotifyDryRun); ok && value != "" {
		dryRun, err := strconv.ParseBool(value)
		if err != nil {
			return fmt.Errorf("invalid %s: %w", envNotifyDryRun, err)
		}
		cfg.NotifyDryRun = dryRun
	}

	return nil
}

// Validate checks configuration correctness without mutating it.
func Validate(cfg Config) error {
	if cfg.StackARN == "" {
		return errors.New("GS_STACK_ARN is required")
	}
	if cfg.ClusterARN == "" {
		return errors.New("GS_CLUSTER_ARN is required")
	}
	if cfg.ServerHost == "" {
		return errors.New("GS_SERVER_HOST is required")
	}
	if cfg.TableName == "" && cfg.StateFile == "" {
		return errors.New("one of GS_TABLE_NAME or GS_STATE_FILE is required")
	}

	if cfg.IdleThreshold <= 0 {
		return fmt.Errorf("%s must be greater than zero", envIdleThreshold)
	}
	if cfg.TickInterval < 0 {
		return fmt.Errorf("%s cannot be negative", envTickInterval)
	}
	if err := validateTimeouts(cfg.StatusQuery, envStatusSocketTimeout, envStatusAttemptTimeout); err != nil {
		return err
	}
	if err := validateTimeouts(cfg.WatchdogQuery, envWatchdogSocketTimeout, envWatchdogAttemptTimeout); err != nil {
		return err
	}

	if err := validatePort(cfg.HealthPort, envHealthPort); err != nil {
		return err
	}
	if err := validatePort(cfg.MetricsPort, envMetricsPort); err != nil {
		return err
	}

	if cfg.SlackWebhookURL != "" {
		if err := validateURL(cfg.SlackWebhookURL, envSlackWebhookURL); err != nil {
			return err
		}
	}
	if cfg.WebhookURL != "" {
		if err := validateURL(cfg.WebhookURL, envWebhookURL); err != nil {
			return err
		}
	}

	return nil
}

func validateTimeouts(t QueryTimeouts, socketKey, attemptKey string) error {
	if t.Socket <= 0 {
		return fmt.Errorf("%s must be greater than zero", socketKey)
	}
	if t.Attempt <= 0 {
		return fmt.Errorf("%s must be greater than zero", attemptKey)
	}
	if t.Socket > t.Attempt {
		return fmt.Errorf("%s cannot exceed %s", socketKey, attemptKey)
	}
	return nil
}

func validatePort(port int, name string) error {
	if port < 0 || port > 65535 {
		return fmt.Errorf("%s must be between 0 and 65535", name)
	}
	return nil
}

func lookupTrimmed(key string) (string, bool) {
	value, ok := os.LookupEnv(key)
	if !ok {
		return "", false
	}
	return strings.TrimSpace(value), true
}

func loadDotEnvIfPresent(path string) error {
	err := godotenv.Load(path)
	if err == nil {
		return nil
	}

	var pathErr *os.PathError
	if errors.As(err, &pathErr) && errors.Is(pathErr.Err, os.ErrNotExist) {
		return nil
	}

	return err
}

func validateURL(value, name string) error {
	parsed, err := url.Parse(value)
	if err != nil {
		return fmt.Errorf("invalid %s: %w", name, err)
	}
	if parsed.Scheme == "" || parsed.Host == "" {
		return fmt.Errorf("invalid %s: must include scheme and host", name)
	}
	return nil
}
