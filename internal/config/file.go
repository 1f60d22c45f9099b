package config

import (
	"fmt"
	"os"
	"time"

	"gopkg.in/yaml.v3"
)

// File is the parsed YAML structure of an optional configuration file.
// Every field is optional; unset fields keep their defaults.
type File struct {
	StackARN      string        `yaml:"stack_arn"`
	ClusterARN    string        `yaml:"cluster_arn"`
	ServerHost    string        `yaml:"server_host"`
	RoleARN       string        `yaml:"role_arn"`
	Region        string        `yaml:"region"`
	TableName     string        `yaml:"table_name"`
	StateFile     string        `yaml:"state_file"`
	IdleThreshold time.Duration `yaml:"idle_threshold"`

	// TickInterval is a pointer so an explicit 0 can disable the runner.
	TickInterval *time.Duration `yaml:"tick_interval"`

	StatusQuery   FileTimeouts `yaml:"status_query"`
	WatchdogQuery FileTimeouts `yaml:"watchdog_query"`

	ListenAddr  string `yaml:"listen_addr"`
	HealthPort  int    `yaml:"health_port"`
	MetricsPort int    `yaml:"metrics_port"`

	Notify FileNotify `yaml:"notify"`

	LogLevel string `yaml:"log_level"`
}

// FileTimeouts mirrors QueryTimeouts in YAML form.
type FileTimeouts struct {
	Socket  time.Duration `yaml:"socket"`
	Attempt time.Duration `yaml:"attempt"`
}

// FileNotify holds notification settings.
type FileNotify struct {
	SlackWebhookURL string `yaml:"slack_webhook_url"`
	WebhookURL      string `yaml:"webhook_url"`
	WebhookTemplate string `yaml:"webhook_template"`
	DryRun          bool   `yaml:"dry_run"`
}

// LoadFile parses a YAML configuration file from the given path.
func LoadFile(path string) (File, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return File{}, fmt.Errorf("read config file: %w", err)
	}

	var f File
	if err := yaml.Unmarshal(data, &f); err != nil {
		return File{}, fmt.Errorf("parse config file: %w", err)
	}

	if f.IdleThreshold < 0 {
		return File{}, fmt.Errorf("config file: idle_threshold cannot be negative")
	}

	return f, nil
}

func (f File) apply(cfg *Config) {
	setString(&cfg.StackARN, f.StackARN)
	setString(&cfg.ClusterARN, f.ClusterARN)
	setString(&cfg.ServerHost, f.ServerHost)
	setString(&cfg.RoleARN, f.RoleARN)
	setString(&cfg.Region, f.Region)
	setString(&cfg.TableName, f.TableName)
	setString(&cfg.StateFile, f.StateFile)
	setString(&cfg.ListenAddr, f.ListenAddr)
	setString(&cfg.SlackWebhookURL, f.Notify.SlackWebhookURL)
	setString(&cfg.WebhookURL, f.Notify.WebhookURL)
	setString(&cfg.WebhookTemplate, f.Notify.WebhookTemplate)
	setString(&cfg.LogLevel, f.LogLevel)

	setDuration(&cfg.IdleThreshold, f.IdleThreshold)
	setDuration(&cfg.StatusQuery.Socket, f.StatusQuery.Socket)
	setDuration(&cfg.StatusQuery.Attempt, f.StatusQuery.Attempt)
	setDuration(&cfg.WatchdogQuery.Socket, f.WatchdogQuery.Socket)
	setDuration(&cfg.WatchdogQuery.Attempt, f.WatchdogQuery.Attempt)

	if f.TickInterval != nil {
		cfg.TickInterval = *f.TickInterval
	}

	if f.HealthPort != 0 {
		cfg.HealthPort = f.HealthPort
	}
	if f.MetricsPort != 0 {
		cfg.MetricsPort = f.MetricsPort
	}
	if f.Notify.DryRun {
		cfg.NotifyDryRun = true
	}
}

func setString(dst *string, value string) {
	if value != "" {
		*dst = value
	}
}

func setDuration(dst *time.Duration, value time.Duration) {
	if value != 0 {
		*dst = value
	}
}
