// Package config holds the migrator's configuration.
//
// Sources, in order of precedence: CLI flags, LOMIGRATE_* environment
// variables, built-in defaults. The command layer binds its flags into a
// viper instance and hands it to FromViper.
package config

import (
	"fmt"
	"strings"
	"time"

	"github.com/spf13/viper"

	"github.com/tocco/lomigrate/internal/bytesize"
	"github.com/tocco/lomigrate/pkg/migrate"
)

// Config is the fully resolved runtime configuration.
type Config struct {
	// S3 target
	S3URL     string `mapstructure:"s3-url"`
	AccessKey string `mapstructure:"access-key"`
	SecretKey string `mapstructure:"secret-key"`
	Bucket    string `mapstructure:"bucket"`

	// Postgres source, USER:PASS@HOST/DB or a full postgres:// URL
	PostgresURL string `mapstructure:"pg-url"`

	// Pipeline tuning
	ReceiverThreads  int `mapstructure:"receiver-threads"`
	StorerThreads    int `mapstructure:"storer-threads"`
	CommitterThreads int `mapstructure:"committer-threads"`
	ReceiverQueue    int `mapstructure:"receiver-queue"`
	StorerQueue      int `mapstructure:"storer-queue"`
	CommitterQueue   int `mapstructure:"committer-queue"`
	CommitChunk      int `mapstructure:"commit-chunk"`

	// InMemMaxKiB caps the in-memory payload size, in KiB. Larger blobs
	// are staged in scratch files. Every slot of the store queue may hold
	// up to this much memory.
	InMemMaxKiB int64 `mapstructure:"in-mem-max"`

	// IntervalSecs is the monitor's reporting period.
	IntervalSecs int `mapstructure:"interval"`

	// Finalize adds the NOT NULL constraint and unique index after a
	// clean run.
	Finalize bool `mapstructure:"finalize"`

	// MetricsPort exposes Prometheus metrics when non-zero.
	MetricsPort int `mapstructure:"metrics-port"`

	// Logging
	LogLevel  string `mapstructure:"log-level"`
	LogFormat string `mapstructure:"log-format"`
}

// SetDefaults registers every default on the viper instance. Flag
// definitions reuse these so help output and behavior agree.
func SetDefaults(v *viper.Viper) {
	v.SetDefault("receiver-threads", migrate.DefaultReceiverThreads)
	v.SetDefault("storer-threads", migrate.DefaultStorerThreads)
	v.SetDefault("committer-threads", migrate.DefaultCommitterThreads)
	v.SetDefault("receiver-queue", migrate.DefaultReceiverQueue)
	v.SetDefault("storer-queue", migrate.DefaultStorerQueue)
	v.SetDefault("committer-queue", migrate.DefaultCommitterQueue)
	v.SetDefault("commit-chunk", migrate.DefaultCommitChunk)
	v.SetDefault("in-mem-max", 1024)
	v.SetDefault("interval", 10)
	v.SetDefault("log-level", "WARN")
	v.SetDefault("log-format", "text")
}

// FromViper unmarshals and validates the configuration.
func FromViper(v *viper.Viper) (*Config, error) {
	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return nil, fmt.Errorf("failed to unmarshal configuration: %w", err)
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return &cfg, nil
}

// Validate rejects configurations that would abort the run later anyway.
func (c *Config) Validate() error {
	required := []struct{ name, value string }{
		{"s3-url", c.S3URL},
		{"access-key", c.AccessKey},
		{"secret-key", c.SecretKey},
		{"bucket", c.Bucket},
		{"pg-url", c.PostgresURL},
	}
	var missing []string
	for _, r := range required {
		if r.value == "" {
			missing = append(missing, "--"+r.name)
		}
	}
	if len(missing) > 0 {
		return fmt.Errorf("required flag(s) %s not set", strings.Join(missing, ", "))
	}

	positive := []struct {
		name  string
		value int64
	}{
		{"receiver-threads", int64(c.ReceiverThreads)},
		{"storer-threads", int64(c.StorerThreads)},
		{"committer-threads", int64(c.CommitterThreads)},
		{"receiver-queue", int64(c.ReceiverQueue)},
		{"storer-queue", int64(c.StorerQueue)},
		{"committer-queue", int64(c.CommitterQueue)},
		{"commit-chunk", int64(c.CommitChunk)},
		{"in-mem-max", c.InMemMaxKiB},
		{"interval", int64(c.IntervalSecs)},
	}
	for _, p := range positive {
		if p.value <= 0 {
			return fmt.Errorf("--%s must be greater than zero, got %d", p.name, p.value)
		}
	}
	if c.MetricsPort < 0 || c.MetricsPort > 65535 {
		return fmt.Errorf("--metrics-port must be a valid port, got %d", c.MetricsPort)
	}
	return nil
}

// InMemMax returns the in-memory payload cap in bytes.
func (c *Config) InMemMax() int64 {
	return c.InMemMaxKiB * 1024
}

// Interval returns the monitor period as a duration.
func (c *Config) Interval() time.Duration {
	return time.Duration(c.IntervalSecs) * time.Second
}

// Pipeline maps the configuration onto the pipeline's tuning knobs.
func (c *Config) Pipeline() migrate.Config {
	return migrate.Config{
		ReceiverThreads:  c.ReceiverThreads,
		StorerThreads:    c.StorerThreads,
		CommitterThreads: c.CommitterThreads,
		ReceiverQueue:    c.ReceiverQueue,
		StorerQueue:      c.StorerQueue,
		CommitterQueue:   c.CommitterQueue,
		CommitChunk:      c.CommitChunk,
		InMemMax:         c.InMemMax(),
		Interval:         c.Interval(),
	}
}

// String renders the startup banner.
func (c *Config) String() string {
	var b strings.Builder
	fmt.Fprintln(&b, "**************** configuration ****************")
	fmt.Fprintln(&b, "  threads:")
	fmt.Fprintf(&b, "    receiver threads:  %4d\n", c.ReceiverThreads)
	fmt.Fprintf(&b, "    storer threads:    %4d\n", c.StorerThreads)
	fmt.Fprintf(&b, "    committer threads: %4d\n", c.CommitterThreads)
	fmt.Fprintln(&b, "  queues:")
	fmt.Fprintf(&b, "    receiver queue size: %6d objects\n", c.ReceiverQueue)
	fmt.Fprintf(&b, "    storer queue size:   %6d objects\n", c.StorerQueue)
	fmt.Fprintf(&b, "    committer queue size: %5d objects\n", c.CommitterQueue)
	fmt.Fprintln(&b, "  other:")
	fmt.Fprintf(&b, "    max. in-memory size: %s\n", bytesize.ByteSize(c.InMemMax()))
	fmt.Fprintf(&b, "    DB commit chunk size: %d\n", c.CommitChunk)
	return b.String()
}
