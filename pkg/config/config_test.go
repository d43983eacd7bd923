package config

import (
	"testing"
	"time"

	"github.com/spf13/viper"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newTestViper() *viper.Viper {
	v := viper.New()
	SetDefaults(v)
	v.Set("s3-url", "http://localhost:9000")
	v.Set("access-key", "access")
	v.Set("secret-key", "secret")
	v.Set("bucket", "binaries")
	v.Set("pg-url", "nice:secret@localhost/nice2")
	return v
}

func TestFromViperDefaults(t *testing.T) {
	cfg, err := FromViper(newTestViper())
	require.NoError(t, err)

	assert.Equal(t, 2, cfg.ReceiverThreads)
	assert.Equal(t, 5, cfg.StorerThreads)
	assert.Equal(t, 2, cfg.CommitterThreads)
	assert.Equal(t, 8192, cfg.ReceiverQueue)
	assert.Equal(t, 1024, cfg.StorerQueue)
	assert.Equal(t, 8192, cfg.CommitterQueue)
	assert.Equal(t, 100, cfg.CommitChunk)
	assert.Equal(t, int64(1024*1024), cfg.InMemMax())
	assert.Equal(t, 10*time.Second, cfg.Interval())
	assert.False(t, cfg.Finalize)
	assert.Zero(t, cfg.MetricsPort)
}

func TestFromViperMissingRequired(t *testing.T) {
	v := viper.New()
	SetDefaults(v)
	v.Set("s3-url", "http://localhost:9000")

	_, err := FromViper(v)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "--access-key")
	assert.Contains(t, err.Error(), "--pg-url")
	assert.NotContains(t, err.Error(), "--s3-url")
}

func TestValidateRejectsNonPositiveTuning(t *testing.T) {
	tests := []struct {
		key   string
		value any
	}{
		{"receiver-threads", 0},
		{"storer-threads", -1},
		{"committer-threads", 0},
		{"receiver-queue", 0},
		{"storer-queue", 0},
		{"committer-queue", 0},
		{"commit-chunk", 0},
		{"in-mem-max", 0},
		{"interval", 0},
	}
	for _, tt := range tests {
		t.Run(tt.key, func(t *testing.T) {
			v := newTestViper()
			v.Set(tt.key, tt.value)
			_, err := FromViper(v)
			require.Error(t, err)
			assert.Contains(t, err.Error(), tt.key)
		})
	}
}

func TestValidateRejectsBadMetricsPort(t *testing.T) {
	v := newTestViper()
	v.Set("metrics-port", 99999)
	_, err := FromViper(v)
	assert.Error(t, err)
}

func TestPipelineMapping(t *testing.T) {
	v := newTestViper()
	v.Set("receiver-threads", 8)
	v.Set("in-mem-max", 2048)
	v.Set("interval", 30)

	cfg, err := FromViper(v)
	require.NoError(t, err)

	p := cfg.Pipeline()
	assert.Equal(t, 8, p.ReceiverThreads)
	assert.Equal(t, int64(2048*1024), p.InMemMax)
	assert.Equal(t, 30*time.Second, p.Interval)
}

func TestBanner(t *testing.T) {
	cfg, err := FromViper(newTestViper())
	require.NoError(t, err)

	banner := cfg.String()
	assert.Contains(t, banner, "**************** configuration ****************")
	assert.Contains(t, banner, "receiver threads:")
	assert.Contains(t, banner, "storer queue size:")
	assert.Contains(t, banner, "1.00MiB")
	assert.Contains(t, banner, "DB commit chunk size: 100")
}
