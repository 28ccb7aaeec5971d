package config

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestLoadDefaults(t *testing.T) {
	t.Setenv("S3_REGION", "")
	t.Setenv("AWS_DEFAULT_REGION", "")

	cfg, err := Load()
	require.NoError(t, err)

	assert.Equal(t, "redis:6379", cfg.Redis.Addr)
	assert.Equal(t, 3, cfg.Redis.DB)
	assert.Equal(t, "conversion:pending", cfg.Queue.PendingQueue)
	assert.Equal(t, 3, cfg.Worker.WorkerCount)
	assert.Equal(t, 3, cfg.Worker.MaxRetries)
	assert.Equal(t, 2*time.Second, cfg.Worker.RetryBaseDelay)
	assert.Equal(t, 30*time.Second, cfg.Worker.RetryMaxDelay)
	assert.Equal(t, 10*time.Minute, cfg.Worker.LivenessThreshold)
	assert.Equal(t, 2*time.Minute, cfg.JobTimeout())
	assert.Less(t, cfg.JobTimeout(), cfg.Worker.LivenessThreshold)
	assert.Equal(t, int64(100<<20), cfg.Worker.MaxFileSize)
	assert.Equal(t, 5*time.Minute, cfg.Tools.Timeout)
	assert.Equal(t, "us-east-1", cfg.Storage.S3Region)
	assert.Equal(t, "fileconvert", cfg.Storage.UploadBucket)
	assert.Empty(t, cfg.Tools.GotenbergURL)
}

func TestLoadAppliesPrefixAndFallbacks(t *testing.T) {
	t.Setenv("REDIS_PREFIX", "staging:")
	t.Setenv("AWS_DEFAULT_REGION", "eu-west-3")
	t.Setenv("AWS_ACCESS_KEY_ID", "legacy-key")
	t.Setenv("S3_SECRET", "new-secret")
	t.Setenv("AWS_SECRET_ACCESS_KEY", "legacy-secret")
	t.Setenv("CONVERTED_BUCKET", "converted")

	cfg, err := Load()
	require.NoError(t, err)

	assert.Equal(t, "staging:conversion:pending", cfg.Queue.PendingQueue)
	assert.Equal(t, "staging:conversion:delayed", cfg.Queue.DelayedQueue)
	assert.Equal(t, "staging:conversion:status:", cfg.Queue.StatusPrefix)
	assert.Equal(t, "eu-west-3", cfg.Storage.S3Region)
	assert.Equal(t, "legacy-key", cfg.Storage.S3AccessKey)
	assert.Equal(t, "new-secret", cfg.Storage.S3SecretKey)
	assert.Equal(t, "converted", cfg.Storage.ConvertedBucket)
	assert.Equal(t, "fileconvert", cfg.Storage.UploadBucket)
}

func TestDSN(t *testing.T) {
	d := DatabaseConfig{Host: "db", Port: "5432", Name: "conv", User: "app", Password: "p@ss word", SSLMode: "require", SSLRootCert: "/ca.pem"}
	assert.Equal(t, "host=db port=5432 dbname=conv user=app password=p@ss word sslmode=require sslrootcert=/ca.pem", d.DSN())

	d.Password, d.SSLRootCert = "", ""
	assert.Equal(t, "host=db port=5432 dbname=conv user=app sslmode=require", d.DSN())
}

func TestLoadRejectsInvalidValues(t *testing.T) {
	t.Setenv("CONVERSION_WORKER_COUNT", "0")
	t.Setenv("STORAGE_DRIVER", "ftp")
	t.Setenv("CONVERSION_RETRY_MAX_DELAY", "1s")

	_, err := Load()
	require.Error(t, err)
	assert.Contains(t, err.Error(), "CONVERSION_WORKER_COUNT")
	assert.Contains(t, err.Error(), "STORAGE_DRIVER")
	assert.Contains(t, err.Error(), "retry delays")
}

func TestLoadRejectsTimeoutReachingLivenessThreshold(t *testing.T) {
	t.Setenv("CONVERSION_TIMEOUT", "600")
	t.Setenv("CONVERSION_LIVENESS_THRESHOLD", "10m")

	_, err := Load()
	require.Error(t, err)
	assert.Contains(t, err.Error(), "CONVERSION_TIMEOUT")

	t.Setenv("CONVERSION_LIVENESS_THRESHOLD", "15m")
	cfg, err := Load()
	require.NoError(t, err)
	assert.Equal(t, 10*time.Minute, cfg.JobTimeout())
}

func TestLoadRejectsUnparsableValues(t *testing.T) {
	t.Setenv("CONVERSION_LIVENESS_THRESHOLD", "soon")
	_, err := Load()
	assert.Error(t, err)
}
