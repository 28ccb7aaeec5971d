package config

import (
	"errors"
	"fmt"
	"os"
	"time"

	"github.com/kelseyhightower/envconfig"
)

type Config struct {
	Redis    RedisConfig
	Queue    QueueConfig
	Worker   WorkerConfig
	Tools    ToolsConfig
	Storage  StorageConfig
	Database DatabaseConfig
	NATS     NATSConfig
	Server   ServerConfig
	Log      LogConfig

	SentryDSN   string `envconfig:"SENTRY_DSN"`
	Environment string `envconfig:"APP_ENV" default:"production"`
}

type RedisConfig struct {
	Addr     string `envconfig:"REDIS_ADDR" default:"redis:6379"`
	Password string `envconfig:"REDIS_PASSWORD"`
	DB       int    `envconfig:"REDIS_CONVERSION_DB" default:"3"`
	Prefix   string `envconfig:"REDIS_PREFIX"`
}

// QueueConfig names the Redis keys. Every key gets REDIS_PREFIX prepended.
type QueueConfig struct {
	PendingQueue    string `envconfig:"CONVERSION_PENDING_QUEUE" default:"conversion:pending"`
	ProcessingQueue string `envconfig:"CONVERSION_PROCESSING_QUEUE" default:"conversion:processing"`
	FailedQueue     string `envconfig:"CONVERSION_FAILED_QUEUE" default:"conversion:failed"`
	DelayedQueue    string `envconfig:"CONVERSION_DELAYED_QUEUE" default:"conversion:delayed"`
	InflightSet     string `envconfig:"CONVERSION_INFLIGHT_SET" default:"conversion:inflight"`
	ClaimsHash      string `envconfig:"CONVERSION_CLAIMS_HASH" default:"conversion:claims"`
	StatusPrefix    string `envconfig:"CONVERSION_STATUS_PREFIX" default:"conversion:status:"`
	EventsChannel   string `envconfig:"CONVERSION_EVENTS_CHANNEL" default:"conversion:events"`
}

type WorkerConfig struct {
	WorkerCount       int           `envconfig:"CONVERSION_WORKER_COUNT" default:"3"`
	ConversionTimeout int           `envconfig:"CONVERSION_TIMEOUT" default:"120"`
	MaxRetries        int           `envconfig:"CONVERSION_MAX_RETRIES" default:"3"`
	RetryBaseDelay    time.Duration `envconfig:"CONVERSION_RETRY_BASE_DELAY" default:"2s"`
	RetryMaxDelay     time.Duration `envconfig:"CONVERSION_RETRY_MAX_DELAY" default:"30s"`
	LivenessThreshold time.Duration `envconfig:"CONVERSION_LIVENESS_THRESHOLD" default:"10m"`
	SweepInterval     time.Duration `envconfig:"CONVERSION_SWEEP_INTERVAL" default:"1m"`
	PromoteInterval   time.Duration `envconfig:"CONVERSION_PROMOTE_INTERVAL" default:"1s"`
	ClaimWait         time.Duration `envconfig:"CONVERSION_CLAIM_WAIT" default:"5s"`
	ShutdownGrace     time.Duration `envconfig:"SHUTDOWN_GRACE" default:"30s"`
	MaxFileSize       int64         `envconfig:"MAX_FILE_SIZE" default:"104857600"`
}

type ToolsConfig struct {
	LibreOffice   string        `envconfig:"SOFFICE_BIN" default:"soffice"`
	ImageMagick   string        `envconfig:"MAGICK_BIN" default:"magick"`
	Dcraw         string        `envconfig:"DCRAW_BIN" default:"dcraw"`
	RawTherapee   string        `envconfig:"RAWTHERAPEE_BIN" default:"rawtherapee-cli"`
	Calibre       string        `envconfig:"EBOOK_CONVERT_BIN" default:"ebook-convert"`
	PDFLatex      string        `envconfig:"PDFLATEX_BIN" default:"pdflatex"`
	Timeout       time.Duration `envconfig:"TOOL_TIMEOUT" default:"5m"`
	MaxOutput     int64         `envconfig:"TOOL_MAX_OUTPUT" default:"268435456"`
	ScratchDir    string        `envconfig:"SCRATCH_DIR"`
	GotenbergURL  string        `envconfig:"GOTENBERG_URL"`
	GotenbergPDFA string        `envconfig:"GOTENBERG_PDFA"`
}

type StorageConfig struct {
	Driver          string `envconfig:"STORAGE_DRIVER" default:"s3"`
	UploadBucket    string `envconfig:"UPLOAD_BUCKET"`
	ConvertedBucket string `envconfig:"CONVERTED_BUCKET"`
	LegacyBucket    string `envconfig:"AWS_BUCKET" default:"fileconvert"`

	S3Region       string `envconfig:"S3_REGION"`
	S3AccessKey    string `envconfig:"S3_KEY"`
	S3SecretKey    string `envconfig:"S3_SECRET"`
	S3Endpoint     string `envconfig:"S3_ENDPOINT"`
	S3UsePathStyle bool   `envconfig:"S3_USE_PATH_STYLE_ENDPOINT" default:"false"`

	MinioEndpoint  string `envconfig:"MINIO_ENDPOINT"`
	MinioAccessKey string `envconfig:"MINIO_ACCESS_KEY"`
	MinioSecretKey string `envconfig:"MINIO_SECRET_KEY"`
	MinioUseSSL    bool   `envconfig:"MINIO_USE_SSL" default:"false"`
}

type DatabaseConfig struct {
	Driver       string `envconfig:"STORE_DRIVER" default:"postgres"`
	Host         string `envconfig:"DB_HOST" default:"localhost"`
	Port         string `envconfig:"DB_PORT" default:"5432"`
	Name         string `envconfig:"DB_DATABASE" default:"fileconvert"`
	User         string `envconfig:"DB_USERNAME" default:"fileconvert"`
	Password     string `envconfig:"DB_PASSWORD"`
	SSLMode      string `envconfig:"DB_SSLMODE" default:"disable"`
	SSLCert      string `envconfig:"DB_SSLCERT"`
	SSLKey       string `envconfig:"DB_SSLKEY"`
	SSLRootCert  string `envconfig:"DB_SSLROOTCERT"`
	MaxOpenConns int    `envconfig:"DB_MAX_OPEN_CONNS" default:"10"`
}

type NATSConfig struct {
	URL     string `envconfig:"NATS_URL"`
	Subject string `envconfig:"NATS_SUBJECT" default:"conversions.events"`
}

type ServerConfig struct {
	Addr string `envconfig:"HTTP_ADDR" default:":8080"`
}

type LogConfig struct {
	Level  string `envconfig:"LOG_LEVEL" default:"info"`
	Format string `envconfig:"LOG_FORMAT" default:"console"`
}

func Load() (*Config, error) {
	var cfg Config
	if err := envconfig.Process("", &cfg); err != nil {
		return nil, fmt.Errorf("load config: %w", err)
	}

	// Prefer unified S3_* vars, fall back to legacy AWS_* vars for compatibility
	cfg.Storage.S3Region = withFallback(cfg.Storage.S3Region, "AWS_DEFAULT_REGION", "us-east-1")
	cfg.Storage.S3AccessKey = withFallback(cfg.Storage.S3AccessKey, "AWS_ACCESS_KEY_ID", "")
	cfg.Storage.S3SecretKey = withFallback(cfg.Storage.S3SecretKey, "AWS_SECRET_ACCESS_KEY", "")
	if cfg.Storage.UploadBucket == "" {
		cfg.Storage.UploadBucket = cfg.Storage.LegacyBucket
	}
	if cfg.Storage.ConvertedBucket == "" {
		cfg.Storage.ConvertedBucket = cfg.Storage.LegacyBucket
	}

	q := &cfg.Queue
	for _, key := range []*string{
		&q.PendingQueue, &q.ProcessingQueue, &q.FailedQueue, &q.DelayedQueue,
		&q.InflightSet, &q.ClaimsHash, &q.StatusPrefix, &q.EventsChannel,
	} {
		*key = applyPrefix(*key, cfg.Redis.Prefix)
	}

	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return &cfg, nil
}

// Validate rejects values the pipeline cannot run with.
func (c *Config) Validate() error {
	var errs []error
	w := c.Worker
	if w.WorkerCount < 1 {
		errs = append(errs, fmt.Errorf("CONVERSION_WORKER_COUNT must be at least 1"))
	}
	if w.MaxRetries < 0 {
		errs = append(errs, fmt.Errorf("CONVERSION_MAX_RETRIES must not be negative"))
	}
	if w.ConversionTimeout <= 0 {
		errs = append(errs, fmt.Errorf("CONVERSION_TIMEOUT must be positive"))
	}
	if w.RetryBaseDelay <= 0 || w.RetryMaxDelay < w.RetryBaseDelay {
		errs = append(errs, fmt.Errorf("retry delays must satisfy 0 < base <= max"))
	}
	if w.LivenessThreshold <= 0 || w.SweepInterval <= 0 || w.PromoteInterval <= 0 {
		errs = append(errs, fmt.Errorf("liveness threshold, sweep and promote intervals must be positive"))
	}
	// A job still inside its deadline must never look stale to the sweep.
	if w.ConversionTimeout > 0 && c.JobTimeout() >= w.LivenessThreshold {
		errs = append(errs, fmt.Errorf("CONVERSION_TIMEOUT (%s) must be shorter than CONVERSION_LIVENESS_THRESHOLD (%s)",
			c.JobTimeout(), w.LivenessThreshold))
	}
	if w.MaxFileSize <= 0 {
		errs = append(errs, fmt.Errorf("MAX_FILE_SIZE must be positive"))
	}
	switch c.Storage.Driver {
	case "s3", "minio", "memory":
	default:
		errs = append(errs, fmt.Errorf("unknown STORAGE_DRIVER %q", c.Storage.Driver))
	}
	if c.Storage.Driver == "minio" && c.Storage.MinioEndpoint == "" {
		errs = append(errs, fmt.Errorf("MINIO_ENDPOINT is required for the minio driver"))
	}
	switch c.Database.Driver {
	case "postgres", "memory":
	default:
		errs = append(errs, fmt.Errorf("unknown STORE_DRIVER %q", c.Database.Driver))
	}
	switch c.Log.Format {
	case "console", "json":
	default:
		errs = append(errs, fmt.Errorf("unknown LOG_FORMAT %q", c.Log.Format))
	}
	return errors.Join(errs...)
}

// JobTimeout bounds one job from download to upload.
func (c *Config) JobTimeout() time.Duration {
	return time.Duration(c.Worker.ConversionTimeout) * time.Second
}

// DSN builds a lib/pq key=value connection string.
func (d DatabaseConfig) DSN() string {
	// lib/pq supports "key=value" connection strings and this avoids
	// URI escaping issues for special characters in passwords.
	dsn := fmt.Sprintf("host=%s port=%s dbname=%s user=%s", d.Host, d.Port, d.Name, d.User)
	if d.Password != "" {
		dsn += fmt.Sprintf(" password=%s", d.Password)
	}
	dsn += fmt.Sprintf(" sslmode=%s", d.SSLMode)

	if d.SSLCert != "" {
		dsn += fmt.Sprintf(" sslcert=%s", d.SSLCert)
	}
	if d.SSLKey != "" {
		dsn += fmt.Sprintf(" sslkey=%s", d.SSLKey)
	}
	if d.SSLRootCert != "" {
		dsn += fmt.Sprintf(" sslrootcert=%s", d.SSLRootCert)
	}
	return dsn
}

func withFallback(value, secondaryKey, fallback string) string {
	if value != "" {
		return value
	}
	if v := os.Getenv(secondaryKey); v != "" {
		return v
	}
	return fallback
}

func applyPrefix(key string, prefix string) string {
	if prefix == "" {
		return key
	}
	return prefix + key
}
