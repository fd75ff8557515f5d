package internal

import (
	"fmt"
	"time"
)

type Config struct {
	Host     string `env:"HOST,default=0.0.0.0"`
	Port     int    `env:"PORT,default=8080"`
	LogLevel string `env:"LOG_LEVEL,default=INFO"`

	BadgerFilepath         string `env:"BADGER_FILEPATH,required=true"`
	LimitMessages          *int   `env:"LIMIT_MESSAGES"`
	EnforceSenderDirectory bool   `env:"ENFORCE_SENDER_DIRECTORY,default=false"`

	JWTSecret string `env:"JWT_SECRET,required=true"`

	ConnectionBufferSize int           `env:"CONNECTION_BUFFER_SIZE,default=64"`
	MaxAudioSizeBytes    int64         `env:"MAX_AUDIO_SIZE_BYTES,default=20971520"`
	WSPongWait           time.Duration `env:"WS_PONG_WAIT,default=60s"`
	WSWriteWait          time.Duration `env:"WS_WRITE_WAIT,default=10s"`

	MediaEndpoint      string        `env:"MEDIA_ENDPOINT"`
	MediaAccessKey     string        `env:"MEDIA_ACCESS_KEY"`
	MediaSecretKey     string        `env:"MEDIA_SECRET_KEY"`
	MediaBucket        string        `env:"MEDIA_BUCKET,default=voice-notes"`
	MediaRegion        string        `env:"MEDIA_REGION"`
	MediaUseSSL        bool          `env:"MEDIA_USE_SSL,default=false"`
	MediaPublicBaseURL string        `env:"MEDIA_PUBLIC_BASE_URL"`
	UploadTimeout      time.Duration `env:"UPLOAD_TIMEOUT,default=15s"`

	RedisAddr          string `env:"REDIS_ADDR"`
	RateLimitPerMinute int    `env:"RATE_LIMIT_PER_MINUTE,default=0"`

	MetricInterval  time.Duration `env:"METRIC_INTERVAL,default=15s"`
	ShutdownTimeout time.Duration `env:"SHUTDOWN_TIMEOUT,default=10s"`
}

// Validate rejects settings the relay cannot run with.
func (c Config) Validate() error {
	if c.ConnectionBufferSize < 1 {
		return fmt.Errorf("CONNECTION_BUFFER_SIZE must be positive, got %d", c.ConnectionBufferSize)
	}
	if c.MaxAudioSizeBytes < 1 {
		return fmt.Errorf("MAX_AUDIO_SIZE_BYTES must be positive, got %d", c.MaxAudioSizeBytes)
	}
	if c.WSPongWait <= time.Second {
		return fmt.Errorf("WS_PONG_WAIT must be longer than a second, got %s", c.WSPongWait)
	}
	if c.LimitMessages != nil && *c.LimitMessages < 1 {
		return fmt.Errorf("LIMIT_MESSAGES must be positive, got %d", *c.LimitMessages)
	}
	if c.RateLimitPerMinute > 0 && c.RedisAddr == "" {
		return fmt.Errorf("RATE_LIMIT_PER_MINUTE requires REDIS_ADDR")
	}
	return nil
}

// PingPeriod must stay below the pong wait so the peer always gets a ping in time.
func (c Config) PingPeriod() time.Duration {
	return (c.WSPongWait * 9) / 10
}
