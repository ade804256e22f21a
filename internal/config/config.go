package config

import (
	"fmt"
	"os"
	"time"

	"github.com/caarlos0/env/v11"
	"github.com/joho/godotenv"
	"golang.org/x/text/language"
)

type Config struct {
	DatabaseURL string `env:"DATABASE_URL,required"`
	DBMaxConns  int32  `env:"DB_MAX_CONNS" envDefault:"10"`

	HTTPAddr      string        `env:"HTTP_ADDR" envDefault:":8080"`
	ReadTimeout   time.Duration `env:"HTTP_READ_TIMEOUT" envDefault:"30s"`
	WriteTimeout  time.Duration `env:"HTTP_WRITE_TIMEOUT" envDefault:"15m"`
	IdleTimeout   time.Duration `env:"HTTP_IDLE_TIMEOUT" envDefault:"120s"`
	MaxUploadSize int64         `env:"MAX_UPLOAD_SIZE" envDefault:"104857600"`
	CORSOrigins   []string      `env:"CORS_ORIGINS" envSeparator:","`
	// ShutdownGrace is how long in-flight requests may finish on their own
	// before their contexts are cancelled.
	ShutdownGrace time.Duration `env:"HTTP_SHUTDOWN_GRACE" envDefault:"15s"`

	// AuthTokens is a static "token:user_id,..." list. RedisURL, when set,
	// takes priority and resolves tokens from session keys.
	AuthTokens string `env:"AUTH_TOKENS"`
	RedisURL   string `env:"REDIS_URL"`

	AudioDir string `env:"AUDIO_DIR" envDefault:"./audio"`
	S3       S3Config

	Recognition     RecognitionConfig
	Transliteration TransliterationConfig

	MQTTBrokerURL   string `env:"MQTT_BROKER_URL"`
	MQTTClientID    string `env:"MQTT_CLIENT_ID" envDefault:"subtitle-engine"`
	MQTTUsername    string `env:"MQTT_USERNAME"`
	MQTTPassword    string `env:"MQTT_PASSWORD"`
	MQTTTopicPrefix string `env:"MQTT_TOPIC_PREFIX" envDefault:"subtitle-engine"`

	LogLevel string `env:"LOG_LEVEL" envDefault:"info"`
}

// S3Config configures the transient audio bucket. Local disk is used when
// Bucket is empty.
type S3Config struct {
	Bucket        string        `env:"S3_BUCKET"`
	Endpoint      string        `env:"S3_ENDPOINT"`
	Region        string        `env:"S3_REGION" envDefault:"us-east-1"`
	AccessKey     string        `env:"S3_ACCESS_KEY"`
	SecretKey     string        `env:"S3_SECRET_KEY"`
	Prefix        string        `env:"S3_PREFIX"`
	PresignURLs   bool          `env:"S3_PRESIGN_URLS" envDefault:"false"`
	PresignExpiry time.Duration `env:"S3_PRESIGN_EXPIRY" envDefault:"1h"`
	SweepInterval time.Duration `env:"S3_SWEEP_INTERVAL" envDefault:"1h"`
	SweepTTL      time.Duration `env:"S3_SWEEP_TTL" envDefault:"6h"`
}

// Enabled reports whether S3 storage is configured.
func (c S3Config) Enabled() bool { return c.Bucket != "" }

type RecognitionConfig struct {
	LanguageCode  string        `env:"TRANSCRIBE_LANGUAGE" envDefault:"ta-IN"`
	JobPrefix     string        `env:"TRANSCRIBE_JOB_PREFIX" envDefault:"transcription"`
	Region        string        `env:"TRANSCRIBE_REGION"`
	PollInterval  time.Duration `env:"TRANSCRIBE_POLL_INTERVAL" envDefault:"5s"`
	MaxPolls      int           `env:"TRANSCRIBE_MAX_POLLS" envDefault:"120"`
	StatusRetries int           `env:"TRANSCRIBE_STATUS_RETRIES" envDefault:"3"`
	Timeout       time.Duration `env:"TRANSCRIBE_TIMEOUT" envDefault:"10m"`
}

type TransliterationConfig struct {
	APIKey         string        `env:"OPENAI_API_KEY"`
	BaseURL        string        `env:"OPENAI_BASE_URL"`
	Model          string        `env:"OPENAI_MODEL" envDefault:"gpt-3.5-turbo"`
	Temperature    float32       `env:"TRANSLITERATE_TEMPERATURE" envDefault:"0.3"`
	TargetLanguage string        `env:"TRANSLITERATE_TARGET" envDefault:"en"`
	Concurrency    int           `env:"TRANSLITERATE_CONCURRENCY" envDefault:"4"`
	MaxRetries     int           `env:"TRANSLITERATE_MAX_RETRIES" envDefault:"2"`
	Timeout        time.Duration `env:"TRANSLITERATE_TIMEOUT" envDefault:"60s"`
}

// Overrides holds CLI flag values that take priority over env vars.
type Overrides struct {
	EnvFile     string
	HTTPAddr    string
	LogLevel    string
	DatabaseURL string
	AudioDir    string
}

// Load reads configuration from .env file, environment variables, and CLI overrides.
// Priority: CLI flags > environment variables > .env file > struct defaults.
func Load(overrides Overrides) (*Config, error) {
	envFile := overrides.EnvFile
	if envFile == "" {
		envFile = ".env"
	}
	if _, err := os.Stat(envFile); err == nil {
		_ = godotenv.Load(envFile)
	}

	cfg := &Config{}
	if err := env.Parse(cfg); err != nil {
		return nil, err
	}

	if overrides.HTTPAddr != "" {
		cfg.HTTPAddr = overrides.HTTPAddr
	}
	if overrides.LogLevel != "" {
		cfg.LogLevel = overrides.LogLevel
	}
	if overrides.DatabaseURL != "" {
		cfg.DatabaseURL = overrides.DatabaseURL
	}
	if overrides.AudioDir != "" {
		cfg.AudioDir = overrides.AudioDir
	}

	if err := cfg.validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

func (c *Config) validate() error {
	if _, err := language.Parse(c.Recognition.LanguageCode); err != nil {
		return fmt.Errorf("TRANSCRIBE_LANGUAGE %q: %w", c.Recognition.LanguageCode, err)
	}
	if _, err := language.Parse(c.Transliteration.TargetLanguage); err != nil {
		return fmt.Errorf("TRANSLITERATE_TARGET %q: %w", c.Transliteration.TargetLanguage, err)
	}
	if c.Recognition.PollInterval <= 0 {
		return fmt.Errorf("TRANSCRIBE_POLL_INTERVAL must be positive")
	}
	if c.Recognition.MaxPolls < 1 {
		return fmt.Errorf("TRANSCRIBE_MAX_POLLS must be >= 1")
	}
	if c.Transliteration.Concurrency < 1 {
		c.Transliteration.Concurrency = 1
	}
	if c.Transliteration.MaxRetries < 0 {
		c.Transliteration.MaxRetries = 0
	}
	return nil
}
