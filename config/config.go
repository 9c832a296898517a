package config

import (
	"errors"
	"fmt"
	"os"
	"strings"
	"time"

	"github.com/joho/godotenv"
	"gopkg.in/yaml.v3"
)

const (
	StoreDriverPostgres = "postgres"
	StoreDriverMemory   = "memory"

	StorageBackendMinio  = "minio"
	StorageBackendGCS    = "gcs"
	StorageBackendMemory = "memory"

	MQBackendRabbitMQ = "rabbitmq"
	MQBackendPubSub   = "pubsub"

	minSecretBytes = 32

	// exp is carried in whole seconds
	minExpirationMs = 1000
)

type Config struct {
	ServerPort  int             `yaml:"serverPort"`
	StoreDriver string          `yaml:"storeDriver"`
	Database    DatabaseConfig  `yaml:"database"`
	JWT         JWTConfig       `yaml:"jwt"`
	BcryptCost  int             `yaml:"bcryptCost"`
	RateLimit   RateLimitConfig `yaml:"rateLimit"`
	Log         LogConfig       `yaml:"log"`
	Storage     StorageConfig   `yaml:"storage"`
	MQ          MQConfig        `yaml:"mq"`

	// TrustProxyHeaders takes the client address from X-Forwarded-For or
	// X-Real-IP. Enable only behind a proxy that overwrites them.
	TrustProxyHeaders bool `yaml:"trustProxyHeaders"`
}

type DatabaseConfig struct {
	Host     string `yaml:"host"`
	Port     int    `yaml:"port"`
	User     string `yaml:"user"`
	Password string `yaml:"password"`
	DBName   string `yaml:"dbName"`
	UseSSL   bool   `yaml:"useSSL"`
}

// JWTConfig is the process-wide token configuration. It is read once at
// startup and never mutated afterwards.
type JWTConfig struct {
	Secret       string `yaml:"secret"`
	ExpirationMs int64  `yaml:"expirationMs"`
	TokenPrefix  string `yaml:"tokenPrefix"`
	HeaderName   string `yaml:"headerName"`
	Issuer       string `yaml:"issuer"`
}

// Expiration returns the token lifetime as a duration.
func (c JWTConfig) Expiration() time.Duration {
	return time.Duration(c.ExpirationMs) * time.Millisecond
}

type RateLimitConfig struct {
	LoginRPS   float64 `yaml:"loginRps"`
	LoginBurst int     `yaml:"loginBurst"`
}

type LogConfig struct {
	Level      string `yaml:"level"`
	Dev        bool   `yaml:"dev"`
	File       string `yaml:"file"`
	MaxSizeMB  int    `yaml:"maxSizeMB"`
	MaxBackups int    `yaml:"maxBackups"`
	MaxAgeDays int    `yaml:"maxAgeDays"`
}

type StorageConfig struct {
	Backend        string      `yaml:"backend"`
	MaxUploadBytes int64       `yaml:"maxUploadBytes"`
	Minio          MinioConfig `yaml:"minio"`
	GCS            GCSConfig   `yaml:"gcs"`
}

type MinioConfig struct {
	Endpoint  string `yaml:"endpoint"`
	AccessKey string `yaml:"accessKey"`
	SecretKey string `yaml:"secretKey"`
	Bucket    string `yaml:"bucket"`
	UseSSL    bool   `yaml:"useSSL"`
}

type GCSConfig struct {
	Bucket          string `yaml:"bucket"`
	ProjectID       string `yaml:"projectId"`
	CredentialsFile string `yaml:"credentialsFile"`
}

type MQConfig struct {
	Backend       string         `yaml:"backend"`
	EventsChannel string         `yaml:"eventsChannel"`
	RabbitMQ      RabbitMQConfig `yaml:"rabbitmq"`
	PubSub        PubSubConfig   `yaml:"pubsub"`
}

type RabbitMQConfig struct {
	URL             string `yaml:"url"`
	QueueDurable    bool   `yaml:"queueDurable"`
	QueueAutoDelete bool   `yaml:"queueAutoDelete"`
	PrefetchCount   int    `yaml:"prefetchCount"`
}

type PubSubConfig struct {
	ProjectID          string `yaml:"projectId"`
	CredentialsFile    string `yaml:"credentialsFile"`
	SubscriptionSuffix string `yaml:"subscriptionSuffix"`
}

// LoadConfig builds the configuration from defaults, an optional YAML file
// (CONFIG_PATH) and the environment, in that order of precedence.
func LoadConfig() (Config, error) {
	if os.Getenv("ENV") == "dev" {
		godotenv.Load()
	}

	cfg := defaultConfig()
	if path := strings.TrimSpace(os.Getenv("CONFIG_PATH")); path != "" {
		if err := hydrateFromFile(&cfg, path); err != nil {
			return Config{}, err
		}
	}
	applyEnvOverrides(&cfg)

	if err := cfg.Validate(); err != nil {
		return Config{}, fmt.Errorf("invalid config: %w", err)
	}
	return cfg, nil
}

func defaultConfig() Config {
	return Config{
		ServerPort:  8080,
		StoreDriver: StoreDriverPostgres,
		Database: DatabaseConfig{
			Host:     "localhost",
			Port:     5432,
			User:     "accounts",
			Password: "password",
			DBName:   "accounts_db",
		},
		JWT: JWTConfig{
			ExpirationMs: 86400000,
			TokenPrefix:  "Bearer ",
			HeaderName:   "Authorization",
			Issuer:       "accounts-api",
		},
		BcryptCost: 12,
		RateLimit: RateLimitConfig{
			LoginRPS:   5,
			LoginBurst: 10,
		},
		Log: LogConfig{
			Level:      "info",
			MaxSizeMB:  100,
			MaxBackups: 5,
			MaxAgeDays: 30,
		},
		Storage: StorageConfig{
			MaxUploadBytes: 5 << 20,
		},
		MQ: MQConfig{
			EventsChannel: "user-events",
		},
	}
}

func hydrateFromFile(cfg *Config, path string) error {
	data, err := os.ReadFile(path)
	if err != nil {
		return fmt.Errorf("read config file: %w", err)
	}
	if err := yaml.Unmarshal(data, cfg); err != nil {
		return fmt.Errorf("parse config file: %w", err)
	}
	return nil
}

func applyEnvOverrides(cfg *Config) {
	cfg.ServerPort = getEnvInt("SERVER_PORT", cfg.ServerPort)
	cfg.TrustProxyHeaders = getEnvBool("TRUST_PROXY_HEADERS", cfg.TrustProxyHeaders)
	cfg.StoreDriver = strings.ToLower(getEnv("STORE_DRIVER", cfg.StoreDriver))

	cfg.Database.Host = getEnv("DB_HOST", cfg.Database.Host)
	cfg.Database.Port = getEnvInt("DB_PORT", cfg.Database.Port)
	cfg.Database.User = getEnv("DB_USER", cfg.Database.User)
	cfg.Database.Password = getEnv("DB_PASSWORD", cfg.Database.Password)
	cfg.Database.DBName = getEnv("DB_NAME", cfg.Database.DBName)
	cfg.Database.UseSSL = getEnvBool("DB_USE_SSL", cfg.Database.UseSSL)

	cfg.JWT.Secret = getEnv("JWT_SECRET", cfg.JWT.Secret)
	cfg.JWT.ExpirationMs = int64(getEnvInt("JWT_EXPIRATION_MS", int(cfg.JWT.ExpirationMs)))
	cfg.JWT.TokenPrefix = getEnv("JWT_TOKEN_PREFIX", cfg.JWT.TokenPrefix)
	cfg.JWT.HeaderName = getEnv("JWT_HEADER_NAME", cfg.JWT.HeaderName)
	cfg.JWT.Issuer = getEnv("JWT_ISSUER", cfg.JWT.Issuer)

	cfg.BcryptCost = getEnvInt("BCRYPT_COST", cfg.BcryptCost)
	cfg.RateLimit.LoginRPS = getEnvFloat("LOGIN_RATE_LIMIT_RPS", cfg.RateLimit.LoginRPS)
	cfg.RateLimit.LoginBurst = getEnvInt("LOGIN_RATE_LIMIT_BURST", cfg.RateLimit.LoginBurst)

	cfg.Log.Level = getEnv("LOG_LEVEL", cfg.Log.Level)
	cfg.Log.Dev = getEnvBool("LOG_DEV", cfg.Log.Dev)
	cfg.Log.File = getEnv("LOG_FILE", cfg.Log.File)

	cfg.Storage.Backend = strings.ToLower(getEnv("STORAGE_BACKEND", cfg.Storage.Backend))
	cfg.Storage.MaxUploadBytes = int64(getEnvInt("STORAGE_MAX_UPLOAD_BYTES", int(cfg.Storage.MaxUploadBytes)))
	cfg.Storage.Minio.Endpoint = getEnv("MINIO_ENDPOINT", cfg.Storage.Minio.Endpoint)
	cfg.Storage.Minio.AccessKey = getEnv("MINIO_ACCESS_KEY", cfg.Storage.Minio.AccessKey)
	cfg.Storage.Minio.SecretKey = getEnv("MINIO_SECRET_KEY", cfg.Storage.Minio.SecretKey)
	cfg.Storage.Minio.Bucket = getEnv("MINIO_BUCKET", cfg.Storage.Minio.Bucket)
	cfg.Storage.Minio.UseSSL = getEnvBool("MINIO_USE_SSL", cfg.Storage.Minio.UseSSL)
	cfg.Storage.GCS.Bucket = getEnv("GCS_BUCKET", cfg.Storage.GCS.Bucket)
	cfg.Storage.GCS.ProjectID = getEnv("GCS_PROJECT_ID", cfg.Storage.GCS.ProjectID)
	cfg.Storage.GCS.CredentialsFile = getEnv("GCS_CREDENTIALS_FILE", cfg.Storage.GCS.CredentialsFile)

	cfg.MQ.Backend = strings.ToLower(getEnv("MQ_BACKEND", cfg.MQ.Backend))
	cfg.MQ.EventsChannel = getEnv("EVENTS_CHANNEL", cfg.MQ.EventsChannel)
	cfg.MQ.RabbitMQ.URL = getEnv("RABBITMQ_URL", cfg.MQ.RabbitMQ.URL)
	cfg.MQ.RabbitMQ.QueueDurable = getEnvBool("RABBITMQ_QUEUE_DURABLE", cfg.MQ.RabbitMQ.QueueDurable)
	cfg.MQ.RabbitMQ.QueueAutoDelete = getEnvBool("RABBITMQ_QUEUE_AUTO_DELETE", cfg.MQ.RabbitMQ.QueueAutoDelete)
	cfg.MQ.RabbitMQ.PrefetchCount = getEnvInt("RABBITMQ_PREFETCH_COUNT", cfg.MQ.RabbitMQ.PrefetchCount)
	cfg.MQ.PubSub.ProjectID = getEnv("PUBSUB_PROJECT_ID", cfg.MQ.PubSub.ProjectID)
	cfg.MQ.PubSub.CredentialsFile = getEnv("PUBSUB_CREDENTIALS_FILE", cfg.MQ.PubSub.CredentialsFile)
	cfg.MQ.PubSub.SubscriptionSuffix = getEnv("PUBSUB_SUBSCRIPTION_SUFFIX", cfg.MQ.PubSub.SubscriptionSuffix)
}

// Validate reports configuration that would make the service unusable.
func (c Config) Validate() error {
	var errs []error
	if c.ServerPort < 1 || c.ServerPort > 65535 {
		errs = append(errs, fmt.Errorf("server port %d out of range", c.ServerPort))
	}
	switch c.StoreDriver {
	case StoreDriverPostgres, StoreDriverMemory:
	default:
		errs = append(errs, fmt.Errorf("unknown store driver %q", c.StoreDriver))
	}
	if len(c.JWT.Secret) < minSecretBytes {
		errs = append(errs, fmt.Errorf("JWT_SECRET must be at least %d bytes", minSecretBytes))
	}
	if c.JWT.ExpirationMs < minExpirationMs {
		errs = append(errs, fmt.Errorf("JWT_EXPIRATION_MS must be at least %d", minExpirationMs))
	}
	if c.JWT.HeaderName == "" {
		errs = append(errs, errors.New("JWT_HEADER_NAME is required"))
	}
	if strings.TrimSpace(c.JWT.TokenPrefix) == "" {
		errs = append(errs, errors.New("JWT_TOKEN_PREFIX is required"))
	}
	if c.RateLimit.LoginRPS <= 0 {
		errs = append(errs, errors.New("LOGIN_RATE_LIMIT_RPS must be positive"))
	}
	if c.RateLimit.LoginBurst < 1 {
		errs = append(errs, errors.New("LOGIN_RATE_LIMIT_BURST must be at least 1"))
	}
	switch c.Storage.Backend {
	case "", StorageBackendMinio, StorageBackendGCS, StorageBackendMemory:
	default:
		errs = append(errs, fmt.Errorf("unknown storage backend %q", c.Storage.Backend))
	}
	if c.Storage.MaxUploadBytes <= 0 {
		errs = append(errs, errors.New("STORAGE_MAX_UPLOAD_BYTES must be positive"))
	}
	switch c.MQ.Backend {
	case "", MQBackendRabbitMQ, MQBackendPubSub:
	default:
		errs = append(errs, fmt.Errorf("unknown mq backend %q", c.MQ.Backend))
	}
	return errors.Join(errs...)
}

func getEnv(key, defaultValue string) string {
	if value, exists := os.LookupEnv(key); exists {
		return value
	}
	return defaultValue
}

func getEnvInt(key string, defaultValue int) int {
	if valueStr, exists := os.LookupEnv(key); exists {
		var value int
		if _, err := fmt.Sscanf(valueStr, "%d", &value); err != nil {
			return defaultValue
		}
		return value
	}
	return defaultValue
}

func getEnvFloat(key string, defaultValue float64) float64 {
	if valueStr, exists := os.LookupEnv(key); exists {
		var value float64
		if _, err := fmt.Sscanf(valueStr, "%g", &value); err != nil {
			return defaultValue
		}
		return value
	}
	return defaultValue
}

func getEnvBool(key string, defaultValue bool) bool {
	if valueStr, exists := os.LookupEnv(key); exists {
		switch strings.ToLower(strings.TrimSpace(valueStr)) {
		case "1", "true", "yes", "on":
			return true
		case "0", "false", "no", "off":
			return false
		}
	}
	return defaultValue
}
