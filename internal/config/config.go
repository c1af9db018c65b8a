package config

import (
	"errors"
	"fmt"
	"os"
	"strconv"
	"strings"

	"gopkg.in/yaml.v3"
)

// ConfigPath is the default configuration file location.
const ConfigPath = "config.yaml"

// FileConfig represents configuration loaded from YAML.
type FileConfig struct {
	Port     string `yaml:"port"`
	LogLevel string `yaml:"logLevel"`

	DatabaseURL string `yaml:"databaseURL"`

	RedisAddr     string `yaml:"redisAddr"`
	RedisPassword string `yaml:"redisPassword"`

	JWTSecret   string `yaml:"jwtSecret"`
	JWTTTLHours int    `yaml:"jwtTTLHours"`

	GitHubBaseURL string `yaml:"githubBaseURL"`
	GitHubToken   string `yaml:"githubToken"`

	PaymentBaseURL  string `yaml:"paymentBaseURL"`
	PaymentAPIKey   string `yaml:"paymentAPIKey"`
	PaymentCurrency string `yaml:"paymentCurrency"`

	MailBaseURL   string `yaml:"mailBaseURL"`
	MailAPIKey    string `yaml:"mailAPIKey"`
	SenderAddress string `yaml:"senderAddress"`
	MailingList   string `yaml:"mailingList"`

	MaxUploadBytes int64 `yaml:"maxUploadBytes"`

	MinioEndpoint  string `yaml:"minioEndpoint"`
	MinioAccessKey string `yaml:"minioAccessKey"`
	MinioSecretKey string `yaml:"minioSecretKey"`
	MinioBucket    string `yaml:"minioBucket"`
	MinioUseSSL    bool   `yaml:"minioUseSSL"`

	TrustedProxyCIDRs []string `yaml:"trustedProxyCidrs"`

	SyncConcurrency   int `yaml:"syncConcurrency"`
	NotifyConcurrency int `yaml:"notifyConcurrency"`

	PurchaseRateLimit         int `yaml:"purchaseRateLimit"`
	PurchaseRateWindowSeconds int `yaml:"purchaseRateWindowSeconds"`
}

// Load reads config from path (defaults to config.yaml).
func Load(path string) (FileConfig, error) {
	cfg := FileConfig{}
	if path == "" {
		path = ConfigPath
	}
	data, err := os.ReadFile(path)
	if err != nil {
		return cfg, fmt.Errorf("read config: %w", err)
	}
	if err := yaml.Unmarshal(data, &cfg); err != nil {
		return cfg, fmt.Errorf("parse config: %w", err)
	}
	// Override with environment variables
	if v := os.Getenv("DATABASE_URL"); v != "" {
		cfg.DatabaseURL = v
	}
	if v := os.Getenv("REDIS_ADDR"); v != "" {
		cfg.RedisAddr = v
	}
	if v := os.Getenv("REDIS_PASSWORD"); v != "" {
		cfg.RedisPassword = v
	}
	if v := os.Getenv("BINDERY_JWT_SECRET"); v != "" {
		cfg.JWTSecret = v
	}
	if v := os.Getenv("GITHUB_TOKEN"); v != "" {
		cfg.GitHubToken = v
	}
	if v := os.Getenv("PAYMENT_API_KEY"); v != "" {
		cfg.PaymentAPIKey = v
	}
	if v := os.Getenv("MAIL_API_KEY"); v != "" {
		cfg.MailAPIKey = v
	}
	if v := os.Getenv("MINIO_ENDPOINT"); v != "" {
		cfg.MinioEndpoint = v
	}
	if v := os.Getenv("MINIO_ACCESS_KEY"); v != "" {
		cfg.MinioAccessKey = v
	}
	if v := os.Getenv("MINIO_SECRET_KEY"); v != "" {
		cfg.MinioSecretKey = v
	}
	if v := os.Getenv("MINIO_BUCKET"); v != "" {
		cfg.MinioBucket = v
	}
	if v := os.Getenv("MINIO_USE_SSL"); v == "true" {
		cfg.MinioUseSSL = true
	}
	if v := os.Getenv("BINDERY_MAX_UPLOAD_BYTES"); v != "" {
		if n, err := strconv.ParseInt(v, 10, 64); err == nil {
			cfg.MaxUploadBytes = n
		}
	}
	if v := os.Getenv("BINDERY_TRUSTED_PROXY_CIDRS"); v != "" {
		cfg.TrustedProxyCIDRs = splitCSV(v)
	}
	if v := os.Getenv("BINDERY_SYNC_CONCURRENCY"); v != "" {
		if n, err := strconv.Atoi(v); err == nil {
			cfg.SyncConcurrency = n
		}
	}
	if err := validateConfig(cfg); err != nil {
		return cfg, err
	}
	return cfg, nil
}

func splitCSV(value string) []string {
	parts := strings.Split(value, ",")
	out := make([]string, 0, len(parts))
	for _, part := range parts {
		part = strings.TrimSpace(part)
		if part == "" {
			continue
		}
		out = append(out, part)
	}
	return out
}

func validateConfig(cfg FileConfig) error {
	if cfg.Port == "" {
		return errors.New("config: port is required (set in config.yaml)")
	}
	if cfg.DatabaseURL == "" {
		return errors.New("config: databaseURL is required (set in config.yaml or DATABASE_URL)")
	}
	if cfg.JWTSecret == "" {
		return errors.New("config: jwtSecret is required (set in config.yaml or BINDERY_JWT_SECRET)")
	}
	if cfg.PaymentBaseURL == "" {
		return errors.New("config: paymentBaseURL is required (set in config.yaml)")
	}
	if cfg.PaymentAPIKey == "" {
		return errors.New("config: paymentAPIKey is required (set in config.yaml or PAYMENT_API_KEY)")
	}
	if cfg.SenderAddress == "" {
		return errors.New("config: senderAddress is required (set in config.yaml)")
	}
	if cfg.MailingList == "" {
		return errors.New("config: mailingList is required (set in config.yaml)")
	}
	return nil
}
