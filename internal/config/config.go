package config

import (
	"errors"
	"fmt"
	"os"
	"strings"

	"qpaygate/internal/models"

	"github.com/joho/godotenv"
	"gopkg.in/yaml.v3"
)

type Config struct {
	App        AppConfig        `yaml:"app"`
	QPay       QPayConfig       `yaml:"qpay"`
	Database   DatabaseConfig   `yaml:"database"`
	Redis      RedisConfig      `yaml:"redis"`
	API        APIConfig        `yaml:"api"`
	Webhook    WebhookConfig    `yaml:"webhook"`
	Queue      QueueConfig      `yaml:"queue"`
	Alerts     AlertConfig      `yaml:"alerts"`
	Monitoring MonitoringConfig `yaml:"monitoring"`
	Logging    LoggingConfig    `yaml:"logging"`
	Exports    ExportConfig     `yaml:"exports"`
}

type AppConfig struct {
	Name        string `yaml:"name"`
	Environment string `yaml:"environment"`
	Version     string `yaml:"version"`
}

// QPayConfig selects the processor environment and carries merchant
// credentials. In sandbox mode credentials are fixed test values and the
// fields below are ignored.
type QPayConfig struct {
	Mode               string `yaml:"mode"` // sandbox | production
	LiveClientID       string `yaml:"live_client_id"`
	LiveClientSecret   string `yaml:"live_client_secret"`
	UseEnv             bool   `yaml:"use_env"`
	EnvClientIDVar     string `yaml:"env_client_id_var"`
	EnvClientSecretVar string `yaml:"env_client_secret_var"`
	SecretKey          string `yaml:"secret_key"`
	InvoiceCode        string `yaml:"invoice_code"`
	BranchCode         string `yaml:"branch_code"`
	CallbackBaseURL    string `yaml:"callback_base_url"`

	EnableEbarimt             bool   `yaml:"enable_ebarimt"`
	EbarimtReceiverType       string `yaml:"ebarimt_receiver_type"` // CITIZEN | COMPANY
	EbarimtDistrictCode       string `yaml:"ebarimt_district_code"`
	EbarimtClassificationCode string `yaml:"ebarimt_classification_code"`

	EnableExpiry bool `yaml:"enable_expiry"`
	AllowPartial bool `yaml:"allow_partial"`
	AllowExceed  bool `yaml:"allow_exceed"`
}

type DatabaseConfig struct {
	Path string `yaml:"path"`
}

type RedisConfig struct {
	Address  string `yaml:"address"`
	Password string `yaml:"password"`
	DB       int    `yaml:"db"`
	PoolSize int    `yaml:"pool_size"`
}

type APIConfig struct {
	Enabled   bool               `yaml:"enabled"`
	Port      int                `yaml:"port"`
	Auth      APIAuthConfig      `yaml:"auth"`
	RateLimit APIRateLimitConfig `yaml:"rate_limit"`
}

type APIAuthConfig struct {
	Enabled      bool           `yaml:"enabled"`
	HeaderAPIKey string         `yaml:"header_api_key"`
	HeaderExtra  string         `yaml:"header_extra"`
	APIKeys      []APIClientKey `yaml:"api_keys"`
}

type APIClientKey struct {
	Key   string `yaml:"key"`
	Extra string `yaml:"extra"`
	Name  string `yaml:"name"`
}

type APIRateLimitConfig struct {
	RPS   float64 `yaml:"rps"`
	Burst int     `yaml:"burst"`
}

// WebhookConfig controls callback signature verification. An empty secret
// disables verification entirely.
type WebhookConfig struct {
	Secret          string `yaml:"secret"`
	SignatureHeader string `yaml:"signature_header"`
	SignatureAlg    string `yaml:"signature_alg"` // sha256 | sha1 | sha512
}

type QueueConfig struct {
	BatchSize    int `yaml:"batch_size"`
	TickSeconds  int `yaml:"tick_seconds"`
	MaxAttempts  int `yaml:"max_attempts"`
	TokenCacheDB int `yaml:"token_cache_db"`
}

// AlertConfig wires dead-letter notifications to a Telegram chat.
type AlertConfig struct {
	Enabled        bool   `yaml:"enabled"`
	TelegramToken  string `yaml:"telegram_token"`
	TelegramChatID int64  `yaml:"telegram_chat_id"`
}

type MonitoringConfig struct {
	PrometheusEnabled bool `yaml:"prometheus_enabled"`
	PrometheusPort    int  `yaml:"prometheus_port"`
}

type LoggingConfig struct {
	Level    string `yaml:"level"`
	Format   string `yaml:"format"`
	Output   string `yaml:"output"`
	FilePath string `yaml:"file_path"`
}

type ExportConfig struct {
	Path string `yaml:"path"`
}

func Load(configPath string) (*Config, error) {
	// .env is optional; environment may already be populated.
	_ = godotenv.Load(".env")

	data, err := os.ReadFile(configPath)
	if err != nil {
		return nil, err
	}

	expandedData := []byte(os.ExpandEnv(string(data)))

	var config Config
	if err := yaml.Unmarshal(expandedData, &config); err != nil {
		return nil, err
	}

	config.applyDefaults()

	if err := config.Validate(); err != nil {
		return nil, fmt.Errorf("config validation failed: %w", err)
	}

	return &config, nil
}

func (c *Config) Validate() error {
	if c.Database.Path == "" {
		return errors.New("database path is required")
	}

	switch c.QPay.Mode {
	case "sandbox":
	case "production":
		if !c.QPay.UseEnv && (c.QPay.LiveClientID == "" || c.QPay.LiveClientSecret == "") {
			return errors.New("production mode requires live_client_id and live_client_secret (or use_env)")
		}
	default:
		return fmt.Errorf("unknown qpay mode %q", c.QPay.Mode)
	}

	switch c.Webhook.SignatureAlg {
	case "sha1", "sha256", "sha512":
	default:
		return fmt.Errorf("unsupported webhook signature_alg %q", c.Webhook.SignatureAlg)
	}

	if rt := c.QPay.EbarimtReceiverType; rt != "CITIZEN" && rt != "COMPANY" {
		return fmt.Errorf("ebarimt_receiver_type must be CITIZEN or COMPANY, got %q", rt)
	}

	return nil
}

func (c *Config) applyDefaults() {
	if c.QPay.Mode == "" {
		c.QPay.Mode = "sandbox"
	}
	if c.QPay.EnvClientIDVar == "" {
		c.QPay.EnvClientIDVar = "QPAYGATE_CLIENT_ID"
	}
	if c.QPay.EnvClientSecretVar == "" {
		c.QPay.EnvClientSecretVar = "QPAYGATE_CLIENT_SECRET"
	}
	if c.QPay.EbarimtReceiverType == "" {
		c.QPay.EbarimtReceiverType = "CITIZEN"
	}
	if c.QPay.BranchCode == "" {
		c.QPay.BranchCode = "SALBAR1"
	}

	if c.API.Port == 0 {
		c.API.Port = 8080
	}
	if c.API.Auth.HeaderAPIKey == "" {
		c.API.Auth.HeaderAPIKey = "x-api-key"
	}
	if c.API.Auth.HeaderExtra == "" {
		c.API.Auth.HeaderExtra = "x-api-extra"
	}

	if c.Webhook.SignatureHeader == "" {
		c.Webhook.SignatureHeader = "x-qpay-signature"
	}
	if c.Webhook.SignatureAlg == "" {
		c.Webhook.SignatureAlg = "sha256"
	}
	c.Webhook.SignatureAlg = strings.ToLower(strings.TrimSpace(c.Webhook.SignatureAlg))

	if c.Queue.BatchSize == 0 {
		c.Queue.BatchSize = models.DefaultQueueBatchSize
	}
	if c.Queue.TickSeconds == 0 {
		c.Queue.TickSeconds = 60
	}
	if c.Queue.MaxAttempts == 0 {
		c.Queue.MaxAttempts = models.MaxTaskAttempts
	}

	if c.Monitoring.PrometheusEnabled && c.Monitoring.PrometheusPort == 0 {
		c.Monitoring.PrometheusPort = 9090
	}

	if c.Exports.Path == "" {
		c.Exports.Path = "exports"
	}
}
