package config

import (
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"

	"gopkg.in/yaml.v3"
)

type Config struct {
	Server        ServerConfig        `yaml:"server"`
	Database      DatabaseConfig      `yaml:"database"`
	Staging       StagingConfig       `yaml:"staging"`
	Pricing       PricingConfig       `yaml:"pricing"`
	Payment       PaymentConfig       `yaml:"payment"`
	Storage       StorageConfig       `yaml:"storage"`
	Queue         QueueConfig         `yaml:"queue"`
	Printers      PrintersConfig      `yaml:"printers"`
	Notifications NotificationsConfig `yaml:"notifications"`
	Auth          AuthConfig          `yaml:"auth"`
	Archive       ArchiveConfig       `yaml:"archive"`
	Logging       LoggingConfig       `yaml:"logging"`
}

type ServerConfig struct {
	Port         int           `yaml:"port"`
	ReadTimeout  time.Duration `yaml:"read_timeout"`
	WriteTimeout time.Duration `yaml:"write_timeout"`
}

type DatabaseConfig struct {
	Path string `yaml:"path"`
}

type StagingConfig struct {
	Dir               string        `yaml:"dir"`
	MaxFileSize       int64         `yaml:"max_file_size"`
	AllowedExtensions []string      `yaml:"allowed_extensions"`
	Retention         time.Duration `yaml:"retention"`
	SweepInterval     time.Duration `yaml:"sweep_interval"`
}

type PricingConfig struct {
	BlackRate float64 `yaml:"black_rate"`
	ColorRate float64 `yaml:"color_rate"`
	Currency  string  `yaml:"currency"`
}

type PaymentConfig struct {
	BaseURL   string        `yaml:"base_url"`
	KeyID     string        `yaml:"key_id"`
	KeySecret string        `yaml:"key_secret"`
	Timeout   time.Duration `yaml:"timeout"`
}

type StorageConfig struct {
	Provider          string        `yaml:"provider"`
	Folder            string        `yaml:"folder"`
	FilesystemRoot    string        `yaml:"filesystem_root"`
	PublicBaseURL     string        `yaml:"public_base_url"`
	S3Bucket          string        `yaml:"s3_bucket"`
	S3Region          string        `yaml:"s3_region"`
	S3Endpoint        string        `yaml:"s3_endpoint"`
	S3AccessKey       string        `yaml:"s3_access_key"`
	S3SecretKey       string        `yaml:"s3_secret_key"`
	AutoRetryInterval time.Duration `yaml:"auto_retry_interval"`
	MaxAutoRetries    int           `yaml:"max_auto_retries"`
}

type QueueConfig struct {
	Backend       string        `yaml:"backend"`
	MaxConcurrent int           `yaml:"max_concurrent"`
	MaxRetries    int           `yaml:"max_retries"`
	RetryDelay    time.Duration `yaml:"retry_delay"`
	JobTimeout    time.Duration `yaml:"job_timeout"`
}

type PrinterConfig struct {
	Name      string `yaml:"name"`
	IPAddress string `yaml:"ip_address"`
	Port      int    `yaml:"port"`
}

type PrintersConfig struct {
	Devices             []PrinterConfig `yaml:"devices"`
	HealthCheckInterval time.Duration   `yaml:"health_check_interval"`
	ConnectionTimeout   time.Duration   `yaml:"connection_timeout"`
	Simulate            bool            `yaml:"simulate"`
	SimulatedDuration   time.Duration   `yaml:"simulated_duration"`
}

type NotificationsConfig struct {
	InApp       bool          `yaml:"in_app"`
	WorkerCount int           `yaml:"worker_count"`
	QueueSize   int           `yaml:"queue_size"`
	SendTimeout time.Duration `yaml:"send_timeout"`
	Email       EmailConfig   `yaml:"email"`
	SMS         SMSConfig     `yaml:"sms"`
	Webhooks    WebhookConfig `yaml:"webhooks"`
}

type EmailConfig struct {
	Enabled  bool   `yaml:"enabled"`
	Host     string `yaml:"host"`
	Port     int    `yaml:"port"`
	Username string `yaml:"username"`
	Password string `yaml:"password"`
	From     string `yaml:"from"`
}

type SMSConfig struct {
	Enabled  bool   `yaml:"enabled"`
	Endpoint string `yaml:"endpoint"`
	APIKey   string `yaml:"api_key"`
	Sender   string `yaml:"sender"`
}

type WebhookConfig struct {
	Enabled    bool          `yaml:"enabled"`
	RetryCount int           `yaml:"retry_count"`
	RetryDelay time.Duration `yaml:"retry_delay"`
	Timeout    time.Duration `yaml:"timeout"`
}

type AuthConfig struct {
	JWTSecret         string        `yaml:"jwt_secret"`
	TokenDuration     time.Duration `yaml:"token_duration"`
	AdminPasswordHash string        `yaml:"admin_password_hash"`
}

type ArchiveConfig struct {
	Path     string        `yaml:"path"`
	Days     int           `yaml:"days"`
	Interval time.Duration `yaml:"interval"`
}

type LoggingConfig struct {
	Level  string `yaml:"level"`
	Format string `yaml:"format"`
}

func defaults() *Config {
	return &Config{
		Server: ServerConfig{
			Port:         8080,
			ReadTimeout:  30 * time.Second,
			WriteTimeout: 30 * time.Second,
		},
		Database: DatabaseConfig{
			Path: "./data/printdesk.db",
		},
		Staging: StagingConfig{
			Dir:               "./data/staging",
			MaxFileSize:       50 << 20,
			AllowedExtensions: []string{".pdf", ".doc", ".docx", ".ppt", ".pptx", ".png", ".jpg", ".jpeg"},
			Retention:         24 * time.Hour,
			SweepInterval:     time.Hour,
		},
		Pricing: PricingConfig{
			BlackRate: 1.0,
			ColorRate: 5.0,
			Currency:  "INR",
		},
		Payment: PaymentConfig{
			BaseURL: "https://api.razorpay.com/v1",
			Timeout: 15 * time.Second,
		},
		Storage: StorageConfig{
			Provider:          "filesystem",
			Folder:            "print-jobs",
			FilesystemRoot:    "./data/objects",
			AutoRetryInterval: 5 * time.Minute,
			MaxAutoRetries:    3,
		},
		Queue: QueueConfig{
			Backend:       "sqlite",
			MaxConcurrent: 2,
			MaxRetries:    3,
			RetryDelay:    10 * time.Second,
			JobTimeout:    5 * time.Minute,
		},
		Printers: PrintersConfig{
			HealthCheckInterval: 30 * time.Second,
			ConnectionTimeout:   10 * time.Second,
			SimulatedDuration:   2 * time.Second,
		},
		Notifications: NotificationsConfig{
			InApp:       true,
			WorkerCount: 3,
			QueueSize:   100,
			SendTimeout: 10 * time.Second,
			Email: EmailConfig{
				Port: 587,
			},
			Webhooks: WebhookConfig{
				RetryCount: 3,
				RetryDelay: 5 * time.Second,
				Timeout:    10 * time.Second,
			},
		},
		Auth: AuthConfig{
			TokenDuration: 24 * time.Hour,
		},
		Archive: ArchiveConfig{
			Path:     "./data/archives",
			Days:     30,
			Interval: 24 * time.Hour,
		},
		Logging: LoggingConfig{
			Level:  "info",
			Format: "json",
		},
	}
}

// Default returns the built-in configuration.
func Default() *Config {
	return defaults()
}

func Load(configPath string) (*Config, error) {
	cfg := defaults()

	data, err := os.ReadFile(configPath)
	if err != nil {
		if os.IsNotExist(err) {
			return cfg, nil
		}
		return nil, fmt.Errorf("failed to read config file: %w", err)
	}

	if err := yaml.Unmarshal(data, cfg); err != nil {
		return nil, fmt.Errorf("failed to parse config file: %w", err)
	}

	return cfg, nil
}

func LoadFromEnv() *Config {
	cfg := defaults()
	cfg.ApplyEnv()
	return cfg
}

// ApplyEnv overlays PRINTDESK_* environment variables on top of c.
func (c *Config) ApplyEnv() {
	if v := os.Getenv("PRINTDESK_PORT"); v != "" {
		if port, err := strconv.Atoi(v); err == nil {
			c.Server.Port = port
		}
	}

	if v := os.Getenv("PRINTDESK_DB_PATH"); v != "" {
		c.Database.Path = v
	}

	if v := os.Getenv("PRINTDESK_STAGING_DIR"); v != "" {
		c.Staging.Dir = v
	}

	if v := os.Getenv("PRINTDESK_LOG_LEVEL"); v != "" {
		c.Logging.Level = strings.ToLower(v)
	}

	if v := os.Getenv("PRINTDESK_PAYMENT_KEY_ID"); v != "" {
		c.Payment.KeyID = v
	}

	if v := os.Getenv("PRINTDESK_PAYMENT_KEY_SECRET"); v != "" {
		c.Payment.KeySecret = v
	}

	if v := os.Getenv("PRINTDESK_JWT_SECRET"); v != "" {
		c.Auth.JWTSecret = v
	}
}

func (c *Config) Validate() error {
	if c.Server.Port < 1 || c.Server.Port > 65535 {
		return fmt.Errorf("server port must be between 1 and 65535, got %d", c.Server.Port)
	}

	if c.Server.ReadTimeout < 0 || c.Server.WriteTimeout < 0 {
		return fmt.Errorf("server timeouts must be non-negative")
	}

	if c.Database.Path == "" {
		return fmt.Errorf("database path is required")
	}

	if c.Staging.Dir == "" {
		return fmt.Errorf("staging dir is required")
	}

	if c.Staging.MaxFileSize <= 0 {
		return fmt.Errorf("staging max file size must be positive")
	}

	if len(c.Staging.AllowedExtensions) == 0 {
		return fmt.Errorf("at least one allowed extension is required")
	}

	if c.Staging.Retention <= 0 {
		return fmt.Errorf("staging retention must be positive")
	}

	if c.Pricing.BlackRate < 0 || c.Pricing.ColorRate < 0 {
		return fmt.Errorf("pricing rates must be non-negative")
	}

	if c.Pricing.Currency == "" {
		return fmt.Errorf("pricing currency is required")
	}

	switch c.Storage.Provider {
	case "filesystem":
		if c.Storage.FilesystemRoot == "" {
			return fmt.Errorf("storage filesystem_root is required for the filesystem provider")
		}
	case "s3":
		if c.Storage.S3Bucket == "" {
			return fmt.Errorf("storage s3_bucket is required for the s3 provider")
		}
	default:
		return fmt.Errorf("invalid storage provider: %s (valid: filesystem, s3)", c.Storage.Provider)
	}

	if c.Storage.MaxAutoRetries < 0 {
		return fmt.Errorf("storage max auto retries must be non-negative")
	}

	if c.Queue.Backend != "memory" && c.Queue.Backend != "sqlite" {
		return fmt.Errorf("invalid queue backend: %s (valid: memory, sqlite)", c.Queue.Backend)
	}

	if c.Queue.MaxConcurrent < 1 {
		return fmt.Errorf("queue max concurrent must be at least 1")
	}

	if c.Queue.MaxRetries < 1 {
		return fmt.Errorf("queue max retries must be at least 1")
	}

	if c.Queue.RetryDelay < 0 {
		return fmt.Errorf("retry delay must be non-negative")
	}

	if c.Queue.JobTimeout <= 0 {
		return fmt.Errorf("job timeout must be positive")
	}

	if len(c.Printers.Devices) == 0 && !c.Printers.Simulate {
		return fmt.Errorf("at least one printer device is required unless printers.simulate is set")
	}

	for i, p := range c.Printers.Devices {
		if p.IPAddress == "" {
			return fmt.Errorf("printer %d: ip_address is required", i)
		}
		if p.Port < 0 || p.Port > 65535 {
			return fmt.Errorf("printer %d: invalid port %d", i, p.Port)
		}
	}

	if c.Notifications.Email.Enabled && (c.Notifications.Email.Host == "" || c.Notifications.Email.From == "") {
		return fmt.Errorf("email notifications require host and from")
	}

	if c.Notifications.SMS.Enabled && c.Notifications.SMS.Endpoint == "" {
		return fmt.Errorf("sms notifications require an endpoint")
	}

	if c.Archive.Days < 0 {
		return fmt.Errorf("archive days must be non-negative")
	}

	validLevels := map[string]bool{
		"debug": true,
		"info":  true,
		"warn":  true,
		"error": true,
	}

	if !validLevels[c.Logging.Level] {
		return fmt.Errorf("invalid log level: %s (valid: debug, info, warn, error)", c.Logging.Level)
	}

	validFormats := map[string]bool{
		"json":    true,
		"console": true,
	}

	if !validFormats[c.Logging.Format] {
		return fmt.Errorf("invalid log format: %s (valid: json, console)", c.Logging.Format)
	}

	return nil
}
