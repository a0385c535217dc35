package config

import (
	"errors"
	"fmt"
	"os"
	"strings"
	"time"

	"meetbook/internal/models"

	"github.com/joho/godotenv"
	"gopkg.in/yaml.v3"
)

const (
	DriverSQLite   = "sqlite"
	DriverPostgres = "postgres"
	DriverMemory   = "memory"

	LockingMemory = "memory"
	LockingRedis  = "redis"
)

type Config struct {
	App           AppConfig           `yaml:"app"`
	Logging       LoggingConfig       `yaml:"logging"`
	Database      DatabaseConfig      `yaml:"database"`
	Redis         RedisConfig         `yaml:"redis"`
	Locking       LockingConfig       `yaml:"locking"`
	API           APIConfig           `yaml:"api"`
	Monitoring    MonitoringConfig    `yaml:"monitoring"`
	Backup        BackupConfig        `yaml:"backup"`
	Scheduling    SchedulingConfig    `yaml:"scheduling"`
	Notifications NotificationsConfig `yaml:"notifications"`
	Bot           BotConfig           `yaml:"bot"`
}

type AppConfig struct {
	Name        string `yaml:"name"`
	Environment string `yaml:"environment"`
	Version     string `yaml:"version"`
}

type LoggingConfig struct {
	Level      string `yaml:"level"`
	Format     string `yaml:"format"`
	Output     string `yaml:"output"`
	FilePath   string `yaml:"file_path"`
	MaxSizeMB  int    `yaml:"max_size_mb"`
	MaxBackups int    `yaml:"max_backups"`
	MaxAgeDays int    `yaml:"max_age_days"`
}

type DatabaseConfig struct {
	Driver   string         `yaml:"driver"`
	Path     string         `yaml:"path"`
	Postgres PostgresConfig `yaml:"postgres"`
}

type PostgresConfig struct {
	Host           string `yaml:"host"`
	Port           int    `yaml:"port"`
	User           string `yaml:"user"`
	Password       string `yaml:"password"`
	DBName         string `yaml:"dbname"`
	SSLMode        string `yaml:"sslmode"`
	MaxConnections int    `yaml:"max_connections"`
}

// DSN builds a libpq-style connection string.
func (p PostgresConfig) DSN() string {
	return fmt.Sprintf("postgres://%s:%s@%s:%d/%s?sslmode=%s&pool_max_conns=%d",
		p.User, p.Password, p.Host, p.Port, p.DBName, p.SSLMode, p.MaxConnections)
}

type RedisConfig struct {
	Address  string `yaml:"address"`
	Password string `yaml:"password"`
	DB       int    `yaml:"db"`
	PoolSize int    `yaml:"pool_size"`
}

type LockingConfig struct {
	Backend string        `yaml:"backend"`
	TTL     time.Duration `yaml:"ttl"`
	Retry   time.Duration `yaml:"retry"`
}

type APIConfig struct {
	Enabled   bool               `yaml:"enabled"`
	HTTP      APIHTTPConfig      `yaml:"http"`
	GRPC      APIGRPCConfig      `yaml:"grpc"`
	Auth      APIAuthConfig      `yaml:"auth"`
	RateLimit APIRateLimitConfig `yaml:"rate_limit"`
}

type APIHTTPConfig struct {
	Enabled bool `yaml:"enabled"`
	Port    int  `yaml:"port"`
}

type APIGRPCConfig struct {
	Enabled    bool         `yaml:"enabled"`
	Port       int          `yaml:"port"`
	Reflection bool         `yaml:"reflection"`
	TLS        APITLSConfig `yaml:"tls"`
}

type APITLSConfig struct {
	Enabled           bool   `yaml:"enabled"`
	CertFile          string `yaml:"cert_file"`
	KeyFile           string `yaml:"key_file"`
	ClientCAFile      string `yaml:"client_ca_file"`
	RequireClientCert bool   `yaml:"require_client_cert"`
}

type APIAuthConfig struct {
	Enabled      bool           `yaml:"enabled"`
	HeaderAPIKey string         `yaml:"header_api_key"`
	HeaderExtra  string         `yaml:"header_extra"`
	APIKeys      []APIClientKey `yaml:"api_keys"`
}

type APIClientKey struct {
	Key         string   `yaml:"key"`
	Extra       string   `yaml:"extra"`
	Name        string   `yaml:"name"`
	Permissions []string `yaml:"permissions"`
}

// APIRateLimitConfig: RPS/Burst are per client, BookingsPerWindow limits
// booking submissions per remote address.
type APIRateLimitConfig struct {
	RPS               float64       `yaml:"rps"`
	Burst             int           `yaml:"burst"`
	BookingsPerWindow int           `yaml:"bookings_per_window"`
	Window            time.Duration `yaml:"window"`
}

type MonitoringConfig struct {
	PrometheusEnabled bool `yaml:"prometheus_enabled"`
	PrometheusPort    int  `yaml:"prometheus_port"`
}

type BackupConfig struct {
	Enabled       bool   `yaml:"enabled"`
	Schedule      string `yaml:"schedule"`
	RetentionDays int    `yaml:"retention_days"`
	StoragePath   string `yaml:"storage_path"`
}

type SchedulingConfig struct {
	Timezone      string                     `yaml:"timezone"`
	MeetingTypes  []models.MeetingTypeOption `yaml:"meeting_types"`
	UpcomingDates int                        `yaml:"upcoming_dates"`
}

type NotificationsConfig struct {
	Enabled  bool           `yaml:"enabled"`
	Queue    string         `yaml:"queue"`
	Retry    RetryConfig    `yaml:"retry"`
	Kafka    KafkaConfig    `yaml:"kafka"`
	Telegram TelegramConfig `yaml:"telegram"`
	Sheets   SheetsConfig   `yaml:"sheets"`
}

// BotConfig drives the organizer Telegram bot. Token falls back to the
// notification bot token.
type BotConfig struct {
	Enabled  bool    `yaml:"enabled"`
	Token    string  `yaml:"token"`
	Managers []int64 `yaml:"managers"`
	PageSize int     `yaml:"page_size"`
	Timezone string  `yaml:"timezone"`
	Debug    bool    `yaml:"debug"`
}

type RetryConfig struct {
	MaxRetries   int           `yaml:"max_retries"`
	InitialDelay time.Duration `yaml:"initial_delay"`
	MaxDelay     time.Duration `yaml:"max_delay"`
	Factor       float64       `yaml:"factor"`
}

type KafkaConfig struct {
	Enabled     bool     `yaml:"enabled"`
	Brokers     []string `yaml:"brokers"`
	TopicPrefix string   `yaml:"topic_prefix"`
}

type TelegramConfig struct {
	Enabled  bool   `yaml:"enabled"`
	BotToken string `yaml:"bot_token"`
	ChatID   int64  `yaml:"chat_id"`
	Debug    bool   `yaml:"debug"`
}

type SheetsConfig struct {
	Enabled         bool   `yaml:"enabled"`
	CredentialsFile string `yaml:"credentials_file"`
	SpreadsheetID   string `yaml:"spreadsheet_id"`
	SheetName       string `yaml:"sheet_name"`
}

func Load(configPath string) (*Config, error) {
	// .env не обязателен
	if err := godotenv.Load(".env"); err != nil && !errors.Is(err, os.ErrNotExist) {
		return nil, err
	}

	data, err := os.ReadFile(configPath)
	if err != nil {
		return nil, err
	}

	// Предварительная замена переменных окружения в YAML
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
	switch c.Database.Driver {
	case DriverSQLite:
		if c.Database.Path == "" {
			return errors.New("database path is required")
		}
	case DriverPostgres:
		if c.Database.Postgres.Host == "" || c.Database.Postgres.DBName == "" {
			return errors.New("postgres host and dbname are required")
		}
	case DriverMemory:
	default:
		return fmt.Errorf("unknown database driver %q", c.Database.Driver)
	}

	switch c.Locking.Backend {
	case LockingMemory:
	case LockingRedis:
		if c.Redis.Address == "" {
			return errors.New("locking.backend=redis requires redis.address")
		}
	default:
		return fmt.Errorf("unknown locking backend %q", c.Locking.Backend)
	}

	if _, err := time.LoadLocation(c.Scheduling.Timezone); err != nil {
		return fmt.Errorf("scheduling.timezone: %w", err)
	}

	n := c.Notifications
	if n.Telegram.Enabled && n.Telegram.BotToken == "" {
		return errors.New("telegram bot token is required")
	}
	if n.Kafka.Enabled && len(n.Kafka.Brokers) == 0 {
		return errors.New("kafka brokers are required")
	}
	if n.Sheets.Enabled && (n.Sheets.CredentialsFile == "" || n.Sheets.SpreadsheetID == "") {
		return errors.New("sheets credentials_file and spreadsheet_id are required")
	}

	if c.Bot.Enabled {
		if c.Bot.Token == "" {
			return errors.New("bot token is required")
		}
		if len(c.Bot.Managers) == 0 {
			return errors.New("bot managers list is empty")
		}
	}

	return ValidateMeetingTypes(c.Scheduling.MeetingTypes)
}

func ValidateMeetingTypes(types []models.MeetingTypeOption) error {
	// Check for duplicate meeting type IDs
	ids := make(map[string]bool)
	for _, mt := range types {
		if strings.TrimSpace(mt.ID) == "" {
			return fmt.Errorf("meeting type '%s' has empty ID", mt.Name)
		}
		if mt.DurationMinutes <= 0 {
			return fmt.Errorf("meeting type %s has invalid duration %d", mt.ID, mt.DurationMinutes)
		}
		if ids[mt.ID] {
			return fmt.Errorf("duplicate meeting type ID found: %s", mt.ID)
		}
		ids[mt.ID] = true
	}
	return nil
}

func (c *Config) applyDefaults() {
	if c.App.Name == "" {
		c.App.Name = "meetbook"
	}
	if c.Database.Driver == "" {
		c.Database.Driver = DriverSQLite
	}
	if c.Database.Postgres.Port == 0 {
		c.Database.Postgres.Port = 5432
	}
	if c.Database.Postgres.SSLMode == "" {
		c.Database.Postgres.SSLMode = "disable"
	}
	if c.Database.Postgres.MaxConnections == 0 {
		c.Database.Postgres.MaxConnections = 10
	}
	if c.Locking.Backend == "" {
		c.Locking.Backend = LockingMemory
	}
	if c.Locking.TTL == 0 {
		c.Locking.TTL = 10 * time.Second
	}
	if c.Locking.Retry == 0 {
		c.Locking.Retry = 25 * time.Millisecond
	}

	if c.API.GRPC.Port == 0 {
		c.API.GRPC.Port = 8081
	}
	if c.API.HTTP.Port == 0 {
		c.API.HTTP.Port = 8080
	}
	if !c.API.HTTP.Enabled && c.API.Enabled {
		c.API.HTTP.Enabled = true
	}
	if c.API.Auth.HeaderAPIKey == "" {
		c.API.Auth.HeaderAPIKey = "x-api-key"
	}
	if c.API.Auth.HeaderExtra == "" {
		c.API.Auth.HeaderExtra = "x-api-extra"
	}
	if c.API.RateLimit.BookingsPerWindow == 0 {
		c.API.RateLimit.BookingsPerWindow = 5
	}
	if c.API.RateLimit.Window == 0 {
		c.API.RateLimit.Window = time.Minute
	}
	if c.Monitoring.PrometheusEnabled && c.Monitoring.PrometheusPort == 0 {
		c.Monitoring.PrometheusPort = 9090
	}

	// Scheduling defaults
	if c.Scheduling.Timezone == "" {
		c.Scheduling.Timezone = models.DefaultOrganizerTimezone
	}
	if len(c.Scheduling.MeetingTypes) == 0 {
		c.Scheduling.MeetingTypes = models.DefaultMeetingTypes()
	}
	if c.Scheduling.UpcomingDates == 0 {
		c.Scheduling.UpcomingDates = models.DefaultUpcomingDates
	}

	if c.Notifications.Queue == "" {
		c.Notifications.Queue = "meetbook:notifications"
	}
	if c.Notifications.Retry.MaxRetries == 0 {
		c.Notifications.Retry.MaxRetries = 5
	}
	if c.Notifications.Retry.InitialDelay == 0 {
		c.Notifications.Retry.InitialDelay = 2 * time.Second
	}
	if c.Notifications.Retry.MaxDelay == 0 {
		c.Notifications.Retry.MaxDelay = time.Minute
	}
	if c.Notifications.Retry.Factor == 0 {
		c.Notifications.Retry.Factor = 2
	}
	if c.Notifications.Kafka.TopicPrefix == "" {
		c.Notifications.Kafka.TopicPrefix = "meetbook."
	}
	if c.Notifications.Sheets.SheetName == "" {
		c.Notifications.Sheets.SheetName = "Bookings"
	}

	if c.Bot.Token == "" {
		c.Bot.Token = c.Notifications.Telegram.BotToken
	}
	if c.Bot.PageSize == 0 {
		c.Bot.PageSize = models.DefaultPaginationSize
	}
	if c.Bot.Timezone == "" {
		c.Bot.Timezone = c.Scheduling.Timezone
	}

	if c.Backup.RetentionDays == 0 {
		c.Backup.RetentionDays = 7
	}
	if c.Backup.StoragePath == "" {
		c.Backup.StoragePath = "backups"
	}
}
