package infra

import (
	"errors"
	"fmt"
	"os"
	"strings"
	"time"

	"github.com/joho/godotenv"
	"github.com/spf13/viper"
)

// Config — корневая структура конфигурации консоли удалённого доступа.
type Config struct {
	Server   ServerConfig   `mapstructure:"server"`
	Database DatabaseConfig `mapstructure:"database"`
	Redis    RedisConfig    `mapstructure:"redis"`
	Auth     AuthConfig     `mapstructure:"auth"`
	Provider ProviderConfig `mapstructure:"provider"`
	Commands CommandsConfig `mapstructure:"commands"`
	Audit    AuditConfig    `mapstructure:"audit"`
	Metrics  MetricsConfig  `mapstructure:"metrics"`
	Health   HealthConfig   `mapstructure:"health"`
	Logger   LoggerConfig   `mapstructure:"logger"`
}

// ServerConfig описывает настройки HTTP-сервера.
type ServerConfig struct {
	Host         string        `mapstructure:"host"`
	Port         int           `mapstructure:"port"`
	ReadTimeout  time.Duration `mapstructure:"read_timeout"`
	WriteTimeout time.Duration `mapstructure:"write_timeout"`
}

func (s ServerConfig) Addr() string {
	return fmt.Sprintf("%s:%d", s.Host, s.Port)
}

// DatabaseConfig описывает подключение к PostgreSQL.
type DatabaseConfig struct {
	URL           string `mapstructure:"url"`
	Schema        string `mapstructure:"schema"`
	MaxConns      int32  `mapstructure:"max_conns"`
	MinConns      int32  `mapstructure:"min_conns"`
	MigrateOnBoot bool   `mapstructure:"migrate_on_boot"`
}

// RedisConfig — блокировки регистрации и сигналы агентам.
type RedisConfig struct {
	Addr     string `mapstructure:"addr"`
	Password string `mapstructure:"password"`
	DB       int    `mapstructure:"db"`
}

// AuthConfig: путь к публичному RSA ключу IdP, которым подписаны токены операторов.
type AuthConfig struct {
	PublicKeyPath string `mapstructure:"public_key_path"`
	PublicKey     []byte
}

// ProviderConfig — внешний провайдер удалённого рабочего стола.
type ProviderConfig struct {
	BaseURL   string        `mapstructure:"base_url"`
	APIKey    string        `mapstructure:"api_key"`
	APISecret string        `mapstructure:"api_secret"`
	Timeout   time.Duration `mapstructure:"timeout"`
	RateLimit float64       `mapstructure:"rate_limit"`
	RateBurst int           `mapstructure:"rate_burst"`

	// Настройки Circuit Breaker
	CBMaxRequests uint32        `mapstructure:"cb_max_requests"`
	CBInterval    time.Duration `mapstructure:"cb_interval"`
	CBTimeout     time.Duration `mapstructure:"cb_timeout"`
	CBFailures    uint32        `mapstructure:"cb_failures"`
}

// CommandsConfig — срок жизни PENDING команд. Темп опроса и бюджеты ожидания живут в rctl.
type CommandsConfig struct {
	PendingTTL    time.Duration `mapstructure:"pending_ttl"`
	SweepInterval time.Duration `mapstructure:"sweep_interval"`
}

type AuditConfig struct {
	BufferSize    int           `mapstructure:"buffer_size"`
	FlushInterval time.Duration `mapstructure:"flush_interval"`
}

type MetricsConfig struct {
	Addr string `mapstructure:"addr"`
}

type HealthConfig struct {
	Addr string `mapstructure:"addr"`
}

// LoggerConfig настраивает поведение zap логгера.
type LoggerConfig struct {
	Level  string `mapstructure:"level"`  // debug, info, warn, error
	Format string `mapstructure:"format"` // json, console
}

// LoadConfig инициализирует конфигурацию, объединяя значения из файла, .env и ENV.
func LoadConfig() (*Config, error) {
	// .env опционален, в k8s всё приходит переменными окружения
	_ = godotenv.Load()

	v := viper.New()

	v.SetConfigName("config")
	v.SetConfigType("yaml")
	v.AddConfigPath(".")
	v.AddConfigPath("./configs")

	// PROVIDER_API_SECRET=... перекроет provider.api_secret
	v.AutomaticEnv()
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))

	setDefaults(v)

	if err := v.ReadInConfig(); err != nil {
		var configFileNotFoundError viper.ConfigFileNotFoundError
		if !errors.As(err, &configFileNotFoundError) {
			return nil, fmt.Errorf("error reading config file: %w", err)
		}
		// Файла нет: работаем на ENV и дефолтах
	}

	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return nil, fmt.Errorf("unable to decode into struct: %w", err)
	}

	cfg.Auth.PublicKey = loadKeyResource(cfg.Auth.PublicKeyPath, "AUTH_PUBLIC_KEY_DATA")

	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return &cfg, nil
}

// Validate проверяет то, без чего консоль не может стартовать.
func (c *Config) Validate() error {
	var errs []error
	if c.Database.URL == "" {
		errs = append(errs, errors.New("database.url is required"))
	}
	if c.Provider.BaseURL == "" {
		errs = append(errs, errors.New("provider.base_url is required"))
	}
	if c.Provider.APIKey == "" || c.Provider.APISecret == "" {
		errs = append(errs, errors.New("provider.api_key and provider.api_secret are required"))
	}
	if c.Commands.PendingTTL <= 0 {
		errs = append(errs, errors.New("commands.pending_ttl must be positive"))
	}
	if c.Commands.SweepInterval <= 0 {
		errs = append(errs, errors.New("commands.sweep_interval must be positive"))
	}
	return errors.Join(errs...)
}

func setDefaults(v *viper.Viper) {
	// Пустые дефолты нужны, чтобы Unmarshal увидел ключи, заданные только через ENV
	for _, key := range []string{
		"server.host", "database.url", "database.schema", "redis.password", "auth.public_key_path",
		"provider.base_url", "provider.api_key", "provider.api_secret",
	} {
		v.SetDefault(key, "")
	}

	v.SetDefault("server.port", 8000)
	v.SetDefault("server.read_timeout", 5*time.Second)
	v.SetDefault("server.write_timeout", 10*time.Second)
	v.SetDefault("database.max_conns", 15)
	v.SetDefault("database.min_conns", 2)
	v.SetDefault("database.migrate_on_boot", true)
	v.SetDefault("redis.addr", "localhost:6379")

	v.SetDefault("provider.timeout", 15*time.Second)
	v.SetDefault("provider.rate_limit", 10)
	v.SetDefault("provider.rate_burst", 5)
	v.SetDefault("provider.cb_max_requests", 3)
	v.SetDefault("provider.cb_interval", 30*time.Second)
	v.SetDefault("provider.cb_timeout", 30*time.Second)
	v.SetDefault("provider.cb_failures", 5)

	v.SetDefault("commands.pending_ttl", 10*time.Minute)
	v.SetDefault("commands.sweep_interval", 1*time.Minute)

	v.SetDefault("audit.buffer_size", 1000)
	v.SetDefault("audit.flush_interval", 1*time.Second)
	v.SetDefault("metrics.addr", ":9090")
	v.SetDefault("health.addr", ":50052")
	v.SetDefault("logger.level", "info")
	v.SetDefault("logger.format", "json")
}

// loadKeyResource — ключ берётся из ENV (PEM целиком) или из файла по пути.
func loadKeyResource(path string, envDataKey string) []byte {
	if data := os.Getenv(envDataKey); data != "" {
		return []byte(data)
	}
	if path != "" {
		data, err := os.ReadFile(path)
		if err == nil {
			return data
		}
	}
	return nil
}
