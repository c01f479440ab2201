package app

import (
	"fmt"
	"strings"
	"time"

	"github.com/knadh/koanf/parsers/yaml"
	"github.com/knadh/koanf/providers/env"
	"github.com/knadh/koanf/providers/file"
	"github.com/knadh/koanf/v2"
)

// Config описывает настройки сервиса оформления покупок.
type Config struct {
	App struct {
		Name        string `koanf:"name"`
		HTTPAddr    string `koanf:"http_addr"`
		MetricsAddr string `koanf:"metrics_addr"`
		LogLevel    string `koanf:"log_level"`
	} `koanf:"app"`

	HTTP struct {
		RequestTimeout  time.Duration `koanf:"request_timeout"`
		ReadTimeout     time.Duration `koanf:"read_timeout"`
		WriteTimeout    time.Duration `koanf:"write_timeout"`
		IdleTimeout     time.Duration `koanf:"idle_timeout"`
		ShutdownTimeout time.Duration `koanf:"shutdown_timeout"`
	} `koanf:"http"`

	Postgres struct {
		// DSN пустой — работаем на in-memory хранилищах.
		DSN     string `koanf:"dsn"`
		Migrate bool   `koanf:"migrate"`
	} `koanf:"postgres"`

	Redis struct {
		Addr           string        `koanf:"addr"`
		Password       string        `koanf:"password"`
		DB             int           `koanf:"db"`
		IdempotencyTTL time.Duration `koanf:"idempotency_ttl"`
	} `koanf:"redis"`

	Kafka struct {
		// Brokers — список через запятую; пустой отключает публикацию.
		Brokers  string `koanf:"brokers"`
		Topic    string `koanf:"topic"`
		DLQTopic string `koanf:"dlq_topic"`
	} `koanf:"kafka"`

	Security struct {
		JWTSecret string `koanf:"jwt_secret"`
	} `koanf:"security"`

	Checkout struct {
		LowStockThreshold int32 `koanf:"low_stock_threshold"`
	} `koanf:"checkout"`

	Outbox struct {
		PollInterval time.Duration `koanf:"poll_interval"`
		BatchSize    int           `koanf:"batch_size"`
		MaxAttempts  int           `koanf:"max_attempts"`
	} `koanf:"outbox"`
}

// DefaultConfig возвращает конфигурацию для локального запуска без внешних
// зависимостей: in-memory хранилища, без Kafka и Redis.
func DefaultConfig() Config {
	var cfg Config
	cfg.App.Name = "checkout-service"
	cfg.App.HTTPAddr = ":8080"
	cfg.App.MetricsAddr = ":9090"
	cfg.App.LogLevel = "info"
	cfg.HTTP.RequestTimeout = 30 * time.Second
	cfg.HTTP.ReadTimeout = 10 * time.Second
	cfg.HTTP.WriteTimeout = 10 * time.Second
	cfg.HTTP.IdleTimeout = 60 * time.Second
	cfg.HTTP.ShutdownTimeout = 10 * time.Second
	cfg.Postgres.Migrate = true
	cfg.Redis.IdempotencyTTL = 24 * time.Hour
	cfg.Kafka.Topic = "checkout.notifications"
	cfg.Kafka.DLQTopic = "checkout.dlq"
	cfg.Security.JWTSecret = "dev-secret"
	cfg.Checkout.LowStockThreshold = 10
	cfg.Outbox.PollInterval = time.Second
	cfg.Outbox.BatchSize = 100
	cfg.Outbox.MaxAttempts = 3
	return cfg
}

// Load читает конфигурацию: yaml-файл (если указан), затем переменные
// окружения с префиксом CHECKOUT_ (вложенность через __, например
// CHECKOUT_POSTGRES__DSN).
func Load(path string) (Config, error) {
	k := koanf.New(".")

	if path != "" {
		if err := k.Load(file.Provider(path), yaml.Parser()); err != nil {
			return Config{}, fmt.Errorf("load config file: %w", err)
		}
	}

	if err := k.Load(env.Provider("CHECKOUT_", ".", func(s string) string {
		s = strings.TrimPrefix(s, "CHECKOUT_")
		s = strings.ReplaceAll(s, "__", ".")
		return strings.ToLower(s)
	}), nil); err != nil {
		return Config{}, fmt.Errorf("env overlay: %w", err)
	}

	cfg := DefaultConfig()
	if err := k.Unmarshal("", &cfg); err != nil {
		return Config{}, fmt.Errorf("unmarshal config: %w", err)
	}
	if err := cfg.Validate(); err != nil {
		return Config{}, err
	}
	return cfg, nil
}

// Validate проверяет обязательные поля.
func (c Config) Validate() error {
	if c.App.HTTPAddr == "" {
		return fmt.Errorf("app.http_addr required")
	}
	if c.Security.JWTSecret == "" {
		return fmt.Errorf("security.jwt_secret required")
	}
	if c.Checkout.LowStockThreshold <= 0 {
		return fmt.Errorf("checkout.low_stock_threshold must be positive")
	}
	return nil
}

// KafkaBrokers возвращает разобранный список брокеров.
func (c Config) KafkaBrokers() []string {
	raw := strings.TrimSpace(c.Kafka.Brokers)
	if raw == "" {
		return nil
	}
	parts := strings.Split(raw, ",")
	brokers := make([]string, 0, len(parts))
	for _, p := range parts {
		if p = strings.TrimSpace(p); p != "" {
			brokers = append(brokers, p)
		}
	}
	return brokers
}
