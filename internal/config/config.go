package config

import (
	"fmt"
	"time"

	"github.com/fjod/go_cart/store-service/internal/repository"
	"github.com/joho/godotenv"
	"github.com/kelseyhightower/envconfig"
)

type Config struct {
	HTTPPort string `envconfig:"HTTP_PORT" default:"8080"`
	GRPCPort string `envconfig:"GRPC_PORT" default:"50057"`
	LogLevel string `envconfig:"LOG_LEVEL" default:"info"`

	DB       DBConfig       `envconfig:"DB"`
	Gateway  GatewayConfig  `envconfig:"GATEWAY"`
	Redis    RedisConfig    `envconfig:"REDIS"`
	Kafka    KafkaConfig    `envconfig:"KAFKA"`
	Notify   NotifyConfig   `envconfig:"NOTIFY"`
	Checkout CheckoutConfig `envconfig:"CHECKOUT"`

	MigrationsPath      string        `envconfig:"MIGRATIONS_PATH" default:"./internal/repository/migrations"`
	RabbitMQURL         string        `envconfig:"RABBITMQ_URL"`
	PaymentPollInterval time.Duration `envconfig:"PAYMENT_POLL_INTERVAL" default:"1m"`
}

// Sub-config fields are named by split_words (DB_HOST, GATEWAY_SHOP_ID, ...).
// An explicit envconfig tag would also fall back to the bare name, so DB_USER
// could silently pick up $USER.
type DBConfig struct {
	Driver   string `split_words:"true" default:"postgres"`
	Host     string `split_words:"true" default:"localhost"`
	Port     int    `split_words:"true" default:"5432"`
	User     string `split_words:"true" default:"postgres"`
	Password string `split_words:"true" default:"postgres"`
	Name     string `split_words:"true" default:"store"`
	Path     string `split_words:"true" default:"store.db"`
}

// GatewayConfig may be left empty; payment calls then fail with a
// misconfiguration error instead of the service refusing to start.
type GatewayConfig struct {
	URL       string        `split_words:"true" default:"https://api.yookassa.ru/v3"`
	ShopID    string        `split_words:"true"`
	SecretKey string        `split_words:"true"`
	ReturnURL string        `split_words:"true"`
	Currency  string        `split_words:"true" default:"RUB"`
	Timeout   time.Duration `split_words:"true" default:"10s"`
}

type RedisConfig struct {
	Addr     string `split_words:"true"`
	Password string `split_words:"true"`
	DB       int    `split_words:"true" default:"0"`
}

type KafkaConfig struct {
	Brokers []string `split_words:"true"`
	Topic   string   `split_words:"true" default:"order-events"`
}

type NotifyConfig struct {
	Queue   string `split_words:"true" default:"email_notifications"`
	Workers int    `split_words:"true" default:"2"`
	Buffer  int    `split_words:"true" default:"100"`
}

type CheckoutConfig struct {
	LockTTL time.Duration `split_words:"true" default:"30s"`
}

// Load reads an optional .env file and then the process environment.
// Variables already set in the environment win over .env values.
func Load(envFiles ...string) (*Config, error) {
	// a missing .env is normal outside local development
	_ = godotenv.Load(envFiles...)

	var cfg Config
	if err := envconfig.Process("", &cfg); err != nil {
		return nil, fmt.Errorf("failed to process env: %w", err)
	}
	if err := cfg.validate(); err != nil {
		return nil, err
	}
	return &cfg, nil
}

func (c *Config) validate() error {
	switch c.DB.Driver {
	case repository.DriverPostgres, repository.DriverSQLite:
	default:
		return fmt.Errorf("unsupported DB_DRIVER %q", c.DB.Driver)
	}
	if c.Notify.Workers < 1 {
		return fmt.Errorf("NOTIFY_WORKERS must be at least 1, got %d", c.Notify.Workers)
	}
	if c.Notify.Buffer < 0 {
		return fmt.Errorf("NOTIFY_BUFFER must not be negative, got %d", c.Notify.Buffer)
	}
	if c.PaymentPollInterval < 0 {
		return fmt.Errorf("PAYMENT_POLL_INTERVAL must not be negative, got %s", c.PaymentPollInterval)
	}
	return nil
}

func (c *Config) Credentials() *repository.Credentials {
	return &repository.Credentials{
		Driver:            c.DB.Driver,
		Host:              c.DB.Host,
		Port:              c.DB.Port,
		User:              c.DB.User,
		Password:          c.DB.Password,
		DBName:            c.DB.Name,
		Path:              c.DB.Path,
		MigrationsDirPath: c.MigrationsPath,
	}
}

// Configured reports whether every credential needed to call the gateway is
// present.
func (g GatewayConfig) Configured() bool {
	return g.URL != "" && g.ShopID != "" && g.SecretKey != "" && g.ReturnURL != ""
}
