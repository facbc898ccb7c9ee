package config

import (
	"log"
	"os"
	"time"

	"github.com/ilyakaznacheev/cleanenv"
)

const defaultConfigPath = "./config/config.yaml"

type Config struct {
	Env        string `yaml:"env" env:"ENV" env-default:"local"`
	JWTSecret  string `yaml:"jwt_secret" env:"JWT_SECRET" env-required:"true"`
	Catalog    `yaml:"catalog"`
	Search     `yaml:"search"`
	Shopify    `yaml:"shopify"`
	Storage    `yaml:"storage"`
	Postgres   `yaml:"postgres"`
	SQLite     `yaml:"sqlite"`
	Redis      `yaml:"redis"`
	RabbitMQ   `yaml:"rabbitmq"`
	RateLimit  `yaml:"rate_limit"`
	Dedup      `yaml:"dedup"`
	HTTPServer `yaml:"http_server"`
}

type Catalog struct {
	SyncInterval time.Duration `yaml:"sync_interval" env-default:"30m"`
	StaleAfter   time.Duration `yaml:"stale_after" env-default:"30m"`
	PageSize     int           `yaml:"page_size" env-default:"50"`
}

type Search struct {
	StrictPrice bool `yaml:"strict_price" env-default:"false"`
}

type Shopify struct {
	ShopDomain   string        `yaml:"shop_domain" env:"SHOPIFY_SHOP_DOMAIN" env-required:"true"`
	AccessToken  string        `yaml:"access_token" env:"SHOPIFY_ADMIN_API_TOKEN" env-required:"true"`
	APIVersion   string        `yaml:"api_version" env-default:"2024-10"`
	Timeout      time.Duration `yaml:"timeout" env-default:"30s"`
	OrderTimeout time.Duration `yaml:"order_timeout" env-default:"10s"`
	RPS          float64       `yaml:"rps" env-default:"2"`
}

type Storage struct {
	Driver string `yaml:"driver" env:"STORAGE_DRIVER" env-default:"postgres"`
}

type Postgres struct {
	Host     string `yaml:"host" env-default:"postgres"`
	Port     int    `yaml:"port" env-default:"5432"`
	User     string `yaml:"user" env:"POSTGRES_USER"`
	Password string `yaml:"password" env:"POSTGRES_PASSWORD"`
	DBName   string `yaml:"dbname" env:"POSTGRES_DB"`
	SSLMode  string `yaml:"sslmode" env-default:"disable"`
}

type SQLite struct {
	Path string `yaml:"path" env-default:"glamstore.db"`
}

type Redis struct {
	Enabled  bool          `yaml:"enabled" env-default:"false"`
	Addr     string        `yaml:"addr" env-default:"redis:6379"`
	Db       int           `yaml:"db" env-default:"1"`
	LeaseTTL time.Duration `yaml:"lease_ttl" env-default:"10m"`
}

type RabbitMQ struct {
	Enabled        bool   `yaml:"enabled" env-default:"false"`
	URL            string `yaml:"url" env:"RABBITMQ_URL"`
	SyncQueue      string `yaml:"sync_queue" env-default:"catalog_sync_requests"`
	EventsQueue    string `yaml:"events_queue" env-default:"catalog_events"`
	WorkerPoolSize int    `yaml:"worker_pool_size" env-default:"4"`
}

type RateLimit struct {
	Capacity int           `yaml:"capacity" env-default:"10"`
	Refill   int           `yaml:"refill" env-default:"2"`
	Interval time.Duration `yaml:"interval" env-default:"5s"`
	IdleTTL  time.Duration `yaml:"idle_ttl" env-default:"1h"`
	Shared   bool          `yaml:"shared" env-default:"false"`
}

type Dedup struct {
	Retention     time.Duration `yaml:"retention" env-default:"168h"`
	PruneInterval time.Duration `yaml:"prune_interval" env-default:"1h"`
}

type HTTPServer struct {
	Address     string        `yaml:"address" env-default:"localhost:8080"`
	Timeout     time.Duration `yaml:"timeout" env-default:"4s"`
	IdleTimeout time.Duration `yaml:"idle_timeout" env-default:"60s"`
}

// * MustLoad читает конфиг из CONFIG_PATH (или ./config/config.yaml) и
// завершает процесс, если он отсутствует или невалиден
func MustLoad() *Config {
	configPath := os.Getenv("CONFIG_PATH")
	if configPath == "" {
		configPath = defaultConfigPath
	}

	cfg, err := Load(configPath)
	if err != nil {
		log.Fatalf("cannot read config %s: %s", configPath, err)
	}

	return cfg
}

func Load(configPath string) (*Config, error) {
	if _, err := os.Stat(configPath); err != nil {
		return nil, err
	}

	var cfg Config

	if err := cleanenv.ReadConfig(configPath, &cfg); err != nil {
		return nil, err
	}

	return &cfg, nil
}
