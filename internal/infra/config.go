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

// Config: корневая структура конфигурации сервиса фида.
type Config struct {
	Server   ServerConfig   `mapstructure:"server"`
	Metrics  MetricsConfig  `mapstructure:"metrics"`
	GRPC     GRPCConfig     `mapstructure:"grpc"`
	Feed     FeedConfig     `mapstructure:"feed"`
	Cache    CacheConfig    `mapstructure:"cache"`
	Store    StoreConfig    `mapstructure:"store"`
	Redis    RedisConfig    `mapstructure:"redis"`
	Database DatabaseConfig `mapstructure:"database"`
	DynamoDB DynamoDBConfig `mapstructure:"dynamodb"`
	Auth     AuthConfig     `mapstructure:"auth"`
	Logger   LoggerConfig   `mapstructure:"logger"`
}

// ServerConfig описывает настройки HTTP-сервера.
type ServerConfig struct {
	Host            string        `mapstructure:"host"`
	Port            int           `mapstructure:"port"`
	ReadTimeout     time.Duration `mapstructure:"read_timeout"`
	WriteTimeout    time.Duration `mapstructure:"write_timeout"`
	ShutdownTimeout time.Duration `mapstructure:"shutdown_timeout"`
	MaxIngestBytes  int64         `mapstructure:"max_ingest_bytes"`
}

// Addr возвращает адрес для http.Server.
func (s ServerConfig) Addr() string {
	return fmt.Sprintf("%s:%d", s.Host, s.Port)
}

type MetricsConfig struct {
	Addr string `mapstructure:"addr"`
}

// GRPCConfig: адрес gRPC health-сервиса. Пустой адрес отключает его.
type GRPCConfig struct {
	Addr string `mapstructure:"addr"`
}

// FeedConfig: параметры фида: ключ снапшота и окно свежести T.
type FeedConfig struct {
	Key             string        `mapstructure:"key"`
	TTL             time.Duration `mapstructure:"ttl"`
	PopulateBuffer  int           `mapstructure:"populate_buffer"`
	PopulateTimeout time.Duration `mapstructure:"populate_timeout"`
}

// CacheConfig выбирает реализацию для каждого уровня кэша.
type CacheConfig struct {
	Regional CacheTierConfig `mapstructure:"regional"`
	Response CacheTierConfig `mapstructure:"response"`
}

type CacheTierConfig struct {
	Driver          string        `mapstructure:"driver"` // memory, redis
	JanitorInterval time.Duration `mapstructure:"janitor_interval"`
}

// StoreConfig описывает хранилище снапшота и защиту от его перегрузки.
type StoreConfig struct {
	Driver string `mapstructure:"driver"` // memory, redis, postgres, dynamodb, none

	// Лимит чтений из медленного KV (запросов в секунду)
	ReadRPS   float64 `mapstructure:"read_rps"`
	ReadBurst int     `mapstructure:"read_burst"`

	// Настройки Circuit Breaker
	CBMaxRequests uint32        `mapstructure:"cb_max_requests"`
	CBInterval    time.Duration `mapstructure:"cb_interval"`
	CBTimeout     time.Duration `mapstructure:"cb_timeout"`
	CBMaxFailures uint32        `mapstructure:"cb_max_failures"`

	OpTimeout       time.Duration `mapstructure:"op_timeout"`
	ConnectAttempts uint          `mapstructure:"connect_attempts"`
}

// RedisConfig описывает подключение к Redis (хранилище и кэш).
type RedisConfig struct {
	Addr     string `mapstructure:"addr"`
	Password string `mapstructure:"password"`
	DB       int    `mapstructure:"db"`
}

// DatabaseConfig описывает подключение к PostgreSQL.
type DatabaseConfig struct {
	URL      string `mapstructure:"url"`
	MaxConns int32  `mapstructure:"max_conns"`
	MinConns int32  `mapstructure:"min_conns"`
}

type DynamoDBConfig struct {
	Table    string `mapstructure:"table"`
	Region   string `mapstructure:"region"`
	Endpoint string `mapstructure:"endpoint"` // для локального DynamoDB
}

// AuthConfig настраивает проверку права на запись в /api/ingest.
type AuthConfig struct {
	Mode          string `mapstructure:"mode"`       // open, token, jwt
	TokenHash     string `mapstructure:"token_hash"` // bcrypt-хэш токена продюсера
	PublicKeyPath string `mapstructure:"public_key_path"`
	Scope         string `mapstructure:"scope"`
	PublicKey     []byte
}

// LoggerConfig настраивает поведение zap логгера.
type LoggerConfig struct {
	Level  string `mapstructure:"level"`  // debug, info, warn, error
	Format string `mapstructure:"format"` // json, console
}

// LoadConfig инициализирует конфигурацию, объединяя значения из файла и ENV.
func LoadConfig() (*Config, error) {
	// .env удобен локально, в контейнере его нет
	_ = godotenv.Load(".env")

	v := viper.New()

	v.SetConfigName("config")
	v.SetConfigType("yaml")
	v.AddConfigPath(".")
	v.AddConfigPath("./configs")

	// FEED_TTL=30s перекроет feed.ttl
	v.AutomaticEnv()
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))

	setDefaults(v)

	if err := v.ReadInConfig(); err != nil {
		var configFileNotFoundError viper.ConfigFileNotFoundError
		if !errors.As(err, &configFileNotFoundError) {
			return nil, fmt.Errorf("error reading config file: %w", err)
		}
		// Если файла нет, работаем на ENV и дефолтах
	}

	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return nil, fmt.Errorf("unable to decode into struct: %w", err)
	}

	if err := cfg.Validate(); err != nil {
		return nil, err
	}

	cfg.Auth.PublicKey = loadKeyResource(cfg.Auth.PublicKeyPath, "AUTH_PUBLIC_KEY_DATA")

	return &cfg, nil
}

// Validate отсекает конфигурации, с которыми сервис не сможет корректно кэшировать.
func (c *Config) Validate() error {
	if c.Feed.TTL <= 0 {
		return fmt.Errorf("config: feed.ttl must be positive, got %s", c.Feed.TTL)
	}
	if c.Feed.Key == "" {
		return errors.New("config: feed.key is required")
	}
	switch c.Store.Driver {
	case "memory", "redis", "postgres", "dynamodb", "none":
	default:
		return fmt.Errorf("config: unknown store.driver %q", c.Store.Driver)
	}
	for name, tier := range map[string]CacheTierConfig{"regional": c.Cache.Regional, "response": c.Cache.Response} {
		if tier.Driver != "memory" && tier.Driver != "redis" {
			return fmt.Errorf("config: unknown cache.%s.driver %q", name, tier.Driver)
		}
	}
	return nil
}

func setDefaults(v *viper.Viper) {
	v.SetDefault("server.port", 8080)
	v.SetDefault("server.read_timeout", 5*time.Second)
	v.SetDefault("server.write_timeout", 10*time.Second)
	v.SetDefault("server.shutdown_timeout", 5*time.Second)
	v.SetDefault("server.max_ingest_bytes", 1<<20)
	v.SetDefault("metrics.addr", ":9090")
	v.SetDefault("grpc.addr", ":50052")

	v.SetDefault("feed.key", "current_feed")
	v.SetDefault("feed.ttl", 60*time.Second)
	v.SetDefault("feed.populate_buffer", 256)
	v.SetDefault("feed.populate_timeout", 2*time.Second)

	v.SetDefault("cache.regional.driver", "memory")
	v.SetDefault("cache.regional.janitor_interval", time.Minute)
	v.SetDefault("cache.response.driver", "memory")
	v.SetDefault("cache.response.janitor_interval", time.Minute)

	v.SetDefault("store.driver", "memory")
	v.SetDefault("store.read_rps", 50)
	v.SetDefault("store.read_burst", 10)
	v.SetDefault("store.cb_max_requests", 3)
	v.SetDefault("store.cb_interval", 5*time.Second)
	v.SetDefault("store.cb_timeout", 30*time.Second)
	v.SetDefault("store.cb_max_failures", 5)
	v.SetDefault("store.op_timeout", 3*time.Second)
	v.SetDefault("store.connect_attempts", 5)

	// Пустые дефолты нужны, чтобы Unmarshal увидел ключи из ENV
	v.SetDefault("server.host", "")
	v.SetDefault("redis.password", "")
	v.SetDefault("redis.db", 0)
	v.SetDefault("database.url", "")
	v.SetDefault("dynamodb.endpoint", "")
	v.SetDefault("auth.token_hash", "")
	v.SetDefault("auth.public_key_path", "")

	v.SetDefault("redis.addr", "localhost:6379")
	v.SetDefault("database.max_conns", 15)
	v.SetDefault("database.min_conns", 2)
	v.SetDefault("dynamodb.table", "threat_feed")
	v.SetDefault("dynamodb.region", "us-east-1")

	v.SetDefault("auth.mode", "open")
	v.SetDefault("auth.scope", "feed.ingest")

	v.SetDefault("logger.level", "info")
	v.SetDefault("logger.format", "json")
}

// loadKeyResource берет PEM из ENV (Docker/K8s), иначе читает файл по пути из конфига.
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
