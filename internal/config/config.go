package config

import (
	"errors"
	"fmt"
	"net/url"
	"os"
	"strings"
	"time"

	"github.com/spf13/viper"
)

type Config struct {
	Env       string          `mapstructure:"env"`
	Server    ServerConfig    `mapstructure:"server"`
	GRPC      GRPCConfig      `mapstructure:"grpc"`
	Database  DatabaseConfig  `mapstructure:"database"`
	Auth      AuthConfig      `mapstructure:"auth"`
	Devices   DeviceConfig    `mapstructure:"devices"`
	Storage   StorageConfig   `mapstructure:"storage"`
	Events    EventsConfig    `mapstructure:"events"`
	NATS      NATSConfig      `mapstructure:"nats"`
	Kafka     KafkaConfig     `mapstructure:"kafka"`
	Redis     RedisConfig     `mapstructure:"redis"`
	RateLimit RateLimitConfig `mapstructure:"rate_limit"`
	Metrics   MetricsConfig   `mapstructure:"metrics"`
	Admin     AdminConfig     `mapstructure:"admin"`
}

type ServerConfig struct {
	Port           string   `mapstructure:"port"`
	ReadTimeout    int      `mapstructure:"read_timeout_seconds"`
	WriteTimeout   int      `mapstructure:"write_timeout_seconds"`
	IdleTimeout    int      `mapstructure:"idle_timeout_seconds"`
	CORSOrigins    []string `mapstructure:"cors_origins"`
	MaxUploadBytes int64    `mapstructure:"max_upload_bytes"`
}

type GRPCConfig struct {
	Port string `mapstructure:"port"`
}

type DatabaseConfig struct {
	Host            string `mapstructure:"host"`
	Port            string `mapstructure:"port"`
	User            string `mapstructure:"user"`
	Password        string `mapstructure:"password"`
	DBName          string `mapstructure:"name"`
	SSLMode         string `mapstructure:"ssl_mode"`
	MaxOpenConns    int    `mapstructure:"max_open_conns"`
	MaxIdleConns    int    `mapstructure:"max_idle_conns"`
	ConnMaxLifetime int    `mapstructure:"conn_max_lifetime_seconds"`
	ConnMaxIdleTime int    `mapstructure:"conn_max_idle_time_seconds"`
}

// DSN builds a postgres connection URL; credentials are escaped.
func (d DatabaseConfig) DSN() string {
	u := url.URL{
		Scheme: "postgres",
		User:   url.UserPassword(d.User, d.Password),
		Host:   d.Host + ":" + d.Port,
		Path:   d.DBName,
	}
	q := u.Query()
	q.Set("sslmode", d.SSLMode)
	u.RawQuery = q.Encode()
	return u.String()
}

type AuthConfig struct {
	JWTSecret       string        `mapstructure:"jwt_secret"`
	StudentTokenTTL time.Duration `mapstructure:"student_token_ttl"`
	AdminTokenTTL   time.Duration `mapstructure:"admin_token_ttl"`
	TempPasswordLen int           `mapstructure:"temp_password_length"`
}

type DeviceConfig struct {
	DefaultLimit int `mapstructure:"default_limit"`
	MinLimit     int `mapstructure:"min_limit"`
	MaxLimit     int `mapstructure:"max_limit"`
}

type StorageConfig struct {
	Bucket          string        `mapstructure:"bucket"`
	Region          string        `mapstructure:"region"`
	Endpoint        string        `mapstructure:"endpoint"`
	AccessKeyID     string        `mapstructure:"access_key_id"`
	SecretAccessKey string        `mapstructure:"secret_access_key"`
	UsePathStyle    bool          `mapstructure:"use_path_style"`
	SignedURLTTL    time.Duration `mapstructure:"signed_url_ttl"`
}

type EventsConfig struct {
	// Broker is one of "nats", "kafka" or "none".
	Broker string `mapstructure:"broker"`
}

type NATSConfig struct {
	URL     string `mapstructure:"url"`
	Subject string `mapstructure:"subject"`
}

type KafkaConfig struct {
	Brokers []string `mapstructure:"brokers"`
	Topic   string   `mapstructure:"topic"`
}

type RedisConfig struct {
	Addr     string `mapstructure:"addr"`
	Password string `mapstructure:"password"`
	DB       int    `mapstructure:"db"`
}

type RateLimitConfig struct {
	LoginLimit  int           `mapstructure:"login_limit"`
	LoginWindow time.Duration `mapstructure:"login_window"`
}

type MetricsConfig struct {
	Exporter     string `mapstructure:"exporter"`
	OTLPEndpoint string `mapstructure:"otlp_endpoint"`
}

type AdminConfig struct {
	SeedEmail    string `mapstructure:"seed_email"`
	SeedPassword string `mapstructure:"seed_password"`
}

func setDefaults(v *viper.Viper) {
	v.SetDefault("env", "local")
	v.SetDefault("server.port", "8080")
	v.SetDefault("server.read_timeout_seconds", 15)
	v.SetDefault("server.write_timeout_seconds", 60)
	v.SetDefault("server.idle_timeout_seconds", 60)
	v.SetDefault("server.cors_origins", []string{"*"})
	v.SetDefault("server.max_upload_bytes", 50<<20)
	v.SetDefault("grpc.port", "9090")

	v.SetDefault("database.host", "localhost")
	v.SetDefault("database.port", "5432")
	v.SetDefault("database.name", "resources")
	v.SetDefault("database.ssl_mode", "disable")

	v.SetDefault("auth.student_token_ttl", "8h")
	v.SetDefault("auth.admin_token_ttl", "8h")
	v.SetDefault("auth.temp_password_length", 12)

	v.SetDefault("devices.default_limit", 2)
	v.SetDefault("devices.min_limit", 1)
	v.SetDefault("devices.max_limit", 5)

	v.SetDefault("storage.region", "us-east-1")
	v.SetDefault("storage.signed_url_ttl", "300s")

	v.SetDefault("events.broker", "nats")
	v.SetDefault("nats.subject", "resources.events")
	v.SetDefault("kafka.topic", "resources.events")

	v.SetDefault("rate_limit.login_limit", 10)
	v.SetDefault("rate_limit.login_window", "1m")

	v.SetDefault("metrics.exporter", "none")
	v.SetDefault("metrics.otlp_endpoint", "otel-collector.infra.svc.cluster.local:4317")
}

func Load() (*Config, error) {
	// Get environment from ENV, default to "local"
	env := os.Getenv("ENV")
	if env == "" {
		env = "local"
	}

	v := viper.New()
	v.SetConfigName(fmt.Sprintf("config.%s", env))
	v.SetConfigType("yaml")
	v.AddConfigPath("/configs")   // Kubernetes mount
	v.AddConfigPath("./configs")  // repo root
	v.AddConfigPath("../configs") // IDE from cmd/

	if err := v.ReadInConfig(); err != nil {
		var notFound viper.ConfigFileNotFoundError
		if !errors.As(err, &notFound) {
			return nil, fmt.Errorf("failed to read config: %w", err)
		}
		// Config file is optional - continue with ENV variables
	}

	return load(v)
}

func load(v *viper.Viper) (*Config, error) {
	setDefaults(v)

	// Environment variables take precedence over the config file
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	v.BindEnv("database.user", "DB_USER")
	v.BindEnv("database.password", "DB_PASSWORD")
	v.BindEnv("auth.jwt_secret", "JWT_SECRET")
	v.BindEnv("storage.bucket", "AWS_BUCKET_NAME")
	v.BindEnv("storage.region", "AWS_REGION")
	v.BindEnv("storage.access_key_id", "AWS_ACCESS_KEY_ID")
	v.BindEnv("storage.secret_access_key", "AWS_SECRET_ACCESS_KEY")
	v.BindEnv("redis.password", "REDIS_PASSWORD")

	var config Config
	if err := v.Unmarshal(&config); err != nil {
		return nil, fmt.Errorf("failed to unmarshal config: %w", err)
	}

	if err := config.Validate(); err != nil {
		return nil, err
	}

	return &config, nil
}

const minSecretLength = 32

func (c *Config) Validate() error {
	var errs []error

	if len(c.Auth.JWTSecret) < minSecretLength {
		errs = append(errs, fmt.Errorf("auth.jwt_secret must be at least %d bytes", minSecretLength))
	}
	if c.Auth.StudentTokenTTL <= 0 || c.Auth.AdminTokenTTL <= 0 {
		errs = append(errs, errors.New("auth token ttl must be positive"))
	}
	if c.Auth.TempPasswordLen < 8 {
		errs = append(errs, errors.New("auth.temp_password_length must be at least 8"))
	}
	if c.Storage.Bucket == "" {
		errs = append(errs, errors.New("storage.bucket is required"))
	}
	if c.Storage.SignedURLTTL <= 0 {
		errs = append(errs, errors.New("storage.signed_url_ttl must be positive"))
	}
	if c.Devices.MinLimit < 1 || c.Devices.MaxLimit < c.Devices.MinLimit {
		errs = append(errs, fmt.Errorf("invalid device limit bounds %d..%d", c.Devices.MinLimit, c.Devices.MaxLimit))
	} else if c.Devices.DefaultLimit < c.Devices.MinLimit || c.Devices.DefaultLimit > c.Devices.MaxLimit {
		errs = append(errs, fmt.Errorf("devices.default_limit %d outside %d..%d", c.Devices.DefaultLimit, c.Devices.MinLimit, c.Devices.MaxLimit))
	}
	switch c.Events.Broker {
	case "nats", "kafka", "none":
	default:
		errs = append(errs, fmt.Errorf("unknown events.broker %q", c.Events.Broker))
	}
	if c.Events.Broker == "kafka" && len(c.Kafka.Brokers) == 0 {
		errs = append(errs, errors.New("kafka.brokers is required when events.broker is kafka"))
	}

	return errors.Join(errs...)
}
