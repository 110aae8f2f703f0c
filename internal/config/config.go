package config

import (
	"errors"
	"fmt"
	"os"
	"strings"
	"time"

	"github.com/spf13/viper"
)

type App struct {
	Env                    string `mapstructure:"env"`
	Port                   int    `mapstructure:"port"`
	ShutdownTimeoutSeconds int    `mapstructure:"shutdown_timeout_seconds"`
	RateLimitPerMin        int    `mapstructure:"rate_limit_per_min"`

	// InstanceID must be stable across restarts and unique per instance; it
	// keys the relay consumer group and echo suppression. Defaults to the
	// hostname.
	InstanceID string `mapstructure:"instance_id"`
}

func (a App) PortString() string { return fmt.Sprintf("%d", a.Port) }

type Mongo struct {
	URI string `mapstructure:"uri"`
	DB  string `mapstructure:"db"`
}

type Redis struct {
	Addr     string `mapstructure:"addr"`
	Password string `mapstructure:"password"`
	DB       int    `mapstructure:"db"`
	Prefix   string `mapstructure:"prefix"`
}

type Kafka struct {
	Brokers    []string `mapstructure:"brokers"`
	RelayTopic string   `mapstructure:"relay_topic"`
	GroupID    string   `mapstructure:"group_id"`
}

type NATS struct {
	URL string `mapstructure:"url"`
}

type JWT struct {
	Alg           string `mapstructure:"alg"`
	HSSecret      string `mapstructure:"hs_secret"`
	PublicKeyPath string `mapstructure:"public_key_path"`
}

type Delivery struct {
	Workers   int `mapstructure:"workers"`
	QueueSize int `mapstructure:"queue_size"`
}

type Config struct {
	App      App      `mapstructure:"app"`
	Mongo    Mongo    `mapstructure:"mongo"`
	Redis    Redis    `mapstructure:"redis"`
	Kafka    Kafka    `mapstructure:"kafka"`
	NATS     NATS     `mapstructure:"nats"`
	JWT      JWT      `mapstructure:"jwt"`
	Delivery Delivery `mapstructure:"delivery"`

	// Derived
	ShutdownTimeout time.Duration
}

// Load reads the yaml file at path; any key can be overridden through the
// environment, e.g. APP_MONGO_URI, APP_APP_PORT, APP_KAFKA_BROKERS.
func Load(path string) (*Config, error) {
	v := viper.New()
	v.SetConfigFile(path)
	v.SetEnvPrefix("APP")
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	if err := v.ReadInConfig(); err != nil {
		return nil, err
	}
	cfg := &Config{}
	if err := v.Unmarshal(cfg); err != nil {
		return nil, err
	}
	applyDefaults(cfg)
	if err := validate(cfg); err != nil {
		return nil, err
	}
	cfg.ShutdownTimeout = time.Duration(cfg.App.ShutdownTimeoutSeconds) * time.Second
	return cfg, nil
}

func applyDefaults(cfg *Config) {
	if cfg.App.ShutdownTimeoutSeconds == 0 {
		cfg.App.ShutdownTimeoutSeconds = 10
	}
	if cfg.App.RateLimitPerMin == 0 {
		cfg.App.RateLimitPerMin = 300
	}
	if cfg.Delivery.Workers == 0 {
		cfg.Delivery.Workers = 4
	}
	if cfg.Delivery.QueueSize == 0 {
		cfg.Delivery.QueueSize = 1024
	}
	if cfg.Kafka.GroupID == "" {
		cfg.Kafka.GroupID = "chat-talk"
	}
	if cfg.JWT.Alg == "" {
		cfg.JWT.Alg = "HS256"
	}
	if cfg.App.InstanceID == "" {
		if host, err := os.Hostname(); err == nil && host != "" {
			cfg.App.InstanceID = host
		} else {
			cfg.App.InstanceID = "chatd"
		}
	}
}

func validate(cfg *Config) error {
	if cfg.App.Port == 0 {
		return errors.New("app.port missing or invalid")
	}
	if cfg.Mongo.URI == "" {
		return errors.New("mongo.uri missing")
	}
	if cfg.Mongo.DB == "" {
		return errors.New("mongo.db missing")
	}
	if cfg.Redis.Addr == "" {
		return errors.New("redis.addr missing")
	}
	if len(cfg.Kafka.Brokers) == 0 {
		return errors.New("kafka.brokers missing")
	}
	if cfg.Kafka.RelayTopic == "" {
		return errors.New("kafka.relay_topic missing")
	}
	if cfg.NATS.URL == "" {
		return errors.New("nats.url missing")
	}
	switch strings.ToUpper(cfg.JWT.Alg) {
	case "RS256":
		if cfg.JWT.PublicKeyPath == "" {
			return errors.New("jwt.public_key_path required for RS256")
		}
	case "HS256":
		if cfg.JWT.HSSecret == "" {
			return errors.New("jwt.hs_secret required for HS256")
		}
	default:
		return errors.New("invalid jwt.alg (use RS256 or HS256)")
	}
	return nil
}
