// Package config loads the service configuration from YAML.
package config

import (
	"bytes"
	"errors"
	"fmt"
	"io"
	"io/fs"
	"os"
	"time"

	"gopkg.in/yaml.v3"
)

// Config is the whole service configuration.
type Config struct {
	Server    ServerConfig    `yaml:"server"`
	Storage   StorageConfig   `yaml:"storage"`
	Database  DatabaseConfig  `yaml:"database"`
	RabbitMQ  RabbitMQConfig  `yaml:"rabbitmq"`
	Broadcast BroadcastConfig `yaml:"broadcast"`
	Logging   LoggingConfig   `yaml:"logging"`
}

type ServerConfig struct {
	Addr            string        `yaml:"addr"`
	ShutdownTimeout time.Duration `yaml:"shutdown_timeout"`
	PingInterval    time.Duration `yaml:"ping_interval"`
}

const (
	BackendMemory   = "memory"
	BackendPostgres = "postgres"
	BackendPebble   = "pebble"
)

type StorageConfig struct {
	Backend   string `yaml:"backend"`
	PebbleDir string `yaml:"pebble_dir"`
}

type DatabaseConfig struct {
	Host     string `yaml:"host"`
	Port     int    `yaml:"port"`
	User     string `yaml:"user"`
	Password string `yaml:"password"`
	Database string `yaml:"database"`
	SSLMode  string `yaml:"sslmode"`
	MaxConns int    `yaml:"max_conns"`
}

// DSN is the keyword/value connection string the pgx driver accepts.
func (d DatabaseConfig) DSN() string {
	return fmt.Sprintf("host=%s port=%d user=%s password=%s dbname=%s sslmode=%s",
		d.Host, d.Port, d.User, d.Password, d.Database, d.SSLMode)
}

type RabbitMQConfig struct {
	Enabled  bool   `yaml:"enabled"`
	Host     string `yaml:"host"`
	Port     int    `yaml:"port"`
	User     string `yaml:"user"`
	Password string `yaml:"password"`
	VHost    string `yaml:"vhost"`
	UseTLS   bool   `yaml:"tls"`
	Exchange string `yaml:"exchange"`
}

type BroadcastConfig struct {
	SubscriberBuffer int `yaml:"subscriber_buffer"`
}

type LoggingConfig struct {
	Level       string `yaml:"level"`
	Development bool   `yaml:"development"`
}

func Default() Config {
	return Config{
		Server: ServerConfig{
			Addr:            ":3000",
			ShutdownTimeout: 5 * time.Second,
			PingInterval:    30 * time.Second,
		},
		Storage: StorageConfig{Backend: BackendPostgres, PebbleDir: "data/orders"},
		Database: DatabaseConfig{
			Host:     "localhost",
			Port:     5432,
			User:     "restaurant_user",
			Database: "restaurant_db",
			SSLMode:  "disable",
			MaxConns: 20,
		},
		RabbitMQ: RabbitMQConfig{
			Host:     "localhost",
			Port:     5672,
			User:     "guest",
			VHost:    "/",
			Exchange: "order_events_fanout",
		},
		Broadcast: BroadcastConfig{SubscriberBuffer: 64},
		Logging:   LoggingConfig{Level: "info"},
	}
}

// LoadConfig reads path over the defaults, then applies environment overrides.
func LoadConfig(path string) (*Config, error) {
	b, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("couldn't open the configuration file: %w", err)
	}
	return Parse(b)
}

func Parse(b []byte) (*Config, error) {
	cfg := Default()
	dec := yaml.NewDecoder(bytes.NewReader(b))
	dec.KnownFields(true)
	if err := dec.Decode(&cfg); err != nil && !errors.Is(err, io.EOF) {
		return nil, fmt.Errorf("parse config: %w", err)
	}
	cfg.applyEnv()
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return &cfg, nil
}

func (c *Config) applyEnv() {
	if v := os.Getenv("ORDERS_DB_PASSWORD"); v != "" {
		c.Database.Password = v
	}
	if v := os.Getenv("ORDERS_RABBITMQ_PASSWORD"); v != "" {
		c.RabbitMQ.Password = v
	}
	if v := os.Getenv("ORDERS_STORAGE_BACKEND"); v != "" {
		c.Storage.Backend = v
	}
}

func (c *Config) Validate() error {
	var errs []error
	if c.Server.Addr == "" {
		errs = append(errs, errors.New("server.addr is required"))
	}
	switch c.Storage.Backend {
	case BackendMemory:
	case BackendPebble:
		if c.Storage.PebbleDir == "" {
			errs = append(errs, errors.New("storage.pebble_dir is required for the pebble backend"))
		}
	case BackendPostgres:
		if c.Database.Host == "" || c.Database.Database == "" {
			errs = append(errs, errors.New("database.host and database.database are required for the postgres backend"))
		}
	default:
		errs = append(errs, fmt.Errorf("storage.backend %q is not one of memory, pebble, postgres", c.Storage.Backend))
	}
	if c.RabbitMQ.Enabled && (c.RabbitMQ.Host == "" || c.RabbitMQ.Exchange == "") {
		errs = append(errs, errors.New("rabbitmq.host and rabbitmq.exchange are required when rabbitmq is enabled"))
	}
	if c.Broadcast.SubscriberBuffer < 1 {
		errs = append(errs, errors.New("broadcast.subscriber_buffer must be positive"))
	}
	if err := errors.Join(errs...); err != nil {
		return fmt.Errorf("invalid config: %w", err)
	}
	return nil
}

func FindConfig() (string, error) {
	candidates := []string{"config.yaml", "deploy/config.example.yaml"}
	for _, p := range candidates {
		if _, err := os.Stat(p); err == nil {
			return p, nil
		}
	}
	return "", fs.ErrNotExist
}
