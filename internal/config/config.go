package config

import (
	"fmt"
	"os"
	"time"

	"github.com/caarlos0/env/v11"
	"github.com/joho/godotenv"
	"gopkg.in/yaml.v3"
)

// Config is the server-level configuration. Values are layered: built-in
// defaults, then an optional YAML file, then environment variables.
// Per-session settings (camera locator, topic, credentials) arrive with each
// start request and are not configured here.
type Config struct {
	HTTPAddr    string `yaml:"http_addr" env:"HTTP_ADDR"`
	MetricsAddr string `yaml:"metrics_addr" env:"METRICS_ADDR"`

	EngineEndpoint      string        `yaml:"engine_endpoint" env:"ENGINE_ENDPOINT"`
	ModelPath           string        `yaml:"model_path" env:"MODEL_PATH"`
	ConfidenceThreshold float64       `yaml:"confidence_threshold" env:"CONFIDENCE_THRESHOLD"`
	DetectionInterval   time.Duration `yaml:"detection_interval" env:"DETECTION_INTERVAL"`

	NtfyBaseURL string `yaml:"ntfy_base_url" env:"NTFY_BASE_URL"`

	LogLevel string `yaml:"log_level" env:"LOG_LEVEL"`
	LogColor bool   `yaml:"log_color" env:"LOG_COLOR"`

	// Optional event sinks; each stays disabled while its address is empty
	DB        DBConfig       `yaml:"db" envPrefix:"DB_"`
	MQTT      MQTTConfig     `yaml:"mqtt" envPrefix:"MQTT_"`
	Kafka     KafkaConfig    `yaml:"kafka" envPrefix:"KAFKA_"`
	Snapshots SnapshotConfig `yaml:"snapshots" envPrefix:"SNAPSHOT_"`
}

// DBConfig configures the PostgreSQL event sink
type DBConfig struct {
	Host     string `yaml:"host" env:"HOST"`
	Port     int    `yaml:"port" env:"PORT"`
	User     string `yaml:"user" env:"USER"`
	Password string `yaml:"password" env:"PASSWORD"`
	Name     string `yaml:"name" env:"NAME"`
	SSLMode  string `yaml:"ssl_mode" env:"SSLMODE"`
}

func (c DBConfig) Enabled() bool { return c.Host != "" }

// DSN builds the PostgreSQL connection string
func (c DBConfig) DSN() string {
	return fmt.Sprintf("host=%s port=%d user=%s password=%s dbname=%s sslmode=%s",
		c.Host, c.Port, c.User, c.Password, c.Name, c.SSLMode)
}

// DSNForLog is DSN with the password masked
func (c DBConfig) DSNForLog() string {
	return fmt.Sprintf("host=%s port=%d user=%s password=*** dbname=%s sslmode=%s",
		c.Host, c.Port, c.User, c.Name, c.SSLMode)
}

// MQTTConfig configures the MQTT event sink
type MQTTConfig struct {
	Broker   string `yaml:"broker" env:"BROKER"`
	Port     int    `yaml:"port" env:"PORT"`
	Username string `yaml:"username" env:"USERNAME"`
	Password string `yaml:"password" env:"PASSWORD"`
	Topic    string `yaml:"topic" env:"TOPIC"`
}

func (c MQTTConfig) Enabled() bool { return c.Broker != "" }

// KafkaConfig configures the Kafka event sink
type KafkaConfig struct {
	Brokers []string `yaml:"brokers" env:"BROKERS" envSeparator:","`
	Topic   string   `yaml:"topic" env:"TOPIC"`
}

func (c KafkaConfig) Enabled() bool { return len(c.Brokers) > 0 }

// SnapshotConfig configures the MinIO snapshot store
type SnapshotConfig struct {
	Endpoint  string `yaml:"endpoint" env:"ENDPOINT"`
	AccessKey string `yaml:"access_key" env:"ACCESS_KEY"`
	SecretKey string `yaml:"secret_key" env:"SECRET_KEY"`
	Bucket    string `yaml:"bucket" env:"BUCKET"`
	UseSSL    bool   `yaml:"use_ssl" env:"USE_SSL"`
}

func (c SnapshotConfig) Enabled() bool { return c.Endpoint != "" }

// Default returns the built-in configuration
func Default() Config {
	return Config{
		HTTPAddr:            ":5000",
		MetricsAddr:         ":9090",
		EngineEndpoint:      "http://localhost:8081",
		ModelPath:           "yolo11m.pt",
		ConfidenceThreshold: 0.5,
		DetectionInterval:   time.Second,
		NtfyBaseURL:         "https://ntfy.sh",
		LogLevel:            "info",
		LogColor:            true,
		DB:                  DBConfig{Port: 5432, SSLMode: "disable"},
		MQTT:                MQTTConfig{Port: 1883, Topic: "vigil/detections"},
		Kafka:               KafkaConfig{Topic: "detection-events"},
		Snapshots:           SnapshotConfig{Bucket: "detections"},
	}
}

// Load builds the configuration: defaults, then the YAML file at path when
// given, then environment variables. A .env file in the working directory is
// honored when present.
func Load(path string) (*Config, error) {
	_ = godotenv.Load()

	cfg := Default()

	if path != "" {
		data, err := os.ReadFile(path)
		if err != nil {
			return nil, fmt.Errorf("read config file: %w", err)
		}
		if err := yaml.Unmarshal(data, &cfg); err != nil {
			return nil, fmt.Errorf("parse config file: %w", err)
		}
	}

	if err := env.Parse(&cfg); err != nil {
		return nil, fmt.Errorf("parse environment: %w", err)
	}

	return &cfg, nil
}
