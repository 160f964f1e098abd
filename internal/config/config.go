package config

import (
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/shopspring/decimal"
	"gopkg.in/yaml.v3"
)

// Trigger sources a reading can arrive through
const (
	SourceKafka = "kafka"
	SourceMQTT  = "mqtt"
	SourceHTTP  = "http"
)

// Config holds all application configuration
type Config struct {
	Kafka    KafkaConfig    `yaml:"kafka"`
	MQTT     MQTTConfig     `yaml:"mqtt"`
	InfluxDB InfluxDBConfig `yaml:"influxdb"`
	Store    StoreConfig    `yaml:"store"`
	Engine   EngineConfig   `yaml:"engine"`
	HTTP     HTTPConfig     `yaml:"http"`
	Triggers []string       `yaml:"triggers"`
	LogLevel string         `yaml:"logLevel"`
}

// KafkaConfig holds Kafka-related configuration
type KafkaConfig struct {
	Brokers       []string `yaml:"brokers"`
	Topic         string   `yaml:"topic"`
	GroupID       string   `yaml:"groupId"`
	ConsumerCount int      `yaml:"consumerCount"`
}

// MQTTConfig holds MQTT-related configuration
type MQTTConfig struct {
	Broker   string `yaml:"broker"`
	Topic    string `yaml:"topic"`
	ClientID string `yaml:"clientId"`
	QoS      int    `yaml:"qos"`
}

// InfluxDBConfig holds InfluxDB-related configuration
type InfluxDBConfig struct {
	Enabled bool   `yaml:"enabled"`
	URL     string `yaml:"url"`
	Org     string `yaml:"org"`
	Token   string `yaml:"token"`
	Bucket  string `yaml:"bucket"`
}

// StoreConfig holds the summary store location
type StoreConfig struct {
	Path string `yaml:"path"`
}

// EngineConfig holds the electrical constants used to classify readings
type EngineConfig struct {
	Volts          decimal.Decimal `yaml:"volts"`
	ThresholdUsing decimal.Decimal `yaml:"thresholdUsing"`
	ThresholdOn    decimal.Decimal `yaml:"thresholdOn"`
}

// HTTPConfig holds the API listener configuration
type HTTPConfig struct {
	Addr            string        `yaml:"addr"`
	ShutdownTimeout time.Duration `yaml:"shutdownTimeout"`
}

// Defaults returns the configuration used when neither a file nor the environment set a value
func Defaults() *Config {
	return &Config{
		Kafka: KafkaConfig{
			Brokers:       []string{"localhost:9092"},
			Topic:         "feather-readings",
			GroupID:       "laser-usage-monitor",
			ConsumerCount: 1,
		},
		MQTT: MQTTConfig{
			Broker:   "tcp://localhost:1883",
			Topic:    "feather/+/up",
			ClientID: "laser-usage-monitor",
			QoS:      1,
		},
		InfluxDB: InfluxDBConfig{
			Enabled: false,
			URL:     "http://localhost:8086",
			Org:     "makerspace",
			Bucket:  "machine-usage",
		},
		Store: StoreConfig{
			Path: "data/usage.db",
		},
		Engine: EngineConfig{
			Volts:          decimal.NewFromInt(240),
			ThresholdUsing: decimal.NewFromInt(5),
			ThresholdOn:    decimal.NewFromInt(1),
		},
		HTTP: HTTPConfig{
			Addr:            ":8080",
			ShutdownTimeout: 30 * time.Second,
		},
		Triggers: []string{SourceKafka, SourceHTTP},
		LogLevel: "info",
	}
}

// Load builds the configuration from defaults, then the YAML file named by
// CONFIG_FILE (if any), then environment variables.
func Load() (*Config, error) {
	cfg := Defaults()

	if path := getEnv("CONFIG_FILE", ""); path != "" {
		if err := loadFile(path, cfg); err != nil {
			return nil, err
		}
	}

	cfg.Kafka.Brokers = getEnvStringSlice("KAFKA_BROKERS", cfg.Kafka.Brokers)
	cfg.Kafka.Topic = getEnv("KAFKA_TOPIC", cfg.Kafka.Topic)
	cfg.Kafka.GroupID = getEnv("KAFKA_GROUP_ID", cfg.Kafka.GroupID)
	cfg.Kafka.ConsumerCount = getEnvInt("KAFKA_CONSUMER_COUNT", cfg.Kafka.ConsumerCount)

	cfg.MQTT.Broker = getEnv("MQTT_BROKER", cfg.MQTT.Broker)
	cfg.MQTT.Topic = getEnv("MQTT_TOPIC", cfg.MQTT.Topic)
	cfg.MQTT.ClientID = getEnv("MQTT_CLIENT_ID", cfg.MQTT.ClientID)
	cfg.MQTT.QoS = getEnvInt("MQTT_QOS", cfg.MQTT.QoS)

	cfg.InfluxDB.Enabled = getEnvBool("INFLUXDB_ENABLED", cfg.InfluxDB.Enabled)
	cfg.InfluxDB.URL = getEnv("INFLUXDB_URL", cfg.InfluxDB.URL)
	cfg.InfluxDB.Org = getEnv("INFLUXDB_ORG", cfg.InfluxDB.Org)
	cfg.InfluxDB.Token = getEnv("INFLUX_TOKEN", cfg.InfluxDB.Token)
	cfg.InfluxDB.Bucket = getEnv("INFLUXDB_BUCKET", cfg.InfluxDB.Bucket)

	cfg.Store.Path = getEnv("STORE_PATH", cfg.Store.Path)

	cfg.Engine.Volts = getEnvDecimal("VOLTS", cfg.Engine.Volts)
	cfg.Engine.ThresholdUsing = getEnvDecimal("THRESHOLD_USING", cfg.Engine.ThresholdUsing)
	cfg.Engine.ThresholdOn = getEnvDecimal("THRESHOLD_ON", cfg.Engine.ThresholdOn)

	cfg.HTTP.Addr = getEnv("HTTP_ADDR", cfg.HTTP.Addr)
	cfg.HTTP.ShutdownTimeout = getEnvDuration("HTTP_SHUTDOWN_TIMEOUT", cfg.HTTP.ShutdownTimeout)

	cfg.Triggers = getEnvStringSlice("TRIGGER_SOURCES", cfg.Triggers)
	cfg.LogLevel = getEnv("LOG_LEVEL", cfg.LogLevel)

	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

// Validate checks values that would make the service misbehave rather than fail fast
func (c *Config) Validate() error {
	if !c.Engine.Volts.IsPositive() {
		return fmt.Errorf("volts must be positive, got %s", c.Engine.Volts)
	}
	if c.Engine.ThresholdOn.IsNegative() {
		return fmt.Errorf("on threshold must not be negative, got %s", c.Engine.ThresholdOn)
	}
	if !c.Engine.ThresholdUsing.GreaterThan(c.Engine.ThresholdOn) {
		return fmt.Errorf("using threshold %s must be greater than on threshold %s",
			c.Engine.ThresholdUsing, c.Engine.ThresholdOn)
	}
	for _, t := range c.Triggers {
		switch t {
		case SourceKafka, SourceMQTT, SourceHTTP:
		default:
			return fmt.Errorf("unknown trigger source %q", t)
		}
	}
	if c.Store.Path == "" {
		return fmt.Errorf("store path must be set")
	}
	return nil
}

// TriggerEnabled reports whether source is listed in Triggers
func (c *Config) TriggerEnabled(source string) bool {
	for _, t := range c.Triggers {
		if t == source {
			return true
		}
	}
	return false
}

func loadFile(path string, cfg *Config) error {
	data, err := os.ReadFile(path)
	if err != nil {
		return fmt.Errorf("read config file: %w", err)
	}
	if err := yaml.Unmarshal(data, cfg); err != nil {
		return fmt.Errorf("parse config file %s: %w", path, err)
	}
	return nil
}

// Helper functions to get environment variables with defaults
func getEnv(key, defaultValue string) string {
	if value, exists := os.LookupEnv(key); exists {
		return value
	}
	return defaultValue
}

func getEnvInt(key string, defaultValue int) int {
	if value, exists := os.LookupEnv(key); exists {
		if intValue, err := strconv.Atoi(value); err == nil {
			return intValue
		}
	}
	return defaultValue
}

func getEnvBool(key string, defaultValue bool) bool {
	if value, exists := os.LookupEnv(key); exists {
		if boolValue, err := strconv.ParseBool(value); err == nil {
			return boolValue
		}
	}
	return defaultValue
}

func getEnvDuration(key string, defaultValue time.Duration) time.Duration {
	if value, exists := os.LookupEnv(key); exists {
		if duration, err := time.ParseDuration(value); err == nil {
			return duration
		}
	}
	return defaultValue
}

func getEnvDecimal(key string, defaultValue decimal.Decimal) decimal.Decimal {
	if value, exists := os.LookupEnv(key); exists {
		if d, err := decimal.NewFromString(strings.TrimSpace(value)); err == nil {
			return d
		}
	}
	return defaultValue
}

func getEnvStringSlice(key string, defaultValue []string) []string {
	if value, exists := os.LookupEnv(key); exists {
		parts := strings.Split(value, ",")
		out := make([]string, 0, len(parts))
		for _, p := range parts {
			if p = strings.TrimSpace(p); p != "" {
				out = append(out, p)
			}
		}
		return out
	}
	return defaultValue
}
