package config

import (
	"errors"
	"fmt"
	"os"
	"strings"
	"time"

	"gateway/pkg/health"
	"gateway/pkg/retry"
	"gateway/pkg/routing"

	"github.com/spf13/viper"
)

// Broker types
const (
	BrokerKafka     = "kafka"
	BrokerRedis     = "redis"
	BrokerCockroach = "cockroach"
)

// AppConfig holds the complete configuration for the application
type AppConfig struct {
	Environment string         `mapstructure:"environment"`
	LogLevel    string         `mapstructure:"log_level"`
	ServiceName string         `mapstructure:"service_name"`
	Gateway     GatewayConfig  `mapstructure:"gateway"`
	Broker      BrokerConfig   `mapstructure:"broker"`
	Consumer    ConsumerConfig `mapstructure:"consumer"`
	Topics      []TopicConfig  `mapstructure:"topics"`
	Health      HealthConfig   `mapstructure:"health"`
}

type GatewayConfig struct {
	Name            string        `mapstructure:"name"`
	ListenAddr      string        `mapstructure:"listen_addr"`
	QueueSize       int           `mapstructure:"queue_size"`
	WriteTimeout    time.Duration `mapstructure:"write_timeout"`
	PongWait        time.Duration `mapstructure:"pong_wait"`
	MaxMessageBytes int64         `mapstructure:"max_message_bytes"`
}

type BrokerConfig struct {
	Type      string          `mapstructure:"type"`
	Kafka     KafkaConfig     `mapstructure:"kafka"`
	Redis     RedisConfig     `mapstructure:"redis"`
	Cockroach CockroachConfig `mapstructure:"cockroach"`
}

type KafkaConfig struct {
	Brokers     []string      `mapstructure:"brokers"`
	GroupID     string        `mapstructure:"group_id"`
	DialTimeout time.Duration `mapstructure:"dial_timeout"`
}

type RedisConfig struct {
	Addr     string `mapstructure:"addr"`
	Password string `mapstructure:"password"`
	DB       int    `mapstructure:"db"`
}

type CockroachConfig struct {
	URI string `mapstructure:"uri"`
}

type ConsumerConfig struct {
	PollInterval    time.Duration `mapstructure:"poll_interval"`
	StartupAttempts int           `mapstructure:"startup_attempts"`
	Backoff         BackoffConfig `mapstructure:"backoff"`
}

type BackoffConfig struct {
	Initial    time.Duration `mapstructure:"initial"`
	Max        time.Duration `mapstructure:"max"`
	Multiplier float64       `mapstructure:"multiplier"`
}

// TopicConfig is the delivery rule for one topic
type TopicConfig struct {
	Name              string   `mapstructure:"name"`
	Visibility        string   `mapstructure:"visibility"`
	PlayerFields      []string `mapstructure:"player_fields"`
	FactionFields     []string `mapstructure:"faction_fields"`
	PublicWhenUnowned bool     `mapstructure:"public_when_unowned"`
}

type HealthConfig struct {
	StalenessWindow  time.Duration `mapstructure:"staleness_window"`
	MaxErrorRatio    float64       `mapstructure:"max_error_ratio"`
	MinSamples       int64         `mapstructure:"min_samples"`
	MemoryLimitBytes uint64        `mapstructure:"memory_limit_bytes"`
	MemoryThreshold  float64       `mapstructure:"memory_threshold"`
}

// Load loads configuration from file and environment variables. An empty
// path falls back to CONFIG_PATH; with neither set only defaults and the
// environment apply.
func Load(path string) (*AppConfig, error) {
	v := viper.New()

	// Default values
	v.SetDefault("environment", "development")
	v.SetDefault("log_level", "info")
	v.SetDefault("service_name", "gateway")
	v.SetDefault("gateway.listen_addr", ":8080")
	v.SetDefault("gateway.queue_size", 256)
	v.SetDefault("gateway.write_timeout", 10*time.Second)
	v.SetDefault("gateway.pong_wait", 60*time.Second)
	v.SetDefault("gateway.max_message_bytes", 4096)
	v.SetDefault("broker.type", BrokerKafka)
	v.SetDefault("broker.kafka.dial_timeout", 5*time.Second)
	v.SetDefault("consumer.poll_interval", time.Second)
	v.SetDefault("consumer.startup_attempts", 5)
	v.SetDefault("consumer.backoff.initial", 500*time.Millisecond)
	v.SetDefault("consumer.backoff.max", 30*time.Second)
	v.SetDefault("consumer.backoff.multiplier", 2.0)
	v.SetDefault("health.staleness_window", 5*time.Minute)
	v.SetDefault("health.max_error_ratio", 0.1)
	v.SetDefault("health.min_samples", 100)
	v.SetDefault("health.memory_limit_bytes", 0)
	v.SetDefault("health.memory_threshold", 0.9)

	// Environment variables
	v.AutomaticEnv()
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))

	// Config file
	if path == "" {
		path = os.Getenv("CONFIG_PATH")
	}
	if path != "" {
		v.SetConfigFile(path)
		if err := v.ReadInConfig(); err != nil {
			return nil, fmt.Errorf("failed to read config %s: %w", path, err)
		}
	}

	// Bind environment variables explicitly for nested structs to ensure Unmarshal picks them up
	v.BindEnv("service_name", "SERVICE_NAME")
	v.BindEnv("environment", "ENVIRONMENT")
	v.BindEnv("log_level", "LOG_LEVEL")
	v.BindEnv("gateway.name", "GATEWAY_NAME")
	v.BindEnv("gateway.listen_addr", "GATEWAY_LISTEN_ADDR")
	v.BindEnv("gateway.queue_size", "GATEWAY_QUEUE_SIZE")
	v.BindEnv("broker.type", "BROKER_TYPE")
	v.BindEnv("broker.kafka.brokers", "KAFKA_BROKERS")
	v.BindEnv("broker.kafka.group_id", "KAFKA_GROUP_ID")
	v.BindEnv("broker.redis.addr", "REDIS_ADDR")
	v.BindEnv("broker.redis.password", "REDIS_PASSWORD")
	v.BindEnv("broker.cockroach.uri", "COCKROACH_URI")
	v.BindEnv("health.memory_limit_bytes", "HEALTH_MEMORY_LIMIT_BYTES")

	var config AppConfig
	if err := v.Unmarshal(&config); err != nil {
		return nil, err
	}

	// Manual check for Kafka brokers if they came as a single string from env
	brokers := v.GetString("broker.kafka.brokers")
	if brokers != "" && len(config.Broker.Kafka.Brokers) <= 1 && strings.Contains(brokers, ",") {
		config.Broker.Kafka.Brokers = strings.Split(brokers, ",")
	}

	if err := config.Validate(); err != nil {
		return nil, err
	}

	return &config, nil
}

// Validate checks if the configuration is valid
func (c *AppConfig) Validate() error {
	if c.ServiceName == "" {
		return errors.New("service_name is required")
	}
	if c.Gateway.Name == "" {
		return errors.New("gateway.name is required")
	}
	if c.Gateway.ListenAddr == "" {
		return errors.New("gateway.listen_addr is required")
	}
	if c.Gateway.QueueSize < 1 {
		return errors.New("gateway.queue_size must be positive")
	}

	switch c.Broker.Type {
	case BrokerKafka:
		if len(c.Broker.Kafka.Brokers) == 0 {
			return errors.New("broker.kafka.brokers is required")
		}
		if c.Broker.Kafka.GroupID == "" {
			return errors.New("broker.kafka.group_id is required")
		}
	case BrokerRedis:
		if c.Broker.Redis.Addr == "" {
			return errors.New("broker.redis.addr is required")
		}
	case BrokerCockroach:
		if c.Broker.Cockroach.URI == "" {
			return errors.New("broker.cockroach.uri is required")
		}
	default:
		return fmt.Errorf("broker.type %q is not one of kafka, redis, cockroach", c.Broker.Type)
	}

	if len(c.Topics) == 0 {
		return errors.New("topics is required")
	}
	if _, err := c.Policy(); err != nil {
		return fmt.Errorf("topics: %w", err)
	}

	if c.Consumer.Backoff.Initial <= 0 {
		return errors.New("consumer.backoff.initial must be positive")
	}
	if c.Consumer.Backoff.Multiplier < 1 {
		return errors.New("consumer.backoff.multiplier must be at least 1")
	}
	if c.Consumer.Backoff.Max < c.Consumer.Backoff.Initial {
		return errors.New("consumer.backoff.max must not be below consumer.backoff.initial")
	}

	if c.Health.MaxErrorRatio < 0 || c.Health.MaxErrorRatio > 1 {
		return errors.New("health.max_error_ratio must be within [0, 1]")
	}
	if c.Health.MemoryThreshold <= 0 || c.Health.MemoryThreshold > 1 {
		return errors.New("health.memory_threshold must be within (0, 1]")
	}
	return nil
}

// Policy builds the routing policy from the topic list
func (c *AppConfig) Policy() (routing.Policy, error) {
	rules := make([]routing.Rule, 0, len(c.Topics))
	for _, t := range c.Topics {
		rules = append(rules, routing.Rule{
			Topic:             t.Name,
			Visibility:        routing.Visibility(strings.ToLower(t.Visibility)),
			PlayerFields:      t.PlayerFields,
			FactionFields:     t.FactionFields,
			PublicWhenUnowned: t.PublicWhenUnowned,
		})
	}
	return routing.NewPolicy(rules)
}

// TopicNames lists the configured topics in file order
func (c *AppConfig) TopicNames() []string {
	names := make([]string, 0, len(c.Topics))
	for _, t := range c.Topics {
		names = append(names, t.Name)
	}
	return names
}

// RetryOptions converts the backoff settings. MaxAttempts is left to the caller.
func (c *AppConfig) RetryOptions() retry.Options {
	return retry.Options{
		InitialInterval: c.Consumer.Backoff.Initial,
		MaxInterval:     c.Consumer.Backoff.Max,
		Multiplier:      c.Consumer.Backoff.Multiplier,
	}
}

// HealthThresholds converts the health settings
func (c *AppConfig) HealthThresholds() health.Config {
	return health.Config{
		StalenessWindow:  c.Health.StalenessWindow,
		MaxErrorRatio:    c.Health.MaxErrorRatio,
		MinSamples:       c.Health.MinSamples,
		MemoryLimitBytes: c.Health.MemoryLimitBytes,
		MemoryThreshold:  c.Health.MemoryThreshold,
	}
}
