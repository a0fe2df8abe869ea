package config

import (
	"fmt"
	"net/url"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/joho/godotenv"
)

type Config struct {
	Database DatabaseConfig
	Redis    RedisConfig
	Kafka    KafkaConfig
	HTTP     HTTPConfig
	Influx   InfluxConfig
	Telegram TelegramConfig
	Geocoder GeocoderConfig
	Jobs     JobsConfig

	// CollaboratorTimeout bounds every call to an external system
	CollaboratorTimeout time.Duration
	LogLevel            string
}

type DatabaseConfig struct {
	Host     string
	Port     int
	User     string
	Password string
	DBName   string
	SSLMode  string
}

func (d DatabaseConfig) ConnectionString() string {
	return fmt.Sprintf("host=%s port=%d user=%s password=%s dbname=%s sslmode=%s",
		d.Host, d.Port, d.User, d.Password, d.DBName, d.SSLMode)
}

type RedisConfig struct {
	Addr     string
	Password string
	DB       int
}

type KafkaConfig struct {
	Brokers       []string
	TopicAlerts   string
	GroupID       string
	NumPartitions int
}

type HTTPConfig struct {
	Port            int
	MetricsPort     int // evaluator and notification processes
	ShutdownTimeout time.Duration
}

func (h HTTPConfig) Addr() string {
	return fmt.Sprintf(":%d", h.Port)
}

func (h HTTPConfig) MetricsAddr() string {
	return fmt.Sprintf(":%d", h.MetricsPort)
}

type InfluxConfig struct {
	Server              string
	Token               string
	Org                 string
	BucketDevices       string
	BucketGateways      string
	BucketUplinks       string
	MeasurementDevices  string
	MeasurementGateways string
}

type TelegramConfig struct {
	BotID  string
	ChatID string
}

// Enabled reports whether both bot token and chat are configured
func (t TelegramConfig) Enabled() bool {
	return t.BotID != "" && t.ChatID != ""
}

// URL returns the shoutrrr service URL for the configured bot and chat
func (t TelegramConfig) URL() string {
	q := url.Values{}
	q.Set("chats", t.ChatID)
	return fmt.Sprintf("telegram://%s@telegram?%s", t.BotID, q.Encode())
}

type GeocoderConfig struct {
	URL       string
	UserAgent string
}

type JobsConfig struct {
	PacketRateInterval time.Duration
	SignalInterval     time.Duration
	PacketWindow       time.Duration
	SignalWindow       time.Duration

	DeviceExpectationSeconds  int
	GatewayExpectationSeconds int

	LockTTL time.Duration
}

func Load() (*Config, error) {
	// Load .env file if it exists (ignore error if not present)
	_ = godotenv.Load()

	config := &Config{
		Database: DatabaseConfig{
			Host:     getEnv("DB_HOST", "localhost"),
			Port:     getEnvAsInt("DB_PORT", 5432),
			User:     getEnv("DB_USER", "lora_user"),
			Password: getEnv("DB_PASSWORD", "lora_pass"),
			DBName:   getEnv("DB_NAME", "lora_alerts"),
			SSLMode:  getEnv("DB_SSLMODE", "disable"),
		},
		Redis: RedisConfig{
			Addr:     getEnv("REDIS_ADDR", "localhost:6379"),
			Password: getEnv("REDIS_PASSWORD", ""),
			DB:       getEnvAsInt("REDIS_DB", 0),
		},
		Kafka: KafkaConfig{
			Brokers:       getEnvAsList("KAFKA_BROKERS", []string{"localhost:9092"}),
			TopicAlerts:   getEnv("KAFKA_TOPIC_ALERTS", "lora.alerts"),
			GroupID:       getEnv("KAFKA_GROUP_ID", "notification-group"),
			NumPartitions: getEnvAsInt("KAFKA_NUM_PARTITIONS", 3),
		},
		HTTP: HTTPConfig{
			Port:            getEnvAsInt("HTTP_PORT", 5000),
			MetricsPort:     getEnvAsInt("METRICS_PORT", 9101),
			ShutdownTimeout: getEnvAsDuration("HTTP_SHUTDOWN_TIMEOUT", 10*time.Second),
		},
		Influx: InfluxConfig{
			Server:              getEnv("INFLUXDB_SERVER", "http://localhost:8086"),
			Token:               getEnv("INFLUXDB_TOKEN", ""),
			Org:                 getEnv("INFLUXDB_ORG", "lora"),
			BucketDevices:       getEnv("INFLUXDB_BUCKET_DEVICES", "dev_metrics"),
			BucketGateways:      getEnv("INFLUXDB_BUCKET_GATEWAYS", "gw_metrics"),
			BucketUplinks:       getEnv("INFLUXDB_BUCKET_UPLINKS", "uplinks"),
			MeasurementDevices:  getEnv("INFLUXDB_MEASUREMENT_DEVICES", "avg_device_metrics"),
			MeasurementGateways: getEnv("INFLUXDB_MEASUREMENT_GATEWAYS", "avg_gateway_metrics"),
		},
		Telegram: TelegramConfig{
			BotID:  getEnv("BOT_ID", ""),
			ChatID: getEnv("CHAT_ID", ""),
		},
		Geocoder: GeocoderConfig{
			URL:       getEnv("GEOCODER_URL", "https://nominatim.openstreetmap.org/reverse"),
			UserAgent: getEnv("GEOCODER_USER_AGENT", "lora-alerts"),
		},
		Jobs: JobsConfig{
			PacketRateInterval:        getEnvAsDuration("JOB_PACKET_RATE_INTERVAL", 60*time.Second),
			SignalInterval:            getEnvAsDuration("JOB_SIGNAL_INTERVAL", 300*time.Second),
			PacketWindow:              getEnvAsDuration("JOB_PACKET_WINDOW", 15*time.Minute),
			SignalWindow:              getEnvAsDuration("JOB_SIGNAL_WINDOW", time.Hour),
			DeviceExpectationSeconds:  getEnvAsInt("JOB_DEVICE_EXPECTATION_SECONDS", 900),
			GatewayExpectationSeconds: getEnvAsInt("JOB_GATEWAY_EXPECTATION_SECONDS", 3600),
			LockTTL:                   getEnvAsDuration("JOB_LOCK_TTL", 55*time.Second),
		},
		CollaboratorTimeout: getEnvAsDuration("COLLABORATOR_TIMEOUT", 10*time.Second),
		LogLevel:            getEnv("LOG_LEVEL", "info"),
	}

	return config, nil
}

func getEnv(key, defaultValue string) string {
	if value := os.Getenv(key); value != "" {
		return value
	}
	return defaultValue
}

func getEnvAsInt(key string, defaultValue int) int {
	valueStr := getEnv(key, "")
	if value, err := strconv.Atoi(valueStr); err == nil {
		return value
	}
	return defaultValue
}

func getEnvAsDuration(key string, defaultValue time.Duration) time.Duration {
	valueStr := getEnv(key, "")
	if value, err := time.ParseDuration(valueStr); err == nil {
		return value
	}
	return defaultValue
}

func getEnvAsList(key string, defaultValue []string) []string {
	valueStr := getEnv(key, "")
	if valueStr == "" {
		return defaultValue
	}

	var out []string
	for _, v := range strings.Split(valueStr, ",") {
		if v = strings.TrimSpace(v); v != "" {
			out = append(out, v)
		}
	}
	if len(out) == 0 {
		return defaultValue
	}
	return out
}
