package config

import (
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/mr1hm/go-disaster-notify/internal/models"
)

type Config struct {
	Server    ServerConfig
	DB        DatabaseConfig
	Logging   LoggingConfig
	Catalog   CatalogConfig
	Threshold ThresholdConfig
	Notify    NotifyConfig
	Gateways  GatewaysConfig
	MQTT      MQTTConfig
	Kafka     KafkaConfig
	Dialog    DialogConfig
	Ingestion IngestionConfig
	Hub       HubConfig
}

type ServerConfig struct {
	Host        string
	Port        int
	CORSOrigins []string
	RateLimit   float64 // requests per second, global
	RateBurst   int
	DebugRoutes bool
}

type DatabaseConfig struct {
	Path string
}

type LoggingConfig struct {
	Level  string
	Format string
}

type CatalogConfig struct {
	Path string // empty uses the embedded catalog
}

type ThresholdConfig struct {
	AlertTTL            time.Duration
	CumulativeInterval  time.Duration
	AlertExpiryInterval time.Duration
	Stripes             int
}

type NotifyConfig struct {
	DefaultLanguage string
	DefaultChannels []models.Channel
	MaxRetries      int
	SendTimeout     time.Duration
	Workers         int
	QueueSize       int
	RetryInterval   time.Duration
	RetryBatch      int
	TemplatesPath   string
	Rates           map[models.Channel]float64
}

type GatewaysConfig struct {
	SMSURL      string
	SMSKey      string
	SMSSender   string
	VoiceURL    string
	VoiceKey    string
	VoiceCaller string
	ChatURL     string
	ChatKey     string
	CallbackURL string
	Timeout     time.Duration
}

type MQTTConfig struct {
	BrokerURL     string
	ClientID      string
	Username      string
	Password      string
	ReadingsTopic string
	PushPrefix    string
}

type KafkaConfig struct {
	Brokers []string
	Topic   string
}

type DialogConfig struct {
	USSDTimeout   time.Duration
	IVRTimeout    time.Duration
	SweepInterval time.Duration
	IVRActionURL  string
	IVRLanguage   string
	DefaultCity   string
}

type IngestionConfig struct {
	Lanes        int
	BufferSize   int
	FeedURL      string
	FeedInterval time.Duration
}

type HubConfig struct {
	BufferSize        int
	Shards            int
	HeartbeatInterval time.Duration
}

func Load() (*Config, error) {
	cfg := &Config{
		Server: ServerConfig{
			Host:        getEnv("SERVER_HOST", "localhost"),
			Port:        getEnvInt("SERVER_PORT", 8080),
			CORSOrigins: getEnvList("CORS_ORIGINS", []string{"http://localhost:3000"}),
			RateLimit:   getEnvFloat("RATE_LIMIT_RPS", 50),
			RateBurst:   getEnvInt("RATE_LIMIT_BURST", 100),
			DebugRoutes: getEnvBool("DEBUG_ROUTES", false),
		},
		DB: DatabaseConfig{
			Path: getEnv("DB_PATH", "./data/disaster-notify.db"),
		},
		Logging: LoggingConfig{
			Level:  getEnv("LOG_LEVEL", "info"),
			Format: getEnv("LOG_FORMAT", "json"),
		},
		Catalog: CatalogConfig{
			Path: getEnv("CATALOG_PATH", ""),
		},
		Threshold: ThresholdConfig{
			AlertTTL:            getEnvDuration("ALERT_TTL", 6*time.Hour),
			CumulativeInterval:  getEnvDuration("CUMULATIVE_CHECK_INTERVAL", 5*time.Minute),
			AlertExpiryInterval: getEnvDuration("ALERT_EXPIRY_INTERVAL", time.Minute),
			Stripes:             getEnvInt("SENSOR_LOCK_STRIPES", 64),
		},
		Notify: NotifyConfig{
			DefaultLanguage: getEnv("DEFAULT_LANGUAGE", "en"),
			DefaultChannels: getEnvChannels("DEFAULT_CHANNELS", []models.Channel{models.ChannelSMS, models.ChannelPush}),
			MaxRetries:      getEnvInt("DELIVERY_MAX_RETRIES", 3),
			SendTimeout:     getEnvDuration("SEND_TIMEOUT", 10*time.Second),
			Workers:         getEnvInt("CHANNEL_WORKERS", 4),
			QueueSize:       getEnvInt("CHANNEL_QUEUE_SIZE", 1024),
			RetryInterval:   getEnvDuration("RETRY_SWEEP_INTERVAL", 30*time.Second),
			RetryBatch:      getEnvInt("RETRY_BATCH", 500),
			TemplatesPath:   getEnv("TEMPLATES_PATH", ""),
			Rates: map[models.Channel]float64{
				models.ChannelSMS:   getEnvFloat("SMS_RATE", 20),
				models.ChannelVoice: getEnvFloat("VOICE_RATE", 2),
				models.ChannelChat:  getEnvFloat("CHAT_RATE", 20),
				models.ChannelPush:  getEnvFloat("PUSH_RATE", 0),
			},
		},
		Gateways: GatewaysConfig{
			SMSURL:      getEnv("SMS_GATEWAY_URL", ""),
			SMSKey:      getEnv("SMS_GATEWAY_KEY", ""),
			SMSSender:   getEnv("SMS_SENDER_ID", "ALERTS"),
			VoiceURL:    getEnv("VOICE_GATEWAY_URL", ""),
			VoiceKey:    getEnv("VOICE_GATEWAY_KEY", ""),
			VoiceCaller: getEnv("VOICE_CALLER_ID", ""),
			ChatURL:     getEnv("CHAT_GATEWAY_URL", ""),
			ChatKey:     getEnv("CHAT_GATEWAY_KEY", ""),
			CallbackURL: getEnv("STATUS_CALLBACK_URL", ""),
			Timeout:     getEnvDuration("GATEWAY_TIMEOUT", 15*time.Second),
		},
		MQTT: MQTTConfig{
			BrokerURL:     getEnv("MQTT_BROKER_URL", ""),
			ClientID:      getEnv("MQTT_CLIENT_ID", "disaster-notify"),
			Username:      getEnv("MQTT_USERNAME", ""),
			Password:      getEnv("MQTT_PASSWORD", ""),
			ReadingsTopic: getEnv("MQTT_READINGS_TOPIC", "sensors/+/readings"),
			PushPrefix:    getEnv("MQTT_PUSH_PREFIX", "notify"),
		},
		Kafka: KafkaConfig{
			Brokers: getEnvList("KAFKA_BROKERS", nil),
			Topic:   getEnv("KAFKA_ALERT_TOPIC", "disaster.alerts"),
		},
		Dialog: DialogConfig{
			USSDTimeout:   getEnvDuration("USSD_SESSION_TIMEOUT", 3*time.Minute),
			IVRTimeout:    getEnvDuration("IVR_SESSION_TIMEOUT", 5*time.Minute),
			SweepInterval: getEnvDuration("SESSION_SWEEP_INTERVAL", time.Minute),
			IVRActionURL:  getEnv("IVR_ACTION_URL", "/api/ivr"),
			IVRLanguage:   getEnv("IVR_LANGUAGE", "en-GB"),
			DefaultCity:   getEnv("DEFAULT_CITY", "lagos"),
		},
		Ingestion: IngestionConfig{
			Lanes:        getEnvInt("INGEST_LANES", 8),
			BufferSize:   getEnvInt("INGEST_BUFFER_SIZE", 256),
			FeedURL:      getEnv("GAUGE_FEED_URL", ""),
			FeedInterval: getEnvDuration("GAUGE_FEED_INTERVAL", 5*time.Minute),
		},
		Hub: HubConfig{
			BufferSize:        getEnvInt("HUB_BUFFER_SIZE", 100),
			Shards:            getEnvInt("HUB_SHARDS", 32),
			HeartbeatInterval: getEnvDuration("HUB_HEARTBEAT_INTERVAL", 30*time.Second),
		},
	}

	if err := cfg.validate(); err != nil {
		return nil, err
	}

	return cfg, nil
}

func (c *Config) validate() error {
	if c.Server.Port < 1 || c.Server.Port > 65535 {
		return fmt.Errorf("invalid server port: %d", c.Server.Port)
	}

	validLevels := map[string]bool{"debug": true, "info": true, "warn": true, "error": true}
	if !validLevels[c.Logging.Level] {
		return fmt.Errorf("invalid log level: %s", c.Logging.Level)
	}
	if c.Logging.Format != "json" && c.Logging.Format != "text" {
		return fmt.Errorf("invalid log format: %s", c.Logging.Format)
	}

	if c.Notify.MaxRetries < 0 {
		return fmt.Errorf("delivery max retries must not be negative")
	}
	if len(c.Notify.DefaultChannels) == 0 {
		return fmt.Errorf("at least one default channel is required")
	}
	for _, ch := range c.Notify.DefaultChannels {
		if !ch.Valid() {
			return fmt.Errorf("invalid default channel: %s", ch)
		}
	}
	if c.Notify.SendTimeout <= 0 {
		return fmt.Errorf("send timeout must be positive")
	}

	if c.Threshold.AlertTTL < time.Minute {
		return fmt.Errorf("alert TTL must be at least 1 minute")
	}
	if c.Threshold.CumulativeInterval != 0 && c.Threshold.CumulativeInterval < 10*time.Second {
		return fmt.Errorf("cumulative check interval must be at least 10 seconds")
	}
	if c.Ingestion.FeedURL != "" && c.Ingestion.FeedInterval < time.Minute {
		return fmt.Errorf("gauge feed interval must be at least 1 minute")
	}
	if c.Dialog.USSDTimeout <= 0 || c.Dialog.IVRTimeout <= 0 {
		return fmt.Errorf("session timeouts must be positive")
	}
	if strings.ContainsAny(c.MQTT.PushPrefix, "#+") {
		return fmt.Errorf("invalid MQTT push prefix: %s", c.MQTT.PushPrefix)
	}

	return nil
}

func getEnv(key, fallback string) string {
	if val := os.Getenv(key); val != "" {
		return val
	}
	return fallback
}

func getEnvInt(key string, fallback int) int {
	if val := os.Getenv(key); val != "" {
		if i, err := strconv.Atoi(val); err == nil {
			return i
		}
	}
	return fallback
}

func getEnvFloat(key string, fallback float64) float64 {
	if val := os.Getenv(key); val != "" {
		if f, err := strconv.ParseFloat(val, 64); err == nil {
			return f
		}
	}
	return fallback
}

func getEnvBool(key string, fallback bool) bool {
	if val := os.Getenv(key); val != "" {
		if b, err := strconv.ParseBool(val); err == nil {
			return b
		}
	}
	return fallback
}

func getEnvDuration(key string, fallback time.Duration) time.Duration {
	if val := os.Getenv(key); val != "" {
		if d, err := time.ParseDuration(val); err == nil {
			return d
		}
	}
	return fallback
}

// getEnvList splits a comma-separated value, dropping empty items.
func getEnvList(key string, fallback []string) []string {
	val := os.Getenv(key)
	if val == "" {
		return fallback
	}
	var out []string
	for _, item := range strings.Split(val, ",") {
		if item = strings.TrimSpace(item); item != "" {
			out = append(out, item)
		}
	}
	return out
}

func getEnvChannels(key string, fallback []models.Channel) []models.Channel {
	items := getEnvList(key, nil)
	if items == nil {
		return fallback
	}
	out := make([]models.Channel, len(items))
	for i, item := range items {
		out[i] = models.Channel(strings.ToLower(item))
	}
	return out
}
