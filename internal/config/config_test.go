package config

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/mr1hm/go-disaster-notify/internal/models"
)

func TestLoad_Defaults(t *testing.T) {
	cfg, err := Load()
	require.NoError(t, err)

	assert.Equal(t, 8080, cfg.Server.Port)
	assert.Equal(t, "info", cfg.Logging.Level)
	assert.Equal(t, "json", cfg.Logging.Format)
	assert.Equal(t, []models.Channel{models.ChannelSMS, models.ChannelPush}, cfg.Notify.DefaultChannels)
	assert.Equal(t, 3, cfg.Notify.MaxRetries)
	assert.Equal(t, 6*time.Hour, cfg.Threshold.AlertTTL)
	assert.Equal(t, "sensors/+/readings", cfg.MQTT.ReadingsTopic)
	assert.Empty(t, cfg.Kafka.Brokers)
	assert.Equal(t, 3*time.Minute, cfg.Dialog.USSDTimeout)
}

func TestLoad_FromEnv(t *testing.T) {
	t.Setenv("SERVER_PORT", "9090")
	t.Setenv("LOG_LEVEL", "debug")
	t.Setenv("DEFAULT_CHANNELS", "SMS, voice,chat")
	t.Setenv("KAFKA_BROKERS", "k1:9092, k2:9092,")
	t.Setenv("SMS_RATE", "5.5")
	t.Setenv("RETRY_SWEEP_INTERVAL", "1m")
	t.Setenv("DEBUG_ROUTES", "true")

	cfg, err := Load()
	require.NoError(t, err)

	assert.Equal(t, 9090, cfg.Server.Port)
	assert.Equal(t, "debug", cfg.Logging.Level)
	assert.Equal(t, []models.Channel{models.ChannelSMS, models.ChannelVoice, models.ChannelChat}, cfg.Notify.DefaultChannels)
	assert.Equal(t, []string{"k1:9092", "k2:9092"}, cfg.Kafka.Brokers)
	assert.Equal(t, 5.5, cfg.Notify.Rates[models.ChannelSMS])
	assert.Equal(t, time.Minute, cfg.Notify.RetryInterval)
	assert.True(t, cfg.Server.DebugRoutes)
}

func TestLoad_InvalidValuesFallBack(t *testing.T) {
	t.Setenv("SERVER_PORT", "not-a-number")
	t.Setenv("ALERT_TTL", "soon")

	cfg, err := Load()
	require.NoError(t, err)
	assert.Equal(t, 8080, cfg.Server.Port)
	assert.Equal(t, 6*time.Hour, cfg.Threshold.AlertTTL)
}

func TestLoad_Validation(t *testing.T) {
	tests := []struct {
		name  string
		key   string
		value string
	}{
		{"port out of range", "SERVER_PORT", "70000"},
		{"log level", "LOG_LEVEL", "verbose"},
		{"log format", "LOG_FORMAT", "xml"},
		{"channel", "DEFAULT_CHANNELS", "sms,fax"},
		{"negative retries", "DELIVERY_MAX_RETRIES", "-1"},
		{"short ttl", "ALERT_TTL", "10s"},
		{"short cumulative interval", "CUMULATIVE_CHECK_INTERVAL", "1s"},
		{"push prefix wildcard", "MQTT_PUSH_PREFIX", "notify/#"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			t.Setenv(tt.key, tt.value)
			_, err := Load()
			assert.Error(t, err)
		})
	}
}

func TestLoad_FeedIntervalChecked(t *testing.T) {
	t.Setenv("GAUGE_FEED_URL", "http://gauges.example/api/latest")
	t.Setenv("GAUGE_FEED_INTERVAL", "10s")
	_, err := Load()
	assert.Error(t, err)
}
