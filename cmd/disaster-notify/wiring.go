package main

import (
	"context"
	"fmt"
	"log/slog"
	"os"
	"time"

	mqtt "github.com/eclipse/paho.mqtt.golang"
	"golang.org/x/time/rate"

	"github.com/mr1hm/go-disaster-notify/internal/catalog"
	"github.com/mr1hm/go-disaster-notify/internal/channel"
	"github.com/mr1hm/go-disaster-notify/internal/config"
	"github.com/mr1hm/go-disaster-notify/internal/models"
	"github.com/mr1hm/go-disaster-notify/internal/notify"
	"github.com/mr1hm/go-disaster-notify/internal/repository"
)

func loadCatalog(path string) (*catalog.Catalog, error) {
	if path == "" {
		return catalog.Default()
	}
	return catalog.LoadFile(path)
}

// seedSensors registers every catalog sensor, keeping the state of sensors
// already known to the store.
func seedSensors(ctx context.Context, db repository.SensorRepository, cat *catalog.Catalog) error {
	sensors := cat.SensorModels()
	for i := range sensors {
		if err := db.UpsertSensor(ctx, &sensors[i]); err != nil {
			return fmt.Errorf("upsert sensor %s: %w", sensors[i].ID, err)
		}
	}
	slog.Info("sensor catalog loaded", "sensors", len(sensors))
	return nil
}

func loadTemplates(cfg config.NotifyConfig) (*notify.Templates, error) {
	if cfg.TemplatesPath == "" {
		return notify.DefaultTemplates(cfg.DefaultLanguage)
	}
	data, err := os.ReadFile(cfg.TemplatesPath)
	if err != nil {
		return nil, fmt.Errorf("read templates: %w", err)
	}
	return notify.ParseTemplates(data, cfg.DefaultLanguage)
}

func channelRates(rates map[models.Channel]float64) map[models.Channel]rate.Limit {
	out := make(map[models.Channel]rate.Limit, len(rates))
	for ch, r := range rates {
		if r > 0 {
			out[ch] = rate.Limit(r)
		}
	}
	return out
}

func connectMQTT(cfg config.MQTTConfig) (mqtt.Client, error) {
	opts := mqtt.NewClientOptions().
		AddBroker(cfg.BrokerURL).
		SetClientID(cfg.ClientID).
		SetUsername(cfg.Username).
		SetPassword(cfg.Password).
		SetAutoReconnect(true).
		SetConnectRetry(true).
		SetOrderMatters(false).
		SetConnectionLostHandler(func(_ mqtt.Client, err error) {
			slog.Warn("mqtt connection lost", "error", err)
		}).
		SetOnConnectHandler(func(mqtt.Client) {
			slog.Info("mqtt connected", "broker", cfg.BrokerURL)
		})

	client := mqtt.NewClient(opts)
	token := client.Connect()
	if !token.WaitTimeout(15 * time.Second) {
		return nil, fmt.Errorf("connect to %s: timed out", cfg.BrokerURL)
	}
	if err := token.Error(); err != nil {
		return nil, fmt.Errorf("connect to %s: %w", cfg.BrokerURL, err)
	}
	return client, nil
}

// buildAdapters wires a provider gateway for each channel with a configured
// URL and falls back to a log-only adapter otherwise.
func buildAdapters(cfg *config.Config, client mqtt.Client, logger *slog.Logger) ([]channel.Adapter, error) {
	gw := cfg.Gateways
	gateway := func(url, key, sender string) channel.GatewayConfig {
		return channel.GatewayConfig{URL: url, APIKey: key, Sender: sender, CallbackURL: gw.CallbackURL, Timeout: gw.Timeout}
	}
	adapterLog := logger.With("component", "channel")

	var adapters []channel.Adapter

	if gw.SMSURL != "" {
		a, err := channel.NewSMSAdapter(gateway(gw.SMSURL, gw.SMSKey, gw.SMSSender))
		if err != nil {
			return nil, fmt.Errorf("sms: %w", err)
		}
		adapters = append(adapters, a)
	} else {
		adapters = append(adapters, channel.NewLogAdapter(models.ChannelSMS, adapterLog))
	}

	if gw.VoiceURL != "" {
		a, err := channel.NewVoiceAdapter(gateway(gw.VoiceURL, gw.VoiceKey, gw.VoiceCaller))
		if err != nil {
			return nil, fmt.Errorf("voice: %w", err)
		}
		adapters = append(adapters, a)
	} else {
		adapters = append(adapters, channel.NewLogAdapter(models.ChannelVoice, adapterLog))
	}

	if gw.ChatURL != "" {
		a, err := channel.NewChatAdapter(gateway(gw.ChatURL, gw.ChatKey, ""))
		if err != nil {
			return nil, fmt.Errorf("chat: %w", err)
		}
		adapters = append(adapters, a)
	} else {
		adapters = append(adapters, channel.NewLogAdapter(models.ChannelChat, adapterLog))
	}

	if client != nil {
		adapters = append(adapters, channel.NewPushAdapter(client, cfg.MQTT.PushPrefix))
	} else {
		adapters = append(adapters, channel.NewLogAdapter(models.ChannelPush, adapterLog))
	}

	for _, a := range adapters {
		adapterLog.Info("channel configured", "channel", string(a.Channel()), "adapter", fmt.Sprintf("%T", a))
	}
	return adapters, nil
}
