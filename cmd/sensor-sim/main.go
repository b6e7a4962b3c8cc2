// Command sensor-sim publishes synthetic gauge readings for catalog sensors
// over MQTT, optionally ramping one sensor through its alert bands.
package main

import (
	"context"
	"encoding/json"
	"flag"
	"fmt"
	"log/slog"
	"math/rand/v2"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	mqtt "github.com/eclipse/paho.mqtt.golang"
	"github.com/joho/godotenv"

	"github.com/mr1hm/go-disaster-notify/internal/catalog"
	"github.com/mr1hm/go-disaster-notify/internal/config"
	"github.com/mr1hm/go-disaster-notify/internal/logging"
	"github.com/mr1hm/go-disaster-notify/internal/models"
)

type readingPayload struct {
	SensorID  string  `json:"sensorId"`
	Value     float64 `json:"value"`
	Timestamp string  `json:"timestamp"`
}

func main() {
	_ = godotenv.Load()

	cfg, err := config.Load()
	if err != nil {
		logging.Fatalf("Fatal while loading config: %v", err)
	}
	logging.Setup(cfg.Logging.Level, cfg.Logging.Format)

	brokerDefault := cfg.MQTT.BrokerURL
	if brokerDefault == "" {
		brokerDefault = "tcp://localhost:1883"
	}
	brokerAddr := flag.String("broker", brokerDefault, "MQTT broker address, e.g. tcp://localhost:1883")
	only := flag.String("sensors", "", "Comma-separated sensor ids to simulate (default: all catalog sensors)")
	rising := flag.String("rising", "", "Sensor id to ramp from normal towards critical")
	interval := flag.Duration("interval", 5*time.Second, "Interval between published readings")
	jitter := flag.Float64("jitter", 0.05, "Relative random jitter applied to each reading")
	flag.Parse()

	cat, err := catalog.Default()
	if cfg.Catalog.Path != "" {
		cat, err = catalog.LoadFile(cfg.Catalog.Path)
	}
	if err != nil {
		logging.Fatalf("Failed to load catalog: %v", err)
	}
	sensors := selectSensors(cat.SensorModels(), *only)
	if len(sensors) == 0 {
		logging.Fatalf("no sensors to simulate")
	}

	clientID := fmt.Sprintf("sensor-sim-%d", time.Now().UnixNano())
	opts := mqtt.NewClientOptions().AddBroker(*brokerAddr).SetClientID(clientID)
	opts = opts.SetOrderMatters(false)

	client := mqtt.NewClient(opts)
	if token := client.Connect(); token.Wait() && token.Error() != nil {
		logging.Fatalf("failed to connect to broker: %v", token.Error())
	}
	slog.Info("connected to MQTT broker", "broker", *brokerAddr, "client_id", clientID, "sensors", len(sensors))

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	ticker := time.NewTicker(*interval)
	defer ticker.Stop()

	step := 0
	publish := func() {
		for _, s := range sensors {
			value := baseline(s)
			if s.ID == *rising {
				value = ramp(s, step)
			}
			value *= 1 + (rand.Float64()*2-1)*(*jitter)
			if s.MinValue != nil && value < *s.MinValue {
				value = *s.MinValue
			}

			data, err := json.Marshal(readingPayload{
				SensorID:  s.ID,
				Value:     value,
				Timestamp: time.Now().UTC().Format(time.RFC3339Nano),
			})
			if err != nil {
				slog.Error("failed to encode payload", "error", err)
				return
			}

			topic := fmt.Sprintf("sensors/%s/readings", s.ID)
			token := client.Publish(topic, 1, false, data)
			token.Wait()
			if err := token.Error(); err != nil {
				slog.Error("publish error", "topic", topic, "error", err)
				continue
			}
			slog.Debug("published", "topic", topic, "value", value)
		}
		step++
	}

	publish()

	for {
		select {
		case <-ctx.Done():
			slog.Info("received shutdown signal, disconnecting")
			client.Disconnect(250)
			return
		case <-ticker.C:
			publish()
		}
	}
}

func selectSensors(all []models.Sensor, only string) []models.Sensor {
	if only == "" {
		return all
	}
	want := make(map[string]bool)
	for _, id := range strings.Split(only, ",") {
		want[strings.TrimSpace(id)] = true
	}
	var out []models.Sensor
	for _, s := range all {
		if want[s.ID] {
			out = append(out, s)
		}
	}
	return out
}

// baseline is half the warning threshold, or 1 for sensors without one.
func baseline(s models.Sensor) float64 {
	for _, t := range s.Thresholds {
		if t.Band == models.BandWarning {
			return t.Value / 2
		}
	}
	return 1
}

// ramp climbs from the baseline to 20% past the highest threshold over 20 steps,
// then holds.
func ramp(s models.Sensor, step int) float64 {
	base := baseline(s)
	if len(s.Thresholds) == 0 {
		return base
	}
	top := s.Thresholds[len(s.Thresholds)-1].Value * 1.2
	frac := min(float64(step)/20, 1)
	return base + (top-base)*frac
}
