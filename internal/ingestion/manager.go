// Package ingestion feeds sensor readings into the threshold engine from MQTT
// and from an optional HTTP gauge feed.
package ingestion

import (
	"context"
	"fmt"
	"log/slog"
	"net/http"
	"sync"
	"time"

	"github.com/jonboulle/clockwork"

	"github.com/mr1hm/go-disaster-notify/internal/apperr"
	"github.com/mr1hm/go-disaster-notify/internal/observability"
	"github.com/mr1hm/go-disaster-notify/internal/threshold"
	"github.com/mr1hm/go-disaster-notify/internal/worker"
)

// Recorder is the threshold engine's entry point.
type Recorder interface {
	RecordReading(ctx context.Context, sensorID string, value float64, ts time.Time) (*threshold.Result, error)
}

// Reading is one measurement as received from a source.
type Reading struct {
	SensorID  string    `json:"sensorId"`
	Value     *float64  `json:"value"`
	Timestamp time.Time `json:"timestamp"`

	source string
}

type Config struct {
	Lanes        int
	BufferSize   int
	MQTTTopic    string
	FeedURL      string
	FeedInterval time.Duration
}

type Manager struct {
	cfg        Config
	recorder   Recorder
	mqtt       MQTTSubscriber
	lanes      *worker.Lanes[Reading]
	httpClient *http.Client
	clock      clockwork.Clock
	logger     *slog.Logger
	metrics    *observability.Metrics

	ctx        context.Context
	stopPoller context.CancelFunc
	wg         sync.WaitGroup
}

type Deps struct {
	Recorder Recorder
	// MQTT is optional; without it only the feed is polled.
	MQTT    MQTTSubscriber
	Clock   clockwork.Clock
	Logger  *slog.Logger
	Metrics *observability.Metrics
}

func NewManager(cfg Config, deps Deps) *Manager {
	if cfg.Lanes <= 0 {
		cfg.Lanes = 8
	}
	if cfg.BufferSize <= 0 {
		cfg.BufferSize = 256
	}
	if cfg.MQTTTopic == "" {
		cfg.MQTTTopic = "sensors/+/readings"
	}
	if deps.Clock == nil {
		deps.Clock = clockwork.NewRealClock()
	}
	m := &Manager{
		cfg:        cfg,
		recorder:   deps.Recorder,
		mqtt:       deps.MQTT,
		httpClient: &http.Client{Timeout: 15 * time.Second},
		clock:      deps.Clock,
		logger:     deps.Logger,
		metrics:    deps.Metrics,
	}
	m.lanes = worker.NewLanes(cfg.Lanes, cfg.BufferSize, m.process).OnError(func(r Reading, err error) {
		m.logger.Error("record reading", "sensor_id", r.SensorID, "source", r.source, "error", err)
	})
	return m
}

// Start launches the lanes, subscribes to MQTT and starts the feed poller.
func (m *Manager) Start(ctx context.Context) error {
	m.ctx = ctx
	m.lanes.Start(ctx)

	if m.mqtt != nil {
		if err := m.subscribe(); err != nil {
			return err
		}
	}

	if m.cfg.FeedURL != "" && m.cfg.FeedInterval > 0 {
		pollCtx, cancel := context.WithCancel(ctx)
		m.stopPoller = cancel
		m.wg.Add(1)
		go m.runPoller(pollCtx)
	}
	return nil
}

// submit queues r on its sensor's lane so readings of one sensor keep order.
func (m *Manager) submit(r Reading) error {
	if r.SensorID == "" || r.Value == nil {
		m.metrics.IngestMessages.WithLabelValues(r.source, "malformed").Inc()
		return apperr.Validation("reading requires sensorId and value")
	}
	if err := m.lanes.Submit(m.ctx, r.SensorID, r); err != nil {
		return fmt.Errorf("queue reading for %s: %w", r.SensorID, err)
	}
	return nil
}

func (m *Manager) process(ctx context.Context, r Reading) error {
	res, err := m.recorder.RecordReading(ctx, r.SensorID, *r.Value, r.Timestamp)
	if err != nil {
		switch apperr.KindOf(err) {
		case apperr.KindValidation, apperr.KindNotFound:
			m.metrics.IngestMessages.WithLabelValues(r.source, "rejected").Inc()
			m.logger.Warn("reading rejected", "sensor_id", r.SensorID, "source", r.source, "error", err)
			return nil
		}
		return err
	}
	m.metrics.IngestMessages.WithLabelValues(r.source, "ok").Inc()
	if res.Alert != nil {
		m.logger.Info("reading raised alert", "sensor_id", r.SensorID, "alert_id", res.Alert.ID)
	}
	return nil
}

// Stop unsubscribes, stops the poller and drains queued readings.
func (m *Manager) Stop() {
	if m.mqtt != nil {
		m.unsubscribe()
	}
	if m.stopPoller != nil {
		m.stopPoller()
	}
	m.wg.Wait()
	m.lanes.Stop()
	m.logger.Info("ingestion manager stopped")
}
