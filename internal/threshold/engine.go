package threshold

import (
	"context"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/jonboulle/clockwork"

	"github.com/mr1hm/go-disaster-notify/internal/apperr"
	"github.com/mr1hm/go-disaster-notify/internal/eventbus"
	"github.com/mr1hm/go-disaster-notify/internal/hub"
	"github.com/mr1hm/go-disaster-notify/internal/models"
	"github.com/mr1hm/go-disaster-notify/internal/observability"
	"github.com/mr1hm/go-disaster-notify/internal/repository"
	"github.com/mr1hm/go-disaster-notify/internal/worker"
)

// Publisher delivers one event to several hub topics.
type Publisher interface {
	PublishMany(topics []string, ev hub.Event) int
}

// Namer resolves display names for areas.
type Namer interface {
	CityName(id string) string
}

type Config struct {
	AlertTTL time.Duration
	Stripes  int
}

type Engine struct {
	sensors   repository.SensorRepository
	alerts    repository.AlertRepository
	publisher Publisher
	handler   eventbus.Handler
	namer     Namer
	locks     *worker.KeyedMutex
	clock     clockwork.Clock
	alertTTL  time.Duration
	logger    *slog.Logger
	metrics   *observability.Metrics
}

type Deps struct {
	Sensors   repository.SensorRepository
	Alerts    repository.AlertRepository
	Publisher Publisher
	Handler   eventbus.Handler
	Namer     Namer
	Clock     clockwork.Clock
	Logger    *slog.Logger
	Metrics   *observability.Metrics
}

func NewEngine(cfg Config, deps Deps) *Engine {
	if cfg.AlertTTL <= 0 {
		cfg.AlertTTL = 6 * time.Hour
	}
	if cfg.Stripes <= 0 {
		cfg.Stripes = 64
	}
	if deps.Clock == nil {
		deps.Clock = clockwork.NewRealClock()
	}
	return &Engine{
		sensors:   deps.Sensors,
		alerts:    deps.Alerts,
		publisher: deps.Publisher,
		handler:   deps.Handler,
		namer:     deps.Namer,
		locks:     worker.NewKeyedMutex(cfg.Stripes),
		clock:     deps.Clock,
		alertTTL:  cfg.AlertTTL,
		logger:    deps.Logger,
		metrics:   deps.Metrics,
	}
}

// Result describes one recorded reading.
type Result struct {
	Reading      models.SensorReading
	Sensor       models.Sensor
	PreviousBand models.Band
	Alert        *models.Alert
}

// RecordReading classifies and stores a reading for a known sensor. Readings
// for one sensor are serialized. The reading, the sensor state and any alert
// it raises are written together; on failure nothing is kept or emitted and
// the caller may retry.
func (e *Engine) RecordReading(ctx context.Context, sensorID string, value float64, ts time.Time) (*Result, error) {
	res, err := e.record(ctx, sensorID, value, ts)
	if err != nil {
		return nil, err
	}

	e.publishReading(res)
	if res.Alert != nil {
		e.emit(ctx, res.Alert)
	}
	return res, nil
}

func (e *Engine) record(ctx context.Context, sensorID string, value float64, ts time.Time) (*Result, error) {
	unlock := e.locks.Lock(sensorID)
	defer unlock()

	sensor, err := e.sensors.GetSensor(ctx, sensorID)
	if err != nil {
		if apperr.KindOf(err) == apperr.KindNotFound {
			e.metrics.ReadingsRejected.WithLabelValues("not_found").Inc()
		}
		return nil, err
	}

	if !sensor.InRange(value) {
		e.metrics.ReadingsRejected.WithLabelValues("out_of_range").Inc()
		return nil, apperr.Validation("value %g outside physical range of sensor %s", value, sensorID)
	}

	now := e.clock.Now()
	if ts.IsZero() {
		ts = now
	}
	if sensor.LastReadingAt != nil && ts.Before(*sensor.LastReadingAt) {
		e.metrics.ReadingsRejected.WithLabelValues("stale").Inc()
		return nil, apperr.Validation("reading at %s is older than last reading of sensor %s", ts.Format(time.RFC3339), sensorID)
	}

	band := sensor.Thresholds.Classify(value)
	reading := models.SensorReading{
		SensorID:     sensor.ID,
		Value:        value,
		Unit:         sensor.Unit,
		Timestamp:    ts,
		Valid:        true,
		RateOfChange: rateOfChange(sensor.LastValue, sensor.LastReadingAt, value, ts),
		Band:         band,
	}

	res := &Result{PreviousBand: sensor.Status}

	emit, alerted := decide(sensor.AlertedBand, band)
	if band < models.BandWarning {
		sensor.ActiveAlertID = ""
	}
	var raised []*models.Alert
	if emit {
		a := e.newSensorAlert(sensor, band, value, now)
		a.Supersedes = sensor.ActiveAlertID
		sensor.ActiveAlertID = a.ID
		res.Alert = a
		raised = append(raised, a)
	}

	sensor.Status = band
	sensor.AlertedBand = alerted
	sensor.LastValue = &reading.Value
	sensor.LastReadingAt = &reading.Timestamp
	sensor.UpdatedAt = now

	if err := e.sensors.RecordReading(ctx, &reading, sensor, raised...); err != nil {
		e.metrics.ReadingsRejected.WithLabelValues("store").Inc()
		return nil, fmt.Errorf("record reading for %s: %w", sensorID, err)
	}

	e.metrics.ReadingsRecorded.WithLabelValues(band.String()).Inc()
	res.Reading = reading
	res.Sensor = *sensor
	return res, nil
}

func (e *Engine) newSensorAlert(s *models.Sensor, band models.Band, value float64, now time.Time) *models.Alert {
	category := categoryFor(s.Type)
	place := e.cityName(s.CityID)
	return &models.Alert{
		ID:       uuid.NewString(),
		Category: category,
		Severity: models.SeverityForBand(band),
		Status:   models.AlertStatusActive,
		Title:    fmt.Sprintf("%s %s: %s", category.Label(), band, s.Name),
		Description: fmt.Sprintf("%s at %s (%s) reached %.2f %s, at or above the %s threshold of %.2f %s.",
			measureLabel(s.Type), s.Name, place, value, s.Unit, band, thresholdValue(s.Thresholds, band), s.Unit),
		Instructions: instructionsFor(band),
		Areas:        []models.AffectedArea{{CityID: s.CityID, RegionID: s.RegionID, Description: place}},
		Source:       models.AlertSourceSensor,
		SensorID:     s.ID,
		IssuedAt:     now,
		ExpiresAt:    now.Add(e.alertTTL),
		CreatedAt:    now,
		UpdatedAt:    now,
	}
}

func measureLabel(t models.SensorType) string {
	switch t {
	case models.SensorTypeWaterLevel:
		return "Water level"
	case models.SensorTypeRainfall:
		return "Rainfall"
	case models.SensorTypeWeather:
		return "Wind speed"
	}
	return strings.ReplaceAll(string(t), "_", " ")
}

func (e *Engine) cityName(id string) string {
	if e.namer == nil {
		return id
	}
	return e.namer.CityName(id)
}

func readingTopics(s *models.Sensor) []string {
	topics := []string{hub.SensorTopic(s.ID), hub.CityTopic(s.CityID), hub.TopicAllSensors}
	if s.RegionID != "" {
		topics = append(topics, hub.RegionTopic(s.RegionID))
	}
	return topics
}

func (e *Engine) publishReading(res *Result) {
	if e.publisher == nil {
		return
	}
	s := &res.Sensor
	topics := readingTopics(s)
	e.publisher.PublishMany(topics, hub.Event{
		Type: hub.EventSensorUpdate,
		Data: hub.SensorPayload{
			SensorID:     s.ID,
			Name:         s.Name,
			Type:         string(s.Type),
			CityID:       s.CityID,
			RegionID:     s.RegionID,
			Value:        res.Reading.Value,
			Unit:         res.Reading.Unit,
			Status:       res.Reading.Band.String(),
			RateOfChange: res.Reading.RateOfChange,
			Timestamp:    res.Reading.Timestamp,
		},
	})
	if res.PreviousBand != res.Reading.Band {
		e.publisher.PublishMany(topics, hub.Event{
			Type: hub.EventSensorStatusChanged,
			Data: hub.StatusChangePayload{
				SensorID: s.ID,
				CityID:   s.CityID,
				From:     res.PreviousBand.String(),
				To:       res.Reading.Band.String(),
			},
		})
	}
}

func (e *Engine) emit(ctx context.Context, a *models.Alert) {
	e.metrics.AlertsEmitted.WithLabelValues(string(a.Source), a.Severity.String()).Inc()
	e.logger.Info("alert emitted",
		"alert_id", a.ID,
		"sensor_id", a.SensorID,
		"severity", a.Severity.String(),
		"source", string(a.Source),
		"supersedes", a.Supersedes,
	)
	if e.handler != nil {
		e.handler.HandleAlert(ctx, a)
	}
}
