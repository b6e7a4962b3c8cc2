package threshold

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"

	"github.com/mr1hm/go-disaster-notify/internal/models"
)

type window struct {
	name       string
	span       time.Duration
	source     models.AlertSource
	thresholds func(*models.Sensor) models.Thresholds
	band       func(*models.Sensor) *models.Band
	alertID    func(*models.Sensor) *string
}

var windows = []window{
	{
		name:       "hour",
		span:       time.Hour,
		source:     models.AlertSourceCumulativeHourly,
		thresholds: func(s *models.Sensor) models.Thresholds { return s.HourlyThresholds },
		band:       func(s *models.Sensor) *models.Band { return &s.HourlyBand },
		alertID:    func(s *models.Sensor) *string { return &s.HourlyAlertID },
	},
	{
		name:       "24 hours",
		span:       24 * time.Hour,
		source:     models.AlertSourceCumulativeDaily,
		thresholds: func(s *models.Sensor) models.Thresholds { return s.DailyThresholds },
		band:       func(s *models.Sensor) *models.Band { return &s.DailyBand },
		alertID:    func(s *models.Sensor) *string { return &s.DailyAlertID },
	},
}

type SweepResult struct {
	Evaluated int
	Alerts    []*models.Alert
}

// CheckAllThresholds sums each cumulative sensor's readings over the rolling
// hour and 24 hours and applies the edge-triggered rule to each window
// independently. A window re-arms once its total falls below warning.
func (e *Engine) CheckAllThresholds(ctx context.Context) (SweepResult, error) {
	var result SweepResult

	sensors, err := e.sensors.ListSensors(ctx)
	if err != nil {
		return result, fmt.Errorf("list sensors: %w", err)
	}

	var errs []error
	for i := range sensors {
		if !sensors[i].HasCumulative() {
			continue
		}
		if err := ctx.Err(); err != nil {
			return result, err
		}
		alerts, err := e.checkSensor(ctx, sensors[i].ID)
		if err != nil {
			errs = append(errs, err)
			continue
		}
		result.Evaluated++
		result.Alerts = append(result.Alerts, alerts...)
	}

	for _, a := range result.Alerts {
		e.emit(ctx, a)
	}
	return result, errors.Join(errs...)
}

func (e *Engine) checkSensor(ctx context.Context, sensorID string) ([]*models.Alert, error) {
	unlock := e.locks.Lock(sensorID)
	defer unlock()

	// Reload under the lock; live readings may have moved state since the list.
	sensor, err := e.sensors.GetSensor(ctx, sensorID)
	if err != nil {
		return nil, err
	}

	now := e.clock.Now()
	var alerts []*models.Alert
	changed := false

	for _, w := range windows {
		ths := w.thresholds(sensor)
		if len(ths) == 0 {
			continue
		}
		total, err := e.sensors.SumReadings(ctx, sensor.ID, now.Add(-w.span), now)
		if err != nil {
			return nil, err
		}

		bandPtr, idPtr := w.band(sensor), w.alertID(sensor)
		band := ths.Classify(total)
		emit, alerted := decide(*bandPtr, band)

		if band < models.BandWarning && *idPtr != "" {
			*idPtr = ""
			changed = true
		}
		if emit {
			a := e.newCumulativeAlert(sensor, w, band, total, ths, now)
			a.Supersedes = *idPtr
			*idPtr = a.ID
			alerts = append(alerts, a)
		}
		if alerted != *bandPtr {
			*bandPtr = alerted
			changed = true
		}
	}

	if changed || len(alerts) > 0 {
		sensor.UpdatedAt = now
		if err := e.sensors.UpdateSensorState(ctx, sensor, alerts...); err != nil {
			return nil, fmt.Errorf("update cumulative state for %s: %w", sensor.ID, err)
		}
	}
	return alerts, nil
}

func (e *Engine) newCumulativeAlert(s *models.Sensor, w window, band models.Band, total float64, ths models.Thresholds, now time.Time) *models.Alert {
	place := e.cityName(s.CityID)
	return &models.Alert{
		ID:       uuid.NewString(),
		Category: models.CategoryFlood,
		Severity: models.SeverityForBand(band),
		Status:   models.AlertStatusActive,
		Title:    fmt.Sprintf("Heavy rainfall %s: %s", band, place),
		Description: fmt.Sprintf("%.1f %s of rain recorded at %s in the last %s, at or above the %s threshold of %.1f %s.",
			total, s.Unit, s.Name, w.name, band, thresholdValue(ths, band), s.Unit),
		Instructions: instructionsFor(band),
		Areas:        []models.AffectedArea{{CityID: s.CityID, RegionID: s.RegionID, Description: place}},
		Source:       w.source,
		SensorID:     s.ID,
		IssuedAt:     now,
		ExpiresAt:    now.Add(e.alertTTL),
		CreatedAt:    now,
		UpdatedAt:    now,
	}
}
