package threshold

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/mr1hm/go-disaster-notify/internal/models"
	"github.com/mr1hm/go-disaster-notify/internal/repository"
)

func rainSensor() *models.Sensor {
	return &models.Sensor{
		ID:     "RF-01",
		Name:   "Rain Gauge",
		Type:   models.SensorTypeRainfall,
		Unit:   "mm",
		CityID: "lagos",
		Thresholds: models.Thresholds{
			{Band: models.BandWarning, Value: 20},
			{Band: models.BandDanger, Value: 40},
		},
		HourlyThresholds: models.Thresholds{
			{Band: models.BandWarning, Value: 30},
			{Band: models.BandDanger, Value: 50},
		},
		DailyThresholds: models.Thresholds{
			{Band: models.BandWarning, Value: 75},
		},
	}
}

func (f *fixture) rainBurst(t *testing.T, values ...float64) {
	t.Helper()
	for _, v := range values {
		f.record(t, "RF-01", v)
	}
}

func TestCheckAllThresholds_EdgeTriggeredPerWindow(t *testing.T) {
	f := newFixture(t, rainSensor(), waterLevelSensor())
	ctx := context.Background()

	f.rainBurst(t, 10, 10, 10, 5)

	res, err := f.engine.CheckAllThresholds(ctx)
	require.NoError(t, err)
	assert.Equal(t, 1, res.Evaluated, "only sensors with cumulative thresholds")
	require.Len(t, res.Alerts, 1)
	assert.Equal(t, models.AlertSourceCumulativeHourly, res.Alerts[0].Source)
	assert.Equal(t, models.SeverityModerate, res.Alerts[0].Severity)

	// Same window band: no repeat
	res, err = f.engine.CheckAllThresholds(ctx)
	require.NoError(t, err)
	assert.Empty(t, res.Alerts)

	// Rising into danger supersedes the hourly alert
	f.rainBurst(t, 15)
	res, err = f.engine.CheckAllThresholds(ctx)
	require.NoError(t, err)
	require.Len(t, res.Alerts, 1)
	assert.Equal(t, models.SeveritySevere, res.Alerts[0].Severity)
	assert.NotEmpty(t, res.Alerts[0].Supersedes)
	assert.Equal(t, 2, f.handler.count())
}

func TestCheckAllThresholds_RearmsWhenWindowDrains(t *testing.T) {
	f := newFixture(t, rainSensor())
	ctx := context.Background()

	f.rainBurst(t, 15, 15)
	res, err := f.engine.CheckAllThresholds(ctx)
	require.NoError(t, err)
	require.Len(t, res.Alerts, 1)

	f.clock.Advance(2 * time.Hour)
	res, err = f.engine.CheckAllThresholds(ctx)
	require.NoError(t, err)
	assert.Empty(t, res.Alerts)

	s, err := f.db.GetSensor(ctx, "RF-01")
	require.NoError(t, err)
	assert.Equal(t, models.BandNormal, s.HourlyBand)
	assert.Empty(t, s.HourlyAlertID)

	f.rainBurst(t, 15, 15)
	res, err = f.engine.CheckAllThresholds(ctx)
	require.NoError(t, err)
	require.Len(t, res.Alerts, 1)
	assert.Equal(t, models.AlertSourceCumulativeHourly, res.Alerts[0].Source)
	assert.Empty(t, res.Alerts[0].Supersedes)
}

func TestCheckAllThresholds_DailyWindow(t *testing.T) {
	f := newFixture(t, rainSensor())
	ctx := context.Background()

	// Spread below the hourly threshold but above the daily one
	for i := 0; i < 4; i++ {
		f.rainBurst(t, 19.5)
		f.clock.Advance(2 * time.Hour)
	}

	res, err := f.engine.CheckAllThresholds(ctx)
	require.NoError(t, err)
	require.Len(t, res.Alerts, 1)
	assert.Equal(t, models.AlertSourceCumulativeDaily, res.Alerts[0].Source)
}

func TestApplyPrediction(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	a, err := f.engine.ApplyPrediction(ctx, models.RiskPrediction{CityID: "lagos", Period: "2026-W23", Risk: true})
	require.NoError(t, err)
	require.NotNil(t, a)
	assert.Equal(t, models.SeverityAdvisory, a.Severity)
	assert.Equal(t, models.AlertSourcePrediction, a.Source)

	again, err := f.engine.ApplyPrediction(ctx, models.RiskPrediction{CityID: "lagos", Period: "2026-W23", Risk: true})
	require.NoError(t, err)
	assert.Nil(t, again, "repeat of a live prediction")

	none, err := f.engine.ApplyPrediction(ctx, models.RiskPrediction{CityID: "lagos", Period: "2026-W24", Risk: false})
	require.NoError(t, err)
	assert.Nil(t, none)

	_, err = f.engine.ApplyPrediction(ctx, models.RiskPrediction{Risk: true})
	assert.Error(t, err)

	assert.Equal(t, 1, f.handler.count())
}

func TestExpireAlerts(t *testing.T) {
	f := newFixture(t, waterLevelSensor())
	ctx := context.Background()

	f.record(t, "WL-01", 2.5)
	f.clock.Advance(7 * time.Hour)

	n, err := f.engine.ExpireAlerts(ctx)
	require.NoError(t, err)
	assert.Equal(t, int64(1), n)
}

func TestCheckAllThresholds_FailedStateWriteLeavesNoAlert(t *testing.T) {
	f := newFixture(t, rainSensor())
	ctx := context.Background()

	f.rainBurst(t, 10, 10, 10, 5)

	f.engine.sensors = failingStore{f.db}
	res, err := f.engine.CheckAllThresholds(ctx)
	require.Error(t, err)
	assert.Empty(t, res.Alerts)

	alerts, err := f.db.ListAlerts(ctx, repository.AlertFilter{})
	require.NoError(t, err)
	assert.Empty(t, alerts)

	f.engine.sensors = f.db
	res, err = f.engine.CheckAllThresholds(ctx)
	require.NoError(t, err)
	require.Len(t, res.Alerts, 1)

	s, err := f.db.GetSensor(ctx, "RF-01")
	require.NoError(t, err)
	assert.Equal(t, res.Alerts[0].ID, s.HourlyAlertID)
	assert.Equal(t, models.BandWarning, s.HourlyBand)
}
