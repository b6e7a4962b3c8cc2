package models

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestThresholds_Classify(t *testing.T) {
	ts := Thresholds{
		{Band: BandWarning, Value: 2.0},
		{Band: BandDanger, Value: 3.0},
		{Band: BandCritical, Value: 4.5},
	}

	tests := []struct {
		value float64
		want  Band
	}{
		{0.5, BandNormal},
		{1.99, BandNormal},
		{2.0, BandWarning},
		{2.6, BandWarning},
		{3.0, BandDanger},
		{4.49, BandDanger},
		{4.5, BandCritical},
		{100, BandCritical},
	}
	for _, tt := range tests {
		assert.Equal(t, tt.want, ts.Classify(tt.value), "value %g", tt.value)
	}
}

func TestThresholds_ClassifyPartialSet(t *testing.T) {
	ts := Thresholds{{Band: BandDanger, Value: 10}}
	assert.Equal(t, BandNormal, ts.Classify(9))
	assert.Equal(t, BandDanger, ts.Classify(10))
}

func TestThresholds_Validate(t *testing.T) {
	require.NoError(t, Thresholds{{BandWarning, 1}, {BandDanger, 2}}.Validate())
	require.Error(t, Thresholds{{BandDanger, 1}, {BandWarning, 2}}.Validate())
	require.Error(t, Thresholds{{BandWarning, 2}, {BandDanger, 2}}.Validate())
	require.Error(t, Thresholds{{BandNormal, 0}}.Validate())
}

func TestAlert_TransitionLifecycle(t *testing.T) {
	now := time.Now()
	a := &Alert{ID: "a1", Status: AlertStatusDraft}

	require.NoError(t, a.Transition(AlertStatusActive, now))
	require.NoError(t, a.Transition(AlertStatusUpdated, now))
	require.NoError(t, a.Transition(AlertStatusExpired, now))
	assert.True(t, a.Status.Terminal())

	assert.Error(t, a.Transition(AlertStatusActive, now))
}

func TestAlert_Supersede(t *testing.T) {
	now := time.Now()
	old := &Alert{ID: "a1", Status: AlertStatusActive, Severity: SeverityModerate}
	next := &Alert{ID: "a2", Status: AlertStatusActive, Severity: SeveritySevere}

	require.NoError(t, old.Supersede(next, now))
	assert.Equal(t, AlertStatusExpired, old.Status)
	assert.Equal(t, "a2", old.SupersededBy)
	assert.Equal(t, AlertStatusUpdated, next.Status)
	assert.Equal(t, "a1", next.Supersedes)

	// An expired alert cannot be superseded again
	later := &Alert{ID: "a3", Status: AlertStatusActive}
	assert.Error(t, old.Supersede(later, now))
	assert.Equal(t, AlertStatusActive, later.Status)
	assert.Empty(t, later.Supersedes)
}

func TestDeliveryRecord_Terminal(t *testing.T) {
	next := time.Now()
	assert.True(t, (&DeliveryRecord{Status: DeliveryDelivered}).Terminal())
	assert.True(t, (&DeliveryRecord{Status: DeliveryFailed}).Terminal())
	assert.False(t, (&DeliveryRecord{Status: DeliveryFailed, NextRetryAt: &next}).Terminal())
	assert.False(t, (&DeliveryRecord{Status: DeliverySent}).Terminal())
}

func TestSeverityForBand(t *testing.T) {
	assert.Equal(t, SeverityModerate, SeverityForBand(BandWarning))
	assert.Equal(t, SeveritySevere, SeverityForBand(BandDanger))
	assert.Equal(t, SeverityExtreme, SeverityForBand(BandCritical))
}
