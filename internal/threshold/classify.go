package threshold

import (
	"time"

	"github.com/mr1hm/go-disaster-notify/internal/models"
)

// decide applies the edge-triggered rule. A band at or above warning emits
// only when it exceeds the highest band already alerted; dropping below
// warning re-arms the sensor.
func decide(alerted, band models.Band) (emit bool, nextAlerted models.Band) {
	if band < models.BandWarning {
		return false, models.BandNormal
	}
	if band > alerted {
		return true, band
	}
	return false, alerted
}

// rateOfChange is units per hour against the previous reading, 0 without one.
func rateOfChange(prev *float64, prevAt *time.Time, value float64, at time.Time) float64 {
	if prev == nil || prevAt == nil {
		return 0
	}
	elapsed := at.Sub(*prevAt).Hours()
	if elapsed <= 0 {
		return 0
	}
	return (value - *prev) / elapsed
}

func categoryFor(t models.SensorType) models.DisasterCategory {
	switch t {
	case models.SensorTypeWaterLevel, models.SensorTypeRainfall:
		return models.CategoryFlood
	case models.SensorTypeWeather:
		return models.CategoryStorm
	}
	return models.CategoryOther
}

func instructionsFor(b models.Band) string {
	switch b {
	case models.BandWarning:
		return "Stay alert, avoid river banks and follow official updates."
	case models.BandDanger:
		return "Move valuables to higher ground and be ready to evacuate."
	case models.BandCritical:
		return "Evacuate low-lying areas now and go to the nearest shelter."
	}
	return ""
}

func thresholdValue(ts models.Thresholds, b models.Band) float64 {
	for _, t := range ts {
		if t.Band == b {
			return t.Value
		}
	}
	return 0
}
