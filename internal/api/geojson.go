package api

import (
	"github.com/mr1hm/go-disaster-notify/internal/models"
)

type FeatureCollection struct {
	Type     string    `json:"type"`
	Features []Feature `json:"features"`
}
type Feature struct {
	Type       string         `json:"type"`
	Geometry   Geometry       `json:"geometry"`
	Properties map[string]any `json:"properties"`
}
type Geometry struct {
	Type        string    `json:"type"`
	Coordinates []float64 `json:"coordinates"`
}

func toGeoJSON(sensors []models.Sensor) FeatureCollection {
	features := make([]Feature, 0, len(sensors))

	for _, s := range sensors {
		props := map[string]any{
			"id":        s.ID,
			"name":      s.Name,
			"type":      string(s.Type),
			"unit":      s.Unit,
			"city_id":   s.CityID,
			"region_id": s.RegionID,
			"status":    s.Status.String(),
		}
		if s.LastValue != nil {
			props["value"] = *s.LastValue
		}
		if s.LastReadingAt != nil {
			props["timestamp"] = *s.LastReadingAt
		}
		if s.ActiveAlertID != "" {
			props["alert_id"] = s.ActiveAlertID
		}

		features = append(features, Feature{
			Type: "Feature",
			Geometry: Geometry{
				Type:        "Point",
				Coordinates: []float64{s.Longitude, s.Latitude},
			},
			Properties: props,
		})
	}

	return FeatureCollection{
		Type:     "FeatureCollection",
		Features: features,
	}
}
