package models

import (
	"fmt"
	"strings"
	"time"
)

type SensorType string

const (
	SensorTypeWaterLevel SensorType = "water_level"
	SensorTypeRainfall   SensorType = "rainfall"
	SensorTypeWeather    SensorType = "weather"
)

func (t SensorType) Valid() bool {
	switch t {
	case SensorTypeWaterLevel, SensorTypeRainfall, SensorTypeWeather:
		return true
	}
	return false
}

// Band is the ordinal classification of a measurement against a sensor's thresholds.
type Band int

const (
	BandNormal Band = iota
	BandWarning
	BandDanger
	BandCritical
)

func (b Band) String() string {
	switch b {
	case BandWarning:
		return "warning"
	case BandDanger:
		return "danger"
	case BandCritical:
		return "critical"
	default:
		return "normal"
	}
}

func ParseBand(s string) (Band, error) {
	switch strings.ToLower(s) {
	case "normal":
		return BandNormal, nil
	case "warning":
		return BandWarning, nil
	case "danger":
		return BandDanger, nil
	case "critical":
		return BandCritical, nil
	}
	return BandNormal, fmt.Errorf("unknown band %q", s)
}

func (b Band) MarshalText() ([]byte, error) {
	return []byte(b.String()), nil
}

func (b *Band) UnmarshalText(text []byte) error {
	v, err := ParseBand(string(text))
	if err != nil {
		return err
	}
	*b = v
	return nil
}

// Threshold is the lower bound of a band.
type Threshold struct {
	Band  Band    `json:"band"`
	Value float64 `json:"value"`
}

// Thresholds are kept sorted by band ascending.
type Thresholds []Threshold

// Classify scans from the highest band down and returns the first band whose
// threshold the value meets or exceeds. Below every threshold is BandNormal.
func (ts Thresholds) Classify(value float64) Band {
	for i := len(ts) - 1; i >= 0; i-- {
		if value >= ts[i].Value {
			return ts[i].Band
		}
	}
	return BandNormal
}

// Validate checks that bands are strictly ascending above Normal and values
// strictly increase with them.
func (ts Thresholds) Validate() error {
	for i, t := range ts {
		if t.Band <= BandNormal || t.Band > BandCritical {
			return fmt.Errorf("threshold %d: invalid band %s", i, t.Band)
		}
		if i == 0 {
			continue
		}
		prev := ts[i-1]
		if t.Band <= prev.Band {
			return fmt.Errorf("threshold %d: band %s not above %s", i, t.Band, prev.Band)
		}
		if t.Value <= prev.Value {
			return fmt.Errorf("threshold %d: %s value %g must exceed %s value %g", i, t.Band, t.Value, prev.Band, prev.Value)
		}
	}
	return nil
}

type Sensor struct {
	ID        string
	Name      string
	Type      SensorType
	Unit      string
	CityID    string
	RegionID  string
	Latitude  float64
	Longitude float64
	MinValue  *float64 // physical range, nil when unbounded
	MaxValue  *float64

	Thresholds       Thresholds
	HourlyThresholds Thresholds // cumulative rainfall over the last hour
	DailyThresholds  Thresholds // cumulative rainfall over the last 24 hours

	// State below is owned by the threshold engine.
	Status        Band
	AlertedBand   Band // highest band alerted since the last drop below warning
	HourlyBand    Band
	DailyBand     Band
	ActiveAlertID string
	HourlyAlertID string
	DailyAlertID  string
	LastValue     *float64
	LastReadingAt *time.Time
	UpdatedAt     time.Time
}

func (s *Sensor) InRange(v float64) bool {
	if s.MinValue != nil && v < *s.MinValue {
		return false
	}
	if s.MaxValue != nil && v > *s.MaxValue {
		return false
	}
	return true
}

// HasCumulative reports whether the sensor is evaluated by the periodic window sweep.
func (s *Sensor) HasCumulative() bool {
	return len(s.HourlyThresholds) > 0 || len(s.DailyThresholds) > 0
}

type SensorReading struct {
	ID           int64
	SensorID     string
	Value        float64
	Unit         string
	Timestamp    time.Time
	Valid        bool
	RateOfChange float64 // units per hour against the previous reading
	Band         Band
}
