package models

import (
	"fmt"
	"strings"
	"time"
)

type DisasterCategory string

const (
	CategoryFlood      DisasterCategory = "flood"
	CategoryFire       DisasterCategory = "fire"
	CategoryStorm      DisasterCategory = "storm"
	CategoryEarthquake DisasterCategory = "earthquake"
	CategoryLandslide  DisasterCategory = "landslide"
	CategoryDrought    DisasterCategory = "drought"
	CategoryOther      DisasterCategory = "other"
)

// Categories lists the categories in menu order.
var Categories = []DisasterCategory{
	CategoryFlood, CategoryFire, CategoryStorm, CategoryEarthquake, CategoryLandslide, CategoryDrought, CategoryOther,
}

func ParseCategory(s string) (DisasterCategory, bool) {
	c := DisasterCategory(strings.ToLower(strings.TrimSpace(s)))
	for _, known := range Categories {
		if c == known {
			return c, true
		}
	}
	return "", false
}

// Label is the human-readable category name used in menus and messages.
func (c DisasterCategory) Label() string {
	if c == "" {
		return "Other"
	}
	return strings.ToUpper(string(c[:1])) + string(c[1:])
}

// Severity is a 5-level ordinal, advisory lowest.
type Severity int

const (
	SeverityUnknown Severity = iota
	SeverityAdvisory
	SeverityMinor
	SeverityModerate
	SeveritySevere
	SeverityExtreme
)

func (s Severity) String() string {
	switch s {
	case SeverityAdvisory:
		return "advisory"
	case SeverityMinor:
		return "minor"
	case SeverityModerate:
		return "moderate"
	case SeveritySevere:
		return "severe"
	case SeverityExtreme:
		return "extreme"
	default:
		return "unknown"
	}
}

func ParseSeverity(s string) (Severity, error) {
	switch strings.ToLower(s) {
	case "advisory":
		return SeverityAdvisory, nil
	case "minor":
		return SeverityMinor, nil
	case "moderate":
		return SeverityModerate, nil
	case "severe":
		return SeveritySevere, nil
	case "extreme":
		return SeverityExtreme, nil
	}
	return SeverityUnknown, fmt.Errorf("unknown severity %q", s)
}

func (s Severity) MarshalText() ([]byte, error) {
	return []byte(s.String()), nil
}

func (s *Severity) UnmarshalText(text []byte) error {
	v, err := ParseSeverity(string(text))
	if err != nil {
		return err
	}
	*s = v
	return nil
}

// SeverityForBand maps a sensor band onto the alert scale.
func SeverityForBand(b Band) Severity {
	switch b {
	case BandWarning:
		return SeverityModerate
	case BandDanger:
		return SeveritySevere
	case BandCritical:
		return SeverityExtreme
	default:
		return SeverityAdvisory
	}
}

type AlertStatus string

const (
	AlertStatusDraft     AlertStatus = "draft"
	AlertStatusActive    AlertStatus = "active"
	AlertStatusUpdated   AlertStatus = "updated"
	AlertStatusExpired   AlertStatus = "expired"
	AlertStatusCancelled AlertStatus = "cancelled"
)

func (s AlertStatus) Terminal() bool {
	return s == AlertStatusExpired || s == AlertStatusCancelled
}

var alertTransitions = map[AlertStatus][]AlertStatus{
	AlertStatusDraft:   {AlertStatusActive, AlertStatusCancelled},
	AlertStatusActive:  {AlertStatusUpdated, AlertStatusExpired, AlertStatusCancelled},
	AlertStatusUpdated: {AlertStatusUpdated, AlertStatusExpired, AlertStatusCancelled},
}

type AlertSource string

const (
	AlertSourceSensor           AlertSource = "sensor"
	AlertSourceCumulativeHourly AlertSource = "cumulative_hourly"
	AlertSourceCumulativeDaily  AlertSource = "cumulative_daily"
	AlertSourceManual           AlertSource = "manual"
	AlertSourcePrediction       AlertSource = "prediction"
)

type AffectedArea struct {
	CityID      string `json:"city_id,omitempty"`
	RegionID    string `json:"region_id,omitempty"`
	Description string `json:"description,omitempty"`
}

type Alert struct {
	ID           string
	Category     DisasterCategory
	Severity     Severity
	Status       AlertStatus
	Title        string
	Description  string
	Instructions string // recommended actions
	Areas        []AffectedArea
	Source       AlertSource
	SensorID     string
	Supersedes   string
	SupersededBy string
	IssuedAt     time.Time
	ExpiresAt    time.Time
	CreatedAt    time.Time
	UpdatedAt    time.Time
}

// Transition moves the alert to a new status, rejecting moves out of terminal
// states and any move the lifecycle does not allow.
func (a *Alert) Transition(to AlertStatus, now time.Time) error {
	for _, allowed := range alertTransitions[a.Status] {
		if allowed == to {
			a.Status = to
			a.UpdatedAt = now
			return nil
		}
	}
	return fmt.Errorf("alert %s: invalid transition %s -> %s", a.ID, a.Status, to)
}

// Supersede expires a and marks next as its update. Severity may move either
// way across a supersession; next carries the new severity.
func (a *Alert) Supersede(next *Alert, now time.Time) error {
	if err := a.Transition(AlertStatusExpired, now); err != nil {
		return err
	}
	if err := next.Transition(AlertStatusUpdated, now); err != nil {
		return err
	}
	a.SupersededBy = next.ID
	next.Supersedes = a.ID
	return nil
}

// CityIDs returns the distinct city ids of the affected areas.
func (a *Alert) CityIDs() []string {
	seen := make(map[string]bool)
	var ids []string
	for _, area := range a.Areas {
		if area.CityID != "" && !seen[area.CityID] {
			seen[area.CityID] = true
			ids = append(ids, area.CityID)
		}
	}
	return ids
}

// Incident is a manually reported emergency.
type Incident struct {
	Category      DisasterCategory
	Severity      Severity
	CityID        string
	RegionID      string
	Location      string
	Description   string
	ReporterPhone string
	Channel       string // origin: api, ussd, ivr
}

// RiskPrediction is the output of the offline risk model for a location and period.
type RiskPrediction struct {
	CityID   string
	RegionID string
	Period   string
	Risk     bool
}
