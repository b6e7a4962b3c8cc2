package hub

import (
	"strings"
	"time"

	"github.com/mr1hm/go-disaster-notify/internal/models"
)

const (
	EventSensorUpdate        = "sensorUpdate"
	EventSensorStatusChanged = "sensorStatusChanged"
	EventDisasterAlert       = "disasterAlert"
	EventHeartbeat           = "heartbeat"
	EventPong                = "pong"
	EventError               = "error"
)

const (
	TopicAll        = "all"
	TopicAllSensors = "sensors:all"
)

func SensorTopic(id string) string { return "sensor:" + id }
func CityTopic(id string) string   { return "city:" + id }
func RegionTopic(id string) string { return "region:" + id }

// ValidTopic accepts the two global topics and sensor/city/region topics with a non-empty id.
func ValidTopic(topic string) bool {
	if topic == TopicAll || topic == TopicAllSensors {
		return true
	}
	for _, prefix := range []string{"sensor:", "city:", "region:"} {
		if id, ok := strings.CutPrefix(topic, prefix); ok {
			return id != ""
		}
	}
	return false
}

type Event struct {
	Type      string    `json:"type"`
	Topic     string    `json:"topic,omitempty"`
	Data      any       `json:"data,omitempty"`
	Timestamp time.Time `json:"timestamp"`
}

type SensorPayload struct {
	SensorID     string    `json:"sensorId"`
	Name         string    `json:"name"`
	Type         string    `json:"type"`
	CityID       string    `json:"cityId"`
	RegionID     string    `json:"regionId,omitempty"`
	Value        float64   `json:"value"`
	Unit         string    `json:"unit"`
	Status       string    `json:"status"`
	RateOfChange float64   `json:"rateOfChange"`
	Timestamp    time.Time `json:"timestamp"`
}

type StatusChangePayload struct {
	SensorID string `json:"sensorId"`
	CityID   string `json:"cityId"`
	From     string `json:"from"`
	To       string `json:"to"`
}

type AlertPayload struct {
	ID           string    `json:"id"`
	Category     string    `json:"category"`
	Severity     string    `json:"severity"`
	Status       string    `json:"status"`
	Title        string    `json:"title"`
	Description  string    `json:"description,omitempty"`
	Instructions string    `json:"instructions,omitempty"`
	CityIDs      []string  `json:"cityIds,omitempty"`
	Source       string    `json:"source"`
	SensorID     string    `json:"sensorId,omitempty"`
	Supersedes   string    `json:"supersedes,omitempty"`
	IssuedAt     time.Time `json:"issuedAt"`
	ExpiresAt    time.Time `json:"expiresAt"`
}

func NewAlertPayload(a *models.Alert) AlertPayload {
	return AlertPayload{
		ID:           a.ID,
		Category:     string(a.Category),
		Severity:     a.Severity.String(),
		Status:       string(a.Status),
		Title:        a.Title,
		Description:  a.Description,
		Instructions: a.Instructions,
		CityIDs:      a.CityIDs(),
		Source:       string(a.Source),
		SensorID:     a.SensorID,
		Supersedes:   a.Supersedes,
		IssuedAt:     a.IssuedAt,
		ExpiresAt:    a.ExpiresAt,
	}
}

// AlertTopics are the topics an alert is published to: the global topic plus
// every affected city and region.
func AlertTopics(a *models.Alert) []string {
	topics := []string{TopicAll}
	seen := map[string]bool{TopicAll: true}
	for _, area := range a.Areas {
		for _, t := range []string{cityOrEmpty(area.CityID), regionOrEmpty(area.RegionID)} {
			if t != "" && !seen[t] {
				seen[t] = true
				topics = append(topics, t)
			}
		}
	}
	return topics
}

func cityOrEmpty(id string) string {
	if id == "" {
		return ""
	}
	return CityTopic(id)
}

func regionOrEmpty(id string) string {
	if id == "" {
		return ""
	}
	return RegionTopic(id)
}
