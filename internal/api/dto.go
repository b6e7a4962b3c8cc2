package api

import (
	"time"

	"github.com/mr1hm/go-disaster-notify/internal/models"
)

type alertResponse struct {
	ID           string                `json:"id"`
	Category     string                `json:"category"`
	Severity     models.Severity       `json:"severity"`
	Status       string                `json:"status"`
	Title        string                `json:"title"`
	Description  string                `json:"description"`
	Instructions string                `json:"instructions,omitempty"`
	Areas        []models.AffectedArea `json:"areas"`
	Source       string                `json:"source"`
	SensorID     string                `json:"sensorId,omitempty"`
	Supersedes   string                `json:"supersedes,omitempty"`
	SupersededBy string                `json:"supersededBy,omitempty"`
	IssuedAt     time.Time             `json:"issuedAt"`
	ExpiresAt    time.Time             `json:"expiresAt"`
	UpdatedAt    time.Time             `json:"updatedAt"`
}

func toAlertResponse(a *models.Alert) alertResponse {
	areas := a.Areas
	if areas == nil {
		areas = []models.AffectedArea{}
	}
	return alertResponse{
		ID:           a.ID,
		Category:     string(a.Category),
		Severity:     a.Severity,
		Status:       string(a.Status),
		Title:        a.Title,
		Description:  a.Description,
		Instructions: a.Instructions,
		Areas:        areas,
		Source:       string(a.Source),
		SensorID:     a.SensorID,
		Supersedes:   a.Supersedes,
		SupersededBy: a.SupersededBy,
		IssuedAt:     a.IssuedAt,
		ExpiresAt:    a.ExpiresAt,
		UpdatedAt:    a.UpdatedAt,
	}
}

type deliveryResponse struct {
	ID            string     `json:"id"`
	AlertID       string     `json:"alertId"`
	Channel       string     `json:"channel"`
	Destination   string     `json:"destination"`
	Language      string     `json:"language"`
	Status        string     `json:"status"`
	ExternalID    string     `json:"externalId,omitempty"`
	RetryCount    int        `json:"retryCount"`
	MaxRetries    int        `json:"maxRetries"`
	NextRetryAt   *time.Time `json:"nextRetryAt,omitempty"`
	ErrorCode     string     `json:"errorCode,omitempty"`
	ErrorMessage  string     `json:"errorMessage,omitempty"`
	PayloadDigest string     `json:"payloadDigest"`
	CreatedAt     time.Time  `json:"createdAt"`
	UpdatedAt     time.Time  `json:"updatedAt"`
	SentAt        *time.Time `json:"sentAt,omitempty"`
	DeliveredAt   *time.Time `json:"deliveredAt,omitempty"`

	Events []eventResponse `json:"events,omitempty"`
}

type eventResponse struct {
	From       string    `json:"from"`
	To         string    `json:"to"`
	RetryCount int       `json:"retryCount"`
	Note       string    `json:"note,omitempty"`
	At         time.Time `json:"at"`
}

func toDeliveryResponse(r *models.DeliveryRecord) deliveryResponse {
	return deliveryResponse{
		ID:            r.ID,
		AlertID:       r.AlertID,
		Channel:       string(r.Channel),
		Destination:   r.Destination,
		Language:      r.Language,
		Status:        string(r.Status),
		ExternalID:    r.ExternalID,
		RetryCount:    r.RetryCount,
		MaxRetries:    r.MaxRetries,
		NextRetryAt:   r.NextRetryAt,
		ErrorCode:     r.ErrorCode,
		ErrorMessage:  r.ErrorMessage,
		PayloadDigest: r.PayloadDigest,
		CreatedAt:     r.CreatedAt,
		UpdatedAt:     r.UpdatedAt,
		SentAt:        r.SentAt,
		DeliveredAt:   r.DeliveredAt,
	}
}

func toEventResponses(events []models.DeliveryEvent) []eventResponse {
	out := make([]eventResponse, 0, len(events))
	for _, e := range events {
		out = append(out, eventResponse{
			From:       string(e.FromStatus),
			To:         string(e.ToStatus),
			RetryCount: e.RetryCount,
			Note:       e.Note,
			At:         e.At,
		})
	}
	return out
}
