package notify

import (
	"context"
	"fmt"
	"strings"

	"github.com/google/uuid"

	"github.com/mr1hm/go-disaster-notify/internal/apperr"
	"github.com/mr1hm/go-disaster-notify/internal/models"
)

// DispatchAlert resolves the audience for sel and dispatches the stored alert.
func (o *Orchestrator) DispatchAlert(ctx context.Context, alertID string, sel Selector, channels []models.Channel) (*DispatchResult, error) {
	a, err := o.alerts.GetAlert(ctx, alertID)
	if err != nil {
		return nil, err
	}
	if a.Status.Terminal() {
		return nil, apperr.New(apperr.KindExpired, "alert %s is %s", a.ID, a.Status)
	}
	audience, err := o.audience.Resolve(ctx, sel)
	if err != nil {
		return nil, err
	}
	return o.Dispatch(ctx, a, audience, channels)
}

// ReportIncident raises an active alert from a manual report and announces it,
// which dispatches it to the city's audience.
func (o *Orchestrator) ReportIncident(ctx context.Context, in models.Incident) (*models.Alert, error) {
	if in.Category == "" {
		in.Category = models.CategoryOther
	}
	if _, ok := models.ParseCategory(string(in.Category)); !ok {
		return nil, apperr.Validation("unknown disaster category %q", in.Category)
	}
	if in.CityID == "" {
		return nil, apperr.Validation("incident requires a city")
	}
	if !o.places.HasCity(in.CityID) {
		return nil, apperr.Validation("unknown city %q", in.CityID)
	}
	if in.Severity == models.SeverityUnknown {
		in.Severity = models.SeverityModerate
	}

	place := o.places.CityName(in.CityID)
	if in.RegionID != "" {
		place = o.places.RegionName(in.RegionID) + ", " + place
	}

	var desc strings.Builder
	if in.Location != "" {
		fmt.Fprintf(&desc, "Location: %s. ", in.Location)
	}
	if in.Description != "" {
		desc.WriteString(in.Description)
	}
	if in.Channel != "" {
		fmt.Fprintf(&desc, " (reported via %s)", in.Channel)
	}

	now := o.clock.Now()
	a := &models.Alert{
		ID:           uuid.NewString(),
		Category:     in.Category,
		Severity:     in.Severity,
		Status:       models.AlertStatusActive,
		Title:        fmt.Sprintf("%s reported in %s", in.Category.Label(), place),
		Description:  strings.TrimSpace(desc.String()),
		Instructions: "Stay away from the affected area and follow instructions from emergency services.",
		Areas:        []models.AffectedArea{{CityID: in.CityID, RegionID: in.RegionID, Description: place}},
		Source:       models.AlertSourceManual,
		IssuedAt:     now,
		ExpiresAt:    now.Add(o.cfg.AlertTTL),
		CreatedAt:    now,
		UpdatedAt:    now,
	}
	if err := o.alerts.CreateAlert(ctx, a); err != nil {
		return nil, fmt.Errorf("create incident alert: %w", err)
	}

	o.metrics.AlertsEmitted.WithLabelValues(string(a.Source), a.Severity.String()).Inc()
	o.logger.Info("incident reported",
		"alert_id", a.ID,
		"category", string(a.Category),
		"city_id", in.CityID,
		"channel", in.Channel,
	)
	o.emitter.HandleAlert(ctx, a)
	return a, nil
}
