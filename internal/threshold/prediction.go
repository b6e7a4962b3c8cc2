package threshold

import (
	"context"
	"fmt"

	"github.com/google/uuid"

	"github.com/mr1hm/go-disaster-notify/internal/apperr"
	"github.com/mr1hm/go-disaster-notify/internal/models"
	"github.com/mr1hm/go-disaster-notify/internal/repository"
)

// ApplyPrediction turns a positive flood-risk prediction into an advisory
// alert. Negative predictions and repeats of a live prediction for the same
// location and period are no-ops returning nil.
func (e *Engine) ApplyPrediction(ctx context.Context, p models.RiskPrediction) (*models.Alert, error) {
	if p.CityID == "" || p.Period == "" {
		return nil, apperr.Validation("prediction requires a city and a period")
	}
	if !p.Risk {
		return nil, nil
	}

	place := e.cityName(p.CityID)
	title := fmt.Sprintf("Flood risk forecast for %s (%s)", place, p.Period)

	live, err := e.alerts.ListAlerts(ctx, repository.AlertFilter{ActiveOnly: true, CityID: p.CityID, RegionID: p.RegionID})
	if err != nil {
		return nil, fmt.Errorf("list alerts: %w", err)
	}
	for _, a := range live {
		if a.Source == models.AlertSourcePrediction && a.Title == title {
			return nil, nil
		}
	}

	now := e.clock.Now()
	a := &models.Alert{
		ID:           uuid.NewString(),
		Category:     models.CategoryFlood,
		Severity:     models.SeverityAdvisory,
		Status:       models.AlertStatusActive,
		Title:        title,
		Description:  fmt.Sprintf("Forecast models indicate elevated flood risk for %s during %s.", place, p.Period),
		Instructions: "Clear drainage channels, keep emergency supplies ready and follow official updates.",
		Areas:        []models.AffectedArea{{CityID: p.CityID, RegionID: p.RegionID, Description: place}},
		Source:       models.AlertSourcePrediction,
		IssuedAt:     now,
		ExpiresAt:    now.Add(e.alertTTL),
		CreatedAt:    now,
		UpdatedAt:    now,
	}
	if err := e.alerts.CreateAlert(ctx, a); err != nil {
		return nil, fmt.Errorf("create prediction alert: %w", err)
	}
	e.emit(ctx, a)
	return a, nil
}

// ExpireAlerts moves live alerts past their expiry to expired.
func (e *Engine) ExpireAlerts(ctx context.Context) (int64, error) {
	n, err := e.alerts.ExpireAlerts(ctx, e.clock.Now())
	if err != nil {
		return 0, err
	}
	if n > 0 {
		e.logger.Info("alerts expired", "count", n)
	}
	return n, nil
}
