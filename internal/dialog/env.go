package dialog

import (
	"context"
	"strconv"
	"strings"
	"unicode/utf8"

	"github.com/mr1hm/go-disaster-notify/internal/apperr"
	"github.com/mr1hm/go-disaster-notify/internal/catalog"
	"github.com/mr1hm/go-disaster-notify/internal/models"
	"github.com/mr1hm/go-disaster-notify/internal/repository"
)

type IncidentReporter interface {
	ReportIncident(ctx context.Context, in models.Incident) (*models.Alert, error)
}

type AlertLister interface {
	ListAlerts(ctx context.Context, opts repository.AlertFilter) ([]models.Alert, error)
}

type SubscriberLister interface {
	ListSubscribers(ctx context.Context, opts repository.SubscriberFilter) ([]models.Subscriber, error)
}

// Env is what the dialog tables read from and report to.
type Env struct {
	Catalog     *catalog.Catalog
	Alerts      AlertLister
	Reporter    IncidentReporter
	Subscribers SubscriberLister
	// DefaultCity is used for voice reports from callers not in the directory.
	DefaultCity string
}

// Session data keys.
const (
	keyFlow        = "flow"
	keyCategory    = "category"
	keyCity        = "city"
	keyRegion      = "region"
	keyLocation    = "location"
	keyDescription = "description"
	keyAlertID     = "alert_id"
)

const (
	flowReport  = "report"
	flowShelter = "shelter"
)

const maxFreeText = 160

var errInvalidChoice = apperr.Validation("Invalid choice.")

// choose parses a 1-based menu choice among n options.
func choose(input string, n int) (int, error) {
	i, err := strconv.Atoi(strings.TrimSpace(input))
	if err != nil || i < 1 || i > n {
		return 0, errInvalidChoice
	}
	return i, nil
}

func freeText(input string) (string, error) {
	s := strings.TrimSpace(input)
	switch {
	case s == "":
		return "", apperr.Validation("Please enter some text.")
	case utf8.RuneCountInString(s) > maxFreeText:
		return "", apperr.Validation("Text too long.")
	}
	return s, nil
}

func categoryLabels() []string {
	out := make([]string, len(models.Categories))
	for i, c := range models.Categories {
		out[i] = c.Label()
	}
	return out
}

func (e *Env) cityNames() []string {
	out := make([]string, len(e.Catalog.Cities))
	for i, c := range e.Catalog.Cities {
		out[i] = c.Name
	}
	return out
}

func (e *Env) regionNames(cityID string) []string {
	city, ok := e.Catalog.City(cityID)
	if !ok {
		return nil
	}
	out := make([]string, len(city.Regions))
	for i, r := range city.Regions {
		out[i] = r.Name
	}
	return out
}

func (e *Env) activeAlerts(ctx context.Context, cityID string, limit int) ([]models.Alert, error) {
	return e.Alerts.ListAlerts(ctx, repository.AlertFilter{ActiveOnly: true, CityID: cityID, Limit: limit})
}

// callerArea finds the caller's registered area, falling back to DefaultCity.
func (e *Env) callerArea(ctx context.Context, phone string) (string, string, error) {
	if e.Subscribers != nil && phone != "" {
		subs, err := e.Subscribers.ListSubscribers(ctx, repository.SubscriberFilter{Phones: []string{phone}})
		if err != nil {
			return "", "", err
		}
		if len(subs) > 0 {
			return subs[0].CityID, subs[0].RegionID, nil
		}
	}
	return e.DefaultCity, "", nil
}

// report files the incident collected in the session and stores the alert id.
func (t *Turn) report(ctx context.Context) error {
	a, err := t.Env.Reporter.ReportIncident(ctx, models.Incident{
		Category:      models.DisasterCategory(t.Get(keyCategory)),
		CityID:        t.Get(keyCity),
		RegionID:      t.Get(keyRegion),
		Location:      t.Get(keyLocation),
		Description:   t.Get(keyDescription),
		ReporterPhone: t.Session.CallerID,
		Channel:       t.Session.Channel,
	})
	if err != nil {
		return err
	}
	t.Set(keyAlertID, a.ID)
	return nil
}

func shortRef(id string) string {
	if len(id) > 8 {
		id = id[:8]
	}
	return strings.ToUpper(id)
}
