package dialog

import (
	"context"
	"fmt"
	"strings"

	"github.com/mr1hm/go-disaster-notify/internal/models"
)

const (
	MainMenu           State = "MainMenu"
	SelectDisasterType State = "SelectDisasterType"
	SelectCity         State = "SelectCity"
	SelectLGA          State = "SelectLGA"
	EnterLocation      State = "EnterLocation"
	EnterDescription   State = "EnterDescription"
	ConfirmReport      State = "ConfirmReport"
	ViewAlerts         State = "ViewAlerts"
	FindShelter        State = "FindShelter"
	EmergencyContacts  State = "EmergencyContacts"
	Completed          State = "Completed"
)

const ussdListLimit = 3

func static(s Screen) func(context.Context, *Turn) (Screen, error) {
	return func(context.Context, *Turn) (Screen, error) { return s, nil }
}

// USSDTable is the feature-phone menu: report an emergency, read active
// alerts, find a shelter or list emergency numbers.
func USSDTable() *Table {
	return &Table{
		Start:    MainMenu,
		FailText: "Service temporarily unavailable. In an emergency call 112.",
		Nodes: map[State]Node{
			MainMenu: {
				Screen: static(Screen{
					Prompt:  "Disaster Alert Service",
					Options: []string{"Report emergency", "Active alerts", "Find shelter", "Emergency contacts"},
				}),
				Next: func(ctx context.Context, t *Turn, in string) (State, error) {
					i, err := choose(in, 4)
					if err != nil {
						return "", err
					}
					switch i {
					case 1:
						t.Set(keyFlow, flowReport)
						return SelectDisasterType, nil
					case 2:
						return ViewAlerts, nil
					case 3:
						t.Set(keyFlow, flowShelter)
						return SelectCity, nil
					}
					return EmergencyContacts, nil
				},
			},
			SelectDisasterType: {
				Screen: static(Screen{Prompt: "Type of emergency:", Options: categoryLabels()}),
				Next: func(ctx context.Context, t *Turn, in string) (State, error) {
					i, err := choose(in, len(models.Categories))
					if err != nil {
						return "", err
					}
					t.Set(keyCategory, string(models.Categories[i-1]))
					return SelectCity, nil
				},
			},
			SelectCity: {
				Screen: func(ctx context.Context, t *Turn) (Screen, error) {
					return Screen{Prompt: "Select city:", Options: t.Env.cityNames()}, nil
				},
				Next: func(ctx context.Context, t *Turn, in string) (State, error) {
					i, err := choose(in, len(t.Env.Catalog.Cities))
					if err != nil {
						return "", err
					}
					t.Set(keyCity, t.Env.Catalog.Cities[i-1].ID)
					return SelectLGA, nil
				},
			},
			SelectLGA: {
				Screen: func(ctx context.Context, t *Turn) (Screen, error) {
					return Screen{Prompt: "Select LGA:", Options: t.Env.regionNames(t.Get(keyCity))}, nil
				},
				Next: func(ctx context.Context, t *Turn, in string) (State, error) {
					city, ok := t.Env.Catalog.City(t.Get(keyCity))
					if !ok {
						return "", fmt.Errorf("city %q not in catalog", t.Get(keyCity))
					}
					i, err := choose(in, len(city.Regions))
					if err != nil {
						return "", err
					}
					t.Set(keyRegion, city.Regions[i-1].ID)
					if t.Get(keyFlow) == flowShelter {
						return FindShelter, nil
					}
					return EnterLocation, nil
				},
			},
			EnterLocation: {
				Screen: static(Screen{Prompt: "Enter location or landmark:"}),
				Next: func(ctx context.Context, t *Turn, in string) (State, error) {
					s, err := freeText(in)
					if err != nil {
						return "", err
					}
					t.Set(keyLocation, s)
					return EnterDescription, nil
				},
			},
			EnterDescription: {
				Screen: static(Screen{Prompt: "Describe what is happening:"}),
				Next: func(ctx context.Context, t *Turn, in string) (State, error) {
					s, err := freeText(in)
					if err != nil {
						return "", err
					}
					t.Set(keyDescription, s)
					return ConfirmReport, nil
				},
			},
			ConfirmReport: {
				Screen: func(ctx context.Context, t *Turn) (Screen, error) {
					cat := models.DisasterCategory(t.Get(keyCategory)).Label()
					place := t.Env.Catalog.RegionName(t.Get(keyRegion)) + ", " + t.Env.Catalog.CityName(t.Get(keyCity))
					return Screen{
						Prompt:  fmt.Sprintf("Report %s at %s (%s)?", cat, t.Get(keyLocation), place),
						Options: []string{"Confirm", "Cancel"},
					}, nil
				},
				Next: func(ctx context.Context, t *Turn, in string) (State, error) {
					i, err := choose(in, 2)
					if err != nil {
						return "", err
					}
					if i == 2 {
						return MainMenu, nil
					}
					if err := t.report(ctx); err != nil {
						return "", err
					}
					return Completed, nil
				},
			},
			ViewAlerts: {
				Screen: func(ctx context.Context, t *Turn) (Screen, error) {
					alerts, err := t.Env.activeAlerts(ctx, "", ussdListLimit)
					if err != nil {
						return Screen{}, err
					}
					if len(alerts) == 0 {
						return Screen{Prompt: "No active alerts.", Final: true}, nil
					}
					var b strings.Builder
					b.WriteString("Active alerts:")
					for i, a := range alerts {
						fmt.Fprintf(&b, "\n%d. [%s] %s", i+1, strings.ToUpper(a.Severity.String()), a.Title)
					}
					return Screen{Prompt: b.String(), Final: true}, nil
				},
			},
			FindShelter: {
				Screen: func(ctx context.Context, t *Turn) (Screen, error) {
					shelters := t.Env.Catalog.Shelters(t.Get(keyCity), t.Get(keyRegion))
					if len(shelters) == 0 {
						return Screen{Prompt: "No shelters listed for this area. Call 112.", Final: true}, nil
					}
					var b strings.Builder
					b.WriteString("Nearest shelters:")
					for i, s := range shelters {
						if i == ussdListLimit {
							break
						}
						fmt.Fprintf(&b, "\n%s, %s", s.Name, s.Address)
						if s.Phone != "" {
							fmt.Fprintf(&b, " (%s)", s.Phone)
						}
					}
					return Screen{Prompt: b.String(), Final: true}, nil
				},
			},
			EmergencyContacts: {
				Screen: func(ctx context.Context, t *Turn) (Screen, error) {
					var b strings.Builder
					b.WriteString("Emergency contacts:")
					for _, c := range t.Env.Catalog.Contacts {
						fmt.Fprintf(&b, "\n%s: %s", c.Name, c.Phone)
					}
					return Screen{Prompt: b.String(), Final: true}, nil
				},
			},
			Completed: {
				Screen: func(ctx context.Context, t *Turn) (Screen, error) {
					return Screen{
						Prompt: fmt.Sprintf("Report received. Ref %s. Emergency services have been notified. If in danger call 112.", shortRef(t.Get(keyAlertID))),
						Final:  true,
					}, nil
				},
			},
		},
	}
}

// USSDRenderer frames screens as CON/END text and reads the last segment of
// the gateway's *-joined input.
type USSDRenderer struct{}

func (USSDRenderer) Input(raw string) string {
	if i := strings.LastIndex(raw, "*"); i >= 0 {
		return raw[i+1:]
	}
	return raw
}

func (USSDRenderer) Render(s Screen, notice string) Reply {
	var b strings.Builder
	if s.Final {
		b.WriteString("END ")
	} else {
		b.WriteString("CON ")
	}
	if notice != "" {
		b.WriteString(notice)
		b.WriteString("\n")
	}
	b.WriteString(s.Prompt)
	for i, opt := range s.Options {
		fmt.Fprintf(&b, "\n%d. %s", i+1, opt)
	}
	return Reply{Body: b.String(), ContentType: "text/plain; charset=utf-8", End: s.Final}
}
