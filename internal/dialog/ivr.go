package dialog

import (
	"context"
	"encoding/xml"
	"fmt"
	"strings"

	"github.com/mr1hm/go-disaster-notify/internal/models"
)

const (
	IVRMain       State = "IVRMain"
	IVRAlerts     State = "IVRAlerts"
	IVRSelectType State = "IVRSelectType"
	IVRConfirm    State = "IVRConfirm"
	IVRContacts   State = "IVRContacts"
	IVRDone       State = "IVRDone"
)

const ivrAlertLimit = 3

// backToMain accepts 1 to return to the main menu.
func backToMain(ctx context.Context, t *Turn, in string) (State, error) {
	if _, err := choose(in, 1); err != nil {
		return "", err
	}
	return IVRMain, nil
}

// IVRTable is the voice menu. Reports are filed against the caller's
// registered area.
func IVRTable() *Table {
	return &Table{
		Start:    IVRMain,
		FailText: "We are unable to take your call right now. In an emergency, dial 1 1 2.",
		Nodes: map[State]Node{
			IVRMain: {
				Screen: static(Screen{
					Prompt:  "Welcome to the disaster alert line.",
					Options: []string{"hear active alerts", "report an emergency", "hear emergency contacts"},
				}),
				Next: func(ctx context.Context, t *Turn, in string) (State, error) {
					i, err := choose(in, 3)
					if err != nil {
						return "", err
					}
					switch i {
					case 1:
						return IVRAlerts, nil
					case 2:
						return IVRSelectType, nil
					}
					return IVRContacts, nil
				},
			},
			IVRAlerts: {
				Screen: func(ctx context.Context, t *Turn) (Screen, error) {
					city, _, err := t.Env.callerArea(ctx, t.Session.CallerID)
					if err != nil {
						return Screen{}, err
					}
					alerts, err := t.Env.activeAlerts(ctx, city, ivrAlertLimit)
					if err != nil {
						return Screen{}, err
					}
					var b strings.Builder
					if len(alerts) == 0 {
						b.WriteString("There are no active alerts for your area.")
					}
					for i, a := range alerts {
						fmt.Fprintf(&b, "Alert %d. %s severity. %s. %s ", i+1, a.Severity, a.Title, a.Instructions)
					}
					return Screen{Prompt: strings.TrimSpace(b.String()), Options: []string{"return to the main menu"}}, nil
				},
				Next: backToMain,
			},
			IVRSelectType: {
				Screen: static(Screen{Prompt: "What type of emergency are you reporting?", Options: ivrCategoryOptions()}),
				Next: func(ctx context.Context, t *Turn, in string) (State, error) {
					i, err := choose(in, len(models.Categories))
					if err != nil {
						return "", err
					}
					city, region, err := t.Env.callerArea(ctx, t.Session.CallerID)
					if err != nil {
						return "", err
					}
					t.Set(keyCategory, string(models.Categories[i-1]))
					t.Set(keyCity, city)
					t.Set(keyRegion, region)
					return IVRConfirm, nil
				},
			},
			IVRConfirm: {
				Screen: func(ctx context.Context, t *Turn) (Screen, error) {
					place := t.Env.Catalog.CityName(t.Get(keyCity))
					if r := t.Get(keyRegion); r != "" {
						place = t.Env.Catalog.RegionName(r) + ", " + place
					}
					cat := models.DisasterCategory(t.Get(keyCategory)).Label()
					return Screen{
						Prompt:  fmt.Sprintf("You are reporting a %s in %s.", strings.ToLower(cat), place),
						Options: []string{"confirm", "cancel"},
					}, nil
				},
				Next: func(ctx context.Context, t *Turn, in string) (State, error) {
					i, err := choose(in, 2)
					if err != nil {
						return "", err
					}
					if i == 2 {
						return IVRMain, nil
					}
					if err := t.report(ctx); err != nil {
						return "", err
					}
					return IVRDone, nil
				},
			},
			IVRContacts: {
				Screen: func(ctx context.Context, t *Turn) (Screen, error) {
					var b strings.Builder
					for _, c := range t.Env.Catalog.Contacts {
						fmt.Fprintf(&b, "%s, %s. ", c.Name, spellDigits(c.Phone))
					}
					return Screen{Prompt: strings.TrimSpace(b.String()), Options: []string{"return to the main menu"}}, nil
				},
				Next: backToMain,
			},
			IVRDone: {
				Screen: static(Screen{
					Prompt: "Your report has been received and emergency services have been notified. Stay safe. Goodbye.",
					Final:  true,
				}),
			},
		},
	}
}

func ivrCategoryOptions() []string {
	out := make([]string, len(models.Categories))
	for i, c := range models.Categories {
		if c == models.CategoryOther {
			out[i] = "report another emergency"
			continue
		}
		name := strings.ToLower(c.Label())
		article := "a "
		if strings.ContainsAny(name[:1], "aeiou") {
			article = "an "
		}
		out[i] = "report " + article + name
	}
	return out
}

// spellDigits spaces out a number so speech engines read it digit by digit.
func spellDigits(s string) string {
	var b strings.Builder
	for _, r := range s {
		if r >= '0' && r <= '9' {
			if b.Len() > 0 {
				b.WriteByte(' ')
			}
			b.WriteRune(r)
		}
	}
	return b.String()
}

type twimlResponse struct {
	XMLName xml.Name     `xml:"Response"`
	Gather  *twimlGather `xml:"Gather,omitempty"`
	Say     []twimlSay   `xml:"Say"`
	Hangup  *struct{}    `xml:"Hangup,omitempty"`
}

type twimlGather struct {
	Input     string     `xml:"input,attr"`
	NumDigits int        `xml:"numDigits,attr"`
	Action    string     `xml:"action,attr,omitempty"`
	Method    string     `xml:"method,attr,omitempty"`
	Timeout   int        `xml:"timeout,attr"`
	Say       []twimlSay `xml:"Say"`
}

type twimlSay struct {
	Voice    string `xml:"voice,attr,omitempty"`
	Language string `xml:"language,attr,omitempty"`
	Text     string `xml:",chardata"`
}

// IVRRenderer emits TwiML-style XML: a Gather wrapping the prompt, or a Say
// and Hangup on final screens. Input is the DTMF digits.
type IVRRenderer struct {
	Action   string // URL the provider posts digits to
	Language string
}

func (r IVRRenderer) Input(raw string) string {
	return strings.TrimSpace(raw)
}

func (r IVRRenderer) say(text string) twimlSay {
	return twimlSay{Language: r.Language, Text: text}
}

func (r IVRRenderer) Render(s Screen, notice string) Reply {
	var says []twimlSay
	if notice != "" {
		says = append(says, r.say(notice))
	}
	if s.Prompt != "" {
		says = append(says, r.say(s.Prompt))
	}
	for i, opt := range s.Options {
		says = append(says, r.say(fmt.Sprintf("Press %d to %s.", i+1, opt)))
	}

	resp := twimlResponse{}
	if s.Final {
		resp.Say = says
		resp.Hangup = &struct{}{}
	} else {
		resp.Gather = &twimlGather{
			Input:     "dtmf",
			NumDigits: 1,
			Action:    r.Action,
			Method:    "POST",
			Timeout:   8,
			Say:       says,
		}
		resp.Say = []twimlSay{r.say("We did not receive any input. Goodbye.")}
	}

	out, err := xml.Marshal(resp)
	if err != nil {
		out = []byte("<Response><Hangup/></Response>")
	}
	return Reply{
		Body:        xml.Header + string(out),
		ContentType: "application/xml; charset=utf-8",
		End:         s.Final,
	}
}
