package notify

import (
	"bytes"
	"crypto/sha256"
	_ "embed"
	"encoding/hex"
	"fmt"
	"strings"
	"text/template"
	"time"

	"gopkg.in/yaml.v3"

	"github.com/mr1hm/go-disaster-notify/internal/models"
)

//go:embed templates.yaml
var defaultTemplates []byte

const defaultCategory = "default"

// Rendered is a message ready for one channel.
type Rendered struct {
	Subject string
	Body    string
	Digest  string
}

// TemplateData is what templates can reference.
type TemplateData struct {
	Title        string
	Description  string
	Instructions string
	Category     string
	Severity     string
	Areas        string
	IssuedAt     string
	ExpiresAt    string
}

type templatePair struct {
	subject *template.Template
	body    *template.Template
}

// Templates resolves (category, channel, language) to a compiled template.
type Templates struct {
	defaultLanguage string
	byKey           map[string]templatePair
}

type rawTemplate struct {
	Subject string `yaml:"subject"`
	Body    string `yaml:"body"`
}

// category -> channel -> language -> template
type rawTemplates map[string]map[string]map[string]rawTemplate

var funcs = template.FuncMap{
	"upper": strings.ToUpper,
	"truncate": func(n int, s string) string {
		r := []rune(s)
		if len(r) <= n {
			return s
		}
		return string(r[:n-1]) + "…"
	},
}

// DefaultTemplates loads the embedded template set.
func DefaultTemplates(defaultLanguage string) (*Templates, error) {
	return ParseTemplates(defaultTemplates, defaultLanguage)
}

// ParseTemplates compiles a YAML template set. The default category must cover
// every channel in the default language.
func ParseTemplates(data []byte, defaultLanguage string) (*Templates, error) {
	var raw rawTemplates
	if err := yaml.Unmarshal(data, &raw); err != nil {
		return nil, fmt.Errorf("parse templates: %w", err)
	}
	if defaultLanguage == "" {
		defaultLanguage = "en"
	}

	t := &Templates{defaultLanguage: defaultLanguage, byKey: make(map[string]templatePair)}
	for category, channels := range raw {
		for ch, langs := range channels {
			if !models.Channel(ch).Valid() {
				return nil, fmt.Errorf("template %s: unknown channel %q", category, ch)
			}
			for lang, rt := range langs {
				name := key(category, ch, lang)
				subject, err := template.New(name + ".subject").Funcs(funcs).Parse(rt.Subject)
				if err != nil {
					return nil, fmt.Errorf("template %s subject: %w", name, err)
				}
				body, err := template.New(name + ".body").Funcs(funcs).Parse(rt.Body)
				if err != nil {
					return nil, fmt.Errorf("template %s body: %w", name, err)
				}
				t.byKey[name] = templatePair{subject: subject, body: body}
			}
		}
	}

	for _, ch := range models.Channels {
		if _, ok := t.byKey[key(defaultCategory, string(ch), defaultLanguage)]; !ok {
			return nil, fmt.Errorf("templates: missing %s/%s/%s", defaultCategory, ch, defaultLanguage)
		}
	}
	return t, nil
}

func key(category, ch, lang string) string {
	return category + "/" + ch + "/" + lang
}

func (t *Templates) lookup(category models.DisasterCategory, ch models.Channel, lang string) templatePair {
	if lang == "" {
		lang = t.defaultLanguage
	}
	for _, k := range []string{
		key(string(category), string(ch), lang),
		key(string(category), string(ch), t.defaultLanguage),
		key(defaultCategory, string(ch), lang),
	} {
		if p, ok := t.byKey[k]; ok {
			return p
		}
	}
	return t.byKey[key(defaultCategory, string(ch), t.defaultLanguage)]
}

// Render fills the template for the alert and computes the payload digest.
func (t *Templates) Render(a *models.Alert, ch models.Channel, lang string, areas string) (Rendered, error) {
	p := t.lookup(a.Category, ch, lang)
	if p.body == nil {
		return Rendered{}, fmt.Errorf("no template for channel %s", ch)
	}

	data := TemplateData{
		Title:        a.Title,
		Description:  a.Description,
		Instructions: a.Instructions,
		Category:     a.Category.Label(),
		Severity:     a.Severity.String(),
		Areas:        areas,
		IssuedAt:     a.IssuedAt.UTC().Format(time.RFC1123),
	}
	if !a.ExpiresAt.IsZero() {
		data.ExpiresAt = a.ExpiresAt.UTC().Format(time.RFC1123)
	}

	var subject, body bytes.Buffer
	if err := p.subject.Execute(&subject, data); err != nil {
		return Rendered{}, fmt.Errorf("render subject: %w", err)
	}
	if err := p.body.Execute(&body, data); err != nil {
		return Rendered{}, fmt.Errorf("render body: %w", err)
	}

	sum := sha256.Sum256([]byte(subject.String() + "\n" + body.String()))
	return Rendered{
		Subject: subject.String(),
		Body:    body.String(),
		Digest:  hex.EncodeToString(sum[:]),
	}, nil
}
