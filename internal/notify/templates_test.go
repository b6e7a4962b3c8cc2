package notify

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/mr1hm/go-disaster-notify/internal/models"
)

func testAlert(category models.DisasterCategory) *models.Alert {
	return &models.Alert{
		ID:           "a1",
		Category:     category,
		Severity:     models.SeverityExtreme,
		Title:        "River Ogun overflowing",
		Description:  "Water level at 4.6 m",
		Instructions: "Evacuate low-lying areas now.",
		IssuedAt:     time.Date(2026, 6, 1, 12, 0, 0, 0, time.UTC),
	}
}

func TestTemplates_Fallbacks(t *testing.T) {
	tmpl, err := DefaultTemplates("en")
	require.NoError(t, err)

	tests := []struct {
		name     string
		category models.DisasterCategory
		ch       models.Channel
		lang     string
		contains string
	}{
		{"exact", models.CategoryFlood, models.ChannelSMS, "pcm", "Comot"},
		{"language falls back", models.CategoryFlood, models.ChannelSMS, "fr", "FLOOD EXTREME"},
		{"category falls back", models.CategoryFire, models.ChannelSMS, "en", "EXTREME FIRE ALERT"},
		{"category and language fall back", models.CategoryFire, models.ChannelSMS, "pcm", "Make una take care"},
		{"channel only in default", models.CategoryFlood, models.ChannelPush, "", "River Ogun overflowing"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			r, err := tmpl.Render(testAlert(tt.category), tt.ch, tt.lang, "Kosofe, Lagos")
			require.NoError(t, err)
			assert.Contains(t, r.Body, tt.contains)
		})
	}
}

func TestTemplates_DigestStable(t *testing.T) {
	tmpl, err := DefaultTemplates("en")
	require.NoError(t, err)

	a, err := tmpl.Render(testAlert(models.CategoryFlood), models.ChannelChat, "en", "Lagos")
	require.NoError(t, err)
	b, err := tmpl.Render(testAlert(models.CategoryFlood), models.ChannelChat, "en", "Lagos")
	require.NoError(t, err)
	assert.Equal(t, a.Digest, b.Digest)

	c, err := tmpl.Render(testAlert(models.CategoryFlood), models.ChannelChat, "en", "Abuja")
	require.NoError(t, err)
	assert.NotEqual(t, a.Digest, c.Digest)
}

func TestParseTemplates_Validation(t *testing.T) {
	_, err := ParseTemplates([]byte("default:\n  sms:\n    en: {subject: s, body: b}\n"), "en")
	assert.Error(t, err, "missing channels in default category")

	_, err = ParseTemplates([]byte("default:\n  fax:\n    en: {subject: s, body: b}\n"), "en")
	assert.Error(t, err)

	_, err = ParseTemplates([]byte("default:\n  sms:\n    en: {subject: s, body: '{{.Nope'}\n"), "en")
	assert.Error(t, err)
}

func TestTruncate(t *testing.T) {
	tr := funcs["truncate"].(func(int, string) string)
	assert.Equal(t, "short", tr(10, "short"))
	assert.Equal(t, "abcd…", tr(5, "abcdefgh"))
}
