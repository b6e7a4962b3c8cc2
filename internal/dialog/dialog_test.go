package dialog

import (
	"context"
	"errors"
	"io"
	"log/slog"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/jonboulle/clockwork"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/mr1hm/go-disaster-notify/internal/apperr"
	"github.com/mr1hm/go-disaster-notify/internal/catalog"
	"github.com/mr1hm/go-disaster-notify/internal/models"
	"github.com/mr1hm/go-disaster-notify/internal/observability"
	"github.com/mr1hm/go-disaster-notify/internal/repository"
)

type fakeReporter struct {
	mu        sync.Mutex
	incidents []models.Incident
	err       error
}

func (r *fakeReporter) ReportIncident(ctx context.Context, in models.Incident) (*models.Alert, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.err != nil {
		return nil, r.err
	}
	r.incidents = append(r.incidents, in)
	return &models.Alert{ID: "abcdef12-3456-7890-abcd-ef1234567890"}, nil
}

type fixture struct {
	db       *repository.SQLiteDB
	clock    *clockwork.FakeClock
	reporter *fakeReporter
	ussd     *Machine
	ivr      *Machine
}

func newFixture(t *testing.T) *fixture {
	t.Helper()

	db, err := repository.NewSQLiteDB(":memory:")
	require.NoError(t, err)
	t.Cleanup(func() { db.Close() })

	cat, err := catalog.Default()
	require.NoError(t, err)

	clock := clockwork.NewFakeClockAt(time.Date(2026, 6, 1, 12, 0, 0, 0, time.UTC))
	reporter := &fakeReporter{}
	env := &Env{Catalog: cat, Alerts: db, Reporter: reporter, Subscribers: db, DefaultCity: "abuja"}
	deps := Deps{
		Sessions: db,
		Env:      env,
		Clock:    clock,
		Logger:   slog.New(slog.NewTextHandler(io.Discard, nil)),
		Metrics:  observability.NewMetricsForTesting(),
	}

	return &fixture{
		db:       db,
		clock:    clock,
		reporter: reporter,
		ussd:     NewMachine(Config{Channel: "ussd", Timeout: 3 * time.Minute}, USSDTable(), USSDRenderer{}, deps),
		ivr:      NewMachine(Config{Channel: "ivr", Timeout: 5 * time.Minute}, IVRTable(), IVRRenderer{Action: "/api/ivr"}, deps),
	}
}

const caller = "+2348011111111"

func ussdKey(id string) models.SessionKey {
	return models.SessionKey{Channel: "ussd", CallerID: caller, ID: id}
}

// run plays cumulative USSD inputs the way a gateway sends them.
func (f *fixture) run(t *testing.T, session string, inputs ...string) []Reply {
	t.Helper()
	var replies []Reply
	var acc []string
	for i, in := range inputs {
		text := ""
		if i > 0 {
			acc = append(acc, in)
			text = strings.Join(acc, "*")
		}
		r, err := f.ussd.ProcessTurn(context.Background(), session, caller, text)
		require.NoError(t, err)
		replies = append(replies, r)
	}
	return replies
}

func TestTables_Validate(t *testing.T) {
	require.NoError(t, USSDTable().Validate())
	require.NoError(t, IVRTable().Validate())
}

func TestUSSD_ReportFlow(t *testing.T) {
	f := newFixture(t)

	replies := f.run(t, "s1", "", "1", "1", "1", "4", "Ogudu bridge", "Water over the road", "1")

	assert.True(t, strings.HasPrefix(replies[0].Body, "CON Disaster Alert Service\n1. Report emergency"))
	assert.Equal(t, SelectDisasterType, replies[1].State)
	assert.Contains(t, replies[1].Body, "1. Flood")
	assert.Equal(t, SelectCity, replies[2].State)
	assert.Equal(t, SelectLGA, replies[3].State)
	assert.Contains(t, replies[3].Body, "4. Kosofe")
	assert.Equal(t, EnterLocation, replies[4].State)
	assert.Equal(t, EnterDescription, replies[5].State)
	assert.Equal(t, ConfirmReport, replies[6].State)
	assert.Contains(t, replies[6].Body, "Report Flood at Ogudu bridge (Kosofe, Lagos)?")

	last := replies[7]
	assert.Equal(t, Completed, last.State)
	assert.True(t, last.End)
	assert.True(t, strings.HasPrefix(last.Body, "END Report received. Ref ABCDEF12."))

	require.Len(t, f.reporter.incidents, 1)
	in := f.reporter.incidents[0]
	assert.Equal(t, models.CategoryFlood, in.Category)
	assert.Equal(t, "lagos", in.CityID)
	assert.Equal(t, "kosofe", in.RegionID)
	assert.Equal(t, "Ogudu bridge", in.Location)
	assert.Equal(t, "Water over the road", in.Description)
	assert.Equal(t, "+2348011111111", in.ReporterPhone)
	assert.Equal(t, "ussd", in.Channel)

	sess, err := f.db.GetSession(context.Background(), ussdKey("s1"))
	require.NoError(t, err)
	assert.False(t, sess.Active)
}

func TestUSSD_InvalidInputReprompts(t *testing.T) {
	f := newFixture(t)

	replies := f.run(t, "s1", "", "9")
	assert.Equal(t, MainMenu, replies[1].State)
	assert.True(t, strings.HasPrefix(replies[1].Body, "CON Invalid choice.\nDisaster Alert Service"))

	replies = f.run(t, "s2", "", "1", "1", "1", "4", "   ")
	assert.Equal(t, EnterLocation, replies[5].State)
	assert.Contains(t, replies[5].Body, "Please enter some text.")
}

func TestUSSD_Deterministic(t *testing.T) {
	f := newFixture(t)
	inputs := []string{"", "1", "3", "2", "1", "Wuse market"}

	a := f.run(t, "a", inputs...)
	b := f.run(t, "b", inputs...)
	for i := range a {
		assert.Equal(t, a[i], b[i], "turn %d", i)
	}
}

func TestUSSD_ExpiredSessionRestarts(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	r, err := f.ussd.ProcessTurn(ctx, "s1", "+2348011111111", "")
	require.NoError(t, err)
	r, err = f.ussd.ProcessTurn(ctx, "s1", "+2348011111111", "1")
	require.NoError(t, err)
	require.Equal(t, SelectDisasterType, r.State)

	f.clock.Advance(4 * time.Minute)
	r, err = f.ussd.ProcessTurn(ctx, "s1", "+2348011111111", "1*1")
	require.NoError(t, err)
	assert.Equal(t, MainMenu, r.State)
	assert.True(t, strings.HasPrefix(r.Body, "CON Disaster Alert Service"))

	r, err = f.ussd.ProcessTurn(ctx, "s1", "+2348011111111", "1*1*2")
	require.NoError(t, err)
	assert.Equal(t, ViewAlerts, r.State)
}

func TestUSSD_FinishedSessionRestarts(t *testing.T) {
	f := newFixture(t)

	replies := f.run(t, "s1", "", "4")
	assert.Equal(t, EmergencyContacts, replies[1].State)
	assert.True(t, strings.HasPrefix(replies[1].Body, "END Emergency contacts:"))
	assert.Contains(t, replies[1].Body, "112")

	r, err := f.ussd.ProcessTurn(context.Background(), "s1", "+2348011111111", "4*1")
	require.NoError(t, err)
	assert.Equal(t, MainMenu, r.State)
}

func TestUSSD_ViewAlerts(t *testing.T) {
	f := newFixture(t)
	now := f.clock.Now()
	require.NoError(t, f.db.CreateAlert(context.Background(), &models.Alert{
		ID:        "a1",
		Category:  models.CategoryFlood,
		Severity:  models.SeveritySevere,
		Status:    models.AlertStatusActive,
		Title:     "Danger water level at Kosofe",
		Areas:     []models.AffectedArea{{CityID: "lagos", RegionID: "kosofe"}},
		Source:    models.AlertSourceSensor,
		IssuedAt:  now,
		ExpiresAt: now.Add(time.Hour),
		CreatedAt: now,
		UpdatedAt: now,
	}))

	replies := f.run(t, "s1", "", "2")
	assert.Equal(t, "END Active alerts:\n1. [SEVERE] Danger water level at Kosofe", replies[1].Body)
}

func TestUSSD_FindShelter(t *testing.T) {
	f := newFixture(t)

	replies := f.run(t, "s1", "", "3", "1", "4")
	last := replies[3]
	assert.Equal(t, FindShelter, last.State)
	assert.True(t, last.End)
	assert.True(t, strings.HasPrefix(last.Body, "END Nearest shelters:"))
	assert.Empty(t, f.reporter.incidents)
}

func TestUSSD_ReportFailureEndsGracefully(t *testing.T) {
	f := newFixture(t)
	f.reporter.err = errors.New("database is locked")

	replies := f.run(t, "s1", "", "1", "2", "1", "1", "Allen Avenue", "Shop on fire", "1")
	last := replies[7]
	assert.True(t, last.End)
	assert.Equal(t, "END Service temporarily unavailable. In an emergency call 112.", last.Body)
	assert.NotContains(t, last.Body, "database")
}

func TestUSSD_ReportValidationReprompts(t *testing.T) {
	f := newFixture(t)
	f.reporter.err = apperr.Validation("Reports for this area are paused.")

	replies := f.run(t, "s1", "", "1", "2", "1", "1", "Allen Avenue", "Shop on fire", "1")
	last := replies[7]
	assert.Equal(t, ConfirmReport, last.State)
	assert.True(t, strings.HasPrefix(last.Body, "CON Reports for this area are paused.\n"))
}

func TestProcessTurn_RequiresSessionID(t *testing.T) {
	f := newFixture(t)
	_, err := f.ussd.ProcessTurn(context.Background(), "", "+2348011111111", "")
	assert.ErrorIs(t, err, apperr.ErrValidation)
}

func TestProcessTurn_SessionIDScopedToCaller(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	replies := f.run(t, "S1", "", "1")
	require.Equal(t, SelectDisasterType, replies[1].State)

	r, err := f.ussd.ProcessTurn(ctx, "S1", "+2348099999999", "1")
	require.NoError(t, err)
	assert.Equal(t, MainMenu, r.State, "another caller starts fresh")

	// The first caller's report is untouched
	r, err = f.ussd.ProcessTurn(ctx, "S1", caller, "1*1")
	require.NoError(t, err)
	assert.Equal(t, SelectCity, r.State)
}

func TestProcessTurn_SessionIDScopedToChannel(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	f.run(t, "S1", "", "1")

	r, err := f.ivr.ProcessTurn(ctx, "S1", caller, "")
	require.NoError(t, err)
	assert.Equal(t, IVRMain, r.State)

	ivrSess, err := f.db.GetSession(ctx, models.SessionKey{Channel: "ivr", CallerID: caller, ID: "S1"})
	require.NoError(t, err)
	assert.Equal(t, "ivr", ivrSess.Channel)
	assert.Equal(t, string(IVRMain), ivrSess.State)

	ussdSess, err := f.db.GetSession(ctx, ussdKey("S1"))
	require.NoError(t, err)
	assert.Equal(t, string(SelectDisasterType), ussdSess.State)
	assert.True(t, ussdSess.Active)
}

func TestExpireSessions(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	f.run(t, "old", "", "1")
	f.clock.Advance(2 * time.Minute)
	f.run(t, "new", "")
	f.clock.Advance(2 * time.Minute)

	n, err := f.ussd.ExpireSessions(ctx)
	require.NoError(t, err)
	assert.Equal(t, int64(1), n)

	sess, err := f.db.GetSession(ctx, ussdKey("new"))
	require.NoError(t, err)
	assert.True(t, sess.Active)
}

func TestIVR_ReportFromRegisteredCaller(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	require.NoError(t, f.db.UpsertSubscriber(ctx, &models.Subscriber{Phone: "+2348055555555", CityID: "port-harcourt", RegionID: "obio-akpor", Language: "en", Active: true}))

	r, err := f.ivr.ProcessTurn(ctx, "CA1", "+2348055555555", "")
	require.NoError(t, err)
	assert.Equal(t, IVRMain, r.State)
	assert.Contains(t, r.Body, `<Gather input="dtmf" numDigits="1" action="/api/ivr" method="POST" timeout="8">`)
	assert.Contains(t, r.Body, "<Say>Press 1 to hear active alerts.</Say>")
	assert.Equal(t, "application/xml; charset=utf-8", r.ContentType)

	r, err = f.ivr.ProcessTurn(ctx, "CA1", "+2348055555555", "2")
	require.NoError(t, err)
	assert.Equal(t, IVRSelectType, r.State)
	assert.Contains(t, r.Body, "Press 4 to report an earthquake.")

	r, err = f.ivr.ProcessTurn(ctx, "CA1", "+2348055555555", "1")
	require.NoError(t, err)
	assert.Equal(t, IVRConfirm, r.State)
	assert.Contains(t, r.Body, "You are reporting a flood in Obio/Akpor, Port Harcourt.")

	r, err = f.ivr.ProcessTurn(ctx, "CA1", "+2348055555555", "1")
	require.NoError(t, err)
	assert.Equal(t, IVRDone, r.State)
	assert.True(t, r.End)
	assert.Contains(t, r.Body, "<Hangup></Hangup>")
	assert.NotContains(t, r.Body, "<Gather")

	require.Len(t, f.reporter.incidents, 1)
	assert.Equal(t, "port-harcourt", f.reporter.incidents[0].CityID)
	assert.Equal(t, "obio-akpor", f.reporter.incidents[0].RegionID)
	assert.Equal(t, "ivr", f.reporter.incidents[0].Channel)
}

func TestIVR_UnknownCallerUsesDefaultCity(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	for _, digits := range []string{"", "2", "2", "1"} {
		_, err := f.ivr.ProcessTurn(ctx, "CA2", "+2348066666666", digits)
		require.NoError(t, err)
	}
	require.Len(t, f.reporter.incidents, 1)
	assert.Equal(t, models.CategoryFire, f.reporter.incidents[0].Category)
	assert.Equal(t, "abuja", f.reporter.incidents[0].CityID)
}

func TestIVR_InvalidDigitReprompts(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	_, err := f.ivr.ProcessTurn(ctx, "CA3", "+2348066666666", "")
	require.NoError(t, err)
	r, err := f.ivr.ProcessTurn(ctx, "CA3", "+2348066666666", "7")
	require.NoError(t, err)
	assert.Equal(t, IVRMain, r.State)
	assert.Contains(t, r.Body, "<Say>Invalid choice.</Say>")

	r, err = f.ivr.ProcessTurn(ctx, "CA3", "+2348066666666", "3")
	require.NoError(t, err)
	assert.Equal(t, IVRContacts, r.State)
	assert.Contains(t, r.Body, "1 1 2")

	r, err = f.ivr.ProcessTurn(ctx, "CA3", "+2348066666666", "1")
	require.NoError(t, err)
	assert.Equal(t, IVRMain, r.State)
}

func TestUSSDRenderer_Input(t *testing.T) {
	r := USSDRenderer{}
	assert.Equal(t, "", r.Input(""))
	assert.Equal(t, "1", r.Input("1"))
	assert.Equal(t, "Ogudu", r.Input("1*1*4*Ogudu"))
}

func TestSpellDigits(t *testing.T) {
	assert.Equal(t, "1 1 2", spellDigits("112"))
	assert.Equal(t, "0 8 0 0", spellDigits("0800-"))
}
