package ingestion

import (
	"context"
	"errors"
	"io"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"strconv"
	"sync"
	"testing"
	"time"

	mqtt "github.com/eclipse/paho.mqtt.golang"
	"github.com/jonboulle/clockwork"
	"github.com/prometheus/client_golang/prometheus/testutil"
	"go.uber.org/goleak"

	"github.com/mr1hm/go-disaster-notify/internal/apperr"
	"github.com/mr1hm/go-disaster-notify/internal/observability"
	"github.com/mr1hm/go-disaster-notify/internal/threshold"
)

func TestMain(m *testing.M) {
	goleak.VerifyTestMain(m)
}

type recorded struct {
	sensorID string
	value    float64
	ts       time.Time
}

// mockRecorder implements Recorder for testing
type mockRecorder struct {
	mu       sync.Mutex
	readings []recorded
	reject   map[string]error
}

func newMockRecorder() *mockRecorder {
	return &mockRecorder{reject: make(map[string]error)}
}

func (m *mockRecorder) RecordReading(ctx context.Context, sensorID string, value float64, ts time.Time) (*threshold.Result, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if err := m.reject[sensorID]; err != nil {
		return nil, err
	}
	m.readings = append(m.readings, recorded{sensorID: sensorID, value: value, ts: ts})
	return &threshold.Result{}, nil
}

func (m *mockRecorder) count() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return len(m.readings)
}

func (m *mockRecorder) values(sensorID string) []float64 {
	m.mu.Lock()
	defer m.mu.Unlock()
	var out []float64
	for _, r := range m.readings {
		if r.sensorID == sensorID {
			out = append(out, r.value)
		}
	}
	return out
}

type doneToken struct {
	mqtt.Token
	err error
}

func (t doneToken) Wait() bool                     { return true }
func (t doneToken) WaitTimeout(time.Duration) bool { return true }
func (t doneToken) Error() error                   { return t.err }

type fakeSubscriber struct {
	mu       sync.Mutex
	topic    string
	handler  mqtt.MessageHandler
	unsubbed bool
	err      error
}

func (f *fakeSubscriber) Subscribe(topic string, qos byte, cb mqtt.MessageHandler) mqtt.Token {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.topic = topic
	f.handler = cb
	return doneToken{err: f.err}
}

func (f *fakeSubscriber) Unsubscribe(topics ...string) mqtt.Token {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.unsubbed = true
	return doneToken{}
}

func (f *fakeSubscriber) deliver(topic, payload string) {
	f.mu.Lock()
	h := f.handler
	f.mu.Unlock()
	h(nil, &fakeMessage{topic: topic, payload: []byte(payload)})
}

type fakeMessage struct {
	topic   string
	payload []byte
}

func (m *fakeMessage) Duplicate() bool   { return false }
func (m *fakeMessage) Qos() byte         { return 1 }
func (m *fakeMessage) Retained() bool    { return false }
func (m *fakeMessage) Topic() string     { return m.topic }
func (m *fakeMessage) MessageID() uint16 { return 1 }
func (m *fakeMessage) Payload() []byte   { return m.payload }
func (m *fakeMessage) Ack()              {}

func newTestManager(cfg Config, rec Recorder, sub MQTTSubscriber, clock clockwork.Clock) (*Manager, *observability.Metrics) {
	metrics := observability.NewMetricsForTesting()
	m := NewManager(cfg, Deps{
		Recorder: rec,
		MQTT:     sub,
		Clock:    clock,
		Logger:   slog.New(slog.NewTextHandler(io.Discard, nil)),
		Metrics:  metrics,
	})
	return m, metrics
}

func waitFor(t *testing.T, cond func() bool) {
	t.Helper()
	deadline := time.Now().Add(2 * time.Second)
	for !cond() {
		if time.Now().After(deadline) {
			t.Fatal("condition not met before deadline")
		}
		time.Sleep(5 * time.Millisecond)
	}
}

func TestManager_StartStop(t *testing.T) {
	sub := &fakeSubscriber{}
	m, _ := newTestManager(Config{Lanes: 2, BufferSize: 10}, newMockRecorder(), sub, clockwork.NewFakeClock())

	ctx, cancel := context.WithCancel(context.Background())
	if err := m.Start(ctx); err != nil {
		t.Fatalf("start: %v", err)
	}
	if sub.topic != "sensors/+/readings" {
		t.Fatalf("expected default topic, got %q", sub.topic)
	}

	cancel()
	m.Stop()

	if !sub.unsubbed {
		t.Fatal("expected unsubscribe on stop")
	}
}

func TestManager_SubscribeError(t *testing.T) {
	sub := &fakeSubscriber{err: errors.New("not authorized")}
	m, _ := newTestManager(Config{}, newMockRecorder(), sub, clockwork.NewFakeClock())

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	if err := m.Start(ctx); err == nil {
		t.Fatal("expected subscribe error")
	}
	cancel()
	m.lanes.Stop()
}

func TestManager_MQTTPreservesPerSensorOrder(t *testing.T) {
	sub := &fakeSubscriber{}
	rec := newMockRecorder()
	m, metrics := newTestManager(Config{Lanes: 4, BufferSize: 100}, rec, sub, clockwork.NewFakeClock())

	ctx, cancel := context.WithCancel(context.Background())
	if err := m.Start(ctx); err != nil {
		t.Fatalf("start: %v", err)
	}

	for i := 0; i < 50; i++ {
		sub.deliver("sensors/WL-01/readings", `{"value": `+itoa(i)+`, "timestamp": "2026-06-01T12:00:00Z"}`)
		sub.deliver("sensors/RF-01/readings", `{"value": `+itoa(i)+`}`)
	}
	waitFor(t, func() bool { return rec.count() == 100 })

	for _, id := range []string{"WL-01", "RF-01"} {
		vals := rec.values(id)
		for i, v := range vals {
			if v != float64(i) {
				t.Fatalf("%s: reading %d out of order: got %v", id, i, v)
			}
		}
	}

	cancel()
	m.Stop()

	if got := testutil.ToFloat64(metrics.IngestMessages.WithLabelValues("mqtt", "ok")); got != 100 {
		t.Fatalf("expected 100 ok messages, got %v", got)
	}
}

func TestManager_MQTTMalformed(t *testing.T) {
	sub := &fakeSubscriber{}
	rec := newMockRecorder()
	m, metrics := newTestManager(Config{}, rec, sub, clockwork.NewFakeClock())

	ctx, cancel := context.WithCancel(context.Background())
	if err := m.Start(ctx); err != nil {
		t.Fatalf("start: %v", err)
	}

	sub.deliver("sensors/WL-01/status", `{"value": 1}`)
	sub.deliver("sensors/WL-01/readings", `not json`)
	sub.deliver("sensors/WL-01/readings", `{"timestamp": "2026-06-01T12:00:00Z"}`)
	sub.deliver("sensors/WL-01/readings", `{"sensorId": "WL-02", "value": 1}`)

	cancel()
	m.Stop()

	if rec.count() != 0 {
		t.Fatalf("expected no readings recorded, got %d", rec.count())
	}
	if got := testutil.ToFloat64(metrics.IngestMessages.WithLabelValues("mqtt", "malformed")); got != 4 {
		t.Fatalf("expected 4 malformed, got %v", got)
	}
}

func TestManager_RejectedReadingsAreCounted(t *testing.T) {
	sub := &fakeSubscriber{}
	rec := newMockRecorder()
	rec.reject["XX-99"] = apperr.NotFound("sensor XX-99 not found")
	m, metrics := newTestManager(Config{}, rec, sub, clockwork.NewFakeClock())

	ctx, cancel := context.WithCancel(context.Background())
	if err := m.Start(ctx); err != nil {
		t.Fatalf("start: %v", err)
	}
	sub.deliver("sensors/XX-99/readings", `{"value": 1}`)
	waitFor(t, func() bool {
		return testutil.ToFloat64(metrics.IngestMessages.WithLabelValues("mqtt", "rejected")) == 1
	})
	cancel()
	m.Stop()
}

func TestManager_FeedPolling(t *testing.T) {
	var mu sync.Mutex
	polls := 0
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		mu.Lock()
		polls++
		mu.Unlock()
		w.Header().Set("Content-Type", "application/json")
		_, _ = w.Write([]byte(`{"readings": [
			{"sensorId": "WL-02", "value": 1.2, "timestamp": "2026-06-01T12:00:00Z"},
			{"sensorId": "", "value": 3}
		]}`))
	}))
	defer srv.Close()

	clock := clockwork.NewFakeClock()
	rec := newMockRecorder()
	m, metrics := newTestManager(Config{FeedURL: srv.URL, FeedInterval: time.Minute}, rec, nil, clock)

	ctx, cancel := context.WithCancel(context.Background())
	if err := m.Start(ctx); err != nil {
		t.Fatalf("start: %v", err)
	}

	waitFor(t, func() bool { return rec.count() == 1 })
	if err := clock.BlockUntilContext(ctx, 1); err != nil {
		t.Fatalf("waiting for ticker: %v", err)
	}
	clock.Advance(time.Minute)
	waitFor(t, func() bool { return rec.count() == 2 })

	cancel()
	m.Stop()

	if got := testutil.ToFloat64(metrics.IngestMessages.WithLabelValues("feed", "malformed")); got != 2 {
		t.Fatalf("expected 2 malformed feed readings, got %v", got)
	}
	if got := rec.values("WL-02"); len(got) != 2 || got[0] != 1.2 {
		t.Fatalf("unexpected values %v", got)
	}
}

func TestManager_FeedErrorStatus(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusServiceUnavailable)
	}))
	defer srv.Close()

	m, _ := newTestManager(Config{FeedURL: srv.URL}, newMockRecorder(), nil, clockwork.NewFakeClock())
	if _, err := m.fetchFeed(context.Background()); err == nil {
		t.Fatal("expected error for 503")
	}
}

func TestSensorFromTopic(t *testing.T) {
	tests := []struct {
		topic string
		want  string
		ok    bool
	}{
		{"sensors/WL-01/readings", "WL-01", true},
		{"sensors//readings", "", false},
		{"sensors/WL-01", "", false},
		{"devices/WL-01/readings", "", false},
		{"sensors/a/b/readings", "", false},
	}
	for _, tt := range tests {
		got, ok := sensorFromTopic(tt.topic)
		if got != tt.want || ok != tt.ok {
			t.Errorf("sensorFromTopic(%q) = %q, %v; want %q, %v", tt.topic, got, ok, tt.want, tt.ok)
		}
	}
}

func itoa(i int) string {
	return strconv.Itoa(i)
}
