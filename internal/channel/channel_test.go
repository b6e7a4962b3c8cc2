package channel

import (
	"context"
	"encoding/json"
	"errors"
	"io"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"sync"
	"testing"
	"time"

	mqtt "github.com/eclipse/paho.mqtt.golang"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/mr1hm/go-disaster-notify/internal/apperr"
	"github.com/mr1hm/go-disaster-notify/internal/models"
)

func TestValidatePhone(t *testing.T) {
	good := []string{"+2348012345678", "+14155550100", "+447911123456"}
	bad := []string{"", "08012345678", "+0123456789", "+234 801 234 5678", "2348012345678", "+12", "+1234567890123456"}

	for _, p := range good {
		assert.NoError(t, ValidatePhone(p), p)
	}
	for _, p := range bad {
		err := ValidatePhone(p)
		require.Error(t, err, p)
		assert.ErrorIs(t, err, apperr.ErrValidation)
		assert.Equal(t, models.ErrCodeInvalidDestination, apperr.CodeOf(err))
	}
}

func TestValidatePushTarget(t *testing.T) {
	assert.NoError(t, ValidatePushTarget("fcm-token-abc123"))
	assert.NoError(t, ValidatePushTarget("topic:city:lagos"))
	assert.Error(t, ValidatePushTarget(""))
	assert.Error(t, ValidatePushTarget("topic:"))
	assert.Error(t, ValidatePushTarget("topic:city/#"))
	assert.Error(t, ValidatePushTarget("a/b"))
}

type capturedRequest struct {
	auth string
	body map[string]any
}

func newGatewayServer(t *testing.T, status int, response string) (*httptest.Server, *[]capturedRequest) {
	t.Helper()
	var mu sync.Mutex
	var reqs []capturedRequest
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		data, _ := io.ReadAll(r.Body)
		var body map[string]any
		_ = json.Unmarshal(data, &body)
		mu.Lock()
		reqs = append(reqs, capturedRequest{auth: r.Header.Get("Authorization"), body: body})
		mu.Unlock()
		w.Header().Set("Content-Type", "application/json")
		w.WriteHeader(status)
		_, _ = w.Write([]byte(response))
	}))
	t.Cleanup(srv.Close)
	return srv, &reqs
}

func TestSMSAdapter_Send(t *testing.T) {
	srv, reqs := newGatewayServer(t, http.StatusAccepted, `{"id":"SM123","status":"queued"}`)

	a, err := NewSMSAdapter(GatewayConfig{URL: srv.URL, APIKey: "k", Sender: "NEMA"})
	require.NoError(t, err)

	res, err := a.Send(context.Background(), Message{RecordID: "d1", Destination: "+2348012345678", Body: "Flood warning"})
	require.NoError(t, err)
	assert.Equal(t, "SM123", res.ExternalID)

	require.Len(t, *reqs, 1)
	got := (*reqs)[0]
	assert.Equal(t, "Bearer k", got.auth)
	assert.Equal(t, "+2348012345678", got.body["to"])
	assert.Equal(t, "NEMA", got.body["from"])
	assert.Equal(t, "Flood warning", got.body["text"])
	assert.Equal(t, "d1", got.body["reference"])
}

func TestGateway_ErrorClassification(t *testing.T) {
	tests := []struct {
		name     string
		status   int
		response string
		kind     apperr.Kind
		code     string
	}{
		{"bad number", http.StatusUnprocessableEntity, `{"error":{"code":"INVALID_NUMBER","message":"unroutable"}}`, apperr.KindProviderPermanent, "INVALID_NUMBER"},
		{"bad request", http.StatusBadRequest, `oops`, apperr.KindProviderPermanent, "HTTP_400"},
		{"throttled", http.StatusTooManyRequests, `{}`, apperr.KindProviderTransient, "HTTP_429"},
		{"server error", http.StatusBadGateway, ``, apperr.KindProviderTransient, "HTTP_502"},
		{"accepted without id", http.StatusOK, `{}`, apperr.KindProviderTransient, ""},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			srv, _ := newGatewayServer(t, tt.status, tt.response)
			a, err := NewVoiceAdapter(GatewayConfig{URL: srv.URL})
			require.NoError(t, err)

			_, err = a.Send(context.Background(), Message{Destination: "+2348012345678", Body: "x"})
			require.Error(t, err)
			assert.Equal(t, tt.kind, apperr.KindOf(err))
			assert.Equal(t, tt.code, apperr.CodeOf(err))
		})
	}
}

func TestGateway_Unreachable(t *testing.T) {
	srv := httptest.NewServer(http.NotFoundHandler())
	url := srv.URL
	srv.Close()

	a, err := NewChatAdapter(GatewayConfig{URL: url})
	require.NoError(t, err)

	_, err = a.Send(context.Background(), Message{Destination: "+2348012345678", Body: "x"})
	require.Error(t, err)
	assert.ErrorIs(t, err, apperr.ErrProviderTransient)
}

func TestGateway_Timeout(t *testing.T) {
	block := make(chan struct{})
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		select {
		case <-block:
		case <-r.Context().Done():
		}
	}))
	defer srv.Close()
	defer close(block)

	a, err := NewSMSAdapter(GatewayConfig{URL: srv.URL})
	require.NoError(t, err)

	ctx, cancel := context.WithTimeout(context.Background(), 50*time.Millisecond)
	defer cancel()
	_, err = a.Send(ctx, Message{Destination: "+2348012345678", Body: "x"})
	require.Error(t, err)
	assert.Equal(t, apperr.KindProviderTransient, apperr.KindOf(err))
	assert.Equal(t, models.ErrCodeTimeout, apperr.CodeOf(err))
}

func TestChatAdapter_PrefixesSubject(t *testing.T) {
	srv, reqs := newGatewayServer(t, http.StatusOK, `{"id":"wamid.1"}`)
	a, err := NewChatAdapter(GatewayConfig{URL: srv.URL})
	require.NoError(t, err)

	_, err = a.Send(context.Background(), Message{Destination: "+2348012345678", Subject: "Flood", Body: "Move to high ground"})
	require.NoError(t, err)

	text := (*reqs)[0].body["text"].(map[string]any)
	assert.Equal(t, "*Flood*\nMove to high ground", text["body"])
}

func TestNewGateway_InvalidConfig(t *testing.T) {
	_, err := NewSMSAdapter(GatewayConfig{})
	assert.Error(t, err)
	_, err = NewSMSAdapter(GatewayConfig{URL: "ftp://x"})
	assert.Error(t, err)
}

type fakeToken struct {
	err  error
	done chan struct{}
}

func newFakeToken(err error) *fakeToken {
	t := &fakeToken{err: err, done: make(chan struct{})}
	close(t.done)
	return t
}

func (t *fakeToken) Wait() bool                     { <-t.done; return true }
func (t *fakeToken) WaitTimeout(time.Duration) bool { return true }
func (t *fakeToken) Done() <-chan struct{}          { return t.done }
func (t *fakeToken) Error() error                   { return t.err }

type fakeMQTT struct {
	mu        sync.Mutex
	connected bool
	err       error
	published []string
	payloads  [][]byte
}

func (f *fakeMQTT) Publish(topic string, qos byte, retained bool, payload interface{}) mqtt.Token {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.published = append(f.published, topic)
	f.payloads = append(f.payloads, payload.([]byte))
	return newFakeToken(f.err)
}

func (f *fakeMQTT) IsConnectionOpen() bool { return f.connected }

func TestPushAdapter_Send(t *testing.T) {
	client := &fakeMQTT{connected: true}
	a := NewPushAdapter(client, "notify/")

	res, err := a.Send(context.Background(), Message{AlertID: "a1", Destination: "tok-1", Subject: "Flood", Body: "Evacuate"})
	require.NoError(t, err)
	assert.NotEmpty(t, res.ExternalID)

	_, err = a.Send(context.Background(), Message{AlertID: "a1", Destination: "topic:city:lagos", Body: "Evacuate"})
	require.NoError(t, err)

	assert.Equal(t, []string{"notify/devices/tok-1", "notify/topics/city:lagos"}, client.published)

	var p pushPayload
	require.NoError(t, json.Unmarshal(client.payloads[0], &p))
	assert.Equal(t, res.ExternalID, p.ID)
	assert.Equal(t, "a1", p.AlertID)
	assert.Equal(t, "Flood", p.Title)
}

func TestPushAdapter_Errors(t *testing.T) {
	a := NewPushAdapter(&fakeMQTT{connected: false}, "notify")
	_, err := a.Send(context.Background(), Message{Destination: "tok"})
	assert.ErrorIs(t, err, apperr.ErrProviderTransient)

	a = NewPushAdapter(&fakeMQTT{connected: true, err: errors.New("broker gone")}, "notify")
	_, err = a.Send(context.Background(), Message{Destination: "tok"})
	assert.ErrorIs(t, err, apperr.ErrProviderTransient)
}

func TestLogAdapter(t *testing.T) {
	a := NewLogAdapter(models.ChannelSMS, slog.New(slog.NewTextHandler(io.Discard, nil)))
	assert.Equal(t, models.ChannelSMS, a.Channel())
	assert.Error(t, a.ValidateDestination("123"))

	res, err := a.Send(context.Background(), Message{Destination: "+2348012345678"})
	require.NoError(t, err)
	assert.Contains(t, res.ExternalID, "log-")

	push := NewLogAdapter(models.ChannelPush, slog.New(slog.NewTextHandler(io.Discard, nil)))
	assert.NoError(t, push.ValidateDestination("topic:all"))
}
