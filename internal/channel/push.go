package channel

import (
	"context"
	"encoding/json"
	"strings"
	"time"

	mqtt "github.com/eclipse/paho.mqtt.golang"
	"github.com/google/uuid"

	"github.com/mr1hm/go-disaster-notify/internal/apperr"
	"github.com/mr1hm/go-disaster-notify/internal/models"
)

// MQTTPublisher is the part of mqtt.Client the push adapter uses.
type MQTTPublisher interface {
	Publish(topic string, qos byte, retained bool, payload interface{}) mqtt.Token
	IsConnectionOpen() bool
}

// PushAdapter delivers push notifications over MQTT, to a device topic or a
// shared topic.
type PushAdapter struct {
	client MQTTPublisher
	prefix string
	qos    byte
}

func NewPushAdapter(client MQTTPublisher, prefix string) *PushAdapter {
	return &PushAdapter{client: client, prefix: strings.TrimSuffix(prefix, "/"), qos: 1}
}

func (a *PushAdapter) Channel() models.Channel { return models.ChannelPush }

func (a *PushAdapter) ValidateDestination(dest string) error { return ValidatePushTarget(dest) }

type pushPayload struct {
	ID       string    `json:"id"`
	AlertID  string    `json:"alert_id"`
	Title    string    `json:"title"`
	Body     string    `json:"body"`
	Severity string    `json:"severity,omitempty"`
	SentAt   time.Time `json:"sent_at"`
}

func (a *PushAdapter) topicFor(dest string) string {
	if name, ok := strings.CutPrefix(dest, TopicPrefix); ok {
		return a.prefix + "/topics/" + name
	}
	return a.prefix + "/devices/" + dest
}

func (a *PushAdapter) Send(ctx context.Context, msg Message) (SendResult, error) {
	if !a.client.IsConnectionOpen() {
		return SendResult{}, apperr.New(apperr.KindProviderTransient, "mqtt connection not open")
	}

	id := uuid.NewString()
	data, err := json.Marshal(pushPayload{
		ID:       id,
		AlertID:  msg.AlertID,
		Title:    msg.Subject,
		Body:     msg.Body,
		Severity: msg.Severity,
		SentAt:   time.Now().UTC(),
	})
	if err != nil {
		return SendResult{}, apperr.Wrap(apperr.KindInternal, err, "marshal push payload")
	}

	token := a.client.Publish(a.topicFor(msg.Destination), a.qos, false, data)
	select {
	case <-token.Done():
	case <-ctx.Done():
		return SendResult{}, &apperr.Error{Kind: apperr.KindProviderTransient, Code: models.ErrCodeTimeout, Msg: "mqtt publish timed out", Err: ctx.Err()}
	}
	if err := token.Error(); err != nil {
		return SendResult{}, apperr.Wrap(apperr.KindProviderTransient, err, "mqtt publish")
	}
	return SendResult{ExternalID: id}, nil
}

// Close leaves the shared client connected; its owner disconnects it.
func (a *PushAdapter) Close() error { return nil }
