package eventbus

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"time"

	kafkago "github.com/segmentio/kafka-go"

	"github.com/mr1hm/go-disaster-notify/internal/models"
	"github.com/mr1hm/go-disaster-notify/internal/observability"
	"github.com/mr1hm/go-disaster-notify/internal/worker"
)

// MessageWriter is the subset of *kafkago.Writer used by the publisher.
type MessageWriter interface {
	WriteMessages(ctx context.Context, msgs ...kafkago.Message) error
	Close() error
}

// KafkaPublisher streams every emitted alert to a Kafka topic, keyed by alert id.
type KafkaPublisher struct {
	writer  MessageWriter
	queue   *worker.Pool[*models.Alert]
	timeout time.Duration
	logger  *slog.Logger
	metrics *observability.Metrics
}

func NewKafkaWriter(brokers []string, topic string) *kafkago.Writer {
	return &kafkago.Writer{
		Addr:                   kafkago.TCP(brokers...),
		Topic:                  topic,
		Balancer:               &kafkago.Hash{},
		RequiredAcks:           kafkago.RequireAll,
		AllowAutoTopicCreation: true,
	}
}

func NewKafkaPublisher(w MessageWriter, logger *slog.Logger, metrics *observability.Metrics) *KafkaPublisher {
	p := &KafkaPublisher{
		writer:  w,
		timeout: 10 * time.Second,
		logger:  logger,
		metrics: metrics,
	}
	p.queue = worker.NewPool(1, 256, p.write)
	return p
}

func (p *KafkaPublisher) Start(ctx context.Context) {
	p.queue.Start(ctx)
}

// HandleAlert queues the alert; a full queue drops it with a log line.
func (p *KafkaPublisher) HandleAlert(ctx context.Context, a *models.Alert) {
	if !p.queue.TrySubmit(a) {
		p.metrics.StreamPublished.WithLabelValues("dropped").Inc()
		p.logger.Warn("alert stream queue full, dropping", "alert_id", a.ID)
	}
}

func (p *KafkaPublisher) write(ctx context.Context, a *models.Alert) error {
	msg, err := serializeAlert(a)
	if err != nil {
		p.metrics.StreamPublished.WithLabelValues("error").Inc()
		return err
	}

	ctx, cancel := context.WithTimeout(ctx, p.timeout)
	defer cancel()
	if err := p.writer.WriteMessages(ctx, msg); err != nil {
		p.metrics.StreamPublished.WithLabelValues("error").Inc()
		p.logger.Error("failed to publish alert", "alert_id", a.ID, "error", err)
		return err
	}
	p.metrics.StreamPublished.WithLabelValues("ok").Inc()
	return nil
}

// Close drains queued alerts and closes the writer.
func (p *KafkaPublisher) Close() error {
	p.queue.Stop()
	return p.writer.Close()
}

type alertMessage struct {
	ID           string                `json:"id"`
	Category     string                `json:"category"`
	Severity     string                `json:"severity"`
	Status       string                `json:"status"`
	Title        string                `json:"title"`
	Description  string                `json:"description,omitempty"`
	Instructions string                `json:"instructions,omitempty"`
	Areas        []models.AffectedArea `json:"areas"`
	Source       string                `json:"source"`
	SensorID     string                `json:"sensor_id,omitempty"`
	Supersedes   string                `json:"supersedes,omitempty"`
	IssuedAt     time.Time             `json:"issued_at"`
	ExpiresAt    time.Time             `json:"expires_at"`
}

func serializeAlert(a *models.Alert) (kafkago.Message, error) {
	data, err := json.Marshal(alertMessage{
		ID:           a.ID,
		Category:     string(a.Category),
		Severity:     a.Severity.String(),
		Status:       string(a.Status),
		Title:        a.Title,
		Description:  a.Description,
		Instructions: a.Instructions,
		Areas:        a.Areas,
		Source:       string(a.Source),
		SensorID:     a.SensorID,
		Supersedes:   a.Supersedes,
		IssuedAt:     a.IssuedAt,
		ExpiresAt:    a.ExpiresAt,
	})
	if err != nil {
		return kafkago.Message{}, fmt.Errorf("serialize alert: %w", err)
	}
	return kafkago.Message{
		Key:   []byte(a.ID),
		Value: data,
		Headers: []kafkago.Header{
			{Key: "event_type", Value: []byte("alert." + string(a.Status))},
			{Key: "severity", Value: []byte(a.Severity.String())},
			{Key: "issued_at", Value: []byte(a.IssuedAt.Format(time.RFC3339))},
		},
	}, nil
}
