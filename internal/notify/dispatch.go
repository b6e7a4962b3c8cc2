package notify

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"

	"github.com/mr1hm/go-disaster-notify/internal/apperr"
	"github.com/mr1hm/go-disaster-notify/internal/channel"
	"github.com/mr1hm/go-disaster-notify/internal/models"
	"github.com/mr1hm/go-disaster-notify/internal/repository"
)

// ChannelCounts reports dispatch outcomes for one channel.
type ChannelCounts struct {
	Accepted int `json:"accepted"`
	Rejected int `json:"rejected"`
}

type DispatchResult struct {
	AlertID   string                            `json:"alertId"`
	Channels  map[models.Channel]*ChannelCounts `json:"channels"`
	RecordIDs []string                          `json:"-"`
}

func (r *DispatchResult) Accepted() int {
	n := 0
	for _, c := range r.Channels {
		n += c.Accepted
	}
	return n
}

func (r *DispatchResult) Rejected() int {
	n := 0
	for _, c := range r.Channels {
		n += c.Rejected
	}
	return n
}

// retrySchedule is the wait before retry n+1; the last entry is the cap.
var retrySchedule = []time.Duration{time.Minute, 5 * time.Minute, 15 * time.Minute}

func backoff(retryCount int) time.Duration {
	if retryCount < 0 {
		retryCount = 0
	}
	if retryCount >= len(retrySchedule) {
		return retrySchedule[len(retrySchedule)-1]
	}
	return retrySchedule[retryCount]
}

// Dispatch creates one delivery record per (channel, recipient) and queues the
// valid ones on their channel. Invalid destinations and channels without an
// adapter are recorded as failed and counted as rejected. It returns without
// waiting for any send.
func (o *Orchestrator) Dispatch(ctx context.Context, a *models.Alert, audience []Recipient, channels []models.Channel) (*DispatchResult, error) {
	if a == nil {
		return nil, apperr.Validation("alert is required")
	}
	if a.Status.Terminal() {
		return nil, apperr.New(apperr.KindExpired, "alert %s is %s", a.ID, a.Status)
	}
	if len(channels) == 0 {
		channels = o.cfg.DefaultChannels
	}
	for _, ch := range channels {
		if !ch.Valid() {
			return nil, apperr.Validation("unknown channel %q", ch)
		}
	}

	areas := o.areaNames(a)
	res := &DispatchResult{AlertID: a.ID, Channels: make(map[models.Channel]*ChannelCounts)}

	for _, ch := range channels {
		counts := &ChannelCounts{}
		res.Channels[ch] = counts
		l := o.lanes[ch]

		for _, rcpt := range audience {
			if !rcpt.accepts(ch) {
				continue
			}
			rec, accepted, err := o.createRecord(ctx, a, l, ch, rcpt, areas)
			if err != nil {
				return res, err
			}
			res.RecordIDs = append(res.RecordIDs, rec.ID)
			if !accepted {
				counts.Rejected++
				o.metrics.DeliveriesCreated.WithLabelValues(string(ch), "rejected").Inc()
				continue
			}
			counts.Accepted++
			o.metrics.DeliveriesCreated.WithLabelValues(string(ch), "accepted").Inc()
			o.enqueue(ctx, l, rec)
		}
	}
	return res, nil
}

// createRecord stores a pending record, or a terminal failed one when the
// destination cannot be used on ch.
func (o *Orchestrator) createRecord(ctx context.Context, a *models.Alert, l *lane, ch models.Channel, rcpt Recipient, areas string) (*models.DeliveryRecord, bool, error) {
	now := o.clock.Now()
	lang := rcpt.Language
	if lang == "" {
		lang = o.cfg.DefaultLanguage
	}
	rec := &models.DeliveryRecord{
		ID:          uuid.NewString(),
		AlertID:     a.ID,
		Channel:     ch,
		Destination: rcpt.Destination,
		Language:    lang,
		Severity:    a.Severity,
		Status:      models.DeliveryPending,
		MaxRetries:  o.cfg.MaxRetries,
		CreatedAt:   now,
		UpdatedAt:   now,
	}

	var invalid error
	switch {
	case l == nil:
		invalid = apperr.WithCode(apperr.KindValidation, models.ErrCodeNoAdapter, fmt.Sprintf("no adapter configured for %s", ch))
	default:
		invalid = l.adapter.ValidateDestination(rcpt.Destination)
	}

	if invalid == nil {
		msg, err := o.templates.Render(a, ch, lang, areas)
		if err != nil {
			return nil, false, apperr.Wrap(apperr.KindInternal, err, "render message")
		}
		rec.Subject = msg.Subject
		rec.Payload = msg.Body
		rec.PayloadDigest = msg.Digest
	} else {
		rec.Status = models.DeliveryFailed
		rec.ErrorCode = apperr.CodeOf(invalid)
		rec.ErrorMessage = invalid.Error()
	}

	if err := o.deliveries.CreateDelivery(ctx, rec); err != nil {
		return nil, false, fmt.Errorf("create delivery: %w", err)
	}
	return rec, invalid == nil, nil
}

// enqueue hands rec to its channel pool. A full queue turns the record into a
// scheduled retry so the sweep picks it up.
func (o *Orchestrator) enqueue(ctx context.Context, l *lane, rec *models.DeliveryRecord) {
	if l.pool.TrySubmit(rec) {
		return
	}
	next := o.clock.Now().Add(backoff(0))
	_, err := o.deliveries.CompareAndSwap(ctx, rec.ID, repository.Transition{
		From:         models.DeliveryPending,
		FromRetry:    rec.RetryCount,
		To:           models.DeliveryFailed,
		RetryCount:   rec.RetryCount,
		NextRetryAt:  &next,
		ErrorCode:    models.ErrCodeQueueUnavailable,
		ErrorMessage: "channel queue full",
		Note:         "queue full",
		At:           o.clock.Now(),
	})
	if err != nil {
		o.logger.Error("defer delivery", "record_id", rec.ID, "error", err)
	}
}

func severityLabel(s models.Severity) string {
	if s == models.SeverityUnknown {
		return ""
	}
	return s.String()
}

// attempt claims rec (pending -> queued), sends it and records the outcome.
// It returns the resulting status; a lost claim returns the status unchanged.
// Only the send and the limiter wait observe ctx cancellation; a cancelled
// attempt is recorded as a failure and retried like any other.
func (o *Orchestrator) attempt(ctx context.Context, rec *models.DeliveryRecord) (models.DeliveryStatus, error) {
	store := context.WithoutCancel(ctx)
	claimed, err := o.deliveries.CompareAndSwap(store, rec.ID, repository.Transition{
		From:       models.DeliveryPending,
		FromRetry:  rec.RetryCount,
		To:         models.DeliveryQueued,
		RetryCount: rec.RetryCount,
		Note:       "claimed",
		At:         o.clock.Now(),
	})
	if err != nil {
		return rec.Status, fmt.Errorf("claim %s: %w", rec.ID, err)
	}
	if !claimed {
		return rec.Status, nil
	}

	l, ok := o.lanes[rec.Channel]
	if !ok {
		return o.fail(store, rec, apperr.WithCode(apperr.KindProviderPermanent, models.ErrCodeNoAdapter, "no adapter for "+string(rec.Channel)))
	}
	if err := l.limiter.Wait(ctx); err != nil {
		return o.fail(store, rec, apperr.Wrap(apperr.KindProviderTransient, err, "rate limiter"))
	}

	sendCtx, cancel := context.WithTimeout(ctx, o.cfg.SendTimeout)
	start := time.Now()
	result, sendErr := l.adapter.Send(sendCtx, channel.Message{
		RecordID:    rec.ID,
		AlertID:     rec.AlertID,
		Destination: rec.Destination,
		Language:    rec.Language,
		Subject:     rec.Subject,
		Body:        rec.Payload,
		Severity:    severityLabel(rec.Severity),
	})
	cancel()
	o.metrics.SendDuration.WithLabelValues(string(rec.Channel)).Observe(time.Since(start).Seconds())

	if sendErr != nil {
		if errors.Is(sendErr, context.DeadlineExceeded) && apperr.CodeOf(sendErr) == "" {
			sendErr = &apperr.Error{Kind: apperr.KindProviderTransient, Code: models.ErrCodeTimeout, Msg: "send timed out", Err: sendErr}
		}
		return o.fail(store, rec, sendErr)
	}

	now := o.clock.Now()
	applied, err := o.deliveries.CompareAndSwap(store, rec.ID, repository.Transition{
		From:       models.DeliveryQueued,
		FromRetry:  rec.RetryCount,
		To:         models.DeliverySent,
		RetryCount: rec.RetryCount,
		ExternalID: result.ExternalID,
		SentAt:     &now,
		Note:       "sent",
		At:         now,
	})
	if err != nil {
		return models.DeliveryQueued, fmt.Errorf("mark %s sent: %w", rec.ID, err)
	}
	if !applied {
		// A status callback overtook the send; the record has moved on.
		o.logger.Debug("sent transition skipped", "record_id", rec.ID, "external_id", result.ExternalID)
	}
	o.metrics.DeliveryAttempts.WithLabelValues(string(rec.Channel), "sent").Inc()
	return models.DeliverySent, nil
}

// fail records a failed attempt from queued. Permanent errors end the record;
// transient ones schedule a retry while budget remains.
func (o *Orchestrator) fail(ctx context.Context, rec *models.DeliveryRecord, sendErr error) (models.DeliveryStatus, error) {
	now := o.clock.Now()
	t := repository.Transition{
		From:         models.DeliveryQueued,
		FromRetry:    rec.RetryCount,
		To:           models.DeliveryFailed,
		RetryCount:   rec.RetryCount,
		ErrorCode:    apperr.CodeOf(sendErr),
		ErrorMessage: sendErr.Error(),
		At:           now,
	}

	outcome := "transient"
	switch {
	case apperr.KindOf(sendErr) == apperr.KindProviderPermanent:
		outcome = "permanent"
		t.Note = "permanent failure"
	case rec.RetryCount < rec.MaxRetries:
		next := now.Add(backoff(rec.RetryCount))
		t.NextRetryAt = &next
		t.Note = fmt.Sprintf("retry %d scheduled", rec.RetryCount+1)
	default:
		outcome = "exhausted"
		t.ErrorCode = models.ErrCodeRetryExhausted
		t.Note = "retries exhausted"
	}
	o.metrics.DeliveryAttempts.WithLabelValues(string(rec.Channel), outcome).Inc()
	o.logger.Warn("delivery failed",
		"record_id", rec.ID,
		"channel", string(rec.Channel),
		"retry_count", rec.RetryCount,
		"outcome", outcome,
		"error", sendErr,
	)

	if _, err := o.deliveries.CompareAndSwap(ctx, rec.ID, t); err != nil {
		return models.DeliveryQueued, fmt.Errorf("mark %s failed: %w", rec.ID, err)
	}
	return models.DeliveryFailed, nil
}
