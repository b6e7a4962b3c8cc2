package notify

import (
	"context"
	"fmt"

	"github.com/mr1hm/go-disaster-notify/internal/apperr"
	"github.com/mr1hm/go-disaster-notify/internal/models"
	"github.com/mr1hm/go-disaster-notify/internal/repository"
)

type CallbackOutcome string

const (
	CallbackApplied   CallbackOutcome = "applied"
	CallbackDuplicate CallbackOutcome = "duplicate"
	CallbackStale     CallbackOutcome = "stale"
	CallbackAnomaly   CallbackOutcome = "anomaly"
)

// ErrorInfo is the provider's failure detail on a callback.
type ErrorInfo struct {
	Code    string
	Message string
}

const maxCASAttempts = 5

// ApplyStatusCallback applies a provider status report. Repeats are no-ops,
// reports against a finished record are logged as anomalies, and backward
// moves are ignored, so providers may redeliver freely.
func (o *Orchestrator) ApplyStatusCallback(ctx context.Context, externalID string, status models.DeliveryStatus, info ErrorInfo) (CallbackOutcome, error) {
	if externalID == "" {
		return "", apperr.Validation("external id is required")
	}
	switch status {
	case models.DeliverySent, models.DeliveryDelivered, models.DeliveryFailed, models.DeliveryUndelivered:
	default:
		return "", apperr.Validation("unsupported callback status %q", status)
	}

	for range maxCASAttempts {
		rec, err := o.deliveries.GetDeliveryByExternalID(ctx, externalID)
		if err != nil {
			return "", err
		}

		outcome, t := o.classifyCallback(rec, status, info)
		if outcome != CallbackApplied {
			o.metrics.StatusCallbacks.WithLabelValues(string(outcome)).Inc()
			if outcome == CallbackAnomaly {
				o.logger.Warn("status callback for finished delivery",
					"record_id", rec.ID,
					"external_id", externalID,
					"current", string(rec.Status),
					"reported", string(status),
				)
			}
			return outcome, nil
		}

		applied, err := o.deliveries.CompareAndSwap(ctx, rec.ID, t)
		if err != nil {
			return "", fmt.Errorf("apply callback to %s: %w", rec.ID, err)
		}
		if applied {
			o.metrics.StatusCallbacks.WithLabelValues(string(CallbackApplied)).Inc()
			o.logger.Info("delivery status updated", "record_id", rec.ID, "from", string(rec.Status), "to", string(status))
			return CallbackApplied, nil
		}
	}
	return "", apperr.New(apperr.KindInternal, "callback for %s lost %d compare-and-set races", externalID, maxCASAttempts)
}

func (o *Orchestrator) classifyCallback(rec *models.DeliveryRecord, status models.DeliveryStatus, info ErrorInfo) (CallbackOutcome, repository.Transition) {
	switch {
	case rec.Status == status:
		return CallbackDuplicate, repository.Transition{}
	case rec.Terminal():
		return CallbackAnomaly, repository.Transition{}
	case status.Rank() < rec.Status.Rank():
		return CallbackStale, repository.Transition{}
	}

	now := o.clock.Now()
	t := repository.Transition{
		From:         rec.Status,
		FromRetry:    rec.RetryCount,
		To:           status,
		RetryCount:   rec.RetryCount,
		ErrorCode:    info.Code,
		ErrorMessage: info.Message,
		Note:         "provider callback",
		At:           now,
	}
	switch status {
	case models.DeliverySent:
		if rec.SentAt == nil {
			t.SentAt = &now
		}
	case models.DeliveryDelivered:
		t.DeliveredAt = &now
		if rec.SentAt == nil {
			t.SentAt = &now
		}
	}
	return CallbackApplied, t
}
