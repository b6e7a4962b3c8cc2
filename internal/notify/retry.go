package notify

import (
	"context"
	"fmt"
	"sync"

	"golang.org/x/sync/errgroup"

	"github.com/mr1hm/go-disaster-notify/internal/models"
	"github.com/mr1hm/go-disaster-notify/internal/repository"
)

// RetrySummary counts one retry sweep.
type RetrySummary struct {
	Due     int
	Claimed int
	Sent    int
	Failed  int
}

// RetryFailed re-sends every failed record whose retry is due and whose budget
// is not spent. Channels are swept concurrently and independently; within a
// channel records go in due order. The failed -> pending claim guards against
// a concurrent sweep or callback. A cancelled sweep stops claiming; a record
// already claimed is recorded as a failed attempt.
func (o *Orchestrator) RetryFailed(ctx context.Context) (RetrySummary, error) {
	due, err := o.deliveries.ListDueRetries(ctx, o.clock.Now(), o.cfg.RetryBatch)
	if err != nil {
		return RetrySummary{}, fmt.Errorf("list due retries: %w", err)
	}
	o.metrics.RetriesDue.Add(float64(len(due)))

	byChannel := make(map[models.Channel][]models.DeliveryRecord)
	for _, rec := range due {
		byChannel[rec.Channel] = append(byChannel[rec.Channel], rec)
	}

	var (
		mu      sync.Mutex
		summary = RetrySummary{Due: len(due)}
	)
	var g errgroup.Group
	for ch, recs := range byChannel {
		g.Go(func() error {
			for i := range recs {
				if ctx.Err() != nil {
					return ctx.Err()
				}
				rec := &recs[i]
				status, claimed, err := o.retryOne(ctx, rec)
				if err != nil {
					return fmt.Errorf("retry %s on %s: %w", rec.ID, ch, err)
				}
				if !claimed {
					continue
				}
				mu.Lock()
				summary.Claimed++
				switch status {
				case models.DeliverySent:
					summary.Sent++
				case models.DeliveryFailed:
					summary.Failed++
				}
				mu.Unlock()
			}
			return nil
		})
	}
	err = g.Wait()
	return summary, err
}

func (o *Orchestrator) retryOne(ctx context.Context, rec *models.DeliveryRecord) (models.DeliveryStatus, bool, error) {
	if rec.RetryCount >= rec.MaxRetries {
		return rec.Status, false, nil
	}
	claimed, err := o.deliveries.CompareAndSwap(ctx, rec.ID, repository.Transition{
		From:       models.DeliveryFailed,
		FromRetry:  rec.RetryCount,
		To:         models.DeliveryPending,
		RetryCount: rec.RetryCount + 1,
		Note:       fmt.Sprintf("retry %d", rec.RetryCount+1),
		At:         o.clock.Now(),
	})
	if err != nil || !claimed {
		return rec.Status, false, err
	}

	rec.Status = models.DeliveryPending
	rec.RetryCount++
	rec.NextRetryAt = nil
	status, err := o.attempt(ctx, rec)
	return status, true, err
}
