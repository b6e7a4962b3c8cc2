// Package notify fans alerts out to channel adapters and tracks every
// delivery through its record.
package notify

import (
	"context"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"github.com/jonboulle/clockwork"
	"golang.org/x/time/rate"

	"github.com/mr1hm/go-disaster-notify/internal/channel"
	"github.com/mr1hm/go-disaster-notify/internal/eventbus"
	"github.com/mr1hm/go-disaster-notify/internal/models"
	"github.com/mr1hm/go-disaster-notify/internal/observability"
	"github.com/mr1hm/go-disaster-notify/internal/repository"
	"github.com/mr1hm/go-disaster-notify/internal/worker"
)

// Places resolves area names and checks that a city exists.
type Places interface {
	HasCity(id string) bool
	CityName(id string) string
	RegionName(id string) string
}

type Config struct {
	DefaultLanguage string
	DefaultChannels []models.Channel
	MaxRetries      int
	SendTimeout     time.Duration
	Workers         int // per channel
	QueueSize       int // per channel
	RetryBatch      int
	AlertTTL        time.Duration
	// Rates caps sends per second per channel; missing channels are unlimited.
	Rates map[models.Channel]rate.Limit
	Burst int
}

func (c *Config) setDefaults() {
	if c.DefaultLanguage == "" {
		c.DefaultLanguage = "en"
	}
	if len(c.DefaultChannels) == 0 {
		c.DefaultChannels = []models.Channel{models.ChannelSMS, models.ChannelPush}
	}
	if c.MaxRetries <= 0 {
		c.MaxRetries = 3
	}
	if c.SendTimeout <= 0 {
		c.SendTimeout = 10 * time.Second
	}
	if c.Workers <= 0 {
		c.Workers = 4
	}
	if c.QueueSize <= 0 {
		c.QueueSize = 1024
	}
	if c.RetryBatch <= 0 {
		c.RetryBatch = 500
	}
	if c.AlertTTL <= 0 {
		c.AlertTTL = 6 * time.Hour
	}
	if c.Burst <= 0 {
		c.Burst = 1
	}
}

type Deps struct {
	Deliveries repository.DeliveryRepository
	Alerts     repository.AlertRepository
	Audience   *AudienceResolver
	Templates  *Templates
	Adapters   []channel.Adapter
	Places     Places
	// Emitter announces alerts created here; when nil they are dispatched directly.
	Emitter eventbus.Handler
	Clock   clockwork.Clock
	Logger  *slog.Logger
	Metrics *observability.Metrics
}

// lane is the per-channel machinery: adapter, limiter and worker pool.
type lane struct {
	adapter channel.Adapter
	limiter *rate.Limiter
	pool    *worker.Pool[*models.DeliveryRecord]
}

type Orchestrator struct {
	cfg        Config
	deliveries repository.DeliveryRepository
	alerts     repository.AlertRepository
	audience   *AudienceResolver
	templates  *Templates
	places     Places
	emitter    eventbus.Handler
	lanes      map[models.Channel]*lane
	alertQueue *worker.Pool[*models.Alert]
	clock      clockwork.Clock
	logger     *slog.Logger
	metrics    *observability.Metrics
}

func NewOrchestrator(cfg Config, deps Deps) *Orchestrator {
	cfg.setDefaults()
	if deps.Clock == nil {
		deps.Clock = clockwork.NewRealClock()
	}

	o := &Orchestrator{
		cfg:        cfg,
		deliveries: deps.Deliveries,
		alerts:     deps.Alerts,
		audience:   deps.Audience,
		templates:  deps.Templates,
		places:     deps.Places,
		emitter:    deps.Emitter,
		lanes:      make(map[models.Channel]*lane),
		clock:      deps.Clock,
		logger:     deps.Logger,
		metrics:    deps.Metrics,
	}
	if o.emitter == nil {
		o.emitter = eventbus.HandlerFunc(o.HandleAlert)
	}

	for _, a := range deps.Adapters {
		limit, ok := cfg.Rates[a.Channel()]
		if !ok || limit <= 0 {
			limit = rate.Inf
		}
		l := &lane{adapter: a, limiter: rate.NewLimiter(limit, cfg.Burst)}
		ch := a.Channel()
		l.pool = worker.NewPool(cfg.Workers, cfg.QueueSize, func(ctx context.Context, rec *models.DeliveryRecord) error {
			_, err := o.attempt(ctx, rec)
			return err
		}).OnError(func(rec *models.DeliveryRecord, err error) {
			o.logger.Error("delivery attempt failed", "channel", string(ch), "record_id", rec.ID, "error", err)
		})
		o.lanes[ch] = l
	}

	o.alertQueue = worker.NewPool(1, 256, o.dispatchForAlert).OnError(func(a *models.Alert, err error) {
		o.logger.Error("alert dispatch failed", "alert_id", a.ID, "error", err)
	})
	return o
}

// Start launches the channel workers and the alert queue.
func (o *Orchestrator) Start(ctx context.Context) {
	for _, l := range o.lanes {
		l.pool.Start(ctx)
	}
	o.alertQueue.Start(ctx)
}

// Stop drains queued alerts, then queued deliveries, then closes adapters.
func (o *Orchestrator) Stop() {
	o.alertQueue.Stop()
	for ch, l := range o.lanes {
		l.pool.Stop()
		if err := l.adapter.Close(); err != nil {
			o.logger.Warn("close adapter", "channel", string(ch), "error", err)
		}
	}
}

// Channels lists the channels with a configured adapter.
func (o *Orchestrator) Channels() []models.Channel {
	var out []models.Channel
	for _, ch := range models.Channels {
		if _, ok := o.lanes[ch]; ok {
			out = append(out, ch)
		}
	}
	return out
}

// HandleAlert queues a newly emitted alert for dispatch to its areas on the
// default channels. It never blocks the emitter.
func (o *Orchestrator) HandleAlert(ctx context.Context, a *models.Alert) {
	if !o.alertQueue.TrySubmit(a) {
		o.logger.Error("alert dispatch queue full", "alert_id", a.ID)
	}
}

func (o *Orchestrator) dispatchForAlert(ctx context.Context, a *models.Alert) error {
	seen := make(map[string]bool)
	var audience []Recipient
	for _, area := range a.Areas {
		rcpts, err := o.audience.Resolve(ctx, Selector{CityID: area.CityID, RegionID: area.RegionID})
		if err != nil {
			return fmt.Errorf("resolve audience for %s: %w", area.CityID, err)
		}
		for _, r := range rcpts {
			if !seen[r.Destination] {
				seen[r.Destination] = true
				audience = append(audience, r)
			}
		}
	}
	if len(audience) == 0 {
		o.logger.Info("alert has no audience", "alert_id", a.ID)
		return nil
	}
	res, err := o.Dispatch(ctx, a, audience, o.cfg.DefaultChannels)
	if err != nil {
		return err
	}
	o.logger.Info("alert dispatched", "alert_id", a.ID, "accepted", res.Accepted(), "rejected", res.Rejected())
	return nil
}

func (o *Orchestrator) areaNames(a *models.Alert) string {
	names := make([]string, 0, len(a.Areas))
	for _, area := range a.Areas {
		name := o.places.CityName(area.CityID)
		if area.RegionID != "" {
			name = o.places.RegionName(area.RegionID) + ", " + name
		}
		names = append(names, name)
	}
	return strings.Join(names, "; ")
}
