// Package sweeper runs the service's periodic maintenance tasks on tickers.
package sweeper

import (
	"context"
	"log/slog"
	"sync"
	"time"

	"github.com/jonboulle/clockwork"

	"github.com/mr1hm/go-disaster-notify/internal/observability"
)

// Task is one periodic job. Runs of the same task never overlap.
type Task struct {
	Name     string
	Interval time.Duration
	Run      func(ctx context.Context) error
	// Immediate runs the task once at start instead of waiting a full interval.
	Immediate bool
}

type Manager struct {
	tasks   []Task
	clock   clockwork.Clock
	logger  *slog.Logger
	metrics *observability.Metrics
	wg      sync.WaitGroup
}

func NewManager(clock clockwork.Clock, logger *slog.Logger, metrics *observability.Metrics) *Manager {
	if clock == nil {
		clock = clockwork.NewRealClock()
	}
	return &Manager{clock: clock, logger: logger, metrics: metrics}
}

// Add registers a task. Tasks with a non-positive interval are skipped.
func (m *Manager) Add(t Task) *Manager {
	if t.Interval <= 0 {
		m.logger.Info("sweep disabled", "task", t.Name)
		return m
	}
	m.tasks = append(m.tasks, t)
	return m
}

func (m *Manager) Start(ctx context.Context) {
	for _, t := range m.tasks {
		m.wg.Add(1)
		go m.runTask(ctx, t)
	}
}

func (m *Manager) runTask(ctx context.Context, t Task) {
	defer m.wg.Done()
	m.logger.Info("starting sweep", "task", t.Name, "interval", t.Interval)

	ticker := m.clock.NewTicker(t.Interval)
	defer ticker.Stop()

	if t.Immediate {
		m.run(ctx, t)
	}

	for {
		select {
		case <-ctx.Done():
			m.logger.Info("sweep shutting down", "task", t.Name)
			return
		case <-ticker.Chan():
			m.run(ctx, t)
		}
	}
}

func (m *Manager) run(ctx context.Context, t Task) {
	start := m.clock.Now()
	err := t.Run(ctx)
	m.metrics.SweepDuration.WithLabelValues(t.Name).Observe(m.clock.Since(start).Seconds())
	if err != nil {
		if ctx.Err() != nil {
			return
		}
		m.metrics.SweepErrors.WithLabelValues(t.Name).Inc()
		m.logger.Error("sweep failed", "task", t.Name, "error", err)
		return
	}
	m.logger.Debug("sweep complete", "task", t.Name)
}

// Stop waits for running tasks to return. Cancel the context passed to Start first.
func (m *Manager) Stop() {
	m.wg.Wait()
	m.logger.Info("sweeper stopped")
}
