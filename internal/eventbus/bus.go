package eventbus

import (
	"context"
	"log/slog"
	"sync"

	"github.com/mr1hm/go-disaster-notify/internal/models"
)

// Handler reacts to a newly emitted alert. Implementations must not block for
// long; slow work belongs on their own queues.
type Handler interface {
	HandleAlert(ctx context.Context, a *models.Alert)
}

type HandlerFunc func(ctx context.Context, a *models.Alert)

func (f HandlerFunc) HandleAlert(ctx context.Context, a *models.Alert) {
	f(ctx, a)
}

// Bus fans one alert out to every subscribed handler in registration order.
type Bus struct {
	logger *slog.Logger

	mu       sync.RWMutex
	handlers []Handler
}

func NewBus(logger *slog.Logger) *Bus {
	return &Bus{logger: logger}
}

func (b *Bus) Subscribe(h Handler) {
	b.mu.Lock()
	b.handlers = append(b.handlers, h)
	b.mu.Unlock()
}

func (b *Bus) HandleAlert(ctx context.Context, a *models.Alert) {
	b.mu.RLock()
	handlers := make([]Handler, len(b.handlers))
	copy(handlers, b.handlers)
	b.mu.RUnlock()

	b.logger.Debug("emitting alert", "alert_id", a.ID, "handlers", len(handlers))
	for _, h := range handlers {
		h.HandleAlert(ctx, a)
	}
}
