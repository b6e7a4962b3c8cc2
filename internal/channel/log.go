package channel

import (
	"context"
	"log/slog"

	"github.com/google/uuid"

	"github.com/mr1hm/go-disaster-notify/internal/models"
)

// LogAdapter stands in for an unconfigured provider: it logs the message and
// reports success.
type LogAdapter struct {
	channel  models.Channel
	validate func(string) error
	logger   *slog.Logger
}

func NewLogAdapter(ch models.Channel, logger *slog.Logger) *LogAdapter {
	validate := ValidatePhone
	if ch == models.ChannelPush {
		validate = ValidatePushTarget
	}
	return &LogAdapter{channel: ch, validate: validate, logger: logger}
}

func (a *LogAdapter) Channel() models.Channel { return a.channel }

func (a *LogAdapter) ValidateDestination(dest string) error { return a.validate(dest) }

func (a *LogAdapter) Send(ctx context.Context, msg Message) (SendResult, error) {
	id := "log-" + uuid.NewString()
	a.logger.Info("notification (log adapter)",
		"channel", string(a.channel),
		"destination", msg.Destination,
		"record_id", msg.RecordID,
		"external_id", id,
		"subject", msg.Subject,
	)
	return SendResult{ExternalID: id}, nil
}

func (a *LogAdapter) Close() error { return nil }
