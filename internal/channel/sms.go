package channel

import (
	"context"

	"github.com/mr1hm/go-disaster-notify/internal/models"
)

type SMSAdapter struct {
	gw *gateway
}

func NewSMSAdapter(config GatewayConfig) (*SMSAdapter, error) {
	gw, err := newGateway(models.ChannelSMS, config)
	if err != nil {
		return nil, err
	}
	return &SMSAdapter{gw: gw}, nil
}

func (a *SMSAdapter) Channel() models.Channel { return models.ChannelSMS }

func (a *SMSAdapter) ValidateDestination(dest string) error { return ValidatePhone(dest) }

type smsPayload struct {
	To          string `json:"to"`
	From        string `json:"from,omitempty"`
	Text        string `json:"text"`
	Reference   string `json:"reference"`
	CallbackURL string `json:"callback_url,omitempty"`
}

func (a *SMSAdapter) Send(ctx context.Context, msg Message) (SendResult, error) {
	return a.gw.post(ctx, smsPayload{
		To:          msg.Destination,
		From:        a.gw.config.Sender,
		Text:        msg.Body,
		Reference:   msg.RecordID,
		CallbackURL: a.gw.config.CallbackURL,
	})
}

func (a *SMSAdapter) Close() error { return nil }
