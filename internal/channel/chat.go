package channel

import (
	"context"

	"github.com/mr1hm/go-disaster-notify/internal/models"
)

// ChatAdapter sends through a chat messaging gateway addressed by phone number.
type ChatAdapter struct {
	gw *gateway
}

func NewChatAdapter(config GatewayConfig) (*ChatAdapter, error) {
	gw, err := newGateway(models.ChannelChat, config)
	if err != nil {
		return nil, err
	}
	return &ChatAdapter{gw: gw}, nil
}

func (a *ChatAdapter) Channel() models.Channel { return models.ChannelChat }

func (a *ChatAdapter) ValidateDestination(dest string) error { return ValidatePhone(dest) }

type chatPayload struct {
	To          string   `json:"to"`
	Type        string   `json:"type"`
	Text        chatText `json:"text"`
	Reference   string   `json:"reference"`
	CallbackURL string   `json:"callback_url,omitempty"`
}

type chatText struct {
	Body string `json:"body"`
}

func (a *ChatAdapter) Send(ctx context.Context, msg Message) (SendResult, error) {
	body := msg.Body
	if msg.Subject != "" {
		body = "*" + msg.Subject + "*\n" + body
	}
	return a.gw.post(ctx, chatPayload{
		To:          msg.Destination,
		Type:        "text",
		Text:        chatText{Body: body},
		Reference:   msg.RecordID,
		CallbackURL: a.gw.config.CallbackURL,
	})
}

func (a *ChatAdapter) Close() error { return nil }
