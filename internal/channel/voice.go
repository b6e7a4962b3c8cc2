package channel

import (
	"context"

	"github.com/mr1hm/go-disaster-notify/internal/models"
)

// VoiceAdapter places an outbound call that reads the message aloud.
type VoiceAdapter struct {
	gw *gateway
}

func NewVoiceAdapter(config GatewayConfig) (*VoiceAdapter, error) {
	gw, err := newGateway(models.ChannelVoice, config)
	if err != nil {
		return nil, err
	}
	return &VoiceAdapter{gw: gw}, nil
}

func (a *VoiceAdapter) Channel() models.Channel { return models.ChannelVoice }

func (a *VoiceAdapter) ValidateDestination(dest string) error { return ValidatePhone(dest) }

type voicePayload struct {
	To          string `json:"to"`
	From        string `json:"from,omitempty"`
	Say         string `json:"say"`
	Language    string `json:"language,omitempty"`
	Repeat      int    `json:"repeat"`
	Reference   string `json:"reference"`
	CallbackURL string `json:"callback_url,omitempty"`
}

func (a *VoiceAdapter) Send(ctx context.Context, msg Message) (SendResult, error) {
	return a.gw.post(ctx, voicePayload{
		To:          msg.Destination,
		From:        a.gw.config.Sender,
		Say:         msg.Body,
		Language:    msg.Language,
		Repeat:      2,
		Reference:   msg.RecordID,
		CallbackURL: a.gw.config.CallbackURL,
	})
}

func (a *VoiceAdapter) Close() error { return nil }
