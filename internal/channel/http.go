package channel

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"

	"github.com/mr1hm/go-disaster-notify/internal/apperr"
	"github.com/mr1hm/go-disaster-notify/internal/models"
)

// GatewayConfig configures an HTTP delivery gateway.
type GatewayConfig struct {
	URL         string
	APIKey      string
	Sender      string // sender id or caller number
	CallbackURL string // status webhook advertised to the provider
	Timeout     time.Duration
}

func (c *GatewayConfig) Validate() error {
	if c.URL == "" {
		return fmt.Errorf("gateway URL is required")
	}
	if !strings.HasPrefix(c.URL, "http://") && !strings.HasPrefix(c.URL, "https://") {
		return fmt.Errorf("gateway URL must be http(s)")
	}
	return nil
}

// gateway posts JSON to a provider and classifies the response.
type gateway struct {
	channel    models.Channel
	config     GatewayConfig
	httpClient *http.Client
}

func newGateway(ch models.Channel, config GatewayConfig) (*gateway, error) {
	if err := config.Validate(); err != nil {
		return nil, fmt.Errorf("invalid %s gateway config: %w", ch, err)
	}
	timeout := config.Timeout
	if timeout <= 0 {
		timeout = 30 * time.Second
	}
	return &gateway{
		channel:    ch,
		config:     config,
		httpClient: &http.Client{Timeout: timeout},
	}, nil
}

type gatewayResponse struct {
	ID     string `json:"id"`
	Status string `json:"status"`
	Error  *struct {
		Code    string `json:"code"`
		Message string `json:"message"`
	} `json:"error,omitempty"`
}

func (g *gateway) post(ctx context.Context, payload any) (SendResult, error) {
	data, err := json.Marshal(payload)
	if err != nil {
		return SendResult{}, apperr.Wrap(apperr.KindInternal, err, "marshal payload")
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, g.config.URL, bytes.NewReader(data))
	if err != nil {
		return SendResult{}, apperr.Wrap(apperr.KindInternal, err, "create request")
	}
	req.Header.Set("Content-Type", "application/json")
	if g.config.APIKey != "" {
		req.Header.Set("Authorization", "Bearer "+g.config.APIKey)
	}

	resp, err := g.httpClient.Do(req)
	if err != nil {
		if errors.Is(err, context.DeadlineExceeded) {
			return SendResult{}, &apperr.Error{Kind: apperr.KindProviderTransient, Code: models.ErrCodeTimeout, Msg: string(g.channel) + " gateway timeout", Err: err}
		}
		return SendResult{}, apperr.Wrap(apperr.KindProviderTransient, err, string(g.channel)+" gateway unreachable")
	}
	defer resp.Body.Close()

	body, _ := io.ReadAll(io.LimitReader(resp.Body, 4096))
	var parsed gatewayResponse
	_ = json.Unmarshal(body, &parsed)

	if resp.StatusCode >= 200 && resp.StatusCode < 300 {
		if parsed.ID == "" {
			return SendResult{}, apperr.New(apperr.KindProviderTransient, "%s gateway accepted without a message id", g.channel)
		}
		return SendResult{ExternalID: parsed.ID}, nil
	}

	code := fmt.Sprintf("HTTP_%d", resp.StatusCode)
	msg := strings.TrimSpace(string(body))
	if parsed.Error != nil {
		if parsed.Error.Code != "" {
			code = parsed.Error.Code
		}
		msg = parsed.Error.Message
	}
	return SendResult{}, apperr.WithCode(classifyStatus(resp.StatusCode), code,
		fmt.Sprintf("%s gateway error: status %d: %s", g.channel, resp.StatusCode, msg))
}

// classifyStatus treats request and destination errors as permanent and
// everything else as retryable.
func classifyStatus(status int) apperr.Kind {
	switch status {
	case http.StatusBadRequest, http.StatusNotFound, http.StatusGone, http.StatusUnprocessableEntity:
		return apperr.KindProviderPermanent
	}
	return apperr.KindProviderTransient
}
