// Package channel holds the outbound delivery adapters, one per medium.
package channel

import (
	"context"
	"regexp"
	"strings"

	"github.com/mr1hm/go-disaster-notify/internal/apperr"
	"github.com/mr1hm/go-disaster-notify/internal/models"
)

// Message is one rendered notification for one destination.
type Message struct {
	RecordID    string
	AlertID     string
	Destination string
	Language    string
	Subject     string
	Body        string
	Severity    string
}

type SendResult struct {
	ExternalID string
}

// Adapter wraps one delivery provider. Send errors carry apperr kinds
// ProviderTransient or ProviderPermanent.
type Adapter interface {
	Channel() models.Channel
	ValidateDestination(dest string) error
	Send(ctx context.Context, msg Message) (SendResult, error)
	Close() error
}

var e164 = regexp.MustCompile(`^\+[1-9][0-9]{7,14}$`)

// ValidatePhone accepts E.164 numbers only.
func ValidatePhone(dest string) error {
	if !e164.MatchString(dest) {
		return apperr.WithCode(apperr.KindValidation, models.ErrCodeInvalidDestination, "not an E.164 phone number: "+dest)
	}
	return nil
}

// TopicPrefix marks a push destination that targets a topic instead of a device token.
const TopicPrefix = "topic:"

// ValidatePushTarget accepts a device token or topic:<name>.
func ValidatePushTarget(dest string) error {
	if name, ok := strings.CutPrefix(dest, TopicPrefix); ok {
		if name == "" || strings.ContainsAny(name, "#+ ") {
			return apperr.WithCode(apperr.KindValidation, models.ErrCodeInvalidDestination, "invalid push topic: "+dest)
		}
		return nil
	}
	if strings.TrimSpace(dest) == "" || strings.ContainsAny(dest, "/#+ ") {
		return apperr.WithCode(apperr.KindValidation, models.ErrCodeInvalidDestination, "invalid device token")
	}
	return nil
}
