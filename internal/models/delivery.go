package models

import "time"

type Channel string

const (
	ChannelSMS   Channel = "sms"
	ChannelVoice Channel = "voice"
	ChannelChat  Channel = "chat"
	ChannelPush  Channel = "push"
)

var Channels = []Channel{ChannelSMS, ChannelVoice, ChannelChat, ChannelPush}

func (c Channel) Valid() bool {
	switch c {
	case ChannelSMS, ChannelVoice, ChannelChat, ChannelPush:
		return true
	}
	return false
}

type DeliveryStatus string

const (
	DeliveryPending     DeliveryStatus = "pending"
	DeliveryQueued      DeliveryStatus = "queued"
	DeliverySent        DeliveryStatus = "sent"
	DeliveryDelivered   DeliveryStatus = "delivered"
	DeliveryFailed      DeliveryStatus = "failed"
	DeliveryUndelivered DeliveryStatus = "undelivered"
)

// Rank orders statuses along the pipeline; the three outcomes share the top rank.
func (s DeliveryStatus) Rank() int {
	switch s {
	case DeliveryPending:
		return 0
	case DeliveryQueued:
		return 1
	case DeliverySent:
		return 2
	case DeliveryDelivered, DeliveryFailed, DeliveryUndelivered:
		return 3
	}
	return -1
}

func (s DeliveryStatus) Valid() bool {
	return s.Rank() >= 0
}

// Error codes recorded on delivery records.
const (
	ErrCodeInvalidDestination = "INVALID_DESTINATION"
	ErrCodeRetryExhausted     = "RETRY_EXHAUSTED"
	ErrCodeTimeout            = "TIMEOUT"
	ErrCodeNoAdapter          = "NO_ADAPTER"
	ErrCodeQueueUnavailable   = "QUEUE_UNAVAILABLE"
)

type DeliveryRecord struct {
	ID            string
	AlertID       string
	Channel       Channel
	Destination   string
	Language      string
	Subject       string
	Payload       string
	PayloadDigest string
	Severity      Severity // of the alert, for channels that render it
	Status        DeliveryStatus
	ExternalID    string
	RetryCount    int
	MaxRetries    int
	NextRetryAt   *time.Time
	ErrorCode     string
	ErrorMessage  string
	CreatedAt     time.Time
	UpdatedAt     time.Time
	SentAt        *time.Time
	DeliveredAt   *time.Time
}

// Terminal reports whether no further transition is expected: delivered,
// undelivered, or failed with no retry scheduled.
func (r *DeliveryRecord) Terminal() bool {
	switch r.Status {
	case DeliveryDelivered, DeliveryUndelivered:
		return true
	case DeliveryFailed:
		return r.NextRetryAt == nil
	}
	return false
}

// DeliveryEvent is one applied status transition of a record.
type DeliveryEvent struct {
	ID         int64
	RecordID   string
	FromStatus DeliveryStatus
	ToStatus   DeliveryStatus
	RetryCount int
	Note       string
	At         time.Time
}
