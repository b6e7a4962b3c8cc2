package repository

import (
	"context"
	"time"

	"github.com/mr1hm/go-disaster-notify/internal/models"
)

type SensorRepository interface {
	UpsertSensor(ctx context.Context, s *models.Sensor) error
	GetSensor(ctx context.Context, id string) (*models.Sensor, error)
	ListSensors(ctx context.Context) ([]models.Sensor, error)
	// RecordReading stores the reading, the sensor's new state and any alerts
	// the reading raised in one transaction. An alert with Supersedes set
	// replaces that alert.
	RecordReading(ctx context.Context, r *models.SensorReading, s *models.Sensor, alerts ...*models.Alert) error
	UpdateSensorState(ctx context.Context, s *models.Sensor, alerts ...*models.Alert) error
	SumReadings(ctx context.Context, sensorID string, since, until time.Time) (float64, error)
	ListReadings(ctx context.Context, sensorID string, limit int) ([]models.SensorReading, error)
}

type AlertFilter struct {
	Limit      int
	Offset     int
	Status     *models.AlertStatus
	CityID     string
	RegionID   string
	ActiveOnly bool // active or updated
	Since      *time.Time
}

type AlertRepository interface {
	CreateAlert(ctx context.Context, a *models.Alert) error
	// SupersedeAlert inserts next and expires the alert it replaces in one transaction.
	SupersedeAlert(ctx context.Context, oldID string, next *models.Alert) error
	GetAlert(ctx context.Context, id string) (*models.Alert, error)
	ListAlerts(ctx context.Context, opts AlertFilter) ([]models.Alert, error)
	ExpireAlerts(ctx context.Context, now time.Time) (int64, error)
}

type DeliveryFilter struct {
	Limit   int
	Offset  int
	AlertID string
	Channel models.Channel
	Status  models.DeliveryStatus
}

// Transition is a compare-and-set on a delivery record. It applies only if the
// record still has status From and retry count FromRetry.
type Transition struct {
	From         models.DeliveryStatus
	FromRetry    int
	To           models.DeliveryStatus
	RetryCount   int
	NextRetryAt  *time.Time
	ExternalID   string // kept when empty
	ErrorCode    string
	ErrorMessage string
	SentAt       *time.Time // kept when nil
	DeliveredAt  *time.Time // kept when nil
	Note         string
	At           time.Time
}

type DeliveryRepository interface {
	CreateDelivery(ctx context.Context, r *models.DeliveryRecord) error
	GetDelivery(ctx context.Context, id string) (*models.DeliveryRecord, error)
	GetDeliveryByExternalID(ctx context.Context, externalID string) (*models.DeliveryRecord, error)
	ListDeliveries(ctx context.Context, opts DeliveryFilter) ([]models.DeliveryRecord, error)
	// CompareAndSwap reports whether the transition was applied. Each applied
	// transition appends one delivery event.
	CompareAndSwap(ctx context.Context, id string, t Transition) (bool, error)
	ListDueRetries(ctx context.Context, now time.Time, limit int) ([]models.DeliveryRecord, error)
	ListEvents(ctx context.Context, recordID string) ([]models.DeliveryEvent, error)
}

type SessionRepository interface {
	GetSession(ctx context.Context, key models.SessionKey) (*models.InteractiveSession, error)
	SaveSession(ctx context.Context, s *models.InteractiveSession) error
	DeactivateSessions(ctx context.Context, idleSince time.Time) (int64, error)
}

type DeviceRepository interface {
	RegisterDevice(ctx context.Context, d *models.DeviceToken) error
	GetDevice(ctx context.Context, token string) (*models.DeviceToken, error)
	DeactivateDevice(ctx context.Context, token string) error
	SetDeviceTopics(ctx context.Context, token string, topics []string) error
	ListDevicesByTopic(ctx context.Context, topic string) ([]models.DeviceToken, error)
}

type SubscriberFilter struct {
	CityID   string
	RegionID string
	Phones   []string
}

type SubscriberRepository interface {
	UpsertSubscriber(ctx context.Context, s *models.Subscriber) error
	ListSubscribers(ctx context.Context, opts SubscriberFilter) ([]models.Subscriber, error)
}

// Store is everything the service persists.
type Store interface {
	SensorRepository
	AlertRepository
	DeliveryRepository
	SessionRepository
	DeviceRepository
	SubscriberRepository
	Close() error
}
