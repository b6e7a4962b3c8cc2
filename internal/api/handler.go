package api

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/jonboulle/clockwork"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/mr1hm/go-disaster-notify/internal/apperr"
	"github.com/mr1hm/go-disaster-notify/internal/dialog"
	"github.com/mr1hm/go-disaster-notify/internal/models"
	"github.com/mr1hm/go-disaster-notify/internal/notify"
	"github.com/mr1hm/go-disaster-notify/internal/observability"
	"github.com/mr1hm/go-disaster-notify/internal/repository"
	"github.com/mr1hm/go-disaster-notify/internal/threshold"
)

type ReadingRecorder interface {
	RecordReading(ctx context.Context, sensorID string, value float64, ts time.Time) (*threshold.Result, error)
}

type Predictor interface {
	ApplyPrediction(ctx context.Context, p models.RiskPrediction) (*models.Alert, error)
}

type Notifier interface {
	DispatchAlert(ctx context.Context, alertID string, sel notify.Selector, channels []models.Channel) (*notify.DispatchResult, error)
	ReportIncident(ctx context.Context, in models.Incident) (*models.Alert, error)
	ApplyStatusCallback(ctx context.Context, externalID string, status models.DeliveryStatus, info notify.ErrorInfo) (notify.CallbackOutcome, error)
}

type Dialog interface {
	ProcessTurn(ctx context.Context, sessionID, callerID, raw string) (dialog.Reply, error)
}

// Broadcaster is the live-update hub.
type Broadcaster interface {
	ServeWS(w http.ResponseWriter, r *http.Request)
	HandleAlert(ctx context.Context, a *models.Alert)
}

type Deps struct {
	Sensors     repository.SensorRepository
	Alerts      repository.AlertRepository
	Deliveries  repository.DeliveryRepository
	Devices     repository.DeviceRepository
	Subscribers repository.SubscriberRepository

	Readings  ReadingRecorder
	Predictor Predictor
	Notifier  Notifier
	USSD      Dialog
	IVR       Dialog
	Hub       Broadcaster

	Clock   clockwork.Clock
	Logger  *slog.Logger
	Metrics *observability.Metrics
}

type Handler struct {
	Deps
	debugRoutes bool
}

func NewHandler(deps Deps, debugRoutes bool) *Handler {
	if deps.Clock == nil {
		deps.Clock = clockwork.NewRealClock()
	}
	if deps.Logger == nil {
		deps.Logger = slog.Default()
	}
	return &Handler{Deps: deps, debugRoutes: debugRoutes}
}

func (h *Handler) RegisterRoutes(r *gin.Engine) {
	r.GET("/health", h.health)
	r.GET("/metrics", gin.WrapH(promhttp.Handler()))
	r.GET("/ws", h.serveWS)

	api := r.Group("/api")
	api.POST("/readings", h.postReading)
	api.GET("/sensors", h.getSensors)

	api.GET("/alerts", h.getAlerts)
	api.GET("/alerts/:id", h.getAlert)
	api.POST("/alerts/:id/dispatch", h.dispatchAlert)
	api.POST("/incidents", h.postIncident)
	api.POST("/predictions", h.postPrediction)

	api.GET("/deliveries", h.getDeliveries)
	api.GET("/deliveries/:id", h.getDelivery)
	api.POST("/webhooks/status", h.statusCallback)

	api.POST("/dialog/turn", h.dialogTurn)
	api.POST("/ussd", h.ussd)
	api.POST("/ivr", h.ivr)

	api.POST("/devices", h.registerDevice)
	api.DELETE("/devices/:token", h.deactivateDevice)
	api.PUT("/devices/:token/topics", h.setDeviceTopics)
	api.POST("/subscribers", h.upsertSubscriber)

	if h.debugRoutes {
		api.POST("/debug/test-alert", h.createTestAlert)
	}
}

func (h *Handler) health(c *gin.Context) {
	c.JSON(http.StatusOK, gin.H{"status": "ok"})
}

func (h *Handler) serveWS(c *gin.Context) {
	if h.Hub == nil {
		c.JSON(http.StatusServiceUnavailable, gin.H{"error": "live updates unavailable"})
		return
	}
	h.Hub.ServeWS(c.Writer, c.Request)
}

func (h *Handler) createTestAlert(c *gin.Context) {
	now := h.Clock.Now()
	a := &models.Alert{
		ID:          fmt.Sprintf("test_%d", now.UnixNano()),
		Category:    models.CategoryFlood,
		Severity:    models.SeveritySevere,
		Status:      models.AlertStatusActive,
		Title:       "Test Flood Alert",
		Description: "This is a test alert for debugging",
		Areas:       []models.AffectedArea{{CityID: "lagos", Description: "Lagos"}},
		Source:      models.AlertSourceManual,
		IssuedAt:    now,
		ExpiresAt:   now.Add(time.Hour),
		CreatedAt:   now,
		UpdatedAt:   now,
	}

	// Broadcast only; test alerts are neither stored nor dispatched.
	if h.Hub != nil {
		h.Hub.HandleAlert(c.Request.Context(), a)
	}

	c.JSON(http.StatusOK, gin.H{
		"message": "test alert broadcast (not persisted)",
		"id":      a.ID,
	})
}

// writeError maps an error kind to a status code and a JSON body.
func (h *Handler) writeError(c *gin.Context, err error) {
	status := http.StatusInternalServerError
	switch apperr.KindOf(err) {
	case apperr.KindValidation:
		status = http.StatusBadRequest
	case apperr.KindNotFound:
		status = http.StatusNotFound
	case apperr.KindExpired:
		status = http.StatusConflict
	case apperr.KindDuplicateCallback:
		status = http.StatusOK
	}

	if status == http.StatusInternalServerError {
		h.Logger.Error("request failed", "path", c.FullPath(), "error", err)
		c.JSON(status, gin.H{"error": "internal error"})
		return
	}

	body := gin.H{"error": message(err)}
	if code := apperr.CodeOf(err); code != "" {
		body["code"] = code
	}
	c.JSON(status, body)
}

func message(err error) string {
	var e *apperr.Error
	if errors.As(err, &e) && e.Msg != "" {
		return e.Msg
	}
	return err.Error()
}

func badRequest(c *gin.Context, msg string) {
	c.JSON(http.StatusBadRequest, gin.H{"error": msg})
}
