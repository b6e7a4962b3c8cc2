package api

import (
	"net/http"
	"strconv"

	"github.com/gin-gonic/gin"

	"github.com/mr1hm/go-disaster-notify/internal/models"
	"github.com/mr1hm/go-disaster-notify/internal/notify"
	"github.com/mr1hm/go-disaster-notify/internal/repository"
)

func (h *Handler) getDeliveries(c *gin.Context) {
	filter := repository.DeliveryFilter{
		Limit:   50,
		AlertID: c.Query("alert_id"),
		Channel: models.Channel(c.Query("channel")),
		Status:  models.DeliveryStatus(c.Query("status")),
	}
	if l := c.Query("limit"); l != "" {
		if lim, err := strconv.Atoi(l); err == nil && lim > 0 && lim <= 500 {
			filter.Limit = lim
		}
	}
	if o := c.Query("offset"); o != "" {
		if off, err := strconv.Atoi(o); err == nil && off >= 0 {
			filter.Offset = off
		}
	}

	records, err := h.Deliveries.ListDeliveries(c.Request.Context(), filter)
	if err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{
			"error": "failed to fetch deliveries",
		})
		return
	}

	out := make([]deliveryResponse, 0, len(records))
	for i := range records {
		out = append(out, toDeliveryResponse(&records[i]))
	}
	c.JSON(http.StatusOK, gin.H{"deliveries": out})
}

func (h *Handler) getDelivery(c *gin.Context) {
	ctx := c.Request.Context()
	rec, err := h.Deliveries.GetDelivery(ctx, c.Param("id"))
	if err != nil {
		h.writeError(c, err)
		return
	}
	events, err := h.Deliveries.ListEvents(ctx, rec.ID)
	if err != nil {
		h.writeError(c, err)
		return
	}

	resp := toDeliveryResponse(rec)
	resp.Events = toEventResponses(events)
	c.JSON(http.StatusOK, resp)
}

type statusCallbackRequest struct {
	ExternalID   string `json:"externalId"`
	Status       string `json:"status"`
	ErrorCode    string `json:"errorCode"`
	ErrorMessage string `json:"errorMessage"`
}

// statusCallback answers 200 for every well-formed report, including repeats
// and reports against finished records.
func (h *Handler) statusCallback(c *gin.Context) {
	var req statusCallbackRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		badRequest(c, "invalid request body")
		return
	}

	outcome, err := h.Notifier.ApplyStatusCallback(c.Request.Context(), req.ExternalID,
		models.DeliveryStatus(req.Status), notify.ErrorInfo{Code: req.ErrorCode, Message: req.ErrorMessage})
	if err != nil {
		h.writeError(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"outcome": outcome})
}
