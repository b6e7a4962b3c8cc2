package api

import (
	"net/http"
	"strconv"
	"time"

	"github.com/gin-gonic/gin"

	"github.com/mr1hm/go-disaster-notify/internal/models"
	"github.com/mr1hm/go-disaster-notify/internal/notify"
	"github.com/mr1hm/go-disaster-notify/internal/repository"
)

func (h *Handler) getAlerts(c *gin.Context) {
	filter := repository.AlertFilter{
		Limit:    20,
		CityID:   c.Query("city"),
		RegionID: c.Query("region"),
	}

	if s := c.Query("status"); s != "" {
		st := models.AlertStatus(s)
		filter.Status = &st
	}
	if a := c.Query("active"); a != "" {
		if active, err := strconv.ParseBool(a); err == nil {
			filter.ActiveOnly = active
		}
	}
	if s := c.Query("since"); s != "" {
		if t, err := time.Parse("2006-01-02", s); err == nil {
			filter.Since = &t
		}
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

	alerts, err := h.Alerts.ListAlerts(c.Request.Context(), filter)
	if err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{
			"error": "failed to fetch alerts",
		})
		return
	}

	out := make([]alertResponse, 0, len(alerts))
	for i := range alerts {
		out = append(out, toAlertResponse(&alerts[i]))
	}
	c.JSON(http.StatusOK, gin.H{"alerts": out})
}

func (h *Handler) getAlert(c *gin.Context) {
	a, err := h.Alerts.GetAlert(c.Request.Context(), c.Param("id"))
	if err != nil {
		h.writeError(c, err)
		return
	}
	c.JSON(http.StatusOK, toAlertResponse(a))
}

type dispatchRequest struct {
	notify.Selector
	Channels []models.Channel `json:"channels"`
}

type channelCounts struct {
	Accepted int `json:"accepted"`
	Rejected int `json:"rejected"`
}

func (h *Handler) dispatchAlert(c *gin.Context) {
	var req dispatchRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		badRequest(c, "invalid request body")
		return
	}

	res, err := h.Notifier.DispatchAlert(c.Request.Context(), c.Param("id"), req.Selector, req.Channels)
	if err != nil {
		h.writeError(c, err)
		return
	}

	channels := make(map[models.Channel]channelCounts, len(res.Channels))
	for ch, counts := range res.Channels {
		channels[ch] = channelCounts{Accepted: counts.Accepted, Rejected: counts.Rejected}
	}
	c.JSON(http.StatusAccepted, gin.H{
		"alertId":  res.AlertID,
		"channels": channels,
		"accepted": res.Accepted(),
		"rejected": res.Rejected(),
	})
}

type incidentRequest struct {
	Category      string `json:"category"`
	Severity      string `json:"severity"`
	CityID        string `json:"cityId"`
	RegionID      string `json:"regionId"`
	Location      string `json:"location"`
	Description   string `json:"description"`
	ReporterPhone string `json:"reporterPhone"`
}

func (h *Handler) postIncident(c *gin.Context) {
	var req incidentRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		badRequest(c, "invalid request body")
		return
	}

	in := models.Incident{
		Category:      models.DisasterCategory(req.Category),
		CityID:        req.CityID,
		RegionID:      req.RegionID,
		Location:      req.Location,
		Description:   req.Description,
		ReporterPhone: req.ReporterPhone,
		Channel:       "api",
	}
	if req.Severity != "" {
		sev, err := models.ParseSeverity(req.Severity)
		if err != nil {
			badRequest(c, err.Error())
			return
		}
		in.Severity = sev
	}

	a, err := h.Notifier.ReportIncident(c.Request.Context(), in)
	if err != nil {
		h.writeError(c, err)
		return
	}
	c.JSON(http.StatusCreated, toAlertResponse(a))
}

type predictionRequest struct {
	CityID   string `json:"cityId"`
	RegionID string `json:"regionId"`
	Period   string `json:"period"`
	Risk     bool   `json:"risk"`
}

func (h *Handler) postPrediction(c *gin.Context) {
	var req predictionRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		badRequest(c, "invalid request body")
		return
	}

	a, err := h.Predictor.ApplyPrediction(c.Request.Context(), models.RiskPrediction{
		CityID:   req.CityID,
		RegionID: req.RegionID,
		Period:   req.Period,
		Risk:     req.Risk,
	})
	if err != nil {
		h.writeError(c, err)
		return
	}
	if a == nil {
		c.JSON(http.StatusOK, gin.H{"alert": nil})
		return
	}
	c.JSON(http.StatusCreated, gin.H{"alert": toAlertResponse(a)})
}
