package api

import (
	"net/http"
	"strings"

	"github.com/gin-gonic/gin"

	"github.com/mr1hm/go-disaster-notify/internal/apperr"
	"github.com/mr1hm/go-disaster-notify/internal/channel"
	"github.com/mr1hm/go-disaster-notify/internal/hub"
	"github.com/mr1hm/go-disaster-notify/internal/models"
)

type deviceRequest struct {
	Token    string   `json:"token"`
	Platform string   `json:"platform"`
	Topics   []string `json:"topics"`
}

func validateTopics(topics []string) error {
	for _, t := range topics {
		if !hub.ValidTopic(t) {
			return apperr.Validation("invalid topic %q", t)
		}
	}
	return nil
}

func validateDeviceToken(token string) error {
	if strings.HasPrefix(token, channel.TopicPrefix) {
		return apperr.Validation("invalid device token")
	}
	return channel.ValidatePushTarget(token)
}

func (h *Handler) registerDevice(c *gin.Context) {
	var req deviceRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		badRequest(c, "invalid request body")
		return
	}
	if err := validateDeviceToken(req.Token); err != nil {
		h.writeError(c, err)
		return
	}
	if err := validateTopics(req.Topics); err != nil {
		h.writeError(c, err)
		return
	}

	d := &models.DeviceToken{
		Token:    req.Token,
		Platform: req.Platform,
		Topics:   req.Topics,
	}
	if err := h.Devices.RegisterDevice(c.Request.Context(), d); err != nil {
		h.writeError(c, err)
		return
	}
	c.JSON(http.StatusCreated, gin.H{"token": d.Token, "topics": d.Topics})
}

func (h *Handler) deactivateDevice(c *gin.Context) {
	if err := h.Devices.DeactivateDevice(c.Request.Context(), c.Param("token")); err != nil {
		h.writeError(c, err)
		return
	}
	c.Status(http.StatusNoContent)
}

func (h *Handler) setDeviceTopics(c *gin.Context) {
	var req struct {
		Topics []string `json:"topics"`
	}
	if err := c.ShouldBindJSON(&req); err != nil {
		badRequest(c, "invalid request body")
		return
	}
	if err := validateTopics(req.Topics); err != nil {
		h.writeError(c, err)
		return
	}
	if err := h.Devices.SetDeviceTopics(c.Request.Context(), c.Param("token"), req.Topics); err != nil {
		h.writeError(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"token": c.Param("token"), "topics": req.Topics})
}

type subscriberRequest struct {
	Phone    string           `json:"phone"`
	Name     string           `json:"name"`
	CityID   string           `json:"cityId"`
	RegionID string           `json:"regionId"`
	Language string           `json:"language"`
	Channels []models.Channel `json:"channels"`
}

func (h *Handler) upsertSubscriber(c *gin.Context) {
	var req subscriberRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		badRequest(c, "invalid request body")
		return
	}
	if err := channel.ValidatePhone(req.Phone); err != nil {
		h.writeError(c, err)
		return
	}
	if req.CityID == "" {
		badRequest(c, "cityId is required")
		return
	}
	for _, ch := range req.Channels {
		if !ch.Valid() || ch == models.ChannelPush {
			badRequest(c, "invalid subscriber channel "+string(ch))
			return
		}
	}
	if req.Language == "" {
		req.Language = "en"
	}

	sub := &models.Subscriber{
		Phone:    req.Phone,
		Name:     req.Name,
		CityID:   req.CityID,
		RegionID: req.RegionID,
		Language: req.Language,
		Channels: req.Channels,
		Active:   true,
	}
	if err := h.Subscribers.UpsertSubscriber(c.Request.Context(), sub); err != nil {
		h.writeError(c, err)
		return
	}
	c.JSON(http.StatusCreated, gin.H{"phone": sub.Phone, "cityId": sub.CityID})
}
