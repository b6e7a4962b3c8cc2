package api

import (
	"net/http"
	"time"

	"github.com/gin-gonic/gin"
)

type readingRequest struct {
	DeviceID  string     `json:"deviceId"`
	Value     *float64   `json:"value"`
	Timestamp *time.Time `json:"timestamp"`
}

type readingResponse struct {
	SensorID     string  `json:"sensorId"`
	Status       string  `json:"status"`
	RateOfChange float64 `json:"rateOfChange"`
	AlertID      string  `json:"alertId,omitempty"`
}

func (h *Handler) postReading(c *gin.Context) {
	var req readingRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		badRequest(c, "invalid request body")
		return
	}
	if req.DeviceID == "" || req.Value == nil {
		badRequest(c, "deviceId and value are required")
		return
	}
	ts := h.Clock.Now()
	if req.Timestamp != nil {
		ts = *req.Timestamp
	}

	res, err := h.Readings.RecordReading(c.Request.Context(), req.DeviceID, *req.Value, ts)
	if err != nil {
		h.writeError(c, err)
		return
	}

	resp := readingResponse{
		SensorID:     res.Sensor.ID,
		Status:       res.Reading.Band.String(),
		RateOfChange: res.Reading.RateOfChange,
	}
	if res.Alert != nil {
		resp.AlertID = res.Alert.ID
	}
	c.JSON(http.StatusOK, resp)
}

func (h *Handler) getSensors(c *gin.Context) {
	sensors, err := h.Sensors.ListSensors(c.Request.Context())
	if err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{
			"error": "failed to fetch sensors",
		})
		return
	}

	fc := toGeoJSON(sensors)
	c.Header("Content-Type", "application/geo+json")
	c.JSON(http.StatusOK, fc)
}
