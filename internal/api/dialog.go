package api

import (
	"net/http"

	"github.com/gin-gonic/gin"

	"github.com/mr1hm/go-disaster-notify/internal/apperr"
	"github.com/mr1hm/go-disaster-notify/internal/dialog"
)

const (
	ussdUnavailable = "END Service temporarily unavailable. In an emergency call 112."
	ivrUnavailable  = `<?xml version="1.0" encoding="UTF-8"?>` + "\n" +
		`<Response><Say>Service temporarily unavailable. In an emergency call 112.</Say><Hangup></Hangup></Response>`
)

type dialogTurnRequest struct {
	Channel   string `json:"channel"`
	SessionID string `json:"sessionId"`
	CallerID  string `json:"callerId"`
	Input     string `json:"input"`
}

func (h *Handler) dialogTurn(c *gin.Context) {
	var req dialogTurnRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		badRequest(c, "invalid request body")
		return
	}

	machine := h.USSD
	switch req.Channel {
	case "", "ussd":
	case "ivr":
		machine = h.IVR
	default:
		badRequest(c, "unknown dialog channel")
		return
	}

	reply, err := machine.ProcessTurn(c.Request.Context(), req.SessionID, req.CallerID, req.Input)
	if err != nil {
		h.writeError(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{
		"body":        reply.Body,
		"contentType": reply.ContentType,
		"state":       reply.State,
		"end":         reply.End,
	})
}

// ussd speaks the gateway's form protocol: the reply body is plain text
// starting with CON or END.
func (h *Handler) ussd(c *gin.Context) {
	reply, err := h.USSD.ProcessTurn(c.Request.Context(),
		c.PostForm("sessionId"), c.PostForm("phoneNumber"), c.PostForm("text"))
	h.writeDialog(c, reply, err, "text/plain; charset=utf-8", ussdUnavailable)
}

func (h *Handler) ivr(c *gin.Context) {
	reply, err := h.IVR.ProcessTurn(c.Request.Context(),
		c.PostForm("CallSid"), c.PostForm("From"), c.PostForm("Digits"))
	h.writeDialog(c, reply, err, "application/xml", ivrUnavailable)
}

func (h *Handler) writeDialog(c *gin.Context, reply dialog.Reply, err error, contentType, unavailable string) {
	if err != nil {
		if apperr.KindOf(err) == apperr.KindValidation {
			c.Data(http.StatusBadRequest, contentType, []byte(unavailable))
			return
		}
		h.Logger.Error("dialog turn failed", "path", c.FullPath(), "error", err)
		c.Data(http.StatusOK, contentType, []byte(unavailable))
		return
	}
	if reply.ContentType != "" {
		contentType = reply.ContentType
	}
	c.Data(http.StatusOK, contentType, []byte(reply.Body))
}
