package http

import (
	"context"
	"errors"
	"net/http"

	"github.com/dkeye/Avatar/internal/adapters/api"
	"github.com/dkeye/Avatar/internal/app/orch"
	"github.com/dkeye/Avatar/internal/core"
	"github.com/dkeye/Avatar/internal/domain"
	"github.com/gin-gonic/gin"
	"github.com/rs/zerolog/log"
)

type handlers struct {
	ctrl SessionController
}

type SpeakRequest struct {
	Text string `json:"text"`
}

type degradation struct {
	Step  string `json:"step"`
	Error string `json:"error"`
}

type SessionResponse struct {
	State    core.SessionState   `json:"state"`
	Session  *domain.SessionInfo `json:"session,omitempty"`
	Degraded []degradation       `json:"degraded,omitempty"`
}

func (h *handlers) status() SessionResponse {
	resp := SessionResponse{State: h.ctrl.State()}
	if info, ok := h.ctrl.Session(); ok {
		info.AccessToken = ""
		resp.Session = &info
	}
	for _, f := range h.ctrl.Degradations() {
		resp.Degraded = append(resp.Degraded, degradation{Step: f.Step, Error: f.Err.Error()})
	}
	return resp
}

func (h *handlers) getSession(c *gin.Context) {
	c.JSON(http.StatusOK, h.status())
}

func (h *handlers) startSession(c *gin.Context) {
	var req domain.StartRequest
	if c.Request.ContentLength != 0 {
		if err := c.ShouldBindJSON(&req); err != nil {
			c.JSON(http.StatusBadRequest, gin.H{"error": "invalid start request"})
			return
		}
	}
	if _, err := h.ctrl.StartSession(c.Request.Context(), req); err != nil {
		h.fail(c, err)
		return
	}
	c.JSON(http.StatusOK, h.status())
}

func (h *handlers) stopSession(c *gin.Context) {
	if err := h.ctrl.StopSession(c.Request.Context()); err != nil {
		h.fail(c, err)
		return
	}
	c.JSON(http.StatusOK, h.status())
}

func (h *handlers) speak(c *gin.Context) {
	var req SpeakRequest
	if err := c.ShouldBindJSON(&req); err != nil || req.Text == "" {
		c.JSON(http.StatusBadRequest, gin.H{"error": "missing or invalid text"})
		return
	}
	res, err := h.ctrl.Speak(c.Request.Context(), req.Text)
	if err != nil {
		h.fail(c, err)
		return
	}
	c.JSON(http.StatusOK, res)
}

func (h *handlers) interrupt(c *gin.Context)      { h.call(c, h.ctrl.Interrupt) }
func (h *handlers) keepAlive(c *gin.Context)      { h.call(c, h.ctrl.KeepAlive) }
func (h *handlers) startListening(c *gin.Context) { h.call(c, h.ctrl.StartListening) }
func (h *handlers) stopListening(c *gin.Context)  { h.call(c, h.ctrl.StopListening) }

func (h *handlers) call(c *gin.Context, fn func(context.Context) error) {
	if err := fn(c.Request.Context()); err != nil {
		h.fail(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"ok": true})
}

// fail maps orchestrator and control plane errors to HTTP statuses.
func (h *handlers) fail(c *gin.Context, err error) {
	status := http.StatusInternalServerError
	body := gin.H{"error": err.Error()}

	var apiErr *api.APIError
	var transportErr *api.TransportError
	switch {
	case errors.Is(err, orch.ErrNoSession), errors.Is(err, core.ErrInvalidTransition), errors.Is(err, orch.ErrAborted):
		status = http.StatusConflict
	case errors.As(err, &apiErr):
		status = http.StatusBadGateway
		body["upstream_status"] = apiErr.StatusCode
	case errors.As(err, &transportErr):
		status = http.StatusBadGateway
	}
	log.Warn().Err(err).Str("module", "adapters.http").Str("path", c.FullPath()).Int("status", status).Msg("request failed")
	c.JSON(status, body)
}
