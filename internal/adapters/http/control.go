package http

import (
	"context"
	"errors"
	"net/http"

	"github.com/dkeye/speakcall/internal/app/loop"
	"github.com/dkeye/speakcall/internal/app/orch"
	"github.com/dkeye/speakcall/internal/app/session"
	"github.com/dkeye/speakcall/internal/config"
	"github.com/dkeye/speakcall/internal/domain"
	"github.com/gin-gonic/gin"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/rs/zerolog/log"
)

// AgentControl is what the control API drives. *orch.Agent implements it.
type AgentControl interface {
	State(ctx context.Context) (orch.AgentState, error)
	Online(ctx context.Context) ([]domain.Participant, error)
	Call(ctx context.Context, to domain.ParticipantID) error
	Answer(ctx context.Context) error
	Reject(ctx context.Context) error
	HangUp(ctx context.Context) error
	ToggleMic(ctx context.Context) error
	ToggleVideo(ctx context.Context) error
	SendText(ctx context.Context, text string) error
}

var _ AgentControl = (*orch.Agent)(nil)

// SetupAgentRouter serves the agent's local control API.
func SetupAgentRouter(ctx context.Context, cfg *config.Config, agent AgentControl, hub *EventHub, g prometheus.Gatherer) *gin.Engine {
	r := newEngine(cfg.Mode)
	r.GET("/metrics", metricsHandler(g))

	api := r.Group("/api")

	api.GET("/state", func(c *gin.Context) {
		st, err := agent.State(c.Request.Context())
		if err != nil {
			fail(c, err)
			return
		}
		c.JSON(http.StatusOK, st)
	})

	api.GET("/online", func(c *gin.Context) {
		users, err := agent.Online(c.Request.Context())
		if err != nil {
			fail(c, err)
			return
		}
		c.JSON(http.StatusOK, gin.H{"users": users})
	})

	api.POST("/call", func(c *gin.Context) {
		var req struct {
			To string `json:"to"`
		}
		if err := c.ShouldBindJSON(&req); err != nil {
			c.JSON(http.StatusBadRequest, gin.H{"error": "invalid body"})
			return
		}
		to := domain.ParticipantID(req.To)
		if err := agent.Call(c.Request.Context(), to); err != nil {
			fail(c, err)
			return
		}
		log.Info().Str("module", "adapters.http").Str("to", req.To).Msg("call requested")
		c.JSON(http.StatusAccepted, gin.H{"status": "calling", "to": to})
	})

	api.POST("/answer", action(agent.Answer, "answering"))
	api.POST("/reject", action(agent.Reject, "rejected"))
	api.POST("/hangup", action(agent.HangUp, "ending"))
	api.POST("/toggle/mic", action(agent.ToggleMic, "toggled"))
	api.POST("/toggle/video", action(agent.ToggleVideo, "toggled"))

	api.POST("/tts", func(c *gin.Context) {
		var req struct {
			Text string `json:"text"`
		}
		if err := c.ShouldBindJSON(&req); err != nil {
			c.JSON(http.StatusBadRequest, gin.H{"error": "invalid body"})
			return
		}
		if err := agent.SendText(c.Request.Context(), req.Text); err != nil {
			fail(c, err)
			return
		}
		c.JSON(http.StatusAccepted, gin.H{"status": "sent"})
	})

	api.GET("/events", func(c *gin.Context) {
		hub.Serve(ctx, c)
	})

	return r
}

func action(fn func(context.Context) error, status string) gin.HandlerFunc {
	return func(c *gin.Context) {
		if err := fn(c.Request.Context()); err != nil {
			fail(c, err)
			return
		}
		c.JSON(http.StatusAccepted, gin.H{"status": status})
	}
}

func fail(c *gin.Context, err error) {
	c.JSON(statusOf(err), gin.H{"error": err.Error()})
}

func statusOf(err error) int {
	switch {
	case errors.Is(err, domain.ErrIDEmpty),
		errors.Is(err, domain.ErrIDTooLong),
		errors.Is(err, orch.ErrSelfCall),
		errors.Is(err, session.ErrEmptyText):
		return http.StatusBadRequest
	case errors.Is(err, orch.ErrNoSession),
		errors.Is(err, orch.ErrNoIncoming):
		return http.StatusNotFound
	case errors.Is(err, orch.ErrBusy),
		errors.Is(err, session.ErrNotInCall):
		return http.StatusConflict
	case errors.Is(err, loop.ErrStopped),
		errors.Is(err, context.Canceled),
		errors.Is(err, context.DeadlineExceeded):
		return http.StatusServiceUnavailable
	}
	return http.StatusInternalServerError
}
