package http

import (
	"context"
	"net/http"
	"os"

	"github.com/dkeye/speakcall/internal/adapters/signal"
	"github.com/dkeye/speakcall/internal/config"
	"github.com/dkeye/speakcall/internal/domain"
	"github.com/gin-contrib/sessions"
	"github.com/gin-contrib/sessions/cookie"
	"github.com/gin-gonic/gin"
	"github.com/google/uuid"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/rs/zerolog/log"
)

const (
	sessionName = "SpeakcallSessions"
	userIDKey   = "user_id"
)

func genClientToken() string {
	idStr := uuid.NewString()
	return idStr
}

func ClientTokenMiddleware() gin.HandlerFunc {
	return func(c *gin.Context) {
		token, _ := c.Cookie("ct")
		if token == "" {
			token = genClientToken()
			c.SetCookie("ct", token, 3600*24*7, "/", "", false, true)
		}
		c.Set("client_token", token)
		c.Next()
	}
}

func newEngine(mode string) *gin.Engine {
	if mode == "release" {
		gin.SetMode(gin.ReleaseMode)
	}

	r := gin.New()
	if mode == "debug" {
		r.Use(gin.Logger())
	}
	r.Use(gin.Recovery())
	return r
}

func metricsHandler(g prometheus.Gatherer) gin.HandlerFunc {
	if g == nil {
		g = prometheus.DefaultGatherer
	}
	return gin.WrapH(promhttp.HandlerFor(g, promhttp.HandlerOpts{}))
}

// rememberedID is the participant id this browser logged in as, if any.
func rememberedID(c *gin.Context) domain.ParticipantID {
	id, _ := sessions.Default(c).Get(userIDKey).(string)
	return domain.ParticipantID(id)
}

// SetupRelayRouter serves the signaling relay and its small HTTP surface.
func SetupRelayRouter(ctx context.Context, cfg *config.Config, ctl *signal.SignalWSController, g prometheus.Gatherer) *gin.Engine {
	r := newEngine(cfg.Mode)

	store := cookie.NewStore([]byte(cfg.Relay.Secret))
	store.Options(sessions.Options{Path: "/", MaxAge: 3600 * 24 * 7, HttpOnly: true})
	r.Use(sessions.Sessions(sessionName, store))
	r.Use(ClientTokenMiddleware())

	if st, err := os.Stat(cfg.Relay.StaticPath); err == nil && st.IsDir() {
		r.Static("/static", cfg.Relay.StaticPath)
		r.GET("/", func(c *gin.Context) {
			c.File(cfg.Relay.StaticPath + "/index.html")
		})
		log.Info().Str("module", "adapters.http").Str("static", cfg.Relay.StaticPath).Msg("serving static files")
	}
	r.GET("/metrics", metricsHandler(g))

	api := r.Group("/api")

	api.GET("/ws/signal", func(c *gin.Context) {
		log.Info().Str("module", "adapters.http").Str("sid", c.GetString("client_token")).Msg("ws signal endpoint hit")
		ctl.HandleSignal(ctx, c, rememberedID(c))
	})

	api.GET("/online", func(c *gin.Context) {
		c.JSON(http.StatusOK, gin.H{"users": ctl.Registry().Online()})
	})

	api.POST("/login", func(c *gin.Context) {
		var req struct {
			ID string `json:"id"`
		}
		if err := c.ShouldBindJSON(&req); err != nil {
			c.JSON(http.StatusBadRequest, gin.H{"error": "invalid body"})
			return
		}
		id := domain.ParticipantID(req.ID)
		if err := domain.ValidateID(id); err != nil {
			c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
			return
		}
		s := sessions.Default(c)
		s.Set(userIDKey, string(id))
		if err := s.Save(); err != nil {
			log.Error().Err(err).Str("module", "adapters.http").Msg("save session")
			c.JSON(http.StatusInternalServerError, gin.H{"error": "session"})
			return
		}
		c.JSON(http.StatusOK, gin.H{"id": id})
	})

	api.GET("/whoami", func(c *gin.Context) {
		id := rememberedID(c)
		if id == "" {
			c.JSON(http.StatusNotFound, gin.H{"error": "not logged in"})
			return
		}
		c.JSON(http.StatusOK, gin.H{"id": id})
	})

	return r
}
