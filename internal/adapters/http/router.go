package http

import (
	"context"
	"net/http"

	"github.com/dkeye/televisit/internal/adapters/signal"
	"github.com/dkeye/televisit/internal/app/orch"
	"github.com/dkeye/televisit/internal/config"
	"github.com/dkeye/televisit/internal/core"
	"github.com/dkeye/televisit/internal/domain"
	"github.com/gin-contrib/sessions"
	"github.com/gin-contrib/sessions/cookie"
	"github.com/gin-gonic/gin"
	"github.com/google/uuid"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/rs/zerolog/log"
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

// Deps are the services the relay routes need.
type Deps struct {
	Orch     *orch.Orchestrator
	Signal   *signal.SignalWSController
	Records  core.CallRecordStore
	Gatherer prometheus.Gatherer
}

func SetupRouter(ctx context.Context, cfg *config.Config, deps Deps) *gin.Engine {
	if cfg.Server.Mode == "release" {
		gin.SetMode(gin.ReleaseMode)
	}

	r := gin.New()
	if cfg.Server.Mode == "debug" {
		r.Use(gin.Logger())
	}
	r.Use(gin.Recovery())

	store := cookie.NewStore([]byte(cfg.Server.Secret))
	r.Use(sessions.Sessions("TelevisitSessions", store))
	r.Use(ClientTokenMiddleware())

	r.GET("/healthz", func(c *gin.Context) {
		c.JSON(http.StatusOK, gin.H{"status": "ok", "connections": deps.Orch.Registry.Len()})
	})
	if deps.Gatherer != nil {
		r.GET("/metrics", gin.WrapH(promhttp.HandlerFor(deps.Gatherer, promhttp.HandlerOpts{})))
	}

	log.Info().Str("module", "adapters.http").Msg("router setup")

	api := r.Group("/api")

	api.GET("/ws/signal", func(c *gin.Context) {
		log.Info().Str("module", "adapters.http").Str("client_token", c.GetString("client_token")).Msg("ws signal endpoint hit")
		deps.Signal.HandleSignal(ctx, c)
	})

	api.GET("/rooms", func(c *gin.Context) {
		c.JSON(http.StatusOK, deps.Orch.Rooms.List())
	})

	api.GET("/rooms/:room/members", func(c *gin.Context) {
		id := domain.RoomID(c.Param("room"))
		room, ok := deps.Orch.Rooms.Get(id)
		if !ok {
			c.JSON(http.StatusNotFound, gin.H{"error": "room_not_found"})
			return
		}
		c.JSON(http.StatusOK, room.MembersSnapshot())
	})

	if deps.Records != nil {
		api.POST("/calls", func(c *gin.Context) {
			var rec domain.CallRecord
			if err := c.ShouldBindJSON(&rec); err != nil {
				c.JSON(http.StatusBadRequest, gin.H{"error": "bad_payload"})
				return
			}
			if err := rec.Validate(); err != nil {
				c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
				return
			}
			if err := deps.Records.WriteCallRecord(c.Request.Context(), rec); err != nil {
				log.Error().Err(err).Str("module", "adapters.http").Msg("store call record")
				c.JSON(http.StatusInternalServerError, gin.H{"error": "store_failed"})
				return
			}
			c.Status(http.StatusCreated)
		})

		api.GET("/rooms/:room/calls", func(c *gin.Context) {
			id := domain.RoomID(c.Param("room"))
			if err := id.Validate(); err != nil {
				c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
				return
			}
			recs, err := deps.Records.ListCallRecords(c.Request.Context(), id)
			if err != nil {
				log.Error().Err(err).Str("module", "adapters.http").Msg("list call records")
				c.JSON(http.StatusInternalServerError, gin.H{"error": "store_failed"})
				return
			}
			c.JSON(http.StatusOK, recs)
		})
	}

	return r
}
