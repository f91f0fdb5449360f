// Package http exposes call intents and observable state to the local UI.
package http

import (
	"github.com/gin-contrib/sessions"
	"github.com/gin-contrib/sessions/cookie"
	"github.com/gin-gonic/gin"
	"github.com/google/uuid"
	"github.com/rs/zerolog/log"

	"github.com/dncdante911/worldmates-calls/internal/call"
	"github.com/dncdante911/worldmates-calls/internal/config"
)

func genClientToken() string {
	return uuid.NewString()
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

func SetupRouter(cfg *config.Config, coord *call.Coordinator, group *call.GroupCoordinator) *gin.Engine {
	if cfg.Mode == "release" {
		gin.SetMode(gin.ReleaseMode)
	}

	r := gin.New()
	if cfg.Mode == "debug" {
		r.Use(gin.Logger())
	}
	r.Use(gin.Recovery())

	store := cookie.NewStore([]byte(cfg.Secret))
	r.Use(sessions.Sessions("CallSessions", store))
	r.Use(ClientTokenMiddleware())

	log.Info().Str("module", "adapters.http").Msg("router setup")

	h := &Handlers{Coord: coord, Group: group}

	api := r.Group("/api")
	api.POST("/call", h.Initiate)
	api.POST("/call/accept", h.Accept)
	api.POST("/call/reject", h.Reject)
	api.POST("/call/end", h.End)
	api.POST("/call/audio", h.ToggleAudio)
	api.POST("/call/video", h.ToggleVideo)
	api.GET("/call/state", h.State)

	api.POST("/group-call", h.InitiateGroup)
	api.POST("/group-call/end", h.EndGroup)
	api.GET("/group-call/state", h.GroupState)

	return r
}
