package httpapi

import (
	"context"
	"net/http"

	"github.com/gin-gonic/gin"
	"github.com/rs/zerolog/log"

	"github.com/harmonium-chat/harmonium/internal/config"
	"github.com/harmonium-chat/harmonium/internal/server/auth"
	"github.com/harmonium-chat/harmonium/internal/server/registry"
	"github.com/harmonium-chat/harmonium/internal/server/signalws"
	"github.com/harmonium-chat/harmonium/internal/server/store"
)

// SetupRouter wires the websocket signaling endpoint and the voice-state
// REST collaborator onto one gin engine.
func SetupRouter(
	ctx context.Context,
	cfg *config.Config,
	verifier auth.Verifier,
	reg *registry.Registry,
	ctl *signalws.Controller,
	states *store.VoiceStates,
) *gin.Engine {
	if cfg.Mode == "release" {
		gin.SetMode(gin.ReleaseMode)
	}

	r := gin.New()
	if cfg.Mode == "debug" {
		r.Use(gin.Logger())
	}
	r.Use(gin.Recovery())

	log.Info().Str("module", "httpapi").Msg("router setup")

	api := r.Group("/api", auth.Middleware(verifier))

	api.GET("/ws/voice", func(c *gin.Context) {
		ctl.HandleVoice(ctx, c)
	})

	api.GET("/rooms", func(c *gin.Context) {
		c.JSON(http.StatusOK, reg.Channels())
	})

	vs := &voiceStateAPI{registry: reg, states: states}
	api.GET("/voice-state/channel-users", vs.channelUsers)
	api.POST("/voice-state/join", vs.join)
	api.POST("/voice-state/leave", vs.leave)
	api.POST("/voice-state/update", vs.update)

	return r
}
