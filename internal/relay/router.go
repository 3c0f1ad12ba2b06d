package relay

import (
	"context"
	"net/http"

	"github.com/gin-contrib/sessions"
	"github.com/gin-contrib/sessions/cookie"
	"github.com/gin-gonic/gin"
	"github.com/google/uuid"
	"github.com/rs/zerolog/log"

	"github.com/dkeye/Watch/internal/config"
)

// ClientTokenMiddleware tags every visitor with a stable cookie token
// used as the relay-side session id.
func ClientTokenMiddleware() gin.HandlerFunc {
	return func(c *gin.Context) {
		token, _ := c.Cookie("ct")
		if token == "" {
			token = uuid.NewString()
			c.SetCookie("ct", token, 3600*24*7, "/", "", false, true)
		}
		c.Set("client_token", token)
		c.Next()
	}
}

// UsernameMiddleware remembers the display name a client last connected
// with, so reconnects without a username query keep their identity.
func UsernameMiddleware() gin.HandlerFunc {
	return func(c *gin.Context) {
		session := sessions.Default(c)
		name := c.Query("username")
		if name == "" {
			if stored, ok := session.Get("username").(string); ok {
				name = stored
			}
		} else {
			session.Set("username", name)
			_ = session.Save()
		}
		c.Set("username", name)
		c.Next()
	}
}

func SetupRouter(ctx context.Context, cfg *config.Relay, ctl *Controller) *gin.Engine {
	if cfg.Mode == "release" {
		gin.SetMode(gin.ReleaseMode)
	}

	r := gin.New()
	if cfg.Mode == "debug" {
		r.Use(gin.Logger())
	}
	r.Use(gin.Recovery())

	store := cookie.NewStore([]byte(cfg.Secret))
	r.Use(sessions.Sessions("WatchSessions", store))
	r.Use(ClientTokenMiddleware())
	r.Use(UsernameMiddleware())

	api := r.Group("/api")
	api.GET("/rooms", func(c *gin.Context) {
		c.JSON(http.StatusOK, ctl.Registry.Rooms())
	})
	api.GET("/ws/player/:room", func(c *gin.Context) {
		log.Info().Str("module", "relay.http").Str("sid", c.GetString("client_token")).Str("room", c.Param("room")).Msg("ws player endpoint hit")
		ctl.HandlePlayer(ctx, c)
	})

	return r
}
