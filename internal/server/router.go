package server

import (
	"net/http"

	"github.com/Tassadaritze/tassad-site-remix/internal/auth"
	"github.com/Tassadaritze/tassad-site-remix/internal/chat"
	"github.com/Tassadaritze/tassad-site-remix/internal/config"
	"github.com/Tassadaritze/tassad-site-remix/internal/metrics"
	"github.com/Tassadaritze/tassad-site-remix/internal/mw"
	"github.com/Tassadaritze/tassad-site-remix/internal/sse"
	"github.com/Tassadaritze/tassad-site-remix/internal/ws"

	"github.com/gin-gonic/gin"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// SetupRouter 统一初始化 Gin 中间件、聊天路由以及 SSE/WebSocket 端点。
// 返回的 stop 用于停服时释放限速器的后台 goroutine。
func SetupRouter(cfg config.Config, svc *chat.Service, sessions *auth.Sessions) (*gin.Engine, func()) {
	r := gin.New()
	r.Use(gin.Recovery())
	r.Use(mw.RequestLogger())
	r.Use(metrics.GinMiddleware())
	r.Use(mw.CORS(cfg.Env))
	limit, rl := mw.RateLimit(cfg.RateLimitPerSecond, cfg.RateLimitBurst)
	r.Use(limit)

	h := NewHandler(svc, sessions)

	r.GET("/healthz", func(c *gin.Context) { c.JSON(http.StatusOK, gin.H{"status": "ok", "online": svc.Online()}) })
	r.GET("/healthcheck", h.Healthcheck)
	r.GET("/metrics", gin.WrapH(promhttp.Handler()))

	g := r.Group(chatPath)
	g.Use(sessions.Middleware())
	g.GET("", h.ChatPage)
	g.POST("", h.PostMessage)
	g.GET("/user", h.UserForm)
	g.POST("/user", h.ChooseUser)
	g.GET("/stream", sse.Handler(svc, sse.Options{
		KeepaliveInterval: cfg.KeepaliveInterval,
		QueueSize:         cfg.StreamQueueSize,
		UserPath:          userPath,
	}))
	g.GET("/ws", ws.Serve(svc, ws.Options{
		Env:       cfg.Env,
		QueueSize: cfg.StreamQueueSize,
		UserPath:  userPath,
	}))

	return r, rl.Stop
}
