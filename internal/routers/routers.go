package routers

import (
	"net/http"
	"time"

	"github.com/gin-contrib/cors"
	"github.com/gin-gonic/gin"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"golang.org/x/time/rate"

	"github.com/Gopher0727/CineMatch/config"
	"github.com/Gopher0727/CineMatch/internal/handlers"
	authmw "github.com/Gopher0727/CineMatch/internal/middlewares"
	"github.com/Gopher0727/CineMatch/middleware/jwt"
	logger "github.com/Gopher0727/CineMatch/middleware/log"
	"github.com/Gopher0727/CineMatch/pkg/middlewares"
	"github.com/Gopher0727/CineMatch/pkg/ws"
	"github.com/Gopher0727/CineMatch/utils/ratelimit"
)

// Deps 路由依赖
type Deps struct {
	Config   *config.Config
	Logger   *logger.Logger
	Tokens   *jwt.TokenManager
	Limiter  ratelimit.Limiter
	Gatherer prometheus.Gatherer

	Auth    *handlers.AuthHandler
	Groups  *handlers.GroupHandler
	Swipes  *handlers.SwipeHandler
	Gateway *ws.Gateway
	Hub     *ws.Hub
}

// SetupRoutes 设置所有路由
func SetupRoutes(r *gin.Engine, d Deps) {
	corsConfig := cors.DefaultConfig()
	corsConfig.AllowAllOrigins = true
	corsConfig.AllowHeaders = []string{"Origin", "Content-Length", "Content-Type", "Authorization", logger.TraceHeader}
	corsConfig.ExposeHeaders = []string{logger.TraceHeader}
	r.Use(cors.New(corsConfig))
	r.Use(logger.GinMiddleware(d.Logger))

	r.GET("/health", func(c *gin.Context) {
		c.JSON(http.StatusOK, gin.H{
			"status": "ok",
			"rooms":  d.Hub.Stats(),
		})
	})
	r.GET("/metrics", gin.WrapH(promhttp.HandlerFor(d.Gatherer, promhttp.HandlerOpts{})))

	// WebSocket 握手自行鉴权，失败时以 4001/4003 关闭，不走 HTTP 中间件
	r.GET("/ws/chat/:code", d.Gateway.ServeChat)
	r.GET("/ws/match/:code", d.Gateway.ServeMatch)

	api := r.Group("/api/v1")
	api.Use(
		middlewares.MaxConcurrencyMiddleware(d.Config.Server.MaxConcurrent),
		middlewares.RateLimitMiddleware(
			rate.NewLimiter(rate.Limit(d.Config.RateLimit.GlobalQPS), d.Config.RateLimit.GlobalBurst),
			d.Config.RateLimit.WaitTimeout,
		),
	)

	RegisterAuthRoutes(api, d)
	RegisterGroupRoutes(api, d)
}

func RegisterAuthRoutes(api *gin.RouterGroup, d Deps) {
	auth := api.Group("/auth")
	{
		auth.POST("/register", d.Auth.Register)
		auth.POST("/login", d.Auth.Login)
		auth.GET("/me", authmw.AuthMiddleware(d.Tokens), d.Auth.Me)
	}
}

func RegisterGroupRoutes(api *gin.RouterGroup, d Deps) {
	swipeLimit := middlewares.UserRateLimitMiddleware(d.Limiter, "swipe", d.Config.RateLimit.SwipesPerMinute, time.Minute, d.Logger.Logger)

	groups := api.Group("/groups")
	groups.Use(authmw.AuthMiddleware(d.Tokens))
	{
		groups.POST("", d.Groups.CreateGroup)
		groups.GET("", d.Groups.ListGroups)
		groups.POST("/join", d.Groups.JoinGroup)
		groups.POST("/community", d.Groups.JoinCommunity)
		groups.POST("/:code/leave", d.Groups.LeaveGroup)

		groups.POST("/:code/swipes", swipeLimit, d.Swipes.RecordSwipe)
		groups.DELETE("/:code/swipes", d.Swipes.ClearSwipes)
		groups.GET("/:code/deck", d.Swipes.GetDeck)
		groups.GET("/:code/matches", d.Swipes.GetMatches)
		groups.GET("/:code/completion", d.Swipes.GetCompletion)
		groups.GET("/:code/messages", d.Swipes.GetMessages)
	}
}
