package api

import (
	"sync"

	sentrygin "github.com/getsentry/sentry-go/gin"
	"github.com/gin-contrib/gzip"
	"github.com/gin-gonic/gin"
	swaggerFiles "github.com/swaggo/files"
	ginSwagger "github.com/swaggo/gin-swagger"
	"go.opentelemetry.io/contrib/instrumentation/github.com/gin-gonic/gin/otelgin"
	"go.uber.org/zap"

	"github.com/d60-Lab/connectnow/config"
	_ "github.com/d60-Lab/connectnow/docs"
	"github.com/d60-Lab/connectnow/internal/api/handler"
	"github.com/d60-Lab/connectnow/internal/api/middleware"
	"github.com/d60-Lab/connectnow/internal/service"
	"github.com/d60-Lab/connectnow/pkg/logger"
	"github.com/d60-Lab/connectnow/pkg/metrics"
)

var registerOnce sync.Once

// SetupRouter 组装中间件与路由
func SetupRouter(cfg *config.Config, h *handler.Handler, sessions service.SessionService) *gin.Engine {
	registerOnce.Do(func() {
		if err := RegisterValidators(); err != nil {
			logger.Error("register validators failed", zap.Error(err))
		}
	})

	gin.SetMode(cfg.Server.Mode)
	r := gin.New()
	r.Use(gin.Recovery())
	r.Use(sentrygin.New(sentrygin.Options{Repanic: true}))
	if cfg.Tracing.Enabled {
		r.Use(otelgin.Middleware(cfg.Tracing.ServiceName))
	}
	r.Use(middleware.RequestLogger())
	r.Use(middleware.SecurityHeaders())
	r.Use(metrics.Middleware())
	r.Use(gzip.Gzip(gzip.DefaultCompression, gzip.WithExcludedPaths([]string{"/api/v1/live", "/metrics"})))

	r.GET("/health", h.Health)
	r.GET("/metrics", metrics.Handler())
	if cfg.Server.EnableSwagger {
		r.GET("/swagger/*any", ginSwagger.WrapHandler(swaggerFiles.Handler))
	}

	limiter := middleware.NewIPRateLimiter(cfg.RateLimit.RPS, cfg.RateLimit.Burst)
	auth := middleware.Auth(sessions)

	v1 := r.Group("/api/v1")
	{
		authGroup := v1.Group("/auth")
		authGroup.POST("/signup", limiter.Middleware(), h.Signup)
		authGroup.POST("/login", limiter.Middleware(), h.Login)
		authGroup.POST("/logout", auth, h.Logout)
		authGroup.GET("/me", auth, h.Me)

		secured := v1.Group("", auth, limiter.Middleware())

		users := secured.Group("/users")
		users.GET("", h.SearchUsers)
		users.PATCH("/me", h.UpdateProfile)
		users.DELETE("/me", h.DeleteAccount)
		users.GET("/:user_id", h.GetUser)
		users.GET("/:user_id/posts", h.UserPosts)

		relations := secured.Group("/relations")
		relations.POST("/follow", h.Follow)
		relations.POST("/unfollow", h.Unfollow)
		relations.GET("/:user_id", h.Relation)
		relations.GET("/:user_id/following", h.ListFollowing)
		relations.GET("/:user_id/followers", h.ListFollowers)

		secured.GET("/feed", h.Feed)
		posts := secured.Group("/posts")
		posts.POST("", h.CreatePost)
		posts.GET("/:post_id", h.GetPost)
		posts.POST("/:post_id/like", h.ToggleLike)
		posts.GET("/:post_id/comments", h.ListComments)
		posts.POST("/:post_id/comments", h.AddComment)

		convs := secured.Group("/conversations")
		convs.POST("", h.OpenConversation)
		convs.GET("", h.ListConversations)
		convs.GET("/:id/messages", h.ListMessages)
		convs.POST("/:id/messages", h.SendMessage)

		notifs := secured.Group("/notifications")
		notifs.GET("", h.ListNotifications)
		notifs.GET("/unread-count", h.UnreadCount)
		notifs.POST("/read-all", h.MarkAllNotificationsRead)
		notifs.POST("/:id/read", h.MarkNotificationRead)

		aiGroup := secured.Group("/ai")
		aiGroup.POST("/chat", h.ChatReply)
		aiGroup.POST("/profile-suggestions", h.ProfileSuggestions)
		aiGroup.POST("/reels", h.CreateReel)

		live := v1.Group("/live", auth)
		live.GET("/feed", h.LiveFeed)
		live.GET("/conversations", h.LiveConversations)
		live.GET("/conversations/:id/messages", h.LiveMessages)
		live.GET("/notifications", h.LiveNotifications)
	}
	return r
}
