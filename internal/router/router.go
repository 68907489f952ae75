package router

import (
	"log/slog"

	"github.com/gin-gonic/gin"
	"github.com/redis/go-redis/v9"
	swaggerFiles "github.com/swaggo/files"
	ginSwagger "github.com/swaggo/gin-swagger"

	"sudooom.planverse/internal/config"
	"sudooom.planverse/internal/handler"
	"sudooom.planverse/internal/middleware"
)

// Handlers 路由用到的处理器
type Handlers struct {
	Auth          *handler.AuthHandler
	Chat          *handler.ChatHandler
	Events        *handler.EventsHandler
	Feed          *handler.FeedHandler
	Friend        *handler.FriendHandler
	Notification  *handler.NotificationHandler
	Promotion     *handler.PromotionHandler
	TokenVerifier middleware.TokenValidator
}

// SetupRouter 设置路由，rdb 为空时不限流
func SetupRouter(cfg *config.Config, rdb *redis.Client, logger *slog.Logger, h Handlers) *gin.Engine {
	// 设置 Gin 模式
	if cfg.App.Mode != "" {
		gin.SetMode(cfg.App.Mode)
	}

	r := gin.New()

	// 全局中间件
	r.Use(gin.Recovery())
	r.Use(middleware.Logger(logger))
	r.Use(middleware.CORS(
		cfg.CORS.AllowedOrigins,
		cfg.CORS.AllowedMethods,
		cfg.CORS.AllowCredentials,
	))

	// Swagger 文档路由
	r.GET("/swagger/*any", ginSwagger.WrapHandler(swaggerFiles.Handler))

	perMinute := 0
	if cfg.RateLimit.Enabled {
		perMinute = cfg.RateLimit.RequestsPerMinute
	}

	// API v1
	v1 := r.Group("/api/v1")
	{
		// 认证接口（无需登录）
		auth := v1.Group("/auth")
		auth.Use(middleware.RateLimit(rdb, "auth", perMinute))
		{
			auth.POST("/register", h.Auth.Register)
			auth.POST("/login", h.Auth.Login)
			auth.POST("/refresh", h.Auth.Refresh)
		}

		// 需要认证的接口
		authenticated := v1.Group("")
		authenticated.Use(middleware.JWTAuth(h.TokenVerifier))
		{
			// 事件流不计入限流
			authenticated.GET("/events", h.Events.Stream)

			limited := authenticated.Group("")
			limited.Use(middleware.RateLimit(rdb, "api", perMinute))

			limited.GET("/me", h.Auth.Me)
			limited.GET("/settings", h.Auth.GetSettings)
			limited.PUT("/settings", h.Auth.UpdateSettings)

			conversations := limited.Group("/conversations")
			{
				conversations.GET("", h.Chat.ListConversations)
				conversations.POST("/reorder", h.Chat.Reorder)
				conversations.POST("/:id/read", h.Chat.MarkRead)
				conversations.PUT("/:id/pin", h.Chat.SetPinned)
				conversations.PUT("/:id/mute", h.Chat.SetMuted)
				conversations.POST("/:id/typing", h.Chat.Typing)
				conversations.GET("/:id/messages", h.Chat.Messages)
				conversations.POST("/:id/messages", h.Chat.Send)
				conversations.DELETE("/:id/open", h.Chat.Close)
			}

			messages := limited.Group("/messages")
			{
				messages.POST("/:id/retry", h.Chat.Retry)
				messages.DELETE("/:id/pending", h.Chat.Discard)
				messages.POST("/:id/reactions", h.Chat.React)
				messages.PUT("/:id/pin", h.Chat.Pin)
				messages.DELETE("/:id/pin", h.Chat.Unpin)
			}

			limited.GET("/feed", h.Feed.List)
			posts := limited.Group("/posts")
			{
				posts.POST("", h.Feed.Create)
				posts.POST("/:id/like", h.Feed.Like)
				posts.GET("/:id/comments", h.Feed.Comments)
				posts.POST("/:id/comments", h.Feed.AddComment)
			}

			promotions := limited.Group("/promotions")
			{
				promotions.GET("", h.Promotion.List)
				promotions.POST("", h.Promotion.Create)
			}

			// 好友接口
			friends := limited.Group("/friends")
			{
				friends.GET("", h.Friend.GetFriendList)
				friends.POST("/request", h.Friend.SendRequest)
				friends.GET("/requests", h.Friend.GetPendingRequests)
				friends.POST("/accept/:id", h.Friend.AcceptRequest)
				friends.POST("/reject/:id", h.Friend.RejectRequest)
				friends.DELETE("/:id", h.Friend.DeleteFriend)
			}

			notifications := limited.Group("/notifications")
			{
				notifications.GET("", h.Notification.List)
				notifications.POST("/read-all", h.Notification.MarkAllRead)
				notifications.POST("/:id/read", h.Notification.MarkRead)
			}
		}
	}

	return r
}
