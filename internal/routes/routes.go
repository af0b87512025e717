package routes

import (
	"github.com/gin-gonic/gin"
	"github.com/lexgig/lexgig-backend/internal/handler"
	"github.com/lexgig/lexgig-backend/internal/middleware"
	"github.com/lexgig/lexgig-backend/pkg/jwt"
	"github.com/redis/go-redis/v9"
)

// Handlers groups the HTTP handlers wired by Setup
type Handlers struct {
	Gig          *handler.GigHandler
	Moderation   *handler.ModerationHandler
	Conversation *handler.ConversationHandler
	WS           *handler.WSHandler
}

// Setup configures all API routes. redisClient may be nil, which disables
// rate limiting.
func Setup(router *gin.Engine, h *Handlers, jwtManager *jwt.Manager, redisClient *redis.Client) {
	api := router.Group("/api/v1", middleware.JWTAuth(jwtManager))

	sendLimit := middleware.DefaultRateLimitConfig()
	sendLimit.KeyPrefix = "api:ratelimit:send:"
	sendLimit.RequestsPerMinute = 60
	limited := middleware.RateLimitPerUser(redisClient, sendLimit)

	// Gigs and bids
	gigs := api.Group("/gigs")
	{
		gigs.POST("", h.Gig.CreateGig)
		gigs.GET("/:id", h.Gig.GetGig)
		gigs.DELETE("/:id", h.Gig.DeleteGig)

		gigs.GET("/:id/bids", h.Gig.ListBids)
		gigs.POST("/:id/bids", limited, h.Gig.PlaceBid)
		gigs.POST("/:id/bids/:bidId/accept", h.Gig.AcceptBid)

		gigs.POST("/:id/start", h.Gig.StartWork)
		gigs.POST("/:id/complete", h.Gig.CompleteGig)
		gigs.POST("/:id/request-payment", h.Gig.RequestPayment)

		gigs.POST("/:id/conversations", h.Conversation.Open)
	}
	api.POST("/bids/:id/reject", h.Gig.RejectBid)

	// Conversations
	conversations := api.Group("/conversations")
	{
		conversations.GET("", h.Conversation.List)
		conversations.GET("/unread-count", h.Conversation.UnreadCount)
		conversations.GET("/:id/messages", h.Conversation.History)
		conversations.POST("/:id/messages", limited, h.Conversation.Send)
		conversations.POST("/:id/read", h.Conversation.MarkRead)
	}

	// Real-time
	api.GET("/ws", h.WS.Connect)

	// Moderation (admin level)
	admin := api.Group("/admin", middleware.RequireAdmin())
	{
		admin.GET("/gigs/queue", h.Moderation.Queue)
		admin.POST("/gigs/:id/suspend", h.Moderation.Suspend)
		admin.POST("/gigs/:id/unsuspend", h.Moderation.Unsuspend)
		admin.POST("/gigs/:id/flag", h.Moderation.Flag)
		admin.POST("/gigs/:id/unflag", h.Moderation.Unflag)
		admin.POST("/gigs/:id/approve", h.Moderation.Approve)
	}
}
