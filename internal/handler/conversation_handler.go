package handler

import (
	"net/http"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/lexgig/lexgig-backend/internal/common"
	"github.com/lexgig/lexgig-backend/internal/domain"
	"github.com/lexgig/lexgig-backend/internal/middleware"
	"github.com/lexgig/lexgig-backend/internal/service"
	"github.com/lexgig/lexgig-backend/pkg/ginutil"
)

// ConversationHandler handles conversations and messages
type ConversationHandler struct {
	conversations service.ConversationService
	messages      service.MessageService
}

// NewConversationHandler creates a new ConversationHandler
func NewConversationHandler(conversations service.ConversationService, messages service.MessageService) *ConversationHandler {
	return &ConversationHandler{conversations: conversations, messages: messages}
}

// Open handles POST /api/v1/gigs/:id/conversations
// @Summary Message a seller about a gig
// @Description Returns the single conversation for (buyer, seller, gig), creating it on first use. 503 is safe to retry.
// @Tags conversations
// @Accept json
// @Produce json
// @Param id path int true "gig ID"
// @Param request body domain.OpenConversationRequest true "seller"
// @Success 200 {object} common.APIResponse{data=domain.Conversation}
// @Failure 503 {object} common.APIResponse
// @Security BearerAuth
// @Router /gigs/{id}/conversations [post]
func (h *ConversationHandler) Open(c *gin.Context) {
	gigID, err := uintParam(c, "id")
	if err != nil {
		common.DomainErrorResponse(c, err)
		return
	}
	var req domain.OpenConversationRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		bindError(c, err)
		return
	}

	conv, err := h.conversations.Open(c.Request.Context(), middleware.GetPrincipal(c), gigID, req.SellerID)
	if err != nil {
		common.DomainErrorResponse(c, err)
		return
	}
	common.SuccessResponse(c, conv, nil)
}

// List handles GET /api/v1/conversations
func (h *ConversationHandler) List(c *gin.Context) {
	convs, meta, err := h.messages.ListConversations(c.Request.Context(), middleware.GetPrincipal(c),
		ginutil.QueryInt(c, "page", 1), ginutil.QueryInt(c, "limit", 20))
	if err != nil {
		common.DomainErrorResponse(c, err)
		return
	}
	common.SuccessResponse(c, convs, meta)
}

// History handles GET /api/v1/conversations/:id/messages?before=RFC3339&limit=N
func (h *ConversationHandler) History(c *gin.Context) {
	convID, err := uintParam(c, "id")
	if err != nil {
		common.DomainErrorResponse(c, err)
		return
	}
	var before *time.Time
	if v := c.Query("before"); v != "" {
		t, err := time.Parse(time.RFC3339Nano, v)
		if err != nil {
			common.DomainErrorResponse(c, common.ErrInvalidInput)
			return
		}
		before = &t
	}

	msgs, err := h.messages.History(c.Request.Context(), middleware.GetPrincipal(c), convID, before, ginutil.QueryInt(c, "limit", 50))
	if err != nil {
		common.DomainErrorResponse(c, err)
		return
	}
	common.SuccessResponse(c, msgs, nil)
}

// Send handles POST /api/v1/conversations/:id/messages
func (h *ConversationHandler) Send(c *gin.Context) {
	convID, err := uintParam(c, "id")
	if err != nil {
		common.DomainErrorResponse(c, err)
		return
	}
	var req domain.SendMessageRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		bindError(c, err)
		return
	}

	msg, err := h.messages.Send(c.Request.Context(), middleware.GetPrincipal(c), convID, &req)
	if err != nil {
		common.DomainErrorResponse(c, err)
		return
	}
	c.JSON(http.StatusCreated, common.APIResponse{Data: msg})
}

// MarkRead handles POST /api/v1/conversations/:id/read
func (h *ConversationHandler) MarkRead(c *gin.Context) {
	convID, err := uintParam(c, "id")
	if err != nil {
		common.DomainErrorResponse(c, err)
		return
	}
	n, err := h.messages.MarkRead(c.Request.Context(), middleware.GetPrincipal(c), convID)
	if err != nil {
		common.DomainErrorResponse(c, err)
		return
	}
	common.SuccessResponse(c, gin.H{"marked": n}, nil)
}

// UnreadCount handles GET /api/v1/conversations/unread-count
func (h *ConversationHandler) UnreadCount(c *gin.Context) {
	n, err := h.messages.UnreadCount(c.Request.Context(), middleware.GetPrincipal(c))
	if err != nil {
		common.DomainErrorResponse(c, err)
		return
	}
	common.SuccessResponse(c, gin.H{"unread": n}, nil)
}
