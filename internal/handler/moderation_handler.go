package handler

import (
	"context"

	"github.com/gin-gonic/gin"
	"github.com/lexgig/lexgig-backend/internal/common"
	"github.com/lexgig/lexgig-backend/internal/domain"
	"github.com/lexgig/lexgig-backend/internal/middleware"
	"github.com/lexgig/lexgig-backend/internal/repository"
	"github.com/lexgig/lexgig-backend/internal/service"
	"github.com/lexgig/lexgig-backend/pkg/ginutil"
)

// ModerationHandler handles admin gig moderation
type ModerationHandler struct {
	service service.ModerationService
}

// NewModerationHandler creates a new ModerationHandler
func NewModerationHandler(service service.ModerationService) *ModerationHandler {
	return &ModerationHandler{service: service}
}

// Suspend handles POST /api/v1/admin/gigs/:id/suspend
// @Summary Suspend a gig
// @Tags admin
// @Produce json
// @Param id path int true "gig ID"
// @Success 200 {object} common.APIResponse{data=domain.GigResponse}
// @Failure 403 {object} common.APIResponse
// @Failure 409 {object} common.APIResponse
// @Security BearerAuth
// @Router /admin/gigs/{id}/suspend [post]
func (h *ModerationHandler) Suspend(c *gin.Context) { h.apply(c, h.service.Suspend) }

// Unsuspend handles POST /api/v1/admin/gigs/:id/unsuspend
func (h *ModerationHandler) Unsuspend(c *gin.Context) { h.apply(c, h.service.Unsuspend) }

// Flag handles POST /api/v1/admin/gigs/:id/flag
func (h *ModerationHandler) Flag(c *gin.Context) { h.apply(c, h.service.Flag) }

// Unflag handles POST /api/v1/admin/gigs/:id/unflag
func (h *ModerationHandler) Unflag(c *gin.Context) { h.apply(c, h.service.Unflag) }

// Approve handles POST /api/v1/admin/gigs/:id/approve
func (h *ModerationHandler) Approve(c *gin.Context) { h.apply(c, h.service.Approve) }

// Queue handles GET /api/v1/admin/gigs/queue?flagged=true&needs_review=true&status=pending
func (h *ModerationHandler) Queue(c *gin.Context) {
	params := &repository.ModerationQueueParams{
		FlaggedOnly:     c.Query("flagged") == "true",
		NeedsReviewOnly: c.Query("needs_review") == "true",
		Page:            ginutil.QueryInt(c, "page", 1),
		Limit:           ginutil.QueryInt(c, "limit", 20),
	}
	if s := c.Query("status"); s != "" {
		status := domain.GigStatus(s)
		if !status.IsValid() {
			common.DomainErrorResponse(c, common.ErrInvalidInput)
			return
		}
		params.Status = &status
	}

	gigs, meta, err := h.service.ListQueue(c.Request.Context(), middleware.GetPrincipal(c), params)
	if err != nil {
		common.DomainErrorResponse(c, err)
		return
	}
	common.SuccessResponse(c, gigs, meta)
}

type moderationAction func(ctx context.Context, p domain.Principal, gigID uint64) (*domain.GigResponse, error)

func (h *ModerationHandler) apply(c *gin.Context, action moderationAction) {
	gigID, err := uintParam(c, "id")
	if err != nil {
		common.DomainErrorResponse(c, err)
		return
	}
	gig, err := action(c.Request.Context(), middleware.GetPrincipal(c), gigID)
	if err != nil {
		common.DomainErrorResponse(c, err)
		return
	}
	common.SuccessResponse(c, gig, nil)
}
