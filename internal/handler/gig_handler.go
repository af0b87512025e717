package handler

import (
	"context"
	"net/http"

	"github.com/gin-gonic/gin"
	"github.com/lexgig/lexgig-backend/internal/common"
	"github.com/lexgig/lexgig-backend/internal/domain"
	"github.com/lexgig/lexgig-backend/internal/middleware"
	"github.com/lexgig/lexgig-backend/internal/service"
)

// GigHandler handles gig and bid requests
type GigHandler struct {
	service service.GigService
}

// NewGigHandler creates a new GigHandler
func NewGigHandler(service service.GigService) *GigHandler {
	return &GigHandler{service: service}
}

// CreateGig handles POST /api/v1/gigs
// @Summary Post a gig
// @Tags gigs
// @Accept json
// @Produce json
// @Param request body domain.CreateGigRequest true "gig"
// @Success 201 {object} common.APIResponse{data=domain.GigResponse}
// @Security BearerAuth
// @Router /gigs [post]
func (h *GigHandler) CreateGig(c *gin.Context) {
	var req domain.CreateGigRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		bindError(c, err)
		return
	}

	gig, err := h.service.CreateGig(c.Request.Context(), middleware.GetPrincipal(c), &req)
	if err != nil {
		common.DomainErrorResponse(c, err)
		return
	}
	c.JSON(http.StatusCreated, common.APIResponse{Data: gig})
}

// GetGig handles GET /api/v1/gigs/:id
func (h *GigHandler) GetGig(c *gin.Context) {
	gigID, err := uintParam(c, "id")
	if err != nil {
		common.DomainErrorResponse(c, err)
		return
	}
	gig, err := h.service.GetGig(c.Request.Context(), gigID)
	if err != nil {
		common.DomainErrorResponse(c, err)
		return
	}
	common.SuccessResponse(c, gig, nil)
}

// DeleteGig handles DELETE /api/v1/gigs/:id
func (h *GigHandler) DeleteGig(c *gin.Context) {
	gigID, err := uintParam(c, "id")
	if err != nil {
		common.DomainErrorResponse(c, err)
		return
	}
	if err := h.service.DeleteGig(c.Request.Context(), middleware.GetPrincipal(c), gigID); err != nil {
		common.DomainErrorResponse(c, err)
		return
	}
	c.Status(http.StatusNoContent)
}

// ListBids handles GET /api/v1/gigs/:id/bids
func (h *GigHandler) ListBids(c *gin.Context) {
	gigID, err := uintParam(c, "id")
	if err != nil {
		common.DomainErrorResponse(c, err)
		return
	}
	bids, err := h.service.ListBids(c.Request.Context(), gigID)
	if err != nil {
		common.DomainErrorResponse(c, err)
		return
	}
	common.SuccessResponse(c, bids, &common.Meta{Total: int64(len(bids))})
}

// PlaceBid handles POST /api/v1/gigs/:id/bids
func (h *GigHandler) PlaceBid(c *gin.Context) {
	gigID, err := uintParam(c, "id")
	if err != nil {
		common.DomainErrorResponse(c, err)
		return
	}
	var req domain.PlaceBidRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		bindError(c, err)
		return
	}

	bid, err := h.service.PlaceBid(c.Request.Context(), middleware.GetPrincipal(c), gigID, &req)
	if err != nil {
		common.DomainErrorResponse(c, err)
		return
	}
	c.JSON(http.StatusCreated, common.APIResponse{Data: bid})
}

// AcceptBid handles POST /api/v1/gigs/:id/bids/:bidId/accept
// @Summary Accept a bid
// @Description Accepts one pending bid and activates the gig. 409 when the gig already left pending, 423 while suspended.
// @Tags bids
// @Produce json
// @Param id path int true "gig ID"
// @Param bidId path int true "bid ID"
// @Success 200 {object} common.APIResponse{data=domain.BidDecisionResponse}
// @Failure 409 {object} common.APIResponse
// @Failure 423 {object} common.APIResponse
// @Security BearerAuth
// @Router /gigs/{id}/bids/{bidId}/accept [post]
func (h *GigHandler) AcceptBid(c *gin.Context) {
	gigID, err := uintParam(c, "id")
	if err != nil {
		common.DomainErrorResponse(c, err)
		return
	}
	bidID, err := uintParam(c, "bidId")
	if err != nil {
		common.DomainErrorResponse(c, err)
		return
	}

	resp, err := h.service.AcceptBid(c.Request.Context(), middleware.GetPrincipal(c), gigID, bidID)
	if err != nil {
		common.DomainErrorResponse(c, err)
		return
	}
	common.SuccessResponse(c, resp, nil)
}

// RejectBid handles POST /api/v1/bids/:id/reject
func (h *GigHandler) RejectBid(c *gin.Context) {
	bidID, err := uintParam(c, "id")
	if err != nil {
		common.DomainErrorResponse(c, err)
		return
	}
	resp, err := h.service.RejectBid(c.Request.Context(), middleware.GetPrincipal(c), bidID)
	if err != nil {
		common.DomainErrorResponse(c, err)
		return
	}
	common.SuccessResponse(c, resp, nil)
}

// StartWork handles POST /api/v1/gigs/:id/start
func (h *GigHandler) StartWork(c *gin.Context) {
	h.transition(c, h.service.StartWork)
}

// CompleteGig handles POST /api/v1/gigs/:id/complete
func (h *GigHandler) CompleteGig(c *gin.Context) {
	h.transition(c, h.service.CompleteGig)
}

// RequestPayment handles POST /api/v1/gigs/:id/request-payment
func (h *GigHandler) RequestPayment(c *gin.Context) {
	h.transition(c, h.service.RequestPayment)
}

type gigAction func(ctx context.Context, p domain.Principal, gigID uint64) (*domain.GigResponse, error)

func (h *GigHandler) transition(c *gin.Context, action gigAction) {
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
