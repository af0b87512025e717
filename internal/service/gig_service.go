package service

import (
	"context"
	"errors"
	"fmt"
	"strconv"
	"strings"

	"github.com/lexgig/lexgig-backend/internal/actor"
	"github.com/lexgig/lexgig-backend/internal/common"
	"github.com/lexgig/lexgig-backend/internal/domain"
	"github.com/lexgig/lexgig-backend/internal/metrics"
	"github.com/lexgig/lexgig-backend/internal/repository"
	"github.com/lexgig/lexgig-backend/pkg/logger"
	"github.com/rs/zerolog"
)

// GigService gig and bid lifecycle operations for buyers and sellers
type GigService interface {
	CreateGig(ctx context.Context, p domain.Principal, req *domain.CreateGigRequest) (*domain.GigResponse, error)
	GetGig(ctx context.Context, gigID uint64) (*domain.GigResponse, error)
	DeleteGig(ctx context.Context, p domain.Principal, gigID uint64) error
	ListBids(ctx context.Context, gigID uint64) ([]*domain.BidResponse, error)
	PlaceBid(ctx context.Context, p domain.Principal, gigID uint64, req *domain.PlaceBidRequest) (*domain.BidResponse, error)
	AcceptBid(ctx context.Context, p domain.Principal, gigID, bidID uint64) (*domain.BidDecisionResponse, error)
	RejectBid(ctx context.Context, p domain.Principal, bidID uint64) (*domain.BidDecisionResponse, error)
	StartWork(ctx context.Context, p domain.Principal, gigID uint64) (*domain.GigResponse, error)
	CompleteGig(ctx context.Context, p domain.Principal, gigID uint64) (*domain.GigResponse, error)
	RequestPayment(ctx context.Context, p domain.Principal, gigID uint64) (*domain.GigResponse, error)
}

type gigService struct {
	gigs     repository.GigRepository
	bids     repository.BidRepository
	actors   *actor.Group
	notifier Notifier
	log      zerolog.Logger
}

// NewGigService creates a new GigService. Mutations of one gig run on that
// gig's actor; the repository's compare-and-set keeps them atomic across
// instances.
func NewGigService(gigs repository.GigRepository, bids repository.BidRepository, actors *actor.Group, notifier Notifier) GigService {
	if notifier == nil {
		notifier = nopNotifier{}
	}
	return &gigService{
		gigs:     gigs,
		bids:     bids,
		actors:   actors,
		notifier: notifier,
		log:      logger.Component("gig"),
	}
}

func gigKey(gigID uint64) string {
	return "gig:" + strconv.FormatUint(gigID, 10)
}

func (s *gigService) CreateGig(ctx context.Context, p domain.Principal, req *domain.CreateGigRequest) (*domain.GigResponse, error) {
	if p.UserID == "" {
		return nil, common.ErrUnauthorized
	}
	title := strings.TrimSpace(req.Title)
	if title == "" || req.Budget <= 0 {
		return nil, fmt.Errorf("title and a positive budget are required: %w", common.ErrInvalidInput)
	}
	currency := strings.ToUpper(req.Currency)
	if currency == "" {
		currency = "NGN"
	}

	gig := &domain.Gig{
		BuyerID:     p.UserID,
		Title:       title,
		Description: req.Description,
		Budget:      req.Budget,
		Currency:    currency,
		Deadline:    req.Deadline,
		Status:      domain.GigStatusPending,
		NeedsReview: true,
	}
	if err := s.gigs.Create(ctx, gig); err != nil {
		return nil, err
	}
	s.log.Info().Uint64("gig_id", gig.ID).Str("buyer_id", gig.BuyerID).Msg("gig created")
	return gig.ToResponse(), nil
}

func (s *gigService) GetGig(ctx context.Context, gigID uint64) (*domain.GigResponse, error) {
	gig, err := s.gigs.FindByID(ctx, gigID)
	if err != nil {
		return nil, err
	}
	return gig.ToResponse(), nil
}

func (s *gigService) DeleteGig(ctx context.Context, p domain.Principal, gigID uint64) error {
	return s.actors.Do(ctx, gigKey(gigID), func() error {
		gig, err := s.gigs.FindByID(ctx, gigID)
		if err != nil {
			return err
		}
		if gig.BuyerID != p.UserID && !p.IsAdmin() {
			return common.ErrForbidden
		}
		return s.gigs.DeleteIfNoAcceptedBid(ctx, gigID)
	})
}

func (s *gigService) ListBids(ctx context.Context, gigID uint64) ([]*domain.BidResponse, error) {
	gig, err := s.gigs.FindByID(ctx, gigID)
	if err != nil {
		return nil, err
	}
	bids, err := s.bids.ListByGig(ctx, gigID)
	if err != nil {
		return nil, err
	}
	var acceptedID uint64
	for _, b := range bids {
		if b.Status == domain.BidStatusAccepted {
			acceptedID = b.ID
		}
	}
	resp := make([]*domain.BidResponse, len(bids))
	for i, b := range bids {
		resp[i] = b.ToResponse(gig, acceptedID)
	}
	return resp, nil
}

// PlaceBid runs on the gig's actor so a bid cannot be placed between an
// accept and the gig leaving pending. A gig that keeps an accepted bid after
// unsuspend takes no new bids.
func (s *gigService) PlaceBid(ctx context.Context, p domain.Principal, gigID uint64, req *domain.PlaceBidRequest) (*domain.BidResponse, error) {
	if p.UserID == "" {
		return nil, common.ErrUnauthorized
	}
	if req.Amount <= 0 {
		return nil, fmt.Errorf("bid amount must be positive: %w", common.ErrInvalidInput)
	}

	var resp *domain.BidResponse
	err := s.actors.Do(ctx, gigKey(gigID), func() error {
		gig, err := s.gigs.FindByID(ctx, gigID)
		if err != nil {
			return err
		}
		if gig.BuyerID == p.UserID {
			return fmt.Errorf("buyers cannot bid on their own gig: %w", common.ErrForbidden)
		}
		if gig.Status == domain.GigStatusSuspended {
			return common.ErrGigSuspended
		}
		if gig.Status != domain.GigStatusPending {
			return fmt.Errorf("gig %d is %s: %w", gigID, gig.Status, common.ErrInvalidTransition)
		}
		acceptedID, err := s.bids.AcceptedID(ctx, gigID)
		if err != nil {
			return err
		}
		if acceptedID != 0 {
			return fmt.Errorf("gig %d already accepted bid %d: %w", gigID, acceptedID, common.ErrInvalidTransition)
		}

		bid := &domain.Bid{
			GigID:    gigID,
			SellerID: p.UserID,
			Amount:   req.Amount,
			Proposal: req.Proposal,
			Status:   domain.BidStatusPending,
		}
		if err := s.bids.Create(ctx, bid); err != nil {
			return err
		}
		resp = bid.ToResponse(gig, 0)
		s.notifier.Notify(gig.BuyerID, EventGigUpdated, &GigUpdated{Gig: gig.ToResponse(), BidID: bid.ID, Reason: "bid_placed"})
		return nil
	})
	return resp, err
}

// AcceptBid accepts one bid and activates the gig. Concurrent accepts of
// sibling bids resolve to one winner; the rest fail with ErrInvalidTransition,
// or ErrGigSuspended while the gig is suspended.
func (s *gigService) AcceptBid(ctx context.Context, p domain.Principal, gigID, bidID uint64) (*domain.BidDecisionResponse, error) {
	var resp *domain.BidDecisionResponse
	err := s.actors.Do(ctx, gigKey(gigID), func() error {
		gig, bid, acceptedID, err := s.loadForDecision(ctx, p, gigID, bidID)
		if err != nil {
			return err
		}
		if err := bid.Decide(gig, acceptedID, domain.BidStatusAccepted); err != nil {
			return err
		}
		if err := s.bids.Accept(ctx, gigID, bidID); err != nil {
			return err
		}

		resp, err = s.decisionSnapshot(ctx, gigID, bidID)
		if err != nil {
			return err
		}
		s.notifyBidders(ctx, resp, "bid_accepted")
		return nil
	})

	metrics.BidDecisions.WithLabelValues("accept", metrics.Result(err)).Inc()
	metrics.GigTransitions.WithLabelValues(string(domain.TransitionAcceptBid), metrics.Result(err)).Inc()
	s.logDecision("accept", gigID, bidID, err)
	return resp, err
}

// RejectBid rejects a pending bid; the gig status is not touched
func (s *gigService) RejectBid(ctx context.Context, p domain.Principal, bidID uint64) (*domain.BidDecisionResponse, error) {
	bid, err := s.bids.FindByID(ctx, bidID)
	if err != nil {
		return nil, err
	}
	gigID := bid.GigID

	var resp *domain.BidDecisionResponse
	err = s.actors.Do(ctx, gigKey(gigID), func() error {
		gig, bid, acceptedID, err := s.loadForDecision(ctx, p, gigID, bidID)
		if err != nil {
			return err
		}
		if err := bid.Decide(gig, acceptedID, domain.BidStatusRejected); err != nil {
			return err
		}
		if err := s.bids.Reject(ctx, gigID, bidID); err != nil {
			return err
		}

		resp, err = s.decisionSnapshot(ctx, gigID, bidID)
		if err != nil {
			return err
		}
		s.notifier.Notify(resp.Bid.SellerID, EventGigUpdated, &GigUpdated{Gig: resp.Gig, BidID: bidID, Reason: "bid_rejected"})
		return nil
	})

	metrics.BidDecisions.WithLabelValues("reject", metrics.Result(err)).Inc()
	s.logDecision("reject", gigID, bidID, err)
	return resp, err
}

func (s *gigService) StartWork(ctx context.Context, p domain.Principal, gigID uint64) (*domain.GigResponse, error) {
	return s.advance(ctx, p, gigID, domain.TransitionStartWork, s.requireAcceptedSeller)
}

func (s *gigService) CompleteGig(ctx context.Context, p domain.Principal, gigID uint64) (*domain.GigResponse, error) {
	return s.advance(ctx, p, gigID, domain.TransitionComplete, s.requireAcceptedSeller)
}

func (s *gigService) RequestPayment(ctx context.Context, p domain.Principal, gigID uint64) (*domain.GigResponse, error) {
	return s.advance(ctx, p, gigID, domain.TransitionRequestPayment, requireOwner)
}

type gigGuard func(ctx context.Context, p domain.Principal, gig *domain.Gig) error

func requireOwner(_ context.Context, p domain.Principal, gig *domain.Gig) error {
	if gig.BuyerID != p.UserID {
		return common.ErrForbidden
	}
	return nil
}

func (s *gigService) requireAcceptedSeller(ctx context.Context, p domain.Principal, gig *domain.Gig) error {
	bid, err := s.bids.FindAccepted(ctx, gig.ID)
	if errors.Is(err, common.ErrBidNotFound) {
		return fmt.Errorf("gig %d has no accepted bid: %w", gig.ID, common.ErrInvalidTransition)
	}
	if err != nil {
		return err
	}
	if bid.SellerID != p.UserID {
		return common.ErrForbidden
	}
	return nil
}

// advance applies a delivery path transition as a single compare-and-set
func (s *gigService) advance(ctx context.Context, p domain.Principal, gigID uint64, t domain.GigTransition, guard gigGuard) (*domain.GigResponse, error) {
	var resp *domain.GigResponse
	err := s.actors.Do(ctx, gigKey(gigID), func() error {
		gig, err := s.gigs.FindByID(ctx, gigID)
		if err != nil {
			return err
		}
		if err := guard(ctx, p, gig); err != nil {
			return err
		}
		next, err := domain.NextGigStatus(gig.Status, t)
		if err != nil {
			return err
		}
		won, err := s.gigs.CompareAndSetStatus(ctx, gigID, gig.Status, next)
		if err != nil {
			return err
		}
		if !won {
			return fmt.Errorf("gig %d changed concurrently: %w", gigID, common.ErrInvalidTransition)
		}

		gig, err = s.gigs.FindByID(ctx, gigID)
		if err != nil {
			return err
		}
		resp = gig.ToResponse()
		s.notifier.Notify(gig.BuyerID, EventGigUpdated, &GigUpdated{Gig: resp, Reason: string(t)})
		return nil
	})

	metrics.GigTransitions.WithLabelValues(string(t), metrics.Result(err)).Inc()
	if err != nil {
		s.log.Debug().Err(err).Uint64("gig_id", gigID).Str("transition", string(t)).Msg("transition refused")
	}
	return resp, err
}

// loadForDecision loads the gig, the bid and the gig's accepted bid id, and
// checks the caller owns the gig
func (s *gigService) loadForDecision(ctx context.Context, p domain.Principal, gigID, bidID uint64) (*domain.Gig, *domain.Bid, uint64, error) {
	gig, err := s.gigs.FindByID(ctx, gigID)
	if err != nil {
		return nil, nil, 0, err
	}
	if gig.BuyerID != p.UserID {
		return nil, nil, 0, fmt.Errorf("only the gig owner can decide bids: %w", common.ErrForbidden)
	}
	bid, err := s.bids.FindByID(ctx, bidID)
	if err != nil {
		return nil, nil, 0, err
	}
	acceptedID, err := s.bids.AcceptedID(ctx, gigID)
	if err != nil {
		return nil, nil, 0, err
	}
	return gig, bid, acceptedID, nil
}

func (s *gigService) decisionSnapshot(ctx context.Context, gigID, bidID uint64) (*domain.BidDecisionResponse, error) {
	gig, err := s.gigs.FindByID(ctx, gigID)
	if err != nil {
		return nil, err
	}
	bid, err := s.bids.FindByID(ctx, bidID)
	if err != nil {
		return nil, err
	}
	acceptedID, err := s.bids.AcceptedID(ctx, gigID)
	if err != nil {
		return nil, err
	}
	return &domain.BidDecisionResponse{Bid: bid.ToResponse(gig, acceptedID), Gig: gig.ToResponse()}, nil
}

// notifyBidders tells every seller with a bid on the gig about the decision
func (s *gigService) notifyBidders(ctx context.Context, resp *domain.BidDecisionResponse, reason string) {
	bids, err := s.bids.ListByGig(ctx, resp.Gig.ID)
	if err != nil {
		s.log.Warn().Err(err).Uint64("gig_id", resp.Gig.ID).Msg("listing bidders for notification failed")
		return
	}
	ev := &GigUpdated{Gig: resp.Gig, BidID: resp.Bid.ID, Reason: reason}
	for _, b := range bids {
		s.notifier.Notify(b.SellerID, EventGigUpdated, ev)
	}
}

func (s *gigService) logDecision(decision string, gigID, bidID uint64, err error) {
	if err == nil {
		s.log.Info().Str("decision", decision).Uint64("gig_id", gigID).Uint64("bid_id", bidID).Msg("bid decided")
		return
	}
	s.log.Debug().Err(err).Str("decision", decision).Uint64("gig_id", gigID).Uint64("bid_id", bidID).Msg("bid decision refused")
}
