package service

import (
	"context"
	"fmt"

	"github.com/lexgig/lexgig-backend/internal/actor"
	"github.com/lexgig/lexgig-backend/internal/common"
	"github.com/lexgig/lexgig-backend/internal/domain"
	"github.com/lexgig/lexgig-backend/internal/metrics"
	"github.com/lexgig/lexgig-backend/internal/repository"
	"github.com/lexgig/lexgig-backend/pkg/logger"
	"github.com/rs/zerolog"
)

// maxCASAttempts bounds suspend retries against concurrent buyer/seller transitions
const maxCASAttempts = 5

// ModerationService admin-only gig transitions. Every call returns the
// resulting gig snapshot.
type ModerationService interface {
	Suspend(ctx context.Context, p domain.Principal, gigID uint64) (*domain.GigResponse, error)
	Unsuspend(ctx context.Context, p domain.Principal, gigID uint64) (*domain.GigResponse, error)
	Flag(ctx context.Context, p domain.Principal, gigID uint64) (*domain.GigResponse, error)
	Unflag(ctx context.Context, p domain.Principal, gigID uint64) (*domain.GigResponse, error)
	Approve(ctx context.Context, p domain.Principal, gigID uint64) (*domain.GigResponse, error)
	ListQueue(ctx context.Context, p domain.Principal, params *repository.ModerationQueueParams) ([]*domain.GigResponse, *common.Meta, error)
}

type moderationService struct {
	gigs     repository.GigRepository
	actors   *actor.Group
	notifier Notifier
	log      zerolog.Logger
}

// NewModerationService creates a new ModerationService. actors must be the
// group shared with GigService so moderation serializes with bid decisions.
func NewModerationService(gigs repository.GigRepository, actors *actor.Group, notifier Notifier) ModerationService {
	if notifier == nil {
		notifier = nopNotifier{}
	}
	return &moderationService{
		gigs:     gigs,
		actors:   actors,
		notifier: notifier,
		log:      logger.Component("moderation"),
	}
}

func requireAdmin(p domain.Principal) error {
	if !p.IsAdmin() {
		return fmt.Errorf("moderation requires admin level: %w", common.ErrForbidden)
	}
	return nil
}

// Suspend forces a non-terminal gig into suspended. Suspending a suspended
// gig succeeds without change. Bid statuses are never touched.
func (s *moderationService) Suspend(ctx context.Context, p domain.Principal, gigID uint64) (*domain.GigResponse, error) {
	resp, err := s.transition(ctx, p, gigID, "suspend", func() (*domain.Gig, error) {
		for attempt := 0; attempt < maxCASAttempts; attempt++ {
			gig, err := s.gigs.FindByID(ctx, gigID)
			if err != nil {
				return nil, err
			}
			if gig.Status == domain.GigStatusSuspended {
				return gig, nil
			}
			next, err := domain.NextGigStatus(gig.Status, domain.TransitionSuspend)
			if err != nil {
				return nil, err
			}
			won, err := s.gigs.CompareAndSetStatus(ctx, gigID, gig.Status, next)
			if err != nil {
				return nil, err
			}
			if won {
				return s.gigs.FindByID(ctx, gigID)
			}
		}
		return nil, fmt.Errorf("gig %d kept changing during suspend: %w", gigID, common.ErrInvalidTransition)
	})
	if err == nil {
		metrics.GigTransitions.WithLabelValues(string(domain.TransitionSuspend), "ok").Inc()
	}
	return resp, err
}

// Unsuspend returns a suspended gig to pending
func (s *moderationService) Unsuspend(ctx context.Context, p domain.Principal, gigID uint64) (*domain.GigResponse, error) {
	return s.transition(ctx, p, gigID, "unsuspend", func() (*domain.Gig, error) {
		gig, err := s.gigs.FindByID(ctx, gigID)
		if err != nil {
			return nil, err
		}
		next, err := domain.NextGigStatus(gig.Status, domain.TransitionUnsuspend)
		if err != nil {
			return nil, err
		}
		won, err := s.gigs.CompareAndSetStatus(ctx, gigID, gig.Status, next)
		if err != nil {
			return nil, err
		}
		if !won {
			return nil, fmt.Errorf("gig %d changed concurrently: %w", gigID, common.ErrInvalidTransition)
		}
		metrics.GigTransitions.WithLabelValues(string(domain.TransitionUnsuspend), "ok").Inc()
		return s.gigs.FindByID(ctx, gigID)
	})
}

func (s *moderationService) Flag(ctx context.Context, p domain.Principal, gigID uint64) (*domain.GigResponse, error) {
	return s.setMarker(ctx, p, gigID, "flag", func() error { return s.gigs.SetFlagged(ctx, gigID, true) })
}

func (s *moderationService) Unflag(ctx context.Context, p domain.Principal, gigID uint64) (*domain.GigResponse, error) {
	return s.setMarker(ctx, p, gigID, "unflag", func() error { return s.gigs.SetFlagged(ctx, gigID, false) })
}

// Approve clears the needs-review marker; status is unchanged
func (s *moderationService) Approve(ctx context.Context, p domain.Principal, gigID uint64) (*domain.GigResponse, error) {
	return s.setMarker(ctx, p, gigID, "approve", func() error { return s.gigs.SetNeedsReview(ctx, gigID, false) })
}

func (s *moderationService) ListQueue(ctx context.Context, p domain.Principal, params *repository.ModerationQueueParams) ([]*domain.GigResponse, *common.Meta, error) {
	if err := requireAdmin(p); err != nil {
		return nil, nil, err
	}
	if params == nil {
		params = &repository.ModerationQueueParams{}
	}
	gigs, total, err := s.gigs.ListModerationQueue(ctx, params)
	if err != nil {
		return nil, nil, err
	}

	resp := make([]*domain.GigResponse, len(gigs))
	for i, g := range gigs {
		resp[i] = g.ToResponse()
	}
	page, limit := params.Page, params.Limit
	if page < 1 {
		page = 1
	}
	if limit < 1 || limit > 100 {
		limit = 20
	}
	return resp, &common.Meta{Page: page, Limit: limit, Total: total}, nil
}

func (s *moderationService) setMarker(ctx context.Context, p domain.Principal, gigID uint64, action string, apply func() error) (*domain.GigResponse, error) {
	return s.transition(ctx, p, gigID, action, func() (*domain.Gig, error) {
		if err := apply(); err != nil {
			return nil, err
		}
		return s.gigs.FindByID(ctx, gigID)
	})
}

// transition runs an admin action on the gig's actor
func (s *moderationService) transition(ctx context.Context, p domain.Principal, gigID uint64, action string, fn func() (*domain.Gig, error)) (*domain.GigResponse, error) {
	if err := requireAdmin(p); err != nil {
		metrics.ModerationActions.WithLabelValues(action, metrics.Result(err)).Inc()
		return nil, err
	}

	var resp *domain.GigResponse
	err := s.actors.Do(ctx, gigKey(gigID), func() error {
		gig, err := fn()
		if err != nil {
			return err
		}
		resp = gig.ToResponse()
		return nil
	})

	metrics.ModerationActions.WithLabelValues(action, metrics.Result(err)).Inc()
	if err != nil {
		s.log.Warn().Err(err).Str("action", action).Uint64("gig_id", gigID).Str("admin_id", p.UserID).Msg("moderation action failed")
		return nil, err
	}
	s.log.Info().Str("action", action).Uint64("gig_id", gigID).Str("admin_id", p.UserID).
		Str("status", string(resp.Status)).Msg("moderation action applied")
	s.notifier.Notify(resp.BuyerID, EventGigUpdated, &GigUpdated{Gig: resp, Reason: action})
	return resp, nil
}
