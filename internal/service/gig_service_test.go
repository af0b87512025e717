package service

import (
	"context"
	"fmt"
	"sync"
	"testing"

	"github.com/lexgig/lexgig-backend/internal/common"
	"github.com/lexgig/lexgig-backend/internal/domain"
	"github.com/lexgig/lexgig-backend/internal/repository"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

var (
	buyer = domain.Principal{UserID: "buyer-1", Level: 2}
	admin = domain.Principal{UserID: "admin-1", Level: domain.AdminLevel}
)

func seller(n int) domain.Principal {
	return domain.Principal{UserID: fmt.Sprintf("seller-%d", n), Level: 2}
}

type gigFixture struct {
	gigs       GigService
	moderation ModerationService
	notifier   *recordingNotifier
}

func newGigFixture(t *testing.T) *gigFixture {
	t.Helper()
	db := newTestDB(t)
	actors := newTestActors(t)
	notifier := &recordingNotifier{}
	gigRepo := repository.NewGigRepository(db)
	return &gigFixture{
		gigs:       NewGigService(gigRepo, repository.NewBidRepository(db), actors, notifier),
		moderation: NewModerationService(gigRepo, actors, notifier),
		notifier:   notifier,
	}
}

func (f *gigFixture) postGig(t *testing.T) *domain.GigResponse {
	t.Helper()
	gig, err := f.gigs.CreateGig(context.Background(), buyer, &domain.CreateGigRequest{
		Title: "Translate contract", Description: "EN to FR", Budget: 20000,
	})
	require.NoError(t, err)
	return gig
}

func (f *gigFixture) bid(t *testing.T, gigID uint64, n int) *domain.BidResponse {
	t.Helper()
	bid, err := f.gigs.PlaceBid(context.Background(), seller(n), gigID, &domain.PlaceBidRequest{Amount: 18000, Proposal: "fast"})
	require.NoError(t, err)
	return bid
}

func TestGigService_CreateGig(t *testing.T) {
	f := newGigFixture(t)
	gig := f.postGig(t)

	assert.Equal(t, domain.GigStatusPending, gig.Status)
	assert.Equal(t, "NGN", gig.Currency)
	assert.True(t, gig.NeedsReview)

	_, err := f.gigs.CreateGig(context.Background(), buyer, &domain.CreateGigRequest{Title: "  ", Budget: 10})
	assert.ErrorIs(t, err, common.ErrInvalidInput)
}

func TestGigService_PlaceBid(t *testing.T) {
	f := newGigFixture(t)
	ctx := context.Background()
	gig := f.postGig(t)

	bid := f.bid(t, gig.ID, 1)
	assert.True(t, bid.Actionable)
	assert.NotEmpty(t, f.notifier.For(buyer.UserID))

	_, err := f.gigs.PlaceBid(ctx, seller(1), gig.ID, &domain.PlaceBidRequest{Amount: 1, Proposal: "again"})
	assert.ErrorIs(t, err, common.ErrDuplicateBid)

	_, err = f.gigs.PlaceBid(ctx, buyer, gig.ID, &domain.PlaceBidRequest{Amount: 1, Proposal: "self"})
	assert.ErrorIs(t, err, common.ErrForbidden)
}

// Two sellers' bids accepted at the same time: exactly one wins, the gig is
// active and the loser sees InvalidTransition.
func TestGigService_ConcurrentAcceptHasOneWinner(t *testing.T) {
	f := newGigFixture(t)
	ctx := context.Background()
	gig := f.postGig(t)

	const n = 6
	bids := make([]*domain.BidResponse, n)
	for i := range bids {
		bids[i] = f.bid(t, gig.ID, i)
	}

	var (
		wg     sync.WaitGroup
		mu     sync.Mutex
		wins   []uint64
		losses []error
	)
	for _, b := range bids {
		wg.Add(1)
		go func(bidID uint64) {
			defer wg.Done()
			resp, err := f.gigs.AcceptBid(ctx, buyer, gig.ID, bidID)
			mu.Lock()
			defer mu.Unlock()
			if err != nil {
				losses = append(losses, err)
				return
			}
			wins = append(wins, resp.Bid.ID)
		}(b.ID)
	}
	wg.Wait()

	require.Len(t, wins, 1)
	require.Len(t, losses, n-1)
	for _, err := range losses {
		assert.ErrorIs(t, err, common.ErrInvalidTransition)
	}

	got, err := f.gigs.GetGig(ctx, gig.ID)
	require.NoError(t, err)
	assert.Equal(t, domain.GigStatusActive, got.Status)

	listed, err := f.gigs.ListBids(ctx, gig.ID)
	require.NoError(t, err)
	accepted := 0
	for _, b := range listed {
		assert.False(t, b.Actionable)
		if b.Status == domain.BidStatusAccepted {
			accepted++
			assert.Equal(t, wins[0], b.ID)
		}
	}
	assert.Equal(t, 1, accepted)
}

// Suspend blocks accept with GigSuspended; after unsuspend the same bid can
// be accepted.
func TestGigService_SuspendBlocksAcceptUntilUnsuspended(t *testing.T) {
	f := newGigFixture(t)
	ctx := context.Background()
	gig := f.postGig(t)
	bid := f.bid(t, gig.ID, 1)

	_, err := f.moderation.Suspend(ctx, admin, gig.ID)
	require.NoError(t, err)

	_, err = f.gigs.AcceptBid(ctx, buyer, gig.ID, bid.ID)
	assert.ErrorIs(t, err, common.ErrGigSuspended)
	_, err = f.gigs.RejectBid(ctx, buyer, bid.ID)
	assert.ErrorIs(t, err, common.ErrGigSuspended)

	listed, err := f.gigs.ListBids(ctx, gig.ID)
	require.NoError(t, err)
	assert.Equal(t, domain.BidStatusPending, listed[0].Status, "suspend never touches bids")
	assert.False(t, listed[0].Actionable)

	unsuspended, err := f.moderation.Unsuspend(ctx, admin, gig.ID)
	require.NoError(t, err)
	assert.Equal(t, domain.GigStatusPending, unsuspended.Status)

	resp, err := f.gigs.AcceptBid(ctx, buyer, gig.ID, bid.ID)
	require.NoError(t, err)
	assert.Equal(t, domain.BidStatusAccepted, resp.Bid.Status)
	assert.Equal(t, domain.GigStatusActive, resp.Gig.Status)
}

// An active gig that goes through suspend and unsuspend is pending again but
// keeps its accepted bid; its siblings stay closed and it takes no new bids.
func TestGigService_UnsuspendedGigKeepsSiblingsClosed(t *testing.T) {
	f := newGigFixture(t)
	ctx := context.Background()
	gig := f.postGig(t)
	winner := f.bid(t, gig.ID, 1)
	sibling := f.bid(t, gig.ID, 2)

	_, err := f.gigs.AcceptBid(ctx, buyer, gig.ID, winner.ID)
	require.NoError(t, err)
	_, err = f.moderation.Suspend(ctx, admin, gig.ID)
	require.NoError(t, err)
	unsuspended, err := f.moderation.Unsuspend(ctx, admin, gig.ID)
	require.NoError(t, err)
	require.Equal(t, domain.GigStatusPending, unsuspended.Status)

	listed, err := f.gigs.ListBids(ctx, gig.ID)
	require.NoError(t, err)
	require.Len(t, listed, 2)
	for _, b := range listed {
		assert.False(t, b.Actionable, "bid %d", b.ID)
	}

	_, err = f.gigs.RejectBid(ctx, buyer, sibling.ID)
	assert.ErrorIs(t, err, common.ErrInvalidTransition)
	_, err = f.gigs.AcceptBid(ctx, buyer, gig.ID, sibling.ID)
	assert.ErrorIs(t, err, common.ErrInvalidTransition)
	_, err = f.gigs.PlaceBid(ctx, seller(3), gig.ID, &domain.PlaceBidRequest{Amount: 15000, Proposal: "late"})
	assert.ErrorIs(t, err, common.ErrInvalidTransition)

	listed, err = f.gigs.ListBids(ctx, gig.ID)
	require.NoError(t, err)
	require.Len(t, listed, 2, "no bid was placed")
	assert.Equal(t, domain.BidStatusAccepted, listed[0].Status)
	assert.Equal(t, domain.BidStatusPending, listed[1].Status, "refused reject leaves the sibling pending")
}

func TestGigService_OnlyOwnerDecides(t *testing.T) {
	f := newGigFixture(t)
	ctx := context.Background()
	gig := f.postGig(t)
	bid := f.bid(t, gig.ID, 1)

	_, err := f.gigs.AcceptBid(ctx, seller(1), gig.ID, bid.ID)
	assert.ErrorIs(t, err, common.ErrForbidden)
	_, err = f.gigs.RejectBid(ctx, seller(2), bid.ID)
	assert.ErrorIs(t, err, common.ErrForbidden)

	// authorization is checked before the suspension
	_, err = f.moderation.Suspend(ctx, admin, gig.ID)
	require.NoError(t, err)
	_, err = f.gigs.AcceptBid(ctx, seller(1), gig.ID, bid.ID)
	assert.ErrorIs(t, err, common.ErrForbidden)
}

func TestGigService_RejectLeavesGigPending(t *testing.T) {
	f := newGigFixture(t)
	ctx := context.Background()
	gig := f.postGig(t)
	rejected := f.bid(t, gig.ID, 1)
	other := f.bid(t, gig.ID, 2)

	resp, err := f.gigs.RejectBid(ctx, buyer, rejected.ID)
	require.NoError(t, err)
	assert.Equal(t, domain.BidStatusRejected, resp.Bid.Status)
	assert.Equal(t, domain.GigStatusPending, resp.Gig.Status)
	assert.NotEmpty(t, f.notifier.For(seller(1).UserID))

	_, err = f.gigs.AcceptBid(ctx, buyer, gig.ID, rejected.ID)
	assert.ErrorIs(t, err, common.ErrInvalidTransition)

	_, err = f.gigs.AcceptBid(ctx, buyer, gig.ID, other.ID)
	require.NoError(t, err)

	_, err = f.gigs.RejectBid(ctx, buyer, other.ID)
	assert.ErrorIs(t, err, common.ErrInvalidTransition)
}

func TestGigService_DeliveryPath(t *testing.T) {
	f := newGigFixture(t)
	ctx := context.Background()
	gig := f.postGig(t)
	bid := f.bid(t, gig.ID, 1)
	f.bid(t, gig.ID, 2)

	_, err := f.gigs.StartWork(ctx, seller(1), gig.ID)
	assert.ErrorIs(t, err, common.ErrInvalidTransition, "no accepted bid yet")

	_, err = f.gigs.AcceptBid(ctx, buyer, gig.ID, bid.ID)
	require.NoError(t, err)

	_, err = f.gigs.StartWork(ctx, seller(2), gig.ID)
	assert.ErrorIs(t, err, common.ErrForbidden, "losing seller cannot start")

	started, err := f.gigs.StartWork(ctx, seller(1), gig.ID)
	require.NoError(t, err)
	assert.Equal(t, domain.GigStatusInProgress, started.Status)

	_, err = f.gigs.RequestPayment(ctx, buyer, gig.ID)
	assert.ErrorIs(t, err, common.ErrInvalidTransition)

	done, err := f.gigs.CompleteGig(ctx, seller(1), gig.ID)
	require.NoError(t, err)
	assert.Equal(t, domain.GigStatusCompleted, done.Status)

	_, err = f.gigs.RequestPayment(ctx, seller(1), gig.ID)
	assert.ErrorIs(t, err, common.ErrForbidden)

	paid, err := f.gigs.RequestPayment(ctx, buyer, gig.ID)
	require.NoError(t, err)
	assert.Equal(t, domain.GigStatusPendingPayment, paid.Status)

	_, err = f.moderation.Suspend(ctx, admin, gig.ID)
	assert.ErrorIs(t, err, common.ErrInvalidTransition, "terminal gigs cannot be suspended")
}

func TestGigService_DeleteGig(t *testing.T) {
	f := newGigFixture(t)
	ctx := context.Background()

	gig := f.postGig(t)
	assert.ErrorIs(t, f.gigs.DeleteGig(ctx, seller(1), gig.ID), common.ErrForbidden)
	require.NoError(t, f.gigs.DeleteGig(ctx, buyer, gig.ID))
	_, err := f.gigs.GetGig(ctx, gig.ID)
	assert.ErrorIs(t, err, common.ErrGigNotFound)

	taken := f.postGig(t)
	bid := f.bid(t, taken.ID, 1)
	_, err = f.gigs.AcceptBid(ctx, buyer, taken.ID, bid.ID)
	require.NoError(t, err)
	assert.ErrorIs(t, f.gigs.DeleteGig(ctx, buyer, taken.ID), common.ErrGigHasAcceptedBid)
}
