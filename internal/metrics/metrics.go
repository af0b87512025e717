package metrics

import (
	"errors"

	"github.com/lexgig/lexgig-backend/internal/common"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	// Lifecycle metrics
	GigTransitions = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "lexgig_gig_transitions_total",
			Help: "Gig lifecycle transitions by outcome",
		},
		[]string{"transition", "result"},
	)

	BidDecisions = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "lexgig_bid_decisions_total",
			Help: "Bid accept/reject decisions by outcome",
		},
		[]string{"decision", "result"},
	)

	ModerationActions = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "lexgig_moderation_actions_total",
			Help: "Admin moderation actions by outcome",
		},
		[]string{"action", "result"},
	)

	// Messaging metrics
	ConversationsCreated = promauto.NewCounter(
		prometheus.CounterOpts{
			Name: "lexgig_conversations_created_total",
			Help: "Conversations created (lookups of existing rows excluded)",
		},
	)

	MessagesPersisted = promauto.NewCounter(
		prometheus.CounterOpts{
			Name: "lexgig_messages_persisted_total",
			Help: "Messages persisted by the server",
		},
	)

	FeedPublishFailures = promauto.NewCounter(
		prometheus.CounterOpts{
			Name: "lexgig_feed_publish_failures_total",
			Help: "MessageInserted events that could not be published",
		},
	)

	ReconcilerEvents = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "lexgig_reconciler_events_total",
			Help: "Reconciler outcomes: received, reconciled, duplicate, conflict, other_session",
		},
		[]string{"kind"},
	)

	ReconcilerRollbacks = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "lexgig_reconciler_rollbacks_total",
			Help: "Optimistic messages removed from the log",
		},
		[]string{"reason"}, // "send_failed", "timeout", "cancelled"
	)

	WSConnections = promauto.NewGauge(
		prometheus.GaugeOpts{
			Name: "lexgig_ws_connections",
			Help: "Open WebSocket connections",
		},
	)
)

// Result returns the metric label for an operation outcome
func Result(err error) string {
	switch {
	case err == nil:
		return "ok"
	case errors.Is(err, common.ErrGigSuspended):
		return "gig_suspended"
	case errors.Is(err, common.ErrInvalidTransition):
		return "invalid_transition"
	case errors.Is(err, common.ErrForbidden):
		return "forbidden"
	case errors.Is(err, common.ErrGigNotFound), errors.Is(err, common.ErrBidNotFound):
		return "not_found"
	default:
		return "error"
	}
}
