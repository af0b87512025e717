package common

import (
	"errors"
	"net/http"
)

// Business logic errors
var (
	// General errors
	ErrNotFound     = errors.New("resource not found")
	ErrForbidden    = errors.New("forbidden")
	ErrUnauthorized = errors.New("unauthorized")
	ErrInvalidInput = errors.New("invalid input")

	// Auth errors
	ErrInvalidToken = errors.New("invalid token")
	ErrExpiredToken = errors.New("expired token")

	// Gig / bid lifecycle errors
	ErrGigNotFound       = errors.New("gig not found")
	ErrBidNotFound       = errors.New("bid not found")
	ErrInvalidTransition = errors.New("invalid transition")
	ErrGigSuspended      = errors.New("gig is suspended")
	ErrGigHasAcceptedBid = errors.New("gig has an accepted bid")
	ErrDuplicateBid      = errors.New("seller already placed a bid on this gig")

	// Conversation / messaging errors
	ErrConversationNotFound     = errors.New("conversation not found")
	ErrConversationCreateFailed = errors.New("conversation create failed")
	ErrNotParticipant           = errors.New("not a conversation participant")
	ErrMessageSendFailed        = errors.New("message send failed")
	ErrSendCancelled            = errors.New("message send cancelled")
	ErrReconciliationConflict   = errors.New("reconciliation conflict")
)

type errorKind struct {
	err    error
	code   string
	status int
}

// ordered: the first match wins, so specific kinds precede generic ones
var errorKinds = []errorKind{
	{ErrGigSuspended, "GIG_SUSPENDED", http.StatusLocked},
	{ErrInvalidTransition, "INVALID_TRANSITION", http.StatusConflict},
	{ErrGigHasAcceptedBid, "GIG_HAS_ACCEPTED_BID", http.StatusConflict},
	{ErrDuplicateBid, "DUPLICATE_BID", http.StatusConflict},
	{ErrConversationCreateFailed, "CONVERSATION_CREATE_FAILED", http.StatusServiceUnavailable},
	{ErrMessageSendFailed, "MESSAGE_SEND_FAILED", http.StatusBadGateway},
	{ErrSendCancelled, "MESSAGE_SEND_CANCELLED", http.StatusConflict},
	{ErrReconciliationConflict, "RECONCILIATION_CONFLICT", http.StatusConflict},
	{ErrNotParticipant, "FORBIDDEN", http.StatusForbidden},
	{ErrForbidden, "FORBIDDEN", http.StatusForbidden},
	{ErrUnauthorized, "UNAUTHORIZED", http.StatusUnauthorized},
	{ErrInvalidToken, "UNAUTHORIZED", http.StatusUnauthorized},
	{ErrExpiredToken, "UNAUTHORIZED", http.StatusUnauthorized},
	{ErrGigNotFound, "NOT_FOUND", http.StatusNotFound},
	{ErrBidNotFound, "NOT_FOUND", http.StatusNotFound},
	{ErrConversationNotFound, "NOT_FOUND", http.StatusNotFound},
	{ErrNotFound, "NOT_FOUND", http.StatusNotFound},
	{ErrInvalidInput, "BAD_REQUEST", http.StatusBadRequest},
}

// ErrorCode returns the stable API code for an error kind
func ErrorCode(err error) string {
	for _, k := range errorKinds {
		if errors.Is(err, k.err) {
			return k.code
		}
	}
	return "INTERNAL_SERVER_ERROR"
}

// HTTPStatus returns the HTTP status for an error kind
func HTTPStatus(err error) int {
	for _, k := range errorKinds {
		if errors.Is(err, k.err) {
			return k.status
		}
	}
	return http.StatusInternalServerError
}

// genericCodes codes shared by several kinds map to the generic sentinel
var genericCodes = map[string]error{
	"FORBIDDEN":    ErrForbidden,
	"UNAUTHORIZED": ErrUnauthorized,
	"NOT_FOUND":    ErrNotFound,
	"BAD_REQUEST":  ErrInvalidInput,
}

// FromCode maps an API error code back to its sentinel. Unknown codes
// return nil.
func FromCode(code string) error {
	if err, ok := genericCodes[code]; ok {
		return err
	}
	for _, k := range errorKinds {
		if k.code == code {
			return k.err
		}
	}
	return nil
}
