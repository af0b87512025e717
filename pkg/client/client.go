// Package client is a Go client for the coordinator's HTTP and WebSocket
// APIs. A *Client satisfies the reconciler's Sender, MarkReader and
// HistoryLoader interfaces.
package client

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strconv"
	"strings"
	"time"

	"github.com/lexgig/lexgig-backend/internal/common"
	"github.com/lexgig/lexgig-backend/internal/domain"
)

const maxResponseSize = 4 << 20

// Config holds configuration for creating a Client
type Config struct {
	// BaseURL is the server root, e.g. "http://localhost:8082"
	BaseURL string
	// Token is the bearer JWT sent with every request
	Token string
	// HTTPClient is used for all requests. If nil, a client with a 30s
	// timeout is used.
	HTTPClient *http.Client
}

// Client talks to /api/v1 on behalf of one authenticated user
type Client struct {
	baseURL    string
	token      string
	httpClient *http.Client
}

// APIError is a non-2xx response. It unwraps to the matching error
// sentinel of internal/common when the code is known.
type APIError struct {
	StatusCode int
	Code       string
	Message    string
}

func (e *APIError) Error() string {
	return fmt.Sprintf("api error %d %s: %s", e.StatusCode, e.Code, e.Message)
}

// Unwrap lets errors.Is match the server's error kinds
func (e *APIError) Unwrap() error {
	return common.FromCode(e.Code)
}

// New creates a Client
func New(cfg Config) (*Client, error) {
	if cfg.BaseURL == "" {
		return nil, errors.New("client: BaseURL is required")
	}
	if _, err := url.Parse(cfg.BaseURL); err != nil {
		return nil, fmt.Errorf("client: invalid BaseURL %q: %w", cfg.BaseURL, err)
	}
	httpClient := cfg.HTTPClient
	if httpClient == nil {
		httpClient = &http.Client{Timeout: 30 * time.Second}
	}
	return &Client{
		baseURL:    strings.TrimRight(cfg.BaseURL, "/"),
		token:      cfg.Token,
		httpClient: httpClient,
	}, nil
}

// SendMessage posts a message carrying clientTempID as its correlation token
func (c *Client) SendMessage(ctx context.Context, conversationID uint64, content, clientTempID string) (*domain.Message, error) {
	req := domain.SendMessageRequest{Content: content, ClientTempID: clientTempID}
	var msg domain.Message
	path := fmt.Sprintf("/api/v1/conversations/%d/messages", conversationID)
	if err := c.do(ctx, http.MethodPost, path, nil, req, &msg); err != nil {
		return nil, err
	}
	return &msg, nil
}

// MarkRead marks every message the caller received in the conversation read
func (c *Client) MarkRead(ctx context.Context, conversationID uint64) error {
	path := fmt.Sprintf("/api/v1/conversations/%d/read", conversationID)
	return c.do(ctx, http.MethodPost, path, nil, struct{}{}, nil)
}

// History returns up to limit messages older than before, oldest first
func (c *Client) History(ctx context.Context, conversationID uint64, before *time.Time, limit int) ([]*domain.Message, error) {
	query := url.Values{}
	if before != nil {
		query.Set("before", before.UTC().Format(time.RFC3339Nano))
	}
	if limit > 0 {
		query.Set("limit", strconv.Itoa(limit))
	}
	var msgs []*domain.Message
	path := fmt.Sprintf("/api/v1/conversations/%d/messages", conversationID)
	if err := c.do(ctx, http.MethodGet, path, query, nil, &msgs); err != nil {
		return nil, err
	}
	return msgs, nil
}

// OpenConversation returns the conversation with sellerID about gigID
func (c *Client) OpenConversation(ctx context.Context, gigID uint64, sellerID string) (*domain.Conversation, error) {
	var conv domain.Conversation
	path := fmt.Sprintf("/api/v1/gigs/%d/conversations", gigID)
	if err := c.do(ctx, http.MethodPost, path, nil, domain.OpenConversationRequest{SellerID: sellerID}, &conv); err != nil {
		return nil, err
	}
	return &conv, nil
}

// Conversations lists the caller's conversations, most recent first
func (c *Client) Conversations(ctx context.Context, page, limit int) ([]*domain.Conversation, error) {
	query := url.Values{}
	query.Set("page", strconv.Itoa(page))
	query.Set("limit", strconv.Itoa(limit))
	var convs []*domain.Conversation
	if err := c.do(ctx, http.MethodGet, "/api/v1/conversations", query, nil, &convs); err != nil {
		return nil, err
	}
	return convs, nil
}

// do performs a request and decodes the "data" member of the envelope into out
func (c *Client) do(ctx context.Context, method, path string, query url.Values, body, out any) error {
	requestURL := c.baseURL + path
	if len(query) > 0 {
		requestURL += "?" + query.Encode()
	}

	var bodyReader io.Reader
	if body != nil {
		encoded, err := json.Marshal(body)
		if err != nil {
			return fmt.Errorf("client: failed to encode request body: %w", err)
		}
		bodyReader = bytes.NewReader(encoded)
	}

	req, err := http.NewRequestWithContext(ctx, method, requestURL, bodyReader)
	if err != nil {
		return fmt.Errorf("client: failed to create request: %w", err)
	}
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}
	if c.token != "" {
		req.Header.Set("Authorization", "Bearer "+c.token)
	}

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return fmt.Errorf("client: request to %s %s failed: %w", method, path, err)
	}
	defer resp.Body.Close()

	raw, err := io.ReadAll(io.LimitReader(resp.Body, maxResponseSize))
	if err != nil {
		return fmt.Errorf("client: failed to read response body: %w", err)
	}

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		var envelope struct {
			Error *common.ErrorInfo `json:"error"`
		}
		apiErr := &APIError{StatusCode: resp.StatusCode, Code: "ERROR", Message: strings.TrimSpace(string(raw))}
		if json.Unmarshal(raw, &envelope) == nil && envelope.Error != nil {
			apiErr.Code = envelope.Error.Code
			apiErr.Message = envelope.Error.Message
		}
		return apiErr
	}

	if out == nil || len(raw) == 0 {
		return nil
	}
	envelope := struct {
		Data any `json:"data"`
	}{Data: out}
	if err := json.Unmarshal(raw, &envelope); err != nil {
		return fmt.Errorf("client: failed to parse %s %s response: %w", method, path, err)
	}
	return nil
}
