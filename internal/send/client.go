// Vicinity - Civic Incident Reporting and Neighborhood Chat
// Copyright 2026 The Vicinity Authors
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/vicinity-app/chatsync

package send

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"io"
	"net/http"
	"time"

	"github.com/goccy/go-json"
	gobreaker "github.com/sony/gobreaker/v2"
	"golang.org/x/time/rate"

	"github.com/vicinity-app/chatsync/internal/chat"
	"github.com/vicinity-app/chatsync/internal/logging"
	"github.com/vicinity-app/chatsync/internal/metrics"
)

const breakerName = "vicinity-api"

// ClientConfig holds the chat API client settings.
type ClientConfig struct {
	// BaseURL is the REST origin, e.g. "https://api.vicinity.app".
	BaseURL string
	// Token authenticates requests as the current actor.
	Token string
	// RequestTimeout bounds each HTTP call. Zero means 15s.
	RequestTimeout time.Duration
	// RateLimit is requests per second; RateBurst the burst size.
	// Zero values mean 10 rps with a burst of 20.
	RateLimit float64
	RateBurst int
}

// Client talks to the Vicinity chat API. Calls are rate limited and
// pass through a circuit breaker; failures come back classified as
// SendError so the pipeline can pick the right state transition.
type Client struct {
	baseURL string
	token   string
	http    *http.Client
	limiter *rate.Limiter
	cb      *gobreaker.CircuitBreaker[[]byte]
}

// NewClient builds the API client. Circuit breaker configuration:
// opens after a 60% failure rate over at least 10 requests, allows 3
// probes half-open, and waits 30 seconds before probing.
func NewClient(cfg ClientConfig) *Client {
	if cfg.RequestTimeout <= 0 {
		cfg.RequestTimeout = 15 * time.Second
	}
	if cfg.RateLimit <= 0 {
		cfg.RateLimit = 10
	}
	if cfg.RateBurst <= 0 {
		cfg.RateBurst = 20
	}

	metrics.CircuitBreakerState.WithLabelValues(breakerName).Set(0)

	cb := gobreaker.NewCircuitBreaker[[]byte](gobreaker.Settings{
		Name:        breakerName,
		MaxRequests: 3,
		Interval:    time.Minute,
		Timeout:     30 * time.Second,
		ReadyToTrip: func(counts gobreaker.Counts) bool {
			if counts.Requests < 10 {
				return false
			}
			return float64(counts.TotalFailures)/float64(counts.Requests) >= 0.6
		},
		OnStateChange: func(name string, from, to gobreaker.State) {
			logging.Warn().
				Str("breaker", name).
				Str("from", from.String()).
				Str("to", to.String()).
				Msg("circuit breaker state change")
			metrics.CircuitBreakerState.WithLabelValues(name).Set(stateToFloat(to))
			metrics.CircuitBreakerTransitions.WithLabelValues(name, from.String(), to.String()).Inc()
		},
		IsSuccessful: func(err error) bool {
			// Rejections are the server doing its job; only transient
			// failures should push the breaker open.
			var se *SendError
			if errors.As(err, &se) {
				return se.Kind != KindTransient
			}
			return err == nil
		},
	})

	return &Client{
		baseURL: cfg.BaseURL,
		token:   cfg.Token,
		http:    &http.Client{Timeout: cfg.RequestTimeout},
		limiter: rate.NewLimiter(rate.Limit(cfg.RateLimit), cfg.RateBurst),
		cb:      cb,
	}
}

func stateToFloat(s gobreaker.State) float64 {
	switch s {
	case gobreaker.StateClosed:
		return 0
	case gobreaker.StateHalfOpen:
		return 1
	default:
		return 2
	}
}

// SendMessage posts the message to its conversation. The client-minted
// message id travels with the payload; the server stores it verbatim,
// which is what makes retries idempotent.
func (c *Client) SendMessage(ctx context.Context, msg *chat.Message) error {
	path := fmt.Sprintf("/v1/conversations/%s/messages", msg.ConversationID)
	_, err := c.do(ctx, http.MethodPost, path, msg)
	return err
}

// MarkRead reports the viewer has seen the conversation.
func (c *Client) MarkRead(ctx context.Context, conversationID string) error {
	path := fmt.Sprintf("/v1/conversations/%s/read", conversationID)
	_, err := c.do(ctx, http.MethodPost, path, nil)
	return err
}

type reconcileRequest struct {
	MessageIDs []string `json:"message_ids"`
}

type reconcileResponse struct {
	States map[string]chat.DeliveryState `json:"states"`
}

// ReconcileReceipts asks the server for the authoritative delivery
// state of the given message ids. Used after a resync, when receipt
// events may have been missed while offline.
func (c *Client) ReconcileReceipts(ctx context.Context, messageIDs []string) (map[string]chat.DeliveryState, error) {
	if len(messageIDs) == 0 {
		return nil, nil
	}

	body, err := c.do(ctx, http.MethodPost, "/v1/receipts/reconcile", reconcileRequest{MessageIDs: messageIDs})
	if err != nil {
		return nil, err
	}
	var resp reconcileResponse
	if err := json.Unmarshal(body, &resp); err != nil {
		return nil, fmt.Errorf("decode reconcile response: %w", err)
	}
	return resp.States, nil
}

// Conversations fetches the viewer's inbox. Part of the resync path.
func (c *Client) Conversations(ctx context.Context) ([]*chat.Conversation, error) {
	body, err := c.do(ctx, http.MethodGet, "/v1/conversations", nil)
	if err != nil {
		return nil, err
	}
	var convs []*chat.Conversation
	if err := json.Unmarshal(body, &convs); err != nil {
		return nil, fmt.Errorf("decode conversations: %w", err)
	}
	return convs, nil
}

// Messages fetches a conversation's transcript. Part of the resync path.
func (c *Client) Messages(ctx context.Context, conversationID string) ([]*chat.Message, error) {
	path := fmt.Sprintf("/v1/conversations/%s/messages", conversationID)
	body, err := c.do(ctx, http.MethodGet, path, nil)
	if err != nil {
		return nil, err
	}
	var msgs []*chat.Message
	if err := json.Unmarshal(body, &msgs); err != nil {
		return nil, fmt.Errorf("decode messages: %w", err)
	}
	return msgs, nil
}

// do runs one request through the limiter and the breaker, returning
// the response body or a classified SendError.
func (c *Client) do(ctx context.Context, method, path string, payload any) ([]byte, error) {
	if err := c.limiter.Wait(ctx); err != nil {
		return nil, &SendError{Kind: KindTransient, Err: err}
	}

	body, err := c.cb.Execute(func() ([]byte, error) {
		return c.roundTrip(ctx, method, path, payload)
	})
	if err != nil {
		if errors.Is(err, gobreaker.ErrOpenState) || errors.Is(err, gobreaker.ErrTooManyRequests) {
			return nil, &SendError{Kind: KindTransient, Err: err}
		}
		return nil, err
	}
	return body, nil
}

func (c *Client) roundTrip(ctx context.Context, method, path string, payload any) ([]byte, error) {
	var reqBody io.Reader
	if payload != nil {
		data, err := json.Marshal(payload)
		if err != nil {
			return nil, &SendError{Kind: KindRejected, Err: fmt.Errorf("marshal request: %w", err)}
		}
		reqBody = bytes.NewReader(data)
	}

	req, err := http.NewRequestWithContext(ctx, method, c.baseURL+path, reqBody)
	if err != nil {
		return nil, &SendError{Kind: KindRejected, Err: err}
	}
	req.Header.Set("Authorization", "Bearer "+c.token)
	req.Header.Set("Accept", "application/json")
	if reqBody != nil {
		req.Header.Set("Content-Type", "application/json")
	}

	resp, err := c.http.Do(req)
	if err != nil {
		return nil, &SendError{Kind: KindTransient, Err: err}
	}
	defer func() { _ = resp.Body.Close() }()

	data, err := io.ReadAll(io.LimitReader(resp.Body, 4<<20))
	if err != nil {
		return nil, &SendError{Kind: KindTransient, Err: err}
	}

	switch {
	case resp.StatusCode >= 200 && resp.StatusCode < 300:
		return data, nil
	case resp.StatusCode == http.StatusUnauthorized || resp.StatusCode == http.StatusForbidden:
		return nil, &SendError{Kind: KindIdentity, StatusCode: resp.StatusCode, Err: errors.New(http.StatusText(resp.StatusCode))}
	case resp.StatusCode == http.StatusTooManyRequests || resp.StatusCode >= 500:
		return nil, &SendError{Kind: KindTransient, StatusCode: resp.StatusCode, Err: errors.New(http.StatusText(resp.StatusCode))}
	default:
		return nil, &SendError{Kind: KindRejected, StatusCode: resp.StatusCode, Err: errors.New(http.StatusText(resp.StatusCode))}
	}
}
