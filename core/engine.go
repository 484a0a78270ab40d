package core

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"

	"github.com/sirupsen/logrus"
)

// Upstream class_method discriminators. The reasoning engine multiplexes
// its operations through a single endpoint pair (:streamQuery and :query)
// with the method named in the payload.
const (
	methodStreamQuery  = "async_stream_query"
	methodListSessions = "async_list_sessions"
	methodGetSession   = "async_get_session"
)

// enginePayload is the request envelope the reasoning engine expects.
type enginePayload struct {
	ClassMethod string         `json:"class_method"`
	Input       map[string]any `json:"input"`
}

// EngineClient talks to the hosted reasoning engine. It owns no state
// beyond its configuration; every call acquires a fresh bearer token from
// the injected provider.
type EngineClient struct {
	baseURL string
	tokens  TokenProvider
	client  *http.Client
	logger  *logrus.Logger
}

// NewEngineClient builds a client for the configured reasoning engine.
// The http.Client is injected so tests can point the client at a local
// server; pass nil to use http.DefaultClient.
func NewEngineClient(config *Config, tokens TokenProvider, client *http.Client, logger *logrus.Logger) *EngineClient {
	if client == nil {
		client = http.DefaultClient
	}
	return &EngineClient{
		baseURL: config.EngineBaseURL(),
		tokens:  tokens,
		client:  client,
		logger:  logger,
	}
}

// StreamQuery sends one chat turn upstream and returns the live response
// body. The body is a newline-delimited JSON event stream; the caller owns
// closing it.
func (e *EngineClient) StreamQuery(ctx context.Context, userID, sessionID, message string) (io.ReadCloser, error) {
	payload := enginePayload{
		ClassMethod: methodStreamQuery,
		Input: map[string]any{
			"user_id":    userID,
			"session_id": sessionID,
			"message":    message,
		},
	}

	resp, err := e.post(ctx, e.baseURL+":streamQuery", methodStreamQuery, payload)
	if err != nil {
		return nil, err
	}
	return resp.Body, nil
}

// ListSessions queries the sessions known upstream for one user and
// returns the raw passthrough payload.
func (e *EngineClient) ListSessions(ctx context.Context, userID string) (json.RawMessage, error) {
	payload := enginePayload{
		ClassMethod: methodListSessions,
		Input: map[string]any{
			"user_id": userID,
		},
	}
	return e.query(ctx, methodListSessions, payload)
}

// GetSession fetches the full event history of one session and returns the
// raw passthrough payload.
func (e *EngineClient) GetSession(ctx context.Context, userID, sessionID string) (json.RawMessage, error) {
	payload := enginePayload{
		ClassMethod: methodGetSession,
		Input: map[string]any{
			"user_id":    userID,
			"session_id": sessionID,
		},
	}
	return e.query(ctx, methodGetSession, payload)
}

// query performs a buffered :query call and returns the response body.
func (e *EngineClient) query(ctx context.Context, operation string, payload enginePayload) (json.RawMessage, error) {
	resp, err := e.post(ctx, e.baseURL+":query", operation, payload)
	if err != nil {
		return nil, err
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, &UpstreamError{Operation: operation, Err: err}
	}
	return body, nil
}

// post sends one authenticated request upstream and verifies the status.
// The response body is left open for the caller.
func (e *EngineClient) post(ctx context.Context, url, operation string, payload enginePayload) (*http.Response, error) {
	token, err := e.tokens.AccessToken(ctx)
	if err != nil {
		return nil, err
	}

	body, err := json.Marshal(payload)
	if err != nil {
		return nil, &UpstreamError{Operation: operation, Err: err}
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, url, bytes.NewReader(body))
	if err != nil {
		return nil, &UpstreamError{Operation: operation, Err: err}
	}
	req.Header.Set("Authorization", "Bearer "+token)
	req.Header.Set("Content-Type", "application/json")

	resp, err := e.client.Do(req)
	if err != nil {
		return nil, &UpstreamError{Operation: operation, Err: err}
	}

	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		detail, _ := io.ReadAll(io.LimitReader(resp.Body, 2048))
		resp.Body.Close()
		e.logger.WithFields(logrus.Fields{
			"operation": operation,
			"status":    resp.StatusCode,
			"detail":    string(detail),
		}).Error("Upstream request rejected")
		return nil, &UpstreamError{
			Operation: operation,
			Status:    resp.StatusCode,
			Err:       fmt.Errorf("unexpected status %d", resp.StatusCode),
		}
	}

	return resp, nil
}
