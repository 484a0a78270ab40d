package widget

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"

	"happyshopper/agent"

	"github.com/sirupsen/logrus"
)

// Client calls the agent gateway. The http.Client and base URL are
// injected so tests can point it at a local server.
type Client struct {
	baseURL string
	http    *http.Client
	logger  *logrus.Logger
}

// NewClient builds a gateway client. Pass nil to use http.DefaultClient.
func NewClient(baseURL string, httpClient *http.Client, logger *logrus.Logger) *Client {
	if httpClient == nil {
		httpClient = http.DefaultClient
	}
	return &Client{baseURL: baseURL, http: httpClient, logger: logger}
}

// sessionList matches the upstream passthrough payload of
// get-latest-session. Sessions are ordered newest first.
type sessionList struct {
	Output struct {
		Sessions []struct {
			ID string `json:"id"`
		} `json:"sessions"`
	} `json:"output"`
}

// sessionHistory matches the upstream passthrough payload of get-history.
type sessionHistory struct {
	Output struct {
		Events []agent.Event `json:"events"`
	} `json:"output"`
}

// SendMessage relays one chat turn in buffered mode and returns the
// ordered event list.
func (c *Client) SendMessage(ctx context.Context, userID, sessionID, cartID, message string) ([]agent.Event, error) {
	body := map[string]string{
		"message":   message,
		"userId":    userID,
		"sessionId": sessionID,
		"cartId":    cartID,
	}

	var events []agent.Event
	if err := c.postJSON(ctx, "/api/chat/send-message", body, &events); err != nil {
		return nil, err
	}
	return events, nil
}

// StreamMessage relays one chat turn in streaming mode, invoking handle
// for every event as it arrives. Event ordering follows the stream;
// malformed records are skipped by the decoder.
func (c *Client) StreamMessage(ctx context.Context, userID, sessionID, cartID, message string, handle func(agent.Event)) error {
	body := map[string]string{
		"message":   message,
		"userId":    userID,
		"sessionId": sessionID,
		"cartId":    cartID,
	}

	resp, err := c.post(ctx, "/api/chat/send-message?stream=1", body)
	if err != nil {
		return err
	}
	defer resp.Body.Close()

	decoder := agent.NewDecoder(agent.NewSSEFramer(resp.Body), c.logger)
	for {
		event, err := decoder.Next()
		if errors.Is(err, io.EOF) {
			return nil
		}
		if err != nil {
			return fmt.Errorf("stream read failed: %w", err)
		}
		handle(event)
	}
}

// LatestSessionID resolves the most recent upstream session for one user.
// Returns "" with a nil error when the user has no resumable session.
func (c *Client) LatestSessionID(ctx context.Context, userID string) (string, error) {
	var list sessionList
	if err := c.postJSON(ctx, "/api/chat/get-latest-session", map[string]string{"userId": userID}, &list); err != nil {
		return "", err
	}

	if len(list.Output.Sessions) == 0 {
		return "", nil
	}
	return list.Output.Sessions[0].ID, nil
}

// History fetches the full event history of one session for replay, in
// original order.
func (c *Client) History(ctx context.Context, userID, sessionID string) ([]agent.Event, error) {
	var history sessionHistory
	body := map[string]string{"userId": userID, "sessionId": sessionID}
	if err := c.postJSON(ctx, "/api/chat/get-history", body, &history); err != nil {
		return nil, err
	}
	return history.Output.Events, nil
}

// nudgePayload matches the advisor nudge response.
type nudgePayload struct {
	Success     bool     `json:"success"`
	Message     string   `json:"message"`
	Suggestions []string `json:"suggestions"`
}

// AdvisorNudge asks the gateway advisor for one proactive nudge.
func (c *Client) AdvisorNudge(ctx context.Context, userID, pageContext string) (*agent.ModelReply, error) {
	body := map[string]string{"userId": userID, "pageContext": pageContext}

	var payload nudgePayload
	if err := c.postJSON(ctx, "/api/advisor/nudge", body, &payload); err != nil {
		return nil, err
	}
	if !payload.Success {
		return nil, fmt.Errorf("advisor nudge rejected: %s", payload.Message)
	}
	return &agent.ModelReply{Message: payload.Message, Suggestions: payload.Suggestions}, nil
}

// postJSON posts the body and decodes the JSON response into out.
func (c *Client) postJSON(ctx context.Context, path string, body any, out any) error {
	resp, err := c.post(ctx, path, body)
	if err != nil {
		return err
	}
	defer resp.Body.Close()

	if err := json.NewDecoder(resp.Body).Decode(out); err != nil {
		return fmt.Errorf("decode %s response: %w", path, err)
	}
	return nil
}

// post sends one JSON request and verifies the status. The response body
// is left open for the caller.
func (c *Client) post(ctx context.Context, path string, body any) (*http.Response, error) {
	encoded, err := json.Marshal(body)
	if err != nil {
		return nil, fmt.Errorf("encode %s request: %w", path, err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.baseURL+path, bytes.NewReader(encoded))
	if err != nil {
		return nil, fmt.Errorf("build %s request: %w", path, err)
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := c.http.Do(req)
	if err != nil {
		return nil, fmt.Errorf("call %s: %w", path, err)
	}

	if resp.StatusCode != http.StatusOK {
		detail, _ := io.ReadAll(io.LimitReader(resp.Body, 512))
		resp.Body.Close()
		c.logger.WithFields(logrus.Fields{
			"path":   path,
			"status": resp.StatusCode,
			"detail": string(detail),
		}).Error("Gateway request failed")
		return nil, fmt.Errorf("gateway %s returned status %d", path, resp.StatusCode)
	}
	return resp, nil
}
