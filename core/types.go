/*
Package core request/response types for the gateway HTTP surface.

These types are the contract between the storefront widget and the gateway.
The first widget generation used snake_case field names; those are still
accepted and normalized so older theme installs keep working.
*/
package core

// SendMessageRequest is the body of POST /api/chat/send-message.
type SendMessageRequest struct {
	Message   string `json:"message"`
	UserID    string `json:"userId"`
	SessionID string `json:"sessionId"`
	CartID    string `json:"cartId"`

	// Legacy field names from the first widget generation.
	LegacyUserID    string `json:"user_id,omitempty"`
	LegacySessionID string `json:"session_id,omitempty"`
}

// normalize folds the legacy field names into the canonical ones.
func (r *SendMessageRequest) normalize() {
	if r.UserID == "" {
		r.UserID = r.LegacyUserID
	}
	if r.SessionID == "" {
		r.SessionID = r.LegacySessionID
	}
}

// SessionRequest is the body of POST /api/chat/get-latest-session.
type SessionRequest struct {
	UserID       string `json:"userId"`
	LegacyUserID string `json:"user_id,omitempty"`
}

func (r *SessionRequest) normalize() {
	if r.UserID == "" {
		r.UserID = r.LegacyUserID
	}
}

// HistoryRequest is the body of POST /api/chat/get-history.
type HistoryRequest struct {
	UserID    string `json:"userId"`
	SessionID string `json:"sessionId"`

	LegacyUserID    string `json:"user_id,omitempty"`
	LegacySessionID string `json:"session_id,omitempty"`
}

func (r *HistoryRequest) normalize() {
	if r.UserID == "" {
		r.UserID = r.LegacyUserID
	}
	if r.SessionID == "" {
		r.SessionID = r.LegacySessionID
	}
}

// ErrorResponse is the structured failure body for every gateway endpoint.
type ErrorResponse struct {
	Success bool   `json:"success"`
	Message string `json:"message"`
}

// NudgeRequest is the body of POST /api/advisor/nudge. PageContext
// describes what the shopper is currently looking at (page title, product
// names, collection) and drives the advisor's contextual suggestion.
type NudgeRequest struct {
	UserID      string `json:"userId"`
	PageContext string `json:"pageContext"`
}

// NudgeResponse carries one advisor nudge: a short message and the
// follow-up suggestions the shopper can click to open the conversation.
type NudgeResponse struct {
	Success     bool     `json:"success"`
	Message     string   `json:"message"`
	Suggestions []string `json:"suggestions"`
}
