/*
Package agent defines the wire model for chat events produced by the hosted
reasoning engine, together with the stream framing codecs used to decode
them.

The event model mirrors the upstream contract: every streamed unit is an
Event carrying an author and a list of content parts, where each part is
plain text, a function call, or a function response. The package also
provides the resilient parsers for the structured payloads that ride inside
those parts: the "set model response" reply (message plus follow-up
suggestions) and the product catalog search results.

Both the gateway (server side) and the widget core (client side) consume
this package, so the two ends of the relay always agree on the framing and
the event shape.
*/
package agent

import (
	"encoding/json"
	"strings"
)

// Tool names recognized by the event interpreter. These are owned by the
// upstream agent definition; the relay only dispatches on them.
const (
	// SetModelResponseTool is the function call carrying the structured
	// model reply (message + suggestions).
	SetModelResponseTool = "set_model_response"

	// CatalogSearchTool is the function response carrying product search
	// results from the storefront catalog.
	CatalogSearchTool = "search_shop_catalog"

	// cartToolSubstring marks any cart-mutating or cart-reading tool.
	// Matching is by substring: get_cart, update_cart, etc.
	cartToolSubstring = "cart"
)

// Event is one unit of a streamed agent response. Events are ordered within
// a turn and that ordering must be preserved when replayed.
type Event struct {
	Author    string   `json:"author,omitempty"`    // Originating agent or "user"
	Content   *Content `json:"content,omitempty"`   // Message content, may be absent for state-only events
	Timestamp float64  `json:"timestamp,omitempty"` // Upstream event time (epoch seconds)
}

// Content holds the role and the ordered parts of one event.
type Content struct {
	Role  string `json:"role,omitempty"` // "user" or "model"
	Parts []Part `json:"parts,omitempty"`
}

// Part is one content fragment. Exactly one of the fields is expected to be
// set; dispatch rules are applied independently per part.
type Part struct {
	Text             string            `json:"text,omitempty"`
	FunctionCall     *FunctionCall     `json:"function_call,omitempty"`
	FunctionResponse *FunctionResponse `json:"function_response,omitempty"`
}

// FunctionCall represents the agent invoking an external capability.
type FunctionCall struct {
	Name string          `json:"name"`
	Args json.RawMessage `json:"args,omitempty"`
}

// FunctionResponse represents the reported result of a tool invocation.
type FunctionResponse struct {
	Name     string          `json:"name"`
	Response json.RawMessage `json:"response,omitempty"`
}

// IsCartTool reports whether the function response comes from a cart tool.
func (fr *FunctionResponse) IsCartTool() bool {
	return fr != nil && strings.Contains(fr.Name, cartToolSubstring)
}

// ModelReply is the structured "set model response" payload. A reply whose
// structure cannot be parsed degrades to plain-text display; see
// ParseModelReply.
type ModelReply struct {
	Message     string   `json:"message"`
	Suggestions []string `json:"suggestions,omitempty"`
}

// modelReplyEnvelope matches the raw reply before the suggestions shape is
// normalized. Suggestions arrive either as a bare string array or wrapped
// as {"payload": [...]} depending on the agent version.
type modelReplyEnvelope struct {
	Message     string          `json:"message"`
	Suggestions json.RawMessage `json:"suggestions"`
}

type suggestionPayload struct {
	Payload []string `json:"payload"`
}

// ParseModelReply decodes a structured model reply from raw bytes. The raw
// value may be the JSON object itself or a JSON string containing the
// object (the agent sometimes double-encodes its structured output).
//
// Returns the reply and true on success, or nil and false when the payload
// does not carry a usable structured reply, in which case the caller should
// fall back to rendering the raw text.
func ParseModelReply(raw []byte) (*ModelReply, bool) {
	trimmed := strings.TrimSpace(string(raw))
	if trimmed == "" {
		return nil, false
	}

	// Unwrap a double-encoded payload: a JSON string whose contents are
	// the actual reply object.
	if strings.HasPrefix(trimmed, `"`) {
		var inner string
		if err := json.Unmarshal([]byte(trimmed), &inner); err != nil {
			return nil, false
		}
		trimmed = strings.TrimSpace(inner)
	}

	var envelope modelReplyEnvelope
	if err := json.Unmarshal([]byte(trimmed), &envelope); err != nil {
		return nil, false
	}
	if envelope.Message == "" {
		return nil, false
	}

	reply := &ModelReply{Message: envelope.Message}

	if len(envelope.Suggestions) > 0 {
		// Bare array form first, then the {"payload": [...]} wrapper.
		var list []string
		if err := json.Unmarshal(envelope.Suggestions, &list); err == nil {
			reply.Suggestions = list
		} else {
			var wrapped suggestionPayload
			if err := json.Unmarshal(envelope.Suggestions, &wrapped); err == nil {
				reply.Suggestions = wrapped.Payload
			}
		}
	}

	return reply, true
}

// PriceRange is the price spread of a product across its variants.
type PriceRange struct {
	Min      string `json:"min"`
	Max      string `json:"max"`
	Currency string `json:"currency"`
}

// Product is one catalog entry returned by the product search tool.
// Products accumulate across a session into a set keyed by ProductID,
// where the last-seen value wins on a duplicate key.
type Product struct {
	ProductID  string     `json:"product_id"`
	Title      string     `json:"title"`
	ImageURL   string     `json:"image_url,omitempty"`
	PriceRange PriceRange `json:"price_range"`
}

// catalogResult matches the nested envelope of a catalog search function
// response. The canonical path to the product list is
// response.result.content[0].text, where text is a JSON-encoded object
// holding a "products" array.
type catalogResult struct {
	Result struct {
		Content []struct {
			Text string `json:"text"`
		} `json:"content"`
	} `json:"result"`
}

type catalogPayload struct {
	Products []Product `json:"products"`
}

// ParseProducts extracts the product list from a catalog search function
// response. The response nests the actual payload two levels deep as a
// JSON-encoded string; this helper resolves the canonical path and decodes
// it. An empty or structurally unexpected response yields an empty slice
// and a nil error only when nothing was present; malformed JSON is an
// error so callers can log and skip.
func ParseProducts(response json.RawMessage) ([]Product, error) {
	if len(response) == 0 {
		return nil, nil
	}

	var envelope catalogResult
	if err := json.Unmarshal(response, &envelope); err != nil {
		return nil, err
	}
	if len(envelope.Result.Content) == 0 || envelope.Result.Content[0].Text == "" {
		return nil, nil
	}

	var payload catalogPayload
	if err := json.Unmarshal([]byte(envelope.Result.Content[0].Text), &payload); err != nil {
		return nil, err
	}
	return payload.Products, nil
}

// UserTurnMessage composes the flat message string sent upstream for one
// user turn. The upstream query method accepts only a single string, so the
// cart reference is embedded as structured context ahead of the literal
// user text. The format is deterministic and reversible; see
// ExtractUserMessage.
func UserTurnMessage(cartID, userMessage string) string {
	return "cart_id=" + cartID + "\nuser_message=" + userMessage
}

// ExtractUserMessage unwraps the literal user text from a composed turn
// message. Messages that do not carry the envelope are returned unchanged,
// so history replay tolerates both wrapped and plain user events.
func ExtractUserMessage(message string) string {
	if _, after, found := strings.Cut(message, "user_message="); found {
		return strings.TrimSpace(after)
	}
	return message
}
