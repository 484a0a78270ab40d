package widget

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"testing"

	"happyshopper/agent"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// fakeGateway is a scriptable in-process gateway that counts calls per
// endpoint.
type fakeGateway struct {
	t *testing.T

	mu     sync.Mutex
	calls  map[string]int
	bodies map[string][]map[string]string

	sessions []string      // newest first
	history  []agent.Event // get-history payload
	events   []agent.Event // send-message payload
	failPath string        // path that returns 500
}

func newFakeGateway(t *testing.T) *fakeGateway {
	return &fakeGateway{
		t:      t,
		calls:  make(map[string]int),
		bodies: make(map[string][]map[string]string),
	}
}

func (g *fakeGateway) serve() *httptest.Server {
	server := httptest.NewServer(http.HandlerFunc(g.handle))
	g.t.Cleanup(server.Close)
	return server
}

func (g *fakeGateway) handle(w http.ResponseWriter, r *http.Request) {
	var body map[string]string
	if err := json.NewDecoder(r.Body).Decode(&body); err != nil {
		body = map[string]string{}
	}

	g.mu.Lock()
	g.calls[r.URL.Path]++
	g.bodies[r.URL.Path] = append(g.bodies[r.URL.Path], body)
	failPath := g.failPath
	sessionIDs := append([]string(nil), g.sessions...)
	history := append([]agent.Event(nil), g.history...)
	events := append([]agent.Event(nil), g.events...)
	g.mu.Unlock()

	if r.URL.Path == failPath {
		http.Error(w, `{"success":false,"message":"upstream exploded"}`, http.StatusInternalServerError)
		return
	}

	w.Header().Set("Content-Type", "application/json")
	switch r.URL.Path {
	case "/api/chat/send-message":
		if events == nil {
			events = []agent.Event{}
		}
		json.NewEncoder(w).Encode(events)
	case "/api/chat/get-latest-session":
		sessions := make([]map[string]string, 0, len(sessionIDs))
		for _, id := range sessionIDs {
			sessions = append(sessions, map[string]string{"id": id})
		}
		json.NewEncoder(w).Encode(map[string]any{"output": map[string]any{"sessions": sessions}})
	case "/api/chat/get-history":
		json.NewEncoder(w).Encode(map[string]any{"output": map[string]any{"events": history}})
	default:
		http.NotFound(w, r)
	}
}

func (g *fakeGateway) callCount(path string) int {
	g.mu.Lock()
	defer g.mu.Unlock()
	return g.calls[path]
}

func (g *fakeGateway) lastBody(path string) map[string]string {
	g.mu.Lock()
	defer g.mu.Unlock()
	bodies := g.bodies[path]
	if len(bodies) == 0 {
		return nil
	}
	return bodies[len(bodies)-1]
}

func newTestConversation(t *testing.T, gateway *fakeGateway) (*Conversation, *State) {
	t.Helper()
	server := gateway.serve()
	state := newTestState()
	client := NewClient(server.URL, server.Client(), testLogger())
	return NewConversation(client, nil, state, testLogger()), state
}

func TestBootstrap_NewUser(t *testing.T) {
	t.Parallel()

	gateway := newFakeGateway(t)
	conv, state := newTestConversation(t, gateway)

	effects := conv.Bootstrap(context.Background())

	require.Len(t, effects, 2)
	assert.Equal(t, RenderMessage{Role: "model", Text: welcomeMessage}, effects[0])
	assert.Equal(t, TurnDone{}, effects[1])

	// Identity was minted and persisted.
	assert.True(t, strings.HasPrefix(state.UserID(), "user-"))

	// A brand-new user makes no session or history calls.
	assert.Zero(t, gateway.callCount("/api/chat/get-latest-session"))
	assert.Zero(t, gateway.callCount("/api/chat/get-history"))
}

func TestBootstrap_KnownUserNoSession(t *testing.T) {
	t.Parallel()

	gateway := newFakeGateway(t)
	conv, state := newTestConversation(t, gateway)
	state.SetUserID("user-existing")

	effects := conv.Bootstrap(context.Background())

	require.Len(t, effects, 2)
	assert.Equal(t, RenderMessage{Role: "model", Text: welcomeMessage}, effects[0])
	assert.Equal(t, TurnDone{}, effects[1])

	// Identity is reused, not regenerated.
	assert.Equal(t, "user-existing", state.UserID())
	assert.Equal(t, 1, gateway.callCount("/api/chat/get-latest-session"))
	assert.Zero(t, gateway.callCount("/api/chat/get-history"))
}

func TestBootstrap_KnownUserReplaysHistory(t *testing.T) {
	t.Parallel()

	gateway := newFakeGateway(t)
	gateway.sessions = []string{"session-latest", "session-older"}
	gateway.history = []agent.Event{
		{
			Author: "user",
			Content: &agent.Content{
				Role:  "user",
				Parts: []agent.Part{{Text: agent.UserTurnMessage("cart-1", "any red shoes?")}},
			},
		},
		{
			Author: "happy_shopper",
			Content: &agent.Content{
				Role:  "model",
				Parts: []agent.Part{{Text: "We have a few."}},
			},
		},
	}

	conv, state := newTestConversation(t, gateway)
	state.SetUserID("user-existing")

	effects := conv.Bootstrap(context.Background())

	require.Len(t, effects, 3)
	assert.Equal(t, RenderMessage{Role: "user", Text: "any red shoes?"}, effects[0])
	assert.Equal(t, RenderMessage{Role: "model", Text: "We have a few."}, effects[1])
	assert.Equal(t, TurnDone{}, effects[2])

	// The newest session was adopted and history fetched for it.
	assert.Equal(t, "session-latest", state.SessionID())
	assert.Equal(t, "session-latest", gateway.lastBody("/api/chat/get-history")["sessionId"])
}

func TestBootstrap_SessionLookupFailure(t *testing.T) {
	t.Parallel()

	gateway := newFakeGateway(t)
	gateway.failPath = "/api/chat/get-latest-session"

	conv, state := newTestConversation(t, gateway)
	state.SetUserID("user-existing")

	effects := conv.Bootstrap(context.Background())

	require.Len(t, effects, 2)
	assert.Equal(t, RenderError{Text: failureMessage}, effects[0])
	assert.Equal(t, TurnDone{}, effects[1])
}

func TestBootstrap_HistoryFailure(t *testing.T) {
	t.Parallel()

	gateway := newFakeGateway(t)
	gateway.sessions = []string{"session-1"}
	gateway.failPath = "/api/chat/get-history"

	conv, state := newTestConversation(t, gateway)
	state.SetUserID("user-existing")

	effects := conv.Bootstrap(context.Background())

	require.Len(t, effects, 2)
	assert.Equal(t, RenderError{Text: failureMessage}, effects[0])
	assert.Equal(t, TurnDone{}, effects[1])
}

func TestSend_Success(t *testing.T) {
	t.Parallel()

	gateway := newFakeGateway(t)
	gateway.sessions = []string{"session-1"}
	gateway.events = []agent.Event{
		{
			Author: "happy_shopper",
			Content: &agent.Content{
				Role:  "model",
				Parts: []agent.Part{{Text: "Sure, here you go."}},
			},
		},
	}

	conv, state := newTestConversation(t, gateway)
	state.SetUserID("user-1")
	state.SetCartID("cart-1")

	effects, err := conv.Send(context.Background(), "show me boots")
	require.NoError(t, err)

	require.Len(t, effects, 3)
	assert.Equal(t, RenderMessage{Role: "user", Text: "show me boots"}, effects[0])
	assert.Equal(t, RenderMessage{Role: "model", Text: "Sure, here you go."}, effects[1])
	assert.Equal(t, TurnDone{}, effects[2])

	sent := gateway.lastBody("/api/chat/send-message")
	assert.Equal(t, "show me boots", sent["message"])
	assert.Equal(t, "user-1", sent["userId"])
	assert.Equal(t, "session-1", sent["sessionId"])
	assert.Equal(t, "cart-1", sent["cartId"])
}

func TestSend_AdoptsUpstreamCreatedSession(t *testing.T) {
	t.Parallel()

	gateway := newFakeGateway(t)
	conv, state := newTestConversation(t, gateway)
	state.SetUserID("user-1")

	// First lookup finds nothing; the turn goes out without a session and
	// the post-turn lookup learns the upstream-created id.
	effects, err := conv.Send(context.Background(), "hello")
	require.NoError(t, err)
	require.NotEmpty(t, effects)

	// Two lookups: one pre-send resolve, one post-send adoption. Both saw
	// no sessions, so none was adopted.
	assert.Equal(t, 2, gateway.callCount("/api/chat/get-latest-session"))
	assert.Empty(t, state.SessionID())

	// A session appearing upstream is adopted on the next turn.
	gateway.mu.Lock()
	gateway.sessions = []string{"session-created"}
	gateway.mu.Unlock()

	_, err = conv.Send(context.Background(), "hello again")
	require.NoError(t, err)
	assert.Equal(t, "session-created", state.SessionID())
}

func TestSend_FailureKeepsWidgetUsable(t *testing.T) {
	t.Parallel()

	gateway := newFakeGateway(t)
	gateway.sessions = []string{"session-1"}
	gateway.failPath = "/api/chat/send-message"

	conv, state := newTestConversation(t, gateway)
	state.SetUserID("user-1")

	effects, err := conv.Send(context.Background(), "hello")
	require.NoError(t, err)

	// User bubble first, generic error, then TurnDone so input re-enables.
	require.Len(t, effects, 3)
	assert.Equal(t, RenderMessage{Role: "user", Text: "hello"}, effects[0])
	assert.Equal(t, RenderError{Text: failureMessage}, effects[1])
	assert.Equal(t, TurnDone{}, effects[2])

	assert.False(t, conv.InFlight())
}

func TestSend_RejectsOverlappingTurn(t *testing.T) {
	t.Parallel()

	gateway := newFakeGateway(t)
	conv, state := newTestConversation(t, gateway)
	state.SetUserID("user-1")

	conv.mu.Lock()
	conv.inFlight = true
	conv.mu.Unlock()

	_, err := conv.Send(context.Background(), "hello")
	assert.ErrorIs(t, err, ErrTurnInFlight)
}

func TestSend_ZeroEventTurn(t *testing.T) {
	t.Parallel()

	gateway := newFakeGateway(t)
	gateway.sessions = []string{"session-1"}

	conv, state := newTestConversation(t, gateway)
	state.SetUserID("user-1")

	effects, err := conv.Send(context.Background(), "hello")
	require.NoError(t, err)

	// Even a turn with no response events ends cleanly.
	require.Len(t, effects, 2)
	assert.Equal(t, RenderMessage{Role: "user", Text: "hello"}, effects[0])
	assert.Equal(t, TurnDone{}, effects[1])
}

// fakeCarts is a CartProvider returning a fixed token.
type fakeCarts struct {
	token string
	err   error
	calls int
}

func (f *fakeCarts) EnsureCart(ctx context.Context) (string, error) {
	f.calls++
	return f.token, f.err
}

func TestBootstrap_ResolvesCart(t *testing.T) {
	t.Parallel()

	gateway := newFakeGateway(t)
	server := gateway.serve()
	state := newTestState()
	client := NewClient(server.URL, server.Client(), testLogger())
	carts := &fakeCarts{token: "cart-xyz"}
	conv := NewConversation(client, carts, state, testLogger())

	conv.Bootstrap(context.Background())

	assert.Equal(t, 1, carts.calls)
	assert.Equal(t, "cart-xyz", state.CartID())
}

func TestBootstrap_CartFailureIsSoft(t *testing.T) {
	t.Parallel()

	gateway := newFakeGateway(t)
	server := gateway.serve()
	state := newTestState()
	client := NewClient(server.URL, server.Client(), testLogger())
	carts := &fakeCarts{err: assert.AnError}
	conv := NewConversation(client, carts, state, testLogger())

	effects := conv.Bootstrap(context.Background())

	// Bootstrap proceeds without a cart.
	require.NotEmpty(t, effects)
	assert.Equal(t, TurnDone{}, effects[len(effects)-1])
	assert.Empty(t, state.CartID())
}
