package widget

import (
	"context"
	"io"
	"net/http"
	"net/http/httptest"
	"testing"

	"happyshopper/agent"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestClient_StreamMessage(t *testing.T) {
	t.Parallel()

	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "/api/chat/send-message", r.URL.Path)
		assert.Equal(t, "1", r.URL.Query().Get("stream"))

		w.Header().Set("Content-Type", "text/event-stream")
		io.WriteString(w, "data: {\"author\":\"model\"}\n\n")
		io.WriteString(w, "data: {not json\n\n")
		io.WriteString(w, "data: {\"author\":\"tool\"}\n\n")
	}))
	t.Cleanup(server.Close)

	client := NewClient(server.URL, server.Client(), testLogger())

	var authors []string
	err := client.StreamMessage(context.Background(), "user-1", "session-1", "cart-1", "hi", func(event agent.Event) {
		authors = append(authors, event.Author)
	})
	require.NoError(t, err)

	// The malformed frame is skipped, order preserved.
	assert.Equal(t, []string{"model", "tool"}, authors)
}

func TestClient_LatestSessionID_NoSessions(t *testing.T) {
	t.Parallel()

	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		io.WriteString(w, `{"output":{"sessions":[]}}`)
	}))
	t.Cleanup(server.Close)

	client := NewClient(server.URL, server.Client(), testLogger())
	id, err := client.LatestSessionID(context.Background(), "user-1")
	require.NoError(t, err)
	assert.Empty(t, id)
}

func TestClient_AdvisorNudge(t *testing.T) {
	t.Parallel()

	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "/api/advisor/nudge", r.URL.Path)
		io.WriteString(w, `{"success":true,"message":"Need a hand?","suggestions":["Yes","No"]}`)
	}))
	t.Cleanup(server.Close)

	client := NewClient(server.URL, server.Client(), testLogger())
	nudge, err := client.AdvisorNudge(context.Background(), "user-1", "home page")
	require.NoError(t, err)
	assert.Equal(t, "Need a hand?", nudge.Message)
	assert.Equal(t, []string{"Yes", "No"}, nudge.Suggestions)
}

func TestClient_AdvisorNudge_Rejected(t *testing.T) {
	t.Parallel()

	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		io.WriteString(w, `{"success":false,"message":"missing required field: pageContext"}`)
	}))
	t.Cleanup(server.Close)

	client := NewClient(server.URL, server.Client(), testLogger())
	_, err := client.AdvisorNudge(context.Background(), "user-1", "")
	assert.Error(t, err)
}

func TestClient_GatewayErrorStatus(t *testing.T) {
	t.Parallel()

	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		http.Error(w, `{"success":false,"message":"boom"}`, http.StatusInternalServerError)
	}))
	t.Cleanup(server.Close)

	client := NewClient(server.URL, server.Client(), testLogger())
	_, err := client.SendMessage(context.Background(), "user-1", "session-1", "cart-1", "hi")
	assert.Error(t, err)
}
