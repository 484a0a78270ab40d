package widget

import (
	"context"
	"errors"
	"sync"

	"github.com/google/uuid"
	"github.com/sirupsen/logrus"
)

// welcomeMessage greets a shopper with no replayable history. Static: no
// network call is made to produce it.
const welcomeMessage = "👋 Hi there! How can I help you today?"

// failureMessage is the generic inline error shown when a turn or
// bootstrap step fails. Never technical, never fatal: the widget stays
// usable.
const failureMessage = "Sorry, I couldn't process your request at the moment. Please try again later."

// ErrTurnInFlight is returned when a send is attempted while a prior
// turn's response has not completed. The UI disables input for the
// duration of a turn, so hitting this means the adapter let a send slip
// through.
var ErrTurnInFlight = errors.New("a turn is already in flight")

// CartProvider supplies the storefront cart reference, creating the cart
// lazily when none exists yet.
type CartProvider interface {
	EnsureCart(ctx context.Context) (string, error)
}

// Conversation drives the chat widget lifecycle: first-use bootstrap,
// turn submission, and suggestion clicks. At most one turn is in flight
// at a time.
type Conversation struct {
	client *Client
	carts  CartProvider
	state  *State
	interp *Interpreter
	logger *logrus.Logger

	mu       sync.Mutex
	inFlight bool
}

// NewConversation wires the conversation driver. carts may be nil when no
// storefront cart integration is available (cart context is then omitted
// from turns).
func NewConversation(client *Client, carts CartProvider, state *State, logger *logrus.Logger) *Conversation {
	return &Conversation{
		client: client,
		carts:  carts,
		state:  state,
		interp: NewInterpreter(state, logger),
		logger: logger,
	}
}

// Interpreter exposes the conversation's interpreter, shared with the
// advisor task so suggestion group ids stay globally ordered.
func (c *Conversation) Interpreter() *Interpreter {
	return c.interp
}

// Bootstrap runs the first-use state machine and returns the effects to
// replay into the UI:
//
//	NoUser                → mint identity, static welcome, no history call
//	UserKnown, NoSession  → resolve latest upstream session; none → welcome
//	UserKnown, SessionKnown → fetch history and replay it in order
//
// Any network failure surfaces as an inline error effect; the widget
// remains usable for future turns. Every path ends with TurnDone so input
// is enabled.
func (c *Conversation) Bootstrap(ctx context.Context) []Effect {
	c.ensureCart(ctx)

	userID := c.state.UserID()
	if userID == "" {
		userID = "user-" + uuid.NewString()
		c.state.SetUserID(userID)
		c.logger.WithField("userID", userID).Info("Generated new user identity")
		return []Effect{RenderMessage{Role: "model", Text: welcomeMessage}, TurnDone{}}
	}

	sessionID := c.state.SessionID()
	if sessionID == "" {
		latest, err := c.client.LatestSessionID(ctx, userID)
		if err != nil {
			c.logger.WithError(err).Error("Latest-session lookup failed during bootstrap")
			return []Effect{RenderError{Text: failureMessage}, TurnDone{}}
		}
		if latest == "" {
			// Identity is reused; only the session is fresh.
			return []Effect{RenderMessage{Role: "model", Text: welcomeMessage}, TurnDone{}}
		}
		sessionID = latest
		c.state.SetSessionID(sessionID)
	}

	return c.replayHistory(ctx, userID, sessionID)
}

// replayHistory fetches the session's events and runs each through the
// interpreter in original order. Suggestion groups render as they did
// live; only the most recently rendered group stays active, which the
// activation semantics of RenderSuggestions already guarantee.
func (c *Conversation) replayHistory(ctx context.Context, userID, sessionID string) []Effect {
	events, err := c.client.History(ctx, userID, sessionID)
	if err != nil {
		c.logger.WithError(err).WithField("sessionID", sessionID).Error("History fetch failed during bootstrap")
		return []Effect{RenderError{Text: failureMessage}, TurnDone{}}
	}

	var effects []Effect
	for _, event := range events {
		effects = append(effects, c.interp.Interpret(event)...)
	}

	c.logger.WithFields(logrus.Fields{
		"sessionID":  sessionID,
		"eventCount": len(events),
	}).Info("Replayed session history")

	return append(effects, TurnDone{})
}

// Send submits one user turn. Sending deactivates all prior suggestion
// groups (free text and suggestion clicks behave identically). The
// returned effects start with the user's own bubble and end with
// TurnDone; on failure the error bubble replaces the response but
// TurnDone still fires, so input never stays disabled.
func (c *Conversation) Send(ctx context.Context, message string) ([]Effect, error) {
	c.mu.Lock()
	if c.inFlight {
		c.mu.Unlock()
		return nil, ErrTurnInFlight
	}
	c.inFlight = true
	c.mu.Unlock()

	defer func() {
		c.mu.Lock()
		c.inFlight = false
		c.mu.Unlock()
	}()

	effects := []Effect{RenderMessage{Role: "user", Text: message}}

	userID := c.state.UserID()
	sessionID := c.resolveSession(ctx, userID)

	events, err := c.client.SendMessage(ctx, userID, sessionID, c.state.CartID(), message)
	if err != nil {
		c.logger.WithError(err).Error("Send-message turn failed")
		return append(effects, RenderError{Text: failureMessage}, TurnDone{}), nil
	}

	for _, event := range events {
		effects = append(effects, c.interp.Interpret(event)...)
	}

	// First turn of a fresh session: the upstream created the session
	// implicitly, so learn its id for the next turn.
	if sessionID == "" {
		c.adoptCreatedSession(ctx, userID)
	}

	return append(effects, TurnDone{}), nil
}

// resolveSession returns the session to send on: the stored one, else the
// latest resumable upstream session (persisted on success), else "" to
// let the upstream create a fresh session on this turn.
func (c *Conversation) resolveSession(ctx context.Context, userID string) string {
	if sessionID := c.state.SessionID(); sessionID != "" {
		return sessionID
	}

	latest, err := c.client.LatestSessionID(ctx, userID)
	if err != nil {
		c.logger.WithError(err).Warn("Latest-session lookup failed, sending without session")
		return ""
	}
	if latest != "" {
		c.state.SetSessionID(latest)
	}
	return latest
}

// adoptCreatedSession records the session the upstream minted for the
// first turn. Best effort: a failure just means the next turn resolves it
// again.
func (c *Conversation) adoptCreatedSession(ctx context.Context, userID string) {
	latest, err := c.client.LatestSessionID(ctx, userID)
	if err != nil || latest == "" {
		return
	}
	c.state.SetSessionID(latest)
	c.logger.WithField("sessionID", latest).Info("Adopted upstream-created session")
}

// InFlight reports whether a turn is currently being processed. The UI
// adapter keeps input and send affordances disabled while this is true.
func (c *Conversation) InFlight() bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.inFlight
}

// ensureCart resolves the cart reference before any turn can mention cart
// context, creating the cart lazily through the storefront. Failure is
// soft: the turn still goes out, just without cart context.
func (c *Conversation) ensureCart(ctx context.Context) {
	if c.carts == nil || c.state.CartID() != "" {
		return
	}

	cartID, err := c.carts.EnsureCart(ctx)
	if err != nil {
		c.logger.WithError(err).Warn("Cart resolution failed, continuing without cart context")
		return
	}
	if cartID != "" {
		c.state.SetCartID(cartID)
	}
}
