package widget

import (
	"strings"
	"sync"

	"happyshopper/agent"

	"github.com/sirupsen/logrus"
)

// Effect is an abstract user-visible consequence of interpreting an agent
// event. The interpreter emits effects in order; a UI adapter consumes
// them and owns all rendering. This keeps the dispatch core free of any
// rendering surface.
type Effect interface {
	isEffect()
}

// RenderMessage displays one chat bubble. Model text is split on newlines
// into stacked bubbles, so one event may produce several of these.
// Products carries the product cards attached to this line by the
// title-match heuristic, in first-match order.
type RenderMessage struct {
	Role     string // "user" or "model"
	Text     string
	Products []agent.Product
}

// SuggestionGroup is an ordered list of clickable follow-up suggestions
// tied to one model turn. Exactly one group is active at a time: rendering
// a new group, clicking any suggestion, or sending free text permanently
// deactivates all prior groups.
type SuggestionGroup struct {
	ID          int
	Suggestions []string
}

// RenderSuggestions displays a new suggestion group. The new group becomes
// the active one; the adapter deactivates every previously rendered group.
type RenderSuggestions struct {
	Group SuggestionGroup
}

// UpsertProducts reports newly seen catalog products. The carried slice is
// the full merged set after deduplication by product id.
type UpsertProducts struct {
	Products []agent.Product
}

// CartChanged signals that a cart tool ran and the cart UI should refresh
// from the storefront.
type CartChanged struct{}

// RenderError displays a generic, non-technical failure message in the
// transcript.
type RenderError struct {
	Text string
}

// TurnDone marks the end of one turn, success or failure: the typing
// indicator is removed and user input re-enabled. Emitted exactly once per
// turn, even when the turn produced zero events.
type TurnDone struct{}

func (RenderMessage) isEffect()     {}
func (RenderSuggestions) isEffect() {}
func (UpsertProducts) isEffect()    {}
func (CartChanged) isEffect()       {}
func (RenderError) isEffect()       {}
func (TurnDone) isEffect()          {}

// Interpreter decodes the semantic kind of each agent event and produces
// effects plus state updates. It owns the suggestion group sequence; the
// product set lives in the injected State.
type Interpreter struct {
	state  *State
	logger *logrus.Logger

	seqMu    sync.Mutex
	groupSeq int
}

// NewInterpreter builds an interpreter over the given state store.
func NewInterpreter(state *State, logger *logrus.Logger) *Interpreter {
	return &Interpreter{state: state, logger: logger}
}

// Interpret dispatches one decoded event. Rules are applied independently
// per content part, so a single event may trigger several effects. Events
// without content produce none.
func (in *Interpreter) Interpret(event agent.Event) []Effect {
	if event.Content == nil {
		return nil
	}

	var effects []Effect
	for _, part := range event.Content.Parts {
		effects = append(effects, in.interpretPart(event.Content.Role, part)...)
	}
	return effects
}

func (in *Interpreter) interpretPart(role string, part agent.Part) []Effect {
	switch {
	case part.Text != "":
		if role == "user" {
			// History replay: unwrap the cart envelope so the shopper
			// sees only what they typed.
			return []Effect{RenderMessage{Role: "user", Text: agent.ExtractUserMessage(part.Text)}}
		}
		return in.renderModelText(part.Text)

	case part.FunctionCall != nil && part.FunctionCall.Name == agent.SetModelResponseTool:
		return in.renderModelReply(part.FunctionCall.Args)

	case part.FunctionResponse != nil && part.FunctionResponse.Name == agent.CatalogSearchTool:
		return in.mergeCatalogResults(part.FunctionResponse)

	case part.FunctionResponse.IsCartTool():
		return []Effect{CartChanged{}}
	}

	return nil
}

// renderModelText splits model text into stacked bubbles on newlines and
// attaches product cards by title match.
func (in *Interpreter) renderModelText(text string) []Effect {
	known := in.state.Products()

	var effects []Effect
	for _, line := range strings.Split(text, "\n") {
		line = strings.TrimSpace(line)
		if line == "" {
			continue
		}
		effects = append(effects, RenderMessage{
			Role:     "model",
			Text:     line,
			Products: matchProducts(line, known),
		})
	}
	return effects
}

// renderModelReply handles the structured "set model response" payload:
// the message renders like plain model text, and a non-empty suggestions
// list becomes a new active suggestion group.
func (in *Interpreter) renderModelReply(args []byte) []Effect {
	reply, ok := agent.ParseModelReply(args)
	if !ok {
		// Degrade to plain-text display of the raw payload.
		in.logger.Warn("Structured model reply was not parsable, degrading to plain text")
		return in.renderModelText(string(args))
	}

	effects := in.renderModelText(reply.Message)
	if len(reply.Suggestions) > 0 {
		effects = append(effects, in.NewSuggestionGroup(reply.Suggestions))
	}
	return effects
}

// NewSuggestionGroup mints the next suggestion group in global order.
// The advisor task shares this sequence so its nudge groups participate
// in the same single-active-group invariant. Safe for concurrent use:
// the advisor timer fires on its own goroutine.
func (in *Interpreter) NewSuggestionGroup(suggestions []string) RenderSuggestions {
	in.seqMu.Lock()
	in.groupSeq++
	id := in.groupSeq
	in.seqMu.Unlock()
	return RenderSuggestions{Group: SuggestionGroup{ID: id, Suggestions: suggestions}}
}

// mergeCatalogResults folds a product search result into the persisted
// set. A malformed payload is logged and skipped; the stream continues.
func (in *Interpreter) mergeCatalogResults(resp *agent.FunctionResponse) []Effect {
	products, err := agent.ParseProducts(resp.Response)
	if err != nil {
		in.logger.WithError(err).Warn("Skipping malformed catalog search payload")
		return nil
	}
	if len(products) == 0 {
		return nil
	}

	merged := in.state.MergeProducts(products)
	return []Effect{UpsertProducts{Products: merged}}
}

// matchProducts scans the known product set for titles appearing verbatim
// in the line. Matches attach in set order; multiple products may attach
// to the same line.
func matchProducts(line string, known []agent.Product) []agent.Product {
	var matched []agent.Product
	for _, product := range known {
		if product.Title != "" && strings.Contains(line, product.Title) {
			matched = append(matched, product)
		}
	}
	return matched
}
