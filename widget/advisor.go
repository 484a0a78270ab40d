package widget

import (
	"context"
	"sync"
	"time"

	"happyshopper/agent"

	"github.com/sirupsen/logrus"
)

// AdvisorPhase is the lifecycle state of the advisor timer task.
type AdvisorPhase int

const (
	AdvisorIdle AdvisorPhase = iota
	AdvisorArmed
	AdvisorFired
	AdvisorCancelled
)

func (p AdvisorPhase) String() string {
	switch p {
	case AdvisorIdle:
		return "idle"
	case AdvisorArmed:
		return "armed"
	case AdvisorFired:
		return "fired"
	case AdvisorCancelled:
		return "cancelled"
	default:
		return "unknown"
	}
}

// NudgeSource produces one advisor nudge for the current page context.
// Implemented by Client.
type NudgeSource interface {
	AdvisorNudge(ctx context.Context, userID, pageContext string) (*agent.ModelReply, error)
}

// AdvisorTask is the background nudge scheduler: a single explicit timer
// with a small state machine (Idle → Armed → Fired / Cancelled) instead of
// ambient flags mutated from multiple call sites. The task fires at most
// once per arming, and only while the chat window is closed; opening the
// chat cancels the pending nudge.
//
// All state transitions go through the mutex, making the task the single
// writer of its own phase.
type AdvisorTask struct {
	source      NudgeSource
	state       *State
	interp      *Interpreter
	delay       time.Duration
	pageContext string
	emit        func([]Effect)
	logger      *logrus.Logger

	mu    sync.Mutex
	phase AdvisorPhase
	timer *time.Timer
}

// NewAdvisorTask builds an advisor task. emit receives the nudge effects
// when the task fires; it is called from the timer goroutine.
func NewAdvisorTask(source NudgeSource, state *State, interp *Interpreter, delay time.Duration, pageContext string, emit func([]Effect), logger *logrus.Logger) *AdvisorTask {
	return &AdvisorTask{
		source:      source,
		state:       state,
		interp:      interp,
		delay:       delay,
		pageContext: pageContext,
		emit:        emit,
		logger:      logger,
	}
}

// Arm schedules the nudge. Only an idle task arms; arming an armed, fired
// or cancelled task is a no-op.
func (t *AdvisorTask) Arm(ctx context.Context) {
	t.mu.Lock()
	defer t.mu.Unlock()

	if t.phase != AdvisorIdle {
		return
	}
	t.phase = AdvisorArmed
	t.timer = time.AfterFunc(t.delay, func() { t.fire(ctx) })
	t.logger.WithField("delay", t.delay).Debug("Advisor task armed")
}

// Cancel stops a pending nudge. Idempotent: cancelling in any phase is
// safe, and a fired task stays fired.
func (t *AdvisorTask) Cancel() {
	t.mu.Lock()
	defer t.mu.Unlock()

	if t.phase != AdvisorArmed {
		return
	}
	if t.timer != nil {
		t.timer.Stop()
	}
	t.phase = AdvisorCancelled
	t.logger.Debug("Advisor task cancelled")
}

// Phase returns the task's current lifecycle state.
func (t *AdvisorTask) Phase() AdvisorPhase {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.phase
}

// fire runs when the timer elapses. The chat-open flag is checked at fire
// time, not arm time: a shopper who opened the chat in the meantime gets
// no nudge.
func (t *AdvisorTask) fire(ctx context.Context) {
	t.mu.Lock()
	if t.phase != AdvisorArmed {
		t.mu.Unlock()
		return
	}
	if t.state.ChatOpen() {
		t.phase = AdvisorCancelled
		t.mu.Unlock()
		t.logger.Debug("Advisor nudge suppressed, chat window is open")
		return
	}
	t.phase = AdvisorFired
	t.mu.Unlock()

	nudge, err := t.source.AdvisorNudge(ctx, t.state.UserID(), t.pageContext)
	if err != nil {
		t.logger.WithError(err).Warn("Advisor nudge fetch failed")
		return
	}

	effects := []Effect{RenderMessage{Role: "model", Text: nudge.Message}}
	if len(nudge.Suggestions) > 0 {
		effects = append(effects, t.interp.NewSuggestionGroup(nudge.Suggestions))
	}

	t.logger.WithField("suggestionCount", len(nudge.Suggestions)).Info("Advisor nudge fired")
	t.emit(effects)
}
