package widget

import (
	"context"
	"testing"
	"time"

	"happyshopper/agent"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// fakeNudgeSource returns a canned nudge.
type fakeNudgeSource struct {
	reply *agent.ModelReply
	err   error
}

func (f *fakeNudgeSource) AdvisorNudge(ctx context.Context, userID, pageContext string) (*agent.ModelReply, error) {
	return f.reply, f.err
}

func newAdvisorFixture(source NudgeSource, delay time.Duration) (*AdvisorTask, *State, chan []Effect) {
	state := newTestState()
	interp := NewInterpreter(state, testLogger())
	emitted := make(chan []Effect, 1)
	task := NewAdvisorTask(source, state, interp, delay, "product page: Trail Runner", func(effects []Effect) {
		emitted <- effects
	}, testLogger())
	return task, state, emitted
}

func waitForPhase(t *testing.T, task *AdvisorTask, want AdvisorPhase) {
	t.Helper()
	deadline := time.After(2 * time.Second)
	for {
		if task.Phase() == want {
			return
		}
		select {
		case <-deadline:
			t.Fatalf("advisor task never reached phase %s, still %s", want, task.Phase())
		case <-time.After(5 * time.Millisecond):
		}
	}
}

func TestAdvisorTask_FiresWhenChatClosed(t *testing.T) {
	t.Parallel()

	source := &fakeNudgeSource{reply: &agent.ModelReply{
		Message:     "Looking at the Trail Runner?",
		Suggestions: []string{"Tell me more", "Show similar"},
	}}
	task, _, emitted := newAdvisorFixture(source, time.Millisecond)

	task.Arm(context.Background())
	waitForPhase(t, task, AdvisorFired)

	select {
	case effects := <-emitted:
		require.Len(t, effects, 2)
		assert.Equal(t, RenderMessage{Role: "model", Text: "Looking at the Trail Runner?"}, effects[0])
		suggestions := effects[1].(RenderSuggestions)
		assert.Equal(t, []string{"Tell me more", "Show similar"}, suggestions.Group.Suggestions)
	case <-time.After(2 * time.Second):
		t.Fatal("advisor nudge was never emitted")
	}
}

func TestAdvisorTask_SuppressedWhenChatOpen(t *testing.T) {
	t.Parallel()

	source := &fakeNudgeSource{reply: &agent.ModelReply{Message: "nudge"}}
	task, state, emitted := newAdvisorFixture(source, time.Millisecond)
	state.SetChatOpen(true)

	task.Arm(context.Background())
	waitForPhase(t, task, AdvisorCancelled)

	select {
	case <-emitted:
		t.Fatal("nudge emitted despite open chat")
	case <-time.After(50 * time.Millisecond):
	}
}

func TestAdvisorTask_CancelBeforeFire(t *testing.T) {
	t.Parallel()

	source := &fakeNudgeSource{reply: &agent.ModelReply{Message: "nudge"}}
	task, _, emitted := newAdvisorFixture(source, time.Hour)

	task.Arm(context.Background())
	assert.Equal(t, AdvisorArmed, task.Phase())

	task.Cancel()
	assert.Equal(t, AdvisorCancelled, task.Phase())

	// Cancel is idempotent.
	task.Cancel()
	assert.Equal(t, AdvisorCancelled, task.Phase())

	select {
	case <-emitted:
		t.Fatal("cancelled task still emitted")
	case <-time.After(50 * time.Millisecond):
	}
}

func TestAdvisorTask_ArmIsOneShot(t *testing.T) {
	t.Parallel()

	source := &fakeNudgeSource{reply: &agent.ModelReply{Message: "nudge"}}
	task, _, _ := newAdvisorFixture(source, time.Hour)

	task.Arm(context.Background())
	task.Arm(context.Background()) // no-op while armed
	assert.Equal(t, AdvisorArmed, task.Phase())

	task.Cancel()
	task.Arm(context.Background()) // no-op once cancelled
	assert.Equal(t, AdvisorCancelled, task.Phase())
}

func TestAdvisorTask_CancelWhenIdleIsNoop(t *testing.T) {
	t.Parallel()

	task, _, _ := newAdvisorFixture(&fakeNudgeSource{}, time.Hour)
	task.Cancel()
	assert.Equal(t, AdvisorIdle, task.Phase())
}

func TestAdvisorTask_FetchFailureEmitsNothing(t *testing.T) {
	t.Parallel()

	task, _, emitted := newAdvisorFixture(&fakeNudgeSource{err: assert.AnError}, time.Millisecond)

	task.Arm(context.Background())
	waitForPhase(t, task, AdvisorFired)

	select {
	case <-emitted:
		t.Fatal("failed fetch still emitted effects")
	case <-time.After(50 * time.Millisecond):
	}
}

func TestAdvisorPhase_String(t *testing.T) {
	t.Parallel()

	assert.Equal(t, "idle", AdvisorIdle.String())
	assert.Equal(t, "armed", AdvisorArmed.String())
	assert.Equal(t, "fired", AdvisorFired.String())
	assert.Equal(t, "cancelled", AdvisorCancelled.String())
}
