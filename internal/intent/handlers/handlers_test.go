package handlers_test

import (
	"context"
	"errors"
	"strings"
	"testing"
	"time"

	"github.com/MrWong99/aria/internal/action"
	"github.com/MrWong99/aria/internal/config"
	"github.com/MrWong99/aria/internal/conversation"
	"github.com/MrWong99/aria/internal/intent/handlers"
	"github.com/MrWong99/aria/pkg/provider/llm"
	"github.com/MrWong99/aria/pkg/types"
)

func newSession(t *testing.T) *conversation.Context {
	t.Helper()
	s := conversation.NewStore(config.ConversationConfig{}, nil)
	t.Cleanup(func() { s.Close(context.Background()) })
	c, _ := s.GetOrCreate("sess", map[string]string{"language": "en"})
	return c
}

func newCoordinator(t *testing.T) *action.Coordinator {
	t.Helper()
	c := action.NewCoordinator(nil, nil)
	t.Cleanup(func() {
		ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		c.Shutdown(ctx)
	})
	return c
}

func TestTimer_SetSpawnsBackgroundAction(t *testing.T) {
	t.Parallel()
	coord := newCoordinator(t)
	h := handlers.NewTimer(coord)
	session := newSession(t)

	res, err := h.Handle(context.Background(), types.Intent{
		Name:       "timer.set",
		Confidence: 0.9,
		Slots:      map[string]string{"number": "five", "unit": "minutes"},
		Language:   "en",
	}, session)
	if err != nil {
		t.Fatalf("Handle: %v", err)
	}
	if !res.Success {
		t.Fatalf("result = %+v, want success", res)
	}
	if !strings.Contains(res.Text, "5 minutes") {
		t.Errorf("Text = %q, should confirm the duration", res.Text)
	}

	// The action is active immediately after the request returns.
	if _, ok := session.ActiveAction("timer"); !ok {
		t.Error("timer action should be active after timer.set")
	}
	if res.Metadata["duration"] != "5m0s" {
		t.Errorf("metadata duration = %v, want 5m0s", res.Metadata["duration"])
	}
}

func TestTimer_DurationSlotVariants(t *testing.T) {
	t.Parallel()
	cases := []struct {
		name  string
		slots map[string]string
		want  string // substring of the confirmation
	}{
		{"ready-made duration", map[string]string{"duration": "90s"}, "1 minute and 30 seconds"},
		{"digits and unit", map[string]string{"number": "90", "unit": "seconds"}, "1 minute and 30 seconds"},
		{"word number", map[string]string{"number": "ten", "unit": "minutes"}, "10 minutes"},
		{"default unit is minutes", map[string]string{"number": "3"}, "3 minutes"},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			t.Parallel()
			h := handlers.NewTimer(newCoordinator(t))
			res, err := h.Handle(context.Background(), types.Intent{
				Name: "timer.set", Slots: tc.slots,
			}, newSession(t))
			if err != nil {
				t.Fatalf("Handle: %v", err)
			}
			if !res.Success {
				t.Fatalf("result = %+v, want success", res)
			}
			if !strings.Contains(res.Text, tc.want) {
				t.Errorf("Text = %q, want substring %q", res.Text, tc.want)
			}
		})
	}
}

func TestTimer_MissingDurationAsksBack(t *testing.T) {
	t.Parallel()
	h := handlers.NewTimer(newCoordinator(t))
	session := newSession(t)

	res, err := h.Handle(context.Background(), types.Intent{Name: "timer.set"}, session)
	if err != nil {
		t.Fatalf("Handle: %v", err)
	}
	if res.Success {
		t.Error("missing duration should not succeed")
	}
	if res.Error != "MissingSlot" {
		t.Errorf("Error = %q, want MissingSlot", res.Error)
	}
	if _, ok := session.ActiveAction("timer"); ok {
		t.Error("no action should be spawned without a duration")
	}
}

func TestTimer_SecondTimerIsRefused(t *testing.T) {
	t.Parallel()
	h := handlers.NewTimer(newCoordinator(t))
	session := newSession(t)

	set := types.Intent{Name: "timer.set", Slots: map[string]string{"duration": "10m"}}
	if res, err := h.Handle(context.Background(), set, session); err != nil || !res.Success {
		t.Fatalf("first timer: res=%+v err=%v", res, err)
	}

	res, err := h.Handle(context.Background(), set, session)
	if err != nil {
		t.Fatalf("Handle: %v", err)
	}
	if res.Success || res.Error != "DomainBusy" {
		t.Errorf("result = %+v, want a DomainBusy refusal", res)
	}
	// Refusal is not an action failure.
	if got := session.ErrorCount("timer"); got != 0 {
		t.Errorf("ErrorCount = %d, want 0", got)
	}
}

func TestTimer_CancelStopsTheTimer(t *testing.T) {
	t.Parallel()
	h := handlers.NewTimer(newCoordinator(t))
	session := newSession(t)

	set := types.Intent{Name: "timer.set", Slots: map[string]string{"duration": "10m"}}
	if res, err := h.Handle(context.Background(), set, session); err != nil || !res.Success {
		t.Fatalf("set: res=%+v err=%v", res, err)
	}

	res, err := h.Handle(context.Background(), types.Intent{Name: "timer.cancel"}, session)
	if err != nil {
		t.Fatalf("cancel: %v", err)
	}
	if !res.Success {
		t.Fatalf("result = %+v, want success", res)
	}

	deadline := time.After(5 * time.Second)
	for {
		if _, ok := session.ActiveAction("timer"); !ok {
			break
		}
		select {
		case <-deadline:
			t.Fatal("timer action never left the active list")
		case <-time.After(5 * time.Millisecond):
		}
	}

	res, err = h.Handle(context.Background(), types.Intent{Name: "timer.cancel"}, session)
	if err != nil {
		t.Fatalf("second cancel: %v", err)
	}
	if res.Success || res.Error != "NoActiveAction" {
		t.Errorf("result = %+v, want NoActiveAction", res)
	}
}

func TestTimer_FiredCallbackRuns(t *testing.T) {
	t.Parallel()
	h := handlers.NewTimer(newCoordinator(t))
	session := newSession(t)

	fired := make(chan string, 1)
	h.Fired = func(s *conversation.Context, label string) { fired <- label }

	res, err := h.Handle(context.Background(), types.Intent{
		Name:  "timer.set",
		Slots: map[string]string{"duration": "10ms", "label": "tea"},
	}, session)
	if err != nil || !res.Success {
		t.Fatalf("set: res=%+v err=%v", res, err)
	}

	select {
	case label := <-fired:
		if label != "tea" {
			t.Errorf("label = %q, want tea", label)
		}
	case <-time.After(5 * time.Second):
		t.Fatal("Fired callback never ran")
	}
}

func TestClock_AnswersTimeAndDate(t *testing.T) {
	t.Parallel()
	h := handlers.NewClock()
	session := newSession(t)

	res, err := h.Handle(context.Background(), types.Intent{Name: "clock.time", Confidence: 0.8}, session)
	if err != nil {
		t.Fatalf("Handle: %v", err)
	}
	if !res.Success || res.Text == "" {
		t.Errorf("result = %+v, want a non-empty time answer", res)
	}

	res, err = h.Handle(context.Background(), types.Intent{Name: "clock.date"}, session)
	if err != nil {
		t.Fatalf("Handle: %v", err)
	}
	if !strings.Contains(res.Text, "Today is") {
		t.Errorf("Text = %q, want a date answer", res.Text)
	}
}

// fakeChatter is a canned LLM backend.
type fakeChatter struct {
	reply string
	err   error
	seen  []types.Message
}

func (f *fakeChatter) Chat(ctx context.Context, messages []types.Message, opts llm.Options) (string, error) {
	f.seen = messages
	return f.reply, f.err
}

func TestConversation_UsesLLMWhenAvailable(t *testing.T) {
	t.Parallel()
	chatter := &fakeChatter{reply: "The sky is blue because of Rayleigh scattering."}
	h := handlers.NewConversation(chatter)
	session := newSession(t)
	session.AppendHistory(types.ExchangeEntry{Role: "user", Text: "hello"})
	session.AppendHistory(types.ExchangeEntry{Role: "assistant", Text: "hi there"})

	res, err := h.Handle(context.Background(), types.Intent{
		Name: "conversation.general", RawText: "why is the sky blue", Language: "en",
	}, session)
	if err != nil {
		t.Fatalf("Handle: %v", err)
	}
	if !res.Success || res.Text != chatter.reply {
		t.Errorf("result = %+v, want the model reply", res)
	}
	if res.Metadata["llm"] != true {
		t.Errorf("metadata = %v, want llm=true", res.Metadata)
	}

	// System prompt first, history in between, the utterance last.
	if len(chatter.seen) != 4 {
		t.Fatalf("messages = %d, want 4", len(chatter.seen))
	}
	if chatter.seen[0].Role != "system" {
		t.Errorf("first role = %q, want system", chatter.seen[0].Role)
	}
	if last := chatter.seen[len(chatter.seen)-1]; last.Role != "user" || last.Content != "why is the sky blue" {
		t.Errorf("last message = %+v, want the raw utterance", last)
	}
}

func TestConversation_CannedReplyWithoutLLM(t *testing.T) {
	t.Parallel()
	h := handlers.NewConversation(nil)

	res, err := h.Handle(context.Background(), types.Intent{Name: "conversation.general"}, newSession(t))
	if err != nil {
		t.Fatalf("Handle: %v", err)
	}
	if !res.Success || res.Text == "" {
		t.Errorf("result = %+v, want a canned reply", res)
	}
	if res.Metadata["llm"] != false {
		t.Errorf("metadata = %v, want llm=false", res.Metadata)
	}
}

func TestConversation_ChatFailureFallsBackToCanned(t *testing.T) {
	t.Parallel()
	chatter := &fakeChatter{err: errors.New("backend down")}
	h := handlers.NewConversation(chatter)

	res, err := h.Handle(context.Background(), types.Intent{Name: "conversation.general"}, newSession(t))
	if err != nil {
		t.Fatalf("Handle: %v", err)
	}
	if !res.Success {
		t.Error("chat failure should degrade to the canned reply, not fail")
	}
	if res.Metadata["llm"] != false {
		t.Errorf("metadata = %v, want llm=false after fallback", res.Metadata)
	}
}
