// Package handlers provides the built-in intent handlers: timer, clock, and
// the conversation fallback.
package handlers

import (
	"context"
	"errors"
	"fmt"
	"strconv"
	"strings"
	"time"

	"github.com/MrWong99/aria/internal/action"
	"github.com/MrWong99/aria/internal/conversation"
	"github.com/MrWong99/aria/internal/intent"
	"github.com/MrWong99/aria/pkg/types"
)

// wordNumbers maps spelled-out counts the NLU passes through verbatim.
var wordNumbers = map[string]int{
	"one": 1, "two": 2, "three": 3, "four": 4, "five": 5,
	"six": 6, "seven": 7, "eight": 8, "nine": 9, "ten": 10,
	"fifteen": 15, "twenty": 20, "thirty": 30, "sixty": 60, "ninety": 90,
}

// Timer serves timer.set and timer.cancel by spawning background actions in
// the "timer" domain. The request returns immediately; the countdown runs in
// the coordinator.
type Timer struct {
	actions *action.Coordinator

	// Fired is called when a timer elapses, with the session and the label
	// the timer was set with. Wired to the announcement path by cmd/aria;
	// nil is fine in tests.
	Fired func(session *conversation.Context, label string)
}

// NewTimer creates the timer handler on top of the action coordinator.
func NewTimer(actions *action.Coordinator) *Timer {
	return &Timer{actions: actions}
}

var _ intent.Handler = (*Timer)(nil)

func (t *Timer) Name() string        { return "timer" }
func (t *Timer) Patterns() []string  { return []string{"timer.set", "timer.cancel", "timer.query"} }
func (t *Timer) Languages() []string { return nil }

func (t *Timer) Handle(ctx context.Context, in types.Intent, session *conversation.Context) (types.IntentResult, error) {
	switch in.Name {
	case "timer.set":
		return t.set(in, session)
	case "timer.cancel":
		return t.cancel(session)
	case "timer.query":
		return t.query(session), nil
	default:
		return types.IntentResult{}, fmt.Errorf("timer: unexpected intent %q", in.Name)
	}
}

func (t *Timer) set(in types.Intent, session *conversation.Context) (types.IntentResult, error) {
	d, err := durationFromSlots(in.Slots)
	if err != nil {
		return types.IntentResult{
			Text:        "For how long should I set the timer?",
			Success:     false,
			Confidence:  in.Confidence,
			ShouldSpeak: true,
			Error:       "MissingSlot",
			Metadata:    map[string]any{"error_kind": "MissingSlot", "slot": "duration"},
		}, nil
	}

	label := in.Slots["label"]
	id, err := t.actions.Start(session, "timer", "timer.set", func(actx context.Context) error {
		select {
		case <-actx.Done():
			return actx.Err()
		case <-time.After(d):
		}
		if t.Fired != nil {
			t.Fired(session, label)
		}
		return nil
	})
	if errors.Is(err, action.ErrDomainBusy) {
		return types.IntentResult{
			Text:        "A timer is already running. Cancel it first.",
			Success:     false,
			Confidence:  in.Confidence,
			ShouldSpeak: true,
			Error:       "DomainBusy",
			Metadata:    map[string]any{"error_kind": "DomainBusy", "domain": "timer"},
		}, nil
	}
	if err != nil {
		return types.IntentResult{}, fmt.Errorf("timer: start action: %w", err)
	}

	session.SetHandlerValue("timer", "last_duration", d.String())
	return types.IntentResult{
		Text:        fmt.Sprintf("Timer set for %s.", speakDuration(d)),
		Success:     true,
		Confidence:  in.Confidence,
		ShouldSpeak: true,
		Metadata:    map[string]any{"action_id": id, "duration": d.String()},
	}, nil
}

func (t *Timer) cancel(session *conversation.Context) (types.IntentResult, error) {
	if !t.actions.CancelDomain(session, "timer") {
		return types.IntentResult{
			Text:        "There is no timer running.",
			Success:     false,
			ShouldSpeak: true,
			Error:       "NoActiveAction",
			Metadata:    map[string]any{"error_kind": "NoActiveAction", "domain": "timer"},
		}, nil
	}
	return types.IntentResult{
		Text:        "Timer cancelled.",
		Success:     true,
		ShouldSpeak: true,
	}, nil
}

func (t *Timer) query(session *conversation.Context) types.IntentResult {
	rec, ok := session.ActiveAction("timer")
	if !ok {
		return types.IntentResult{
			Text:        "There is no timer running.",
			Success:     true,
			ShouldSpeak: true,
		}
	}
	elapsed := time.Since(rec.StartedAt).Round(time.Second)
	return types.IntentResult{
		Text:        fmt.Sprintf("A timer has been running for %s.", speakDuration(elapsed)),
		Success:     true,
		ShouldSpeak: true,
		Metadata:    map[string]any{"action_id": rec.ID},
	}
}

// durationFromSlots accepts either a ready-made "duration" slot ("5m") or
// the number/unit pair the keyword NLU extracts ("five" + "minutes").
func durationFromSlots(slots map[string]string) (time.Duration, error) {
	if v := slots["duration"]; v != "" {
		d, err := time.ParseDuration(v)
		if err == nil && d > 0 {
			return d, nil
		}
	}

	number := slots["number"]
	n, err := strconv.Atoi(number)
	if err != nil {
		var ok bool
		n, ok = wordNumbers[strings.ToLower(number)]
		if !ok {
			return 0, fmt.Errorf("timer: no usable duration in slots")
		}
	}
	if n <= 0 {
		return 0, fmt.Errorf("timer: non-positive duration")
	}

	switch strings.ToLower(slots["unit"]) {
	case "second", "seconds":
		return time.Duration(n) * time.Second, nil
	case "minute", "minutes", "":
		return time.Duration(n) * time.Minute, nil
	case "hour", "hours":
		return time.Duration(n) * time.Hour, nil
	default:
		return 0, fmt.Errorf("timer: unknown unit %q", slots["unit"])
	}
}

// speakDuration renders a duration the way TTS should read it.
func speakDuration(d time.Duration) string {
	var parts []string
	if h := int(d.Hours()); h > 0 {
		parts = append(parts, plural(h, "hour"))
	}
	if m := int(d.Minutes()) % 60; m > 0 {
		parts = append(parts, plural(m, "minute"))
	}
	if s := int(d.Seconds()) % 60; s > 0 || len(parts) == 0 {
		parts = append(parts, plural(s, "second"))
	}
	return strings.Join(parts, " and ")
}

func plural(n int, unit string) string {
	if n == 1 {
		return fmt.Sprintf("1 %s", unit)
	}
	return fmt.Sprintf("%d %ss", n, unit)
}
