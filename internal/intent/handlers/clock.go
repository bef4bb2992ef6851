package handlers

import (
	"context"
	"fmt"
	"time"

	"github.com/MrWong99/aria/internal/conversation"
	"github.com/MrWong99/aria/internal/intent"
	"github.com/MrWong99/aria/pkg/types"
)

// Clock answers time and date questions from the local clock. No providers,
// no network, so it doubles as the smoke-test handler for text-only setups.
type Clock struct {
	// now is swappable for tests.
	now func() time.Time
}

// NewClock creates the clock handler.
func NewClock() *Clock {
	return &Clock{now: time.Now}
}

var _ intent.Handler = (*Clock)(nil)

func (c *Clock) Name() string        { return "clock" }
func (c *Clock) Patterns() []string  { return []string{"clock.time", "clock.date"} }
func (c *Clock) Languages() []string { return nil }

func (c *Clock) Handle(ctx context.Context, in types.Intent, session *conversation.Context) (types.IntentResult, error) {
	now := c.now()
	var text string
	switch in.Name {
	case "clock.date":
		text = fmt.Sprintf("Today is %s.", now.Format("Monday, January 2"))
	default:
		text = fmt.Sprintf("It is %s.", now.Format("3:04 PM"))
	}
	return types.IntentResult{
		Text:        text,
		Success:     true,
		Confidence:  in.Confidence,
		ShouldSpeak: true,
	}, nil
}
