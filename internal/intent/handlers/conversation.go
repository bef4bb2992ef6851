package handlers

import (
	"context"
	"log/slog"

	"github.com/MrWong99/aria/internal/conversation"
	"github.com/MrWong99/aria/internal/intent"
	"github.com/MrWong99/aria/pkg/provider/llm"
	"github.com/MrWong99/aria/pkg/types"
)

// chatHistory bounds how much session history is sent to the model.
const chatHistory = 10

const systemPrompt = "You are Aria, a concise voice assistant. Answer in one " +
	"or two spoken sentences in the user's language."

// Chatter is the slice of the LLM component the fallback handler needs.
type Chatter interface {
	Chat(ctx context.Context, messages []types.Message, opts llm.Options) (string, error)
}

// Conversation is the fallback handler: it claims the whole "conversation"
// domain and serves any intent nothing else wants. With an LLM it chats;
// without one it returns a canned reply.
type Conversation struct {
	chatter Chatter
}

// NewConversation creates the fallback handler. chatter may be nil when the
// llm component is disabled.
func NewConversation(chatter Chatter) *Conversation {
	return &Conversation{chatter: chatter}
}

var _ intent.Handler = (*Conversation)(nil)

func (c *Conversation) Name() string        { return "conversation" }
func (c *Conversation) Patterns() []string  { return []string{"conversation.*"} }
func (c *Conversation) Languages() []string { return nil }

func (c *Conversation) Handle(ctx context.Context, in types.Intent, session *conversation.Context) (types.IntentResult, error) {
	if c.chatter == nil {
		return c.canned(in), nil
	}

	snap := session.Snapshot()
	messages := make([]types.Message, 0, chatHistory+2)
	messages = append(messages, types.Message{Role: "system", Content: systemPrompt})
	history := snap.RecentHistory
	if len(history) > chatHistory {
		history = history[len(history)-chatHistory:]
	}
	for _, e := range history {
		messages = append(messages, types.Message{Role: e.Role, Content: e.Text})
	}
	messages = append(messages, types.Message{Role: "user", Content: in.RawText})

	reply, err := c.chatter.Chat(ctx, messages, llm.Options{Language: in.Language})
	if err != nil {
		slog.Warn("conversation fallback: chat failed, using canned reply", "err", err)
		return c.canned(in), nil
	}
	return types.IntentResult{
		Text:        reply,
		Success:     true,
		Confidence:  in.Confidence,
		ShouldSpeak: true,
		Metadata:    map[string]any{"llm": true},
	}, nil
}

func (c *Conversation) canned(in types.Intent) types.IntentResult {
	return types.IntentResult{
		Text:        "I heard you, but I don't know how to help with that yet.",
		Success:     true,
		Confidence:  in.Confidence,
		ShouldSpeak: true,
		Metadata:    map[string]any{"llm": false},
	}
}
