// Package agent runs the language-model collaborator: it keeps per-user
// conversation history, drives the tool-call loop against a completion
// provider, and exposes one-shot summarization.
package agent

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"
	"sync"

	logx "wabot/pkg/logx"
)

const systemPrompt = `You are a personal WhatsApp assistant. You can send and
schedule messages, search the chat archive, summarize conversations, and
manage scheduled tasks through the tools provided. Be brief; replies are read
on a phone. Use a tool whenever the request maps to one instead of describing
what you would do. Never invent phone numbers; ask if one is missing.`

// Config tunes the agent. Zero fields take defaults.
type Config struct {
	Model         string
	MaxIterations int // tool-call rounds per request (default 8)
	HistorySize   int // retained turns per user (default 40)
}

func (c Config) withDefaults() Config {
	if c.MaxIterations <= 0 {
		c.MaxIterations = 8
	}
	if c.HistorySize <= 0 {
		c.HistorySize = 40
	}
	return c
}

type Agent struct {
	cfg      Config
	provider Provider
	tools    *Registry
	log      logx.Logger

	hmu       sync.Mutex
	histories map[string][]ChatMessage
}

func New(cfg Config, provider Provider, tools *Registry, log logx.Logger) *Agent {
	if log.IsZero() {
		log = logx.Nop()
	}
	if tools == nil {
		tools = NewRegistry()
	}
	return &Agent{
		cfg:       cfg.withDefaults(),
		provider:  provider,
		tools:     tools,
		log:       log,
		histories: map[string][]ChatMessage{},
	}
}

// Respond produces the reply to one user message, running tool calls as the
// model requests them, bounded by MaxIterations rounds.
func (a *Agent) Respond(ctx context.Context, userID, text string) (string, error) {
	messages := []ChatMessage{{Role: "system", Content: systemPrompt}}
	messages = append(messages, a.snapshot(userID)...)
	messages = append(messages, ChatMessage{Role: "user", Content: text})

	defs := a.tools.Defs()

	for i := 0; i < a.cfg.MaxIterations; i++ {
		reply, err := a.provider.Complete(ctx, CompletionRequest{
			Model:    a.cfg.Model,
			Messages: messages,
			Tools:    defs,
		})
		if err != nil {
			return "", err
		}

		if len(reply.ToolCalls) == 0 {
			a.remember(userID, text, reply.Content)
			return reply.Content, nil
		}

		messages = append(messages, reply)
		for _, call := range reply.ToolCalls {
			messages = append(messages, a.runTool(ctx, call))
		}
	}

	a.log.Warn("tool loop hit iteration cap",
		logx.String("user", userID),
		logx.Int("iterations", a.cfg.MaxIterations))
	return "", fmt.Errorf("no final reply after %d tool rounds", a.cfg.MaxIterations)
}

func (a *Agent) runTool(ctx context.Context, call ToolCall) ChatMessage {
	var args map[string]any
	if s := strings.TrimSpace(call.Function.Arguments); s != "" {
		if err := json.Unmarshal([]byte(s), &args); err != nil {
			a.log.Warn("unparseable tool arguments",
				logx.String("tool", call.Function.Name), logx.Err(err))
			args = nil
		}
	}

	a.log.Debug("tool call",
		logx.String("tool", call.Function.Name),
		logx.Any("args", args))
	result := a.tools.Invoke(ctx, call.Function.Name, args)

	raw, err := json.Marshal(result)
	if err != nil {
		raw = []byte(`{"error":"unencodable tool result"}`)
	}
	return ChatMessage{
		Role:       "tool",
		ToolCallID: call.ID,
		Name:       call.Function.Name,
		Content:    string(raw),
	}
}

// Summarize produces a one-shot summary of the given transcript. It does not
// touch conversation history or tools.
func (a *Agent) Summarize(ctx context.Context, transcript string) (string, error) {
	reply, err := a.provider.Complete(ctx, CompletionRequest{
		Model: a.cfg.Model,
		Messages: []ChatMessage{
			{Role: "system", Content: "Summarize the following chat transcript in a few short bullet points. Keep names and concrete facts."},
			{Role: "user", Content: transcript},
		},
	})
	if err != nil {
		return "", err
	}
	return reply.Content, nil
}

// ClearHistory forgets a user's conversation. Reports whether there was any.
func (a *Agent) ClearHistory(userID string) bool {
	a.hmu.Lock()
	defer a.hmu.Unlock()
	_, ok := a.histories[userID]
	delete(a.histories, userID)
	return ok
}

func (a *Agent) snapshot(userID string) []ChatMessage {
	a.hmu.Lock()
	defer a.hmu.Unlock()
	h := a.histories[userID]
	out := make([]ChatMessage, len(h))
	copy(out, h)
	return out
}

// remember appends the completed exchange, keeping the newest HistorySize
// turns. Tool traffic is not retained, only what was said.
func (a *Agent) remember(userID, userText, reply string) {
	a.hmu.Lock()
	defer a.hmu.Unlock()
	h := append(a.histories[userID],
		ChatMessage{Role: "user", Content: userText},
		ChatMessage{Role: "assistant", Content: reply},
	)
	if over := len(h) - a.cfg.HistorySize; over > 0 {
		h = h[over:]
	}
	a.histories[userID] = h
}
