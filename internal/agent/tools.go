package agent

import (
	"context"
	"fmt"
	"sort"
	"sync"
)

// The closed set of tools the model may call. Registering anything else is a
// programming error surfaced at wiring time.
const (
	ToolSendMessage    = "send_message"
	ToolSchedule       = "schedule_message"
	ToolSearch         = "search_messages"
	ToolSummarizeChat  = "summarize_chat"
	ToolListScheduled  = "list_scheduled_tasks"
	ToolCancelTask     = "cancel_scheduled_task"
	ToolGetChats       = "get_chats"
	ToolToggleSleep    = "toggle_sleep_mode"
)

// Handler executes one tool call. Failures come back as errors; the registry
// folds them into an {"error": ...} result so the model always receives a
// well-formed reply.
type Handler func(ctx context.Context, args map[string]any) (map[string]any, error)

// Registry maps the closed tool set to handlers.
type Registry struct {
	mu       sync.RWMutex
	handlers map[string]Handler
}

func NewRegistry() *Registry {
	return &Registry{handlers: map[string]Handler{}}
}

func (r *Registry) Register(name string, h Handler) error {
	if _, ok := toolDefs[name]; !ok {
		return fmt.Errorf("unknown tool name %q", name)
	}
	if h == nil {
		return fmt.Errorf("nil handler for tool %q", name)
	}
	r.mu.Lock()
	r.handlers[name] = h
	r.mu.Unlock()
	return nil
}

// Invoke runs a tool and always returns a result map. Unknown names and
// handler panics become {"error": ...} results rather than failures, so one
// bad call never aborts the conversation.
func (r *Registry) Invoke(ctx context.Context, name string, args map[string]any) (result map[string]any) {
	defer func() {
		if rec := recover(); rec != nil {
			result = map[string]any{"error": fmt.Sprintf("tool %s panicked: %v", name, rec)}
		}
	}()

	r.mu.RLock()
	h, ok := r.handlers[name]
	r.mu.RUnlock()
	if !ok {
		return map[string]any{"error": "unknown tool: " + name}
	}

	out, err := h(ctx, args)
	if err != nil {
		return map[string]any{"error": err.Error()}
	}
	if out == nil {
		out = map[string]any{"ok": true}
	}
	return out
}

// Defs returns the tool definitions for registered tools only, in stable
// order, ready to advertise to the model.
func (r *Registry) Defs() []ToolDef {
	r.mu.RLock()
	names := make([]string, 0, len(r.handlers))
	for name := range r.handlers {
		names = append(names, name)
	}
	r.mu.RUnlock()
	sort.Strings(names)

	defs := make([]ToolDef, 0, len(names))
	for _, name := range names {
		defs = append(defs, toolDefs[name])
	}
	return defs
}

func obj(props map[string]any, required ...string) map[string]any {
	p := map[string]any{"type": "object", "properties": props}
	if len(required) > 0 {
		p["required"] = required
	}
	return p
}

func str(desc string) map[string]any { return map[string]any{"type": "string", "description": desc} }
func num(desc string) map[string]any { return map[string]any{"type": "integer", "description": desc} }

var toolDefs = map[string]ToolDef{
	ToolSendMessage: {Type: "function", Function: FunctionDef{
		Name:        ToolSendMessage,
		Description: "Send a WhatsApp message to a phone number right now.",
		Parameters: obj(map[string]any{
			"phone_number": str("Recipient phone number with country code, digits only"),
			"message":      str("Message text to send"),
		}, "phone_number", "message"),
	}},
	ToolSchedule: {Type: "function", Function: FunctionDef{
		Name:        ToolSchedule,
		Description: "Schedule a message for later delivery, one-shot or recurring.",
		Parameters: obj(map[string]any{
			"phone_number": str("Recipient phone number with country code, digits only"),
			"message":      str("Message text to deliver"),
			"time":         str("Time of day in 24h HH:MM format"),
			"pattern":      str("Recurrence: once, daily, weekly, monthly, every_N_hours, every_N_minutes or every_N_days"),
			"task_id":      str("Optional id; reusing an id replaces that schedule"),
		}, "phone_number", "message", "time", "pattern"),
	}},
	ToolSearch: {Type: "function", Function: FunctionDef{
		Name:        ToolSearch,
		Description: "Search archived chat messages by text.",
		Parameters: obj(map[string]any{
			"query": str("Text to look for"),
			"limit": num("Maximum results, default 10"),
		}, "query"),
	}},
	ToolSummarizeChat: {Type: "function", Function: FunctionDef{
		Name:        ToolSummarizeChat,
		Description: "Summarize the recent messages of a chat.",
		Parameters: obj(map[string]any{
			"chat_id":    str("Chat id, e.g. 201281835346@c.us"),
			"limit":      num("How many recent messages to cover, default 50"),
			"start_date": str("Optional ISO date lower bound"),
			"end_date":   str("Optional ISO date upper bound"),
		}, "chat_id"),
	}},
	ToolListScheduled: {Type: "function", Function: FunctionDef{
		Name:        ToolListScheduled,
		Description: "List all scheduled messages with their next delivery times.",
		Parameters:  obj(map[string]any{}),
	}},
	ToolCancelTask: {Type: "function", Function: FunctionDef{
		Name:        ToolCancelTask,
		Description: "Cancel a scheduled message by task id.",
		Parameters: obj(map[string]any{
			"task_id": str("Id of the task to cancel"),
		}, "task_id"),
	}},
	ToolGetChats: {Type: "function", Function: FunctionDef{
		Name:        ToolGetChats,
		Description: "List recent WhatsApp chats.",
		Parameters: obj(map[string]any{
			"limit": num("Maximum chats to return, default 20"),
		}),
	}},
	ToolToggleSleep: {Type: "function", Function: FunctionDef{
		Name:        ToolToggleSleep,
		Description: "Turn sleep mode on or off. While sleeping the bot only auto-replies once per sender.",
		Parameters: obj(map[string]any{
			"enabled": map[string]any{"type": "boolean", "description": "true to enable sleep mode"},
		}, "enabled"),
	}},
}
