package app

import (
	"context"
	"fmt"
	"strings"
	"time"

	"wabot/internal/agent"
	"wabot/internal/sched"
	logx "wabot/pkg/logx"
)

// registerTools binds the agent's tool set to the live services. Names are
// fixed by the registry; a failed registration is a wiring bug.
func (a *App) registerTools(reg *agent.Registry) {
	bind := func(name string, h agent.Handler) {
		if err := reg.Register(name, h); err != nil {
			a.log.Error("tool registration failed", logx.String("tool", name), logx.Err(err))
		}
	}

	bind(agent.ToolSendMessage, a.toolSendMessage)
	bind(agent.ToolSchedule, a.toolSchedule)
	bind(agent.ToolSearch, a.toolSearch)
	bind(agent.ToolSummarizeChat, a.toolSummarizeChat)
	bind(agent.ToolListScheduled, a.toolListScheduled)
	bind(agent.ToolCancelTask, a.toolCancelTask)
	bind(agent.ToolGetChats, a.toolGetChats)
	bind(agent.ToolToggleSleep, a.toolToggleSleep)
}

func (a *App) toolSendMessage(ctx context.Context, args map[string]any) (map[string]any, error) {
	number := argString(args, "phone_number")
	text := argString(args, "message")
	if number == "" || text == "" {
		return nil, fmt.Errorf("phone_number and message are required")
	}
	m, err := a.sendText(ctx, number, text)
	if err != nil {
		return nil, err
	}
	return map[string]any{"status": "sent", "message_id": m.ID}, nil
}

func (a *App) toolSchedule(ctx context.Context, args map[string]any) (map[string]any, error) {
	if !a.cfg.Scheduler.Enabled {
		return nil, fmt.Errorf("scheduling is disabled")
	}
	number := argString(args, "phone_number")
	text := argString(args, "message")
	at := argString(args, "time")
	pattern := argString(args, "pattern")
	if number == "" || text == "" || at == "" || pattern == "" {
		return nil, fmt.Errorf("phone_number, message, time and pattern are required")
	}

	trig, fellBack, err := sched.ParsePattern(pattern, at, time.Now(), a.sched.Location())
	if err != nil {
		return nil, err
	}
	if fellBack {
		a.log.Warn("unknown recurrence pattern, scheduling daily",
			logx.String("pattern", pattern))
	}

	id, err := a.sched.Schedule(ctx, argString(args, "task_id"), number, text, trig)
	if err != nil {
		return nil, err
	}
	out := map[string]any{
		"task_id":  id,
		"schedule": trig.Describe(),
	}
	if next, ok := trig.Next(time.Now()); ok {
		out["next_run"] = next.In(a.sched.Location()).Format(time.RFC3339)
	}
	if fellBack {
		out["note"] = fmt.Sprintf("pattern %q not recognized, scheduled daily", pattern)
	}
	return out, nil
}

func (a *App) toolSearch(ctx context.Context, args map[string]any) (map[string]any, error) {
	query := argString(args, "query")
	if query == "" {
		return nil, fmt.Errorf("query is required")
	}
	hits, err := a.idx.Search(ctx, query, argInt(args, "limit", 10))
	if err != nil {
		return nil, err
	}
	results := make([]map[string]any, 0, len(hits))
	for _, h := range hits {
		results = append(results, map[string]any{
			"sender": h.Sender,
			"body":   h.Body,
			"at":     h.At.Format(time.RFC3339),
		})
	}
	return map[string]any{"results": results}, nil
}

func (a *App) toolSummarizeChat(ctx context.Context, args map[string]any) (map[string]any, error) {
	chatID := argString(args, "chat_id")
	if chatID == "" {
		return nil, fmt.Errorf("chat_id is required")
	}
	if a.agent == nil {
		return nil, fmt.Errorf("assistant unavailable")
	}
	msgs, err := a.msgr.GetMessages(ctx, chatID, argInt(args, "limit", 50),
		argString(args, "start_date"), argString(args, "end_date"))
	if err != nil {
		return nil, err
	}
	if len(msgs) == 0 {
		return map[string]any{"summary": "no messages"}, nil
	}
	summary, err := a.agent.Summarize(ctx, transcript(msgs))
	if err != nil {
		return nil, err
	}
	return map[string]any{"summary": summary}, nil
}

func (a *App) toolListScheduled(ctx context.Context, _ map[string]any) (map[string]any, error) {
	tasks, err := a.sched.List(ctx)
	if err != nil {
		return nil, err
	}
	out := make([]map[string]any, 0, len(tasks))
	for _, t := range tasks {
		item := map[string]any{
			"task_id":  t.ID,
			"target":   t.Target,
			"message":  t.Preview,
			"schedule": t.Trigger,
			"state":    t.State,
		}
		if !t.NextRun.IsZero() {
			item["next_run"] = t.NextRun.In(a.sched.Location()).Format(time.RFC3339)
		}
		out = append(out, item)
	}
	return map[string]any{"tasks": out}, nil
}

func (a *App) toolCancelTask(ctx context.Context, args map[string]any) (map[string]any, error) {
	id := argString(args, "task_id")
	if id == "" {
		return nil, fmt.Errorf("task_id is required")
	}
	ok, err := a.sched.Cancel(ctx, id)
	if err != nil {
		return nil, err
	}
	if !ok {
		return nil, fmt.Errorf("no task with id %s", id)
	}
	return map[string]any{"cancelled": id}, nil
}

func (a *App) toolGetChats(ctx context.Context, args map[string]any) (map[string]any, error) {
	chats, err := a.msgr.GetChats(ctx, argInt(args, "limit", 20))
	if err != nil {
		return nil, err
	}
	out := make([]map[string]any, 0, len(chats))
	for _, c := range chats {
		out = append(out, map[string]any{
			"chat_id":  c.ID,
			"name":     c.Name,
			"is_group": c.IsGroup,
			"unread":   c.UnreadCount,
		})
	}
	return map[string]any{"chats": out}, nil
}

func (a *App) toolToggleSleep(_ context.Context, args map[string]any) (map[string]any, error) {
	enabled, ok := args["enabled"].(bool)
	if !ok {
		return nil, fmt.Errorf("enabled (boolean) is required")
	}
	a.state.setSleep(enabled)
	return map[string]any{"sleep_mode": enabled}, nil
}

func argString(args map[string]any, key string) string {
	v, _ := args[key].(string)
	return strings.TrimSpace(v)
}

func argInt(args map[string]any, key string, def int) int {
	switch v := args[key].(type) {
	case float64:
		if v > 0 {
			return int(v)
		}
	case int:
		if v > 0 {
			return v
		}
	case string:
		var n int
		if _, err := fmt.Sscanf(v, "%d", &n); err == nil && n > 0 {
			return n
		}
	}
	return def
}
