package app

import (
	"context"
	"fmt"
	"strconv"
	"strings"
	"time"

	"wabot/internal/bridge"
	"wabot/internal/sched"
	logx "wabot/pkg/logx"
)

const helpText = `Commands:
/send <number> <text> - send a message now
/schedule <number> <HH:MM> <pattern> <text> - schedule delivery
  patterns: once, daily, weekly, monthly, every_N_hours, every_N_minutes, every_N_days
/tasks - list scheduled messages
/unschedule <task_id> - cancel a scheduled message
/pause <task_id> | /resume <task_id>
/summarize <chat_id> [count] - summarize recent messages
/search <text> - search the message archive
/index <chat_id> [count] - archive a chat's history
/contact <number> - look up a contact
/stats - archive statistics
/sleep on|off - toggle sleep mode
/clear - forget the assistant conversation
Anything else goes to the assistant.`

// handleCommand executes one slash command and returns the reply text.
func (a *App) handleCommand(ctx context.Context, sender, body string) string {
	fields := strings.Fields(body)
	cmd, args := strings.ToLower(fields[0]), fields[1:]

	a.log.Info("command", logx.String("cmd", cmd), logx.String("from", sender))

	switch cmd {
	case "/help":
		return helpText

	case "/clear":
		if a.agent == nil {
			return "The assistant is disabled."
		}
		if a.agent.ClearHistory(normalizeNumber(sender)) {
			return "Conversation cleared."
		}
		return "Nothing to clear."

	case "/send":
		if len(args) < 2 {
			return "Usage: /send <number> <text>"
		}
		if _, err := a.sendText(ctx, args[0], strings.Join(args[1:], " ")); err != nil {
			return "Send failed: " + err.Error()
		}
		return "Sent."

	case "/schedule":
		return a.cmdSchedule(ctx, args)

	case "/unschedule":
		if len(args) != 1 {
			return "Usage: /unschedule <task_id>"
		}
		ok, err := a.sched.Cancel(ctx, args[0])
		if err != nil {
			return "Cancel failed: " + err.Error()
		}
		if !ok {
			return "No task with id " + args[0]
		}
		return "Cancelled " + args[0]

	case "/tasks":
		return a.cmdTasks(ctx)

	case "/pause":
		if len(args) != 1 {
			return "Usage: /pause <task_id>"
		}
		ok, err := a.sched.Pause(ctx, args[0])
		if err != nil {
			return "Pause failed: " + err.Error()
		}
		if !ok {
			return "No task with id " + args[0]
		}
		return "Paused " + args[0]

	case "/resume":
		if len(args) != 1 {
			return "Usage: /resume <task_id>"
		}
		ok, err := a.sched.Resume(ctx, args[0])
		if err != nil {
			return "Resume failed: " + err.Error()
		}
		if !ok {
			return "No task with id " + args[0] + " (or its time has passed)"
		}
		return "Resumed " + args[0]

	case "/summarize":
		return a.cmdSummarize(ctx, args)

	case "/search":
		return a.cmdSearch(ctx, args)

	case "/index":
		return a.cmdIndex(ctx, args)

	case "/stats":
		st, err := a.idx.Stats(ctx)
		if err != nil {
			return "Stats failed: " + err.Error()
		}
		reply := fmt.Sprintf("Archive: %d messages indexed.", st.Messages)
		if a.state.isSleeping() {
			reply += " Sleep mode is on."
		}
		return reply

	case "/contact":
		return a.cmdContact(ctx, args)

	case "/sleep":
		if len(args) != 1 || (args[0] != "on" && args[0] != "off") {
			return "Usage: /sleep on|off"
		}
		on := args[0] == "on"
		a.state.setSleep(on)
		if on {
			return "Sleep mode on. I'll auto-reply once per sender."
		}
		return "Sleep mode off."

	default:
		return "Unknown command " + cmd + ". Try /help."
	}
}

func (a *App) cmdSchedule(ctx context.Context, args []string) string {
	if !a.cfg.Scheduler.Enabled {
		return "Scheduling is disabled in the configuration."
	}
	if len(args) < 4 {
		return "Usage: /schedule <number> <HH:MM> <pattern> <text>"
	}
	number, at, pattern := args[0], args[1], args[2]
	text := strings.Join(args[3:], " ")

	trig, fellBack, err := sched.ParsePattern(pattern, at, time.Now(), a.sched.Location())
	if err != nil {
		return "Schedule failed: " + err.Error()
	}
	if fellBack {
		a.log.Warn("unknown recurrence pattern, scheduling daily",
			logx.String("pattern", pattern))
	}

	id, err := a.sched.Schedule(ctx, "", number, text, trig)
	if err != nil {
		return "Schedule failed: " + err.Error()
	}
	reply := fmt.Sprintf("Scheduled %s (%s).", id, trig.Describe())
	if fellBack {
		reply += fmt.Sprintf(" Pattern %q was not recognized, using daily.", pattern)
	}
	return reply
}

func (a *App) cmdTasks(ctx context.Context) string {
	tasks, err := a.sched.List(ctx)
	if err != nil {
		return "Listing failed: " + err.Error()
	}
	if len(tasks) == 0 {
		return "No scheduled messages."
	}
	var b strings.Builder
	fmt.Fprintf(&b, "%d scheduled message(s):\n", len(tasks))
	for _, t := range tasks {
		next := "-"
		if !t.NextRun.IsZero() {
			next = t.NextRun.In(a.sched.Location()).Format("Mon 02 Jan 15:04")
		}
		fmt.Fprintf(&b, "%s [%s] -> %s at %s (%s): %s\n",
			t.ID, t.State, t.Target, next, t.Trigger, t.Preview)
	}
	return strings.TrimRight(b.String(), "\n")
}

func (a *App) cmdSummarize(ctx context.Context, args []string) string {
	if a.agent == nil {
		return "The assistant is disabled."
	}
	if len(args) < 1 {
		return "Usage: /summarize <chat_id> [count]"
	}
	limit := 50
	if len(args) > 1 {
		if n, err := strconv.Atoi(args[1]); err == nil && n > 0 {
			limit = n
		}
	}
	msgs, err := a.msgr.GetMessages(ctx, args[0], limit, "", "")
	if err != nil {
		return "Fetching messages failed: " + err.Error()
	}
	if len(msgs) == 0 {
		return "No messages to summarize."
	}
	summary, err := a.agent.Summarize(ctx, transcript(msgs))
	if err != nil {
		return "Summarization failed: " + err.Error()
	}
	return summary
}

func (a *App) cmdContact(ctx context.Context, args []string) string {
	if len(args) != 1 {
		return "Usage: /contact <number>"
	}
	ct, err := a.msgr.GetContact(ctx, args[0])
	if err != nil {
		return "Lookup failed: " + err.Error()
	}
	var b strings.Builder
	fmt.Fprintf(&b, "%s (%s)", ct.Name, chatTarget(args[0]))
	if ct.IsBusiness {
		b.WriteString(" [business]")
	}
	if ct.Status != "" {
		b.WriteString("\n" + ct.Status)
	}
	return b.String()
}

func (a *App) cmdSearch(ctx context.Context, args []string) string {
	if len(args) == 0 {
		return "Usage: /search <text>"
	}
	query := strings.Join(args, " ")
	hits, err := a.idx.Search(ctx, query, 10)
	if err != nil {
		return "Search failed: " + err.Error()
	}
	if len(hits) == 0 {
		return "No matches for " + strconv.Quote(query)
	}
	var b strings.Builder
	fmt.Fprintf(&b, "%d match(es):\n", len(hits))
	for _, h := range hits {
		when := h.At.In(a.sched.Location()).Format("02 Jan 15:04")
		fmt.Fprintf(&b, "[%s] %s: %s\n", when, chatTarget(h.Sender), h.Body)
	}
	return strings.TrimRight(b.String(), "\n")
}

func (a *App) cmdIndex(ctx context.Context, args []string) string {
	if len(args) < 1 {
		return "Usage: /index <chat_id> [count]"
	}
	limit := 200
	if len(args) > 1 {
		if n, err := strconv.Atoi(args[1]); err == nil && n > 0 {
			limit = n
		}
	}
	msgs, err := a.msgr.GetMessages(ctx, args[0], limit, "", "")
	if err != nil {
		return "Fetching history failed: " + err.Error()
	}
	stored, err := a.idx.RecordAll(ctx, msgs)
	if err != nil {
		return fmt.Sprintf("Indexed %d message(s), then failed: %v", stored, err)
	}
	return fmt.Sprintf("Indexed %d message(s) from %s.", stored, args[0])
}

func transcript(msgs []bridge.Message) string {
	var b strings.Builder
	for i := len(msgs) - 1; i >= 0; i-- {
		m := msgs[i]
		who := chatTarget(m.From)
		if m.IsGroup && m.Author != "" {
			who = chatTarget(m.Author)
		}
		fmt.Fprintf(&b, "%s: %s\n", who, m.Body)
	}
	return b.String()
}
