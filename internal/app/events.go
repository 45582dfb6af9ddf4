package app

import (
	"context"
	"strings"

	"wabot/internal/bridge"
	logx "wabot/pkg/logx"
)

const sleepReply = "I'm currently unavailable and will get back to you later."

// handleEvent is the single consumer of worker events.
func (a *App) handleEvent(ctx context.Context, event string, data map[string]any) {
	switch event {
	case "message_received":
		a.handleMessage(ctx, bridge.MessageFromEvent(data))
	case "qr":
		a.log.Info("worker requests QR scan to authenticate")
	case "disconnected":
		reason, _ := data["reason"].(string)
		a.log.Warn("worker session disconnected", logx.String("reason", reason))
	case "authenticated":
		a.log.Info("worker session authenticated")
	default:
		a.log.Debug("unhandled worker event", logx.String("event", event))
	}
}

// handleMessage runs the incoming pipeline: echo guard, archive, admin gate,
// sleep mode, then command or agent handling.
func (a *App) handleMessage(ctx context.Context, m bridge.Message) {
	if m.ID == "" && m.Body == "" {
		return
	}
	// Echo guard: skip the bot's own output, recognized by a tracked send id
	// or the outbound signature. An unsigned self-message is the owner typing
	// a note to self and continues through the pipeline.
	if a.state.wasSent(m.ID) || strings.HasSuffix(m.Body, botSignature) ||
		strings.HasSuffix(strings.TrimSpace(m.Body), "[BOT]") {
		return
	}

	if err := a.idx.Record(ctx, m); err != nil {
		a.log.Warn("indexing incoming message failed", logx.Err(err))
	}

	sender := m.From
	if m.IsGroup && m.Author != "" {
		sender = m.Author
	}

	// Self-messages are always authorized, regardless of the allowlist.
	if !m.FromMe && !a.state.isAdmin(sender) {
		a.log.Debug("message from non-admin ignored", logx.String("from", sender))
		return
	}

	// Sleep gate, checked after authorization: each authorized sender gets
	// the auto-reply once per nap, then silence. The owner's own messages
	// pass through so /sleep off still works.
	if !m.FromMe {
		if sleeping, notify := a.state.sleepNotify(sender); sleeping {
			if notify && !m.IsGroup {
				if _, err := a.sendText(ctx, sender, sleepReply); err != nil {
					a.log.Warn("sleep auto-reply failed", logx.Err(err))
				}
			}
			return
		}
	}

	body := strings.TrimSpace(m.Body)
	if body == "" {
		return
	}

	replyTo := sender
	if m.FromMe && m.ChatID != "" {
		replyTo = m.ChatID
	}

	var reply string
	if strings.HasPrefix(body, "/") {
		reply = a.handleCommand(ctx, sender, body)
	} else {
		reply = a.handleChat(ctx, sender, body)
	}
	if reply == "" {
		return
	}
	if _, err := a.sendText(ctx, replyTo, reply); err != nil {
		a.log.Error("sending reply failed",
			logx.String("to", replyTo), logx.Err(err))
	}
}

// handleChat routes free-form admin text to the agent.
func (a *App) handleChat(ctx context.Context, sender, text string) string {
	ag := a.agent
	if ag == nil {
		return "The assistant is disabled. Use /help for direct commands."
	}
	reply, err := ag.Respond(ctx, normalizeNumber(sender), text)
	if err != nil {
		a.log.Error("agent reply failed", logx.Err(err))
		return "Sorry, I couldn't process that right now."
	}
	return reply
}
