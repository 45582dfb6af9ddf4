package bridge

import (
	"context"
	"encoding/json"
	"time"
)

// Message is one chat message as reported by the worker.
type Message struct {
	ID        string
	From      string
	ChatID    string
	Body      string
	Timestamp time.Time
	Type      string
	IsGroup   bool
	Author    string
	FromMe    bool
}

// Chat is one conversation (group or individual).
type Chat struct {
	ID              string
	Name            string
	IsGroup         bool
	LastMessageTime time.Time
	UnreadCount     int
}

// Contact is a single address-book entry.
type Contact struct {
	PhoneNumber string
	Name        string
	IsBusiness  bool
	Status      string
}

type wireMessage struct {
	ID        string          `json:"id"`
	From      string          `json:"from"`
	ChatID    string          `json:"chat_id"`
	Body      string          `json:"body"`
	Timestamp json.RawMessage `json:"timestamp"`
	Type      string          `json:"type"`
	IsGroup   bool            `json:"is_group"`
	Author    string          `json:"author"`
	FromMe    bool            `json:"fromMe"`
}

func (w wireMessage) toMessage() Message {
	m := Message{
		ID:      w.ID,
		From:    w.From,
		ChatID:  w.ChatID,
		Body:    w.Body,
		Type:    w.Type,
		IsGroup: w.IsGroup,
		Author:  w.Author,
		FromMe:  w.FromMe,
	}
	if m.Type == "" {
		m.Type = "text"
	}
	m.Timestamp = parseWireTime(w.Timestamp)
	return m
}

// parseWireTime accepts the timestamp shapes workers emit: an ISO string or a
// unix number in seconds or milliseconds.
func parseWireTime(raw json.RawMessage) time.Time {
	if len(raw) == 0 {
		return time.Time{}
	}
	var s string
	if err := json.Unmarshal(raw, &s); err == nil {
		for _, layout := range []string{time.RFC3339Nano, time.RFC3339, "2006-01-02T15:04:05"} {
			if t, err := time.Parse(layout, s); err == nil {
				return t
			}
		}
		return time.Time{}
	}
	var n float64
	if err := json.Unmarshal(raw, &n); err == nil && n > 0 {
		if n > 1e12 { // milliseconds
			return time.UnixMilli(int64(n))
		}
		return time.Unix(int64(n), 0)
	}
	return time.Time{}
}

// MessageFromEvent decodes an event payload into a Message. Unknown or
// malformed fields degrade to zero values rather than failing.
func MessageFromEvent(data map[string]any) Message {
	raw, err := json.Marshal(data)
	if err != nil {
		return Message{}
	}
	var w wireMessage
	_ = json.Unmarshal(raw, &w)
	return w.toMessage()
}

// SendMessage sends text to a phone number. replyTo optionally quotes an
// earlier message by id.
func (c *Client) SendMessage(ctx context.Context, phoneNumber, text, replyTo string) (Message, error) {
	params := map[string]any{
		"phone_number": phoneNumber,
		"message":      text,
	}
	if replyTo != "" {
		params["reply_to"] = replyTo
	}

	raw, err := c.Call(ctx, "send_message", params)
	if err != nil {
		return Message{}, err
	}

	var w wireMessage
	if len(raw) > 0 {
		_ = json.Unmarshal(raw, &w)
	}
	m := w.toMessage()
	m.Body = text
	if m.Timestamp.IsZero() {
		m.Timestamp = time.Now()
	}
	return m, nil
}

// GetMessages retrieves up to limit messages from a chat, optionally bounded
// by ISO dates.
func (c *Client) GetMessages(ctx context.Context, chatID string, limit int, startDate, endDate string) ([]Message, error) {
	if limit <= 0 {
		limit = 50
	}
	params := map[string]any{
		"chat_id": chatID,
		"limit":   limit,
	}
	if startDate != "" {
		params["start_date"] = startDate
	}
	if endDate != "" {
		params["end_date"] = endDate
	}

	raw, err := c.Call(ctx, "get_messages", params)
	if err != nil {
		return nil, err
	}

	var payload struct {
		Messages []wireMessage `json:"messages"`
	}
	if err := json.Unmarshal(raw, &payload); err != nil {
		return nil, err
	}
	out := make([]Message, 0, len(payload.Messages))
	for _, w := range payload.Messages {
		out = append(out, w.toMessage())
	}
	return out, nil
}

// GetChats lists recent chats.
func (c *Client) GetChats(ctx context.Context, limit int) ([]Chat, error) {
	if limit <= 0 {
		limit = 20
	}
	raw, err := c.Call(ctx, "get_chats", map[string]any{"limit": limit})
	if err != nil {
		return nil, err
	}

	var payload struct {
		Chats []struct {
			ID              string          `json:"id"`
			Name            string          `json:"name"`
			IsGroup         bool            `json:"is_group"`
			LastMessageTime json.RawMessage `json:"last_message_time"`
			UnreadCount     int             `json:"unread_count"`
		} `json:"chats"`
	}
	if err := json.Unmarshal(raw, &payload); err != nil {
		return nil, err
	}
	out := make([]Chat, 0, len(payload.Chats))
	for _, w := range payload.Chats {
		out = append(out, Chat{
			ID:              w.ID,
			Name:            w.Name,
			IsGroup:         w.IsGroup,
			LastMessageTime: parseWireTime(w.LastMessageTime),
			UnreadCount:     w.UnreadCount,
		})
	}
	return out, nil
}

// SearchMessages asks the worker for a text search, optionally per chat.
func (c *Client) SearchMessages(ctx context.Context, query, chatID string, limit int) ([]Message, error) {
	if limit <= 0 {
		limit = 10
	}
	params := map[string]any{
		"query": query,
		"limit": limit,
	}
	if chatID != "" {
		params["chat_id"] = chatID
	}

	raw, err := c.Call(ctx, "search_messages", params)
	if err != nil {
		return nil, err
	}

	var payload struct {
		Messages []wireMessage `json:"messages"`
	}
	if err := json.Unmarshal(raw, &payload); err != nil {
		return nil, err
	}
	out := make([]Message, 0, len(payload.Messages))
	for _, w := range payload.Messages {
		out = append(out, w.toMessage())
	}
	return out, nil
}

// GetContact resolves contact details for a phone number.
func (c *Client) GetContact(ctx context.Context, phoneNumber string) (Contact, error) {
	raw, err := c.Call(ctx, "get_contact", map[string]any{"phone_number": phoneNumber})
	if err != nil {
		return Contact{}, err
	}

	var w struct {
		Name       string `json:"name"`
		IsBusiness bool   `json:"is_business"`
		Status     string `json:"status"`
	}
	if err := json.Unmarshal(raw, &w); err != nil {
		return Contact{}, err
	}
	ct := Contact{PhoneNumber: phoneNumber, Name: w.Name, IsBusiness: w.IsBusiness, Status: w.Status}
	if ct.Name == "" {
		ct.Name = "Unknown"
	}
	return ct, nil
}
