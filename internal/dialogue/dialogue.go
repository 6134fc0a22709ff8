// Package dialogue defines conversation turns and read-only helpers over a
// session's history. The session owns the history and only ever appends to
// it; every other package receives it by value and must not modify it.
package dialogue

import (
	"strings"
)

// Role identifies who produced a turn.
type Role string

// Turn roles.
const (
	RoleSystem    Role = "system"
	RoleUser      Role = "user"
	RoleAssistant Role = "assistant"
)

// Turn is one message in a conversation.
type Turn struct {
	Role    Role   `json:"role"`
	Content string `json:"content"`
}

// History is the ordered sequence of turns in a session.
type History []Turn

// Append returns a new history with t added. The receiver is not modified,
// so callers holding the old slice keep seeing the old contents.
func (h History) Append(turns ...Turn) History {
	out := make(History, 0, len(h)+len(turns))
	out = append(out, h...)
	return append(out, turns...)
}

// Len returns the number of turns.
func (h History) Len() int { return len(h) }

// Last returns the last n turns (all of them when n exceeds the length).
func (h History) Last(n int) History {
	if n <= 0 {
		return nil
	}
	if n >= len(h) {
		return h
	}
	return h[len(h)-n:]
}

// UserMessages returns user turn contents in order.
func (h History) UserMessages() []string {
	return h.contents(RoleUser)
}

// AssistantMessages returns assistant turn contents in order.
func (h History) AssistantMessages() []string {
	return h.contents(RoleAssistant)
}

func (h History) contents(role Role) []string {
	var out []string
	for _, t := range h {
		if t.Role == role {
			out = append(out, t.Content)
		}
	}
	return out
}

// RecentUserText joins the user messages found among the last window turns.
func (h History) RecentUserText(window int) string {
	msgs := h.Last(window).UserMessages()
	var parts []string
	for _, m := range msgs {
		if m = strings.TrimSpace(m); m != "" {
			parts = append(parts, m)
		}
	}
	return strings.Join(parts, " ")
}

// UserTurnCount returns how many user turns the history holds.
func (h History) UserTurnCount() int {
	n := 0
	for _, t := range h {
		if t.Role == RoleUser {
			n++
		}
	}
	return n
}

// LatestUserMessage returns the content of the last user turn, or "".
func (h History) LatestUserMessage() string {
	for i := len(h) - 1; i >= 0; i-- {
		if h[i].Role == RoleUser {
			return h[i].Content
		}
	}
	return ""
}
