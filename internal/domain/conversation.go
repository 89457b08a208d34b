package domain

import "time"

// ConversationEntry is a single line of the chat transcript. Text holds the raw
// user input for user entries and formatted markup for bot entries.
type ConversationEntry struct {
	ID        string    `json:"id"`
	Text      string    `json:"text"`
	IsUser    bool      `json:"isUser"`
	CreatedAt time.Time `json:"createdAt"`
}

// Conversation is the session-owned, append-only transcript.
type Conversation struct {
	ID      string              `json:"sessionId"`
	Entries []ConversationEntry `json:"entries"`
}

// Len returns the number of entries.
func (c Conversation) Len() int {
	return len(c.Entries)
}

// Last returns the most recent entry, if any.
func (c Conversation) Last() (ConversationEntry, bool) {
	if len(c.Entries) == 0 {
		return ConversationEntry{}, false
	}
	return c.Entries[len(c.Entries)-1], true
}
