package model

// Thread is a conversation's durable container of ordered messages.
// Threads are never mutated after creation except for metadata merges;
// deleting a thread cascades to its messages and runs.
type Thread struct {
	ID        string            `json:"id"`
	CreatedAt string            `json:"created_at"`
	Metadata  map[string]string `json:"metadata"`
}

// MessageRole identifies who authored a message.
type MessageRole string

const (
	MessageRoleUser      MessageRole = "user"
	MessageRoleAssistant MessageRole = "assistant"
	MessageRoleSystem    MessageRole = "system"
)

// MessageContent is one content part. This design supports exactly one
// text part per message.
type MessageContent struct {
	Type string `json:"type"`
	Text string `json:"text"`
}

// Message is immutable after creation except for metadata merges.
// Assistant messages are appended only by the run engine; user and system
// messages only by the caller.
type Message struct {
	ID        string            `json:"id"`
	ThreadID  string            `json:"thread_id"`
	Role      MessageRole       `json:"role"`
	Content   []MessageContent  `json:"content"`
	CreatedAt string            `json:"created_at"`
	Metadata  map[string]string `json:"metadata"`
}

// Text returns the message's single text part, or "" when absent.
func (m Message) Text() string {
	if len(m.Content) == 0 {
		return ""
	}
	return m.Content[0].Text
}

// TextContent wraps a string as the canonical single-part content slice.
func TextContent(text string) []MessageContent {
	return []MessageContent{{Type: "text", Text: text}}
}
