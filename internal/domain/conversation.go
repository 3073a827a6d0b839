package domain

import "time"

type Role string

const (
	RoleUser      Role = "user"
	RoleAssistant Role = "assistant"
)

// Message is a single transcript entry. A zero CreatedAt marks an assistant
// reply that is still being streamed.
type Message struct {
	ID        string
	Role      Role
	Content   string
	CreatedAt time.Time
}

// Streaming reports whether the message is still receiving deltas.
func (m Message) Streaming() bool {
	return m.CreatedAt.IsZero()
}

// ContractRef describes the contract the server has persisted for a conversation.
type ContractRef struct {
	ID     int64
	Code   string
	Title  string
	Status string
}

// Conversation is the client-side record of one drafting chat.
type Conversation struct {
	ID       string
	RemoteID int64
	Title    string
	Messages []Message

	WorkflowContext WorkflowContext

	// ContractStored is the server's "a contract is persisted" signal.
	ContractStored bool
	Contract       *ContractRef
	// ContractAvailable is derived by the store; never set it directly.
	ContractAvailable bool

	LastMessagePreview string
	CreatedAt          time.Time
	UpdatedAt          time.Time
}

// Provisional reports whether the server has not acknowledged the conversation yet.
func (c Conversation) Provisional() bool {
	return c.RemoteID == 0
}

func (c Conversation) LastMessage() (Message, bool) {
	if len(c.Messages) == 0 {
		return Message{}, false
	}
	return c.Messages[len(c.Messages)-1], true
}

// FirstUserMessage returns the content of the earliest user turn, if any.
func (c Conversation) FirstUserMessage() string {
	for _, m := range c.Messages {
		if m.Role == RoleUser {
			return m.Content
		}
	}
	return ""
}

// Clone returns a copy that shares no mutable state with c.
func (c Conversation) Clone() Conversation {
	out := c
	if c.Messages != nil {
		out.Messages = make([]Message, len(c.Messages))
		copy(out.Messages, c.Messages)
	}
	out.WorkflowContext = c.WorkflowContext.Clone()
	if c.Contract != nil {
		ref := *c.Contract
		out.Contract = &ref
	}
	return out
}
