package domain

import "time"

type StreamEventKind int

const (
	EventText StreamEventKind = iota + 1
	EventContext
)

// StreamEvent is one decoded unit of a streaming reply: a text delta or a
// full workflow context snapshot.
type StreamEvent struct {
	Kind    StreamEventKind
	Text    string
	Context WorkflowContext
}

func TextEvent(text string) StreamEvent {
	return StreamEvent{Kind: EventText, Text: text}
}

func ContextEvent(ctx WorkflowContext) StreamEvent {
	return StreamEvent{Kind: EventContext, Context: ctx}
}

// SendRequest is the outgoing user turn, shared by the streaming and the
// non-streaming endpoints.
type SendRequest struct {
	Message  string
	RemoteID int64
	Title    string
	Context  WorkflowContext
}

// SendResult is the full reply of the non-streaming endpoint.
type SendResult struct {
	RemoteID int64
	Reply    string
	Title    string
	Context  WorkflowContext
}

// ConversationSummary is one entry of the history listing.
type ConversationSummary struct {
	RemoteID    int64
	Title       string
	Status      string
	LastMessage string
	Contract    *ContractRef
	CreatedAt   time.Time
	UpdatedAt   time.Time
}

// ConversationDetail is the full server state of one conversation.
type ConversationDetail struct {
	RemoteID       int64
	Title          string
	Messages       []Message
	Context        WorkflowContext
	Contract       *ContractRef
	ContractStored bool
	CreatedAt      time.Time
	UpdatedAt      time.Time
}

// ContractDocument is the rendered contract fragment plus a plain-text view.
type ContractDocument struct {
	RemoteID int64
	HTML     string
	Title    string
	Text     string
}
