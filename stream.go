package sift

// StreamEventType identifies the kind of streaming event.
type StreamEventType string

const (
	// EventSources carries the citation sources for the request. Exactly one
	// sources event precedes all token events.
	EventSources StreamEventType = "sources"
	// EventToken carries one incremental text token from generation, emitted
	// in strict arrival order.
	EventToken StreamEventType = "token"
	// EventCitationWarning reports a citation marker in the generated text
	// that does not resolve to a source index.
	EventCitationWarning StreamEventType = "citation-warning"
	// EventDone closes a successful stream. Terminal.
	EventDone StreamEventType = "done"
	// EventError closes a failed stream with a stable, user-safe message. Terminal.
	EventError StreamEventType = "error"
	// EventCancelled closes a stream cut short by caller cancellation or the
	// wall-clock generation budget. Terminal.
	EventCancelled StreamEventType = "cancelled"
)

// StreamEvent is a tagged event emitted during a pipeline run. Consumers
// receive these on the channel passed to Pipeline.Ask. Every stream carries
// exactly one sources event before the first token and is closed by exactly
// one terminal event (done, error, or cancelled).
type StreamEvent struct {
	// Type identifies the event kind.
	Type StreamEventType `json:"type"`
	// Sources lists citation metadata (sources events only). May be empty
	// when no evidence was retrieved.
	Sources []Source `json:"sources,omitempty"`
	// Token is the incremental text (token events only).
	Token string `json:"token,omitempty"`
	// Warning describes an unresolvable citation (citation-warning only).
	Warning string `json:"warning,omitempty"`
	// Answer is the final answer text including the Sources section (done only).
	Answer string `json:"answer,omitempty"`
	// ConversationID correlates the stream with its conversation (done only).
	ConversationID string `json:"conversation_id,omitempty"`
	// Err is a stable, user-safe failure message (error only). Vendor
	// internals and policy text are never included.
	Err string `json:"error,omitempty"`
}

// Terminal reports whether the event closes the stream.
func (e StreamEvent) Terminal() bool {
	switch e.Type {
	case EventDone, EventError, EventCancelled:
		return true
	}
	return false
}
