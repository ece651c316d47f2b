package agent

// EventKind names a progress event emitted while processing a message.
type EventKind string

// Event kinds, in the order they occur within a turn.
const (
	EventLLMStart  EventKind = "llm_start"
	EventToolStart EventKind = "tool_start"
	EventToolDone  EventKind = "tool_done"
	EventFinal     EventKind = "final"
)

// Event reports progress to an observer such as a websocket client.
type Event struct {
	Kind  EventKind `json:"kind"`
	Turn  int       `json:"turn"`
	Tool  string    `json:"tool,omitempty"`
	Text  string    `json:"text,omitempty"`
	Error string    `json:"error,omitempty"`
}

// EventFunc receives events synchronously. It must not block for long.
type EventFunc func(Event)

func (f EventFunc) emit(e Event) {
	if f != nil {
		f(e)
	}
}
