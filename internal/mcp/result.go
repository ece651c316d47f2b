package mcp

// FailureKind classifies why a tool call did not succeed.
type FailureKind string

// Failure kinds.
const (
	// FailureNotReady means the channel was not Ready; no call was made.
	FailureNotReady FailureKind = "not_ready"
	// FailureRemote covers transport errors and tool-reported errors.
	FailureRemote FailureKind = "remote"
	// FailureTimeout means the per-call deadline expired.
	FailureTimeout FailureKind = "timeout"
	// FailureInternal is a fault inside this process, such as a panic.
	FailureInternal FailureKind = "internal"
)

// Failure describes an unsuccessful tool call.
type Failure struct {
	Kind    FailureKind
	Message string
}

func (f *Failure) Error() string {
	return string(f.Kind) + ": " + f.Message
}

// ToolCallResult is the envelope for one tool invocation. Exactly one of
// a successful payload or Failure is meaningful; a remote tool error may
// carry both the failure and the content the tool returned.
type ToolCallResult struct {
	CallID   string
	ToolName string
	Payload  []ToolContent
	Failure  *Failure
}

// OK reports whether the call succeeded.
func (r ToolCallResult) OK() bool {
	return r.Failure == nil
}

// Text flattens the payload for presentation to the model.
func (r ToolCallResult) Text() string {
	return Flatten(r.Payload)
}

// Fail builds a failure envelope.
func Fail(name string, kind FailureKind, msg string) ToolCallResult {
	return ToolCallResult{
		ToolName: name,
		Failure:  &Failure{Kind: kind, Message: msg},
	}
}
