package agent

// EventKind tags the events a streaming run emits.
type EventKind string

const (
	// EventTextDelta carries a piece of assistant text.
	EventTextDelta EventKind = "text_delta"
	// EventToolCalled is emitted before a tool is executed.
	EventToolCalled EventKind = "tool_called"
	// EventToolOutput is emitted once the tool returned. Every
	// EventToolCalled is followed by exactly one EventToolOutput.
	EventToolOutput EventKind = "tool_output"
)

// Event is one step of a streaming run.
type Event struct {
	Kind      EventKind
	Delta     string
	CallID    string
	ToolName  string
	Arguments string
	Output    string
	IsError   bool
}

// StreamBuffer is the capacity of a run's event channel.
const StreamBuffer = 16

// Stream is a run in progress. Events must be drained until closed; Wait
// then returns the outcome.
type Stream struct {
	events chan Event
	done   chan struct{}
	result *RunResult
	err    error
}

// Events returns the channel of run events. It is closed when the run ends.
func (s *Stream) Events() <-chan Event {
	return s.events
}

// Wait blocks until the run has ended.
func (s *Stream) Wait() (*RunResult, error) {
	<-s.done
	return s.result, s.err
}
