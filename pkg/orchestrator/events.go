package orchestrator

import (
	"sync/atomic"
	"time"

	"github.com/kadirpekel/hector/pkg/llms"
	"github.com/kadirpekel/hector/pkg/tool"
)

// EventKind tags the variant carried by an Event (spec §6 event port).
type EventKind string

const (
	EventUserMessage      EventKind = "user_message"
	EventAssistantChunk   EventKind = "assistant_chunk"
	EventAssistantMessage EventKind = "assistant_message"
	EventToolCallStart    EventKind = "tool_call_start"
	EventToolCallResult   EventKind = "tool_call_result"
	EventStreamFinish     EventKind = "stream_finish"
	EventDone             EventKind = "done"
	EventSystem           EventKind = "system"
	EventError            EventKind = "error"

	// EventLinesClear and EventHeaderRefresh are UI control events (spec
	// §6): emitted as a pair after auto-summary replaces a conversation's
	// history, telling a terminal/TUI client to drop its rendered
	// scrollback and repaint its header (token/cost counters) from the
	// freshly reset metrics bucket. Optional: a client that ignores them
	// still receives a correct EventSystem narrating the same event.
	EventLinesClear   EventKind = "lines_clear"
	EventHeaderRefresh EventKind = "header_refresh"
)

// Event is one tagged message on the outbound event port, carrying a
// monotonically assigned id and timestamp. Only the fields relevant to Kind
// are meaningful; the rest are zero.
type Event struct {
	ID        int64
	Timestamp time.Time
	Kind      EventKind

	Content      string
	Usage        *llms.Usage
	ToolCalls    []llms.ToolCall
	FinishReason string

	ToolCallID string
	ToolName   string
	Parameters map[string]any
	Status     tool.Status
	DurationMs int64

	Color string // for EventSystem: e.g. "warning"
}

// EventPort receives the orchestrator's outbound event stream. A single
// send may emit many events; implementations must not block the agent loop
// for long (spec §5: events are emitted in monotonic wall-clock order but
// the port itself is the caller's concern to make fast or buffered).
type EventPort interface {
	Emit(Event)
}

// EventPortFunc adapts a plain function to an EventPort.
type EventPortFunc func(Event)

// Emit calls f.
func (f EventPortFunc) Emit(e Event) { f(e) }

// NoopEventPort discards every event; the default when a caller doesn't
// need to observe progress.
type NoopEventPort struct{}

// Emit discards e.
func (NoopEventPort) Emit(Event) {}

var _ EventPort = NoopEventPort{}
var _ EventPort = EventPortFunc(nil)

// eventSequencer assigns monotonic ids and stamps wall-clock time, then
// forwards to the underlying port.
type eventSequencer struct {
	next atomic.Int64
	port EventPort
}

func newEventSequencer(port EventPort) *eventSequencer {
	if port == nil {
		port = NoopEventPort{}
	}
	return &eventSequencer{port: port}
}

func (s *eventSequencer) emit(e Event) {
	e.ID = s.next.Add(1)
	e.Timestamp = time.Now()
	s.port.Emit(e)
}
