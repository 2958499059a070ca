package web

import (
	"encoding/json"
	"io"
	"strings"
	"sync"
	"time"
)

// Event sources.
const (
	SourceRig = "rig" // action lifecycle (move started, stack finished, ...)
	SourceLog = "log" // debug output
)

const subscriberBuffer = 64

// DefaultHistory is the number of events replayed to a new subscriber.
const DefaultHistory = 32

// Event is one entry of the rig activity log, as sent to SSE and
// websocket clients: {"t":"...","l":"warn","src":"rig","msg":"..."}.
type Event struct {
	Time   string `json:"t"`
	Level  string `json:"l,omitempty"`
	Source string `json:"src,omitempty"`
	Msg    string `json:"msg"`
}

// EventBroadcaster fans events out to subscribers and retains the most
// recent ones, so a page opened mid-stack still shows what happened.
type EventBroadcaster struct {
	mu      sync.Mutex
	clients map[chan string]struct{}
	history []string
	keep    int
	now     func() time.Time
}

// NewEventBroadcaster creates a broadcaster retaining up to keep events.
// keep is capped to the subscriber buffer; 0 disables the replay.
func NewEventBroadcaster(keep int) *EventBroadcaster {
	if keep < 0 {
		keep = 0
	}
	if keep > subscriberBuffer {
		keep = subscriberBuffer
	}
	return &EventBroadcaster{
		clients: make(map[chan string]struct{}),
		keep:    keep,
		now:     time.Now,
	}
}

// Subscribe returns a channel of JSON-encoded events, primed with the
// retained history, and a cleanup function to call on disconnect.
func (b *EventBroadcaster) Subscribe() (<-chan string, func()) {
	ch := make(chan string, subscriberBuffer)

	b.mu.Lock()
	for _, evt := range b.history {
		ch <- evt
	}
	b.clients[ch] = struct{}{}
	b.mu.Unlock()

	var once sync.Once
	unsub := func() {
		once.Do(func() {
			b.mu.Lock()
			delete(b.clients, ch)
			b.mu.Unlock()
			close(ch)
		})
	}
	return ch, unsub
}

// Broadcast publishes a rig event. Slow subscribers miss events rather
// than block the caller.
func (b *EventBroadcaster) Broadcast(level, msg string) {
	b.publish(Event{Level: level, Source: SourceRig, Msg: msg})
}

// History returns the retained events, oldest first.
func (b *EventBroadcaster) History() []json.RawMessage {
	b.mu.Lock()
	defer b.mu.Unlock()
	out := make([]json.RawMessage, len(b.history))
	for i, evt := range b.history {
		out[i] = json.RawMessage(evt)
	}
	return out
}

func (b *EventBroadcaster) publish(evt Event) {
	evt.Time = b.now().Format(time.RFC3339)
	data, err := json.Marshal(evt)
	if err != nil {
		return
	}
	payload := string(data)

	b.mu.Lock()
	defer b.mu.Unlock()
	if b.keep > 0 {
		if len(b.history) == b.keep {
			copy(b.history, b.history[1:])
			b.history = b.history[:b.keep-1]
		}
		b.history = append(b.history, payload)
	}
	for ch := range b.clients {
		select {
		case ch <- payload:
		default:
			// subscriber queue full, skip
		}
	}
}

// LogWriter returns an io.Writer publishing each written line as a log
// event, for use with debug.SetOutput.
func LogWriter(b *EventBroadcaster) io.Writer {
	return &logWriter{b: b}
}

type logWriter struct {
	b *EventBroadcaster
}

func (w *logWriter) Write(p []byte) (int, error) {
	for _, line := range strings.Split(string(p), "\n") {
		line = strings.TrimSpace(line)
		if line == "" {
			continue
		}
		w.b.publish(Event{Level: logLevel(line), Source: SourceLog, Msg: line})
	}
	return len(p), nil
}

// logLevel maps a debug line tag to an event level.
func logLevel(line string) string {
	switch {
	case strings.Contains(line, "[ERROR]"):
		return "error"
	case strings.Contains(line, "[WARN]"):
		return "warn"
	case strings.Contains(line, "[LIVE]"):
		return "live"
	case strings.Contains(line, "[VERBOSE]"), strings.Contains(line, "[TRACE]"), strings.Contains(line, "[GPIO]"):
		return "debug"
	default:
		return "info"
	}
}
