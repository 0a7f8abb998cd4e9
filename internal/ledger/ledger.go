// Package ledger keeps the bounded conversation history shared between the
// user and the assistant. The ledger is the single source of truth for what
// the language model sees: every completed exchange appends one user and one
// assistant message, and old turns are evicted once the capacity is reached so
// prompts cannot grow without bound.
package ledger

import (
	"sync"
	"time"
)

// Role identifies the author of a conversation message.
type Role string

const (
	RoleSystem    Role = "system"
	RoleUser      Role = "user"
	RoleAssistant Role = "assistant"
)

// Message is a single conversation turn. Messages are immutable once appended.
type Message struct {
	Role      Role
	Content   string
	Timestamp time.Time
}

// DefaultCapacity is the number of non-system messages retained when no
// override is given. Twenty messages is ten full exchanges, enough context
// for follow-up questions without inflating prompt size.
const DefaultCapacity = 20

// Ledger is a thread-safe, capacity-bounded conversation history.
//
// System messages (the standing instructions for the model) are pinned: they
// never count against the capacity and are never evicted. When appending a
// non-system message would exceed the capacity, the oldest non-system
// messages are dropped first.
type Ledger struct {
	mu       sync.Mutex
	capacity int
	pinned   []Message // system messages, in insertion order
	turns    []Message // user/assistant messages, oldest first
}

// Option is a functional option for [New].
type Option func(*Ledger)

// WithCapacity overrides the retained non-system message count. Values below
// 1 fall back to [DefaultCapacity].
func WithCapacity(n int) Option {
	return func(l *Ledger) {
		if n >= 1 {
			l.capacity = n
		}
	}
}

// New creates an empty [Ledger].
func New(opts ...Option) *Ledger {
	l := &Ledger{capacity: DefaultCapacity}
	for _, o := range opts {
		o(l)
	}
	return l
}

// Append records a message. System messages are pinned and exempt from
// eviction; other roles evict the oldest turns once capacity is exceeded.
func (l *Ledger) Append(m Message) {
	if m.Timestamp.IsZero() {
		m.Timestamp = time.Now()
	}

	l.mu.Lock()
	defer l.mu.Unlock()

	if m.Role == RoleSystem {
		l.pinned = append(l.pinned, m)
		return
	}

	l.turns = append(l.turns, m)
	if over := len(l.turns) - l.capacity; over > 0 {
		l.turns = append(l.turns[:0:0], l.turns[over:]...)
	}
}

// AppendExchange records one completed user/assistant exchange atomically, so
// a concurrent [Snapshot] can never observe the user half without the reply.
func (l *Ledger) AppendExchange(userText, assistantText string) {
	now := time.Now()

	l.mu.Lock()
	defer l.mu.Unlock()

	l.turns = append(l.turns,
		Message{Role: RoleUser, Content: userText, Timestamp: now},
		Message{Role: RoleAssistant, Content: assistantText, Timestamp: now},
	)
	if over := len(l.turns) - l.capacity; over > 0 {
		l.turns = append(l.turns[:0:0], l.turns[over:]...)
	}
}

// Snapshot returns the current history, pinned system messages first followed
// by the retained turns oldest-first. The returned slice is a copy and safe
// to hand to a provider while the ledger keeps changing.
func (l *Ledger) Snapshot() []Message {
	l.mu.Lock()
	defer l.mu.Unlock()

	out := make([]Message, 0, len(l.pinned)+len(l.turns))
	out = append(out, l.pinned...)
	out = append(out, l.turns...)
	return out
}

// Window returns the snapshot trimmed to at most maxChars of content,
// dropping the oldest turns first. Pinned system messages are always
// included and do not count against the budget. A maxChars of 0 or less
// disables trimming.
func (l *Ledger) Window(maxChars int) []Message {
	l.mu.Lock()
	defer l.mu.Unlock()

	turns := l.turns
	if maxChars > 0 && len(turns) > 0 {
		// The newest turn is kept unconditionally, even when it alone blows
		// the budget; trimming only ever removes from the oldest end.
		start := len(turns) - 1
		total := len(turns[start].Content)
		for i := start - 1; i >= 0; i-- {
			total += len(turns[i].Content)
			if total > maxChars {
				break
			}
			start = i
		}
		turns = turns[start:]
	}

	out := make([]Message, 0, len(l.pinned)+len(turns))
	out = append(out, l.pinned...)
	out = append(out, turns...)
	return out
}

// Len returns the number of retained non-system messages.
func (l *Ledger) Len() int {
	l.mu.Lock()
	defer l.mu.Unlock()
	return len(l.turns)
}

// Clear drops all retained turns. Pinned system messages survive, so the
// assistant keeps its standing instructions after the user resets the
// conversation.
func (l *Ledger) Clear() {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.turns = nil
}
