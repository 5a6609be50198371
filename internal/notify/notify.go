// Package notify records the local notifications the gateway raises for the
// wallet user: declined reconciliations, signing failures and requests that
// were replaced before an answer. UI code subscribes to the buffer.
package notify

import (
	"encoding/json"
	"sync"
	"time"

	"github.com/google/uuid"
)

// Type classifies a notification.
type Type string

const (
	TypeReconciliationDeclined Type = "reconciliation.declined"
	TypeSigningFailed          Type = "signing.failed"
	TypeRequestSuperseded      Type = "request.superseded"
	TypeSessionCreated         Type = "session.created"
	TypeSessionRemoved         Type = "session.removed"
	// TypeExternalCallback carries a callback URL the wallet UI must open.
	TypeExternalCallback Type = "external.callback"
)

// Severity indicates how prominently the UI should show a notification.
type Severity string

const (
	SeverityInfo    Severity = "info"
	SeverityWarning Severity = "warning"
	SeverityError   Severity = "error"
)

// Notification is one local notice.
type Notification struct {
	ID        string    `json:"id"`
	Type      Type      `json:"type"`
	Severity  Severity  `json:"severity"`
	Timestamp time.Time `json:"timestamp"`

	Origin    string `json:"origin,omitempty"`
	RequestID string `json:"requestId,omitempty"`
	Method    string `json:"method,omitempty"`

	Message  string            `json:"message,omitempty"`
	Error    string            `json:"error,omitempty"`
	Metadata map[string]string `json:"metadata,omitempty"`
}

func (n Notification) String() string {
	data, _ := json.Marshal(n)
	return string(data)
}

// Handler processes notifications as they occur.
type Handler func(Notification)

// Filter decides whether a handler sees a notification.
type Filter func(Notification) bool

// Notifier is what the gateway raises notifications through.
type Notifier interface {
	Notify(n Notification)
}

// RingBuffer is a thread-safe circular buffer of notifications.
type RingBuffer struct {
	mu       sync.RWMutex
	items    []Notification
	size     int
	head     int
	count    int
	handlers []handlerEntry
	nextID   int64
}

type handlerEntry struct {
	id      int64
	filter  Filter
	handler Handler
}

var _ Notifier = (*RingBuffer)(nil)

// NewRingBuffer creates a buffer keeping the last size notifications.
func NewRingBuffer(size int) *RingBuffer {
	if size <= 0 {
		size = 256
	}
	return &RingBuffer{
		items: make([]Notification, size),
		size:  size,
	}
}

// Notify stores n and fans it out to subscribers.
func (rb *RingBuffer) Notify(n Notification) {
	rb.mu.Lock()
	if n.Timestamp.IsZero() {
		n.Timestamp = time.Now().UTC()
	}
	if n.ID == "" {
		n.ID = uuid.NewString()
	}

	rb.items[rb.head] = n
	rb.head = (rb.head + 1) % rb.size
	if rb.count < rb.size {
		rb.count++
	}

	handlers := make([]handlerEntry, len(rb.handlers))
	copy(handlers, rb.handlers)
	rb.mu.Unlock()

	for _, h := range handlers {
		if h.filter == nil || h.filter(n) {
			h.handler(n)
		}
	}
}

// Subscribe registers a handler for every notification. The returned func unsubscribes.
func (rb *RingBuffer) Subscribe(handler Handler) func() {
	return rb.SubscribeFiltered(nil, handler)
}

// SubscribeFiltered registers a handler that only sees notifications passing filter.
func (rb *RingBuffer) SubscribeFiltered(filter Filter, handler Handler) func() {
	rb.mu.Lock()
	id := rb.nextID
	rb.nextID++
	rb.handlers = append(rb.handlers, handlerEntry{id: id, filter: filter, handler: handler})
	rb.mu.Unlock()

	return func() {
		rb.mu.Lock()
		defer rb.mu.Unlock()
		for i, h := range rb.handlers {
			if h.id == id {
				rb.handlers = append(rb.handlers[:i], rb.handlers[i+1:]...)
				return
			}
		}
	}
}

// Recent returns up to n notifications, newest first.
func (rb *RingBuffer) Recent(n int) []Notification {
	return rb.recent(n, nil)
}

// RecentByType returns up to n notifications of type t, newest first.
func (rb *RingBuffer) RecentByType(t Type, n int) []Notification {
	return rb.recent(n, func(item Notification) bool { return item.Type == t })
}

func (rb *RingBuffer) recent(n int, keep Filter) []Notification {
	rb.mu.RLock()
	defer rb.mu.RUnlock()

	if n <= 0 || rb.count == 0 {
		return nil
	}
	var out []Notification
	for i := 0; i < rb.count && len(out) < n; i++ {
		idx := (rb.head - 1 - i + rb.size) % rb.size
		if keep == nil || keep(rb.items[idx]) {
			out = append(out, rb.items[idx])
		}
	}
	return out
}

// Count returns the number of buffered notifications.
func (rb *RingBuffer) Count() int {
	rb.mu.RLock()
	defer rb.mu.RUnlock()
	return rb.count
}

// Clear drops every buffered notification; subscribers are kept.
func (rb *RingBuffer) Clear() {
	rb.mu.Lock()
	defer rb.mu.Unlock()
	rb.items = make([]Notification, rb.size)
	rb.head = 0
	rb.count = 0
}

// Builder provides a fluent API for creating notifications.
type Builder struct {
	n Notification
}

// New starts a notification of type t with info severity.
func New(t Type) *Builder {
	return &Builder{n: Notification{Type: t, Severity: SeverityInfo}}
}

func (b *Builder) Severity(s Severity) *Builder {
	b.n.Severity = s
	return b
}

func (b *Builder) Origin(origin string) *Builder {
	b.n.Origin = origin
	return b
}

func (b *Builder) Request(id, method string) *Builder {
	b.n.RequestID = id
	b.n.Method = method
	return b
}

func (b *Builder) Message(msg string) *Builder {
	b.n.Message = msg
	return b
}

// Err records err and raises severity to error.
func (b *Builder) Err(err error) *Builder {
	if err != nil {
		b.n.Error = err.Error()
		b.n.Severity = SeverityError
	}
	return b
}

func (b *Builder) Metadata(key, value string) *Builder {
	if b.n.Metadata == nil {
		b.n.Metadata = make(map[string]string)
	}
	b.n.Metadata[key] = value
	return b
}

// Build returns the notification.
func (b *Builder) Build() Notification {
	return b.n
}

// SendTo builds the notification and hands it to notifier.
func (b *Builder) SendTo(notifier Notifier) {
	if notifier == nil {
		return
	}
	notifier.Notify(b.Build())
}

// Discard drops every notification.
type Discard struct{}

func (Discard) Notify(Notification) {}
