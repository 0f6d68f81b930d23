// Package notice holds the process-wide transient notification slot read by
// UI layers.
package notice

import (
	"sync"
	"time"

	"github.com/nazeru/cart-lab-go/internal/cart/domain"
)

type Severity string

const (
	SeverityError   Severity = "error"
	SeverityWarning Severity = "warning"
	SeveritySuccess Severity = "success"
	SeverityInfo    Severity = "info"
)

// Transient reports whether entries of this severity expire on their own.
func (s Severity) Transient() bool {
	return s == SeverityInfo || s == SeveritySuccess
}

// ForKind maps an error kind to the severity it is surfaced with.
func ForKind(k domain.Kind) Severity {
	switch k {
	case domain.KindValidation, domain.KindStock:
		return SeverityWarning
	default:
		return SeverityError
	}
}

type Entry struct {
	Message   string    `json:"message"`
	Severity  Severity  `json:"severity"`
	CreatedAt time.Time `json:"created_at"`
}

const DefaultTTL = 4 * time.Second

// Signal is a single-slot mailbox. Set overwrites whatever is pending.
type Signal struct {
	ttl time.Duration
	now func() time.Time

	mu        sync.Mutex
	entry     *Entry
	gen       uint64
	timer     *time.Timer
	listeners map[uint64]func(Entry, bool)
	nextID    uint64
}

func New(ttl time.Duration) *Signal {
	if ttl <= 0 {
		ttl = DefaultTTL
	}
	return &Signal{ttl: ttl, now: time.Now, listeners: map[uint64]func(Entry, bool){}}
}

func (s *Signal) Set(message string, severity Severity) {
	if severity == "" {
		severity = SeverityError
	}
	e := Entry{Message: message, Severity: severity, CreatedAt: s.now()}

	s.mu.Lock()
	s.gen++
	gen := s.gen
	s.entry = &e
	s.stopTimerLocked()
	if severity.Transient() {
		s.timer = time.AfterFunc(s.ttl, func() { s.expire(gen) })
	}
	listeners := s.snapshotListenersLocked()
	s.mu.Unlock()

	for _, fn := range listeners {
		fn(e, true)
	}
}

func (s *Signal) Error(message string)   { s.Set(message, SeverityError) }
func (s *Signal) Warn(message string)    { s.Set(message, SeverityWarning) }
func (s *Signal) Success(message string) { s.Set(message, SeveritySuccess) }
func (s *Signal) Info(message string)    { s.Set(message, SeverityInfo) }

// Report surfaces err with the severity of its kind. A nil err is ignored.
func (s *Signal) Report(err error) {
	if err == nil {
		return
	}
	s.Set(domain.Message(err), ForKind(domain.KindOf(err)))
}

func (s *Signal) Current() (Entry, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.entry == nil {
		return Entry{}, false
	}
	return *s.entry, true
}

// Clear empties the slot regardless of severity.
func (s *Signal) Clear() {
	s.mu.Lock()
	if s.entry == nil {
		s.mu.Unlock()
		return
	}
	s.gen++
	s.entry = nil
	s.stopTimerLocked()
	listeners := s.snapshotListenersLocked()
	s.mu.Unlock()

	for _, fn := range listeners {
		fn(Entry{}, false)
	}
}

// Subscribe registers fn for every change of the slot. The bool is false
// when the slot became empty.
func (s *Signal) Subscribe(fn func(Entry, bool)) (unsubscribe func()) {
	s.mu.Lock()
	id := s.nextID
	s.nextID++
	s.listeners[id] = fn
	s.mu.Unlock()

	var once sync.Once
	return func() {
		once.Do(func() {
			s.mu.Lock()
			delete(s.listeners, id)
			s.mu.Unlock()
		})
	}
}

func (s *Signal) expire(gen uint64) {
	s.mu.Lock()
	// a newer Set or Clear owns the slot
	if gen != s.gen || s.entry == nil {
		s.mu.Unlock()
		return
	}
	s.entry = nil
	s.timer = nil
	listeners := s.snapshotListenersLocked()
	s.mu.Unlock()

	for _, fn := range listeners {
		fn(Entry{}, false)
	}
}

func (s *Signal) stopTimerLocked() {
	if s.timer != nil {
		s.timer.Stop()
		s.timer = nil
	}
}

func (s *Signal) snapshotListenersLocked() []func(Entry, bool) {
	out := make([]func(Entry, bool), 0, len(s.listeners))
	for _, fn := range s.listeners {
		out = append(out, fn)
	}
	return out
}
