package board

import (
	"errors"
	"fmt"
	"reflect"
	"strconv"
	"sync"
)

var (
	// ErrSequenceViolation is returned when a message does not directly follow
	// the last stored message of its negotiation.
	ErrSequenceViolation = errors.New("sequence violation")

	// ErrBudgetViolation is returned when a message breaks the remaining
	// budget countdown.
	ErrBudgetViolation = errors.New("budget violation")

	// ErrNegotiationClosed is returned when appending after an accepted,
	// aborted, or exhausted message.
	ErrNegotiationClosed = errors.New("negotiation closed")

	// ErrNotParticipant is returned when the sender never joined the negotiation.
	ErrNotParticipant = errors.New("sender is not a participant")

	// ErrDuplicateRoleParticipant is returned when a second party tries to
	// join for a role that is already taken.
	ErrDuplicateRoleParticipant = errors.New("role already taken in negotiation")
)

// Subscriber is notified after every successful append. Notify runs on the
// appending goroutine and must not block or call back into agent logic.
// Subscribers are told apart by identity, so they should be pointers. A
// struct or array value holding a slice, map or func never matches a
// registered subscriber: it is added on every Subscribe and Unsubscribe
// cannot remove it.
type Subscriber interface {
	Notify(negotiationID string)
}

// sameSubscriber compares a and b without panicking on dynamic types that
// are not comparable. Maps, slices and funcs compare by what they point at.
func sameSubscriber(a, b Subscriber) bool {
	ta, tb := reflect.TypeOf(a), reflect.TypeOf(b)
	if ta != tb {
		return false
	}
	if ta == nil || ta.Comparable() {
		return a == b
	}
	va, vb := reflect.ValueOf(a), reflect.ValueOf(b)
	switch ta.Kind() {
	case reflect.Map, reflect.Func:
		return va.Pointer() == vb.Pointer()
	case reflect.Slice:
		return va.Pointer() == vb.Pointer() && va.Len() == vb.Len()
	}
	return false
}

// Participant is one registered party of a negotiation.
type Participant struct {
	AgentID string `json:"agent_id" db:"agent_id"`
	Role    Role   `json:"role" db:"role"`
}

// Status summarises where a negotiation stands.
type Status string

const (
	StatusUnknown  Status = "unknown"
	StatusPending  Status = "pending"
	StatusAccepted Status = "accepted"
	StatusAborted  Status = "aborted"
	StatusTimeout  Status = "timeout"
)

// Done reports whether the negotiation can no longer change.
func (s Status) Done() bool {
	return s == StatusAccepted || s == StatusAborted || s == StatusTimeout
}

// Option configures a Log.
type Option func(*Log)

// WithStartingBudget sets the remaining budget carried by opening offers.
func WithStartingBudget(n int) Option {
	return func(l *Log) {
		if n > 0 {
			l.budget = n
		}
	}
}

// Log is the shared, process-scoped record of all negotiations.
// A single mutex guards every map; reads hand out copies.
type Log struct {
	mu           sync.Mutex
	messages     map[string][]Message
	participants map[string][]Participant
	order        []string
	subscribers  []Subscriber
	counter      uint64
	budget       int
}

// NewLog creates an empty negotiation log.
func NewLog(opts ...Option) *Log {
	l := &Log{
		messages:     make(map[string][]Message),
		participants: make(map[string][]Participant),
		budget:       DefaultStartingBudget,
	}
	for _, opt := range opts {
		opt(l)
	}
	return l
}

// StartingBudget returns the remaining budget an opening offer must carry.
func (l *Log) StartingBudget() int {
	return l.budget
}

// Append validates and stores msg, then notifies every subscriber.
func (l *Log) Append(msg Message) error {
	l.mu.Lock()
	if err := l.validate(msg); err != nil {
		l.mu.Unlock()
		return fmt.Errorf("append to %s: %w", msg.NegotiationID, err)
	}
	if _, ok := l.messages[msg.NegotiationID]; !ok {
		l.order = append(l.order, msg.NegotiationID)
	}
	l.messages[msg.NegotiationID] = append(l.messages[msg.NegotiationID], msg)
	subs := make([]Subscriber, len(l.subscribers))
	copy(subs, l.subscribers)
	l.mu.Unlock()

	for _, s := range subs {
		s.Notify(msg.NegotiationID)
	}
	return nil
}

// validate must be called with l.mu held.
func (l *Log) validate(msg Message) error {
	if !l.isParticipant(msg.NegotiationID, msg.SenderID) {
		return fmt.Errorf("%w: %s", ErrNotParticipant, msg.SenderID)
	}

	history := l.messages[msg.NegotiationID]
	if len(history) == 0 {
		if msg.Sequence != 0 {
			return fmt.Errorf("%w: got %d, want 0", ErrSequenceViolation, msg.Sequence)
		}
		if msg.Remaining != l.budget {
			return fmt.Errorf("%w: opening remaining %d, want %d", ErrBudgetViolation, msg.Remaining, l.budget)
		}
		return nil
	}

	last := history[len(history)-1]
	if last.Closed() {
		return ErrNegotiationClosed
	}
	if msg.Sequence != last.Sequence+1 {
		return fmt.Errorf("%w: got %d, want %d", ErrSequenceViolation, msg.Sequence, last.Sequence+1)
	}
	if msg.Remaining != last.Remaining-1 {
		return fmt.Errorf("%w: remaining %d, want %d", ErrBudgetViolation, msg.Remaining, last.Remaining-1)
	}
	return nil
}

// Last returns the most recent message of a negotiation.
func (l *Log) Last(negotiationID string) (Message, bool) {
	l.mu.Lock()
	defer l.mu.Unlock()

	history := l.messages[negotiationID]
	if len(history) == 0 {
		return Message{}, false
	}
	return history[len(history)-1], true
}

// All returns a copy of every message of a negotiation in append order.
func (l *Log) All(negotiationID string) []Message {
	l.mu.Lock()
	defer l.mu.Unlock()

	history := l.messages[negotiationID]
	out := make([]Message, len(history))
	copy(out, history)
	return out
}

// Negotiations returns the ids of every negotiation with at least one
// message, in the order they were opened.
func (l *Log) Negotiations() []string {
	l.mu.Lock()
	defer l.mu.Unlock()

	out := make([]string, len(l.order))
	copy(out, l.order)
	return out
}

// Status reports where a negotiation stands.
func (l *Log) Status(negotiationID string) Status {
	last, ok := l.Last(negotiationID)
	if !ok {
		return StatusUnknown
	}
	switch {
	case last.State == StateAccepted:
		return StatusAccepted
	case last.State == StateAborted:
		return StatusAborted
	case last.Remaining <= 0:
		return StatusTimeout
	default:
		return StatusPending
	}
}

// Subscribe registers s for append notifications. Registering twice is a no-op.
func (l *Log) Subscribe(s Subscriber) {
	l.mu.Lock()
	defer l.mu.Unlock()

	for _, existing := range l.subscribers {
		if sameSubscriber(existing, s) {
			return
		}
	}
	l.subscribers = append(l.subscribers, s)
}

// Unsubscribe removes s from the notification list.
func (l *Log) Unsubscribe(s Subscriber) {
	l.mu.Lock()
	defer l.mu.Unlock()

	for i, existing := range l.subscribers {
		if sameSubscriber(existing, s) {
			l.subscribers = append(l.subscribers[:i], l.subscribers[i+1:]...)
			return
		}
	}
}

// Join registers agentID as the party negotiating for role. Joining again
// with the same agent is a no-op; a different agent claiming a taken role
// gets ErrDuplicateRoleParticipant.
func (l *Log) Join(negotiationID, agentID string, role Role) error {
	l.mu.Lock()
	defer l.mu.Unlock()

	for _, p := range l.participants[negotiationID] {
		if p.AgentID == agentID {
			return nil
		}
		if p.Role == role {
			return fmt.Errorf("%w: %s holds %s in %s", ErrDuplicateRoleParticipant, p.AgentID, role, negotiationID)
		}
	}
	l.participants[negotiationID] = append(l.participants[negotiationID], Participant{AgentID: agentID, Role: role})
	return nil
}

// IsParticipant reports whether agentID joined the negotiation.
func (l *Log) IsParticipant(negotiationID, agentID string) bool {
	l.mu.Lock()
	defer l.mu.Unlock()
	return l.isParticipant(negotiationID, agentID)
}

func (l *Log) isParticipant(negotiationID, agentID string) bool {
	for _, p := range l.participants[negotiationID] {
		if p.AgentID == agentID {
			return true
		}
	}
	return false
}

// HasRole reports whether some party already negotiates for role.
func (l *Log) HasRole(negotiationID string, role Role) bool {
	l.mu.Lock()
	defer l.mu.Unlock()

	for _, p := range l.participants[negotiationID] {
		if p.Role == role {
			return true
		}
	}
	return false
}

// Participants returns a snapshot of the parties in join order.
func (l *Log) Participants(negotiationID string) []Participant {
	l.mu.Lock()
	defer l.mu.Unlock()

	out := make([]Participant, len(l.participants[negotiationID]))
	copy(out, l.participants[negotiationID])
	return out
}

// NextNegotiationID returns a fresh id. Ids never repeat within one log,
// including ids that were supplied externally.
func (l *Log) NextNegotiationID() string {
	l.mu.Lock()
	defer l.mu.Unlock()

	for {
		l.counter++
		id := strconv.FormatUint(l.counter, 10)
		_, used := l.messages[id]
		_, joined := l.participants[id]
		if !used && !joined {
			return id
		}
	}
}
