// Package agents implements the negotiating parties: suppliers, buyers, and
// coalitions of either. Every party runs the same driver loop on its own
// goroutine and talks to the others only through a shared board.Log.
package agents

import (
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"sync/atomic"
	"time"

	"github.com/talgya/bazaar/internal/board"
	"github.com/talgya/bazaar/internal/strategy"
)

// DefaultTickInterval is how long an agent sleeps between draining its
// pending negotiations.
const DefaultTickInterval = 100 * time.Millisecond

// Party is anything that can be scheduled against a log.
type Party interface {
	ID() string
	Role() board.Role
	Start()
	Stop()
	Wait()
}

// Opener is a supplier-side party that can open negotiations.
type Opener interface {
	Party
	StartNegotiation() (string, error)
	Company() string
	Stock() *Stock
	Negotiations() []string
	Outcomes() []Outcome
}

// Outcome is how a negotiation ended from one agent's point of view.
type Outcome struct {
	NegotiationID string       `json:"negotiation_id"`
	Status        board.Status `json:"status"`
	Price         float64      `json:"price"`
}

// Option configures an agent.
type Option func(*options)

type options struct {
	interval time.Duration
	policy   strategy.Policy
	logger   *slog.Logger
}

func defaultOptions() options {
	return options{
		interval: DefaultTickInterval,
		policy:   strategy.DefaultPolicy(),
		logger:   slog.Default(),
	}
}

func applyOptions(opts []Option) options {
	o := defaultOptions()
	for _, opt := range opts {
		opt(&o)
	}
	return o
}

// WithTickInterval sets the scheduling interval.
func WithTickInterval(d time.Duration) Option {
	return func(o *options) {
		if d > 0 {
			o.interval = d
		}
	}
}

// WithPolicy selects the strategy variants used where historical behaviour
// disagrees.
func WithPolicy(p strategy.Policy) Option {
	return func(o *options) { o.policy = p }
}

// WithLogger sets the base logger. The agent adds its id and role.
func WithLogger(l *slog.Logger) Option {
	return func(o *options) {
		if l != nil {
			o.logger = l
		}
	}
}

// joinRule decides whether the agent may take part in a negotiation it has
// not been active in yet.
type joinRule func(a *Agent, negotiationID string) error

var errNotOpener = errors.New("negotiation was not opened by this agent")

func joinAsBuyer(a *Agent, negotiationID string) error {
	return a.log.Join(negotiationID, a.id, board.RoleBuyer)
}

func joinNever(*Agent, string) error {
	return errNotOpener
}

// Agent is the shared negotiate-respond-terminate driver. Concrete parties
// embed it and supply a strategy, a join rule and an outcome hook.
type Agent struct {
	id       string
	role     board.Role
	company  string
	boundary float64
	kind     strategy.Kind
	prefs    strategy.Preferences
	decide   strategy.Func
	join     joinRule
	onSettle func(Outcome)

	log      *board.Log
	logger   *slog.Logger
	interval time.Duration

	pendingMu sync.Mutex
	pending   map[string]struct{}

	mu        sync.Mutex
	reference float64
	active    map[string]int // negotiation id -> last sequence sent by this agent
	outcomes  map[string]Outcome
	faults    []error

	startOnce sync.Once
	stopOnce  sync.Once
	started   atomic.Bool
	quit      chan struct{}
	done      chan struct{}
}

type agentSpec struct {
	id        string
	role      board.Role
	company   string
	boundary  float64
	reference float64
	kind      strategy.Kind
	prefs     strategy.Preferences
	decide    strategy.Func
	join      joinRule
}

func newAgent(log *board.Log, spec agentSpec, o options) *Agent {
	return &Agent{
		id:        spec.id,
		role:      spec.role,
		company:   spec.company,
		boundary:  spec.boundary,
		kind:      spec.kind,
		prefs:     spec.prefs,
		decide:    spec.decide,
		join:      spec.join,
		log:       log,
		logger:    o.logger.With("agent", spec.id, "role", string(spec.role)),
		interval:  o.interval,
		pending:   make(map[string]struct{}),
		reference: spec.reference,
		active:    make(map[string]int),
		outcomes:  make(map[string]Outcome),
		quit:      make(chan struct{}),
		done:      make(chan struct{}),
	}
}

func (a *Agent) ID() string                        { return a.id }
func (a *Agent) Role() board.Role                  { return a.role }
func (a *Agent) Company() string                   { return a.company }
func (a *Agent) Boundary() float64                 { return a.boundary }
func (a *Agent) Kind() strategy.Kind               { return a.kind }
func (a *Agent) Preferences() strategy.Preferences { return a.prefs }

// Reference returns the agent's current reference price.
func (a *Agent) Reference() float64 {
	a.mu.Lock()
	defer a.mu.Unlock()
	return a.reference
}

// Notify marks a negotiation as pending. It runs on the appending goroutine
// and never touches the log.
func (a *Agent) Notify(negotiationID string) {
	a.pendingMu.Lock()
	a.pending[negotiationID] = struct{}{}
	a.pendingMu.Unlock()
}

// Start subscribes the agent to the log and launches its goroutine. Calling
// Start more than once, or after Stop, does nothing.
func (a *Agent) Start() {
	a.startOnce.Do(func() {
		select {
		case <-a.quit:
			return
		default:
		}
		a.started.Store(true)
		a.log.Subscribe(a)
		go a.run()
	})
}

// Stop asks the goroutine to exit at its next tick and unsubscribes from the
// log. It does not wait; use Wait for that.
func (a *Agent) Stop() {
	a.stopOnce.Do(func() {
		a.log.Unsubscribe(a)
		close(a.quit)
	})
}

// Wait blocks until the agent goroutine has exited. It returns immediately
// for an agent that was never started.
func (a *Agent) Wait() {
	if !a.started.Load() {
		return
	}
	<-a.done
}

func (a *Agent) run() {
	defer close(a.done)
	a.logger.Debug("agent started", "interval", a.interval)

	ticker := time.NewTicker(a.interval)
	defer ticker.Stop()

	for {
		select {
		case <-a.quit:
			a.flush()
			a.logger.Debug("agent stopped")
			return
		case <-ticker.C:
			a.drain()
		}
	}
}

func (a *Agent) takePending() []string {
	a.pendingMu.Lock()
	defer a.pendingMu.Unlock()
	if len(a.pending) == 0 {
		return nil
	}
	ids := make([]string, 0, len(a.pending))
	for id := range a.pending {
		ids = append(ids, id)
	}
	clear(a.pending)
	return ids
}

// drain handles every negotiation marked pending since the last tick.
func (a *Agent) drain() {
	for _, id := range a.takePending() {
		a.handle(id)
	}
}

// flush settles every negotiation the agent took part in that has closed
// but not been settled yet, without replying to open ones. It reads the log
// directly because a notification can still be in flight when the agent is
// stopped. Outcomes are final once Wait returns.
func (a *Agent) flush() {
	a.takePending()
	for _, id := range a.unsettled() {
		if last, ok := a.log.Last(id); ok && last.Closed() {
			a.settle(id, last)
		}
	}
}

func (a *Agent) unsettled() []string {
	a.mu.Lock()
	defer a.mu.Unlock()
	var ids []string
	for id := range a.active {
		if _, done := a.outcomes[id]; !done {
			ids = append(ids, id)
		}
	}
	return ids
}

func (a *Agent) handle(negotiationID string) {
	last, ok := a.log.Last(negotiationID)
	if !ok {
		return
	}
	if last.Closed() {
		a.settle(negotiationID, last)
		return
	}
	if last.SenderRole == a.role {
		return
	}

	if !a.isActive(negotiationID) {
		if err := a.join(a, negotiationID); err != nil {
			a.logger.Debug("not joining negotiation", "negotiation", negotiationID, "reason", err)
			return
		}
		a.activate(negotiationID)
	}

	d := a.decide(strategy.Input{
		Reference: a.Reference(),
		Boundary:  a.boundary,
		Offer:     last.Price,
		Company:   last.Company,
		Prefs:     a.prefs,
	})
	if err := strategy.CheckBoundary(a.role, a.kind, a.boundary, d); err != nil {
		a.fault(negotiationID, err)
		d = strategy.Decision{State: board.StateAborted}
	}

	a.send(negotiationID, last, d)
}

func (a *Agent) send(negotiationID string, last board.Message, d strategy.Decision) {
	msg := a.compose(negotiationID, last.Sequence+1, last.Remaining-1, d)
	err := a.log.Append(msg)
	switch {
	case err == nil:
	case errors.Is(err, board.ErrNegotiationClosed):
		a.logger.Debug("counterpart closed first", "negotiation", negotiationID)
		return
	case errors.Is(err, board.ErrSequenceViolation):
		a.fault(negotiationID, err)
		a.abortAfterViolation(negotiationID)
		return
	default:
		a.fault(negotiationID, err)
		return
	}

	a.mu.Lock()
	a.active[negotiationID] = msg.Sequence
	if d.State == board.StateProcessing {
		a.reference = d.Price
	}
	a.mu.Unlock()

	a.logger.Debug("sent", "negotiation", negotiationID, "sequence", msg.Sequence,
		"price", msg.Price, "state", string(msg.State), "remaining", msg.Remaining)
}

// abortAfterViolation closes a negotiation whose integrity was broken. The
// original offer is never retried.
func (a *Agent) abortAfterViolation(negotiationID string) {
	last, ok := a.log.Last(negotiationID)
	if !ok || last.Closed() {
		return
	}
	msg := a.compose(negotiationID, last.Sequence+1, last.Remaining-1, strategy.Decision{State: board.StateAborted})
	if err := a.log.Append(msg); err != nil {
		a.logger.Error("abort after sequence violation failed", "negotiation", negotiationID, "error", err)
		return
	}
	a.mu.Lock()
	a.active[negotiationID] = msg.Sequence
	a.mu.Unlock()
}

func (a *Agent) compose(negotiationID string, seq, remaining int, d strategy.Decision) board.Message {
	return board.Message{
		NegotiationID: negotiationID,
		SenderID:      a.id,
		SenderRole:    a.role,
		Sequence:      seq,
		Price:         d.Price,
		State:         d.State,
		Remaining:     remaining,
		Company:       a.company,
	}
}

// settle records how a negotiation the agent took part in ended. It runs at
// most once per negotiation.
func (a *Agent) settle(negotiationID string, last board.Message) {
	a.mu.Lock()
	if _, ok := a.active[negotiationID]; !ok {
		a.mu.Unlock()
		return
	}
	if _, done := a.outcomes[negotiationID]; done {
		a.mu.Unlock()
		return
	}
	out := Outcome{NegotiationID: negotiationID}
	switch {
	case last.State == board.StateAccepted:
		out.Status = board.StatusAccepted
		out.Price = last.Price
	case last.State == board.StateAborted:
		out.Status = board.StatusAborted
	default:
		out.Status = board.StatusTimeout
	}
	a.outcomes[negotiationID] = out
	a.mu.Unlock()

	switch out.Status {
	case board.StatusAccepted:
		a.logger.Info("agreed", "negotiation", negotiationID, "price", out.Price)
	case board.StatusAborted:
		a.logger.Info("no agreement", "negotiation", negotiationID)
	default:
		a.logger.Info("negotiation timed out", "negotiation", negotiationID)
	}
	if a.onSettle != nil {
		a.onSettle(out)
	}
}

func (a *Agent) isActive(negotiationID string) bool {
	a.mu.Lock()
	defer a.mu.Unlock()
	_, ok := a.active[negotiationID]
	return ok
}

func (a *Agent) activate(negotiationID string) {
	a.mu.Lock()
	defer a.mu.Unlock()
	if _, ok := a.active[negotiationID]; !ok {
		a.active[negotiationID] = -1
	}
}

func (a *Agent) deactivate(negotiationID string) {
	a.mu.Lock()
	defer a.mu.Unlock()
	delete(a.active, negotiationID)
}

func (a *Agent) fault(negotiationID string, err error) {
	err = fmt.Errorf("negotiation %s: %w", negotiationID, err)
	a.logger.Error("negotiation fault", "negotiation", negotiationID, "error", err)
	a.mu.Lock()
	a.faults = append(a.faults, err)
	a.mu.Unlock()
}

// Errors returns every fault the agent recorded, oldest first.
func (a *Agent) Errors() []error {
	a.mu.Lock()
	defer a.mu.Unlock()
	out := make([]error, len(a.faults))
	copy(out, a.faults)
	return out
}

// Outcome returns how a negotiation ended for this agent, once settled.
func (a *Agent) Outcome(negotiationID string) (Outcome, bool) {
	a.mu.Lock()
	defer a.mu.Unlock()
	out, ok := a.outcomes[negotiationID]
	return out, ok
}

// Outcomes returns every settled negotiation.
func (a *Agent) Outcomes() []Outcome {
	a.mu.Lock()
	defer a.mu.Unlock()
	out := make([]Outcome, 0, len(a.outcomes))
	for _, o := range a.outcomes {
		out = append(out, o)
	}
	return out
}

// Negotiations returns the ids the agent is or was active in.
func (a *Agent) Negotiations() []string {
	a.mu.Lock()
	defer a.mu.Unlock()
	out := make([]string, 0, len(a.active))
	for id := range a.active {
		out = append(out, id)
	}
	return out
}

// LastSequence returns the sequence number of the agent's latest message in
// a negotiation, or -1 when it joined but has not sent anything yet.
func (a *Agent) LastSequence(negotiationID string) (int, bool) {
	a.mu.Lock()
	defer a.mu.Unlock()
	seq, ok := a.active[negotiationID]
	return seq, ok
}
