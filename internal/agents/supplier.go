package agents

import (
	"errors"
	"fmt"
	"sync"

	"github.com/talgya/bazaar/internal/board"
	"github.com/talgya/bazaar/internal/strategy"
)

// ErrSoldOut is returned when a supplier-side party has no unreserved
// tickets left to open a negotiation with.
var ErrSoldOut = errors.New("no tickets left")

// ErrAlreadyOpen is returned when opening a negotiation id the party is
// already negotiating in.
var ErrAlreadyOpen = errors.New("negotiation already open")

// Stock is a ticket inventory. Every open negotiation reserves one ticket;
// an agreement sells it and any other ending releases it. A negative total
// means unlimited stock.
type Stock struct {
	mu       sync.Mutex
	total    int
	reserved int
	sold     int
}

func newStock(total int) *Stock {
	if total < 0 {
		total = -1
	}
	return &Stock{total: total}
}

func (s *Stock) reserve() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.total >= 0 && s.total-s.reserved-s.sold <= 0 {
		return ErrSoldOut
	}
	s.reserved++
	return nil
}

func (s *Stock) release() {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.reserved > 0 {
		s.reserved--
	}
}

func (s *Stock) sell() {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.reserved > 0 {
		s.reserved--
	}
	s.sold++
}

// Unlimited reports whether the stock never runs out.
func (s *Stock) Unlimited() bool {
	return s.total < 0
}

// Remaining returns the tickets not yet sold, or -1 for unlimited stock.
func (s *Stock) Remaining() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.total < 0 {
		return -1
	}
	return s.total - s.sold
}

// Total returns the tickets the stock started with, or -1 for unlimited
// stock.
func (s *Stock) Total() int {
	return s.total
}

// Sold returns the number of tickets sold.
func (s *Stock) Sold() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.sold
}

// Reserved returns the number of tickets held by open negotiations.
func (s *Stock) Reserved() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.reserved
}

// settleStock is the outcome hook shared by supplier-side parties.
func settleStock(stock *Stock) func(Outcome) {
	return func(o Outcome) {
		if o.Status == board.StatusAccepted {
			stock.sell()
			return
		}
		stock.release()
	}
}

// openNegotiation posts the opening offer of a supplier-side party.
func openNegotiation(a *Agent, stock *Stock, negotiationID string) error {
	if a.isActive(negotiationID) {
		return fmt.Errorf("open %s: %w", negotiationID, ErrAlreadyOpen)
	}
	if err := stock.reserve(); err != nil {
		return fmt.Errorf("open %s: %w", negotiationID, err)
	}
	if err := a.log.Join(negotiationID, a.id, board.RoleSupplier); err != nil {
		stock.release()
		return fmt.Errorf("open %s: %w", negotiationID, err)
	}
	a.activate(negotiationID)

	msg := a.compose(negotiationID, 0, a.log.StartingBudget(), strategy.Decision{
		Price: a.Reference(),
		State: board.StateProcessing,
	})
	if err := a.log.Append(msg); err != nil {
		stock.release()
		a.deactivate(negotiationID)
		return fmt.Errorf("open %s: %w", negotiationID, err)
	}

	a.mu.Lock()
	if a.active[negotiationID] < 0 {
		a.active[negotiationID] = 0
	}
	a.mu.Unlock()
	a.logger.Info("opened negotiation", "negotiation", negotiationID, "price", msg.Price)
	return nil
}

// SupplierParams describes a single seller.
type SupplierParams struct {
	Floor      float64       `yaml:"floor" json:"floor"`
	FirstPrice float64       `yaml:"first_price" json:"first_price"`
	Strategy   strategy.Kind `yaml:"strategy" json:"strategy"`
	Company    string        `yaml:"company" json:"company"`
	Tickets    int           `yaml:"tickets" json:"tickets"` // <= 0 means unlimited
}

// Supplier sells tickets. It only negotiates in negotiations it opened.
type Supplier struct {
	*Agent
	params SupplierParams
	stock  *Stock
}

// NewSupplier creates a supplier bound to log. Unknown strategy kinds fall
// back to the default strategy.
func NewSupplier(id string, log *board.Log, p SupplierParams, opts ...Option) *Supplier {
	o := applyOptions(opts)
	if p.Strategy == "" {
		p.Strategy = strategy.KindDefault
	}
	tickets := p.Tickets
	if tickets <= 0 {
		tickets = -1
	}
	s := &Supplier{params: p, stock: newStock(tickets)}
	s.Agent = newAgent(log, agentSpec{
		id:        id,
		role:      board.RoleSupplier,
		company:   p.Company,
		boundary:  p.Floor,
		reference: p.FirstPrice,
		kind:      p.Strategy,
		decide:    strategy.ForSupplier(p.Strategy, o.policy),
		join:      joinNever,
	}, o)
	s.onSettle = settleStock(s.stock)
	return s
}

// Floor returns the lowest price the supplier sells at.
func (s *Supplier) Floor() float64 { return s.params.Floor }

// FirstPrice returns the opening price the supplier was created with.
func (s *Supplier) FirstPrice() float64 { return s.params.FirstPrice }

// Stock returns the supplier's ticket inventory.
func (s *Supplier) Stock() *Stock { return s.stock }

// StartNegotiation opens a negotiation under a fresh id from the log.
func (s *Supplier) StartNegotiation() (string, error) {
	id := s.log.NextNegotiationID()
	if err := openNegotiation(s.Agent, s.stock, id); err != nil {
		return "", err
	}
	return id, nil
}

// StartNegotiationWithID opens a negotiation under an externally chosen id.
func (s *Supplier) StartNegotiationWithID(negotiationID string) error {
	return openNegotiation(s.Agent, s.stock, negotiationID)
}
