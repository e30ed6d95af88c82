package agents

import (
	"errors"
	"strings"

	"github.com/talgya/bazaar/internal/board"
	"github.com/talgya/bazaar/internal/strategy"
)

// ErrEmptyCoalition is returned when constructing a coalition without members.
var ErrEmptyCoalition = errors.New("coalition needs at least one member")

const (
	buyerMemberWorth    = 10.0
	supplierMemberWorth = 15.0
	sizeBonus           = 0.05 // buyer coalitions grow more valuable with size
	strategyBonus       = 0.2  // reward for mixing strategies
	floorSpreadScale    = 1000.0
	supplierMarkup      = 1.5 // supplier coalitions open at 1.5x the highest floor
	buyerOpeningShare   = 0.5
)

func strategyFactor(kinds []strategy.Kind) float64 {
	distinct := make(map[strategy.Kind]struct{}, len(kinds))
	for _, k := range kinds {
		distinct[k] = struct{}{}
	}
	return 1 + strategyBonus*float64(len(distinct))/float64(len(kinds))
}

// BuyerCoalitionValue scores a group of buyers for coalition formation. It
// is never used for pricing.
func BuyerCoalitionValue(members []*Buyer) float64 {
	n := len(members)
	if n == 0 {
		return 0
	}
	kinds := make([]strategy.Kind, n)
	for i, m := range members {
		kinds[i] = m.Kind()
	}
	return float64(n) * buyerMemberWorth * (1 + sizeBonus*float64(n)) * strategyFactor(kinds)
}

// SupplierCoalitionValue scores a group of suppliers. A wider spread of
// floors and a mix of strategies are worth more.
func SupplierCoalitionValue(members []*Supplier) float64 {
	n := len(members)
	if n == 0 {
		return 0
	}
	kinds := make([]strategy.Kind, n)
	lo, hi := members[0].Floor(), members[0].Floor()
	for i, m := range members {
		kinds[i] = m.Kind()
		lo = min(lo, m.Floor())
		hi = max(hi, m.Floor())
	}
	diversity := 1 + (hi-lo)/floorSpreadScale
	return float64(n) * supplierMemberWorth * diversity * strategyFactor(kinds)
}

// BuyerCoalition negotiates as one buyer on behalf of its members. Members
// are never scheduled on their own.
type BuyerCoalition struct {
	*Agent
	members []*Buyer
	value   float64
}

// NewBuyerCoalition pools members into one buyer-side party: the highest
// ceiling, the lowest reference price, the union of preferences, and the
// aggressive strategy if any member uses it.
func NewBuyerCoalition(id string, log *board.Log, members []*Buyer, opts ...Option) (*BuyerCoalition, error) {
	if len(members) == 0 {
		return nil, ErrEmptyCoalition
	}
	o := applyOptions(opts)

	ceiling := members[0].Ceiling()
	for _, m := range members[1:] {
		ceiling = max(ceiling, m.Ceiling())
	}

	var reference float64
	kind := strategy.KindDefault
	prefs := make([]strategy.Preferences, len(members))
	for i, m := range members {
		ref := m.Reference()
		if ref <= 0 {
			ref = ceiling * buyerOpeningShare
		}
		if i == 0 || ref < reference {
			reference = ref
		}
		if m.Kind() == strategy.KindAggressive {
			kind = strategy.KindAggressive
		}
		prefs[i] = m.Preferences()
	}

	c := &BuyerCoalition{
		members: append([]*Buyer(nil), members...),
		value:   BuyerCoalitionValue(members),
	}
	c.Agent = newAgent(log, agentSpec{
		id:        id,
		role:      board.RoleBuyer,
		boundary:  ceiling,
		reference: reference,
		kind:      kind,
		prefs:     strategy.Union(prefs...),
		decide:    strategy.ForBuyer(kind, o.policy),
		join:      joinAsBuyer,
	}, o)
	return c, nil
}

// Members returns the coalition's buyers.
func (c *BuyerCoalition) Members() []*Buyer {
	return append([]*Buyer(nil), c.members...)
}

// Value returns the coalition's formation score.
func (c *BuyerCoalition) Value() float64 { return c.value }

// Ceiling returns the pooled ceiling.
func (c *BuyerCoalition) Ceiling() float64 { return c.boundary }

// SupplierCoalition sells the pooled tickets of its members as one supplier.
type SupplierCoalition struct {
	*Agent
	members []*Supplier
	stock   *Stock
	value   float64
}

// NewSupplierCoalition pools members into one supplier-side party: the mean
// floor, an opening price of 1.5x the highest floor, the sum of member
// tickets, and the conciliatory strategy if any member uses it.
func NewSupplierCoalition(id string, log *board.Log, members []*Supplier, opts ...Option) (*SupplierCoalition, error) {
	if len(members) == 0 {
		return nil, ErrEmptyCoalition
	}
	o := applyOptions(opts)

	var sum, reference float64
	tickets := 0
	unlimited := false
	kind := strategy.KindDefault
	companies := make([]string, len(members))
	for i, m := range members {
		sum += m.Floor()
		reference = max(reference, m.Floor()*supplierMarkup)
		if m.Stock().Unlimited() {
			unlimited = true
		} else {
			tickets += m.Stock().Remaining()
		}
		if m.Kind() == strategy.KindConciliatory {
			kind = strategy.KindConciliatory
		}
		companies[i] = m.Company()
	}
	if unlimited {
		tickets = -1
	}
	floor := sum / float64(len(members))

	c := &SupplierCoalition{
		members: append([]*Supplier(nil), members...),
		stock:   newStock(tickets),
		value:   SupplierCoalitionValue(members),
	}
	c.Agent = newAgent(log, agentSpec{
		id:        id,
		role:      board.RoleSupplier,
		company:   "Coalition-" + strings.Join(companies, "-"),
		boundary:  floor,
		reference: reference,
		kind:      kind,
		decide:    strategy.ForSupplier(kind, o.policy),
		join:      joinNever,
	}, o)
	c.onSettle = settleStock(c.stock)
	return c, nil
}

// Members returns the coalition's suppliers.
func (c *SupplierCoalition) Members() []*Supplier {
	return append([]*Supplier(nil), c.members...)
}

// Value returns the coalition's formation score.
func (c *SupplierCoalition) Value() float64 { return c.value }

// Floor returns the pooled floor.
func (c *SupplierCoalition) Floor() float64 { return c.boundary }

// Stock returns the pooled ticket inventory.
func (c *SupplierCoalition) Stock() *Stock { return c.stock }

// StartNegotiation opens a negotiation under a fresh id from the log.
func (c *SupplierCoalition) StartNegotiation() (string, error) {
	id := c.log.NextNegotiationID()
	if err := openNegotiation(c.Agent, c.stock, id); err != nil {
		return "", err
	}
	return id, nil
}

// StartNegotiationWithID opens a negotiation under an externally chosen id.
func (c *SupplierCoalition) StartNegotiationWithID(negotiationID string) error {
	return openNegotiation(c.Agent, c.stock, negotiationID)
}
