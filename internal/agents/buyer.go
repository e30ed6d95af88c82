package agents

import (
	"github.com/talgya/bazaar/internal/board"
	"github.com/talgya/bazaar/internal/strategy"
)

// BuyerParams describes a single buyer.
type BuyerParams struct {
	Ceiling    float64       `yaml:"ceiling" json:"ceiling"`
	FirstPrice float64       `yaml:"first_price" json:"first_price"`
	Strategy   strategy.Kind `yaml:"strategy" json:"strategy"`
	Favourite  []string      `yaml:"favourite" json:"favourite,omitempty"`
	Worst      []string      `yaml:"worst" json:"worst,omitempty"`
	Blocked    []string      `yaml:"blocked" json:"blocked,omitempty"`
}

// Buyer answers any negotiation that has no buyer-side party yet.
type Buyer struct {
	*Agent
	params BuyerParams
}

// NewBuyer creates a buyer bound to log. Unknown strategy kinds fall back to
// the default strategy.
func NewBuyer(id string, log *board.Log, p BuyerParams, opts ...Option) *Buyer {
	o := applyOptions(opts)
	if p.Strategy == "" {
		p.Strategy = strategy.KindDefault
	}
	b := &Buyer{params: p}
	b.Agent = newAgent(log, agentSpec{
		id:        id,
		role:      board.RoleBuyer,
		boundary:  p.Ceiling,
		reference: p.FirstPrice,
		kind:      p.Strategy,
		prefs: strategy.Preferences{
			Favourite: p.Favourite,
			Worst:     p.Worst,
			Blocked:   p.Blocked,
		},
		decide: strategy.ForBuyer(p.Strategy, o.policy),
		join:   joinAsBuyer,
	}, o)
	return b
}

// Ceiling returns the most the buyer will pay.
func (b *Buyer) Ceiling() float64 { return b.params.Ceiling }

// FirstPrice returns the reference price the buyer was created with.
func (b *Buyer) FirstPrice() float64 { return b.params.FirstPrice }
