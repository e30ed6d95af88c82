// Population spawning: builds the suppliers and buyers of a multi-agent run.
package agents

import (
	"fmt"
	"math/rand"

	opensimplex "github.com/ojrac/opensimplex-go"

	"github.com/talgya/bazaar/internal/board"
	"github.com/talgya/bazaar/internal/entropy"
	"github.com/talgya/bazaar/internal/strategy"
)

// SpawnConfig controls population generation.
type SpawnConfig struct {
	Seed      int64
	Suppliers int
	Buyers    int

	FloorBase   float64 // floor of supplier 0
	FloorStep   float64 // added per supplier index
	CeilingBase float64 // ceiling of buyer 0
	CeilingStep float64 // added per buyer index

	OpeningMarkup float64 // supplier first price = floor × markup
	BuyerOpening  float64 // buyer first price = ceiling × share
	Tickets       int

	BuyerStrategy strategy.Kind

	// Jitter spreads boundaries by up to ±Jitter (a fraction) using smooth
	// noise, so neighbouring agents stay similar. 0 disables it.
	Jitter float64

	// BlockedChance is the probability that a buyer blocks one random
	// supplier company other than its favourite.
	BlockedChance float64
}

// DefaultSpawnConfig mirrors the classic multi-run experiment: floors of
// 300, 350, ... opening at five times the floor, ceilings of 600, 650, ...
// opening at half the ceiling, five tickets per supplier.
func DefaultSpawnConfig() SpawnConfig {
	return SpawnConfig{
		Seed:          42,
		Suppliers:     3,
		Buyers:        3,
		FloorBase:     300,
		FloorStep:     50,
		CeilingBase:   600,
		CeilingStep:   50,
		OpeningMarkup: 5,
		BuyerOpening:  0.5,
		Tickets:       5,
		BuyerStrategy: strategy.KindDefault,
	}
}

// Spawner creates agents for a run.
type Spawner struct {
	cfg   SpawnConfig
	rng   *rand.Rand
	noise opensimplex.Noise
	opts  []Option
}

// NewSpawner creates a spawner. opts are passed to every agent it creates.
func NewSpawner(cfg SpawnConfig, opts ...Option) *Spawner {
	return &Spawner{
		cfg:   cfg,
		rng:   entropy.NewRand(cfg.Seed, 300),
		noise: opensimplex.NewNormalized(cfg.Seed),
		opts:  opts,
	}
}

// jitter returns a multiplier in [1-Jitter, 1+Jitter].
func (s *Spawner) jitter(i int, lane float64) float64 {
	if s.cfg.Jitter <= 0 {
		return 1
	}
	n := s.noise.Eval2(float64(i)*0.37, lane)
	return 1 + s.cfg.Jitter*(2*n-1)
}

// CompanyName is the company tag of supplier i.
func CompanyName(i int) string {
	return fmt.Sprintf("Company%d", i)
}

// SpawnSuppliers creates the supplier population. Even-indexed suppliers are
// conciliatory, odd ones use the default strategy.
func (s *Spawner) SpawnSuppliers(log *board.Log) []*Supplier {
	out := make([]*Supplier, 0, s.cfg.Suppliers)
	for i := 0; i < s.cfg.Suppliers; i++ {
		kind := strategy.KindDefault
		if i%2 == 0 {
			kind = strategy.KindConciliatory
		}
		floor := (s.cfg.FloorBase + float64(i)*s.cfg.FloorStep) * s.jitter(i, 0)
		out = append(out, NewSupplier(fmt.Sprintf("supplier_%d", i), log, SupplierParams{
			Floor:      floor,
			FirstPrice: floor * s.cfg.OpeningMarkup,
			Strategy:   kind,
			Company:    CompanyName(i),
			Tickets:    s.cfg.Tickets,
		}, s.opts...))
	}
	return out
}

// SpawnBuyers creates the buyer population. Buyer i favours Company{i} and
// dislikes the next supplier's company.
func (s *Spawner) SpawnBuyers(log *board.Log) []*Buyer {
	out := make([]*Buyer, 0, s.cfg.Buyers)
	for i := 0; i < s.cfg.Buyers; i++ {
		ceiling := (s.cfg.CeilingBase + float64(i)*s.cfg.CeilingStep) * s.jitter(i, 10)
		p := BuyerParams{
			Ceiling:    ceiling,
			FirstPrice: ceiling * s.cfg.BuyerOpening,
			Strategy:   s.cfg.BuyerStrategy,
			Favourite:  []string{CompanyName(i)},
		}
		if s.cfg.Suppliers > 0 {
			p.Worst = []string{CompanyName((i + 1) % s.cfg.Suppliers)}
		}
		if s.cfg.Suppliers > 1 && s.rng.Float64() < s.cfg.BlockedChance {
			blocked := s.rng.Intn(s.cfg.Suppliers)
			if blocked == i {
				blocked = (blocked + 1) % s.cfg.Suppliers
			}
			p.Blocked = []string{CompanyName(blocked)}
		}
		out = append(out, NewBuyer(fmt.Sprintf("buyer_%d", i), log, p, s.opts...))
	}
	return out
}
