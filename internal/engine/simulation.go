// Simulation ties a population to a log and runs one experiment.
package engine

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/talgya/bazaar/internal/agents"
	"github.com/talgya/bazaar/internal/board"
	"github.com/talgya/bazaar/internal/coalition"
	"github.com/talgya/bazaar/internal/entropy"
)

// DefaultStagger is the pause between two negotiation openings.
const DefaultStagger = 200 * time.Millisecond

// Config controls how a run is driven.
type Config struct {
	NegotiationsPerOpener int           // negotiations each supplier-side party opens
	Stagger               time.Duration // pause between openings
	PollInterval          time.Duration // completion check interval
	Timeout               time.Duration // give up waiting after this long
}

// DefaultConfig returns the classic driver settings: one negotiation per
// supplier, 200ms between openings, polled every 500ms for up to 30s.
func DefaultConfig() Config {
	return Config{
		NegotiationsPerOpener: 1,
		Stagger:               DefaultStagger,
		PollInterval:          DefaultPollInterval,
		Timeout:               DefaultTimeout,
	}
}

// Roster describes how to build the parties of a run.
type Roster struct {
	Spawn              agents.SpawnConfig
	SupplierCoalitions coalition.Options
	BuyerCoalitions    coalition.Options

	// AgentOptions are applied to every agent, including coalitions unless
	// their formation options carry their own.
	AgentOptions []agents.Option
}

// Populate spawns the roster's agents on log and forms coalitions.
func Populate(log *board.Log, r Roster) (coalition.SupplierGroups, coalition.BuyerGroups, error) {
	spawner := agents.NewSpawner(r.Spawn, r.AgentOptions...)

	so := r.SupplierCoalitions
	if so.AgentOptions == nil {
		so.AgentOptions = r.AgentOptions
	}
	sellers, err := coalition.FormSuppliers(log, spawner.SpawnSuppliers(log), so)
	if err != nil {
		return coalition.SupplierGroups{}, coalition.BuyerGroups{}, fmt.Errorf("suppliers: %w", err)
	}

	bo := r.BuyerCoalitions
	if bo.AgentOptions == nil {
		bo.AgentOptions = r.AgentOptions
	}
	buyers, err := coalition.FormBuyers(log, spawner.SpawnBuyers(log), bo)
	if err != nil {
		return coalition.SupplierGroups{}, coalition.BuyerGroups{}, fmt.Errorf("buyers: %w", err)
	}

	slog.Info("population ready",
		"suppliers", r.Spawn.Suppliers,
		"buyers", r.Spawn.Buyers,
		"supplier_coalitions", len(sellers.Coalitions),
		"buyer_coalitions", len(buyers.Coalitions),
	)
	return sellers, buyers, nil
}

// Simulation holds one run's log and parties.
type Simulation struct {
	Log       *board.Log
	Suppliers coalition.SupplierGroups
	Buyers    coalition.BuyerGroups

	cfg        Config
	coalitions map[string]bool
}

// NewSimulation wires the given parties to log. Zero fields in cfg take
// their defaults, except Stagger where zero means no pause.
func NewSimulation(log *board.Log, suppliers coalition.SupplierGroups, buyers coalition.BuyerGroups, cfg Config) *Simulation {
	if cfg.NegotiationsPerOpener <= 0 {
		cfg.NegotiationsPerOpener = 1
	}
	if cfg.PollInterval <= 0 {
		cfg.PollInterval = DefaultPollInterval
	}
	if cfg.Timeout <= 0 {
		cfg.Timeout = DefaultTimeout
	}

	index := make(map[string]bool)
	for _, c := range suppliers.Coalitions {
		index[c.ID()] = true
	}
	for _, c := range buyers.Coalitions {
		index[c.ID()] = true
	}
	return &Simulation{
		Log:        log,
		Suppliers:  suppliers,
		Buyers:     buyers,
		cfg:        cfg,
		coalitions: index,
	}
}

// Parties returns every scheduled party, buyer side first.
func (s *Simulation) Parties() []agents.Party {
	parties := s.Buyers.Parties()
	for _, o := range s.Suppliers.Openers() {
		parties = append(parties, o)
	}
	return parties
}

// IsCoalition reports whether id names a coalition of this run.
func (s *Simulation) IsCoalition(id string) bool {
	return s.coalitions[id]
}

// Run starts every party, opens negotiations, waits for them to close and
// stops the parties again. A run that hits the timeout is not an error: its
// open negotiations are reported as unfinished. Cancelling ctx returns the
// partial result together with the context error.
func (s *Simulation) Run(ctx context.Context) (*Result, error) {
	res := &Result{
		RunID:   entropy.NewRunID(time.Now()),
		Started: time.Now(),
	}
	logger := slog.With("run", res.RunID)

	parties := s.Parties()
	for _, p := range parties {
		p.Start()
	}
	logger.Info("run started", "parties", len(parties), "per_opener", s.cfg.NegotiationsPerOpener)

	opened, err := s.open(ctx)
	if err == nil {
		eng := NewEngine()
		eng.Interval = s.cfg.PollInterval
		eng.Timeout = s.cfg.Timeout
		eng.OnTick = func(uint64) bool { return s.closed(opened) }
		err = eng.Run(ctx)
	}
	if errors.Is(err, ErrTimeout) {
		logger.Warn("run timed out", "timeout", s.cfg.Timeout)
		res.TimedOut = true
		err = nil
	}

	for _, p := range parties {
		p.Stop()
	}
	for _, p := range parties {
		p.Wait()
	}

	res.Finished = time.Now()
	res.Negotiations = s.collect(opened)
	res.Stats = Summarize(res.Negotiations)
	res.Inventory = s.inventory()
	res.Faults = faults(parties)

	logger.Info("run finished",
		"negotiations", res.Stats.Total,
		"accepted", res.Stats.Accepted,
		"aborted", res.Stats.Aborted,
		"timeout", res.Stats.TimedOut,
		"unfinished", res.Stats.Unfinished,
		"avg_price", fmt.Sprintf("%.2f", res.Stats.AvgPrice),
		"faults", len(res.Faults),
		"elapsed", res.Finished.Sub(res.Started).Round(time.Millisecond),
	)
	return res, err
}

// open has every opener start its negotiations, round by round.
func (s *Simulation) open(ctx context.Context) ([]string, error) {
	openers := s.Suppliers.Openers()
	var opened []string
	for round := 0; round < s.cfg.NegotiationsPerOpener; round++ {
		for _, o := range openers {
			id, err := o.StartNegotiation()
			switch {
			case errors.Is(err, agents.ErrSoldOut):
				slog.Debug("opener sold out", "agent", o.ID(), "round", round)
				continue
			case err != nil:
				slog.Warn("could not open negotiation", "agent", o.ID(), "error", err)
				continue
			}
			opened = append(opened, id)

			if s.cfg.Stagger > 0 {
				select {
				case <-ctx.Done():
					return opened, ctx.Err()
				case <-time.After(s.cfg.Stagger):
				}
			}
		}
	}
	return opened, ctx.Err()
}

func (s *Simulation) closed(ids []string) bool {
	for _, id := range ids {
		if !s.Log.Status(id).Done() {
			return false
		}
	}
	return true
}

func (s *Simulation) collect(ids []string) []Negotiation {
	out := make([]Negotiation, 0, len(ids))
	for _, id := range ids {
		n := Negotiation{ID: id, Status: s.Log.Status(id), Kind: KindOneToOne}
		for _, p := range s.Log.Participants(id) {
			switch p.Role {
			case board.RoleSupplier:
				n.Supplier = p.AgentID
			case board.RoleBuyer:
				n.Buyer = p.AgentID
			}
			if s.IsCoalition(p.AgentID) {
				n.Kind = KindOneToCoalition
			}
		}
		msgs := s.Log.All(id)
		n.Messages = len(msgs)
		if len(msgs) > 0 {
			n.Company = msgs[0].Company
			if n.Status == board.StatusAccepted {
				n.Price = msgs[len(msgs)-1].Price
			}
		}
		out = append(out, n)
	}
	return out
}

// inventory reads every opener's stock once its goroutine has exited.
func (s *Simulation) inventory() []Inventory {
	openers := s.Suppliers.Openers()
	out := make([]Inventory, 0, len(openers))
	for _, o := range openers {
		st := o.Stock()
		out = append(out, Inventory{
			AgentID:   o.ID(),
			Company:   o.Company(),
			Tickets:   st.Total(),
			Sold:      st.Sold(),
			Remaining: st.Remaining(),
			Opened:    len(o.Negotiations()),
			Settled:   len(o.Outcomes()),
		})
	}
	return out
}

func faults(parties []agents.Party) []Fault {
	var out []Fault
	for _, p := range parties {
		f, ok := p.(interface{ Errors() []error })
		if !ok {
			continue
		}
		for _, err := range f.Errors() {
			out = append(out, Fault{AgentID: p.ID(), Err: err})
		}
	}
	return out
}
