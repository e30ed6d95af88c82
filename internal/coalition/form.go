package coalition

import (
	"cmp"
	"errors"
	"fmt"
	"log/slog"
	"slices"

	"github.com/talgya/bazaar/internal/agents"
	"github.com/talgya/bazaar/internal/board"
	"github.com/talgya/bazaar/internal/entropy"
)

// ErrUnknownMethod is returned for an unrecognised formation method.
var ErrUnknownMethod = errors.New("unknown coalition method")

// Method selects a formation algorithm.
type Method string

const (
	MethodNone    Method = "none"
	MethodGreedy  Method = "greedy"
	MethodOptimal Method = "optimal"
	MethodToken   Method = "token"
)

// ParseMethod validates a method name. The empty string means none.
func ParseMethod(name string) (Method, error) {
	switch m := Method(name); m {
	case "":
		return MethodNone, nil
	case MethodNone, MethodGreedy, MethodOptimal, MethodToken:
		return m, nil
	}
	return "", fmt.Errorf("%w: %q", ErrUnknownMethod, name)
}

// DefaultTokenIterations bounds the rounds of token pairing.
const DefaultTokenIterations = 10

// Options configures FormBuyers and FormSuppliers.
type Options struct {
	Method     Method
	MaxSize    int // 0 means DefaultMaxSize
	Iterations int // token rounds, 0 means DefaultTokenIterations
	Seed       int64

	// AgentOptions are passed to every coalition agent created.
	AgentOptions []agents.Option
}

func (o Options) maxSize() int {
	if o.MaxSize <= 0 {
		return DefaultMaxSize
	}
	return o.MaxSize
}

func (o Options) iterations() int {
	if o.Iterations <= 0 {
		return DefaultTokenIterations
	}
	return o.Iterations
}

// BuyerGroups is the buyer side after formation.
type BuyerGroups struct {
	Coalitions []*agents.BuyerCoalition
	Singles    []*agents.Buyer
}

// Parties returns every party that should be scheduled: coalitions first,
// then the buyers left on their own.
func (g BuyerGroups) Parties() []agents.Party {
	out := make([]agents.Party, 0, len(g.Coalitions)+len(g.Singles))
	for _, c := range g.Coalitions {
		out = append(out, c)
	}
	for _, b := range g.Singles {
		out = append(out, b)
	}
	return out
}

// SupplierGroups is the supplier side after formation.
type SupplierGroups struct {
	Coalitions []*agents.SupplierCoalition
	Singles    []*agents.Supplier
}

// Openers returns every party that opens negotiations: coalitions first,
// then the suppliers left on their own.
func (g SupplierGroups) Openers() []agents.Opener {
	out := make([]agents.Opener, 0, len(g.Coalitions)+len(g.Singles))
	for _, c := range g.Coalitions {
		out = append(out, c)
	}
	for _, s := range g.Singles {
		out = append(out, s)
	}
	return out
}

func byCeilingDesc(a, b *agents.Buyer) int { return cmp.Compare(b.Ceiling(), a.Ceiling()) }
func byFloorAsc(a, b *agents.Supplier) int { return cmp.Compare(a.Floor(), b.Floor()) }
func buyerID(b *agents.Buyer) string       { return b.ID() }
func supplierID(s *agents.Supplier) string { return s.ID() }

// partition runs the chosen method. Token pairing always runs exclusively so
// that no agent lands in two coalitions.
func partition[T any](roster []T, o Options, order func(a, b T) int, value func([]T) float64, id func(T) string) (Partition[T], error) {
	switch o.Method {
	case "", MethodNone:
		return Partition[T]{Singles: roster}, nil
	case MethodGreedy:
		return Greedy(roster, o.maxSize(), order), nil
	case MethodOptimal:
		sorted := slices.Clone(roster)
		slices.SortStableFunc(sorted, order)
		return Optimal(sorted, o.maxSize(), value), nil
	case MethodToken:
		rng := entropy.NewRand(o.Seed, 500)
		pairs := TokenPairs(roster, o.iterations(), rng, id, true)
		grouped := make(map[string]struct{}, 2*len(pairs))
		for _, pair := range pairs {
			for _, m := range pair {
				grouped[id(m)] = struct{}{}
			}
		}
		p := Partition[T]{Groups: pairs}
		for _, m := range roster {
			if _, ok := grouped[id(m)]; !ok {
				p.Singles = append(p.Singles, m)
			}
		}
		return p, nil
	}
	return Partition[T]{}, fmt.Errorf("%w: %q", ErrUnknownMethod, o.Method)
}

// FormBuyers groups buyers into coalitions with ids BC-1, BC-2, ...
// Greedy and optimal formation order buyers by descending ceiling.
func FormBuyers(log *board.Log, roster []*agents.Buyer, o Options) (BuyerGroups, error) {
	p, err := partition(roster, o, byCeilingDesc, agents.BuyerCoalitionValue, buyerID)
	if err != nil {
		return BuyerGroups{}, err
	}
	out := BuyerGroups{Singles: p.Singles}
	for i, members := range p.Groups {
		c, err := agents.NewBuyerCoalition(fmt.Sprintf("BC-%d", i+1), log, members, o.AgentOptions...)
		if err != nil {
			return BuyerGroups{}, fmt.Errorf("form buyer coalition %d: %w", i+1, err)
		}
		slog.Debug("buyer coalition formed", "coalition", c.ID(), "members", len(members),
			"ceiling", c.Ceiling(), "value", c.Value(), "method", string(o.Method))
		out.Coalitions = append(out.Coalitions, c)
	}
	return out, nil
}

// FormSuppliers groups suppliers into coalitions with ids SC-1, SC-2, ...
// Greedy and optimal formation order suppliers by ascending floor.
func FormSuppliers(log *board.Log, roster []*agents.Supplier, o Options) (SupplierGroups, error) {
	p, err := partition(roster, o, byFloorAsc, agents.SupplierCoalitionValue, supplierID)
	if err != nil {
		return SupplierGroups{}, err
	}
	out := SupplierGroups{Singles: p.Singles}
	for i, members := range p.Groups {
		c, err := agents.NewSupplierCoalition(fmt.Sprintf("SC-%d", i+1), log, members, o.AgentOptions...)
		if err != nil {
			return SupplierGroups{}, fmt.Errorf("form supplier coalition %d: %w", i+1, err)
		}
		slog.Debug("supplier coalition formed", "coalition", c.ID(), "members", len(members),
			"floor", c.Floor(), "value", c.Value(), "method", string(o.Method))
		out.Coalitions = append(out.Coalitions, c)
	}
	return out, nil
}
