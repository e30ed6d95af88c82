// Package strategy holds the pricing functions agents use to answer offers.
// Every function here is pure: the same input always yields the same decision.
package strategy

import (
	"errors"
	"fmt"
	"slices"

	"github.com/talgya/bazaar/internal/board"
)

// Preference multipliers and thresholds.
const (
	FavouriteDiscount = 0.95
	WorstSurcharge    = 1.05
	GapThreshold      = 0.7  // below this fraction of the floor a supplier sees a large gap
	ConcessionFactor  = 0.95 // conciliatory suppliers soften their floor by this factor
)

// ErrBoundaryExceeded is returned when a decision would leave the agent's
// own boundary without aborting.
var ErrBoundaryExceeded = errors.New("boundary exceeded")

// ErrUnknownKind is returned by ParseKind for unrecognised strategy names.
var ErrUnknownKind = errors.New("unknown strategy kind")

// Kind selects a strategy variant.
type Kind string

const (
	KindDefault      Kind = "default"
	KindAggressive   Kind = "aggressive"   // buyers only
	KindConciliatory Kind = "conciliatory" // suppliers only
)

// ParseKind validates a strategy name for the given role.
func ParseKind(role board.Role, name string) (Kind, error) {
	switch k := Kind(name); {
	case k == "" || k == KindDefault:
		return KindDefault, nil
	case k == KindAggressive && role == board.RoleBuyer:
		return k, nil
	case k == KindConciliatory && role == board.RoleSupplier:
		return k, nil
	}
	return "", fmt.Errorf("%w: %q for %s", ErrUnknownKind, name, role)
}

// Preferences are a buyer's company lists.
type Preferences struct {
	Favourite []string `yaml:"favourite" json:"favourite,omitempty"`
	Worst     []string `yaml:"worst" json:"worst,omitempty"`
	Blocked   []string `yaml:"blocked" json:"blocked,omitempty"`
}

// Union merges preference lists, sorted and without duplicates.
func Union(prefs ...Preferences) Preferences {
	merge := func(pick func(Preferences) []string) []string {
		var out []string
		for _, p := range prefs {
			out = append(out, pick(p)...)
		}
		slices.Sort(out)
		return slices.Compact(out)
	}
	return Preferences{
		Favourite: merge(func(p Preferences) []string { return p.Favourite }),
		Worst:     merge(func(p Preferences) []string { return p.Worst }),
		Blocked:   merge(func(p Preferences) []string { return p.Blocked }),
	}
}

// Input is what a strategy sees when answering an offer.
type Input struct {
	Reference float64 // the agent's current price
	Boundary  float64 // ceiling for buyers, floor for suppliers
	Offer     float64 // the counterpart's last price
	Company   string  // the supplier's company tag, seen by buyers
	Prefs     Preferences
}

// Decision is a strategy's answer.
type Decision struct {
	Price float64
	State board.State
}

func counter(price float64) Decision { return Decision{Price: price, State: board.StateProcessing} }
func accept(price float64) Decision  { return Decision{Price: price, State: board.StateAccepted} }
func abort() Decision                { return Decision{Price: 0, State: board.StateAborted} }

// Func answers one offer.
type Func func(Input) Decision

// ForBuyer resolves a buyer strategy. Unrecognised kinds use the default.
func ForBuyer(kind Kind, p Policy) Func {
	if kind == KindAggressive {
		return func(in Input) Decision { return BuyerAggressive(in, p) }
	}
	return func(in Input) Decision { return BuyerDefault(in, p) }
}

// ForSupplier resolves a supplier strategy. Unrecognised kinds use the default.
func ForSupplier(kind Kind, p Policy) Func {
	if kind == KindConciliatory {
		return SupplierConciliatory
	}
	return func(in Input) Decision { return SupplierDefault(in, p) }
}

// adjustOffer applies a buyer's company preferences. blocked is true when the
// buyer refuses to deal with the company at all.
func adjustOffer(offer float64, company string, prefs Preferences) (adjusted float64, blocked bool) {
	if slices.Contains(prefs.Blocked, company) {
		return 0, true
	}
	switch {
	case slices.Contains(prefs.Favourite, company):
		return offer * FavouriteDiscount, false
	case slices.Contains(prefs.Worst, company):
		return offer * WorstSurcharge, false
	}
	return offer, false
}

// BuyerDefault splits the difference with the supplier and accepts anything
// within the ceiling.
func BuyerDefault(in Input, p Policy) Decision {
	adj, blocked := adjustOffer(in.Offer, in.Company, in.Prefs)
	if blocked {
		return abort()
	}
	if adj <= in.Reference || adj <= in.Boundary {
		return accept(adj)
	}
	mid := (adj + in.Reference) / 2
	if mid <= in.Boundary {
		return counter(mid)
	}
	return p.Resolved().BuyerDefaultOverflow.apply(mid, in)
}

// BuyerAggressive moves only halfway from its own price and never pays
// more than the ceiling.
func BuyerAggressive(in Input, p Policy) Decision {
	adj, blocked := adjustOffer(in.Offer, in.Company, in.Prefs)
	if blocked {
		return abort()
	}
	if adj <= in.Reference {
		return accept(adj)
	}
	next := in.Reference + 0.5*(adj-in.Reference)
	if next <= in.Boundary {
		return counter(next)
	}
	return p.Resolved().BuyerAggressiveOverflow.apply(next, in)
}

// SupplierDefault meets the buyer halfway but never goes below the floor.
func SupplierDefault(in Input, p Policy) Decision {
	if in.Offer >= in.Reference {
		return accept(in.Offer)
	}
	if in.Offer < in.Boundary {
		if in.Offer < in.Boundary*GapThreshold && p.Resolved().SupplierGap == GapAbort {
			return abort()
		}
		return counter(in.Boundary)
	}
	return counter(max(in.Boundary, (in.Reference+in.Offer)/2))
}

// SupplierConciliatory accepts anything above a softened floor.
func SupplierConciliatory(in Input) Decision {
	if in.Offer >= in.Boundary {
		return accept(in.Offer)
	}
	soft := in.Boundary * ConcessionFactor
	if in.Offer < soft {
		return counter(max(in.Boundary, (in.Offer+soft)/2))
	}
	return accept(in.Offer)
}

// CheckBoundary reports ErrBoundaryExceeded when a non-aborting decision
// leaves the agent's boundary. Conciliatory suppliers may go down to their
// softened floor.
func CheckBoundary(role board.Role, kind Kind, boundary float64, d Decision) error {
	if d.State == board.StateAborted {
		return nil
	}
	switch role {
	case board.RoleBuyer:
		if d.Price > boundary {
			return fmt.Errorf("%w: buyer offered %.2f above ceiling %.2f", ErrBoundaryExceeded, d.Price, boundary)
		}
	case board.RoleSupplier:
		floor := boundary
		if kind == KindConciliatory {
			floor = boundary * ConcessionFactor
		}
		if d.Price < floor {
			return fmt.Errorf("%w: supplier offered %.2f below floor %.2f", ErrBoundaryExceeded, d.Price, floor)
		}
	}
	return nil
}
