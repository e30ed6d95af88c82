package strategy

import (
	"errors"
	"fmt"
)

// ErrUnknownPolicy is returned when parsing an unrecognised policy name.
var ErrUnknownPolicy = errors.New("unknown policy")

// Overflow decides what a buyer does when its computed counter-offer would
// exceed its ceiling.
type Overflow string

const (
	OverflowHold  Overflow = "hold"  // repeat the current reference price
	OverflowClamp Overflow = "clamp" // counter at the ceiling
	OverflowAbort Overflow = "abort" // walk away
	OverflowRaw   Overflow = "raw"   // send the computed price; the driver reports ErrBoundaryExceeded
)

func (o Overflow) apply(price float64, in Input) Decision {
	switch o {
	case OverflowClamp:
		return counter(in.Boundary)
	case OverflowAbort:
		return abort()
	case OverflowRaw:
		return counter(price)
	default:
		return counter(in.Reference)
	}
}

// Gap decides what a default supplier does when the buyer's price is far
// below its floor.
type Gap string

const (
	GapCounter Gap = "counter" // propose the floor
	GapAbort   Gap = "abort"
)

// Policy resolves the behaviours where historical variants of the
// strategies disagree.
type Policy struct {
	BuyerDefaultOverflow    Overflow `yaml:"buyer_default_overflow"`
	BuyerAggressiveOverflow Overflow `yaml:"buyer_aggressive_overflow"`
	SupplierGap             Gap      `yaml:"supplier_gap"`
}

// DefaultPolicy returns the variant the test suite is written against.
func DefaultPolicy() Policy {
	return Policy{
		BuyerDefaultOverflow:    OverflowHold,
		BuyerAggressiveOverflow: OverflowAbort,
		SupplierGap:             GapCounter,
	}
}

// Resolved fills empty fields from DefaultPolicy.
func (p Policy) Resolved() Policy {
	def := DefaultPolicy()
	if p.BuyerDefaultOverflow == "" {
		p.BuyerDefaultOverflow = def.BuyerDefaultOverflow
	}
	if p.BuyerAggressiveOverflow == "" {
		p.BuyerAggressiveOverflow = def.BuyerAggressiveOverflow
	}
	if p.SupplierGap == "" {
		p.SupplierGap = def.SupplierGap
	}
	return p
}

// Validate rejects unrecognised policy names. Empty fields are allowed and
// behave like the defaults.
func (p Policy) Validate() error {
	for _, o := range []Overflow{p.BuyerDefaultOverflow, p.BuyerAggressiveOverflow} {
		switch o {
		case "", OverflowHold, OverflowClamp, OverflowAbort, OverflowRaw:
		default:
			return fmt.Errorf("%w: overflow %q", ErrUnknownPolicy, o)
		}
	}
	switch p.SupplierGap {
	case "", GapCounter, GapAbort:
	default:
		return fmt.Errorf("%w: gap %q", ErrUnknownPolicy, p.SupplierGap)
	}
	return nil
}
