package engine

import (
	"time"

	"github.com/talgya/bazaar/internal/board"
)

// Kind types a negotiation by who sat at the table.
type Kind string

const (
	KindOneToOne       Kind = "one-to-one"
	KindOneToCoalition Kind = "one-to-coalition"
)

// Negotiation is the outcome of one negotiation of a run.
type Negotiation struct {
	ID       string       `json:"id" db:"id"`
	Kind     Kind         `json:"kind" db:"kind"`
	Supplier string       `json:"supplier" db:"supplier_id"`
	Buyer    string       `json:"buyer" db:"buyer_id"`
	Company  string       `json:"company" db:"company"`
	Status   board.Status `json:"status" db:"status"`
	Price    float64      `json:"price" db:"price"` // agreed price, 0 unless accepted
	Messages int          `json:"messages" db:"messages"`
}

// Fault is an error an agent recorded during the run.
type Fault struct {
	AgentID string
	Err     error
}

// Inventory is a supplier-side party's ticket count at the end of a run.
type Inventory struct {
	AgentID   string `json:"agent_id" db:"agent_id"`
	Company   string `json:"company" db:"company"`
	Tickets   int    `json:"tickets" db:"tickets"` // -1 when unlimited
	Sold      int    `json:"sold" db:"sold"`
	Remaining int    `json:"remaining" db:"remaining"` // -1 when unlimited
	Opened    int    `json:"opened" db:"opened"`
	Settled   int    `json:"settled" db:"settled"`
}

// Unlimited reports whether the party never runs out of tickets.
func (i Inventory) Unlimited() bool { return i.Tickets < 0 }

// Result is everything a finished run produced besides the log itself.
type Result struct {
	RunID        string
	Started      time.Time
	Finished     time.Time
	TimedOut     bool
	Negotiations []Negotiation
	Stats        SimStats
	Inventory    []Inventory // one row per supplier-side party
	Faults       []Fault
}

// SimStats aggregates the negotiations of a run.
type SimStats struct {
	Total      int `json:"total"`
	Accepted   int `json:"accepted"`
	Aborted    int `json:"aborted"`
	TimedOut   int `json:"timed_out"`  // message budget exhausted
	Unfinished int `json:"unfinished"` // still open when the run ended

	OneToOne       int `json:"one_to_one"`
	OneToCoalition int `json:"one_to_coalition"`

	// Prices of accepted negotiations; zero when none were accepted.
	AvgPrice float64 `json:"avg_price"`
	MinPrice float64 `json:"min_price"`
	MaxPrice float64 `json:"max_price"`
}

func (s SimStats) percent(n int) float64 {
	if s.Total == 0 {
		return 0
	}
	return 100 * float64(n) / float64(s.Total)
}

// AcceptedPct is the share of accepted negotiations in percent.
func (s SimStats) AcceptedPct() float64 { return s.percent(s.Accepted) }

// AbortedPct is the share of aborted negotiations in percent.
func (s SimStats) AbortedPct() float64 { return s.percent(s.Aborted) }

// TimedOutPct is the share of negotiations that ran out of messages.
func (s SimStats) TimedOutPct() float64 { return s.percent(s.TimedOut) }

// Summarize computes the aggregate statistics of a set of negotiations.
func Summarize(negotiations []Negotiation) SimStats {
	var (
		s   SimStats
		sum float64
	)
	s.Total = len(negotiations)
	for _, n := range negotiations {
		switch n.Kind {
		case KindOneToCoalition:
			s.OneToCoalition++
		default:
			s.OneToOne++
		}

		switch n.Status {
		case board.StatusAccepted:
			if s.Accepted == 0 || n.Price < s.MinPrice {
				s.MinPrice = n.Price
			}
			if s.Accepted == 0 || n.Price > s.MaxPrice {
				s.MaxPrice = n.Price
			}
			s.Accepted++
			sum += n.Price
		case board.StatusAborted:
			s.Aborted++
		case board.StatusTimeout:
			s.TimedOut++
		default:
			s.Unfinished++
		}
	}
	if s.Accepted > 0 {
		s.AvgPrice = sum / float64(s.Accepted)
	}
	return s
}
