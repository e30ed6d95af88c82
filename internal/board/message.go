// Package board provides the shared negotiation log that every agent reads
// from and appends to.
package board

import "fmt"

// Role identifies which side of a negotiation a party negotiates for.
type Role string

const (
	RoleSupplier Role = "supplier"
	RoleBuyer    Role = "buyer"
)

// State is the outcome carried by a message.
type State string

const (
	StateProcessing State = "processing"
	StateAccepted   State = "accepted"
	StateAborted    State = "aborted"
)

// Terminal reports whether no message may follow one carrying this state.
func (s State) Terminal() bool {
	return s == StateAccepted || s == StateAborted
}

// DefaultStartingBudget is the remaining budget on an opening offer.
const DefaultStartingBudget = 9

// Message is one offer in a negotiation. Messages are never mutated after
// they have been appended.
type Message struct {
	NegotiationID string  `json:"negotiation_id" db:"negotiation_id"`
	SenderID      string  `json:"sender_id" db:"sender_id"`
	SenderRole    Role    `json:"sender_role" db:"sender_role"`
	Sequence      int     `json:"sequence" db:"sequence"`
	Price         float64 `json:"price" db:"price"`
	State         State   `json:"state" db:"state"`
	Remaining     int     `json:"remaining" db:"remaining"`
	Company       string  `json:"company,omitempty" db:"company"`
}

// Closed reports whether the negotiation ends with this message, either by
// agreement, abandonment, or an exhausted budget.
func (m Message) Closed() bool {
	return m.State.Terminal() || m.Remaining <= 0
}

func (m Message) String() string {
	switch m.State {
	case StateAccepted:
		if m.Company == "" {
			return fmt.Sprintf("END OF NEGOTIATION %s: sold for $%.2f", m.NegotiationID, m.Price)
		}
		return fmt.Sprintf("END OF NEGOTIATION %s: sold for $%.2f by %s", m.NegotiationID, m.Price, m.Company)
	case StateAborted:
		return fmt.Sprintf("END OF NEGOTIATION %s: no agreement reached", m.NegotiationID)
	}
	if m.SenderRole == RoleBuyer {
		return fmt.Sprintf("%s.%s offers to pay $%.2f (%d messages left)", m.SenderRole, m.SenderID, m.Price, m.Remaining)
	}
	return fmt.Sprintf("%s.%s offers to sell for $%.2f (%d messages left) from %s", m.SenderRole, m.SenderID, m.Price, m.Remaining, m.Company)
}
