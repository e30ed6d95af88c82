package agents

import (
	"errors"
	"io"
	"log/slog"
	"testing"
	"time"

	"github.com/talgya/bazaar/internal/board"
	"github.com/talgya/bazaar/internal/strategy"
)

func quietOptions(extra ...Option) []Option {
	opts := []Option{
		WithTickInterval(2 * time.Millisecond),
		WithLogger(slog.New(slog.NewTextHandler(io.Discard, nil))),
	}
	return append(opts, extra...)
}

func waitFor(t *testing.T, what string, cond func() bool) {
	t.Helper()
	deadline := time.Now().Add(5 * time.Second)
	for time.Now().Before(deadline) {
		if cond() {
			return
		}
		time.Sleep(2 * time.Millisecond)
	}
	t.Fatalf("timed out waiting for %s", what)
}

func waitDone(t *testing.T, log *board.Log, id string) board.Status {
	t.Helper()
	waitFor(t, "negotiation "+id, func() bool { return log.Status(id).Done() })
	return log.Status(id)
}

func stopAll(parties ...Party) {
	for _, p := range parties {
		p.Stop()
	}
	for _, p := range parties {
		p.Wait()
	}
}

func checkTranscript(t *testing.T, log *board.Log, id string) []board.Message {
	t.Helper()
	msgs := log.All(id)
	for i, m := range msgs {
		if m.Sequence != i {
			t.Errorf("message %d has sequence %d", i, m.Sequence)
		}
		if m.Remaining != log.StartingBudget()-i {
			t.Errorf("message %d has remaining %d, want %d", i, m.Remaining, log.StartingBudget()-i)
		}
		if i > 0 && m.SenderRole == msgs[i-1].SenderRole {
			t.Errorf("message %d repeats role %s", i, m.SenderRole)
		}
	}
	return msgs
}

func exampleSupplier(log *board.Log, opts ...Option) *Supplier {
	return NewSupplier("S_toto", log, SupplierParams{
		Floor:      500,
		FirstPrice: 1500,
		Company:    "CompanyA",
		Tickets:    5,
	}, quietOptions(opts...)...)
}

func exampleBuyer(id string, log *board.Log, opts ...Option) *Buyer {
	return NewBuyer(id, log, BuyerParams{
		Ceiling:    600,
		FirstPrice: 300,
		Worst:      []string{"CompanyB"},
		Blocked:    []string{"CompanyC"},
	}, quietOptions(opts...)...)
}

func TestNegotiationConverges(t *testing.T) {
	log := board.NewLog()
	s := exampleSupplier(log)
	b := exampleBuyer("B_tintin", log)
	b.Start()
	s.Start()
	defer stopAll(s, b)

	id, err := s.StartNegotiation()
	if err != nil {
		t.Fatalf("StartNegotiation: %v", err)
	}
	if got := waitDone(t, log, id); got != board.StatusAccepted {
		t.Fatalf("status = %s, want accepted", got)
	}

	msgs := checkTranscript(t, log, id)
	if len(msgs) > log.StartingBudget() {
		t.Errorf("took %d messages, want at most %d", len(msgs), log.StartingBudget())
	}
	last := msgs[len(msgs)-1]
	if last.Price < 500 || last.Price > 600 {
		t.Errorf("agreed price = %.2f, want within [500, 600]", last.Price)
	}
	// 1500 opening, buyer holds at 300, supplier drops to its floor, buyer accepts.
	if len(msgs) != 4 || last.Price != 500 || last.SenderID != "B_tintin" {
		t.Errorf("transcript = %v, want buyer accepting 500 on the fourth message", msgs)
	}

	waitFor(t, "supplier to settle", func() bool { return s.Stock().Sold() == 1 })
	if s.Stock().Reserved() != 0 || s.Stock().Remaining() != 4 {
		t.Errorf("stock reserved=%d remaining=%d, want 0 and 4", s.Stock().Reserved(), s.Stock().Remaining())
	}
	waitFor(t, "buyer outcome", func() bool { _, ok := b.Outcome(id); return ok })
	if out, _ := b.Outcome(id); out.Status != board.StatusAccepted || out.Price != 500 {
		t.Errorf("buyer outcome = %+v, want accepted at 500", out)
	}
	if errs := append(s.Errors(), b.Errors()...); len(errs) != 0 {
		t.Errorf("unexpected faults: %v", errs)
	}
}

func TestBlockedCompanyAbortsImmediately(t *testing.T) {
	log := board.NewLog()
	s := NewSupplier("S1", log, SupplierParams{Floor: 10, FirstPrice: 20, Company: "X", Tickets: 1}, quietOptions()...)
	b := NewBuyer("B1", log, BuyerParams{Ceiling: 1000, FirstPrice: 500, Blocked: []string{"X"}}, quietOptions()...)
	b.Start()
	s.Start()
	defer stopAll(s, b)

	id, err := s.StartNegotiation()
	if err != nil {
		t.Fatalf("StartNegotiation: %v", err)
	}
	if got := waitDone(t, log, id); got != board.StatusAborted {
		t.Fatalf("status = %s, want aborted", got)
	}
	msgs := checkTranscript(t, log, id)
	if len(msgs) != 2 {
		t.Fatalf("got %d messages, want opening and abort", len(msgs))
	}
	if msgs[1].State != board.StateAborted || msgs[1].Price != 0 || msgs[1].SenderID != "B1" {
		t.Errorf("reply = %+v, want buyer abort at 0", msgs[1])
	}

	// The aborted negotiation gives the ticket back.
	waitFor(t, "ticket release", func() bool { return s.Stock().Reserved() == 0 })
	if _, err := s.StartNegotiation(); err != nil {
		t.Errorf("StartNegotiation after release: %v", err)
	}
}

func TestNegotiationTimesOut(t *testing.T) {
	log := board.NewLog()
	s := NewSupplier("S1", log, SupplierParams{Floor: 300, FirstPrice: 1500, Company: "A", Tickets: 2}, quietOptions()...)
	b := NewBuyer("B1", log, BuyerParams{Ceiling: 600, FirstPrice: 300}, quietOptions()...)
	b.Start()
	s.Start()
	defer stopAll(s, b)

	id, err := s.StartNegotiation()
	if err != nil {
		t.Fatalf("StartNegotiation: %v", err)
	}
	if got := waitDone(t, log, id); got != board.StatusTimeout {
		t.Fatalf("status = %s, want timeout", got)
	}
	msgs := checkTranscript(t, log, id)
	if len(msgs) != log.StartingBudget()+1 {
		t.Errorf("got %d messages, want %d", len(msgs), log.StartingBudget()+1)
	}
	for _, m := range msgs {
		if m.SenderRole == board.RoleBuyer && m.Price > 600 {
			t.Errorf("buyer offered %.2f above its ceiling", m.Price)
		}
		if m.SenderRole == board.RoleSupplier && m.Price < 300 {
			t.Errorf("supplier offered %.2f below its floor", m.Price)
		}
	}
	waitFor(t, "supplier timeout outcome", func() bool {
		out, ok := s.Outcome(id)
		return ok && out.Status == board.StatusTimeout
	})
	if s.Stock().Reserved() != 0 || s.Stock().Sold() != 0 {
		t.Errorf("stock reserved=%d sold=%d after timeout, want 0 and 0", s.Stock().Reserved(), s.Stock().Sold())
	}
}

func TestSecondBuyerStaysIdle(t *testing.T) {
	log := board.NewLog()
	s := exampleSupplier(log)
	b1 := exampleBuyer("B1", log)
	b2 := exampleBuyer("B2", log)
	b1.Start()
	b2.Start()
	s.Start()
	defer stopAll(s, b1, b2)

	id, err := s.StartNegotiation()
	if err != nil {
		t.Fatalf("StartNegotiation: %v", err)
	}
	if got := waitDone(t, log, id); got != board.StatusAccepted {
		t.Fatalf("status = %s, want accepted", got)
	}
	checkTranscript(t, log, id)

	parts := log.Participants(id)
	if len(parts) != 2 {
		t.Fatalf("participants = %v, want supplier and one buyer", parts)
	}
	winner, loser := b1, b2
	if parts[1].AgentID == "B2" {
		winner, loser = b2, b1
	}
	for _, m := range log.All(id) {
		if m.SenderID == loser.ID() {
			t.Errorf("idle buyer %s sent %+v", loser.ID(), m)
		}
	}
	if _, ok := loser.LastSequence(id); ok {
		t.Errorf("idle buyer %s is active in %s", loser.ID(), id)
	}
	if _, ok := loser.Outcome(id); ok {
		t.Errorf("idle buyer %s settled %s", loser.ID(), id)
	}
	waitFor(t, "winner outcome", func() bool { _, ok := winner.Outcome(id); return ok })
}

func TestBoundaryViolationIsSurfaced(t *testing.T) {
	log := board.NewLog()
	s := exampleSupplier(log)
	b := exampleBuyer("B1", log, WithPolicy(strategy.Policy{BuyerDefaultOverflow: strategy.OverflowRaw}))
	b.Start()
	s.Start()
	defer stopAll(s, b)

	id, err := s.StartNegotiation()
	if err != nil {
		t.Fatalf("StartNegotiation: %v", err)
	}
	if got := waitDone(t, log, id); got != board.StatusAborted {
		t.Fatalf("status = %s, want aborted", got)
	}
	for _, m := range log.All(id) {
		if m.SenderRole == board.RoleBuyer && m.Price > 600 {
			t.Errorf("out-of-bounds price %.2f reached the log", m.Price)
		}
	}
	errs := b.Errors()
	if len(errs) != 1 || !errors.Is(errs[0], strategy.ErrBoundaryExceeded) {
		t.Errorf("buyer faults = %v, want one ErrBoundaryExceeded", errs)
	}
}

func TestSoldOut(t *testing.T) {
	log := board.NewLog()
	s := NewSupplier("S1", log, SupplierParams{Floor: 100, FirstPrice: 200, Tickets: 2}, quietOptions()...)
	for i := 0; i < 2; i++ {
		if _, err := s.StartNegotiation(); err != nil {
			t.Fatalf("StartNegotiation %d: %v", i, err)
		}
	}
	if _, err := s.StartNegotiation(); !errors.Is(err, ErrSoldOut) {
		t.Fatalf("third StartNegotiation error = %v, want ErrSoldOut", err)
	}
	if got := len(log.Negotiations()); got != 2 {
		t.Errorf("log has %d negotiations, want 2", got)
	}
}

func TestUnlimitedStock(t *testing.T) {
	log := board.NewLog()
	s := NewSupplier("S1", log, SupplierParams{Floor: 100, FirstPrice: 200}, quietOptions()...)
	for i := 0; i < 20; i++ {
		if _, err := s.StartNegotiation(); err != nil {
			t.Fatalf("StartNegotiation %d: %v", i, err)
		}
	}
	if !s.Stock().Unlimited() || s.Stock().Remaining() != -1 {
		t.Errorf("stock = %d remaining, want unlimited", s.Stock().Remaining())
	}
}

func TestStartNegotiationWithID(t *testing.T) {
	log := board.NewLog()
	s := NewSupplier("S1", log, SupplierParams{Floor: 100, FirstPrice: 200, Company: "A"}, quietOptions()...)

	if err := s.StartNegotiationWithID("n-1"); err != nil {
		t.Fatalf("StartNegotiationWithID: %v", err)
	}
	first, ok := log.Last("n-1")
	if !ok || first.Sequence != 0 || first.Remaining != board.DefaultStartingBudget || first.Price != 200 || first.Company != "A" {
		t.Errorf("opening = %+v", first)
	}
	if seq, ok := s.LastSequence("n-1"); !ok || seq != 0 {
		t.Errorf("LastSequence = %d, %v; want 0, true", seq, ok)
	}
	if err := s.StartNegotiationWithID("n-1"); !errors.Is(err, ErrAlreadyOpen) {
		t.Errorf("reopening error = %v, want ErrAlreadyOpen", err)
	}

	other := NewSupplier("S2", log, SupplierParams{Floor: 100, FirstPrice: 200}, quietOptions()...)
	if err := other.StartNegotiationWithID("n-1"); !errors.Is(err, board.ErrDuplicateRoleParticipant) {
		t.Errorf("second supplier error = %v, want ErrDuplicateRoleParticipant", err)
	}
	if other.Stock().Reserved() != 0 {
		t.Errorf("failed open kept a reservation")
	}
}

func TestSupplierIgnoresForeignNegotiations(t *testing.T) {
	log := board.NewLog()
	opener := NewSupplier("S1", log, SupplierParams{Floor: 100, FirstPrice: 200}, quietOptions()...)
	bystander := NewSupplier("S2", log, SupplierParams{Floor: 100, FirstPrice: 200}, quietOptions()...)
	b := NewBuyer("B1", log, BuyerParams{Ceiling: 150, FirstPrice: 50}, quietOptions()...)
	bystander.Start()
	b.Start()
	opener.Start()
	defer stopAll(opener, bystander, b)

	id, err := opener.StartNegotiation()
	if err != nil {
		t.Fatalf("StartNegotiation: %v", err)
	}
	waitDone(t, log, id)
	for _, m := range log.All(id) {
		if m.SenderID == "S2" {
			t.Errorf("bystander sent %+v", m)
		}
	}
	if n := len(bystander.Negotiations()); n != 0 {
		t.Errorf("bystander is active in %d negotiations", n)
	}
}

func TestStopAndWait(t *testing.T) {
	log := board.NewLog()
	b := exampleBuyer("B1", log)

	done := make(chan struct{})
	go func() {
		b.Wait()
		close(done)
	}()
	select {
	case <-done:
	case <-time.After(time.Second):
		t.Fatal("Wait blocked on an agent that never started")
	}

	b.Start()
	b.Start()
	b.Stop()
	b.Stop()
	b.Wait()

	// A stopped buyer is no longer notified.
	s := exampleSupplier(log)
	id, err := s.StartNegotiation()
	if err != nil {
		t.Fatalf("StartNegotiation: %v", err)
	}
	time.Sleep(20 * time.Millisecond)
	if got := len(log.All(id)); got != 1 {
		t.Errorf("stopped buyer answered: %d messages", got)
	}
}

// slowSubscriber delays every notification that follows it.
type slowSubscriber struct{ delay time.Duration }

func (s *slowSubscriber) Notify(string) { time.Sleep(s.delay) }

func TestStopRightAfterCloseStillSettles(t *testing.T) {
	log := board.NewLog()
	log.Subscribe(&slowSubscriber{delay: 100 * time.Millisecond})
	s := exampleSupplier(log)
	b := exampleBuyer("B_tintin", log)
	b.Start()
	s.Start()

	id, err := s.StartNegotiation()
	if err != nil {
		t.Fatalf("StartNegotiation: %v", err)
	}
	if got := waitDone(t, log, id); got != board.StatusAccepted {
		t.Fatalf("status = %s, want accepted", got)
	}
	stopAll(s, b)

	if out, ok := s.Outcome(id); !ok || out.Status != board.StatusAccepted || out.Price != 500 {
		t.Errorf("supplier outcome = %+v (settled %v), want accepted at 500", out, ok)
	}
	if out, ok := b.Outcome(id); !ok || out.Status != board.StatusAccepted {
		t.Errorf("buyer outcome = %+v (settled %v), want accepted", out, ok)
	}
	if s.Stock().Sold() != 1 || s.Stock().Reserved() != 0 {
		t.Errorf("stock sold=%d reserved=%d after Wait, want 1 and 0", s.Stock().Sold(), s.Stock().Reserved())
	}
}

func TestStartAfterStopDoesNothing(t *testing.T) {
	log := board.NewLog()
	b := exampleBuyer("B1", log)
	b.Stop()
	b.Start()
	b.Wait()

	s := exampleSupplier(log)
	id, err := s.StartNegotiation()
	if err != nil {
		t.Fatalf("StartNegotiation: %v", err)
	}
	time.Sleep(20 * time.Millisecond)
	if got := len(log.All(id)); got != 1 {
		t.Errorf("buyer started after Stop answered: %d messages", got)
	}
}

func TestManyNegotiationsStayConsistent(t *testing.T) {
	log := board.NewLog()
	sp := NewSpawner(DefaultSpawnConfig(), quietOptions()...)
	suppliers := sp.SpawnSuppliers(log)
	buyers := sp.SpawnBuyers(log)

	var parties []Party
	for _, b := range buyers {
		b.Start()
		parties = append(parties, b)
	}
	for _, s := range suppliers {
		s.Start()
		parties = append(parties, s)
	}
	defer stopAll(parties...)

	var ids []string
	for _, s := range suppliers {
		for i := 0; i < 3; i++ {
			id, err := s.StartNegotiation()
			if err != nil {
				t.Fatalf("StartNegotiation: %v", err)
			}
			ids = append(ids, id)
		}
	}
	for _, id := range ids {
		waitDone(t, log, id)
		checkTranscript(t, log, id)
		if n := len(log.Participants(id)); n > 2 {
			t.Errorf("negotiation %s has %d participants", id, n)
		}
	}
}
