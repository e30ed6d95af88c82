package strategy

import (
	"errors"
	"math"
	"testing"

	"github.com/talgya/bazaar/internal/board"
)

func approx(a, b float64) bool {
	return math.Abs(a-b) < 1e-9
}

func checkDecision(t *testing.T, got Decision, wantPrice float64, wantState board.State) {
	t.Helper()
	if got.State != wantState || !approx(got.Price, wantPrice) {
		t.Errorf("decision = (%.4f, %s), want (%.4f, %s)", got.Price, got.State, wantPrice, wantState)
	}
}

func TestBuyerDefault(t *testing.T) {
	prefs := Preferences{
		Favourite: []string{"Fav"},
		Worst:     []string{"Bad"},
		Blocked:   []string{"X"},
	}
	tests := []struct {
		name      string
		policy    Policy
		offer     float64
		company   string
		wantPrice float64
		wantState board.State
	}{
		{"within ceiling accepted", DefaultPolicy(), 500, "", 500, board.StateAccepted},
		{"below reference accepted", DefaultPolicy(), 250, "", 250, board.StateAccepted},
		{"equal reference accepted", DefaultPolicy(), 300, "", 300, board.StateAccepted},
		{"above ceiling splits difference", DefaultPolicy(), 800, "", 550, board.StateProcessing},
		{"midpoint over ceiling holds", DefaultPolicy(), 1500, "", 300, board.StateProcessing},
		{"midpoint over ceiling clamps", Policy{BuyerDefaultOverflow: OverflowClamp}, 1500, "", 600, board.StateProcessing},
		{"midpoint over ceiling aborts", Policy{BuyerDefaultOverflow: OverflowAbort}, 1500, "", 0, board.StateAborted},
		{"midpoint over ceiling raw", Policy{BuyerDefaultOverflow: OverflowRaw}, 1500, "", 900, board.StateProcessing},
		{"favourite discount", DefaultPolicy(), 600, "Fav", 570, board.StateAccepted},
		{"worst surcharge", DefaultPolicy(), 600, "Bad", 465, board.StateProcessing},
		{"blocked aborts", DefaultPolicy(), 10, "X", 0, board.StateAborted},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got := BuyerDefault(Input{
				Reference: 300,
				Boundary:  600,
				Offer:     tt.offer,
				Company:   tt.company,
				Prefs:     prefs,
			}, tt.policy)
			checkDecision(t, got, tt.wantPrice, tt.wantState)
		})
	}
}

func TestBuyerAggressive(t *testing.T) {
	prefs := Preferences{Blocked: []string{"X"}, Favourite: []string{"Fav"}}
	tests := []struct {
		name      string
		policy    Policy
		offer     float64
		company   string
		wantPrice float64
		wantState board.State
	}{
		{"halfway counter", DefaultPolicy(), 800, "", 550, board.StateProcessing},
		{"within ceiling still counters", DefaultPolicy(), 500, "", 400, board.StateProcessing},
		{"over ceiling aborts", DefaultPolicy(), 1500, "", 0, board.StateAborted},
		{"over ceiling clamps", Policy{BuyerAggressiveOverflow: OverflowClamp}, 1500, "", 600, board.StateProcessing},
		{"zero policy aborts", Policy{}, 1500, "", 0, board.StateAborted},
		{"at or below reference accepted", DefaultPolicy(), 300, "", 300, board.StateAccepted},
		{"favourite below reference accepted", DefaultPolicy(), 310, "Fav", 294.5, board.StateAccepted},
		{"blocked aborts", DefaultPolicy(), 100, "X", 0, board.StateAborted},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got := BuyerAggressive(Input{
				Reference: 300,
				Boundary:  600,
				Offer:     tt.offer,
				Company:   tt.company,
				Prefs:     prefs,
			}, tt.policy)
			checkDecision(t, got, tt.wantPrice, tt.wantState)
		})
	}
}

func TestSupplierDefault(t *testing.T) {
	tests := []struct {
		name      string
		policy    Policy
		offer     float64
		wantPrice float64
		wantState board.State
	}{
		{"above reference accepted", DefaultPolicy(), 1600, 1600, board.StateAccepted},
		{"equal reference accepted", DefaultPolicy(), 1500, 1500, board.StateAccepted},
		{"between floor and reference meets halfway", DefaultPolicy(), 900, 1200, board.StateProcessing},
		{"at floor meets halfway", DefaultPolicy(), 500, 1000, board.StateProcessing},
		{"small gap proposes floor", DefaultPolicy(), 400, 500, board.StateProcessing},
		{"large gap proposes floor", DefaultPolicy(), 300, 500, board.StateProcessing},
		{"large gap aborts under gap policy", Policy{SupplierGap: GapAbort}, 300, 0, board.StateAborted},
		{"small gap under gap policy still counters", Policy{SupplierGap: GapAbort}, 400, 500, board.StateProcessing},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got := SupplierDefault(Input{Reference: 1500, Boundary: 500, Offer: tt.offer}, tt.policy)
			checkDecision(t, got, tt.wantPrice, tt.wantState)
		})
	}
}

func TestSupplierConciliatory(t *testing.T) {
	tests := []struct {
		name      string
		offer     float64
		wantPrice float64
		wantState board.State
	}{
		{"above floor accepted", 600, 600, board.StateAccepted},
		{"within softened floor accepted", 480, 480, board.StateAccepted},
		{"below softened floor counters at floor", 400, 500, board.StateProcessing},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got := SupplierConciliatory(Input{Reference: 1500, Boundary: 500, Offer: tt.offer})
			checkDecision(t, got, tt.wantPrice, tt.wantState)
		})
	}
}

func TestStrategiesAreDeterministic(t *testing.T) {
	in := Input{Reference: 320, Boundary: 640, Offer: 910, Company: "C", Prefs: Preferences{Worst: []string{"C"}}}
	p := DefaultPolicy()
	for _, fn := range []Func{ForBuyer(KindDefault, p), ForBuyer(KindAggressive, p), ForSupplier(KindDefault, p), ForSupplier(KindConciliatory, p)} {
		first := fn(in)
		for i := 0; i < 10; i++ {
			if got := fn(in); got != first {
				t.Fatalf("call %d = %+v, want %+v", i, got, first)
			}
		}
	}
}

func TestForBuyerFallsBackToDefault(t *testing.T) {
	in := Input{Reference: 300, Boundary: 600, Offer: 500}
	got := ForBuyer(Kind("mystery"), DefaultPolicy())(in)
	want := BuyerDefault(in, DefaultPolicy())
	if got != want {
		t.Errorf("unknown kind decision = %+v, want default %+v", got, want)
	}
}

func TestParseKind(t *testing.T) {
	tests := []struct {
		role    board.Role
		name    string
		want    Kind
		wantErr bool
	}{
		{board.RoleBuyer, "", KindDefault, false},
		{board.RoleBuyer, "aggressive", KindAggressive, false},
		{board.RoleBuyer, "conciliatory", "", true},
		{board.RoleSupplier, "conciliatory", KindConciliatory, false},
		{board.RoleSupplier, "aggressive", "", true},
		{board.RoleSupplier, "greedy", "", true},
	}
	for _, tt := range tests {
		got, err := ParseKind(tt.role, tt.name)
		if tt.wantErr {
			if !errors.Is(err, ErrUnknownKind) {
				t.Errorf("ParseKind(%s, %q) error = %v, want ErrUnknownKind", tt.role, tt.name, err)
			}
			continue
		}
		if err != nil || got != tt.want {
			t.Errorf("ParseKind(%s, %q) = %q, %v; want %q", tt.role, tt.name, got, err, tt.want)
		}
	}
}

func TestCheckBoundary(t *testing.T) {
	tests := []struct {
		name    string
		role    board.Role
		kind    Kind
		d       Decision
		wantErr bool
	}{
		{"buyer within ceiling", board.RoleBuyer, KindDefault, Decision{600, board.StateProcessing}, false},
		{"buyer above ceiling", board.RoleBuyer, KindDefault, Decision{900, board.StateProcessing}, true},
		{"buyer accepts above ceiling", board.RoleBuyer, KindDefault, Decision{601, board.StateAccepted}, true},
		{"abort is never out of bounds", board.RoleBuyer, KindDefault, Decision{0, board.StateAborted}, false},
		{"supplier at floor", board.RoleSupplier, KindDefault, Decision{600, board.StateProcessing}, false},
		{"supplier below floor", board.RoleSupplier, KindDefault, Decision{580, board.StateAccepted}, true},
		{"conciliatory within softened floor", board.RoleSupplier, KindConciliatory, Decision{580, board.StateAccepted}, false},
		{"conciliatory below softened floor", board.RoleSupplier, KindConciliatory, Decision{560, board.StateAccepted}, true},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			err := CheckBoundary(tt.role, tt.kind, 600, tt.d)
			if tt.wantErr && !errors.Is(err, ErrBoundaryExceeded) {
				t.Errorf("CheckBoundary = %v, want ErrBoundaryExceeded", err)
			}
			if !tt.wantErr && err != nil {
				t.Errorf("CheckBoundary = %v, want nil", err)
			}
		})
	}
}

func TestUnion(t *testing.T) {
	got := Union(
		Preferences{Favourite: []string{"B", "A"}, Blocked: []string{"X"}},
		Preferences{Favourite: []string{"A"}, Worst: []string{"C"}},
	)
	if len(got.Favourite) != 2 || got.Favourite[0] != "A" || got.Favourite[1] != "B" {
		t.Errorf("Favourite = %v, want [A B]", got.Favourite)
	}
	if len(got.Worst) != 1 || got.Worst[0] != "C" {
		t.Errorf("Worst = %v, want [C]", got.Worst)
	}
	if len(got.Blocked) != 1 || got.Blocked[0] != "X" {
		t.Errorf("Blocked = %v, want [X]", got.Blocked)
	}
}

func TestPolicyValidate(t *testing.T) {
	if err := DefaultPolicy().Validate(); err != nil {
		t.Errorf("DefaultPolicy().Validate() = %v", err)
	}
	if err := (Policy{}).Validate(); err != nil {
		t.Errorf("zero Policy Validate() = %v", err)
	}
	if err := (Policy{BuyerDefaultOverflow: "panic"}).Validate(); !errors.Is(err, ErrUnknownPolicy) {
		t.Errorf("Validate() = %v, want ErrUnknownPolicy", err)
	}
	if err := (Policy{SupplierGap: "ignore"}).Validate(); !errors.Is(err, ErrUnknownPolicy) {
		t.Errorf("Validate() = %v, want ErrUnknownPolicy", err)
	}
}
