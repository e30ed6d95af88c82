// single.go implements "bazaar single": one supplier against one buyer.
package cli

import (
	"fmt"
	"io"

	"github.com/spf13/cobra"

	"github.com/talgya/bazaar/internal/agents"
	"github.com/talgya/bazaar/internal/board"
	"github.com/talgya/bazaar/internal/coalition"
	"github.com/talgya/bazaar/internal/engine"
	"github.com/talgya/bazaar/internal/entropy"
	"github.com/talgya/bazaar/internal/report"
	"github.com/talgya/bazaar/internal/strategy"
)

var singleCmd = &cobra.Command{
	Use:   "single",
	Short: "Negotiate once between one supplier and one buyer",
	Long: `Run a single negotiation and print every offer as it was posted.
The defaults reproduce the classic example: a supplier with a floor
of 500 opening at 1500 against a buyer with a ceiling of 600 opening
at 300.`,
	RunE: runSingle,
}

var singleOpts struct {
	supplier agents.SupplierParams
	buyer    agents.BuyerParams

	supplierID       string
	buyerID          string
	supplierStrategy string
	buyerStrategy    string
}

func runSingle(cmd *cobra.Command, args []string) error {
	cfg, err := loadConfig()
	if err != nil {
		return err
	}
	if err := cfg.Validate(); err != nil {
		return err
	}

	sp, bp := singleOpts.supplier, singleOpts.buyer
	if sp.Strategy, err = strategy.ParseKind(board.RoleSupplier, singleOpts.supplierStrategy); err != nil {
		return err
	}
	if bp.Strategy, err = strategy.ParseKind(board.RoleBuyer, singleOpts.buyerStrategy); err != nil {
		return err
	}

	log := board.NewLog(board.WithStartingBudget(cfg.Run.StartingBudget))
	opts := agentOptions(cfg)
	s := agents.NewSupplier(singleOpts.supplierID, log, sp, opts...)
	b := agents.NewBuyer(singleOpts.buyerID, log, bp, opts...)

	ec := cfg.Engine()
	ec.NegotiationsPerOpener = 1
	sim := engine.NewSimulation(log,
		coalition.SupplierGroups{Singles: []*agents.Supplier{s}},
		coalition.BuyerGroups{Singles: []*agents.Buyer{b}},
		ec)
	res, runErr := sim.Run(cmd.Context())

	out := cmd.OutOrStdout()
	printTranscript(out, log, res)
	fmt.Fprint(out, report.FormatReport(res))
	if runErr != nil {
		return fmt.Errorf("negotiation interrupted: %w", runErr)
	}
	return writeOutputs(cfg.Output, entropy.ResolveSeed(cfg.Run.Seed), res, log)
}

func printTranscript(w io.Writer, log *board.Log, res *engine.Result) {
	for _, n := range res.Negotiations {
		for _, m := range log.All(n.ID) {
			fmt.Fprintln(w, m.String())
		}
		fmt.Fprintln(w)
	}
}

func init() {
	f := singleCmd.Flags()
	f.StringVar(&singleOpts.supplierID, "supplier-id", "S_toto", "Supplier id")
	f.Float64Var(&singleOpts.supplier.Floor, "floor", 500, "Lowest price the supplier accepts")
	f.Float64Var(&singleOpts.supplier.FirstPrice, "supplier-price", 1500, "Supplier's opening price")
	f.StringVar(&singleOpts.supplier.Company, "company", "CompanyA", "Supplier company")
	f.IntVar(&singleOpts.supplier.Tickets, "tickets", 5, "Tickets for sale (0 for unlimited)")
	f.StringVar(&singleOpts.supplierStrategy, "supplier-strategy", "default", "default or conciliatory")

	f.StringVar(&singleOpts.buyerID, "buyer-id", "B_tintin", "Buyer id")
	f.Float64Var(&singleOpts.buyer.Ceiling, "ceiling", 600, "Highest price the buyer pays")
	f.Float64Var(&singleOpts.buyer.FirstPrice, "buyer-price", 300, "Buyer's reference price")
	f.StringVar(&singleOpts.buyerStrategy, "buyer-strategy", "default", "default or aggressive")
	f.StringSliceVar(&singleOpts.buyer.Favourite, "favourite", nil, "Companies the buyer favours")
	f.StringSliceVar(&singleOpts.buyer.Worst, "worst", nil, "Companies the buyer dislikes")
	f.StringSliceVar(&singleOpts.buyer.Blocked, "blocked", nil, "Companies the buyer refuses outright")
}
