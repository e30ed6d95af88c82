// coalitions.go implements "bazaar coalitions": form coalitions, show them,
// then run the experiment with them.
package cli

import (
	"fmt"
	"io"
	"strings"

	"github.com/dustin/go-humanize"
	"github.com/spf13/cobra"

	"github.com/talgya/bazaar/internal/coalition"
	"github.com/talgya/bazaar/internal/config"
)

var coalitionsCmd = &cobra.Command{
	Use:   "coalitions",
	Short: "Form buyer and supplier coalitions, then run with them",
	Long: `Group buyers and suppliers into coalitions with one of the formation
methods (greedy, optimal, token) before negotiating. Coalitions
negotiate as a single party with pooled bounds, preferences and
tickets. Without --buyers or --suppliers, buyers are grouped greedily.`,
	RunE: runCoalitions,
}

var coalitionOpts struct {
	runFlags
	buyers     string
	suppliers  string
	maxSize    int
	iterations int
	formOnly   bool
}

func runCoalitions(cmd *cobra.Command, args []string) error {
	cfg, err := loadConfig()
	if err != nil {
		return err
	}
	coalitionOpts.apply(cmd, cfg)
	applyCoalitionFlags(cmd, cfg)

	x, err := prepare(cfg)
	if err != nil {
		return err
	}
	printCoalitions(cmd.OutOrStdout(), cfg, x)
	if coalitionOpts.formOnly {
		return nil
	}
	return x.run(cmd)
}

func applyCoalitionFlags(cmd *cobra.Command, cfg *config.Config) {
	f := cmd.Flags()
	if f.Changed("buyers-method") {
		cfg.Coalitions.Buyers = coalitionOpts.buyers
	}
	if f.Changed("suppliers-method") {
		cfg.Coalitions.Suppliers = coalitionOpts.suppliers
	}
	if f.Changed("max-size") {
		cfg.Coalitions.MaxSize = coalitionOpts.maxSize
	}
	if f.Changed("iterations") {
		cfg.Coalitions.TokenIterations = coalitionOpts.iterations
	}
	if isNone(cfg.Coalitions.Buyers) && isNone(cfg.Coalitions.Suppliers) {
		cfg.Coalitions.Buyers = string(coalition.MethodGreedy)
	}
}

func isNone(method string) bool {
	return method == "" || method == string(coalition.MethodNone)
}

func printCoalitions(w io.Writer, cfg *config.Config, x *experiment) {
	fmt.Fprintf(w, "Buyer coalitions (%s)\n", cfg.Coalitions.Buyers)
	for _, c := range x.sim.Buyers.Coalitions {
		ids := make([]string, len(c.Members()))
		for i, m := range c.Members() {
			ids[i] = m.ID()
		}
		fmt.Fprintf(w, "  %-6s  ceiling %-9s  value %-8s  %s\n",
			c.ID(), humanize.FormatFloat("#,###.##", c.Ceiling()), humanize.FormatFloat("#,###.##", c.Value()), strings.Join(ids, ", "))
	}
	fmt.Fprintf(w, "  %d buyers on their own\n", len(x.sim.Buyers.Singles))

	fmt.Fprintf(w, "Supplier coalitions (%s)\n", cfg.Coalitions.Suppliers)
	for _, c := range x.sim.Suppliers.Coalitions {
		ids := make([]string, len(c.Members()))
		for i, m := range c.Members() {
			ids[i] = m.ID()
		}
		fmt.Fprintf(w, "  %-6s  floor %-9s  value %-8s  tickets %-4d  %s\n",
			c.ID(), humanize.FormatFloat("#,###.##", c.Floor()), humanize.FormatFloat("#,###.##", c.Value()),
			c.Stock().Remaining(), strings.Join(ids, ", "))
	}
	fmt.Fprintf(w, "  %d suppliers on their own\n\n", len(x.sim.Suppliers.Singles))
}

func init() {
	addRunFlags(coalitionsCmd, &coalitionOpts.runFlags)
	f := coalitionsCmd.Flags()
	f.StringVar(&coalitionOpts.buyers, "buyers-method", "", "Buyer formation: none, greedy, optimal or token")
	f.StringVar(&coalitionOpts.suppliers, "suppliers-method", "", "Supplier formation: none, greedy, optimal or token")
	f.IntVar(&coalitionOpts.maxSize, "max-size", 0, "Largest coalition formed")
	f.IntVar(&coalitionOpts.iterations, "iterations", 0, "Rounds of token pairing")
	f.BoolVar(&coalitionOpts.formOnly, "form-only", false, "Show the coalitions without negotiating")
}
