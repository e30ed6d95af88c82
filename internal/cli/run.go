// run.go implements "bazaar run" and the experiment plumbing shared with
// the other commands.
package cli

import (
	"errors"
	"fmt"
	"log/slog"

	"github.com/spf13/cobra"

	"github.com/talgya/bazaar/internal/agents"
	"github.com/talgya/bazaar/internal/board"
	"github.com/talgya/bazaar/internal/config"
	"github.com/talgya/bazaar/internal/engine"
	"github.com/talgya/bazaar/internal/entropy"
	"github.com/talgya/bazaar/internal/persistence"
	"github.com/talgya/bazaar/internal/report"
)

var runCmd = &cobra.Command{
	Use:   "run",
	Short: "Run a multi-agent experiment",
	Long: `Spawn the configured suppliers and buyers, let every supplier open its
negotiations and wait until all of them have closed or the timeout
passes. Prints a summary and writes the configured CSV exports and
archive.`,
	RunE: runRun,
}

// runFlags are the overrides shared by run and coalitions.
type runFlags struct {
	seed         int64
	negotiations int
	suppliers    int
	buyers       int
	summary      string
	transcript   string
	archive      string
}

var runOpts runFlags

func addRunFlags(cmd *cobra.Command, rf *runFlags) {
	f := cmd.Flags()
	f.Int64Var(&rf.seed, "seed", 0, "Random seed (0 picks one)")
	f.IntVarP(&rf.negotiations, "negotiations", "n", 0, "Negotiations each supplier opens")
	f.IntVar(&rf.suppliers, "suppliers", 0, "Number of suppliers")
	f.IntVar(&rf.buyers, "buyers", 0, "Number of buyers")
	f.StringVar(&rf.summary, "summary", "", "Write the per-negotiation summary CSV here")
	f.StringVar(&rf.transcript, "transcript", "", "Write the full transcript CSV here")
	f.StringVar(&rf.archive, "archive", "", "Archive the run to this SQLite file")
}

// apply copies the flags the user set onto cfg.
func (rf *runFlags) apply(cmd *cobra.Command, cfg *config.Config) {
	f := cmd.Flags()
	if f.Changed("seed") {
		cfg.Run.Seed = rf.seed
	}
	if f.Changed("negotiations") {
		cfg.Run.NegotiationsPerSupplier = rf.negotiations
	}
	if f.Changed("suppliers") {
		cfg.Population.Suppliers = rf.suppliers
	}
	if f.Changed("buyers") {
		cfg.Population.Buyers = rf.buyers
	}
	if rf.summary != "" {
		cfg.Output.SummaryCSV = rf.summary
	}
	if rf.transcript != "" {
		cfg.Output.TranscriptCSV = rf.transcript
	}
	if rf.archive != "" {
		cfg.Output.Archive = rf.archive
	}
}

func runRun(cmd *cobra.Command, args []string) error {
	cfg, err := loadConfig()
	if err != nil {
		return err
	}
	runOpts.apply(cmd, cfg)

	x, err := prepare(cfg)
	if err != nil {
		return err
	}
	return x.run(cmd)
}

// experiment is a populated run waiting to start.
type experiment struct {
	cfg  *config.Config
	seed int64
	log  *board.Log
	sim  *engine.Simulation
}

func agentOptions(cfg *config.Config) []agents.Option {
	return []agents.Option{
		agents.WithTickInterval(cfg.TickInterval()),
		agents.WithPolicy(cfg.Policy),
	}
}

// prepare validates cfg, resolves the seed and builds the population.
func prepare(cfg *config.Config) (*experiment, error) {
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	seed := entropy.ResolveSeed(cfg.Run.Seed)
	slog.Info("preparing run", "seed", seed)

	log := board.NewLog(board.WithStartingBudget(cfg.Run.StartingBudget))
	sellers, buyers, err := engine.Populate(log, cfg.Roster(seed, agentOptions(cfg)...))
	if err != nil {
		return nil, fmt.Errorf("building population: %w", err)
	}
	return &experiment{
		cfg:  cfg,
		seed: seed,
		log:  log,
		sim:  engine.NewSimulation(log, sellers, buyers, cfg.Engine()),
	}, nil
}

// run drives the simulation, prints the report and writes the outputs. An
// interrupted run still reports and writes what it has.
func (x *experiment) run(cmd *cobra.Command) error {
	res, runErr := x.sim.Run(cmd.Context())
	if runErr != nil {
		runErr = fmt.Errorf("run interrupted: %w", runErr)
	}

	fmt.Fprint(cmd.OutOrStdout(), report.FormatReport(res))
	return errors.Join(runErr, writeOutputs(x.cfg.Output, x.seed, res, x.log))
}

func writeOutputs(out config.OutputConfig, seed int64, res *engine.Result, log *board.Log) error {
	if out.SummaryCSV != "" {
		if err := report.WriteSummaryFile(out.SummaryCSV, res); err != nil {
			return err
		}
		slog.Info("summary written", "path", out.SummaryCSV)
	}
	if out.TranscriptCSV != "" {
		if err := report.WriteTranscriptFile(out.TranscriptCSV, res, log); err != nil {
			return err
		}
		slog.Info("transcript written", "path", out.TranscriptCSV)
	}
	if out.Archive != "" {
		db, err := persistence.Open(out.Archive)
		if err != nil {
			return fmt.Errorf("opening archive: %w", err)
		}
		defer db.Close()
		if err := db.SaveRun(seed, res, log); err != nil {
			return fmt.Errorf("archiving run: %w", err)
		}
	}
	return nil
}

func init() {
	addRunFlags(runCmd, &runOpts)
}
