package cli

import (
	"bytes"
	"context"
	"io"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/spf13/cobra"
	"github.com/spf13/pflag"

	"github.com/talgya/bazaar/internal/config"
	"github.com/talgya/bazaar/internal/persistence"
)

// resetFlags puts every flag back to its default so commands can be
// executed more than once in a process.
func resetFlags(cmd *cobra.Command) {
	reset := func(f *pflag.Flag) {
		if sv, ok := f.Value.(pflag.SliceValue); ok {
			sv.Replace(nil)
		} else {
			f.Value.Set(f.DefValue)
		}
		f.Changed = false
	}
	cmd.Flags().VisitAll(reset)
	cmd.PersistentFlags().VisitAll(reset)
	for _, c := range cmd.Commands() {
		resetFlags(c)
	}
}

// execute runs the root command with args and returns what it printed.
func execute(t *testing.T, args ...string) (string, error) {
	t.Helper()
	resetFlags(rootCmd)
	var out bytes.Buffer
	rootCmd.SetOut(&out)
	rootCmd.SetErr(io.Discard)
	rootCmd.SetArgs(args)
	err := rootCmd.ExecuteContext(context.Background())
	return out.String(), err
}

// fastConfig writes a config that runs in milliseconds instead of seconds.
func fastConfig(t *testing.T, dir string) string {
	t.Helper()
	cfg := config.DefaultConfig()
	cfg.Run.Seed = 3
	cfg.Run.TickMS = 2
	cfg.Run.PollMS = 5
	cfg.Run.StaggerMS = 0
	cfg.Run.Timeout = 10
	path := filepath.Join(dir, "bazaar.yaml")
	if err := config.WriteConfig(path, cfg); err != nil {
		t.Fatalf("WriteConfig: %v", err)
	}
	return path
}

func TestInit(t *testing.T) {
	path := filepath.Join(t.TempDir(), "exp", "bazaar.yaml")
	out, err := execute(t, "init", path)
	if err != nil {
		t.Fatalf("init: %v", err)
	}
	if !strings.Contains(out, "Wrote "+path) {
		t.Errorf("output = %q", out)
	}
	cfg, err := config.ReadConfig(path)
	if err != nil {
		t.Fatalf("ReadConfig: %v", err)
	}
	if err := cfg.Validate(); err != nil {
		t.Errorf("written config is invalid: %v", err)
	}

	if _, err := execute(t, "init", path); err == nil {
		t.Error("second init without --force: got nil error")
	}
	if _, err := execute(t, "init", "--force", path); err != nil {
		t.Errorf("init --force: %v", err)
	}
}

func TestSingle(t *testing.T) {
	path := fastConfig(t, t.TempDir())
	out, err := execute(t, "single", "--config", path)
	if err != nil {
		t.Fatalf("single: %v", err)
	}
	for _, want := range []string{
		"S_toto offers to sell",
		"END OF NEGOTIATION 1: sold for $500.00",
		"Accepted:   1 (100.0%)",
		"sold 1, 4 of 5 remaining",
	} {
		if !strings.Contains(out, want) {
			t.Errorf("output missing %q:\n%s", want, out)
		}
	}
}

func TestSingleRejectsUnknownStrategy(t *testing.T) {
	path := fastConfig(t, t.TempDir())
	_, err := execute(t, "single", "--config", path, "--supplier-strategy", "aggressive")
	if err == nil {
		t.Error("aggressive supplier: got nil error")
	}
}

func TestRunWritesOutputs(t *testing.T) {
	dir := t.TempDir()
	path := fastConfig(t, dir)
	summary := filepath.Join(dir, "summary.csv")
	archive := filepath.Join(dir, "runs.db")

	out, err := execute(t, "run", "--config", path, "--negotiations", "2", "--summary", summary, "--archive", archive)
	if err != nil {
		t.Fatalf("run: %v", err)
	}
	if !strings.Contains(out, "Negotiations: 6 total") {
		t.Errorf("output:\n%s", out)
	}
	if _, err := os.Stat(summary); err != nil {
		t.Errorf("summary not written: %v", err)
	}

	db, err := persistence.Open(archive)
	if err != nil {
		t.Fatalf("Open archive: %v", err)
	}
	defer db.Close()
	runs, err := db.Runs()
	if err != nil {
		t.Fatalf("Runs: %v", err)
	}
	if len(runs) != 1 || runs[0].Seed != 3 || runs[0].Total != 6 {
		t.Errorf("archived runs = %+v", runs)
	}
}

func TestCoalitionsFormOnly(t *testing.T) {
	path := fastConfig(t, t.TempDir())
	out, err := execute(t, "coalitions", "--config", path, "--form-only", "--suppliers-method", "optimal", "--max-size", "2")
	if err != nil {
		t.Fatalf("coalitions: %v", err)
	}
	for _, want := range []string{"Buyer coalitions (none)", "Supplier coalitions (optimal)", "SC-1", "1 suppliers on their own"} {
		if !strings.Contains(out, want) {
			t.Errorf("output missing %q:\n%s", want, out)
		}
	}
	if strings.Contains(out, "Negotiation Run Report") {
		t.Errorf("--form-only still negotiated:\n%s", out)
	}
}

func TestCoalitionsDefaultsToGreedyBuyers(t *testing.T) {
	path := fastConfig(t, t.TempDir())
	out, err := execute(t, "coalitions", "--config", path)
	if err != nil {
		t.Fatalf("coalitions: %v", err)
	}
	for _, want := range []string{"Buyer coalitions (greedy)", "BC-1", "with a coalition: 3"} {
		if !strings.Contains(out, want) {
			t.Errorf("output missing %q:\n%s", want, out)
		}
	}
}
