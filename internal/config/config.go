// Package config handles reading and writing experiment configuration files.
package config

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strconv"
	"time"

	"gopkg.in/yaml.v3"

	"github.com/talgya/bazaar/internal/agents"
	"github.com/talgya/bazaar/internal/board"
	"github.com/talgya/bazaar/internal/coalition"
	"github.com/talgya/bazaar/internal/engine"
	"github.com/talgya/bazaar/internal/strategy"
)

// ErrInvalid is returned by Validate for a configuration that cannot run.
var ErrInvalid = errors.New("invalid config")

// Config is the top-level structure of an experiment file.
type Config struct {
	Version    int              `yaml:"version"`
	Run        RunConfig        `yaml:"run"`
	Population PopulationConfig `yaml:"population"`
	Coalitions CoalitionConfig  `yaml:"coalitions"`
	Policy     strategy.Policy  `yaml:"policy"`
	Output     OutputConfig     `yaml:"output"`
}

// RunConfig controls the driver and the agents' pacing.
type RunConfig struct {
	Seed                    int64 `yaml:"seed"`       // 0 picks a random seed
	TickMS                  int   `yaml:"tick_ms"`    // agent tick interval
	PollMS                  int   `yaml:"poll_ms"`    // completion check interval
	StaggerMS               int   `yaml:"stagger_ms"` // pause between openings
	Timeout                 int   `yaml:"timeout"`    // seconds
	NegotiationsPerSupplier int   `yaml:"negotiations_per_supplier"`
	StartingBudget          int   `yaml:"starting_budget"`
}

// PopulationConfig describes the generated suppliers and buyers.
type PopulationConfig struct {
	Suppliers     int     `yaml:"suppliers"`
	Buyers        int     `yaml:"buyers"`
	FloorBase     float64 `yaml:"floor_base"`
	FloorStep     float64 `yaml:"floor_step"`
	CeilingBase   float64 `yaml:"ceiling_base"`
	CeilingStep   float64 `yaml:"ceiling_step"`
	OpeningMarkup float64 `yaml:"opening_markup"`
	BuyerOpening  float64 `yaml:"buyer_opening"`
	Tickets       int     `yaml:"tickets"` // 0 means unlimited
	BuyerStrategy string  `yaml:"buyer_strategy"`
	Jitter        float64 `yaml:"jitter"`
	BlockedChance float64 `yaml:"blocked_chance"`
}

// CoalitionConfig selects the formation method per side.
type CoalitionConfig struct {
	Buyers          string `yaml:"buyers"`    // none | greedy | optimal | token
	Suppliers       string `yaml:"suppliers"` // none | greedy | optimal | token
	MaxSize         int    `yaml:"max_size"`
	TokenIterations int    `yaml:"token_iterations"`
}

// OutputConfig names the files a run writes. Empty paths are skipped.
type OutputConfig struct {
	SummaryCSV    string `yaml:"summary_csv"`
	TranscriptCSV string `yaml:"transcript_csv"`
	Archive       string `yaml:"archive"` // SQLite file
}

// ReadConfig reads the YAML file at path. Fields the file omits keep their
// defaults.
func ReadConfig(path string) (*Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("reading config: %w", err)
	}

	cfg := DefaultConfig()
	if err := yaml.Unmarshal(data, cfg); err != nil {
		return nil, fmt.Errorf("parsing config: %w", err)
	}

	return cfg, nil
}

// WriteConfig writes cfg to path, creating the parent directory.
func WriteConfig(path string, cfg *Config) error {
	if err := os.MkdirAll(filepath.Dir(path), 0755); err != nil {
		return fmt.Errorf("creating config directory: %w", err)
	}

	data, err := yaml.Marshal(cfg)
	if err != nil {
		return fmt.Errorf("marshalling config: %w", err)
	}

	if err := os.WriteFile(path, data, 0644); err != nil {
		return fmt.Errorf("writing config: %w", err)
	}

	return nil
}

// DefaultConfig returns the classic experiment: three suppliers and three
// buyers negotiating one-to-one.
func DefaultConfig() *Config {
	spawn := agents.DefaultSpawnConfig()
	return &Config{
		Version: 1,
		Run: RunConfig{
			Seed:                    spawn.Seed,
			TickMS:                  int(agents.DefaultTickInterval / time.Millisecond),
			PollMS:                  int(engine.DefaultPollInterval / time.Millisecond),
			StaggerMS:               int(engine.DefaultStagger / time.Millisecond),
			Timeout:                 int(engine.DefaultTimeout / time.Second),
			NegotiationsPerSupplier: 1,
			StartingBudget:          board.DefaultStartingBudget,
		},
		Population: PopulationConfig{
			Suppliers:     spawn.Suppliers,
			Buyers:        spawn.Buyers,
			FloorBase:     spawn.FloorBase,
			FloorStep:     spawn.FloorStep,
			CeilingBase:   spawn.CeilingBase,
			CeilingStep:   spawn.CeilingStep,
			OpeningMarkup: spawn.OpeningMarkup,
			BuyerOpening:  spawn.BuyerOpening,
			Tickets:       spawn.Tickets,
			BuyerStrategy: string(spawn.BuyerStrategy),
		},
		Coalitions: CoalitionConfig{
			Buyers:          string(coalition.MethodNone),
			Suppliers:       string(coalition.MethodNone),
			MaxSize:         coalition.DefaultMaxSize,
			TokenIterations: coalition.DefaultTokenIterations,
		},
		Policy: strategy.DefaultPolicy(),
	}
}

// ApplyEnv overrides fields from BAZAAR_* environment variables.
func (c *Config) ApplyEnv() {
	c.Run.Seed = int64(envIntOrDefault("BAZAAR_SEED", int(c.Run.Seed)))
	c.Run.TickMS = envIntOrDefault("BAZAAR_TICK_MS", c.Run.TickMS)
	c.Run.Timeout = envIntOrDefault("BAZAAR_TIMEOUT", c.Run.Timeout)
	c.Output.Archive = envOrDefault("BAZAAR_ARCHIVE", c.Output.Archive)
}

// Validate reports the first problem that would stop a run.
func (c *Config) Validate() error {
	switch {
	case c.Run.TickMS <= 0:
		return fmt.Errorf("%w: run.tick_ms must be positive", ErrInvalid)
	case c.Run.PollMS <= 0:
		return fmt.Errorf("%w: run.poll_ms must be positive", ErrInvalid)
	case c.Run.StaggerMS < 0:
		return fmt.Errorf("%w: run.stagger_ms must not be negative", ErrInvalid)
	case c.Run.Timeout <= 0:
		return fmt.Errorf("%w: run.timeout must be positive", ErrInvalid)
	case c.Run.NegotiationsPerSupplier <= 0:
		return fmt.Errorf("%w: run.negotiations_per_supplier must be positive", ErrInvalid)
	case c.Run.StartingBudget <= 0:
		return fmt.Errorf("%w: run.starting_budget must be positive", ErrInvalid)
	case c.Population.Suppliers <= 0 || c.Population.Buyers <= 0:
		return fmt.Errorf("%w: population needs at least one supplier and one buyer", ErrInvalid)
	case c.Population.FloorBase < 0 || c.Population.CeilingBase < 0:
		return fmt.Errorf("%w: population base prices must not be negative", ErrInvalid)
	case c.Population.OpeningMarkup <= 0 || c.Population.BuyerOpening <= 0:
		return fmt.Errorf("%w: population opening factors must be positive", ErrInvalid)
	case c.Population.Tickets < 0:
		return fmt.Errorf("%w: population.tickets must not be negative", ErrInvalid)
	case c.Population.Jitter < 0 || c.Population.Jitter >= 1:
		return fmt.Errorf("%w: population.jitter must be in [0, 1)", ErrInvalid)
	case c.Population.BlockedChance < 0 || c.Population.BlockedChance > 1:
		return fmt.Errorf("%w: population.blocked_chance must be in [0, 1]", ErrInvalid)
	case c.Coalitions.MaxSize < 0 || c.Coalitions.TokenIterations < 0:
		return fmt.Errorf("%w: coalition sizes must not be negative", ErrInvalid)
	}

	if _, err := strategy.ParseKind(board.RoleBuyer, c.Population.BuyerStrategy); err != nil {
		return fmt.Errorf("%w: %w", ErrInvalid, err)
	}
	for _, m := range []string{c.Coalitions.Buyers, c.Coalitions.Suppliers} {
		if _, err := coalition.ParseMethod(m); err != nil {
			return fmt.Errorf("%w: %w", ErrInvalid, err)
		}
	}
	if err := c.Policy.Validate(); err != nil {
		return fmt.Errorf("%w: %w", ErrInvalid, err)
	}
	return nil
}

// TickInterval is the agents' tick as a duration.
func (c *Config) TickInterval() time.Duration {
	return time.Duration(c.Run.TickMS) * time.Millisecond
}

// Engine returns the driver settings.
func (c *Config) Engine() engine.Config {
	return engine.Config{
		NegotiationsPerOpener: c.Run.NegotiationsPerSupplier,
		Stagger:               time.Duration(c.Run.StaggerMS) * time.Millisecond,
		PollInterval:          time.Duration(c.Run.PollMS) * time.Millisecond,
		Timeout:               time.Duration(c.Run.Timeout) * time.Second,
	}
}

// Spawn returns the population settings for the given resolved seed. Call
// Validate first; an invalid buyer strategy falls back to default.
func (c *Config) Spawn(seed int64) agents.SpawnConfig {
	kind, _ := strategy.ParseKind(board.RoleBuyer, c.Population.BuyerStrategy)
	p := c.Population
	return agents.SpawnConfig{
		Seed:          seed,
		Suppliers:     p.Suppliers,
		Buyers:        p.Buyers,
		FloorBase:     p.FloorBase,
		FloorStep:     p.FloorStep,
		CeilingBase:   p.CeilingBase,
		CeilingStep:   p.CeilingStep,
		OpeningMarkup: p.OpeningMarkup,
		BuyerOpening:  p.BuyerOpening,
		Tickets:       p.Tickets,
		BuyerStrategy: kind,
		Jitter:        p.Jitter,
		BlockedChance: p.BlockedChance,
	}
}

// Roster assembles everything engine.Populate needs.
func (c *Config) Roster(seed int64, opts ...agents.Option) engine.Roster {
	side := func(method string) coalition.Options {
		m, _ := coalition.ParseMethod(method)
		return coalition.Options{
			Method:     m,
			MaxSize:    c.Coalitions.MaxSize,
			Iterations: c.Coalitions.TokenIterations,
			Seed:       seed,
		}
	}
	return engine.Roster{
		Spawn:              c.Spawn(seed),
		SupplierCoalitions: side(c.Coalitions.Suppliers),
		BuyerCoalitions:    side(c.Coalitions.Buyers),
		AgentOptions:       opts,
	}
}

func envOrDefault(key, defaultVal string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return defaultVal
}

func envIntOrDefault(key string, defaultVal int) int {
	if v := os.Getenv(key); v != "" {
		if n, err := strconv.Atoi(v); err == nil {
			return n
		}
	}
	return defaultVal
}
