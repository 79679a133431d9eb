package prep

import (
	"errors"
	"fmt"
	"log"
	"os"
	"runtime"

	"github.com/spf13/pflag"
	"gopkg.in/yaml.v3"
)

var ErrConfiguration = errors.New("invalid configuration")

// Supermatrix search strategy requested from the oracle
type Strategy int

const (
	HeuristicTBR Strategy = iota
	BranchAndBound

	DefaultOracle     = "paup"
	DefaultSearchReps = 10
	DefaultMaxTrees   = 1000
)

var (
	_ pflag.Value      = (*Strategy)(nil)
	_ yaml.Unmarshaler = (*Strategy)(nil)
)

var parseStrategy = map[string]Strategy{
	"heuristic-tbr":    HeuristicTBR,
	"branch-and-bound": BranchAndBound,
}

func (s *Strategy) Set(str string) error {
	if strategy, ok := parseStrategy[str]; ok {
		*s = strategy
		return nil
	}
	return fmt.Errorf("%w, \"%s\" is not a valid search strategy: either \"heuristic-tbr\" or \"branch-and-bound\" required",
		ErrConfiguration, str)
}

func (s Strategy) String() string {
	for str, st := range parseStrategy {
		if st == s {
			return str
		}
	}
	panic(fmt.Sprintf("strategy (%d) does not exist", s))
}

// Type is used by pflag in help output
func (s *Strategy) Type() string {
	return "strategy"
}

func (s *Strategy) UnmarshalYAML(value *yaml.Node) error {
	var str string
	if err := value.Decode(&str); err != nil {
		return fmt.Errorf("%w, strategy: %s", ErrConfiguration, err)
	}
	return s.Set(str)
}

// Run configuration. Loadable from YAML; command line flags override values
// read from file.
type Config struct {
	Matrix         string   `yaml:"matrix"`          // character matrix file
	Output         string   `yaml:"output"`          // output base name
	Oracle         string   `yaml:"oracle"`          // oracle executable
	OracleArgs     []string `yaml:"oracle_args"`     // arguments placed before the script file
	Bootstrap      int      `yaml:"bootstrap"`       // number of bootstrap replicates (0 is off)
	Forks          int      `yaml:"forks"`           // maximum concurrent oracle processes
	Strategy       Strategy `yaml:"strategy"`        // supermatrix search strategy
	KeepReplicates bool     `yaml:"keep_replicates"` // retain per replicate artifacts
	Seed           uint64   `yaml:"seed"`            // bootstrap and search seed (0 picks one)
	SearchReps     int      `yaml:"search_reps"`     // random addition replicates for heuristic search
	MaxTrees       int      `yaml:"max_trees"`       // maximum trees held during search
	ScratchDir     string   `yaml:"scratch_dir"`     // where per task scratch files are made
	Plot           bool     `yaml:"plot"`            // plot bootstrap split supports
}

func DefaultConfig() *Config {
	return &Config{
		Oracle:     DefaultOracle,
		OracleArgs: []string{"-n"},
		Forks:      1,
		Strategy:   HeuristicTBR,
		SearchReps: DefaultSearchReps,
		MaxTrees:   DefaultMaxTrees,
	}
}

// Reads YAML config file on top of the defaults
func LoadConfig(file string) (*Config, error) {
	cfg := DefaultConfig()
	data, err := os.ReadFile(file)
	if err != nil {
		return nil, fmt.Errorf("%w, error reading config file: %s", ErrConfiguration, err)
	}
	if err := yaml.Unmarshal(data, cfg); err != nil {
		return nil, fmt.Errorf("%w, error parsing config file %s: %s", ErrConfiguration, file, err)
	}
	return cfg, nil
}

// Checks required settings and ranges
func (cfg *Config) Validate() error {
	switch {
	case cfg.Matrix == "":
		return fmt.Errorf("%w, character matrix file is required", ErrConfiguration)
	case cfg.Output == "":
		return fmt.Errorf("%w, output base name is required", ErrConfiguration)
	case cfg.Oracle == "":
		return fmt.Errorf("%w, oracle executable is required", ErrConfiguration)
	case cfg.Bootstrap < 0:
		return fmt.Errorf("%w, bootstrap replicates must be >= 0 (got %d)", ErrConfiguration, cfg.Bootstrap)
	case cfg.Forks < 1:
		return fmt.Errorf("%w, forks must be >= 1 (got %d)", ErrConfiguration, cfg.Forks)
	case cfg.SearchReps < 1:
		return fmt.Errorf("%w, search replicates must be >= 1 (got %d)", ErrConfiguration, cfg.SearchReps)
	case cfg.MaxTrees < 1:
		return fmt.Errorf("%w, max trees must be >= 1 (got %d)", ErrConfiguration, cfg.MaxTrees)
	case cfg.Strategy != HeuristicTBR && cfg.Strategy != BranchAndBound:
		return fmt.Errorf("%w, unknown strategy (%d)", ErrConfiguration, cfg.Strategy)
	}
	return nil
}

// Caps forks at the number of available CPUs
func SetForks(forks int) int {
	maxProcs := runtime.NumCPU()
	if forks > maxProcs {
		log.Printf("%d is greater than available processors (%d); limit set to %d\n", forks, maxProcs, maxProcs)
		return maxProcs
	}
	return forks
}
