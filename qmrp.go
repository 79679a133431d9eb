/*
qmrp infers a species tree from a discrete character matrix. Every four-taxon
subset is resolved with an external parsimony program (PAUP*), the quartet
trees are encoded as an MRP supermatrix, and the supermatrix is searched for
the final tree. Optional bootstrap replicates repeat the analysis on resampled
characters and are summarized by a majority-rule consensus.

usage: qmrp [ flags ] <matrix>

positional arguments:

	<matrix>	character matrix (relaxed phylip; states 0-9, ? and -)

flags:

	-b int
	  	number of bootstrap replicates (default 0, off)
	-c, --config file
	  	yaml config file; flags override its values
	-h	prints this message and exits
	-n int
	  	maximum number of concurrent oracle processes (default 1)
	-o name
	  	output base name
	-s strategy
	  	supermatrix search [ heuristic-tbr | branch-and-bound ] (default "heuristic-tbr")
	--keep-replicates
	  	keep quartet trees and search script of every replicate
	--maxtrees int
	  	maximum trees held during search (default 1000)
	--nreps int
	  	random addition replicates for heuristic search (default 10)
	--oracle path
	  	oracle executable (default "paup")
	--oracle-args strings
	  	arguments given to the oracle before the script (default [-n])
	--plot
	  	plot bootstrap split frequencies
	--scratch dir
	  	directory for scratch files (default system temp)
	--seed uint
	  	random seed (default 0, chosen from the clock)
	-v	prints version number and exits

examples:

	qmrp -o run matrix.phy > tree.nwk 2> log.txt
	qmrp -o run -b 100 -n 8 -s branch-and-bound matrix.phy 2> log.txt
*/
package main

import (
	"context"
	"errors"
	"fmt"
	"log"
	"os"
	"os/signal"
	"syscall"

	"github.com/spf13/cobra"

	gr "github.com/jsdoublel/qmrp/internal/graphs"
	"github.com/jsdoublel/qmrp/internal/infer"
	"github.com/jsdoublel/qmrp/internal/oracle"
	pr "github.com/jsdoublel/qmrp/internal/prep"
)

const (
	Version    = "v0.1.0"
	ErrMessage = "qmrp encountered an error ::"

	exitConfig   = 1
	exitInput    = 2
	exitAnalysis = 3
	exitOutput   = 4
)

var errReadingInput = errors.New("error reading input")

// Values bound to command line flags; only flags that were set override the
// config file.
type flags struct {
	config         string
	output         string
	oracle         string
	oracleArgs     []string
	bootstrap      int
	forks          int
	strategy       pr.Strategy
	keepReplicates bool
	seed           uint64
	searchReps     int
	maxTrees       int
	scratch        string
	plot           bool
}

// Root command; run is called with the validated configuration
func newRootCmd(run func(ctx context.Context, cfg *pr.Config) error) *cobra.Command {
	f := &flags{}
	cmd := &cobra.Command{
		Use:   "qmrp [flags] <matrix>",
		Short: "species tree inference from quartets resolved by parsimony and combined with MRP",
		Example: "  qmrp -o run matrix.phy > tree.nwk 2> log.txt\n" +
			"  qmrp -o run -b 100 -n 8 -s branch-and-bound matrix.phy 2> log.txt",
		Version:       Version,
		SilenceUsage:  true,
		SilenceErrors: true,
		Args: func(cmd *cobra.Command, args []string) error {
			if len(args) > 1 {
				return fmt.Errorf("%w, at most one positional argument (<matrix>) accepted, got %d", pr.ErrConfiguration, len(args))
			}
			return nil
		},
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := buildConfig(cmd, f, args)
			if err != nil {
				return err
			}
			return run(cmd.Context(), cfg)
		},
	}
	cmd.SetFlagErrorFunc(func(c *cobra.Command, err error) error {
		c.PrintErrln(c.UsageString())
		return fmt.Errorf("%w, %s", pr.ErrConfiguration, err)
	})
	cmd.SetVersionTemplate("qmrp version {{.Version}}\n")
	fl := cmd.Flags()
	fl.StringVarP(&f.config, "config", "c", "", "yaml config `file`; flags override its values")
	fl.StringVarP(&f.output, "output", "o", "", "output base `name`")
	fl.StringVar(&f.oracle, "oracle", pr.DefaultOracle, "oracle executable `path`")
	fl.StringSliceVar(&f.oracleArgs, "oracle-args", []string{"-n"}, "arguments given to the oracle before the script")
	fl.IntVarP(&f.bootstrap, "bootstrap", "b", 0, "number of bootstrap replicates (0 is off)")
	fl.IntVarP(&f.forks, "forks", "n", 1, "maximum number of concurrent oracle processes")
	fl.VarP(&f.strategy, "strategy", "s", "supermatrix search [ heuristic-tbr | branch-and-bound ]")
	fl.BoolVar(&f.keepReplicates, "keep-replicates", false, "keep quartet trees and search script of every replicate")
	fl.Uint64Var(&f.seed, "seed", 0, "random seed (0 chooses one from the clock)")
	fl.IntVar(&f.searchReps, "nreps", pr.DefaultSearchReps, "random addition replicates for heuristic search")
	fl.IntVar(&f.maxTrees, "maxtrees", pr.DefaultMaxTrees, "maximum trees held during search")
	fl.StringVar(&f.scratch, "scratch", "", "`dir`ectory for scratch files (default system temp)")
	fl.BoolVar(&f.plot, "plot", false, "plot bootstrap split frequencies")
	cmd.Flags().BoolP("version", "v", false, "prints version number and exits")
	return cmd
}

// Loads the config file (if any) and applies flags that were set on top of it
func buildConfig(cmd *cobra.Command, f *flags, args []string) (*pr.Config, error) {
	cfg := pr.DefaultConfig()
	if f.config != "" {
		var err error
		if cfg, err = pr.LoadConfig(f.config); err != nil {
			return nil, err
		}
	}
	if len(args) == 1 {
		cfg.Matrix = args[0]
	}
	changed := cmd.Flags().Changed
	if changed("output") {
		cfg.Output = f.output
	}
	if changed("oracle") {
		cfg.Oracle = f.oracle
	}
	if changed("oracle-args") {
		cfg.OracleArgs = f.oracleArgs
	}
	if changed("bootstrap") {
		cfg.Bootstrap = f.bootstrap
	}
	if changed("forks") {
		cfg.Forks = f.forks
	}
	if changed("strategy") {
		cfg.Strategy = f.strategy
	}
	if changed("keep-replicates") {
		cfg.KeepReplicates = f.keepReplicates
	}
	if changed("seed") {
		cfg.Seed = f.seed
	}
	if changed("nreps") {
		cfg.SearchReps = f.searchReps
	}
	if changed("maxtrees") {
		cfg.MaxTrees = f.maxTrees
	}
	if changed("scratch") {
		cfg.ScratchDir = f.scratch
	}
	if changed("plot") {
		cfg.Plot = f.plot
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	cfg.Forks = pr.SetForks(cfg.Forks)
	return cfg, nil
}

func run(ctx context.Context, cfg *pr.Config) error {
	log.Printf("reading character matrix %s", cfg.Matrix)
	m, err := pr.ReadMatrix(cfg.Matrix)
	if err != nil {
		return fmt.Errorf("%w, %w", errReadingInput, err)
	}
	scratch, err := os.MkdirTemp(cfg.ScratchDir, "qmrp-")
	if err != nil {
		return fmt.Errorf("%w, could not create scratch directory: %w", pr.ErrConfiguration, err)
	}
	defer func() {
		if err := os.RemoveAll(scratch); err != nil {
			log.Printf("WARNING: could not remove scratch directory %s, %s", scratch, err)
		}
	}()
	orc, err := oracle.NewPaup(cfg.Oracle, cfg.OracleArgs, scratch)
	if err != nil {
		return err
	}
	log.Printf("running with %d fork(s), %s search", cfg.Forks, cfg.Strategy)
	summary, err := infer.Run(ctx, cfg, m, orc)
	if err != nil {
		return err
	}
	art := pr.NewArtifacts(cfg.Output)
	log.Printf("MRP tree written to %s (seed %d)", art.Tree, summary.Seed)
	if summary.Bootstrap != nil {
		log.Printf("bootstrap consensus written to %s", art.Consensus)
	}
	fmt.Println(summary.Main.Tree.Tree)
	return nil
}

// Exit status for an error returned by the command
func exitCode(err error) int {
	switch {
	case errors.Is(err, pr.ErrConfiguration):
		return exitConfig
	case errors.Is(err, errReadingInput), errors.Is(err, pr.ErrMalformedMatrix),
		errors.Is(err, gr.ErrInsufficientTaxa), errors.Is(err, gr.ErrTooManyTaxa):
		return exitInput
	case errors.Is(err, pr.ErrWritingFile):
		return exitOutput
	default:
		return exitAnalysis
	}
}

func main() {
	log.SetFlags(log.LstdFlags | log.Lmicroseconds)
	log.Printf("qmrp version %s", Version)
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	err := newRootCmd(run).ExecuteContext(ctx)
	stop()
	if err != nil {
		log.Printf("%s %s", ErrMessage, err)
		os.Exit(exitCode(err))
	}
}
