// Package infer runs the quartet MRP analysis: it resolves every quartet,
// searches the MRP supermatrix, bootstraps the matrix and writes the results.
package infer

import (
	"context"
	"fmt"
	"io"
	"log"
	"time"

	"github.com/jsdoublel/qmrp/internal/bootstrap"
	gr "github.com/jsdoublel/qmrp/internal/graphs"
	"github.com/jsdoublel/qmrp/internal/mrp"
	"github.com/jsdoublel/qmrp/internal/oracle"
	"github.com/jsdoublel/qmrp/internal/pool"
	pr "github.com/jsdoublel/qmrp/internal/prep"
	"github.com/jsdoublel/qmrp/internal/quartets"
	sc "github.com/jsdoublel/qmrp/internal/score"
	"github.com/jsdoublel/qmrp/internal/supertree"
)

// Result of the pipeline on one matrix
type Analysis struct {
	Quartets    *quartets.Result
	Injected    int // MRP characters before filtering
	Informative int // MRP characters searched
	Tree        *supertree.Result
}

type Summary struct {
	Seed      uint64
	Main      *Analysis
	Bootstrap *bootstrap.Result // nil without bootstrapping
	Stats     []pr.QuartetStat  // main tree first, then replicates in order
}

// Where one analysis writes its files
type target struct {
	prefix  string // task name prefix
	base    string // artifact base name; empty to keep nothing
	verbose bool
}

type runner struct {
	cfg    *pr.Config
	oracle oracle.Oracle
	pool   *pool.Pool
}

// Runs the analysis on m and, if cfg.Bootstrap > 0, on that many bootstrap
// replicates, writing every artifact named after cfg.Output. Files written
// before a failure are left in place.
func Run(ctx context.Context, cfg *pr.Config, m *pr.Matrix, orc oracle.Oracle) (*Summary, error) {
	if m.NTaxa() < gr.NTaxa {
		return nil, fmt.Errorf("%w, need at least %d taxa but matrix has %d", gr.ErrInsufficientTaxa, gr.NTaxa, m.NTaxa())
	}
	seed := cfg.Seed
	if seed == 0 {
		seed = uint64(time.Now().UnixNano())
		log.Printf("no seed given, using %d", seed)
	}
	r := &runner{cfg: cfg, oracle: orc, pool: pool.New(cfg.Forks)}
	art := pr.NewArtifacts(cfg.Output)
	log.Printf("%d taxa, %d characters, %d quartets", m.NTaxa(), m.NChar(), gr.NumQuartets(m.NTaxa()))

	primary, err := r.analyze(ctx, m, seed, target{base: cfg.Output, verbose: true})
	if err != nil {
		return nil, err
	}
	if err := pr.WriteTrees(art.Tree, []string{primary.Tree.Tree}); err != nil {
		return nil, err
	}
	summary := &Summary{Seed: seed, Main: primary}
	stat, err := sc.QuartetSupport("MRP", primary.Tree.Tree, primary.Quartets.Resolutions, m.Taxa())
	if err != nil {
		return nil, err
	}
	summary.Stats = append(summary.Stats, stat)
	log.Printf("MRP tree displays %.2f%% of weighted quartets", stat.Percent())

	if cfg.Bootstrap > 0 {
		bs, stats, err := r.bootstrap(ctx, m, seed, primary)
		if err != nil {
			return nil, err
		}
		summary.Bootstrap = bs
		summary.Stats = append(summary.Stats, stats...)
	}
	if err := pr.WriteCSVFile(art.QuartetStats, func(w io.Writer) error {
		return pr.WriteQuartetStatsCSV(summary.Stats, w)
	}); err != nil {
		return nil, err
	}
	return summary, nil
}

// Quartet resolution, MRP encoding and supermatrix search for one matrix
func (r *runner) analyze(ctx context.Context, m *pr.Matrix, seed uint64, t target) (*Analysis, error) {
	stage := &quartets.Stage{Oracle: r.oracle, Pool: r.pool, Prefix: t.prefix, Verbose: t.verbose}
	if t.verbose {
		log.Println("resolving quartets")
	}
	qs, err := stage.Run(ctx, m)
	if err != nil {
		return nil, err
	}
	var script string
	if t.base != "" {
		art := pr.NewArtifacts(t.base)
		if err := pr.WriteTrees(art.Quartets, qs.Lines()); err != nil {
			return nil, err
		}
		script = art.Search
	}
	if t.verbose {
		qs.LogSummary()
		if err := pr.WriteFile(pr.NewArtifacts(t.base).LastQuartetLog, qs.LastLog); err != nil {
			return nil, err
		}
	}
	full := mrp.Encode(m.Taxa(), qs.Resolutions)
	supermatrix, err := mrp.Represent(ctx, r.oracle, r.pool, t.prefix+"matrixrep", m.Taxa(), qs.Lines())
	if err != nil {
		return nil, err
	}
	if err := supermatrix.Matches(full); err != nil {
		return nil, err
	}
	informative := supermatrix.Informative()
	if t.verbose {
		log.Printf("MRP supermatrix has %d characters (%d informative)", full.Injected(), informative.NChar())
		log.Printf("searching supermatrix (%s)", r.cfg.Strategy)
	}
	tree, err := supertree.Assemble(ctx, r.oracle, r.pool, supertree.Request{
		Task:       t.prefix + "mrp",
		Matrix:     informative,
		Strategy:   r.cfg.Strategy,
		SearchReps: r.cfg.SearchReps,
		MaxTrees:   r.cfg.MaxTrees,
		Seed:       seed,
		ScriptFile: script,
	})
	if err != nil {
		return nil, err
	}
	if t.verbose {
		log.Printf("search found %d optimal tree(s)", tree.Optima)
	}
	return &Analysis{Quartets: qs, Injected: full.Injected(), Informative: informative.NChar(), Tree: tree}, nil
}

// Runs every replicate through analyze, writes the replicate trees, their
// consensus and split frequencies, and scores each replicate tree against the
// main analysis' quartets.
func (r *runner) bootstrap(ctx context.Context, m *pr.Matrix, seed uint64, primary *Analysis) (*bootstrap.Result, []pr.QuartetStat, error) {
	log.Printf("running %d bootstrap replicates", r.cfg.Bootstrap)
	engine := &bootstrap.Engine{Replicates: r.cfg.Bootstrap, Seed: seed, Oracle: r.oracle, Pool: r.pool}
	res, err := engine.Run(ctx, m, func(ctx context.Context, rep *bootstrap.Replicate) (string, error) {
		t := target{prefix: fmt.Sprintf("BS%d_", rep.Number)}
		if r.cfg.KeepReplicates {
			t.base = pr.ReplicateBase(r.cfg.Output, rep.Number)
		}
		a, err := r.analyze(ctx, rep.Matrix, seed+uint64(rep.Number), t)
		if err != nil {
			return "", err
		}
		return a.Tree.Tree, nil
	})
	if err != nil {
		return nil, nil, err
	}
	art := pr.NewArtifacts(r.cfg.Output)
	if err := pr.WriteTrees(art.Replicates, res.Trees); err != nil {
		return nil, nil, err
	}
	if err := pr.WriteTrees(art.Consensus, []string{res.Consensus}); err != nil {
		return nil, nil, err
	}
	if err := pr.WriteCSVFile(art.Splits, func(w io.Writer) error {
		return pr.WriteSplitsCSV(res.Supports, w)
	}); err != nil {
		return nil, nil, err
	}
	if r.cfg.Plot && len(res.Supports) > 0 {
		if err := pr.WriteSupportLineplot(bootstrap.Frequencies(res.Supports), art.SplitsPlot); err != nil {
			return nil, nil, err
		}
	}
	stats := make([]pr.QuartetStat, len(res.Trees))
	for i, tree := range res.Trees {
		stats[i], err = sc.QuartetSupport(fmt.Sprintf("BS%d", i+1), tree, primary.Quartets.Resolutions, m.Taxa())
		if err != nil {
			return nil, nil, err
		}
	}
	return res, stats, nil
}
