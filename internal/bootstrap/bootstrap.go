// Package bootstrap resamples the character matrix, runs the analysis on every
// replicate and aggregates the replicate trees.
package bootstrap

import (
	"cmp"
	"context"
	"fmt"
	"log"
	"math/rand/v2"
	"slices"
	"strings"
	"sync/atomic"

	"github.com/evolbioinfo/gotree/io/newick"

	gr "github.com/jsdoublel/qmrp/internal/graphs"
	"github.com/jsdoublel/qmrp/internal/oracle"
	"github.com/jsdoublel/qmrp/internal/pool"
	pr "github.com/jsdoublel/qmrp/internal/prep"
)

// Draws NChar positions with replacement and returns the matrix built from
// those columns together with the positions.
func Resample(m *pr.Matrix, rng *rand.Rand) (*pr.Matrix, []int) {
	positions := make([]int, m.NChar())
	for i := range positions {
		positions[i] = rng.IntN(m.NChar())
	}
	return m.SelectColumns(positions), positions
}

// Random generator for replicate r; replicates do not share state
func ReplicateRand(seed uint64, r int) *rand.Rand {
	return rand.New(rand.NewPCG(seed, uint64(r)))
}

type Replicate struct {
	Number    int        // 1..B
	Matrix    *pr.Matrix // resampled matrix
	Positions []int      // original column of each character
}

// Analysis run on one replicate, returning its tree as newick
type Pipeline func(ctx context.Context, rep *Replicate) (string, error)

type Engine struct {
	Replicates int
	Seed       uint64
	Oracle     oracle.Oracle
	Pool       *pool.Pool
}

type Result struct {
	Trees     []string // one tree per replicate, in replicate order
	Consensus string   // extended majority-rule consensus (newick)
	Supports  []pr.SplitSupport
}

// Runs pipeline on replicates 1..Replicates and builds the consensus. The
// first failing replicate aborts the bootstrap; there is no retry and no
// partial result.
func (e *Engine) Run(ctx context.Context, m *pr.Matrix, pipeline Pipeline) (*Result, error) {
	var done atomic.Int64
	trees, err := pool.Map(ctx, e.Pool, e.Replicates, func(ctx context.Context, i int) (string, error) {
		rep := &Replicate{Number: i + 1}
		rep.Matrix, rep.Positions = Resample(m, ReplicateRand(e.Seed, rep.Number))
		tree, err := pipeline(ctx, rep)
		if err != nil {
			return "", fmt.Errorf("bootstrap replicate %d: %w", rep.Number, err)
		}
		n := int(done.Add(1))
		pr.LogEveryNPercent(n, 10, e.Replicates, fmt.Sprintf("%d/%d bootstrap replicates complete", n, e.Replicates))
		return tree, nil
	})
	if err != nil {
		return nil, err
	}
	supports, err := Supports(trees, m.Taxa())
	if err != nil {
		return nil, err
	}
	req := oracle.ConsensusRequest{Task: "bs_consensus", Kind: oracle.MajorityRule, Taxa: m.Taxa(), Trees: trees}
	var resp *oracle.Response
	err = e.Pool.Do(ctx, func(ctx context.Context) (err error) {
		resp, err = e.Oracle.Consensus(ctx, req)
		return
	})
	if err != nil {
		return nil, fmt.Errorf("bootstrap consensus: %w", err)
	}
	con, err := oracle.ParseSingleTree(resp.Output)
	if err != nil {
		return nil, fmt.Errorf("bootstrap consensus: %w", err)
	}
	log.Printf("bootstrap consensus built from %d replicate trees (%d distinct splits)", len(trees), len(supports))
	return &Result{Trees: trees, Consensus: con.Newick, Supports: supports}, nil
}

// Counts how many trees contain each split. Splits are sorted by decreasing
// frequency, ties by split text.
func Supports(trees []string, taxa []string) ([]pr.SplitSupport, error) {
	index := gr.IndexTaxa(taxa)
	counts := make(map[string]int)
	for i, nwk := range trees {
		tre, err := newick.NewParser(strings.NewReader(nwk)).Parse()
		if err != nil {
			return nil, fmt.Errorf("%w, replicate tree %d is not valid newick: %s", oracle.ErrOracleInvocation, i+1, err)
		}
		splits, err := gr.SplitsFromTree(tre, index)
		if err != nil {
			return nil, fmt.Errorf("replicate tree %d: %w", i+1, err)
		}
		for _, ls := range splits.Sets {
			counts[gr.SplitString(ls, taxa)]++
		}
	}
	supports := make([]pr.SplitSupport, 0, len(counts))
	for split, c := range counts {
		supports = append(supports, pr.SplitSupport{
			Split:      split,
			Replicates: c,
			Frequency:  float64(c) / float64(len(trees)),
		})
	}
	slices.SortFunc(supports, func(a, b pr.SplitSupport) int {
		if c := cmp.Compare(b.Replicates, a.Replicates); c != 0 {
			return c
		}
		return strings.Compare(a.Split, b.Split)
	})
	return supports, nil
}

// Frequencies of supports, in the same order
func Frequencies(supports []pr.SplitSupport) []float64 {
	freqs := make([]float64, len(supports))
	for i, s := range supports {
		freqs[i] = s.Frequency
	}
	return freqs
}
