// Package supertree searches the MRP supermatrix and reduces the optima to a
// single tree.
package supertree

import (
	"context"
	"errors"
	"fmt"

	"github.com/jsdoublel/qmrp/internal/mrp"
	"github.com/jsdoublel/qmrp/internal/oracle"
	"github.com/jsdoublel/qmrp/internal/pool"
	pr "github.com/jsdoublel/qmrp/internal/prep"
)

var ErrNoCharacters = errors.New("supermatrix has no informative characters")

type Request struct {
	Task       string      // names the scratch files (e.g., mrp, BS3_mrp)
	Matrix     *mrp.Matrix // informative characters only
	Strategy   pr.Strategy
	SearchReps int
	MaxTrees   int
	Seed       uint64
	ScriptFile string // where the search script is kept (empty to discard)
}

type Result struct {
	Tree   string // newick
	Optima int    // equally parsimonious trees found by the search
}

// Searches the supermatrix. A unique optimum is returned as is; multiple
// optima are replaced by their strict consensus, computed by the oracle.
func Assemble(ctx context.Context, orc oracle.Oracle, p *pool.Pool, req Request) (*Result, error) {
	if req.Matrix.NChar() == 0 {
		return nil, ErrNoCharacters
	}
	search := oracle.SearchRequest{
		Task:       req.Task,
		Taxa:       req.Matrix.Taxa(),
		Rows:       req.Matrix.Rows(),
		Strategy:   req.Strategy,
		SearchReps: req.SearchReps,
		MaxTrees:   req.MaxTrees,
		Seed:       req.Seed,
		ScriptFile: req.ScriptFile,
	}
	var resp *oracle.Response
	err := p.Do(ctx, func(ctx context.Context) (err error) {
		resp, err = orc.Search(ctx, search)
		return
	})
	if err != nil {
		return nil, fmt.Errorf("supermatrix search: %w", err)
	}
	optima, err := oracle.ParseTrees(resp.Output)
	if err != nil {
		return nil, fmt.Errorf("supermatrix search: %w", err)
	}
	switch len(optima) {
	case 0:
		return nil, fmt.Errorf("supermatrix search: %w, no trees returned", oracle.ErrUnexpectedOptimaCount)
	case 1:
		return &Result{Tree: optima[0].Newick, Optima: 1}, nil
	}
	con := oracle.ConsensusRequest{
		Task:  req.Task + "_strict",
		Kind:  oracle.Strict,
		Taxa:  req.Matrix.Taxa(),
		Trees: oracle.Newicks(optima),
	}
	err = p.Do(ctx, func(ctx context.Context) (err error) {
		resp, err = orc.Consensus(ctx, con)
		return
	})
	if err != nil {
		return nil, fmt.Errorf("strict consensus of %d optima: %w", len(optima), err)
	}
	tree, err := oracle.ParseSingleTree(resp.Output)
	if err != nil {
		return nil, fmt.Errorf("strict consensus of %d optima: %w", len(optima), err)
	}
	return &Result{Tree: tree.Newick, Optima: len(optima)}, nil
}
