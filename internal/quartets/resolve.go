// Package quartets resolves every quartet of a character matrix with the
// oracle and turns the optimal trees into weighted quartet trees.
package quartets

import (
	"fmt"
	"strings"

	"github.com/evolbioinfo/gotree/io/newick"

	gr "github.com/jsdoublel/qmrp/internal/graphs"
	"github.com/jsdoublel/qmrp/internal/oracle"
)

// Copies contributed by each quartet, however many optima the oracle found
const QuartetWeight = 6

// weights[k] is the number of copies for each of k optimal trees
var weights = [4][]int{nil, {6}, {3, 3}, {2, 2, 2}}

type WeightedTree struct {
	Newick   string     // verbatim oracle output
	Topology gr.Quartet // resolved quartet
	Weight   int
}

type Resolution struct {
	Quartet gr.Quartet // unresolved quartet the oracle was asked about
	Trees   []WeightedTree
}

// Parses the oracle's tree output for quartet q and weights the optimal trees
// in the order they were returned. One optimum gets 6 copies, two get 3 each
// and three get 2 each. Any other count, duplicate topologies or trees whose
// leaves are not the quartet's taxa are reported as ErrUnexpectedOptimaCount.
func Resolve(q gr.Quartet, output string, index map[string]int) (*Resolution, error) {
	trees, err := oracle.ParseTrees(output)
	if err != nil {
		return nil, err
	}
	if len(trees) < 1 || len(trees) > 3 {
		return nil, fmt.Errorf("%w, got %d optimal trees (expected 1 to 3)", oracle.ErrUnexpectedOptimaCount, len(trees))
	}
	res := &Resolution{Quartet: q.Unresolved(), Trees: make([]WeightedTree, len(trees))}
	seen := make(map[gr.Quartet]bool, len(trees))
	for i, t := range trees {
		qTree, err := newick.NewParser(strings.NewReader(t.Newick)).Parse()
		if err != nil {
			return nil, fmt.Errorf("%w, could not parse optimal tree %q: %s", oracle.ErrOracleInvocation, t.Newick, err)
		}
		topo, err := gr.ResolveTopology(res.Quartet, qTree, index)
		if err != nil {
			return nil, fmt.Errorf("%w, optimal tree %q: %w", oracle.ErrUnexpectedOptimaCount, t.Newick, err)
		}
		if seen[topo] {
			return nil, fmt.Errorf("%w, topology of %q returned more than once", oracle.ErrUnexpectedOptimaCount, t.Newick)
		}
		seen[topo] = true
		res.Trees[i] = WeightedTree{Newick: t.Newick, Topology: topo, Weight: weights[len(trees)][i]}
	}
	return res, nil
}

// Weighted copies as quartets.tre lines (without newlines)
func (r *Resolution) Lines() []string {
	lines := make([]string, 0, QuartetWeight)
	for _, t := range r.Trees {
		for range t.Weight {
			lines = append(lines, t.Newick)
		}
	}
	return lines
}

// Topologies with their weights, in output order
func (r *Resolution) Topologies() []gr.Quartet {
	topos := make([]gr.Quartet, 0, QuartetWeight)
	for _, t := range r.Trees {
		for range t.Weight {
			topos = append(topos, t.Topology)
		}
	}
	return topos
}
