// Package implementing quartet scoring for trees
package score

import (
	"fmt"
	"strings"

	"github.com/evolbioinfo/gotree/io/newick"

	gr "github.com/jsdoublel/qmrp/internal/graphs"
	pr "github.com/jsdoublel/qmrp/internal/prep"
	"github.com/jsdoublel/qmrp/internal/quartets"
)

// Counts the weighted quartet trees displayed by the tree nwk. Every taxon must
// appear exactly once in the tree.
func QuartetSupport(label, nwk string, resolutions []*quartets.Resolution, taxa []string) (pr.QuartetStat, error) {
	tre, err := newick.NewParser(strings.NewReader(nwk)).Parse()
	if err != nil {
		return pr.QuartetStat{}, fmt.Errorf("tree %s is not valid newick: %w", label, err)
	}
	splits, err := gr.SplitsFromTree(tre, gr.IndexTaxa(taxa))
	if err != nil {
		return pr.QuartetStat{}, fmt.Errorf("tree %s: %w", label, err)
	}
	stat := pr.QuartetStat{Tree: label}
	for _, res := range resolutions {
		for _, wt := range res.Trees {
			stat.Total += wt.Weight
			if splits.Displays(wt.Topology) {
				stat.Satisfied += wt.Weight
			}
		}
	}
	return stat, nil
}
