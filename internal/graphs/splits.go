package graphs

import (
	"fmt"
	"slices"
	"strings"

	"github.com/bits-and-blooms/bitset"
	"github.com/evolbioinfo/gotree/tree"
)

// Non-trivial bipartitions of an unrooted tree over the sorted taxon list. Each
// split is stored as the side that does not contain taxon 0.
type Splits struct {
	NTaxa int              // number of taxa
	Sets  []*bitset.BitSet // one leafset per split, sorted by String()
}

// Computes the splits of tre. Every taxon in index must appear exactly once as
// a leaf of the tree.
func SplitsFromTree(tre *tree.Tree, index map[string]int) (*Splits, error) {
	n := len(index)
	leafsets := calcLeafsets(tre, n, index)
	if leafsets.err != nil {
		return nil, leafsets.err
	}
	if leafsets.seen.Count() != uint(n) {
		return nil, fmt.Errorf("%w, tree has %d of %d taxa", ErrTipNameMismatch, leafsets.seen.Count(), n)
	}
	unique := make(map[string]*bitset.BitSet)
	for id, ls := range leafsets.sets {
		if id == tre.Root().Id() {
			continue
		}
		size := ls.Count()
		if size < 2 || size > uint(n-2) {
			continue
		}
		if ls.Test(0) {
			ls = ls.Complement()
		}
		unique[ls.String()] = ls
	}
	splits := &Splits{NTaxa: n, Sets: make([]*bitset.BitSet, 0, len(unique))}
	for _, ls := range unique {
		splits.Sets = append(splits.Sets, ls)
	}
	slices.SortFunc(splits.Sets, func(a, b *bitset.BitSet) int {
		return strings.Compare(a.String(), b.String())
	})
	return splits, nil
}

type leafsetResult struct {
	sets map[int]*bitset.BitSet // node id -> leaves below node
	seen *bitset.BitSet
	err  error
}

// Calculates the leafset for every node, rooting the tree wherever gotree put
// its root
func calcLeafsets(tre *tree.Tree, n int, index map[string]int) leafsetResult {
	res := leafsetResult{sets: make(map[int]*bitset.BitSet), seen: bitset.New(uint(n))}
	tre.PostOrder(func(cur, prev *tree.Node, e *tree.Edge) (keep bool) {
		ls := bitset.New(uint(n))
		if cur.Tip() {
			ti, ok := index[cur.Name()]
			switch {
			case !ok && res.err == nil:
				res.err = fmt.Errorf("%w, unknown leaf %q", ErrTipNameMismatch, cur.Name())
			case ok && res.seen.Test(uint(ti)) && res.err == nil:
				res.err = fmt.Errorf("%w, leaf %q appears twice", ErrTipNameMismatch, cur.Name())
			case ok:
				ls.Set(uint(ti))
				res.seen.Set(uint(ti))
			}
		} else {
			for _, u := range cur.Neigh() {
				if u != prev {
					if child, ok := res.sets[u.Id()]; ok {
						ls.InPlaceUnion(child)
					}
				}
			}
		}
		res.sets[cur.Id()] = ls
		return true
	})
	return res
}

// Reports whether a resolved quartet ab|cd is displayed, i.e., some split
// separates {a,b} from {c,d}.
func (s *Splits) Displays(q Quartet) bool {
	if !q.Resolved() {
		panic("cannot test unresolved quartet")
	}
	a, b := uint(q.Taxon(0)), uint(q.Taxon(q.Partner()))
	cd := make([]uint, 0, 2)
	for i, t := range q.Taxa() {
		if q.Side(i) == 1 {
			cd = append(cd, uint(t))
		}
	}
	for _, ls := range s.Sets {
		sa, sc := ls.Test(a), ls.Test(cd[0])
		if sa == ls.Test(b) && sc == ls.Test(cd[1]) && sa != sc {
			return true
		}
	}
	return false
}

// Split as taxon names, e.g., A,B|C,D,E (taxon 0 always on the right)
func SplitString(ls *bitset.BitSet, names []string) string {
	in, out := make([]string, 0), make([]string, 0)
	for i, name := range names {
		if ls.Test(uint(i)) {
			in = append(in, name)
		} else {
			out = append(out, name)
		}
	}
	return strings.Join(in, ",") + "|" + strings.Join(out, ",")
}
