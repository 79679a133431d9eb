package graphs

import (
	"errors"
	"fmt"
	"iter"
	"strings"

	"github.com/evolbioinfo/gotree/tree"
)

// Quartet packs four taxon indices (15 bits each, strictly increasing) and an
// optional 4-bit topology into a single word. A zero topology means the
// quartet has not been resolved yet.
type Quartet uint64

const (
	NilQuartet = 0
	NTaxa      = 4
	MaxTaxa    = 1 << taxaShift

	taxaShift = 15
	topoShift = 60

	taxaMask = (1 << taxaShift) - 1 // 0x7FFF
	topoMask = 0xF

	Qtopo1 = uint8(0b1100) // three quartet topologies: ij|kl
	Qtopo2 = uint8(0b1010) // ik|jl
	Qtopo3 = uint8(0b0110) // il|jk
)

var (
	ErrInsufficientTaxa = errors.New("insufficient taxa")
	ErrTooManyTaxa      = errors.New("too many taxa")
	ErrTipNameMismatch  = errors.New("tip name mismatch")
	ErrInvalidQuartet   = errors.New("invalid newick for quartet")
)

// Number of quartets on n taxa, i.e., n choose 4
func NumQuartets(n int) int {
	if n < NTaxa {
		return 0
	}
	return n * (n - 1) * (n - 2) * (n - 3) / 24
}

// Enumerate returns every quartet on n taxa in nested-loop order on (i,j,k,l).
// The sequence is lazy and can be ranged over more than once.
func Enumerate(n int) (iter.Seq[Quartet], error) {
	if n < NTaxa {
		return nil, fmt.Errorf("%w, need at least %d taxa but have %d", ErrInsufficientTaxa, NTaxa, n)
	}
	if n > MaxTaxa {
		return nil, fmt.Errorf("%w, at most %d taxa are supported", ErrTooManyTaxa, MaxTaxa)
	}
	return func(yield func(Quartet) bool) {
		for i := 0; i < n; i++ {
			for j := i + 1; j < n; j++ {
				for k := j + 1; k < n; k++ {
					for l := k + 1; l < n; l++ {
						if !yield(NewQuartet(i, j, k, l)) {
							return
						}
					}
				}
			}
		}
	}, nil
}

// Unresolved quartet on taxa i < j < k < l
func NewQuartet(i, j, k, l int) Quartet {
	return makeQuartet([4]int16{int16(i), int16(j), int16(k), int16(l)}, 0)
}

func makeQuartet(taxa [4]int16, topology uint8) Quartet {
	var q uint64
	for i, t := range taxa {
		q |= uint64(t) << (taxaShift * i) // we assume positive taxa ids
	}
	q |= uint64(topology) << topoShift
	return Quartet(q)
}

// ResolveTopology reads the bipartition of a four leaf tree and returns q with
// that topology. The tree's leaves must be exactly the taxa of q; index maps
// taxon names to their position in the sorted taxon list.
func ResolveTopology(q Quartet, qTree *tree.Tree, index map[string]int) (Quartet, error) {
	tips := qTree.Tips()
	if len(tips) != NTaxa {
		return 0, fmt.Errorf("%w, tree has %d != 4 leaves", ErrInvalidQuartet, len(tips))
	}
	qTree.UnRoot()
	pairs := make(map[*tree.Node][]int16) // internal node -> leaves attached to it
	order := make([]*tree.Node, 0, 2)
	for _, l := range tips {
		ti, ok := index[l.Name()]
		if !ok {
			return 0, fmt.Errorf("%w, unknown leaf %q", ErrTipNameMismatch, l.Name())
		}
		neigh := l.Neigh()
		if len(neigh) != 1 {
			return 0, fmt.Errorf("%w, leaf %q is not a tip", ErrInvalidQuartet, l.Name())
		}
		if _, seen := pairs[neigh[0]]; !seen {
			order = append(order, neigh[0])
		}
		pairs[neigh[0]] = append(pairs[neigh[0]], int16(ti))
	}
	if len(order) != 2 || len(pairs[order[0]]) != 2 {
		return 0, fmt.Errorf("%w, tree does not contain a bipartition", ErrInvalidQuartet)
	}
	taxaIDs := [4]int16{pairs[order[0]][0], pairs[order[0]][1], pairs[order[1]][0], pairs[order[1]][1]}
	topo := setTopology(&taxaIDs)
	resolved := makeQuartet(taxaIDs, topo)
	if resolved.Unresolved() != q.Unresolved() {
		return 0, fmt.Errorf("%w, leaves do not match quartet taxa", ErrTipNameMismatch)
	}
	return resolved, nil
}

// Generate unit8 representing quartet topology. The first two entries of
// taxaIDs must be siblings; taxaIDs is sorted in place.
func setTopology(taxaIDs *[4]int16) uint8 {
	topo := sortTaxa(taxaIDs) // sort ids so quartet topologies are equal if they are the same
	if topo%2 != 0 {          // normalize quartet (i.e., so that there are three topologies instead of six)
		topo ^= 0b1111
	}
	if topo != Qtopo1 && topo != Qtopo2 && topo != Qtopo3 {
		panic(fmt.Sprintf("quartet didn't define bipartition properly, probably due to a bug: %b", topo))
	}
	return topo
}

// Short 4 long int array (no build in array sort in go)
// returns the topology as uint8
func sortTaxa(arr *[4]int16) uint8 {
	topo := uint8(0b0011)
	for i := 0; i < 3; i++ {
		for j := i + 1; j < 4; j++ {
			if arr[i] > arr[j] {
				bi := uint8(topo >> i & 1)
				bj := uint8(topo >> j & 1)
				if bi != bj {
					m := uint8((1 << i) | (1 << j))
					topo ^= m
				}
				arr[i], arr[j] = arr[j], arr[i]
			}
		}
	}
	return topo
}

func (q Quartet) Topology() uint8 {
	return uint8((q >> topoShift) & topoMask)
}

func (q Quartet) Resolved() bool {
	return q.Topology() != 0
}

// Same quartet with the topology cleared
func (q Quartet) Unresolved() Quartet {
	return q & ^(Quartet(topoMask) << topoShift)
}

func (q Quartet) Taxon(i int) uint16 {
	return uint16((q >> (taxaShift * i)) & taxaMask)
}

func (q Quartet) Taxa() iter.Seq2[int, uint16] {
	return func(yield func(int, uint16) bool) {
		for i := range 4 {
			if !yield(i, q.Taxon(i)) {
				return
			}
		}
	}
}

// Side of the bipartition (0 or 1) the taxon at position i falls on. The
// taxon at position 0 is always on side 0.
func (q Quartet) Side(i int) uint8 {
	return (q.Topology() >> i) & 1
}

// Position of the taxon paired with position 0
func (q Quartet) Partner() int {
	for i := 1; i < 4; i++ {
		if q.Side(i) == 0 {
			return i
		}
	}
	panic("quartet is not resolved")
}

func (q Quartet) AllQuartets() []Quartet {
	base := q.Unresolved()
	return []Quartet{
		base | Quartet(Qtopo1)<<topoShift,
		base | Quartet(Qtopo2)<<topoShift,
		base | Quartet(Qtopo3)<<topoShift,
	}
}

// Identifier used to name per quartet scratch files, e.g., q_0_1_2_5
func (q Quartet) Task() string {
	return fmt.Sprintf("q_%d_%d_%d_%d", q.Taxon(0), q.Taxon(1), q.Taxon(2), q.Taxon(3))
}

// Taxa names as a tuple, e.g., (A,B,C,D)
func (q Quartet) Label(names []string) string {
	parts := make([]string, 4)
	for i, t := range q.Taxa() {
		parts[i] = names[t]
	}
	return "(" + strings.Join(parts, ",") + ")"
}

// Topology as a split string, e.g., AB|CD
func (q Quartet) String(names []string) string {
	if !q.Resolved() {
		return q.Label(names)
	}
	var left, right string
	for i, t := range q.Taxa() {
		if q.Side(i) == 0 {
			left += names[t]
		} else {
			right += names[t]
		}
	}
	return left + "|" + right
}

// Maps each taxon name to its index
func IndexTaxa(names []string) map[string]int {
	index := make(map[string]int, len(names))
	for i, n := range names {
		index[n] = i
	}
	return index
}
