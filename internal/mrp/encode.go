// Package mrp builds the binary supermatrix (matrix representation with
// parsimony) of the weighted quartet trees. The oracle produces the matrix
// from the tree stream; the in-core encoding checks it.
package mrp

import (
	"context"
	"errors"
	"fmt"
	"maps"
	"slices"

	"github.com/bits-and-blooms/bitset"

	gr "github.com/jsdoublel/qmrp/internal/graphs"
	"github.com/jsdoublel/qmrp/internal/oracle"
	"github.com/jsdoublel/qmrp/internal/pool"
	"github.com/jsdoublel/qmrp/internal/quartets"
)

var ErrRepresentationMismatch = errors.New("matrix representation does not match the quartet trees")

// One quartet tree's bipartition as a binary character, repeated weight times
type column struct {
	present *bitset.BitSet // taxa in the quartet
	ones    *bitset.BitSet // taxa on the side without the quartet's first taxon
	weight  int
}

// Binary supermatrix with rows in the sorted taxon order. Copies of the same
// quartet tree share a column.
type Matrix struct {
	taxa    []string
	columns []column
}

// Encodes every weighted quartet tree: taxa on the side of the quartet's
// first taxon are 0, the other side 1, and taxa outside the quartet ?.
func Encode(taxa []string, resolutions []*quartets.Resolution) *Matrix {
	m := &Matrix{taxa: taxa, columns: make([]column, 0, len(resolutions))}
	n := uint(len(taxa))
	for _, res := range resolutions {
		for _, wt := range res.Trees {
			col := column{present: bitset.New(n), ones: bitset.New(n), weight: wt.Weight}
			for i, t := range wt.Topology.Taxa() {
				col.present.Set(uint(t))
				if wt.Topology.Side(i) == 1 {
					col.ones.Set(uint(t))
				}
			}
			m.columns = append(m.columns, col)
		}
	}
	return m
}

func (m *Matrix) Taxa() []string {
	return m.taxa
}

func (m *Matrix) NTaxa() int {
	return len(m.taxa)
}

// Number of characters, counting every weighted copy
func (m *Matrix) NChar() int {
	n := 0
	for _, c := range m.columns {
		n += c.weight
	}
	return n
}

// Characters injected before filtering (6 per quartet for a full encoding)
func (m *Matrix) Injected() int {
	return m.NChar()
}

// Matrix without parsimony-uninformative characters, i.e., those where fewer
// than two taxa share each state.
func (m *Matrix) Informative() *Matrix {
	out := &Matrix{taxa: m.taxa, columns: make([]column, 0, len(m.columns))}
	for _, c := range m.columns {
		ones := c.ones.Count()
		if ones >= 2 && c.present.Count()-ones >= 2 {
			out.columns = append(out.columns, c)
		}
	}
	return out
}

// Character string of each taxon, in taxon order
func (m *Matrix) Rows() []string {
	nchar := m.NChar()
	rows := make([]string, len(m.taxa))
	buf := make([]byte, nchar)
	for i := range m.taxa {
		pos := 0
		for _, c := range m.columns {
			state := byte('?')
			if c.present.Test(uint(i)) {
				state = '0'
				if c.ones.Test(uint(i)) {
					state = '1'
				}
			}
			for range c.weight {
				buf[pos] = state
				pos++
			}
		}
		rows[i] = string(buf)
	}
	return rows
}

// Asks the oracle for the matrix representation of trees (newick, one weighted
// copy per line) and reads it back with rows in taxa order.
func Represent(ctx context.Context, orc oracle.Oracle, p *pool.Pool, task string, taxa, trees []string) (*Matrix, error) {
	req := oracle.MatrixRepRequest{Task: task, Taxa: taxa, Trees: trees}
	var resp *oracle.Response
	err := p.Do(ctx, func(ctx context.Context) (err error) {
		resp, err = orc.MatrixRep(ctx, req)
		return
	})
	if err != nil {
		return nil, fmt.Errorf("matrix representation: %w", err)
	}
	names, rows, err := oracle.ParseMatrix(resp.Output)
	if err != nil {
		return nil, fmt.Errorf("matrix representation: %w", err)
	}
	m, err := FromRows(taxa, names, rows)
	if err != nil {
		return nil, fmt.Errorf("matrix representation: %w", err)
	}
	return m, nil
}

// Builds a matrix from rows of 0, 1 and ? labelled by names. Rows are reordered
// to taxa; every taxon needs exactly one row and all rows the same length.
func FromRows(taxa, names, rows []string) (*Matrix, error) {
	if len(names) != len(taxa) || len(taxa) == 0 {
		return nil, fmt.Errorf("%w, got %d rows for %d taxa", ErrRepresentationMismatch, len(names), len(taxa))
	}
	index := gr.IndexTaxa(taxa)
	ordered := make([]string, len(taxa))
	for i, name := range names {
		t, ok := index[name]
		if !ok || ordered[t] != "" {
			return nil, fmt.Errorf("%w, unexpected row %q", ErrRepresentationMismatch, name)
		}
		if len(rows[i]) != len(rows[0]) {
			return nil, fmt.Errorf("%w, row %q has %d characters, expected %d", ErrRepresentationMismatch, name, len(rows[i]), len(rows[0]))
		}
		ordered[t] = rows[i]
	}
	n := uint(len(taxa))
	m := &Matrix{taxa: taxa, columns: make([]column, len(rows[0]))}
	for c := range m.columns {
		col := column{present: bitset.New(n), ones: bitset.New(n), weight: 1}
		for t, row := range ordered {
			switch row[c] {
			case '0':
				col.present.Set(uint(t))
			case '1':
				col.present.Set(uint(t))
				col.ones.Set(uint(t))
			case '?':
			default:
				return nil, fmt.Errorf("%w, row %q has state %q", ErrRepresentationMismatch, taxa[t], row[c])
			}
		}
		m.columns[c] = col
	}
	return m, nil
}

// Checks that m codes the same characters as expected, ignoring column order
// and which side of each bipartition is coded 1.
func (m *Matrix) Matches(expected *Matrix) error {
	if !slices.Equal(m.taxa, expected.taxa) {
		return fmt.Errorf("%w, taxa differ", ErrRepresentationMismatch)
	}
	if m.NChar() != expected.NChar() {
		return fmt.Errorf("%w, got %d characters, expected %d", ErrRepresentationMismatch, m.NChar(), expected.NChar())
	}
	if !maps.Equal(m.signatures(), expected.signatures()) {
		return fmt.Errorf("%w, characters differ", ErrRepresentationMismatch)
	}
	return nil
}

// Number of characters per bipartition, with the side holding the lowest
// present taxon coded 0
func (m *Matrix) signatures() map[string]int {
	sigs := make(map[string]int, len(m.columns))
	for _, c := range m.columns {
		ones := c.ones
		if first, ok := c.present.NextSet(0); ok && ones.Test(first) {
			ones = c.present.Difference(c.ones)
		}
		sigs[c.present.String()+"/"+ones.String()] += c.weight
	}
	return sigs
}
