package prep

import (
	"bufio"
	"errors"
	"fmt"
	"os"
	"slices"
	"strconv"
	"strings"
)

var ErrMalformedMatrix = errors.New("malformed character matrix")

const (
	Missing = '?'
	Gap     = '-'

	unsafeNameChars = "()[]{},:;'\"="
)

// Character matrix with taxa sorted case-insensitively. Immutable after
// construction.
type Matrix struct {
	taxa  []string // sorted taxon names
	chars []string // character string for each taxon (same order as taxa)
}

type Row struct {
	Taxon string
	Chars string
}

// Validates rows and builds a matrix. Fails with ErrMalformedMatrix if the
// character strings differ in length, a taxon name is repeated (ignoring
// case), a name is unsafe to pass to the oracle, or a character is not one of
// 0-9, ? or -.
func NewMatrix(rows []Row) (*Matrix, error) {
	if len(rows) == 0 {
		return nil, fmt.Errorf("%w, no taxa", ErrMalformedMatrix)
	}
	sorted := slices.Clone(rows)
	slices.SortStableFunc(sorted, func(a, b Row) int {
		return CompareTaxa(a.Taxon, b.Taxon)
	})
	nChar := len(sorted[0].Chars)
	m := &Matrix{taxa: make([]string, len(sorted)), chars: make([]string, len(sorted))}
	for i, r := range sorted {
		if err := validateName(r.Taxon); err != nil {
			return nil, err
		}
		if i > 0 && strings.EqualFold(sorted[i-1].Taxon, r.Taxon) {
			return nil, fmt.Errorf("%w, duplicate taxon %q", ErrMalformedMatrix, r.Taxon)
		}
		if len(r.Chars) != nChar {
			return nil, fmt.Errorf("%w, taxon %q has %d characters but taxon %q has %d",
				ErrMalformedMatrix, r.Taxon, len(r.Chars), sorted[0].Taxon, nChar)
		}
		if j := strings.IndexFunc(r.Chars, func(c rune) bool { return !validChar(c) }); j != -1 {
			return nil, fmt.Errorf("%w, taxon %q has invalid character %q at position %d",
				ErrMalformedMatrix, r.Taxon, r.Chars[j], j+1)
		}
		m.taxa[i], m.chars[i] = r.Taxon, r.Chars
	}
	if nChar == 0 {
		return nil, fmt.Errorf("%w, no characters", ErrMalformedMatrix)
	}
	return m, nil
}

// Case-insensitive ordering of taxon names; ties fall back to byte order
func CompareTaxa(a, b string) int {
	if c := strings.Compare(strings.ToLower(a), strings.ToLower(b)); c != 0 {
		return c
	}
	return strings.Compare(a, b)
}

func validChar(c rune) bool {
	return ('0' <= c && c <= '9') || c == Missing || c == Gap
}

func validateName(name string) error {
	switch {
	case name == "":
		return fmt.Errorf("%w, empty taxon name", ErrMalformedMatrix)
	case strings.ContainsAny(name, unsafeNameChars):
		return fmt.Errorf("%w, taxon name %q contains one of %s", ErrMalformedMatrix, name, unsafeNameChars)
	case strings.IndexFunc(name, func(c rune) bool { return c <= ' ' }) != -1:
		return fmt.Errorf("%w, taxon name %q contains whitespace", ErrMalformedMatrix, name)
	}
	return nil
}

func (m *Matrix) NTaxa() int {
	return len(m.taxa)
}

func (m *Matrix) NChar() int {
	return len(m.chars[0])
}

// Sorted taxon names (do not modify)
func (m *Matrix) Taxa() []string {
	return m.taxa
}

func (m *Matrix) Taxon(i int) string {
	return m.taxa[i]
}

func (m *Matrix) Chars(i int) string {
	return m.chars[i]
}

// Rows for the given taxon indices, in the order given
func (m *Matrix) Rows(idx ...int) []Row {
	rows := make([]Row, len(idx))
	for i, t := range idx {
		rows[i] = Row{Taxon: m.taxa[t], Chars: m.chars[t]}
	}
	return rows
}

// Builds a matrix of the same taxa whose j-th character is character
// positions[j] of m (used for bootstrap resampling).
func (m *Matrix) SelectColumns(positions []int) *Matrix {
	out := &Matrix{taxa: m.taxa, chars: make([]string, len(m.chars))}
	buf := make([]byte, len(positions))
	for i, chars := range m.chars {
		for j, p := range positions {
			buf[j] = chars[p]
		}
		out.chars[i] = string(buf)
	}
	return out
}

// Reads a relaxed PHYLIP file: a header line "ntax nchar" followed by one
// line per taxon holding the name and its characters (the characters may be
// split into blocks separated by whitespace). Blank lines are ignored.
func ReadMatrix(file string) (*Matrix, error) {
	f, err := os.Open(file)
	if err != nil {
		return nil, fmt.Errorf("error opening %s, %w", file, err)
	}
	defer func() {
		if err := f.Close(); err != nil {
			panic(fmt.Sprintf("could not close file %s, %s", file, err))
		}
	}()
	scanner := bufio.NewScanner(f)
	scanner.Buffer(make([]byte, 0, 64*1024), 16*1024*1024)
	nTax, nChar := -1, -1
	rows := make([]Row, 0)
	for i := 1; scanner.Scan(); i++ {
		fields := strings.Fields(scanner.Text())
		if len(fields) == 0 {
			continue
		}
		if nTax == -1 {
			if nTax, nChar, err = parseHeader(fields); err != nil {
				return nil, fmt.Errorf("%w, line %d in %s: %s", ErrMalformedMatrix, i, file, err)
			}
			continue
		}
		if len(fields) < 2 {
			return nil, fmt.Errorf("%w, line %d in %s: expected taxon name followed by characters",
				ErrMalformedMatrix, i, file)
		}
		rows = append(rows, Row{Taxon: fields[0], Chars: strings.Join(fields[1:], "")})
	}
	if err := scanner.Err(); err != nil {
		return nil, fmt.Errorf("error reading %s, %w", file, err)
	}
	if nTax == -1 {
		return nil, fmt.Errorf("%w, empty file %s", ErrMalformedMatrix, file)
	}
	if len(rows) != nTax {
		return nil, fmt.Errorf("%w, header of %s declares %d taxa but %d were read",
			ErrMalformedMatrix, file, nTax, len(rows))
	}
	m, err := NewMatrix(rows)
	if err != nil {
		return nil, fmt.Errorf("%s: %w", file, err)
	}
	if m.NChar() != nChar {
		return nil, fmt.Errorf("%w, header of %s declares %d characters but rows have %d",
			ErrMalformedMatrix, file, nChar, m.NChar())
	}
	return m, nil
}

func parseHeader(fields []string) (int, int, error) {
	if len(fields) != 2 {
		return 0, 0, fmt.Errorf("header must be \"ntax nchar\"")
	}
	nTax, err := strconv.Atoi(fields[0])
	if err != nil || nTax < 1 {
		return 0, 0, fmt.Errorf("invalid taxon count %q", fields[0])
	}
	nChar, err := strconv.Atoi(fields[1])
	if err != nil || nChar < 1 {
		return 0, 0, fmt.Errorf("invalid character count %q", fields[1])
	}
	return nTax, nChar, nil
}
