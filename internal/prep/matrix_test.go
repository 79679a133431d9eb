package prep

import (
	"errors"
	"os"
	"reflect"
	"testing"
)

func TestReadMatrix(t *testing.T) {
	testCases := []struct {
		name        string
		file        string
		taxa        []string
		nChar       int
		expectedErr error
	}{
		{
			name:  "basic",
			file:  "testdata/five.phy",
			taxa:  []string{"A", "B", "C", "D", "E"},
			nChar: 4,
		},
		{
			name:  "unsorted blocks",
			file:  "testdata/unsorted.phy",
			taxa:  []string{"A", "b", "c", "d", "E"},
			nChar: 4,
		},
		{
			name:        "uneven rows",
			file:        "testdata/uneven.phy",
			expectedErr: ErrMalformedMatrix,
		},
		{
			name:        "duplicate taxon",
			file:        "testdata/duplicate.phy",
			expectedErr: ErrMalformedMatrix,
		},
		{
			name:        "bad character",
			file:        "testdata/badchar.phy",
			expectedErr: ErrMalformedMatrix,
		},
		{
			name:        "wrong taxon count",
			file:        "testdata/shortcount.phy",
			expectedErr: ErrMalformedMatrix,
		},
		{
			name:        "wrong character count",
			file:        "testdata/badnchar.phy",
			expectedErr: ErrMalformedMatrix,
		},
		{
			name:        "bad header",
			file:        "testdata/badheader.phy",
			expectedErr: ErrMalformedMatrix,
		},
		{
			name:        "empty",
			file:        "testdata/empty.phy",
			expectedErr: ErrMalformedMatrix,
		},
		{
			name:        "missing file",
			file:        "testdata/nope.phy",
			expectedErr: os.ErrNotExist,
		},
	}
	for _, test := range testCases {
		t.Run(test.name, func(t *testing.T) {
			m, err := ReadMatrix(test.file)
			switch {
			case !errors.Is(err, test.expectedErr):
				t.Errorf("Failed with unexpected error %+v", err)
			case errors.Is(err, test.expectedErr) && err != nil:
				t.Logf("%s", err)
			case test.expectedErr == nil:
				if !reflect.DeepEqual(m.Taxa(), test.taxa) {
					t.Errorf("taxa %v != expected %v", m.Taxa(), test.taxa)
				}
				if m.NChar() != test.nChar || m.NTaxa() != len(test.taxa) {
					t.Errorf("dimensions %dx%d != expected %dx%d", m.NTaxa(), m.NChar(), len(test.taxa), test.nChar)
				}
			}
		})
	}
}

func TestNewMatrix(t *testing.T) {
	testCases := []struct {
		name        string
		rows        []Row
		expectedErr error
	}{
		{
			name: "valid",
			rows: []Row{{"Homo", "01?-"}, {"pan", "0110"}, {"Gorilla", "1100"}},
		},
		{
			name:        "case duplicate",
			rows:        []Row{{"Homo", "0101"}, {"homo", "0110"}},
			expectedErr: ErrMalformedMatrix,
		},
		{
			name:        "unsafe name",
			rows:        []Row{{"Homo(sapiens)", "0101"}, {"Pan", "0110"}},
			expectedErr: ErrMalformedMatrix,
		},
		{
			name:        "short row",
			rows:        []Row{{"A", "0101"}, {"B", "0110"}, {"C", "011"}, {"D", "0000"}},
			expectedErr: ErrMalformedMatrix,
		},
		{
			name:        "no characters",
			rows:        []Row{{"A", ""}, {"B", ""}},
			expectedErr: ErrMalformedMatrix,
		},
		{
			name:        "no taxa",
			rows:        []Row{},
			expectedErr: ErrMalformedMatrix,
		},
	}
	for _, test := range testCases {
		t.Run(test.name, func(t *testing.T) {
			_, err := NewMatrix(test.rows)
			if !errors.Is(err, test.expectedErr) {
				t.Errorf("unexpected error %+v", err)
			}
		})
	}
}

func TestSelectColumns(t *testing.T) {
	m, err := NewMatrix([]Row{{"A", "0123"}, {"B", "4567"}, {"C", "89?-"}})
	if err != nil {
		t.Fatal(err)
	}
	out := m.SelectColumns([]int{3, 3, 0, 1})
	expected := []string{"3301", "7745", "--89"}
	for i := range m.NTaxa() {
		if out.Chars(i) != expected[i] {
			t.Errorf("row %s = %s, expected %s", out.Taxon(i), out.Chars(i), expected[i])
		}
	}
	if m.Chars(0) != "0123" {
		t.Error("original matrix was modified")
	}
	rows := m.Rows(2, 0)
	if rows[0].Taxon != "C" || rows[1].Chars != "0123" {
		t.Errorf("unexpected rows %v", rows)
	}
}
