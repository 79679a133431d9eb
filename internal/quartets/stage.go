package quartets

import (
	"context"
	"fmt"
	"log"
	"sync/atomic"

	gr "github.com/jsdoublel/qmrp/internal/graphs"
	"github.com/jsdoublel/qmrp/internal/oracle"
	"github.com/jsdoublel/qmrp/internal/pool"
	pr "github.com/jsdoublel/qmrp/internal/prep"
)

const progressPercent = 10

// Resolves all quartets of a matrix
type Stage struct {
	Oracle  oracle.Oracle
	Pool    *pool.Pool
	Prefix  string // prepended to task names (e.g., BS3_) so concurrent runs do not share scratch files
	Verbose bool   // log progress
}

type Result struct {
	Resolutions []*Resolution // in enumeration order
	LastLog     []byte        // oracle stdout for the last quartet in enumeration order
}

// Resolves every quartet of m. Each quartet is an independent oracle request
// run on the pool; resolutions are collected by enumeration index so the
// result does not depend on completion order. The first failure aborts the
// stage and names the quartet.
func (s *Stage) Run(ctx context.Context, m *pr.Matrix) (*Result, error) {
	seq, err := gr.Enumerate(m.NTaxa())
	if err != nil {
		return nil, err
	}
	qs := make([]gr.Quartet, 0, gr.NumQuartets(m.NTaxa()))
	for q := range seq {
		qs = append(qs, q)
	}
	taxa := m.Taxa()
	index := gr.IndexTaxa(taxa)
	last := len(qs) - 1
	var lastLog []byte
	var done atomic.Int64
	resolutions, err := pool.Map(ctx, s.Pool, len(qs), func(ctx context.Context, i int) (*Resolution, error) {
		q := qs[i]
		req := oracle.QuartetRequest{
			Task: s.Prefix + q.Task(),
			Rows: m.Rows(int(q.Taxon(0)), int(q.Taxon(1)), int(q.Taxon(2)), int(q.Taxon(3))),
		}
		var resp *oracle.Response
		err := s.Pool.Do(ctx, func(ctx context.Context) (err error) {
			resp, err = s.Oracle.ResolveQuartet(ctx, req)
			return
		})
		if err != nil {
			return nil, fmt.Errorf("quartet %s: %w", q.Label(taxa), err)
		}
		res, err := Resolve(q, resp.Output, index)
		if err != nil {
			return nil, fmt.Errorf("quartet %s: %w", q.Label(taxa), err)
		}
		if i == last {
			lastLog = resp.Stdout
		}
		if s.Verbose {
			n := int(done.Add(1))
			pr.LogEveryNPercent(n, progressPercent, len(qs), fmt.Sprintf("%d/%d quartets resolved", n, len(qs)))
		}
		return res, nil
	})
	if err != nil {
		return nil, err
	}
	return &Result{Resolutions: resolutions, LastLog: lastLog}, nil
}

// quartets.tre lines for all resolutions, in enumeration order
func (r *Result) Lines() []string {
	lines := make([]string, 0, QuartetWeight*len(r.Resolutions))
	for _, res := range r.Resolutions {
		lines = append(lines, res.Lines()...)
	}
	return lines
}

// Number of resolutions with k optimal trees, for k = 1, 2, 3
func (r *Result) Ties() [4]int {
	var ties [4]int
	for _, res := range r.Resolutions {
		ties[len(res.Trees)]++
	}
	return ties
}

// Logs how many quartets were resolved and how many were ties
func (r *Result) LogSummary() {
	ties := r.Ties()
	log.Printf("%d quartets resolved (%d unique optimum, %d two-way ties, %d three-way ties)",
		len(r.Resolutions), ties[1], ties[2], ties[3])
}
