// Package oracletest provides a deterministic in-process oracle for tests.
package oracletest

import (
	"context"
	"fmt"
	"hash/fnv"
	"os"
	"slices"
	"strings"
	"sync"
	"sync/atomic"
	"time"

	"github.com/evolbioinfo/gotree/io/newick"

	gr "github.com/jsdoublel/qmrp/internal/graphs"
	"github.com/jsdoublel/qmrp/internal/oracle"
	pr "github.com/jsdoublel/qmrp/internal/prep"
)

// Fake resolves quartets by Fitch parsimony (missing data and gaps match
// anything) and reports every optimal topology in the order ab|cd, ac|bd,
// ad|bc. Matrix representations accept quartet trees only and code the side
// holding the first taxon as 1. Searches write the supermatrix rows to
// ScriptFile when one is given and return a caterpillar tree over the taxa in
// row order unless SearchTrees is set; consensus returns the input tree when
// all trees are identical and a star tree otherwise.
type Fake struct {
	SearchTrees func(req oracle.SearchRequest) []string // optional canned search optima
	Delay       time.Duration                           // base delay; scaled per task to shuffle completion order
	FailTask    string                                  // task that fails with ErrOracleInvocation

	calls       atomic.Int64
	inflight    atomic.Int64
	maxInflight atomic.Int64

	mu    sync.Mutex
	tasks map[string]int
	kinds []oracle.ConsensusKind
}

func (f *Fake) ResolveQuartet(ctx context.Context, req oracle.QuartetRequest) (*oracle.Response, error) {
	if err := f.enter(ctx, req.Task); err != nil {
		return nil, err
	}
	defer f.exit()
	if len(req.Rows) != 4 {
		return nil, fmt.Errorf("%w, got %d rows", oracle.ErrOracleInvocation, len(req.Rows))
	}
	n := make([]string, 4)
	for i, r := range req.Rows {
		n[i] = r.Taxon
	}
	pairs := [3][4]int{{0, 1, 2, 3}, {0, 2, 1, 3}, {0, 3, 1, 2}}
	scores := [3]int{}
	best := -1
	for t, p := range pairs {
		scores[t] = quartetScore(req.Rows, p)
		if best == -1 || scores[t] < best {
			best = scores[t]
		}
	}
	trees := make([]string, 0, 3)
	for t, p := range pairs {
		if scores[t] == best {
			trees = append(trees, fmt.Sprintf("((%s,%s),(%s,%s));", n[p[0]], n[p[1]], n[p[2]], n[p[3]]))
		}
	}
	return &oracle.Response{
		Output: TreeFile(trees...),
		Stdout: []byte(fmt.Sprintf("%s: %d optimal tree(s) of length %d\n", req.Task, len(trees), best)),
	}, nil
}

func (f *Fake) MatrixRep(ctx context.Context, req oracle.MatrixRepRequest) (*oracle.Response, error) {
	if err := f.enter(ctx, req.Task); err != nil {
		return nil, err
	}
	defer f.exit()
	index := gr.IndexTaxa(req.Taxa)
	rows := make([][]byte, len(req.Taxa))
	for i := range rows {
		rows[i] = []byte(strings.Repeat("?", len(req.Trees)))
	}
	for c, nwk := range req.Trees {
		tre, err := newick.NewParser(strings.NewReader(nwk)).Parse()
		if err != nil {
			return nil, fmt.Errorf("%w, tree %d: %s", oracle.ErrOracleInvocation, c+1, err)
		}
		ids := make([]int, 0, 4)
		for _, tip := range tre.Tips() {
			ids = append(ids, index[tip.Name()])
		}
		if len(ids) != 4 {
			return nil, fmt.Errorf("%w, tree %d is not a quartet", oracle.ErrOracleInvocation, c+1)
		}
		slices.Sort(ids)
		q, err := gr.ResolveTopology(gr.NewQuartet(ids[0], ids[1], ids[2], ids[3]), tre, index)
		if err != nil {
			return nil, fmt.Errorf("%w, tree %d: %s", oracle.ErrOracleInvocation, c+1, err)
		}
		for i, t := range q.Taxa() {
			rows[t][c] = '1' - q.Side(i)
		}
	}
	var b strings.Builder
	fmt.Fprintf(&b, "#NEXUS\n\nbegin data;\n\tdimensions ntax=%d nchar=%d;\n", len(req.Taxa), len(req.Trees))
	b.WriteString("\tformat datatype=standard symbols=\"01\" missing=?;\n\tmatrix\n")
	for i, t := range req.Taxa {
		fmt.Fprintf(&b, "\t'%s' %s\n", t, rows[i])
	}
	b.WriteString("\t;\nend;\n")
	return &oracle.Response{Output: b.String()}, nil
}

func (f *Fake) Search(ctx context.Context, req oracle.SearchRequest) (*oracle.Response, error) {
	if err := f.enter(ctx, req.Task); err != nil {
		return nil, err
	}
	defer f.exit()
	if req.ScriptFile != "" {
		var script strings.Builder
		for i, t := range req.Taxa {
			fmt.Fprintf(&script, "%s %s\n", t, req.Rows[i])
		}
		if err := os.WriteFile(req.ScriptFile, []byte(script.String()), 0644); err != nil {
			return nil, fmt.Errorf("%w, %s", oracle.ErrOracleInvocation, err)
		}
	}
	if f.SearchTrees != nil {
		return &oracle.Response{Output: TreeFile(f.SearchTrees(req)...)}, nil
	}
	nwk := req.Taxa[0]
	for _, t := range req.Taxa[1:] {
		nwk = "(" + nwk + "," + t + ")"
	}
	return &oracle.Response{Output: TreeFile(nwk + ";")}, nil
}

func (f *Fake) Consensus(ctx context.Context, req oracle.ConsensusRequest) (*oracle.Response, error) {
	if err := f.enter(ctx, req.Task); err != nil {
		return nil, err
	}
	defer f.exit()
	f.mu.Lock()
	f.kinds = append(f.kinds, req.Kind)
	f.mu.Unlock()
	for _, t := range req.Trees[1:] {
		if t != req.Trees[0] {
			return &oracle.Response{Output: TreeFile("(" + strings.Join(req.Taxa, ",") + ");")}, nil
		}
	}
	return &oracle.Response{Output: TreeFile(req.Trees[0])}, nil
}

// Number of requests received
func (f *Fake) Calls() int {
	return int(f.calls.Load())
}

// Largest number of requests running at the same time
func (f *Fake) MaxInflight() int {
	return int(f.maxInflight.Load())
}

// Consensus kinds requested, in order
func (f *Fake) ConsensusKinds() []oracle.ConsensusKind {
	f.mu.Lock()
	defer f.mu.Unlock()
	return append([]oracle.ConsensusKind{}, f.kinds...)
}

// Task names that were requested more than once
func (f *Fake) RepeatedTasks() []string {
	f.mu.Lock()
	defer f.mu.Unlock()
	repeated := make([]string, 0)
	for t, c := range f.tasks {
		if c > 1 {
			repeated = append(repeated, t)
		}
	}
	return repeated
}

func (f *Fake) enter(ctx context.Context, task string) error {
	f.calls.Add(1)
	f.mu.Lock()
	if f.tasks == nil {
		f.tasks = make(map[string]int)
	}
	f.tasks[task]++
	f.mu.Unlock()
	cur := f.inflight.Add(1)
	for {
		m := f.maxInflight.Load()
		if cur <= m || f.maxInflight.CompareAndSwap(m, cur) {
			break
		}
	}
	if task == f.FailTask {
		f.inflight.Add(-1)
		return fmt.Errorf("%w, task %s: fake failure", oracle.ErrOracleInvocation, task)
	}
	if f.Delay > 0 {
		h := fnv.New32a()
		h.Write([]byte(task))
		select {
		case <-time.After(f.Delay * time.Duration(h.Sum32()%5+1)):
		case <-ctx.Done():
			f.inflight.Add(-1)
			return ctx.Err()
		}
	}
	return nil
}

func (f *Fake) exit() {
	f.inflight.Add(-1)
}

// Formats newick strings the way the oracle saves them
func TreeFile(newicks ...string) string {
	var b strings.Builder
	b.WriteString("#NEXUS\n\nbegin trees;\n")
	for i, nwk := range newicks {
		fmt.Fprintf(&b, "\ttree PAUP_%d = [&U] %s\n", i+1, nwk)
	}
	b.WriteString("end;\n")
	return b.String()
}

// Fitch length of the quartet tree pairing p[0],p[1] against p[2],p[3]
func quartetScore(rows []pr.Row, p [4]int) int {
	score := 0
	for c := range len(rows[0].Chars) {
		s1, c1 := fitch(stateSet(rows[p[0]].Chars[c]), stateSet(rows[p[1]].Chars[c]))
		s2, c2 := fitch(stateSet(rows[p[2]].Chars[c]), stateSet(rows[p[3]].Chars[c]))
		_, c3 := fitch(s1, s2)
		score += c1 + c2 + c3
	}
	return score
}

func stateSet(c byte) uint16 {
	if c == pr.Missing || c == pr.Gap {
		return 1<<10 - 1
	}
	return 1 << (c - '0')
}

func fitch(a, b uint16) (uint16, int) {
	if a&b != 0 {
		return a & b, 0
	}
	return a | b, 1
}
