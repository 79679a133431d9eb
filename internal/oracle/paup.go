package oracle

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"log"
	"os"
	"os/exec"
	"path/filepath"
	"strings"

	pr "github.com/jsdoublel/qmrp/internal/prep"
)

const maxSeed = 1<<31 - 1

// Runs PAUP* (or any program reading the same NEXUS commands) as
// <Exe> <Args...> <script> from inside Dir. Scratch files are created in Dir
// and removed once their output has been read. Every path handed to the
// program is absolute.
type Paup struct {
	Exe  string   // resolved executable path
	Args []string // arguments placed before the script file (e.g., -n)
	Dir  string   // scratch directory
}

// Resolves exe on PATH and checks the scratch directory exists
func NewPaup(exe string, args []string, dir string) (*Paup, error) {
	path, err := exec.LookPath(exe)
	if err != nil {
		return nil, fmt.Errorf("%w, executable %q not found: %s", ErrOracleInvocation, exe, err)
	}
	if path, err = filepath.Abs(path); err != nil {
		return nil, fmt.Errorf("%w, executable %q: %s", ErrOracleInvocation, exe, err)
	}
	if info, err := os.Stat(dir); err != nil || !info.IsDir() {
		return nil, fmt.Errorf("%w, scratch directory %q is not usable", ErrOracleInvocation, dir)
	}
	abs, err := filepath.Abs(dir)
	if err != nil {
		return nil, fmt.Errorf("%w, scratch directory %q: %s", ErrOracleInvocation, dir, err)
	}
	return &Paup{Exe: path, Args: args, Dir: abs}, nil
}

func (p *Paup) ResolveQuartet(ctx context.Context, req QuartetRequest) (*Response, error) {
	if len(req.Rows) != 4 {
		return nil, fmt.Errorf("%w, quartet request %s has %d rows", ErrOracleInvocation, req.Task, len(req.Rows))
	}
	taxa, chars := make([]string, 4), make([]string, 4)
	for i, r := range req.Rows {
		taxa[i], chars[i] = r.Taxon, r.Chars
	}
	treeFile := p.scratch(req.Task, ".tre")
	var script strings.Builder
	script.WriteString("#NEXUS\n\n")
	writeData(&script, taxa, chars, `datatype=standard symbols="0123456789" missing=? gap=-`)
	writePaupBlock(&script, "criterion=parsimony",
		"alltrees",
		fmt.Sprintf("savetrees file=%s format=altnex brlens=no replace=yes", treeFile),
	)
	return p.run(ctx, req.Task, script.String(), "", treeFile)
}

func (p *Paup) MatrixRep(ctx context.Context, req MatrixRepRequest) (*Response, error) {
	if len(req.Trees) == 0 {
		return nil, fmt.Errorf("%w, %w", ErrOracleInvocation, errInvalidSourceTrees)
	}
	matrixFile := p.scratch(req.Task, ".mrp")
	var script strings.Builder
	script.WriteString("#NEXUS\n\n")
	writeTrees(&script, req.Taxa, req.Trees)
	writePaupBlock(&script, "",
		fmt.Sprintf("matrixrep file=%s format=nexus replace=yes", matrixFile),
	)
	return p.run(ctx, req.Task, script.String(), "", matrixFile)
}

func (p *Paup) Search(ctx context.Context, req SearchRequest) (*Response, error) {
	if len(req.Taxa) != len(req.Rows) || len(req.Taxa) == 0 {
		return nil, fmt.Errorf("%w, %w (%d taxa, %d rows)", ErrOracleInvocation, errInvalidSupermatrixRows,
			len(req.Taxa), len(req.Rows))
	}
	treeFile := p.scratch(req.Task, ".tre")
	var search string
	switch req.Strategy {
	case pr.HeuristicTBR:
		search = fmt.Sprintf("hsearch addseq=random nreps=%d rseed=%d swap=tbr hold=1 multrees=yes",
			req.SearchReps, req.Seed%maxSeed+1)
	case pr.BranchAndBound:
		search = "bandb"
	default:
		panic(fmt.Sprintf("invalid search strategy (%d)", req.Strategy))
	}
	var script strings.Builder
	script.WriteString("#NEXUS\n\n")
	writeData(&script, req.Taxa, req.Rows, `datatype=standard symbols="01" missing=?`)
	writePaupBlock(&script,
		fmt.Sprintf("criterion=parsimony maxtrees=%d increase=no", req.MaxTrees),
		search,
		fmt.Sprintf("savetrees file=%s format=altnex brlens=no replace=yes", treeFile),
	)
	return p.run(ctx, req.Task, script.String(), req.ScriptFile, treeFile)
}

func (p *Paup) Consensus(ctx context.Context, req ConsensusRequest) (*Response, error) {
	if len(req.Trees) == 0 {
		return nil, fmt.Errorf("%w, %w", ErrOracleInvocation, errInvalidConsensusTrees)
	}
	treeFile := p.scratch(req.Task, ".tre")
	var contree string
	switch req.Kind {
	case Strict:
		contree = fmt.Sprintf("contree all/strict=yes majrule=no treefile=%s format=altnex replace=yes", treeFile)
	case MajorityRule:
		contree = fmt.Sprintf("contree all/strict=no majrule=yes le50=yes treefile=%s format=altnex replace=yes", treeFile)
	default:
		panic(fmt.Sprintf("invalid consensus kind (%d)", req.Kind))
	}
	var script strings.Builder
	script.WriteString("#NEXUS\n\n")
	writeTrees(&script, req.Taxa, req.Trees)
	writePaupBlock(&script, "", contree)
	return p.run(ctx, req.Task, script.String(), "", treeFile)
}

func (p *Paup) scratch(task, ext string) string {
	return filepath.Join(p.Dir, task+ext)
}

// Writes the script, runs the oracle, and reads outFile. If keepScript is
// set the script is written there and left in place; everything else is
// removed before returning.
func (p *Paup) run(ctx context.Context, task, script, keepScript, outFile string) (*Response, error) {
	scriptFile := keepScript
	if scriptFile == "" {
		scriptFile = p.scratch(task, ".nex")
		defer removeScratch(scriptFile)
	}
	defer removeScratch(outFile)
	// the program runs inside Dir, so relative paths would resolve there
	scriptFile, err := filepath.Abs(scriptFile)
	if err != nil {
		return nil, fmt.Errorf("%w, task %s: %s", ErrOracleInvocation, task, err)
	}
	if err := os.WriteFile(scriptFile, []byte(script), 0644); err != nil {
		return nil, fmt.Errorf("%w, task %s: could not write script: %s", ErrOracleInvocation, task, err)
	}
	var stdout, stderr bytes.Buffer
	cmd := exec.CommandContext(ctx, p.Exe, append(append([]string{}, p.Args...), scriptFile)...)
	cmd.Dir = p.Dir
	cmd.Stdout = &stdout
	cmd.Stderr = &stderr
	if err := cmd.Run(); err != nil {
		var exitErr *exec.ExitError
		if errors.As(err, &exitErr) {
			return nil, fmt.Errorf("%w, task %s: %s exited with status %d: %s",
				ErrOracleInvocation, task, filepath.Base(p.Exe), exitErr.ExitCode(), strings.TrimSpace(stderr.String()))
		}
		return nil, fmt.Errorf("%w, task %s: could not run %s: %s", ErrOracleInvocation, task, p.Exe, err)
	}
	out, err := os.ReadFile(outFile)
	if err != nil {
		return nil, fmt.Errorf("%w, task %s: could not read output: %s", ErrOracleInvocation, task, err)
	}
	return &Response{Output: string(out), Stdout: stdout.Bytes()}, nil
}

func removeScratch(file string) {
	if err := os.Remove(file); err != nil && !errors.Is(err, os.ErrNotExist) {
		log.Printf("WARNING: could not remove scratch file %s, %s", file, err)
	}
}

func writeData(b *strings.Builder, taxa, rows []string, format string) {
	fmt.Fprintf(b, "begin data;\n\tdimensions ntax=%d nchar=%d;\n\tformat %s;\n\tmatrix\n", len(taxa), len(rows[0]), format)
	width := 0
	for _, t := range taxa {
		width = max(width, len(t))
	}
	for i, t := range taxa {
		fmt.Fprintf(b, "\t%-*s %s\n", width, t, rows[i])
	}
	b.WriteString("\t;\nend;\n\n")
}

func writeTrees(b *strings.Builder, taxa, trees []string) {
	fmt.Fprintf(b, "begin taxa;\n\tdimensions ntax=%d;\n\ttaxlabels %s;\nend;\n\n", len(taxa), strings.Join(taxa, " "))
	b.WriteString("begin trees;\n")
	for i, nwk := range trees {
		fmt.Fprintf(b, "\ttree T%d = [&U] %s\n", i+1, nwk)
	}
	b.WriteString("end;\n\n")
}

func writePaupBlock(b *strings.Builder, settings string, commands ...string) {
	b.WriteString("begin paup;\n")
	fmt.Fprintf(b, "\t%s;\n", strings.TrimSpace("set autoclose=yes warntree=no warnreset=no notifybeep=no monitor=no "+settings))
	for _, c := range commands {
		fmt.Fprintf(b, "\t%s;\n", c)
	}
	b.WriteString("\tquit warntsave=no;\nend;\n")
}
