package oracle

import (
	"bufio"
	"fmt"
	"regexp"
	"strings"
)

// Tree lines have the form
//
//	tree <name> [=] [[&U] | [&R]] <newick>;
//
// The keyword is case-insensitive, the equals sign and rooting tag are
// optional, and the newick payload runs to the end of the line.
var (
	treeLine    = regexp.MustCompile(`^\s*(?i:tree)\s+([^\s=]+)\s*(?:=\s*)?(?:\[&([UuRr])\]\s*)?(\(.*;)\s*$`)
	treeKeyword = regexp.MustCompile(`^\s*(?i:tree)\s`)
)

type TreeLine struct {
	Name   string
	Rooted bool   // tagged [&R]
	Newick string // verbatim payload (without trailing newline)
}

// Extracts every tree line from oracle output in the order they appear. Lines
// that do not start with the tree keyword are ignored; lines that do but do
// not match the grammar are an error.
func ParseTrees(text string) ([]TreeLine, error) {
	trees := make([]TreeLine, 0)
	scanner := bufio.NewScanner(strings.NewReader(text))
	scanner.Buffer(make([]byte, 0, 64*1024), 64*1024*1024)
	for i := 1; scanner.Scan(); i++ {
		line := scanner.Text()
		if !treeKeyword.MatchString(line) {
			continue
		}
		m := treeLine.FindStringSubmatch(line)
		if m == nil {
			return nil, fmt.Errorf("%w %w on line %d: %q", ErrOracleInvocation, errMalformedTreeLine, i, line)
		}
		trees = append(trees, TreeLine{
			Name:   m[1],
			Rooted: strings.EqualFold(m[2], "R"),
			Newick: m[3],
		})
	}
	if err := scanner.Err(); err != nil {
		return nil, fmt.Errorf("%w, could not read tree output: %s", ErrOracleInvocation, err)
	}
	return trees, nil
}

// Parses output that must hold exactly one tree (e.g., a consensus)
func ParseSingleTree(text string) (TreeLine, error) {
	trees, err := ParseTrees(text)
	if err != nil {
		return TreeLine{}, err
	}
	if len(trees) != 1 {
		return TreeLine{}, fmt.Errorf("%w, expected 1 tree but oracle returned %d", ErrUnexpectedOptimaCount, len(trees))
	}
	return trees[0], nil
}

// Newick payloads of trees
func Newicks(trees []TreeLine) []string {
	newicks := make([]string, len(trees))
	for i, t := range trees {
		newicks[i] = t.Newick
	}
	return newicks
}
