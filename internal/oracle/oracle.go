// Package oracle talks to the external parsimony search program. Each request
// is written as a NEXUS script, run as a single subprocess, and answered with
// the raw text of the tree file the program saved.
package oracle

import (
	"context"
	"errors"

	pr "github.com/jsdoublel/qmrp/internal/prep"
)

var (
	ErrOracleInvocation       = errors.New("oracle invocation failed")
	ErrUnexpectedOptimaCount  = errors.New("unexpected number of optimal trees")
	errMalformedTreeLine      = errors.New("malformed tree line")
	errMalformedMatrix        = errors.New("malformed matrix representation")
	errInvalidConsensusTrees  = errors.New("consensus needs at least one tree")
	errInvalidSupermatrixRows = errors.New("supermatrix rows do not match taxa")
	errInvalidSourceTrees     = errors.New("matrix representation needs at least one tree")
)

type ConsensusKind int

const (
	Strict       ConsensusKind = iota // all trees agree
	MajorityRule                      // extended majority-rule (compatible splits below 50% kept)
)

func (k ConsensusKind) String() string {
	switch k {
	case Strict:
		return "strict"
	case MajorityRule:
		return "majority-rule"
	default:
		return "unknown"
	}
}

// Search program capable of the four requests the pipeline needs. Task
// names identify a request and must be unique among concurrent requests, as
// they name the scratch files.
type Oracle interface {
	// Evaluate all unrooted trees on four aligned taxa and return the optimal ones
	ResolveQuartet(ctx context.Context, req QuartetRequest) (*Response, error)
	// Read a stream of source trees and emit their binary matrix representation
	MatrixRep(ctx context.Context, req MatrixRepRequest) (*Response, error)
	// Search a binary supermatrix and return all optimal trees
	Search(ctx context.Context, req SearchRequest) (*Response, error)
	// Compute the consensus of a set of trees
	Consensus(ctx context.Context, req ConsensusRequest) (*Response, error)
}

type QuartetRequest struct {
	Task string
	Rows []pr.Row // exactly four rows
}

type MatrixRepRequest struct {
	Task  string
	Taxa  []string // every taxon of the supermatrix, in row order
	Trees []string // newick source trees, one character per internal edge per tree
}

type SearchRequest struct {
	Task       string
	Taxa       []string    // row labels
	Rows       []string    // binary characters for each taxon ('0', '1', '?')
	Strategy   pr.Strategy // heuristic-tbr or branch-and-bound
	SearchReps int         // random addition sequence replicates (heuristic only)
	MaxTrees   int         // maximum trees held in memory
	Seed       uint64      // random addition seed (heuristic only)
	ScriptFile string      // if set, the script is written here and kept
}

type ConsensusRequest struct {
	Task  string
	Kind  ConsensusKind
	Taxa  []string
	Trees []string // newick strings
}

// Raw oracle output
type Response struct {
	Output string // contents of the saved tree (or matrix) file
	Stdout []byte // captured standard output
}
