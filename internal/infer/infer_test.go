package infer

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"reflect"
	"strings"
	"testing"
	"time"

	gr "github.com/jsdoublel/qmrp/internal/graphs"
	"github.com/jsdoublel/qmrp/internal/oracle"
	"github.com/jsdoublel/qmrp/internal/oracle/oracletest"
	pr "github.com/jsdoublel/qmrp/internal/prep"
)

func testConfig(t *testing.T, matrix string) *pr.Config {
	t.Helper()
	cfg := pr.DefaultConfig()
	cfg.Matrix = filepath.Join("testdata", matrix)
	cfg.Output = filepath.Join(t.TempDir(), "run")
	cfg.Seed = 42
	return cfg
}

func readMatrix(t *testing.T, cfg *pr.Config) *pr.Matrix {
	t.Helper()
	m, err := pr.ReadMatrix(cfg.Matrix)
	if err != nil {
		t.Fatal(err)
	}
	return m
}

func readLines(t *testing.T, file string) []string {
	t.Helper()
	data, err := os.ReadFile(file)
	if err != nil {
		t.Fatal(err)
	}
	return strings.Split(strings.TrimSuffix(string(data), "\n"), "\n")
}

func TestRun_FiveTaxa(t *testing.T) {
	cfg := testConfig(t, "five.phy")
	fake := &oracletest.Fake{}
	summary, err := Run(context.Background(), cfg, readMatrix(t, cfg), fake)
	if err != nil {
		t.Fatalf("unexpected error %s", err)
	}
	art := pr.NewArtifacts(cfg.Output)
	if lines := readLines(t, art.Quartets); len(lines) != 30 {
		t.Errorf("quartets.tre has %d lines, expected 30", len(lines))
	}
	if tree := readLines(t, art.Tree); !reflect.DeepEqual(tree, []string{"((((A,B),C),D),E);"}) {
		t.Errorf("got tree %v", tree)
	}
	if search := readLines(t, art.Search); len(search) != 5 || !strings.HasPrefix(search[0], "A ") {
		t.Errorf("search script not kept: %v", search)
	}
	if log := readLines(t, art.LastQuartetLog); !strings.HasPrefix(log[0], "q_1_2_3_4:") {
		t.Errorf("last quartet log is %v", log)
	}
	if stats := readLines(t, art.QuartetStats); len(stats) != 2 || !strings.HasPrefix(stats[1], "MRP,") {
		t.Errorf("quartet stats are %v", stats)
	}
	if summary.Main.Injected != 30 || summary.Main.Informative != 30 {
		t.Errorf("MRP has %d/%d characters, expected 30/30", summary.Main.Injected, summary.Main.Informative)
	}
	if summary.Bootstrap != nil {
		t.Errorf("bootstrap ran without being requested")
	}
	if _, err := os.Stat(art.Replicates); !errors.Is(err, os.ErrNotExist) {
		t.Errorf("replicate trees written without bootstrapping")
	}
	// 5 quartets, the matrix representation and one search
	if fake.Calls() != 7 {
		t.Errorf("oracle called %d times, expected 7", fake.Calls())
	}
}

func TestRun_Bootstrap(t *testing.T) {
	testCases := []struct {
		name string
		keep bool
	}{
		{name: "keep replicates", keep: true},
		{name: "discard replicates", keep: false},
	}
	for _, test := range testCases {
		t.Run(test.name, func(t *testing.T) {
			cfg := testConfig(t, "five.phy")
			cfg.Bootstrap = 3
			cfg.Forks = 4
			cfg.KeepReplicates = test.keep
			cfg.Plot = true
			fake := &oracletest.Fake{}
			summary, err := Run(context.Background(), cfg, readMatrix(t, cfg), fake)
			if err != nil {
				t.Fatalf("unexpected error %s", err)
			}
			art := pr.NewArtifacts(cfg.Output)
			if trees := readLines(t, art.Replicates); len(trees) != 3 {
				t.Errorf("got %d replicate trees, expected 3", len(trees))
			}
			if con := readLines(t, art.Consensus); !reflect.DeepEqual(con, []string{"((((A,B),C),D),E);"}) {
				t.Errorf("got consensus %v", con)
			}
			expectedSplits := []string{
				"Split,Replicates,Frequency",
				`"C,D,E|A,B",3,1`,
				`"D,E|A,B,C",3,1`,
			}
			if splits := readLines(t, art.Splits); !reflect.DeepEqual(splits, expectedSplits) {
				t.Errorf("got splits %v, expected %v", splits, expectedSplits)
			}
			if _, err := os.Stat(art.SplitsPlot); err != nil {
				t.Errorf("split plot not written, %s", err)
			}
			if stats := readLines(t, art.QuartetStats); len(stats) != 5 || !strings.HasPrefix(stats[4], "BS3,") {
				t.Errorf("quartet stats are %v", stats)
			}
			if k := fake.ConsensusKinds(); !reflect.DeepEqual(k, []oracle.ConsensusKind{oracle.MajorityRule}) {
				t.Errorf("consensus requests %v", k)
			}
			if r := fake.RepeatedTasks(); len(r) != 0 {
				t.Errorf("tasks requested more than once: %v", r)
			}
			if fake.MaxInflight() > cfg.Forks {
				t.Errorf("%d requests in flight with %d forks", fake.MaxInflight(), cfg.Forks)
			}
			if len(summary.Bootstrap.Trees) != 3 {
				t.Errorf("summary has %d replicate trees", len(summary.Bootstrap.Trees))
			}
			for r := 1; r <= 3; r++ {
				rep := pr.NewArtifacts(pr.ReplicateBase(cfg.Output, r))
				_, qErr := os.Stat(rep.Quartets)
				_, sErr := os.Stat(rep.Search)
				if test.keep && (qErr != nil || sErr != nil) {
					t.Errorf("replicate %d artifacts missing: %v, %v", r, qErr, sErr)
				}
				if !test.keep && (!errors.Is(qErr, os.ErrNotExist) || !errors.Is(sErr, os.ErrNotExist)) {
					t.Errorf("replicate %d artifacts kept", r)
				}
			}
			if test.keep {
				if lines := readLines(t, pr.NewArtifacts(pr.ReplicateBase(cfg.Output, 2)).Quartets); len(lines) != 30 {
					t.Errorf("replicate quartets.tre has %d lines, expected 30", len(lines))
				}
			}
		})
	}
}

func TestRun_ForksMatchSerial(t *testing.T) {
	quartetFile := func(forks int) []byte {
		cfg := testConfig(t, "eight.phy")
		cfg.Forks = forks
		_, err := Run(context.Background(), cfg, readMatrix(t, cfg), &oracletest.Fake{Delay: 100 * time.Microsecond})
		if err != nil {
			t.Fatalf("unexpected error with %d forks, %s", forks, err)
		}
		data, err := os.ReadFile(pr.NewArtifacts(cfg.Output).Quartets)
		if err != nil {
			t.Fatal(err)
		}
		return data
	}
	serial := quartetFile(1)
	if n := bytes.Count(serial, []byte("\n")); n != 6*gr.NumQuartets(8) {
		t.Errorf("got %d lines, expected %d", n, 6*gr.NumQuartets(8))
	}
	for _, forks := range []int{2, 5} {
		if parallel := quartetFile(forks); !bytes.Equal(parallel, serial) {
			t.Errorf("quartets.tre with %d forks differs from serial run", forks)
		}
	}
}

func TestRun_Errors(t *testing.T) {
	t.Run("insufficient taxa", func(t *testing.T) {
		fake := &oracletest.Fake{}
		cfg := testConfig(t, "three.phy")
		_, err := Run(context.Background(), cfg, readMatrix(t, cfg), fake)
		if !errors.Is(err, gr.ErrInsufficientTaxa) {
			t.Errorf("got error %v, expected %v", err, gr.ErrInsufficientTaxa)
		}
		if fake.Calls() != 0 {
			t.Errorf("oracle called %d times", fake.Calls())
		}
	})
	for _, forks := range []int{1, 4} {
		t.Run(fmt.Sprintf("replicate failure with %d forks", forks), func(t *testing.T) {
			cfg := testConfig(t, "five.phy")
			cfg.Bootstrap = 6
			cfg.Forks = forks
			fake := &oracletest.Fake{FailTask: "BS2_q_0_1_2_3", Delay: 200 * time.Microsecond}
			_, err := Run(context.Background(), cfg, readMatrix(t, cfg), fake)
			if !errors.Is(err, oracle.ErrOracleInvocation) {
				t.Fatalf("got error %v, expected %v", err, oracle.ErrOracleInvocation)
			}
			if !strings.Contains(err.Error(), "bootstrap replicate 2: quartet (A,B,C,D)") {
				t.Errorf("error %q does not name the replicate and quartet", err)
			}
			art := pr.NewArtifacts(cfg.Output)
			if _, err := os.Stat(art.Tree); err != nil {
				t.Errorf("main tree removed after failure, %s", err)
			}
			if _, err := os.Stat(art.Consensus); !errors.Is(err, os.ErrNotExist) {
				t.Errorf("consensus written after failure")
			}
		})
	}
	t.Run("cancelled", func(t *testing.T) {
		cfg := testConfig(t, "five.phy")
		cfg.Forks = 2
		ctx, cancel := context.WithCancel(context.Background())
		cancel()
		_, err := Run(ctx, cfg, readMatrix(t, cfg), &oracletest.Fake{})
		if !errors.Is(err, context.Canceled) {
			t.Errorf("got error %v, expected %v", err, context.Canceled)
		}
		if _, err := os.Stat(pr.NewArtifacts(cfg.Output).Quartets); !errors.Is(err, os.ErrNotExist) {
			t.Errorf("quartet trees written after cancellation")
		}
	})
}
