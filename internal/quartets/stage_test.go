package quartets

import (
	"context"
	"errors"
	"fmt"
	"reflect"
	"strings"
	"testing"
	"time"

	"go.uber.org/goleak"

	gr "github.com/jsdoublel/qmrp/internal/graphs"
	"github.com/jsdoublel/qmrp/internal/oracle"
	"github.com/jsdoublel/qmrp/internal/oracle/oracletest"
	"github.com/jsdoublel/qmrp/internal/pool"
	pr "github.com/jsdoublel/qmrp/internal/prep"
)

func TestMain(m *testing.M) {
	goleak.VerifyTestMain(m)
}

func makeMatrix(t *testing.T, rows ...string) *pr.Matrix {
	t.Helper()
	r := make([]pr.Row, len(rows))
	for i, row := range rows {
		name, chars, _ := strings.Cut(row, " ")
		r[i] = pr.Row{Taxon: name, Chars: chars}
	}
	m, err := pr.NewMatrix(r)
	if err != nil {
		t.Fatal(err)
	}
	return m
}

func TestStage_FiveTaxa(t *testing.T) {
	m := makeMatrix(t, "E 1?-0", "A 0011", "C 0110", "B 0101", "D 1001")
	fake := &oracletest.Fake{}
	stage := &Stage{Oracle: fake, Pool: pool.New(1)}
	res, err := stage.Run(context.Background(), m)
	if err != nil {
		t.Fatalf("unexpected error %s", err)
	}
	labels := make([]string, len(res.Resolutions))
	for i, r := range res.Resolutions {
		labels[i] = r.Quartet.Label(m.Taxa())
	}
	expected := []string{"(A,B,C,D)", "(A,B,C,E)", "(A,B,D,E)", "(A,C,D,E)", "(B,C,D,E)"}
	if !reflect.DeepEqual(labels, expected) {
		t.Errorf("got quartets %v, expected %v", labels, expected)
	}
	if n := len(res.Lines()); n != 30 {
		t.Errorf("got %d lines, expected 30", n)
	}
	if fake.Calls() != 5 {
		t.Errorf("oracle called %d times, expected 5", fake.Calls())
	}
	if !strings.HasPrefix(string(res.LastLog), "q_1_2_3_4:") {
		t.Errorf("last quartet log is %q", res.LastLog)
	}
	ties := res.Ties()
	if ties[1]+ties[2]+ties[3] != 5 {
		t.Errorf("tie counts %v do not cover all quartets", ties)
	}
}

func TestStage_ForksMatchSerial(t *testing.T) {
	m := makeMatrix(t,
		"A 0011001", "B 0101011", "C 0110110", "D 1001100",
		"E 1?-0101", "F 0000111", "G 1111000", "H 01-?011",
	)
	run := func(t *testing.T, forks int) (*Result, *oracletest.Fake) {
		t.Helper()
		fake := &oracletest.Fake{Delay: 200 * time.Microsecond}
		stage := &Stage{Oracle: fake, Pool: pool.New(forks), Verbose: true}
		res, err := stage.Run(context.Background(), m)
		if err != nil {
			t.Fatalf("unexpected error with %d forks, %s", forks, err)
		}
		return res, fake
	}
	serial, _ := run(t, 1)
	for _, forks := range []int{2, 4, 8} {
		t.Run(fmt.Sprintf("forks %d", forks), func(t *testing.T) {
			parallel, fake := run(t, forks)
			if strings.Join(parallel.Lines(), "\n") != strings.Join(serial.Lines(), "\n") {
				t.Errorf("quartet lines differ from serial run")
			}
			if !reflect.DeepEqual(parallel.LastLog, serial.LastLog) {
				t.Errorf("last quartet log %q, expected %q", parallel.LastLog, serial.LastLog)
			}
			if fake.MaxInflight() > forks {
				t.Errorf("%d requests in flight with %d forks", fake.MaxInflight(), forks)
			}
			if r := fake.RepeatedTasks(); len(r) != 0 {
				t.Errorf("tasks requested more than once: %v", r)
			}
		})
	}
	if n := len(serial.Lines()); n != QuartetWeight*gr.NumQuartets(8) {
		t.Errorf("got %d lines, expected %d", n, QuartetWeight*gr.NumQuartets(8))
	}
}

func TestStage_Errors(t *testing.T) {
	t.Run("oracle failure names quartet", func(t *testing.T) {
		m := makeMatrix(t, "A 0011", "B 0101", "C 0110", "D 1001", "E 1?-0")
		stage := &Stage{Oracle: &oracletest.Fake{FailTask: "BS2_q_0_1_2_4"}, Pool: pool.New(2), Prefix: "BS2_"}
		_, err := stage.Run(context.Background(), m)
		if !errors.Is(err, oracle.ErrOracleInvocation) {
			t.Fatalf("got error %v, expected %v", err, oracle.ErrOracleInvocation)
		}
		if !strings.Contains(err.Error(), "quartet (A,B,C,E)") {
			t.Errorf("error %q does not name the quartet", err)
		}
	})
	t.Run("insufficient taxa", func(t *testing.T) {
		m := makeMatrix(t, "A 0011", "B 0101", "C 0110")
		fake := &oracletest.Fake{}
		_, err := (&Stage{Oracle: fake, Pool: pool.New(1)}).Run(context.Background(), m)
		if !errors.Is(err, gr.ErrInsufficientTaxa) {
			t.Errorf("got error %v, expected %v", err, gr.ErrInsufficientTaxa)
		}
		if fake.Calls() != 0 {
			t.Errorf("oracle called %d times", fake.Calls())
		}
	})
}
