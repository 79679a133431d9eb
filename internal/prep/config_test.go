package prep

import (
	"errors"
	"testing"
)

func TestLoadConfig(t *testing.T) {
	cfg, err := LoadConfig("testdata/run.yaml")
	if err != nil {
		t.Fatal(err)
	}
	switch {
	case cfg.Matrix != "five.phy" || cfg.Output != "out/run":
		t.Errorf("unexpected files %s %s", cfg.Matrix, cfg.Output)
	case cfg.Bootstrap != 100 || cfg.Forks != 4 || cfg.Seed != 42:
		t.Errorf("unexpected numbers %+v", cfg)
	case cfg.Strategy != BranchAndBound || !cfg.KeepReplicates:
		t.Errorf("unexpected strategy/flags %+v", cfg)
	case cfg.Oracle != DefaultOracle || cfg.SearchReps != DefaultSearchReps || cfg.MaxTrees != DefaultMaxTrees:
		t.Errorf("defaults not kept %+v", cfg)
	}
	if err := cfg.Validate(); err != nil {
		t.Errorf("valid config rejected: %s", err)
	}
	if _, err := LoadConfig("testdata/badstrategy.yaml"); !errors.Is(err, ErrConfiguration) {
		t.Errorf("unexpected error %+v", err)
	}
	if _, err := LoadConfig("testdata/missing.yaml"); !errors.Is(err, ErrConfiguration) {
		t.Errorf("unexpected error %+v", err)
	}
}

func TestValidate(t *testing.T) {
	testCases := []struct {
		name        string
		modify      func(cfg *Config)
		expectedErr error
	}{
		{name: "valid", modify: func(cfg *Config) {}},
		{name: "no matrix", modify: func(cfg *Config) { cfg.Matrix = "" }, expectedErr: ErrConfiguration},
		{name: "no output", modify: func(cfg *Config) { cfg.Output = "" }, expectedErr: ErrConfiguration},
		{name: "no oracle", modify: func(cfg *Config) { cfg.Oracle = "" }, expectedErr: ErrConfiguration},
		{name: "negative bootstrap", modify: func(cfg *Config) { cfg.Bootstrap = -1 }, expectedErr: ErrConfiguration},
		{name: "zero forks", modify: func(cfg *Config) { cfg.Forks = 0 }, expectedErr: ErrConfiguration},
		{name: "zero reps", modify: func(cfg *Config) { cfg.SearchReps = 0 }, expectedErr: ErrConfiguration},
		{name: "zero max trees", modify: func(cfg *Config) { cfg.MaxTrees = 0 }, expectedErr: ErrConfiguration},
		{name: "bad strategy", modify: func(cfg *Config) { cfg.Strategy = Strategy(7) }, expectedErr: ErrConfiguration},
	}
	for _, test := range testCases {
		t.Run(test.name, func(t *testing.T) {
			cfg := DefaultConfig()
			cfg.Matrix, cfg.Output = "m.phy", "out"
			test.modify(cfg)
			if err := cfg.Validate(); !errors.Is(err, test.expectedErr) {
				t.Errorf("unexpected error %+v", err)
			}
		})
	}
}

func TestStrategy(t *testing.T) {
	var s Strategy
	if err := s.Set("branch-and-bound"); err != nil || s != BranchAndBound {
		t.Errorf("Set failed: %v %s", err, s)
	}
	if s.String() != "branch-and-bound" {
		t.Errorf("String() = %s", s.String())
	}
	if err := s.Set("parsimony-ratchet"); !errors.Is(err, ErrConfiguration) {
		t.Errorf("unexpected error %+v", err)
	}
}
