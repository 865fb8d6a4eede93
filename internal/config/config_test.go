package config

import (
	"errors"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"consensusdeme/internal/consensus"
	"consensusdeme/internal/deme"
)

func TestDefaultValidates(t *testing.T) {
	cfg := Default()
	if err := cfg.Validate(); err != nil {
		t.Fatalf("default config invalid: %v", err)
	}
	dc := cfg.DemeConfig()
	if dc.Size() != 25 || dc.Policy != deme.PolicyImmediate || dc.Handling != deme.HandlingForking {
		t.Fatalf("unexpected deme config: %+v", dc)
	}
}

func TestLoadLayersFileThenEnv(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "experiment.yaml")
	doc := `
width: 4
height: 3
policy: delayed
latency: 3
eval_time: 64
program: facing-relay
`
	if err := os.WriteFile(path, []byte(doc), 0o644); err != nil {
		t.Fatalf("write config: %v", err)
	}
	cfg, err := Load(path, map[string]string{
		"DEME_LATENCY":     "5",
		"DEME_TRIAL_COUNT": "7",
		"UNRELATED":        "x",
	})
	if err != nil {
		t.Fatalf("load: %v", err)
	}
	if cfg.Width != 4 || cfg.Height != 3 || cfg.Policy != "delayed" || cfg.EvalTime != 64 || cfg.Program != "facing-relay" {
		t.Fatalf("file values not applied: %+v", cfg)
	}
	if cfg.Latency != 5 || cfg.TrialCount != 7 {
		t.Fatalf("env overrides not applied: %+v", cfg)
	}
	if cfg.InboxCapacity != Default().InboxCapacity {
		t.Fatalf("missing keys should keep defaults, got inbox %d", cfg.InboxCapacity)
	}
}

func TestDecodeRejectsSchemaViolations(t *testing.T) {
	cases := map[string]string{
		"unknown key":    "colour: blue\n",
		"bad policy":     "policy: carrier\n",
		"negative width": "width: -2\n",
		"wrong type":     "eval_time: soon\n",
	}
	for name, doc := range cases {
		cfg := Default()
		err := Decode([]byte(doc), &cfg)
		if err == nil {
			t.Fatalf("%s: expected error", name)
		}
		if !strings.Contains(err.Error(), "config schema") {
			t.Fatalf("%s: expected schema error, got %v", name, err)
		}
	}
}

func TestDecodeEmptyDocumentKeepsValues(t *testing.T) {
	cfg := Default()
	if err := Decode([]byte(""), &cfg); err != nil {
		t.Fatalf("decode empty: %v", err)
	}
	if cfg != Default() {
		t.Fatalf("empty document changed config: %+v", cfg)
	}
}

func TestApplyEnvRejectsBadValues(t *testing.T) {
	cfg := Default()
	if err := ApplyEnv(&cfg, map[string]string{"DEME_WIDTH": "wide"}); err == nil {
		t.Fatal("expected parse error")
	}
}

func TestValidate(t *testing.T) {
	cases := []struct {
		name   string
		mutate func(*Experiment)
		is     error
	}{
		{name: "identity range", mutate: func(c *Experiment) { c.MinID, c.MaxID = 1, 20 }, is: consensus.ErrIdentityRangeExhausted},
		{name: "policy", mutate: func(c *Experiment) { c.Policy = "carrier" }, is: deme.ErrUnknownPolicy},
		{name: "eval time", mutate: func(c *Experiment) { c.EvalTime = 0 }},
		{name: "trials", mutate: func(c *Experiment) { c.TrialCount = 0 }},
		{name: "workers", mutate: func(c *Experiment) { c.Workers = -1 }},
		{name: "program", mutate: func(c *Experiment) { c.Program = "nope" }},
		{name: "store", mutate: func(c *Experiment) { c.Store = "redis" }},
	}
	for _, tc := range cases {
		cfg := Default()
		tc.mutate(&cfg)
		err := cfg.Validate()
		if err == nil {
			t.Fatalf("%s: expected error", tc.name)
		}
		if tc.is != nil && !errors.Is(err, tc.is) {
			t.Fatalf("%s: expected %v, got %v", tc.name, tc.is, err)
		}
	}
}
