// Package config loads experiment settings. Later sources win:
// defaults, then a YAML file checked against the embedded schema, then
// DEME_* environment variables. The CLI applies its flags last.
package config

import (
	_ "embed"
	"encoding/json"
	"fmt"
	"os"

	"consensusdeme/internal/agent"
	"consensusdeme/internal/consensus"
	"consensusdeme/internal/deme"

	"github.com/caarlos0/env/v11"
	"github.com/santhosh-tekuri/jsonschema/v5"
	"gopkg.in/yaml.v3"
)

const EnvPrefix = "DEME_"

//go:embed schema.json
var schemaSource string

const schemaURL = "mem://consensusdeme/experiment.schema.json"

// Experiment is the full set of knobs for evaluating programs on a deme.
type Experiment struct {
	Seed       int64 `yaml:"seed" json:"seed" env:"SEED"`
	EvalTime   int   `yaml:"eval_time" json:"eval_time" env:"EVAL_TIME"`
	TrialCount int   `yaml:"trial_count" json:"trial_count" env:"TRIAL_COUNT"`

	Width         int    `yaml:"width" json:"width" env:"WIDTH"`
	Height        int    `yaml:"height" json:"height" env:"HEIGHT"`
	Policy        string `yaml:"policy" json:"policy" env:"POLICY"`
	Latency       int    `yaml:"latency" json:"latency" env:"LATENCY"`
	InboxCapacity int    `yaml:"inbox_capacity" json:"inbox_capacity" env:"INBOX_CAPACITY"`
	Handling      string `yaml:"handling" json:"handling" env:"HANDLING"`
	MaxThreads    int    `yaml:"max_threads" json:"max_threads" env:"MAX_THREADS"`

	MinID uint32 `yaml:"min_id" json:"min_id" env:"MIN_ID"`
	MaxID uint32 `yaml:"max_id" json:"max_id" env:"MAX_ID"`

	Program string `yaml:"program" json:"program" env:"PROGRAM"`
	Workers int    `yaml:"workers" json:"workers" env:"WORKERS"`

	Store     string `yaml:"store" json:"store" env:"STORE"`
	DBPath    string `yaml:"db_path" json:"db_path" env:"DB_PATH"`
	DataDir   string `yaml:"data_dir" json:"data_dir" env:"DATA_DIR"`
	TickTrace bool   `yaml:"tick_trace" json:"tick_trace" env:"TICK_TRACE"`
	LogLevel  string `yaml:"log_level" json:"log_level" env:"LOG_LEVEL"`
}

func Default() Experiment {
	dc := deme.DefaultConfig()
	return Experiment{
		Seed:          1,
		EvalTime:      256,
		TrialCount:    3,
		Width:         dc.Width,
		Height:        dc.Height,
		Policy:        string(dc.Policy),
		Latency:       dc.Latency,
		InboxCapacity: dc.InboxCapacity,
		Handling:      string(dc.Handling),
		MaxThreads:    dc.MaxThreads,
		MinID:         consensus.DefaultMinID,
		MaxID:         consensus.DefaultMaxID,
		Program:       "max-gossip",
		Workers:       0,
		Store:         "memory",
		DBPath:        "consensusdeme.db",
		DataDir:       "runs",
		LogLevel:      "info",
	}
}

// Load layers path (optional) and environ (nil means the process
// environment) over the defaults and validates the result.
func Load(path string, environ map[string]string) (Experiment, error) {
	cfg := Default()
	if path != "" {
		if err := LoadFile(path, &cfg); err != nil {
			return Experiment{}, err
		}
	}
	if err := ApplyEnv(&cfg, environ); err != nil {
		return Experiment{}, err
	}
	if err := cfg.Validate(); err != nil {
		return Experiment{}, err
	}
	return cfg, nil
}

// LoadFile overlays the YAML file at path onto cfg. Keys missing from the
// file keep their current values.
func LoadFile(path string, cfg *Experiment) error {
	raw, err := os.ReadFile(path)
	if err != nil {
		return fmt.Errorf("read config: %w", err)
	}
	return Decode(raw, cfg)
}

func Decode(raw []byte, cfg *Experiment) error {
	if err := validateDocument(raw); err != nil {
		return err
	}
	if err := yaml.Unmarshal(raw, cfg); err != nil {
		return fmt.Errorf("decode config: %w", err)
	}
	return nil
}

func validateDocument(raw []byte) error {
	var doc any
	if err := yaml.Unmarshal(raw, &doc); err != nil {
		return fmt.Errorf("decode config: %w", err)
	}
	if doc == nil {
		return nil
	}
	// Round trip through JSON so the validator sees plain JSON values.
	encoded, err := json.Marshal(doc)
	if err != nil {
		return fmt.Errorf("config is not a JSON-compatible document: %w", err)
	}
	var value any
	if err := json.Unmarshal(encoded, &value); err != nil {
		return fmt.Errorf("decode config: %w", err)
	}
	schema, err := compileSchema()
	if err != nil {
		return err
	}
	if err := schema.Validate(value); err != nil {
		return fmt.Errorf("config schema: %w", err)
	}
	return nil
}

func compileSchema() (*jsonschema.Schema, error) {
	schema, err := jsonschema.CompileString(schemaURL, schemaSource)
	if err != nil {
		return nil, fmt.Errorf("compile config schema: %w", err)
	}
	return schema, nil
}

// ApplyEnv overrides cfg from DEME_* variables.
func ApplyEnv(cfg *Experiment, environ map[string]string) error {
	opts := env.Options{Prefix: EnvPrefix}
	if environ != nil {
		opts.Environment = environ
	}
	if err := env.ParseWithOptions(cfg, opts); err != nil {
		return fmt.Errorf("parse env: %w", err)
	}
	return nil
}

func (c Experiment) DemeConfig() deme.Config {
	return deme.Config{
		Width:         c.Width,
		Height:        c.Height,
		Policy:        deme.Policy(c.Policy),
		Latency:       c.Latency,
		InboxCapacity: c.InboxCapacity,
		Handling:      deme.Handling(c.Handling),
		MaxThreads:    c.MaxThreads,
	}
}

func (c Experiment) Validate() error {
	dc := c.DemeConfig()
	if err := dc.Validate(); err != nil {
		return err
	}
	if c.EvalTime <= 0 {
		return fmt.Errorf("eval time must be positive, got %d", c.EvalTime)
	}
	if c.TrialCount <= 0 {
		return fmt.Errorf("trial count must be positive, got %d", c.TrialCount)
	}
	if c.Workers < 0 {
		return fmt.Errorf("workers must be >= 0, got %d", c.Workers)
	}
	if err := consensus.CheckRange(c.MinID, c.MaxID, dc.Size()); err != nil {
		return err
	}
	if c.Program != "" {
		if _, err := agent.LookupProgram(c.Program); err != nil {
			return err
		}
	}
	switch c.Store {
	case "memory", "sqlite":
	default:
		return fmt.Errorf("unsupported store kind: %s", c.Store)
	}
	return nil
}
