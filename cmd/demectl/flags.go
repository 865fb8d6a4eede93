package main

import (
	"flag"
	"fmt"
	"io"
	"strconv"

	"consensusdeme/internal/config"
)

// parseExperiment layers defaults, the --config file, DEME_* variables and
// finally the flags that were given on the command line. extra registers
// command specific flags and is invoked once per parse pass.
func parseExperiment(name string, args []string, extra func(*flag.FlagSet)) (config.Experiment, error) {
	var path string
	scratch := config.Default()
	scan := flag.NewFlagSet(name, flag.ContinueOnError)
	bindExperiment(scan, &scratch, &path)
	if extra != nil {
		extra(scan)
	}
	if err := scan.Parse(args); err != nil {
		return config.Experiment{}, err
	}
	if scan.NArg() > 0 {
		return config.Experiment{}, fmt.Errorf("%s: unexpected arguments: %v", name, scan.Args())
	}

	cfg := config.Default()
	if path != "" {
		if err := config.LoadFile(path, &cfg); err != nil {
			return config.Experiment{}, err
		}
	}
	if err := config.ApplyEnv(&cfg, nil); err != nil {
		return config.Experiment{}, err
	}

	// Flag defaults are now the layered values, so only flags that were
	// passed change anything.
	fs := flag.NewFlagSet(name, flag.ContinueOnError)
	fs.SetOutput(io.Discard)
	bindExperiment(fs, &cfg, &path)
	if extra != nil {
		extra(fs)
	}
	if err := fs.Parse(args); err != nil {
		return config.Experiment{}, err
	}
	if err := cfg.Validate(); err != nil {
		return config.Experiment{}, err
	}
	return cfg, nil
}

func bindExperiment(fs *flag.FlagSet, cfg *config.Experiment, path *string) {
	fs.StringVar(path, "config", "", "experiment YAML file")
	fs.Int64Var(&cfg.Seed, "seed", cfg.Seed, "base seed; candidate i uses seed+i")
	fs.IntVar(&cfg.EvalTime, "eval-time", cfg.EvalTime, "ticks per trial")
	fs.IntVar(&cfg.TrialCount, "trials", cfg.TrialCount, "trials per candidate")
	fs.IntVar(&cfg.Width, "width", cfg.Width, "deme width")
	fs.IntVar(&cfg.Height, "height", cfg.Height, "deme height")
	fs.StringVar(&cfg.Policy, "policy", cfg.Policy, "delivery policy: immediate|delayed|polled")
	fs.IntVar(&cfg.Latency, "latency", cfg.Latency, "delivery latency in ticks for the delayed policy")
	fs.IntVar(&cfg.InboxCapacity, "inbox-capacity", cfg.InboxCapacity, "per-cell inbox capacity")
	fs.StringVar(&cfg.Handling, "handling", cfg.Handling, "message handling: forking|non-forking")
	fs.IntVar(&cfg.MaxThreads, "max-threads", cfg.MaxThreads, "max threads per agent")
	uintVar(fs, &cfg.MinID, "min-id", "smallest identity drawn per trial")
	uintVar(fs, &cfg.MaxID, "max-id", "largest identity drawn per trial")
	fs.StringVar(&cfg.Program, "program", cfg.Program, "program name")
	fs.IntVar(&cfg.Workers, "workers", cfg.Workers, "parallel evaluation workers (0 = 1)")
	fs.StringVar(&cfg.Store, "store", cfg.Store, "store backend: memory|sqlite")
	fs.StringVar(&cfg.DBPath, "db-path", cfg.DBPath, "sqlite database path")
	fs.StringVar(&cfg.DataDir, "data-dir", cfg.DataDir, "run artifacts directory")
	fs.BoolVar(&cfg.TickTrace, "tick-trace", cfg.TickTrace, "write a compressed per-tick tally trace")
	fs.StringVar(&cfg.LogLevel, "log-level", cfg.LogLevel, "log level: trace|debug|info|warn|error")
}

type uint32Value struct{ p *uint32 }

func uintVar(fs *flag.FlagSet, p *uint32, name, usage string) {
	fs.Var(uint32Value{p}, name, usage)
}

func (v uint32Value) String() string {
	if v.p == nil {
		return "0"
	}
	return strconv.FormatUint(uint64(*v.p), 10)
}

func (v uint32Value) Set(s string) error {
	n, err := strconv.ParseUint(s, 10, 32)
	if err != nil {
		return err
	}
	*v.p = uint32(n)
	return nil
}
