package main

import (
	"context"
	"encoding/json"
	"errors"
	"flag"
	"fmt"
	"io"
	"os"
	"os/signal"
	"path/filepath"
	"strings"
	"syscall"

	"consensusdeme/internal/logging"
	"consensusdeme/pkg/demeval"

	"github.com/dustin/go-humanize"
)

func main() {
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()
	if err := run(ctx, os.Args[1:]); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}

var stdout io.Writer = os.Stdout

func run(ctx context.Context, args []string) error {
	if len(args) == 0 {
		return usageError("missing command")
	}

	switch args[0] {
	case "init":
		return runInit(ctx, args[1:])
	case "reset":
		return runReset(ctx, args[1:])
	case "programs":
		return runPrograms(ctx, args[1:])
	case "evaluate":
		return runEvaluate(ctx, args[1:])
	case "batch":
		return runBatch(ctx, args[1:])
	case "runs":
		return runRuns(ctx, args[1:])
	case "phenotypes":
		return runPhenotypes(ctx, args[1:])
	case "scape-summary":
		return runScapeSummary(ctx, args[1:])
	case "export":
		return runExport(ctx, args[1:])
	default:
		return usageError(fmt.Sprintf("unknown command: %s", args[0]))
	}
}

func runInit(ctx context.Context, args []string) error {
	exp, err := parseExperiment("init", args, nil)
	if err != nil {
		return err
	}
	client, err := newClient(exp)
	if err != nil {
		return err
	}
	defer func() {
		_ = client.Close()
	}()

	if err := client.Init(ctx); err != nil {
		return err
	}
	fmt.Fprintf(stdout, "initialized store=%s\n", exp.Store)
	return nil
}

func runReset(ctx context.Context, args []string) error {
	exp, err := parseExperiment("reset", args, nil)
	if err != nil {
		return err
	}
	client, err := newClient(exp)
	if err != nil {
		return err
	}
	defer func() {
		_ = client.Close()
	}()

	if err := client.Reset(ctx); err != nil {
		return err
	}
	fmt.Fprintf(stdout, "reset store=%s\n", exp.Store)
	return nil
}

func runPrograms(_ context.Context, args []string) error {
	fs := flag.NewFlagSet("programs", flag.ContinueOnError)
	if err := fs.Parse(args); err != nil {
		return err
	}
	client, err := demeval.New(demeval.Options{StoreKind: "memory"})
	if err != nil {
		return err
	}
	defer func() {
		_ = client.Close()
	}()
	for _, name := range client.Programs() {
		fmt.Fprintln(stdout, name)
	}
	return nil
}

func runEvaluate(ctx context.Context, args []string) error {
	var jsonOut bool
	exp, err := parseExperiment("evaluate", args, func(fs *flag.FlagSet) {
		fs.BoolVar(&jsonOut, "json", false, "emit phenotype as JSON")
	})
	if err != nil {
		return err
	}
	client, err := newClient(exp)
	if err != nil {
		return err
	}
	defer func() {
		_ = client.Close()
	}()

	phenotype, err := client.Evaluate(ctx, exp)
	if err != nil {
		return err
	}
	if jsonOut {
		return writeJSON(phenotype)
	}
	fmt.Fprintf(stdout, "program=%s seed=%d fitness=%.1f worst_trial=%d\n",
		phenotype.Program,
		phenotype.Seed,
		phenotype.Fitness,
		phenotype.Worst,
	)
	for _, trial := range phenotype.Trials {
		printTrial(trial)
	}
	return nil
}

func runBatch(ctx context.Context, args []string) error {
	var (
		programs string
		repeat   int
		runID    string
	)
	exp, err := parseExperiment("batch", args, func(fs *flag.FlagSet) {
		fs.StringVar(&programs, "programs", "", "comma-separated program names (default: --program)")
		fs.IntVar(&repeat, "repeat", 1, "evaluations per program")
		fs.StringVar(&runID, "run-id", "", "explicit run id")
	})
	if err != nil {
		return err
	}
	if repeat <= 0 {
		return errors.New("repeat must be > 0")
	}
	client, err := newClient(exp)
	if err != nil {
		return err
	}
	defer func() {
		_ = client.Close()
	}()

	summary, err := client.Batch(ctx, demeval.BatchRequest{
		Experiment: exp,
		Programs:   splitList(programs),
		Repeat:     repeat,
		RunID:      runID,
	})
	if err != nil {
		return err
	}
	fmt.Fprintf(stdout, "run_id=%s candidates=%d best=%s best_fitness=%.1f artifacts=%s\n",
		summary.RunID,
		len(summary.Phenotypes),
		summary.Best.Candidate,
		summary.Best.Fitness,
		summary.ArtifactsDir,
	)
	if summary.TickEntries > 0 {
		fmt.Fprintf(stdout, "tick_trace entries=%s\n", humanize.Comma(int64(summary.TickEntries)))
	}
	return nil
}

func runRuns(ctx context.Context, args []string) error {
	var (
		limit   int
		jsonOut bool
	)
	exp, err := parseExperiment("runs", args, func(fs *flag.FlagSet) {
		fs.IntVar(&limit, "limit", 20, "max runs to list")
		fs.BoolVar(&jsonOut, "json", false, "emit runs list as JSON")
	})
	if err != nil {
		return err
	}
	if limit <= 0 {
		return errors.New("limit must be > 0")
	}
	client, err := newClient(exp)
	if err != nil {
		return err
	}
	defer func() {
		_ = client.Close()
	}()

	items, err := client.Runs(ctx, demeval.RunsRequest{Limit: limit})
	if err != nil {
		return err
	}
	if jsonOut {
		return writeJSON(items)
	}
	if len(items) == 0 {
		fmt.Fprintln(stdout, "no runs found")
		return nil
	}
	for _, item := range items {
		fmt.Fprintf(stdout, "run_id=%s created_at=%s scape=%s seed=%d candidates=%d workers=%d best=%s best_fitness=%.1f\n",
			item.RunID,
			item.CreatedAtUTC,
			item.Scape,
			item.Seed,
			item.Candidates,
			item.Workers,
			item.BestCandidate,
			item.BestFitness,
		)
	}
	return nil
}

func runPhenotypes(ctx context.Context, args []string) error {
	var (
		runID   string
		latest  bool
		jsonOut bool
	)
	exp, err := parseExperiment("phenotypes", args, func(fs *flag.FlagSet) {
		fs.StringVar(&runID, "run-id", "", "run id")
		fs.BoolVar(&latest, "latest", false, "use the most recent run from run index")
		fs.BoolVar(&jsonOut, "json", false, "emit phenotypes as JSON")
	})
	if err != nil {
		return err
	}
	client, err := newClient(exp)
	if err != nil {
		return err
	}
	defer func() {
		_ = client.Close()
	}()

	phenotypes, err := client.Phenotypes(ctx, demeval.PhenotypesRequest{RunID: runID, Latest: latest})
	if err != nil {
		return err
	}
	if jsonOut {
		return writeJSON(phenotypes)
	}
	for _, ph := range phenotypes {
		fmt.Fprintf(stdout, "index=%d candidate=%s program=%s seed=%d fitness=%.1f worst_trial=%d\n",
			ph.Index,
			ph.Candidate,
			ph.Program,
			ph.Seed,
			ph.Fitness,
			ph.Worst,
		)
	}
	return nil
}

func runScapeSummary(ctx context.Context, args []string) error {
	var scapeName string
	exp, err := parseExperiment("scape-summary", args, func(fs *flag.FlagSet) {
		fs.StringVar(&scapeName, "scape", "election", "scape name")
	})
	if err != nil {
		return err
	}
	client, err := newClient(exp)
	if err != nil {
		return err
	}
	defer func() {
		_ = client.Close()
	}()

	summary, err := client.ScapeSummary(ctx, scapeName)
	if err != nil {
		return err
	}
	fmt.Fprintf(stdout, "scape=%s best_fitness=%.1f best_program=%s evaluations=%s description=%s\n",
		summary.Name,
		summary.BestFitness,
		summary.BestProgram,
		humanize.Comma(int64(summary.Evaluations)),
		summary.Description,
	)
	return nil
}

func runExport(ctx context.Context, args []string) error {
	var (
		runID  string
		latest bool
		outDir string
	)
	exp, err := parseExperiment("export", args, func(fs *flag.FlagSet) {
		fs.StringVar(&runID, "run-id", "", "run id")
		fs.BoolVar(&latest, "latest", false, "export the most recent run from run index")
		fs.StringVar(&outDir, "out", "exports", "export output directory")
	})
	if err != nil {
		return err
	}
	if runID != "" && latest {
		return errors.New("use either --run-id or --latest, not both")
	}
	if runID == "" && !latest {
		return errors.New("export requires --run-id or --latest")
	}
	client, err := newClient(exp)
	if err != nil {
		return err
	}
	defer func() {
		_ = client.Close()
	}()

	exported, err := client.Export(ctx, demeval.ExportRequest{RunID: runID, Latest: latest, OutDir: outDir})
	if err != nil {
		return err
	}
	fmt.Fprintf(stdout, "exported run_id=%s to=%s\n", exported.RunID, filepath.Clean(exported.Directory))
	return nil
}

func newClient(exp demeval.Experiment) (*demeval.Client, error) {
	return demeval.New(demeval.Options{
		StoreKind: exp.Store,
		DBPath:    exp.DBPath,
		DataDir:   exp.DataDir,
		Logger:    logging.NewLogger(exp.LogLevel, os.Stderr),
	})
}

func printTrial(trial demeval.TrialResult) {
	fmt.Fprintf(stdout, "  trial=%d score=%.1f valid=%d max=%d leader=%d full_time=%d streak=%d msgs=%s ids=[%d,%d]\n",
		trial.Trial,
		trial.Score,
		trial.ValidVotes,
		trial.MaxVotes,
		trial.Leader,
		trial.FullConsensusTime,
		trial.RecentConsensusStreak,
		humanize.Comma(int64(trial.MessagesExchanged)),
		trial.MinID,
		trial.MaxID,
	)
}

func writeJSON(v any) error {
	enc := json.NewEncoder(stdout)
	enc.SetIndent("", "  ")
	return enc.Encode(v)
}

func splitList(s string) []string {
	var out []string
	for _, part := range strings.Split(s, ",") {
		if part = strings.TrimSpace(part); part != "" {
			out = append(out, part)
		}
	}
	return out
}

func usageError(msg string) error {
	return fmt.Errorf("%s\nusage: demectl <init|reset|programs|evaluate|batch|runs|phenotypes|scape-summary|export> [flags]", msg)
}
