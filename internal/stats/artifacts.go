package stats

import (
	"encoding/csv"
	"encoding/json"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"sort"
	"strconv"
	"strings"
	"time"

	"consensusdeme/internal/model"
)

const (
	runIndexFile   = "run_index.json"
	configFile     = "config.json"
	phenotypesFile = "phenotypes.json"
	dominantFile   = "dominant.csv"
)

// DominantHeader matches the columns of the election experiment's dominant file.
var DominantHeader = []string{
	"update",
	"score",
	"full_consensus_time",
	"most_recent_consensus_streak",
	"max_consensus_size",
	"valid_vote_cnt",
	"msgs_sent",
	"min_uid",
	"max_uid",
	"leader_uid",
}

type RunConfig struct {
	RunID         string `json:"run_id"`
	Scape         string `json:"scape"`
	Seed          int64  `json:"seed"`
	Workers       int    `json:"workers"`
	Candidates    int    `json:"candidates"`
	EvalTime      int    `json:"eval_time"`
	TrialCount    int    `json:"trial_count"`
	Width         int    `json:"width"`
	Height        int    `json:"height"`
	Policy        string `json:"policy"`
	Latency       int    `json:"latency,omitempty"`
	InboxCapacity int    `json:"inbox_capacity"`
	Handling      string `json:"handling"`
	MaxThreads    int    `json:"max_threads"`
	MinID         uint32 `json:"min_id"`
	MaxID         uint32 `json:"max_id"`
	TickTrace     bool   `json:"tick_trace,omitempty"`
}

type RunArtifacts struct {
	Config     RunConfig         `json:"config"`
	Phenotypes []model.Phenotype `json:"phenotypes"`
}

type RunIndexEntry struct {
	RunID         string  `json:"run_id"`
	Scape         string  `json:"scape"`
	Seed          int64   `json:"seed"`
	Candidates    int     `json:"candidates"`
	Workers       int     `json:"workers"`
	BestCandidate string  `json:"best_candidate"`
	BestFitness   float64 `json:"best_fitness"`
	CreatedAtUTC  string  `json:"created_at_utc"`
}

// IndexEntryFromRun converts a persisted run record to its index entry.
func IndexEntryFromRun(run model.RunRecord) RunIndexEntry {
	return RunIndexEntry{
		RunID:         run.ID,
		Scape:         run.Scape,
		Seed:          run.Seed,
		Candidates:    run.Candidates,
		Workers:       run.Workers,
		BestCandidate: run.BestCandidate,
		BestFitness:   run.BestFitness,
		CreatedAtUTC:  run.CreatedAtUTC,
	}
}

func WriteRunArtifacts(baseDir string, artifacts RunArtifacts) (string, error) {
	if artifacts.Config.RunID == "" {
		return "", fmt.Errorf("run id is required")
	}

	runDir := filepath.Join(baseDir, artifacts.Config.RunID)
	if err := os.MkdirAll(runDir, 0o755); err != nil {
		return "", err
	}

	if err := writeJSON(filepath.Join(runDir, configFile), artifacts.Config); err != nil {
		return "", err
	}
	phenotypes := artifacts.Phenotypes
	if phenotypes == nil {
		phenotypes = []model.Phenotype{}
	}
	if err := writeJSON(filepath.Join(runDir, phenotypesFile), phenotypes); err != nil {
		return "", err
	}
	if err := WriteDominant(runDir, phenotypes); err != nil {
		return "", err
	}

	return runDir, nil
}

func AppendRunIndex(baseDir string, entry RunIndexEntry) error {
	if entry.RunID == "" {
		return fmt.Errorf("run id is required")
	}
	if err := os.MkdirAll(baseDir, 0o755); err != nil {
		return err
	}

	index, err := ListRunIndex(baseDir)
	if err != nil {
		return err
	}

	for i := range index {
		if index[i].RunID == entry.RunID {
			index[i] = entry
			return writeJSON(filepath.Join(baseDir, runIndexFile), index)
		}
	}

	index = append(index, entry)
	return writeJSON(filepath.Join(baseDir, runIndexFile), index)
}

func ListRunIndex(baseDir string) ([]RunIndexEntry, error) {
	path := filepath.Join(baseDir, runIndexFile)
	data, err := os.ReadFile(path)
	if err != nil {
		if os.IsNotExist(err) {
			return []RunIndexEntry{}, nil
		}
		return nil, err
	}

	var entries []RunIndexEntry
	if err := json.Unmarshal(data, &entries); err != nil {
		return nil, err
	}

	type indexedEntry struct {
		entry   RunIndexEntry
		created time.Time
		idx     int
	}
	indexed := make([]indexedEntry, len(entries))
	for i := range entries {
		// Unparseable timestamps sort as the zero time, i.e. oldest.
		created, _ := time.Parse(time.RFC3339Nano, entries[i].CreatedAtUTC)
		indexed[i] = indexedEntry{entry: entries[i], created: created, idx: i}
	}
	sort.Slice(indexed, func(i, j int) bool {
		if indexed[i].created.Equal(indexed[j].created) {
			// Later appends win on equal timestamps.
			return indexed[i].idx > indexed[j].idx
		}
		return indexed[i].created.After(indexed[j].created)
	})

	sorted := make([]RunIndexEntry, 0, len(indexed))
	for _, item := range indexed {
		sorted = append(sorted, item.entry)
	}
	return sorted, nil
}

func ExportRunArtifacts(baseDir, runID, outDir string) (string, error) {
	if runID == "" {
		return "", fmt.Errorf("run id is required")
	}

	src := filepath.Join(baseDir, runID)
	if _, err := os.Stat(src); err != nil {
		return "", err
	}

	dst := filepath.Join(outDir, runID)
	if err := os.MkdirAll(dst, 0o755); err != nil {
		return "", err
	}

	for _, file := range []string{configFile, phenotypesFile, dominantFile} {
		if err := copyFile(filepath.Join(src, file), filepath.Join(dst, file)); err != nil {
			return "", err
		}
	}
	tracePath := filepath.Join(src, TickTraceFile)
	if _, err := os.Stat(tracePath); err == nil {
		if err := copyFile(tracePath, filepath.Join(dst, TickTraceFile)); err != nil {
			return "", err
		}
	} else if !os.IsNotExist(err) {
		return "", err
	}

	return dst, nil
}

func ReadRunConfig(baseDir, runID string) (RunConfig, bool, error) {
	path := filepath.Join(baseDir, runID, configFile)
	data, err := os.ReadFile(path)
	if err != nil {
		if os.IsNotExist(err) {
			return RunConfig{}, false, nil
		}
		return RunConfig{}, false, err
	}

	var cfg RunConfig
	if err := json.Unmarshal(data, &cfg); err != nil {
		return RunConfig{}, false, err
	}
	return cfg, true, nil
}

func WriteRunConfig(baseDir, runID string, cfg RunConfig) error {
	if strings.TrimSpace(runID) == "" {
		return fmt.Errorf("run id is required")
	}
	if strings.TrimSpace(cfg.RunID) == "" {
		cfg.RunID = strings.TrimSpace(runID)
	}
	if cfg.RunID != strings.TrimSpace(runID) {
		return fmt.Errorf("run config run id mismatch: got=%s want=%s", cfg.RunID, strings.TrimSpace(runID))
	}
	runDir := filepath.Join(baseDir, runID)
	if err := os.MkdirAll(runDir, 0o755); err != nil {
		return err
	}
	return writeJSON(filepath.Join(runDir, configFile), cfg)
}

func ReadPhenotypes(baseDir, runID string) ([]model.Phenotype, bool, error) {
	path := filepath.Join(baseDir, runID, phenotypesFile)
	data, err := os.ReadFile(path)
	if err != nil {
		if os.IsNotExist(err) {
			return nil, false, nil
		}
		return nil, false, err
	}

	var phenotypes []model.Phenotype
	if err := json.Unmarshal(data, &phenotypes); err != nil {
		return nil, false, err
	}
	return phenotypes, true, nil
}

// DominantRow is one line of dominant.csv. Update is the candidate index and
// the tally columns come from the trial the fitness was taken from.
type DominantRow struct {
	Update                    int
	Score                     float64
	FullConsensusTime         int
	MostRecentConsensusStreak int
	MaxConsensusSize          int
	ValidVoteCount            int
	MessagesSent              uint64
	MinUID                    uint32
	MaxUID                    uint32
	LeaderUID                 uint32
}

func DominantRowFromPhenotype(p model.Phenotype) DominantRow {
	row := DominantRow{Update: p.Index, Score: p.Fitness}
	if p.Worst < 0 || p.Worst >= len(p.Trials) {
		return row
	}
	trial := p.Trials[p.Worst]
	row.FullConsensusTime = trial.FullConsensusTime
	row.MostRecentConsensusStreak = trial.RecentConsensusStreak
	row.MaxConsensusSize = trial.MaxVotes
	row.ValidVoteCount = trial.ValidVotes
	row.MessagesSent = trial.MessagesExchanged
	row.MinUID = trial.MinID
	row.MaxUID = trial.MaxID
	row.LeaderUID = trial.Leader
	return row
}

func (r DominantRow) record() []string {
	return []string{
		strconv.Itoa(r.Update),
		strconv.FormatFloat(r.Score, 'f', -1, 64),
		strconv.Itoa(r.FullConsensusTime),
		strconv.Itoa(r.MostRecentConsensusStreak),
		strconv.Itoa(r.MaxConsensusSize),
		strconv.Itoa(r.ValidVoteCount),
		strconv.FormatUint(r.MessagesSent, 10),
		strconv.FormatUint(uint64(r.MinUID), 10),
		strconv.FormatUint(uint64(r.MaxUID), 10),
		strconv.FormatUint(uint64(r.LeaderUID), 10),
	}
}

func WriteDominant(runDir string, phenotypes []model.Phenotype) error {
	path := filepath.Join(runDir, dominantFile)
	file, err := os.Create(path)
	if err != nil {
		return err
	}
	defer file.Close()

	ordered := append([]model.Phenotype(nil), phenotypes...)
	sort.SliceStable(ordered, func(i, j int) bool { return ordered[i].Index < ordered[j].Index })

	writer := csv.NewWriter(file)
	if err := writer.Write(DominantHeader); err != nil {
		return err
	}
	for _, p := range ordered {
		if err := writer.Write(DominantRowFromPhenotype(p).record()); err != nil {
			return err
		}
	}
	writer.Flush()
	return writer.Error()
}

func ReadDominant(baseDir, runID string) ([]DominantRow, bool, error) {
	path := filepath.Join(baseDir, runID, dominantFile)
	file, err := os.Open(path)
	if err != nil {
		if os.IsNotExist(err) {
			return nil, false, nil
		}
		return nil, false, err
	}
	defer file.Close()

	reader := csv.NewReader(file)
	header, err := reader.Read()
	if err != nil {
		if err == io.EOF {
			return []DominantRow{}, true, nil
		}
		return nil, false, err
	}
	if len(header) != len(DominantHeader) {
		return nil, false, fmt.Errorf("dominant header must have %d columns, got %d", len(DominantHeader), len(header))
	}

	rows := make([]DominantRow, 0, 16)
	for {
		record, err := reader.Read()
		if err == io.EOF {
			break
		}
		if err != nil {
			return nil, false, err
		}
		row, err := parseDominantRow(record)
		if err != nil {
			return nil, false, err
		}
		rows = append(rows, row)
	}
	return rows, true, nil
}

func parseDominantRow(record []string) (DominantRow, error) {
	if len(record) != len(DominantHeader) {
		return DominantRow{}, fmt.Errorf("dominant row must have %d columns, got %d", len(DominantHeader), len(record))
	}
	var (
		row  DominantRow
		errs []error
	)
	atoi := func(s string) int {
		v, err := strconv.Atoi(s)
		errs = append(errs, err)
		return v
	}
	parseU32 := func(s string) uint32 {
		v, err := strconv.ParseUint(s, 10, 32)
		errs = append(errs, err)
		return uint32(v)
	}
	row.Update = atoi(record[0])
	score, err := strconv.ParseFloat(record[1], 64)
	errs = append(errs, err)
	row.Score = score
	row.FullConsensusTime = atoi(record[2])
	row.MostRecentConsensusStreak = atoi(record[3])
	row.MaxConsensusSize = atoi(record[4])
	row.ValidVoteCount = atoi(record[5])
	sent, err := strconv.ParseUint(record[6], 10, 64)
	errs = append(errs, err)
	row.MessagesSent = sent
	row.MinUID = parseU32(record[7])
	row.MaxUID = parseU32(record[8])
	row.LeaderUID = parseU32(record[9])
	for _, err := range errs {
		if err != nil {
			return DominantRow{}, fmt.Errorf("parse dominant row: %w", err)
		}
	}
	return row, nil
}

func writeJSON(path string, value any) error {
	data, err := json.MarshalIndent(value, "", "  ")
	if err != nil {
		return err
	}
	data = append(data, '\n')
	return os.WriteFile(path, data, 0o644)
}

func copyFile(src, dst string) error {
	in, err := os.Open(src)
	if err != nil {
		return err
	}
	defer in.Close()

	out, err := os.Create(dst)
	if err != nil {
		return err
	}
	defer out.Close()

	if _, err := io.Copy(out, in); err != nil {
		return err
	}
	return out.Sync()
}
