package model

// VersionedRecord captures schema and codec evolution for persistent data.
type VersionedRecord struct {
	SchemaVersion int `json:"schema_version"`
	CodecVersion  int `json:"codec_version"`
}

// TrialResult is the tally state at the end of one trial plus the consensus
// timing observed while it ran.
type TrialResult struct {
	Trial                 int     `json:"trial"`
	ValidVotes            int     `json:"valid_votes"`
	MaxVotes              int     `json:"max_votes"`
	Leader                uint32  `json:"leader"`
	FullConsensusTime     int     `json:"full_consensus_time"`
	RecentConsensusStreak int     `json:"recent_consensus_streak"`
	MessagesExchanged     uint64  `json:"messages_exchanged"`
	MinID                 uint32  `json:"min_id"`
	MaxID                 uint32  `json:"max_id"`
	Score                 float64 `json:"score"`
}

// Phenotype is one evaluated candidate. Worst is the trial the fitness was
// taken from.
type Phenotype struct {
	VersionedRecord
	RunID     string        `json:"run_id"`
	Index     int           `json:"index"`
	Candidate string        `json:"candidate"`
	Program   string        `json:"program"`
	Seed      int64         `json:"seed"`
	Fitness   float64       `json:"fitness"`
	Worst     int           `json:"worst_trial"`
	Trials    []TrialResult `json:"trials"`
}

type RunRecord struct {
	VersionedRecord
	ID            string  `json:"id"`
	Scape         string  `json:"scape"`
	Seed          int64   `json:"seed"`
	Candidates    int     `json:"candidates"`
	Workers       int     `json:"workers"`
	BestCandidate string  `json:"best_candidate"`
	BestFitness   float64 `json:"best_fitness"`
	CreatedAtUTC  string  `json:"created_at_utc"`
}

type ScapeSummary struct {
	VersionedRecord
	Name        string  `json:"name"`
	Description string  `json:"description"`
	BestFitness float64 `json:"best_fitness"`
	BestProgram string  `json:"best_program,omitempty"`
	Evaluations int     `json:"evaluations"`
}
