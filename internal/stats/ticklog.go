package stats

import (
	"bufio"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"sync"

	"consensusdeme/internal/consensus"

	"github.com/klauspost/compress/zstd"
)

const TickTraceFile = "ticks.jsonl.zst"

var errTickLogClosed = errors.New("tick log closed")

// TickEntry is one tally sample tagged with the candidate and trial it came from.
type TickEntry struct {
	Candidate int `json:"candidate"`
	Trial     int `json:"trial"`
	consensus.TickSample
}

// TickLog writes zstd-compressed JSONL tick entries. Safe for concurrent use.
type TickLog struct {
	mu  sync.Mutex
	f   *os.File
	enc *zstd.Encoder
	w   *bufio.Writer
	n   int
	err error
}

func OpenTickLog(runDir string) (*TickLog, error) {
	if err := os.MkdirAll(runDir, 0o755); err != nil {
		return nil, err
	}
	f, err := os.OpenFile(filepath.Join(runDir, TickTraceFile), os.O_CREATE|os.O_WRONLY|os.O_TRUNC, 0o644)
	if err != nil {
		return nil, err
	}
	enc, err := zstd.NewWriter(f, zstd.WithEncoderLevel(zstd.SpeedFastest))
	if err != nil {
		_ = f.Close()
		return nil, err
	}
	return &TickLog{
		f:   f,
		enc: enc,
		w:   bufio.NewWriterSize(enc, 128*1024),
	}, nil
}

func (l *TickLog) Write(entry TickEntry) error {
	l.mu.Lock()
	defer l.mu.Unlock()
	if l.w == nil {
		return errTickLogClosed
	}

	b, err := json.Marshal(entry)
	if err != nil {
		return err
	}
	if _, err := l.w.Write(b); err != nil {
		return err
	}
	if err := l.w.WriteByte('\n'); err != nil {
		return err
	}
	l.n++
	return nil
}

// Observe has the shape of a batch observer. Write errors are kept and
// reported by Close.
func (l *TickLog) Observe(candidate, trial int, sample consensus.TickSample) {
	if err := l.Write(TickEntry{Candidate: candidate, Trial: trial, TickSample: sample}); err != nil {
		l.mu.Lock()
		if l.err == nil {
			l.err = err
		}
		l.mu.Unlock()
	}
}

func (l *TickLog) Entries() int {
	l.mu.Lock()
	defer l.mu.Unlock()
	return l.n
}

func (l *TickLog) Close() error {
	l.mu.Lock()
	defer l.mu.Unlock()
	if l.w == nil {
		return nil
	}
	err := l.w.Flush()
	if cerr := l.enc.Close(); err == nil {
		err = cerr
	}
	if cerr := l.f.Close(); err == nil {
		err = cerr
	}
	l.w, l.enc, l.f = nil, nil, nil
	if err == nil && l.err != nil {
		err = fmt.Errorf("tick log: %w", l.err)
	}
	return err
}

// ReadTickLog decodes every entry of a run's tick trace.
func ReadTickLog(baseDir, runID string) ([]TickEntry, bool, error) {
	f, err := os.Open(filepath.Join(baseDir, runID, TickTraceFile))
	if err != nil {
		if os.IsNotExist(err) {
			return nil, false, nil
		}
		return nil, false, err
	}
	defer f.Close()

	dec, err := zstd.NewReader(f)
	if err != nil {
		return nil, false, err
	}
	defer dec.Close()

	entries := make([]TickEntry, 0, 256)
	jd := json.NewDecoder(dec)
	for {
		var entry TickEntry
		if err := jd.Decode(&entry); err != nil {
			if err == io.EOF {
				break
			}
			return nil, false, err
		}
		entries = append(entries, entry)
	}
	return entries, true, nil
}
