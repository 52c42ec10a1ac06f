package feedback

import (
	"bufio"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"slices"
	"sync"
	"time"

	"github.com/google/uuid"
)

// Record is the metadata of one finished simulation. Transcripts and report
// bodies are deliberately not stored.
type Record struct {
	ID         string    `json:"id"`
	ScenarioID string    `json:"scenario_id"`
	Path       string    `json:"path"`
	Turns      int       `json:"turns"`
	Chars      int       `json:"report_chars"`
	WasLive    bool      `json:"was_live"`
	CreatedAt  time.Time `json:"created_at"`
}

// NewRecord stamps a Record with a fresh ID and the current UTC time.
func NewRecord(scenarioID, path string, turns, chars int, wasLive bool) Record {
	return Record{
		ID:         uuid.NewString(),
		ScenarioID: scenarioID,
		Path:       path,
		Turns:      turns,
		Chars:      chars,
		WasLive:    wasLive,
		CreatedAt:  time.Now().UTC(),
	}
}

// Store persists report metadata.
type Store interface {
	Save(ctx context.Context, r Record) error

	// Recent returns up to limit records for scenarioID, newest first. An
	// empty scenarioID matches every scenario.
	Recent(ctx context.Context, scenarioID string, limit int) ([]Record, error)
}

// NopStore discards every record.
type NopStore struct{}

var _ Store = NopStore{}

// Save implements [Store].
func (NopStore) Save(context.Context, Record) error { return nil }

// Recent implements [Store].
func (NopStore) Recent(context.Context, string, int) ([]Record, error) { return nil, nil }

// FileStore appends records as JSON lines to a local file. It suits a single
// trainee workstation.
type FileStore struct {
	mu   sync.Mutex
	path string
}

var _ Store = (*FileStore)(nil)

// NewFileStore creates a FileStore writing to path. The file is created on
// first write.
func NewFileStore(path string) *FileStore {
	return &FileStore{path: path}
}

// Save appends r to the file.
func (s *FileStore) Save(_ context.Context, r Record) error {
	data, err := json.Marshal(r)
	if err != nil {
		return fmt.Errorf("feedback: marshal: %w", err)
	}
	data = append(data, '\n')

	s.mu.Lock()
	defer s.mu.Unlock()

	f, err := os.OpenFile(s.path, os.O_APPEND|os.O_CREATE|os.O_WRONLY, 0o644)
	if err != nil {
		return fmt.Errorf("feedback: open file: %w", err)
	}
	if _, err := f.Write(data); err != nil {
		f.Close()
		return fmt.Errorf("feedback: write: %w", err)
	}
	if err := f.Close(); err != nil {
		return fmt.Errorf("feedback: close: %w", err)
	}
	return nil
}

// Recent reads the whole file and returns the matching tail. Malformed lines
// are skipped.
func (s *FileStore) Recent(_ context.Context, scenarioID string, limit int) ([]Record, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	f, err := os.Open(s.path)
	if errors.Is(err, os.ErrNotExist) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("feedback: open file: %w", err)
	}
	defer f.Close()

	var out []Record
	sc := bufio.NewScanner(f)
	for sc.Scan() {
		var r Record
		if err := json.Unmarshal(sc.Bytes(), &r); err != nil {
			continue
		}
		if scenarioID == "" || r.ScenarioID == scenarioID {
			out = append(out, r)
		}
	}
	if err := sc.Err(); err != nil {
		return nil, fmt.Errorf("feedback: read file: %w", err)
	}
	slices.Reverse(out)
	if limit > 0 && len(out) > limit {
		out = out[:limit]
	}
	return out, nil
}
