package workflow

import (
	"crypto/rand"
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"sync"
	"time"
)

// Store persists execution results and their progress event streams to
// the filesystem: one JSON document per completed execution, grouped by
// day, and one append-only JSONL file of progress events per execution
// while it runs. This mirrors the on-disk layout the teacher's deleted
// execution storage used for its own JSON-file-per-entity persistence,
// generalised from a single flat directory to the date-bucketed volumes
// layout this system's filesystem contract specifies.
type Store struct {
	baseDir string

	mu      sync.Mutex
	streams map[string]*os.File
}

// NewStore roots a Store at baseDir, creating volumes/executions and
// volumes/logs on first use rather than at construction time.
func NewStore(baseDir string) *Store {
	return &Store{
		baseDir: baseDir,
		streams: make(map[string]*os.File),
	}
}

func (s *Store) executionsDir(day string) string {
	return filepath.Join(s.baseDir, "volumes", "executions", day)
}

func (s *Store) progressDir(executionID string) string {
	return filepath.Join(s.baseDir, "volumes", "executions", executionID)
}

func (s *Store) logsDir(day string) string {
	return filepath.Join(s.baseDir, "volumes", "logs", day)
}

// SaveResult writes the final ExecutionResult as
// volumes/executions/{YYYY-MM-DD}/exec_{timestamp}_{random}.json and, if a
// progress stream file is still open for this execution, closes it.
func (s *Store) SaveResult(result *ExecutionResult) error {
	day := result.StartedAt
	if len(day) >= 10 {
		day = day[:10]
	}
	dir := s.executionsDir(day)
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return fmt.Errorf("creating executions directory: %w", err)
	}

	suffix, err := randomHex(4)
	if err != nil {
		return err
	}
	name := fmt.Sprintf("exec_%d_%s.json", time.Now().UnixNano(), suffix)
	path := filepath.Join(dir, name)

	data, err := json.MarshalIndent(result, "", "  ")
	if err != nil {
		return fmt.Errorf("marshalling execution result: %w", err)
	}
	if err := os.WriteFile(path, data, 0o644); err != nil {
		return fmt.Errorf("writing execution result: %w", err)
	}

	s.mu.Lock()
	if f, ok := s.streams[result.ID]; ok {
		f.Close()
		delete(s.streams, result.ID)
	}
	s.mu.Unlock()
	return nil
}

// AppendProgress appends one JSON-encoded event to
// volumes/executions/{execution_id}/progress.jsonl, opening the file on
// first use and keeping it open for the life of the execution.
func (s *Store) AppendProgress(executionID string, ev ProgressEvent) error {
	line, err := json.Marshal(ev)
	if err != nil {
		return fmt.Errorf("marshalling progress event: %w", err)
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	f, ok := s.streams[executionID]
	if !ok {
		dir := s.progressDir(executionID)
		if err := os.MkdirAll(dir, 0o755); err != nil {
			return fmt.Errorf("creating progress directory: %w", err)
		}
		f, err = os.OpenFile(filepath.Join(dir, "progress.jsonl"), os.O_APPEND|os.O_CREATE|os.O_WRONLY, 0o644)
		if err != nil {
			return fmt.Errorf("opening progress stream: %w", err)
		}
		s.streams[executionID] = f
	}

	if _, err := f.Write(append(line, '\n')); err != nil {
		return fmt.Errorf("appending progress event: %w", err)
	}
	return nil
}

// AppendLog writes one JSONL line to volumes/logs/{YYYY-MM-DD}/{execution_id}.log.
func (s *Store) AppendLog(executionID, day, line string) error {
	dir := s.logsDir(day)
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return fmt.Errorf("creating logs directory: %w", err)
	}
	f, err := os.OpenFile(filepath.Join(dir, executionID+".log"), os.O_APPEND|os.O_CREATE|os.O_WRONLY, 0o644)
	if err != nil {
		return fmt.Errorf("opening log file: %w", err)
	}
	defer f.Close()

	entry := map[string]interface{}{"timestamp": time.Now().UTC().Format(time.RFC3339Nano), "message": line}
	data, err := json.Marshal(entry)
	if err != nil {
		return err
	}
	_, err = f.Write(append(data, '\n'))
	return err
}

// Close releases every open progress stream file handle.
func (s *Store) Close() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	var firstErr error
	for id, f := range s.streams {
		if err := f.Close(); err != nil && firstErr == nil {
			firstErr = err
		}
		delete(s.streams, id)
	}
	return firstErr
}

func randomHex(n int) (string, error) {
	b := make([]byte, n)
	if _, err := rand.Read(b); err != nil {
		return "", fmt.Errorf("generating random suffix: %w", err)
	}
	return fmt.Sprintf("%x", b), nil
}
