package packages

import (
	"bufio"
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"sync"
	"time"

	"github.com/google/uuid"
)

// TransactionLog is an append-only JSONL record of every install/update/
// remove/rollback attempt. Readers reconstruct a package's latest status by
// scanning forward. Log only ever appends; Compact, run on demand, is the
// one operation that rewrites the file.
type TransactionLog struct {
	path string
	mu   sync.Mutex
}

func NewTransactionLog(baseDir string) *TransactionLog {
	return &TransactionLog{path: filepath.Join(baseDir, "configs", "transactions.jsonl")}
}

// CreateTransaction allocates a new pending record; it is not yet written —
// call Log to append it (and every subsequent status transition).
func CreateTransaction(op TransactionOp, name, version string) TransactionRecord {
	return TransactionRecord{
		ID:          uuid.NewString(),
		Operation:   op,
		PackageName: name,
		Version:     version,
		Status:      TxPending,
		StartedAt:   time.Now().UTC(),
	}
}

// Log appends rec as the new latest state for its id.
func (l *TransactionLog) Log(rec TransactionRecord) error {
	l.mu.Lock()
	defer l.mu.Unlock()

	if err := os.MkdirAll(filepath.Dir(l.path), 0o755); err != nil {
		return fmt.Errorf("create configs dir: %w", err)
	}
	f, err := os.OpenFile(l.path, os.O_APPEND|os.O_CREATE|os.O_WRONLY, 0o644)
	if err != nil {
		return fmt.Errorf("open transaction log: %w", err)
	}
	defer f.Close()

	data, err := json.Marshal(rec)
	if err != nil {
		return fmt.Errorf("marshal transaction: %w", err)
	}
	if _, err := f.Write(append(data, '\n')); err != nil {
		return fmt.Errorf("append transaction: %w", err)
	}
	return nil
}

func (l *TransactionLog) scan() ([]TransactionRecord, error) {
	f, err := os.Open(l.path)
	if os.IsNotExist(err) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("open transaction log: %w", err)
	}
	defer f.Close()

	var out []TransactionRecord
	scanner := bufio.NewScanner(f)
	scanner.Buffer(make([]byte, 0, 64*1024), 1024*1024)
	for scanner.Scan() {
		line := scanner.Bytes()
		if len(line) == 0 {
			continue
		}
		var rec TransactionRecord
		if err := json.Unmarshal(line, &rec); err != nil {
			continue
		}
		out = append(out, rec)
	}
	return out, scanner.Err()
}

// ListTransactions returns the last `limit` entries (every appended
// revision, not deduplicated by id), most recent first.
func (l *TransactionLog) ListTransactions(limit int) ([]TransactionRecord, error) {
	l.mu.Lock()
	defer l.mu.Unlock()

	all, err := l.scan()
	if err != nil {
		return nil, err
	}
	if limit <= 0 || limit > len(all) {
		limit = len(all)
	}
	out := make([]TransactionRecord, limit)
	for i := 0; i < limit; i++ {
		out[i] = all[len(all)-1-i]
	}
	return out, nil
}

// GetTransaction returns the latest revision of the record with the given
// id, forward-scanning the whole log.
func (l *TransactionLog) GetTransaction(id string) (TransactionRecord, bool, error) {
	l.mu.Lock()
	defer l.mu.Unlock()

	all, err := l.scan()
	if err != nil {
		return TransactionRecord{}, false, err
	}
	var found TransactionRecord
	ok := false
	for _, rec := range all {
		if rec.ID == id {
			found = rec
			ok = true
		}
	}
	return found, ok, nil
}

// Compact rewrites the log keeping every appended revision of the latest
// transaction per package and of each transaction with an entry among the
// last keepHistory lines, dropping the rest, bounding growth in long-lived
// deployments. Never invoked automatically or mid-install.
func (l *TransactionLog) Compact(keepHistory int) error {
	l.mu.Lock()
	defer l.mu.Unlock()

	all, err := l.scan()
	if err != nil {
		return err
	}
	if len(all) == 0 {
		return nil
	}

	latestByPackage := make(map[string]TransactionRecord)
	for _, rec := range all {
		latestByPackage[rec.PackageName] = rec
	}

	history := all
	if keepHistory > 0 && len(history) > keepHistory {
		history = history[len(history)-keepHistory:]
	}

	kept := make(map[string]TransactionRecord)
	for _, rec := range latestByPackage {
		kept[rec.ID+rec.PackageName] = rec
	}
	for _, rec := range history {
		kept[rec.ID+rec.PackageName] = rec
	}

	var ordered []TransactionRecord
	for _, rec := range all {
		if k, ok := kept[rec.ID+rec.PackageName]; ok && k.StartedAt.Equal(rec.StartedAt) {
			ordered = append(ordered, rec)
		}
	}

	tmp := l.path + ".compact"
	f, err := os.Create(tmp)
	if err != nil {
		return fmt.Errorf("create compacted log: %w", err)
	}
	for _, rec := range ordered {
		data, err := json.Marshal(rec)
		if err != nil {
			f.Close()
			return err
		}
		if _, err := f.Write(append(data, '\n')); err != nil {
			f.Close()
			return err
		}
	}
	if err := f.Close(); err != nil {
		return err
	}
	return os.Rename(tmp, l.path)
}
