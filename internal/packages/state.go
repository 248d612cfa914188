package packages

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"sync"

	"k8s.io/apimachinery/pkg/util/wait"
	"k8s.io/client-go/util/retry"
)

const declaredStateVersion = "2.0"

// installedPackagesDoc is the on-disk shape of configs/installed-packages.json.
// It carries no runtime container ids: those are reconciled from the live
// daemon at startup and held only in the in-memory InstallationRecord.
type installedPackagesDoc struct {
	Version  string                        `json:"version"`
	Packages map[string]InstallationRecord `json:"packages"`
}

func newInstalledPackagesDoc() installedPackagesDoc {
	return installedPackagesDoc{Version: declaredStateVersion, Packages: make(map[string]InstallationRecord)}
}

// stateStore guards the declared-state file with a single in-process mutex
// and a retrying read-modify-write helper, so concurrent install/remove/
// update calls never race each other's rewrite of the whole document.
type stateStore struct {
	path string
	mu   sync.Mutex
}

func newStateStore(baseDir string) *stateStore {
	return &stateStore{path: filepath.Join(baseDir, "configs", "installed-packages.json")}
}

func (s *stateStore) load() (installedPackagesDoc, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.loadLocked()
}

func (s *stateStore) loadLocked() (installedPackagesDoc, error) {
	data, err := os.ReadFile(s.path)
	if os.IsNotExist(err) {
		return newInstalledPackagesDoc(), nil
	}
	if err != nil {
		return installedPackagesDoc{}, fmt.Errorf("read declared state: %w", err)
	}
	var doc installedPackagesDoc
	if err := json.Unmarshal(data, &doc); err != nil {
		return installedPackagesDoc{}, fmt.Errorf("parse declared state: %w", err)
	}
	if doc.Packages == nil {
		doc.Packages = make(map[string]InstallationRecord)
	}
	if doc.Version == "" {
		doc.Version = declaredStateVersion
	}
	return doc, nil
}

func (s *stateStore) saveLocked(doc installedPackagesDoc) error {
	if err := os.MkdirAll(filepath.Dir(s.path), 0o755); err != nil {
		return fmt.Errorf("create configs dir: %w", err)
	}
	data, err := json.MarshalIndent(doc, "", "  ")
	if err != nil {
		return fmt.Errorf("marshal declared state: %w", err)
	}
	tmp := s.path + ".tmp"
	if err := os.WriteFile(tmp, data, 0o644); err != nil {
		return fmt.Errorf("write declared state: %w", err)
	}
	return os.Rename(tmp, s.path)
}

// declaredStateBackoff matches the teacher's reconciler-facing retry shape:
// a handful of short, jittered attempts, not an unbounded loop.
var declaredStateBackoff = wait.Backoff{
	Steps:    5,
	Duration: 10 * 1000000, // 10ms
	Factor:   2.0,
	Jitter:   0.1,
}

// mutate performs a read-modify-write of the declared-state document under
// the store's mutex, retrying the whole cycle on a transient write error
// (e.g. a concurrent external editor holding the file briefly) the way
// retry.OnError retries a Kubernetes object update on resourceVersion
// conflict.
func (s *stateStore) mutate(fn func(doc *installedPackagesDoc) error) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	return retry.OnError(declaredStateBackoff, isRetriableStateError, func() error {
		doc, err := s.loadLocked()
		if err != nil {
			return err
		}
		if err := fn(&doc); err != nil {
			return err
		}
		return s.saveLocked(doc)
	})
}

func isRetriableStateError(err error) bool {
	return os.IsPermission(err) || os.IsTimeout(err)
}
