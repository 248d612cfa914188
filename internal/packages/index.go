package packages

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"time"

	"skein/pkg/logging"
)

const indexSubsystem = "PackageIndex"

// registrySnapshot is one registry's slice of the on-disk index document.
type registrySnapshot struct {
	URL         string            `json:"url"`
	Packages    []PackageMetadata `json:"packages"`
	LastUpdated time.Time         `json:"last_updated"`
}

type indexDoc struct {
	LastUpdated time.Time                   `json:"last_updated"`
	Registries  map[string]registrySnapshot `json:"registries"`
}

// Index is the in-memory, disk-backed snapshot of every registry's
// available packages, refreshed through the Failover Manager so a single
// unreachable registry never aborts a whole refresh.
type Index struct {
	path   string
	client *http.Client
	fm     *FailoverManager

	mu  sync.RWMutex
	doc indexDoc
}

func NewIndex(baseDir string, fm *FailoverManager) *Index {
	idx := &Index{
		path:   filepath.Join(baseDir, "configs", "package-index.json"),
		client: &http.Client{Timeout: 15 * time.Second},
		fm:     fm,
		doc:    indexDoc{Registries: make(map[string]registrySnapshot)},
	}
	if data, err := os.ReadFile(idx.path); err == nil {
		var doc indexDoc
		if json.Unmarshal(data, &doc) == nil {
			idx.doc = doc
		}
	}
	return idx
}

// Refresh pulls a fresh package list from every enabled registry (or just
// `only`, if non-empty). Per-registry failures are logged and skipped; the
// index is only replaced if at least one registry succeeded.
func (idx *Index) Refresh(ctx context.Context, regs []RegistryConfig, only string) error {
	type outcome struct {
		name string
		snap registrySnapshot
		err  error
	}

	var wg sync.WaitGroup
	results := make(chan outcome, len(regs))
	for _, reg := range regs {
		if !reg.Enabled {
			continue
		}
		if only != "" && reg.Name != only {
			continue
		}
		reg := reg
		wg.Add(1)
		go func() {
			defer wg.Done()
			var snap registrySnapshot
			err := idx.fm.ExecuteWithRetry(ctx, reg.Name, 3, 10*time.Second, func(ctx context.Context) error {
				pkgs, ferr := idx.fetchRegistry(ctx, reg)
				if ferr != nil {
					return ferr
				}
				snap = registrySnapshot{URL: reg.URL, Packages: pkgs, LastUpdated: time.Now()}
				return nil
			})
			results <- outcome{name: reg.Name, snap: snap, err: err}
		}()
	}
	wg.Wait()
	close(results)

	idx.mu.Lock()
	defer idx.mu.Unlock()

	succeeded := false
	for o := range results {
		if o.err != nil {
			logging.Warn(indexSubsystem, "refresh of registry %s failed: %v", o.name, o.err)
			continue
		}
		idx.doc.Registries[o.name] = o.snap
		succeeded = true
	}
	if !succeeded && len(idx.doc.Registries) == 0 {
		return fmt.Errorf("refresh failed: no registry responded")
	}
	if !succeeded {
		return fmt.Errorf("refresh failed for all requested registries, keeping previous index")
	}

	idx.doc.LastUpdated = time.Now()
	data, err := json.MarshalIndent(idx.doc, "", "  ")
	if err != nil {
		return fmt.Errorf("marshal package index: %w", err)
	}
	if err := os.MkdirAll(filepath.Dir(idx.path), 0o755); err != nil {
		return fmt.Errorf("create configs dir: %w", err)
	}
	return os.WriteFile(idx.path, data, 0o644)
}

func (idx *Index) fetchRegistry(ctx context.Context, reg RegistryConfig) ([]PackageMetadata, error) {
	if reg.IsLocal() {
		return scanLocalRegistry(strings.TrimPrefix(reg.URL, "file://"))
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, strings.TrimRight(reg.URL, "/")+"/api/v2/packages", nil)
	if err != nil {
		return nil, err
	}
	resp, err := idx.client.Do(req)
	if err != nil {
		return nil, err
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		return nil, fmt.Errorf("registry %s returned HTTP %d", reg.Name, resp.StatusCode)
	}
	var pkgs []PackageMetadata
	if err := json.NewDecoder(resp.Body).Decode(&pkgs); err != nil {
		return nil, fmt.Errorf("decode package list: %w", err)
	}
	return pkgs, nil
}

// scanLocalRegistry enumerates immediate subdirectories of a file://
// registry; any subdirectory containing mcp.json contributes one package,
// defaulting its type to "mcp" when the manifest omits it.
func scanLocalRegistry(dir string) ([]PackageMetadata, error) {
	entries, err := os.ReadDir(dir)
	if err != nil {
		return nil, fmt.Errorf("scan local registry %s: %w", dir, err)
	}
	var out []PackageMetadata
	for _, e := range entries {
		if !e.IsDir() {
			continue
		}
		manifestPath := filepath.Join(dir, e.Name(), "mcp.json")
		data, err := os.ReadFile(manifestPath)
		if err != nil {
			continue
		}
		var meta PackageMetadata
		if err := json.Unmarshal(data, &meta); err != nil {
			logging.Warn(indexSubsystem, "skipping malformed manifest %s: %v", manifestPath, err)
			continue
		}
		if meta.Type == "" {
			meta.Type = PackageMCP
		}
		out = append(out, meta)
	}
	return out, nil
}

// SearchQuery filters Search results; a zero value matches everything.
type SearchQuery struct {
	Text string
	Type PackageType
	Tags []string
}

// SearchResult annotates a matching package with its origin registry and
// installation status.
type SearchResult struct {
	PackageMetadata
	RegistryName     string `json:"registry_name"`
	Installed        bool   `json:"installed"`
	InstalledVersion string `json:"installed_version,omitempty"`
}

// Search filters the current snapshot by substring (name/description),
// type, and tag intersection, annotating each hit against installed.
func (idx *Index) Search(q SearchQuery, installed map[string]InstallationRecord) []SearchResult {
	idx.mu.RLock()
	defer idx.mu.RUnlock()

	var out []SearchResult
	text := strings.ToLower(q.Text)
	for regName, snap := range idx.doc.Registries {
		for _, pkg := range snap.Packages {
			if text != "" && !strings.Contains(strings.ToLower(pkg.Name), text) && !strings.Contains(strings.ToLower(pkg.Description), text) {
				continue
			}
			if q.Type != "" && pkg.Type != q.Type {
				continue
			}
			if len(q.Tags) > 0 && !hasAnyTag(pkg.Tags, q.Tags) {
				continue
			}
			res := SearchResult{PackageMetadata: pkg, RegistryName: regName}
			if rec, ok := installed[pkg.Name]; ok {
				res.Installed = true
				res.InstalledVersion = rec.Version
			}
			out = append(out, res)
		}
	}
	return out
}

func hasAnyTag(have, want []string) bool {
	set := make(map[string]bool, len(have))
	for _, t := range have {
		set[t] = true
	}
	for _, w := range want {
		if set[w] {
			return true
		}
	}
	return false
}

// GetPackage returns the first match across registries for name (and,
// optionally, an exact version); it never touches the network.
func (idx *Index) GetPackage(name, version string) (PackageMetadata, bool) {
	idx.mu.RLock()
	defer idx.mu.RUnlock()
	for _, snap := range idx.doc.Registries {
		for _, pkg := range snap.Packages {
			if pkg.Name != name {
				continue
			}
			if version != "" && pkg.Version != version {
				continue
			}
			return pkg, true
		}
	}
	return PackageMetadata{}, false
}

// GetPackageWithFailover tries the local snapshot first; on a miss, it
// performs a live per-registry search ordered by the Failover Manager.
func (idx *Index) GetPackageWithFailover(ctx context.Context, regs []RegistryConfig, name, version string) (PackageMetadata, error) {
	if pkg, ok := idx.GetPackage(name, version); ok {
		return pkg, nil
	}
	return ExecuteWithFailover(ctx, idx.fm, "get_package:"+name, regs, 15*time.Second, func(ctx context.Context, reg RegistryConfig) (PackageMetadata, error) {
		pkgs, err := idx.fetchRegistry(ctx, reg)
		if err != nil {
			return PackageMetadata{}, err
		}
		for _, pkg := range pkgs {
			if pkg.Name == name && (version == "" || pkg.Version == version) {
				return pkg, nil
			}
		}
		return PackageMetadata{}, fmt.Errorf("package %s not found in registry %s", name, reg.Name)
	})
}
