package workflow

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"regexp"
	"strings"
	"sync"

	"github.com/fsnotify/fsnotify"

	"skein/pkg/logging"
)

const loaderSubsystem = "Engine"

// Loader reads workflow documents from a templates/custom directory
// layout — "templates" ships with the distribution, "custom" holds
// operator-authored overrides and additions, both matched by slug-
// normalised filename. Documents are cached in memory and invalidated by
// an fsnotify watcher so edits on disk take effect without a restart.
type Loader struct {
	templatesDir string
	customDir    string

	mu    sync.RWMutex
	cache map[string]*Definition

	watcher *fsnotify.Watcher
}

var slugPattern = regexp.MustCompile(`[^a-z0-9]+`)

// Slug normalises a workflow name into the filename convention the loader
// expects: lowercase, non-alphanumeric runs collapsed to a single hyphen.
func Slug(name string) string {
	s := strings.ToLower(name)
	s = slugPattern.ReplaceAllString(s, "-")
	return strings.Trim(s, "-")
}

// NewLoader constructs a loader rooted at baseDir/workflows/{templates,custom}.
func NewLoader(baseDir string) *Loader {
	return &Loader{
		templatesDir: filepath.Join(baseDir, "workflows", "templates"),
		customDir:    filepath.Join(baseDir, "workflows", "custom"),
		cache:        make(map[string]*Definition),
	}
}

// Load reads a workflow by name, preferring a custom override over the
// shipped template, validates its structural invariants, and caches it.
func (l *Loader) Load(name string) (*Definition, error) {
	slug := Slug(name)

	l.mu.RLock()
	if def, ok := l.cache[slug]; ok {
		l.mu.RUnlock()
		return def, nil
	}
	l.mu.RUnlock()

	path, err := l.resolvePath(slug)
	if err != nil {
		return nil, err
	}

	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("reading workflow %q: %w", name, err)
	}

	var def Definition
	if err := json.Unmarshal(data, &def); err != nil {
		return nil, fmt.Errorf("parsing workflow %q: %w", name, err)
	}
	if err := validateStructure(&def); err != nil {
		return nil, fmt.Errorf("invalid workflow %q: %w", name, err)
	}

	l.mu.Lock()
	l.cache[slug] = &def
	l.mu.Unlock()
	return &def, nil
}

func (l *Loader) resolvePath(slug string) (string, error) {
	customPath := filepath.Join(l.customDir, slug+".json")
	if _, err := os.Stat(customPath); err == nil {
		return customPath, nil
	}
	templatePath := filepath.Join(l.templatesDir, slug+".json")
	if _, err := os.Stat(templatePath); err == nil {
		return templatePath, nil
	}
	return "", fmt.Errorf("workflow %q not found in custom or templates directory", slug)
}

// List enumerates every workflow name available across both directories,
// custom overrides taking precedence over same-named templates.
func (l *Loader) List() ([]string, error) {
	seen := make(map[string]bool)
	var names []string
	for _, dir := range []string{l.customDir, l.templatesDir} {
		entries, err := os.ReadDir(dir)
		if err != nil {
			if os.IsNotExist(err) {
				continue
			}
			return nil, err
		}
		for _, e := range entries {
			if e.IsDir() || !strings.HasSuffix(e.Name(), ".json") {
				continue
			}
			slug := strings.TrimSuffix(e.Name(), ".json")
			if seen[slug] {
				continue
			}
			seen[slug] = true
			names = append(names, slug)
		}
	}
	return names, nil
}

// WatchForChanges starts an fsnotify watcher over both directories and
// evicts cache entries on write/remove/rename so the next Load picks up
// the change from disk. Call Close to stop watching.
func (l *Loader) WatchForChanges() error {
	w, err := fsnotify.NewWatcher()
	if err != nil {
		return fmt.Errorf("starting workflow watcher: %w", err)
	}
	for _, dir := range []string{l.templatesDir, l.customDir} {
		if _, err := os.Stat(dir); err != nil {
			continue
		}
		if err := w.Add(dir); err != nil {
			logging.Warn(loaderSubsystem, "could not watch %s: %v", dir, err)
		}
	}
	l.watcher = w

	go func() {
		for {
			select {
			case ev, ok := <-w.Events:
				if !ok {
					return
				}
				l.invalidate(ev.Name)
			case err, ok := <-w.Errors:
				if !ok {
					return
				}
				logging.Warn(loaderSubsystem, "workflow watcher error: %v", err)
			}
		}
	}()
	return nil
}

func (l *Loader) invalidate(path string) {
	base := filepath.Base(path)
	slug := strings.TrimSuffix(base, ".json")
	l.mu.Lock()
	delete(l.cache, slug)
	l.mu.Unlock()
	logging.Debug(loaderSubsystem, "invalidated cached workflow %q after filesystem change", slug)
}

// Close stops the filesystem watcher, if one was started.
func (l *Loader) Close() error {
	if l.watcher != nil {
		return l.watcher.Close()
	}
	return nil
}
