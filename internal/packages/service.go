package packages

import (
	"context"
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"sync"
	"time"

	"skein/internal/registry"
	"skein/pkg/logging"
)

const serviceSubsystem = "RegistryService"

// Service composes the Package Index, Dependency Resolver, Failover
// Manager, Transaction Log and Container Manager behind the user-facing
// install/update/remove/rollback operations, per §4.10.
type Service struct {
	baseDir  string
	regs     []RegistryConfig
	index    *Index
	resolver *Resolver
	failover *FailoverManager
	txlog    *TransactionLog
	state    *stateStore
	children *ContainerManager

	installMu sync.Mutex // short critical section serialising same-package installs
}

// NewService wires every collaborator from baseDir's configs/registries.conf
// and configs/installed-packages.json.
func NewService(baseDir string, reg *registry.Registry, docker DockerClient) (*Service, error) {
	regs, err := LoadRegistryConfigs(filepath.Join(baseDir, "configs", "registries.conf"))
	if err != nil {
		return nil, err
	}
	fm := NewFailoverManager()
	idx := NewIndex(baseDir, fm)
	return &Service{
		baseDir:  baseDir,
		regs:     regs,
		index:    idx,
		resolver: NewResolver(idx),
		failover: fm,
		txlog:    NewTransactionLog(baseDir),
		state:    newStateStore(baseDir),
		children: NewContainerManager(docker, reg, baseDir),
	}, nil
}

// Container exposes the composed Container Manager for the daemon's
// startup reconciliation (internal/app).
func (s *Service) Container() *ContainerManager { return s.children }

func (s *Service) installedRecords() (map[string]InstallationRecord, error) {
	doc, err := s.state.load()
	if err != nil {
		return nil, err
	}
	return doc.Packages, nil
}

// RefreshIndex updates the package index from every enabled registry (or
// just `only`, if non-empty).
func (s *Service) RefreshIndex(ctx context.Context, only string) error {
	return s.index.Refresh(ctx, s.regs, only)
}

// Search filters the current index snapshot, annotating installed status.
func (s *Service) Search(q SearchQuery) ([]SearchResult, error) {
	installed, err := s.installedRecords()
	if err != nil {
		return nil, err
	}
	return s.index.Search(q, installed), nil
}

// InstallOptions configures one Install call.
type InstallOptions struct {
	Version    string
	LocalPath  string            // air-gapped mode: read a local mcp.json instead of the index
	UserConfig map[string]string // trigger packages' workflow_id/team_id
	Network    string
	NoRollback bool
}

// Install resolves pkg's metadata, snapshots state for rollback, installs
// its dependency closure and then itself, rolling back on any failure.
func (s *Service) Install(ctx context.Context, name string, opts InstallOptions) (*TransactionRecord, error) {
	s.installMu.Lock()
	defer s.installMu.Unlock()

	var pkg PackageMetadata
	var err error
	if opts.LocalPath != "" {
		pkg, err = readLocalManifest(opts.LocalPath)
	} else {
		pkg, err = s.index.GetPackageWithFailover(ctx, s.regs, name, opts.Version)
	}
	if err != nil {
		return nil, err
	}

	if reg := s.registryOf(pkg); reg != nil {
		manifest, _ := json.Marshal(pkg)
		if err := VerifySignature(*reg, pkg, manifest); err != nil {
			return nil, err
		}
	}

	tx := CreateTransaction(OpInstall, pkg.Name, pkg.Version)
	if err := s.txlog.Log(tx); err != nil {
		return nil, err
	}
	tx.Status = TxInProgress
	_ = s.txlog.Log(tx)

	var backup *BackupState
	if !opts.NoRollback {
		b, err := s.snapshotBackup()
		if err != nil {
			return nil, err
		}
		backup = b
		tx.BackupState = backup
	}

	installed, err := s.installedRecords()
	if err != nil {
		return s.fail(tx, backup, err)
	}

	deps, err := s.resolver.Resolve(pkg, installed)
	if err != nil {
		return s.fail(tx, backup, err)
	}

	for _, dep := range deps {
		if _, err := s.children.Install(ctx, dep, nil, opts.Network); err != nil {
			return s.fail(tx, backup, err)
		}
		if err := s.recordInstalled(dep, tx.ID); err != nil {
			return s.fail(tx, backup, err)
		}
		tx.DependenciesInstalled = append(tx.DependenciesInstalled, dep.Key())
	}

	if _, err := s.children.Install(ctx, pkg, opts.UserConfig, opts.Network); err != nil {
		return s.fail(tx, backup, err)
	}
	if err := s.recordInstalled(pkg, tx.ID); err != nil {
		return s.fail(tx, backup, err)
	}

	tx.Status = TxCompleted
	now := time.Now().UTC()
	tx.CompletedAt = &now
	if err := s.txlog.Log(tx); err != nil {
		logging.Warn(serviceSubsystem, "log completed transaction %s: %v", tx.ID, err)
	}
	return &tx, nil
}

func (s *Service) recordInstalled(pkg PackageMetadata, txID string) error {
	return s.state.mutate(func(doc *installedPackagesDoc) error {
		doc.Packages[pkg.Name] = InstallationRecord{
			Name:          pkg.Name,
			Version:       pkg.Version,
			InstalledAt:   time.Now().UTC(),
			InstalledFrom: "registry",
			TransactionID: txID,
			Metadata:      pkg,
		}
		return nil
	})
}

// Update rebuilds and recreates the container for an already-installed
// package at a new version, following the same snapshot/rollback shape as
// Install.
func (s *Service) Update(ctx context.Context, name string, opts InstallOptions) (*TransactionRecord, error) {
	s.installMu.Lock()
	defer s.installMu.Unlock()

	pkg, err := s.index.GetPackageWithFailover(ctx, s.regs, name, opts.Version)
	if err != nil {
		return nil, err
	}

	tx := CreateTransaction(OpUpdate, pkg.Name, pkg.Version)
	_ = s.txlog.Log(tx)
	tx.Status = TxInProgress
	_ = s.txlog.Log(tx)

	var backup *BackupState
	if !opts.NoRollback {
		b, err := s.snapshotBackup()
		if err != nil {
			return nil, err
		}
		backup = b
		tx.BackupState = backup
	}

	if _, err := s.children.Install(ctx, pkg, opts.UserConfig, opts.Network); err != nil {
		return s.fail(tx, backup, err)
	}
	if err := s.recordInstalled(pkg, tx.ID); err != nil {
		return s.fail(tx, backup, err)
	}

	tx.Status = TxCompleted
	now := time.Now().UTC()
	tx.CompletedAt = &now
	_ = s.txlog.Log(tx)
	return &tx, nil
}

// Remove uninstalls a package, refusing when another installed package
// depends on it unless force is set.
func (s *Service) Remove(ctx context.Context, name string, force bool) (*TransactionRecord, error) {
	s.installMu.Lock()
	defer s.installMu.Unlock()

	installed, err := s.installedRecords()
	if err != nil {
		return nil, err
	}
	rec, ok := installed[name]
	if !ok {
		return nil, fmt.Errorf("package %s is not installed", name)
	}
	if !force {
		for other, orec := range installed {
			if other == name {
				continue
			}
			for _, dep := range orec.Metadata.Dependencies.All() {
				if dep.Name == name {
					return nil, fmt.Errorf("package %s depends on %s; pass force to remove anyway", other, name)
				}
			}
		}
	}

	tx := CreateTransaction(OpRemove, name, rec.Version)
	_ = s.txlog.Log(tx)
	tx.Status = TxInProgress
	_ = s.txlog.Log(tx)

	backup, err := s.snapshotBackup()
	if err != nil {
		return nil, err
	}
	tx.BackupState = backup

	if err := s.children.Uninstall(ctx, name); err != nil {
		return s.fail(tx, backup, err)
	}
	if err := s.state.mutate(func(doc *installedPackagesDoc) error {
		delete(doc.Packages, name)
		return nil
	}); err != nil {
		return s.fail(tx, backup, err)
	}

	tx.Status = TxCompleted
	now := time.Now().UTC()
	tx.CompletedAt = &now
	_ = s.txlog.Log(tx)
	return &tx, nil
}

// Rollback restores backup, rewriting the declared-state file and then
// starting/stopping each previously-recorded container back to its prior
// run state.
func (s *Service) Rollback(ctx context.Context, backup *BackupState) error {
	if backup == nil {
		return fmt.Errorf("transaction carries no backup state to roll back to")
	}
	if err := s.state.mutate(func(doc *installedPackagesDoc) error {
		*doc = backup.DeclaredState
		return nil
	}); err != nil {
		return err
	}
	for pkgName, rec := range backup.DeclaredState.Packages {
		wantRunning, tracked := backup.ContainerRunStates[rec.ContainerID]
		if !tracked {
			continue
		}
		if wantRunning {
			if err := s.children.Start(ctx, pkgName); err != nil {
				logging.Warn(serviceSubsystem, "rollback: restart %s: %v", pkgName, err)
			}
		} else {
			if err := s.children.Stop(ctx, pkgName); err != nil {
				logging.Warn(serviceSubsystem, "rollback: stop %s: %v", pkgName, err)
			}
		}
	}
	return nil
}

func (s *Service) fail(tx TransactionRecord, backup *BackupState, cause error) (*TransactionRecord, error) {
	logging.Error(serviceSubsystem, cause, "transaction %s failed, rolling back", tx.ID)
	if backup != nil {
		if err := s.Rollback(context.Background(), backup); err != nil {
			logging.Error(serviceSubsystem, err, "rollback of transaction %s also failed", tx.ID)
		}
	}
	tx.Status = TxRolledBack
	tx.Error = cause.Error()
	now := time.Now().UTC()
	tx.CompletedAt = &now
	_ = s.txlog.Log(tx)
	return nil, cause
}

func (s *Service) snapshotBackup() (*BackupState, error) {
	doc, err := s.state.load()
	if err != nil {
		return nil, err
	}
	// Container ids are never persisted; take them from the Container
	// Manager's in-memory runtime records.
	s.children.mu.Lock()
	for name, rec := range doc.Packages {
		if rt, ok := s.children.runtime[name]; ok {
			rec.ContainerID, rec.ContainerName = rt.ContainerID, rt.ContainerName
			doc.Packages[name] = rec
		}
	}
	s.children.mu.Unlock()
	ids := make([]string, 0, len(doc.Packages))
	states := make(map[string]bool, len(doc.Packages))
	for _, rec := range doc.Packages {
		if rec.ContainerID == "" {
			continue
		}
		ids = append(ids, rec.ContainerID)
		running, _, _ := s.children.docker.IsRunning(context.Background(), rec.ContainerName)
		states[rec.ContainerID] = running
	}
	return &BackupState{DeclaredState: doc, ContainerIDs: ids, ContainerRunStates: states}, nil
}

func (s *Service) registryOf(pkg PackageMetadata) *RegistryConfig {
	for _, res := range s.index.Search(SearchQuery{}, nil) {
		if res.Name != pkg.Name || res.Version != pkg.Version {
			continue
		}
		for i := range s.regs {
			if s.regs[i].Name == res.RegistryName {
				return &s.regs[i]
			}
		}
	}
	return nil
}

// InstallFromLocalPath installs an air-gapped package whose manifest lives
// on the local filesystem rather than a registry.
func (s *Service) InstallFromLocalPath(ctx context.Context, path string, opts InstallOptions) (*TransactionRecord, error) {
	opts.LocalPath = path
	pkg, err := readLocalManifest(path)
	if err != nil {
		return nil, err
	}
	return s.Install(ctx, pkg.Name, opts)
}

// DiscoverLocalPackages scans dir for mcp.json-bearing subdirectories not
// yet installed, for an operator to choose from before calling
// InstallFromLocalPath.
func (s *Service) DiscoverLocalPackages(dir string) ([]PackageMetadata, error) {
	installed, err := s.installedRecords()
	if err != nil {
		return nil, err
	}
	pkgs, err := scanLocalRegistry(dir)
	if err != nil {
		return nil, err
	}
	var out []PackageMetadata
	for _, p := range pkgs {
		if _, ok := installed[p.Name]; !ok {
			out = append(out, p)
		}
	}
	return out, nil
}

func readLocalManifest(path string) (PackageMetadata, error) {
	manifestPath := path
	if info, err := os.Stat(path); err == nil && info.IsDir() {
		manifestPath = filepath.Join(path, "mcp.json")
	}
	data, err := os.ReadFile(manifestPath)
	if err != nil {
		return PackageMetadata{}, fmt.Errorf("read local manifest %s: %w", manifestPath, err)
	}
	var pkg PackageMetadata
	if err := json.Unmarshal(data, &pkg); err != nil {
		return PackageMetadata{}, fmt.Errorf("parse local manifest %s: %w", manifestPath, err)
	}
	if pkg.Type == "" {
		pkg.Type = PackageMCP
	}
	return pkg, nil
}

// CompactTransactionLog rewrites the transaction log keeping the latest
// record per package plus keepHistory overall entries.
func (s *Service) CompactTransactionLog(keepHistory int) error {
	return s.txlog.Compact(keepHistory)
}
