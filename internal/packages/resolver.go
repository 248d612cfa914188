package packages

import (
	"fmt"

	"skein/internal/apierrors"
)

// Resolver computes the transitive closure of dependencies a package
// installation needs, in dependency-first order, per §4.5.
type Resolver struct {
	index *Index
}

func NewResolver(index *Index) *Resolver {
	return &Resolver{index: index}
}

// Resolve walks root's declared dependencies depth-first, consulting
// installed first and falling back to the index for an exact name@version
// match. It returns the dependency closure (root excluded) in
// dependency-first, deduplicated order.
func (r *Resolver) Resolve(root PackageMetadata, installed map[string]InstallationRecord) ([]PackageMetadata, error) {
	visited := make(map[string]bool)
	var order []PackageMetadata
	seen := make(map[string]bool)

	var walk func(pkg PackageMetadata, chain []string) error
	walk = func(pkg PackageMetadata, chain []string) error {
		key := pkg.Key()
		if visited[key] {
			return &apierrors.CircularDependencyError{Chain: append(append([]string{}, chain...), key)}
		}
		visited[key] = true
		defer delete(visited, key)

		for _, dep := range pkg.Dependencies.All() {
			depKey := dep.Name + "@" + dep.Version
			resolved, err := r.resolveOne(dep, installed)
			if err != nil {
				if !dep.IsRequired() {
					continue
				}
				return err
			}
			if err := walk(resolved, append(chain, key)); err != nil {
				return err
			}
			if !seen[depKey] {
				seen[depKey] = true
				order = append(order, resolved)
			}
		}
		return nil
	}

	if err := walk(root, nil); err != nil {
		return nil, err
	}
	return order, nil
}

func (r *Resolver) resolveOne(dep DependencyRef, installed map[string]InstallationRecord) (PackageMetadata, error) {
	if rec, ok := installed[dep.Name]; ok && rec.Version == dep.Version {
		return rec.Metadata, nil
	}
	if pkg, ok := r.index.GetPackage(dep.Name, dep.Version); ok {
		return pkg, nil
	}
	if !dep.IsRequired() {
		return PackageMetadata{}, fmt.Errorf("optional dependency %s@%s not found", dep.Name, dep.Version)
	}
	return PackageMetadata{}, &apierrors.DependencyNotFoundError{Name: dep.Name, Version: dep.Version}
}
