package packages

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"skein/internal/apierrors"
)

func req(name, version string, required bool) DependencyRef {
	r := required
	return DependencyRef{Name: name, Version: version, Required: &r}
}

func TestResolverDependencyFirstOrder(t *testing.T) {
	fm := NewFailoverManager()
	idx := NewIndex(t.TempDir(), fm)
	idx.doc.Registries["local"] = registrySnapshot{Packages: []PackageMetadata{
		{Name: "base", Version: "1.0.0", Dependencies: Dependencies{}},
		{Name: "middle", Version: "1.0.0", Dependencies: Dependencies{MCPs: []DependencyRef{req("base", "1.0.0", true)}}},
	}}

	root := PackageMetadata{Name: "top", Version: "1.0.0", Dependencies: Dependencies{MCPs: []DependencyRef{req("middle", "1.0.0", true)}}}

	resolver := NewResolver(idx)
	order, err := resolver.Resolve(root, nil)
	require.NoError(t, err)
	require.Len(t, order, 2)
	assert.Equal(t, "base", order[0].Name, "base must install before middle")
	assert.Equal(t, "middle", order[1].Name)
}

func TestResolverCycleDetection(t *testing.T) {
	fm := NewFailoverManager()
	idx := NewIndex(t.TempDir(), fm)
	idx.doc.Registries["local"] = registrySnapshot{Packages: []PackageMetadata{
		{Name: "a", Version: "1.0.0", Dependencies: Dependencies{MCPs: []DependencyRef{req("b", "1.0.0", true)}}},
		{Name: "b", Version: "1.0.0", Dependencies: Dependencies{MCPs: []DependencyRef{req("a", "1.0.0", true)}}},
	}}

	root, _ := idx.GetPackage("a", "1.0.0")
	resolver := NewResolver(idx)
	_, err := resolver.Resolve(root, nil)
	require.Error(t, err)
	var cycleErr *apierrors.CircularDependencyError
	assert.ErrorAs(t, err, &cycleErr)
}

func TestResolverMissingRequiredDependency(t *testing.T) {
	idx := NewIndex(t.TempDir(), NewFailoverManager())
	root := PackageMetadata{Name: "top", Version: "1.0.0", Dependencies: Dependencies{MCPs: []DependencyRef{req("missing", "1.0.0", true)}}}

	resolver := NewResolver(idx)
	_, err := resolver.Resolve(root, nil)
	require.Error(t, err)
	var notFound *apierrors.DependencyNotFoundError
	assert.ErrorAs(t, err, &notFound)
}

func TestResolverSkipsMissingOptionalDependency(t *testing.T) {
	idx := NewIndex(t.TempDir(), NewFailoverManager())
	root := PackageMetadata{Name: "top", Version: "1.0.0", Dependencies: Dependencies{MCPs: []DependencyRef{req("missing-optional", "1.0.0", false)}}}

	resolver := NewResolver(idx)
	order, err := resolver.Resolve(root, nil)
	require.NoError(t, err)
	assert.Empty(t, order)
}

func TestResolverPrefersInstalledOverIndex(t *testing.T) {
	idx := NewIndex(t.TempDir(), NewFailoverManager())
	idx.doc.Registries["local"] = registrySnapshot{Packages: []PackageMetadata{
		{Name: "base", Version: "2.0.0"},
	}}
	installed := map[string]InstallationRecord{
		"base": {Name: "base", Version: "1.0.0", Metadata: PackageMetadata{Name: "base", Version: "1.0.0"}},
	}
	root := PackageMetadata{Name: "top", Version: "1.0.0", Dependencies: Dependencies{MCPs: []DependencyRef{req("base", "1.0.0", true)}}}

	resolver := NewResolver(idx)
	order, err := resolver.Resolve(root, installed)
	require.NoError(t, err)
	require.Len(t, order, 1)
	assert.Equal(t, "1.0.0", order[0].Version)
}
