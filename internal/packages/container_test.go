package packages

import (
	"context"
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"skein/internal/registry"
)

// fakeDocker is an in-memory DockerClient double, letting container tests
// run without a real daemon.
type fakeDocker struct {
	mu         sync.Mutex
	images     map[string]bool
	running    map[string]string // name -> container id
	runCalls   []RunOptions
	mountsFor  map[string]map[string]string
	networkFor map[string]string
}

func newFakeDocker() *fakeDocker {
	return &fakeDocker{
		images:     make(map[string]bool),
		running:    make(map[string]string),
		mountsFor:  make(map[string]map[string]string),
		networkFor: make(map[string]string),
	}
}

func (f *fakeDocker) ImageExists(ctx context.Context, tag string) (bool, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.images[tag], nil
}

func (f *fakeDocker) Build(ctx context.Context, contextDir, dockerfile, tag string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.images[tag] = true
	return nil
}

func (f *fakeDocker) Run(ctx context.Context, name string, opts RunOptions) (string, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.runCalls = append(f.runCalls, opts)
	id := "c_" + name
	f.running[name] = id
	return id, nil
}

func (f *fakeDocker) Stop(ctx context.Context, name string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	delete(f.running, name)
	return nil
}

func (f *fakeDocker) Remove(ctx context.Context, name string) error { return nil }

func (f *fakeDocker) IsRunning(ctx context.Context, name string) (bool, string, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	id, ok := f.running[name]
	return ok, id, nil
}

func (f *fakeDocker) InspectMounts(ctx context.Context, name string) (map[string]string, error) {
	return f.mountsFor[name], nil
}

func (f *fakeDocker) NetworkOf(ctx context.Context, name string) (string, error) {
	return f.networkFor[name], nil
}

func testPackage(name string) PackageMetadata {
	return PackageMetadata{
		Name:    name,
		Version: "1.0.0",
		Type:    PackageMCP,
		Deployment: Deployment{
			Image: "example/" + name,
			Ports: []string{"8080:8080"},
		},
	}
}

func TestContainerManagerInstallRegistersEndpoint(t *testing.T) {
	docker := newFakeDocker()
	reg := registry.New()
	cm := NewContainerManager(docker, reg, t.TempDir())

	status, err := cm.Install(context.Background(), testPackage("widget"), nil, "")
	require.NoError(t, err)
	assert.Equal(t, InstallCreated, status)

	info, err := reg.Get("widget")
	require.NoError(t, err)
	assert.Equal(t, "http://mcp-widget:8080", info.Endpoint)
}

func TestContainerManagerHostNetworkEndpoint(t *testing.T) {
	docker := newFakeDocker()
	reg := registry.New()
	cm := NewContainerManager(docker, reg, t.TempDir())

	pkg := testPackage("hostmode")
	pkg.Deployment.NetworkMode = "host"

	_, err := cm.Install(context.Background(), pkg, nil, "")
	require.NoError(t, err)

	info, err := reg.Get("hostmode")
	require.NoError(t, err)
	assert.Equal(t, "http://host.docker.internal:8080", info.Endpoint)
}

func TestContainerManagerAlreadyInstalledIsNoop(t *testing.T) {
	docker := newFakeDocker()
	reg := registry.New()
	dir := t.TempDir()
	cm := NewContainerManager(docker, reg, dir)

	pkg := testPackage("widget")
	status, err := cm.Install(context.Background(), pkg, nil, "")
	require.NoError(t, err)
	require.Equal(t, InstallCreated, status)

	require.NoError(t, cm.state.mutate(func(doc *installedPackagesDoc) error {
		doc.Packages[pkg.Name] = InstallationRecord{Name: pkg.Name, Version: pkg.Version, Metadata: pkg}
		return nil
	}))

	status, err = cm.Install(context.Background(), pkg, nil, "")
	require.NoError(t, err)
	assert.Equal(t, InstallAlreadyPresent, status)
	assert.Len(t, docker.runCalls, 1, "no second container create for an already-installed version")
}

func TestContainerManagerReconcileAttachesRuntimeIDs(t *testing.T) {
	docker := newFakeDocker()
	reg := registry.New()
	dir := t.TempDir()
	cm := NewContainerManager(docker, reg, dir)

	pkg := testPackage("widget")
	require.NoError(t, cm.state.mutate(func(doc *installedPackagesDoc) error {
		doc.Packages[pkg.Name] = InstallationRecord{Name: pkg.Name, Version: pkg.Version, Metadata: pkg}
		return nil
	}))
	docker.running["mcp-widget"] = "abc123"

	require.NoError(t, cm.Reconcile(context.Background()))

	cm.mu.Lock()
	rec := cm.runtime["widget"]
	cm.mu.Unlock()
	assert.Equal(t, "abc123", rec.ContainerID)
	assert.Equal(t, "mcp-widget", rec.ContainerName)

	_, err := reg.Get("widget")
	assert.NoError(t, err, "reconcile re-registers the endpoint for running containers")
}

func TestContainerManagerReconcileClearsMissingContainers(t *testing.T) {
	docker := newFakeDocker()
	reg := registry.New()
	dir := t.TempDir()
	cm := NewContainerManager(docker, reg, dir)

	pkg := testPackage("ghost")
	require.NoError(t, cm.state.mutate(func(doc *installedPackagesDoc) error {
		doc.Packages[pkg.Name] = InstallationRecord{Name: pkg.Name, Version: pkg.Version, Metadata: pkg, ContainerID: "stale"}
		return nil
	}))

	require.NoError(t, cm.Reconcile(context.Background()))

	cm.mu.Lock()
	rec := cm.runtime["ghost"]
	cm.mu.Unlock()
	assert.Empty(t, rec.ContainerID, "a declared package with no running container clears its in-memory runtime fields")
}

func TestResolveEnvPlaceholderUsesDefaultWhenUnset(t *testing.T) {
	assert.Equal(t, "9000", resolveEnvPlaceholder("${DOES_NOT_EXIST:-9000}"))
}

func TestResolvePortsHonoursHostEnvOverride(t *testing.T) {
	t.Setenv("WIDGET_PORT", "9191")
	ports := resolvePorts([]string{"${WIDGET_PORT:-8080}:8080"})
	assert.Equal(t, []string{"9191:8080"}, ports)
}
