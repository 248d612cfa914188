package packages

import (
	"context"
	"encoding/json"
	"fmt"
	"os"
	"regexp"
	"strings"
	"sync"

	"skein/internal/registry"
	"skein/pkg/logging"
)

const containerSubsystem = "ContainerManager"

// InstallStatus reports what Install actually did.
type InstallStatus string

const (
	InstallCreated        InstallStatus = "created"
	InstallAlreadyPresent InstallStatus = "already_installed"
)

// ContainerManager translates PackageMetadata.Deployment into concrete
// containers and keeps InstallationRecord.ContainerID/ContainerName
// up to date in memory only, per §4.9.
type ContainerManager struct {
	docker   DockerClient
	registry *registry.Registry
	state    *stateStore

	mu      sync.Mutex
	runtime map[string]InstallationRecord // name -> record with live ContainerID/ContainerName
}

func NewContainerManager(docker DockerClient, reg *registry.Registry, baseDir string) *ContainerManager {
	return &ContainerManager{
		docker:   docker,
		registry: reg,
		state:    newStateStore(baseDir),
		runtime:  make(map[string]InstallationRecord),
	}
}

// resourceType maps a package type to the naming convention used for image
// tags and bootstrap matching: {resource-type}-{name}.
func resourceType(t PackageType) string {
	switch t {
	case PackageAgent:
		return "agent"
	case PackageTeam:
		return "team"
	case PackageTrigger:
		return "trigger"
	default:
		return "mcp"
	}
}

func containerNameFor(pkg PackageMetadata) string {
	if pkg.Deployment.ContainerName != "" {
		return pkg.Deployment.ContainerName
	}
	return fmt.Sprintf("%s-%s", resourceType(pkg.Type), strings.ReplaceAll(pkg.Name, "_", "-"))
}

func imageTagFor(pkg PackageMetadata) string {
	return fmt.Sprintf("%s-%s:%s", resourceType(pkg.Type), pkg.Name, pkg.Version)
}

// Install creates (or, if already installed at the same version, no-ops)
// the container for pkg. userConfig supplies trigger packages' workflow_id/
// team_id; network overrides the auto-detected network when non-empty.
func (m *ContainerManager) Install(ctx context.Context, pkg PackageMetadata, userConfig map[string]string, network string) (InstallStatus, error) {
	name := containerNameFor(pkg)

	doc, err := m.state.load()
	if err != nil {
		return "", err
	}
	if existing, ok := doc.Packages[pkg.Name]; ok && existing.Version == pkg.Version {
		return InstallAlreadyPresent, nil
	}

	if pkg.Deployment.Build != nil {
		tag := imageTagFor(pkg)
		exists, err := m.docker.ImageExists(ctx, tag)
		if err != nil {
			return "", err
		}
		if !exists {
			if err := m.docker.Build(ctx, pkg.Deployment.Build.Context, pkg.Deployment.Build.Dockerfile, tag); err != nil {
				return "", err
			}
		}
	}

	_ = m.docker.Stop(ctx, name)
	_ = m.docker.Remove(ctx, name)

	net := network
	if net == "" {
		net = m.detectNetwork(ctx, pkg.Deployment.NetworkMode)
	}

	env := resolveEnvironment(pkg.Deployment.Environment, userConfig)
	opts := RunOptions{
		Image:       resolveImage(pkg),
		Network:     net,
		Ports:       resolvePorts(pkg.Deployment.Ports),
		Volumes:     m.resolveVolumes(ctx, pkg.Deployment.Volumes),
		Environment: env,
		CapAdd:      pkg.Deployment.CapAdd,
		Restart:     pkg.Deployment.Restart,
	}

	id, err := m.docker.Run(ctx, name, opts)
	if err != nil {
		return "", err
	}

	rec := InstallationRecord{
		Name:          pkg.Name,
		Version:       pkg.Version,
		InstalledFrom: "registry",
		Metadata:      pkg,
		ContainerID:   id,
		ContainerName: name,
	}

	m.mu.Lock()
	m.runtime[pkg.Name] = rec
	m.mu.Unlock()

	port := firstContainerPort(pkg.Deployment.Ports)
	endpoint := m.endpointFor(pkg.Deployment.NetworkMode, name, port)
	m.registry.Register(registry.ToolServerInfo{Name: pkg.Name, Endpoint: endpoint, Description: pkg.Description, Version: pkg.Version})

	return InstallCreated, nil
}

// endpointFor derives the HTTP endpoint a tool server is reachable at, per
// §4.9's network endpoint derivation rule.
func (m *ContainerManager) endpointFor(networkMode, containerName string, port string) string {
	if networkMode == "host" {
		return fmt.Sprintf("http://host.docker.internal:%s", port)
	}
	return fmt.Sprintf("http://%s:%s", containerName, port)
}

func (m *ContainerManager) detectNetwork(ctx context.Context, mode string) string {
	if mode == "host" {
		return "host"
	}
	if net := os.Getenv("MCP_NETWORK"); net != "" {
		return net
	}
	if self, err := os.Hostname(); err == nil {
		if net, err := m.docker.NetworkOf(ctx, self); err == nil && net != "" {
			return net
		}
	}
	return "bridge"
}

// resolveVolumes translates container-internal host-mount paths declared
// in the manifest into real host paths by inspecting this orchestrator's
// own mounts: a container-create call issued to a Docker daemon over a
// socket must use host-rooted source paths, even when the orchestrator
// itself only sees the container-internal view.
func (m *ContainerManager) resolveVolumes(ctx context.Context, declared []string) []string {
	self, err := os.Hostname()
	if err != nil {
		return declared
	}
	mounts, err := m.docker.InspectMounts(ctx, self)
	if err != nil || len(mounts) == 0 {
		return declared
	}
	out := make([]string, 0, len(declared))
	for _, v := range declared {
		parts := strings.SplitN(v, ":", 2)
		if len(parts) != 2 {
			out = append(out, v)
			continue
		}
		containerSide, dest := parts[0], parts[1]
		if hostPath, ok := mounts[containerSide]; ok {
			out = append(out, hostPath+":"+dest)
			continue
		}
		out = append(out, v)
	}
	return out
}

func resolveImage(pkg PackageMetadata) string {
	if pkg.Deployment.Image != "" {
		return pkg.Deployment.Image
	}
	return imageTagFor(pkg)
}

// resolvePorts resolves "${VAR:-default}"-style placeholders embedded in a
// port mapping against the process environment.
func resolvePorts(ports []string) []string {
	out := make([]string, len(ports))
	for i, p := range ports {
		out[i] = resolveEnvPlaceholder(p)
	}
	return out
}

func resolveEnvironment(declared map[string]string, userConfig map[string]string) map[string]string {
	out := make(map[string]string, len(declared)+len(userConfig)+2)
	for k, v := range declared {
		out[k] = resolveEnvPlaceholder(v)
	}
	for k, v := range userConfig {
		out[k] = v
	}
	if url := os.Getenv("ORCHESTRATOR_URL"); url != "" {
		out["ORCHESTRATOR_URL"] = url
	}
	if ws := os.Getenv("ORCHESTRATOR_WS"); ws != "" {
		out["ORCHESTRATOR_WS"] = ws
	}
	return out
}

var envPlaceholderPattern = regexp.MustCompile(`\$\{([^}]+)\}`)

// resolveEnvPlaceholder expands every "${VAR:-default}" placeholder in s
// against the environment, leaving the surrounding text untouched. A
// placeholder without a default whose variable is unset stays as written.
func resolveEnvPlaceholder(s string) string {
	return envPlaceholderPattern.ReplaceAllStringFunc(s, func(m string) string {
		name, def, hasDefault := strings.Cut(m[2:len(m)-1], ":-")
		if v, ok := os.LookupEnv(name); ok && v != "" {
			return v
		}
		if hasDefault {
			return def
		}
		return m
	})
}

func firstContainerPort(ports []string) string {
	if len(ports) == 0 {
		return ""
	}
	resolved := resolveEnvPlaceholder(ports[0])
	parts := strings.SplitN(resolved, ":", 2)
	if len(parts) == 2 {
		return parts[1]
	}
	return parts[0]
}

// Uninstall stops and removes the container and drops its in-memory
// runtime record. It leaves the declared-state file alone (the Registry
// Service deletes the declared record) and does not enforce the
// reverse-dependency check — that is the Registry Service's responsibility.
func (m *ContainerManager) Uninstall(ctx context.Context, name string) error {
	cname := m.containerName(name)
	_ = m.docker.Stop(ctx, cname)
	if err := m.docker.Remove(ctx, cname); err != nil {
		logging.Warn(containerSubsystem, "remove %s: %v", cname, err)
	}
	m.mu.Lock()
	delete(m.runtime, name)
	m.mu.Unlock()
	return nil
}

func (m *ContainerManager) containerName(pkgName string) string {
	m.mu.Lock()
	defer m.mu.Unlock()
	if rec, ok := m.runtime[pkgName]; ok && rec.ContainerName != "" {
		return rec.ContainerName
	}
	return pkgName
}

// Start addresses a container by package name, reconstructing it from the
// declared record when the daemon does not currently have it (e.g. after a
// reset): prefer the existing local image, else rebuild, else fail.
func (m *ContainerManager) Start(ctx context.Context, pkgName string) error {
	doc, err := m.state.load()
	if err != nil {
		return err
	}
	rec, ok := doc.Packages[pkgName]
	if !ok {
		return fmt.Errorf("package %s is not installed", pkgName)
	}
	name := containerNameFor(rec.Metadata)
	running, _, err := m.docker.IsRunning(ctx, name)
	if err != nil {
		return err
	}
	if running {
		return nil
	}

	tag := imageTagFor(rec.Metadata)
	if exists, err := m.docker.ImageExists(ctx, tag); err == nil && !exists {
		if rec.Metadata.Deployment.Build == nil {
			return fmt.Errorf("container %s missing and no build context to recreate it", name)
		}
		if err := m.docker.Build(ctx, rec.Metadata.Deployment.Build.Context, rec.Metadata.Deployment.Build.Dockerfile, tag); err != nil {
			return err
		}
	}

	net := m.detectNetwork(ctx, rec.Metadata.Deployment.NetworkMode)
	opts := RunOptions{
		Image:       resolveImage(rec.Metadata),
		Network:     net,
		Ports:       resolvePorts(rec.Metadata.Deployment.Ports),
		Volumes:     m.resolveVolumes(ctx, rec.Metadata.Deployment.Volumes),
		Environment: resolveEnvironment(rec.Metadata.Deployment.Environment, nil),
		CapAdd:      rec.Metadata.Deployment.CapAdd,
		Restart:     rec.Metadata.Deployment.Restart,
	}
	id, err := m.docker.Run(ctx, name, opts)
	if err != nil {
		return err
	}
	rec.ContainerID, rec.ContainerName = id, name
	m.mu.Lock()
	m.runtime[pkgName] = rec
	m.mu.Unlock()
	return nil
}

func (m *ContainerManager) Stop(ctx context.Context, pkgName string) error {
	return m.docker.Stop(ctx, m.containerName(pkgName))
}

func (m *ContainerManager) Restart(ctx context.Context, pkgName string) error {
	if err := m.Stop(ctx, pkgName); err != nil {
		return err
	}
	return m.Start(ctx, pkgName)
}

// Reconcile queries the runtime for every declared package at process
// start, attaching observed container ids to the in-memory record only.
// The declarative file is never touched here.
func (m *ContainerManager) Reconcile(ctx context.Context) error {
	doc, err := m.state.load()
	if err != nil {
		return err
	}
	m.mu.Lock()
	defer m.mu.Unlock()

	for pkgName, rec := range doc.Packages {
		name := containerNameFor(rec.Metadata)
		running, id, err := m.docker.IsRunning(ctx, name)
		if err != nil {
			logging.Warn(containerSubsystem, "reconcile %s: %v", name, err)
			continue
		}
		if running {
			rec.ContainerID, rec.ContainerName = id, name
			m.runtime[pkgName] = rec
			port := firstContainerPort(rec.Metadata.Deployment.Ports)
			endpoint := m.endpointFor(rec.Metadata.Deployment.NetworkMode, name, port)
			m.registry.Register(registry.ToolServerInfo{Name: pkgName, Endpoint: endpoint, Description: rec.Metadata.Description, Version: rec.Metadata.Version})
		} else {
			rec.ContainerID, rec.ContainerName = "", ""
			m.runtime[pkgName] = rec
			logging.Warn(containerSubsystem, "declared package %s has no running container", pkgName)
		}
	}
	return nil
}

// Bootstrap recreates the declared-state file from a companion
// installed-packages.json when the internal one is absent, matching
// declared names to running containers by the {resource-type}-{name}
// convention and writing the reconstructed state.
func (m *ContainerManager) Bootstrap(ctx context.Context, companionPath string) error {
	if _, err := os.Stat(m.state.path); err == nil {
		return nil // internal state already present, nothing to bootstrap
	}
	data, err := os.ReadFile(companionPath)
	if err != nil {
		if os.IsNotExist(err) {
			return nil
		}
		return fmt.Errorf("read companion state %s: %w", companionPath, err)
	}
	var companion installedPackagesDoc
	if err := json.Unmarshal(data, &companion); err != nil {
		return fmt.Errorf("parse companion state %s: %w", companionPath, err)
	}

	return m.state.mutate(func(doc *installedPackagesDoc) error {
		for pkgName, rec := range companion.Packages {
			name := fmt.Sprintf("%s-%s", resourceType(rec.Metadata.Type), strings.ReplaceAll(pkgName, "_", "-"))
			if running, id, err := m.docker.IsRunning(ctx, name); err == nil && running {
				rec.ContainerID, rec.ContainerName = id, name
			}
			doc.Packages[pkgName] = rec
		}
		return nil
	})
}
