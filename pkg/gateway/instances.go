package gateway

import (
	"context"
	"crypto/rand"
	"encoding/hex"
	"fmt"
	"log/slog"
	"net/url"
	"sync"
	"time"

	"github.com/crypdick/pynchy/pkg/config"
	"github.com/crypdick/pynchy/pkg/containerrt"
)

// Instance is one running MCP server backend, scoped to a single workspace folder. Most MCP
// servers declared with a remote BackendURL have no container of their own — InstanceManager
// only spawns a container for servers configured with an Image.
type Instance struct {
	ID           string
	ServerName   string
	Folder       string
	BackendURL   *url.URL
	PublicSource bool

	containerName string
}

// InstanceManager implements spec.md §4.6's MCP instance lifecycle: lazy, on-demand startup
// of one instance per (workspace, server) pair, reused across calls until the workspace's
// container session ends.
type InstanceManager struct {
	rt      *containerrt.Runtime
	servers map[string]config.MCPServerConfig
	network string

	mu        sync.Mutex
	instances map[string]*Instance // "folder:serverName" -> Instance
	basePort  int
}

// NewInstanceManager builds a manager over the `[mcp_servers.*]` registry. rt may be nil if
// every configured server is remote (BackendURL only, no Image to run).
func NewInstanceManager(rt *containerrt.Runtime, servers map[string]config.MCPServerConfig, network string, basePort int) *InstanceManager {
	return &InstanceManager{
		rt: rt, servers: servers, network: network, basePort: basePort,
		instances: make(map[string]*Instance),
	}
}

// EnsureInstance starts (or reuses) the instance backing serverName for folder, returning its
// MCP proxy-visible identity.
func (m *InstanceManager) EnsureInstance(ctx context.Context, folder, serverName string) (*Instance, error) {
	cfg, ok := m.servers[serverName]
	if !ok {
		return nil, fmt.Errorf("gateway: unknown mcp server %q", serverName)
	}

	key := folder + ":" + serverName
	m.mu.Lock()
	if inst, ok := m.instances[key]; ok {
		m.mu.Unlock()
		return inst, nil
	}
	m.mu.Unlock()

	var backend *url.URL
	var containerName string
	if cfg.BackendURL != "" {
		u, err := url.Parse(cfg.BackendURL)
		if err != nil {
			return nil, fmt.Errorf("gateway: parse backend_url for %q: %w", serverName, err)
		}
		backend = u
	} else if cfg.Image != "" {
		if m.rt == nil {
			return nil, fmt.Errorf("gateway: mcp server %q needs a container runtime but none is configured", serverName)
		}
		var err error
		backend, containerName, err = m.startInstanceContainer(ctx, folder, serverName, cfg)
		if err != nil {
			return nil, err
		}
	} else {
		return nil, fmt.Errorf("gateway: mcp server %q has neither backend_url nor image", serverName)
	}

	id, err := randomInstanceID()
	if err != nil {
		return nil, err
	}
	inst := &Instance{
		ID: id, ServerName: serverName, Folder: folder, BackendURL: backend,
		PublicSource: cfg.PublicSource, containerName: containerName,
	}

	m.mu.Lock()
	m.instances[key] = inst
	m.mu.Unlock()
	return inst, nil
}

func (m *InstanceManager) startInstanceContainer(ctx context.Context, folder, serverName string, cfg config.MCPServerConfig) (*url.URL, string, error) {
	if err := m.rt.EnsureNetwork(ctx, m.network); err != nil {
		return nil, "", fmt.Errorf("gateway: ensure mcp network: %w", err)
	}
	if err := m.rt.PullIfMissing(ctx, cfg.Image); err != nil {
		return nil, "", fmt.Errorf("gateway: pull %s: %w", cfg.Image, err)
	}

	m.mu.Lock()
	m.basePort++
	hostPort := m.basePort
	m.mu.Unlock()

	name := fmt.Sprintf("pynchy-mcp-%s-%s", serverName, folder)
	env := make([]string, 0, len(cfg.Env))
	for k, v := range cfg.Env {
		env = append(env, k+"="+v)
	}

	_ = m.rt.ForceRemoveStale(ctx, name)
	if _, err := m.rt.Run(ctx, containerrt.RunSpec{
		Name: name, Image: cfg.Image, Env: env, Network: m.network,
		Ports: []containerrt.PortBinding{{ContainerPort: "8000/tcp", HostPort: fmt.Sprint(hostPort)}},
	}); err != nil {
		return nil, "", fmt.Errorf("gateway: start mcp instance %s: %w", name, err)
	}

	u, err := url.Parse(fmt.Sprintf("http://127.0.0.1:%d", hostPort))
	return u, name, err
}

// ReleaseWorkspace stops and removes every instance belonging to folder, called when the
// workspace's container session ends.
func (m *InstanceManager) ReleaseWorkspace(ctx context.Context, folder string) {
	m.mu.Lock()
	var toStop []*Instance
	for key, inst := range m.instances {
		if inst.Folder != folder {
			continue
		}
		toStop = append(toStop, inst)
		delete(m.instances, key)
	}
	m.mu.Unlock()

	for _, inst := range toStop {
		if inst.containerName == "" || m.rt == nil {
			continue
		}
		stopCtx, cancel := context.WithTimeout(ctx, 10*time.Second)
		if err := m.rt.Stop(stopCtx, inst.containerName, 5*time.Second); err != nil {
			slog.Warn("gateway: stop mcp instance failed", "instance", inst.containerName, "error", err)
		}
		_ = m.rt.Remove(stopCtx, inst.containerName)
		cancel()
	}
}

// Lookup finds a previously-ensured instance by its opaque ID, for the MCP proxy's request
// routing once the container has the URL it was handed at boot.
func (m *InstanceManager) Lookup(instanceID string) (*Instance, bool) {
	m.mu.Lock()
	defer m.mu.Unlock()
	for _, inst := range m.instances {
		if inst.ID == instanceID {
			return inst, true
		}
	}
	return nil, false
}

// InstanceFolder satisfies security.InstanceLookup so *InstanceManager can be handed directly
// to security.NewGate without a wrapper adapter.
func (m *InstanceManager) InstanceFolder(instanceID string) (string, bool) {
	inst, ok := m.Lookup(instanceID)
	if !ok {
		return "", false
	}
	return inst.Folder, true
}

func randomInstanceID() (string, error) {
	buf := make([]byte, 8)
	if _, err := rand.Read(buf); err != nil {
		return "", err
	}
	return hex.EncodeToString(buf), nil
}
