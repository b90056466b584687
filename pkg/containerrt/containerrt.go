// Package containerrt is a thin wrapper over the Docker Engine API for the operations the
// Container Session Manager needs: run, stop, rm, inspect, build, and network wiring
// (spec.md §4.2).
package containerrt

import (
	"context"
	"fmt"
	"io"
	"time"

	"github.com/docker/docker/api/types/container"
	"github.com/docker/docker/api/types/image"
	"github.com/docker/docker/api/types/network"
	"github.com/docker/docker/client"
	"github.com/docker/go-connections/nat"
)

// Runtime wraps a Docker Engine client with the narrow surface this repo exercises.
type Runtime struct {
	cli *client.Client
}

// New connects to the Docker Engine using the standard environment (DOCKER_HOST, etc.).
func New() (*Runtime, error) {
	cli, err := client.NewClientWithOpts(client.FromEnv, client.WithAPIVersionNegotiation())
	if err != nil {
		return nil, fmt.Errorf("containerrt: connect to docker: %w", err)
	}
	return &Runtime{cli: cli}, nil
}

// Close releases the underlying Docker client connection.
func (r *Runtime) Close() error { return r.cli.Close() }

// Mount is a host-path to container-path bind mount.
type Mount struct {
	Source   string
	Target   string
	ReadOnly bool
}

// RunSpec describes one container to spawn.
type RunSpec struct {
	Name    string
	Image   string
	Env     []string
	Mounts  []Mount
	Network string
	Ports   []PortBinding
}

// ForceRemoveStale removes any existing container with this name, ignoring "not found" —
// spec.md §4.2 cold-start step 5.
func (r *Runtime) ForceRemoveStale(ctx context.Context, name string) error {
	err := r.cli.ContainerRemove(ctx, name, container.RemoveOptions{Force: true, RemoveVolumes: true})
	if err != nil && !client.IsErrNotFound(err) {
		return fmt.Errorf("containerrt: force-remove %s: %w", name, err)
	}
	return nil
}

// bindString formats a Mount as a Docker bind-mount spec ("src:dst:mode").
func bindString(m Mount) string {
	mode := "rw"
	if m.ReadOnly {
		mode = "ro"
	}
	return fmt.Sprintf("%s:%s:%s", m.Source, m.Target, mode)
}

// Run creates and starts a container from spec, returning its id.
func (r *Runtime) Run(ctx context.Context, spec RunSpec) (string, error) {
	binds := make([]string, len(spec.Mounts))
	for i, m := range spec.Mounts {
		binds[i] = bindString(m)
	}

	hostCfg := &container.HostConfig{Binds: binds}
	var netCfg *network.NetworkingConfig
	if spec.Network != "" {
		hostCfg.NetworkMode = container.NetworkMode(spec.Network)
		netCfg = &network.NetworkingConfig{
			EndpointsConfig: map[string]*network.EndpointSettings{spec.Network: {}},
		}
	}

	exposed := make(nat.PortSet, len(spec.Ports))
	if len(spec.Ports) > 0 {
		hostCfg.PortBindings = make(nat.PortMap, len(spec.Ports))
		for _, p := range spec.Ports {
			exposed[p.ContainerPort] = struct{}{}
			hostCfg.PortBindings[p.ContainerPort] = []nat.PortBinding{{HostIP: "127.0.0.1", HostPort: p.HostPort}}
		}
	}

	resp, err := r.cli.ContainerCreate(ctx, &container.Config{
		Image:        spec.Image,
		Env:          spec.Env,
		ExposedPorts: exposed,
	}, hostCfg, netCfg, nil, spec.Name)
	if err != nil {
		return "", fmt.Errorf("containerrt: create %s: %w", spec.Name, err)
	}

	if err := r.cli.ContainerStart(ctx, resp.ID, container.StartOptions{}); err != nil {
		return "", fmt.Errorf("containerrt: start %s: %w", spec.Name, err)
	}
	return resp.ID, nil
}

// Logs returns a combined stdout+stderr stream for the named container, following new output.
func (r *Runtime) Logs(ctx context.Context, name string) (io.ReadCloser, error) {
	return r.cli.ContainerLogs(ctx, name, container.LogsOptions{
		ShowStdout: true,
		ShowStderr: true,
		Follow:     true,
	})
}

// Wait blocks until the container exits, returning its exit code.
func (r *Runtime) Wait(ctx context.Context, name string) (int64, error) {
	statusCh, errCh := r.cli.ContainerWait(ctx, name, container.WaitConditionNotRunning)
	select {
	case err := <-errCh:
		return -1, err
	case status := <-statusCh:
		return status.StatusCode, nil
	}
}

// Stop sends a graceful stop (SIGTERM, then SIGKILL after timeout), per §4.2's stop protocol.
func (r *Runtime) Stop(ctx context.Context, name string, timeout time.Duration) error {
	secs := int(timeout.Seconds())
	err := r.cli.ContainerStop(ctx, name, container.StopOptions{Timeout: &secs})
	if err != nil && !client.IsErrNotFound(err) {
		return fmt.Errorf("containerrt: stop %s: %w", name, err)
	}
	return nil
}

// Remove force-removes a container (docker rm -f), ignoring "not found".
func (r *Runtime) Remove(ctx context.Context, name string) error {
	err := r.cli.ContainerRemove(ctx, name, container.RemoveOptions{Force: true, RemoveVolumes: true})
	if err != nil && !client.IsErrNotFound(err) {
		return fmt.Errorf("containerrt: remove %s: %w", name, err)
	}
	return nil
}

// Inspect reports whether a container with name exists and is currently running.
func (r *Runtime) Inspect(ctx context.Context, name string) (running bool, exists bool, err error) {
	info, err := r.cli.ContainerInspect(ctx, name)
	if client.IsErrNotFound(err) {
		return false, false, nil
	}
	if err != nil {
		return false, false, fmt.Errorf("containerrt: inspect %s: %w", name, err)
	}
	return info.State != nil && info.State.Running, true, nil
}

// EnsureNetwork creates a bridge network named name if it doesn't already exist, for
// connecting the agent container to an MCP proxy instance.
func (r *Runtime) EnsureNetwork(ctx context.Context, name string) error {
	list, err := r.cli.NetworkList(ctx, network.ListOptions{})
	if err != nil {
		return fmt.Errorf("containerrt: list networks: %w", err)
	}
	for _, n := range list {
		if n.Name == name {
			return nil
		}
	}
	_, err = r.cli.NetworkCreate(ctx, name, network.CreateOptions{Driver: "bridge"})
	if err != nil {
		return fmt.Errorf("containerrt: create network %s: %w", name, err)
	}
	return nil
}

// PullIfMissing pulls image unless it is already present locally.
func (r *Runtime) PullIfMissing(ctx context.Context, ref string) error {
	_, _, err := r.cli.ImageInspectWithRaw(ctx, ref)
	if err == nil {
		return nil
	}
	rc, err := r.cli.ImagePull(ctx, ref, image.PullOptions{})
	if err != nil {
		return fmt.Errorf("containerrt: pull %s: %w", ref, err)
	}
	defer rc.Close()
	_, err = io.Copy(io.Discard, rc)
	return err
}

// PortBinding is unused by the message-container flow today (it has no published ports) but is
// kept for MCP proxy instances that expose a local port.
type PortBinding struct {
	ContainerPort nat.Port
	HostPort      string
}
