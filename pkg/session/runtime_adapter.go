package session

import (
	"context"
	"time"

	"github.com/crypdick/pynchy/pkg/containerrt"
)

// RuntimeAdapter wraps a *containerrt.Runtime to satisfy ContainerRuntime, translating this
// package's local Mount/containerRunSpec types to containerrt's.
type RuntimeAdapter struct {
	rt *containerrt.Runtime
}

// NewRuntimeAdapter wraps rt for use as a session Manager's ContainerRuntime.
func NewRuntimeAdapter(rt *containerrt.Runtime) *RuntimeAdapter {
	return &RuntimeAdapter{rt: rt}
}

func (a *RuntimeAdapter) ForceRemoveStale(ctx context.Context, name string) error {
	return a.rt.ForceRemoveStale(ctx, name)
}

func (a *RuntimeAdapter) Run(ctx context.Context, spec containerRunSpec) (string, error) {
	mounts := make([]containerrt.Mount, len(spec.Mounts))
	for i, m := range spec.Mounts {
		mounts[i] = containerrt.Mount{Source: m.Source, Target: m.Target, ReadOnly: m.ReadOnly}
	}
	return a.rt.Run(ctx, containerrt.RunSpec{
		Name:    spec.Name,
		Image:   spec.Image,
		Env:     spec.Env,
		Mounts:  mounts,
		Network: spec.Network,
	})
}

func (a *RuntimeAdapter) Wait(ctx context.Context, name string) (int64, error) {
	return a.rt.Wait(ctx, name)
}

func (a *RuntimeAdapter) Stop(ctx context.Context, name string, timeout time.Duration) error {
	return a.rt.Stop(ctx, name, timeout)
}

func (a *RuntimeAdapter) Remove(ctx context.Context, name string) error {
	return a.rt.Remove(ctx, name)
}

func (a *RuntimeAdapter) Inspect(ctx context.Context, name string) (bool, bool, error) {
	return a.rt.Inspect(ctx, name)
}
