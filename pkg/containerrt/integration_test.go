//go:build integration

package containerrt

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
	"github.com/testcontainers/testcontainers-go"
)

// TestRuntimeLifecycle exercises Run/Inspect/Stop/Remove against a real Docker daemon, the
// same way the teacher exercises its own domain operations against a real Postgres
// testcontainer rather than mocking the client (pkg/session's tests use a fake runtime and need
// no daemon; this test covers containerrt in isolation).
func TestRuntimeLifecycle(t *testing.T) {
	ctx := context.Background()
	rt, err := New()
	require.NoError(t, err)
	defer rt.Close()

	name := "pynchy-containerrt-test"
	require.NoError(t, rt.ForceRemoveStale(ctx, name))

	req := testcontainers.ContainerRequest{
		Image: "alpine:3.20",
		Cmd:   []string{"sleep", "30"},
	}
	provider, err := testcontainers.NewDockerProvider()
	require.NoError(t, err)
	defer provider.Close()
	require.NoError(t, provider.PullImage(ctx, req.Image))

	id, err := rt.Run(ctx, RunSpec{Name: name, Image: req.Image, Env: []string{"FOO=bar"}})
	require.NoError(t, err)
	require.NotEmpty(t, id)
	t.Cleanup(func() { _ = rt.Remove(context.Background(), name) })

	running, exists, err := rt.Inspect(ctx, name)
	require.NoError(t, err)
	require.True(t, exists)
	require.True(t, running)

	require.NoError(t, rt.Stop(ctx, name, 5*time.Second))
	running, exists, err = rt.Inspect(ctx, name)
	require.NoError(t, err)
	require.True(t, exists)
	require.False(t, running)

	require.NoError(t, rt.Remove(ctx, name))
	_, exists, err = rt.Inspect(ctx, name)
	require.NoError(t, err)
	require.False(t, exists)
}
