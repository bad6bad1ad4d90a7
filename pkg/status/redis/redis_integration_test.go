//go:build integration

package redis

import (
	"context"
	"fmt"
	"testing"

	"github.com/stretchr/testify/require"
	"github.com/testcontainers/testcontainers-go"
	"github.com/testcontainers/testcontainers-go/wait"

	"github.com/marmos91/netconfd/pkg/status"
	"github.com/marmos91/netconfd/pkg/status/statustest"
)

func TestRedisConformance(t *testing.T) {
	ctx := context.Background()

	container, err := testcontainers.GenericContainer(ctx, testcontainers.GenericContainerRequest{
		ContainerRequest: testcontainers.ContainerRequest{
			Image:        "redis:7-alpine",
			ExposedPorts: []string{"6379/tcp"},
			WaitingFor:   wait.ForListeningPort("6379/tcp"),
		},
		Started: true,
	})
	require.NoError(t, err)
	t.Cleanup(func() { _ = container.Terminate(ctx) })

	host, err := container.Host(ctx)
	require.NoError(t, err)
	port, err := container.MappedPort(ctx, "6379")
	require.NoError(t, err)

	var n int
	statustest.RunConformanceSuite(t, func(t *testing.T) status.Backend {
		n++
		b, err := Open(t.Context(), Config{
			Addr: fmt.Sprintf("%s:%s", host, port.Port()),
			Node: fmt.Sprintf("node-%d", n),
		})
		require.NoError(t, err)
		t.Cleanup(func() { _ = b.Close() })
		return b
	})
}
