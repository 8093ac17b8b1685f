package chmembership

import (
	"os"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/stretchr/testify/require"

	"go.timothygu.me/zkring/internal/pkg/types"
	zkc "go.timothygu.me/zkring/internal/pkg/zookeeper"
)

// liveMembership connects to the ensemble named by ZK_SERVERS, or skips.
func liveMembership(t *testing.T, port int) *Membership {
	t.Helper()
	servers := zkc.ParseServers(os.Getenv("ZK_SERVERS"))
	if len(servers) == 0 {
		t.Skip("ZK_SERVERS not set")
	}
	client, err := zkc.NewZookeeperClient(10*time.Second, servers)
	require.NoError(t, err)
	m, err := NewMembership(Config{
		Identity:   types.NewPeerIdentity("localhost", port),
		Partitions: 10,
	}, client)
	require.NoError(t, err)
	return m
}

func TestMembership_Zookeeper(t *testing.T) {
	ring1 := "chmembership-test-" + uuid.NewString()
	ring2 := "chmembership-test-" + uuid.NewString()

	m1 := liveMembership(t, 1)
	defer m1.Close()
	require.NoError(t, m1.Subscribe(ring1))
	require.Eventually(t, func() bool { return peerCount(m1, ring1) == 1 }, 5*time.Second, 50*time.Millisecond)

	m2 := liveMembership(t, 2)
	require.NoError(t, m2.Subscribe(ring1))

	m3 := liveMembership(t, 3)
	defer m3.Close()
	require.NoError(t, m3.Subscribe(ring2))

	require.Eventually(t, func() bool { return peerCount(m1, ring1) == 2 }, 5*time.Second, 50*time.Millisecond)
	require.Eventually(t, func() bool { return peerCount(m2, ring1) == 2 }, 5*time.Second, 50*time.Millisecond)
	require.Eventually(t, func() bool { return peerCount(m3, ring2) == 1 }, 5*time.Second, 50*time.Millisecond)

	require.NoError(t, m2.Close())
	require.Eventually(t, func() bool { return peerCount(m1, ring1) == 1 }, 5*time.Second, 50*time.Millisecond)
}
