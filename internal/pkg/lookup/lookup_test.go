package lookup

import (
	"context"
	"net"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"google.golang.org/grpc"
	healthpb "google.golang.org/grpc/health/grpc_health_v1"
	"google.golang.org/grpc/test/bufconn"

	"go.timothygu.me/zkring/internal/pkg/hashing"
	"go.timothygu.me/zkring/internal/pkg/internserve"
	"go.timothygu.me/zkring/internal/pkg/registry"
	"go.timothygu.me/zkring/internal/pkg/ring"
	"go.timothygu.me/zkring/internal/pkg/types"
)

func startServer(t *testing.T) (*internserve.InternAPIServer, grpc.DialOption) {
	t.Helper()
	lis := bufconn.Listen(1 << 20)
	s := internserve.New()
	go func() { _ = s.Serve(lis) }()
	t.Cleanup(s.Stop)

	dialer := grpc.WithContextDialer(func(ctx context.Context, _ string) (net.Conn, error) {
		return lis.DialContext(ctx)
	})
	return s, dialer
}

func singlePeerRegistry(group string, p types.PeerIdentity) *registry.Registry {
	r := ring.New(128, 2, hashing.Murmur3{})
	r.Add(p)
	reg := registry.New()
	reg.Put(group, r)
	return reg
}

func TestRouter_Owners(t *testing.T) {
	peers := []types.PeerIdentity{
		types.NewPeerIdentity("10.0.0.1", 1053),
		types.NewPeerIdentity("10.0.0.2", 1053),
		types.NewPeerIdentity("10.0.0.3", 1053),
	}
	r := ring.New(1021, 3, hashing.Murmur3{})
	r.AddAll(peers)
	reg := registry.New()
	reg.Put("dns", r)

	router, err := NewRouter(reg, time.Second)
	require.NoError(t, err)
	defer router.Close()

	key := hashing.Key("www.example.com.")
	owner, err := router.Owner("dns", key)
	require.NoError(t, err)
	owners, err := router.Owners("dns", key, 2)
	require.NoError(t, err)
	require.Len(t, owners, 2)
	assert.Equal(t, owner, owners[0])
	assert.Equal(t, r.GetN(key, 2), owners)
	assert.True(t, router.InRange("dns", key, 1, owner))

	_, err = router.Owner("cache", key)
	assert.ErrorIs(t, err, ErrNoRing)
	assert.False(t, router.InRange("cache", key, 1, owner))

	reg.Put("empty", ring.New(8, 1, nil))
	_, err = router.Owner("empty", key)
	assert.ErrorIs(t, err, ring.ErrEmptyRing)
	_, err = router.Owners("empty", key, 3)
	assert.ErrorIs(t, err, ring.ErrEmptyRing)
}

func TestRouter_Probe(t *testing.T) {
	srv, dialer := startServer(t)
	peer := types.NewPeerIdentity("bufnet", 1)
	router, err := NewRouter(singlePeerRegistry("dns", peer), time.Second, dialer)
	require.NoError(t, err)
	defer router.Close()

	ctx := context.Background()
	key := hashing.Key("www.example.com.")

	srv.SetServing("dns", true)
	got, status, err := router.Probe(ctx, "dns", key)
	require.NoError(t, err)
	assert.Equal(t, peer, got)
	assert.Equal(t, healthpb.HealthCheckResponse_SERVING, status)

	srv.SetServing("dns", false)
	_, status, err = router.Probe(ctx, "dns", key)
	require.NoError(t, err)
	assert.Equal(t, healthpb.HealthCheckResponse_NOT_SERVING, status)

	c1, err := router.Conn(ctx, peer)
	require.NoError(t, err)
	c2, err := router.Conn(ctx, peer)
	require.NoError(t, err)
	assert.Same(t, c1, c2)
}

func TestRouter_ProbeUnknownService(t *testing.T) {
	_, dialer := startServer(t)
	peer := types.NewPeerIdentity("bufnet", 1)
	router, err := NewRouter(singlePeerRegistry("dns", peer), time.Second, dialer)
	require.NoError(t, err)
	defer router.Close()

	_, status, err := router.Probe(context.Background(), "dns", hashing.Key("k"))
	assert.Error(t, err, "group was never marked serving")
	assert.Equal(t, healthpb.HealthCheckResponse_UNKNOWN, status)
}
