// Package lookup routes keys of a group to the peers that own them.
package lookup

import (
	"context"
	"errors"
	"fmt"
	"time"

	log "github.com/sirupsen/logrus"
	"google.golang.org/grpc"
	"google.golang.org/grpc/credentials/insecure"
	healthpb "google.golang.org/grpc/health/grpc_health_v1"

	"go.timothygu.me/zkring/internal/pkg/cache"
	"go.timothygu.me/zkring/internal/pkg/ring"
	"go.timothygu.me/zkring/internal/pkg/types"
)

// ErrNoRing is returned for groups without a published ring.
var ErrNoRing = errors.New("lookup: group has no ring")

const DefaultTimeout = 5 * time.Second

// RingSource provides the current ring of a group.
type RingSource interface {
	Get(group string) (*ring.Ring, bool)
}

// Router picks owners for keys and hands out connections to them.
type Router struct {
	rings   RingSource
	conns   *cache.Conns
	timeout time.Duration
}

// NewRouter creates a router over rings. Every remote call made by the
// router is bounded by timeout; opts are appended to the dial options.
func NewRouter(rings RingSource, timeout time.Duration, opts ...grpc.DialOption) (*Router, error) {
	if timeout <= 0 {
		timeout = DefaultTimeout
	}
	dialOpts := append([]grpc.DialOption{grpc.WithTransportCredentials(insecure.NewCredentials())}, opts...)
	conns, err := cache.NewConns(cache.Size, func(ctx context.Context, addr string) (*grpc.ClientConn, error) {
		return grpc.DialContext(ctx, addr, dialOpts...)
	})
	if err != nil {
		return nil, err
	}
	return &Router{rings: rings, conns: conns, timeout: timeout}, nil
}

// Owner returns the peer owning key in group.
func (r *Router) Owner(group string, key []byte) (types.PeerIdentity, error) {
	rg, ok := r.rings.Get(group)
	if !ok {
		return types.PeerIdentity{}, fmt.Errorf("%w: %s", ErrNoRing, group)
	}
	return rg.Get(key)
}

// Owners returns the first n owners of key in group, in ring order.
func (r *Router) Owners(group string, key []byte, n int) ([]types.PeerIdentity, error) {
	rg, ok := r.rings.Get(group)
	if !ok {
		return nil, fmt.Errorf("%w: %s", ErrNoRing, group)
	}
	peers := rg.GetN(key, n)
	if len(peers) == 0 && n > 0 {
		return nil, ring.ErrEmptyRing
	}
	return peers, nil
}

// InRange reports whether self is among the first n owners of key.
func (r *Router) InRange(group string, key []byte, n int, self types.PeerIdentity) bool {
	peers, err := r.Owners(group, key, n)
	if err != nil {
		return false
	}
	return contains(peers, self)
}

// Conn returns a connection to peer.
func (r *Router) Conn(ctx context.Context, peer types.PeerIdentity) (*grpc.ClientConn, error) {
	return r.conns.Get(ctx, peer.Addr())
}

// Probe health-checks the owner of key, using the group name as the health
// service name.
func (r *Router) Probe(ctx context.Context, group string, key []byte) (types.PeerIdentity, healthpb.HealthCheckResponse_ServingStatus, error) {
	peer, err := r.Owner(group, key)
	if err != nil {
		return peer, healthpb.HealthCheckResponse_UNKNOWN, err
	}
	conn, err := r.Conn(ctx, peer)
	if err != nil {
		return peer, healthpb.HealthCheckResponse_UNKNOWN, err
	}

	ctx, cancel := context.WithTimeout(ctx, r.timeout)
	defer cancel()
	res, err := healthpb.NewHealthClient(conn).Check(ctx, &healthpb.HealthCheckRequest{Service: group})
	if err != nil {
		log.Warnf("lookup: unable to probe %v for %v: %v", peer, group, err)
		return peer, healthpb.HealthCheckResponse_UNKNOWN, err
	}
	return peer, res.GetStatus(), nil
}

// Close closes all cached connections.
func (r *Router) Close() {
	r.conns.Purge()
}

func contains(peers []types.PeerIdentity, p types.PeerIdentity) bool {
	for _, q := range peers {
		if q.ID == p.ID {
			return true
		}
	}
	return false
}
