package cache

import (
	"context"
	"sync"

	lru "github.com/hashicorp/golang-lru"
	log "github.com/sirupsen/logrus"
	"google.golang.org/grpc"
)

const Size = 100

// DialFunc opens a client connection to addr.
type DialFunc func(ctx context.Context, addr string) (*grpc.ClientConn, error)

// Conns caches gRPC client connections by peer address. Connections pushed
// out of the cache are closed.
type Conns struct {
	mu    sync.Mutex
	cache *lru.Cache // addr -> *grpc.ClientConn
	dial  DialFunc
}

func NewConns(size int, dial DialFunc) (*Conns, error) {
	c, err := lru.NewWithEvict(size, func(addr, conn any) {
		if err := conn.(*grpc.ClientConn).Close(); err != nil {
			log.Warnf("cache: closing connection to %v: %v", addr, err)
		}
	})
	if err != nil {
		return nil, err
	}
	return &Conns{cache: c, dial: dial}, nil
}

// Get returns the cached connection to addr, dialing it on a miss.
func (c *Conns) Get(ctx context.Context, addr string) (*grpc.ClientConn, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if conn, ok := c.cache.Get(addr); ok {
		return conn.(*grpc.ClientConn), nil
	}
	conn, err := c.dial(ctx, addr)
	if err != nil {
		log.Errorf("cache: failed to dial %v: %v", addr, err)
		return nil, err
	}
	c.cache.Add(addr, conn)
	return conn, nil
}

// Remove closes and forgets the connection to addr.
func (c *Conns) Remove(addr string) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.cache.Remove(addr)
}

func (c *Conns) Len() int {
	return c.cache.Len()
}

// Purge closes every cached connection.
func (c *Conns) Purge() {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.cache.Purge()
}
