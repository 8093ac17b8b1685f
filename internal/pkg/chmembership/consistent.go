package chmembership

import (
	"errors"
	"fmt"
	"time"

	"go.timothygu.me/zkring/internal/pkg/hashing"
	"go.timothygu.me/zkring/internal/pkg/registry"
	"go.timothygu.me/zkring/internal/pkg/ring"
	"go.timothygu.me/zkring/internal/pkg/types"
)

const (
	DefaultPartitions    = 65521 // prime number
	DefaultReplication   = 3
	DefaultRetryInterval = 100 * time.Millisecond
)

// Config describes the local peer and the shape of the rings built for every
// group. Zero fields take their defaults.
type Config struct {
	Identity types.PeerIdentity

	Partitions  int
	Replication int
	Hasher      hashing.Hasher

	// RetryInterval is the first delay before retrying a failed rebuild.
	RetryInterval time.Duration

	// Registry receives the rings. A private registry is used if nil.
	Registry *registry.Registry
}

func (c *Config) setDefaults() {
	if c.Partitions == 0 {
		c.Partitions = DefaultPartitions
	}
	if c.Replication == 0 {
		c.Replication = DefaultReplication
	}
	if c.Hasher == nil {
		c.Hasher = hashing.Default
	}
	if c.RetryInterval == 0 {
		c.RetryInterval = DefaultRetryInterval
	}
	if c.Registry == nil {
		c.Registry = registry.New()
	}
}

func (c *Config) validate() error {
	if err := c.Identity.Validate(); err != nil {
		return fmt.Errorf("chmembership: %w", err)
	}
	if c.Partitions < 0 {
		return fmt.Errorf("chmembership: invalid partition count %d", c.Partitions)
	}
	if c.Replication < 0 {
		return fmt.Errorf("chmembership: invalid replication factor %d", c.Replication)
	}
	if c.RetryInterval < 0 {
		return errors.New("chmembership: negative retry interval")
	}
	return nil
}

// newRing creates an empty ring for a rebuild.
func (c *Config) newRing() *ring.Ring {
	return ring.New(c.Partitions, c.Replication, c.Hasher)
}
