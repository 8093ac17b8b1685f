package chmembership

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/cenkalti/backoff/v4"
	"github.com/go-zookeeper/zk"
	set "github.com/golang-collections/collections/set"
	log "github.com/sirupsen/logrus"
	"go.uber.org/multierr"

	"go.timothygu.me/zkring/internal/pkg/ring"
	"go.timothygu.me/zkring/internal/pkg/types"
	zkc "go.timothygu.me/zkring/internal/pkg/zookeeper"
)

/*
	/{group}          persistent
	/{group}/{uuid}   ephemeral, payload = serialized types.PeerIdentity
*/

// ErrClosed is returned by Subscribe after Close.
var ErrClosed = errors.New("chmembership: closed")

// Coordinator is the subset of the ZooKeeper client used here.
type Coordinator interface {
	CreateIfNotExists(path string, data []byte) error
	Create(path string, data []byte, flags int32) (string, error)
	Delete(path string) error
	GetChildren(path string, watch bool) ([]string, <-chan zk.Event, error)
	GetData(path string) ([]byte, error)
	SessionEvents() <-chan zk.Event
	Close()
}

var _ Coordinator = (*zkc.ZookeeperClient)(nil)

type group struct {
	name string
	path string // group root
	self string // our ephemeral member

	cancel context.CancelFunc
	done   chan struct{}

	// Peer ids of the last published ring. Only touched by the goroutine
	// that rebuilds this group.
	members *set.Set
}

// Membership mirrors ZooKeeper group rosters into consistent hash rings.
type Membership struct {
	cfg     Config
	zkc     Coordinator
	payload []byte

	mu     sync.Mutex // guards groups and closed
	groups map[string]*group
	closed bool

	stopSession chan struct{}
	sessionDone chan struct{}
}

// NewMembership validates cfg and starts watching the session of zkc.
// The Membership owns zkc and closes it in Close.
func NewMembership(cfg Config, zkc Coordinator) (*Membership, error) {
	cfg.setDefaults()
	if err := cfg.validate(); err != nil {
		return nil, err
	}
	payload, err := cfg.Identity.MarshalBinary()
	if err != nil {
		return nil, fmt.Errorf("chmembership: encode identity: %w", err)
	}

	m := &Membership{
		cfg:         cfg,
		zkc:         zkc,
		payload:     payload,
		groups:      map[string]*group{},
		stopSession: make(chan struct{}),
		sessionDone: make(chan struct{}),
	}
	go m.monitorSession()
	return m, nil
}

func (m *Membership) Identity() types.PeerIdentity {
	return m.cfg.Identity
}

// GetRing returns the current ring of a subscribed group.
func (m *Membership) GetRing(name string) (*ring.Ring, bool) {
	return m.cfg.Registry.Get(name)
}

// Size returns the number of occupied slots in the ring of name, or 0.
func (m *Membership) Size(name string) int {
	r, ok := m.GetRing(name)
	if !ok {
		return 0
	}
	return r.Size()
}

// Groups returns the subscribed group names, sorted.
func (m *Membership) Groups() []string {
	m.mu.Lock()
	defer m.mu.Unlock()
	names := make([]string, 0, len(m.groups))
	for name := range m.groups {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}

// Subscribe joins the group name: it creates the group root if needed,
// publishes a ring built from the current roster, registers the local peer
// as an ephemeral member and keeps the ring up to date until Unsubscribe.
// Subscribing twice is a no-op.
func (m *Membership) Subscribe(name string) error {
	if name == "" || strings.Contains(name, "/") {
		return fmt.Errorf("chmembership: invalid group name %q", name)
	}

	m.mu.Lock()
	defer m.mu.Unlock()
	if m.closed {
		return ErrClosed
	}
	if _, ok := m.groups[name]; ok {
		return nil
	}

	path := zkc.GroupPath(name)
	g := &group{
		name:    name,
		path:    path,
		self:    zkc.GetAbsolutePath(path, m.cfg.Identity.ID.String()),
		done:    make(chan struct{}),
		members: set.New(),
	}

	if err := m.zkc.CreateIfNotExists(path, nil); err != nil {
		return fmt.Errorf("chmembership: subscribe %s: %w", name, err)
	}
	watch, err := m.sync(g)
	if err != nil {
		return fmt.Errorf("chmembership: subscribe %s: %w", name, err)
	}
	if _, err := m.zkc.Create(g.self, m.payload, zk.FlagEphemeral); err != nil {
		if !errors.Is(err, zk.ErrNodeExists) {
			m.cfg.Registry.Remove(name)
			ringSlots.DeleteLabelValues(name)
			return fmt.Errorf("chmembership: subscribe %s: %w", name, err)
		}
		log.Warnf("chmembership: %v is already registered", g.self)
	}

	ctx, cancel := context.WithCancel(context.Background())
	g.cancel = cancel
	m.groups[name] = g
	go m.monitorGroup(ctx, g, watch)

	log.Infof("chmembership: subscribed %v to %v", m.cfg.Identity.ID, name)
	return nil
}

// Unsubscribe removes the local member from group name and forgets its
// ring. A rebuild racing with Unsubscribe may still publish, but the ring
// is always gone once Unsubscribe returns.
func (m *Membership) Unsubscribe(name string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.unsubscribeLocked(name)
}

func (m *Membership) unsubscribeLocked(name string) error {
	g, ok := m.groups[name]
	if !ok {
		m.cfg.Registry.Remove(name)
		return nil
	}

	err := m.zkc.Delete(g.self)
	if errors.Is(err, zk.ErrNoNode) {
		err = nil
	}

	g.cancel()
	<-g.done
	delete(m.groups, name)
	m.cfg.Registry.Remove(name)
	ringSlots.DeleteLabelValues(name)

	if err != nil {
		log.WithField("group", name).WithError(err).Error("chmembership: unable to unsubscribe")
		return fmt.Errorf("chmembership: unsubscribe %s: %w", name, err)
	}
	log.Infof("chmembership: unsubscribed %v from %v", m.cfg.Identity.ID, name)
	return nil
}

// Close unsubscribes from every group and closes the ZooKeeper session.
func (m *Membership) Close() error {
	m.mu.Lock()
	if m.closed {
		m.mu.Unlock()
		return nil
	}
	m.closed = true
	var err error
	for name := range m.groups {
		err = multierr.Append(err, m.unsubscribeLocked(name))
	}
	m.mu.Unlock()

	close(m.stopSession)
	<-m.sessionDone
	m.zkc.Close()
	log.Info("chmembership: closed connection to ZooKeeper")
	return err
}

// monitorGroup rebuilds the ring of g each time its roster changes. Watches
// are one-shot, so every rebuild installs the next one.
func (m *Membership) monitorGroup(ctx context.Context, g *group, watch <-chan zk.Event) {
	defer close(g.done)
	for {
		select {
		case <-ctx.Done():
			return
		case evt := <-watch:
			if ctx.Err() != nil {
				return
			}
			log.Debugf("chmembership: %v: %v (%v)", g.name, evt.Type, evt.Err)
		}

		watch = m.resync(ctx, g)
		if watch == nil {
			return
		}
	}
}

// resync retries sync with exponential backoff until it succeeds, the group
// is unsubscribed or the client is closing. It returns nil in the latter two
// cases.
func (m *Membership) resync(ctx context.Context, g *group) <-chan zk.Event {
	b := backoff.NewExponentialBackOff()
	b.InitialInterval = m.cfg.RetryInterval
	b.MaxElapsedTime = 0
	b.Reset()

	var watch <-chan zk.Event
	op := func() error {
		var err error
		watch, err = m.sync(g)
		// ErrConnectionClosed only means the connection dropped; the client
		// reconnects on its own.
		if errors.Is(err, zk.ErrClosing) {
			return backoff.Permanent(err)
		}
		return err
	}
	notify := func(err error, next time.Duration) {
		log.WithField("group", g.name).WithError(err).Errorf("chmembership: rebuild failed, retrying in %v", next)
	}
	if err := backoff.RetryNotify(op, backoff.WithContext(b, ctx), notify); err != nil {
		if ctx.Err() == nil {
			log.WithField("group", g.name).WithError(err).Error("chmembership: giving up on group")
		}
		return nil
	}
	return watch
}

// sync reads the roster of g, installing a watch on it, and publishes a
// freshly built ring.
func (m *Membership) sync(g *group) (<-chan zk.Event, error) {
	children, watch, err := m.zkc.GetChildren(g.path, true)
	if err != nil {
		rebuildErrorsTotal.WithLabelValues(g.name).Inc()
		log.WithFields(log.Fields{"group": g.name, "path": g.path}).WithError(err).Error("chmembership: unable to list members")
		return nil, err
	}

	r, err := m.rebuild(g, children)
	if err != nil {
		rebuildErrorsTotal.WithLabelValues(g.name).Inc()
		return nil, err
	}
	m.cfg.Registry.Put(g.name, r)
	rebuildsTotal.WithLabelValues(g.name).Inc()
	ringSlots.WithLabelValues(g.name).Set(float64(r.Size()))
	m.logChanges(g, r)
	return watch, nil
}

// rebuild builds a new ring from the listed children. Members whose payload
// does not decode to a valid identity are skipped; failing to read a member
// is fatal.
func (m *Membership) rebuild(g *group, children []string) (*ring.Ring, error) {
	peers := make([]types.PeerIdentity, 0, len(children))
	for _, child := range children {
		childPath := zkc.GetAbsolutePath(g.path, child)
		fields := log.Fields{"group": g.name, "path": childPath}

		data, err := m.zkc.GetData(childPath)
		if errors.Is(err, zk.ErrNoNode) {
			// Left after the listing; the next notification covers it.
			log.WithFields(fields).Debug("chmembership: member vanished during rebuild")
			continue
		}
		if err != nil {
			log.WithFields(fields).WithError(err).Error("chmembership: unable to read member")
			return nil, err
		}

		var peer types.PeerIdentity
		err = peer.UnmarshalBinary(data)
		if err == nil {
			err = peer.Validate()
		}
		if err != nil {
			skippedMembersTotal.WithLabelValues(g.name).Inc()
			log.WithFields(fields).WithError(err).Warn("chmembership: skipping invalid member")
			continue
		}
		peers = append(peers, peer)
	}

	r := m.cfg.newRing()
	r.AddAll(peers)
	return r, nil
}

func (m *Membership) logChanges(g *group, r *ring.Ring) {
	current := set.New()
	for _, p := range r.Peers() {
		current.Insert(p.ID)
	}
	current.Difference(g.members).Do(func(id any) {
		log.Debugf("chmembership: %v joined %v", id, g.name)
	})
	g.members.Difference(current).Do(func(id any) {
		log.Debugf("chmembership: %v left %v", id, g.name)
	})
	g.members = current
	log.Infof("chmembership: updating ring %v with %d peers (%d slots)", g.name, current.Len(), r.Size())
}
