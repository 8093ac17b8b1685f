// Package ring implements a consistent-hashing ring with virtual nodes.
package ring

import (
	"errors"
	"math"

	"github.com/emirpasic/gods/maps/treemap"
	"github.com/emirpasic/gods/utils"
	"github.com/google/uuid"

	"go.timothygu.me/zkring/internal/pkg/hashing"
	"go.timothygu.me/zkring/internal/pkg/types"
)

// ErrEmptyRing is returned by lookups on a ring without peers.
var ErrEmptyRing = errors.New("ring: no peers available")

// Ring maps partition slots in [0, partitions) to virtual nodes.
//
// A Ring is not safe for concurrent mutation. Rings handed out by the
// membership layer are fully built before publication and never modified
// afterwards, so any number of goroutines may look them up.
type Ring struct {
	partitions  uint32
	replication int
	hasher      hashing.Hasher

	slots   *treemap.Map // uint32 -> entry
	members map[uuid.UUID]types.PeerIdentity
}

// New creates an empty ring. It panics if partitions or replication is not
// positive; a nil hasher selects hashing.Default.
func New(partitions, replication int, hasher hashing.Hasher) *Ring {
	if partitions <= 0 || uint64(partitions) > math.MaxUint32 {
		panic("ring: partitions must be in [1, 2^32)")
	}
	if replication <= 0 {
		panic("ring: replication must be positive")
	}
	if hasher == nil {
		hasher = hashing.Default
	}
	return &Ring{
		partitions:  uint32(partitions),
		replication: replication,
		hasher:      hasher,
		slots:       treemap.NewWith(utils.UInt32Comparator),
		members:     make(map[uuid.UUID]types.PeerIdentity),
	}
}

func (r *Ring) Partitions() int  { return int(r.partitions) }
func (r *Ring) Replication() int { return r.replication }

func (r *Ring) Add(peer types.PeerIdentity) {
	r.AddAll([]types.PeerIdentity{peer})
}

// AddAll places replication virtual nodes for every peer. A peer whose id is
// already on the ring has its previous placements replaced.
func (r *Ring) AddAll(peers []types.PeerIdentity) {
	for _, p := range peers {
		if old, ok := r.members[p.ID]; ok && old != p {
			r.evict(old)
		}
		r.members[p.ID] = p

		for i := 0; i < r.replication; i++ {
			e := r.place(VirtualNode{Peer: p, Replica: i})
			slot := e.hash % r.partitions
			if cur, found := r.slots.Get(slot); found && !e.beats(cur.(entry)) {
				continue
			}
			r.slots.Put(slot, e)
		}
	}
}

func (r *Ring) Remove(peer types.PeerIdentity) {
	r.RemoveAll([]types.PeerIdentity{peer})
}

// RemoveAll deletes the virtual nodes of every peer. Slots won by other
// peers are left alone.
func (r *Ring) RemoveAll(peers []types.PeerIdentity) {
	for _, p := range peers {
		r.evict(p)
		if old, ok := r.members[p.ID]; ok {
			if old != p {
				r.evict(old)
			}
			delete(r.members, p.ID)
		}
	}
}

func (r *Ring) evict(p types.PeerIdentity) {
	for i := 0; i < r.replication; i++ {
		e := r.place(VirtualNode{Peer: p, Replica: i})
		slot := e.hash % r.partitions
		if cur, found := r.slots.Get(slot); found && cur.(entry).vnode == e.vnode {
			r.slots.Remove(slot)
		}
	}
}

func (r *Ring) Clear() {
	r.slots.Clear()
	r.members = make(map[uuid.UUID]types.PeerIdentity)
}

// Get returns the owner of key: the peer on the first occupied slot after
// the key's slot, wrapping around to the lowest slot.
func (r *Ring) Get(key []byte) (types.PeerIdentity, error) {
	e, _, ok := r.next(r.slotOf(key))
	if !ok {
		return types.PeerIdentity{}, ErrEmptyRing
	}
	return e.vnode.Peer, nil
}

// GetN returns n owners of key in ring order. The walk visits successive
// occupied slots and does not skip repeated peers, so a peer may appear more
// than once. An empty ring yields nil.
func (r *Ring) GetN(key []byte, n int) []types.PeerIdentity {
	if n <= 0 {
		return nil
	}
	e, slot, ok := r.next(r.slotOf(key))
	if !ok {
		return nil
	}
	peers := make([]types.PeerIdentity, 0, min(n, r.Size()))
	peers = append(peers, e.vnode.Peer)
	for i := 1; i < n; i++ {
		e, slot, _ = r.next(slot)
		peers = append(peers, e.vnode.Peer)
	}
	return peers
}

// Size returns the number of occupied slots, not the number of peers.
func (r *Ring) Size() int {
	return r.slots.Size()
}

// Peers returns the distinct peers added to the ring, including any whose
// virtual nodes all lost their slots to collisions.
func (r *Ring) Peers() []types.PeerIdentity {
	peers := make([]types.PeerIdentity, 0, len(r.members))
	for _, p := range r.members {
		peers = append(peers, p)
	}
	return peers
}

// Walk calls fn for every occupied slot in ascending order until fn returns
// false.
func (r *Ring) Walk(fn func(slot uint32, v VirtualNode) bool) {
	it := r.slots.Iterator()
	for it.Next() {
		if !fn(it.Key().(uint32), it.Value().(entry).vnode) {
			return
		}
	}
}

func (r *Ring) place(v VirtualNode) entry {
	return entry{vnode: v, hash: r.hasher.Sum32(v.AppendBinary(nil))}
}

func (r *Ring) slotOf(key []byte) uint32 {
	return r.hasher.Sum32(key) % r.partitions
}

// next returns the first occupied slot strictly after slot, or the lowest
// occupied slot if there is none.
func (r *Ring) next(slot uint32) (entry, uint32, bool) {
	if r.slots.Empty() {
		return entry{}, 0, false
	}
	k, v := r.slots.Ceiling(slot + 1)
	if k == nil {
		k, v = r.slots.Min()
	}
	return v.(entry), k.(uint32), true
}
