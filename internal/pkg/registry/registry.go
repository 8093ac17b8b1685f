// Package registry holds the current ring of every subscribed group.
package registry

import (
	"sort"
	"sync"

	"go.timothygu.me/zkring/internal/pkg/ring"
)

// Registry maps group names to their current ring. Entries are only ever
// replaced wholesale, so readers see either the previous ring or the new
// one, never a ring under construction.
type Registry struct {
	rings sync.Map // group name -> *ring.Ring
}

func New() *Registry {
	return &Registry{}
}

// Get returns the current ring of group. It never blocks on writers.
func (r *Registry) Get(group string) (*ring.Ring, bool) {
	v, ok := r.rings.Load(group)
	if !ok {
		return nil, false
	}
	return v.(*ring.Ring), true
}

// Put publishes rg as the ring of group. rg must not be modified afterwards.
func (r *Registry) Put(group string, rg *ring.Ring) {
	r.rings.Store(group, rg)
}

func (r *Registry) Remove(group string) {
	r.rings.Delete(group)
}

// Groups returns the names of all groups with a published ring, sorted.
func (r *Registry) Groups() []string {
	var groups []string
	r.rings.Range(func(k, _ any) bool {
		groups = append(groups, k.(string))
		return true
	})
	sort.Strings(groups)
	return groups
}
