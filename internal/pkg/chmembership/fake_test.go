package chmembership

import (
	"path"
	"sort"
	"strings"
	"sync"

	"github.com/go-zookeeper/zk"
)

// fakeServer is an in-memory coordination service with sessions, ephemeral
// znodes and one-shot child watches.
type fakeServer struct {
	mu      sync.Mutex
	nodes   map[string]*fakeNode
	watches map[string][]fakeWatch // parent path -> watchers
	failGet map[string]error

	// One-shot GetChildren failures and sticky Create failures, by path.
	failChildren map[string]error
	failCreate   map[string]error
}

type fakeNode struct {
	data  []byte
	owner *fakeSession // nil for persistent nodes
}

type fakeWatch struct {
	ch    chan zk.Event
	owner *fakeSession
}

type fakeSession struct {
	srv    *fakeServer
	events chan zk.Event
	closed bool // guarded by srv.mu
}

func newFakeServer() *fakeServer {
	return &fakeServer{
		nodes:        map[string]*fakeNode{},
		watches:      map[string][]fakeWatch{},
		failGet:      map[string]error{},
		failChildren: map[string]error{},
		failCreate:   map[string]error{},
	}
}

func (s *fakeServer) session() *fakeSession {
	return &fakeSession{srv: s, events: make(chan zk.Event, 8)}
}

func (s *fakeServer) setGetError(p string, err error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if err == nil {
		delete(s.failGet, p)
	} else {
		s.failGet[p] = err
	}
}

// failNextChildren makes the next GetChildren of p fail with err.
func (s *fakeServer) failNextChildren(p string, err error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.failChildren[p] = err
}

func (s *fakeServer) setCreateError(p string, err error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if err == nil {
		delete(s.failCreate, p)
	} else {
		s.failCreate[p] = err
	}
}

func (s *fakeServer) exists(p string) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	_, ok := s.nodes[p]
	return ok
}

func (s *fakeServer) data(p string) []byte {
	s.mu.Lock()
	defer s.mu.Unlock()
	if n, ok := s.nodes[p]; ok {
		return n.data
	}
	return nil
}

// fire delivers a children-changed event for parent. Caller holds mu.
func (s *fakeServer) fire(parent string) {
	for _, w := range s.watches[parent] {
		w.ch <- zk.Event{Type: zk.EventNodeChildrenChanged, State: zk.StateHasSession, Path: parent}
		close(w.ch)
	}
	delete(s.watches, parent)
}

// dropEphemerals deletes every ephemeral node of sess. Caller holds mu.
func (s *fakeServer) dropEphemerals(sess *fakeSession) {
	for p, n := range s.nodes {
		if n.owner == sess {
			delete(s.nodes, p)
			s.fire(path.Dir(p))
		}
	}
}

// expire ends the session of sess and starts a new one in its place, the
// way the zk client does after an expiry.
func (s *fakeServer) expire(sess *fakeSession) {
	s.mu.Lock()
	for parent, ws := range s.watches {
		kept := ws[:0]
		for _, w := range ws {
			if w.owner == sess {
				w.ch <- zk.Event{Type: zk.EventNotWatching, State: zk.StateDisconnected, Path: parent, Err: zk.ErrSessionExpired}
				close(w.ch)
				continue
			}
			kept = append(kept, w)
		}
		s.watches[parent] = kept
	}
	s.dropEphemerals(sess)
	s.mu.Unlock()

	sess.events <- zk.Event{Type: zk.EventSession, State: zk.StateExpired}
	sess.events <- zk.Event{Type: zk.EventSession, State: zk.StateHasSession}
}

func (c *fakeSession) CreateIfNotExists(p string, data []byte) error {
	_, err := c.Create(p, data, 0)
	if err == zk.ErrNodeExists {
		return nil
	}
	return err
}

func (c *fakeSession) Create(p string, data []byte, flags int32) (string, error) {
	s := c.srv
	s.mu.Lock()
	defer s.mu.Unlock()
	if c.closed {
		return "", zk.ErrConnectionClosed
	}
	if err := s.failCreate[p]; err != nil {
		return "", err
	}
	if _, ok := s.nodes[p]; ok {
		return "", zk.ErrNodeExists
	}
	parent := path.Dir(p)
	if _, ok := s.nodes[parent]; parent != "/" && !ok {
		return "", zk.ErrNoNode
	}
	n := &fakeNode{data: data}
	if flags&zk.FlagEphemeral != 0 {
		n.owner = c
	}
	s.nodes[p] = n
	s.fire(parent)
	return p, nil
}

func (c *fakeSession) Delete(p string) error {
	s := c.srv
	s.mu.Lock()
	defer s.mu.Unlock()
	if c.closed {
		return zk.ErrConnectionClosed
	}
	if _, ok := s.nodes[p]; !ok {
		return zk.ErrNoNode
	}
	delete(s.nodes, p)
	s.fire(path.Dir(p))
	return nil
}

func (c *fakeSession) GetChildren(p string, watch bool) ([]string, <-chan zk.Event, error) {
	s := c.srv
	s.mu.Lock()
	defer s.mu.Unlock()
	if c.closed {
		return nil, nil, zk.ErrConnectionClosed
	}
	if err := s.failChildren[p]; err != nil {
		delete(s.failChildren, p)
		return nil, nil, err
	}
	if _, ok := s.nodes[p]; !ok {
		return nil, nil, zk.ErrNoNode
	}
	var children []string
	for np := range s.nodes {
		if path.Dir(np) == p && strings.HasPrefix(np, p+"/") {
			children = append(children, path.Base(np))
		}
	}
	sort.Strings(children)

	if !watch {
		return children, nil, nil
	}
	ch := make(chan zk.Event, 1)
	s.watches[p] = append(s.watches[p], fakeWatch{ch: ch, owner: c})
	return children, ch, nil
}

func (c *fakeSession) GetData(p string) ([]byte, error) {
	s := c.srv
	s.mu.Lock()
	defer s.mu.Unlock()
	if c.closed {
		return nil, zk.ErrConnectionClosed
	}
	if err := s.failGet[p]; err != nil {
		return nil, err
	}
	n, ok := s.nodes[p]
	if !ok {
		return nil, zk.ErrNoNode
	}
	return n.data, nil
}

func (c *fakeSession) SessionEvents() <-chan zk.Event {
	return c.events
}

func (c *fakeSession) Close() {
	s := c.srv
	s.mu.Lock()
	defer s.mu.Unlock()
	if c.closed {
		return
	}
	c.closed = true
	s.dropEphemerals(c)
}
