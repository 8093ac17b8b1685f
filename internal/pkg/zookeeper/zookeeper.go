package zookeeper

import (
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/go-zookeeper/zk"
	log "github.com/sirupsen/logrus"
)

func GetAbsolutePath(rootPath string, relativePath string) string {
	return rootPath + "/" + relativePath
}

// GroupPath returns the root znode of a group: /{group}.
func GroupPath(group string) string {
	return "/" + group
}

// ParseServers splits a comma-separated server list.
func ParseServers(s string) []string {
	var servers []string
	for _, server := range strings.Split(s, ",") {
		if server = strings.TrimSpace(server); server != "" {
			servers = append(servers, server)
		}
	}
	return servers
}

type ZookeeperClient struct {
	zkConn   *zk.Conn
	sessions <-chan zk.Event
}

// NewZookeeperClient connects to the given ensemble. The zk library keeps
// reconnecting in the background; session state changes are reported on
// SessionEvents.
func NewZookeeperClient(timeout time.Duration, servers []string) (*ZookeeperClient, error) {
	if len(servers) == 0 {
		return nil, errors.New("zookeeper: no servers given")
	}
	c, events, err := zk.Connect(servers, timeout, zk.WithLogger(newLogger()))
	if err != nil {
		return nil, fmt.Errorf("zookeeper: connect %v: %w", servers, err)
	}
	return &ZookeeperClient{zkConn: c, sessions: events}, nil
}

func (z *ZookeeperClient) Exists(path string) (bool, error) {
	ok, _, err := z.zkConn.Exists(path)
	if err != nil {
		return false, fmt.Errorf("zookeeper: exists %s: %w", path, err)
	}
	return ok, nil
}

// Create creates a znode readable and writable by anyone. flags is 0 for a
// persistent node or zk.FlagEphemeral.
func (z *ZookeeperClient) Create(path string, data []byte, flags int32) (string, error) {
	created, err := z.zkConn.Create(path, data, flags, zk.WorldACL(zk.PermAll))
	if err != nil {
		return "", fmt.Errorf("zookeeper: create %s: %w", path, err)
	}
	return created, nil
}

// CreateIfNotExists creates a persistent znode unless it is already there.
// Losing a creation race to another client is not an error.
func (z *ZookeeperClient) CreateIfNotExists(path string, data []byte) error {
	exist, err := z.Exists(path)
	if err != nil || exist {
		return err
	}
	log.Infof("zookeeper: %v does not exist yet. Creating...", path)
	if _, err := z.Create(path, data, 0); err != nil && !errors.Is(err, zk.ErrNodeExists) {
		return err
	}
	return nil
}

// Delete removes a znode regardless of its version.
func (z *ZookeeperClient) Delete(path string) error {
	if err := z.zkConn.Delete(path, -1); err != nil {
		return fmt.Errorf("zookeeper: delete %s: %w", path, err)
	}
	return nil
}

// GetData returns the payload of a znode.
func (z *ZookeeperClient) GetData(path string) ([]byte, error) {
	data, _, err := z.zkConn.Get(path)
	if err != nil {
		return nil, fmt.Errorf("zookeeper: get %s: %w", path, err)
	}
	return data, nil
}

// GetChildren returns the children and watch events channel. channel is nil
// if watch == false. The watch fires at most once.
func (z *ZookeeperClient) GetChildren(path string, watch bool) (children []string, channel <-chan zk.Event, err error) {
	if watch {
		children, _, channel, err = z.zkConn.ChildrenW(path)
	} else {
		children, _, err = z.zkConn.Children(path)
	}
	if err != nil {
		return nil, nil, fmt.Errorf("zookeeper: children %s: %w", path, err)
	}
	return children, channel, nil
}

// GetDataFromChildren reads the payload of every child of path. Children
// that vanish between listing and reading are left out.
func (z *ZookeeperClient) GetDataFromChildren(path string, children []string) (map[string][]byte, error) {
	childrenData := make(map[string][]byte, len(children))
	for _, child := range children {
		data, err := z.GetData(GetAbsolutePath(path, child))
		if errors.Is(err, zk.ErrNoNode) {
			continue
		}
		if err != nil {
			return nil, err
		}
		childrenData[child] = data
	}
	return childrenData, nil
}

// SessionEvents reports connection and session state changes.
func (z *ZookeeperClient) SessionEvents() <-chan zk.Event {
	return z.sessions
}

func (z *ZookeeperClient) Close() {
	z.zkConn.Close()
}
