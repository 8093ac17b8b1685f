package main

import (
	"context"
	"flag"
	"fmt"
	"sort"
	"time"

	log "github.com/sirupsen/logrus"

	"go.timothygu.me/zkring/internal/pkg/chmembership"
	"go.timothygu.me/zkring/internal/pkg/hashing"
	"go.timothygu.me/zkring/internal/pkg/lookup"
	"go.timothygu.me/zkring/internal/pkg/registry"
	"go.timothygu.me/zkring/internal/pkg/ring"
	"go.timothygu.me/zkring/internal/pkg/types"
	"go.timothygu.me/zkring/internal/pkg/zookeeper"
)

var (
	zkServers   = flag.String("zk", "127.0.0.1:2181", "comma separated ZooKeeper servers")
	group       = flag.String("group", "default", "group to inspect")
	key         = flag.String("key", "", "print the owners of this key")
	count       = flag.Int("n", 1, "number of owners to print")
	partitions  = flag.Int("partitions", chmembership.DefaultPartitions, "partition slots per ring")
	replication = flag.Int("replication", chmembership.DefaultReplication, "virtual nodes per peer")
	hashName    = flag.String("hash", "murmur3", "hash function: murmur3, xxhash or siphash")
	watch       = flag.Bool("watch", false, "keep printing the roster as it changes")
	probe       = flag.Bool("probe", false, "health-check the owner of -key")
	timeout     = flag.Duration("timeout", lookup.DefaultTimeout, "timeout of -probe")
)

func main() {
	flag.Parse()

	hasher, err := hashing.New(*hashName)
	if err != nil {
		log.Fatalln(err)
	}
	zkc, err := zookeeper.NewZookeeperClient(time.Second, zookeeper.ParseServers(*zkServers))
	if err != nil {
		log.Fatalln(err)
	}
	defer zkc.Close()

	rings := registry.New()
	router, err := lookup.NewRouter(rings, *timeout)
	if err != nil {
		log.Fatalln(err)
	}
	defer router.Close()

	path := zookeeper.GroupPath(*group)
	for {
		children, watchCh, err := zkc.GetChildren(path, *watch)
		if err != nil {
			log.Fatalln(err)
		}
		childrenData, err := zkc.GetDataFromChildren(path, children)
		if err != nil {
			log.Fatalln(err)
		}

		names := make([]string, 0, len(childrenData))
		for child := range childrenData {
			names = append(names, child)
		}
		sort.Strings(names)

		r := ring.New(*partitions, *replication, hasher)
		for _, child := range names {
			var peer types.PeerIdentity
			err := peer.UnmarshalBinary(childrenData[child])
			if err == nil {
				err = peer.Validate()
			}
			if err != nil {
				fmt.Printf("Member: %v, invalid payload: %v\n", child, err)
				continue
			}
			fmt.Printf("Member: %v, Peer: %v\n", child, peer)
			r.Add(peer)
		}
		fmt.Printf("Ring %v: %d peers, %d of %d slots, replication %d\n",
			*group, len(r.Peers()), r.Size(), r.Partitions(), r.Replication())
		rings.Put(*group, r)

		if *key != "" {
			printOwners(router, hasher, r)
		}

		if !*watch {
			return
		}
		e := <-watchCh
		fmt.Printf("Watch event: %v.\n", e.Type)
	}
}

func printOwners(router *lookup.Router, hasher hashing.Hasher, r *ring.Ring) {
	slot := hashing.Sum(hasher, *key) % uint32(r.Partitions())
	fmt.Printf("Key %q: slot %d\n", *key, slot)

	owners, err := router.Owners(*group, hashing.Key(*key), *count)
	if err != nil {
		fmt.Printf("No owners: %v\n", err)
		return
	}
	for i, owner := range owners {
		fmt.Printf("Owner %d: %v\n", i, owner)
	}

	if !*probe {
		return
	}
	owner, status, err := router.Probe(context.Background(), *group, hashing.Key(*key))
	if err != nil {
		fmt.Printf("Probe of %v failed: %v\n", owner, err)
		return
	}
	fmt.Printf("Owner %v is %v\n", owner, status)
}
