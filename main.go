package main

import (
	"flag"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"github.com/prometheus/client_golang/prometheus/promhttp"
	log "github.com/sirupsen/logrus"

	"go.timothygu.me/zkring/internal/pkg/chmembership"
	"go.timothygu.me/zkring/internal/pkg/hashing"
	"go.timothygu.me/zkring/internal/pkg/internserve"
	"go.timothygu.me/zkring/internal/pkg/types"
	"go.timothygu.me/zkring/internal/pkg/zookeeper"
)

var (
	zkServers   = flag.String("zk", "127.0.0.1:2181", "comma separated ZooKeeper servers")
	zkTimeout   = flag.Duration("timeout", 10*time.Second, "ZooKeeper session timeout")
	groups      = flag.String("group", "default", "comma separated groups to join")
	address     = flag.String("addr", "127.0.0.1", "address advertised to other peers")
	basePort    = flag.Int("port", 1054, "port of the internal gRPC API")
	partitions  = flag.Int("partitions", chmembership.DefaultPartitions, "partition slots per ring")
	replication = flag.Int("replication", chmembership.DefaultReplication, "virtual nodes per peer")
	hashName    = flag.String("hash", "murmur3", "hash function: murmur3, xxhash or siphash")
	metricsAddr = flag.String("metrics", "", "address to serve Prometheus metrics on, disabled if empty")
	verbose     = flag.Bool("v", false, "log ring changes in detail")
)

func main() {
	flag.Parse()
	if *verbose {
		log.SetLevel(log.DebugLevel)
	}

	hasher, err := hashing.New(*hashName)
	if err != nil {
		log.Fatalln(err)
	}
	client, err := zookeeper.NewZookeeperClient(*zkTimeout, zookeeper.ParseServers(*zkServers))
	if err != nil {
		log.Fatalln(err)
	}

	self := types.NewPeerIdentity(*address, *basePort)
	m, err := chmembership.NewMembership(chmembership.Config{
		Identity:    self,
		Partitions:  *partitions,
		Replication: *replication,
		Hasher:      hasher,
	}, client)
	if err != nil {
		log.Fatalln(err)
	}

	server := internserve.New()
	go func() {
		if err := internserve.Start(fmt.Sprintf(":%d", *basePort), server); err != nil {
			log.Fatalln(err)
		}
	}()

	if *metricsAddr != "" {
		go func() {
			http.Handle("/metrics", promhttp.Handler())
			log.Infof("main: serving metrics at %v", *metricsAddr)
			if err := http.ListenAndServe(*metricsAddr, nil); err != nil {
				log.Errorf("main: metrics server: %v", err)
			}
		}()
	}

	var joined []string
	for _, group := range strings.Split(*groups, ",") {
		if group = strings.TrimSpace(group); group == "" {
			continue
		}
		if err := m.Subscribe(group); err != nil {
			log.Fatalln(err)
		}
		server.SetServing(group, true)
		joined = append(joined, group)
	}
	log.Infof("main: peer %v serving %v", self, joined)

	sig := make(chan os.Signal, 1)
	signal.Notify(sig, syscall.SIGINT, syscall.SIGTERM)
	<-sig

	for _, group := range joined {
		server.SetServing(group, false)
	}
	if err := m.Close(); err != nil {
		log.Errorf("main: %v", err)
	}
	server.Stop()
}
