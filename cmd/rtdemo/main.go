// Package main demonstrates the toolkit end to end: a PeerLimits policy
// broadcast through an AsyncObject and applied by an AsyncWorker, a
// Topology enforcing it, and a discovery Registry publishing the known
// peer list through a RealtimeObject.
//
//	# run with the default policy
//	go run cmd/rtdemo/main.go
//
//	# run with a tighter connection ceiling and a couple of seeds
//	go run cmd/rtdemo/main.go --max-peers 4 --seed 10.0.0.1:3000,10.0.0.2:3000
package main

import (
	"flag"
	"log"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"github.com/dmambro/lockfree-go/asyncobject"
	"github.com/dmambro/lockfree-go/asyncworker"
	"github.com/dmambro/lockfree-go/internal/discovery"
	"github.com/dmambro/lockfree-go/internal/topology"
)

var (
	maxPeers    = flag.Int("max-peers", 50, "maximum total peer count")
	seeds       = flag.String("seed", "", "comma-separated seed peer addresses")
	tickPeriod  = flag.Duration("tick-period", asyncworker.DefaultPeriod, "worker tick interval")
	statusEvery = flag.Duration("status-every", 5*time.Second, "how often to print topology status")
	verbose     = flag.Bool("verbose", false, "verbose logging")
)

func identityLimits(l topology.PeerLimits) topology.PeerLimits { return l }

func main() {
	flag.Parse()

	log.SetFlags(log.Ldate | log.Ltime | log.Lmicroseconds)
	if *verbose {
		log.SetFlags(log.Ldate | log.Ltime | log.Lmicroseconds | log.Lshortfile)
	}

	limits := topology.DefaultPeerLimits
	limits.MaxPeers = *maxPeers
	limits.MaxInboundPeers = *maxPeers / 2
	limits.MaxOutboundPeers = *maxPeers / 2

	limitsObj := asyncobject.New[topology.PeerLimits](limits, identityLimits)
	limitsInstance := limitsObj.CreateInstance()
	limitsProducer := limitsObj.CreateProducer()

	worker := asyncworker.New(*tickPeriod)
	worker.Attach(limitsObj)
	worker.SetDiagnosticHook(func(event string, err error) {
		if err != nil {
			log.Printf("[worker] %s: %v", event, err)
		} else if *verbose {
			log.Printf("[worker] %s", event)
		}
	})
	worker.Start()

	topo := topology.New(limitsInstance)
	registry := discovery.New(discovery.DefaultConfig)
	registry.SetEventHandler(func(e discovery.Event) {
		log.Printf("[discovery] %s %s", eventName(e.Type), e.Peer.Addr)
	})

	var seedList []string
	if *seeds != "" {
		for _, s := range strings.Split(*seeds, ",") {
			seedList = append(seedList, strings.TrimSpace(s))
		}
	}
	for _, addr := range seedList {
		registry.AddPeer(discovery.PeerInfo{Addr: addr, Source: "seed", LastSeen: time.Now()})
	}

	log.Printf("====================================")
	log.Printf("toolkit demo running")
	log.Printf("peer limit: %d (in=%d out=%d)", limits.MaxPeers, limits.MaxInboundPeers, limits.MaxOutboundPeers)
	if len(seedList) > 0 {
		log.Printf("seeds: %v", seedList)
	}
	log.Printf("====================================")

	go statusLoop(topo, registry, limitsProducer, *statusEvery)

	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)
	sig := <-sigCh
	log.Printf("received signal %v, shutting down", sig)

	worker.Stop()
	topo.Close()
	log.Printf("shutdown complete")
}

func eventName(t discovery.EventType) string {
	switch t {
	case discovery.EventPeerDiscovered:
		return "discovered"
	case discovery.EventPeerUpdated:
		return "updated"
	case discovery.EventPeerRemoved:
		return "removed"
	default:
		return "unknown"
	}
}

// statusLoop periodically reports topology occupancy and, every third
// tick, submits a change raising PeerLimits.MaxPeers by one (and
// resetting the inbound and outbound limits to half of it each) so the
// demo visibly exercises the AsyncObject broadcast path.
func statusLoop(topo *topology.Topology, registry *discovery.Registry, limitsProducer *asyncobject.Producer[topology.PeerLimits, topology.PeerLimits], period time.Duration) {
	ticker := time.NewTicker(period)
	defer ticker.Stop()

	tick := 0
	for range ticker.C {
		tick++
		log.Printf("[status] peers=%d/%d (in=%d out=%d) known=%d",
			topo.Count(), *maxPeers, topo.InboundCount(), topo.OutboundCount(), registry.PeerCount())

		if tick%3 == 0 {
			delta := 1
			limitsProducer.Submit(func(l *topology.PeerLimits) {
				l.MaxPeers += delta
				l.MaxInboundPeers = l.MaxPeers / 2
				l.MaxOutboundPeers = l.MaxPeers / 2
			})
			log.Printf("[status] submitted limit adjustment: %+d", delta)
		}
	}
}
