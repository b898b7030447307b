package main

import (
	"context"
	"flag"
	_ "net/http/pprof"
	"net/http"
	"os"
	"os/signal"
	"runtime"
	"strings"
	"syscall"
	"time"

	"github.com/coreos/etcd/clientv3"
	"github.com/fagongzi/log"

	"github.com/dataplacement/ddtc/pkg/dashboard"
	"github.com/dataplacement/ddtc/pkg/ddtc"
	"github.com/dataplacement/ddtc/pkg/metrics"
	"github.com/dataplacement/ddtc/pkg/util"
)

var (
	region          = flag.String("region", "primary", "Region name this instance drives")
	nodeID          = flag.Uint("id", 0, "Node ID, seeds the team-id generator")
	datacenter      = flag.String("dc", "dc-1", "Datacenter label")
	addrEtcd        = flag.String("addr-etcd", "127.0.0.1:2379", "Addr: etcd endpoints, comma separated")
	addrPPROF       = flag.String("addr-pprof", "", "Addr: pprof addr")
	addrDashboard   = flag.String("addr-dashboard", "127.0.0.1:8081", "Addr: debug snapshot dashboard")
	storageTeamSize = flag.Int("team-size", 3, "Replication factor k")
	usableRegions   = flag.Int("usable-regions", 1, "Count: usable regions (1 or 2)")
	desiredTSS      = flag.Int("desired-tss", 0, "Count: desired testing storage servers")
	candidates      = flag.String("candidates", "", "Static pool of recruitable addresses, comma separated")
	cpu             = flag.Int("cpu", 0, "Limit: schedule threads count")

	prometheusJob             = flag.String("metrics-job", "ddtc", "Prometheus job name")
	prometheusPushgateway     = flag.String("metrics-push-addr", "", "Prometheus pushgateway address")
	prometheusPushIntervalSec = flag.Int("metrics-push-interval", 0, "Prometheus metrics push interval in seconds")

	version = flag.Bool("version", false, "Show version info")
)

func main() {
	flag.Parse()
	if *version && util.PrintVersion() {
		os.Exit(0)
	}

	log.InitLog()

	if *cpu == 0 {
		runtime.GOMAXPROCS(runtime.NumCPU())
	} else {
		runtime.GOMAXPROCS(*cpu)
	}

	if *addrPPROF != "" {
		go func() {
			log.Errorf("start pprof failed, errors:\n%+v", http.ListenAndServe(*addrPPROF, nil))
		}()
	}

	metrics.Push(&metrics.MetricConfig{
		PushJob:      *prometheusJob,
		PushAddress:  *prometheusPushgateway,
		PushInterval: time.Second * time.Duration(*prometheusPushIntervalSec),
	})

	etcdClient, err := clientv3.New(clientv3.Config{
		Endpoints:   strings.Split(*addrEtcd, ","),
		DialTimeout: time.Second * 5,
	})
	if err != nil {
		log.Fatalf("connect etcd failed with %+v", err)
	}

	cfg := &ddtc.Cfg{
		Region:          *region,
		StorageTeamSize: *storageTeamSize,
		UsableRegions:   *usableRegions,
		DesiredTSSCount: *desiredTSS,
	}
	cfg.Adjust()

	keyspace := ddtc.NewEtcdKeyspace(etcdClient, *region, *datacenter)

	var pool []string
	if *candidates != "" {
		pool = strings.Split(*candidates, ",")
	}

	sup := ddtc.NewSupervisor(cfg, uint16(*nodeID), nil, ddtc.SupervisorDeps{
		Keyspace:         keyspace,
		Shards:           ddtc.NewEmptyShardLookup(),
		Drain:            ddtc.NewImmediateDrainWaiter(),
		Health:           ddtc.NewAlwaysHealthyRelocationQueue(),
		Controller:       ddtc.NewStaticClusterController(pool),
		FailureMon:       ddtc.NewDialFailureMonitor(time.Second * 5),
		MetricsSrc:       ddtc.NewHTTPMetricsSource(time.Second * 5),
		IfaceWatch:       ddtc.NewStaticInterfaceWatcher(),
		RelocationSink:   ddtc.NewHTTPRelocationSink(*addrDashboard, time.Second*5),
		StorageInitiator: ddtc.NewHTTPStorageInitiator(time.Second * 10),
		EmitterWorkers:   4,
	})

	dash := dashboard.NewDashboard(dashboard.Cfg{Addr: *addrDashboard}, sup)

	ctx, cancel := context.WithCancel(context.Background())

	triggers, err := keyspace.WatchDebugSnapshotTrigger(ctx)
	if err != nil {
		log.Fatalf("watch debug snapshot trigger failed with %+v", err)
	}
	dash.StartWatch(ctx, triggers)
	go dash.Start()

	runErrC := make(chan error, 1)
	go func() {
		runErrC <- sup.Run(ctx, keyspace, *datacenter)
	}()

	waitStop(cancel, dash, runErrC)
}

func waitStop(cancel context.CancelFunc, dash *dashboard.Dashboard, runErrC chan error) {
	sc := make(chan os.Signal, 1)
	signal.Notify(sc, syscall.SIGHUP, syscall.SIGINT, syscall.SIGTERM, syscall.SIGQUIT)

	select {
	case sig := <-sc:
		cancel()
		dash.Stop()
		<-runErrC
		log.Infof("exit: signal=<%d>.", sig)
		switch sig {
		case syscall.SIGTERM:
			log.Infof("exit: bye :-).")
			os.Exit(0)
		default:
			log.Infof("exit: bye :-(.")
			os.Exit(1)
		}
	case err := <-runErrC:
		log.Errorf("region loop stopped with %+v", err)
		dash.Stop()
		os.Exit(1)
	}
}
