package main

import (
	"fmt"
	"os"
	"strings"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/spf13/cobra"
	gracefully "github.com/tj/go-gracefully"

	"github.com/castellan/castellan/controller"
	"github.com/castellan/castellan/election"
	"github.com/castellan/castellan/log"
	"github.com/castellan/castellan/membership"
	"github.com/castellan/castellan/meta"
	"github.com/castellan/castellan/protocol"
)

var (
	cli = &cobra.Command{
		Use:   "castellan",
		Short: "Cluster controller for a partitioned log broker",
	}

	runCfg = struct {
		ID        int32
		ZKServers string
		ZKTimeout time.Duration
		SerfAddr  string
		Addr      string
		Join      []string
		DevMode   bool
	}{}
)

func init() {
	runCmd := &cobra.Command{Use: "controller", Short: "Run a castellan controller", Run: run}
	runCmd.Flags().Int32Var(&runCfg.ID, "id", 0, "Broker ID of this controller")
	runCmd.Flags().StringVar(&runCfg.ZKServers, "zk", "127.0.0.1:2181", "Comma separated ZooKeeper ensemble addresses")
	runCmd.Flags().DurationVar(&runCfg.ZKTimeout, "zk-timeout", 6*time.Second, "ZooKeeper session timeout")
	runCmd.Flags().StringVar(&runCfg.SerfAddr, "serf-addr", "0.0.0.0:9094", "Address for Serf to bind on")
	runCmd.Flags().StringVar(&runCfg.Addr, "addr", "0.0.0.0:9092", "Address to advertise to the cluster")
	runCmd.Flags().StringSliceVar(&runCfg.Join, "join", nil, "Address of a serf member to join at start time. Can be specified multiple times.")
	runCmd.Flags().BoolVar(&runCfg.DevMode, "dev", false, "Run against an in-memory metadata store")
	cli.AddCommand(runCmd)
}

func run(cmd *cobra.Command, args []string) {
	logger := log.New().With(
		log.Int32("id", runCfg.ID),
		log.String("serf addr", runCfg.SerfAddr),
	)

	var store meta.Store
	if runCfg.DevMode {
		store = meta.NewInMemory()
	} else {
		var err error
		store, err = meta.Dial(strings.Split(runCfg.ZKServers, ","), runCfg.ZKTimeout, logger)
		if err != nil {
			fmt.Fprintf(os.Stderr, "error connecting to metadata store: %v\n", err)
			os.Exit(1)
		}
	}
	defer store.Close()

	memberCfg := membership.DefaultConfig()
	memberCfg.ID = runCfg.ID
	memberCfg.Addr = runCfg.Addr
	memberCfg.SerfConfig.MemberlistConfig.BindAddr, memberCfg.SerfConfig.MemberlistConfig.BindPort = splitHostPort(runCfg.SerfAddr)
	memberCfg.StartJoinAddrs = runCfg.Join
	tracker, err := membership.NewTracker(memberCfg, logger)
	if err != nil {
		fmt.Fprintf(os.Stderr, "error starting membership tracker: %v\n", err)
		os.Exit(1)
	}

	// The replica transport is pluggable; log-only until a broker client is
	// wired in.
	send := func(brokerID int32, req protocol.Request) error {
		logger.Debug("dispatch request", log.Int32("broker", brokerID), log.Any("key", req.Key()))
		return nil
	}

	cfg := controller.DefaultConfig()
	cfg.ID = runCfg.ID
	ctrl := controller.New(cfg, store, send, tracker.LiveBrokerIDs, prometheus.DefaultRegisterer, logger)
	ctrl.Startup()

	go func() {
		for ev := range tracker.Events() {
			switch ev.Type {
			case membership.BrokerJoin:
				ctrl.OnBrokerStartup(ev.Broker.ID)
			case membership.BrokerFail:
				ctrl.OnBrokerFailure(ev.Broker.ID)
			}
		}
	}()

	elector := election.NewElector(store, runCfg.ID, logger)
	if err := elector.Start(ctrl.OnControllerFailover, ctrl.OnControllerResignation); err != nil {
		fmt.Fprintf(os.Stderr, "error starting election: %v\n", err)
		os.Exit(1)
	}

	logger.Info("castellan started")

	gracefully.Timeout = 10 * time.Second
	gracefully.Shutdown()

	elector.Stop()
	ctrl.Shutdown()
	if err := tracker.Shutdown(); err != nil {
		fmt.Fprintf(os.Stderr, "error shutting down membership: %v\n", err)
		os.Exit(1)
	}
}

func splitHostPort(addr string) (string, int) {
	host := addr
	port := 9094
	if idx := strings.LastIndex(addr, ":"); idx >= 0 {
		host = addr[:idx]
		fmt.Sscanf(addr[idx+1:], "%d", &port)
	}
	return host, port
}

func main() {
	cli.Execute()
}
