// cmd/kvnode is the entrypoint for a single replication node.
//
// Every node in the cluster runs the same binary; --node_id selects
// which entry of --all_nodes this process is, and that choice alone
// determines the node's preference-list position, its vnode
// placement, and its address (node-id and network address are the
// same string — see DESIGN.md).
//
// Example — three-node cluster, one process per shell:
//
//	./kvnode --node_id 127.0.0.1:9001 --port 9001 \
//	         --all_nodes 127.0.0.1:9001,127.0.0.1:9002,127.0.0.1:9003
//	./kvnode --node_id 127.0.0.1:9002 --port 9002 \
//	         --all_nodes 127.0.0.1:9001,127.0.0.1:9002,127.0.0.1:9003
//	./kvnode --node_id 127.0.0.1:9003 --port 9003 \
//	         --all_nodes 127.0.0.1:9001,127.0.0.1:9002,127.0.0.1:9003
package main

import (
	"context"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/spf13/cobra"

	"dynamokv/internal/api"
	"dynamokv/internal/config"
	"dynamokv/internal/coordinator"
	"dynamokv/internal/logging"
	"dynamokv/internal/membership"
	"dynamokv/internal/ring"
	"dynamokv/internal/store"
)

func main() {
	root := &cobra.Command{Use: "kvnode"}
	buildConfig := config.BindFlags(root)
	root.RunE = func(cmd *cobra.Command, args []string) error {
		cfg, err := buildConfig()
		if err != nil {
			return err
		}
		return run(cfg)
	}

	if err := root.Execute(); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}

func run(cfg config.Config) error {
	logger := logging.New(cfg.NodeID)

	s := store.New()
	r := ring.New(cfg.AllNodes, cfg.VnodesPerNode)

	m := membership.New(cfg.NodeID, cfg.AllNodes, cfg.HeartbeatInterval, cfg.PingTimeout, 3)

	coord := coordinator.New(cfg.NodeID, s, r, m, coordinator.Config{
		N:                  cfg.ReplicationFactor,
		R:                  cfg.ReadQuorumR,
		W:                  cfg.WriteQuorumW,
		ReplicationTimeout: cfg.ReplicationTimeout,
		ReadTimeout:        cfg.ReadTimeout,
		RepairTimeout:      5 * time.Second,
	})

	handler := api.NewHandler(cfg.NodeID, coord, m, r)
	router := api.NewRouter(cfg.Debug, handler)

	srv := &http.Server{
		Addr:         fmt.Sprintf(":%d", cfg.Port),
		Handler:      router,
		ReadTimeout:  10 * time.Second,
		WriteTimeout: 10 * time.Second,
	}

	membershipCtx, stopMembership := context.WithCancel(context.Background())
	m.Start(membershipCtx, coord.Ping, coord.Gossip)

	go func() {
		logger.Printf("listening on %s (N=%d R=%d W=%d, %d nodes, %d vnodes/node)",
			srv.Addr, cfg.ReplicationFactor, cfg.ReadQuorumR, cfg.WriteQuorumW,
			len(cfg.AllNodes), cfg.VnodesPerNode)
		if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			logger.Fatalf("server error: %v", err)
		}
	}()

	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	<-quit

	logger.Printf("shutting down")
	stopMembership()
	m.Stop()

	ctx, cancel := context.WithTimeout(context.Background(), 15*time.Second)
	defer cancel()
	if err := srv.Shutdown(ctx); err != nil {
		logger.Printf("server shutdown error: %v", err)
	}
	return nil
}
