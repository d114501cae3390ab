// cmd/kvctl is the CLI client for the replicated KV store.
//
// Usage:
//
//	kvctl put mykey "hello world"         --server http://localhost:9001
//	kvctl get mykey                       --server http://localhost:9001
//	kvctl replicas mykey                  --server http://localhost:9001
//	kvctl repair mykey                    --server http://localhost:9001
//	kvctl delay 60000                     --server http://localhost:9001
//	kvctl clear-delay                     --server http://localhost:9001
//	kvctl ring                            --server http://localhost:9001
//	kvctl ping                            --server http://localhost:9001
package main

import (
	"context"
	"encoding/json"
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/spf13/cobra"

	"dynamokv/internal/client"
	"dynamokv/internal/ring"
)

var (
	serverAddr string
	timeout    time.Duration
)

func main() {
	root := &cobra.Command{
		Use:   "kvctl",
		Short: "CLI client for the replicated KV store",
	}

	root.PersistentFlags().StringVarP(&serverAddr, "server", "s",
		"http://localhost:9001", "node base URL to dial")
	root.PersistentFlags().DurationVar(&timeout, "timeout", 10*time.Second,
		"HTTP request timeout")

	root.AddCommand(
		pingCmd(),
		putCmd(),
		getCmd(),
		replicasCmd(),
		repairCmd(),
		delayCmd(),
		clearDelayCmd(),
		ringCmd(),
	)

	if err := root.Execute(); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}

func pingCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "ping",
		Short: "Check liveness of the dialed node",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			c := client.New(serverAddr, timeout)
			resp, err := c.Ping(context.Background())
			if err != nil {
				return err
			}
			return prettyPrint(resp)
		},
	}
}

func putCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "put <key> <value>",
		Short: "Store a key-value pair via the quorum write path",
		Args:  cobra.ExactArgs(2),
		RunE: func(cmd *cobra.Command, args []string) error {
			c := client.New(serverAddr, timeout)
			resp, err := c.Put(context.Background(), args[0], args[1])
			if err != nil {
				return err
			}
			return prettyPrint(resp)
		},
	}
}

func getCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "get <key>",
		Short: "Read a key via the quorum read path",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			c := client.New(serverAddr, timeout)
			resp, err := c.Get(context.Background(), args[0])
			if err != nil {
				return err
			}
			return prettyPrint(resp)
		},
	}
}

func replicasCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "replicas <key>",
		Short: "Show the preference list for a key, ignoring liveness",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			c := client.New(serverAddr, timeout)
			replicas, err := c.ReplicasForKey(context.Background(), args[0])
			if err != nil {
				return err
			}
			return prettyPrint(replicas)
		},
	}
}

func repairCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "repair <key>",
		Short: "Drive one single-hop anti-entropy round for a key",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			c := client.New(serverAddr, timeout)
			result, err := c.RepairOnce(context.Background(), args[0])
			if err != nil {
				return err
			}
			return prettyPrint(result)
		},
	}
}

func delayCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "delay <milliseconds>",
		Short: "Inject an artificial per-request delay at the node (fault injection)",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			ms, err := strconv.Atoi(args[0])
			if err != nil {
				return fmt.Errorf("invalid milliseconds %q: %w", args[0], err)
			}
			c := client.New(serverAddr, timeout)
			if err := c.SetDelay(context.Background(), ms); err != nil {
				return err
			}
			fmt.Printf("delay set to %dms\n", ms)
			return nil
		},
	}
}

func clearDelayCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "clear-delay",
		Short: "Remove any previously injected delay",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			c := client.New(serverAddr, timeout)
			if err := c.ClearDelay(context.Background()); err != nil {
				return err
			}
			fmt.Println("delay cleared")
			return nil
		},
	}
}

func ringCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "ring",
		Short: "Show the dialed node's ring placement and membership view",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			c := client.New(serverAddr, timeout)
			snap, err := c.RingSnapshot(context.Background())
			if err != nil {
				return err
			}
			return prettyPrint(snap)
		},
	}
	cmd.AddCommand(ringVerifyCmd())
	return cmd
}

// ringVerifyCmd cross-checks a node's reported preference list for a
// key against an independently-computed ring built from --all_nodes,
// catching drift between the node's view of the cluster and the
// caller's expectation of it.
func ringVerifyCmd() *cobra.Command {
	var (
		allNodesFlag string
		vnodes       int
		n            int
	)

	cmd := &cobra.Command{
		Use:   "verify <key>",
		Short: "Cross-check a node's replica set for a key against a locally-computed ring",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			key := args[0]
			if allNodesFlag == "" {
				return fmt.Errorf("kvctl ring verify: --all_nodes is required")
			}
			allNodes := strings.Split(allNodesFlag, ",")

			c := client.New(serverAddr, timeout)
			reported, err := c.ReplicasForKey(context.Background(), key)
			if err != nil {
				return err
			}

			local := ring.New(allNodes, vnodes)
			expected := local.GetReplicas(key, n, nil)

			match := sameSet(reported, expected)
			return prettyPrint(map[string]any{
				"key":      key,
				"reported": reported,
				"expected": expected,
				"match":    match,
			})
		},
	}

	cmd.Flags().StringVar(&allNodesFlag, "all_nodes", "", "comma-separated host:port list, same set the cluster was started with (required)")
	cmd.Flags().IntVar(&vnodes, "vnodes_per_node", 150, "must match the cluster's --vnodes_per_node")
	cmd.Flags().IntVar(&n, "n", 3, "replication factor, must match the cluster's --replication_factor")
	return cmd
}

func sameSet(a, b []string) bool {
	if len(a) != len(b) {
		return false
	}
	seen := make(map[string]int, len(a))
	for _, x := range a {
		seen[x]++
	}
	for _, x := range b {
		seen[x]--
	}
	for _, count := range seen {
		if count != 0 {
			return false
		}
	}
	return true
}

func prettyPrint(v any) error {
	data, err := json.MarshalIndent(v, "", "  ")
	if err != nil {
		return err
	}
	fmt.Println(string(data))
	return nil
}
