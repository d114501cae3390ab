// cmd/kvcluster launches an N-node local cluster of kvnode processes,
// staggers their startup so the first heartbeat sweep finds every
// peer already listening, and writes a PID/port map so other tools
// (kvload, manual kvctl probing) can find the cluster.
package main

import (
	"encoding/json"
	"fmt"
	"os"
	"os/exec"
	"os/signal"
	"strconv"
	"syscall"
	"time"

	"github.com/spf13/cobra"
)

type procInfo struct {
	NodeID string `json:"node_id"`
	PID    int    `json:"pid"`
	Port   int    `json:"port"`
}

func main() {
	var (
		nNodes            int
		basePort          int
		stagger           time.Duration
		replicationFactor int
		readQuorumR       int
		writeQuorumW      int
		vnodesPerNode     int
		binary            string
		outFile           string
	)

	root := &cobra.Command{
		Use:   "kvcluster",
		Short: "Launch a local multi-process replicated KV cluster",
		RunE: func(cmd *cobra.Command, args []string) error {
			return launch(launchOpts{
				nNodes:            nNodes,
				basePort:          basePort,
				stagger:           stagger,
				replicationFactor: replicationFactor,
				readQuorumR:       readQuorumR,
				writeQuorumW:      writeQuorumW,
				vnodesPerNode:     vnodesPerNode,
				binary:            binary,
				outFile:           outFile,
			})
		},
	}

	root.Flags().IntVar(&nNodes, "nodes", 5, "number of nodes to launch")
	root.Flags().IntVar(&basePort, "base_port", 60000, "first node's port; subsequent nodes increment by 1")
	root.Flags().DurationVar(&stagger, "stagger", 150*time.Millisecond, "delay between launching each node")
	root.Flags().IntVar(&replicationFactor, "replication_factor", 3, "N passed to every node")
	root.Flags().IntVar(&readQuorumR, "read_quorum_r", 2, "R passed to every node")
	root.Flags().IntVar(&writeQuorumW, "write_quorum_w", 2, "W passed to every node")
	root.Flags().IntVar(&vnodesPerNode, "vnodes_per_node", 150, "virtual nodes per physical node")
	root.Flags().StringVar(&binary, "binary", "kvnode", "path to the kvnode binary")
	root.Flags().StringVar(&outFile, "out", "cluster_procs.json", "where to write the PID/port map")

	if err := root.Execute(); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}

type launchOpts struct {
	nNodes                                int
	basePort                              int
	stagger                               time.Duration
	replicationFactor, readQuorumR, writeQuorumW, vnodesPerNode int
	binary                                string
	outFile                               string
}

func launch(opts launchOpts) error {
	allNodes := make([]string, opts.nNodes)
	for i := 0; i < opts.nNodes; i++ {
		allNodes[i] = fmt.Sprintf("127.0.0.1:%d", opts.basePort+i)
	}
	allNodesArg := joinComma(allNodes)

	procs := make([]*exec.Cmd, 0, opts.nNodes)
	infos := make([]procInfo, 0, opts.nNodes)

	for i, nodeID := range allNodes {
		port := opts.basePort + i
		cmd := exec.Command(opts.binary,
			"--node_id", nodeID,
			"--port", strconv.Itoa(port),
			"--all_nodes", allNodesArg,
			"--replication_factor", strconv.Itoa(opts.replicationFactor),
			"--read_quorum_r", strconv.Itoa(opts.readQuorumR),
			"--write_quorum_w", strconv.Itoa(opts.writeQuorumW),
			"--vnodes_per_node", strconv.Itoa(opts.vnodesPerNode),
		)
		cmd.Stdout = os.Stdout
		cmd.Stderr = os.Stderr

		fmt.Printf("[kvcluster] starting %s on %d\n", nodeID, port)
		if err := cmd.Start(); err != nil {
			return fmt.Errorf("start %s: %w", nodeID, err)
		}
		procs = append(procs, cmd)
		infos = append(infos, procInfo{NodeID: nodeID, PID: cmd.Process.Pid, Port: port})
		time.Sleep(opts.stagger)
	}

	data, err := json.MarshalIndent(infos, "", "  ")
	if err != nil {
		return err
	}
	if err := os.WriteFile(opts.outFile, data, 0o644); err != nil {
		return fmt.Errorf("write %s: %w", opts.outFile, err)
	}
	fmt.Printf("[kvcluster] %d nodes started; procs written to %s\n", opts.nNodes, opts.outFile)

	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	<-quit

	fmt.Println("[kvcluster] terminating cluster processes")
	for _, cmd := range procs {
		_ = cmd.Process.Signal(syscall.SIGTERM)
	}
	for _, cmd := range procs {
		_ = cmd.Wait()
	}
	return nil
}

func joinComma(items []string) string {
	out := ""
	for i, item := range items {
		if i > 0 {
			out += ","
		}
		out += item
	}
	return out
}
