// Package config defines the node's typed configuration and the
// Cobra flag surface that populates it, matching spec §6's CLI
// exactly.
package config

import (
	"fmt"
	"strings"
	"time"

	"github.com/spf13/cobra"
)

// Config is a node's fully parsed, validated configuration.
type Config struct {
	NodeID   string
	Port     int
	AllNodes []string

	ReplicationFactor int
	ReadQuorumR       int
	WriteQuorumW      int
	VnodesPerNode     int

	HeartbeatInterval  time.Duration
	PingTimeout        time.Duration
	ReplicationTimeout time.Duration
	ReadTimeout        time.Duration

	Debug bool
}

// BindFlags registers every flag spec §6 names on cmd and returns a
// function that, once cmd has parsed argv, produces the validated
// Config.
func BindFlags(cmd *cobra.Command) func() (Config, error) {
	var (
		nodeID            string
		port              int
		allNodes          string
		replicationFactor int
		readQuorumR       int
		writeQuorumW      int
		vnodesPerNode     int
		heartbeatInterval float64
		pingTimeout       float64
		replicationTO     float64
		readTO            float64
		debug             bool
	)

	flags := cmd.Flags()
	flags.StringVar(&nodeID, "node_id", "", "unique node identifier (required)")
	flags.IntVar(&port, "port", 0, "listen port (required)")
	flags.StringVar(&allNodes, "all_nodes", "", "comma-separated host:port list, fixed for the process lifetime (required)")
	flags.IntVar(&replicationFactor, "replication_factor", 3, "N: preference list size")
	flags.IntVar(&readQuorumR, "read_quorum_r", 2, "R: read quorum")
	flags.IntVar(&writeQuorumW, "write_quorum_w", 2, "W: write quorum")
	flags.IntVar(&vnodesPerNode, "vnodes_per_node", 150, "virtual nodes per physical node")
	flags.Float64Var(&heartbeatInterval, "heartbeat_interval", 1.0, "membership loop period, seconds")
	flags.Float64Var(&pingTimeout, "ping_timeout", 0.4, "probe RPC timeout, seconds")
	flags.Float64Var(&replicationTO, "replication_timeout", 2.0, "replicate RPC timeout, seconds")
	flags.Float64Var(&readTO, "read_timeout", 2.0, "quorum-read get_local RPC timeout, seconds")
	flags.BoolVar(&debug, "debug", false, "enable verbose gin debug mode")

	return func() (Config, error) {
		cfg := Config{
			NodeID:             nodeID,
			Port:               port,
			ReplicationFactor:  replicationFactor,
			ReadQuorumR:        readQuorumR,
			WriteQuorumW:       writeQuorumW,
			VnodesPerNode:      vnodesPerNode,
			HeartbeatInterval:  secondsToDuration(heartbeatInterval),
			PingTimeout:        secondsToDuration(pingTimeout),
			ReplicationTimeout: secondsToDuration(replicationTO),
			ReadTimeout:        secondsToDuration(readTO),
			Debug:              debug,
		}
		if allNodes != "" {
			for _, n := range strings.Split(allNodes, ",") {
				n = strings.TrimSpace(n)
				if n != "" {
					cfg.AllNodes = append(cfg.AllNodes, n)
				}
			}
		}
		if err := cfg.Validate(); err != nil {
			return Config{}, err
		}
		return cfg, nil
	}
}

func secondsToDuration(s float64) time.Duration {
	return time.Duration(s * float64(time.Second))
}

// Validate enforces the invariants main needs before wiring anything up.
func (c Config) Validate() error {
	if c.NodeID == "" {
		return fmt.Errorf("config: --node_id is required")
	}
	if c.Port <= 0 {
		return fmt.Errorf("config: --port is required and must be positive")
	}
	if len(c.AllNodes) == 0 {
		return fmt.Errorf("config: --all_nodes is required")
	}

	found := false
	for _, n := range c.AllNodes {
		if n == c.NodeID {
			found = true
			break
		}
	}
	if !found {
		return fmt.Errorf("config: --node_id %q must appear in --all_nodes %v", c.NodeID, c.AllNodes)
	}

	if c.ReplicationFactor <= 0 {
		return fmt.Errorf("config: --replication_factor must be positive")
	}
	if c.ReadQuorumR <= 0 || c.WriteQuorumW <= 0 {
		return fmt.Errorf("config: --read_quorum_r and --write_quorum_w must be positive")
	}
	if c.VnodesPerNode <= 0 {
		return fmt.Errorf("config: --vnodes_per_node must be positive")
	}
	return nil
}
