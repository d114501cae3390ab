// Package membership implements the combined heartbeat failure
// detector and gossip protocol that feeds the ring its live node set.
//
// Two periodic activities share one loop running at HeartbeatInterval:
// a parallel probe sweep of every peer, and a gossip exchange with one
// random alive peer. The transport itself — how a probe or a gossip
// POST actually reaches a peer — is injected by the caller so this
// package stays free of HTTP concerns; internal/coordinator provides
// the HTTP transports and cmd/kvnode passes them to Start.
package membership

import (
	"context"
	"encoding/json"
	"fmt"
	"math/rand"
	"sync"
	"time"

	"golang.org/x/sync/errgroup"
)

// Status is a peer's believed liveness.
type Status int

const (
	Alive Status = iota
	Dead
)

func (s Status) String() string {
	if s == Alive {
		return "alive"
	}
	return "dead"
}

// MarshalJSON renders Status as its string form so the gossip wire
// format stays human-readable across peers.
func (s Status) MarshalJSON() ([]byte, error) {
	return json.Marshal(s.String())
}

// UnmarshalJSON parses the string form produced by MarshalJSON.
func (s *Status) UnmarshalJSON(data []byte) error {
	var str string
	if err := json.Unmarshal(data, &str); err != nil {
		return err
	}
	switch str {
	case "alive":
		*s = Alive
	case "dead":
		*s = Dead
	default:
		return fmt.Errorf("membership: unknown status %q", str)
	}
	return nil
}

// Entry is one row of the membership table.
type Entry struct {
	Status      Status    `json:"status"`
	Incarnation uint64    `json:"incarnation"`
	Timestamp   time.Time `json:"timestamp"`
}

// Table is a snapshot of the membership table keyed by node id.
type Table map[string]Entry

// ProbeFunc issues a liveness probe to peer and reports whether it
// succeeded within its own deadline. The caller is responsible for
// applying the probe timeout (default 400ms) via ctx.
type ProbeFunc func(ctx context.Context, peer string) error

// GossipFunc POSTs the local table to peer and returns peer's merged
// response table.
type GossipFunc func(ctx context.Context, peer string, local Table) (Table, error)

// Service owns the membership table for one node.
type Service struct {
	mu    sync.RWMutex
	table Table

	selfID    string
	peers     []string // all_nodes excluding self
	failCount map[string]int

	heartbeatInterval time.Duration
	pingTimeout       time.Duration
	failThreshold     int

	stop chan struct{}
	wg   sync.WaitGroup
}

// New builds a Service over the fixed node set allNodes (which must
// include selfID). Every node starts Alive with incarnation 0.
func New(selfID string, allNodes []string, heartbeatInterval, pingTimeout time.Duration, failThreshold int) *Service {
	now := time.Now().UTC()
	table := make(Table, len(allNodes))
	var peers []string
	for _, id := range allNodes {
		table[id] = Entry{Status: Alive, Incarnation: 0, Timestamp: now}
		if id != selfID {
			peers = append(peers, id)
		}
	}

	return &Service{
		table:             table,
		selfID:            selfID,
		peers:             peers,
		failCount:         make(map[string]int),
		heartbeatInterval: heartbeatInterval,
		pingTimeout:       pingTimeout,
		failThreshold:     failThreshold,
		stop:              make(chan struct{}),
	}
}

// Start runs the probe-sweep-then-gossip loop until ctx is canceled or
// Stop is called. probe and gossip supply the actual network calls.
func (s *Service) Start(ctx context.Context, probe ProbeFunc, gossip GossipFunc) {
	s.wg.Add(1)
	go func() {
		defer s.wg.Done()
		ticker := time.NewTicker(s.heartbeatInterval)
		defer ticker.Stop()

		for {
			select {
			case <-ctx.Done():
				return
			case <-s.stop:
				return
			case <-ticker.C:
				s.probeSweep(ctx, probe)
				s.gossipOnce(ctx, gossip)
			}
		}
	}()
}

// Stop is a cooperative shutdown signal read once per loop iteration.
func (s *Service) Stop() {
	close(s.stop)
	s.wg.Wait()
}

// probeSweep pings every peer in parallel and updates fail counts and
// statuses based on the outcome.
func (s *Service) probeSweep(ctx context.Context, probe ProbeFunc) {
	s.mu.RLock()
	peers := make([]string, len(s.peers))
	copy(peers, s.peers)
	s.mu.RUnlock()

	var g errgroup.Group
	for _, peer := range peers {
		peer := peer
		g.Go(func() error {
			pctx, cancel := context.WithTimeout(ctx, s.pingTimeout)
			defer cancel()
			err := probe(pctx, peer)
			s.recordProbeResult(peer, err == nil)
			return nil
		})
	}
	_ = g.Wait()
}

func (s *Service) recordProbeResult(peer string, ok bool) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if ok {
		s.failCount[peer] = 0
		entry := s.table[peer]
		entry.Status = Alive
		entry.Timestamp = time.Now().UTC()
		s.table[peer] = entry
		return
	}

	s.failCount[peer]++
	if s.failCount[peer] >= s.failThreshold {
		entry := s.table[peer]
		if entry.Status != Dead {
			entry.Status = Dead
			entry.Timestamp = time.Now().UTC()
			s.table[peer] = entry
		}
	}
}

// gossipOnce picks one uniformly random alive peer (excluding self)
// and exchanges membership tables with it.
func (s *Service) gossipOnce(ctx context.Context, gossip GossipFunc) {
	s.mu.RLock()
	var candidates []string
	for id, entry := range s.table {
		if id == s.selfID || entry.Status != Alive {
			continue
		}
		candidates = append(candidates, id)
	}
	local := s.snapshotLocked()
	s.mu.RUnlock()

	if len(candidates) == 0 {
		return
	}
	target := candidates[rand.Intn(len(candidates))]

	remote, err := gossip(ctx, target, local)
	if err != nil {
		return
	}
	s.Merge(remote)
}

// snapshotLocked copies the table; caller must hold at least RLock.
func (s *Service) snapshotLocked() Table {
	out := make(Table, len(s.table))
	for k, v := range s.table {
		out[k] = v
	}
	return out
}

// Snapshot returns a copy of the current membership table.
func (s *Service) Snapshot() Table {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.snapshotLocked()
}

// Merge applies a remote membership table to the local one per the
// merge rule: unknown entries are adopted; known entries compare
// incarnation first, then timestamp on a tie. The local node's own
// entry is authoritative — if the remote table claims self is dead,
// self bumps its own incarnation and re-asserts alive (self-refutation).
func (s *Service) Merge(remote Table) {
	s.mu.Lock()
	defer s.mu.Unlock()

	for id, remoteEntry := range remote {
		if id == s.selfID {
			if remoteEntry.Status == Dead {
				self := s.table[s.selfID]
				self.Incarnation++
				self.Status = Alive
				self.Timestamp = time.Now().UTC()
				s.table[s.selfID] = self
			}
			continue
		}

		local, known := s.table[id]
		if !known {
			s.table[id] = remoteEntry
			continue
		}

		switch {
		case remoteEntry.Incarnation > local.Incarnation:
			s.table[id] = remoteEntry
		case remoteEntry.Incarnation == local.Incarnation && remoteEntry.Timestamp.After(local.Timestamp):
			s.table[id] = remoteEntry
		}
	}
}

// AliveNodes returns the set of node ids currently believed alive,
// including self.
func (s *Service) AliveNodes() map[string]bool {
	s.mu.RLock()
	defer s.mu.RUnlock()

	out := make(map[string]bool, len(s.table))
	for id, entry := range s.table {
		if entry.Status == Alive {
			out[id] = true
		}
	}
	return out
}
