// Package coordinator implements the replication engine's HTTP-level
// entry points: client PUT/GET, peer replicate/get-local, and the
// single-hop repair primitive. It orchestrates quorum fan-out over
// the ring, the membership service's liveness view, and the local
// store.
//
// Every handler here is deliberately transport-agnostic about peers:
// it talks to them over plain HTTP with an explicit per-call timeout,
// the shape spec'd for replicate/get-local (2s) and repair-peer reads
// (5s). The artificial delay knob lets tests emulate a slow or
// partitioned node without touching the network stack.
package coordinator

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log"
	"net/http"
	"sync"
	"time"

	"github.com/google/uuid"

	"dynamokv/internal/logging"
	"dynamokv/internal/membership"
	"dynamokv/internal/ring"
	"dynamokv/internal/store"
	"dynamokv/internal/vclock"
)

// Config bundles the quorum parameters and RPC timeouts a Coordinator
// is constructed with.
type Config struct {
	N                  int
	R                  int
	W                  int
	ReplicationTimeout time.Duration
	ReadTimeout        time.Duration
	RepairTimeout      time.Duration
}

// Coordinator owns the replication logic for one node.
type Coordinator struct {
	selfID     string
	store      *store.Store
	ring       *ring.Ring
	membership *membership.Service
	httpClient *http.Client
	cfg        Config
	log        *log.Logger

	delayMu sync.RWMutex
	delayMs int
}

// New builds a Coordinator. selfID doubles as the node's network
// address — peers are dialed at http://<node-id>/... — so there is a
// single source of truth for "who am I" instead of the two
// independently-configured identifiers the original Python node kept
// in tension (see DESIGN.md).
func New(selfID string, s *store.Store, r *ring.Ring, m *membership.Service, cfg Config) *Coordinator {
	return &Coordinator{
		selfID:     selfID,
		store:      s,
		ring:       r,
		membership: m,
		httpClient: &http.Client{},
		cfg:        cfg,
		log:        logging.New(selfID),
	}
}

// PutResult is the response shape for a client PUT.
type PutResult struct {
	Success               bool               `json:"success"`
	RequestedReplicas     []string           `json:"requested_replicas"`
	RespondedToParentRead []string           `json:"responded_to_parent_read"`
	Succeeded             []string           `json:"succeeded"`
	Failed                []string           `json:"failed"`
	UsedVC                vclock.VectorClock `json:"used_vc"`
	StoredVersion         store.Version      `json:"stored_version"`
}

// GetResult is the response shape for a client GET.
type GetResult struct {
	ResolvedVersions []store.Version `json:"resolved_versions"`
	RespondedNodes   []string        `json:"responded_nodes"`
}

// ErrInsufficientReplicas is returned by Get when fewer than R
// replicas answered the fan-out at all.
var ErrInsufficientReplicas = fmt.Errorf("insufficient replicas responded")

// Delay returns the current artificial per-request delay.
func (c *Coordinator) Delay() time.Duration {
	c.delayMu.RLock()
	defer c.delayMu.RUnlock()
	return time.Duration(c.delayMs) * time.Millisecond
}

// SetDelay sets the artificial per-request delay in milliseconds.
func (c *Coordinator) SetDelay(ms int) {
	c.delayMu.Lock()
	defer c.delayMu.Unlock()
	c.delayMs = ms
}

// ClearDelay resets the artificial delay to zero.
func (c *Coordinator) ClearDelay() {
	c.SetDelay(0)
}

// MaybeSleep blocks for the current artificial delay, if any. Handlers
// call this first so control/delay can emulate a slow or partitioned
// node.
func (c *Coordinator) MaybeSleep(ctx context.Context) {
	d := c.Delay()
	if d <= 0 {
		return
	}
	t := time.NewTimer(d)
	defer t.Stop()
	select {
	case <-t.C:
	case <-ctx.Done():
	}
}

// preferenceList returns the N-distinct candidate list for key, either
// filtered to the currently-alive set or, when alive is false, the
// full fixed node set (used by repair, which must be able to name a
// dead-but-maybe-back-soon replica).
func (c *Coordinator) preferenceList(key string, alive bool) []string {
	var liveSet map[string]bool
	if alive {
		liveSet = c.membership.AliveNodes()
	}
	return c.ring.GetReplicas(key, c.cfg.N, liveSet)
}

// Put is the client-facing PUT path: §4.5's seven-step coordinator
// procedure.
func (c *Coordinator) Put(ctx context.Context, key, value string) (PutResult, error) {
	reqID := uuid.NewString()
	candidates := c.preferenceList(key, true)
	c.log.Printf("req=%s put key=%s candidates=%v", reqID, key, candidates)

	parents, responders, _ := c.quorumRead(ctx, key, candidates, c.cfg.R, true)

	parentVC := vclock.New()
	for _, p := range parents {
		parentVC = parentVC.Merge(p.Clock)
	}
	parentVC.Increment(c.selfID)

	stored := c.store.PutLocal(key, value, parentVC)

	succeeded, failed := c.fanOutReplicate(key, stored, candidates)

	success := len(succeeded) >= c.cfg.W
	c.log.Printf("req=%s put key=%s succeeded=%v failed=%v success=%v", reqID, key, succeeded, failed, success)

	return PutResult{
		Success:               success,
		RequestedReplicas:     candidates,
		RespondedToParentRead: responders,
		Succeeded:             succeeded,
		Failed:                failed,
		UsedVC:                parentVC,
		StoredVersion:         stored,
	}, nil
}

// Get is the client-facing GET path: the quorum-read procedure.
func (c *Coordinator) Get(ctx context.Context, key string) (GetResult, error) {
	reqID := uuid.NewString()
	candidates := c.preferenceList(key, true)
	c.log.Printf("req=%s get key=%s candidates=%v", reqID, key, candidates)

	merged, responders, ok := c.quorumRead(ctx, key, candidates, c.cfg.R, true)
	if !ok {
		c.log.Printf("req=%s get key=%s insufficient replicas responded=%v", reqID, key, responders)
		return GetResult{}, ErrInsufficientReplicas
	}

	return GetResult{ResolvedVersions: merged, RespondedNodes: responders}, nil
}

// ApplyReplicate is the peer replicate RPC handler: accept a version
// pushed by another coordinator or by read-repair.
func (c *Coordinator) ApplyReplicate(key, value string, vc vclock.VectorClock) {
	c.store.PutLocal(key, value, vc)
}

// LocalVersions is the peer get-local RPC handler.
func (c *Coordinator) LocalVersions(key string) []store.Version {
	return c.store.GetLocalVersions(key)
}

// ReplicasForKey returns the full preference list ignoring liveness,
// for the /replicas_for_key debugging endpoint.
func (c *Coordinator) ReplicasForKey(key string) []string {
	return c.preferenceList(key, false)
}

// RepairResult is the response shape for /repair_once/{key}.
type RepairResult struct {
	OK           bool   `json:"ok"`
	Reason       string `json:"reason,omitempty"`
	Target       string `json:"pushed_to,omitempty"`
	LocalBefore  int    `json:"local_before"`
	RemoteBefore int    `json:"remote_before"`
	Merged       int    `json:"merged"`
	Pushed       int    `json:"pushed"`
}

// RepairOnce runs the single-hop anti-entropy pass described in
// §4.5: fetch the next candidate's versions, merge with local, push
// the merged set back.
func (c *Coordinator) RepairOnce(ctx context.Context, key string) RepairResult {
	reqID := uuid.NewString()
	candidates := c.preferenceList(key, false)
	if len(candidates) == 0 {
		return RepairResult{OK: false, Reason: "no candidates"}
	}

	target := nextCandidate(candidates, c.selfID)
	c.log.Printf("req=%s repair_once key=%s target=%s", reqID, key, target)

	local := c.store.GetLocalVersions(key)

	rctx, cancel := context.WithTimeout(ctx, c.cfg.RepairTimeout)
	defer cancel()
	remote, err := c.fetchLocalFromPeer(rctx, target, key)
	if err != nil {
		c.log.Printf("req=%s repair_once key=%s target=%s unreachable: %v", reqID, key, target, err)
		return RepairResult{OK: false, Reason: "target_unreachable", Target: target}
	}

	all := append(append([]store.Version(nil), local...), remote...)
	merged := store.Prune(all)
	c.store.OverwriteLocalVersions(key, merged)

	pushed := 0
	for _, v := range merged {
		pctx, pcancel := context.WithTimeout(ctx, c.cfg.RepairTimeout)
		err := c.sendReplicate(pctx, target, key, v)
		pcancel()
		if err == nil {
			pushed++
		}
	}

	return RepairResult{
		OK:           true,
		Target:       target,
		LocalBefore:  len(local),
		RemoteBefore: len(remote),
		Merged:       len(merged),
		Pushed:       pushed,
	}
}

// nextCandidate returns the candidate immediately after selfID in the
// list, wrapping around; if selfID isn't present, the first candidate
// is the target.
func nextCandidate(candidates []string, selfID string) string {
	for i, id := range candidates {
		if id == selfID {
			return candidates[(i+1)%len(candidates)]
		}
	}
	return candidates[0]
}

// quorumRead fires get-local RPCs at every candidate in parallel,
// waits for all of them (each bounded by its own read timeout), and
// counts any RPC that returned at all — even an empty list — as a
// response. It then flattens, prunes, and persists the merge, and
// optionally fires background read-repair at stale responders.
func (c *Coordinator) quorumRead(ctx context.Context, key string, candidates []string, r int, repair bool) (merged []store.Version, responded []string, ok bool) {
	if len(candidates) == 0 {
		return nil, nil, false
	}

	type readResult struct {
		node     string
		versions []store.Version
		err      error
	}
	results := make(chan readResult, len(candidates))

	for _, node := range candidates {
		node := node
		go func() {
			if node == c.selfID {
				results <- readResult{node: node, versions: c.store.GetLocalVersions(key)}
				return
			}
			rctx, cancel := context.WithTimeout(context.Background(), c.cfg.ReadTimeout)
			defer cancel()
			versions, err := c.fetchLocalFromPeer(rctx, node, key)
			results <- readResult{node: node, versions: versions, err: err}
		}()
	}

	perNode := make(map[string][]store.Version, len(candidates))
	for i := 0; i < len(candidates); i++ {
		res := <-results
		if res.err == nil {
			perNode[res.node] = res.versions
			responded = append(responded, res.node)
		}
	}

	if len(responded) < r {
		return nil, responded, false
	}

	var flat []store.Version
	for _, versions := range perNode {
		flat = append(flat, versions...)
	}
	merged = store.Prune(flat)

	c.store.OverwriteLocalVersions(key, merged)

	if repair {
		go c.readRepair(key, merged, perNode)
	}

	return merged, responded, true
}

// readRepair pushes merged to every node whose returned set lacks one
// of its signatures. Fire-and-forget: failures are ignored.
func (c *Coordinator) readRepair(key string, merged []store.Version, perNode map[string][]store.Version) {
	mergedSigs := make(map[string]bool, len(merged))
	for _, v := range merged {
		mergedSigs[v.Signature()] = true
	}

	for node, existing := range perNode {
		if node == c.selfID {
			continue
		}
		existingSigs := make(map[string]bool, len(existing))
		for _, v := range existing {
			existingSigs[v.Signature()] = true
		}

		missing := false
		for sig := range mergedSigs {
			if !existingSigs[sig] {
				missing = true
				break
			}
		}
		if !missing {
			continue
		}

		for _, v := range merged {
			ctx, cancel := context.WithTimeout(context.Background(), c.cfg.ReplicationTimeout)
			_ = c.sendReplicate(ctx, node, key, v)
			cancel()
		}
	}
}

// fanOutReplicate pushes stored to every candidate except self in
// parallel and collects acks until W is reached (self counts as one)
// or every peer has answered. Stragglers beyond that point keep
// running against a buffered channel so no goroutine leaks; their
// results are ignored.
func (c *Coordinator) fanOutReplicate(key string, stored store.Version, candidates []string) (succeeded, failed []string) {
	var peers []string
	for _, node := range candidates {
		if node != c.selfID {
			peers = append(peers, node)
		}
	}

	type writeResult struct {
		node string
		err  error
	}
	results := make(chan writeResult, len(peers))

	for _, peer := range peers {
		peer := peer
		go func() {
			ctx, cancel := context.WithTimeout(context.Background(), c.cfg.ReplicationTimeout)
			defer cancel()
			err := c.sendReplicate(ctx, peer, key, stored)
			results <- writeResult{node: peer, err: err}
		}()
	}

	succeeded = append(succeeded, c.selfID)
	remaining := len(peers)
	overall := time.After(c.cfg.ReplicationTimeout)

	for remaining > 0 {
		if len(succeeded) >= c.cfg.W {
			break
		}
		select {
		case res := <-results:
			remaining--
			if res.err == nil {
				succeeded = append(succeeded, res.node)
			} else {
				failed = append(failed, res.node)
			}
		case <-overall:
			return succeeded, failed
		}
	}
	return succeeded, failed
}

// ─── Peer HTTP transport ──────────────────────────────────────────────────

type replicateWireRequest struct {
	Key   string             `json:"key"`
	Value string             `json:"value"`
	VC    vclock.VectorClock `json:"vc"`
}

func (c *Coordinator) sendReplicate(ctx context.Context, peer, key string, v store.Version) error {
	body, err := json.Marshal(replicateWireRequest{Key: key, Value: v.Value, VC: v.Clock})
	if err != nil {
		return err
	}

	url := fmt.Sprintf("http://%s/replicate", peer)
	req, err := http.NewRequestWithContext(ctx, http.MethodPut, url, bytes.NewReader(body))
	if err != nil {
		return err
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return err
	}
	defer resp.Body.Close()
	io.Copy(io.Discard, resp.Body)

	if resp.StatusCode != http.StatusOK {
		return fmt.Errorf("peer %s returned HTTP %d", peer, resp.StatusCode)
	}
	return nil
}

type localVersionsWireResponse struct {
	Versions []store.Version `json:"versions"`
}

func (c *Coordinator) fetchLocalFromPeer(ctx context.Context, peer, key string) ([]store.Version, error) {
	url := fmt.Sprintf("http://%s/get_local/%s", peer, key)
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, url, nil)
	if err != nil {
		return nil, err
	}

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return nil, err
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return nil, fmt.Errorf("peer %s returned HTTP %d", peer, resp.StatusCode)
	}

	var out localVersionsWireResponse
	if err := json.NewDecoder(resp.Body).Decode(&out); err != nil {
		return nil, err
	}
	return out.Versions, nil
}

// Ping probes a peer's /ping endpoint — the membership failure
// detector's transport.
func (c *Coordinator) Ping(ctx context.Context, peer string) error {
	url := fmt.Sprintf("http://%s/ping", peer)
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, url, nil)
	if err != nil {
		return err
	}
	resp, err := c.httpClient.Do(req)
	if err != nil {
		return err
	}
	defer resp.Body.Close()
	io.Copy(io.Discard, resp.Body)
	if resp.StatusCode != http.StatusOK {
		return fmt.Errorf("peer %s returned HTTP %d", peer, resp.StatusCode)
	}
	return nil
}

// Gossip is the membership service's gossip transport: POST the local
// table, decode and return the peer's merged response.
func (c *Coordinator) Gossip(ctx context.Context, peer string, local membership.Table) (membership.Table, error) {
	body, err := json.Marshal(local)
	if err != nil {
		return nil, err
	}

	url := fmt.Sprintf("http://%s/gossip", peer)
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, url, bytes.NewReader(body))
	if err != nil {
		return nil, err
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return nil, err
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return nil, fmt.Errorf("peer %s returned HTTP %d", peer, resp.StatusCode)
	}

	var remote membership.Table
	if err := json.NewDecoder(resp.Body).Decode(&remote); err != nil {
		return nil, err
	}
	return remote, nil
}
