// Package ring implements the consistent-hash ring that maps a key to
// its ordered preference list of replica nodes.
//
// The ring is built once from the fixed node set at process start and
// never mutated afterward — per the spec, ring membership changes are
// out of scope; only the membership service's liveness view changes
// at runtime, and GetReplicas takes that view as an optional filter.
package ring

import (
	"crypto/sha1"
	"fmt"
	"math/big"
	"sort"
)

const defaultVnodes = 150

// Entry is one virtual-node placement, exposed for the ring snapshot
// endpoint.
type Entry struct {
	Position string
	NodeID   string
}

// Ring is an immutable consistent-hash ring over a fixed node set.
type Ring struct {
	vnodes    int
	positions []*big.Int // sorted
	owners    []string   // owners[i] is the physical node at positions[i]
	nodes     []string   // distinct physical nodes, sorted
}

// New builds a ring over nodeIDs with vnodes virtual nodes per
// physical node. Virtual-node positions are hash(nodeID + "#" + i);
// collisions are resolved by perturbation-and-rehash until the
// position is unique, matching the original Python implementation's
// retry-with-suffix loop.
func New(nodeIDs []string, vnodes int) *Ring {
	if vnodes <= 0 {
		vnodes = defaultVnodes
	}

	r := &Ring{vnodes: vnodes}
	occupied := make(map[string]bool)

	type placement struct {
		pos   *big.Int
		owner string
	}
	var placements []placement

	for _, id := range nodeIDs {
		for i := 0; i < vnodes; i++ {
			label := fmt.Sprintf("%s#%d", id, i)
			pos := hashToBigInt(label)
			key := pos.String()
			for occupied[key] {
				label += "_"
				pos = hashToBigInt(label)
				key = pos.String()
			}
			occupied[key] = true
			placements = append(placements, placement{pos: pos, owner: id})
		}
	}

	sort.Slice(placements, func(i, j int) bool {
		return placements[i].pos.Cmp(placements[j].pos) < 0
	})

	r.positions = make([]*big.Int, len(placements))
	r.owners = make([]string, len(placements))
	for i, p := range placements {
		r.positions[i] = p.pos
		r.owners[i] = p.owner
	}

	seen := make(map[string]bool)
	for _, id := range nodeIDs {
		if !seen[id] {
			seen[id] = true
			r.nodes = append(r.nodes, id)
		}
	}
	sort.Strings(r.nodes)

	return r
}

// hashToBigInt hashes s with SHA-1 and interprets the digest as a
// big-endian unsigned integer, per spec §6's byte-exact hash
// requirement.
func hashToBigInt(s string) *big.Int {
	sum := sha1.Sum([]byte(s))
	return new(big.Int).SetBytes(sum[:])
}

// GetReplicas walks the ring clockwise from hash(key), collecting
// distinct physical node ids. If alive is non-nil, node ids absent
// from it are skipped. The walk stops after collecting n distinct
// nodes or after a full revolution, whichever comes first; the
// returned list may therefore be shorter than n.
func (r *Ring) GetReplicas(key string, n int, alive map[string]bool) []string {
	if len(r.positions) == 0 || n <= 0 {
		return nil
	}

	pos := hashToBigInt(key)
	start := r.search(pos)

	seen := make(map[string]bool, n)
	out := make([]string, 0, n)

	for i := 0; i < len(r.positions) && len(out) < n; i++ {
		idx := (start + i) % len(r.positions)
		owner := r.owners[idx]
		if seen[owner] {
			continue
		}
		if alive != nil && !alive[owner] {
			continue
		}
		seen[owner] = true
		out = append(out, owner)
	}
	return out
}

// search returns the index of the first position >= pos, wrapping to
// 0 if pos is greater than every position on the ring.
func (r *Ring) search(pos *big.Int) int {
	idx := sort.Search(len(r.positions), func(i int) bool {
		return r.positions[i].Cmp(pos) >= 0
	})
	if idx == len(r.positions) {
		idx = 0
	}
	return idx
}

// Nodes returns the distinct physical node ids the ring was built
// with, sorted.
func (r *Ring) Nodes() []string {
	out := make([]string, len(r.nodes))
	copy(out, r.nodes)
	return out
}

// Snapshot returns every virtual-node placement in ring order, for the
// /ring_snapshot debugging endpoint.
func (r *Ring) Snapshot() []Entry {
	out := make([]Entry, len(r.positions))
	for i := range r.positions {
		out[i] = Entry{Position: r.positions[i].String(), NodeID: r.owners[i]}
	}
	return out
}
