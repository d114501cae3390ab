package coordinator

import (
	"context"
	"testing"

	"dynamokv/internal/membership"
	"dynamokv/internal/ring"
	"dynamokv/internal/store"
)

func newTestCoordinator(selfID string, nodes []string) *Coordinator {
	r := ring.New(nodes, 50)
	m := membership.New(selfID, nodes, 0, 0, 3)
	s := store.New()
	cfg := Config{N: len(nodes), R: 1, W: 1}
	return New(selfID, s, r, m, cfg)
}

func TestNextCandidateWrapsAround(t *testing.T) {
	candidates := []string{"A", "B", "C"}
	if got := nextCandidate(candidates, "A"); got != "B" {
		t.Fatalf("got %q, want B", got)
	}
	if got := nextCandidate(candidates, "C"); got != "A" {
		t.Fatalf("got %q, want A (wraparound)", got)
	}
}

func TestNextCandidateSelfNotPresentTargetsFirst(t *testing.T) {
	candidates := []string{"B", "C"}
	if got := nextCandidate(candidates, "A"); got != "B" {
		t.Fatalf("got %q, want first candidate B", got)
	}
}

func TestSingleNodePutThenGetRoundTrip(t *testing.T) {
	c := newTestCoordinator("A", []string{"A"})

	ctx := context.Background()
	res, err := c.Put(ctx, "x", "v1")
	if err != nil {
		t.Fatalf("Put failed: %v", err)
	}
	if !res.Success {
		t.Fatalf("expected success, got %+v", res)
	}
	if res.UsedVC["A"] != 1 {
		t.Fatalf("expected vc[A]=1, got %v", res.UsedVC)
	}

	got, err := c.Get(ctx, "x")
	if err != nil {
		t.Fatalf("Get failed: %v", err)
	}
	if len(got.ResolvedVersions) != 1 || got.ResolvedVersions[0].Value != "v1" {
		t.Fatalf("got %+v, want single version v1", got.ResolvedVersions)
	}
}

func TestApplyReplicateThenLocalVersions(t *testing.T) {
	c := newTestCoordinator("A", []string{"A"})
	vc := c.store.GetLocalVersions("x") // sanity: empty initially
	if len(vc) != 0 {
		t.Fatalf("expected empty initial store")
	}

	c.ApplyReplicate("x", "v1", nil)
	versions := c.LocalVersions("x")
	if len(versions) != 1 || versions[0].Value != "v1" {
		t.Fatalf("got %+v, want single version v1", versions)
	}
}

func TestReplicasForKeyIgnoresLiveness(t *testing.T) {
	c := newTestCoordinator("A", []string{"A", "B", "C"})
	c.membership.Merge(membership.Table{"B": {Status: membership.Dead, Incarnation: 1}})
	reps := c.ReplicasForKey("somekey")
	if len(reps) != 3 {
		t.Fatalf("got %d replicas, want 3 regardless of liveness", len(reps))
	}
}

func TestDelayRoundTrip(t *testing.T) {
	c := newTestCoordinator("A", []string{"A"})
	if c.Delay() != 0 {
		t.Fatalf("expected zero delay initially")
	}
	c.SetDelay(200)
	if c.Delay().Milliseconds() != 200 {
		t.Fatalf("got %v, want 200ms", c.Delay())
	}
	c.ClearDelay()
	if c.Delay() != 0 {
		t.Fatalf("expected delay cleared")
	}
}

func TestRepairOnceNoCandidatesReportsFailure(t *testing.T) {
	c := newTestCoordinator("A", nil)
	res := c.RepairOnce(context.Background(), "x")
	if res.OK {
		t.Fatalf("expected failure with no candidates, got %+v", res)
	}
}
