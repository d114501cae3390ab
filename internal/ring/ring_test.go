package ring

import (
	"testing"
)

func TestGetReplicasDeterministic(t *testing.T) {
	r := New([]string{"A", "B", "C"}, 50)

	first := r.GetReplicas("x", 2, nil)
	second := r.GetReplicas("x", 2, nil)

	if len(first) != len(second) {
		t.Fatalf("lengths differ across calls: %v vs %v", first, second)
	}
	for i := range first {
		if first[i] != second[i] {
			t.Fatalf("results differ across calls: %v vs %v", first, second)
		}
	}
}

func TestGetReplicasReturnsDistinctNodes(t *testing.T) {
	r := New([]string{"A", "B", "C"}, 50)

	reps := r.GetReplicas("x", 3, nil)
	seen := make(map[string]bool)
	for _, n := range reps {
		if seen[n] {
			t.Fatalf("duplicate node %q in preference list %v", n, reps)
		}
		seen[n] = true
	}
}

func TestGetReplicasCoverage(t *testing.T) {
	r := New([]string{"A", "B", "C"}, 50)

	for _, key := range []string{"x", "y", "z", "a-long-key-name"} {
		reps := r.GetReplicas(key, 3, nil)
		if len(reps) != 3 {
			t.Fatalf("key %q: got %d replicas, want min(N,|nodes|)=3", key, len(reps))
		}
	}
}

func TestGetReplicasShorterThanNWhenFewNodesAlive(t *testing.T) {
	r := New([]string{"A", "B", "C"}, 50)
	alive := map[string]bool{"A": true}

	reps := r.GetReplicas("x", 3, alive)
	if len(reps) != 1 || reps[0] != "A" {
		t.Fatalf("got %v, want only [A]", reps)
	}
}

func TestGetReplicasSkipsDeadNodes(t *testing.T) {
	r := New([]string{"A", "B", "C"}, 50)
	alive := map[string]bool{"A": true, "B": true, "C": true}

	full := r.GetReplicas("x", 3, nil)
	var toKill string
	for _, n := range full {
		toKill = n
		break
	}
	delete(alive, toKill)

	filtered := r.GetReplicas("x", 3, alive)
	for _, n := range filtered {
		if n == toKill {
			t.Fatalf("dead node %q appeared in filtered replicas %v", toKill, filtered)
		}
	}
}

func TestNodesReturnsDistinctSortedPhysicalNodes(t *testing.T) {
	r := New([]string{"C", "A", "B"}, 10)
	got := r.Nodes()
	want := []string{"A", "B", "C"}
	if len(got) != len(want) {
		t.Fatalf("got %v, want %v", got, want)
	}
	for i := range want {
		if got[i] != want[i] {
			t.Fatalf("got %v, want %v", got, want)
		}
	}
}

func TestSnapshotHasVnodesPerNodeEntries(t *testing.T) {
	r := New([]string{"A", "B"}, 10)
	snap := r.Snapshot()
	if len(snap) != 20 {
		t.Fatalf("got %d placements, want 20 (2 nodes * 10 vnodes)", len(snap))
	}
}

func TestEmptyRingReturnsNoReplicas(t *testing.T) {
	r := New(nil, 10)
	if got := r.GetReplicas("x", 3, nil); got != nil {
		t.Fatalf("got %v, want nil for empty ring", got)
	}
}
