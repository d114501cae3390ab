package store

import (
	"testing"

	"dynamokv/internal/vclock"
)

func TestPutLocalNoConflictStoresSingleVersion(t *testing.T) {
	s := New()
	vc := vclock.New()
	vc.Increment("A")

	got := s.PutLocal("x", "v1", vc)
	if got.Value != "v1" {
		t.Fatalf("got value %q, want v1", got.Value)
	}

	versions := s.GetLocalVersions("x")
	if len(versions) != 1 {
		t.Fatalf("got %d versions, want 1", len(versions))
	}
}

func TestPutLocalCausalOverwriteReplacesAncestor(t *testing.T) {
	s := New()
	vc1 := vclock.New()
	vc1.Increment("A")
	s.PutLocal("x", "v1", vc1)

	vc2 := vc1.Copy()
	vc2.Increment("B")
	s.PutLocal("x", "v2", vc2)

	versions := s.GetLocalVersions("x")
	if len(versions) != 1 {
		t.Fatalf("got %d versions, want 1 (v1 should be dominated)", len(versions))
	}
	if versions[0].Value != "v2" {
		t.Fatalf("got value %q, want v2", versions[0].Value)
	}
}

func TestPutLocalDominatedCandidateReturnsDominator(t *testing.T) {
	s := New()
	vcOld := vclock.New()
	vcOld.Increment("A")

	vcNew := vcOld.Copy()
	vcNew.Increment("A")
	s.PutLocal("x", "v2", vcNew)

	// Replaying the older version should leave the set unchanged and
	// report back the dominating version.
	got := s.PutLocal("x", "v1", vcOld)
	if got.Value != "v2" {
		t.Fatalf("got %q, want dominator v2", got.Value)
	}
	if len(s.GetLocalVersions("x")) != 1 {
		t.Fatalf("stale put should not have added a sibling")
	}
}

func TestPutLocalConcurrentWritesProduceSiblings(t *testing.T) {
	s := New()
	vcA := vclock.New()
	vcA.Increment("A")
	s.PutLocal("y", "A1", vcA)

	vcB := vclock.New()
	vcB.Increment("B")
	merged := s.MergeRemoteVersions("y", []Version{{Value: "B1", Clock: vcB}})

	if len(merged) != 2 {
		t.Fatalf("got %d versions, want 2 concurrent siblings", len(merged))
	}
}

func TestMergeSiblingsThenWriteCollapsesToOne(t *testing.T) {
	s := New()
	vcA := vclock.New()
	vcA.Increment("A")
	vcB := vclock.New()
	vcB.Increment("B")

	s.PutLocal("y", "A1", vcA)
	s.MergeRemoteVersions("y", []Version{{Value: "B1", Clock: vcB}})

	parentVC := vcA.Merge(vcB)
	parentVC.Increment("C")
	s.PutLocal("y", "MERGED", parentVC)

	versions := s.GetLocalVersions("y")
	if len(versions) != 1 {
		t.Fatalf("got %d versions, want 1 merged version", len(versions))
	}
	if versions[0].Value != "MERGED" {
		t.Fatalf("got value %q, want MERGED", versions[0].Value)
	}
}

func TestNoDuplicateVersionsAfterRepeatedIdenticalPut(t *testing.T) {
	s := New()
	vc := vclock.New()
	vc.Increment("A")

	s.PutLocal("x", "v1", vc)
	s.MergeRemoteVersions("x", []Version{{Value: "v1", Clock: vc.Copy()}})

	versions := s.GetLocalVersions("x")
	if len(versions) != 1 {
		t.Fatalf("got %d versions after duplicate merge, want 1", len(versions))
	}
}

func TestOverwriteLocalVersionsReplacesSetVerbatim(t *testing.T) {
	s := New()
	vc := vclock.New()
	vc.Increment("A")
	s.PutLocal("x", "v1", vc)

	vcNew := vclock.New()
	vcNew.Increment("B")
	s.OverwriteLocalVersions("x", []Version{{Value: "replaced", Clock: vcNew}})

	versions := s.GetLocalVersions("x")
	if len(versions) != 1 || versions[0].Value != "replaced" {
		t.Fatalf("overwrite did not take effect, got %+v", versions)
	}
}

func TestGetLocalVersionsReturnsIndependentCopy(t *testing.T) {
	s := New()
	vc := vclock.New()
	vc.Increment("A")
	s.PutLocal("x", "v1", vc)

	versions := s.GetLocalVersions("x")
	versions[0].Value = "mutated"

	fresh := s.GetLocalVersions("x")
	if fresh[0].Value != "v1" {
		t.Fatalf("mutating a snapshot leaked into the store: %+v", fresh)
	}
}

func TestPruneKeepsAllConcurrentVersions(t *testing.T) {
	vcA := vclock.New()
	vcA.Increment("A")
	vcB := vclock.New()
	vcB.Increment("B")

	kept := Prune([]Version{{Value: "a", Clock: vcA}, {Value: "b", Clock: vcB}})
	if len(kept) != 2 {
		t.Fatalf("got %d versions, want 2", len(kept))
	}
}

func TestPruneDropsStrictlyDominatedVersion(t *testing.T) {
	vcOld := vclock.New()
	vcOld.Increment("A")
	vcNew := vcOld.Copy()
	vcNew.Increment("A")

	kept := Prune([]Version{{Value: "old", Clock: vcOld}, {Value: "new", Clock: vcNew}})
	if len(kept) != 1 || kept[0].Value != "new" {
		t.Fatalf("got %+v, want only the dominating version", kept)
	}
}

func TestKeys(t *testing.T) {
	s := New()
	vc := vclock.New()
	vc.Increment("A")
	s.PutLocal("x", "v1", vc)
	s.PutLocal("y", "v2", vc)

	keys := s.Keys()
	if len(keys) != 2 {
		t.Fatalf("got %d keys, want 2", len(keys))
	}
}
