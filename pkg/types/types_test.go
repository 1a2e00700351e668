package types

import "testing"

func TestPartitionHPCNameEnumeration(t *testing.T) {
	p := NewPartition(Partition{
		Name:                  "hpc",
		NodeArray:             "hpc",
		IsHPC:                 true,
		MaxVMCount:            6,
		MaxPlacementGroupSize: 3,
		Buckets: []Bucket{
			{ID: BucketID{NodeArray: "hpc", PlacementGroup: "pg0"}, MaxCount: 3, PlacementIndex: 0},
			{ID: BucketID{NodeArray: "hpc", PlacementGroup: "pg1"}, MaxCount: 3, PlacementIndex: 1},
		},
	})

	id, ok := p.BucketFor("hpc-pg0-1")
	if !ok || id.PlacementGroup != "pg0" {
		t.Fatalf("expected hpc-pg0-1 in pg0, got %+v ok=%v", id, ok)
	}
	id, ok = p.BucketFor("hpc-pg1-2")
	if !ok || id.PlacementGroup != "pg1" {
		t.Fatalf("expected hpc-pg1-2 in pg1, got %+v ok=%v", id, ok)
	}
	if _, ok := p.BucketFor("hpc-pg2-1"); ok {
		t.Fatalf("did not expect hpc-pg2-1 to resolve")
	}
}

func TestPartitionHTCNameEnumeration(t *testing.T) {
	p := NewPartition(Partition{
		Name:       "htc",
		NodeArray:  "htc",
		NodePrefix: "nc-",
		MaxVMCount: 2,
		Buckets: []Bucket{
			{ID: BucketID{NodeArray: "htc"}, MaxCount: 2},
		},
	})
	if _, ok := p.BucketFor("nc-htc-1"); !ok {
		t.Fatalf("expected nc-htc-1 to resolve")
	}
	if _, ok := p.BucketFor("nc-htc-3"); ok {
		t.Fatalf("did not expect nc-htc-3 to resolve")
	}
}

func TestDynamicFeatureKeyCanonicalizes(t *testing.T) {
	a := DynamicFeatureKey([]string{"GPU", "IB"})
	b := DynamicFeatureKey([]string{"ib", "gpu"})
	if a != b {
		t.Fatalf("expected canonicalized keys to collide: %q != %q", a, b)
	}
	if a != "gpu,ib" {
		t.Fatalf("unexpected key: %q", a)
	}
}

func TestSchedulerNodeSetBaseStatePreservesFlags(t *testing.T) {
	n := NewSchedulerNode("hpc-1")
	n.SetBaseState(FlagDown)
	n.Set(FlagDrain)
	n.SetBaseState(FlagIdle)

	if !n.Has(FlagIdle) {
		t.Fatalf("expected idle base state")
	}
	if n.Has(FlagDown) {
		t.Fatalf("did not expect stale base state down")
	}
	if !n.Has(FlagDrain) {
		t.Fatalf("expected orthogonal flag drain to survive base-state change")
	}
}

func TestSchedulerNodeJoined(t *testing.T) {
	n := NewSchedulerNode("hpc-1")
	n.SetBaseState(FlagIdle)
	if !n.Joined() {
		t.Fatalf("expected idle node to be joined")
	}
	n.Set(FlagPoweredDown)
	if n.Joined() {
		t.Fatalf("did not expect powered_down node to be joined")
	}
}
