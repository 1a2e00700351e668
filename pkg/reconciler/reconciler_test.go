package reconciler

import (
	"context"
	"testing"
	"time"

	clocktesting "k8s.io/utils/clock/testing"

	"github.com/cyclecloud/azslurmd/pkg/types"
)

var fixedTime = time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC)

type fakeProvider struct {
	nodes []*types.ProviderNode
}

func (f *fakeProvider) ListNodes(ctx context.Context) ([]*types.ProviderNode, error) {
	return f.nodes, nil
}

type schedulerCall struct {
	name   string
	fields map[string]string
}

type fakeScheduler struct {
	nodes []*types.SchedulerNode
	calls []schedulerCall
}

func (f *fakeScheduler) ShowNodes(ctx context.Context, names []string) ([]*types.SchedulerNode, error) {
	return f.nodes, nil
}

func (f *fakeScheduler) UpdateNode(ctx context.Context, name string, fields map[string]string, idempotent bool) error {
	f.calls = append(f.calls, schedulerCall{name: name, fields: fields})
	return nil
}

type fakeKeepAlive struct {
	added   []string
	removed []string
	synced  int
	syncErr error
}

func (f *fakeKeepAlive) Refresh(ctx context.Context) (map[string]struct{}, error) {
	return map[string]struct{}{}, nil
}

func (f *fakeKeepAlive) Add(name string) { f.added = append(f.added, name) }

func (f *fakeKeepAlive) RemoveIfOwned(name string) bool {
	f.removed = append(f.removed, name)
	return true
}

func (f *fakeKeepAlive) Sync(ctx context.Context) error {
	f.synced++
	return f.syncErr
}

func newJoinedIdleNode(name string) *types.SchedulerNode {
	n := types.NewSchedulerNode(name)
	n.SetBaseState(types.FlagIdle)
	return n
}

func TestReconcileAbsentJoinedNodeMarksDown(t *testing.T) {
	node := newJoinedIdleNode("hpc-1")
	sched := &fakeScheduler{nodes: []*types.SchedulerNode{node}}
	prov := &fakeProvider{} // no provider record at all
	ka := &fakeKeepAlive{}
	r := New(prov, sched, ka, nil, clocktesting.NewFakeClock(fixedTime))

	summary, err := r.Pass(context.Background())
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if summary.MarkedDown != 1 {
		t.Fatalf("expected 1 marked down, got %+v", summary)
	}
	if len(sched.calls) != 1 || sched.calls[0].fields["Reason"] != string(types.ReasonNoNode) {
		t.Fatalf("expected a no_node update, got %+v", sched.calls)
	}
}

func TestReconcileAbsentPoweredDownClearsZombieReason(t *testing.T) {
	node := types.NewSchedulerNode("hpc-2")
	node.SetBaseState(types.FlagDown)
	node.Set(types.FlagPoweredDown)
	node.Reason = types.ReasonZombieNode

	sched := &fakeScheduler{nodes: []*types.SchedulerNode{node}}
	prov := &fakeProvider{}
	ka := &fakeKeepAlive{}
	r := New(prov, sched, ka, nil, clocktesting.NewFakeClock(fixedTime))

	summary, err := r.Pass(context.Background())
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if summary.ClearedNoNode != 1 {
		t.Fatalf("expected the zombie reason cleared, got %+v", summary)
	}
}

func TestReconcilePresentReadyButSchedulerPoweredDownMarksZombie(t *testing.T) {
	node := types.NewSchedulerNode("hpc-3")
	node.SetBaseState(types.FlagDown)
	node.Set(types.FlagPoweredDown)

	prov := &fakeProvider{nodes: []*types.ProviderNode{{Name: "hpc-3", State: types.ProviderStateReady}}}
	sched := &fakeScheduler{nodes: []*types.SchedulerNode{node}}
	ka := &fakeKeepAlive{}
	r := New(prov, sched, ka, nil, clocktesting.NewFakeClock(fixedTime))

	summary, err := r.Pass(context.Background())
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if summary.MarkedZombie != 1 {
		t.Fatalf("expected zombie marked, got %+v", summary)
	}
}

func TestReconcileHealthyNodeRecoversFromNoNode(t *testing.T) {
	node := types.NewSchedulerNode("hpc-4")
	node.SetBaseState(types.FlagDown)
	node.Reason = types.ReasonNoNode

	prov := &fakeProvider{nodes: []*types.ProviderNode{{Name: "hpc-4", State: types.ProviderStateReady, KeepAlive: true}}}
	sched := &fakeScheduler{nodes: []*types.SchedulerNode{node}}
	ka := &fakeKeepAlive{}
	r := New(prov, sched, ka, nil, clocktesting.NewFakeClock(fixedTime))

	summary, err := r.Pass(context.Background())
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if summary.Recovered != 1 {
		t.Fatalf("expected node recovered, got %+v", summary)
	}
	if len(ka.added) != 1 || ka.added[0] != "hpc-4" {
		t.Fatalf("expected hpc-4 added to keep-alive set, got %v", ka.added)
	}
}

func TestReconcileIdempotentWhenNothingChanged(t *testing.T) {
	node := newJoinedIdleNode("hpc-5")

	prov := &fakeProvider{nodes: []*types.ProviderNode{{Name: "hpc-5", State: types.ProviderStateReady}}}
	sched := &fakeScheduler{nodes: []*types.SchedulerNode{node}}
	ka := &fakeKeepAlive{}
	r := New(prov, sched, ka, nil, clocktesting.NewFakeClock(fixedTime))

	summary, err := r.Pass(context.Background())
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if summary.Unchanged != 1 {
		t.Fatalf("expected no change, got %+v", summary)
	}
	if len(sched.calls) != 0 {
		t.Fatalf("expected no scheduler updates issued, got %v", sched.calls)
	}
}

func TestPassSyncsKeepAliveExactlyOnce(t *testing.T) {
	node := newJoinedIdleNode("hpc-6")

	prov := &fakeProvider{nodes: []*types.ProviderNode{{Name: "hpc-6", State: types.ProviderStateReady}}}
	sched := &fakeScheduler{nodes: []*types.SchedulerNode{node}}
	ka := &fakeKeepAlive{}
	r := New(prov, sched, ka, nil, clocktesting.NewFakeClock(fixedTime))

	if _, err := r.Pass(context.Background()); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if ka.synced != 1 {
		t.Fatalf("expected keep-alive synced exactly once per pass, got %d", ka.synced)
	}
}
