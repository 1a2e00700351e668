package resume

import (
	"context"
	"errors"
	"testing"

	"github.com/cyclecloud/azslurmd/pkg/types"
)

type fakeSuspendProvider struct {
	existing    []*types.ProviderNode
	deallocated []string
	deallocErr  error
}

func (f *fakeSuspendProvider) ListNodes(ctx context.Context) ([]*types.ProviderNode, error) {
	return f.existing, nil
}

func (f *fakeSuspendProvider) Deallocate(ctx context.Context, names []string) error {
	f.deallocated = names
	return f.deallocErr
}

func providerNode(name string, state types.ProviderState) *types.ProviderNode {
	return &types.ProviderNode{Name: name, State: state}
}

func TestSuspendSkipsAlreadyPoweredDownNodes(t *testing.T) {
	prov := &fakeSuspendProvider{existing: []*types.ProviderNode{
		providerNode("hpc-1", types.ProviderStateReady),
		providerNode("hpc-2", types.ProviderStateDeallocated),
		providerNode("hpc-3", types.ProviderStateOff),
	}}

	if err := Suspend(context.Background(), prov, []string{"hpc-1", "hpc-2", "hpc-3"}); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if len(prov.deallocated) != 1 || prov.deallocated[0] != "hpc-1" {
		t.Fatalf("expected only hpc-1 deallocated, got %v", prov.deallocated)
	}
}

func TestSuspendSortsNames(t *testing.T) {
	prov := &fakeSuspendProvider{existing: []*types.ProviderNode{
		providerNode("hpc-2", types.ProviderStateReady),
		providerNode("hpc-1", types.ProviderStateReady),
	}}

	if err := Suspend(context.Background(), prov, []string{"hpc-2", "hpc-1"}); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	want := []string{"hpc-1", "hpc-2"}
	if len(prov.deallocated) != 2 || prov.deallocated[0] != want[0] || prov.deallocated[1] != want[1] {
		t.Fatalf("expected sorted %v, got %v", want, prov.deallocated)
	}
}

func TestSuspendNoOpWhenAllAlreadyDown(t *testing.T) {
	prov := &fakeSuspendProvider{existing: []*types.ProviderNode{
		providerNode("hpc-1", types.ProviderStateOff),
	}}

	if err := Suspend(context.Background(), prov, []string{"hpc-1"}); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if prov.deallocated != nil {
		t.Fatalf("expected no Deallocate call, got %v", prov.deallocated)
	}
}

func TestSuspendEmptyNameListIsNoOp(t *testing.T) {
	prov := &fakeSuspendProvider{}
	if err := Suspend(context.Background(), prov, nil); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if prov.deallocated != nil {
		t.Fatalf("expected no Deallocate call, got %v", prov.deallocated)
	}
}

func TestSuspendPropagatesDeallocateError(t *testing.T) {
	wantErr := errors.New("boom")
	prov := &fakeSuspendProvider{
		existing:   []*types.ProviderNode{providerNode("hpc-1", types.ProviderStateReady)},
		deallocErr: wantErr,
	}
	err := Suspend(context.Background(), prov, []string{"hpc-1"})
	if !errors.Is(err, wantErr) {
		t.Fatalf("expected wrapped %v, got %v", wantErr, err)
	}
}

func TestResumeFailMarksEveryNodeDownWithNodeFailureReason(t *testing.T) {
	sched := &fakeScheduler{}
	err := ResumeFail(context.Background(), sched, []string{"hpc-1", "hpc-2"})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if len(sched.calls) != 2 {
		t.Fatalf("expected 2 UpdateNode calls, got %d", len(sched.calls))
	}
	for _, fields := range sched.calls {
		if fields["State"] != "DOWN" {
			t.Errorf("expected State=DOWN, got %q", fields["State"])
		}
		if fields["Reason"] != string(types.ReasonNodeFailure) {
			t.Errorf("expected Reason=%s, got %q", types.ReasonNodeFailure, fields["Reason"])
		}
	}
}

type failingScheduler struct {
	failOn string
	calls  []string
}

func (f *failingScheduler) UpdateNode(ctx context.Context, name string, fields map[string]string, idempotent bool) error {
	f.calls = append(f.calls, name)
	if name == f.failOn {
		return errors.New("update failed")
	}
	return nil
}

func TestResumeFailContinuesPastIndividualErrorsAndReturnsFirst(t *testing.T) {
	sched := &failingScheduler{failOn: "hpc-1"}
	err := ResumeFail(context.Background(), sched, []string{"hpc-1", "hpc-2", "hpc-3"})
	if err == nil {
		t.Fatal("expected the first error to be returned")
	}
	if len(sched.calls) != 3 {
		t.Fatalf("expected all 3 nodes attempted, got %v", sched.calls)
	}
}
