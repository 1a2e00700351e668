package provider

import (
	"context"
	"testing"
	"time"

	"github.com/cyclecloud/azslurmd/pkg/errs"
	"github.com/cyclecloud/azslurmd/pkg/types"
)

type fakeTransport struct {
	calls []string
	do    func(ctx context.Context, method, path string, body, out any) error
}

func (f *fakeTransport) Do(ctx context.Context, method, path string, body, out any) error {
	f.calls = append(f.calls, method+" "+path)
	return f.do(ctx, method, path, body, out)
}

func TestAllocateFailsWhenHookRejectsNonFirstIndex(t *testing.T) {
	ft := &fakeTransport{do: func(context.Context, string, string, any, any) error { return nil }}
	c := New(ft)

	hook := func(bucket types.BucketID, index int) (string, error) {
		return "", errs.New(errs.InvalidState, "index must be 1")
	}

	_, err := c.Allocate(context.Background(), types.BucketID{NodeArray: "hpc"}, 1, hook, true, true)
	if !errs.Is(err, errs.InvalidState) {
		t.Fatalf("expected InvalidState, got %v", err)
	}
	if len(ft.calls) != 0 {
		t.Fatalf("expected no REST call when the name hook fails, got %v", ft.calls)
	}
}

func TestAllocateClaimsNamesInOrder(t *testing.T) {
	ft := &fakeTransport{do: func(context.Context, string, string, any, any) error { return nil }}
	c := New(ft)

	var seen []int
	hook := func(bucket types.BucketID, index int) (string, error) {
		seen = append(seen, index)
		return "hpc-1", nil
	}

	res, err := c.Allocate(context.Background(), types.BucketID{NodeArray: "hpc"}, 1, hook, true, true)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if len(seen) != 1 || seen[0] != 1 {
		t.Fatalf("expected hook called once at index 1, got %v", seen)
	}
	if len(res.Allocated) != 1 || res.Allocated[0] != "hpc-1" {
		t.Fatalf("unexpected allocated names: %v", res.Allocated)
	}
}

func TestAwaitNodeHostnameMatchesPattern(t *testing.T) {
	calls := 0
	ft := &fakeTransport{do: func(ctx context.Context, method, path string, body, out any) error {
		calls++
		resp := out.(*listNodesResponse)
		resp.Nodes = []wireNode{{Name: "hpc-1", Hostname: "ip-0a1b2c3d"}}
		return nil
	}}
	c := New(ft)

	hostname, err := c.AwaitNodeHostname(context.Background(), "hpc-1", []string{`^ip-[0-9a-f]{8}$`}, time.Second)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if hostname != "ip-0a1b2c3d" {
		t.Fatalf("unexpected hostname: %q", hostname)
	}
}

func TestAwaitNodeHostnameTimesOut(t *testing.T) {
	ft := &fakeTransport{do: func(ctx context.Context, method, path string, body, out any) error {
		resp := out.(*listNodesResponse)
		resp.Nodes = []wireNode{{Name: "hpc-1", Hostname: "not-matching"}}
		return nil
	}}
	c := New(ft)

	_, err := c.AwaitNodeHostname(context.Background(), "hpc-1", []string{`^ip-[0-9a-f]{8}$`}, 10*time.Millisecond)
	if !errs.Is(err, errs.Timeout) {
		t.Fatalf("expected Timeout, got %v", err)
	}
}
