// Package provider wraps the external fleet REST API ("the provider"):
// list, allocate, boot, shut down, terminate, and deallocate VMs, plus
// polling helpers used by pkg/resume.
//
// One constructor-injected client, one method per call, each wrapped
// in its own bounded context: generalized from gRPC (dropped, see
// DESIGN.md) to pkg/httpx's REST transport, since the fleet API here
// is a plain JSON REST backend, not an internal gRPC service.
package provider

import (
	"context"
	"fmt"
	"net/http"
	"regexp"
	"time"

	"github.com/cyclecloud/azslurmd/pkg/errs"
	"github.com/cyclecloud/azslurmd/pkg/metrics"
	"github.com/cyclecloud/azslurmd/pkg/partition"
	"github.com/cyclecloud/azslurmd/pkg/types"
)

// callTimeout bounds every provider call's connect/read round trip.
const callTimeout = 30 * time.Second

// transport is the subset of *httpx.Client the provider needs; an
// interface so tests substitute a fake without standing up an HTTP
// server.
type transport interface {
	Do(ctx context.Context, method, path string, body, out any) error
}

// Client is the provider REST client. Stateless across calls;
// correlation is by node name or operation ID.
type Client struct {
	transport transport
}

// New builds a Client over the given transport (normally an
// *httpx.Client constructed once at daemon startup).
func New(t transport) *Client {
	return &Client{transport: t}
}

// NameHook returns the exact node name to claim for the 1-based index
// into an allocation. It must fail unless index == 1, guaranteeing a
// name is claimed exactly once per Allocate call.
type NameHook func(bucket types.BucketID, index int) (string, error)

// AllocationResult is the outcome of one Allocate call.
type AllocationResult struct {
	Allocated []string
}

// BootResult carries the operation ID used to poll a bootup via
// GetNodes.
type BootResult struct {
	OperationID string
}

type listNodesResponse struct {
	Nodes []wireNode `json:"nodes"`
}

type wireNode struct {
	Name                  string            `json:"name"`
	NodeArray             string            `json:"node_array"`
	VMSize                string            `json:"vm_size"`
	PlacementGroup        string            `json:"placement_group"`
	PrivateIP             string            `json:"private_ip"`
	Hostname              string            `json:"hostname"`
	State                 string            `json:"state"`
	Target                string            `json:"target_state"`
	KeepAlive             bool              `json:"keep_alive"`
	SoftwareConfiguration map[string]string `json:"software_configuration"`
}

func (w wireNode) toProviderNode() *types.ProviderNode {
	return &types.ProviderNode{
		Name:                  w.Name,
		NodeArray:             w.NodeArray,
		VMSize:                w.VMSize,
		PlacementGroup:        w.PlacementGroup,
		PrivateIP:             w.PrivateIP,
		Hostname:              w.Hostname,
		State:                 types.ProviderState(w.State),
		Target:                types.TargetState(w.Target),
		KeepAlive:             w.KeepAlive,
		SoftwareConfiguration: w.SoftwareConfiguration,
	}
}

// ListNodes returns the provider's complete fleet inventory.
func (c *Client) ListNodes(ctx context.Context) ([]*types.ProviderNode, error) {
	ctx, cancel := context.WithTimeout(ctx, callTimeout)
	defer cancel()

	timer := metrics.NewTimer()
	var resp listNodesResponse
	err := c.transport.Do(ctx, http.MethodGet, "/nodes", nil, &resp)
	observeCall(timer, "list_nodes", err)
	if err != nil {
		return nil, err
	}

	nodes := make([]*types.ProviderNode, 0, len(resp.Nodes))
	for _, w := range resp.Nodes {
		nodes = append(nodes, w.toProviderNode())
	}
	return nodes, nil
}

type allocateRequest struct {
	BucketID  types.BucketID `json:"bucket_id"`
	Count     int            `json:"count"`
	Names     []string       `json:"names"`
	Exclusive bool           `json:"exclusive"`
	Colocated bool           `json:"colocated"`
}

// Allocate claims count names from bucket via nameHook (called with
// indices starting at 1) and asks the provider to create them with
// the given exclusivity/colocation constraints.
func (c *Client) Allocate(ctx context.Context, bucket types.BucketID, count int, nameHook NameHook, exclusive, colocated bool) (AllocationResult, error) {
	ctx, cancel := context.WithTimeout(ctx, callTimeout)
	defer cancel()

	names := make([]string, 0, count)
	for i := 1; i <= count; i++ {
		name, err := nameHook(bucket, i)
		if err != nil {
			return AllocationResult{}, errs.Wrap(errs.InvalidState, fmt.Sprintf("name hook failed at index %d", i), err)
		}
		names = append(names, name)
	}

	req := allocateRequest{BucketID: bucket, Count: count, Names: names, Exclusive: exclusive, Colocated: colocated}
	timer := metrics.NewTimer()
	err := c.transport.Do(ctx, http.MethodPost, "/nodes/allocate", req, nil)
	observeCall(timer, "allocate", err)
	if err != nil {
		return AllocationResult{}, err
	}
	return AllocationResult{Allocated: names}, nil
}

// Bootup starts the given nodes and returns an operation ID used to
// poll progress via GetNodes.
func (c *Client) Bootup(ctx context.Context, names []string) (BootResult, error) {
	ctx, cancel := context.WithTimeout(ctx, callTimeout)
	defer cancel()

	var resp struct {
		OperationID string `json:"operation_id"`
	}
	timer := metrics.NewTimer()
	err := c.transport.Do(ctx, http.MethodPost, "/nodes/bootup", map[string][]string{"names": names}, &resp)
	observeCall(timer, "bootup", err)
	if err != nil {
		return BootResult{}, err
	}
	return BootResult{OperationID: resp.OperationID}, nil
}

// Shutdown, Terminate and Deallocate issue a fleet-wide state change
// for the given nodes.
func (c *Client) Shutdown(ctx context.Context, names []string) error {
	return c.simpleCall(ctx, "shutdown", "/nodes/shutdown", names)
}

func (c *Client) Terminate(ctx context.Context, names []string) error {
	return c.simpleCall(ctx, "terminate", "/nodes/terminate", names)
}

func (c *Client) Deallocate(ctx context.Context, names []string) error {
	return c.simpleCall(ctx, "deallocate", "/nodes/deallocate", names)
}

func (c *Client) simpleCall(ctx context.Context, op, path string, names []string) error {
	ctx, cancel := context.WithTimeout(ctx, callTimeout)
	defer cancel()
	timer := metrics.NewTimer()
	err := c.transport.Do(ctx, http.MethodPost, path, map[string][]string{"names": names}, nil)
	observeCall(timer, op, err)
	return err
}

// GetNodes returns a filtered view of the fleet, used to poll a
// bootup's progress by operation or request ID.
func (c *Client) GetNodes(ctx context.Context, operationID, requestID string) ([]*types.ProviderNode, error) {
	ctx, cancel := context.WithTimeout(ctx, callTimeout)
	defer cancel()

	path := "/nodes"
	if operationID != "" {
		path += "?operation_id=" + operationID
	} else if requestID != "" {
		path += "?request_id=" + requestID
	}

	timer := metrics.NewTimer()
	var resp listNodesResponse
	err := c.transport.Do(ctx, http.MethodGet, path, nil, &resp)
	observeCall(timer, "get_nodes", err)
	if err != nil {
		return nil, err
	}
	nodes := make([]*types.ProviderNode, 0, len(resp.Nodes))
	for _, w := range resp.Nodes {
		nodes = append(nodes, w.toProviderNode())
	}
	return nodes, nil
}

type listBucketsResponse struct {
	Buckets []wireBucket `json:"buckets"`
}

type wireBucket struct {
	NodeArray             string   `json:"node_array"`
	VMSize                string   `json:"vm_size"`
	PlacementGroup        string   `json:"placement_group"`
	PlacementIndex        int      `json:"placement_index"`
	MaxCount              int      `json:"max_count"`
	AutoscaleEnabled      bool     `json:"autoscale_enabled"`
	IsHPC                 bool     `json:"is_hpc"`
	IsDefault             bool     `json:"is_default"`
	MaxPlacementGroupSize int      `json:"max_placement_group_size"`
	NodePrefix            string   `json:"node_prefix"`
	DynamicConfig         string   `json:"dynamic_config"`
	Features              []string `json:"features"`
}

func (w wireBucket) toRawBucket() partition.RawBucket {
	return partition.RawBucket{
		NodeArray:             w.NodeArray,
		VMSize:                w.VMSize,
		PlacementGroup:        w.PlacementGroup,
		PlacementIndex:        w.PlacementIndex,
		MaxCount:              w.MaxCount,
		AutoscaleEnabled:      w.AutoscaleEnabled,
		IsHPC:                 w.IsHPC,
		IsDefault:             w.IsDefault,
		MaxPlacementGroupSize: w.MaxPlacementGroupSize,
		NodePrefix:            w.NodePrefix,
		DynamicConfig:         w.DynamicConfig,
		Features:              w.Features,
	}
}

// ListBuckets returns the fleet's node-array bucket shapes, satisfying
// pkg/partition.BucketSource so pkg/partition.FetchPartitions can build
// the partition view straight off this client.
func (c *Client) ListBuckets(ctx context.Context) ([]partition.RawBucket, error) {
	ctx, cancel := context.WithTimeout(ctx, callTimeout)
	defer cancel()

	timer := metrics.NewTimer()
	var resp listBucketsResponse
	err := c.transport.Do(ctx, http.MethodGet, "/buckets", nil, &resp)
	observeCall(timer, "list_buckets", err)
	if err != nil {
		return nil, err
	}

	raw := make([]partition.RawBucket, 0, len(resp.Buckets))
	for _, w := range resp.Buckets {
		raw = append(raw, w.toRawBucket())
	}
	return raw, nil
}

// AwaitNodeHostname blocks, polling GetNodes every 5s, until name has
// a hostname matching one of validHostnames, or timeout elapses.
func (c *Client) AwaitNodeHostname(ctx context.Context, name string, validHostnames []string, timeout time.Duration) (string, error) {
	const pollInterval = 5 * time.Second
	deadline := time.Now().Add(timeout)
	for {
		nodes, err := c.GetNodes(ctx, "", "")
		if err == nil {
			for _, n := range nodes {
				if n.Name != name || n.Hostname == "" {
					continue
				}
				if matchesAny(n.Hostname, validHostnames) {
					return n.Hostname, nil
				}
			}
		}

		remaining := time.Until(deadline)
		if remaining <= 0 {
			return "", errs.New(errs.Timeout, "timed out awaiting hostname for "+name)
		}
		wait := pollInterval
		if remaining < wait {
			wait = remaining
		}
		select {
		case <-ctx.Done():
			return "", errs.Wrap(errs.Timeout, "context cancelled awaiting hostname for "+name, ctx.Err())
		case <-time.After(wait):
		}
	}
}

func matchesAny(hostname string, patterns []string) bool {
	for _, p := range patterns {
		if matched, err := regexp.MatchString(p, hostname); err == nil && matched {
			return true
		}
	}
	return false
}

func observeCall(timer *metrics.Timer, op string, err error) {
	timer.ObserveDurationVec(metrics.ProviderCallDuration, op)
	status := "ok"
	if err != nil {
		status = "error"
		if errs.Is(err, errs.Unavailable) {
			status = "unavailable"
		}
	}
	metrics.ProviderCallsTotal.WithLabelValues(op, status).Inc()
}
