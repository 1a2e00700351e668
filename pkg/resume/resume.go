// Package resume implements the scheduler's resume hook: given a list
// of node names the scheduler wants powered on, it resolves each name
// to a provider bucket, allocates and boots the ones that aren't
// already running, and optionally waits for them to reach a usable
// state.
//
// Grounded on original_source/slurm/src/slurmcc/allocation.py's
// resume/WaitForResume/wait_for_resume: the static/dynamic partition
// resolution, the allocate-then-bootup split, and the failed/recovered
// state transitions during the wait loop all follow that shape,
// generalized from node_mgr.allocate/bootup to pkg/provider.Client and
// from slurm_node state dicts to pkg/types.
package resume

import (
	"context"
	"fmt"
	"regexp"
	"sort"
	"time"

	"github.com/rs/zerolog"

	"github.com/cyclecloud/azslurmd/pkg/clock"
	"github.com/cyclecloud/azslurmd/pkg/errs"
	"github.com/cyclecloud/azslurmd/pkg/log"
	"github.com/cyclecloud/azslurmd/pkg/metrics"
	"github.com/cyclecloud/azslurmd/pkg/partition"
	"github.com/cyclecloud/azslurmd/pkg/provider"
	"github.com/cyclecloud/azslurmd/pkg/types"
)

const (
	defaultWaitBudget   = time.Hour
	defaultPollInterval = 5 * time.Second
)

// ProviderSource is the subset of *provider.Client the dispatcher needs.
type ProviderSource interface {
	ListNodes(ctx context.Context) ([]*types.ProviderNode, error)
	Allocate(ctx context.Context, bucket types.BucketID, count int, nameHook provider.NameHook, exclusive, colocated bool) (provider.AllocationResult, error)
	Bootup(ctx context.Context, names []string) (provider.BootResult, error)
}

// SchedulerSource is the subset of *scheduler.Adapter the dispatcher needs.
type SchedulerSource interface {
	ShowNodes(ctx context.Context, names []string) ([]*types.SchedulerNode, error)
	UpdateNode(ctx context.Context, name string, fields map[string]string, idempotent bool) error
}

// Options controls one Resume call. Zero values pick the defaults
// noted below.
type Options struct {
	NoWait         bool
	ValidHostnames []string      // unset means every hostname is accepted
	WaitBudget     time.Duration // default one hour
	PollInterval   time.Duration // default 5s
}

func (o Options) withDefaults() Options {
	if o.WaitBudget <= 0 {
		o.WaitBudget = defaultWaitBudget
	}
	if o.PollInterval <= 0 {
		o.PollInterval = defaultPollInterval
	}
	return o
}

// Dispatcher resolves resume requests against the partition model and
// drives the allocate/bootup/wait sequence.
type Dispatcher struct {
	provider  ProviderSource
	scheduler SchedulerSource
	clock     clock.Clock
	logger    zerolog.Logger
}

// New builds a Dispatcher.
func New(p ProviderSource, s SchedulerSource, c clock.Clock) *Dispatcher {
	return &Dispatcher{provider: p, scheduler: s, clock: c, logger: log.WithComponent("resume")}
}

// Resume runs the full resume algorithm for names against partitions
// (normally the output of a fresh partition.FetchPartitions call).
//
// Unknown names fail the entire call, before any provider mutation.
// A failed provider listing or bootup call also fails the entire call.
// Allocation and wait failures are per-name: one name's trouble never
// blocks another's progress.
func (d *Dispatcher) Resume(ctx context.Context, names []string, partitions []*types.Partition, opts Options) (*types.ResumeResult, error) {
	opts = opts.withDefaults()

	timer := metrics.NewTimer()
	defer func() { timer.ObserveDurationVec(metrics.DispatchDuration, "resume") }()

	owner, unknown, err := d.resolveOwners(ctx, names, partitions)
	if err != nil {
		return nil, err
	}
	if len(unknown) > 0 {
		metrics.DispatchedNodesTotal.WithLabelValues("resume", "unknown").Add(float64(len(unknown)))
		sort.Strings(unknown)
		return nil, errs.New(errs.UnknownNode, fmt.Sprintf("unknown node names: %v", unknown))
	}

	existing, err := d.provider.ListNodes(ctx)
	if err != nil {
		return nil, errs.Wrap(errs.Unavailable, "listing provider nodes before allocation", err)
	}
	existingByName := make(map[string]*types.ProviderNode, len(existing))
	for _, n := range existing {
		existingByName[n.Name] = n
	}

	result := &types.ResumeResult{}
	var toBoot []string

	for _, name := range names {
		p := owner[name]
		if cur, ok := existingByName[name]; ok && cur.State != types.ProviderStateDeallocated && cur.State != types.ProviderStateOff {
			d.logger.Info().Str("node", name).Str("state", string(cur.State)).Msg("node already running, skipping allocation")
			continue
		}

		bucket, ok := bucketFor(p, name)
		if !ok {
			d.logger.Warn().Str("node", name).Str("partition", p.Name).Msg("partition has no bucket for this node, skipping")
			continue
		}

		alloc, err := d.provider.Allocate(ctx, bucket, 1, exactNameHook(name), true, p.IsHPC)
		if err != nil {
			d.logger.Error().Err(err).Str("node", name).Msg("allocate failed")
			result.Failed = append(result.Failed, name)
			continue
		}
		result.Allocated = append(result.Allocated, alloc.Allocated...)
		toBoot = append(toBoot, alloc.Allocated...)
	}

	if len(toBoot) > 0 {
		if _, err := d.provider.Bootup(ctx, toBoot); err != nil {
			return nil, errs.Wrap(errs.Unavailable, "bootup failed", err)
		}
	}

	metrics.DispatchedNodesTotal.WithLabelValues("resume", "allocated").Add(float64(len(result.Allocated)))

	if opts.NoWait || len(names) == 0 {
		return result, nil
	}

	ready, failed := d.wait(ctx, names, opts)
	result.Ready = ready
	result.Failed = append(result.Failed, failed...)
	metrics.DispatchedNodesTotal.WithLabelValues("resume", "ready").Add(float64(len(ready)))
	metrics.DispatchedNodesTotal.WithLabelValues("resume", "failed").Add(float64(len(failed)))
	return result, nil
}

// exactNameHook returns a provider.NameHook that claims exactly one
// name at index 1, matching name_hook in allocation.py: any other
// index means the node already exists in a terminating state.
func exactNameHook(name string) provider.NameHook {
	return func(bucket types.BucketID, index int) (string, error) {
		if index != 1 {
			return "", errs.New(errs.InvalidState, fmt.Sprintf("could not create node %q, perhaps it already exists in a terminating state", name))
		}
		return name, nil
	}
}

func bucketFor(p *types.Partition, name string) (types.BucketID, bool) {
	if p.Static() {
		return p.BucketFor(name)
	}
	if len(p.Buckets) == 0 {
		return types.BucketID{}, false
	}
	return p.Buckets[0].ID, true
}

// resolveOwners maps every requested name to its owning partition.
// Names not covered by any static partition are resolved by reading
// their AvailableFeatures from the scheduler and matching that feature
// set against the dynamic partitions; anything left over is unknown.
func (d *Dispatcher) resolveOwners(ctx context.Context, names []string, partitions []*types.Partition) (map[string]*types.Partition, []string, error) {
	owner := make(map[string]*types.Partition, len(names))
	var byFeature []string

	for _, name := range names {
		if p, _, ok := partition.FindStatic(partitions, name); ok {
			owner[name] = p
			continue
		}
		byFeature = append(byFeature, name)
	}

	if len(byFeature) == 0 {
		return owner, nil, nil
	}

	hasDynamic := false
	for _, p := range partitions {
		if !p.Static() {
			hasDynamic = true
			break
		}
	}
	if !hasDynamic {
		return owner, byFeature, nil
	}

	slNodes, err := d.scheduler.ShowNodes(ctx, byFeature)
	if err != nil {
		return nil, nil, errs.Wrap(errs.Unavailable, "reading AvailableFeatures for dynamic node resolution", err)
	}
	slByName := make(map[string]*types.SchedulerNode, len(slNodes))
	for _, n := range slNodes {
		slByName[n.Name] = n
	}

	var unknown []string
	for _, name := range byFeature {
		sn, ok := slByName[name]
		if !ok || len(sn.Features) == 0 {
			unknown = append(unknown, name)
			continue
		}
		p, ok := partition.FindDynamic(partitions, sn.Features)
		if !ok {
			unknown = append(unknown, name)
			continue
		}
		p.AddDynamicNode(name)
		owner[name] = p
	}
	return owner, unknown, nil
}

// wait polls the provider's fleet inventory until every name reaches a
// terminal classification (ready, failed with no recovery, or gone) or
// opts.WaitBudget elapses. A name transitioning Failed->non-Failed is
// recovered: the scheduler reason moves from cyclecloud_node_failure
// to cyclecloud_node_recovery and the node is returned to idle.
func (d *Dispatcher) wait(ctx context.Context, names []string, opts Options) (ready, failed []string) {
	failedSet := make(map[string]struct{})
	readySet := make(map[string]struct{})
	goneSet := make(map[string]struct{})
	ipApplied := make(map[string]string)

	deadline := d.clock.Now().Add(opts.WaitBudget)

	for {
		nodes, err := d.provider.ListNodes(ctx)
		if err != nil {
			d.logger.Warn().Err(err).Msg("failed to poll provider nodes during resume wait")
		}
		byName := make(map[string]*types.ProviderNode, len(nodes))
		for _, n := range nodes {
			byName[n.Name] = n
		}

		for _, name := range names {
			if _, done := readySet[name]; done {
				continue
			}
			if _, done := goneSet[name]; done {
				continue
			}
			d.classifyOne(ctx, name, byName[name], failedSet, readySet, ipApplied, opts.ValidHostnames)
			if _, ok := byName[name]; !ok {
				if _, wasFailed := failedSet[name]; !wasFailed {
					goneSet[name] = struct{}{}
				}
			}
		}

		if len(readySet)+len(failedSet)+len(goneSet) >= len(names) {
			break
		}
		if !d.clock.Now().Before(deadline) {
			d.logger.Warn().Strs("nodes", names).Msg("resume wait timed out before every node reached a terminal state")
			break
		}

		select {
		case <-ctx.Done():
			d.logger.Warn().Msg("resume wait cancelled")
			failed = setKeys(failedSet)
			ready = setKeys(readySet)
			return ready, failed
		case <-d.clock.After(opts.PollInterval):
		}
	}

	ready = setKeys(readySet)
	failed = setKeys(failedSet)
	return ready, failed
}

func (d *Dispatcher) classifyOne(ctx context.Context, name string, node *types.ProviderNode, failedSet, readySet map[string]struct{}, ipApplied map[string]string, validHostnames []string) {
	if node == nil {
		return
	}

	if node.State == types.ProviderStateFailed {
		if _, already := failedSet[name]; !already {
			failedSet[name] = struct{}{}
			d.logger.Error().Str("node", name).Msg("node failed to start")
			fields := map[string]string{"State": "DOWN", "Reason": string(types.ReasonNodeFailure)}
			if err := d.scheduler.UpdateNode(ctx, name, fields, false); err != nil {
				d.logger.Warn().Err(err).Str("node", name).Msg("failed to mark failed node down")
			}
		}
		return
	}

	if _, wasFailed := failedSet[name]; wasFailed {
		delete(failedSet, name)
		d.logger.Info().Str("node", name).Msg("node recovered after a failed boot")
		fields := map[string]string{"State": "IDLE", "Reason": string(types.ReasonNodeRecovery)}
		if err := d.scheduler.UpdateNode(ctx, name, fields, true); err != nil {
			d.logger.Warn().Err(err).Str("node", name).Msg("failed to mark recovered node idle")
		}
	}

	if node.Target != types.TargetStateStarted {
		return
	}
	if node.State != types.ProviderStateReady || node.PrivateIP == "" {
		return
	}

	if !node.UseNodenameAsHostname() {
		if !matchesAny(node.Hostname, validHostnames) && !matchesAny(node.PrivateIP, validHostnames) {
			return // hostname not yet valid: retried next pass, not accepted
		}
		if ipApplied[name] != node.PrivateIP {
			fields := map[string]string{"NodeAddr": node.PrivateIP, "NodeHostName": node.PrivateIP}
			if err := d.scheduler.UpdateNode(ctx, name, fields, true); err != nil {
				d.logger.Warn().Err(err).Str("node", name).Msg("failed to set node address")
			}
			ipApplied[name] = node.PrivateIP
		}
	}

	readySet[name] = struct{}{}
}

func matchesAny(value string, patterns []string) bool {
	if len(patterns) == 0 {
		return true
	}
	for _, p := range patterns {
		if matched, err := regexp.MatchString(p, value); err == nil && matched {
			return true
		}
	}
	return false
}

func setKeys(m map[string]struct{}) []string {
	out := make([]string, 0, len(m))
	for k := range m {
		out = append(out, k)
	}
	sort.Strings(out)
	return out
}
