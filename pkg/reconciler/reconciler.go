package reconciler

import (
	"context"
	"sync"
	"time"

	"github.com/rs/zerolog"

	"github.com/cyclecloud/azslurmd/pkg/clock"
	"github.com/cyclecloud/azslurmd/pkg/events"
	"github.com/cyclecloud/azslurmd/pkg/log"
	"github.com/cyclecloud/azslurmd/pkg/metrics"
	"github.com/cyclecloud/azslurmd/pkg/types"
)

// ProviderSource lists the provider's live fleet inventory.
type ProviderSource interface {
	ListNodes(ctx context.Context) ([]*types.ProviderNode, error)
}

// SchedulerSource lists and mutates the scheduler's node table.
type SchedulerSource interface {
	ShowNodes(ctx context.Context, names []string) ([]*types.SchedulerNode, error)
	UpdateNode(ctx context.Context, name string, fields map[string]string, idempotent bool) error
}

// KeepAlive serializes SuspendExcNodes and tracks which names this
// reconciler owns (pkg/keepalive.Refresher satisfies this).
type KeepAlive interface {
	Refresh(ctx context.Context) (map[string]struct{}, error)
	Add(name string)
	RemoveIfOwned(name string) bool
	Sync(ctx context.Context) error
}

// Reconciler runs the node-lifecycle reconciliation loop: reading the
// provider's and scheduler's independent views of the fleet and
// correcting the scheduler's state to match reality.
type Reconciler struct {
	provider  ProviderSource
	scheduler SchedulerSource
	keepAlive KeepAlive
	broker    *events.Broker
	clock     clock.Clock
	logger    zerolog.Logger

	mu     sync.Mutex
	stopCh chan struct{}
}

// New builds a Reconciler. broker may be nil if no subscriber needs
// node-lifecycle notifications.
func New(provider ProviderSource, scheduler SchedulerSource, keepAlive KeepAlive, broker *events.Broker, c clock.Clock) *Reconciler {
	return &Reconciler{
		provider:  provider,
		scheduler: scheduler,
		keepAlive: keepAlive,
		broker:    broker,
		clock:     c,
		logger:    log.WithComponent("reconciler"),
		stopCh:    make(chan struct{}),
	}
}

// Run blocks, executing one pass every interval, until ctx is
// cancelled or Stop is called. Callers are expected to hold the
// process-wide pkg/pidlock for the daemon's lifetime; Run itself does
// not acquire it, so tests can run a Reconciler without a lock file.
func (r *Reconciler) Run(ctx context.Context, interval time.Duration) {
	ticker := r.clock.NewTicker(interval)
	defer ticker.Stop()

	r.logger.Info().Dur("interval", interval).Msg("reconciler started")

	for {
		select {
		case <-ticker.C():
			if err := r.Pass(ctx); err != nil {
				r.logger.Error().Err(err).Msg("reconciliation pass failed")
			}
		case <-ctx.Done():
			r.logger.Info().Msg("reconciler stopped")
			return
		case <-r.stopCh:
			r.logger.Info().Msg("reconciler stopped")
			return
		}
	}
}

// Stop signals Run to exit at the next loop iteration.
func (r *Reconciler) Stop() {
	close(r.stopCh)
}

// Pass executes exactly one reconciliation pass: serialized against
// concurrent passes by mu, since the in-memory keep-alive snapshot and
// the scheduler's state table are not safe for overlapping passes.
func (r *Reconciler) Pass(ctx context.Context) (*types.ReconcileSummary, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	timer := metrics.NewTimer()
	defer func() {
		timer.ObserveDuration(metrics.ReconciliationDuration)
		metrics.ReconciliationCyclesTotal.Inc()
	}()

	ccNodes, err := r.provider.ListNodes(ctx)
	if err != nil {
		r.logger.Error().Err(err).Msg("failed to list provider nodes")
		return nil, err
	}
	ccByName := make(map[string]*types.ProviderNode, len(ccNodes))
	for _, n := range ccNodes {
		ccByName[n.Name] = n
	}

	slNodes, err := r.scheduler.ShowNodes(ctx, nil)
	if err != nil {
		r.logger.Error().Err(err).Msg("failed to list scheduler nodes")
		return nil, err
	}

	warnOnUnjoinedProviderNodes(r.logger, ccByName, slNodes)

	if _, err := r.keepAlive.Refresh(ctx); err != nil {
		r.logger.Warn().Err(err).Msg("failed to refresh keep-alive snapshot")
	}

	summary := &types.ReconcileSummary{Total: len(slNodes), At: r.clock.Now()}

	for _, node := range slNodes {
		outcome := r.reconcileOne(ctx, node, ccByName[node.Name])
		switch outcome {
		case outcomeClearedNoNode:
			summary.ClearedNoNode++
		case outcomeMarkedDown:
			summary.MarkedDown++
		case outcomeMarkedZombie:
			summary.MarkedZombie++
		case outcomeRecovered:
			summary.Recovered++
		default:
			summary.Unchanged++
		}
		metrics.ReconciledNodesTotal.WithLabelValues(string(outcome)).Inc()
	}

	if err := r.keepAlive.Sync(ctx); err != nil {
		r.logger.Warn().Err(err).Msg("failed to persist keep-alive snapshot")
	}

	r.logger.Info().
		Int("total", summary.Total).
		Int("marked_down", summary.MarkedDown).
		Int("marked_zombie", summary.MarkedZombie).
		Int("recovered", summary.Recovered).
		Int("cleared_no_node", summary.ClearedNoNode).
		Int("unchanged", summary.Unchanged).
		Msg("reconciliation pass complete")

	return summary, nil
}

type outcome string

const (
	outcomeClearedNoNode outcome = "no_node_cleared"
	outcomeMarkedDown    outcome = "down_marked"
	outcomeMarkedZombie  outcome = "zombie_marked"
	outcomeRecovered     outcome = "recovered"
	outcomeUnchanged     outcome = "unchanged"
)

// reconcileOne applies the state machine for a single scheduler node
// against its (possibly absent) provider counterpart, issuing at most
// one scheduler update.
func (r *Reconciler) reconcileOne(ctx context.Context, node *types.SchedulerNode, ccNode *types.ProviderNode) outcome {
	if (node.Reason == types.ReasonNoNode || node.Reason == types.ReasonZombieNode) &&
		node.Has(types.FlagIdle) && node.Has(types.FlagPoweredDown) {
		node.Reason = types.ReasonNone
		if err := r.scheduler.UpdateNode(ctx, node.Name, map[string]string{"Reason": ""}, true); err != nil {
			r.logger.Warn().Err(err).Str("node", node.Name).Msg("failed to clear stale reason")
		}
		return outcomeClearedNoNode
	}

	if ccNode == nil {
		return r.reconcileAbsent(ctx, node)
	}
	return r.reconcilePresent(ctx, node, ccNode)
}

func (r *Reconciler) reconcileAbsent(ctx context.Context, node *types.SchedulerNode) outcome {
	if node.Joined() {
		node.SetBaseState(types.FlagDown)
		node.Reason = types.ReasonNoNode
		node.NodeAddr = node.Name
		node.NodeHostName = node.Name
		fields := map[string]string{
			"State":        "DOWN",
			"Reason":       string(types.ReasonNoNode),
			"NodeAddr":     node.Name,
			"NodeHostName": node.Name,
		}
		if err := r.scheduler.UpdateNode(ctx, node.Name, fields, false); err != nil {
			r.logger.Warn().Err(err).Str("node", node.Name).Msg("failed to mark absent joined node down")
		}
		r.publish(events.EventNodeMarkedDown, node.Name, "provider has no record of this node")
		return outcomeMarkedDown
	}

	if node.Reason == types.ReasonZombieNode {
		node.Reason = types.ReasonNone
		if err := r.scheduler.UpdateNode(ctx, node.Name, map[string]string{"Reason": ""}, true); err != nil {
			r.logger.Warn().Err(err).Str("node", node.Name).Msg("failed to clear zombie reason")
		}
		return outcomeClearedNoNode
	}
	return outcomeUnchanged
}

func (r *Reconciler) reconcilePresent(ctx context.Context, node *types.SchedulerNode, ccNode *types.ProviderNode) outcome {
	switch ccNode.State {
	case types.ProviderStateReady:
		poweredOff := node.Has(types.FlagPoweredDown) || node.Has(types.FlagDown)
		if poweredOff && !node.Has(types.FlagPoweringUp) && node.Reason != types.ReasonNoNode {
			node.SetBaseState(types.FlagDown)
			node.Reason = types.ReasonZombieNode
			fields := map[string]string{"State": "DOWN", "Reason": string(types.ReasonZombieNode)}
			if err := r.scheduler.UpdateNode(ctx, node.Name, fields, false); err != nil {
				r.logger.Warn().Err(err).Str("node", node.Name).Msg("failed to mark zombie node down")
			}
			r.publish(events.EventNodeZombieMarked, node.Name, "scheduler believes node is off but the provider reports it running")
			return outcomeMarkedZombie
		}
		return r.reconcileHealthy(ctx, node, ccNode)

	case types.ProviderStateFailed:
		if node.Joined() {
			return outcomeUnchanged
		}
		r.logger.Warn().Str("node", node.Name).Msg("provider reports node failed and scheduler has not joined it")
		return outcomeUnchanged

	default:
		return r.reconcileHealthy(ctx, node, ccNode)
	}
}

func (r *Reconciler) reconcileHealthy(ctx context.Context, node *types.SchedulerNode, ccNode *types.ProviderNode) outcome {
	result := outcomeUnchanged
	if node.Reason == types.ReasonNoNode {
		node.SetBaseState(types.FlagIdle)
		node.Reason = types.ReasonNone
		fields := map[string]string{"State": "IDLE", "Reason": ""}
		if err := r.scheduler.UpdateNode(ctx, node.Name, fields, true); err != nil {
			r.logger.Warn().Err(err).Str("node", node.Name).Msg("failed to recover node from no_node")
		}
		r.publish(events.EventNodeRecovered, node.Name, "node rejoined after a no_node transition")
		result = outcomeRecovered
	}

	if ccNode.KeepAlive {
		r.keepAlive.Add(node.Name)
	} else {
		r.keepAlive.RemoveIfOwned(node.Name)
	}
	return result
}

func (r *Reconciler) publish(t events.EventType, name, msg string) {
	if r.broker == nil {
		return
	}
	r.broker.Publish(events.New(t, name, msg))
}

func warnOnUnjoinedProviderNodes(logger zerolog.Logger, ccByName map[string]*types.ProviderNode, slNodes []*types.SchedulerNode) {
	slSeen := make(map[string]struct{}, len(slNodes))
	for _, n := range slNodes {
		slSeen[n.Name] = struct{}{}
	}
	for name := range ccByName {
		if _, ok := slSeen[name]; !ok {
			logger.Warn().Str("node", name).Msg("provider knows this node but the scheduler does not yet, likely still joining")
		}
	}
}
