// Package scheduler is the only path that reads or mutates the batch
// scheduler's own state: it shells out to the scheduler's control CLI
// (scontrol/sinfo-equivalent binaries) via pkg/command.Runner and parses
// line- and key=value-oriented output into pkg/types.SchedulerNode.
//
// Grounded on original_source/slurm/src/slurmcc/util.py: retry_subprocess's
// attempt²-second backoff (ported as pkg/errs.RetryQuadratic), and
// get_sort_key_func/_node_index_and_pg_as_sort_key's HPC/HTC sort keys for
// to_hostlist.
package scheduler

import (
	"context"
	"os"
	"sort"
	"strconv"
	"strings"

	"github.com/cyclecloud/azslurmd/pkg/command"
	"github.com/cyclecloud/azslurmd/pkg/errs"
	"github.com/cyclecloud/azslurmd/pkg/log"
	"github.com/cyclecloud/azslurmd/pkg/metrics"
	"github.com/cyclecloud/azslurmd/pkg/types"
)

// defaultMaxNodesInList is the default MAX_NODES_IN_LIST, used to cap
// and paginate show_nodes/to_hostlist invocations.
const defaultMaxNodesInList = 500

// Adapter is the scheduler CLI adapter.
type Adapter struct {
	runner         command.Runner
	maxNodesInList int
}

// New constructs an Adapter. MAX_NODES_IN_LIST is read once here from
// AZSLURM_MAX_NODES_IN_LIST, not re-read per call, so behavior is
// stable within a process lifetime (see DESIGN.md).
func New(runner command.Runner) *Adapter {
	max := defaultMaxNodesInList
	if v := os.Getenv("AZSLURM_MAX_NODES_IN_LIST"); v != "" {
		if n, err := strconv.Atoi(v); err == nil && n > 0 {
			max = n
		}
	}
	return &Adapter{runner: runner, maxNodesInList: max}
}

func (a *Adapter) run(ctx context.Context, retries int, command string, args ...string) (string, error) {
	timer := metrics.NewTimer()
	var out string
	err := errs.RetryQuadratic(ctx, retries, func() error {
		res, err := a.runner.Run(ctx, command, args...)
		out = res.Stdout
		if err != nil {
			return errs.Wrap(errs.Unavailable, command+" failed", err)
		}
		return nil
	})
	timer.ObserveDurationVec(metrics.SchedulerCommandDuration, command)
	status := "ok"
	if err != nil {
		status = "error"
	}
	metrics.SchedulerCommandsTotal.WithLabelValues(command, status).Inc()
	if err != nil {
		if errs.Is(err, errs.Unavailable) {
			return out, errs.Wrap(errs.CommandFailed, command+" exhausted retries", err)
		}
		return out, err
	}
	return out, nil
}

// Ping reports whether the scheduler control daemon answers a
// low-cost status call. Never retries.
func (a *Adapter) Ping(ctx context.Context) bool {
	_, err := a.runner.Run(ctx, "scontrol", "ping")
	return err == nil
}

// ShowNodes parses the scheduler's show-node output into
// types.SchedulerNode records. An empty names list means "all nodes".
// Invocations are capped to MAX_NODES_IN_LIST names and paginated
// transparently.
func (a *Adapter) ShowNodes(ctx context.Context, names []string) ([]*types.SchedulerNode, error) {
	if len(names) == 0 {
		out, err := a.run(ctx, 5, "scontrol", "show", "node", "--detail")
		if err != nil {
			return nil, err
		}
		return parseShowNodes(out), nil
	}

	var nodes []*types.SchedulerNode
	for start := 0; start < len(names); start += a.maxNodesInList {
		end := start + a.maxNodesInList
		if end > len(names) {
			end = len(names)
		}
		hostlist, err := a.ToHostlist(ctx, names[start:end])
		if err != nil {
			return nil, err
		}
		out, err := a.run(ctx, 5, "scontrol", "show", "node", hostlist, "--detail")
		if err != nil {
			return nil, err
		}
		nodes = append(nodes, parseShowNodes(out)...)
	}
	return nodes, nil
}

// UpdateNode batches a node update. Retries (up to 5 attempts) only when
// the caller passes idempotent=true, i.e. re-applying the update is safe.
func (a *Adapter) UpdateNode(ctx context.Context, name string, fields map[string]string, idempotent bool) error {
	args := []string{"update", "NodeName=" + name}
	keys := make([]string, 0, len(fields))
	for k := range fields {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	for _, k := range keys {
		args = append(args, k+"="+fields[k])
	}

	retries := 1
	if idempotent {
		retries = 5
	}
	_, err := a.run(ctx, retries, "scontrol", args...)
	return err
}

// ToHostlist sorts names (HPC by placement-group/index, HTC by
// trailing integer) and invokes the daemon's hostlist compactor,
// matching original_source util.py's to_hostlist.
func (a *Adapter) ToHostlist(ctx context.Context, names []string) (string, error) {
	sorted := make([]string, len(names))
	copy(sorted, names)
	sortNodeNames(sorted)
	out, err := a.run(ctx, 5, "scontrol", "show", "hostlist", strings.Join(sorted, ","))
	if err != nil {
		return "", err
	}
	return strings.TrimSpace(out), nil
}

// FromHostlist expands a hostlist expression back into individual
// names via the daemon's `show hostnames`.
func (a *Adapter) FromHostlist(ctx context.Context, expr string) ([]string, error) {
	out, err := a.run(ctx, 5, "scontrol", "show", "hostnames", expr)
	if err != nil {
		return nil, err
	}
	return strings.Fields(out), nil
}

// Reconfigure asks the scheduler to reload its config files.
func (a *Adapter) Reconfigure(ctx context.Context) error {
	_, err := a.run(ctx, 5, "scontrol", "reconfigure")
	return err
}

// CreateReservation, DeleteReservation and ShowReservation back the
// topology/scaling helper's placement-group reservations.
func (a *Adapter) CreateReservation(ctx context.Context, name string, fields map[string]string) error {
	args := []string{"create", "ReservationName=" + name}
	keys := make([]string, 0, len(fields))
	for k := range fields {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	for _, k := range keys {
		args = append(args, k+"="+fields[k])
	}
	_, err := a.run(ctx, 1, "scontrol", args...)
	return err
}

func (a *Adapter) DeleteReservation(ctx context.Context, name string) error {
	_, err := a.run(ctx, 1, "scontrol", "delete", "ReservationName="+name)
	return err
}

func (a *Adapter) ShowReservation(ctx context.Context, name string) (string, error) {
	return a.run(ctx, 5, "scontrol", "show", "reservation", name)
}

// ShowConfigValue returns the raw value of a single scontrol "show
// config" parameter, e.g. "SuspendExcNodes". Used by pkg/keepalive to
// read the scheduler's own view before deciding whether to rewrite the
// managed file.
func (a *Adapter) ShowConfigValue(ctx context.Context, key string) (string, error) {
	out, err := a.run(ctx, 5, "scontrol", "show", "config")
	if err != nil {
		return "", err
	}
	for _, line := range strings.Split(out, "\n") {
		line = strings.TrimSpace(line)
		if !strings.HasPrefix(line, key) {
			continue
		}
		rest := strings.TrimSpace(strings.TrimPrefix(line, key))
		rest = strings.TrimPrefix(rest, "=")
		return strings.TrimSpace(rest), nil
	}
	return "", nil
}

// UpdateConfigValue pushes a single scontrol "show config" parameter,
// e.g. "SuspendExcNodes", back to the scheduler. Used by pkg/keepalive
// to persist the reconciler's computed keep-alive set, since the
// scheduler does not carry in-memory changes to this list across
// reconfigures on its own.
func (a *Adapter) UpdateConfigValue(ctx context.Context, key, value string) error {
	if value == "" {
		value = "(null)"
	}
	_, err := a.run(ctx, 5, "scontrol", "update", key+"="+value)
	return err
}

// sortNodeNames implements util.py's get_sort_key_func: HPC-style
// "...-pgK-I" names sort by (K, I); everything else sorts by trailing
// integer, falling back to lexical order.
func sortNodeNames(names []string) {
	sort.SliceStable(names, func(i, j int) bool {
		ki, oki := sortKey(names[i])
		kj, okj := sortKey(names[j])
		if oki && okj {
			return ki < kj
		}
		if oki != okj {
			return oki
		}
		return names[i] < names[j]
	})
}

func sortKey(name string) (int, bool) {
	parts := strings.Split(name, "-")
	if len(parts) == 0 {
		return 0, false
	}
	last, err := strconv.Atoi(parts[len(parts)-1])
	if err != nil {
		return 0, false
	}
	if len(parts) >= 2 && strings.HasPrefix(parts[len(parts)-2], "pg") {
		pg, err := strconv.Atoi(strings.TrimPrefix(parts[len(parts)-2], "pg"))
		if err == nil {
			return pg*100000 + last, true
		}
	}
	return last, true
}

// parseShowNodes parses blocks of whitespace-separated Key=Value
// tokens (one block per node, blocks separated by blank lines) into
// SchedulerNode records.
func parseShowNodes(output string) []*types.SchedulerNode {
	var nodes []*types.SchedulerNode
	var cur map[string]string

	flush := func() {
		if cur == nil || cur["NodeName"] == "" {
			return
		}
		nodes = append(nodes, recordToSchedulerNode(cur))
	}

	for _, line := range strings.Split(output, "\n") {
		trimmed := strings.TrimSpace(line)
		if trimmed == "" {
			flush()
			cur = nil
			continue
		}
		if cur == nil {
			cur = make(map[string]string)
		}
		for _, tok := range strings.Fields(trimmed) {
			kv := strings.SplitN(tok, "=", 2)
			if len(kv) != 2 {
				continue
			}
			cur[kv[0]] = kv[1]
		}
	}
	flush()
	return nodes
}

var flagTokens = map[string]types.StateFlag{
	"IDLE":           types.FlagIdle,
	"ALLOCATED":      types.FlagAllocated,
	"MIXED":          types.FlagMixed,
	"DRAIN":          types.FlagDrain,
	"DRAINING":       types.FlagDraining,
	"DRAINED":        types.FlagDrained,
	"DOWN":           types.FlagDown,
	"FAIL":           types.FlagFail,
	"POWERED_DOWN":   types.FlagPoweredDown,
	"POWERING_DOWN":  types.FlagPoweringDown,
	"POWERED_UP":     types.FlagPoweredUp,
	"POWERING_UP":    types.FlagPoweringUp,
	"RESERVED":       types.FlagReserved,
	"COMPLETING":     types.FlagCompleting,
	"MAINT":          types.FlagMaint,
	"PERFCTRS":       types.FlagPerfCtrs,
	"NOT_RESPONDING": types.FlagNotResponding,
}

func recordToSchedulerNode(rec map[string]string) *types.SchedulerNode {
	n := types.NewSchedulerNode(rec["NodeName"])
	for _, tok := range strings.Split(rec["State"], "+") {
		if f, ok := flagTokens[strings.ToUpper(tok)]; ok {
			n.Set(f)
		} else if tok != "" {
			log.WithComponent("scheduler").Debug().Str("token", tok).Msg("unrecognized state flag")
		}
	}
	n.Reason = types.ReasonCode(rec["Reason"])
	if v, ok := rec["NodeAddr"]; ok && v != "" {
		n.NodeAddr = v
	}
	if v, ok := rec["NodeHostName"]; ok && v != "" {
		n.NodeHostName = v
	}
	if v, ok := rec["AvailableFeatures"]; ok && v != "" {
		n.Features = strings.Split(v, ",")
	}
	if v, ok := rec["Partitions"]; ok && v != "" {
		n.Partitions = strings.Split(v, ",")
	}
	return n
}
