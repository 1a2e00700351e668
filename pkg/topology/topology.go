// Package topology builds the scheduler's topology.conf-equivalent
// file: the physical InfiniBand fabric's switch tree (SHARP-enabled
// clusters) or NVLink GPU rack/block grouping, depending on which
// input mode a partition uses.
//
// Grounded on original_source/azure-slurm/slurmcc/topology.py's
// Topology class: get_hostnames's idle+powered_up filter, the
// sharp_hello/ibstatus preflight checks, retrieve_guids's "hostname:
// value" line parsing, identify_torsets/group_hosts_by_torset's
// insertion-order torset assignment, and run_nvlink's
// ClusterUUID+CliqueId rack grouping. srun's remote multi-host
// execution is generalized to the NodeExecutor interface below so
// tests substitute a fake instead of a real Slurm allocation.
package topology

import (
	"bufio"
	"context"
	"fmt"
	"sort"
	"strings"

	"github.com/rs/zerolog"

	"github.com/cyclecloud/azslurmd/pkg/command"
	"github.com/cyclecloud/azslurmd/pkg/errs"
	"github.com/cyclecloud/azslurmd/pkg/log"
	"github.com/cyclecloud/azslurmd/pkg/metrics"
	"github.com/cyclecloud/azslurmd/pkg/types"
)

// NodeExecutor runs a shell command across one or more hosts, the way
// srun -w host1,host2 bash -c '...' does: one invocation, output lines
// prefixed or attributable back to the originating host.
type NodeExecutor interface {
	Run(ctx context.Context, hosts []string, script string) (command.Result, error)
}

// SRunExecutor is the production NodeExecutor, shelling out to srun
// via a pkg/command.Runner.
type SRunExecutor struct {
	Runner    command.Runner
	Partition string
}

// NewSRunExecutor builds an SRunExecutor scoped to partition (used for
// srun's -p flag so the job lands on nodes already known to be up).
func NewSRunExecutor(runner command.Runner, partition string) *SRunExecutor {
	return &SRunExecutor{Runner: runner, Partition: partition}
}

func (e *SRunExecutor) Run(ctx context.Context, hosts []string, script string) (command.Result, error) {
	args := []string{}
	if e.Partition != "" {
		args = append(args, "-p", e.Partition)
	}
	args = append(args, "-w", strings.Join(hosts, ","), "bash", "-c", script)
	return e.Runner.Run(ctx, "srun", args...)
}

// SchedulerSource lists scheduler nodes, used to find a partition's
// currently idle and powered-up members.
type SchedulerSource interface {
	ShowNodes(ctx context.Context, names []string) ([]*types.SchedulerNode, error)
}

// EligibleNodes returns the members of partitionName that are idle and
// powered up, the pool every topology backend draws from. Fails if
// fewer than two remain: a topology needs at least two nodes to say
// anything about fabric locality.
func EligibleNodes(ctx context.Context, sched SchedulerSource, partitionName string) ([]*types.SchedulerNode, error) {
	all, err := sched.ShowNodes(ctx, nil)
	if err != nil {
		return nil, errs.Wrap(errs.Unavailable, "listing scheduler nodes for topology build", err)
	}

	var eligible []*types.SchedulerNode
	var excluded []string
	for _, n := range all {
		if !inPartition(n, partitionName) {
			continue
		}
		if n.Has(types.FlagIdle) && n.Has(types.FlagPoweredUp) {
			eligible = append(eligible, n)
		} else {
			excluded = append(excluded, n.Name)
		}
	}

	logger := log.WithPartition(partitionName)
	if len(excluded) > 0 {
		logger.Warn().Strs("excluded", excluded).Msg("excluding nodes that are not idle and powered up from the topology build")
	}
	if len(eligible) < 2 {
		return nil, errs.New(errs.InvalidState, fmt.Sprintf("partition %s has fewer than 2 idle, powered-up nodes", partitionName))
	}
	return eligible, nil
}

func inPartition(n *types.SchedulerNode, name string) bool {
	for _, p := range n.Partitions {
		if p == name {
			return true
		}
	}
	return false
}

func hostnames(nodes []*types.SchedulerNode) []string {
	out := make([]string, len(nodes))
	for i, n := range nodes {
		out[i] = n.NodeHostName
	}
	return out
}

// FabricBuilder builds the physical InfiniBand tree topology.
type FabricBuilder struct {
	exec   NodeExecutor
	logger zerolog.Logger
}

// NewFabricBuilder builds a FabricBuilder.
func NewFabricBuilder(exec NodeExecutor) *FabricBuilder {
	return &FabricBuilder{exec: exec, logger: log.WithComponent("topology.fabric")}
}

// Build runs the full preflight-then-discovery sequence and returns
// the rendered tree topology.conf content.
func (b *FabricBuilder) Build(ctx context.Context, nodes []*types.SchedulerNode) ([]byte, error) {
	timer := metrics.NewTimer()
	defer timer.ObserveDurationVec(metrics.TopologyBuildDuration, "fabric")

	hosts := hostnames(nodes)
	probe := hosts[:1]

	if _, err := b.exec.Run(ctx, probe, "sharp/bin/sharp_hello"); err != nil {
		return nil, errs.Wrap(errs.Unavailable, "sharp_hello failed, fabric manager is not reachable", err)
	}

	ibRes, err := b.exec.Run(ctx, probe, "python3 -c \"import shutil; print(shutil.which('ibstatus'))\"")
	if err != nil || strings.TrimSpace(ibRes.Stdout) == "None" || strings.TrimSpace(ibRes.Stdout) == "" {
		return nil, errs.Wrap(errs.CommandFailed, "ibstatus is not available on "+hosts[0], err)
	}

	guidToHost, err := b.collectGUIDs(ctx, hosts)
	if err != nil {
		return nil, err
	}

	switchGroups, err := b.runSharpTopology(ctx, probe[0], guidToHost)
	if err != nil {
		return nil, err
	}

	torsets := buildTorsets(switchGroups, guidToHost)
	return renderTree(torsets), nil
}

// collectGUIDs runs the IB GUID probe on every host and parses
// "hostname: guid" lines into guid->hostname, the way retrieve_guids
// builds guid_to_host_map. Ibstat reports GUIDs with a "0x00" prefix
// that SHARP expects collapsed to "0x".
func (b *FabricBuilder) collectGUIDs(ctx context.Context, hosts []string) (map[string]string, error) {
	const cmd = `ibstatus | grep mlx5_ib | cut -d" " -f3 | xargs -I% ibstat "%" | grep "Port GUID" | cut -d: -f2 | while IFS= read -r line; do echo "$(hostname): $line"; done`
	res, err := b.exec.Run(ctx, hosts, cmd)
	if err != nil {
		return nil, errs.Wrap(errs.CommandFailed, "collecting InfiniBand GUIDs", err)
	}

	guidToHost := make(map[string]string)
	scanner := bufio.NewScanner(strings.NewReader(res.Stdout))
	for scanner.Scan() {
		line := strings.TrimSpace(scanner.Text())
		if line == "" {
			continue
		}
		host, guid, ok := strings.Cut(line, ":")
		if !ok {
			continue
		}
		guid = strings.ReplaceAll(strings.TrimSpace(guid), "0x00", "0x")
		guidToHost[guid] = strings.TrimSpace(host)
	}
	return guidToHost, nil
}

// runSharpTopology asks the fabric manager to group the collected
// GUIDs by switch. The real sharp_cmd topology tool reads a guids file
// and writes a topology file of "SwitchName=... Nodes=guid,guid,..."
// lines; here the GUID list is passed as an argument and the same
// lines are read back from stdout, since this daemon has no shared
// filesystem with the probed host to exchange files through.
func (b *FabricBuilder) runSharpTopology(ctx context.Context, host string, guidToHost map[string]string) ([][]string, error) {
	guids := make([]string, 0, len(guidToHost))
	for g := range guidToHost {
		guids = append(guids, g)
	}
	sort.Strings(guids)

	cmd := "sharp/bin/sharp_cmd topology --ib-dev mlx5_ib0:1 --guids " + strings.Join(guids, ",")
	res, err := b.exec.Run(ctx, []string{host}, cmd)
	if err != nil {
		return nil, errs.Wrap(errs.CommandFailed, "sharp_cmd topology failed", err)
	}
	return parseSwitchLines(res.Stdout), nil
}

// parseSwitchLines extracts the GUID list from each "SwitchName=...
// Nodes=guid,guid,..." line, in the order sharp_cmd printed them.
func parseSwitchLines(output string) [][]string {
	var groups [][]string
	scanner := bufio.NewScanner(strings.NewReader(output))
	for scanner.Scan() {
		line := strings.TrimSpace(scanner.Text())
		if !strings.Contains(line, "Nodes=") {
			continue
		}
		for _, field := range strings.Fields(line) {
			if rest, ok := strings.CutPrefix(field, "Nodes="); ok {
				groups = append(groups, strings.Split(rest, ","))
			}
		}
	}
	return groups
}

// buildTorsets assigns each switch's hosts to a "torset-NN" group,
// matching identify_torsets: the first switch encountered seeds
// torset-00, and a host already assigned is never reassigned even if
// it reappears under a later switch.
func buildTorsets(switchGroups [][]string, guidToHost map[string]string) []torset {
	hostToTorset := make(map[string]int)
	var order []string // torset assignment order, for group_hosts_by_torset's insertion order

	for _, guids := range switchGroups {
		torsetIndex := len(distinctValues(hostToTorset))
		for _, guid := range guids {
			host, ok := guidToHost[guid]
			if !ok {
				continue
			}
			if _, assigned := hostToTorset[host]; assigned {
				continue
			}
			hostToTorset[host] = torsetIndex
			order = append(order, host)
		}
	}

	byIndex := make(map[int][]string)
	for _, host := range order {
		idx := hostToTorset[host]
		byIndex[idx] = append(byIndex[idx], host)
	}

	maxIdx := -1
	for idx := range byIndex {
		if idx > maxIdx {
			maxIdx = idx
		}
	}
	torsets := make([]torset, 0, maxIdx+1)
	for i := 0; i <= maxIdx; i++ {
		torsets = append(torsets, torset{index: i, hosts: byIndex[i]})
	}
	return torsets
}

func distinctValues(m map[string]int) map[int]struct{} {
	out := make(map[int]struct{})
	for _, v := range m {
		out[v] = struct{}{}
	}
	return out
}

type torset struct {
	index int
	hosts []string
}

// renderTree emits one "SwitchName=sw{NN} Nodes=..." line per torset
// and, when there is more than one, a trailing "SwitchName=sw{N+1}
// Switches=sw00,..." line joining them under a single root switch.
func renderTree(torsets []torset) []byte {
	var b strings.Builder
	var switches []string
	for _, t := range torsets {
		name := fmt.Sprintf("sw%02d", t.index)
		fmt.Fprintf(&b, "# Number of Nodes in %s: %d\n", name, len(t.hosts))
		fmt.Fprintf(&b, "SwitchName=%s Nodes=%s\n", name, strings.Join(t.hosts, ","))
		switches = append(switches, name)
	}
	if len(torsets) > 1 {
		fmt.Fprintf(&b, "SwitchName=sw%02d Switches=%s\n", len(torsets), strings.Join(switches, ","))
	}
	return []byte(b.String())
}

// BlockBuilder builds the NVLink GPU rack/block topology.
type BlockBuilder struct {
	exec         NodeExecutor
	minBlockSize int
	logger       zerolog.Logger
}

// NewBlockBuilder builds a BlockBuilder. minBlockSize is the
// configured minimum block size; groups smaller than it are emitted
// commented out since the scheduler would otherwise consider them
// schedulable blocks.
func NewBlockBuilder(exec NodeExecutor, minBlockSize int) *BlockBuilder {
	if minBlockSize <= 0 {
		minBlockSize = 1
	}
	return &BlockBuilder{exec: exec, minBlockSize: minBlockSize, logger: log.WithComponent("topology.nvlink")}
}

// Build reads each host's ClusterUUID+CliqueId rack identifier,
// groups hosts sharing one, and renders the block topology.
func (b *BlockBuilder) Build(ctx context.Context, nodes []*types.SchedulerNode) ([]byte, error) {
	timer := metrics.NewTimer()
	defer timer.ObserveDurationVec(metrics.TopologyBuildDuration, "nvlink")

	hosts := hostnames(nodes)
	rackByHost, order, err := b.collectRackIDs(ctx, hosts)
	if err != nil {
		return nil, err
	}

	groups := groupByRack(rackByHost, order)
	return b.renderBlocks(groups), nil
}

// collectRackIDs runs nvidia-smi on every host and parses "hostname:
// clusterUUIDcliqueID" lines, matching _run_get_rack_id_command /
// get_rack_id. order preserves first-seen host order for determinism.
func (b *BlockBuilder) collectRackIDs(ctx context.Context, hosts []string) (map[string]string, []string, error) {
	const cmd = `echo "$(nvidia-smi -q | grep 'ClusterUUID' | head -n 1 | cut -d: -f2)$(nvidia-smi -q | grep 'CliqueId' | head -n 1 | cut -d: -f2)" | while IFS= read -r line; do echo "$(hostname): $line"; done`
	res, err := b.exec.Run(ctx, hosts, cmd)
	if err != nil {
		return nil, nil, errs.Wrap(errs.CommandFailed, "collecting NVLink rack identifiers", err)
	}

	rackByHost := make(map[string]string)
	var order []string
	scanner := bufio.NewScanner(strings.NewReader(res.Stdout))
	for scanner.Scan() {
		line := strings.Trim(strings.TrimSpace(scanner.Text()), `"`)
		if line == "" {
			continue
		}
		host, rack, ok := strings.Cut(line, ":")
		if !ok {
			continue
		}
		host = strings.TrimSpace(host)
		rack = strings.TrimSpace(rack)
		if rack == "" {
			rack = "N/A"
		}
		rackByHost[host] = rack
		order = append(order, host)
	}
	return rackByHost, order, nil
}

type rackGroup struct {
	rackID string
	hosts  []string
}

func groupByRack(rackByHost map[string]string, order []string) []rackGroup {
	index := make(map[string]int)
	var groups []rackGroup
	for _, host := range order {
		rack := rackByHost[host]
		if i, ok := index[rack]; ok {
			groups[i].hosts = append(groups[i].hosts, host)
			continue
		}
		index[rack] = len(groups)
		groups = append(groups, rackGroup{rackID: rack, hosts: []string{host}})
	}
	return groups
}

// blockSizesTrailer is the file's closing BlockSizes value. It names
// the scheduling granularity the scheduler treats each block as (one
// node at a time), which is independent of minBlockSize: a block can
// be ineligible for scheduling below minBlockSize while the file still
// advertises unit granularity for the blocks that remain.
const blockSizesTrailer = 1

// renderBlocks emits one BlockName per rack group (commented out when
// smaller than minBlockSize) and a trailing BlockSizes line.
func (b *BlockBuilder) renderBlocks(groups []rackGroup) []byte {
	var out strings.Builder
	for i, g := range groups {
		blockIndex := i + 1
		fmt.Fprintf(&out, "# Number of Nodes in block%d: %d\n", blockIndex, len(g.hosts))
		fmt.Fprintf(&out, "# ClusterUUID and CliqueID: %s\n", g.rackID)
		if strings.Contains(g.rackID, "N/A") {
			fmt.Fprintf(&out, "# Warning: Block %d has unknown ClusterUUID and CliqueID\n", blockIndex)
		}
		line := fmt.Sprintf("BlockName=block%d Nodes=%s", blockIndex, strings.Join(g.hosts, ","))
		if len(g.hosts) < b.minBlockSize {
			b.logger.Warn().Int("block", blockIndex).Int("min_block_size", b.minBlockSize).Msg("block is smaller than the configured minimum, commenting it out")
			fmt.Fprintf(&out, "# Warning: Block %d has less than %d nodes, commenting out\n", blockIndex, b.minBlockSize)
			fmt.Fprintf(&out, "#%s\n", line)
			continue
		}
		fmt.Fprintf(&out, "%s\n", line)
	}
	fmt.Fprintf(&out, "BlockSizes=%d\n", blockSizesTrailer)
	return []byte(out.String())
}
