// Package types defines the data model shared by every azslurmd
// component: the provider's view of a node, the scheduler's view of a
// node, and the partition/bucket model that ties node names to fleet
// allocation units.
package types

import (
	"sort"
	"strconv"
	"strings"
	"time"
)

// ProviderState is the fleet API's state for a VM.
type ProviderState string

const (
	ProviderStateOff         ProviderState = "Off"
	ProviderStateAcquiring   ProviderState = "Acquiring"
	ProviderStatePreparing   ProviderState = "Preparing"
	ProviderStateStarting    ProviderState = "Starting"
	ProviderStateReady       ProviderState = "Ready"
	ProviderStateDeallocated ProviderState = "Deallocated"
	ProviderStateFailed      ProviderState = "Failed"
	ProviderStateTerminating ProviderState = "Terminating"
	ProviderStateUnavailable ProviderState = "Unavailable"
)

// TargetState is the operator/scheduler's desired end state for a VM.
type TargetState string

const (
	TargetStateStarted     TargetState = "Started"
	TargetStateTerminated  TargetState = "Terminated"
	TargetStateDeallocated TargetState = "Deallocated"
)

// ProviderNode is the fleet API's record of a VM.
type ProviderNode struct {
	Name                  string
	NodeArray             string
	VMSize                string
	PlacementGroup        string // empty means none
	PrivateIP             string // empty until booted
	Hostname              string // may equal Name
	State                 ProviderState
	Target                TargetState
	KeepAlive             bool
	SoftwareConfiguration map[string]string
}

// UseNodenameAsHostname reports whether the node's software
// configuration requests that the scheduler name be used verbatim as
// the node's hostname instead of a provider-observed one.
func (n *ProviderNode) UseNodenameAsHostname() bool {
	return n.SoftwareConfiguration["use_nodename_as_hostname"] == "true"
}

// StandaloneDNSEnabled reports whether DNS assigns this node's
// hostname (as opposed to the provider reporting one directly).
func (n *ProviderNode) StandaloneDNSEnabled() bool {
	return n.SoftwareConfiguration["standalone_dns_enabled"] == "true"
}

// NodePrefix is the configured node-name prefix, if any.
func (n *ProviderNode) NodePrefix() string {
	return n.SoftwareConfiguration["node_prefix"]
}

// StateFlag is one member of a SchedulerNode's flag set. A node has
// exactly one BaseState and zero or more independent flags.
type StateFlag string

const (
	FlagIdle          StateFlag = "idle"
	FlagAllocated     StateFlag = "allocated"
	FlagMixed         StateFlag = "mixed"
	FlagDrain         StateFlag = "drain"
	FlagDraining      StateFlag = "draining"
	FlagDrained       StateFlag = "drained"
	FlagDown          StateFlag = "down"
	FlagFail          StateFlag = "fail"
	FlagPoweredDown   StateFlag = "powered_down"
	FlagPoweringDown  StateFlag = "powering_down"
	FlagPoweredUp     StateFlag = "powered_up"
	FlagPoweringUp    StateFlag = "powering_up"
	FlagReserved      StateFlag = "reserved"
	FlagCompleting    StateFlag = "completing"
	FlagMaint         StateFlag = "maint"
	FlagPerfCtrs      StateFlag = "perfctrs"
	FlagNotResponding StateFlag = "not_responding"
)

// baseStates is the closed set of flags that are mutually exclusive
// "base" states, as opposed to orthogonal flags like drain/powered_up.
var baseStates = map[StateFlag]struct{}{
	FlagIdle:      {},
	FlagAllocated: {},
	FlagMixed:     {},
	FlagDown:      {},
	FlagDrained:   {},
}

// IsBaseState reports whether f is one of the mutually-exclusive base
// states rather than an independent flag.
func IsBaseState(f StateFlag) bool {
	_, ok := baseStates[f]
	return ok
}

// ReasonCode is one of the well-known sentinel reason strings the
// reconciler writes to a scheduler node, or empty.
type ReasonCode string

const (
	ReasonNone         ReasonCode = ""
	ReasonNoNode       ReasonCode = "cyclecloud_no_node"
	ReasonZombieNode   ReasonCode = "cyclecloud_zombie_node"
	ReasonNodeFailure  ReasonCode = "cyclecloud_node_failure"
	ReasonNodeRecovery ReasonCode = "cyclecloud_node_recovery"
)

// SchedulerNode is the scheduler's record of a node, parsed once at
// the CLI adapter boundary (pkg/scheduler) and never re-parsed by any
// downstream component.
type SchedulerNode struct {
	Name         string
	Flags        map[StateFlag]struct{}
	Reason       ReasonCode
	NodeAddr     string
	NodeHostName string
	Features     []string
	Partitions   []string
}

// NewSchedulerNode returns a SchedulerNode with NodeAddr/NodeHostName
// defaulted to name, matching the scheduler's own defaulting rule.
func NewSchedulerNode(name string) *SchedulerNode {
	return &SchedulerNode{
		Name:         name,
		Flags:        make(map[StateFlag]struct{}),
		NodeAddr:     name,
		NodeHostName: name,
	}
}

// Has reports whether the node carries the given flag or base state.
func (n *SchedulerNode) Has(f StateFlag) bool {
	_, ok := n.Flags[f]
	return ok
}

// Set adds a flag to the node's flag set.
func (n *SchedulerNode) Set(f StateFlag) {
	n.Flags[f] = struct{}{}
}

// Clear removes a flag from the node's flag set.
func (n *SchedulerNode) Clear(f StateFlag) {
	delete(n.Flags, f)
}

// SetBaseState clears every existing base-state flag and sets newState,
// leaving orthogonal flags (drain, powered_up, ...) untouched.
func (n *SchedulerNode) SetBaseState(newState StateFlag) {
	for f := range baseStates {
		delete(n.Flags, f)
	}
	n.Flags[newState] = struct{}{}
}

// Joined reports whether the scheduler currently believes this node is
// an active cluster member: not powered down, not mid-transition.
func (n *SchedulerNode) Joined() bool {
	return !n.Has(FlagPoweredDown) && !n.Has(FlagPoweringDown) && !n.Has(FlagPoweringUp)
}

// BucketID identifies a (VM size, placement group) allocation unit
// within a node array.
type BucketID struct {
	NodeArray      string
	VMSize         string
	PlacementGroup string // empty for HTC / non-colocated buckets
}

// Bucket is one allocation unit a Partition can draw node names from.
type Bucket struct {
	ID             BucketID
	MaxCount       int
	PlacementIndex int // k in "pg{k}", 0 for HTC buckets
}

// Partition maps a scheduler partition name to the provider node array
// and buckets that back it.
type Partition struct {
	Name                  string
	NodeArray             string
	VMSize                string
	IsHPC                 bool
	IsDefault             bool
	MaxVMCount            int
	MaxPlacementGroupSize int
	NodePrefix            string
	Buckets               []Bucket
	DynamicConfig         string   // non-empty marks this a dynamic partition
	Features              []string // required feature set for dynamic partitions

	// namesToBucket is built once at construction; see pkg/partition.
	namesToBucket map[string]BucketID
	dynamicNames  map[string][]string // partition name -> claimed dynamic names
}

// NewPartition constructs a Partition and pre-builds its name index.
// Static partitions pre-enumerate every legal name up to MaxVMCount;
// dynamic partitions (DynamicConfig non-empty) enumerate nothing and
// claim names lazily via AddDynamicNode.
func NewPartition(p Partition) *Partition {
	p.namesToBucket = make(map[string]BucketID)
	p.dynamicNames = make(map[string][]string)
	if p.DynamicConfig == "" {
		for _, b := range p.Buckets {
			for _, name := range enumerateNames(p, b) {
				p.namesToBucket[name] = b.ID
			}
		}
	}
	return &p
}

func enumerateNames(p Partition, b Bucket) []string {
	var names []string
	if p.IsHPC {
		groupSize := p.MaxPlacementGroupSize
		if groupSize <= 0 {
			groupSize = b.MaxCount
		}
		for i := 1; i <= b.MaxCount && i <= groupSize; i++ {
			names = append(names, formatHPCName(p.NodePrefix, p.NodeArray, b.PlacementIndex, i))
		}
		return names
	}
	for i := 1; i <= b.MaxCount; i++ {
		names = append(names, formatHTCName(p.NodePrefix, p.NodeArray, i))
	}
	return names
}

func formatHPCName(prefix, array string, pg, index int) string {
	return prefix + array + "-pg" + strconv.Itoa(pg) + "-" + strconv.Itoa(index)
}

func formatHTCName(prefix, array string, index int) string {
	return prefix + array + "-" + strconv.Itoa(index)
}

// BucketFor returns the bucket responsible for name, for static
// partitions. Returns ok=false for dynamic partitions or unknown names.
func (p *Partition) BucketFor(name string) (BucketID, bool) {
	id, ok := p.namesToBucket[name]
	return id, ok
}

// Static reports whether this partition pre-enumerates node names.
func (p *Partition) Static() bool {
	return p.DynamicConfig == ""
}

// DynamicFeatureKey canonicalizes a feature set into the lowercased,
// sorted, comma-joined key used to match dynamic nodes to partitions.
func DynamicFeatureKey(features []string) string {
	norm := make([]string, len(features))
	copy(norm, features)
	for i := range norm {
		norm[i] = strings.ToLower(norm[i])
	}
	sort.Strings(norm)
	return strings.Join(norm, ",")
}

// AddDynamicNode records that name has been claimed from this
// partition's dynamic bucket.
func (p *Partition) AddDynamicNode(name string) {
	key := p.Name
	for _, existing := range p.dynamicNames[key] {
		if existing == name {
			return
		}
	}
	p.dynamicNames[key] = append(p.dynamicNames[key], name)
}

// ResumeClassification is the terminal or in-progress status the
// resume dispatcher assigns to one requested node name.
type ResumeClassification string

const (
	ClassPending ResumeClassification = "pending"
	ClassReady   ResumeClassification = "ready"
	ClassFailed  ResumeClassification = "failed"
	ClassGone    ResumeClassification = "gone"
)

// ResumeResult is the dispatcher's per-call summary, surfaced to the
// scheduler's log stream.
type ResumeResult struct {
	Allocated []string
	Ready     []string
	Failed    []string
	Unknown   []string
}

// NodeSnapshot pairs a scheduler node with the provider record it
// joins to by name. Neither side holds a back-reference. No package
// constructs NodeSnapshot values; the reconciler joins the two sides
// through a local name-keyed map each pass.
type NodeSnapshot struct {
	Name      string
	Scheduler *SchedulerNode
	Provider  *ProviderNode // nil if absent from the provider's fleet
}

// ReconcileSummary tallies the outcome of one reconciliation pass, for
// the end-of-pass log line.
type ReconcileSummary struct {
	Total         int
	MarkedDown    int
	MarkedZombie  int
	Recovered     int
	ClearedNoNode int
	Unchanged     int
	At            time.Time
}
