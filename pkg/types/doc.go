/*
Package types defines the data model used throughout azslurmd: the
provider's view of a node (ProviderNode), the scheduler's view of a
node (SchedulerNode), and the Partition/Bucket model that maps node
names to fleet allocation units.

SchedulerNode.Flags is a closed set over StateFlag; a node carries
exactly one base state (idle, allocated, mixed, down, drained) plus
any number of independent flags (drain, powered_up, maint, ...). This
mirrors the scheduler's own state/flag distinction and is parsed once
at the pkg/scheduler boundary; nothing downstream re-parses raw
scheduler output.

Partition pre-builds a name→bucket index at construction for static
partitions; dynamic partitions claim names lazily via AddDynamicNode.
*/
package types
