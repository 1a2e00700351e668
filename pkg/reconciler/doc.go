// Package reconciler runs the node-lifecycle reconciliation loop: on
// every pass it reads the provider's fleet inventory and the
// scheduler's node table independently, joins them in memory by name,
// and corrects the scheduler's view when the two disagree.
//
// There is exactly one reconciler per cluster; pkg/pidlock enforces
// that at the process level. Within one pass updates are applied in
// scheduler-node enumeration order, but the final state is a function
// of the join alone, not of that order: a pass that is interrupted and
// re-run converges to the same result.
package reconciler
