// See keepalive.go: Refresher mirrors SuspendExcNodes to a managed
// file only on change; Store durably records which names this
// reconciler added, so RemoveIfOwned never touches an operator's
// manual entry.
package keepalive
