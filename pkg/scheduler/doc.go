// See scheduler.go. The Adapter's methods (ShowNodes, UpdateNode,
// ToHostlist, FromHostlist, Ping, Reconfigure, the config-value and
// reservation calls) are how this binary runs scontrol; other packages
// reach scontrol through an *Adapter instead of os/exec directly.
package scheduler
