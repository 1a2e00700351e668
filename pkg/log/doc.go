// Package log provides structured logging for azslurmd via zerolog:
// a global Logger initialized once at startup from pkg/config, plus
// component-scoped child loggers (WithComponent, WithNode,
// WithPartition) so every log line can be filtered by the subsystem
// and node/partition it concerns. File rotation, if Output is a file,
// is left to an external tool (logrotate, systemd) rather than built
// in: azslurmd only ever appends.
package log
