// Package metrics provides Prometheus instrumentation for azslurmd's own
// operations: reconciler pass duration and outcome counts, resume
// dispatch latency and per-node outcome counts, CycleCloud provider call
// latency, scheduler CLI adapter call latency, and topology build
// duration. The keep-alive and nodes-by-state collectors are registered
// but no package updates them. It is not a cluster-wide exporter, only
// this binary's work is instrumented here.
//
// health.go additionally exposes /health, /ready and /live handlers built
// on a generic component registry; daemon startup registers "scheduler",
// "provider" and "reconciler" as the critical components readiness
// depends on.
package metrics
