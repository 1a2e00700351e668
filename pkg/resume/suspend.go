package resume

import (
	"context"
	"sort"

	"github.com/cyclecloud/azslurmd/pkg/errs"
	"github.com/cyclecloud/azslurmd/pkg/log"
	"github.com/cyclecloud/azslurmd/pkg/types"
)

// SuspendSource is the subset of *provider.Client the suspend hook needs.
type SuspendSource interface {
	ListNodes(ctx context.Context) ([]*types.ProviderNode, error)
	Deallocate(ctx context.Context, names []string) error
}

// Suspend deallocates every name not already Off or Deallocated.
// Calling it on an already-powered-down node is a no-op, matching the
// resume dispatcher's own "already running" skip in the other
// direction.
func Suspend(ctx context.Context, src SuspendSource, names []string) error {
	if len(names) == 0 {
		return nil
	}

	existing, err := src.ListNodes(ctx)
	if err != nil {
		return errs.Wrap(errs.Unavailable, "listing provider nodes before suspend", err)
	}
	existingByName := make(map[string]*types.ProviderNode, len(existing))
	for _, n := range existing {
		existingByName[n.Name] = n
	}

	var toSuspend []string
	for _, name := range names {
		if cur, ok := existingByName[name]; ok && (cur.State == types.ProviderStateDeallocated || cur.State == types.ProviderStateOff) {
			log.WithComponent("resume").Info().Str("node", name).Msg("already powered down, skipping suspend")
			continue
		}
		toSuspend = append(toSuspend, name)
	}
	if len(toSuspend) == 0 {
		return nil
	}

	sort.Strings(toSuspend)
	return src.Deallocate(ctx, toSuspend)
}

// ResumeFailSource is the subset of *scheduler.Adapter the resume-fail
// hook needs.
type ResumeFailSource interface {
	UpdateNode(ctx context.Context, name string, fields map[string]string, idempotent bool) error
}

// ResumeFail marks every listed name down with reason
// cyclecloud_node_failure, the action the scheduler's own resume-fail
// hook triggers when a resume callback times out.
func ResumeFail(ctx context.Context, sched ResumeFailSource, names []string) error {
	fields := map[string]string{"State": "DOWN", "Reason": string(types.ReasonNodeFailure)}
	var firstErr error
	for _, name := range names {
		if err := sched.UpdateNode(ctx, name, fields, false); err != nil {
			log.WithComponent("resume").Warn().Err(err).Str("node", name).Msg("failed to mark node down on resume-fail")
			if firstErr == nil {
				firstErr = err
			}
		}
	}
	return firstErr
}
