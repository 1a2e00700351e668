// Package partition maps scheduler partition names to the provider
// node-array buckets that back them: static name enumeration for HPC
// and HTC partitions, and feature-set matching for dynamic partitions.
// Name indexes are pre-built once at construction in pkg/types.Partition
// rather than recomputed per lookup; BucketFor is the reverse lookup
// from a node name back to its owning bucket.
package partition

import (
	"context"
	"sort"

	"github.com/cyclecloud/azslurmd/pkg/errs"
	"github.com/cyclecloud/azslurmd/pkg/log"
	"github.com/cyclecloud/azslurmd/pkg/types"
	"github.com/rs/zerolog"
	"github.com/samber/lo"
)

// RawBucket is one provider node-array bucket configuration, as
// returned by the fleet API's bucket-listing endpoint (distinct from
// pkg/provider.Client.ListNodes, which lists live VMs, not bucket
// shapes).
type RawBucket struct {
	NodeArray             string
	VMSize                string
	PlacementGroup        string // empty for HTC / non-colocated buckets
	PlacementIndex        int
	MaxCount              int
	AutoscaleEnabled      bool
	IsHPC                 bool
	IsDefault             bool
	MaxPlacementGroupSize int
	NodePrefix            string
	DynamicConfig         string
	Features              []string
}

// BucketSource lists the provider's raw bucket configurations.
type BucketSource interface {
	ListBuckets(ctx context.Context) ([]RawBucket, error)
}

// FetchPartitions enumerates provider buckets, drops those with
// autoscale disabled, groups the rest by (node_array, vm_size), and
// emits one Partition per group. includeDynamic controls whether
// dynamic-config buckets are considered at all.
func FetchPartitions(ctx context.Context, src BucketSource, includeDynamic bool) ([]*types.Partition, error) {
	raw, err := src.ListBuckets(ctx)
	if err != nil {
		return nil, errs.Wrap(errs.Unavailable, "listing provider buckets", err)
	}

	logger := log.WithComponent("partition")

	enabled := lo.Filter(raw, func(b RawBucket, _ int) bool {
		if !b.AutoscaleEnabled {
			return false
		}
		if b.DynamicConfig != "" && !includeDynamic {
			return false
		}
		return true
	})

	groups := lo.GroupBy(enabled, func(b RawBucket) string {
		return b.NodeArray + "\x00" + b.VMSize
	})

	groupKeys := lo.Keys(groups)
	sort.Strings(groupKeys)

	var partitions []*types.Partition
	for _, key := range groupKeys {
		bucket := groups[key]
		partitions = append(partitions, buildPartition(bucket, logger))
	}

	seen := make(map[string]*types.Partition)
	for _, p := range partitions {
		if p.DynamicConfig == "" {
			continue
		}
		key := types.DynamicFeatureKey(p.Features)
		if prior, ok := seen[key]; ok {
			logger.Warn().Str("partition", p.Name).Str("first_owner", prior.Name).Str("feature_key", key).
				Msg("duplicate dynamic feature key, first registration wins")
			continue
		}
		seen[key] = p
	}

	defaults := lo.Filter(partitions, func(p *types.Partition, _ int) bool { return p.IsDefault })
	if len(defaults) == 0 && len(partitions) == 1 {
		partitions[0].IsDefault = true
	}

	return partitions, nil
}

func buildPartition(raw []RawBucket, logger zerolog.Logger) *types.Partition {
	first := raw[0]

	if first.IsHPC {
		byPG := lo.GroupBy(raw, func(b RawBucket) string { return b.PlacementGroup })
		pgKeys := lo.Keys(byPG)
		sort.Strings(pgKeys)

		var buckets []types.Bucket
		for _, pg := range pgKeys {
			b := byPG[pg][0]
			buckets = append(buckets, types.Bucket{
				ID:             types.BucketID{NodeArray: b.NodeArray, VMSize: b.VMSize, PlacementGroup: b.PlacementGroup},
				MaxCount:       b.MaxCount,
				PlacementIndex: b.PlacementIndex,
			})
		}
		return newPartitionFromBuckets(first, buckets)
	}

	// If several buckets are found with no dynamic-config and no PG,
	// the first is kept and the rest are logged and dropped.
	if len(raw) > 1 && first.DynamicConfig == "" {
		for _, d := range raw[1:] {
			logger.Warn().Str("node_array", d.NodeArray).Str("vm_size", d.VMSize).
				Msg("dropping duplicate non-PG bucket for partition")
		}
	}
	b := types.Bucket{
		ID:       types.BucketID{NodeArray: first.NodeArray, VMSize: first.VMSize},
		MaxCount: first.MaxCount,
	}
	return newPartitionFromBuckets(first, []types.Bucket{b})
}

func newPartitionFromBuckets(first RawBucket, buckets []types.Bucket) *types.Partition {
	total := 0
	for _, b := range buckets {
		total += b.MaxCount
	}
	return types.NewPartition(types.Partition{
		Name:                  first.NodeArray,
		NodeArray:             first.NodeArray,
		VMSize:                first.VMSize,
		IsHPC:                 first.IsHPC,
		IsDefault:             first.IsDefault,
		MaxVMCount:            total,
		MaxPlacementGroupSize: first.MaxPlacementGroupSize,
		NodePrefix:            first.NodePrefix,
		Buckets:               buckets,
		DynamicConfig:         first.DynamicConfig,
		Features:              first.Features,
	})
}

// FindStatic returns the partition owning a statically-enumerated
// name, across all partitions.
func FindStatic(partitions []*types.Partition, name string) (*types.Partition, types.BucketID, bool) {
	for _, p := range partitions {
		if !p.Static() {
			continue
		}
		if id, ok := p.BucketFor(name); ok {
			return p, id, true
		}
	}
	return nil, types.BucketID{}, false
}

// FindDynamic returns the first dynamic partition whose feature set
// matches features exactly; on a feature-key collision, the first one
// in enumeration order wins.
func FindDynamic(partitions []*types.Partition, features []string) (*types.Partition, bool) {
	key := types.DynamicFeatureKey(features)
	for _, p := range partitions {
		if p.Static() {
			continue
		}
		if types.DynamicFeatureKey(p.Features) == key {
			return p, true
		}
	}
	return nil, false
}
