package allocation

import (
	"fmt"

	"github.com/clustercoord/core/internal/clustertypes"
	"github.com/clustercoord/core/internal/settings"
)

// DiskThresholdDecider enforces the disk watermark rules:
// canAllocate simulates post-placement usage against the low watermark,
// canRemain looks at current usage (minus anything currently relocating
// away) against the high watermark, and force-allocate for a never-
// allocated primary is forgiving up to the high watermark, falling back to
// low otherwise.
type DiskThresholdDecider struct {
	BaseDecider
	Settings *settings.Settings
}

func (d *DiskThresholdDecider) Name() string { return "disk_threshold" }

func (d *DiskThresholdDecider) enabled() bool {
	return d.Settings.Bool(settings.KeyThresholdEnabled)
}

// exceedsWatermark reports whether usedBytes out of totalBytes crosses wm,
// treating wm as either a used-space percentage or a minimum free-space
// byte count.
func exceedsWatermark(totalBytes, usedBytes uint64, wm settings.Watermark) bool {
	if totalBytes == 0 {
		return false
	}
	if wm.IsPercent {
		usedPct := float64(usedBytes) / float64(totalBytes) * 100
		return usedPct >= wm.Percent
	}
	var free uint64
	if usedBytes < totalBytes {
		free = totalBytes - usedBytes
	}
	return free <= wm.Bytes
}

// relocatingAwayBytes estimates the usage a node will shed once its
// RELOCATING copies finish moving off, so canRemain does not double-count
// a shard that is already on its way out.
func relocatingAwayBytes(ctx *AllocationContext, node clustertypes.NodeId) uint64 {
	var total uint64
	for _, sc := range ctx.RoutingNodes.NodeCopies(node) {
		if sc.State == clustertypes.Relocating && sc.ExpectedShardSize > 0 {
			total += uint64(sc.ExpectedShardSize)
		}
	}
	return total
}

func (d *DiskThresholdDecider) CanAllocate(ctx *AllocationContext, shard clustertypes.ShardRouting, node clustertypes.NodeId) (Decision, string) {
	if !d.enabled() {
		return DecisionYes, ""
	}
	usage, ok := ctx.DiskUsage[node]
	if !ok {
		return DecisionYes, ""
	}
	low, _, _, err := ctx.Settings.DiskWatermarks()
	if err != nil {
		return DecisionYes, ""
	}
	var projected uint64
	if shard.ExpectedShardSize > 0 {
		projected = uint64(shard.ExpectedShardSize)
	}
	if exceedsWatermark(usage.TotalBytes, usage.UsedBytes+projected, low) {
		return DecisionNo, fmt.Sprintf("projected disk usage on %s would exceed the low watermark", node)
	}
	return DecisionYes, ""
}

func (d *DiskThresholdDecider) CanRemain(ctx *AllocationContext, shard clustertypes.ShardRouting, node clustertypes.NodeId) (Decision, string) {
	if !d.enabled() {
		return DecisionYes, ""
	}
	usage, ok := ctx.DiskUsage[node]
	if !ok {
		return DecisionYes, ""
	}
	_, high, _, err := ctx.Settings.DiskWatermarks()
	if err != nil {
		return DecisionYes, ""
	}
	current := usage.UsedBytes
	if away := relocatingAwayBytes(ctx, node); away < current {
		current -= away
	}
	if exceedsWatermark(usage.TotalBytes, current, high) {
		return DecisionNo, fmt.Sprintf("disk usage on %s exceeds the high watermark", node)
	}
	return DecisionYes, ""
}

func (d *DiskThresholdDecider) CanForceAllocatePrimary(ctx *AllocationContext, shard clustertypes.ShardRouting, node clustertypes.NodeId) (Decision, string) {
	if !d.enabled() {
		return DecisionYes, ""
	}
	usage, ok := ctx.DiskUsage[node]
	if !ok {
		return DecisionYes, ""
	}
	low, high, _, err := ctx.Settings.DiskWatermarks()
	if err != nil {
		return DecisionYes, ""
	}
	threshold := low
	if shard.RecoverySource.Type == clustertypes.RecoveryEmptyStore {
		threshold = high
	}
	if exceedsWatermark(usage.TotalBytes, usage.UsedBytes, threshold) {
		return DecisionNo, fmt.Sprintf("disk usage on %s exceeds the watermark for force allocation", node)
	}
	return DecisionYes, ""
}
