// Package diskimbalance detects disk-usage skew across brokers and selects
// a partition swap to reduce it.
package diskimbalance

import (
	"sort"
	"time"

	"github.com/cuemby/bubuku-go/pkg/brokerlifecycle"
	"github.com/cuemby/bubuku-go/pkg/clusterview"
	"github.com/cuemby/bubuku-go/pkg/controller"
	"github.com/cuemby/bubuku-go/pkg/log"
	"github.com/cuemby/bubuku-go/pkg/metrics"
)

// Name is the change name other supervisors see in the change registry.
const Name = "swap_partitions"

// rebalanceFamily holds the names of changes that move partitions around;
// SwapPartitionsChange refuses to run while any of them is active anywhere
// in the cluster.
var rebalanceFamily = map[string]bool{
	"rebalance":      true,
	Name:             true,
}

// Check is the DiskImbalanceCheck: it fires on a long interval and only
// when the local broker is running and registered.
type Check struct {
	view        *clusterview.ClusterView
	broker      *brokerlifecycle.BrokerLifecycle
	thresholdKB int64
	interval    time.Duration

	lastCheck time.Time
}

// NewCheck constructs a DiskImbalanceCheck.
func NewCheck(view *clusterview.ClusterView, broker *brokerlifecycle.BrokerLifecycle, thresholdKB int64, interval time.Duration) *Check {
	return &Check{view: view, broker: broker, thresholdKB: thresholdKB, interval: interval}
}

// TimeTillCheck returns the time remaining before the next fire.
func (c *Check) TimeTillCheck() time.Duration {
	return time.Until(c.lastCheck.Add(c.interval))
}

// CheckIfTime fires the check if the interval has elapsed, updating the
// timestamp at invocation rather than completion.
func (c *Check) CheckIfTime() controller.Change {
	if c.TimeTillCheck() > 0 {
		return nil
	}
	c.lastCheck = time.Now()
	log.WithComponent("disk-imbalance-check").Info().Msg("executing disk imbalance check")
	return c.run()
}

func (c *Check) run() controller.Change {
	if !c.broker.IsRunningAndRegistered() {
		return nil
	}

	stats, err := c.view.AllDiskStats()
	if err != nil {
		log.WithComponent("disk-imbalance-check").Error().Err(err).Msg("failed to read disk stats")
		return nil
	}
	if len(stats) == 0 {
		log.WithComponent("disk-imbalance-check").Info().Msg("no size stats available, imbalance check cancelled")
		metrics.SwapsSkippedTotal.WithLabelValues("no_stats").Inc()
		return nil
	}

	ids := make([]string, 0, len(stats))
	for id := range stats {
		ids = append(ids, id)
	}
	sort.Strings(ids)

	slimID, fatID := ids[0], ids[0]
	for _, id := range ids {
		if stats[id].Disk.FreeKB > stats[slimID].Disk.FreeKB {
			slimID = id
		}
		if stats[id].Disk.FreeKB < stats[fatID].Disk.FreeKB {
			fatID = id
		}
	}

	gap := stats[slimID].Disk.FreeKB - stats[fatID].Disk.FreeKB
	metrics.DiskGapKB.Set(float64(gap))
	if gap < c.thresholdKB {
		log.WithComponent("disk-imbalance-check").Info().
			Int64("gap_kb", gap).Msg("gap between brokers is not enough to trigger partition swap")
		metrics.SwapsSkippedTotal.WithLabelValues("gap_below_threshold").Inc()
		return nil
	}

	log.WithComponent("disk-imbalance-check").Info().
		Str("fat_broker", fatID).Str("slim_broker", slimID).Int64("gap_kb", gap).
		Msg("creating swap partitions change")
	return NewSwapPartitionsChange(c.view, fatID, slimID, gap, stats)
}
