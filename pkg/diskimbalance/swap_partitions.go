package diskimbalance

import (
	"sort"
	"strconv"

	"github.com/google/uuid"

	"github.com/cuemby/bubuku-go/pkg/clusterview"
	"github.com/cuemby/bubuku-go/pkg/log"
	"github.com/cuemby/bubuku-go/pkg/metrics"
)

// tpData is one swap candidate: a (topic, partition) pair living on one of
// the two brokers involved in the swap, with its known size and current
// replica list.
type tpData struct {
	topic     string
	partition int
	size      int64
	replicas  []int
}

// SwapPartitionsChange selects and submits a single partition swap between
// a "fat" (low free disk) and a "slim" (high free disk) broker.
type SwapPartitionsChange struct {
	view         *clusterview.ClusterView
	fatBrokerID  string
	slimBrokerID string
	gap          int64
	sizeStats    map[string]clusterview.DiskStats

	toMove []clusterview.ReassignmentPair
	planID string
}

// NewSwapPartitionsChange constructs a pending swap decision.
func NewSwapPartitionsChange(view *clusterview.ClusterView, fatBrokerID, slimBrokerID string, gap int64, sizeStats map[string]clusterview.DiskStats) *SwapPartitionsChange {
	return &SwapPartitionsChange{
		view:         view,
		fatBrokerID:  fatBrokerID,
		slimBrokerID: slimBrokerID,
		gap:          gap,
		sizeStats:    sizeStats,
	}
}

// Name returns the change-registry name, swap_partitions.
func (s *SwapPartitionsChange) Name() string { return Name }

// CanRun refuses to run while any known partition-movement change is
// active anywhere in the cluster.
func (s *SwapPartitionsChange) CanRun(peers map[string]string) bool {
	for name := range peers {
		if rebalanceFamily[name] {
			return false
		}
	}
	return true
}

// CanRunAtExit is always false: a swap in progress is abandoned on
// shutdown.
func (s *SwapPartitionsChange) CanRunAtExit() bool { return false }

// OnRemove is a no-op; there is nothing to release.
func (s *SwapPartitionsChange) OnRemove() {}

// Run is the two-invocation protocol described in the component design:
// the first call computes a plan and submits it; if submission loses the
// race to another in-flight reassignment, the plan is retained and
// resubmitted verbatim on the next invocation.
func (s *SwapPartitionsChange) Run(peers map[string]string) bool {
	for name := range peers {
		if rebalanceFamily[name] {
			log.WithComponent("swap-partitions").Info().
				Interface("peers", peers).Msg("cancelling swap partitions change, conflicting change is active")
			return false
		}
	}

	if s.toMove != nil {
		log.WithChangeID(s.planID).Info().Msg("resubmitting retained swap plan")
		return !s.submit(s.toMove)
	}

	topicsStats := mergeTopicStats(s.sizeStats)
	candidates := s.findCandidates(topicsStats)

	slimCandidates := candidates[s.slimBrokerID]
	if len(slimCandidates) == 0 {
		log.WithComponent("swap-partitions").Info().Str("broker", s.slimBrokerID).Msg("no swap candidate on slim broker")
		metrics.SwapsSkippedTotal.WithLabelValues("no_slim_candidate").Inc()
		return false
	}
	smallestSlim := smallestBySize(slimCandidates)

	fatCandidates := candidates[s.fatBrokerID]
	best := findBestSwapCandidate(fatCandidates, s.gap, smallestSlim.size)
	if best == nil {
		log.WithComponent("swap-partitions").Info().Str("broker", s.fatBrokerID).Msg("no swap candidate on fat broker")
		metrics.SwapsSkippedTotal.WithLabelValues("no_fat_candidate").Inc()
		return false
	}

	plan := buildSwapPlan(smallestSlim, s.slimBrokerID, *best, s.fatBrokerID)
	s.toMove = plan
	s.planID = uuid.NewString()
	logger := log.WithChangeID(s.planID)
	scheduled := s.submit(plan)
	if !scheduled {
		logger.Info().Msg("swap partitions postponed, reassignment already in progress")
	} else {
		logger.Info().Msg("swap partitions rebalance successfully scheduled")
	}
	return !scheduled
}

func (s *SwapPartitionsChange) submit(plan []clusterview.ReassignmentPair) bool {
	ok, err := s.view.SubmitReassignment(plan...)
	if err != nil {
		log.WithChangeID(s.planID).Error().Err(err).Msg("failed to submit reassignment")
		return false
	}
	if ok {
		metrics.SwapsSubmittedTotal.Inc()
	}
	return ok
}

func mergeTopicStats(sizeStats map[string]clusterview.DiskStats) map[string]map[string]int64 {
	merged := map[string]map[string]int64{}
	for _, stats := range sizeStats {
		for topic, partitions := range stats.Topics {
			if _, ok := merged[topic]; !ok {
				merged[topic] = map[string]int64{}
			}
			for partition, size := range partitions {
				merged[topic][partition] = size
			}
		}
	}
	return merged
}

// findCandidates groups (topic, partition) rows that are replicated on
// exactly one of {fat, slim} and have a known size, by which of the two
// brokers holds the replica. Partitions replicated on both are excluded.
func (s *SwapPartitionsChange) findCandidates(topicsStats map[string]map[string]int64) map[string][]tpData {
	assignment, err := s.view.PartitionAssignment()
	if err != nil {
		log.WithComponent("swap-partitions").Error().Err(err).Msg("failed to load partition assignment")
		return nil
	}

	out := map[string][]tpData{}
	for _, row := range assignment {
		sizes, ok := topicsStats[row.Topic]
		if !ok {
			continue
		}
		size, ok := sizes[strconv.Itoa(row.Partition)]
		if !ok {
			continue
		}

		hasFat := contains(row.Replicas, s.fatBrokerID)
		hasSlim := contains(row.Replicas, s.slimBrokerID)
		if hasFat && hasSlim {
			continue
		}

		if hasSlim {
			out[s.slimBrokerID] = append(out[s.slimBrokerID], tpData{row.Topic, row.Partition, size, row.Replicas})
		}
		if hasFat {
			out[s.fatBrokerID] = append(out[s.fatBrokerID], tpData{row.Topic, row.Partition, size, row.Replicas})
		}
	}
	return out
}

func contains(replicas []int, brokerID string) bool {
	id, err := strconv.Atoi(brokerID)
	if err != nil {
		return false
	}
	for _, r := range replicas {
		if r == id {
			return true
		}
	}
	return false
}

func smallestBySize(candidates []tpData) tpData {
	smallest := candidates[0]
	for _, c := range candidates[1:] {
		if c.size < smallest.size {
			smallest = c
		}
	}
	return smallest
}

// findBestSwapCandidate picks the fat-side candidate minimising
// |gap - 2*|size-partitionToSwapSize|| strictly below gap. Candidates are
// sorted by size descending; the first strict improvement is kept, so
// ties keep the earlier (larger) candidate.
func findBestSwapCandidate(candidates []tpData, gap, partitionToSwapSize int64) *tpData {
	sorted := append([]tpData(nil), candidates...)
	sort.Slice(sorted, func(i, j int) bool { return sorted[i].size > sorted[j].size })

	var best *tpData
	smallestNewGap := gap
	for i := range sorted {
		delta := sorted[i].size - partitionToSwapSize
		if delta < 0 {
			delta = -delta
		}
		newGap := gap - 2*delta
		if newGap < 0 {
			newGap = -newGap
		}
		if newGap < smallestNewGap {
			smallestNewGap = newGap
			best = &sorted[i]
		}
	}
	return best
}

func buildSwapPlan(slim tpData, slimBrokerID string, fat tpData, fatBrokerID string) []clusterview.ReassignmentPair {
	slimID, _ := strconv.Atoi(slimBrokerID)
	fatID, _ := strconv.Atoi(fatBrokerID)

	return []clusterview.ReassignmentPair{
		{Topic: slim.topic, Partition: slim.partition, Replicas: substitute(slim.replicas, slimID, fatID)},
		{Topic: fat.topic, Partition: fat.partition, Replicas: substitute(fat.replicas, fatID, slimID)},
	}
}

func substitute(replicas []int, from, to int) []int {
	out := make([]int, len(replicas))
	for i, r := range replicas {
		if r == from {
			out[i] = to
		} else {
			out[i] = r
		}
	}
	return out
}
