package clusterview

import (
	"encoding/json"
	"fmt"
	"sort"
	"strconv"

	"github.com/cuemby/bubuku-go/pkg/coordination"
	"github.com/cuemby/bubuku-go/pkg/log"
)

const (
	pathBrokerIDs      = "/brokers/ids"
	pathBrokerTopics   = "/brokers/topics"
	pathReassignment   = "/admin/reassign_partitions"
	pathChanges        = "changes"
	pathSizeStats      = "size_stats"
	pathGlobalLock     = "global_lock"
)

// ClusterView is the domain-typed facade over a CoordinationClient.
type ClusterView struct {
	client coordination.CoordinationClient
}

// New constructs a ClusterView, ensuring the changes namespace exists.
func New(client coordination.CoordinationClient) (*ClusterView, error) {
	v := &ClusterView{client: client}
	if err := v.client.Create(pathChanges, nil, false, true); err != nil && err != coordination.ErrNodeExists {
		return nil, fmt.Errorf("ensure changes path: %w", err)
	}
	return v, nil
}

// IsBrokerRegistered reports whether the given broker id currently has a
// live ephemeral presence node.
func (v *ClusterView) IsBrokerRegistered(id string) bool {
	_, err := v.client.Get(fmt.Sprintf("%s/%s", pathBrokerIDs, id))
	return err == nil
}

// BrokerIDs returns the sorted list of currently active broker ids.
func (v *ClusterView) BrokerIDs() ([]string, error) {
	ids, err := v.client.Children(pathBrokerIDs)
	if err != nil {
		return nil, err
	}
	sort.Strings(ids)
	return ids, nil
}

// PartitionAssignment returns every (topic, partition, replicas) row across
// all topics. Callers must tolerate re-reads between items: the underlying
// store iteration is not snapshot-consistent.
func (v *ClusterView) PartitionAssignment() ([]PartitionReplicas, error) {
	topics, err := v.client.Children(pathBrokerTopics)
	if err != nil {
		return nil, err
	}

	var out []PartitionReplicas
	for _, topic := range topics {
		data, err := v.client.Get(fmt.Sprintf("%s/%s", pathBrokerTopics, topic))
		if err != nil {
			if err == coordination.ErrNodeAbsent {
				continue
			}
			return nil, err
		}
		var parsed topicAssignment
		if err := json.Unmarshal(data, &parsed); err != nil {
			return nil, fmt.Errorf("parse assignment for topic %s: %w", topic, err)
		}
		for partitionStr, replicas := range parsed.Partitions {
			partition, err := strconv.Atoi(partitionStr)
			if err != nil {
				continue
			}
			out = append(out, PartitionReplicas{Topic: topic, Partition: partition, Replicas: replicas})
		}
	}
	return out, nil
}

// PartitionStates returns the leader/ISR state of every partition of every
// topic.
func (v *ClusterView) PartitionStates() ([]PartitionState, error) {
	topics, err := v.client.Children(pathBrokerTopics)
	if err != nil {
		return nil, err
	}

	var out []PartitionState
	for _, topic := range topics {
		partitions, err := v.client.Children(fmt.Sprintf("%s/%s/partitions", pathBrokerTopics, topic))
		if err != nil {
			return nil, err
		}
		for _, partitionStr := range partitions {
			data, err := v.client.Get(fmt.Sprintf("%s/%s/partitions/%s/state", pathBrokerTopics, topic, partitionStr))
			if err != nil {
				if err == coordination.ErrNodeAbsent {
					continue
				}
				return nil, err
			}
			var state PartitionState
			if err := json.Unmarshal(data, &state); err != nil {
				return nil, fmt.Errorf("parse state for %s/%s: %w", topic, partitionStr, err)
			}
			partition, err := strconv.Atoi(partitionStr)
			if err != nil {
				continue
			}
			state.Topic = topic
			state.Partition = partition
			out = append(out, state)
		}
	}
	return out, nil
}

// SubmitReassignment atomically creates the singleton reassignment job.
// Returns true on create, false if another job is already in flight.
func (v *ClusterView) SubmitReassignment(pairs ...ReassignmentPair) (bool, error) {
	wire := reassignmentWire{Version: "1", Partitions: make([]reassignmentPartitionWire, 0, len(pairs))}
	for _, p := range pairs {
		wire.Partitions = append(wire.Partitions, reassignmentPartitionWire{
			Topic:     p.Topic,
			Partition: p.Partition,
			Replicas:  p.Replicas,
		})
	}
	data, err := json.Marshal(wire)
	if err != nil {
		return false, fmt.Errorf("marshal reassignment: %w", err)
	}

	err = v.client.Create(pathReassignment, data, false, false)
	if err == coordination.ErrNodeExists {
		log.WithComponent("clusterview").Info().Msg("waiting for free reallocation slot, still in progress")
		return false, nil
	}
	if err != nil {
		return false, err
	}
	log.WithComponent("clusterview").Info().RawJSON("reassignment", data).Msg("reallocating partitions")
	return true, nil
}

// IsRebalancing reports whether a reassignment job currently exists.
func (v *ClusterView) IsRebalancing() (bool, error) {
	_, err := v.client.Get(pathReassignment)
	if err == coordination.ErrNodeAbsent {
		return false, nil
	}
	if err != nil {
		return false, err
	}
	return true, nil
}

// PublishDiskStats creates (or, if already present, overwrites) the
// publishing broker's ephemeral disk-stats node with sorted-keys JSON.
func (v *ClusterView) PublishDiskStats(brokerID string, stats DiskStats) error {
	data, err := json.Marshal(stats)
	if err != nil {
		return fmt.Errorf("marshal disk stats: %w", err)
	}
	p := fmt.Sprintf("%s/%s", pathSizeStats, brokerID)
	err = v.client.Create(p, data, true, true)
	if err == coordination.ErrNodeExists {
		return v.client.Set(p, data)
	}
	return err
}

// AllDiskStats reads every currently-published DiskStats record, keyed by
// broker id.
func (v *ClusterView) AllDiskStats() (map[string]DiskStats, error) {
	ids, err := v.client.Children(pathSizeStats)
	if err != nil {
		return nil, err
	}
	out := make(map[string]DiskStats, len(ids))
	for _, id := range ids {
		data, err := v.client.Get(fmt.Sprintf("%s/%s", pathSizeStats, id))
		if err != nil {
			if err == coordination.ErrNodeAbsent {
				continue
			}
			return nil, err
		}
		var stats DiskStats
		if err := json.Unmarshal(data, &stats); err != nil {
			return nil, fmt.Errorf("parse disk stats for %s: %w", id, err)
		}
		out[id] = stats
	}
	return out, nil
}

// Lock acquires the GlobalLock, used only around ChangeRegistry
// reconciliation. Callers must Unlock it.
func (v *ClusterView) Lock(value []byte) (coordination.Lock, error) {
	return v.client.AcquireLock(pathGlobalLock, value)
}

// RunningChanges returns the cluster-wide map of change name -> owning
// ProviderId.
func (v *ClusterView) RunningChanges() (map[string]string, error) {
	names, err := v.client.Children(pathChanges)
	if err != nil {
		return nil, err
	}
	out := make(map[string]string, len(names))
	for _, name := range names {
		data, err := v.client.Get(fmt.Sprintf("%s/%s", pathChanges, name))
		if err != nil {
			if err == coordination.ErrNodeAbsent {
				continue
			}
			return nil, err
		}
		out[name] = string(data)
	}
	return out, nil
}

// RegisterChange creates an ephemeral change-registry node. Assumed to be
// called while the GlobalLock is held.
func (v *ClusterView) RegisterChange(name, owner string) error {
	log.WithComponent("clusterview").Info().Str("change", name).Msg("registering change")
	return v.client.Create(fmt.Sprintf("%s/%s", pathChanges, name), []byte(owner), true, false)
}

// UnregisterChange recursively deletes a change-registry node. Assumed to
// be called while the GlobalLock is held.
func (v *ClusterView) UnregisterChange(name string) error {
	log.WithComponent("clusterview").Info().Str("change", name).Msg("removing change from registry")
	return v.client.Delete(fmt.Sprintf("%s/%s", pathChanges, name), true)
}
