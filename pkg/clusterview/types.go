// Package clusterview is a domain-typed facade over the coordination
// client: broker presence, partition assignment and state, reassignment
// submission, disk-stats publication, and the change registry used for
// cluster-wide mutual exclusion.
package clusterview

// PartitionReplicas is one row of the partition assignment:
// (topic, partition) -> ordered replica broker ids.
type PartitionReplicas struct {
	Topic    string `json:"topic"`
	Partition int   `json:"partition"`
	Replicas []int  `json:"replicas"`
}

// PartitionState is the broker-cluster-reported leader/ISR state for one
// partition.
type PartitionState struct {
	Topic     string
	Partition int
	Leader    int   `json:"leader"`
	ISR       []int `json:"isr"`
}

// topicAssignment is the wire shape of /brokers/topics/<topic>.
type topicAssignment struct {
	Partitions map[string][]int `json:"partitions"`
}

// DiskStats is the per-broker disk/topic-size record a supervisor publishes
// as an ephemeral node under size_stats/<broker_id>.
type DiskStats struct {
	Disk struct {
		FreeKB int64 `json:"free_kb"`
		UsedKB int64 `json:"used_kb"`
	} `json:"disk"`
	Topics map[string]map[string]int64 `json:"topics"` // topic -> partition(string) -> size_kb
}

// ReassignmentPair is one (topic, partition, new replicas) entry of a
// submitted reassignment job.
type ReassignmentPair struct {
	Topic     string
	Partition int
	Replicas  []int
}

// reassignmentPartitionWire is the wire shape of one partitions[] entry
// under /admin/reassign_partitions.
type reassignmentPartitionWire struct {
	Topic     string `json:"topic"`
	Partition int    `json:"partition"`
	Replicas  []int  `json:"replicas"`
}

// reassignmentWire is the full wire document written to
// /admin/reassign_partitions.
type reassignmentWire struct {
	Version    string                      `json:"version"`
	Partitions []reassignmentPartitionWire `json:"partitions"`
}
