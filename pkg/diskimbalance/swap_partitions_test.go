package diskimbalance

import (
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/cuemby/bubuku-go/pkg/clusterview"
	"github.com/cuemby/bubuku-go/pkg/coordination"
)

type fakeClient struct {
	mu    sync.Mutex
	nodes map[string][]byte
}

func newFakeClient() *fakeClient {
	return &fakeClient{nodes: map[string][]byte{}}
}

func (f *fakeClient) Get(p string) ([]byte, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	d, ok := f.nodes[p]
	if !ok {
		return nil, coordination.ErrNodeAbsent
	}
	return d, nil
}
func (f *fakeClient) Set(p string, data []byte) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.nodes[p] = data
	return nil
}
func (f *fakeClient) Create(p string, data []byte, ephemeral, makepath bool) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if _, ok := f.nodes[p]; ok {
		return coordination.ErrNodeExists
	}
	f.nodes[p] = data
	return nil
}
func (f *fakeClient) Delete(p string, recursive bool) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	delete(f.nodes, p)
	return nil
}
func (f *fakeClient) Children(p string) ([]string, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	prefix := p + "/"
	var out []string
	for k := range f.nodes {
		if len(k) > len(prefix) && k[:len(prefix)] == prefix {
			out = append(out, k[len(prefix):])
		}
	}
	return out, nil
}
func (f *fakeClient) AcquireLock(p string, value []byte) (coordination.Lock, error) {
	return noopLock{}, nil
}

type noopLock struct{}

func (noopLock) Unlock() error { return nil }

func (f *fakeClient) put(p string, data []byte) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.nodes[p] = data
}

func newTestView(t *testing.T, client *fakeClient) *clusterview.ClusterView {
	t.Helper()
	view, err := clusterview.New(client)
	require.NoError(t, err)
	return view
}

// TestFindBestSwapCandidate_S2 matches the worked example: gap=100, the
// slim side's smallest candidate is 10 KB, and the fat side offers
// candidates of 60/55/40 KB. 60 KB (new gap 0) is the unique best pick.
func TestFindBestSwapCandidate_S2(t *testing.T) {
	candidates := []tpData{
		{topic: "t", partition: 0, size: 60},
		{topic: "t", partition: 1, size: 55},
		{topic: "t", partition: 2, size: 40},
	}
	best := findBestSwapCandidate(candidates, 100, 10)
	require.NotNil(t, best)
	assert.Equal(t, int64(60), best.size)
}

// TestFindBestSwapCandidate_S3 matches the worked example: gap=100, slim
// side's candidate is 50 KB, and every fat-side candidate is also 50 KB —
// swapping equal-sized partitions cannot reduce the gap, so no candidate
// qualifies.
func TestFindBestSwapCandidate_S3(t *testing.T) {
	candidates := []tpData{
		{topic: "t", partition: 0, size: 50},
		{topic: "t", partition: 1, size: 50},
	}
	best := findBestSwapCandidate(candidates, 100, 50)
	assert.Nil(t, best)
}

func TestFindCandidates_ExcludesPartitionsOnBothBrokers(t *testing.T) {
	client := newFakeClient()
	client.put("/brokers/topics/orders", []byte(`{"partitions":{"0":[1,2],"1":[1,3],"2":[2,3]}}`))
	view := newTestView(t, client)

	s := NewSwapPartitionsChange(view, "1", "2", 100, nil)
	topicsStats := map[string]map[string]int64{
		"orders": {"0": 10, "1": 20, "2": 30},
	}

	candidates := s.findCandidates(topicsStats)
	for _, c := range candidates["1"] {
		assert.NotEqual(t, 0, c.partition, "partition 0 is replicated on both fat and slim and must be excluded")
	}
	for _, c := range candidates["2"] {
		assert.NotEqual(t, 0, c.partition, "partition 0 is replicated on both fat and slim and must be excluded")
	}

	assert.Len(t, candidates["1"], 1) // partition 1 only
	assert.Equal(t, 1, candidates["1"][0].partition)
	assert.Len(t, candidates["2"], 1) // partition 2 only
	assert.Equal(t, 2, candidates["2"][0].partition)
}

func TestBuildSwapPlan_SubstitutesOnlyTheMatchingReplicaSlot(t *testing.T) {
	slim := tpData{topic: "t", partition: 0, size: 10, replicas: []int{3, 2}}
	fat := tpData{topic: "t", partition: 1, size: 60, replicas: []int{1, 4}}

	plan := buildSwapPlan(slim, "2", fat, "1")
	require.Len(t, plan, 2)
	assert.Equal(t, []int{3, 1}, plan[0].Replicas)
	assert.Equal(t, []int{2, 4}, plan[1].Replicas)
}

func TestSwapPartitionsChange_Run_SchedulesSwap(t *testing.T) {
	client := newFakeClient()
	client.put("/brokers/topics/orders", []byte(`{"partitions":{"0":[2],"1":[1]}}`))
	view := newTestView(t, client)

	stats := map[string]clusterview.DiskStats{
		"1": {Topics: map[string]map[string]int64{"orders": {"1": 60}}},
		"2": {Topics: map[string]map[string]int64{"orders": {"0": 10}}},
	}
	s := NewSwapPartitionsChange(view, "1", "2", 100, stats)

	more := s.Run(map[string]string{})
	assert.False(t, more, "a successfully scheduled swap is a one-shot change")

	rebalancing, err := view.IsRebalancing()
	require.NoError(t, err)
	assert.True(t, rebalancing)
}

func TestSwapPartitionsChange_Run_RetainsPlanOnConflict(t *testing.T) {
	client := newFakeClient()
	client.put("/brokers/topics/orders", []byte(`{"partitions":{"0":[2],"1":[1]}}`))
	view := newTestView(t, client)

	stats := map[string]clusterview.DiskStats{
		"1": {Topics: map[string]map[string]int64{"orders": {"1": 60}}},
		"2": {Topics: map[string]map[string]int64{"orders": {"0": 10}}},
	}
	// Simulate an already in-flight reassignment submitted by someone else.
	_, err := view.SubmitReassignment(clusterview.ReassignmentPair{Topic: "other", Partition: 0, Replicas: []int{1}})
	require.NoError(t, err)

	s := NewSwapPartitionsChange(view, "1", "2", 100, stats)
	more := s.Run(map[string]string{})
	assert.True(t, more, "a conflicting in-flight reassignment must retain the plan for a later retry")
	assert.NotNil(t, s.toMove)

	planID := s.planID
	assert.NotEmpty(t, planID)

	more = s.Run(map[string]string{})
	assert.True(t, more)
	assert.Equal(t, planID, s.planID, "the retained plan's correlation id must not change across retries")
}

func TestSwapPartitionsChange_Run_CancelsOnConflictingFamilyPeer(t *testing.T) {
	client := newFakeClient()
	view := newTestView(t, client)
	s := NewSwapPartitionsChange(view, "1", "2", 100, nil)

	more := s.Run(map[string]string{"rebalance": "10.0.0.9"})
	assert.False(t, more)
	assert.Nil(t, s.toMove)
}
