package controller

import (
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/cuemby/bubuku-go/pkg/clusterview"
	"github.com/cuemby/bubuku-go/pkg/coordination"
)

// fakeClient is a shared, lock-call-counting in-memory CoordinationClient.
type fakeClient struct {
	mu        sync.Mutex
	nodes     map[string][]byte
	lockCalls int
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
	if _, ok := f.nodes[p]; !ok {
		return coordination.ErrNodeAbsent
	}
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
	f.mu.Lock()
	f.lockCalls++
	f.mu.Unlock()
	return noopLock{}, nil
}

type noopLock struct{}

func (noopLock) Unlock() error { return nil }

type fakeEnvProvider struct{ id string }

func (f fakeEnvProvider) GetID() string { return f.id }

// fakeChange is a scriptable Change used to drive the scheduler.
type fakeChange struct {
	mu sync.Mutex

	name         string
	canRun       func(peers map[string]string) bool
	run          func(peers map[string]string) bool
	canRunAtExit bool

	runCalls    []map[string]string
	removeCalls int
}

func newFakeChange(name string) *fakeChange {
	return &fakeChange{
		name:   name,
		canRun: func(map[string]string) bool { return true },
		run:    func(map[string]string) bool { return false },
	}
}

func (c *fakeChange) Name() string { return c.name }
func (c *fakeChange) CanRun(peers map[string]string) bool {
	return c.canRun(peers)
}
func (c *fakeChange) Run(peers map[string]string) bool {
	c.mu.Lock()
	c.runCalls = append(c.runCalls, peers)
	c.mu.Unlock()
	return c.run(peers)
}
func (c *fakeChange) CanRunAtExit() bool { return c.canRunAtExit }
func (c *fakeChange) OnRemove() {
	c.mu.Lock()
	c.removeCalls++
	c.mu.Unlock()
}

func (c *fakeChange) calls() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return len(c.runCalls)
}

func newTestController(t *testing.T, client coordination.CoordinationClient, providerID string) *Controller {
	t.Helper()
	view, err := clusterview.New(client)
	require.NoError(t, err)
	return New(view, fakeEnvProvider{id: providerID})
}

func TestRegisterRunningChanges_SkipsLockWhenNoPendingChanges(t *testing.T) {
	client := newFakeClient()
	c := newTestController(t, client, "10.0.0.1")

	running := c.registerRunningChanges("10.0.0.1", "step-1")
	assert.Empty(t, running)
	assert.Equal(t, 0, client.lockCalls, "no pending changes must never touch the GlobalLock")
}

func TestMakeStep_RegistersRunsAndRemovesCompletedChange(t *testing.T) {
	client := newFakeClient()
	c := newTestController(t, client, "10.0.0.1")

	change := newFakeChange("swap_partitions")
	c.addChange(change)

	c.MakeStep("10.0.0.1")

	assert.Equal(t, 1, change.calls())
	assert.Equal(t, 1, change.removeCalls)
	assert.Empty(t, c.changes, "a completed change's queue entry must be fully drained")

	running, err := c.view.RunningChanges()
	require.NoError(t, err)
	assert.Empty(t, running, "a removed change must be unregistered from the cluster-wide registry")
}

func TestMakeStep_PerNameFIFOOrder(t *testing.T) {
	client := newFakeClient()
	c := newTestController(t, client, "10.0.0.1")

	var order []string
	first := newFakeChange("swap_partitions")
	first.run = func(map[string]string) bool {
		order = append(order, "first")
		return false
	}
	second := newFakeChange("swap_partitions")
	second.run = func(map[string]string) bool {
		order = append(order, "second")
		return false
	}
	c.addChange(first)
	c.addChange(second)
	require.Len(t, c.changes["swap_partitions"], 2)

	c.MakeStep("10.0.0.1") // drains first
	c.MakeStep("10.0.0.1") // drains second

	assert.Equal(t, []string{"first", "second"}, order)
}

func TestMakeStep_ChangeStillPendingIsNotRemoved(t *testing.T) {
	client := newFakeClient()
	c := newTestController(t, client, "10.0.0.1")

	change := newFakeChange("swap_partitions")
	change.run = func(map[string]string) bool { return true } // more work to do
	c.addChange(change)

	c.MakeStep("10.0.0.1")

	assert.Equal(t, 1, change.calls())
	assert.Equal(t, 0, change.removeCalls)
	assert.Len(t, c.changes["swap_partitions"], 1)

	running, err := c.view.RunningChanges()
	require.NoError(t, err)
	assert.Equal(t, "10.0.0.1", running["swap_partitions"])
}

// S1: a second provider's head-of-queue change for the same name must see
// the first provider's ownership and refuse to register until it clears.
func TestRegisterRunningChanges_PeerOwnershipBlocksRegistration(t *testing.T) {
	client := newFakeClient()
	providerA := newTestController(t, client, "10.0.0.1")
	providerB := newTestController(t, client, "10.0.0.2")

	changeA := newFakeChange("swap_partitions")
	changeA.run = func(map[string]string) bool { return true }
	providerA.addChange(changeA)

	var sawPeer bool
	changeB := newFakeChange("swap_partitions")
	changeB.canRun = func(peers map[string]string) bool {
		if _, ok := peers["swap_partitions"]; ok {
			sawPeer = true
			return false
		}
		return true
	}
	providerB.addChange(changeB)

	providerA.MakeStep("10.0.0.1")
	providerB.MakeStep("10.0.0.2")

	assert.True(t, sawPeer, "provider B must observe provider A's registered change as a peer")
	assert.Equal(t, 0, changeB.calls(), "provider B's change must not run while blocked")
}

func TestStepChange_PanicMarksChangeForRemoval(t *testing.T) {
	client := newFakeClient()
	c := newTestController(t, client, "10.0.0.1")

	change := newFakeChange("swap_partitions")
	change.run = func(map[string]string) bool { panic("boom") }
	c.addChange(change)

	assert.NotPanics(t, func() { c.MakeStep("10.0.0.1") })
	assert.Empty(t, c.changes)
}

func TestStop_ForcesRemovalOfChangeThatCannotRunAtExit(t *testing.T) {
	client := newFakeClient()
	c := newTestController(t, client, "10.0.0.1")

	change := newFakeChange("swap_partitions")
	change.run = func(map[string]string) bool { return true }
	change.canRunAtExit = false
	c.addChange(change)
	c.MakeStep("10.0.0.1") // register it as running

	c.Stop(nil)
	c.MakeStep("10.0.0.1")

	assert.Empty(t, c.changes)
	assert.Equal(t, 1, change.removeCalls)
}

func TestStop_LetsCanRunAtExitChangeFinish(t *testing.T) {
	client := newFakeClient()
	c := newTestController(t, client, "10.0.0.1")

	finished := false
	change := newFakeChange("swap_partitions")
	change.canRunAtExit = true
	change.run = func(map[string]string) bool {
		if !finished {
			finished = true
			return true
		}
		return false
	}
	c.addChange(change)
	c.MakeStep("10.0.0.1")

	c.Stop(nil)
	c.MakeStep("10.0.0.1")

	assert.Equal(t, 2, change.calls())
	assert.Empty(t, c.changes)
}
