package brokerlifecycle

import (
	"os"
	"os/exec"
	"path/filepath"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/cuemby/bubuku-go/pkg/clusterview"
	"github.com/cuemby/bubuku-go/pkg/coordination"
)

type fakeProperties struct {
	values map[string]string
}

func newFakeProperties(values map[string]string) *fakeProperties {
	if values == nil {
		values = map[string]string{}
	}
	return &fakeProperties{values: values}
}

func (p *fakeProperties) GetProperty(key string) (string, bool) {
	v, ok := p.values[key]
	return v, ok
}
func (p *fakeProperties) SetProperty(key, value string) { p.values[key] = value }
func (p *fakeProperties) DeleteProperty(key string)      { delete(p.values, key) }
func (p *fakeProperties) Dump() error                    { return nil }
func (p *fakeProperties) SettingsFile() string           { return "server.properties" }

type fakeIDs struct {
	brokerID     string
	hasBrokerID  bool
	registered   bool
	presenceWait bool
}

func (f *fakeIDs) GetBrokerID() (string, bool)                       { return f.brokerID, f.hasBrokerID }
func (f *fakeIDs) IsRegistered() bool                                { return f.registered }
func (f *fakeIDs) WaitForBrokerIDPresence(timeout time.Duration) bool { return f.presenceWait }
func (f *fakeIDs) WaitForBrokerIDAbsence()                           {}

// fakeCoordClient is a minimal in-memory CoordinationClient used to build a
// ClusterView for the scenarios below.
type fakeCoordClient struct {
	mu    sync.Mutex
	nodes map[string][]byte
}

func newFakeCoordClient() *fakeCoordClient {
	return &fakeCoordClient{nodes: map[string][]byte{}}
}

func (f *fakeCoordClient) Get(p string) ([]byte, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	d, ok := f.nodes[p]
	if !ok {
		return nil, coordination.ErrNodeAbsent
	}
	return d, nil
}
func (f *fakeCoordClient) Set(p string, data []byte) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.nodes[p] = data
	return nil
}
func (f *fakeCoordClient) Create(p string, data []byte, ephemeral, makepath bool) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if _, ok := f.nodes[p]; ok {
		return coordination.ErrNodeExists
	}
	f.nodes[p] = data
	return nil
}
func (f *fakeCoordClient) Delete(p string, recursive bool) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	delete(f.nodes, p)
	return nil
}
func (f *fakeCoordClient) Children(p string) ([]string, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	var out []string
	prefix := p + "/"
	seen := map[string]bool{}
	for k := range f.nodes {
		if len(k) > len(prefix) && k[:len(prefix)] == prefix {
			child := strings.SplitN(k[len(prefix):], "/", 2)[0]
			if !seen[child] {
				seen[child] = true
				out = append(out, child)
			}
		}
	}
	return out, nil
}
func (f *fakeCoordClient) AcquireLock(p string, value []byte) (coordination.Lock, error) {
	return noopLock{}, nil
}

func (f *fakeCoordClient) put(p string, data []byte) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.nodes[p] = data
}

func (f *fakeCoordClient) remove(p string) {
	f.mu.Lock()
	defer f.mu.Unlock()
	delete(f.nodes, p)
}

type noopLock struct{}

func (noopLock) Unlock() error { return nil }

func newTestLifecycle(t *testing.T, properties *fakeProperties, ids *fakeIDs, topicState string) *BrokerLifecycle {
	t.Helper()
	client := newFakeCoordClient()
	if topicState != "" {
		client.put("/brokers/topics/orders", []byte(`{"partitions":{"0":[1,2]}}`))
		client.put("/brokers/topics/orders/partitions/0/state", []byte(topicState))
	}
	client.put("/brokers/ids/1", nil)
	view, err := clusterview.New(client)
	require.NoError(t, err)
	return New(t.TempDir(), view, ids, properties, time.Second)
}

func TestIsCleanElection(t *testing.T) {
	cases := []struct {
		name  string
		value map[string]string
		want  bool
	}{
		{"unset defaults to skip", nil, false},
		{"explicit true skips the check", map[string]string{"unclean.leader.election.enable": "true"}, false},
		{"explicit false enables the check", map[string]string{"unclean.leader.election.enable": "false"}, true},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			b := newTestLifecycle(t, newFakeProperties(tc.value), &fakeIDs{}, "")
			assert.Equal(t, tc.want, b.isCleanElection())
		})
	}
}

// S5: stopping a broker that is still leading a partition reports unsafe.
func TestStop_StillLeading(t *testing.T) {
	b := newTestLifecycle(t,
		newFakeProperties(map[string]string{"unclean.leader.election.enable": "false"}),
		&fakeIDs{brokerID: "1", hasBrokerID: true},
		`{"leader":1,"isr":[1,2]}`,
	)
	b.process = exec.Command("sleep", "5")
	require.NoError(t, b.process.Start())

	safe := b.Stop()
	assert.False(t, safe, "stopping while still leading must report unsafe")
	assert.Equal(t, Stopped, b.State())
}

func TestStop_NotLeading(t *testing.T) {
	b := newTestLifecycle(t,
		newFakeProperties(map[string]string{"unclean.leader.election.enable": "false"}),
		&fakeIDs{brokerID: "1", hasBrokerID: true},
		`{"leader":2,"isr":[2,3]}`,
	)
	b.process = exec.Command("sleep", "5")
	require.NoError(t, b.process.Start())

	safe := b.Stop()
	assert.True(t, safe)
}

func TestStop_SkipsLeadershipCheckWhenElectionNotClean(t *testing.T) {
	b := newTestLifecycle(t,
		newFakeProperties(nil),
		&fakeIDs{brokerID: "1", hasBrokerID: true},
		`{"leader":1,"isr":[1]}`,
	)
	b.process = exec.Command("sleep", "5")
	require.NoError(t, b.process.Start())

	safe := b.Stop()
	assert.True(t, safe, "with the clean-election gate off, Stop never checks leadership")
}

// S6: starting while leadership has not yet transferred away from a
// now-absent broker must refuse to spawn the subprocess.
func TestStart_WaitsForCleanLeaderElection(t *testing.T) {
	b := newTestLifecycle(t,
		newFakeProperties(map[string]string{"unclean.leader.election.enable": "false"}),
		&fakeIDs{brokerID: "1", hasBrokerID: true},
		`{"leader":9,"isr":[9]}`, // broker 9 is not in /brokers/ids
	)
	started := b.Start("localhost:2181")
	assert.False(t, started)
	assert.Nil(t, b.process)
}

func TestStart_ProceedsWhenElectionAlreadyClean(t *testing.T) {
	scriptDir := t.TempDir()
	binDir := filepath.Join(scriptDir, "bin")
	require.NoError(t, os.MkdirAll(binDir, 0o755))
	script := filepath.Join(binDir, "kafka-server-start.sh")
	require.NoError(t, os.WriteFile(script, []byte("#!/bin/sh\nsleep 5\n"), 0o755))

	client := newFakeCoordClient()
	client.put("/brokers/topics/orders", []byte(`{"partitions":{"0":[1,2]}}`))
	client.put("/brokers/topics/orders/partitions/0/state", []byte(`{"leader":1,"isr":[1,2]}`))
	client.put("/brokers/ids/1", nil)
	client.put("/brokers/ids/2", nil)
	view, err := clusterview.New(client)
	require.NoError(t, err)

	ids := &fakeIDs{brokerID: "2", hasBrokerID: true, presenceWait: false}
	properties := newFakeProperties(map[string]string{"unclean.leader.election.enable": "false"})
	b := New(scriptDir, view, ids, properties, 50*time.Millisecond)

	started := b.Start("localhost:2181")
	assert.True(t, started)
	assert.Equal(t, Running, b.State())
	assert.Equal(t, "2", properties.values["broker.id"])
	assert.Equal(t, "localhost:2181", properties.values["zookeeper.connect"])
	// WaitForBrokerIDPresence failing must extend waitTimeout while still
	// reporting a successful start.
	assert.Greater(t, b.waitTimeout, 50*time.Millisecond)

	b.process.Process.Kill()
	b.process.Wait()
}

func TestStart_Idempotent(t *testing.T) {
	b := newTestLifecycle(t, newFakeProperties(nil), &fakeIDs{}, "")
	b.process = exec.Command("sleep", "5")
	require.NoError(t, b.process.Start())
	defer func() {
		b.process.Process.Kill()
		b.process.Wait()
	}()

	started := b.Start("localhost:2181")
	assert.True(t, started)
}
