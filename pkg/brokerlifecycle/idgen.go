package brokerlifecycle

import (
	"time"

	"github.com/cuemby/bubuku-go/pkg/clusterview"
)

// ClusterIDGenerator is the ambient BrokerIDGenerator collaborator: the
// broker id is a fixed, externally-assigned string, and presence is
// observed by polling ClusterView's ephemeral ids/<id> node. It is an
// out-of-scope external collaborator per the core's component design.
type ClusterIDGenerator struct {
	view        *clusterview.ClusterView
	brokerID    string
	pollInterval time.Duration
}

// NewClusterIDGenerator constructs a generator for a fixed broker id.
// An empty brokerID means "let the broker assign its own id"; GetBrokerID
// then reports (_, false).
func NewClusterIDGenerator(view *clusterview.ClusterView, brokerID string) *ClusterIDGenerator {
	return &ClusterIDGenerator{view: view, brokerID: brokerID, pollInterval: time.Second}
}

// GetBrokerID returns the configured broker id, if any.
func (g *ClusterIDGenerator) GetBrokerID() (string, bool) {
	if g.brokerID == "" {
		return "", false
	}
	return g.brokerID, true
}

// IsRegistered reports whether the broker id currently has a live presence
// node.
func (g *ClusterIDGenerator) IsRegistered() bool {
	id, ok := g.GetBrokerID()
	if !ok {
		return false
	}
	return g.view.IsBrokerRegistered(id)
}

// WaitForBrokerIDPresence polls until the broker id appears or timeout
// elapses.
func (g *ClusterIDGenerator) WaitForBrokerIDPresence(timeout time.Duration) bool {
	deadline := time.Now().Add(timeout)
	for time.Now().Before(deadline) {
		if g.IsRegistered() {
			return true
		}
		time.Sleep(g.pollInterval)
	}
	return g.IsRegistered()
}

// WaitForBrokerIDAbsence polls until the broker id vanishes. Errors
// surfaced by ClusterView are swallowed by IsBrokerRegistered's bool
// contract; the caller logs and moves on regardless.
func (g *ClusterIDGenerator) WaitForBrokerIDAbsence() {
	for g.IsRegistered() {
		time.Sleep(g.pollInterval)
	}
}
