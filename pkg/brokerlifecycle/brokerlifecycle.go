// Package brokerlifecycle owns the local broker subprocess: starting it,
// stopping it, and encoding the safety gates around leader/ISR state and
// the unclean-election policy.
package brokerlifecycle

import (
	"fmt"
	"os/exec"
	"strconv"
	"syscall"
	"time"

	"github.com/cuemby/bubuku-go/pkg/clusterview"
	"github.com/cuemby/bubuku-go/pkg/log"
	"github.com/cuemby/bubuku-go/pkg/metrics"
)

// terminationSignal is sent to the broker subprocess before waiting for
// its exit; the supervisor never sends a kill until that sequence finishes.
var terminationSignal = syscall.SIGTERM

// State is one of the three broker-subprocess lifecycle states.
type State string

const (
	NotStarted State = "NOT_STARTED"
	Running    State = "RUNNING"
	Stopped    State = "STOPPED"
)

// KafkaProperties is the external collaborator owning the broker's
// properties file.
type KafkaProperties interface {
	GetProperty(key string) (string, bool)
	SetProperty(key, value string)
	DeleteProperty(key string)
	Dump() error
	SettingsFile() string
}

// BrokerIDGenerator is the external collaborator assigning and observing
// the local broker's id.
type BrokerIDGenerator interface {
	GetBrokerID() (string, bool)
	IsRegistered() bool
	WaitForBrokerIDPresence(timeout time.Duration) bool
	WaitForBrokerIDAbsence()
}

// BrokerLifecycle is the broker-subprocess state machine.
type BrokerLifecycle struct {
	kafkaDir    string
	view        *clusterview.ClusterView
	ids         BrokerIDGenerator
	properties  KafkaProperties
	waitTimeout time.Duration

	state   State
	process *exec.Cmd
}

// New constructs a BrokerLifecycle in state NOT_STARTED.
func New(kafkaDir string, view *clusterview.ClusterView, ids BrokerIDGenerator, properties KafkaProperties, waitTimeout time.Duration) *BrokerLifecycle {
	return &BrokerLifecycle{
		kafkaDir:    kafkaDir,
		view:        view,
		ids:         ids,
		properties:  properties,
		waitTimeout: waitTimeout,
		state:       NotStarted,
	}
}

// State returns the current lifecycle state.
func (b *BrokerLifecycle) State() State {
	return b.state
}

// WaitTimeout returns the current adaptive start wait_timeout, including
// any extension applied by a prior Start. Callers persist this so the
// extension survives a supervisor restart.
func (b *BrokerLifecycle) WaitTimeout() time.Duration {
	return b.waitTimeout
}

// IsRunningAndRegistered is true iff a subprocess handle is held AND the
// local broker id is present in the coordination store.
func (b *BrokerLifecycle) IsRunningAndRegistered() bool {
	if b.process == nil {
		return false
	}
	registered := b.ids.IsRegistered()
	if registered {
		metrics.BrokerRegistered.Set(1)
	} else {
		metrics.BrokerRegistered.Set(0)
	}
	return registered
}

func (b *BrokerLifecycle) isCleanElection() bool {
	value, ok := b.properties.GetProperty("unclean.leader.election.enable")
	if !ok || value == "true" {
		return false
	}
	return true
}

// Stop terminates the subprocess, waits for the broker id to vanish from
// the store, then reports whether it is safe to leave the broker stopped
// (it holds no leadership and is in no ISR for any partition).
func (b *BrokerLifecycle) Stop() bool {
	b.terminateProcess()
	b.waitForIDAbsence()
	b.state = Stopped
	metrics.BrokerRunning.Set(0)
	return !b.hasLeadership()
}

func (b *BrokerLifecycle) terminateProcess() {
	if b.process == nil {
		return
	}
	if err := b.process.Process.Signal(terminationSignal); err != nil {
		log.WithComponent("broker-lifecycle").Error().Err(err).Msg("failed to signal kafka process")
	} else if err := b.process.Wait(); err != nil {
		log.WithComponent("broker-lifecycle").Error().Err(err).Msg("failed to wait for termination of kafka process")
	}
	b.process = nil
}

func (b *BrokerLifecycle) waitForIDAbsence() {
	b.ids.WaitForBrokerIDAbsence()
}

func (b *BrokerLifecycle) hasLeadership() bool {
	if !b.isCleanElection() {
		return false
	}
	brokerID, ok := b.ids.GetBrokerID()
	if !ok || brokerID == "" {
		return false
	}

	states, err := b.view.PartitionStates()
	if err != nil {
		log.WithComponent("broker-lifecycle").Error().Err(err).Msg("failed to read partition states for leadership check")
		return false
	}
	for _, state := range states {
		if strconv.Itoa(state.Leader) == brokerID {
			log.WithComponent("broker-lifecycle").Warn().
				Str("topic", state.Topic).Int("partition", state.Partition).
				Msg("broker is still a leader")
			return true
		}
		for _, isr := range state.ISR {
			if strconv.Itoa(isr) == brokerID {
				log.WithComponent("broker-lifecycle").Warn().
					Str("topic", state.Topic).Int("partition", state.Partition).
					Msg("broker is still in ISR")
				return true
			}
		}
	}
	return false
}

// Start is idempotent: if a subprocess handle is already held, it returns
// true immediately. Otherwise it writes broker.id and zookeeper.connect,
// flushes the properties file, waits for clean leader election elsewhere
// (when the clean-election gate is active), spawns the subprocess, and
// waits up to waitTimeout for the broker id to appear.
func (b *BrokerLifecycle) Start(connString string) bool {
	if b.process != nil {
		return true
	}

	brokerID, ok := b.ids.GetBrokerID()
	if ok {
		b.properties.SetProperty("broker.id", brokerID)
	} else {
		b.properties.DeleteProperty("broker.id")
	}
	b.properties.SetProperty("zookeeper.connect", connString)
	if err := b.properties.Dump(); err != nil {
		log.WithComponent("broker-lifecycle").Error().Err(err).Msg("failed to flush broker properties")
		return false
	}

	if !b.waitForCleanLeaderElection() {
		return false
	}

	cmd := exec.Command(fmt.Sprintf("%s/bin/kafka-server-start.sh", b.kafkaDir), b.properties.SettingsFile())
	if err := cmd.Start(); err != nil {
		log.WithComponent("broker-lifecycle").Error().Err(err).Msg("failed to start kafka process")
		return false
	}
	b.process = cmd
	b.state = Running
	metrics.BrokerRunning.Set(1)

	if !b.ids.WaitForBrokerIDPresence(b.waitTimeout) {
		b.waitTimeout += 60 * time.Second
		log.WithComponent("broker-lifecycle").Error().
			Dur("new_wait_timeout", b.waitTimeout).
			Msg("failed to wait for broker to start up, increasing timeout")
	}
	return true
}

func (b *BrokerLifecycle) waitForCleanLeaderElection() bool {
	if !b.isCleanElection() {
		return true
	}

	activeIDs, err := b.view.BrokerIDs()
	if err != nil {
		log.WithComponent("broker-lifecycle").Error().Err(err).Msg("failed to read active broker ids")
		return false
	}
	active := make(map[string]bool, len(activeIDs))
	for _, id := range activeIDs {
		active[id] = true
	}

	states, err := b.view.PartitionStates()
	if err != nil {
		log.WithComponent("broker-lifecycle").Error().Err(err).Msg("failed to read partition states")
		return false
	}
	for _, state := range states {
		if !active[strconv.Itoa(state.Leader)] {
			log.WithComponent("broker-lifecycle").Warn().
				Str("topic", state.Topic).Int("partition", state.Partition).
				Msg("leadership is not transferred")
			return false
		}
		for _, isr := range state.ISR {
			if !active[strconv.Itoa(isr)] {
				log.WithComponent("broker-lifecycle").Warn().
					Str("topic", state.Topic).Int("partition", state.Partition).
					Msg("leadership is not transferred")
				return false
			}
		}
	}
	return true
}
