// Package controller implements the periodic check -> change scheduler:
// it holds the list of Checks and the per-name FIFO queue of pending
// Changes, runs the make-step cycle, and drives each change through the
// store-mediated cross-node mutual exclusion required to run it safely.
package controller

import (
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog"

	"github.com/cuemby/bubuku-go/pkg/clusterview"
	"github.com/cuemby/bubuku-go/pkg/log"
	"github.com/cuemby/bubuku-go/pkg/metrics"
)

// Change is a queued unit of work, identified by Name. For a given name,
// the Controller executes Changes strictly in FIFO order and runs at most
// one at a time locally.
type Change interface {
	Name() string
	CanRun(peers map[string]string) bool
	Run(peers map[string]string) bool
	CanRunAtExit() bool
	OnRemove()
}

// Check is a periodic probe. The Controller calls CheckIfTime on every
// make-step; a Check runs its probe only when at least its interval has
// elapsed since the previous run, and the timestamp updates when the probe
// starts, not when it completes.
type Check interface {
	CheckIfTime() Change
	TimeTillCheck() time.Duration
}

// EnvProvider supplies the stable identifier this supervisor registers
// changes under, typically the host IP. Out-of-scope external
// collaborator per the core's component design.
type EnvProvider interface {
	GetID() string
}

// exclude removes (name, providerID) from a peers view so a change sees
// only other holders of its own name.
func exclude(providerID, name string, running map[string]string) map[string]string {
	out := make(map[string]string, len(running))
	for k, v := range running {
		if k == name && v == providerID {
			continue
		}
		out[k] = v
	}
	return out
}

// Controller is the scheduler core.
type Controller struct {
	view        *clusterview.ClusterView
	envProvider EnvProvider

	checks  []Check
	changes map[string][]Change
	running bool
}

// New constructs a Controller with no checks and no pending changes.
func New(view *clusterview.ClusterView, envProvider EnvProvider) *Controller {
	return &Controller{
		view:        view,
		envProvider: envProvider,
		changes:     map[string][]Change{},
		running:     true,
	}
}

// AddCheck registers a Check to be probed once per loop iteration.
func (c *Controller) AddCheck(check Check) {
	log.WithComponent("controller").Info().Msg("adding check")
	c.checks = append(c.checks, check)
}

// Loop runs make-step cycles until Stop has been called and every pending
// change has drained, sleeping 0.5s between steps while changes are
// pending, or until the earliest check's next-fire time otherwise. With no
// checks registered it falls back to a 60s sleep.
func (c *Controller) Loop() {
	providerID := c.envProvider.GetID()

	for c.running || len(c.changes) > 0 {
		c.MakeStep(providerID)

		if len(c.changes) > 0 {
			time.Sleep(500 * time.Millisecond)
			continue
		}

		sleepFor := c.minTimeTillCheck()
		if sleepFor > 0 {
			time.Sleep(sleepFor)
		}
	}
}

func (c *Controller) minTimeTillCheck() time.Duration {
	if len(c.checks) == 0 {
		return 60 * time.Second
	}
	min := c.checks[0].TimeTillCheck()
	for _, check := range c.checks[1:] {
		if t := check.TimeTillCheck(); t < min {
			min = t
		}
	}
	return min
}

// MakeStep runs one register/execute/release/probe cycle. Each invocation
// gets its own correlation id so its log lines can be traced end to end
// across registration, execution and release.
func (c *Controller) MakeStep(providerID string) {
	timer := metrics.NewTimer()
	defer timer.ObserveDuration(metrics.MakeStepDuration)

	stepID := uuid.NewString()
	running := c.registerRunningChanges(providerID, stepID)
	toRemove := c.runChanges(running, providerID, stepID)
	c.releaseChanges(toRemove, stepID)

	if c.running {
		for _, check := range c.checks {
			c.addChange(check.CheckIfTime())
		}
	}

	for name, queue := range c.changes {
		metrics.PendingChangesGauge.WithLabelValues(name).Set(float64(len(queue)))
	}
}

// registerRunningChanges takes the GlobalLock only if there is at least one
// locally pending change, reads the cluster-wide registry, and registers
// any head-of-queue change whose CanRun permits it and which nobody else
// currently owns.
func (c *Controller) registerRunningChanges(providerID, stepID string) map[string]string {
	logger := log.WithChangeID(stepID)
	if len(c.changes) == 0 {
		return map[string]string{}
	}

	lock, err := c.view.Lock([]byte(providerID))
	if err != nil {
		logger.Error().Err(err).Msg("failed to acquire global lock")
		return map[string]string{}
	}
	defer lock.Unlock()

	running, err := c.view.RunningChanges()
	if err != nil {
		logger.Error().Err(err).Msg("failed to read running changes")
		return map[string]string{}
	}
	if len(running) > 0 {
		logger.Info().Interface("running_changes", running).Msg("running changes")
	}

	for name, queue := range c.changes {
		head := queue[0]
		peers := exclude(providerID, name, running)
		if head.CanRun(peers) {
			if _, ok := running[name]; !ok {
				if err := c.view.RegisterChange(name, providerID); err != nil {
					logger.Error().Err(err).Str("change", name).Msg("failed to register change")
					continue
				}
				running[name] = providerID
				metrics.ChangesRegisteredTotal.WithLabelValues(name).Inc()
			}
		} else {
			logger.Info().Str("change", name).Msg("change is waiting for others")
		}
	}
	return running
}

// runChanges executes, without holding the lock, every head-of-queue
// change this provider currently owns. It returns the names whose head
// should be removed.
func (c *Controller) runChanges(running map[string]string, providerID, stepID string) []string {
	logger := log.WithChangeID(stepID)
	var toRemove []string

	for name, queue := range c.changes {
		owner, ok := running[name]
		if !ok || owner != providerID {
			continue
		}
		change := queue[0]

		if !c.running && !change.CanRunAtExit() {
			logger.Info().Str("change", name).Msg("change cannot run while stopping, forcing removal")
			toRemove = append(toRemove, name)
			metrics.ChangesCompletedTotal.WithLabelValues(name, "removed").Inc()
			continue
		}

		toRemove = append(toRemove, c.stepChange(name, change, running, providerID, logger)...)
	}
	return toRemove
}

func (c *Controller) stepChange(name string, change Change, running map[string]string, providerID string, logger zerolog.Logger) (toRemove []string) {
	defer func() {
		if r := recover(); r != nil {
			logger.Error().Interface("panic", r).Str("change", name).Msg("change panicked, removing")
			metrics.ChangesCompletedTotal.WithLabelValues(name, "error").Inc()
			toRemove = []string{name}
		}
	}()

	peers := exclude(providerID, name, running)
	more := change.Run(peers)
	if !more {
		logger.Info().Str("change", name).Msg("change completed")
		metrics.ChangesCompletedTotal.WithLabelValues(name, "done").Inc()
		return []string{name}
	}
	logger.Info().Str("change", name).Msg("change will be executed on next loop step")
	return nil
}

// releaseChanges pops the head of each named queue marked for removal,
// invokes its OnRemove hook, then reacquires the GlobalLock to unregister
// each name.
func (c *Controller) releaseChanges(toRemove []string, stepID string) {
	if len(toRemove) == 0 {
		return
	}
	logger := log.WithChangeID(stepID)

	for _, name := range toRemove {
		queue := c.changes[name]
		removed := queue[0]
		queue = queue[1:]
		if len(queue) == 0 {
			delete(c.changes, name)
		} else {
			c.changes[name] = queue
		}
		removed.OnRemove()
	}

	lock, err := c.view.Lock(nil)
	if err != nil {
		logger.Error().Err(err).Msg("failed to acquire global lock for release")
		return
	}
	defer lock.Unlock()

	for _, name := range toRemove {
		if err := c.view.UnregisterChange(name); err != nil {
			logger.Error().Err(err).Str("change", name).Msg("failed to unregister change")
		}
	}
}

func (c *Controller) addChange(change Change) {
	if change == nil {
		return
	}
	log.WithComponent("controller").Info().Str("change", change.Name()).Msg("adding change to pending changes")
	metrics.ChecksRunTotal.WithLabelValues(change.Name()).Inc()
	c.changes[change.Name()] = append(c.changes[change.Name()], change)
}

// Stop enqueues an optional final change and clears the running flag. The
// loop then drains: only changes with CanRunAtExit true continue to
// execute; others are force-removed on their next make-step touch.
func (c *Controller) Stop(final Change) {
	name := "<none>"
	if final != nil {
		name = final.Name()
	}
	log.WithComponent("controller").Info().Str("final_change", name).Msg("stopping controller")
	c.addChange(final)
	c.running = false
}
