package coordination

import (
	"fmt"
	"path"
	"strings"
	"sync"
	"time"

	"github.com/go-zookeeper/zk"

	"github.com/cuemby/bubuku-go/pkg/log"
	"github.com/cuemby/bubuku-go/pkg/metrics"
)

// CoordinationClient is the thin abstraction over the coordination store
// used by ClusterView. Implementations must poll EnsembleDiscovery before
// each operation and transparently retry idempotent failures.
type CoordinationClient interface {
	Get(path string) ([]byte, error)
	Set(path string, data []byte) error
	Create(path string, data []byte, ephemeral, makepath bool) error
	Delete(path string, recursive bool) error
	Children(path string) ([]string, error)
	AcquireLock(path string, value []byte) (Lock, error)
}

// Lock is a held advisory lock; callers release it by calling Unlock.
type Lock interface {
	Unlock() error
}

// RetryPolicy bounds the backoff between retried mutating operations. By
// design max_tries is unbounded: the supervisor prefers to block rather
// than surface a transient coordination failure to a Change.
type RetryPolicy struct {
	Deadline time.Duration
	MaxDelay time.Duration
}

// DefaultRetryPolicy matches the original command_retry policy.
func DefaultRetryPolicy() RetryPolicy {
	return RetryPolicy{Deadline: 10 * time.Second, MaxDelay: time.Second}
}

// Client is the production CoordinationClient, wrapping a go-zookeeper/zk
// session that is rebuilt whenever EnsembleDiscovery resolves a new
// connection string.
type Client struct {
	mu        sync.Mutex
	discovery *EnsembleDiscovery
	prefix    string
	retry     RetryPolicy

	conn *zk.Conn

	// OnSessionEvent, if set, is invoked with every zk session event. It is
	// consumed only by the ambient health registry, never by CORE logic.
	OnSessionEvent func(zk.Event)
}

// NewClient dials the coordination store through discovery and roots
// relative paths under "/"+prefix; absolute paths are used as given.
func NewClient(discovery *EnsembleDiscovery, prefix string, retry RetryPolicy) (*Client, error) {
	c := &Client{
		discovery: discovery,
		prefix:    prefix,
		retry:     retry,
	}
	if err := c.dial(); err != nil {
		return nil, err
	}
	return c, nil
}

func (c *Client) dial() error {
	hosts := splitHosts(c.discovery.ConnString())
	conn, events, err := zk.Connect(hosts, 10*time.Second)
	if err != nil {
		return fmt.Errorf("dial coordination store: %w", err)
	}
	c.conn = conn
	go func() {
		for ev := range events {
			if c.OnSessionEvent != nil {
				c.OnSessionEvent(ev)
			}
		}
	}()
	return nil
}

func splitHosts(connString string) []string {
	hosts := []string{}
	start := 0
	for i := 0; i <= len(connString); i++ {
		if i == len(connString) || connString[i] == ',' {
			if i > start {
				hosts = append(hosts, connString[start:i])
			}
			start = i + 1
		}
	}
	if len(hosts) == 0 {
		hosts = []string{"localhost:2181"}
	}
	return hosts
}

// pollEnsemble re-resolves the connection string before every operation and
// tears down/rebuilds the session when it changed, mirroring the original
// _poll_exhibitor.
func (c *Client) pollEnsemble() {
	if c.discovery.Poll() {
		log.WithComponent("coordination-client").Info().
			Str("conn_string", c.discovery.ConnString()).
			Msg("reconnecting coordination session to new ensemble")
		c.conn.Close()
		if err := c.dial(); err != nil {
			log.WithComponent("coordination-client").Error().Err(err).Msg("failed to reconnect to new ensemble")
			return
		}
		metrics.CoordinationReconnectsTotal.Inc()
	}
}

// rooted resolves a path relative to the supervisor's namespace (e.g.
// "changes/foo" -> "/<prefix>/changes/foo"). Paths already rooted at "/"
// (the broker's own bit-for-bit-compatible namespace, e.g. "/brokers/ids")
// are passed through unchanged.
func (c *Client) rooted(p string) string {
	if strings.HasPrefix(p, "/") {
		return p
	}
	return path.Join("/", c.prefix, p)
}

// withRetry retries an op (reads and mutations alike) with bounded backoff
// and no give-up: the supervisor blocks rather than surfaces a transient
// failure. ErrNodeAbsent and ErrNodeExists are returned without retrying.
func (c *Client) withRetry(op string, fn func() error) error {
	delay := 50 * time.Millisecond
	for {
		err := fn()
		if err == nil {
			return nil
		}
		translated := translate(err)
		if translated == ErrNodeAbsent || translated == ErrNodeExists {
			return translated
		}
		metrics.CoordinationRetriesTotal.WithLabelValues(op).Inc()
		log.WithComponent("coordination-client").Warn().Err(err).Str("op", op).Msg("retrying coordination operation")
		time.Sleep(delay)
		if delay < c.retry.MaxDelay {
			delay *= 2
			if delay > c.retry.MaxDelay {
				delay = c.retry.MaxDelay
			}
		}
	}
}

// Get reads a node's value. Returns ErrNodeAbsent if it does not exist.
func (c *Client) Get(p string) ([]byte, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.pollEnsemble()

	var data []byte
	err := c.withRetry("get", func() error {
		var innerErr error
		data, _, innerErr = c.conn.Get(c.rooted(p))
		return innerErr
	})
	return data, err
}

// Set overwrites a node's value.
func (c *Client) Set(p string, data []byte) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.pollEnsemble()

	return c.withRetry("set", func() error {
		_, innerErr := c.conn.Set(c.rooted(p), data, -1)
		return innerErr
	})
}

// Create creates a node, optionally ephemeral and optionally creating
// missing parents. Returns ErrNodeExists if the path already exists.
func (c *Client) Create(p string, data []byte, ephemeral, makepath bool) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.pollEnsemble()

	full := c.rooted(p)
	if makepath {
		c.ensureParents(full)
	}

	var flags int32
	if ephemeral {
		flags = zk.FlagEphemeral
	}

	return c.withRetry("create", func() error {
		_, innerErr := c.conn.Create(full, data, flags, zk.WorldACL(zk.PermAll))
		return innerErr
	})
}

// ensureParents creates missing intermediate persistent nodes, tolerating
// "already exists" on each.
func (c *Client) ensureParents(full string) {
	parent := path.Dir(full)
	if parent == "/" || parent == "." {
		return
	}
	c.ensureParents(parent)
	_, err := c.conn.Create(parent, nil, 0, zk.WorldACL(zk.PermAll))
	if err != nil && err != zk.ErrNodeExists {
		log.WithComponent("coordination-client").Warn().Err(err).Str("path", parent).Msg("failed to create parent node")
	}
}

// Delete removes a node. When recursive, children are removed first.
func (c *Client) Delete(p string, recursive bool) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.pollEnsemble()

	full := c.rooted(p)
	if recursive {
		children, _, err := c.conn.Children(full)
		if err == nil {
			for _, child := range children {
				_ = c.conn.Delete(path.Join(full, child), -1)
			}
		}
	}

	return c.withRetry("delete", func() error {
		return c.conn.Delete(full, -1)
	})
}

// Children lists a node's children. A missing parent yields an empty list,
// not an error.
func (c *Client) Children(p string) ([]string, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.pollEnsemble()

	var children []string
	err := c.withRetry("children", func() error {
		var innerErr error
		children, _, innerErr = c.conn.Children(c.rooted(p))
		return innerErr
	})
	if err == ErrNodeAbsent {
		return []string{}, nil
	}
	return children, err
}

// AcquireLock blocks until the advisory lock at path is held.
func (c *Client) AcquireLock(p string, value []byte) (Lock, error) {
	c.mu.Lock()
	c.pollEnsemble()
	conn := c.conn
	c.mu.Unlock()

	for {
		lock := zk.NewLock(conn, c.rooted(p), zk.WorldACL(zk.PermAll))
		if err := lock.Lock(); err != nil {
			log.WithComponent("coordination-client").Error().Err(err).Msg("failed to obtain global lock, retrying")
			time.Sleep(time.Second)
			continue
		}
		return &zkLock{lock: lock}, nil
	}
}

type zkLock struct {
	lock *zk.Lock
}

func (l *zkLock) Unlock() error {
	return l.lock.Unlock()
}
