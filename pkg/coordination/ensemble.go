package coordination

import (
	"encoding/json"
	"fmt"
	"math/rand"
	"net/http"
	"sort"
	"strings"
	"time"

	"github.com/cuemby/bubuku-go/pkg/log"
	"github.com/cuemby/bubuku-go/pkg/metrics"
)

// sentinelHost is the magic single-host list that short-circuits discovery
// to localhost:2181, matching the original implementation's "[null]" test
// fixture (Go has no nil string, so the literal "null" plays that role).
const sentinelHost = "null"

// discoveryResponse is the JSON body returned by the discovery endpoint.
type discoveryResponse struct {
	Servers []string `json:"servers"`
	Port    int      `json:"port"`
}

// EnsembleDiscovery resolves the coordination store's connection string from
// an HTTP discovery endpoint, re-polling on an interval and falling back to
// the originally supplied host list when every configured host fails.
//
// The sentinel input []string{sentinelHost} (the single host "null") short
// circuits discovery entirely and resolves to localhost:2181, matching the
// original implementation's "[null]" test fixture.
type EnsembleDiscovery struct {
	port         int
	uriPath      string
	pollInterval time.Duration
	httpClient   *http.Client

	hosts       []string
	masterHosts []string

	connString string
	nextPoll   time.Time
}

// NewEnsembleDiscovery blocks, polling every 5 seconds, until the first
// successful resolution (or the sentinel host short-circuits it), mirroring
// the blocking constructor of the original Python ensemble provider.
//
// seedConnString, if non-empty, is the last-known-good connection string
// persisted from a prior run. When set, a single poll is attempted and the
// seed is used as a fallback if the discovery endpoint is unreachable,
// rather than blocking indefinitely — the supervisor would rather reconnect
// to the ensemble it already knew about than stall on startup.
func NewEnsembleDiscovery(hosts []string, port int, uriPath string, pollInterval, timeout time.Duration, seedConnString string) *EnsembleDiscovery {
	d := &EnsembleDiscovery{
		port:         port,
		uriPath:      uriPath,
		pollInterval: pollInterval,
		httpClient:   &http.Client{Timeout: timeout},
		hosts:        hosts,
		masterHosts:  hosts,
		connString:   seedConnString,
	}

	if seedConnString != "" {
		if !d.Poll() {
			log.WithComponent("ensemble-discovery").Warn().
				Str("conn_string", seedConnString).
				Msg("discovery endpoint unreachable, falling back to last-known connection string")
		}
		return d
	}

	for !d.Poll() {
		log.WithComponent("ensemble-discovery").Info().Msg("waiting on ensemble discovery endpoint")
		time.Sleep(5 * time.Second)
	}
	return d
}

// IsSentinel reports whether hosts is the [null] test shortcut.
func IsSentinel(hosts []string) bool {
	return len(hosts) == 1 && hosts[0] == sentinelHost
}

// Poll performs one discovery cycle. It is a no-op (returns false) before
// the next-poll deadline. It returns true iff the resolved connection
// string changed.
func (d *EnsembleDiscovery) Poll() bool {
	if !d.nextPoll.IsZero() && d.nextPoll.After(time.Now()) {
		return false
	}

	resp := d.query(d.hosts)
	if resp == nil {
		resp = d.query(d.masterHosts)
	}
	if resp == nil {
		metrics.EnsemblePollsTotal.WithLabelValues("failed").Inc()
		return false
	}

	d.nextPoll = time.Now().Add(d.pollInterval)

	sorted := append([]string(nil), resp.Servers...)
	sort.Strings(sorted)
	parts := make([]string, 0, len(sorted))
	for _, h := range sorted {
		parts = append(parts, fmt.Sprintf("%s:%d", h, resp.Port))
	}
	connString := strings.Join(parts, ",")

	if connString != d.connString {
		log.WithComponent("ensemble-discovery").Info().
			Str("previous", d.connString).
			Str("current", connString).
			Msg("coordination store connection string changed")
		d.connString = connString
		d.hosts = resp.Servers
		metrics.EnsemblePollsTotal.WithLabelValues("changed").Inc()
		return true
	}
	metrics.EnsemblePollsTotal.WithLabelValues("unchanged").Inc()
	return false
}

// ConnString returns the most recently resolved connection string.
func (d *EnsembleDiscovery) ConnString() string {
	return d.connString
}

func (d *EnsembleDiscovery) query(hosts []string) *discoveryResponse {
	if IsSentinel(hosts) {
		return &discoveryResponse{Servers: []string{"localhost"}, Port: 2181}
	}

	shuffled := append([]string(nil), hosts...)
	rand.Shuffle(len(shuffled), func(i, j int) { shuffled[i], shuffled[j] = shuffled[j], shuffled[i] })

	for _, host := range shuffled {
		uri := fmt.Sprintf("http://%s:%d%s", host, d.port, d.uriPath)
		resp, err := d.httpClient.Get(uri)
		if err != nil {
			continue
		}
		var body discoveryResponse
		decodeErr := json.NewDecoder(resp.Body).Decode(&body)
		resp.Body.Close()
		if decodeErr != nil || body.Servers == nil {
			continue
		}
		return &body
	}
	return nil
}
