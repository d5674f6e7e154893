package server

import (
	"fmt"
	"strings"
	"sync"
	"sync/atomic"
	"time"

	"github.com/codeGROOVE-dev/slackin/pkg/types"
)

// Metrics tracks counters for the health endpoint.
type Metrics struct {
	started   time.Time
	lastEvent time.Time
	owners    map[string]bool
	prsSeen   map[string]bool
	mu        sync.RWMutex
	events    atomic.Int64
	failures  atomic.Int64
	commands  atomic.Int64
}

// Stats is a point-in-time copy of Metrics.
type Stats struct {
	LastEvent time.Time
	Uptime    time.Duration
	Events    int64
	Failures  int64
	Commands  int64
	Owners    int
	PRsSeen   int
}

// NewMetrics returns empty metrics.
func NewMetrics() *Metrics {
	return &Metrics{
		started: time.Now(),
		owners:  make(map[string]bool),
		prsSeen: make(map[string]bool),
	}
}

// RecordEvent records a pull request event being handled.
func (m *Metrics) RecordEvent(pr types.PullRequestContext) {
	m.events.Add(1)
	m.mu.Lock()
	defer m.mu.Unlock()
	m.lastEvent = time.Now()
	m.owners[strings.ToLower(pr.Owner)] = true
	m.prsSeen[strings.ToLower(fmt.Sprintf("%s/%s#%d", pr.Owner, pr.Repository, pr.Number))] = true
}

// RecordFailure records a failed event or command.
func (m *Metrics) RecordFailure() {
	m.failures.Add(1)
}

// RecordCommand records a chat command.
func (m *Metrics) RecordCommand() {
	m.commands.Add(1)
}

// Stats returns the current statistics.
func (m *Metrics) Stats() Stats {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return Stats{
		LastEvent: m.lastEvent,
		Uptime:    time.Since(m.started),
		Events:    m.events.Load(),
		Failures:  m.failures.Load(),
		Commands:  m.commands.Load(),
		Owners:    len(m.owners),
		PRsSeen:   len(m.prsSeen),
	}
}
