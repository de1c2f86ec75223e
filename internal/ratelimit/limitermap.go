package ratelimit

import (
	"sync"

	"github.com/rs/zerolog"

	"github.com/omarluq/dc-relay/internal/metrics"
)

// LimiterMap scopes admission state per credential. The upstream tracks its
// global ceiling and its buckets per Authorization token, so two clients
// relaying with different tokens must never share accounting: each observed
// token gets its own Limiter, created on first use. Requests without a token
// share the empty-credential Limiter (the configured-token fallback path).
type LimiterMap struct {
	sink metrics.Sink
	log  zerolog.Logger

	mu       sync.RWMutex
	rps      int
	limiters map[string]*Limiter
}

// NewLimiterMap creates an empty LimiterMap. New per-credential limiters
// pace their global ceiling at globalRPS requests per second.
func NewLimiterMap(globalRPS int, sink metrics.Sink, log zerolog.Logger) *LimiterMap {
	if globalRPS <= 0 {
		globalRPS = DefaultGlobalRPS
	}
	if sink == nil {
		sink = metrics.Noop{}
	}
	return &LimiterMap{
		sink:     sink,
		log:      log,
		rps:      globalRPS,
		limiters: make(map[string]*Limiter),
	}
}

// Get returns the Limiter for the given credential, creating it on first
// observation. The token value itself is never logged.
func (m *LimiterMap) Get(token string) *Limiter {
	m.mu.RLock()
	l := m.limiters[token]
	m.mu.RUnlock()
	if l != nil {
		return l
	}

	m.mu.Lock()
	defer m.mu.Unlock()
	if l = m.limiters[token]; l != nil {
		return l
	}
	l = NewLimiter(m.rps, m.sink, m.log)
	m.limiters[token] = l
	m.log.Debug().
		Int("credentials", len(m.limiters)).
		Msg("admission state created for new credential")
	return l
}

// SetRate updates the global pacing ceiling for every credential, current
// and future. Used by config hot-reload.
func (m *LimiterMap) SetRate(rps int) {
	if rps <= 0 {
		rps = DefaultGlobalRPS
	}

	m.mu.Lock()
	m.rps = rps
	limiters := make([]*Limiter, 0, len(m.limiters))
	for _, l := range m.limiters {
		limiters = append(limiters, l)
	}
	m.mu.Unlock()

	for _, l := range limiters {
		l.Global().SetRate(rps)
	}
}

// Buckets returns the number of live buckets across all credentials.
func (m *LimiterMap) Buckets() int {
	m.mu.RLock()
	defer m.mu.RUnlock()
	total := 0
	for _, l := range m.limiters {
		total += l.Buckets()
	}
	return total
}

// Credentials returns the number of distinct credentials observed.
func (m *LimiterMap) Credentials() int {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return len(m.limiters)
}
