package channels

import (
	"sync"
	"sync/atomic"
	"time"
)

// Metrics tracks message counts, error rates, and reconnect activity
// for one channel kind.
type Metrics struct {
	messagesSent     atomic.Uint64
	messagesReceived atomic.Uint64
	messagesFailed   atomic.Uint64

	errorsByCode map[ErrorCode]*atomic.Uint64
	errorsMu     sync.RWMutex

	deploys           atomic.Uint64
	disconnects       atomic.Uint64
	reconnectAttempts atomic.Uint64

	kind      Kind
	startTime time.Time
}

// NewMetrics creates a Metrics instance for a channel kind.
func NewMetrics(kind Kind) *Metrics {
	return &Metrics{
		errorsByCode: make(map[ErrorCode]*atomic.Uint64),
		kind:         kind,
		startTime:    time.Now(),
	}
}

// RecordMessageSent increments the sent message counter.
func (m *Metrics) RecordMessageSent() {
	m.messagesSent.Add(1)
}

// RecordMessageReceived increments the received message counter.
func (m *Metrics) RecordMessageReceived() {
	m.messagesReceived.Add(1)
}

// RecordMessageFailed increments the failed message counter.
func (m *Metrics) RecordMessageFailed() {
	m.messagesFailed.Add(1)
}

// RecordDeploy increments the deploy counter.
func (m *Metrics) RecordDeploy() {
	m.deploys.Add(1)
}

// RecordDisconnect increments the disconnect counter.
func (m *Metrics) RecordDisconnect() {
	m.disconnects.Add(1)
}

// RecordReconnectAttempt increments the reconnect attempts counter.
func (m *Metrics) RecordReconnectAttempt() {
	m.reconnectAttempts.Add(1)
}

// RecordError increments the error counter for the given code.
func (m *Metrics) RecordError(code ErrorCode) {
	m.errorsMu.Lock()
	counter, exists := m.errorsByCode[code]
	if !exists {
		counter = &atomic.Uint64{}
		m.errorsByCode[code] = counter
	}
	m.errorsMu.Unlock()

	counter.Add(1)
}

// Snapshot returns a point-in-time view of the metrics.
func (m *Metrics) Snapshot() MetricsSnapshot {
	m.errorsMu.RLock()
	errs := make(map[ErrorCode]uint64, len(m.errorsByCode))
	for code, counter := range m.errorsByCode {
		errs[code] = counter.Load()
	}
	m.errorsMu.RUnlock()

	return MetricsSnapshot{
		Kind:              m.kind,
		MessagesSent:      m.messagesSent.Load(),
		MessagesReceived:  m.messagesReceived.Load(),
		MessagesFailed:    m.messagesFailed.Load(),
		ErrorsByCode:      errs,
		Deploys:           m.deploys.Load(),
		Disconnects:       m.disconnects.Load(),
		ReconnectAttempts: m.reconnectAttempts.Load(),
		Uptime:            time.Since(m.startTime),
	}
}

// MetricsSnapshot is a point-in-time view of channel metrics.
type MetricsSnapshot struct {
	Kind              Kind                 `json:"kind"`
	MessagesSent      uint64               `json:"messages_sent"`
	MessagesReceived  uint64               `json:"messages_received"`
	MessagesFailed    uint64               `json:"messages_failed"`
	ErrorsByCode      map[ErrorCode]uint64 `json:"errors_by_code"`
	Deploys           uint64               `json:"deploys"`
	Disconnects       uint64               `json:"disconnects"`
	ReconnectAttempts uint64               `json:"reconnect_attempts"`
	Uptime            time.Duration        `json:"uptime"`
}
