package api

import (
	"sync"
	"time"
)

// AlertType identifies the kind of anomaly detected.
type AlertType string

const (
	AlertLoginFailureSpike AlertType = "login_failure_spike"
	AlertKeyRejectionSpike AlertType = "access_key_rejection_spike"
)

// AlertEvent describes an anomaly that triggered an alert.
type AlertEvent struct {
	Type      AlertType `json:"type"`
	Message   string    `json:"message"`
	Count     int       `json:"count"`
	Threshold int       `json:"threshold"`
	Timestamp time.Time `json:"timestamp"`
}

// AlertFunc is the callback invoked when an anomaly is detected.
type AlertFunc func(AlertEvent)

const (
	defaultLoginFailureWindow    = 1 * time.Minute
	defaultLoginFailureThreshold = 50
	defaultKeyRejectWindow       = 1 * time.Minute
	defaultKeyRejectThreshold    = 100
)

// spikeWindow counts events inside a sliding window.
type spikeWindow struct {
	alert     AlertType
	message   string
	window    time.Duration
	threshold int
	hits      []time.Time
}

// record adds an event at now and reports the alert to raise, if any. The
// window is emptied after an alert so one spike raises one alert.
func (s *spikeWindow) record(now time.Time) (AlertEvent, bool) {
	s.hits = append(s.hits, now)
	cutoff := now.Add(-s.window)
	start := 0
	for start < len(s.hits) && s.hits[start].Before(cutoff) {
		start++
	}
	s.hits = s.hits[start:]

	if len(s.hits) < s.threshold {
		return AlertEvent{}, false
	}
	evt := AlertEvent{
		Type:      s.alert,
		Message:   s.message,
		Count:     len(s.hits),
		Threshold: s.threshold,
		Timestamp: now,
	}
	s.hits = s.hits[:0]
	return evt, true
}

// metricsCollector raises alerts on bursts of login failures and rejected
// access keys.
type metricsCollector struct {
	mu          sync.Mutex
	now         func() time.Time
	loginFail   *spikeWindow
	keyRejected *spikeWindow
	alertFn     AlertFunc
}

func newMetricsCollector(alertFn AlertFunc) *metricsCollector {
	return &metricsCollector{
		now: time.Now,
		loginFail: &spikeWindow{
			alert:     AlertLoginFailureSpike,
			message:   "login failure rate exceeds threshold",
			window:    defaultLoginFailureWindow,
			threshold: defaultLoginFailureThreshold,
		},
		keyRejected: &spikeWindow{
			alert:     AlertKeyRejectionSpike,
			message:   "access key rejection rate exceeds threshold",
			window:    defaultKeyRejectWindow,
			threshold: defaultKeyRejectThreshold,
		},
		alertFn: alertFn,
	}
}

// recordEvent inspects an audit event and updates the relevant counter.
func (m *metricsCollector) recordEvent(event AuditEvent) {
	if m == nil || m.alertFn == nil {
		return
	}
	var w *spikeWindow
	switch event {
	case AuditLoginFailure:
		w = m.loginFail
	case AuditKeyRejected:
		w = m.keyRejected
	default:
		return
	}

	m.mu.Lock()
	evt, fire := w.record(m.now())
	m.mu.Unlock()
	if fire {
		m.alertFn(evt)
	}
}
