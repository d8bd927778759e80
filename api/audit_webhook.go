package api

import (
	"bytes"
	"context"
	"encoding/json"
	"log/slog"
	"net/http"
	"strings"
	"sync"
	"time"
)

const (
	webhookQueueSize   = 1024
	webhookTimeout     = 10 * time.Second
	webhookMaxAttempts = 2
	webhookUserAgent   = "SessionGate-Audit-Webhook/1.0"
)

// webhookEvent is the JSON payload POSTed to the audit endpoint.
type webhookEvent struct {
	Event      string            `json:"event"`
	RemoteAddr string            `json:"remote_addr,omitempty"`
	Timestamp  string            `json:"timestamp"`
	Attrs      map[string]string `json:"attrs,omitempty"`
}

// auditWebhook forwards audit events to an HTTP endpoint from a background
// goroutine. enqueue never blocks; events are dropped when the queue is full.
type auditWebhook struct {
	url          string
	headerName   string
	headerValue  string
	client       *http.Client
	retryBackoff time.Duration
	events       chan webhookEvent
	wg           sync.WaitGroup
}

// newAuditWebhook starts a dispatcher. authHeader has the form
// "Header: value" and may be empty.
func newAuditWebhook(url, authHeader string) *auditWebhook {
	w := &auditWebhook{
		url:          url,
		client:       &http.Client{Timeout: webhookTimeout},
		retryBackoff: time.Second,
		events:       make(chan webhookEvent, webhookQueueSize),
	}
	if name, value, ok := strings.Cut(authHeader, ":"); ok {
		w.headerName = strings.TrimSpace(name)
		w.headerValue = strings.TrimSpace(value)
	}
	w.wg.Add(1)
	go w.loop()
	return w
}

func (w *auditWebhook) enqueue(evt webhookEvent) {
	select {
	case w.events <- evt:
	default:
		slog.Warn("audit webhook: queue full, dropping event", "event", evt.Event)
	}
}

// close stops accepting events and waits for the queue to drain.
func (w *auditWebhook) close() {
	close(w.events)
	w.wg.Wait()
}

func (w *auditWebhook) loop() {
	defer w.wg.Done()
	for evt := range w.events {
		w.deliver(evt)
	}
}

// deliver POSTs evt, retrying once on a transport error or 5xx.
func (w *auditWebhook) deliver(evt webhookEvent) {
	body, err := json.Marshal(evt)
	if err != nil {
		slog.Warn("audit webhook: marshal failed", "error", err)
		return
	}

	for attempt := 1; attempt <= webhookMaxAttempts; attempt++ {
		if attempt > 1 {
			time.Sleep(w.retryBackoff)
		}
		status, err := w.post(body)
		switch {
		case err != nil:
			slog.Warn("audit webhook: request failed", "error", err, "attempt", attempt)
		case status >= 500:
			slog.Warn("audit webhook: server error", "status", status, "attempt", attempt)
		case status >= 400:
			slog.Warn("audit webhook: client error", "status", status)
			return
		default:
			return
		}
	}
}

func (w *auditWebhook) post(body []byte) (int, error) {
	req, err := http.NewRequestWithContext(context.Background(), http.MethodPost, w.url, bytes.NewReader(body))
	if err != nil {
		return 0, err
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("User-Agent", webhookUserAgent)
	if w.headerName != "" {
		req.Header.Set(w.headerName, w.headerValue)
	}
	resp, err := w.client.Do(req)
	if err != nil {
		return 0, err
	}
	resp.Body.Close()
	return resp.StatusCode, nil
}
