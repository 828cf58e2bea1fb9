package webhook

import (
	"context"
	"crypto/hmac"
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"sync"
	"time"

	"github.com/gammazero/workerpool"

	"github.com/barterlabs/go-barter/service/logger"
	"github.com/barterlabs/go-barter/service/persist"
	"github.com/barterlabs/go-barter/service/registry"
)

// TenantRef is the tenant block of every webhook payload.
type TenantRef struct {
	ID   string `json:"id"`
	Name string `json:"name"`
}

// Data is the event-specific block of a webhook payload.
type Data struct {
	Loop    *persist.TradeLoop `json:"loop,omitempty"`
	Trigger string             `json:"trigger,omitempty"`
	Reason  string             `json:"reason,omitempty"`
}

// Payload is the wire shape of a webhook event. Signature is the hex
// HMAC-SHA256 of the payload's canonical JSON without the signature field.
type Payload struct {
	Event     string    `json:"event"`
	Timestamp string    `json:"timestamp"`
	Tenant    TenantRef `json:"tenant"`
	Data      Data      `json:"data"`
	Signature string    `json:"signature,omitempty"`
}

// CanonicalJSON serializes the payload without its signature. Struct field
// order makes the encoding deterministic.
func (p Payload) CanonicalJSON() ([]byte, error) {
	p.Signature = ""
	return json.Marshal(p)
}

// Sign computes the hex HMAC-SHA256 of the payload's canonical JSON.
func Sign(p Payload, secret string) (string, error) {
	canonical, err := p.CanonicalJSON()
	if err != nil {
		return "", err
	}
	mac := hmac.New(sha256.New, []byte(secret))
	mac.Write(canonical)
	return hex.EncodeToString(mac.Sum(nil)), nil
}

// Delivery is one signed request handed to the transport.
type Delivery struct {
	URL     string
	Body    []byte
	Headers map[string]string
}

// Transport performs the actual HTTP call. Implementations return an error
// for anything but a 2xx response.
type Transport interface {
	Deliver(ctx context.Context, d Delivery) error
}

// AttemptStatus classifies a delivery attempt.
type AttemptStatus string

const (
	AttemptDelivered  AttemptStatus = "delivered"
	AttemptFailed     AttemptStatus = "failed"
	AttemptMaxRetries AttemptStatus = "max_retries"
)

// Attempt is one entry in the dispatcher's bounded attempt log.
type Attempt struct {
	Event     string
	LoopID    persist.LoopID
	Attempt   int
	Delay     time.Duration
	Status    AttemptStatus
	Error     string
	Timestamp time.Time
}

// Config is a dispatcher's delivery configuration.
type Config struct {
	URL     string
	Secret  string
	Enabled bool
}

const (
	maxAttempts    = 3
	attemptLogCap  = 1000
	defaultTimeout = 10 * time.Second
)

var retryDelays = []time.Duration{time.Second, 5 * time.Second, 15 * time.Second}

// Dispatcher queues a tenant's loop lifecycle events, signs them, and hands
// them to the transport with retries. Delivery is serialized per tenant on a
// single-worker pool; subscribers (the websocket feed) receive every event
// regardless of webhook configuration.
type Dispatcher struct {
	tenant    TenantRef
	transport Transport
	pool      *workerpool.WorkerPool
	sleep     func(time.Duration)

	mu          sync.RWMutex
	cfg         Config
	attempts    []Attempt
	subscribers []chan Payload
}

// NewDispatcher returns a dispatcher delivering through the given transport.
func NewDispatcher(tenant TenantRef, cfg Config, transport Transport) *Dispatcher {
	return &Dispatcher{
		tenant:    tenant,
		transport: transport,
		cfg:       cfg,
		pool:      workerpool.New(1),
		sleep:     time.Sleep,
	}
}

// SetSleep replaces the inter-retry sleep; used by tests.
func (d *Dispatcher) SetSleep(sleep func(time.Duration)) {
	d.sleep = sleep
}

// UpdateConfig swaps the delivery configuration for subsequent events.
func (d *Dispatcher) UpdateConfig(cfg Config) {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.cfg = cfg
}

// Dispatch enqueues a registry event for delivery. The payload timestamp and
// signature are fixed at enqueue time and identical across retries.
func (d *Dispatcher) Dispatch(ctx context.Context, event registry.Event) {
	loop := event.Loop
	payload := Payload{
		Event:     string(event.Kind),
		Timestamp: time.Now().UTC().Format(time.RFC3339),
		Tenant:    d.tenant,
		Data: Data{
			Loop:    &loop,
			Trigger: event.Trigger,
			Reason:  event.Reason,
		},
	}

	d.notifySubscribers(payload)

	d.mu.RLock()
	cfg := d.cfg
	d.mu.RUnlock()
	if !cfg.Enabled || cfg.URL == "" {
		return
	}

	signature, err := Sign(payload, cfg.Secret)
	if err != nil {
		logger.For(ctx).Errorf("webhook: signing event %s failed: %s", payload.Event, err)
		return
	}
	payload.Signature = signature

	body, err := json.Marshal(payload)
	if err != nil {
		logger.For(ctx).Errorf("webhook: marshaling event %s failed: %s", payload.Event, err)
		return
	}

	delivery := Delivery{
		URL:  cfg.URL,
		Body: body,
		Headers: map[string]string{
			"Content-Type": "application/json",
			"X-Event":      payload.Event,
			"X-Tenant":     d.tenant.ID,
			"X-Signature":  signature,
			"X-Timestamp":  payload.Timestamp,
		},
	}

	// Deliveries outlive the mutation that produced them: the transport must
	// keep working after the caller's context (or the runtime's, during
	// shutdown drain) is cancelled. The transport carries its own timeout.
	deliveryCtx := context.WithoutCancel(ctx)
	d.pool.Submit(func() {
		d.deliverWithRetries(deliveryCtx, payload, delivery)
	})
}

func (d *Dispatcher) deliverWithRetries(ctx context.Context, payload Payload, delivery Delivery) {
	var loopID persist.LoopID
	if payload.Data.Loop != nil {
		loopID = payload.Data.Loop.ID
	}

	for attempt := 1; attempt <= maxAttempts; attempt++ {
		var delay time.Duration
		if attempt > 1 {
			delay = retryDelays[attempt-2]
			d.sleep(delay)
		}

		err := d.transport.Deliver(ctx, delivery)
		if err == nil {
			d.recordAttempt(Attempt{
				Event:     payload.Event,
				LoopID:    loopID,
				Attempt:   attempt,
				Delay:     delay,
				Status:    AttemptDelivered,
				Timestamp: time.Now(),
			})
			return
		}

		status := AttemptFailed
		if attempt == maxAttempts {
			status = AttemptMaxRetries
			logger.For(ctx).Warnf("webhook: giving up on %s for tenant %s after %d attempts: %s", payload.Event, d.tenant.ID, attempt, err)
		}
		d.recordAttempt(Attempt{
			Event:     payload.Event,
			LoopID:    loopID,
			Attempt:   attempt,
			Delay:     delay,
			Status:    status,
			Error:     err.Error(),
			Timestamp: time.Now(),
		})
	}
}

func (d *Dispatcher) recordAttempt(a Attempt) {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.attempts = append(d.attempts, a)
	if len(d.attempts) > attemptLogCap {
		d.attempts = d.attempts[len(d.attempts)-attemptLogCap:]
	}
}

// Attempts returns a copy of the attempt log, oldest first.
func (d *Dispatcher) Attempts() []Attempt {
	d.mu.RLock()
	defer d.mu.RUnlock()
	return append([]Attempt(nil), d.attempts...)
}

// Subscribe returns a channel receiving every event payload. The channel is
// buffered; slow subscribers drop events rather than stall delivery.
func (d *Dispatcher) Subscribe() chan Payload {
	ch := make(chan Payload, 64)
	d.mu.Lock()
	defer d.mu.Unlock()
	d.subscribers = append(d.subscribers, ch)
	return ch
}

// Unsubscribe removes and closes a subscriber channel.
func (d *Dispatcher) Unsubscribe(ch chan Payload) {
	d.mu.Lock()
	defer d.mu.Unlock()
	for i, sub := range d.subscribers {
		if sub == ch {
			d.subscribers = append(d.subscribers[:i], d.subscribers[i+1:]...)
			close(ch)
			return
		}
	}
}

func (d *Dispatcher) notifySubscribers(p Payload) {
	d.mu.RLock()
	defer d.mu.RUnlock()
	for _, ch := range d.subscribers {
		select {
		case ch <- p:
		default:
		}
	}
}

// Drain blocks until queued deliveries finish, then stops the pool.
func (d *Dispatcher) Drain() {
	d.pool.StopWait()

	d.mu.Lock()
	defer d.mu.Unlock()
	for _, ch := range d.subscribers {
		close(ch)
	}
	d.subscribers = nil
}
