package webhook

import (
	"context"
	"crypto/hmac"
	"encoding/json"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/barterlabs/go-barter/service/persist"
	"github.com/barterlabs/go-barter/service/registry"
)

// scriptedTransport fails or succeeds per call according to its script, then
// succeeds forever.
type scriptedTransport struct {
	mu         sync.Mutex
	script     []error
	deliveries []Delivery
}

func (s *scriptedTransport) Deliver(ctx context.Context, d Delivery) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.deliveries = append(s.deliveries, d)
	if len(s.script) == 0 {
		return nil
	}
	err := s.script[0]
	s.script = s.script[1:]
	return err
}

func (s *scriptedTransport) calls() []Delivery {
	s.mu.Lock()
	defer s.mu.Unlock()
	return append([]Delivery(nil), s.deliveries...)
}

func sampleEvent() registry.Event {
	steps := []persist.TradeStep{
		{From: "alice", To: "bob", NFTs: []persist.NFT{{ID: "n1", EstimatedValue: 100}}},
		{From: "bob", To: "alice", NFTs: []persist.NFT{{ID: "n2", EstimatedValue: 100}}},
	}
	return registry.Event{
		Kind:    registry.LoopDiscovered,
		Trigger: "add_want",
		Loop: persist.TradeLoop{
			ID:           persist.CanonicalLoopID(steps),
			Steps:        steps,
			Participants: 2,
			QualityScore: 0.72,
		},
	}
}

func newTestDispatcher(transport Transport) *Dispatcher {
	d := NewDispatcher(
		TenantRef{ID: "t1", Name: "Test Partner"},
		Config{URL: "https://partner.example/hooks", Secret: "s3cret", Enabled: true},
		transport,
	)
	d.SetSleep(func(time.Duration) {})
	return d
}

func TestDispatcherDelivers(t *testing.T) {
	a := assert.New(t)
	transport := &scriptedTransport{}
	d := newTestDispatcher(transport)

	d.Dispatch(context.Background(), sampleEvent())
	d.Drain()

	calls := transport.calls()
	require.Len(t, calls, 1)

	call := calls[0]
	a.Equal("https://partner.example/hooks", call.URL)
	a.Equal("application/json", call.Headers["Content-Type"])
	a.Equal("trade_loop_discovered", call.Headers["X-Event"])
	a.Equal("t1", call.Headers["X-Tenant"])
	a.NotEmpty(call.Headers["X-Signature"])
	a.NotEmpty(call.Headers["X-Timestamp"])

	var payload Payload
	require.NoError(t, json.Unmarshal(call.Body, &payload))
	a.Equal("trade_loop_discovered", payload.Event)
	a.Equal("add_want", payload.Data.Trigger)
	require.NotNil(t, payload.Data.Loop)
	a.Equal(2, payload.Data.Loop.Participants)

	attempts := d.Attempts()
	require.Len(t, attempts, 1)
	a.Equal(AttemptDelivered, attempts[0].Status)
	a.Equal(1, attempts[0].Attempt)
}

func TestDispatcherSignature(t *testing.T) {
	a := assert.New(t)
	transport := &scriptedTransport{}
	d := newTestDispatcher(transport)

	d.Dispatch(context.Background(), sampleEvent())
	d.Drain()

	calls := transport.calls()
	require.Len(t, calls, 1)

	var payload Payload
	require.NoError(t, json.Unmarshal(calls[0].Body, &payload))

	// Recomputing the signature over the canonical body must reproduce both
	// the embedded signature and the header.
	expected, err := Sign(payload, "s3cret")
	require.NoError(t, err)
	a.Equal(expected, payload.Signature)
	a.Equal(expected, calls[0].Headers["X-Signature"])
	a.True(hmac.Equal([]byte(expected), []byte(payload.Signature)))

	// A different secret verifies differently.
	other, err := Sign(payload, "wrong")
	require.NoError(t, err)
	a.NotEqual(expected, other)
}

func TestDispatcherRetries(t *testing.T) {
	a := assert.New(t)

	t.Run("two failures then success", func(t *testing.T) {
		transport := &scriptedTransport{script: []error{
			errors.New("500 internal server error"),
			errors.New("500 internal server error"),
		}}
		d := newTestDispatcher(transport)
		var delays []time.Duration
		d.SetSleep(func(delay time.Duration) { delays = append(delays, delay) })

		d.Dispatch(context.Background(), sampleEvent())
		d.Drain()

		calls := transport.calls()
		require.Len(t, calls, 3)
		a.Equal([]time.Duration{time.Second, 5 * time.Second}, delays)

		// Retries resend the identical signed body.
		a.Equal(calls[0].Body, calls[1].Body)
		a.Equal(calls[0].Body, calls[2].Body)
		a.Equal(calls[0].Headers["X-Signature"], calls[2].Headers["X-Signature"])
		a.Equal(calls[0].Headers["X-Timestamp"], calls[2].Headers["X-Timestamp"])

		attempts := d.Attempts()
		require.Len(t, attempts, 3)
		a.Equal(AttemptFailed, attempts[0].Status)
		a.Equal(AttemptFailed, attempts[1].Status)
		a.Equal(AttemptDelivered, attempts[2].Status)
	})

	t.Run("gives up after three failures", func(t *testing.T) {
		transport := &scriptedTransport{script: []error{
			errors.New("timeout"),
			errors.New("timeout"),
			errors.New("timeout"),
		}}
		d := newTestDispatcher(transport)

		d.Dispatch(context.Background(), sampleEvent())
		d.Drain()

		a.Len(transport.calls(), 3)
		attempts := d.Attempts()
		require.Len(t, attempts, 3)
		a.Equal(AttemptMaxRetries, attempts[2].Status)
		a.Equal("timeout", attempts[2].Error)
	})
}

// ctxSensitiveTransport fails any delivery whose context is already done,
// the way a real HTTP client would.
type ctxSensitiveTransport struct {
	scriptedTransport
}

func (c *ctxSensitiveTransport) Deliver(ctx context.Context, d Delivery) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	return c.scriptedTransport.Deliver(ctx, d)
}

func TestDispatcherDeliversAfterCallerContextCancelled(t *testing.T) {
	a := assert.New(t)
	transport := &ctxSensitiveTransport{}
	d := newTestDispatcher(transport)

	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	d.Dispatch(ctx, sampleEvent())
	d.Drain()

	// Shutdown drains must still deliver queued events.
	calls := transport.calls()
	require.Len(t, calls, 1)
	attempts := d.Attempts()
	require.Len(t, attempts, 1)
	a.Equal(AttemptDelivered, attempts[0].Status)
}

func TestDispatcherDisabled(t *testing.T) {
	a := assert.New(t)
	transport := &scriptedTransport{}
	d := NewDispatcher(TenantRef{ID: "t1"}, Config{Enabled: false}, transport)

	d.Dispatch(context.Background(), sampleEvent())
	d.Drain()

	a.Empty(transport.calls())
}

func TestDispatcherSubscribers(t *testing.T) {
	a := assert.New(t)
	transport := &scriptedTransport{}
	d := NewDispatcher(TenantRef{ID: "t1"}, Config{Enabled: false}, transport)

	ch := d.Subscribe()
	d.Dispatch(context.Background(), sampleEvent())

	select {
	case payload := <-ch:
		// Subscribers see events even with webhooks disabled.
		a.Equal("trade_loop_discovered", payload.Event)
	case <-time.After(time.Second):
		t.Fatal("no event received")
	}

	d.Unsubscribe(ch)
	_, open := <-ch
	a.False(open)
}

func TestCanonicalJSONExcludesSignature(t *testing.T) {
	a := assert.New(t)

	p := Payload{Event: "trade_loop_discovered", Timestamp: "2026-01-02T03:04:05Z", Tenant: TenantRef{ID: "t1"}}
	signed := p
	signed.Signature = "deadbeef"

	c1, err := p.CanonicalJSON()
	require.NoError(t, err)
	c2, err := signed.CanonicalJSON()
	require.NoError(t, err)
	a.Equal(c1, c2)

	s1, err := Sign(p, "k")
	require.NoError(t, err)
	s2, err := Sign(signed, "k")
	require.NoError(t, err)
	a.Equal(s1, s2)
}
