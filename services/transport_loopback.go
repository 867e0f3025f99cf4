// services/transport_loopback.go
package services

import (
	"context"
	"fmt"
	"sync"

	"github.com/google/uuid"
)

// LoopbackTransport keeps sent envelopes in memory until Deliver hands them to
// a handler. Delivered envelopes are kept so Redeliver can replay them, which
// is how at-least-once delivery is exercised.
type LoopbackTransport struct {
	LocalChain uint64
	Fees       FeeSchedule

	mu        sync.Mutex
	sendErr   error
	outbox    []Envelope
	delivered []Envelope
}

func NewLoopbackTransport(localChain uint64, fees FeeSchedule) *LoopbackTransport {
	return &LoopbackTransport{LocalChain: localChain, Fees: fees}
}

// FailSends makes every Send return err until called again with nil.
func (t *LoopbackTransport) FailSends(err error) {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.sendErr = err
}

func (t *LoopbackTransport) EstimateFee(_ context.Context, _ uint64, payload []byte, computeBudget uint64) (uint64, error) {
	return t.Fees.Fee(len(payload), computeBudget), nil
}

func (t *LoopbackTransport) Send(_ context.Context, destination uint64, payload []byte, computeBudget uint64) (string, error) {
	t.mu.Lock()
	defer t.mu.Unlock()
	if t.sendErr != nil {
		return "", fmt.Errorf("loopback send: %w", t.sendErr)
	}
	env := Envelope{
		MessageID:     deriveMessageID(t.LocalChain, destination, uuid.NewString(), payload),
		SourceChain:   t.LocalChain,
		DestChain:     destination,
		ComputeBudget: computeBudget,
		Payload:       append([]byte(nil), payload...),
	}
	t.outbox = append(t.outbox, env)
	return env.MessageID, nil
}

// Outbox returns envelopes sent but not yet delivered.
func (t *LoopbackTransport) Outbox() []Envelope {
	t.mu.Lock()
	defer t.mu.Unlock()
	return append([]Envelope(nil), t.outbox...)
}

// Deliver drains the outbox into h. Handler errors are collected; the envelope
// still counts as delivered.
func (t *LoopbackTransport) Deliver(ctx context.Context, h InboundHandler) (int, error) {
	t.mu.Lock()
	batch := t.outbox
	t.outbox = nil
	t.delivered = append(t.delivered, batch...)
	t.mu.Unlock()
	return deliverAll(ctx, h, batch)
}

// Redeliver replays every envelope already delivered.
func (t *LoopbackTransport) Redeliver(ctx context.Context, h InboundHandler) (int, error) {
	t.mu.Lock()
	batch := append([]Envelope(nil), t.delivered...)
	t.mu.Unlock()
	return deliverAll(ctx, h, batch)
}

func deliverAll(ctx context.Context, h InboundHandler, batch []Envelope) (int, error) {
	var firstErr error
	for _, env := range batch {
		err := h.HandleInbound(ctx, InboundMessage{SourceChain: env.SourceChain, MessageID: env.MessageID, Payload: env.Payload})
		if err != nil && firstErr == nil {
			firstErr = err
		}
	}
	return len(batch), firstErr
}
