package services

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/jonboulle/clockwork"
)

// QueuedRequest is a randomness request waiting for an external adapter.
type QueuedRequest struct {
	ID          string    `json:"id"`
	NumWords    uint32    `json:"num_words"`
	RequestedAt time.Time `json:"requested_at"`

	consumer RandomnessConsumer
}

// QueuedRandomnessOracle parks requests until an external adapter (or a test)
// delivers words through Fulfill. Used when the real oracle lives out of process.
type QueuedRandomnessOracle struct {
	clock clockwork.Clock

	mu          sync.Mutex
	pending     map[string]QueuedRequest
	unavailable error
}

func NewQueuedRandomnessOracle(clock clockwork.Clock) *QueuedRandomnessOracle {
	if clock == nil {
		clock = clockwork.NewRealClock()
	}
	return &QueuedRandomnessOracle{clock: clock, pending: make(map[string]QueuedRequest)}
}

func (o *QueuedRandomnessOracle) RequestRandomWords(_ context.Context, numWords uint32, consumer RandomnessConsumer) (string, error) {
	o.mu.Lock()
	defer o.mu.Unlock()
	if o.unavailable != nil {
		return "", fmt.Errorf("%w: %v", ErrOracleUnavailable, o.unavailable)
	}
	id := uuid.NewString()
	o.pending[id] = QueuedRequest{ID: id, NumWords: numWords, RequestedAt: o.clock.Now(), consumer: consumer}
	return id, nil
}

// SetUnavailable makes subsequent requests fail with err; nil restores service.
func (o *QueuedRandomnessOracle) SetUnavailable(err error) {
	o.mu.Lock()
	o.unavailable = err
	o.mu.Unlock()
}

// Pending lists undelivered requests, oldest first.
func (o *QueuedRandomnessOracle) Pending() []QueuedRequest {
	o.mu.Lock()
	defer o.mu.Unlock()
	out := make([]QueuedRequest, 0, len(o.pending))
	for _, r := range o.pending {
		out = append(out, r)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].RequestedAt.Before(out[j].RequestedAt) })
	return out
}

// Fulfill hands words for requestID to the consumer that asked for them.
// A rejected delivery stays queued so the adapter can retry, unless the
// consumer no longer waits for that request.
func (o *QueuedRandomnessOracle) Fulfill(ctx context.Context, requestID string, words []uint64) error {
	o.mu.Lock()
	req, ok := o.pending[requestID]
	if ok {
		delete(o.pending, requestID)
	}
	o.mu.Unlock()
	if !ok {
		return fmt.Errorf("%w: %s", ErrUnknownRandomnessRequest, requestID)
	}

	err := req.consumer.FulfillRandomWords(ctx, requestID, words)
	if err != nil && !errors.Is(err, ErrRequestNotPending) && !errors.Is(err, ErrUnknownRandomnessRequest) {
		o.mu.Lock()
		o.pending[requestID] = req
		o.mu.Unlock()
	}
	return err
}
