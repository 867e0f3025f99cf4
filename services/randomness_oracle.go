// services/randomness_oracle.go
package services

import (
	"context"
	"fmt"
	"sync"
	"time"

	"fitness-score-engine/utils"

	"github.com/google/uuid"
	"github.com/jonboulle/clockwork"
)

// RandomnessConsumer receives fulfillments. Oracles must call it from their own
// goroutine, never from inside RequestRandomWords.
type RandomnessConsumer interface {
	FulfillRandomWords(ctx context.Context, requestID string, words []uint64) error
}

// RandomnessOracle accepts a request and later delivers words exactly once.
type RandomnessOracle interface {
	RequestRandomWords(ctx context.Context, numWords uint32, consumer RandomnessConsumer) (string, error)
}

// LocalRandomnessOracle stands in for a verifiable randomness service. Words are
// keyed-hash derived from a secret seed and the request id, so a holder of the
// seed can audit any fulfillment.
type LocalRandomnessOracle struct {
	seed  []byte
	delay time.Duration
	clock clockwork.Clock
	log   *utils.Logger

	mu     sync.Mutex
	closed bool
	done   chan struct{}
	wg     sync.WaitGroup
}

func NewLocalRandomnessOracle(seed string, delay time.Duration, clock clockwork.Clock, log *utils.Logger) (*LocalRandomnessOracle, error) {
	if seed == "" {
		return nil, fmt.Errorf("oracle seed is required")
	}
	if clock == nil {
		clock = clockwork.NewRealClock()
	}
	return &LocalRandomnessOracle{
		seed:  []byte(seed),
		delay: delay,
		clock: clock,
		log:   utils.OrNop(log),
		done:  make(chan struct{}),
	}, nil
}

func (o *LocalRandomnessOracle) RequestRandomWords(ctx context.Context, numWords uint32, consumer RandomnessConsumer) (string, error) {
	if consumer == nil {
		return "", fmt.Errorf("%w: no consumer", ErrOracleUnavailable)
	}
	if numWords == 0 {
		return "", fmt.Errorf("%w: zero words requested", ErrOracleUnavailable)
	}

	o.mu.Lock()
	defer o.mu.Unlock()
	if o.closed {
		return "", fmt.Errorf("%w: oracle closed", ErrOracleUnavailable)
	}

	requestID := uuid.NewString()
	words := DeriveRandomWords(o.seed, requestID, int(numWords))

	o.wg.Add(1)
	go func() {
		defer o.wg.Done()
		select {
		case <-o.clock.After(o.delay):
		case <-o.done:
			return
		}
		if err := consumer.FulfillRandomWords(context.Background(), requestID, words); err != nil {
			o.log.Warn("[Oracle] fulfillment rejected", "request_id", requestID, "error", err)
		}
	}()

	o.log.Debug("[Oracle] request accepted", "request_id", requestID, "words", numWords)
	return requestID, nil
}

// Close drops undelivered fulfillments and waits for in-flight callbacks.
func (o *LocalRandomnessOracle) Close() {
	o.mu.Lock()
	if !o.closed {
		o.closed = true
		close(o.done)
	}
	o.mu.Unlock()
	o.wg.Wait()
}
