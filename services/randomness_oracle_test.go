package services

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/jonboulle/clockwork"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type capturedFulfillment struct {
	requestID string
	words     []uint64
}

type captureConsumer struct {
	mu  sync.Mutex
	got chan capturedFulfillment
	err error
}

func newCaptureConsumer() *captureConsumer {
	return &captureConsumer{got: make(chan capturedFulfillment, 8)}
}

func (c *captureConsumer) FulfillRandomWords(_ context.Context, requestID string, words []uint64) error {
	c.got <- capturedFulfillment{requestID: requestID, words: words}
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.err
}

func TestLocalRandomnessOracle_DeliversAfterDelay(t *testing.T) {
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	clock := clockwork.NewFakeClockAt(testEpoch)
	oracle, err := NewLocalRandomnessOracle("test-seed", 5*time.Second, clock, nil)
	require.NoError(t, err)
	defer oracle.Close()

	consumer := newCaptureConsumer()
	id, err := oracle.RequestRandomWords(ctx, 3, consumer)
	require.NoError(t, err)

	select {
	case <-consumer.got:
		t.Fatal("fulfilled before the delay elapsed")
	default:
	}

	require.NoError(t, clock.BlockUntilContext(ctx, 1))
	clock.Advance(5 * time.Second)

	select {
	case f := <-consumer.got:
		assert.Equal(t, id, f.requestID)
		assert.Equal(t, DeriveRandomWords([]byte("test-seed"), id, 3), f.words)
	case <-ctx.Done():
		t.Fatal("no fulfillment")
	}
}

func TestLocalRandomnessOracle_Validation(t *testing.T) {
	_, err := NewLocalRandomnessOracle("", time.Second, nil, nil)
	assert.Error(t, err)

	oracle, err := NewLocalRandomnessOracle("seed", time.Second, clockwork.NewFakeClock(), nil)
	require.NoError(t, err)

	_, err = oracle.RequestRandomWords(context.Background(), 0, newCaptureConsumer())
	assert.ErrorIs(t, err, ErrOracleUnavailable)
	_, err = oracle.RequestRandomWords(context.Background(), 1, nil)
	assert.ErrorIs(t, err, ErrOracleUnavailable)

	oracle.Close()
	_, err = oracle.RequestRandomWords(context.Background(), 1, newCaptureConsumer())
	assert.ErrorIs(t, err, ErrOracleUnavailable)
}

func TestLocalRandomnessOracle_CloseDropsUndelivered(t *testing.T) {
	clock := clockwork.NewFakeClock()
	oracle, err := NewLocalRandomnessOracle("seed", time.Minute, clock, nil)
	require.NoError(t, err)

	consumer := newCaptureConsumer()
	_, err = oracle.RequestRandomWords(context.Background(), 1, consumer)
	require.NoError(t, err)
	oracle.Close()

	clock.Advance(time.Hour)
	select {
	case <-consumer.got:
		t.Fatal("closed oracle delivered")
	case <-time.After(50 * time.Millisecond):
	}
}

func TestQueuedRandomnessOracle(t *testing.T) {
	ctx := context.Background()
	clock := clockwork.NewFakeClockAt(testEpoch)
	oracle := NewQueuedRandomnessOracle(clock)
	consumer := newCaptureConsumer()

	first, err := oracle.RequestRandomWords(ctx, 3, consumer)
	require.NoError(t, err)
	clock.Advance(time.Second)
	second, err := oracle.RequestRandomWords(ctx, 3, consumer)
	require.NoError(t, err)

	pending := oracle.Pending()
	require.Len(t, pending, 2)
	assert.Equal(t, first, pending[0].ID)
	assert.Equal(t, uint32(3), pending[0].NumWords)

	require.NoError(t, oracle.Fulfill(ctx, second, []uint64{1, 2, 3}))
	f := <-consumer.got
	assert.Equal(t, second, f.requestID)
	assert.Len(t, oracle.Pending(), 1)

	assert.ErrorIs(t, oracle.Fulfill(ctx, second, []uint64{1, 2, 3}), ErrUnknownRandomnessRequest)

	oracle.SetUnavailable(errors.New("subscription out of funds"))
	_, err = oracle.RequestRandomWords(ctx, 3, consumer)
	assert.ErrorIs(t, err, ErrOracleUnavailable)
	oracle.SetUnavailable(nil)
	_, err = oracle.RequestRandomWords(ctx, 3, consumer)
	assert.NoError(t, err)
}

func TestQueuedRandomnessOracle_RejectedDeliveryCanBeRetried(t *testing.T) {
	ctx := context.Background()
	f := newChallengeFixture(t)

	id, issued, err := f.engine.RequestNewChallenge(ctx, "test")
	require.NoError(t, err)
	require.True(t, issued)

	assert.ErrorIs(t, f.oracle.Fulfill(ctx, id, []uint64{1, 2}), ErrInsufficientRandomWords)
	require.Len(t, f.oracle.Pending(), 1)
	assert.Equal(t, id, f.oracle.Pending()[0].ID)

	require.NoError(t, f.oracle.Fulfill(ctx, id, []uint64{1, 2, 3}))
	assert.Empty(t, f.oracle.Pending())

	cur, err := f.engine.CurrentChallenge(ctx)
	require.NoError(t, err)
	assert.Equal(t, uint64(2), cur.Generation)
	assert.Equal(t, id, cur.RequestID)

	pending, err := f.engine.PendingRequest(ctx)
	require.NoError(t, err)
	assert.Nil(t, pending)
}

func TestQueuedRandomnessOracle_DropsRequestTheConsumerNoLongerWants(t *testing.T) {
	ctx := context.Background()
	oracle := NewQueuedRandomnessOracle(clockwork.NewFakeClockAt(testEpoch))
	consumer := newCaptureConsumer()
	consumer.err = ErrRequestNotPending

	id, err := oracle.RequestRandomWords(ctx, 3, consumer)
	require.NoError(t, err)
	assert.ErrorIs(t, oracle.Fulfill(ctx, id, []uint64{1, 2, 3}), ErrRequestNotPending)
	<-consumer.got
	assert.Empty(t, oracle.Pending())
}
