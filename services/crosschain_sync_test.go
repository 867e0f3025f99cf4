package services

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"fitness-score-engine/models"

	"github.com/jonboulle/clockwork"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

const (
	chainA uint64 = 5009297550715157269
	chainB uint64 = 4949039107694359620
	chainC uint64 = 15971525489660198786 >> 1
)

var flatFees = FeeSchedule{BaseFee: 1000}

type chainNode struct {
	selector  uint64
	ledger    *LedgerService
	events    *EventLog
	transport *LoopbackTransport
	sync      *CrossChainSync
}

func newChainNode(t *testing.T, selector uint64, budget uint64, peers ...ChainConfigInput) *chainNode {
	t.Helper()
	db := newTestDB(t)
	clock := clockwork.NewFakeClockAt(testEpoch)
	n := &chainNode{
		selector:  selector,
		ledger:    NewLedgerService(db, clock, nil),
		events:    NewEventLog(db, nil),
		transport: NewLoopbackTransport(selector, flatFees),
	}
	s, err := NewCrossChainSync(context.Background(), db, CrossChainSyncConfig{
		Transport:        n.transport,
		Ledger:           n.ledger,
		Events:           n.events,
		Auth:             NewAuthorizer(testOperator),
		Clock:            clock,
		LocalChain:       selector,
		Chains:           peers,
		InitialFeeBudget: budget,
	})
	require.NoError(t, err)
	n.sync = s
	return n
}

func peer(selector uint64, enabled bool) ChainConfigInput {
	return ChainConfigInput{Selector: selector, Enabled: enabled, ComputeBudget: 200_000}
}

func TestChainContribution(t *testing.T) {
	assert.Equal(t, int64(385), ChainContribution(100, 85, 10, 5))
	assert.Zero(t, ChainContribution(100, 85, 10, 0))

	snaps := []models.CrossChainScoreSnapshot{
		{ChainSelector: chainA, TotalReps: 100, AverageFormAccuracy: 85, BestStreak: 10, SessionsCompleted: 5},
		{ChainSelector: chainB, TotalReps: 40, AverageFormAccuracy: 50, BestStreak: 2, SessionsCompleted: 1},
		{ChainSelector: chainC, TotalReps: 999, SessionsCompleted: 0},
	}
	// 385 + (80 + 20 + 10 + 10)
	assert.Equal(t, int64(505), CompositeScore(snaps))
	assert.Equal(t, CompositeScore(snaps), CompositeScore(snaps))
}

func TestCrossChainSync_RoundTripIsIdempotent(t *testing.T) {
	ctx := context.Background()
	a := newChainNode(t, chainA, 10_000, peer(chainB, true))
	b := newChainNode(t, chainB, 0, peer(chainA, true))

	snap := ScoreSnapshot{TotalReps: 100, AverageFormAccuracy: 85, BestStreak: 10, SessionsCompleted: 5}
	results, err := a.sync.SendScoreUpdate(ctx, "user-1", snap, []uint64{chainB, chainB})
	require.NoError(t, err)
	require.Len(t, results, 1, "duplicate destinations are collapsed")
	assert.Equal(t, chainB, results[0].Destination)
	assert.Equal(t, uint64(1000), results[0].Fee)

	balance, err := a.sync.FeeBalance(ctx)
	require.NoError(t, err)
	assert.Equal(t, uint64(9_000), balance)

	delivered, err := a.transport.Deliver(ctx, b.sync)
	require.NoError(t, err)
	assert.Equal(t, 1, delivered)

	score, err := b.sync.GetCompositeScore(ctx, "user-1")
	require.NoError(t, err)
	assert.Equal(t, int64(385), score)

	// at-least-once: replays must not change anything
	for i := 0; i < 3; i++ {
		_, err := a.transport.Redeliver(ctx, b.sync)
		require.NoError(t, err)
	}
	score, err = b.sync.GetCompositeScore(ctx, "user-1")
	require.NoError(t, err)
	assert.Equal(t, int64(385), score)
	assert.Equal(t, int64(1), countEvents(t, b.events, models.EventScoreReceived, "user-1"))
	assert.Equal(t, int64(1), countEvents(t, a.events, models.EventScoreSent, "user-1"))

	snaps, err := b.sync.Snapshots(ctx, "user-1")
	require.NoError(t, err)
	require.Len(t, snaps, 1)
	assert.Equal(t, chainA, snaps[0].ChainSelector)
	assert.Equal(t, results[0].MessageID, snaps[0].MessageID)

	users, err := b.sync.SnapshotUsers(ctx)
	require.NoError(t, err)
	assert.Equal(t, []string{"user-1"}, users)

	sent, err := a.sync.Messages(ctx, "user-1", 0)
	require.NoError(t, err)
	require.Len(t, sent, 1)
	assert.Equal(t, models.DirectionSent, sent[0].Direction)
	received, err := b.sync.Messages(ctx, "user-1", 0)
	require.NoError(t, err)
	require.Len(t, received, 1)
	assert.Equal(t, models.DirectionReceived, received[0].Direction)
}

func TestCrossChainSync_NewerMessageOverwritesSnapshot(t *testing.T) {
	ctx := context.Background()
	a := newChainNode(t, chainA, 10_000, peer(chainB, true))
	b := newChainNode(t, chainB, 0, peer(chainA, true))

	_, err := a.sync.SendScoreUpdate(ctx, "user-1", ScoreSnapshot{TotalReps: 10, SessionsCompleted: 1}, []uint64{chainB})
	require.NoError(t, err)
	_, err = a.sync.SendScoreUpdate(ctx, "user-1", ScoreSnapshot{TotalReps: 100, AverageFormAccuracy: 85, BestStreak: 10, SessionsCompleted: 5}, []uint64{chainB})
	require.NoError(t, err)
	_, err = a.transport.Deliver(ctx, b.sync)
	require.NoError(t, err)

	score, err := b.sync.GetCompositeScore(ctx, "user-1")
	require.NoError(t, err)
	assert.Equal(t, int64(385), score)
}

func TestCrossChainSync_RejectsUnknownAndDisabledDestinations(t *testing.T) {
	ctx := context.Background()
	a := newChainNode(t, chainA, 10_000, peer(chainB, true), peer(chainC, false))
	snap := ScoreSnapshot{TotalReps: 1, SessionsCompleted: 1}

	_, err := a.sync.SendScoreUpdate(ctx, "user-1", snap, nil)
	assert.ErrorIs(t, err, ErrNoDestinations)

	_, err = a.sync.SendScoreUpdate(ctx, "user-1", snap, []uint64{chainB, 42})
	assert.ErrorIs(t, err, ErrChainNotFound)

	_, err = a.sync.SendScoreUpdate(ctx, "user-1", snap, []uint64{chainB, chainC})
	assert.ErrorIs(t, err, ErrChainDisabled)

	assert.Empty(t, a.transport.Outbox(), "a rejected call sends nothing")
	balance, err := a.sync.FeeBalance(ctx)
	require.NoError(t, err)
	assert.Equal(t, uint64(10_000), balance)
}

func TestCrossChainSync_InsufficientFeeBudget(t *testing.T) {
	ctx := context.Background()
	a := newChainNode(t, chainA, 1_500, peer(chainB, true), peer(chainC, true))

	_, err := a.sync.SendScoreUpdate(ctx, "user-1", ScoreSnapshot{SessionsCompleted: 1}, []uint64{chainB, chainC})
	require.Error(t, err)
	assert.ErrorIs(t, err, ErrInsufficientFeeBudget)

	var feeErr *InsufficientFeeBudgetError
	require.True(t, errors.As(err, &feeErr))
	assert.Equal(t, uint64(2_000), feeErr.Required)
	assert.Equal(t, uint64(1_500), feeErr.Available)
	assert.Empty(t, a.transport.Outbox())

	balance, err := a.sync.FundFeeBudget(ctx, testOperator, 500)
	require.NoError(t, err)
	assert.Equal(t, uint64(2_000), balance)

	results, err := a.sync.SendScoreUpdate(ctx, "user-1", ScoreSnapshot{SessionsCompleted: 1}, []uint64{chainB, chainC})
	require.NoError(t, err)
	assert.Len(t, results, 2)
	balance, err = a.sync.FeeBalance(ctx)
	require.NoError(t, err)
	assert.Zero(t, balance)
}

func TestCrossChainSync_TransportFailureStopsDispatch(t *testing.T) {
	ctx := context.Background()
	a := newChainNode(t, chainA, 10_000, peer(chainB, true))
	a.transport.FailSends(errors.New("router offline"))

	_, err := a.sync.SendScoreUpdate(ctx, "user-1", ScoreSnapshot{SessionsCompleted: 1}, []uint64{chainB})
	require.Error(t, err)
	balance, err := a.sync.FeeBalance(ctx)
	require.NoError(t, err)
	assert.Equal(t, uint64(10_000), balance, "nothing is charged when nothing left")
}

func TestCrossChainSync_InboundRejections(t *testing.T) {
	ctx := context.Background()
	b := newChainNode(t, chainB, 0, peer(chainA, true), peer(chainC, false))
	payload, err := EncodeScoreUpdate(ScoreUpdatePayload{ExternalUserID: "user-1", TotalReps: 5, SessionsCompleted: 1})
	require.NoError(t, err)

	err = b.sync.HandleInbound(ctx, InboundMessage{SourceChain: 42, MessageID: "0x01", Payload: payload})
	assert.ErrorIs(t, err, ErrChainNotWhitelisted)

	err = b.sync.HandleInbound(ctx, InboundMessage{SourceChain: chainC, MessageID: "0x02", Payload: payload})
	assert.ErrorIs(t, err, ErrChainNotWhitelisted)

	err = b.sync.HandleInbound(ctx, InboundMessage{SourceChain: chainA, Payload: payload})
	assert.ErrorIs(t, err, ErrMalformedPayload)

	err = b.sync.HandleInbound(ctx, InboundMessage{SourceChain: chainA, MessageID: "0x03", Payload: []byte{0xff, 0x00}})
	assert.ErrorIs(t, err, ErrMalformedPayload)

	// a malformed delivery is not marked processed, so a corrected retry lands
	err = b.sync.HandleInbound(ctx, InboundMessage{SourceChain: chainA, MessageID: "0x03", Payload: payload})
	require.NoError(t, err)

	err = b.sync.HandleInbound(ctx, InboundMessage{SourceChain: 15971525489660198786, MessageID: "0x04", Payload: payload})
	assert.ErrorIs(t, err, ErrChainNotWhitelisted)

	snaps, err := b.sync.Snapshots(ctx, "user-1")
	require.NoError(t, err)
	assert.Len(t, snaps, 1)

	// the rejected delivery from the disabled chain left no dedup record
	require.NoError(t, b.sync.SetChainEnabled(ctx, testOperator, chainC, true))
	require.NoError(t, b.sync.HandleInbound(ctx, InboundMessage{SourceChain: chainC, MessageID: "0x02", Payload: payload}))

	snaps, err = b.sync.Snapshots(ctx, "user-1")
	require.NoError(t, err)
	require.Len(t, snaps, 2)
	var fromC *models.CrossChainScoreSnapshot
	for i := range snaps {
		if snaps[i].ChainSelector == chainC {
			fromC = &snaps[i]
		}
	}
	require.NotNil(t, fromC)
	assert.Equal(t, "0x02", fromC.MessageID)
	assert.Equal(t, int64(5), fromC.TotalReps)
}

func TestCrossChainSync_ChainAdmin(t *testing.T) {
	ctx := context.Background()
	a := newChainNode(t, chainA, 0)

	_, err := a.sync.UpsertChain(ctx, testOperator, ChainConfigInput{Selector: chainB, Enabled: true})
	assert.ErrorIs(t, err, ErrZeroComputeBudget)

	_, err = a.sync.UpsertChain(ctx, "mallory", peer(chainB, true))
	assert.ErrorIs(t, err, ErrUnauthorized)

	_, err = a.sync.UpsertChain(ctx, testOperator, ChainConfigInput{Selector: 15971525489660198786, Enabled: true, ComputeBudget: 100})
	assert.ErrorIs(t, err, ErrInvalidSelector)

	c, err := a.sync.UpsertChain(ctx, testOperator, ChainConfigInput{Selector: chainB, DisplayName: "Base", Enabled: true, ComputeBudget: 100})
	require.NoError(t, err)
	assert.Equal(t, "Base", c.DisplayName)

	c, err = a.sync.UpsertChain(ctx, testOperator, ChainConfigInput{Selector: chainB, DisplayName: "Base Mainnet", Enabled: false, ComputeBudget: 300})
	require.NoError(t, err)
	assert.False(t, c.Enabled)
	assert.Equal(t, uint64(300), c.ComputeBudget)

	require.NoError(t, a.sync.SetChainEnabled(ctx, testOperator, chainB, true))
	assert.ErrorIs(t, a.sync.SetChainEnabled(ctx, testOperator, 7, true), ErrChainNotFound)

	chains, err := a.sync.Chains(ctx)
	require.NoError(t, err)
	require.Len(t, chains, 1)
	assert.True(t, chains[0].Enabled)

	_, err = a.sync.FundFeeBudget(ctx, "mallory", 10)
	assert.ErrorIs(t, err, ErrUnauthorized)
}

func TestNewCrossChainSync_RejectsZeroComputeBudget(t *testing.T) {
	db := newTestDB(t)
	_, err := NewCrossChainSync(context.Background(), db, CrossChainSyncConfig{
		Transport: NewLoopbackTransport(chainA, flatFees),
		Ledger:    NewLedgerService(db, nil, nil),
		Chains:    []ChainConfigInput{{Selector: chainB, Enabled: true}},
	})
	assert.ErrorIs(t, err, ErrZeroComputeBudget)
}

func TestCrossChainSync_OnWorkoutSubmittedOncePerSession(t *testing.T) {
	ctx := context.Background()
	a := newChainNode(t, chainA, 10_000, peer(chainB, true), peer(chainC, false))

	sess := &models.WorkoutSession{ID: "sess-1", ExternalUserID: "user-1", Reps: 30, FormAccuracy: 90, Streak: 2, DurationSec: 600}
	_, err := a.ledger.RecordWorkout(ctx, sess)
	require.NoError(t, err)

	require.NoError(t, a.sync.OnWorkoutSubmitted(ctx, "user-1", "sess-1"))
	require.NoError(t, a.sync.OnWorkoutSubmitted(ctx, "user-1", "sess-1"))

	out := a.transport.Outbox()
	require.Len(t, out, 1, "only enabled chains, once per session")
	assert.Equal(t, chainB, out[0].DestChain)

	payload, err := DecodeScoreUpdate(out[0].Payload)
	require.NoError(t, err)
	assert.Equal(t, "user-1", payload.ExternalUserID)
	assert.Equal(t, int64(30), payload.TotalReps)
	assert.Equal(t, int64(1), payload.SessionsCompleted)
	assert.Equal(t, testEpoch.Unix(), payload.Timestamp)
}

func TestCrossChainSync_OnWorkoutSubmittedWithoutChains(t *testing.T) {
	a := newChainNode(t, chainA, 10_000)
	require.NoError(t, a.sync.OnWorkoutSubmitted(context.Background(), "user-1", "sess-1"))
	assert.Empty(t, a.transport.Outbox())
}

// gatedTransport holds the first Send until release is closed.
type gatedTransport struct {
	*LoopbackTransport
	entered chan struct{}
	release chan struct{}
	once    sync.Once
}

func (g *gatedTransport) Send(ctx context.Context, destination uint64, payload []byte, computeBudget uint64) (string, error) {
	first := false
	g.once.Do(func() { first = true })
	if first {
		close(g.entered)
		<-g.release
	}
	return g.LoopbackTransport.Send(ctx, destination, payload, computeBudget)
}

func TestCrossChainSync_ConcurrentNotificationsSendOncePerSession(t *testing.T) {
	ctx := context.Background()
	db := newTestDB(t)
	clock := clockwork.NewFakeClockAt(testEpoch)
	ledger := NewLedgerService(db, clock, nil)
	transport := &gatedTransport{
		LoopbackTransport: NewLoopbackTransport(chainA, flatFees),
		entered:           make(chan struct{}),
		release:           make(chan struct{}),
	}
	s, err := NewCrossChainSync(ctx, db, CrossChainSyncConfig{
		Transport:        transport,
		Ledger:           ledger,
		Auth:             NewAuthorizer(testOperator),
		Clock:            clock,
		LocalChain:       chainA,
		Chains:           []ChainConfigInput{peer(chainB, true)},
		InitialFeeBudget: 10_000,
	})
	require.NoError(t, err)

	sess := &models.WorkoutSession{ID: "sess-1", ExternalUserID: "user-1", Reps: 30, FormAccuracy: 90}
	_, err = ledger.RecordWorkout(ctx, sess)
	require.NoError(t, err)

	errs := make(chan error, 2)
	go func() { errs <- s.OnWorkoutSubmitted(ctx, "user-1", "sess-1") }()
	<-transport.entered
	go func() { errs <- s.OnWorkoutSubmitted(ctx, "user-1", "sess-1") }()
	time.Sleep(50 * time.Millisecond)
	close(transport.release)

	require.NoError(t, <-errs)
	require.NoError(t, <-errs)

	assert.Len(t, transport.Outbox(), 1)
	balance, err := s.FeeBalance(ctx)
	require.NoError(t, err)
	assert.Equal(t, uint64(9_000), balance)
}
