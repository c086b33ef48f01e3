package driver

import (
	"context"
	"errors"
	"math/big"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/log"

	"github.com/ethereum-optimism/optimism/op-node/rollup"
	"github.com/ethereum-optimism/optimism/op-service/eth"
	"github.com/ethereum-optimism/optimism/op-service/retry"
	"github.com/ethereum-optimism/optimism/op-service/testlog"

	"github.com/merklefruit/op-rs/hera/exex"
	"github.com/merklefruit/op-rs/hera/metrics"
	"github.com/merklefruit/op-rs/hera/validator"
)

// mockHost replays a fixed list of notifications, records acknowledgments,
// and either reports a closed stream or blocks once the list is exhausted.
type mockHost struct {
	notifs []*exex.ChainNotification
	idx    int

	acks   []uint64
	ackErr error

	blockWhenDrained bool
}

var _ exex.Host = (*mockHost)(nil)

func (m *mockHost) Next(ctx context.Context) (*exex.ChainNotification, error) {
	if m.idx >= len(m.notifs) {
		if m.blockWhenDrained {
			<-ctx.Done()
			return nil, ctx.Err()
		}
		return nil, exex.ErrClosed
	}
	n := m.notifs[m.idx]
	m.idx++
	return n, nil
}

func (m *mockHost) FinishedHeight(ctx context.Context, height uint64) error {
	if m.ackErr != nil {
		return m.ackErr
	}
	m.acks = append(m.acks, height)
	return nil
}

type validateFunc func(ctx context.Context, envelope *eth.ExecutionPayloadEnvelope) validator.Outcome

func (f validateFunc) Validate(ctx context.Context, envelope *eth.ExecutionPayloadEnvelope) validator.Outcome {
	return f(ctx, envelope)
}

type deriveFunc func(ctx context.Context, segment *exex.ChainSegment) ([]*eth.ExecutionPayloadEnvelope, error)

func (f deriveFunc) Derive(ctx context.Context, segment *exex.ChainSegment) ([]*eth.ExecutionPayloadEnvelope, error) {
	return f(ctx, segment)
}

func testRollupCfg(anchor uint64) *rollup.Config {
	return &rollup.Config{
		Genesis: rollup.Genesis{
			L1: eth.BlockID{Hash: common.HexToHash("0xbeef"), Number: anchor},
		},
		L2ChainID: big.NewInt(10),
	}
}

func committed(nums ...uint64) *exex.ChainNotification {
	blocks := make([]eth.L1BlockRef, 0, len(nums))
	for _, n := range nums {
		blocks = append(blocks, eth.L1BlockRef{Number: n, Hash: common.BigToHash(big.NewInt(int64(n)))})
	}
	return &exex.ChainNotification{Committed: &exex.ChainSegment{Blocks: blocks}}
}

func env(num uint64) *eth.ExecutionPayloadEnvelope {
	return &eth.ExecutionPayloadEnvelope{
		ExecutionPayload: &eth.ExecutionPayload{
			BlockNumber: eth.Uint64Quantity(num),
			BlockHash:   common.BigToHash(big.NewInt(int64(num))),
		},
	}
}

func alwaysValid() validator.Validator {
	return validateFunc(func(ctx context.Context, envelope *eth.ExecutionPayloadEnvelope) validator.Outcome {
		return validator.ValidOutcome()
	})
}

func newTestDriver(t *testing.T, cfg Config, anchor uint64, host exex.Host,
	val validator.Validator, payloads PayloadSource) *Driver {
	if cfg.RetryStrategy == nil {
		cfg.RetryStrategy = retry.Fixed(time.Millisecond)
	}
	return NewDriver(testlog.Logger(t, log.LevelDebug), metrics.NoopMetrics, cfg,
		testRollupCfg(anchor), host, val, payloads)
}

func requireExit(t *testing.T, err error, reason ExitReason) *ExitError {
	t.Helper()
	var exitErr *ExitError
	require.ErrorAs(t, err, &exitErr)
	require.Equal(t, reason, exitErr.Reason)
	return exitErr
}

func TestDriverAcksEverySegmentWhileWaiting(t *testing.T) {
	host := &mockHost{notifs: []*exex.ChainNotification{
		committed(48, 49, 50), committed(90), committed(150),
	}}
	d := newTestDriver(t, Config{}, 100, host, alwaysValid(), nil)

	err := d.Run(context.Background())
	requireExit(t, err, ReasonHostDisconnected)

	// Pre-genesis segments are acknowledged too, so the host can prune.
	require.Equal(t, []uint64{50, 90, 150}, host.acks)
	require.Equal(t, StateTerminated, d.State())
	require.Equal(t, uint64(150), d.HighestCommitted())
}

func TestDriverSkipsNotificationsWithoutCommit(t *testing.T) {
	host := &mockHost{notifs: []*exex.ChainNotification{
		committed(50),
		{}, // no committed chain, nothing to process or acknowledge
		{Committed: &exex.ChainSegment{}}, // committed but empty, same treatment
		committed(150),
	}}
	d := newTestDriver(t, Config{}, 100, host, alwaysValid(), nil)

	err := d.Run(context.Background())
	requireExit(t, err, ReasonHostDisconnected)
	require.Equal(t, []uint64{50, 150}, host.acks)
}

func TestDriverValidatesDerivedPayloads(t *testing.T) {
	host := &mockHost{notifs: []*exex.ChainNotification{
		committed(150), committed(160),
	}}
	var derived []*exex.ChainSegment
	payloads := deriveFunc(func(ctx context.Context, segment *exex.ChainSegment) ([]*eth.ExecutionPayloadEnvelope, error) {
		derived = append(derived, segment)
		return []*eth.ExecutionPayloadEnvelope{env(7), env(8)}, nil
	})
	var validated []uint64
	val := validateFunc(func(ctx context.Context, envelope *eth.ExecutionPayloadEnvelope) validator.Outcome {
		validated = append(validated, uint64(envelope.ExecutionPayload.BlockNumber))
		return validator.ValidOutcome()
	})
	d := newTestDriver(t, Config{}, 100, host, val, payloads)

	err := d.Run(context.Background())
	requireExit(t, err, ReasonHostDisconnected)

	// The genesis-reaching segment itself is consumed by the wait phase;
	// derivation starts with the next one.
	require.Len(t, derived, 1)
	require.Equal(t, uint64(160), derived[0].Tip().Number)
	require.Equal(t, []uint64{7, 8}, validated)
	require.Equal(t, []uint64{150, 160}, host.acks)
	require.Equal(t, uint64(8), d.LastValidated())
}

func TestDriverStopsOnInvalidPayload(t *testing.T) {
	host := &mockHost{notifs: []*exex.ChainNotification{
		committed(150), committed(160), committed(170),
	}}
	payloads := deriveFunc(func(ctx context.Context, segment *exex.ChainSegment) ([]*eth.ExecutionPayloadEnvelope, error) {
		return []*eth.ExecutionPayloadEnvelope{env(7)}, nil
	})
	rejection := errors.New("state root mismatch")
	val := validateFunc(func(ctx context.Context, envelope *eth.ExecutionPayloadEnvelope) validator.Outcome {
		return validator.InvalidOutcome(rejection)
	})
	d := newTestDriver(t, Config{}, 100, host, val, payloads)

	err := d.Run(context.Background())
	exitErr := requireExit(t, err, ReasonValidationFailure)
	require.Equal(t, uint64(7), exitErr.Height)
	require.ErrorIs(t, err, rejection)

	// The failing segment is never acknowledged.
	require.Equal(t, []uint64{150}, host.acks)
	require.Equal(t, StateTerminated, d.State())
}

func TestDriverRetriesIndeterminate(t *testing.T) {
	host := &mockHost{notifs: []*exex.ChainNotification{
		committed(150), committed(160),
	}}
	payloads := deriveFunc(func(ctx context.Context, segment *exex.ChainSegment) ([]*eth.ExecutionPayloadEnvelope, error) {
		return []*eth.ExecutionPayloadEnvelope{env(7)}, nil
	})
	attempts := 0
	val := validateFunc(func(ctx context.Context, envelope *eth.ExecutionPayloadEnvelope) validator.Outcome {
		attempts++
		if attempts < 3 {
			return validator.IndeterminateOutcome(errors.New("peer still syncing"))
		}
		return validator.ValidOutcome()
	})
	d := newTestDriver(t, Config{MaxValidationRetries: 5}, 100, host, val, payloads)

	err := d.Run(context.Background())
	requireExit(t, err, ReasonHostDisconnected)

	require.Equal(t, 3, attempts)
	require.Equal(t, []uint64{150, 160}, host.acks)
	require.Equal(t, uint64(7), d.LastValidated())
}

func TestDriverGivesUpAfterMaxRetries(t *testing.T) {
	host := &mockHost{notifs: []*exex.ChainNotification{
		committed(150), committed(160),
	}}
	payloads := deriveFunc(func(ctx context.Context, segment *exex.ChainSegment) ([]*eth.ExecutionPayloadEnvelope, error) {
		return []*eth.ExecutionPayloadEnvelope{env(7)}, nil
	})
	attempts := 0
	val := validateFunc(func(ctx context.Context, envelope *eth.ExecutionPayloadEnvelope) validator.Outcome {
		attempts++
		return validator.IndeterminateOutcome(errors.New("peer still syncing"))
	})
	d := newTestDriver(t, Config{MaxValidationRetries: 3}, 100, host, val, payloads)

	err := d.Run(context.Background())
	exitErr := requireExit(t, err, ReasonRetriesExhausted)
	require.Equal(t, uint64(7), exitErr.Height)
	require.Equal(t, 3, attempts)
	require.Equal(t, []uint64{150}, host.acks)
}

func TestDriverStopsOnDerivationFailure(t *testing.T) {
	host := &mockHost{notifs: []*exex.ChainNotification{
		committed(150), committed(160),
	}}
	boom := errors.New("batch decoding failed")
	payloads := deriveFunc(func(ctx context.Context, segment *exex.ChainSegment) ([]*eth.ExecutionPayloadEnvelope, error) {
		return nil, boom
	})
	d := newTestDriver(t, Config{}, 100, host, alwaysValid(), payloads)

	err := d.Run(context.Background())
	exitErr := requireExit(t, err, ReasonDerivationFailure)
	require.Equal(t, uint64(160), exitErr.Height)
	require.ErrorIs(t, err, boom)
	require.Equal(t, []uint64{150}, host.acks)
}

func TestDriverStopsOnAckFailure(t *testing.T) {
	host := &mockHost{
		notifs: []*exex.ChainNotification{committed(50)},
		ackErr: errors.New("event channel full"),
	}
	d := newTestDriver(t, Config{}, 100, host, alwaysValid(), nil)

	err := d.Run(context.Background())
	exitErr := requireExit(t, err, ReasonAckFailure)
	require.Equal(t, uint64(50), exitErr.Height)
	require.Equal(t, StateTerminated, d.State())
}

func TestDriverWithoutPayloadSourceKeepsAcking(t *testing.T) {
	host := &mockHost{notifs: []*exex.ChainNotification{
		committed(150), committed(160), committed(170),
	}}
	d := newTestDriver(t, Config{}, 100, host, alwaysValid(), nil)

	err := d.Run(context.Background())
	requireExit(t, err, ReasonHostDisconnected)
	require.Equal(t, []uint64{150, 160, 170}, host.acks)
	require.Zero(t, d.LastValidated())
}

func TestDriverContextCancellation(t *testing.T) {
	host := &mockHost{
		notifs:           []*exex.ChainNotification{committed(50)},
		blockWhenDrained: true,
	}
	d := newTestDriver(t, Config{}, 100, host, alwaysValid(), nil)

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() { done <- d.Run(ctx) }()

	require.Eventually(t, func() bool {
		return d.HighestCommitted() == 50
	}, time.Second, 5*time.Millisecond)
	cancel()

	select {
	case err := <-done:
		require.ErrorIs(t, err, context.Canceled)
		var exitErr *ExitError
		require.False(t, errors.As(err, &exitErr))
	case <-time.After(time.Second):
		t.Fatal("driver did not stop on cancellation")
	}
	require.Equal(t, []uint64{50}, host.acks)
	require.Equal(t, StateTerminated, d.State())
}

func TestDriverStateProgression(t *testing.T) {
	host := &mockHost{notifs: []*exex.ChainNotification{committed(150)}}
	d := newTestDriver(t, Config{}, 100, host, alwaysValid(), nil)
	require.Equal(t, StateInitializing, d.State())

	err := d.Run(context.Background())
	requireExit(t, err, ReasonHostDisconnected)
	require.Equal(t, StateTerminated, d.State())

	status := d.SyncStatus()
	require.Equal(t, "terminated", status.State)
	require.Equal(t, uint64(100), status.GenesisL1.Number)
	require.Equal(t, uint64(150), status.HighestCommittedL1)
}
