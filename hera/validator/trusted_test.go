package validator

import (
	"context"
	"errors"
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/ethereum/go-ethereum"
	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/log"

	"github.com/ethereum-optimism/optimism/op-service/eth"
	"github.com/ethereum-optimism/optimism/op-service/testlog"
)

type stubL2Source struct {
	payload *eth.ExecutionPayloadEnvelope
	err     error

	requested uint64
}

func (s *stubL2Source) PayloadByNumber(ctx context.Context, num uint64) (*eth.ExecutionPayloadEnvelope, error) {
	s.requested = num
	if s.err != nil {
		return nil, s.err
	}
	return s.payload, nil
}

func testEnvelope(num uint64) *eth.ExecutionPayloadEnvelope {
	return &eth.ExecutionPayloadEnvelope{
		ExecutionPayload: &eth.ExecutionPayload{
			BlockNumber:  eth.Uint64Quantity(num),
			BlockHash:    common.HexToHash("0x0badf00d"),
			StateRoot:    eth.Bytes32(common.HexToHash("0xaaaa")),
			ReceiptsRoot: eth.Bytes32(common.HexToHash("0xbbbb")),
		},
	}
}

func TestTrustedValidatorMatch(t *testing.T) {
	src := &stubL2Source{payload: testEnvelope(10)}
	v := NewTrustedValidator(testlog.Logger(t, log.LevelDebug), src)

	out := v.Validate(context.Background(), testEnvelope(10))
	require.Equal(t, Valid, out.Verdict)
	require.NoError(t, out.Err)
	require.Equal(t, uint64(10), src.requested)
}

func TestTrustedValidatorMismatch(t *testing.T) {
	trusted := testEnvelope(10)
	trusted.ExecutionPayload.StateRoot = eth.Bytes32(common.HexToHash("0x1111"))
	src := &stubL2Source{payload: trusted}
	v := NewTrustedValidator(testlog.Logger(t, log.LevelDebug), src)

	out := v.Validate(context.Background(), testEnvelope(10))
	require.Equal(t, Invalid, out.Verdict)
	require.ErrorIs(t, out.Err, ErrPayloadMismatch)
	require.ErrorContains(t, out.Err, "state_root")
	require.NotContains(t, out.Err.Error(), "block_hash")
}

func TestTrustedValidatorMismatchAllFields(t *testing.T) {
	trusted := testEnvelope(10)
	trusted.ExecutionPayload.BlockHash = common.HexToHash("0x2222")
	trusted.ExecutionPayload.StateRoot = eth.Bytes32(common.HexToHash("0x3333"))
	trusted.ExecutionPayload.ReceiptsRoot = eth.Bytes32(common.HexToHash("0x4444"))
	src := &stubL2Source{payload: trusted}
	v := NewTrustedValidator(testlog.Logger(t, log.LevelDebug), src)

	out := v.Validate(context.Background(), testEnvelope(10))
	require.Equal(t, Invalid, out.Verdict)
	require.ErrorContains(t, out.Err, "block_hash")
	require.ErrorContains(t, out.Err, "state_root")
	require.ErrorContains(t, out.Err, "receipts_root")
}

// A trusted peer that lags behind simply does not have the block yet.
// That is not a rejection, so the outcome must stay retryable.
func TestTrustedValidatorPeerLagging(t *testing.T) {
	src := &stubL2Source{err: ethereum.NotFound}
	v := NewTrustedValidator(testlog.Logger(t, log.LevelDebug), src)

	out := v.Validate(context.Background(), testEnvelope(10))
	require.Equal(t, Indeterminate, out.Verdict)
	require.ErrorIs(t, out.Err, ethereum.NotFound)
}

func TestTrustedValidatorPeerUnreachable(t *testing.T) {
	src := &stubL2Source{err: errors.New("connection refused")}
	v := NewTrustedValidator(testlog.Logger(t, log.LevelDebug), src)

	out := v.Validate(context.Background(), testEnvelope(10))
	require.Equal(t, Indeterminate, out.Verdict)
	require.ErrorContains(t, out.Err, "connection refused")
}
