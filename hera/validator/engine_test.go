package validator

import (
	"context"
	"errors"
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/log"

	"github.com/ethereum-optimism/optimism/op-service/eth"
	"github.com/ethereum-optimism/optimism/op-service/testlog"
)

type stubEngine struct {
	status eth.ExecutePayloadStatus
	err    error

	gotPayload    *eth.ExecutionPayload
	gotBeaconRoot *common.Hash
}

func (s *stubEngine) NewPayload(ctx context.Context, payload *eth.ExecutionPayload, parentBeaconBlockRoot *common.Hash) (*eth.PayloadStatusV1, error) {
	s.gotPayload = payload
	s.gotBeaconRoot = parentBeaconBlockRoot
	if s.err != nil {
		return nil, s.err
	}
	return &eth.PayloadStatusV1{Status: s.status}, nil
}

func TestEngineValidatorStatuses(t *testing.T) {
	tests := []struct {
		status  eth.ExecutePayloadStatus
		verdict Verdict
	}{
		{eth.ExecutionValid, Valid},
		{eth.ExecutionInvalid, Invalid},
		{eth.ExecutionInvalidBlockHash, Invalid},
		{eth.ExecutionSyncing, Indeterminate},
		{eth.ExecutionAccepted, Indeterminate},
	}
	for _, tc := range tests {
		t.Run(string(tc.status), func(t *testing.T) {
			eng := &stubEngine{status: tc.status}
			v := NewEngineValidator(testlog.Logger(t, log.LevelDebug), eng)

			out := v.Validate(context.Background(), testEnvelope(10))
			require.Equal(t, tc.verdict, out.Verdict)
			if tc.verdict == Valid {
				require.NoError(t, out.Err)
			} else {
				require.Error(t, out.Err)
			}
		})
	}
}

func TestEngineValidatorForwardsBeaconRoot(t *testing.T) {
	eng := &stubEngine{status: eth.ExecutionValid}
	v := NewEngineValidator(testlog.Logger(t, log.LevelDebug), eng)

	root := common.HexToHash("0xcccc")
	envelope := testEnvelope(10)
	envelope.ParentBeaconBlockRoot = &root

	out := v.Validate(context.Background(), envelope)
	require.Equal(t, Valid, out.Verdict)
	require.Same(t, envelope.ExecutionPayload, eng.gotPayload)
	require.Equal(t, &root, eng.gotBeaconRoot)
}

// A transport failure says nothing about the payload itself.
func TestEngineValidatorTransportError(t *testing.T) {
	eng := &stubEngine{err: errors.New("connection reset")}
	v := NewEngineValidator(testlog.Logger(t, log.LevelDebug), eng)

	out := v.Validate(context.Background(), testEnvelope(10))
	require.Equal(t, Indeterminate, out.Verdict)
	require.ErrorContains(t, out.Err, "connection reset")
}
