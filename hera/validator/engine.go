package validator

import (
	"context"
	"fmt"

	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/log"

	"github.com/ethereum-optimism/optimism/op-service/eth"
	"github.com/ethereum-optimism/optimism/op-service/sources"
)

// Engine is the subset of the engine API needed for payload validation.
type Engine interface {
	NewPayload(ctx context.Context, payload *eth.ExecutionPayload, parentBeaconBlockRoot *common.Hash) (*eth.PayloadStatusV1, error)
}

var _ Engine = (*sources.EngineClient)(nil)

// EngineValidator validates derived payloads by submitting them to the
// engine API of an L2 execution client with engine_newPayload and inspecting
// the returned status.
type EngineValidator struct {
	log log.Logger
	eng Engine
}

var _ Validator = (*EngineValidator)(nil)

func NewEngineValidator(log log.Logger, eng Engine) *EngineValidator {
	return &EngineValidator{log: log, eng: eng}
}

func (v *EngineValidator) Validate(ctx context.Context, envelope *eth.ExecutionPayloadEnvelope) Outcome {
	payload := envelope.ExecutionPayload

	status, err := v.eng.NewPayload(ctx, payload, envelope.ParentBeaconBlockRoot)
	if err != nil {
		return IndeterminateOutcome(fmt.Errorf("failed to submit payload %s to engine: %w", payload.ID(), err))
	}

	switch status.Status {
	case eth.ExecutionValid:
		v.log.Debug("Engine accepted derived payload", "block", payload.ID())
		return ValidOutcome()
	case eth.ExecutionInvalid, eth.ExecutionInvalidBlockHash:
		return InvalidOutcome(eth.NewPayloadErr(payload, status))
	default:
		// SYNCING or ACCEPTED: the engine cannot give a definitive answer yet.
		return IndeterminateOutcome(eth.NewPayloadErr(payload, status))
	}
}
