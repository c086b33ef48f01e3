package validator

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"github.com/ethereum/go-ethereum"
	"github.com/ethereum/go-ethereum/log"

	"github.com/ethereum-optimism/optimism/op-service/eth"
	"github.com/ethereum-optimism/optimism/op-service/sources"
)

// ErrPayloadMismatch signals that a derived payload differs from the block
// the trusted replica has at the same height.
var ErrPayloadMismatch = errors.New("derived payload does not match trusted peer")

// L2Source fetches payloads from the trusted L2 replica by block number.
type L2Source interface {
	PayloadByNumber(ctx context.Context, num uint64) (*eth.ExecutionPayloadEnvelope, error)
}

var _ L2Source = (*sources.L2Client)(nil)

// TrustedValidator validates derived payloads by fetching the same block
// from a trusted synced L2 execution client and comparing the results.
type TrustedValidator struct {
	log log.Logger
	src L2Source
}

var _ Validator = (*TrustedValidator)(nil)

func NewTrustedValidator(log log.Logger, src L2Source) *TrustedValidator {
	return &TrustedValidator{log: log, src: src}
}

func (v *TrustedValidator) Validate(ctx context.Context, envelope *eth.ExecutionPayloadEnvelope) Outcome {
	payload := envelope.ExecutionPayload
	num := uint64(payload.BlockNumber)

	trusted, err := v.src.PayloadByNumber(ctx, num)
	if err != nil {
		if errors.Is(err, ethereum.NotFound) {
			return IndeterminateOutcome(fmt.Errorf("trusted peer has no block at height %d yet: %w", num, err))
		}
		return IndeterminateOutcome(fmt.Errorf("failed to fetch block %d from trusted peer: %w", num, err))
	}

	ref := trusted.ExecutionPayload
	var diff []string
	if payload.BlockHash != ref.BlockHash {
		diff = append(diff, fmt.Sprintf("block_hash %s != %s", payload.BlockHash, ref.BlockHash))
	}
	if payload.StateRoot != ref.StateRoot {
		diff = append(diff, fmt.Sprintf("state_root %s != %s", payload.StateRoot, ref.StateRoot))
	}
	if payload.ReceiptsRoot != ref.ReceiptsRoot {
		diff = append(diff, fmt.Sprintf("receipts_root %s != %s", payload.ReceiptsRoot, ref.ReceiptsRoot))
	}
	if len(diff) > 0 {
		return InvalidOutcome(fmt.Errorf("%w: block %d: %s", ErrPayloadMismatch, num, strings.Join(diff, ", ")))
	}

	v.log.Debug("Derived payload matches trusted peer", "block", payload.ID())
	return ValidOutcome()
}
