// Package validator checks derived L2 payloads for correctness, either by
// comparing them against a trusted synced replica or by submitting them to
// the engine API of an execution client.
package validator

import (
	"context"

	"github.com/ethereum-optimism/optimism/op-service/eth"
)

// Verdict classifies a validation attempt.
type Verdict int

const (
	// Valid: the payload is correct.
	Valid Verdict = iota
	// Invalid: the payload itself is wrong. Retrying cannot help.
	Invalid
	// Indeterminate: the check could not be completed (peer unreachable,
	// engine still syncing). The caller may retry with backoff.
	Indeterminate
)

func (v Verdict) String() string {
	switch v {
	case Valid:
		return "valid"
	case Invalid:
		return "invalid"
	case Indeterminate:
		return "indeterminate"
	default:
		return "unknown"
	}
}

// Outcome is the result of a single validation attempt. Err carries the
// rejection reason for Invalid outcomes, and the transient cause for
// Indeterminate ones. It is nil iff the verdict is Valid.
type Outcome struct {
	Verdict Verdict
	Err     error
}

func ValidOutcome() Outcome {
	return Outcome{Verdict: Valid}
}

func InvalidOutcome(err error) Outcome {
	return Outcome{Verdict: Invalid, Err: err}
}

func IndeterminateOutcome(err error) Outcome {
	return Outcome{Verdict: Indeterminate, Err: err}
}

// Validator abstracts over the configured validation strategy.
// Implementations must be safe for sequential reuse; calls may block on
// network I/O and respect the given context.
type Validator interface {
	Validate(ctx context.Context, envelope *eth.ExecutionPayloadEnvelope) Outcome
}
