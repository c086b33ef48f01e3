// Package driver orchestrates the hera pipeline: it consumes chain-commit
// notifications from the host node, waits for the rollup genesis L1 block,
// and then feeds derived payloads through the configured validator.
package driver

import (
	"context"
	"errors"
	"fmt"
	"sync"

	"github.com/ethereum/go-ethereum/log"

	"github.com/ethereum-optimism/optimism/op-node/rollup"
	"github.com/ethereum-optimism/optimism/op-service/eth"
	"github.com/ethereum-optimism/optimism/op-service/retry"

	"github.com/merklefruit/op-rs/hera/exex"
	"github.com/merklefruit/op-rs/hera/metrics"
	"github.com/merklefruit/op-rs/hera/syncer"
	"github.com/merklefruit/op-rs/hera/validator"
)

// DefaultMaxValidationRetries bounds consecutive indeterminate validation
// outcomes before the pipeline gives up on a payload.
const DefaultMaxValidationRetries = 5

// State is the driver lifecycle state.
type State int

const (
	StateInitializing State = iota
	StateWaitingForGenesis
	StateValidating
	StateTerminated
)

func (s State) String() string {
	switch s {
	case StateInitializing:
		return "initializing"
	case StateWaitingForGenesis:
		return "waiting-for-genesis"
	case StateValidating:
		return "validating"
	case StateTerminated:
		return "terminated"
	default:
		return "unknown"
	}
}

// ExitReason classifies why the pipeline terminated. Terminated is absorbing:
// the driver stops consuming notifications and reports the reason upward.
type ExitReason int

const (
	// ReasonHostDisconnected: the host closed the notification channel.
	ReasonHostDisconnected ExitReason = iota
	// ReasonAckFailure: a finished-height acknowledgment could not be
	// delivered. The host can no longer be told what is safe to prune,
	// so continuing would silently violate the pruning contract.
	ReasonAckFailure
	// ReasonValidationFailure: a derived payload was definitively rejected.
	// Not retried; requires operator intervention.
	ReasonValidationFailure
	// ReasonRetriesExhausted: validation stayed indeterminate for the
	// maximum number of attempts.
	ReasonRetriesExhausted
	// ReasonDerivationFailure: the derivation engine returned an error.
	ReasonDerivationFailure
)

func (r ExitReason) String() string {
	switch r {
	case ReasonHostDisconnected:
		return "host-disconnected"
	case ReasonAckFailure:
		return "ack-failure"
	case ReasonValidationFailure:
		return "validation-failure"
	case ReasonRetriesExhausted:
		return "exhausted-retries"
	case ReasonDerivationFailure:
		return "derivation-failure"
	default:
		return "unknown"
	}
}

// ExitError is the terminal error of the pipeline, carrying the reason class
// and the height being processed when the pipeline stopped.
type ExitError struct {
	Reason ExitReason
	Height uint64
	Err    error
}

func (e *ExitError) Error() string {
	return fmt.Sprintf("pipeline terminated (%s) at height %d: %v", e.Reason, e.Height, e.Err)
}

func (e *ExitError) Unwrap() error {
	return e.Err
}

// PayloadSource is the external derivation engine: a black-box transform
// from committed L1 data to candidate L2 payloads.
type PayloadSource interface {
	// Derive returns the L2 payloads that become derivable once the given
	// L1 segment is committed, ordered by block number. An empty result is
	// valid: not every L1 segment yields new L2 blocks.
	Derive(ctx context.Context, segment *exex.ChainSegment) ([]*eth.ExecutionPayloadEnvelope, error)
}

type Config struct {
	// MaxValidationRetries bounds attempts per payload while outcomes are
	// indeterminate. Defaults to DefaultMaxValidationRetries if zero.
	MaxValidationRetries int
	// RetryStrategy paces the validation retries.
	// Defaults to exponential backoff if nil.
	RetryStrategy retry.Strategy
}

// Driver runs the pipeline state machine:
// Initializing -> WaitingForGenesis -> Validating -> Terminated(reason).
//
// Notification consumption and acknowledgment are strictly sequential: a
// segment is acknowledged exactly once, after it is fully processed, before
// the next one is requested. At most one unacknowledged segment is in flight.
type Driver struct {
	log       log.Logger
	metrics   metrics.Metricer
	cfg       Config
	host      exex.Host
	gate      *syncer.Gate
	validator validator.Validator
	payloads  PayloadSource

	mu            sync.Mutex
	state         State
	genesisL1     eth.BlockID
	highestL1     uint64
	lastValidated uint64
}

// NewDriver assembles a pipeline driver. The payload source may be nil, in
// which case the driver keeps consuming and acknowledging notifications
// post-genesis without validating anything.
func NewDriver(log log.Logger, m metrics.Metricer, cfg Config, rollupCfg *rollup.Config,
	host exex.Host, val validator.Validator, payloads PayloadSource) *Driver {
	if cfg.MaxValidationRetries <= 0 {
		cfg.MaxValidationRetries = DefaultMaxValidationRetries
	}
	if cfg.RetryStrategy == nil {
		cfg.RetryStrategy = retry.Exponential()
	}
	return &Driver{
		log:       log,
		metrics:   m,
		cfg:       cfg,
		host:      host,
		gate:      syncer.NewGate(log, rollupCfg, m),
		validator: val,
		payloads:  payloads,
		state:     StateInitializing,
		genesisL1: rollupCfg.Genesis.L1,
	}
}

// AttachPayloadSource connects the external derivation engine.
// Must be called before Run.
func (d *Driver) AttachPayloadSource(src PayloadSource) {
	d.payloads = src
}

// Run drives the pipeline until termination. The returned error is the
// context error on cancellation, or an *ExitError describing the
// termination reason.
func (d *Driver) Run(ctx context.Context) error {
	d.setState(StateWaitingForGenesis)
	if err := d.waitForGenesis(ctx); err != nil {
		return d.terminate(err)
	}

	d.setState(StateValidating)
	if d.payloads == nil {
		d.log.Warn("No derivation engine attached, consuming notifications without validation")
	}
	return d.terminate(d.validationLoop(ctx))
}

// waitForGenesis consumes notifications until the committed L1 chain reaches
// the rollup genesis anchor. Every committed segment is acknowledged even
// while still waiting, so the host does not buffer without bound.
func (d *Driver) waitForGenesis(ctx context.Context) error {
	for {
		segment, err := d.nextSegment(ctx)
		if err != nil {
			return err
		}
		res := d.gate.Process(segment)
		d.recordTip(res.Tip)
		if err := d.acknowledge(ctx, res.Tip.Number); err != nil {
			return err
		}
		if res.Status == syncer.ReachedGenesis {
			return nil
		}
	}
}

// validationLoop is the steady state: per committed segment, derive the new
// payloads, validate them in order, then acknowledge the segment tip.
func (d *Driver) validationLoop(ctx context.Context) error {
	for {
		segment, err := d.nextSegment(ctx)
		if err != nil {
			return err
		}
		tip := segment.Tip()
		d.recordTip(tip)

		if d.payloads != nil {
			envelopes, err := d.payloads.Derive(ctx, segment)
			if err != nil {
				if ctx.Err() != nil {
					return ctx.Err()
				}
				return &ExitError{Reason: ReasonDerivationFailure, Height: tip.Number,
					Err: fmt.Errorf("failed to derive payloads: %w", err)}
			}
			for _, envelope := range envelopes {
				if err := d.validatePayload(ctx, envelope); err != nil {
					return err
				}
			}
		}

		if err := d.acknowledge(ctx, tip.Number); err != nil {
			return err
		}
	}
}

// nextSegment pulls notifications until one carries a non-empty committed
// segment. Notifications without one carry nothing to process or acknowledge.
func (d *Driver) nextSegment(ctx context.Context) (*exex.ChainSegment, error) {
	for {
		notification, err := d.host.Next(ctx)
		if err != nil {
			if errors.Is(err, exex.ErrClosed) {
				return nil, &ExitError{Reason: ReasonHostDisconnected, Height: d.HighestCommitted(), Err: err}
			}
			return nil, err
		}
		if notification.Committed != nil && len(notification.Committed.Blocks) > 0 {
			return notification.Committed, nil
		}
	}
}

func (d *Driver) acknowledge(ctx context.Context, height uint64) error {
	if err := d.host.FinishedHeight(ctx, height); err != nil {
		if ctx.Err() != nil {
			return ctx.Err()
		}
		return &ExitError{Reason: ReasonAckFailure, Height: height,
			Err: fmt.Errorf("failed to send finished-height event: %w", err)}
	}
	d.metrics.RecordAcknowledgedHeight(height)
	return nil
}

// validatePayload checks a single derived payload, retrying indeterminate
// outcomes with backoff. Invalid payloads and exhausted retries are terminal.
func (d *Driver) validatePayload(ctx context.Context, envelope *eth.ExecutionPayloadEnvelope) error {
	payload := envelope.ExecutionPayload
	num := uint64(payload.BlockNumber)

	outcome, err := retry.Do(ctx, d.cfg.MaxValidationRetries, d.cfg.RetryStrategy,
		func() (validator.Outcome, error) {
			out := d.validator.Validate(ctx, envelope)
			d.metrics.RecordValidationOutcome(out.Verdict.String())
			if out.Verdict == validator.Indeterminate {
				cause := out.Err
				if cause == nil {
					cause = errors.New("validation outcome indeterminate")
				}
				d.log.Warn("Payload validation indeterminate, will retry",
					"block", payload.ID(), "err", cause)
				return out, cause
			}
			return out, nil
		})
	if err != nil {
		if ctx.Err() != nil {
			return ctx.Err()
		}
		return &ExitError{Reason: ReasonRetriesExhausted, Height: num,
			Err: fmt.Errorf("validation still indeterminate after %d attempts: %w", d.cfg.MaxValidationRetries, err)}
	}

	switch outcome.Verdict {
	case validator.Valid:
		d.log.Info("Derived payload validated", "block", payload.ID())
		d.setLastValidated(num)
		return nil
	case validator.Invalid:
		return &ExitError{Reason: ReasonValidationFailure, Height: num, Err: outcome.Err}
	default:
		return &ExitError{Reason: ReasonValidationFailure, Height: num,
			Err: fmt.Errorf("unexpected validation verdict %s", outcome.Verdict)}
	}
}

func (d *Driver) terminate(err error) error {
	d.setState(StateTerminated)
	var exitErr *ExitError
	if errors.As(err, &exitErr) {
		d.log.Error("Pipeline terminated", "reason", exitErr.Reason, "height", exitErr.Height, "err", exitErr.Err)
	} else if err != nil {
		d.log.Info("Pipeline stopped", "err", err)
	}
	return err
}

func (d *Driver) setState(s State) {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.state = s
}

func (d *Driver) recordTip(tip eth.L1BlockRef) {
	d.mu.Lock()
	defer d.mu.Unlock()
	if tip.Number > d.highestL1 {
		d.highestL1 = tip.Number
	}
}

func (d *Driver) setLastValidated(num uint64) {
	d.mu.Lock()
	d.lastValidated = num
	d.mu.Unlock()
	d.metrics.RecordLastValidatedHeight(num)
}

// State returns the current driver state. Safe for concurrent use.
func (d *Driver) State() State {
	d.mu.Lock()
	defer d.mu.Unlock()
	return d.state
}

// HighestCommitted returns the highest committed L1 tip seen so far.
func (d *Driver) HighestCommitted() uint64 {
	d.mu.Lock()
	defer d.mu.Unlock()
	return d.highestL1
}

// LastValidated returns the highest successfully validated L2 height.
func (d *Driver) LastValidated() uint64 {
	d.mu.Lock()
	defer d.mu.Unlock()
	return d.lastValidated
}

// SyncStatus is a snapshot of the driver, served over RPC.
type SyncStatus struct {
	State              string      `json:"state"`
	GenesisL1          eth.BlockID `json:"genesis_l1"`
	HighestCommittedL1 uint64      `json:"highest_committed_l1"`
	LastValidatedL2    uint64      `json:"last_validated_l2"`
}

func (d *Driver) SyncStatus() *SyncStatus {
	d.mu.Lock()
	defer d.mu.Unlock()
	return &SyncStatus{
		State:              d.state.String(),
		GenesisL1:          d.genesisL1,
		HighestCommittedL1: d.highestL1,
		LastValidatedL2:    d.lastValidated,
	}
}
