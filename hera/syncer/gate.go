// Package syncer gates the start of derivation on the L1 chain having
// reached the rollup genesis L1 block (the anchor).
package syncer

import (
	"github.com/ethereum/go-ethereum/log"

	"github.com/ethereum-optimism/optimism/op-node/rollup"
	"github.com/ethereum-optimism/optimism/op-service/eth"

	"github.com/merklefruit/op-rs/hera/exex"
)

// SyncState is the gate's lifecycle state. It transitions exactly once,
// irreversibly, from WaitingForGenesis to Synced.
type SyncState int

const (
	WaitingForGenesis SyncState = iota
	Synced
)

func (s SyncState) String() string {
	switch s {
	case WaitingForGenesis:
		return "waiting-for-genesis"
	case Synced:
		return "synced"
	default:
		return "unknown"
	}
}

// GateStatus is the per-segment verdict of the gate.
type GateStatus int

const (
	// StillWaiting: the segment tip is below the anchor height.
	StillWaiting GateStatus = iota
	// ReachedGenesis: the segment tip reached the anchor height,
	// and this call performed the one-time transition to Synced.
	ReachedGenesis
	// AlreadySynced: the gate transitioned on an earlier call. Callers are
	// expected to stop invoking the gate once told ReachedGenesis; hitting
	// this status indicates a driver bug, not a chain condition.
	AlreadySynced
)

type GateResult struct {
	Status GateStatus
	Tip    eth.L1BlockRef
}

type Metrics interface {
	RecordL1Ref(name string, ref eth.L1BlockRef)
	RecordGenesisReached()
}

// Gate consumes committed chain segments and decides when the L1 chain has
// progressed to the rollup genesis anchor. It is pure state-transition logic
// over already-validated input and cannot fail.
type Gate struct {
	log     log.Logger
	metrics Metrics

	anchor eth.BlockID // cfg.Genesis.L1

	state SyncState
	// highest committed tip seen, for diagnostics only
	highestSeen uint64
}

func NewGate(log log.Logger, cfg *rollup.Config, m Metrics) *Gate {
	return &Gate{
		log:     log,
		metrics: m,
		anchor:  cfg.Genesis.L1,
		state:   WaitingForGenesis,
	}
}

// Process inspects a committed chain segment. The anchor is considered
// reached as soon as the segment tip is at or above the anchor height;
// intermediate heights do not need to be visited, so batched notifications
// that jump over the anchor are accepted.
func (g *Gate) Process(segment *exex.ChainSegment) GateResult {
	tip := segment.Tip()
	if tip.Number > g.highestSeen {
		g.highestSeen = tip.Number
	}
	g.metrics.RecordL1Ref("l1_commit_tip", tip)

	if g.state == Synced {
		return GateResult{Status: AlreadySynced, Tip: tip}
	}
	if tip.Number < g.anchor.Number {
		g.log.Debug("Chain not yet synced to rollup genesis",
			"l1_tip", tip, "genesis_l1", g.anchor)
		return GateResult{Status: StillWaiting, Tip: tip}
	}
	g.state = Synced
	g.metrics.RecordGenesisReached()
	g.log.Info("Chain synced to rollup genesis", "l1_tip", tip, "genesis_l1", g.anchor)
	return GateResult{Status: ReachedGenesis, Tip: tip}
}

// State returns the current sync state.
func (g *Gate) State() SyncState {
	return g.state
}

// HighestSeen returns the highest committed tip height observed so far.
func (g *Gate) HighestSeen() uint64 {
	return g.highestSeen
}
