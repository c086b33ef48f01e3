// Package exex models the host-side execution-extension interface:
// an ordered stream of chain-commit notifications from the L1 node,
// and an event channel to acknowledge fully-processed heights back to it.
// The host is free to prune any data below the last acknowledged height.
package exex

import (
	"context"
	"errors"
	"fmt"
	"sync"

	"github.com/ethereum/go-ethereum/core/types"

	"github.com/ethereum-optimism/optimism/op-service/eth"
)

// ErrClosed is returned when the host has permanently closed the
// notification or event channel, i.e. the node is shutting down.
var ErrClosed = errors.New("exex host channel closed")

// ChainSegment is a contiguous batch of committed L1 blocks, oldest first,
// delivered by a single notification. Segments are consumed once and dropped.
type ChainSegment struct {
	Blocks []eth.L1BlockRef
}

// Tip returns the highest block of the segment.
// The segment must be non-empty.
func (s *ChainSegment) Tip() eth.L1BlockRef {
	return s.Blocks[len(s.Blocks)-1]
}

// SegmentFromHeaders builds a ChainSegment from a list of L1 headers,
// ordered oldest first.
func SegmentFromHeaders(headers []*types.Header) *ChainSegment {
	blocks := make([]eth.L1BlockRef, 0, len(headers))
	for _, h := range headers {
		blocks = append(blocks, eth.L1BlockRef{
			Hash:       h.Hash(),
			Number:     h.Number.Uint64(),
			ParentHash: h.ParentHash,
			Time:       h.Time,
		})
	}
	return &ChainSegment{Blocks: blocks}
}

// ChainNotification is a single host notification. Committed is nil for
// notifications that do not commit new chain (e.g. reverts already handled
// by the host); those carry nothing to process or acknowledge.
type ChainNotification struct {
	Committed *ChainSegment
}

// Event is an acknowledgment sent back to the host. The host may prune
// retained state below FinishedHeight.
type Event struct {
	FinishedHeight uint64
}

// Notifications is the consumer side of the host notification stream.
// Single consumer, ordered delivery.
type Notifications interface {
	// Next blocks until a notification is available, the context is done,
	// or the host closes the stream (ErrClosed).
	Next(ctx context.Context) (*ChainNotification, error)
}

// Events is the acknowledgment back-channel to the host.
type Events interface {
	// FinishedHeight signals that all notifications up to and including the
	// given height have been fully processed. A send failure is fatal to the
	// pipeline: the host can no longer be told what is safe to prune. The
	// send may block on a slow host; the context bounds the wait.
	FinishedHeight(ctx context.Context, height uint64) error
}

// Host combines both directions of the execution-extension contract.
type Host interface {
	Notifications
	Events
}

// ChannelHost is a channel-backed Host implementation. The embedding node
// feeds notifications with Notify and drains acknowledgments from Acks.
type ChannelHost struct {
	notifs chan *ChainNotification
	events chan Event
	quit   chan struct{}

	closeOnce sync.Once
}

var _ Host = (*ChannelHost)(nil)

func NewChannelHost(buffer int) *ChannelHost {
	return &ChannelHost{
		notifs: make(chan *ChainNotification, buffer),
		events: make(chan Event, buffer),
		quit:   make(chan struct{}),
	}
}

// Notify delivers a notification to the consumer. Host side.
// Returns ErrClosed once the host is shut down, also for callers
// already blocked on a full buffer.
func (h *ChannelHost) Notify(ctx context.Context, n *ChainNotification) error {
	select {
	case <-h.quit:
		return ErrClosed
	default:
	}
	select {
	case h.notifs <- n:
		return nil
	case <-h.quit:
		return ErrClosed
	case <-ctx.Done():
		return ctx.Err()
	}
}

// Acks exposes the acknowledgment stream. Host side.
func (h *ChannelHost) Acks() <-chan Event {
	return h.events
}

// Close terminates the host. Blocked Notify and FinishedHeight callers are
// unblocked with ErrClosed. Pending buffered notifications are still
// delivered; Next returns ErrClosed once the buffer is drained. The channels
// themselves are never closed, so a racing Notify cannot panic.
func (h *ChannelHost) Close() {
	h.closeOnce.Do(func() {
		close(h.quit)
	})
}

func (h *ChannelHost) Next(ctx context.Context) (*ChainNotification, error) {
	select {
	case n := <-h.notifs:
		return n, nil
	case <-h.quit:
		// drain what was buffered before the shutdown
		select {
		case n := <-h.notifs:
			return n, nil
		default:
			return nil, ErrClosed
		}
	case <-ctx.Done():
		return nil, ctx.Err()
	}
}

func (h *ChannelHost) FinishedHeight(ctx context.Context, height uint64) error {
	select {
	case <-h.quit:
		return fmt.Errorf("%w: cannot acknowledge height %d", ErrClosed, height)
	default:
	}
	select {
	case h.events <- Event{FinishedHeight: height}:
		return nil
	case <-h.quit:
		return fmt.Errorf("%w: cannot acknowledge height %d", ErrClosed, height)
	case <-ctx.Done():
		return ctx.Err()
	}
}
