package committer

import (
	"context"
	"fmt"
	"sync"

	"github.com/RiemaLabs/modular-block-committer/checkpoint"
)

// Handoff is the bounded queue between the BlockWatcher and the Submitter.
// Senders block while it is full, which caps how far the watcher can run ahead
// of a slow destination chain.
type Handoff struct {
	blocks chan checkpoint.Block
	done   chan struct{}
	once   sync.Once
}

func NewHandoff(capacity int) *Handoff {
	if capacity < 1 {
		capacity = 1
	}
	return &Handoff{
		blocks: make(chan checkpoint.Block, capacity),
		done:   make(chan struct{}),
	}
}

// Send blocks until the block is queued, the handoff is closed or ctx ends.
func (h *Handoff) Send(ctx context.Context, block checkpoint.Block) error {
	select {
	case <-h.done:
		return checkpoint.Errorf(checkpoint.KindOther, "handing off block %s: %w", block, checkpoint.ErrHandoffClosed)
	default:
	}

	select {
	case h.blocks <- block:
		return nil
	case <-h.done:
		return checkpoint.Errorf(checkpoint.KindOther, "handing off block %s: %w", block, checkpoint.ErrHandoffClosed)
	case <-ctx.Done():
		return checkpoint.OtherError(fmt.Errorf("handing off block %s: %w", block, ctx.Err()))
	}
}

func (h *Handoff) Receive() <-chan checkpoint.Block {
	return h.blocks
}

// Done is closed once the handoff stops accepting blocks.
func (h *Handoff) Done() <-chan struct{} {
	return h.done
}

// Close is safe to call concurrently with Send and more than once. The block
// channel itself is never closed.
func (h *Handoff) Close() {
	h.once.Do(func() { close(h.done) })
}

func (h *Handoff) Len() int {
	return len(h.blocks)
}

func (h *Handoff) Cap() int {
	return cap(h.blocks)
}
