package committer

import (
	"context"
	"errors"
	"fmt"

	"github.com/prometheus/client_golang/prometheus"
	"go.uber.org/zap"

	"github.com/RiemaLabs/modular-block-committer/checkpoint"
)

type blockWatcherMetrics struct {
	latestFuelBlock prometheus.Gauge
}

func newBlockWatcherMetrics() blockWatcherMetrics {
	return blockWatcherMetrics{
		latestFuelBlock: prometheus.NewGauge(prometheus.GaugeOpts{
			Name: "latest_fuel_block",
			Help: "The height of the latest fuel block.",
		}),
	}
}

// BlockWatcher picks the next checkpoint candidate from the source chain.
// Checkpoints are aligned to multiples of the commit interval, so the chosen
// height depends only on the chain tip and the stored submissions.
type BlockWatcher struct {
	commitInterval uint32
	handoff        *Handoff
	source         checkpoint.SourceChainReader
	storage        checkpoint.SubmissionStore
	log            *zap.SugaredLogger
	metrics        blockWatcherMetrics
}

func NewBlockWatcher(
	commitInterval uint32,
	handoff *Handoff,
	source checkpoint.SourceChainReader,
	storage checkpoint.SubmissionStore,
	lggr *zap.SugaredLogger,
) (*BlockWatcher, error) {
	if commitInterval == 0 {
		return nil, errors.New("commit interval must be positive")
	}
	if handoff == nil {
		return nil, errors.New("handoff not set")
	}
	return &BlockWatcher{
		commitInterval: commitInterval,
		handoff:        handoff,
		source:         source,
		storage:        storage,
		log:            named(lggr, "block_watcher"),
		metrics:        newBlockWatcherMetrics(),
	}, nil
}

func (w *BlockWatcher) Collectors() []prometheus.Collector {
	return []prometheus.Collector{w.metrics.latestFuelBlock}
}

// EpochBoundary rounds height down to the closest multiple of interval.
func EpochBoundary(height, interval uint32) uint32 {
	return height - height%interval
}

// Run performs a single tick.
func (w *BlockWatcher) Run(ctx context.Context) error {
	current, err := w.fetchLatestBlock(ctx)
	if err != nil {
		return err
	}

	boundary := EpochBoundary(current.Height, w.commitInterval)

	stale, err := w.checkIfStale(ctx, boundary)
	if err != nil {
		return err
	}
	if stale {
		w.log.Debugw("Epoch already covered", "latestHeight", current.Height, "epochBoundary", boundary)
		return nil
	}

	block := current
	if current.Height != boundary {
		if block, err = w.fetchBlock(ctx, boundary); err != nil {
			return err
		}
	}

	if err := w.handoff.Send(ctx, block); err != nil {
		return err
	}
	w.log.Infow("Announced checkpoint candidate", "height", block.Height, "hash", block.Hash.String())
	return nil
}

func (w *BlockWatcher) fetchLatestBlock(ctx context.Context) (checkpoint.Block, error) {
	block, err := w.source.LatestBlock(ctx)
	if err != nil {
		return block, fmt.Errorf("fetching latest block: %w", err)
	}
	w.metrics.latestFuelBlock.Set(float64(block.Height))
	return block, nil
}

func (w *BlockWatcher) checkIfStale(ctx context.Context, boundary uint32) (bool, error) {
	latest, found, err := w.storage.LatestSubmission(ctx)
	if err != nil {
		return false, fmt.Errorf("reading latest submission: %w", err)
	}
	if !found {
		return false, nil
	}
	return latest.Block.Height >= boundary, nil
}

func (w *BlockWatcher) fetchBlock(ctx context.Context, height uint32) (checkpoint.Block, error) {
	block, found, err := w.source.BlockAtHeight(ctx, height)
	if err != nil {
		return block, fmt.Errorf("fetching block at height %d: %w", height, err)
	}
	if !found {
		return block, checkpoint.Errorf(checkpoint.KindOther, "source chain could not provide block at height: %d", height)
	}
	return block, nil
}
