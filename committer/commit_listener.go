package committer

import (
	"context"
	"errors"
	"fmt"

	"github.com/prometheus/client_golang/prometheus"
	"go.uber.org/zap"

	"github.com/RiemaLabs/modular-block-committer/checkpoint"
)

type commitListenerMetrics struct {
	latestCommittedBlock prometheus.Gauge
}

func newCommitListenerMetrics() commitListenerMetrics {
	return commitListenerMetrics{
		latestCommittedBlock: prometheus.NewGauge(prometheus.GaugeOpts{
			Name: "latest_committed_block",
			Help: "The height of the latest fuel block committed on the destination chain.",
		}),
	}
}

// CommitListener reconciles destination-chain confirmations with the
// submission store.
type CommitListener struct {
	contract checkpoint.Contract
	storage  checkpoint.SubmissionStore
	cancel   <-chan struct{}
	log      *zap.SugaredLogger
	metrics  commitListenerMetrics
}

// NewCommitListener builds a listener that stops once cancel is closed. A nil
// cancel channel never fires.
func NewCommitListener(
	contract checkpoint.Contract,
	storage checkpoint.SubmissionStore,
	cancel <-chan struct{},
	lggr *zap.SugaredLogger,
) *CommitListener {
	return &CommitListener{
		contract: contract,
		storage:  storage,
		cancel:   cancel,
		log:      named(lggr, "commit_listener"),
		metrics:  newCommitListenerMetrics(),
	}
}

func (l *CommitListener) Collectors() []prometheus.Collector {
	return []prometheus.Collector{l.metrics.latestCommittedBlock}
}

// Run consumes the confirmation stream until it ends or the listener is
// cancelled. Cancellation is checked between events, so an event being handled
// is always finished first. Errors for individual events are logged and never
// end the stream.
func (l *CommitListener) Run(ctx context.Context) error {
	height, err := l.determineStartingL1Height(ctx)
	if err != nil {
		return err
	}

	stream, err := l.contract.EventStreamer(height).EstablishStream(ctx)
	if err != nil {
		return fmt.Errorf("establishing confirmation stream from l1 height %s: %w", height, err)
	}
	defer func() {
		if err := stream.Close(); err != nil {
			l.log.Warnw("Failed to close confirmation stream", "error", err)
		}
	}()

	pullCtx, stopPulling := context.WithCancel(ctx)
	defer stopPulling()
	go func() {
		select {
		case <-l.cancel:
			stopPulling()
		case <-pullCtx.Done():
		}
	}()

	l.log.Infow("Listening for block commits", "fromL1Height", height.String())
	for {
		if l.cancelled() || pullCtx.Err() != nil {
			l.log.Info("Stopped listening for block commits")
			return nil
		}

		event, err := stream.Next(pullCtx)
		switch {
		case errors.Is(err, checkpoint.ErrEndOfStream):
			l.log.Info("Block commit event stream ended")
			return nil
		case err != nil && pullCtx.Err() != nil:
			continue
		case err != nil:
			l.log.Errorw("Received an error from block commit event stream", "error", err, "kind", checkpoint.KindOf(err).String())
			continue
		}

		// The parent context keeps in-flight handling alive after cancellation.
		if err := l.handleBlockCommitted(ctx, event); err != nil {
			l.log.Errorw("Failed to handle block commit", "hash", event.BlockHash.String(), "error", err, "kind", checkpoint.KindOf(err).String())
		}
	}
}

func (l *CommitListener) cancelled() bool {
	select {
	case <-l.cancel:
		return true
	default:
		return false
	}
}

func (l *CommitListener) determineStartingL1Height(ctx context.Context) (checkpoint.L1Height, error) {
	latest, found, err := l.storage.LatestSubmission(ctx)
	if err != nil {
		return checkpoint.L1Height{}, fmt.Errorf("reading latest submission: %w", err)
	}
	if !found {
		return checkpoint.L1HeightFromUint32(0), nil
	}
	return latest.SubmittalHeight, nil
}

func (l *CommitListener) handleBlockCommitted(ctx context.Context, event checkpoint.ConfirmationEvent) error {
	submission, found, err := l.storage.Submission(ctx, event.BlockHash)
	if err != nil {
		return fmt.Errorf("looking up submission: %w", err)
	}
	if !found {
		return checkpoint.Errorf(checkpoint.KindOther, "no submission for committed block hash %s: %w", event.BlockHash, checkpoint.ErrNotFound)
	}
	if submission.Completed {
		l.log.Warnw("Received a commit for an already completed submission", "height", submission.Block.Height, "hash", event.BlockHash.String())
		return nil
	}

	updated, err := l.storage.MarkCompleted(ctx, event.BlockHash)
	if err != nil {
		return fmt.Errorf("marking submission completed: %w", err)
	}

	l.metrics.latestCommittedBlock.Set(float64(updated.Block.Height))
	l.log.Infow("Block committed on l1",
		"height", updated.Block.Height,
		"hash", event.BlockHash.String(),
		"commitHeight", commitHeight(event),
	)
	return nil
}

func commitHeight(event checkpoint.ConfirmationEvent) string {
	if event.CommitHeight == nil {
		return "unknown"
	}
	return event.CommitHeight.Dec()
}
