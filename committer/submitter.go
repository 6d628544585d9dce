package committer

import (
	"context"
	"fmt"

	"github.com/prometheus/client_golang/prometheus"
	"go.uber.org/zap"

	"github.com/RiemaLabs/modular-block-committer/checkpoint"
)

// Archiver keeps an off-chain copy of every recorded submission.
type Archiver interface {
	Archive(ctx context.Context, submission checkpoint.Submission) error
}

type submitterMetrics struct {
	submittedCheckpoints prometheus.Counter
}

func newSubmitterMetrics() submitterMetrics {
	return submitterMetrics{
		submittedCheckpoints: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "submitted_checkpoints_total",
			Help: "Number of checkpoints submitted to the destination chain.",
		}),
	}
}

// Submitter drains the handoff, submits each candidate through the contract
// and records the submission.
type Submitter struct {
	handoff  *Handoff
	contract checkpoint.Contract
	storage  checkpoint.SubmissionStore
	archiver Archiver
	log      *zap.SugaredLogger
	metrics  submitterMetrics
}

// NewSubmitter builds a submitter; archiver may be nil.
func NewSubmitter(
	handoff *Handoff,
	contract checkpoint.Contract,
	storage checkpoint.SubmissionStore,
	archiver Archiver,
	lggr *zap.SugaredLogger,
) *Submitter {
	return &Submitter{
		handoff:  handoff,
		contract: contract,
		storage:  storage,
		archiver: archiver,
		log:      named(lggr, "submitter"),
		metrics:  newSubmitterMetrics(),
	}
}

func (s *Submitter) Collectors() []prometheus.Collector {
	return []prometheus.Collector{s.metrics.submittedCheckpoints}
}

// Run handles candidates until ctx ends or the handoff is closed. A failed
// candidate is dropped; the watcher announces it again on a later tick because
// nothing was recorded for it.
func (s *Submitter) Run(ctx context.Context) error {
	for {
		select {
		case <-ctx.Done():
			return nil
		case <-s.handoff.Done():
			return nil
		case block := <-s.handoff.Receive():
			if err := s.Submit(ctx, block); err != nil {
				s.log.Errorw("Failed to submit checkpoint", "height", block.Height, "hash", block.Hash.String(), "error", err, "kind", checkpoint.KindOf(err).String())
			}
		}
	}
}

func (s *Submitter) Submit(ctx context.Context, block checkpoint.Block) error {
	if _, found, err := s.storage.Submission(ctx, block.Hash); err != nil {
		return fmt.Errorf("looking up submission: %w", err)
	} else if found {
		s.log.Debugw("Skipping already submitted block", "height", block.Height, "hash", block.Hash.String())
		return nil
	}

	ack, err := s.contract.Submit(ctx, block)
	if err != nil {
		return fmt.Errorf("submitting block %s: %w", block, err)
	}
	s.metrics.submittedCheckpoints.Inc()

	submission := checkpoint.Submission{
		Block:           block,
		SubmittalHeight: ack.Height,
		Completed:       false,
	}
	if err := s.storage.Insert(ctx, submission); err != nil {
		return fmt.Errorf("recording submission of block %s at l1 height %s: %w", block, ack.Height, err)
	}
	s.log.Infow("Submitted checkpoint", "height", block.Height, "hash", block.Hash.String(), "l1Height", ack.Height.String())

	if s.archiver != nil {
		if err := s.archiver.Archive(ctx, submission); err != nil {
			s.log.Warnw("Failed to archive checkpoint", "height", block.Height, "error", err)
		}
	}
	return nil
}
