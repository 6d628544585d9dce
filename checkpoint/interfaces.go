package checkpoint

import "context"

// SourceChainReader gives read-only access to the chain being checkpointed.
// Failures are classified as Network or Other.
type SourceChainReader interface {
	LatestBlock(ctx context.Context) (Block, error)
	// BlockAtHeight reports found=false when the height does not exist.
	BlockAtHeight(ctx context.Context, height uint32) (block Block, found bool, err error)
}

// Contract is the checkpoint contract on the destination chain.
type Contract interface {
	Submit(ctx context.Context, block Block) (SubmitAck, error)
	EventStreamer(from L1Height) EventStreamer
}

type EventStreamer interface {
	// EstablishStream connects to the destination chain. A failure here is
	// returned to the caller, unlike failures while pulling events.
	EstablishStream(ctx context.Context) (EventStream, error)
}

// EventStream is a lazy, possibly unbounded sequence of confirmations. Next
// returns ErrEndOfStream once the stream is exhausted. Any other error refers
// to the current pull only and the stream stays usable. A closed stream cannot
// be reopened.
type EventStream interface {
	Next(ctx context.Context) (ConfirmationEvent, error)
	Close() error
}

// SubmissionStore is the durable record of what has been checkpointed.
type SubmissionStore interface {
	// Insert fails with ErrAlreadyExists if a submission for the same block
	// hash is stored.
	Insert(ctx context.Context, submission Submission) error
	// LatestSubmission returns the submission with the greatest block height.
	LatestSubmission(ctx context.Context) (Submission, bool, error)
	Submission(ctx context.Context, hash BlockHash) (Submission, bool, error)
	// MarkCompleted atomically flips completed to true and returns the updated
	// record. It fails with ErrNotFound for unknown hashes and is a no-op for
	// submissions that are already completed.
	MarkCompleted(ctx context.Context, hash BlockHash) (Submission, error)
}
