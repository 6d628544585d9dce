package nubit_da

import (
	"context"
	"encoding/binary"
	"encoding/hex"
	"fmt"
	"strings"
	"sync"
	"time"

	"github.com/holiman/uint256"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/rollkit/go-da"
	"go.uber.org/zap"

	"github.com/RiemaLabs/modular-block-committer/checkpoint"
)

// heightPrefixSize is the number of leading bytes of a blob ID that carry the
// little-endian inclusion height.
const heightPrefixSize = 8

// Contract publishes checkpoints as blobs in a DA namespace and reads them back
// as confirmations.
type Contract struct {
	backend       *NubitDABackend
	id            *checkpoint.CommitterIdentification
	log           *zap.SugaredLogger
	networkErrors prometheus.Counter
}

var _ checkpoint.Contract = (*Contract)(nil)

func NewContract(backend *NubitDABackend, id *checkpoint.CommitterIdentification, lggr *zap.SugaredLogger) *Contract {
	if lggr == nil {
		lggr = zap.NewNop().Sugar()
	}
	return &Contract{
		backend: backend,
		id:      id,
		log:     lggr.Named("nubit_da"),
		networkErrors: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "destination_network_errors",
			Help: "Number of failed requests to the destination DA layer.",
		}),
	}
}

func (c *Contract) Collectors() []prometheus.Collector {
	return []prometheus.Collector{c.networkErrors}
}

func (c *Contract) networkError(format string, args ...any) error {
	c.networkErrors.Inc()
	return checkpoint.Errorf(checkpoint.KindNetwork, format, args...)
}

func (c *Contract) Submit(ctx context.Context, block checkpoint.Block) (checkpoint.SubmitAck, error) {
	blob, err := checkpoint.EncodeCheckpoint(checkpoint.NewCheckpoint(c.id, block))
	if err != nil {
		return checkpoint.SubmitAck{}, checkpoint.OtherError(fmt.Errorf("failed to generate checkpoint: %w", err))
	}

	ctx, cancel := context.WithTimeout(ctx, c.backend.SubmitTimeout)
	defer cancel()

	maxSize, err := c.backend.Client.MaxBlobSize(ctx)
	if err != nil {
		return checkpoint.SubmitAck{}, c.networkError("reading max blob size: %w", err)
	}
	if uint64(len(blob)) > maxSize {
		return checkpoint.SubmitAck{}, checkpoint.Errorf(checkpoint.KindOther, "checkpoint of %d bytes exceeds max blob size %d", len(blob), maxSize)
	}

	c.log.Debugw("Building blob submission", "height", block.Height, "size", len(blob))
	ids, err := c.backend.Client.Submit(ctx, []da.Blob{blob}, c.backend.GasPrice, c.backend.Namespace)
	if err != nil {
		return checkpoint.SubmitAck{}, c.networkError("blob submission failed: %w", err)
	}
	if len(ids) != 1 {
		return checkpoint.SubmitAck{}, checkpoint.Errorf(checkpoint.KindOther, "expected 1 blob id, got %d", len(ids))
	}

	height, err := inclusionHeight(ids[0])
	if err != nil {
		return checkpoint.SubmitAck{}, err
	}
	c.log.Infow("Blob successfully submitted", "id", hex.EncodeToString(ids[0]), "daHeight", height.String())
	return checkpoint.SubmitAck{Height: height}, nil
}

func inclusionHeight(id da.ID) (checkpoint.L1Height, error) {
	if len(id) < heightPrefixSize {
		return checkpoint.L1Height{}, checkpoint.Errorf(checkpoint.KindOther, "malformed blob id %x", []byte(id))
	}
	height, err := checkpoint.NewL1Height(binary.LittleEndian.Uint64(id[:heightPrefixSize]))
	if err != nil {
		return checkpoint.L1Height{}, checkpoint.OtherError(err)
	}
	return height, nil
}

func (c *Contract) EventStreamer(from checkpoint.L1Height) checkpoint.EventStreamer {
	return &eventStreamer{contract: c, from: from}
}

type eventStreamer struct {
	contract *Contract
	from     checkpoint.L1Height
}

// EstablishStream checks that the DA node is reachable and returns a stream
// that scans the namespace height by height starting at from.
func (s *eventStreamer) EstablishStream(ctx context.Context) (checkpoint.EventStream, error) {
	fetchCtx, cancel := context.WithTimeout(ctx, s.contract.backend.FetchTimeout)
	defer cancel()
	if _, err := s.contract.backend.Client.MaxBlobSize(fetchCtx); err != nil {
		return nil, s.contract.networkError("connecting to DA node: %w", err)
	}
	return &eventStream{
		contract: s.contract,
		height:   s.from.Uint64(),
		closed:   make(chan struct{}),
	}, nil
}

// eventStream is consumed by a single goroutine; only Close may be called
// concurrently with Next.
type eventStream struct {
	contract *Contract
	height   uint64
	pending  []checkpoint.ConfirmationEvent
	failed   bool

	closeOnce sync.Once
	closed    chan struct{}
}

func (s *eventStream) Next(ctx context.Context) (checkpoint.ConfirmationEvent, error) {
	for {
		if len(s.pending) > 0 {
			event := s.pending[0]
			s.pending = s.pending[1:]
			return event, nil
		}

		select {
		case <-s.closed:
			return checkpoint.ConfirmationEvent{}, checkpoint.ErrEndOfStream
		default:
		}

		if s.failed {
			if err := s.wait(ctx); err != nil {
				return checkpoint.ConfirmationEvent{}, err
			}
		}

		ready, err := s.scan(ctx)
		s.failed = err != nil
		if err != nil {
			return checkpoint.ConfirmationEvent{}, err
		}
		if !ready {
			if err := s.wait(ctx); err != nil {
				return checkpoint.ConfirmationEvent{}, err
			}
		}
	}
}

func (s *eventStream) wait(ctx context.Context) error {
	timer := time.NewTimer(s.contract.backend.PollInterval)
	defer timer.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-s.closed:
		return checkpoint.ErrEndOfStream
	case <-timer.C:
		return nil
	}
}

// scan reads the blobs at the current height and queues their confirmations.
// It reports false when the height has not been produced yet.
func (s *eventStream) scan(ctx context.Context) (bool, error) {
	backend := s.contract.backend
	fetchCtx, cancel := context.WithTimeout(ctx, backend.FetchTimeout)
	defer cancel()

	ids, err := backend.Client.GetIDs(fetchCtx, s.height, backend.Namespace)
	switch {
	case err != nil && isFutureHeight(err):
		return false, nil
	case err != nil && isNotFound(err):
		s.height++
		return true, nil
	case err != nil:
		return false, s.contract.networkError("reading blob ids at height %d: %w", s.height, err)
	}
	if len(ids) == 0 {
		s.height++
		return true, nil
	}

	blobs, err := backend.Client.Get(fetchCtx, ids, backend.Namespace)
	if err != nil {
		return false, s.contract.networkError("reading blobs at height %d: %w", s.height, err)
	}
	for i, blob := range blobs {
		_, block, err := checkpoint.DecodeCheckpoint(blob)
		if err != nil {
			s.contract.log.Debugw("Skipping foreign blob", "daHeight", s.height, "index", i, "error", err)
			continue
		}
		s.pending = append(s.pending, checkpoint.ConfirmationEvent{
			BlockHash:    block.Hash,
			CommitHeight: uint256.NewInt(s.height),
		})
	}
	s.height++
	return true, nil
}

func (s *eventStream) Close() error {
	s.closeOnce.Do(func() { close(s.closed) })
	return nil
}

func isFutureHeight(err error) bool {
	return strings.Contains(err.Error(), "future")
}

func isNotFound(err error) bool {
	return strings.Contains(strings.ToLower(err.Error()), "not found")
}
