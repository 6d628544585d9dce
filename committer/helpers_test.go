package committer

import (
	"context"
	"sync"
	"testing"

	"github.com/stretchr/testify/mock"
	"github.com/stretchr/testify/require"

	"github.com/RiemaLabs/modular-block-committer/checkpoint"
	"github.com/RiemaLabs/modular-block-committer/storage"
)

type mockSource struct {
	mock.Mock
}

func (m *mockSource) LatestBlock(ctx context.Context) (checkpoint.Block, error) {
	args := m.Called(ctx)
	return args.Get(0).(checkpoint.Block), args.Error(1)
}

func (m *mockSource) BlockAtHeight(ctx context.Context, height uint32) (checkpoint.Block, bool, error) {
	args := m.Called(ctx, height)
	return args.Get(0).(checkpoint.Block), args.Bool(1), args.Error(2)
}

// scriptedStream replays steps in order, then either ends or blocks until the
// pull context is cancelled.
type scriptedStream struct {
	mu     sync.Mutex
	steps  []streamStep
	pulls  int
	block  bool
	closed bool
}

type streamStep struct {
	event checkpoint.ConfirmationEvent
	err   error
}

func (s *scriptedStream) Next(ctx context.Context) (checkpoint.ConfirmationEvent, error) {
	s.mu.Lock()
	if len(s.steps) > 0 {
		step := s.steps[0]
		s.steps = s.steps[1:]
		s.pulls++
		s.mu.Unlock()
		return step.event, step.err
	}
	s.mu.Unlock()

	if !s.block {
		return checkpoint.ConfirmationEvent{}, checkpoint.ErrEndOfStream
	}
	<-ctx.Done()
	return checkpoint.ConfirmationEvent{}, ctx.Err()
}

func (s *scriptedStream) Close() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.closed = true
	return nil
}

func (s *scriptedStream) remaining() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.steps)
}

type fakeContract struct {
	mu           sync.Mutex
	stream       checkpoint.EventStream
	establishErr error
	from         []checkpoint.L1Height
	submitted    []checkpoint.Block
	submitErr    error
	nextL1Height uint32
}

func (c *fakeContract) Submit(_ context.Context, block checkpoint.Block) (checkpoint.SubmitAck, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.submitErr != nil {
		return checkpoint.SubmitAck{}, c.submitErr
	}
	c.submitted = append(c.submitted, block)
	c.nextL1Height++
	return checkpoint.SubmitAck{Height: checkpoint.L1HeightFromUint32(c.nextL1Height)}, nil
}

func (c *fakeContract) EventStreamer(from checkpoint.L1Height) checkpoint.EventStreamer {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.from = append(c.from, from)
	return c
}

func (c *fakeContract) EstablishStream(context.Context) (checkpoint.EventStream, error) {
	if c.establishErr != nil {
		return nil, c.establishErr
	}
	return c.stream, nil
}

func (c *fakeContract) submittedBlocks() []checkpoint.Block {
	c.mu.Lock()
	defer c.mu.Unlock()
	return append([]checkpoint.Block(nil), c.submitted...)
}

func block(height uint32) checkpoint.Block {
	return checkpoint.Block{Height: height, Hash: checkpoint.BlockHash{byte(height), 0xfe}}
}

func newStore(t *testing.T, heights ...uint32) *storage.LevelDB {
	store, err := storage.NewMemoryLevelDB()
	require.NoError(t, err)
	t.Cleanup(func() { _ = store.Close() })
	for _, height := range heights {
		require.NoError(t, store.Insert(context.Background(), checkpoint.Submission{
			Block:           block(height),
			SubmittalHeight: checkpoint.L1HeightFromUint32(100 + height),
		}))
	}
	return store
}
