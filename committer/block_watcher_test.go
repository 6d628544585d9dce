package committer

import (
	"context"
	"errors"
	"math"
	"testing"
	"testing/quick"
	"time"

	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/mock"
	"github.com/stretchr/testify/require"

	"github.com/RiemaLabs/modular-block-committer/checkpoint"
)

func newTestWatcher(t *testing.T, interval uint32, source checkpoint.SourceChainReader, store checkpoint.SubmissionStore) (*BlockWatcher, *Handoff) {
	handoff := NewHandoff(1)
	watcher, err := NewBlockWatcher(interval, handoff, source, store, nil)
	require.NoError(t, err)
	return watcher, handoff
}

func receive(t *testing.T, handoff *Handoff) checkpoint.Block {
	select {
	case b := <-handoff.Receive():
		return b
	case <-time.After(time.Second):
		t.Fatal("no candidate announced")
		return checkpoint.Block{}
	}
}

func TestEpochBoundary(t *testing.T) {
	assert.Equal(t, uint32(4), EpochBoundary(5, 2))
	assert.Equal(t, uint32(6), EpochBoundary(6, 2))
	assert.Equal(t, uint32(0), EpochBoundary(9, 10))
	assert.Equal(t, uint32(7), EpochBoundary(7, 1))
	assert.Equal(t, uint32(math.MaxUint32), EpochBoundary(math.MaxUint32, 1))
	assert.Equal(t, uint32(math.MaxUint32), EpochBoundary(math.MaxUint32, math.MaxUint32))
	assert.Equal(t, uint32(0), EpochBoundary(math.MaxUint32-1, math.MaxUint32))
	assert.Equal(t, uint32(0), EpochBoundary(0, 3))
}

func TestEpochBoundaryProperties(t *testing.T) {
	property := func(height, interval uint32) bool {
		if interval == 0 {
			interval = 1
		}
		boundary := EpochBoundary(height, interval)
		return boundary <= height && boundary%interval == 0 && height-boundary < interval
	}
	require.NoError(t, quick.Check(property, &quick.Config{MaxCount: 10000}))

	for _, interval := range []uint32{1, 2, 3, 10, 1 << 16, math.MaxUint32} {
		for _, height := range []uint32{0, 1, interval - 1, interval, math.MaxUint32 - 1, math.MaxUint32} {
			assert.True(t, property(height, interval), "height %d interval %d", height, interval)
		}
	}
}

func TestNewBlockWatcherRejectsZeroInterval(t *testing.T) {
	_, err := NewBlockWatcher(0, NewHandoff(1), &mockSource{}, newStore(t), nil)
	require.Error(t, err)

	_, err = NewBlockWatcher(2, nil, &mockSource{}, newStore(t), nil)
	require.Error(t, err)
}

func TestBlockWatcherFetchesEpochBoundary(t *testing.T) {
	source := &mockSource{}
	source.On("LatestBlock", mock.Anything).Return(block(5), nil)
	source.On("BlockAtHeight", mock.Anything, uint32(4)).Return(block(4), true, nil)

	watcher, handoff := newTestWatcher(t, 2, source, newStore(t, 0, 2))
	require.NoError(t, watcher.Run(context.Background()))

	assert.Equal(t, block(4), receive(t, handoff))
	assert.Equal(t, float64(5), testutil.ToFloat64(watcher.metrics.latestFuelBlock))
	source.AssertExpectations(t)
}

func TestBlockWatcherSkipsStaleEpoch(t *testing.T) {
	source := &mockSource{}
	source.On("LatestBlock", mock.Anything).Return(block(6), nil)

	watcher, handoff := newTestWatcher(t, 2, source, newStore(t, 0, 2, 4, 6))
	require.NoError(t, watcher.Run(context.Background()))

	assert.Equal(t, 0, handoff.Len())
	assert.Equal(t, float64(6), testutil.ToFloat64(watcher.metrics.latestFuelBlock))
	source.AssertNotCalled(t, "BlockAtHeight", mock.Anything, mock.Anything)
}

func TestBlockWatcherUpdatesGaugeWithoutCandidate(t *testing.T) {
	source := &mockSource{}
	source.On("LatestBlock", mock.Anything).Return(block(5), nil)

	watcher, handoff := newTestWatcher(t, 2, source, newStore(t, 0, 2, 4))
	require.NoError(t, watcher.Run(context.Background()))

	assert.Equal(t, 0, handoff.Len())
	assert.Equal(t, float64(5), testutil.ToFloat64(watcher.metrics.latestFuelBlock))
}

func TestBlockWatcherReusesLatestBlockOnBoundary(t *testing.T) {
	source := &mockSource{}
	source.On("LatestBlock", mock.Anything).Return(block(4), nil)

	watcher, handoff := newTestWatcher(t, 2, source, newStore(t, 0, 2))
	require.NoError(t, watcher.Run(context.Background()))

	assert.Equal(t, block(4), receive(t, handoff))
	source.AssertNotCalled(t, "BlockAtHeight", mock.Anything, mock.Anything)
	source.AssertNumberOfCalls(t, "LatestBlock", 1)
}

func TestBlockWatcherEmptyStore(t *testing.T) {
	source := &mockSource{}
	source.On("LatestBlock", mock.Anything).Return(block(3), nil)
	source.On("BlockAtHeight", mock.Anything, uint32(2)).Return(block(2), true, nil)

	watcher, handoff := newTestWatcher(t, 2, source, newStore(t))
	require.NoError(t, watcher.Run(context.Background()))

	assert.Equal(t, block(2), receive(t, handoff))
	source.AssertExpectations(t)
}

func TestBlockWatcherEmptyStoreBeforeFirstEpoch(t *testing.T) {
	source := &mockSource{}
	source.On("LatestBlock", mock.Anything).Return(block(1), nil)
	source.On("BlockAtHeight", mock.Anything, uint32(0)).Return(block(0), true, nil)

	watcher, handoff := newTestWatcher(t, 2, source, newStore(t))
	require.NoError(t, watcher.Run(context.Background()))

	assert.Equal(t, block(0), receive(t, handoff))
	source.AssertExpectations(t)
}

func TestBlockWatcherNeverAnnouncesCoveredEpochs(t *testing.T) {
	source := &mockSource{}
	for _, height := range []uint32{4, 5, 6, 7, 5, 7} {
		source.On("LatestBlock", mock.Anything).Return(block(height), nil).Once()
	}
	source.On("LatestBlock", mock.Anything).Return(block(8), nil).Once()

	watcher, handoff := newTestWatcher(t, 4, source, newStore(t, 4))
	for i := 0; i < 6; i++ {
		require.NoError(t, watcher.Run(context.Background()))
		assert.Equal(t, 0, handoff.Len(), "tick %d", i)
	}
	source.AssertNotCalled(t, "BlockAtHeight", mock.Anything, mock.Anything)

	require.NoError(t, watcher.Run(context.Background()))
	assert.Equal(t, block(8), receive(t, handoff))
	source.AssertExpectations(t)
}

func TestBlockWatcherMissingBoundaryBlock(t *testing.T) {
	source := &mockSource{}
	source.On("LatestBlock", mock.Anything).Return(block(5), nil)
	source.On("BlockAtHeight", mock.Anything, uint32(4)).Return(checkpoint.Block{}, false, nil)

	watcher, handoff := newTestWatcher(t, 2, source, newStore(t, 0, 2))
	err := watcher.Run(context.Background())
	require.Error(t, err)
	assert.Equal(t, checkpoint.KindOther, checkpoint.KindOf(err))
	assert.Contains(t, err.Error(), "height: 4")
	assert.Equal(t, 0, handoff.Len())
}

func TestBlockWatcherPropagatesNetworkErrors(t *testing.T) {
	source := &mockSource{}
	source.On("LatestBlock", mock.Anything).Return(checkpoint.Block{}, checkpoint.NetworkError(errors.New("connection reset")))

	watcher, _ := newTestWatcher(t, 2, source, newStore(t))
	err := watcher.Run(context.Background())
	require.Error(t, err)
	assert.True(t, checkpoint.IsNetwork(err))
}

func TestBlockWatcherClosedHandoff(t *testing.T) {
	source := &mockSource{}
	source.On("LatestBlock", mock.Anything).Return(block(4), nil)

	watcher, handoff := newTestWatcher(t, 2, source, newStore(t))
	handoff.Close()

	err := watcher.Run(context.Background())
	require.ErrorIs(t, err, checkpoint.ErrHandoffClosed)
	assert.Equal(t, checkpoint.KindOther, checkpoint.KindOf(err))
}

func TestBlockWatcherBlocksOnFullHandoff(t *testing.T) {
	source := &mockSource{}
	source.On("LatestBlock", mock.Anything).Return(block(4), nil)

	watcher, handoff := newTestWatcher(t, 2, source, newStore(t))
	require.NoError(t, watcher.Run(context.Background()))
	assert.Equal(t, 1, handoff.Len())

	ctx, cancel := context.WithTimeout(context.Background(), 20*time.Millisecond)
	defer cancel()
	err := watcher.Run(ctx)
	require.ErrorIs(t, err, context.DeadlineExceeded)
	assert.Equal(t, 1, handoff.Len())
}
