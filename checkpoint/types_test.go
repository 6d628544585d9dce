package checkpoint

import (
	"encoding/json"
	"errors"
	"fmt"
	"math"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestParseBlockHash(t *testing.T) {
	hex := strings.Repeat("ab", BlockHashSize)

	hash, err := ParseBlockHash("0x" + hex)
	require.NoError(t, err)
	assert.Equal(t, hex, hash.String())

	_, err = ParseBlockHash("abcd")
	require.Error(t, err)

	_, err = ParseBlockHash(strings.Repeat("zz", BlockHashSize))
	require.Error(t, err)
}

func TestBlockJSON(t *testing.T) {
	block := Block{Height: 7, Hash: BlockHash{1, 2, 3}}

	data, err := json.Marshal(block)
	require.NoError(t, err)

	var decoded Block
	require.NoError(t, json.Unmarshal(data, &decoded))
	assert.Equal(t, block, decoded)
}

func TestL1Height(t *testing.T) {
	height, err := NewL1Height(42)
	require.NoError(t, err)
	assert.Equal(t, int64(42), height.Int64())

	_, err = NewL1Height(math.MaxInt64 + 1)
	require.ErrorIs(t, err, ErrInvalidL1Height)

	_, err = L1HeightFromInt64(-1)
	require.ErrorIs(t, err, ErrInvalidL1Height)

	var decoded L1Height
	require.ErrorIs(t, json.Unmarshal([]byte("-5"), &decoded), ErrInvalidL1Height)
	require.NoError(t, json.Unmarshal([]byte("9"), &decoded))
	assert.Equal(t, L1HeightFromUint32(9), decoded)
}

func TestSubmissionValidate(t *testing.T) {
	require.Error(t, Submission{Block: Block{Height: 1}}.Validate())
	require.NoError(t, Submission{Block: Block{Height: 1, Hash: BlockHash{1}}}.Validate())
}

func TestErrorKinds(t *testing.T) {
	base := errors.New("connection refused")

	err := fmt.Errorf("fetching latest block: %w", NetworkError(base))
	assert.Equal(t, KindNetwork, KindOf(err))
	assert.True(t, IsNetwork(err))
	assert.ErrorIs(t, err, base)
	assert.Contains(t, err.Error(), "network error: connection refused")

	assert.Equal(t, KindStorage, KindOf(StorageError(base)))
	assert.Equal(t, KindOther, KindOf(base))
	assert.Equal(t, KindOther, KindOf(OtherError(ErrNotFound)))
	assert.ErrorIs(t, Errorf(KindOther, "hash %s: %w", "aa", ErrNotFound), ErrNotFound)

	assert.NoError(t, NetworkError(nil))
	assert.False(t, IsNetwork(nil))
}

func TestCheckpointRoundTrip(t *testing.T) {
	id := &CommitterIdentification{Name: "committer", Version: "latest"}
	block := Block{Height: 1024, Hash: BlockHash{9, 9, 9}}

	data, err := EncodeCheckpoint(NewCheckpoint(id, block))
	require.NoError(t, err)

	c, decoded, err := DecodeCheckpoint(data)
	require.NoError(t, err)
	assert.Equal(t, block, decoded)
	assert.Equal(t, "1024", c.Height)
	assert.Equal(t, "committer", c.Name)
}

func TestCheckpointRejectsTamperedDigest(t *testing.T) {
	id := &CommitterIdentification{Name: "committer"}
	c := NewCheckpoint(id, Block{Height: 3, Hash: BlockHash{1}})
	c.Height = "4"

	data, err := EncodeCheckpoint(c)
	require.NoError(t, err)

	_, _, err = DecodeCheckpoint(data)
	require.ErrorContains(t, err, "digest mismatch")

	_, _, err = DecodeCheckpoint([]byte("not json"))
	require.Error(t, err)
}
