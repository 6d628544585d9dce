package checkpoint

import (
	"encoding/hex"
	"fmt"
	"math"
	"strconv"
	"strings"

	"github.com/holiman/uint256"
)

const BlockHashSize = 32

// BlockHash identifies a source-chain block.
type BlockHash [BlockHashSize]byte

func ParseBlockHash(s string) (BlockHash, error) {
	var hash BlockHash
	raw, err := hex.DecodeString(strings.TrimPrefix(s, "0x"))
	if err != nil {
		return hash, fmt.Errorf("invalid block hash %q: %w", s, err)
	}
	if len(raw) != BlockHashSize {
		return hash, fmt.Errorf("invalid block hash %q: expected %d bytes, got %d", s, BlockHashSize, len(raw))
	}
	copy(hash[:], raw)
	return hash, nil
}

func (h BlockHash) String() string {
	return hex.EncodeToString(h[:])
}

func (h BlockHash) IsZero() bool {
	return h == BlockHash{}
}

func (h BlockHash) MarshalText() ([]byte, error) {
	return []byte(h.String()), nil
}

func (h *BlockHash) UnmarshalText(text []byte) error {
	parsed, err := ParseBlockHash(string(text))
	if err != nil {
		return err
	}
	*h = parsed
	return nil
}

// Block is an observed source-chain block.
type Block struct {
	Height uint32    `json:"height"`
	Hash   BlockHash `json:"hash"`
}

func (b Block) String() string {
	return fmt.Sprintf("%d/%s", b.Height, b.Hash)
}

// L1Height is a height on the destination chain, always within [0, math.MaxInt64].
type L1Height struct {
	height int64
}

func NewL1Height(height uint64) (L1Height, error) {
	if height > math.MaxInt64 {
		return L1Height{}, fmt.Errorf("%w: %d exceeds %d", ErrInvalidL1Height, height, int64(math.MaxInt64))
	}
	return L1Height{height: int64(height)}, nil
}

func L1HeightFromInt64(height int64) (L1Height, error) {
	if height < 0 {
		return L1Height{}, fmt.Errorf("%w: %d is negative", ErrInvalidL1Height, height)
	}
	return L1Height{height: height}, nil
}

func L1HeightFromUint32(height uint32) L1Height {
	return L1Height{height: int64(height)}
}

func (h L1Height) Int64() int64 {
	return h.height
}

func (h L1Height) Uint64() uint64 {
	return uint64(h.height)
}

func (h L1Height) String() string {
	return strconv.FormatInt(h.height, 10)
}

func (h L1Height) MarshalJSON() ([]byte, error) {
	return []byte(h.String()), nil
}

func (h *L1Height) UnmarshalJSON(data []byte) error {
	raw, err := strconv.ParseInt(string(data), 10, 64)
	if err != nil {
		return fmt.Errorf("%w: %v", ErrInvalidL1Height, err)
	}
	parsed, err := L1HeightFromInt64(raw)
	if err != nil {
		return err
	}
	*h = parsed
	return nil
}

// Submission records the intent and outcome of checkpointing one block.
// SubmittalHeight is the destination height at the time of submission and is
// where confirmation scanning starts.
type Submission struct {
	Block           Block    `json:"block"`
	SubmittalHeight L1Height `json:"submittalHeight"`
	Completed       bool     `json:"completed"`
}

func (s Submission) Validate() error {
	if s.Block.Hash.IsZero() {
		return fmt.Errorf("submission for block %d has an empty hash", s.Block.Height)
	}
	return nil
}

// ConfirmationEvent is observed on the destination chain when a submitted block
// hash has been committed there.
type ConfirmationEvent struct {
	BlockHash    BlockHash
	CommitHeight *uint256.Int
}

// SubmitAck is returned by a destination contract once a checkpoint is accepted.
type SubmitAck struct {
	Height L1Height
}
