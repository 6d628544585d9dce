package checkpoint

import (
	"encoding/binary"
	"encoding/hex"
	"encoding/json"
	"fmt"
	"strconv"

	"golang.org/x/crypto/sha3"
)

type CommitterIdentification struct {
	Name    string
	Version string
}

// Checkpoint is the payload published on the destination layer.
type Checkpoint struct {
	// Hex of the Keccak-256 digest over the big-endian height and the block hash
	Digest string `json:"digest"`
	// Hex of the BlockHash of the checkpoint
	Hash string `json:"hash"`
	// BlockHeight of the checkpoint
	Height string `json:"height"`
	// Name of the committer
	Name string `json:"name"`
	// Version number of the committer
	Version string `json:"version"`
}

func NewCheckpoint(id *CommitterIdentification, block Block) Checkpoint {
	digest := Digest(block)
	return Checkpoint{
		Name:    id.Name,
		Version: id.Version,
		Height:  strconv.FormatUint(uint64(block.Height), 10),
		Hash:    block.Hash.String(),
		Digest:  hex.EncodeToString(digest[:]),
	}
}

func Digest(block Block) [32]byte {
	var height [4]byte
	binary.BigEndian.PutUint32(height[:], block.Height)

	hasher := sha3.NewLegacyKeccak256()
	hasher.Write(height[:])
	hasher.Write(block.Hash[:])

	var digest [32]byte
	copy(digest[:], hasher.Sum(nil))
	return digest
}

// Block recovers the checkpointed block and rejects payloads whose digest does
// not match.
func (c Checkpoint) Block() (Block, error) {
	height, err := strconv.ParseUint(c.Height, 10, 32)
	if err != nil {
		return Block{}, fmt.Errorf("invalid checkpoint height %q: %w", c.Height, err)
	}
	hash, err := ParseBlockHash(c.Hash)
	if err != nil {
		return Block{}, err
	}
	block := Block{Height: uint32(height), Hash: hash}

	digest := Digest(block)
	if c.Digest != hex.EncodeToString(digest[:]) {
		return Block{}, fmt.Errorf("checkpoint digest mismatch for block %s", block)
	}
	return block, nil
}

func EncodeCheckpoint(c Checkpoint) ([]byte, error) {
	return json.Marshal(c)
}

func DecodeCheckpoint(data []byte) (Checkpoint, Block, error) {
	var c Checkpoint
	if err := json.Unmarshal(data, &c); err != nil {
		return c, Block{}, fmt.Errorf("failed to unmarshal checkpoint: %w", err)
	}
	block, err := c.Block()
	return c, block, err
}
