package storage

import (
	"fmt"

	"github.com/RiemaLabs/modular-block-committer/checkpoint"
)

// SubmissionRow is the persisted shape of a submission, shared by the SQL and
// leveldb stores.
type SubmissionRow struct {
	Hash            string `gorm:"column:fuel_block_hash;type:char(64);primaryKey" json:"hash"`
	Height          uint32 `gorm:"column:fuel_block_height;type:bigint;not null;index" json:"height"`
	SubmittalHeight int64  `gorm:"column:submittal_height;type:bigint;not null" json:"submittalHeight"`
	Completed       bool   `gorm:"column:completed;not null" json:"completed"`
}

func (SubmissionRow) TableName() string {
	return "l1_submissions"
}

func rowFromSubmission(submission checkpoint.Submission) SubmissionRow {
	return SubmissionRow{
		Hash:            submission.Block.Hash.String(),
		Height:          submission.Block.Height,
		SubmittalHeight: submission.SubmittalHeight.Int64(),
		Completed:       submission.Completed,
	}
}

func (row SubmissionRow) Submission() (checkpoint.Submission, error) {
	hash, err := checkpoint.ParseBlockHash(row.Hash)
	if err != nil {
		return checkpoint.Submission{}, fmt.Errorf("corrupted submission row: %w", err)
	}
	submittalHeight, err := checkpoint.L1HeightFromInt64(row.SubmittalHeight)
	if err != nil {
		return checkpoint.Submission{}, fmt.Errorf("corrupted submission row %s: %w", row.Hash, err)
	}
	return checkpoint.Submission{
		Block:           checkpoint.Block{Height: row.Height, Hash: hash},
		SubmittalHeight: submittalHeight,
		Completed:       row.Completed,
	}, nil
}

func validate(submission checkpoint.Submission) error {
	if err := submission.Validate(); err != nil {
		return checkpoint.OtherError(err)
	}
	return nil
}

func notFound(hash checkpoint.BlockHash) error {
	return checkpoint.Errorf(checkpoint.KindOther, "submission for block hash %s: %w", hash, checkpoint.ErrNotFound)
}

func alreadyExists(hash checkpoint.BlockHash) error {
	return checkpoint.Errorf(checkpoint.KindOther, "submission for block hash %s: %w", hash, checkpoint.ErrAlreadyExists)
}
