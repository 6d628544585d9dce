package storage

import (
	"context"
	"errors"
	"fmt"
	"time"

	"gorm.io/driver/mysql"
	"gorm.io/driver/postgres"
	"gorm.io/gorm"
	"gorm.io/gorm/clause"
	"gorm.io/gorm/logger"

	"github.com/RiemaLabs/modular-block-committer/checkpoint"
	"github.com/RiemaLabs/modular-block-committer/internal/metrics"
)

// SQL persists submissions in a relational database through gorm.
type SQL struct {
	db *gorm.DB
}

var _ checkpoint.SubmissionStore = (*SQL)(nil)

func gormConfig() *gorm.Config {
	return &gorm.Config{
		TranslateError: true,
		Logger:         logger.Default.LogMode(logger.Silent),
	}
}

func OpenMySQL(dsn string) (*SQL, error) {
	db, err := gorm.Open(mysql.Open(dsn), gormConfig())
	if err != nil {
		return nil, checkpoint.StorageError(fmt.Errorf("connecting to mysql: %w", err))
	}
	return NewSQL(db)
}

func OpenPostgres(dsn string) (*SQL, error) {
	db, err := gorm.Open(postgres.Open(dsn), gormConfig())
	if err != nil {
		return nil, checkpoint.StorageError(fmt.Errorf("connecting to postgres: %w", err))
	}
	return NewSQL(db)
}

// NewSQL migrates the submissions table on db and wraps it.
func NewSQL(db *gorm.DB) (*SQL, error) {
	if err := db.AutoMigrate(&SubmissionRow{}); err != nil {
		return nil, checkpoint.StorageError(fmt.Errorf("migrating submissions table: %w", err))
	}
	return &SQL{db: db}, nil
}

func (s *SQL) Insert(ctx context.Context, submission checkpoint.Submission) error {
	defer metrics.ObserveDBQuery("insertSubmission", time.Now())
	if err := validate(submission); err != nil {
		return err
	}

	row := rowFromSubmission(submission)
	err := s.db.WithContext(ctx).Create(&row).Error
	if errors.Is(err, gorm.ErrDuplicatedKey) {
		return alreadyExists(submission.Block.Hash)
	}
	return checkpoint.StorageError(err)
}

func (s *SQL) LatestSubmission(ctx context.Context) (checkpoint.Submission, bool, error) {
	defer metrics.ObserveDBQuery("latestSubmission", time.Now())
	var rows []SubmissionRow
	err := s.db.WithContext(ctx).
		Order("fuel_block_height DESC, fuel_block_hash DESC").
		Limit(1).
		Find(&rows).Error
	if err != nil {
		return checkpoint.Submission{}, false, checkpoint.StorageError(err)
	}
	if len(rows) == 0 {
		return checkpoint.Submission{}, false, nil
	}
	return toSubmission(rows[0])
}

func (s *SQL) Submission(ctx context.Context, hash checkpoint.BlockHash) (checkpoint.Submission, bool, error) {
	defer metrics.ObserveDBQuery("submissionByHash", time.Now())
	return s.find(s.db.WithContext(ctx), hash)
}

func (s *SQL) MarkCompleted(ctx context.Context, hash checkpoint.BlockHash) (checkpoint.Submission, error) {
	defer metrics.ObserveDBQuery("markCompleted", time.Now())
	var updated checkpoint.Submission
	err := s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		submission, found, err := s.find(tx.Clauses(clause.Locking{Strength: "UPDATE"}), hash)
		if err != nil {
			return err
		}
		if !found {
			return notFound(hash)
		}
		if !submission.Completed {
			res := tx.Model(&SubmissionRow{}).
				Where("fuel_block_hash = ?", hash.String()).
				Update("completed", true)
			if res.Error != nil {
				return checkpoint.StorageError(res.Error)
			}
			submission.Completed = true
		}
		updated = submission
		return nil
	})
	if err != nil {
		var committerErr *checkpoint.Error
		if !errors.As(err, &committerErr) {
			err = checkpoint.StorageError(err)
		}
		return checkpoint.Submission{}, err
	}
	return updated, nil
}

func (s *SQL) Close() error {
	sqlDB, err := s.db.DB()
	if err != nil {
		return err
	}
	return sqlDB.Close()
}

func (s *SQL) find(tx *gorm.DB, hash checkpoint.BlockHash) (checkpoint.Submission, bool, error) {
	var rows []SubmissionRow
	err := tx.Where("fuel_block_hash = ?", hash.String()).Limit(1).Find(&rows).Error
	if err != nil {
		return checkpoint.Submission{}, false, checkpoint.StorageError(err)
	}
	if len(rows) == 0 {
		return checkpoint.Submission{}, false, nil
	}
	return toSubmission(rows[0])
}

func toSubmission(row SubmissionRow) (checkpoint.Submission, bool, error) {
	submission, err := row.Submission()
	if err != nil {
		return checkpoint.Submission{}, false, checkpoint.StorageError(err)
	}
	return submission, true, nil
}
