package storage

import (
	"context"
	"encoding/binary"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/syndtr/goleveldb/leveldb"
	"github.com/syndtr/goleveldb/leveldb/opt"
	lvlstorage "github.com/syndtr/goleveldb/leveldb/storage"
	"github.com/syndtr/goleveldb/leveldb/util"

	"github.com/RiemaLabs/modular-block-committer/checkpoint"
	"github.com/RiemaLabs/modular-block-committer/internal/metrics"
)

var (
	submissionPrefix = []byte("submission/")
	heightPrefix     = []byte("height/")
)

// LevelDB keeps one record per block hash plus a height index whose last key
// points at the latest submission. Writes go through leveldb transactions,
// which are exclusive, so read-modify-write updates cannot interleave.
type LevelDB struct {
	db *leveldb.DB
}

var _ checkpoint.SubmissionStore = (*LevelDB)(nil)

func OpenLevelDB(path string) (*LevelDB, error) {
	db, err := leveldb.OpenFile(path, nil)
	if err != nil {
		return nil, checkpoint.StorageError(fmt.Errorf("opening leveldb at %s: %w", path, err))
	}
	return &LevelDB{db: db}, nil
}

// NewMemoryLevelDB returns a store that lives in memory only.
func NewMemoryLevelDB() (*LevelDB, error) {
	db, err := leveldb.Open(lvlstorage.NewMemStorage(), nil)
	if err != nil {
		return nil, checkpoint.StorageError(err)
	}
	return &LevelDB{db: db}, nil
}

func submissionKey(hash checkpoint.BlockHash) []byte {
	key := make([]byte, 0, len(submissionPrefix)+checkpoint.BlockHashSize)
	key = append(key, submissionPrefix...)
	return append(key, hash[:]...)
}

func heightKey(height uint32, hash checkpoint.BlockHash) []byte {
	key := make([]byte, 0, len(heightPrefix)+4+checkpoint.BlockHashSize)
	key = append(key, heightPrefix...)
	key = binary.BigEndian.AppendUint32(key, height)
	return append(key, hash[:]...)
}

func (l *LevelDB) Insert(_ context.Context, submission checkpoint.Submission) error {
	defer metrics.ObserveDBQuery("insertSubmission", time.Now())
	if err := validate(submission); err != nil {
		return err
	}

	tr, err := l.db.OpenTransaction()
	if err != nil {
		return checkpoint.StorageError(err)
	}
	defer tr.Discard()

	key := submissionKey(submission.Block.Hash)
	exists, err := tr.Has(key, nil)
	if err != nil {
		return checkpoint.StorageError(err)
	}
	if exists {
		return alreadyExists(submission.Block.Hash)
	}

	value, err := json.Marshal(rowFromSubmission(submission))
	if err != nil {
		return checkpoint.OtherError(err)
	}
	if err := tr.Put(key, value, nil); err != nil {
		return checkpoint.StorageError(err)
	}
	if err := tr.Put(heightKey(submission.Block.Height, submission.Block.Hash), nil, nil); err != nil {
		return checkpoint.StorageError(err)
	}
	return checkpoint.StorageError(tr.Commit())
}

func (l *LevelDB) LatestSubmission(_ context.Context) (checkpoint.Submission, bool, error) {
	defer metrics.ObserveDBQuery("latestSubmission", time.Now())
	snapshot, err := l.db.GetSnapshot()
	if err != nil {
		return checkpoint.Submission{}, false, checkpoint.StorageError(err)
	}
	defer snapshot.Release()

	iter := snapshot.NewIterator(util.BytesPrefix(heightPrefix), nil)
	defer iter.Release()
	if !iter.Last() {
		return checkpoint.Submission{}, false, checkpoint.StorageError(iter.Error())
	}

	var hash checkpoint.BlockHash
	copy(hash[:], iter.Key()[len(heightPrefix)+4:])
	return l.get(snapshot, hash)
}

func (l *LevelDB) Submission(_ context.Context, hash checkpoint.BlockHash) (checkpoint.Submission, bool, error) {
	defer metrics.ObserveDBQuery("submissionByHash", time.Now())
	return l.get(l.db, hash)
}

func (l *LevelDB) MarkCompleted(_ context.Context, hash checkpoint.BlockHash) (checkpoint.Submission, error) {
	defer metrics.ObserveDBQuery("markCompleted", time.Now())
	tr, err := l.db.OpenTransaction()
	if err != nil {
		return checkpoint.Submission{}, checkpoint.StorageError(err)
	}
	defer tr.Discard()

	submission, found, err := l.get(tr, hash)
	if err != nil {
		return submission, err
	}
	if !found {
		return submission, notFound(hash)
	}
	if submission.Completed {
		return submission, nil
	}

	submission.Completed = true
	value, err := json.Marshal(rowFromSubmission(submission))
	if err != nil {
		return checkpoint.Submission{}, checkpoint.OtherError(err)
	}
	if err := tr.Put(submissionKey(hash), value, nil); err != nil {
		return checkpoint.Submission{}, checkpoint.StorageError(err)
	}
	if err := tr.Commit(); err != nil {
		return checkpoint.Submission{}, checkpoint.StorageError(err)
	}
	return submission, nil
}

func (l *LevelDB) Close() error {
	return l.db.Close()
}

type reader interface {
	Get(key []byte, ro *opt.ReadOptions) ([]byte, error)
}

func (l *LevelDB) get(r reader, hash checkpoint.BlockHash) (checkpoint.Submission, bool, error) {
	value, err := r.Get(submissionKey(hash), nil)
	if errors.Is(err, leveldb.ErrNotFound) {
		return checkpoint.Submission{}, false, nil
	}
	if err != nil {
		return checkpoint.Submission{}, false, checkpoint.StorageError(err)
	}

	var row SubmissionRow
	if err := json.Unmarshal(value, &row); err != nil {
		return checkpoint.Submission{}, false, checkpoint.StorageError(fmt.Errorf("corrupted submission %s: %w", hash, err))
	}
	submission, err := row.Submission()
	if err != nil {
		return checkpoint.Submission{}, false, checkpoint.StorageError(err)
	}
	return submission, true, nil
}
