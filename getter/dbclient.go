package getter

import (
	"context"
	"fmt"
	"math"

	"github.com/prometheus/client_golang/prometheus"
	"gorm.io/driver/postgres"
	"gorm.io/gorm"
	"gorm.io/gorm/logger"

	"github.com/RiemaLabs/modular-block-committer/checkpoint"
)

// BlockHashRow is a row of an indexer's block_hashes table.
type BlockHashRow struct {
	BlockHeight int64  `gorm:"column:block_height;primaryKey"`
	BlockHash   string `gorm:"column:block_hash"`
}

func (BlockHashRow) TableName() string {
	return "block_hashes"
}

// DBGetter reads blocks from the block_hashes table maintained by an indexer.
type DBGetter struct {
	db            *gorm.DB
	networkErrors prometheus.Counter
}

var _ BlockGetter = (*DBGetter)(nil)

func ConnectDatabase(config DatabaseConfig) (*gorm.DB, error) {
	dsn := fmt.Sprintf("host=%s user=%s password=%s dbname=%s port=%s",
		config.Host, config.User, config.Password, config.DBname, config.Port)
	return gorm.Open(postgres.Open(dsn), &gorm.Config{Logger: logger.Default.LogMode(logger.Silent)})
}

func NewDBGetter(config DatabaseConfig) (*DBGetter, error) {
	db, err := ConnectDatabase(config)
	if err != nil {
		return nil, checkpoint.NetworkError(fmt.Errorf("connecting to source database: %w", err))
	}
	return NewDBGetterFromDB(db), nil
}

func NewDBGetterFromDB(db *gorm.DB) *DBGetter {
	return &DBGetter{db: db, networkErrors: newNetworkErrors()}
}

func (g *DBGetter) Collectors() []prometheus.Collector {
	return []prometheus.Collector{g.networkErrors}
}

func (g *DBGetter) Close() error {
	sqlDB, err := g.db.DB()
	if err != nil {
		return err
	}
	return sqlDB.Close()
}

func (g *DBGetter) LatestBlock(ctx context.Context) (checkpoint.Block, error) {
	var rows []BlockHashRow
	err := g.db.WithContext(ctx).Order("block_height DESC").Limit(1).Find(&rows).Error
	if err != nil {
		g.networkErrors.Inc()
		return checkpoint.Block{}, checkpoint.NetworkError(fmt.Errorf("reading latest block: %w", err))
	}
	if len(rows) == 0 {
		return checkpoint.Block{}, checkpoint.Errorf(checkpoint.KindOther, "source database has no blocks: %w", checkpoint.ErrNotFound)
	}
	return toBlock(rows[0])
}

func (g *DBGetter) BlockAtHeight(ctx context.Context, height uint32) (checkpoint.Block, bool, error) {
	var rows []BlockHashRow
	err := g.db.WithContext(ctx).Where("block_height = ?", int64(height)).Limit(1).Find(&rows).Error
	if err != nil {
		g.networkErrors.Inc()
		return checkpoint.Block{}, false, checkpoint.NetworkError(fmt.Errorf("reading block %d: %w", height, err))
	}
	if len(rows) == 0 {
		return checkpoint.Block{}, false, nil
	}
	block, err := toBlock(rows[0])
	if err != nil {
		return checkpoint.Block{}, false, err
	}
	return block, true, nil
}

func toBlock(row BlockHashRow) (checkpoint.Block, error) {
	if row.BlockHeight < 0 || row.BlockHeight > math.MaxUint32 {
		return checkpoint.Block{}, checkpoint.Errorf(checkpoint.KindOther, "block height %d out of range", row.BlockHeight)
	}
	hash, err := checkpoint.ParseBlockHash(row.BlockHash)
	if err != nil {
		return checkpoint.Block{}, checkpoint.OtherError(fmt.Errorf("block %d: %w", row.BlockHeight, err))
	}
	return checkpoint.Block{Height: uint32(row.BlockHeight), Hash: hash}, nil
}
