package database

import (
	"context"
	"fmt"
	"net/url"

	"github.com/flare-foundation/go-flare-common/pkg/logger"
	"github.com/kpioracles/oracle-answerer/internal/config"
	"github.com/pkg/errors"

	"gorm.io/driver/postgres"
	"gorm.io/gorm"
	"gorm.io/gorm/clause"
	gormlogger "gorm.io/gorm/logger"
)

var (
	ErrDuplicateOracle = errors.New("active oracle already exists")
	ErrNoCheckpoint    = errors.New("no checkpoint for chain")
)

// DB is safe for concurrent use: every call takes a connection from the pool
// for its own duration only.
type DB struct {
	g *gorm.DB
}

func New(cfg *config.DB) (*DB, error) {
	g, err := Connect(cfg)
	if err != nil {
		return nil, err
	}

	logger.Debug("connected to the DB")

	sqlDB, err := g.DB()
	if err != nil {
		return nil, err
	}
	sqlDB.SetMaxOpenConns(cfg.MaxOpenConns)
	sqlDB.SetMaxIdleConns(cfg.MaxIdleConns)

	if err := g.AutoMigrate(ActiveOracle{}, Checkpoint{}); err != nil {
		return nil, errors.Wrap(err, "could not migrate DB entities")
	}

	logger.Debug("migrated DB entities")

	return &DB{g: g}, nil
}

// NewWithGorm wraps an already opened connection without migrating it.
func NewWithGorm(g *gorm.DB) *DB {
	return &DB{g: g}
}

func (db *DB) Close() error {
	sqlDB, err := db.g.DB()
	if err != nil {
		return err
	}

	return sqlDB.Close()
}

func Connect(cfg *config.DB) (*gorm.DB, error) {
	dsn := formatDSN(cfg)

	gormCfg := gorm.Config{
		Logger:         gormlogger.Default.LogMode(getGormLogLevel(cfg)),
		TranslateError: true,
	}

	return gorm.Open(postgres.Open(dsn), &gormCfg)
}

func getGormLogLevel(cfg *config.DB) gormlogger.LogLevel {
	if cfg.LogQueries {
		return gormlogger.Info
	}

	return gormlogger.Silent
}

func formatDSN(cfg *config.DB) string {
	u := url.URL{
		Scheme: "postgres",
		User:   url.UserPassword(cfg.Username, cfg.Password),
		Host:   fmt.Sprintf("%s:%d", cfg.Host, cfg.Port),
		Path:   cfg.DBName,
	}

	return u.String()
}

// AdvanceCheckpoint records blockNumber as the checkpoint of chainID,
// overwriting any previous value.
func (db *DB) AdvanceCheckpoint(ctx context.Context, chainID, blockNumber uint64) error {
	checkpoint := Checkpoint{ChainID: chainID, BlockNumber: blockNumber}

	err := db.g.WithContext(ctx).
		Clauses(clause.OnConflict{
			Columns:   []clause.Column{{Name: "chain_id"}},
			DoUpdates: clause.AssignmentColumns([]string{"block_number"}),
		}).
		Create(&checkpoint).
		Error
	if err != nil {
		return errors.Wrapf(err, "could not update checkpoint for chain %d", chainID)
	}

	return nil
}

// GetCheckpoint returns ErrNoCheckpoint if the chain was never scanned.
func (db *DB) GetCheckpoint(ctx context.Context, chainID uint64) (*Checkpoint, error) {
	checkpoint := new(Checkpoint)

	err := db.g.WithContext(ctx).Where("chain_id = ?", chainID).Take(checkpoint).Error
	if err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, ErrNoCheckpoint
		}

		return nil, errors.Wrapf(err, "could not read checkpoint for chain %d", chainID)
	}

	return checkpoint, nil
}

func (db *DB) CreateActiveOracle(ctx context.Context, oracle *ActiveOracle) error {
	err := db.g.WithContext(ctx).Create(oracle).Error
	if err != nil {
		if errors.Is(err, gorm.ErrDuplicatedKey) {
			return errors.Wrapf(ErrDuplicateOracle, "chain %d, oracle %s", oracle.ChainID, oracle.Address)
		}

		return errors.Wrap(err, "could not insert oracle into database")
	}

	return nil
}

// DeleteActiveOracle is a no-op when the oracle is already gone.
func (db *DB) DeleteActiveOracle(ctx context.Context, chainID uint64, address string) error {
	err := db.g.WithContext(ctx).
		Where("chain_id = ? AND address = ?", chainID, address).
		Delete(&ActiveOracle{}).
		Error
	if err != nil {
		return errors.Wrapf(err, "could not delete oracle %s from database", address)
	}

	return nil
}

func (db *DB) ListActiveOracles(ctx context.Context, chainID uint64) ([]ActiveOracle, error) {
	var oracles []ActiveOracle

	err := db.g.WithContext(ctx).Where("chain_id = ?", chainID).Find(&oracles).Error
	if err != nil {
		return nil, errors.Wrapf(err, "could not list active oracles for chain %d", chainID)
	}

	return oracles, nil
}
