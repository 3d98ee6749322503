package storage

import (
	"context"
	"database/sql"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	"cointoss/internal/domain"

	"github.com/glebarez/sqlite"
	"gorm.io/driver/postgres"
	"gorm.io/gorm"
	"gorm.io/gorm/clause"
	"gorm.io/gorm/logger"
)

// readBatchSize bounds memory while streaming a cached day.
const readBatchSize = 1000

// Storage is the execution cache backed by SQLite or PostgreSQL.
type Storage struct {
	db *gorm.DB
}

var (
	_ domain.ExecutionCache = (*Storage)(nil)
	_ domain.ExecutionStore = (*Storage)(nil)
)

// NewStorage opens (or creates) the execution cache. A postgres:// or postgresql:// DSN
// selects PostgreSQL; anything else is a SQLite file path.
func NewStorage(path string) (*Storage, error) {
	dialector, err := dialectorFor(path)
	if err != nil {
		return nil, err
	}

	db, err := gorm.Open(dialector, &gorm.Config{
		Logger: logger.Default.LogMode(logger.Warn),
	})
	if err != nil {
		return nil, fmt.Errorf("failed to connect to database: %w", err)
	}

	if err := db.AutoMigrate(&domain.CachedExecution{}); err != nil {
		return nil, fmt.Errorf("failed to migrate database: %w", err)
	}

	return &Storage{db: db}, nil
}

func dialectorFor(path string) (gorm.Dialector, error) {
	if strings.HasPrefix(path, "postgres://") || strings.HasPrefix(path, "postgresql://") {
		return postgres.Open(path), nil
	}
	if err := os.MkdirAll(filepath.Dir(path), 0755); err != nil {
		return nil, fmt.Errorf("failed to create DB directory: %w", err)
	}
	// Pure Go SQLite
	return sqlite.Open(path), nil
}

// Close releases the underlying connection pool.
func (s *Storage) Close() error {
	sqlDB, err := s.db.DB()
	if err != nil {
		return err
	}
	return sqlDB.Close()
}

// ======================================================================================
// Execution Operations
// ======================================================================================

// SaveExecutions stores executions; ids already present are left untouched.
func (s *Storage) SaveExecutions(ctx context.Context, executions []domain.Execution) error {
	if len(executions) == 0 {
		return nil
	}
	rows := make([]domain.CachedExecution, 0, len(executions))
	for _, e := range executions {
		rows = append(rows, domain.NewCachedExecution(e))
	}
	return s.db.WithContext(ctx).
		Clauses(clause.OnConflict{DoNothing: true}).
		Create(&rows).Error
}

// CachedDays lists the days with cached executions on or after since, oldest first.
func (s *Storage) CachedDays(ctx context.Context, since time.Time) ([]time.Time, error) {
	var keys []string
	err := s.db.WithContext(ctx).
		Model(&domain.CachedExecution{}).
		Where("day >= ?", domain.DayKey(since)).
		Distinct("day").
		Order("day").
		Pluck("day", &keys).Error
	if err != nil {
		return nil, err
	}

	days := make([]time.Time, 0, len(keys))
	for _, k := range keys {
		day, err := time.Parse("2006-01-02", k)
		if err != nil {
			return nil, fmt.Errorf("corrupt day key %q: %w", k, err)
		}
		days = append(days, day)
	}
	return days, nil
}

// ReadCachedDay streams one day in id order (FindInBatches walks the primary key). Returning an error from fn stops the read.
func (s *Storage) ReadCachedDay(ctx context.Context, day time.Time, fn func(domain.Execution) error) error {
	var batch []domain.CachedExecution
	result := s.db.WithContext(ctx).
		Where("day = ?", domain.DayKey(day)).
		FindInBatches(&batch, readBatchSize, func(tx *gorm.DB, _ int) error {
			for _, row := range batch {
				if err := fn(row.Execution()); err != nil {
					return err
				}
			}
			return ctx.Err()
		})
	return result.Error
}

// LatestID returns the highest cached execution id, or 0 when the cache is empty.
func (s *Storage) LatestID(ctx context.Context) (int64, error) {
	var id sql.NullInt64
	err := s.db.WithContext(ctx).
		Model(&domain.CachedExecution{}).
		Select("MAX(id)").
		Row().
		Scan(&id)
	if err != nil {
		return 0, err
	}
	return id.Int64, nil
}

// Count returns the number of cached executions.
func (s *Storage) Count(ctx context.Context) (int64, error) {
	var n int64
	err := s.db.WithContext(ctx).Model(&domain.CachedExecution{}).Count(&n).Error
	return n, err
}
