package cache

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"time"

	"github.com/glebarez/sqlite"
	"gorm.io/driver/postgres"
	"gorm.io/gorm"
	"gorm.io/gorm/clause"
	"gorm.io/gorm/logger"
)

// entryModel maps to the "cache_entries" table.
type entryModel struct {
	CacheKey  string `gorm:"primaryKey;size:512"`
	Value     []byte `gorm:"not null"`
	ExpiresAt int64  `gorm:"not null;index"`
}

func (entryModel) TableName() string { return "cache_entries" }

// SQLBackend stores entries in a relational table through GORM. The same
// implementation serves SQLite and PostgreSQL.
type SQLBackend struct {
	db     *gorm.DB
	name   string
	logger *slog.Logger
}

// OpenSQLite opens (creating if needed) the SQLite database at path. SQLite
// runs in WAL mode so concurrent CLI invocations can read while one writes.
func OpenSQLite(path string, slogger *slog.Logger) (*SQLBackend, error) {
	if path == "" {
		return nil, errors.New("sqlite cache path is required")
	}

	if path != ":memory:" {
		dir := filepath.Dir(path)
		if err := os.MkdirAll(dir, 0750); err != nil {
			return nil, fmt.Errorf("failed to create cache directory %s: %w", dir, err)
		}
	}

	dsn := fmt.Sprintf("%s?_pragma=journal_mode(wal)&_pragma=busy_timeout(5000)", path)

	db, err := gorm.Open(sqlite.Open(dsn), gormConfig(slogger))
	if err != nil {
		return nil, fmt.Errorf("failed to open sqlite cache at %q: %w", path, err)
	}

	return newSQLBackend(db, "sqlite", slogger)
}

// OpenPostgres connects to the PostgreSQL database at dsn.
func OpenPostgres(dsn string, slogger *slog.Logger) (*SQLBackend, error) {
	db, err := gorm.Open(postgres.Open(dsn), gormConfig(slogger))
	if err != nil {
		return nil, fmt.Errorf("failed to connect to postgres cache: %w", err)
	}

	sqlDB, err := db.DB()
	if err != nil {
		return nil, fmt.Errorf("failed to get underlying sql.DB: %w", err)
	}
	sqlDB.SetMaxOpenConns(10)
	sqlDB.SetMaxIdleConns(2)
	sqlDB.SetConnMaxLifetime(30 * time.Minute)

	return newSQLBackend(db, "postgres", slogger)
}

func newSQLBackend(db *gorm.DB, name string, slogger *slog.Logger) (*SQLBackend, error) {
	if err := db.AutoMigrate(&entryModel{}); err != nil {
		return nil, fmt.Errorf("failed to migrate %s cache: %w", name, err)
	}

	return &SQLBackend{db: db, name: name, logger: slogger}, nil
}

func gormConfig(slogger *slog.Logger) *gorm.Config {
	return &gorm.Config{
		Logger: logger.New(
			slogAdapter{slogger},
			logger.Config{
				SlowThreshold:             200 * time.Millisecond,
				LogLevel:                  logger.Warn,
				IgnoreRecordNotFoundError: true,
			},
		),
		NowFunc: func() time.Time { return time.Now().UTC() },
	}
}

func (b *SQLBackend) Name() string {
	return b.name
}

func (b *SQLBackend) Get(ctx context.Context, key string) (Entry, bool, error) {
	var model entryModel
	err := b.db.WithContext(ctx).Where("cache_key = ?", key).Take(&model).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return Entry{}, false, nil
	}
	if err != nil {
		return Entry{}, false, err
	}

	return Entry{Key: model.CacheKey, Value: model.Value, ExpiresAt: model.ExpiresAt}, true, nil
}

func (b *SQLBackend) Set(ctx context.Context, entry Entry) error {
	model := entryModel{
		CacheKey:  entry.Key,
		Value:     entry.Value,
		ExpiresAt: entry.ExpiresAt,
	}

	return b.db.WithContext(ctx).
		Clauses(clause.OnConflict{
			Columns:   []clause.Column{{Name: "cache_key"}},
			DoUpdates: clause.AssignmentColumns([]string{"value", "expires_at"}),
		}).
		Create(&model).Error
}

func (b *SQLBackend) Delete(ctx context.Context, keys ...string) error {
	if len(keys) == 0 {
		return nil
	}
	return b.db.WithContext(ctx).Where("cache_key IN ?", keys).Delete(&entryModel{}).Error
}

func (b *SQLBackend) Sweep(ctx context.Context, now time.Time) (int64, error) {
	result := b.db.WithContext(ctx).Where("expires_at <= ?", now.UnixMilli()).Delete(&entryModel{})
	if result.Error != nil {
		return 0, result.Error
	}

	if result.RowsAffected > 0 {
		b.logger.Info("cache swept", slog.String("backend", b.name), slog.Int64("removed", result.RowsAffected))
	}
	return result.RowsAffected, nil
}

func (b *SQLBackend) Close() error {
	sqlDB, err := b.db.DB()
	if err != nil {
		return err
	}
	return sqlDB.Close()
}

// slogAdapter wraps *slog.Logger for GORM's logger.Writer interface.
type slogAdapter struct {
	logger *slog.Logger
}

func (s slogAdapter) Printf(format string, args ...any) {
	s.logger.Warn(fmt.Sprintf(format, args...))
}
