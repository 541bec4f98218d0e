package altergolden

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"sync"
	"time"

	"github.com/bwmarrin/discordgo"
	"github.com/lmittmann/tint"
	"gorm.io/driver/postgres"
	"gorm.io/driver/sqlite"
	"gorm.io/gorm"
)

const (
	dbTypeSQLite   = "sqlite"
	dbTypePostgres = "postgres"
)

var (
	sqliteMaxOpenConns    = 1
	sqliteMaxIdleConns    = 1
	sqliteMaxConnLifetime = 5 * time.Minute
	sqliteExecPragma      = []string{
		"pragma journal_mode=WAL;",
		"pragma synchronous = normal;",
		"pragma temp_store = memory;",
		"pragma foreign_keys = ON;",
	}
	dbOperationTimeout = 30 * time.Second
)

// Database wraps the GORM connection used for audit records and user
// rows. SQLite only supports a single writer, so writes are serialized
// behind a mutex unless concurrent writes are enabled (postgres).
type Database struct {
	db                     *gorm.DB
	mu                     sync.Mutex
	logger                 *slog.Logger
	userCache              map[string]*User
	cacheMu                sync.Mutex
	enableConcurrentWrites bool
}

func NewDatabase(
	db *gorm.DB,
	log *slog.Logger,
	enableConcurrentWrites bool,
) *Database {
	if log == nil {
		log = slog.Default()
	}
	return &Database{
		db:                     db,
		userCache:              map[string]*User{},
		logger:                 log.With(loggerNameKey, "writedb"),
		enableConcurrentWrites: enableConcurrentWrites,
	}
}

func (d *Database) DB() *gorm.DB {
	return d.db
}

// GetOrCreateUser retrieves a user from the cache or the database,
// creating a new row the first time a user interacts with the bot. It
// also keeps the cached username fields in step with discord.
func (d *Database) GetOrCreateUser(
	ctx context.Context,
	u discordgo.User,
) (*User, bool, error) {
	d.cacheMu.Lock()
	defer d.cacheMu.Unlock()

	if user, cached := d.userCache[u.ID]; cached {
		user.LastSeen = time.Now().UTC().UnixMilli()
		updates := map[string]any{"last_seen": user.LastSeen}
		if user.userChangedDiscordUsername(u) {
			user.Username = u.Username
			user.GlobalName = u.GlobalName
			updates["username"] = u.Username
			updates["global_name"] = u.GlobalName
		}
		if _, err := d.Updates(ctx, user, updates); err != nil {
			d.logger.ErrorContext(
				ctx,
				"error updating user",
				"user", user,
				tint.Err(err),
			)
		}
		return user, false, nil
	}

	var existing User
	err := d.db.WithContext(ctx).Where("id = ?", u.ID).Last(&existing).Error
	switch {
	case err == nil:
		existing.LastSeen = time.Now().UTC().UnixMilli()
		d.userCache[u.ID] = &existing
		return &existing, false, nil
	case !errors.Is(err, gorm.ErrRecordNotFound):
		return nil, false, err
	}

	user := NewUser(u)
	user.LastSeen = time.Now().UTC().UnixMilli()
	if _, err := d.Create(ctx, user); err != nil {
		d.logger.ErrorContext(
			ctx,
			"error creating user",
			"user", user,
			tint.Err(err),
		)
		return nil, true, err
	}
	d.userCache[u.ID] = user
	return user, true, nil
}

func (d *Database) Create(ctx context.Context, value any) (
	rowsAffected int64,
	err error,
) {
	if !d.enableConcurrentWrites {
		d.mu.Lock()
		defer d.mu.Unlock()
	}
	if _, ok := ctx.Deadline(); !ok {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, dbOperationTimeout)
		defer cancel()
	}
	rv := d.db.WithContext(ctx).Create(value)
	return rv.RowsAffected, rv.Error
}

func (d *Database) Save(ctx context.Context, value any) (
	rowsAffected int64,
	err error,
) {
	if !d.enableConcurrentWrites {
		d.mu.Lock()
		defer d.mu.Unlock()
	}
	if _, ok := ctx.Deadline(); !ok {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, dbOperationTimeout)
		defer cancel()
	}
	rv := d.db.WithContext(ctx).Save(value)
	return rv.RowsAffected, rv.Error
}

func (d *Database) Updates(ctx context.Context, model, values any) (
	rowsAffected int64,
	err error,
) {
	if !d.enableConcurrentWrites {
		d.mu.Lock()
		defer d.mu.Unlock()
	}
	if _, ok := ctx.Deadline(); !ok {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, dbOperationTimeout)
		defer cancel()
	}
	rv := d.db.WithContext(ctx).Model(model).Updates(values)
	return rv.RowsAffected, rv.Error
}

// CreateDB initializes a GORM database connection for the given type and
// runs migrations for the audit models.
func CreateDB(
	ctx context.Context,
	databaseType string,
	database string,
	handler slog.Handler,
	slowThreshold time.Duration,
) (*gorm.DB, error) {
	if handler == nil {
		handler = tint.NewHandler(
			os.Stdout, &tint.Options{
				Level:     slog.LevelWarn,
				AddSource: true,
			},
		)
	}
	gormLogger := newGORMLogger(handler, slowThreshold)
	dbLogger := slog.New(handler)

	dbLogger.InfoContext(
		ctx,
		"initializing database",
		"database_type", databaseType,
		"database", database,
	)
	db, err := getDB(databaseType, database, gormLogger)
	if err != nil {
		return db, err
	}

	if databaseType == dbTypeSQLite {
		sqlDB, sqlErr := db.DB()
		if sqlErr != nil {
			return db, sqlErr
		}
		sqlDB.SetMaxOpenConns(sqliteMaxOpenConns)
		sqlDB.SetMaxIdleConns(sqliteMaxIdleConns)
		sqlDB.SetConnMaxLifetime(sqliteMaxConnLifetime)
		for _, pragma := range sqliteExecPragma {
			if execErr := db.WithContext(ctx).Exec(pragma).Error; execErr != nil {
				return db, execErr
			}
		}
	}

	txn := db.WithContext(ctx).Begin()
	if err = txn.Migrator().AutoMigrate(
		&User{},
		&VoteRecord{},
		&ActionRecord{},
	); err != nil {
		return db, err
	}
	if commitErr := txn.Commit().Error; commitErr != nil {
		return db, commitErr
	}

	return db, nil
}

func getDB(
	databaseType string,
	database string,
	gormLogger *gormStructuredLogger,
) (*gorm.DB, error) {
	switch databaseType {
	case dbTypeSQLite:
		parentDir := filepath.Dir(database)
		if parentDir != "" {
			if err := os.MkdirAll(parentDir, 0755); err != nil {
				if !errors.Is(err, os.ErrExist) {
					return nil, err
				}
			}
		}
		return gorm.Open(
			sqlite.Open(database),
			&gorm.Config{
				Logger: gormLogger,
				NowFunc: func() time.Time {
					return time.Now().UTC()
				},
			},
		)
	case dbTypePostgres:
		return gorm.Open(
			postgres.Open(database), &gorm.Config{
				Logger: gormLogger,
				NowFunc: func() time.Time {
					return time.Now().UTC()
				},
			},
		)
	default:
		return nil, fmt.Errorf(
			"unsupported database type: %s (must be %q or %q)",
			databaseType, dbTypeSQLite, dbTypePostgres,
		)
	}
}
