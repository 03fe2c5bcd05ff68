// Package sqlite provides a SQLite-backed raid lifecycle storage
// implementation.
package sqlite

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"path/filepath"
	"strings"
	"time"

	"github.com/shopspring/decimal"
	msqlite "modernc.org/sqlite"
	sqlite3lib "modernc.org/sqlite/lib"

	sqlitemigrate "github.com/web3kaiju/raidbot/internal/platform/storage/sqlitemigrate"
	"github.com/web3kaiju/raidbot/internal/services/raids/domain"
	"github.com/web3kaiju/raidbot/internal/services/raids/storage"
	"github.com/web3kaiju/raidbot/internal/services/raids/storage/sqlite/migrations"
	_ "modernc.org/sqlite"
)

// Store persists raid lifecycle state in SQLite.
type Store struct {
	sqlDB *sql.DB
	path  string
}

func toMillis(value time.Time) int64 {
	return value.UTC().UnixMilli()
}

func fromMillis(value int64) time.Time {
	return time.UnixMilli(value).UTC()
}

// Slot balances and ledger amounts are stored as integer thousandths of a
// slot so the conditional debit stays a single integer UPDATE. Decimal is the
// unit at the API boundary.
func toMilliSlots(value decimal.Decimal) int64 {
	return value.Shift(3).IntPart()
}

// toMilliSlotsExact converts a caller-supplied amount, rejecting anything
// finer than a thousandth of a slot so no fraction is silently dropped.
func toMilliSlotsExact(value decimal.Decimal) (int64, error) {
	milli := value.Shift(3)
	if !milli.IsInteger() {
		return 0, domain.ErrInvalidAmount
	}
	return milli.IntPart(), nil
}

func fromMilliSlots(value int64) decimal.Decimal {
	return decimal.New(value, -3)
}

// Open opens a SQLite raids store and applies embedded migrations.
func Open(path string) (*Store, error) {
	if strings.TrimSpace(path) == "" {
		return nil, fmt.Errorf("storage path is required")
	}
	cleanPath := filepath.Clean(path)
	// _pragma parameters apply per connection, so every conn in the pool gets
	// WAL, enforced foreign keys, and a busy timeout instead of SQLITE_BUSY.
	dsn := cleanPath + "?_pragma=journal_mode(WAL)&_pragma=busy_timeout(5000)&_pragma=foreign_keys(1)&_pragma=synchronous(NORMAL)"
	sqlDB, err := sql.Open("sqlite", dsn)
	if err != nil {
		return nil, fmt.Errorf("open sqlite db: %w", err)
	}
	if err := sqlDB.Ping(); err != nil {
		_ = sqlDB.Close()
		return nil, fmt.Errorf("ping sqlite db: %w", err)
	}
	if err := sqlitemigrate.ApplyMigrations(sqlDB, migrations.FS, ""); err != nil {
		_ = sqlDB.Close()
		return nil, fmt.Errorf("run migrations: %w", err)
	}
	return &Store{sqlDB: sqlDB, path: cleanPath}, nil
}

// Path returns the filesystem path of the backing database.
func (s *Store) Path() string {
	if s == nil {
		return ""
	}
	return s.path
}

// Close closes the SQLite handle.
func (s *Store) Close() error {
	if s == nil || s.sqlDB == nil {
		return nil
	}
	return s.sqlDB.Close()
}

func (s *Store) ready() error {
	if s == nil || s.sqlDB == nil {
		return fmt.Errorf("storage is not configured")
	}
	return nil
}

func isUniqueViolation(err error) bool {
	if err == nil {
		return false
	}
	var sqliteErr *msqlite.Error
	if errors.As(err, &sqliteErr) {
		switch sqliteErr.Code() {
		case sqlite3lib.SQLITE_CONSTRAINT_PRIMARYKEY, sqlite3lib.SQLITE_CONSTRAINT_UNIQUE:
			return true
		}
	}
	return strings.Contains(strings.ToLower(err.Error()), "unique constraint failed")
}

// CreateUser registers a user and grants signup and referral credits in one
// transaction. It reports false without mutation when the user exists.
func (s *Store) CreateUser(ctx context.Context, user storage.NewUser) (bool, error) {
	if err := ctx.Err(); err != nil {
		return false, err
	}
	if err := s.ready(); err != nil {
		return false, err
	}
	if user.ID == 0 {
		return false, fmt.Errorf("user id is required")
	}
	user.Name = strings.TrimSpace(user.Name)
	if user.Name == "" {
		return false, fmt.Errorf("user name is required")
	}

	tx, err := s.sqlDB.BeginTx(ctx, nil)
	if err != nil {
		return false, fmt.Errorf("begin create user: %w", err)
	}
	defer func() { _ = tx.Rollback() }()

	now := toMillis(time.Now())
	var refBy any
	if user.RefBy != 0 {
		refBy = user.RefBy
	}
	result, err := tx.ExecContext(ctx, `
INSERT OR IGNORE INTO users (id, name, ref_by, slots, created_at, updated_at)
VALUES (?, ?, ?, 0, ?, ?)
`, user.ID, user.Name, refBy, now, now)
	if err != nil {
		return false, fmt.Errorf("insert user: %w", err)
	}
	inserted, err := result.RowsAffected()
	if err != nil {
		return false, fmt.Errorf("insert user rows: %w", err)
	}
	if inserted == 0 {
		return false, nil
	}

	if grant := toMilliSlots(user.SignupGrant); grant > 0 {
		if err := creditTx(ctx, tx, user.ID, grant, domain.ReasonAdminGrant, now); err != nil {
			return false, err
		}
	}
	if bonus := toMilliSlots(user.ReferralBonus); bonus > 0 && user.RefBy != 0 {
		result, err := tx.ExecContext(ctx, `
UPDATE users
SET slots = slots + ?, ref_count = ref_count + 1, updated_at = ?
WHERE id = ?
`, bonus, now, user.RefBy)
		if err != nil {
			return false, fmt.Errorf("credit referrer: %w", err)
		}
		affected, err := result.RowsAffected()
		if err != nil {
			return false, fmt.Errorf("credit referrer rows: %w", err)
		}
		if affected > 0 {
			if _, err := tx.ExecContext(ctx, `
INSERT INTO slot_logs (user_id, amount, reason, created_at)
VALUES (?, ?, ?, ?)
`, user.RefBy, bonus, string(domain.ReasonReferral), now); err != nil {
				return false, fmt.Errorf("log referral credit: %w", err)
			}
		}
	}

	if err := tx.Commit(); err != nil {
		return false, fmt.Errorf("commit create user: %w", err)
	}
	return true, nil
}

// GetUser returns one user by id.
func (s *Store) GetUser(ctx context.Context, id int64) (storage.User, error) {
	if err := ctx.Err(); err != nil {
		return storage.User{}, err
	}
	if err := s.ready(); err != nil {
		return storage.User{}, err
	}

	row := s.sqlDB.QueryRowContext(ctx, `
SELECT id, name, twitter_handle, slots, ref_by, ref_count, post_ban_until, last_post_at, created_at, updated_at
FROM users
WHERE id = ?
`, id)

	var user storage.User
	var handle sql.NullString
	var slots int64
	var refBy, banUntil, lastPost sql.NullInt64
	var createdAt, updatedAt int64
	err := row.Scan(
		&user.ID,
		&user.Name,
		&handle,
		&slots,
		&refBy,
		&user.RefCount,
		&banUntil,
		&lastPost,
		&createdAt,
		&updatedAt,
	)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return storage.User{}, storage.ErrNotFound
		}
		return storage.User{}, fmt.Errorf("get user: %w", err)
	}
	user.TwitterHandle = handle.String
	user.Slots = fromMilliSlots(slots)
	user.RefBy = refBy.Int64
	if banUntil.Valid {
		user.PostBanUntil = fromMillis(banUntil.Int64)
	}
	if lastPost.Valid {
		user.LastPostAt = fromMillis(lastPost.Int64)
	}
	user.CreatedAt = fromMillis(createdAt)
	user.UpdatedAt = fromMillis(updatedAt)
	return user, nil
}

// SetHandle binds a handle to a user, enforcing global uniqueness at write
// time. Neither user is changed when the handle is taken.
func (s *Store) SetHandle(ctx context.Context, id int64, handle string) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	if err := s.ready(); err != nil {
		return err
	}
	handle = strings.TrimPrefix(strings.TrimSpace(handle), "@")
	if handle == "" {
		return fmt.Errorf("handle is required")
	}

	result, err := s.sqlDB.ExecContext(ctx, `
UPDATE users
SET twitter_handle = ?, updated_at = ?
WHERE id = ?
  AND NOT EXISTS (SELECT 1 FROM users other WHERE other.twitter_handle = ? AND other.id != ?)
`, handle, toMillis(time.Now()), id, handle, id)
	if err != nil {
		if isUniqueViolation(err) {
			return storage.ErrAlreadyExists
		}
		return fmt.Errorf("set handle: %w", err)
	}
	affected, err := result.RowsAffected()
	if err != nil {
		return fmt.Errorf("set handle rows: %w", err)
	}
	if affected == 0 {
		var exists int
		err := s.sqlDB.QueryRowContext(ctx, `SELECT 1 FROM users WHERE id = ?`, id).Scan(&exists)
		if errors.Is(err, sql.ErrNoRows) {
			return storage.ErrNotFound
		}
		if err != nil {
			return fmt.Errorf("check user: %w", err)
		}
		return storage.ErrAlreadyExists
	}
	return nil
}

// BanFromPosting sets the user's posting ban deadline.
func (s *Store) BanFromPosting(ctx context.Context, id int64, until time.Time) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	if err := s.ready(); err != nil {
		return err
	}

	result, err := s.sqlDB.ExecContext(ctx, `
UPDATE users
SET post_ban_until = ?, updated_at = ?
WHERE id = ?
`, toMillis(until), toMillis(time.Now()), id)
	if err != nil {
		return fmt.Errorf("ban user: %w", err)
	}
	affected, err := result.RowsAffected()
	if err != nil {
		return fmt.Errorf("ban user rows: %w", err)
	}
	if affected == 0 {
		return storage.ErrNotFound
	}
	return nil
}

var _ storage.UserStore = (*Store)(nil)
