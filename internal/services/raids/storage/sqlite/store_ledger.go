package sqlite

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"github.com/shopspring/decimal"

	"github.com/web3kaiju/raidbot/internal/services/raids/domain"
	"github.com/web3kaiju/raidbot/internal/services/raids/storage"
)

// creditTx appends a ledger event and increments the running balance inside
// an existing transaction. amount is in thousandths of a slot.
func creditTx(ctx context.Context, tx *sql.Tx, userID int64, amount int64, reason domain.LedgerReason, nowMillis int64) error {
	result, err := tx.ExecContext(ctx, `
UPDATE users SET slots = slots + ?, updated_at = ? WHERE id = ?
`, amount, nowMillis, userID)
	if err != nil {
		return fmt.Errorf("credit balance: %w", err)
	}
	affected, err := result.RowsAffected()
	if err != nil {
		return fmt.Errorf("credit balance rows: %w", err)
	}
	if affected == 0 {
		return storage.ErrNotFound
	}
	if _, err := tx.ExecContext(ctx, `
INSERT INTO slot_logs (user_id, amount, reason, created_at)
VALUES (?, ?, ?, ?)
`, userID, amount, string(reason), nowMillis); err != nil {
		return fmt.Errorf("log credit: %w", err)
	}
	return nil
}

// Credit appends a ledger event and increments the user's balance in one
// transaction so the running total and the log never diverge.
func (s *Store) Credit(ctx context.Context, userID int64, amount decimal.Decimal, reason domain.LedgerReason, now time.Time) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	if err := s.ready(); err != nil {
		return err
	}
	milli, err := toMilliSlotsExact(amount)
	if err != nil {
		return err
	}
	if milli <= 0 {
		return domain.ErrInvalidAmount
	}

	tx, err := s.sqlDB.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("begin credit: %w", err)
	}
	defer func() { _ = tx.Rollback() }()

	if err := creditTx(ctx, tx, userID, milli, reason, toMillis(now)); err != nil {
		return err
	}
	if err := tx.Commit(); err != nil {
		return fmt.Errorf("commit credit: %w", err)
	}
	return nil
}

// DebitOne decrements the balance by one whole slot iff it covers it. The
// guard and the decrement are one statement, so concurrent debits cannot
// drive the balance negative.
func (s *Store) DebitOne(ctx context.Context, userID int64) (bool, error) {
	if err := ctx.Err(); err != nil {
		return false, err
	}
	if err := s.ready(); err != nil {
		return false, err
	}

	result, err := s.sqlDB.ExecContext(ctx, `
UPDATE users
SET slots = slots - 1000, updated_at = ?
WHERE id = ? AND slots >= 1000
`, toMillis(time.Now()), userID)
	if err != nil {
		return false, fmt.Errorf("debit slot: %w", err)
	}
	affected, err := result.RowsAffected()
	if err != nil {
		return false, fmt.Errorf("debit slot rows: %w", err)
	}
	return affected > 0, nil
}

// Balance returns the user's running slot balance.
func (s *Store) Balance(ctx context.Context, userID int64) (decimal.Decimal, error) {
	if err := ctx.Err(); err != nil {
		return decimal.Zero, err
	}
	if err := s.ready(); err != nil {
		return decimal.Zero, err
	}

	var slots int64
	err := s.sqlDB.QueryRowContext(ctx, `SELECT slots FROM users WHERE id = ?`, userID).Scan(&slots)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return decimal.Zero, storage.ErrNotFound
		}
		return decimal.Zero, fmt.Errorf("get balance: %w", err)
	}
	return fromMilliSlots(slots), nil
}

// SumByReason returns the user's total credited amount for one reason tag.
func (s *Store) SumByReason(ctx context.Context, userID int64, reason domain.LedgerReason) (decimal.Decimal, error) {
	if err := ctx.Err(); err != nil {
		return decimal.Zero, err
	}
	if err := s.ready(); err != nil {
		return decimal.Zero, err
	}

	var total int64
	err := s.sqlDB.QueryRowContext(ctx, `
SELECT COALESCE(SUM(amount), 0) FROM slot_logs WHERE user_id = ? AND reason = ?
`, userID, string(reason)).Scan(&total)
	if err != nil {
		return decimal.Zero, fmt.Errorf("sum by reason: %w", err)
	}
	return fromMilliSlots(total), nil
}

// ListEvents returns the user's ledger events oldest first.
func (s *Store) ListEvents(ctx context.Context, userID int64) ([]storage.LedgerEvent, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	if err := s.ready(); err != nil {
		return nil, err
	}

	rows, err := s.sqlDB.QueryContext(ctx, `
SELECT id, user_id, amount, reason, created_at
FROM slot_logs
WHERE user_id = ?
ORDER BY created_at ASC, id ASC
`, userID)
	if err != nil {
		return nil, fmt.Errorf("list ledger events: %w", err)
	}
	defer rows.Close()

	var events []storage.LedgerEvent
	for rows.Next() {
		var event storage.LedgerEvent
		var amount int64
		var reason string
		var createdAt int64
		if err := rows.Scan(&event.ID, &event.UserID, &amount, &reason, &createdAt); err != nil {
			return nil, fmt.Errorf("scan ledger event: %w", err)
		}
		event.Amount = fromMilliSlots(amount)
		event.Reason = domain.LedgerReason(reason)
		event.CreatedAt = fromMillis(createdAt)
		events = append(events, event)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate ledger events: %w", err)
	}
	return events, nil
}

// ApproveWithDebit spends one owner slot and approves the post in a single
// transaction; a crash can never leave a post approved without a slot
// deducted or vice versa. When the balance is insufficient the post is
// rejected in the same transaction and false is reported.
func (s *Store) ApproveWithDebit(ctx context.Context, postID, ownerID int64, now time.Time) (bool, error) {
	if err := ctx.Err(); err != nil {
		return false, err
	}
	if err := s.ready(); err != nil {
		return false, err
	}

	tx, err := s.sqlDB.BeginTx(ctx, nil)
	if err != nil {
		return false, fmt.Errorf("begin approve with debit: %w", err)
	}
	defer func() { _ = tx.Rollback() }()

	nowMillis := toMillis(now)
	debit, err := tx.ExecContext(ctx, `
UPDATE users
SET slots = slots - 1000, updated_at = ?
WHERE id = ? AND slots >= 1000
`, nowMillis, ownerID)
	if err != nil {
		return false, fmt.Errorf("debit owner: %w", err)
	}
	debited, err := debit.RowsAffected()
	if err != nil {
		return false, fmt.Errorf("debit owner rows: %w", err)
	}

	status := domain.PostApproved
	if debited == 0 {
		status = domain.PostRejected
	}

	var result sql.Result
	if status == domain.PostApproved {
		result, err = tx.ExecContext(ctx, `
UPDATE posts SET status = ?, approved_at = ? WHERE id = ?
`, string(status), nowMillis, postID)
	} else {
		result, err = tx.ExecContext(ctx, `
UPDATE posts SET status = ? WHERE id = ?
`, string(status), postID)
	}
	if err != nil {
		return false, fmt.Errorf("set post status: %w", err)
	}
	affected, err := result.RowsAffected()
	if err != nil {
		return false, fmt.Errorf("set post status rows: %w", err)
	}
	if affected == 0 {
		return false, storage.ErrNotFound
	}

	if err := tx.Commit(); err != nil {
		return false, fmt.Errorf("commit approve with debit: %w", err)
	}
	return debited > 0, nil
}

var _ storage.LedgerStore = (*Store)(nil)
