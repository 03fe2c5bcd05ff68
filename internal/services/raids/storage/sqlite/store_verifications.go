package sqlite

import (
	"context"
	"database/sql"
	"fmt"
	"time"

	"github.com/shopspring/decimal"

	"github.com/web3kaiju/raidbot/internal/services/raids/domain"
	"github.com/web3kaiju/raidbot/internal/services/raids/storage"
)

// CreateVerification records a pending completion claim. The partial unique
// index on non-rejected rows enforces one live claim per (post, participant)
// pair under concurrent attempts.
func (s *Store) CreateVerification(ctx context.Context, postID, participantID, ownerID int64, now time.Time) (storage.Verification, error) {
	if err := ctx.Err(); err != nil {
		return storage.Verification{}, err
	}
	if err := s.ready(); err != nil {
		return storage.Verification{}, err
	}
	if participantID == ownerID {
		return storage.Verification{}, fmt.Errorf("participant must differ from owner")
	}

	result, err := s.sqlDB.ExecContext(ctx, `
INSERT INTO verifications (post_id, participant_id, owner_id, status, created_at)
VALUES (?, ?, ?, ?, ?)
`, postID, participantID, ownerID, string(domain.VerificationPending), toMillis(now))
	if err != nil {
		if isUniqueViolation(err) {
			return storage.Verification{}, storage.ErrAlreadyExists
		}
		return storage.Verification{}, fmt.Errorf("create verification: %w", err)
	}
	id, err := result.LastInsertId()
	if err != nil {
		return storage.Verification{}, fmt.Errorf("verification id: %w", err)
	}
	return storage.Verification{
		ID:            id,
		PostID:        postID,
		ParticipantID: participantID,
		OwnerID:       ownerID,
		Status:        domain.VerificationPending,
		CreatedAt:     now.UTC(),
	}, nil
}

// ConfirmVerification resolves a pending claim as confirmed and credits the
// participant's reward in the same transaction, so a crash cannot leave a
// confirmed claim unpaid or a paid claim pending.
func (s *Store) ConfirmVerification(ctx context.Context, postID, participantID int64, reward decimal.Decimal, now time.Time) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	if err := s.ready(); err != nil {
		return err
	}
	amount, err := toMilliSlotsExact(reward)
	if err != nil {
		return err
	}
	if amount <= 0 {
		return domain.ErrInvalidAmount
	}

	tx, err := s.sqlDB.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("begin confirm verification: %w", err)
	}
	defer func() { _ = tx.Rollback() }()

	nowMillis := toMillis(now)
	result, err := tx.ExecContext(ctx, `
UPDATE verifications
SET status = ?, resolved_at = ?
WHERE post_id = ? AND participant_id = ? AND status = ?
`, string(domain.VerificationConfirmed), nowMillis, postID, participantID, string(domain.VerificationPending))
	if err != nil {
		return fmt.Errorf("confirm verification: %w", err)
	}
	affected, err := result.RowsAffected()
	if err != nil {
		return fmt.Errorf("confirm verification rows: %w", err)
	}
	if affected == 0 {
		return storage.ErrNotFound
	}

	if err := creditTx(ctx, tx, participantID, amount, domain.ReasonTask, nowMillis); err != nil {
		return err
	}

	if err := tx.Commit(); err != nil {
		return fmt.Errorf("commit confirm verification: %w", err)
	}
	return nil
}

// RejectVerification resolves a pending claim as rejected without crediting.
func (s *Store) RejectVerification(ctx context.Context, postID, participantID int64, now time.Time) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	if err := s.ready(); err != nil {
		return err
	}

	result, err := s.sqlDB.ExecContext(ctx, `
UPDATE verifications
SET status = ?, resolved_at = ?
WHERE post_id = ? AND participant_id = ? AND status = ?
`, string(domain.VerificationRejected), toMillis(now), postID, participantID, string(domain.VerificationPending))
	if err != nil {
		return fmt.Errorf("reject verification: %w", err)
	}
	affected, err := result.RowsAffected()
	if err != nil {
		return fmt.Errorf("reject verification rows: %w", err)
	}
	if affected == 0 {
		return storage.ErrNotFound
	}
	return nil
}

// ListForPost returns all claims against a post with participant display
// data, creation order.
func (s *Store) ListForPost(ctx context.Context, postID int64) ([]storage.VerificationWithParticipant, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	if err := s.ready(); err != nil {
		return nil, err
	}

	rows, err := s.sqlDB.QueryContext(ctx, `
SELECT v.id, v.post_id, v.participant_id, v.owner_id, v.status, v.created_at, v.resolved_at,
       u.name, COALESCE(u.twitter_handle, '')
FROM verifications v
JOIN users u ON u.id = v.participant_id
WHERE v.post_id = ?
ORDER BY v.created_at ASC, v.id ASC
`, postID)
	if err != nil {
		return nil, fmt.Errorf("list verifications: %w", err)
	}
	defer rows.Close()

	var records []storage.VerificationWithParticipant
	for rows.Next() {
		var record storage.VerificationWithParticipant
		var status string
		var createdAt int64
		var resolvedAt sql.NullInt64
		if err := rows.Scan(
			&record.ID,
			&record.PostID,
			&record.ParticipantID,
			&record.OwnerID,
			&status,
			&createdAt,
			&resolvedAt,
			&record.ParticipantName,
			&record.ParticipantHandle,
		); err != nil {
			return nil, fmt.Errorf("scan verification: %w", err)
		}
		record.Status = domain.VerificationStatus(status)
		record.CreatedAt = fromMillis(createdAt)
		if resolvedAt.Valid {
			record.ResolvedAt = fromMillis(resolvedAt.Int64)
		}
		records = append(records, record)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate verifications: %w", err)
	}
	return records, nil
}

// ListUnresponsiveOwners returns distinct owners of expired posts approved at
// or before the cutoff that still carry a pending verification.
func (s *Store) ListUnresponsiveOwners(ctx context.Context, cutoff time.Time) ([]int64, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	if err := s.ready(); err != nil {
		return nil, err
	}

	rows, err := s.sqlDB.QueryContext(ctx, `
SELECT DISTINCT p.owner_id
FROM posts p
JOIN verifications v ON v.post_id = p.id
WHERE p.status = ? AND p.approved_at <= ? AND v.status = ?
ORDER BY p.owner_id ASC
`, string(domain.PostExpired), toMillis(cutoff), string(domain.VerificationPending))
	if err != nil {
		return nil, fmt.Errorf("list unresponsive owners: %w", err)
	}
	defer rows.Close()

	var owners []int64
	for rows.Next() {
		var owner int64
		if err := rows.Scan(&owner); err != nil {
			return nil, fmt.Errorf("scan owner: %w", err)
		}
		owners = append(owners, owner)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate owners: %w", err)
	}
	return owners, nil
}

var _ storage.VerificationStore = (*Store)(nil)
