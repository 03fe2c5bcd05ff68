package sqlite

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/web3kaiju/raidbot/internal/services/raids/storage"
)

// JoinPool adds or refreshes a user's follow-pool membership.
func (s *Store) JoinPool(ctx context.Context, userID int64, handle string, now time.Time) error {
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

	_, err := s.sqlDB.ExecContext(ctx, `
INSERT INTO follow_pool (user_id, twitter_handle, joined_at)
VALUES (?, ?, ?)
ON CONFLICT(user_id) DO UPDATE SET twitter_handle = excluded.twitter_handle
`, userID, handle, toMillis(now))
	if err != nil {
		return fmt.Errorf("join follow pool: %w", err)
	}
	return nil
}

// LeavePool removes a user from the follow pool.
func (s *Store) LeavePool(ctx context.Context, userID int64) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	if err := s.ready(); err != nil {
		return err
	}

	if _, err := s.sqlDB.ExecContext(ctx, `DELETE FROM follow_pool WHERE user_id = ?`, userID); err != nil {
		return fmt.Errorf("leave follow pool: %w", err)
	}
	return nil
}

// InPool reports whether a user is in the follow pool.
func (s *Store) InPool(ctx context.Context, userID int64) (bool, error) {
	if err := ctx.Err(); err != nil {
		return false, err
	}
	if err := s.ready(); err != nil {
		return false, err
	}

	var count int
	err := s.sqlDB.QueryRowContext(ctx, `
SELECT COUNT(*) FROM follow_pool WHERE user_id = ?
`, userID).Scan(&count)
	if err != nil {
		return false, fmt.Errorf("check follow pool: %w", err)
	}
	return count > 0, nil
}

// Suggestions returns pool members the user has not followed yet, oldest
// joiners first, with follower and follow-back tallies for display.
func (s *Store) Suggestions(ctx context.Context, userID int64) ([]storage.FollowSuggestion, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	if err := s.ready(); err != nil {
		return nil, err
	}

	rows, err := s.sqlDB.QueryContext(ctx, `
SELECT u.id, u.name, COALESCE(u.twitter_handle, ''),
       (SELECT COUNT(*) FROM follow_actions f WHERE f.followed_id = u.id),
       (SELECT COUNT(*) FROM follow_actions f WHERE f.followed_id = u.id AND f.confirmed = 1)
FROM follow_pool p
JOIN users u ON u.id = p.user_id
WHERE p.user_id != ?
  AND p.user_id NOT IN (SELECT followed_id FROM follow_actions WHERE follower_id = ?)
ORDER BY p.joined_at ASC
`, userID, userID)
	if err != nil {
		return nil, fmt.Errorf("list follow suggestions: %w", err)
	}
	defer rows.Close()

	var suggestions []storage.FollowSuggestion
	for rows.Next() {
		var suggestion storage.FollowSuggestion
		if err := rows.Scan(
			&suggestion.UserID,
			&suggestion.Name,
			&suggestion.TwitterHandle,
			&suggestion.Followers,
			&suggestion.FollowBacks,
		); err != nil {
			return nil, fmt.Errorf("scan follow suggestion: %w", err)
		}
		suggestions = append(suggestions, suggestion)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate follow suggestions: %w", err)
	}
	return suggestions, nil
}

// CreateFollow records one side of a mutual-follow exchange.
func (s *Store) CreateFollow(ctx context.Context, followerID, followedID int64, now time.Time) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	if err := s.ready(); err != nil {
		return err
	}
	if followerID == followedID {
		return fmt.Errorf("follower must differ from followed")
	}

	_, err := s.sqlDB.ExecContext(ctx, `
INSERT OR IGNORE INTO follow_actions (follower_id, followed_id, created_at)
VALUES (?, ?, ?)
`, followerID, followedID, toMillis(now))
	if err != nil {
		return fmt.Errorf("create follow action: %w", err)
	}
	return nil
}

// ConfirmFollowBack marks the follow confirmed and responded.
func (s *Store) ConfirmFollowBack(ctx context.Context, followedID, followerID int64) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	if err := s.ready(); err != nil {
		return err
	}

	result, err := s.sqlDB.ExecContext(ctx, `
UPDATE follow_actions
SET confirmed = 1, responded = 1
WHERE follower_id = ? AND followed_id = ?
`, followerID, followedID)
	if err != nil {
		return fmt.Errorf("confirm follow back: %w", err)
	}
	affected, err := result.RowsAffected()
	if err != nil {
		return fmt.Errorf("confirm follow back rows: %w", err)
	}
	if affected == 0 {
		return storage.ErrNotFound
	}
	return nil
}

// IgnoreFollow marks the follow responded without confirming.
func (s *Store) IgnoreFollow(ctx context.Context, followedID, followerID int64) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	if err := s.ready(); err != nil {
		return err
	}

	result, err := s.sqlDB.ExecContext(ctx, `
UPDATE follow_actions
SET responded = 1
WHERE follower_id = ? AND followed_id = ?
`, followerID, followedID)
	if err != nil {
		return fmt.Errorf("ignore follow: %w", err)
	}
	affected, err := result.RowsAffected()
	if err != nil {
		return fmt.Errorf("ignore follow rows: %w", err)
	}
	if affected == 0 {
		return storage.ErrNotFound
	}
	return nil
}

// PendingFollowers returns followers the user has not responded to.
func (s *Store) PendingFollowers(ctx context.Context, userID int64) ([]storage.PendingFollower, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	if err := s.ready(); err != nil {
		return nil, err
	}

	rows, err := s.sqlDB.QueryContext(ctx, `
SELECT f.follower_id, u.name, COALESCE(u.twitter_handle, '')
FROM follow_actions f
JOIN users u ON u.id = f.follower_id
WHERE f.followed_id = ? AND f.responded = 0
ORDER BY f.created_at ASC
`, userID)
	if err != nil {
		return nil, fmt.Errorf("list pending followers: %w", err)
	}
	defer rows.Close()

	var followers []storage.PendingFollower
	for rows.Next() {
		var follower storage.PendingFollower
		if err := rows.Scan(&follower.FollowerID, &follower.Name, &follower.TwitterHandle); err != nil {
			return nil, fmt.Errorf("scan pending follower: %w", err)
		}
		followers = append(followers, follower)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate pending followers: %w", err)
	}
	return followers, nil
}

// PostCounts returns how many of the owner's posts were approved and
// rejected, counting expired posts as approved since they went live.
func (s *Store) PostCounts(ctx context.Context, ownerID int64) (int, int, error) {
	if err := ctx.Err(); err != nil {
		return 0, 0, err
	}
	if err := s.ready(); err != nil {
		return 0, 0, err
	}

	var approved, rejected int
	err := s.sqlDB.QueryRowContext(ctx, `
SELECT
    (SELECT COUNT(*) FROM posts WHERE owner_id = ? AND status IN ('approved', 'expired')),
    (SELECT COUNT(*) FROM posts WHERE owner_id = ? AND status = 'rejected')
`, ownerID, ownerID).Scan(&approved, &rejected)
	if err != nil {
		return 0, 0, fmt.Errorf("count posts: %w", err)
	}
	return approved, rejected, nil
}

var _ storage.FollowStore = (*Store)(nil)
var _ storage.ProfileStore = (*Store)(nil)
