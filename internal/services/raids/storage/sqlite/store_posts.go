package sqlite

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/web3kaiju/raidbot/internal/services/raids/domain"
	"github.com/web3kaiju/raidbot/internal/services/raids/storage"
)

// CreatePost inserts a pending post and stamps the owner's last-post
// timestamp in the same transaction.
func (s *Store) CreatePost(ctx context.Context, ownerID int64, link string, groupID int64, now time.Time) (storage.Post, error) {
	if err := ctx.Err(); err != nil {
		return storage.Post{}, err
	}
	if err := s.ready(); err != nil {
		return storage.Post{}, err
	}
	link = strings.TrimSpace(link)
	if link == "" {
		return storage.Post{}, fmt.Errorf("link is required")
	}

	tx, err := s.sqlDB.BeginTx(ctx, nil)
	if err != nil {
		return storage.Post{}, fmt.Errorf("begin create post: %w", err)
	}
	defer func() { _ = tx.Rollback() }()

	nowMillis := toMillis(now)
	var group any
	if groupID != 0 {
		group = groupID
	}
	result, err := tx.ExecContext(ctx, `
INSERT INTO posts (owner_id, link, group_id, status, submitted_at)
VALUES (?, ?, ?, ?, ?)
`, ownerID, link, group, string(domain.PostPending), nowMillis)
	if err != nil {
		return storage.Post{}, fmt.Errorf("insert post: %w", err)
	}
	postID, err := result.LastInsertId()
	if err != nil {
		return storage.Post{}, fmt.Errorf("post id: %w", err)
	}

	if _, err := tx.ExecContext(ctx, `
UPDATE users SET last_post_at = ?, updated_at = ? WHERE id = ?
`, nowMillis, nowMillis, ownerID); err != nil {
		return storage.Post{}, fmt.Errorf("stamp last post: %w", err)
	}

	if err := tx.Commit(); err != nil {
		return storage.Post{}, fmt.Errorf("commit create post: %w", err)
	}
	return storage.Post{
		ID:          postID,
		OwnerID:     ownerID,
		Link:        link,
		GroupID:     groupID,
		Status:      domain.PostPending,
		SubmittedAt: now.UTC(),
	}, nil
}

// GetPost returns one post by id.
func (s *Store) GetPost(ctx context.Context, id int64) (storage.Post, error) {
	if err := ctx.Err(); err != nil {
		return storage.Post{}, err
	}
	if err := s.ready(); err != nil {
		return storage.Post{}, err
	}

	row := s.sqlDB.QueryRowContext(ctx, `
SELECT id, owner_id, link, group_id, status, submitted_at, approved_at
FROM posts
WHERE id = ?
`, id)
	post, err := scanPost(row)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return storage.Post{}, storage.ErrNotFound
		}
		return storage.Post{}, fmt.Errorf("get post: %w", err)
	}
	return post, nil
}

type rowScanner interface {
	Scan(dest ...any) error
}

func scanPost(row rowScanner) (storage.Post, error) {
	var post storage.Post
	var group sql.NullInt64
	var status string
	var submittedAt int64
	var approvedAt sql.NullInt64
	if err := row.Scan(&post.ID, &post.OwnerID, &post.Link, &group, &status, &submittedAt, &approvedAt); err != nil {
		return storage.Post{}, err
	}
	post.GroupID = group.Int64
	post.Status = domain.PostStatus(status)
	post.SubmittedAt = fromMillis(submittedAt)
	if approvedAt.Valid {
		post.ApprovedAt = fromMillis(approvedAt.Int64)
	}
	return post, nil
}

// ListPending returns pending posts oldest first so admins review in
// submission order.
func (s *Store) ListPending(ctx context.Context, limit int) ([]storage.PostWithOwner, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	if err := s.ready(); err != nil {
		return nil, err
	}
	if limit <= 0 {
		return nil, fmt.Errorf("limit must be greater than zero")
	}

	rows, err := s.sqlDB.QueryContext(ctx, `
SELECT p.id, p.owner_id, p.link, p.group_id, p.status, p.submitted_at, p.approved_at,
       u.name, COALESCE(u.twitter_handle, '')
FROM posts p
JOIN users u ON u.id = p.owner_id
WHERE p.status = ?
ORDER BY p.submitted_at ASC, p.id ASC
LIMIT ?
`, string(domain.PostPending), limit)
	if err != nil {
		return nil, fmt.Errorf("list pending posts: %w", err)
	}
	defer rows.Close()
	return collectPostsWithOwner(rows)
}

func collectPostsWithOwner(rows *sql.Rows) ([]storage.PostWithOwner, error) {
	var posts []storage.PostWithOwner
	for rows.Next() {
		var post storage.PostWithOwner
		var group sql.NullInt64
		var status string
		var submittedAt int64
		var approvedAt sql.NullInt64
		if err := rows.Scan(
			&post.ID,
			&post.OwnerID,
			&post.Link,
			&group,
			&status,
			&submittedAt,
			&approvedAt,
			&post.OwnerName,
			&post.OwnerHandle,
		); err != nil {
			return nil, fmt.Errorf("scan post: %w", err)
		}
		post.GroupID = group.Int64
		post.Status = domain.PostStatus(status)
		post.SubmittedAt = fromMillis(submittedAt)
		if approvedAt.Valid {
			post.ApprovedAt = fromMillis(approvedAt.Int64)
		}
		posts = append(posts, post)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate posts: %w", err)
	}
	return posts, nil
}

// CountPending returns the number of posts awaiting review.
func (s *Store) CountPending(ctx context.Context) (int, error) {
	if err := ctx.Err(); err != nil {
		return 0, err
	}
	if err := s.ready(); err != nil {
		return 0, err
	}

	var count int
	err := s.sqlDB.QueryRowContext(ctx, `
SELECT COUNT(*) FROM posts WHERE status = ?
`, string(domain.PostPending)).Scan(&count)
	if err != nil {
		return 0, fmt.Errorf("count pending posts: %w", err)
	}
	return count, nil
}

// SetStatus transitions a post. Approving stamps approved_at; the caller
// checks the current status first.
func (s *Store) SetStatus(ctx context.Context, postID int64, status domain.PostStatus, now time.Time) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	if err := s.ready(); err != nil {
		return err
	}
	if !domain.ValidPostStatus(string(status)) {
		return fmt.Errorf("unknown post status %q", status)
	}

	var result sql.Result
	var err error
	if status == domain.PostApproved {
		result, err = s.sqlDB.ExecContext(ctx, `
UPDATE posts SET status = ?, approved_at = ? WHERE id = ?
`, string(status), toMillis(now), postID)
	} else {
		result, err = s.sqlDB.ExecContext(ctx, `
UPDATE posts SET status = ? WHERE id = ?
`, string(status), postID)
	}
	if err != nil {
		return fmt.Errorf("set post status: %w", err)
	}
	affected, err := result.RowsAffected()
	if err != nil {
		return fmt.Errorf("set post status rows: %w", err)
	}
	if affected == 0 {
		return storage.ErrNotFound
	}
	return nil
}

// ListApprovedSince returns approved posts inside the window, optionally
// filtered by origin group, newest submission first.
func (s *Store) ListApprovedSince(ctx context.Context, groupID int64, since time.Time) ([]storage.PostWithOwner, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	if err := s.ready(); err != nil {
		return nil, err
	}

	query := `
SELECT p.id, p.owner_id, p.link, p.group_id, p.status, p.submitted_at, p.approved_at,
       u.name, COALESCE(u.twitter_handle, '')
FROM posts p
JOIN users u ON u.id = p.owner_id
WHERE p.status = ? AND p.approved_at >= ?
`
	args := []any{string(domain.PostApproved), toMillis(since)}
	if groupID != 0 {
		query += " AND p.group_id = ?"
		args = append(args, groupID)
	}
	query += " ORDER BY p.submitted_at DESC, p.id DESC"

	rows, err := s.sqlDB.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("list approved posts: %w", err)
	}
	defer rows.Close()
	return collectPostsWithOwner(rows)
}

// ListActiveByOwner returns the owner's approved posts still inside the raid
// validity window.
func (s *Store) ListActiveByOwner(ctx context.Context, ownerID int64, since time.Time) ([]storage.Post, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	if err := s.ready(); err != nil {
		return nil, err
	}

	rows, err := s.sqlDB.QueryContext(ctx, `
SELECT id, owner_id, link, group_id, status, submitted_at, approved_at
FROM posts
WHERE owner_id = ? AND status = ? AND approved_at >= ?
ORDER BY approved_at DESC, id DESC
`, ownerID, string(domain.PostApproved), toMillis(since))
	if err != nil {
		return nil, fmt.Errorf("list active posts: %w", err)
	}
	defer rows.Close()

	var posts []storage.Post
	for rows.Next() {
		post, err := scanPost(rows)
		if err != nil {
			return nil, fmt.Errorf("scan post: %w", err)
		}
		posts = append(posts, post)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate posts: %w", err)
	}
	return posts, nil
}

// ExpireApprovedBefore marks approved posts whose approval is at or past the
// cutoff as expired. Re-running the sweep is harmless.
func (s *Store) ExpireApprovedBefore(ctx context.Context, cutoff time.Time) (int64, error) {
	if err := ctx.Err(); err != nil {
		return 0, err
	}
	if err := s.ready(); err != nil {
		return 0, err
	}

	result, err := s.sqlDB.ExecContext(ctx, `
UPDATE posts
SET status = ?
WHERE status = ? AND approved_at IS NOT NULL AND approved_at <= ?
`, string(domain.PostExpired), string(domain.PostApproved), toMillis(cutoff))
	if err != nil {
		return 0, fmt.Errorf("expire posts: %w", err)
	}
	affected, err := result.RowsAffected()
	if err != nil {
		return 0, fmt.Errorf("expire posts rows: %w", err)
	}
	return affected, nil
}

// ApproveStalePendingBefore approves pending posts submitted at or before the
// cutoff without debiting anyone, returning the affected posts so owners can
// be notified. A second run over the same window approves nothing new.
func (s *Store) ApproveStalePendingBefore(ctx context.Context, cutoff time.Time, now time.Time) ([]storage.Post, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	if err := s.ready(); err != nil {
		return nil, err
	}

	tx, err := s.sqlDB.BeginTx(ctx, nil)
	if err != nil {
		return nil, fmt.Errorf("begin auto approve: %w", err)
	}
	defer func() { _ = tx.Rollback() }()

	rows, err := tx.QueryContext(ctx, `
SELECT id, owner_id, link, group_id, status, submitted_at, approved_at
FROM posts
WHERE status = ? AND submitted_at <= ?
ORDER BY submitted_at ASC, id ASC
`, string(domain.PostPending), toMillis(cutoff))
	if err != nil {
		return nil, fmt.Errorf("list stale pending posts: %w", err)
	}
	var posts []storage.Post
	for rows.Next() {
		post, err := scanPost(rows)
		if err != nil {
			rows.Close()
			return nil, fmt.Errorf("scan post: %w", err)
		}
		posts = append(posts, post)
	}
	if err := rows.Err(); err != nil {
		rows.Close()
		return nil, fmt.Errorf("iterate posts: %w", err)
	}
	rows.Close()

	if len(posts) == 0 {
		return nil, tx.Commit()
	}

	nowMillis := toMillis(now)
	if _, err := tx.ExecContext(ctx, `
UPDATE posts
SET status = ?, approved_at = ?
WHERE status = ? AND submitted_at <= ?
`, string(domain.PostApproved), nowMillis, string(domain.PostPending), toMillis(cutoff)); err != nil {
		return nil, fmt.Errorf("auto approve posts: %w", err)
	}

	if err := tx.Commit(); err != nil {
		return nil, fmt.Errorf("commit auto approve: %w", err)
	}
	for i := range posts {
		posts[i].Status = domain.PostApproved
		posts[i].ApprovedAt = now.UTC()
	}
	return posts, nil
}

var _ storage.PostStore = (*Store)(nil)
