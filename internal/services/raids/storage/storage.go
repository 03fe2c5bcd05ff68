// Package storage defines persistence contracts for raid lifecycle state.
package storage

import (
	"context"
	"errors"
	"time"

	"github.com/shopspring/decimal"

	"github.com/web3kaiju/raidbot/internal/services/raids/domain"
)

// ErrNotFound indicates a requested record is missing.
var ErrNotFound = errors.New("record not found")

// ErrAlreadyExists indicates a uniqueness-constrained record already exists.
var ErrAlreadyExists = errors.New("record already exists")

// User stores one chat-platform user with their slot balance.
type User struct {
	ID            int64
	Name          string
	TwitterHandle string
	Slots         decimal.Decimal
	RefBy         int64
	RefCount      int
	PostBanUntil  time.Time
	LastPostAt    time.Time
	CreatedAt     time.Time
	UpdatedAt     time.Time
}

// NewUser describes a registration, including the credits granted alongside
// it so the whole signup lands in one transaction.
type NewUser struct {
	ID            int64
	Name          string
	RefBy         int64
	SignupGrant   decimal.Decimal
	ReferralBonus decimal.Decimal
}

// Post stores one submitted link and its lifecycle status.
type Post struct {
	ID          int64
	OwnerID     int64
	Link        string
	GroupID     int64
	Status      domain.PostStatus
	SubmittedAt time.Time
	ApprovedAt  time.Time
}

// PostWithOwner joins a post with owner display data for review and raid
// listings.
type PostWithOwner struct {
	Post
	OwnerName   string
	OwnerHandle string
}

// Verification stores one participant's completion claim against a post.
type Verification struct {
	ID            int64
	PostID        int64
	ParticipantID int64
	OwnerID       int64
	Status        domain.VerificationStatus
	CreatedAt     time.Time
	ResolvedAt    time.Time
}

// VerificationWithParticipant joins a verification with participant display
// data for the owner's response view.
type VerificationWithParticipant struct {
	Verification
	ParticipantName   string
	ParticipantHandle string
}

// LedgerEvent stores one append-only credit grant.
type LedgerEvent struct {
	ID        int64
	UserID    int64
	Amount    decimal.Decimal
	Reason    domain.LedgerReason
	CreatedAt time.Time
}

// FollowSuggestion is a follow-pool member a user has not followed yet.
type FollowSuggestion struct {
	UserID        int64
	Name          string
	TwitterHandle string
	Followers     int
	FollowBacks   int
}

// PendingFollower is a follower awaiting a follow-back or ignore response.
type PendingFollower struct {
	FollowerID    int64
	Name          string
	TwitterHandle string
}

// UserStore persists users and their posting restrictions.
type UserStore interface {
	// CreateUser registers a user, granting the signup credit and, when
	// RefBy is set, the referrer's bonus, all in one transaction. It
	// reports false without mutation when the user already exists.
	CreateUser(ctx context.Context, user NewUser) (bool, error)
	GetUser(ctx context.Context, id int64) (User, error)
	// SetHandle binds a handle to a user. It returns ErrAlreadyExists when
	// the handle belongs to a different user; neither user is changed.
	SetHandle(ctx context.Context, id int64, handle string) error
	BanFromPosting(ctx context.Context, id int64, until time.Time) error
}

// PostStore persists submitted posts.
type PostStore interface {
	// CreatePost inserts a pending post and stamps the owner's
	// last-post timestamp in the same transaction.
	CreatePost(ctx context.Context, ownerID int64, link string, groupID int64, now time.Time) (Post, error)
	GetPost(ctx context.Context, id int64) (Post, error)
	// ListPending returns pending posts oldest first.
	ListPending(ctx context.Context, limit int) ([]PostWithOwner, error)
	CountPending(ctx context.Context) (int, error)
	// SetStatus transitions a post. Approving stamps approved_at. The
	// caller is responsible for checking the current status first.
	SetStatus(ctx context.Context, postID int64, status domain.PostStatus, now time.Time) error
	// ListApprovedSince returns approved posts with approved_at >= since,
	// newest submission first. groupID zero means no group filter.
	ListApprovedSince(ctx context.Context, groupID int64, since time.Time) ([]PostWithOwner, error)
	// ListActiveByOwner returns an owner's approved posts still inside the
	// raid validity window.
	ListActiveByOwner(ctx context.Context, ownerID int64, since time.Time) ([]Post, error)
	// ExpireApprovedBefore marks approved posts with approved_at <= cutoff
	// as expired and reports how many rows changed.
	ExpireApprovedBefore(ctx context.Context, cutoff time.Time) (int64, error)
	// ApproveStalePendingBefore approves pending posts submitted at or
	// before cutoff without any debit, returning the affected posts.
	ApproveStalePendingBefore(ctx context.Context, cutoff time.Time, now time.Time) ([]Post, error)
}

// VerificationStore persists completion claims and their resolutions.
type VerificationStore interface {
	// CreateVerification records a pending claim. It returns
	// ErrAlreadyExists when a non-terminal claim exists for the pair.
	CreateVerification(ctx context.Context, postID, participantID, ownerID int64, now time.Time) (Verification, error)
	// ConfirmVerification resolves a pending claim as confirmed and credits
	// the participant's reward in the same transaction. ErrNotFound when no
	// pending claim matches.
	ConfirmVerification(ctx context.Context, postID, participantID int64, reward decimal.Decimal, now time.Time) error
	// RejectVerification resolves a pending claim as rejected without
	// crediting. ErrNotFound when no pending claim matches.
	RejectVerification(ctx context.Context, postID, participantID int64, now time.Time) error
	ListForPost(ctx context.Context, postID int64) ([]VerificationWithParticipant, error)
	// ListUnresponsiveOwners returns distinct owners of expired posts with
	// approved_at <= cutoff that still carry a pending verification.
	ListUnresponsiveOwners(ctx context.Context, cutoff time.Time) ([]int64, error)
}

// LedgerStore persists the append-only credit log and the denormalized
// running balance, which must stay consistent.
type LedgerStore interface {
	// Credit appends a ledger event and increments the balance atomically.
	// Amount must be strictly positive.
	Credit(ctx context.Context, userID int64, amount decimal.Decimal, reason domain.LedgerReason, now time.Time) error
	// DebitOne decrements the balance by one whole slot iff it is >= 1, as
	// a single atomic step. It reports false without mutation otherwise.
	DebitOne(ctx context.Context, userID int64) (bool, error)
	Balance(ctx context.Context, userID int64) (decimal.Decimal, error)
	SumByReason(ctx context.Context, userID int64, reason domain.LedgerReason) (decimal.Decimal, error)
	ListEvents(ctx context.Context, userID int64) ([]LedgerEvent, error)
	// ApproveWithDebit spends one owner slot and approves the post in one
	// transaction. When the balance is insufficient the post is marked
	// rejected in the same transaction and false is reported.
	ApproveWithDebit(ctx context.Context, postID, ownerID int64, now time.Time) (bool, error)
}

// FollowStore persists the mutual-follow exchange pool.
type FollowStore interface {
	JoinPool(ctx context.Context, userID int64, handle string, now time.Time) error
	LeavePool(ctx context.Context, userID int64) error
	InPool(ctx context.Context, userID int64) (bool, error)
	// Suggestions returns pool members the user has not followed, oldest
	// joiners first.
	Suggestions(ctx context.Context, userID int64) ([]FollowSuggestion, error)
	CreateFollow(ctx context.Context, followerID, followedID int64, now time.Time) error
	// ConfirmFollowBack marks the follow confirmed and responded; only the
	// followed party confirms.
	ConfirmFollowBack(ctx context.Context, followedID, followerID int64) error
	// IgnoreFollow marks the follow responded without confirming.
	IgnoreFollow(ctx context.Context, followedID, followerID int64) error
	PendingFollowers(ctx context.Context, userID int64) ([]PendingFollower, error)
}

// ProfileStore aggregates read-only stats for the profile view.
type ProfileStore interface {
	PostCounts(ctx context.Context, ownerID int64) (approved int, rejected int, err error)
}
