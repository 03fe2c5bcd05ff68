// Package app orchestrates the raid lifecycle: submissions, admin review,
// completion claims, owner resolution, the follow pool, and the maintenance
// sweeps. It holds no state of its own; every transition happens in the
// storage layer's atomic operations.
package app

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/shopspring/decimal"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/trace"

	"github.com/web3kaiju/raidbot/internal/services/raids/domain"
	"github.com/web3kaiju/raidbot/internal/services/raids/storage"
)

// Stores groups the persistence contracts the service drives. One SQLite
// store satisfies all of them in production; tests may substitute pieces.
type Stores struct {
	Users         storage.UserStore
	Posts         storage.PostStore
	Verifications storage.VerificationStore
	Ledger        storage.LedgerStore
	Follows       storage.FollowStore
	Profiles      storage.ProfileStore
}

// Service is the raid lifecycle controller.
type Service struct {
	users         storage.UserStore
	posts         storage.PostStore
	verifications storage.VerificationStore
	ledger        storage.LedgerStore
	follows       storage.FollowStore
	profiles      storage.ProfileStore
	notifier      Notifier
	now           func() time.Time
	tracer        trace.Tracer
}

// NewService creates the lifecycle controller. A nil clock means wall time;
// a nil notifier drops notifications.
func NewService(stores Stores, notifier Notifier, clock func() time.Time) *Service {
	if clock == nil {
		clock = time.Now
	}
	if notifier == nil {
		notifier = NopNotifier{}
	}
	return &Service{
		users:         stores.Users,
		posts:         stores.Posts,
		verifications: stores.Verifications,
		ledger:        stores.Ledger,
		follows:       stores.Follows,
		profiles:      stores.Profiles,
		notifier:      notifier,
		now:           clock,
		tracer:        otel.Tracer("raidbot/raids"),
	}
}

func (s *Service) span(ctx context.Context, name string) (context.Context, trace.Span) {
	if s.tracer == nil {
		return ctx, trace.SpanFromContext(ctx)
	}
	return s.tracer.Start(ctx, name)
}

// RegisterUser creates a user on first interaction with the signup grant,
// crediting the referrer's bonus when a referral link was used. It reports
// false when the user already exists.
func (s *Service) RegisterUser(ctx context.Context, id int64, name string, refBy int64) (bool, error) {
	ctx, span := s.span(ctx, "raids.register_user")
	defer span.End()

	if refBy == id {
		refBy = 0
	}
	created, err := s.users.CreateUser(ctx, storage.NewUser{
		ID:            id,
		Name:          name,
		RefBy:         refBy,
		SignupGrant:   domain.SignupGrant,
		ReferralBonus: domain.ReferralBonus,
	})
	if err != nil {
		return false, fmt.Errorf("register user: %w", err)
	}
	return created, nil
}

// User returns one user.
func (s *Service) User(ctx context.Context, id int64) (storage.User, error) {
	user, err := s.users.GetUser(ctx, id)
	if errors.Is(err, storage.ErrNotFound) {
		return storage.User{}, domain.ErrNotFound
	}
	if err != nil {
		return storage.User{}, fmt.Errorf("get user: %w", err)
	}
	return user, nil
}

// SetHandle binds an external handle to a user. A handle bound to a
// different user fails with ErrHandleTaken and changes neither user.
func (s *Service) SetHandle(ctx context.Context, userID int64, handle string) error {
	ctx, span := s.span(ctx, "raids.set_handle")
	defer span.End()

	err := s.users.SetHandle(ctx, userID, handle)
	switch {
	case errors.Is(err, storage.ErrAlreadyExists):
		return domain.ErrHandleTaken
	case errors.Is(err, storage.ErrNotFound):
		return domain.ErrNotFound
	case err != nil:
		return fmt.Errorf("set handle: %w", err)
	}
	return nil
}

// Submit records a new post for review. The owner must not be banned or in
// cooldown, and the link must match a recognized post-link shape.
func (s *Service) Submit(ctx context.Context, ownerID int64, link string, groupID int64) (storage.Post, error) {
	ctx, span := s.span(ctx, "raids.submit")
	defer span.End()

	if !domain.ValidPostLink(link) {
		return storage.Post{}, domain.ErrInvalidLink
	}

	owner, err := s.users.GetUser(ctx, ownerID)
	if errors.Is(err, storage.ErrNotFound) {
		return storage.Post{}, domain.ErrNotFound
	}
	if err != nil {
		return storage.Post{}, fmt.Errorf("get owner: %w", err)
	}

	now := s.now().UTC()
	if !owner.PostBanUntil.IsZero() && now.Before(owner.PostBanUntil) {
		return storage.Post{}, domain.ErrBanned
	}
	if !owner.LastPostAt.IsZero() && now.Sub(owner.LastPostAt) < domain.PostCooldown {
		return storage.Post{}, domain.ErrCooldown
	}

	post, err := s.posts.CreatePost(ctx, ownerID, link, groupID, now)
	if err != nil {
		return storage.Post{}, fmt.Errorf("create post: %w", err)
	}
	span.SetAttributes(attribute.Int64("raids.post_id", post.ID))

	s.notifyAdmins(ctx, fmt.Sprintf("New post submitted by %s: %s", owner.Name, post.Link))
	return post, nil
}

// CooldownRemaining reports how long until the owner may submit again; zero
// when no cooldown applies.
func (s *Service) CooldownRemaining(ctx context.Context, ownerID int64) (time.Duration, error) {
	owner, err := s.users.GetUser(ctx, ownerID)
	if errors.Is(err, storage.ErrNotFound) {
		return 0, domain.ErrNotFound
	}
	if err != nil {
		return 0, fmt.Errorf("get owner: %w", err)
	}
	if owner.LastPostAt.IsZero() {
		return 0, nil
	}
	remaining := domain.PostCooldown - s.now().UTC().Sub(owner.LastPostAt)
	if remaining < 0 {
		return 0, nil
	}
	return remaining, nil
}

// PendingPosts returns posts awaiting review, oldest first.
func (s *Service) PendingPosts(ctx context.Context, limit int) ([]storage.PostWithOwner, error) {
	posts, err := s.posts.ListPending(ctx, limit)
	if err != nil {
		return nil, fmt.Errorf("list pending posts: %w", err)
	}
	return posts, nil
}

// PendingCount returns the review queue depth.
func (s *Service) PendingCount(ctx context.Context) (int, error) {
	count, err := s.posts.CountPending(ctx)
	if err != nil {
		return 0, fmt.Errorf("count pending posts: %w", err)
	}
	return count, nil
}

// Decision reports how an admin review landed. An approval with no slot to
// spend lands as a rejection with InsufficientSlots set.
type Decision struct {
	PostID            int64
	Status            domain.PostStatus
	InsufficientSlots bool
}

// Decide resolves a pending post. Approval spends one owner slot and flips
// the status in a single transaction; an owner with no slot gets the post
// rejected instead.
func (s *Service) Decide(ctx context.Context, postID int64, approve bool) (Decision, error) {
	ctx, span := s.span(ctx, "raids.decide")
	defer span.End()
	span.SetAttributes(attribute.Int64("raids.post_id", postID), attribute.Bool("raids.approve", approve))

	post, err := s.posts.GetPost(ctx, postID)
	if errors.Is(err, storage.ErrNotFound) {
		return Decision{}, domain.ErrNotFound
	}
	if err != nil {
		return Decision{}, fmt.Errorf("get post: %w", err)
	}
	if post.Status != domain.PostPending {
		return Decision{}, domain.ErrNotFound
	}

	now := s.now().UTC()
	if !approve {
		if err := s.posts.SetStatus(ctx, postID, domain.PostRejected, now); err != nil {
			return Decision{}, fmt.Errorf("reject post: %w", err)
		}
		s.notifyUser(ctx, post.OwnerID, "Your post has been rejected.")
		return Decision{PostID: postID, Status: domain.PostRejected}, nil
	}

	approved, err := s.ledger.ApproveWithDebit(ctx, postID, post.OwnerID, now)
	if err != nil {
		return Decision{}, fmt.Errorf("approve post: %w", err)
	}
	if !approved {
		return Decision{PostID: postID, Status: domain.PostRejected, InsufficientSlots: true}, nil
	}
	s.notifyUser(ctx, post.OwnerID, "Your post has been approved for raiding!")
	return Decision{PostID: postID, Status: domain.PostApproved}, nil
}

// OngoingRaids returns approved posts still inside the raid validity window,
// optionally scoped to an origin group.
func (s *Service) OngoingRaids(ctx context.Context, groupID int64) ([]storage.PostWithOwner, error) {
	since := s.now().UTC().Add(-domain.RaidValidity)
	posts, err := s.posts.ListApprovedSince(ctx, groupID, since)
	if err != nil {
		return nil, fmt.Errorf("list ongoing raids: %w", err)
	}
	return posts, nil
}

// ActiveRaids returns the owner's own raids still open for claims.
func (s *Service) ActiveRaids(ctx context.Context, ownerID int64) ([]storage.Post, error) {
	since := s.now().UTC().Add(-domain.RaidValidity)
	posts, err := s.posts.ListActiveByOwner(ctx, ownerID, since)
	if err != nil {
		return nil, fmt.Errorf("list active raids: %w", err)
	}
	return posts, nil
}

// ClaimResult reports a completion claim. AlreadyClaimed means the
// participant had a live claim on this post and no new state was created.
type ClaimResult struct {
	Verification   storage.Verification
	AlreadyClaimed bool
}

// Claim records a participant's completion claim against an approved post
// and asks the owner to confirm it. Claims on missing or closed posts fail
// with ErrNotFound; a repeat claim reports AlreadyClaimed instead of failing.
func (s *Service) Claim(ctx context.Context, postID, participantID int64) (ClaimResult, error) {
	ctx, span := s.span(ctx, "raids.claim")
	defer span.End()
	span.SetAttributes(attribute.Int64("raids.post_id", postID))

	participant, err := s.users.GetUser(ctx, participantID)
	if errors.Is(err, storage.ErrNotFound) {
		return ClaimResult{}, domain.ErrNotFound
	}
	if err != nil {
		return ClaimResult{}, fmt.Errorf("get participant: %w", err)
	}
	if participant.TwitterHandle == "" {
		return ClaimResult{}, domain.ErrHandleNotSet
	}

	post, err := s.posts.GetPost(ctx, postID)
	if errors.Is(err, storage.ErrNotFound) {
		return ClaimResult{}, domain.ErrNotFound
	}
	if err != nil {
		return ClaimResult{}, fmt.Errorf("get post: %w", err)
	}
	if post.Status != domain.PostApproved {
		return ClaimResult{}, domain.ErrNotFound
	}
	if !domain.ValidPostLink(post.Link) {
		return ClaimResult{}, domain.ErrInvalidLink
	}
	if post.OwnerID == participantID {
		return ClaimResult{}, domain.ErrSelfRaid
	}

	verification, err := s.verifications.CreateVerification(ctx, postID, participantID, post.OwnerID, s.now().UTC())
	if errors.Is(err, storage.ErrAlreadyExists) {
		return ClaimResult{AlreadyClaimed: true}, nil
	}
	if err != nil {
		return ClaimResult{}, fmt.Errorf("create verification: %w", err)
	}

	s.notifyUser(ctx, post.OwnerID, fmt.Sprintf(
		"%s (@%s) says they've completed your raid: %s. Do you confirm?",
		participant.Name, participant.TwitterHandle, post.Link,
	))
	return ClaimResult{Verification: verification}, nil
}

// OwnerConfirm resolves a pending claim as confirmed, crediting the
// participant the raid reward in the same transaction.
func (s *Service) OwnerConfirm(ctx context.Context, postID, participantID int64) error {
	ctx, span := s.span(ctx, "raids.owner_confirm")
	defer span.End()

	err := s.verifications.ConfirmVerification(ctx, postID, participantID, domain.RaidReward, s.now().UTC())
	if errors.Is(err, storage.ErrNotFound) {
		return domain.ErrNotFound
	}
	if err != nil {
		return fmt.Errorf("confirm verification: %w", err)
	}
	s.notifyUser(ctx, participantID, fmt.Sprintf(
		"Your raid was confirmed! You've earned %s slots.", domain.RaidReward,
	))
	return nil
}

// OwnerReject resolves a pending claim as rejected; nothing is credited.
func (s *Service) OwnerReject(ctx context.Context, postID, participantID int64) error {
	ctx, span := s.span(ctx, "raids.owner_reject")
	defer span.End()

	err := s.verifications.RejectVerification(ctx, postID, participantID, s.now().UTC())
	if errors.Is(err, storage.ErrNotFound) {
		return domain.ErrNotFound
	}
	if err != nil {
		return fmt.Errorf("reject verification: %w", err)
	}
	s.notifyUser(ctx, participantID, "Your raid was rejected by the post owner. No slots awarded.")
	return nil
}

// VerificationsForPost returns all claims against a post for the owner's
// response view.
func (s *Service) VerificationsForPost(ctx context.Context, postID int64) ([]storage.VerificationWithParticipant, error) {
	records, err := s.verifications.ListForPost(ctx, postID)
	if err != nil {
		return nil, fmt.Errorf("list verifications: %w", err)
	}
	return records, nil
}

// Profile aggregates a user's stats for display.
type Profile struct {
	User          storage.User
	ApprovedPosts int
	RejectedPosts int
	TaskSlots     decimal.Decimal
	ReferralSlots decimal.Decimal
}

// Profile returns the user's profile stats.
func (s *Service) Profile(ctx context.Context, userID int64) (Profile, error) {
	ctx, span := s.span(ctx, "raids.profile")
	defer span.End()

	user, err := s.users.GetUser(ctx, userID)
	if errors.Is(err, storage.ErrNotFound) {
		return Profile{}, domain.ErrNotFound
	}
	if err != nil {
		return Profile{}, fmt.Errorf("get user: %w", err)
	}
	approved, rejected, err := s.profiles.PostCounts(ctx, userID)
	if err != nil {
		return Profile{}, fmt.Errorf("count posts: %w", err)
	}
	taskSlots, err := s.ledger.SumByReason(ctx, userID, domain.ReasonTask)
	if err != nil {
		return Profile{}, fmt.Errorf("sum task slots: %w", err)
	}
	referralSlots, err := s.ledger.SumByReason(ctx, userID, domain.ReasonReferral)
	if err != nil {
		return Profile{}, fmt.Errorf("sum referral slots: %w", err)
	}
	return Profile{
		User:          user,
		ApprovedPosts: approved,
		RejectedPosts: rejected,
		TaskSlots:     taskSlots,
		ReferralSlots: referralSlots,
	}, nil
}

// Balance returns the user's slot balance.
func (s *Service) Balance(ctx context.Context, userID int64) (decimal.Decimal, error) {
	balance, err := s.ledger.Balance(ctx, userID)
	if errors.Is(err, storage.ErrNotFound) {
		return decimal.Zero, domain.ErrNotFound
	}
	if err != nil {
		return decimal.Zero, fmt.Errorf("get balance: %w", err)
	}
	return balance, nil
}

// Grant credits a user outside the raid flow, tagged admin-grant.
func (s *Service) Grant(ctx context.Context, userID int64, amount decimal.Decimal) error {
	err := s.ledger.Credit(ctx, userID, amount, domain.ReasonAdminGrant, s.now().UTC())
	if errors.Is(err, storage.ErrNotFound) {
		return domain.ErrNotFound
	}
	if err != nil {
		return err
	}
	return nil
}

// JoinFollowPool opts a user into the mutual-follow exchange. A linked
// handle is required so others know who to follow.
func (s *Service) JoinFollowPool(ctx context.Context, userID int64) error {
	user, err := s.users.GetUser(ctx, userID)
	if errors.Is(err, storage.ErrNotFound) {
		return domain.ErrNotFound
	}
	if err != nil {
		return fmt.Errorf("get user: %w", err)
	}
	if user.TwitterHandle == "" {
		return domain.ErrHandleNotSet
	}
	if err := s.follows.JoinPool(ctx, userID, user.TwitterHandle, s.now().UTC()); err != nil {
		return fmt.Errorf("join follow pool: %w", err)
	}
	return nil
}

// LeaveFollowPool opts a user out of the exchange.
func (s *Service) LeaveFollowPool(ctx context.Context, userID int64) error {
	if err := s.follows.LeavePool(ctx, userID); err != nil {
		return fmt.Errorf("leave follow pool: %w", err)
	}
	return nil
}

// InFollowPool reports pool membership.
func (s *Service) InFollowPool(ctx context.Context, userID int64) (bool, error) {
	in, err := s.follows.InPool(ctx, userID)
	if err != nil {
		return false, fmt.Errorf("check follow pool: %w", err)
	}
	return in, nil
}

// FollowSuggestions returns pool members the user has not followed yet.
func (s *Service) FollowSuggestions(ctx context.Context, userID int64) ([]storage.FollowSuggestion, error) {
	suggestions, err := s.follows.Suggestions(ctx, userID)
	if err != nil {
		return nil, fmt.Errorf("list follow suggestions: %w", err)
	}
	return suggestions, nil
}

// RecordFollow records that follower followed followed and asks the followed
// party to respond.
func (s *Service) RecordFollow(ctx context.Context, followerID, followedID int64) error {
	if followerID == followedID {
		return domain.ErrSelfFollow
	}
	follower, err := s.users.GetUser(ctx, followerID)
	if errors.Is(err, storage.ErrNotFound) {
		return domain.ErrNotFound
	}
	if err != nil {
		return fmt.Errorf("get follower: %w", err)
	}
	if err := s.follows.CreateFollow(ctx, followerID, followedID, s.now().UTC()); err != nil {
		return fmt.Errorf("create follow: %w", err)
	}
	s.notifyUser(ctx, followedID, fmt.Sprintf(
		"%s (@%s) says they followed you. Follow back or ignore?",
		follower.Name, follower.TwitterHandle,
	))
	return nil
}

// ConfirmFollowBack marks the exchange mutual; only the followed party
// confirms.
func (s *Service) ConfirmFollowBack(ctx context.Context, followedID, followerID int64) error {
	err := s.follows.ConfirmFollowBack(ctx, followedID, followerID)
	if errors.Is(err, storage.ErrNotFound) {
		return domain.ErrNotFound
	}
	if err != nil {
		return fmt.Errorf("confirm follow back: %w", err)
	}
	s.notifyUser(ctx, followerID, "You got a follow back!")
	return nil
}

// IgnoreFollow declines the exchange without confirming.
func (s *Service) IgnoreFollow(ctx context.Context, followedID, followerID int64) error {
	err := s.follows.IgnoreFollow(ctx, followedID, followerID)
	if errors.Is(err, storage.ErrNotFound) {
		return domain.ErrNotFound
	}
	if err != nil {
		return fmt.Errorf("ignore follow: %w", err)
	}
	s.notifyUser(ctx, followerID, "Your follow request was ignored.")
	return nil
}

// PendingFollowers returns followers the user has not responded to yet.
func (s *Service) PendingFollowers(ctx context.Context, userID int64) ([]storage.PendingFollower, error) {
	followers, err := s.follows.PendingFollowers(ctx, userID)
	if err != nil {
		return nil, fmt.Errorf("list pending followers: %w", err)
	}
	return followers, nil
}
