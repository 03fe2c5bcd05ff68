package app

import (
	"context"
	"fmt"
	"log"

	"go.opentelemetry.io/otel/attribute"

	"github.com/web3kaiju/raidbot/internal/services/raids/domain"
	"github.com/web3kaiju/raidbot/internal/services/raids/storage"
)

// ExpirePosts closes approved posts whose raid window has passed. Running it
// twice over the same window is harmless.
func (s *Service) ExpirePosts(ctx context.Context) (int64, error) {
	ctx, span := s.span(ctx, "raids.sweep.expire")
	defer span.End()

	cutoff := s.now().UTC().Add(-domain.RaidValidity)
	expired, err := s.posts.ExpireApprovedBefore(ctx, cutoff)
	if err != nil {
		return 0, fmt.Errorf("expire posts: %w", err)
	}
	span.SetAttributes(attribute.Int64("raids.expired", expired))
	if expired > 0 {
		log.Printf("expired %d approved post(s)", expired)
	}
	return expired, nil
}

// AutoApproveStalePosts approves posts still pending after the stale window,
// on the platform's tab: no slot is debited for admin inaction. Owners are
// notified best-effort; a delivery failure never aborts the sweep.
func (s *Service) AutoApproveStalePosts(ctx context.Context) ([]storage.Post, error) {
	ctx, span := s.span(ctx, "raids.sweep.auto_approve")
	defer span.End()

	now := s.now().UTC()
	posts, err := s.posts.ApproveStalePendingBefore(ctx, now.Add(-domain.StalePendingAge), now)
	if err != nil {
		return nil, fmt.Errorf("auto approve stale posts: %w", err)
	}
	span.SetAttributes(attribute.Int("raids.auto_approved", len(posts)))
	for _, post := range posts {
		s.notifyUser(ctx, post.OwnerID, fmt.Sprintf(
			"Your post has been automatically approved: %s", post.Link,
		))
	}
	if len(posts) > 0 {
		log.Printf("auto-approved %d stale pending post(s)", len(posts))
	}
	return posts, nil
}

// groupReminderText is broadcast once a day to nudge members to raid and
// submit posts.
const groupReminderText = "📢 Daily Reminder: Don't forget to complete your raids and submit your posts!"

// RemindGroup broadcasts the daily reminder to the community group. A zero
// group ID means no group is configured and the reminder is skipped.
func (s *Service) RemindGroup(ctx context.Context, groupID int64) error {
	if groupID == 0 {
		return nil
	}
	ctx, span := s.span(ctx, "raids.remind_group")
	defer span.End()

	if err := s.notifier.NotifyGroup(ctx, groupID, groupReminderText); err != nil {
		return fmt.Errorf("remind group %d: %w", groupID, err)
	}
	return nil
}

// BanUnresponsiveOwners bans owners whose expired posts still carry pending
// claims past the lookback window. Per-owner failures are logged and
// skipped; the sweep never aborts mid-run.
func (s *Service) BanUnresponsiveOwners(ctx context.Context) ([]int64, error) {
	ctx, span := s.span(ctx, "raids.sweep.ban_unresponsive")
	defer span.End()

	now := s.now().UTC()
	cutoff := now.Add(-(domain.RaidValidity + domain.BanLookback))
	owners, err := s.verifications.ListUnresponsiveOwners(ctx, cutoff)
	if err != nil {
		return nil, fmt.Errorf("list unresponsive owners: %w", err)
	}

	until := now.Add(domain.PostBanDuration)
	var banned []int64
	for _, owner := range owners {
		if err := s.users.BanFromPosting(ctx, owner, until); err != nil {
			log.Printf("ban owner %d: %v", owner, err)
			continue
		}
		banned = append(banned, owner)
		s.notifyUser(ctx, owner, fmt.Sprintf(
			"You are banned from posting for %s: you left raid confirmations unanswered.",
			domain.PostBanDuration,
		))
		log.Printf("banned owner %d until %s for unresolved raid confirmations", owner, until.Format("2006-01-02 15:04 UTC"))
	}
	span.SetAttributes(attribute.Int("raids.banned", len(banned)))
	return banned, nil
}
