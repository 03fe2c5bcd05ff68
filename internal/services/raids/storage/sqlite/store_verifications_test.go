package sqlite

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/shopspring/decimal"

	"github.com/web3kaiju/raidbot/internal/services/raids/domain"
	"github.com/web3kaiju/raidbot/internal/services/raids/storage"
)

func TestCreateVerificationRejectsDuplicateClaim(t *testing.T) {
	store := newTestStore(t)
	mustCreateUser(t, store, 1, "owner")
	mustCreateUser(t, store, 2, "participant")
	post := mustCreatePost(t, store, 1, "https://x.com/owner/status/1", testClock)

	if _, err := store.CreateVerification(context.Background(), post.ID, 2, 1, testClock); err != nil {
		t.Fatalf("create verification: %v", err)
	}
	if _, err := store.CreateVerification(context.Background(), post.ID, 2, 1, testClock); !errors.Is(err, storage.ErrAlreadyExists) {
		t.Fatalf("expected ErrAlreadyExists, got %v", err)
	}
}

func TestCreateVerificationConcurrentDuplicatesLoseOnce(t *testing.T) {
	store := newTestStore(t)
	mustCreateUser(t, store, 1, "owner")
	mustCreateUser(t, store, 2, "participant")
	post := mustCreatePost(t, store, 1, "https://x.com/owner/status/1", testClock)

	// Racing claims for the same (post, participant) pair resolve to exactly
	// one live row; the unique index turns every other attempt away.
	const attempts = 8
	errs := make(chan error, attempts)
	var wg sync.WaitGroup
	for i := 0; i < attempts; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			_, err := store.CreateVerification(context.Background(), post.ID, 2, 1, testClock)
			errs <- err
		}()
	}
	wg.Wait()
	close(errs)

	var created, duplicates int
	for err := range errs {
		switch {
		case err == nil:
			created++
		case errors.Is(err, storage.ErrAlreadyExists):
			duplicates++
		default:
			t.Fatalf("concurrent claim: %v", err)
		}
	}
	if created != 1 || duplicates != attempts-1 {
		t.Fatalf("created = %d, duplicates = %d, want 1 and %d", created, duplicates, attempts-1)
	}

	records, err := store.ListForPost(context.Background(), post.ID)
	if err != nil {
		t.Fatalf("list verifications: %v", err)
	}
	if len(records) != 1 {
		t.Fatalf("records len = %d, want 1", len(records))
	}
}

func TestCreateVerificationRejectsOwnerClaim(t *testing.T) {
	store := newTestStore(t)
	mustCreateUser(t, store, 1, "owner")
	post := mustCreatePost(t, store, 1, "https://x.com/owner/status/1", testClock)

	if _, err := store.CreateVerification(context.Background(), post.ID, 1, 1, testClock); err == nil {
		t.Fatal("expected self-claim error")
	}
}

func TestRejectedClaimFreesThePair(t *testing.T) {
	store := newTestStore(t)
	mustCreateUser(t, store, 1, "owner")
	mustCreateUser(t, store, 2, "participant")
	post := mustCreatePost(t, store, 1, "https://x.com/owner/status/1", testClock)

	if _, err := store.CreateVerification(context.Background(), post.ID, 2, 1, testClock); err != nil {
		t.Fatalf("create verification: %v", err)
	}
	if err := store.RejectVerification(context.Background(), post.ID, 2, testClock.Add(time.Minute)); err != nil {
		t.Fatalf("reject verification: %v", err)
	}
	if _, err := store.CreateVerification(context.Background(), post.ID, 2, 1, testClock.Add(2*time.Minute)); err != nil {
		t.Fatalf("re-claim after reject: %v", err)
	}
}

func TestConfirmVerificationCreditsReward(t *testing.T) {
	store := newTestStore(t)
	mustCreateUser(t, store, 1, "owner")
	mustCreateUser(t, store, 2, "participant")
	post := mustCreatePost(t, store, 1, "https://x.com/owner/status/1", testClock)

	if _, err := store.CreateVerification(context.Background(), post.ID, 2, 1, testClock); err != nil {
		t.Fatalf("create verification: %v", err)
	}
	resolvedAt := testClock.Add(time.Minute)
	if err := store.ConfirmVerification(context.Background(), post.ID, 2, domain.RaidReward, resolvedAt); err != nil {
		t.Fatalf("confirm verification: %v", err)
	}

	balance, err := store.Balance(context.Background(), 2)
	if err != nil {
		t.Fatalf("get balance: %v", err)
	}
	want := domain.SignupGrant.Add(domain.RaidReward)
	if !balance.Equal(want) {
		t.Fatalf("balance = %s, want %s", balance, want)
	}
	earned, err := store.SumByReason(context.Background(), 2, domain.ReasonTask)
	if err != nil {
		t.Fatalf("sum task credits: %v", err)
	}
	if !earned.Equal(domain.RaidReward) {
		t.Fatalf("task credits = %s, want %s", earned, domain.RaidReward)
	}

	records, err := store.ListForPost(context.Background(), post.ID)
	if err != nil {
		t.Fatalf("list verifications: %v", err)
	}
	if len(records) != 1 {
		t.Fatalf("records len = %d, want 1", len(records))
	}
	if records[0].Status != domain.VerificationConfirmed {
		t.Fatalf("status = %q, want confirmed", records[0].Status)
	}
	if !records[0].ResolvedAt.Equal(resolvedAt) {
		t.Fatalf("resolved at = %v, want %v", records[0].ResolvedAt, resolvedAt)
	}
	if records[0].ParticipantName != "participant" {
		t.Fatalf("participant name = %q", records[0].ParticipantName)
	}

	// A resolved claim cannot be confirmed again, so the reward pays once.
	if err := store.ConfirmVerification(context.Background(), post.ID, 2, domain.RaidReward, resolvedAt); !errors.Is(err, storage.ErrNotFound) {
		t.Fatalf("expected ErrNotFound on double confirm, got %v", err)
	}
}

func TestConfirmVerificationRejectsSubMilliReward(t *testing.T) {
	store := newTestStore(t)
	mustCreateUser(t, store, 1, "owner")
	mustCreateUser(t, store, 2, "participant")
	post := mustCreatePost(t, store, 1, "https://x.com/owner/status/1", testClock)

	if _, err := store.CreateVerification(context.Background(), post.ID, 2, 1, testClock); err != nil {
		t.Fatalf("create verification: %v", err)
	}
	reward := decimal.RequireFromString("0.1234")
	err := store.ConfirmVerification(context.Background(), post.ID, 2, reward, testClock.Add(time.Minute))
	if !errors.Is(err, domain.ErrInvalidAmount) {
		t.Fatalf("expected ErrInvalidAmount, got %v", err)
	}

	// The claim stays pending and no partial reward was paid.
	records, err := store.ListForPost(context.Background(), post.ID)
	if err != nil {
		t.Fatalf("list verifications: %v", err)
	}
	if len(records) != 1 || records[0].Status != domain.VerificationPending {
		t.Fatalf("records = %v, want one pending claim", records)
	}
	balance, err := store.Balance(context.Background(), 2)
	if err != nil {
		t.Fatalf("get balance: %v", err)
	}
	if !balance.Equal(domain.SignupGrant) {
		t.Fatalf("balance = %s, want untouched grant", balance)
	}
}

func TestRejectVerificationRequiresPendingClaim(t *testing.T) {
	store := newTestStore(t)
	mustCreateUser(t, store, 1, "owner")
	post := mustCreatePost(t, store, 1, "https://x.com/owner/status/1", testClock)

	if err := store.RejectVerification(context.Background(), post.ID, 2, testClock); !errors.Is(err, storage.ErrNotFound) {
		t.Fatalf("expected ErrNotFound, got %v", err)
	}
}

func TestListUnresponsiveOwners(t *testing.T) {
	store := newTestStore(t)
	mustCreateUser(t, store, 1, "silent owner")
	mustCreateUser(t, store, 2, "participant")
	mustCreateUser(t, store, 3, "diligent owner")

	approvedAt := testClock.Add(-(domain.RaidValidity + domain.BanLookback))

	silent := mustCreatePost(t, store, 1, "https://x.com/silent/status/1", approvedAt)
	if err := store.SetStatus(context.Background(), silent.ID, domain.PostApproved, approvedAt); err != nil {
		t.Fatalf("approve silent post: %v", err)
	}
	if _, err := store.CreateVerification(context.Background(), silent.ID, 2, 1, approvedAt.Add(time.Hour)); err != nil {
		t.Fatalf("claim silent post: %v", err)
	}

	diligent := mustCreatePost(t, store, 3, "https://x.com/diligent/status/1", approvedAt)
	if err := store.SetStatus(context.Background(), diligent.ID, domain.PostApproved, approvedAt); err != nil {
		t.Fatalf("approve diligent post: %v", err)
	}
	if _, err := store.CreateVerification(context.Background(), diligent.ID, 2, 3, approvedAt.Add(time.Hour)); err != nil {
		t.Fatalf("claim diligent post: %v", err)
	}
	if err := store.ConfirmVerification(context.Background(), diligent.ID, 2, domain.RaidReward, approvedAt.Add(2*time.Hour)); err != nil {
		t.Fatalf("confirm diligent claim: %v", err)
	}

	if _, err := store.ExpireApprovedBefore(context.Background(), testClock.Add(-domain.RaidValidity)); err != nil {
		t.Fatalf("expire posts: %v", err)
	}

	owners, err := store.ListUnresponsiveOwners(context.Background(), testClock.Add(-(domain.RaidValidity+domain.BanLookback)))
	if err != nil {
		t.Fatalf("list unresponsive owners: %v", err)
	}
	if len(owners) != 1 || owners[0] != 1 {
		t.Fatalf("owners = %v, want [1]", owners)
	}
}
