package sqlite

import (
	"context"
	"errors"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/shopspring/decimal"

	"github.com/web3kaiju/raidbot/internal/services/raids/domain"
	"github.com/web3kaiju/raidbot/internal/services/raids/storage"
)

func newTestStore(t *testing.T) *Store {
	t.Helper()
	store, err := Open(filepath.Join(t.TempDir(), "raids.db"))
	if err != nil {
		t.Fatalf("open store: %v", err)
	}
	t.Cleanup(func() {
		if err := store.Close(); err != nil {
			t.Errorf("close store: %v", err)
		}
	})
	return store
}

func mustCreateUser(t *testing.T, store *Store, id int64, name string) {
	t.Helper()
	created, err := store.CreateUser(context.Background(), storage.NewUser{
		ID:          id,
		Name:        name,
		SignupGrant: domain.SignupGrant,
	})
	if err != nil {
		t.Fatalf("create user %d: %v", id, err)
	}
	if !created {
		t.Fatalf("user %d already existed", id)
	}
}

func TestOpenRejectsEmptyPath(t *testing.T) {
	if _, err := Open("  "); err == nil {
		t.Fatal("expected empty path error")
	}
}

func TestOpenAppliesConnectionPragmas(t *testing.T) {
	store := newTestStore(t)

	var journalMode string
	if err := store.sqlDB.QueryRow(`PRAGMA journal_mode`).Scan(&journalMode); err != nil {
		t.Fatalf("read journal_mode: %v", err)
	}
	if !strings.EqualFold(journalMode, "wal") {
		t.Fatalf("journal_mode = %q, want wal", journalMode)
	}

	var busyTimeout int
	if err := store.sqlDB.QueryRow(`PRAGMA busy_timeout`).Scan(&busyTimeout); err != nil {
		t.Fatalf("read busy_timeout: %v", err)
	}
	if busyTimeout != 5000 {
		t.Fatalf("busy_timeout = %d, want 5000", busyTimeout)
	}

	var foreignKeys int
	if err := store.sqlDB.QueryRow(`PRAGMA foreign_keys`).Scan(&foreignKeys); err != nil {
		t.Fatalf("read foreign_keys: %v", err)
	}
	if foreignKeys != 1 {
		t.Fatalf("foreign_keys = %d, want 1", foreignKeys)
	}
}

func TestCreateUserGrantsSignupCredit(t *testing.T) {
	store := newTestStore(t)

	mustCreateUser(t, store, 1, "alice")

	user, err := store.GetUser(context.Background(), 1)
	if err != nil {
		t.Fatalf("get user: %v", err)
	}
	if !user.Slots.Equal(domain.SignupGrant) {
		t.Fatalf("slots = %s, want %s", user.Slots, domain.SignupGrant)
	}

	granted, err := store.SumByReason(context.Background(), 1, domain.ReasonAdminGrant)
	if err != nil {
		t.Fatalf("sum by reason: %v", err)
	}
	if !granted.Equal(domain.SignupGrant) {
		t.Fatalf("granted = %s, want %s", granted, domain.SignupGrant)
	}
}

func TestCreateUserIsIdempotent(t *testing.T) {
	store := newTestStore(t)

	mustCreateUser(t, store, 1, "alice")
	created, err := store.CreateUser(context.Background(), storage.NewUser{
		ID:          1,
		Name:        "alice again",
		SignupGrant: domain.SignupGrant,
	})
	if err != nil {
		t.Fatalf("create user twice: %v", err)
	}
	if created {
		t.Fatal("expected second create to report existing user")
	}

	user, err := store.GetUser(context.Background(), 1)
	if err != nil {
		t.Fatalf("get user: %v", err)
	}
	if user.Name != "alice" {
		t.Fatalf("name = %q, want original name preserved", user.Name)
	}
	if !user.Slots.Equal(domain.SignupGrant) {
		t.Fatalf("slots = %s, want single signup grant", user.Slots)
	}
}

func TestCreateUserCreditsReferrer(t *testing.T) {
	store := newTestStore(t)

	mustCreateUser(t, store, 1, "referrer")
	created, err := store.CreateUser(context.Background(), storage.NewUser{
		ID:            2,
		Name:          "referred",
		RefBy:         1,
		SignupGrant:   domain.SignupGrant,
		ReferralBonus: domain.ReferralBonus,
	})
	if err != nil {
		t.Fatalf("create referred user: %v", err)
	}
	if !created {
		t.Fatal("expected referred user to be created")
	}

	referrer, err := store.GetUser(context.Background(), 1)
	if err != nil {
		t.Fatalf("get referrer: %v", err)
	}
	want := domain.SignupGrant.Add(domain.ReferralBonus)
	if !referrer.Slots.Equal(want) {
		t.Fatalf("referrer slots = %s, want %s", referrer.Slots, want)
	}
	if referrer.RefCount != 1 {
		t.Fatalf("ref count = %d, want 1", referrer.RefCount)
	}

	bonus, err := store.SumByReason(context.Background(), 1, domain.ReasonReferral)
	if err != nil {
		t.Fatalf("sum referral: %v", err)
	}
	if !bonus.Equal(domain.ReferralBonus) {
		t.Fatalf("referral bonus = %s, want %s", bonus, domain.ReferralBonus)
	}

	referred, err := store.GetUser(context.Background(), 2)
	if err != nil {
		t.Fatalf("get referred: %v", err)
	}
	if referred.RefBy != 1 {
		t.Fatalf("ref_by = %d, want 1", referred.RefBy)
	}
}

func TestCreateUserIgnoresUnknownReferrer(t *testing.T) {
	store := newTestStore(t)

	created, err := store.CreateUser(context.Background(), storage.NewUser{
		ID:            2,
		Name:          "referred",
		RefBy:         99,
		SignupGrant:   domain.SignupGrant,
		ReferralBonus: domain.ReferralBonus,
	})
	if err != nil {
		t.Fatalf("create user: %v", err)
	}
	if !created {
		t.Fatal("expected user to be created")
	}

	bonus, err := store.SumByReason(context.Background(), 99, domain.ReasonReferral)
	if err != nil {
		t.Fatalf("sum referral: %v", err)
	}
	if !bonus.IsZero() {
		t.Fatalf("expected no referral log for unknown referrer, got %s", bonus)
	}
}

func TestGetUserNotFound(t *testing.T) {
	store := newTestStore(t)

	if _, err := store.GetUser(context.Background(), 42); !errors.Is(err, storage.ErrNotFound) {
		t.Fatalf("expected ErrNotFound, got %v", err)
	}
}

func TestSetHandleStripsAtPrefix(t *testing.T) {
	store := newTestStore(t)
	mustCreateUser(t, store, 1, "alice")

	if err := store.SetHandle(context.Background(), 1, " @alice_tw "); err != nil {
		t.Fatalf("set handle: %v", err)
	}
	user, err := store.GetUser(context.Background(), 1)
	if err != nil {
		t.Fatalf("get user: %v", err)
	}
	if user.TwitterHandle != "alice_tw" {
		t.Fatalf("handle = %q, want alice_tw", user.TwitterHandle)
	}
}

func TestSetHandleTakenLeavesBothUnchanged(t *testing.T) {
	store := newTestStore(t)
	mustCreateUser(t, store, 1, "alice")
	mustCreateUser(t, store, 2, "bob")

	if err := store.SetHandle(context.Background(), 1, "shared"); err != nil {
		t.Fatalf("set handle: %v", err)
	}
	if err := store.SetHandle(context.Background(), 2, "shared"); !errors.Is(err, storage.ErrAlreadyExists) {
		t.Fatalf("expected ErrAlreadyExists, got %v", err)
	}

	alice, err := store.GetUser(context.Background(), 1)
	if err != nil {
		t.Fatalf("get alice: %v", err)
	}
	bob, err := store.GetUser(context.Background(), 2)
	if err != nil {
		t.Fatalf("get bob: %v", err)
	}
	if alice.TwitterHandle != "shared" {
		t.Fatalf("alice handle = %q, want shared", alice.TwitterHandle)
	}
	if bob.TwitterHandle != "" {
		t.Fatalf("bob handle = %q, want empty", bob.TwitterHandle)
	}
}

func TestSetHandleSameUserReassigns(t *testing.T) {
	store := newTestStore(t)
	mustCreateUser(t, store, 1, "alice")

	if err := store.SetHandle(context.Background(), 1, "first"); err != nil {
		t.Fatalf("set handle: %v", err)
	}
	if err := store.SetHandle(context.Background(), 1, "second"); err != nil {
		t.Fatalf("change handle: %v", err)
	}
	user, err := store.GetUser(context.Background(), 1)
	if err != nil {
		t.Fatalf("get user: %v", err)
	}
	if user.TwitterHandle != "second" {
		t.Fatalf("handle = %q, want second", user.TwitterHandle)
	}
}

func TestSetHandleMissingUser(t *testing.T) {
	store := newTestStore(t)

	if err := store.SetHandle(context.Background(), 42, "ghost"); !errors.Is(err, storage.ErrNotFound) {
		t.Fatalf("expected ErrNotFound, got %v", err)
	}
}

func TestBanFromPosting(t *testing.T) {
	store := newTestStore(t)
	mustCreateUser(t, store, 1, "alice")

	until := time.Date(2026, time.March, 1, 12, 0, 0, 0, time.UTC)
	if err := store.BanFromPosting(context.Background(), 1, until); err != nil {
		t.Fatalf("ban user: %v", err)
	}
	user, err := store.GetUser(context.Background(), 1)
	if err != nil {
		t.Fatalf("get user: %v", err)
	}
	if !user.PostBanUntil.Equal(until) {
		t.Fatalf("post ban until = %v, want %v", user.PostBanUntil, until)
	}

	if err := store.BanFromPosting(context.Background(), 42, until); !errors.Is(err, storage.ErrNotFound) {
		t.Fatalf("expected ErrNotFound for missing user, got %v", err)
	}
}

func TestMilliSlotRoundTrip(t *testing.T) {
	values := []decimal.Decimal{
		decimal.Zero,
		domain.RaidReward,
		domain.ReferralBonus,
		domain.SignupGrant,
		decimal.RequireFromString("12.345"),
	}
	for _, value := range values {
		if got := fromMilliSlots(toMilliSlots(value)); !got.Equal(value) {
			t.Fatalf("round trip %s = %s", value, got)
		}
	}
}
