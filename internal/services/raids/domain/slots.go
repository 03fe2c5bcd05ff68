package domain

import (
	"time"

	"github.com/shopspring/decimal"
)

// Slot amounts are fractional credits; decimal arithmetic keeps balances
// exactly reconcilable against the ledger.
var (
	// SignupGrant is credited to every user on first interaction.
	SignupGrant = decimal.New(2, 0)

	// ReferralBonus is credited to the referrer when a referred user signs up.
	ReferralBonus = decimal.New(2, -1)

	// RaidReward is credited to a participant when the post owner confirms
	// their raid.
	RaidReward = decimal.New(1, -1)

	// ApprovalCost is the whole slot an admin approval spends.
	ApprovalCost = decimal.New(1, 0)
)

// Fixed duration windows. Timestamps are stored and compared in UTC.
const (
	// PostCooldown is the minimum gap between two submissions by one owner.
	PostCooldown = 12 * time.Hour

	// RaidValidity is how long an approved post stays open for claims.
	RaidValidity = 24 * time.Hour

	// StalePendingAge is how long a post may sit pending before the
	// maintenance sweep approves it on the platform's tab.
	StalePendingAge = time.Hour

	// BanLookback is how long past expiry an unresolved verification must be
	// before the owner is banned; expiry happens RaidValidity after approval,
	// so the sweep cutoff is RaidValidity+BanLookback from approved_at.
	BanLookback = 4 * time.Hour

	// PostBanDuration is how long an unresponsive owner is banned from
	// posting.
	PostBanDuration = 48 * time.Hour
)
