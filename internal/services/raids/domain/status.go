package domain

// PostStatus describes where a post sits in the raid lifecycle. Rejected and
// expired are terminal; approved can only move to expired.
type PostStatus string

const (
	PostPending  PostStatus = "pending"
	PostApproved PostStatus = "approved"
	PostRejected PostStatus = "rejected"
	PostExpired  PostStatus = "expired"
)

// ValidPostStatus reports whether value is a known post status.
func ValidPostStatus(value string) bool {
	switch PostStatus(value) {
	case PostPending, PostApproved, PostRejected, PostExpired:
		return true
	}
	return false
}

// VerificationStatus describes the resolution state of one participant's
// claim against a post.
type VerificationStatus string

const (
	VerificationPending   VerificationStatus = "pending"
	VerificationConfirmed VerificationStatus = "confirmed"
	VerificationRejected  VerificationStatus = "rejected"
)

// LedgerReason tags a credit-granting ledger event.
type LedgerReason string

const (
	ReasonReferral   LedgerReason = "referral"
	ReasonTask       LedgerReason = "task"
	ReasonAdminGrant LedgerReason = "admin-grant"
)
