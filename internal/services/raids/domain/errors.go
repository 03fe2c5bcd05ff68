package domain

import "errors"

// Recoverable failures the caller translates into user-facing messages. No
// partial state is committed when any of these is returned.
var (
	// ErrInvalidLink indicates a submitted link does not match a recognized
	// external post-link shape.
	ErrInvalidLink = errors.New("link is not a recognized post link")

	// ErrCooldown indicates the owner submitted another post inside the
	// cooldown window.
	ErrCooldown = errors.New("owner is in posting cooldown")

	// ErrBanned indicates the owner is banned from posting.
	ErrBanned = errors.New("owner is banned from posting")

	// ErrSelfRaid indicates a participant tried to claim their own post.
	ErrSelfRaid = errors.New("cannot raid own post")

	// ErrSelfFollow indicates a user tried to record a follow on themselves.
	ErrSelfFollow = errors.New("cannot follow self")

	// ErrHandleNotSet indicates an operation requiring a linked handle was
	// attempted before one was connected.
	ErrHandleNotSet = errors.New("handle not set")

	// ErrHandleTaken indicates the handle is already bound to another user.
	ErrHandleTaken = errors.New("handle already taken")

	// ErrInvalidAmount indicates a ledger amount that is non-positive or
	// finer than a thousandth of a slot.
	ErrInvalidAmount = errors.New("amount must be a positive multiple of 0.001")

	// ErrNotFound indicates the referenced user, post, or verification does
	// not exist or is no longer actionable.
	ErrNotFound = errors.New("not found")
)
