package ledger

import "errors"

// Sentinel errors returned by the ledger.  Operations wrap them with context,
// so callers should compare with errors.Is.  Every one of them is raised
// before any write is staged.
var (
	// ErrNotFound is returned for an unknown asset, listing or ticket.
	ErrNotFound = errors.New("not found")
	// ErrAlreadyExists is returned when an asset id is already registered.
	ErrAlreadyExists = errors.New("already exists")
	// ErrUnauthorized is returned when the caller lacks the owner or
	// occupant role required for the target asset.
	ErrUnauthorized = errors.New("unauthorized")
	// ErrWrongAmount is returned when a deposit payment does not exactly
	// match the listed security deposit.
	ErrWrongAmount = errors.New("wrong amount")
	// ErrAlreadyEscrowed is returned when a deposit is paid while one is
	// already held.
	ErrAlreadyEscrowed = errors.New("deposit already escrowed")
	// ErrNothingEscrowed is returned when a release finds no held deposit.
	ErrNothingEscrowed = errors.New("nothing escrowed")
	// ErrNoActiveOccupant is returned when a deposit release finds no live
	// grant to pay out to.
	ErrNoActiveOccupant = errors.New("no active occupant")
	// ErrBalanceOverflow is returned when a deposit release would push the
	// recipient's balance past the largest representable Amount.
	ErrBalanceOverflow = errors.New("balance overflow")
	// ErrInvalidIdentity is returned when an owner, occupant or payer is the
	// empty identity.
	ErrInvalidIdentity = errors.New("invalid identity")
)
