package ledger

import "context"

// Tx is the view of the ledger state available to a single operation.
// Lookups return ok=false when the record does not exist.  Writes made
// through a Tx obtained from Store.Update become visible only after the
// update function returns nil; a Tx obtained from Store.View rejects writes.
type Tx interface {
	Owner(ctx context.Context, id AssetID) (owner Identity, ok bool, err error)
	// InsertAsset registers id.  It fails with ErrAlreadyExists when id is
	// already registered, even if a concurrent writer got there first.
	InsertAsset(ctx context.Context, id AssetID, owner Identity) error
	// SetOwner changes the owner of a registered asset.
	SetOwner(ctx context.Context, id AssetID, owner Identity) error

	Listing(ctx context.Context, id AssetID) (Listing, bool, error)
	PutListing(ctx context.Context, l Listing) error

	Grant(ctx context.Context, id AssetID) (Grant, bool, error)
	PutGrant(ctx context.Context, g Grant) error
	DeleteGrant(ctx context.Context, id AssetID) error

	Deposit(ctx context.Context, id AssetID) (Deposit, bool, error)
	PutDeposit(ctx context.Context, d Deposit) error
	DeleteDeposit(ctx context.Context, id AssetID) error

	Requests(ctx context.Context, id AssetID) ([]MaintenanceRequest, error)
	Request(ctx context.Context, id AssetID, index int) (MaintenanceRequest, bool, error)
	AppendRequest(ctx context.Context, id AssetID, description string) (int, error)
	ResolveRequest(ctx context.Context, id AssetID, index int) error

	Balance(ctx context.Context, who Identity) (Amount, error)
	Credit(ctx context.Context, who Identity, amount Amount) error
}

// Store owns the ledger state.  Update runs fn with exclusive access to the
// given asset and applies its writes atomically: all of them when fn
// returns nil, none of them otherwise.  View runs fn against committed
// state.
type Store interface {
	Update(ctx context.Context, id AssetID, fn func(tx Tx) error) error
	View(ctx context.Context, fn func(tx Tx) error) error
}
