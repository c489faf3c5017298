package ledger

import (
	"context"
	"time"

	"github.com/google/uuid"
)

// EventType names the mutation that produced an Event.
type EventType string

const (
	EventAssetCreated         EventType = "asset.created"
	EventAssetTransferred     EventType = "asset.transferred"
	EventAssetListed          EventType = "asset.listed"
	EventUserSet              EventType = "user.set"
	EventDepositPaid          EventType = "deposit.paid"
	EventDepositReturned      EventType = "deposit.returned"
	EventMaintenanceSubmitted EventType = "maintenance.submitted"
	EventMaintenanceResolved  EventType = "maintenance.resolved"
)

// Event is emitted after a mutation commits.  It carries the operation's
// arguments and the identifiers it produced so that indexers do not need to
// query the ledger.  Fields that do not apply to Type are left empty.
type Event struct {
	ID         uuid.UUID  `json:"id"`
	Type       EventType  `json:"type"`
	AssetID    AssetID    `json:"asset_id"`
	Actor      Identity   `json:"actor"`
	Owner      Identity   `json:"owner,omitempty"`
	Occupant   Identity   `json:"occupant,omitempty"`
	Expires    *time.Time `json:"expires,omitempty"`
	Listing    *Listing   `json:"listing,omitempty"`
	Amount     Amount     `json:"amount,omitempty"`
	Index      *int       `json:"index,omitempty"`
	Text       string     `json:"description,omitempty"`
	OccurredAt time.Time  `json:"occurred_at"`
}

// Notifier delivers events to external observers.  Delivery failures are
// reported to the caller but never undo the committed mutation.
type Notifier interface {
	Notify(ctx context.Context, ev Event) error
}

// NotifierFunc adapts a function to Notifier.
type NotifierFunc func(ctx context.Context, ev Event) error

func (f NotifierFunc) Notify(ctx context.Context, ev Event) error { return f(ctx, ev) }

type nopNotifier struct{}

func (nopNotifier) Notify(context.Context, Event) error { return nil }

// Observer records the outcome of each ledger operation.
type Observer interface {
	ObserveOperation(op string, err error, elapsed time.Duration)
}
