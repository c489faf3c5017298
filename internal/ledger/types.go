// Package ledger implements the rights and escrow ledger for rental
// properties: who owns an asset, the rental terms it is listed under, who may
// occupy it and until when, the security deposit held against it and the
// maintenance tickets filed by its occupants.
//
// All state lives behind a Store that is passed in explicitly.  Every
// mutation runs inside Store.Update, which serializes work per asset and
// commits the staged writes only when the operation returns nil, so a failed
// operation never leaves partial state behind.
package ledger

import (
	"math"
	"strconv"
	"time"
)

// AssetID uniquely identifies a rental property.  It never changes once the
// asset is created.
type AssetID uint64

// String renders the id in base 10.
func (id AssetID) String() string { return strconv.FormatUint(uint64(id), 10) }

// ParseAssetID parses a base 10 asset id.
func ParseAssetID(s string) (AssetID, error) {
	n, err := strconv.ParseUint(s, 10, 64)
	if err != nil {
		return 0, err
	}
	return AssetID(n), nil
}

// Identity is a verified caller identity.  The empty Identity is the absent
// identity returned by UserOf when no grant is active.
type Identity string

// NoIdentity is the absent identity.
const NoIdentity Identity = ""

// Amount is a quantity of funds in the smallest currency unit.  It is
// unsigned, so every amount in the ledger is non-negative.
type Amount uint64

const maxAmount = Amount(math.MaxUint64)

// Terms are the rental terms an owner publishes for an asset.  Amenities keep
// the order given by the owner and may contain duplicates.
type Terms struct {
	Location        string   `json:"location"`
	NumberOfRooms   uint32   `json:"number_of_rooms"`
	MonthlyRent     Amount   `json:"monthly_rent"`
	SecurityDeposit Amount   `json:"security_deposit"`
	PropertyType    string   `json:"property_type"`
	Amenities       []string `json:"amenities"`
}

// Listing is the stored terms for one asset.  There is at most one listing
// per asset; the latest write wins.
type Listing struct {
	AssetID AssetID `json:"asset_id"`
	Terms
}

// Clone returns a copy that shares no memory with l.
func (l Listing) Clone() Listing {
	if l.Amenities != nil {
		l.Amenities = append([]string(nil), l.Amenities...)
	}
	return l
}

// Grant delegates occupancy of an asset to Occupant until Expires.
type Grant struct {
	AssetID  AssetID   `json:"asset_id"`
	Occupant Identity  `json:"occupant"`
	Expires  time.Time `json:"expires"`
}

// Active reports whether the grant is live at now.  A grant is active iff
// now is strictly before its expiry.
func (g Grant) Active(now time.Time) bool { return now.Before(g.Expires) }

// Deposit is a security deposit held in escrow for an asset.
type Deposit struct {
	AssetID AssetID  `json:"asset_id"`
	Amount  Amount   `json:"amount"`
	Payer   Identity `json:"payer"`
}

// Held reports whether the deposit currently escrows any funds.
func (d Deposit) Held() bool { return d.Amount > 0 }

// MaintenanceRequest is a ticket filed by an occupant.  Index is its append
// position within the asset and is never reused.  Resolved only ever moves
// from false to true.
type MaintenanceRequest struct {
	AssetID     AssetID `json:"asset_id"`
	Index       int     `json:"index"`
	Description string  `json:"description"`
	Resolved    bool    `json:"is_resolved"`
}

// Payout records a released deposit.
type Payout struct {
	AssetID   AssetID  `json:"asset_id"`
	Recipient Identity `json:"recipient"`
	Amount    Amount   `json:"amount"`
}
