package handler

import (
	"net/http"

	"github.com/labstack/echo/v4"
	"go.uber.org/zap"

	"github.com/iliyamo/rental-ledger/internal/ledger"
)

type listingReq struct {
	Location        string   `json:"location" validate:"required"`
	NumberOfRooms   uint32   `json:"number_of_rooms"`
	MonthlyRent     uint64   `json:"monthly_rent"`
	SecurityDeposit uint64   `json:"security_deposit"`
	PropertyType    string   `json:"property_type"`
	Amenities       []string `json:"amenities"`
}

// PutListing handles PUT /v1/assets/:id/listing.  Relisting replaces the
// previous terms and drops the cached public listing.
func (h *LedgerHandler) PutListing(c echo.Context) error {
	who, ok := caller(c)
	if !ok {
		return unauthenticated(c)
	}
	id, ok := assetParam(c)
	if !ok {
		return badAssetID(c)
	}
	var req listingReq
	if ok, err := bind(c, &req); !ok {
		return err
	}
	terms := ledger.Terms{
		Location:        req.Location,
		NumberOfRooms:   req.NumberOfRooms,
		MonthlyRent:     ledger.Amount(req.MonthlyRent),
		SecurityDeposit: ledger.Amount(req.SecurityDeposit),
		PropertyType:    req.PropertyType,
		Amenities:       req.Amenities,
	}
	ctx := c.Request().Context()
	if err := h.Ledger.ListProperty(ctx, id, who, terms); err != nil {
		return h.ledgerError(c, err)
	}
	if h.Cache != nil {
		path := "/v1/assets/" + id.String() + "/listing"
		if err := h.Cache.Purge(ctx, path); err != nil {
			h.Log.Warn("listing cache purge failed", zap.Stringer("asset_id", id), zap.Error(err))
		}
	}
	l, err := h.Ledger.ListingOf(ctx, id)
	if err != nil {
		return h.ledgerError(c, err)
	}
	return c.JSON(http.StatusOK, l)
}

// GetListing handles GET /v1/assets/:id/listing.
func (h *LedgerHandler) GetListing(c echo.Context) error {
	id, ok := assetParam(c)
	if !ok {
		return badAssetID(c)
	}
	l, err := h.Ledger.ListingOf(c.Request().Context(), id)
	if err != nil {
		return h.ledgerError(c, err)
	}
	return c.JSON(http.StatusOK, l)
}
