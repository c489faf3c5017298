package handler

import (
	"net/http"
	"strings"
	"time"

	"github.com/labstack/echo/v4"

	"github.com/iliyamo/rental-ledger/internal/ledger"
)

type setUserReq struct {
	Occupant string    `json:"occupant" validate:"required"`
	Expires  time.Time `json:"expires" validate:"required"`
}

type userResp struct {
	AssetID ledger.AssetID  `json:"asset_id"`
	User    ledger.Identity `json:"user"`
	// Expires is the stored grant expiry, also after it has lapsed.
	Expires *time.Time `json:"expires"`
}

// SetUser handles PUT /v1/assets/:id/user.
func (h *LedgerHandler) SetUser(c echo.Context) error {
	who, ok := caller(c)
	if !ok {
		return unauthenticated(c)
	}
	id, ok := assetParam(c)
	if !ok {
		return badAssetID(c)
	}
	var req setUserReq
	if ok, err := bind(c, &req); !ok {
		return err
	}
	occupant := ledger.Identity(strings.TrimSpace(req.Occupant))
	if err := h.Ledger.SetUser(c.Request().Context(), id, who, occupant, req.Expires); err != nil {
		return h.ledgerError(c, err)
	}
	return h.GetUser(c)
}

// GetUser handles GET /v1/assets/:id/user.  User is empty when no grant is
// active.
func (h *LedgerHandler) GetUser(c echo.Context) error {
	id, ok := assetParam(c)
	if !ok {
		return badAssetID(c)
	}
	ctx := c.Request().Context()
	user, err := h.Ledger.UserOf(ctx, id)
	if err != nil {
		return h.ledgerError(c, err)
	}
	exp, err := h.Ledger.UserExpires(ctx, id)
	if err != nil {
		return h.ledgerError(c, err)
	}
	resp := userResp{AssetID: id, User: user}
	if !exp.IsZero() {
		resp.Expires = &exp
	}
	return c.JSON(http.StatusOK, resp)
}
