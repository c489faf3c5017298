package handler

import (
	"net/http"
	"strings"

	"github.com/labstack/echo/v4"

	"github.com/iliyamo/rental-ledger/internal/ledger"
)

type createAssetReq struct {
	AssetID *uint64 `json:"asset_id" validate:"required"`
	// Owner defaults to the caller.
	Owner string `json:"owner"`
}

type transferReq struct {
	NewOwner string `json:"new_owner" validate:"required"`
}

type assetResp struct {
	AssetID ledger.AssetID  `json:"asset_id"`
	Owner   ledger.Identity `json:"owner"`
}

// CreateAsset handles POST /v1/assets.
func (h *LedgerHandler) CreateAsset(c echo.Context) error {
	who, ok := caller(c)
	if !ok {
		return unauthenticated(c)
	}
	var req createAssetReq
	if ok, err := bind(c, &req); !ok {
		return err
	}
	owner := ledger.Identity(strings.TrimSpace(req.Owner))
	if owner == ledger.NoIdentity {
		owner = who
	}
	id := ledger.AssetID(*req.AssetID)
	if err := h.Ledger.CreateAsset(c.Request().Context(), id, owner); err != nil {
		return h.ledgerError(c, err)
	}
	return c.JSON(http.StatusCreated, assetResp{AssetID: id, Owner: owner})
}

// GetAsset handles GET /v1/assets/:id.
func (h *LedgerHandler) GetAsset(c echo.Context) error {
	id, ok := assetParam(c)
	if !ok {
		return badAssetID(c)
	}
	owner, err := h.Ledger.OwnerOf(c.Request().Context(), id)
	if err != nil {
		return h.ledgerError(c, err)
	}
	return c.JSON(http.StatusOK, assetResp{AssetID: id, Owner: owner})
}

// TransferAsset handles POST /v1/assets/:id/transfer.
func (h *LedgerHandler) TransferAsset(c echo.Context) error {
	who, ok := caller(c)
	if !ok {
		return unauthenticated(c)
	}
	id, ok := assetParam(c)
	if !ok {
		return badAssetID(c)
	}
	var req transferReq
	if ok, err := bind(c, &req); !ok {
		return err
	}
	newOwner := ledger.Identity(strings.TrimSpace(req.NewOwner))
	if err := h.Ledger.TransferAsset(c.Request().Context(), id, who, newOwner); err != nil {
		return h.ledgerError(c, err)
	}
	return c.JSON(http.StatusOK, assetResp{AssetID: id, Owner: newOwner})
}
