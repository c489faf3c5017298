package handler

import (
	"net/http"

	"github.com/labstack/echo/v4"

	"github.com/iliyamo/rental-ledger/internal/ledger"
)

type maintenanceReq struct {
	Description string `json:"description"`
}

// SubmitMaintenance handles POST /v1/assets/:id/maintenance.  Only the
// active occupant may file a ticket; an empty description is allowed.
func (h *LedgerHandler) SubmitMaintenance(c echo.Context) error {
	who, ok := caller(c)
	if !ok {
		return unauthenticated(c)
	}
	id, ok := assetParam(c)
	if !ok {
		return badAssetID(c)
	}
	var req maintenanceReq
	if ok, err := bind(c, &req); !ok {
		return err
	}
	ctx := c.Request().Context()
	idx, err := h.Ledger.SubmitMaintenanceRequest(ctx, id, who, req.Description)
	if err != nil {
		return h.ledgerError(c, err)
	}
	r, err := h.Ledger.MaintenanceRequest(ctx, id, idx)
	if err != nil {
		return h.ledgerError(c, err)
	}
	return c.JSON(http.StatusCreated, r)
}

// ResolveMaintenance handles POST /v1/assets/:id/maintenance/:index/resolve.
func (h *LedgerHandler) ResolveMaintenance(c echo.Context) error {
	who, ok := caller(c)
	if !ok {
		return unauthenticated(c)
	}
	id, ok := assetParam(c)
	if !ok {
		return badAssetID(c)
	}
	idx, ok := indexParam(c)
	if !ok {
		return ticketNotFound(c)
	}
	ctx := c.Request().Context()
	if err := h.Ledger.ResolveMaintenanceRequest(ctx, id, who, idx); err != nil {
		return h.ledgerError(c, err)
	}
	r, err := h.Ledger.MaintenanceRequest(ctx, id, idx)
	if err != nil {
		return h.ledgerError(c, err)
	}
	return c.JSON(http.StatusOK, r)
}

// ListMaintenance handles GET /v1/assets/:id/maintenance.
func (h *LedgerHandler) ListMaintenance(c echo.Context) error {
	id, ok := assetParam(c)
	if !ok {
		return badAssetID(c)
	}
	items, err := h.Ledger.MaintenanceRequests(c.Request().Context(), id)
	if err != nil {
		return h.ledgerError(c, err)
	}
	if items == nil {
		items = []ledger.MaintenanceRequest{}
	}
	return c.JSON(http.StatusOK, echo.Map{"items": items})
}

// GetMaintenance handles GET /v1/assets/:id/maintenance/:index.
func (h *LedgerHandler) GetMaintenance(c echo.Context) error {
	id, ok := assetParam(c)
	if !ok {
		return badAssetID(c)
	}
	idx, ok := indexParam(c)
	if !ok {
		return ticketNotFound(c)
	}
	r, err := h.Ledger.MaintenanceRequest(c.Request().Context(), id, idx)
	if err != nil {
		return h.ledgerError(c, err)
	}
	return c.JSON(http.StatusOK, r)
}
