package handler

import (
	"net/http"

	"github.com/labstack/echo/v4"

	"github.com/iliyamo/rental-ledger/internal/ledger"
)

type payDepositReq struct {
	Amount *uint64 `json:"amount" validate:"required"`
}

type depositResp struct {
	AssetID ledger.AssetID  `json:"asset_id"`
	Amount  ledger.Amount   `json:"amount"`
	Payer   ledger.Identity `json:"payer,omitempty"`
	Held    bool            `json:"held"`
}

func toDepositResp(d ledger.Deposit) depositResp {
	return depositResp{AssetID: d.AssetID, Amount: d.Amount, Payer: d.Payer, Held: d.Held()}
}

// PayDeposit handles POST /v1/assets/:id/deposit.  The caller is the payer.
func (h *LedgerHandler) PayDeposit(c echo.Context) error {
	who, ok := caller(c)
	if !ok {
		return unauthenticated(c)
	}
	id, ok := assetParam(c)
	if !ok {
		return badAssetID(c)
	}
	var req payDepositReq
	if ok, err := bind(c, &req); !ok {
		return err
	}
	ctx := c.Request().Context()
	if err := h.Ledger.PaySecurityDeposit(ctx, id, who, ledger.Amount(*req.Amount)); err != nil {
		return h.ledgerError(c, err)
	}
	d, err := h.Ledger.DepositOf(ctx, id)
	if err != nil {
		return h.ledgerError(c, err)
	}
	return c.JSON(http.StatusCreated, toDepositResp(d))
}

// ReturnDeposit handles POST /v1/assets/:id/deposit/return.
func (h *LedgerHandler) ReturnDeposit(c echo.Context) error {
	who, ok := caller(c)
	if !ok {
		return unauthenticated(c)
	}
	id, ok := assetParam(c)
	if !ok {
		return badAssetID(c)
	}
	p, err := h.Ledger.ReturnSecurityDeposit(c.Request().Context(), id, who)
	if err != nil {
		return h.ledgerError(c, err)
	}
	return c.JSON(http.StatusOK, echo.Map{
		"asset_id":  p.AssetID,
		"recipient": p.Recipient,
		"amount":    p.Amount,
	})
}

// GetDeposit handles GET /v1/assets/:id/deposit.
func (h *LedgerHandler) GetDeposit(c echo.Context) error {
	id, ok := assetParam(c)
	if !ok {
		return badAssetID(c)
	}
	d, err := h.Ledger.DepositOf(c.Request().Context(), id)
	if err != nil {
		return h.ledgerError(c, err)
	}
	return c.JSON(http.StatusOK, toDepositResp(d))
}

// MyBalance handles GET /v1/me/balance: the total released to the caller.
func (h *LedgerHandler) MyBalance(c echo.Context) error {
	who, ok := caller(c)
	if !ok {
		return unauthenticated(c)
	}
	bal, err := h.Ledger.BalanceOf(c.Request().Context(), who)
	if err != nil {
		return h.ledgerError(c, err)
	}
	return c.JSON(http.StatusOK, echo.Map{"identity": who, "balance": bal})
}
