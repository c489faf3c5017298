package handler

import (
	"context"
	"errors"
	"net/http"
	"strconv"
	"strings"

	"github.com/go-playground/validator/v10"
	"github.com/labstack/echo/v4"
	"go.uber.org/zap"

	"github.com/iliyamo/rental-ledger/internal/ledger"
	"github.com/iliyamo/rental-ledger/internal/middleware"
)

// Purger drops cached responses for a request path.
type Purger interface {
	Purge(ctx context.Context, path string) error
}

// LedgerHandler serves the asset, listing, occupancy, escrow and
// maintenance endpoints.
type LedgerHandler struct {
	Ledger *ledger.Service
	Cache  Purger
	Log    *zap.Logger
}

var validate = validator.New(validator.WithRequiredStructEnabled())

// NewLedgerHandler panics if svc is nil.  cache and log may be nil.
func NewLedgerHandler(svc *ledger.Service, cache Purger, log *zap.Logger) *LedgerHandler {
	if svc == nil {
		panic("nil ledger service passed to NewLedgerHandler")
	}
	if log == nil {
		log = zap.NewNop()
	}
	return &LedgerHandler{Ledger: svc, Cache: cache, Log: log}
}

// statusFor maps ledger errors onto HTTP statuses.
var statusFor = []struct {
	err    error
	status int
}{
	{ledger.ErrNotFound, http.StatusNotFound},
	{ledger.ErrAlreadyExists, http.StatusConflict},
	{ledger.ErrAlreadyEscrowed, http.StatusConflict},
	{ledger.ErrNothingEscrowed, http.StatusConflict},
	{ledger.ErrNoActiveOccupant, http.StatusConflict},
	{ledger.ErrBalanceOverflow, http.StatusConflict},
	{ledger.ErrUnauthorized, http.StatusForbidden},
	{ledger.ErrWrongAmount, http.StatusUnprocessableEntity},
	{ledger.ErrInvalidIdentity, http.StatusUnprocessableEntity},
}

// ledgerError writes the response for an error returned by the ledger.
func (h *LedgerHandler) ledgerError(c echo.Context, err error) error {
	for _, m := range statusFor {
		if errors.Is(err, m.err) {
			return c.JSON(m.status, echo.Map{"error": err.Error()})
		}
	}
	h.Log.Error("ledger operation failed",
		zap.String("path", c.Request().URL.Path),
		zap.String("actor", middleware.CallerID(c)),
		zap.Error(err),
	)
	return c.JSON(http.StatusInternalServerError, echo.Map{"error": "internal error"})
}

// bind decodes and validates the request body into req.  On failure it has
// already written the 400 response and returns false.
func bind(c echo.Context, req any) (bool, error) {
	if err := c.Bind(req); err != nil {
		return false, c.JSON(http.StatusBadRequest, echo.Map{"error": "invalid body"})
	}
	if err := validate.Struct(req); err != nil {
		var verrs validator.ValidationErrors
		if errors.As(err, &verrs) {
			fields := make([]string, 0, len(verrs))
			for _, fe := range verrs {
				fields = append(fields, strings.ToLower(fe.Field())+" "+fe.Tag())
			}
			return false, c.JSON(http.StatusBadRequest, echo.Map{"error": "invalid fields: " + strings.Join(fields, ", ")})
		}
		return false, c.JSON(http.StatusBadRequest, echo.Map{"error": "invalid body"})
	}
	return true, nil
}

// assetParam parses the :id path parameter.
func assetParam(c echo.Context) (ledger.AssetID, bool) {
	id, err := ledger.ParseAssetID(c.Param("id"))
	return id, err == nil
}

func indexParam(c echo.Context) (int, bool) {
	n, err := strconv.Atoi(c.Param("index"))
	return n, err == nil && n >= 0
}

// ticketNotFound answers a malformed ticket index the same way as an index
// past the end.
func ticketNotFound(c echo.Context) error {
	return c.JSON(http.StatusNotFound, echo.Map{"error": "maintenance request not found"})
}

func badAssetID(c echo.Context) error {
	return c.JSON(http.StatusBadRequest, echo.Map{"error": "invalid asset id"})
}

// caller returns the authenticated identity.  Routes using it sit behind
// JWTAuth, so a missing subject means the middleware was not installed.
func caller(c echo.Context) (ledger.Identity, bool) {
	id := middleware.CallerID(c)
	return ledger.Identity(id), id != ""
}

func unauthenticated(c echo.Context) error {
	return c.JSON(http.StatusUnauthorized, echo.Map{"error": "unauthorized"})
}
