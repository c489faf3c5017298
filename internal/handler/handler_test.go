package handler_test

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/jonboulle/clockwork"
	"github.com/labstack/echo/v4"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/iliyamo/rental-ledger/internal/handler"
	"github.com/iliyamo/rental-ledger/internal/ledger"
	"github.com/iliyamo/rental-ledger/internal/router"
	"github.com/iliyamo/rental-ledger/internal/utils"
)

const secret = "test-secret"

var t0 = time.Date(2025, 3, 1, 9, 0, 0, 0, time.UTC)

type purgeRecorder struct{ paths []string }

func (p *purgeRecorder) Purge(_ context.Context, path string) error {
	p.paths = append(p.paths, path)
	return nil
}

type api struct {
	t      *testing.T
	e      *echo.Echo
	clk    *clockwork.FakeClock
	purged *purgeRecorder
}

func newAPI(t *testing.T) *api {
	t.Helper()
	clk := clockwork.NewFakeClockAt(t0)
	svc := ledger.NewService(ledger.NewMemStore(), clk)
	purged := &purgeRecorder{}
	e := echo.New()
	router.RegisterLedger(e, handler.NewLedgerHandler(svc, purged, nil), router.Options{JWTSecret: secret})
	return &api{t: t, e: e, clk: clk, purged: purged}
}

// token returns a bearer token whose subject is the identity "<userID>".
func token(t *testing.T, userID uint64, role string) string {
	t.Helper()
	tok, err := utils.NewAccessToken(secret, userID, role, 60)
	require.NoError(t, err)
	return tok.Token
}

func (a *api) do(method, path, tok string, body any) (int, map[string]any) {
	a.t.Helper()
	var rd *strings.Reader
	if body != nil {
		raw, err := json.Marshal(body)
		require.NoError(a.t, err)
		rd = strings.NewReader(string(raw))
	} else {
		rd = strings.NewReader("")
	}
	req := httptest.NewRequest(method, path, rd)
	req.Header.Set(echo.HeaderContentType, echo.MIMEApplicationJSON)
	if tok != "" {
		req.Header.Set(echo.HeaderAuthorization, "Bearer "+tok)
	}
	rec := httptest.NewRecorder()
	a.e.ServeHTTP(rec, req)
	out := map[string]any{}
	if rec.Body.Len() > 0 {
		require.NoError(a.t, json.Unmarshal(rec.Body.Bytes(), &out), rec.Body.String())
	}
	return rec.Code, out
}

var (
	ownerTok  string
	renterTok string
	otherTok  string
)

func setup(t *testing.T) *api {
	a := newAPI(t)
	ownerTok = token(t, 1, "OWNER")
	renterTok = token(t, 2, "RENTER")
	otherTok = token(t, 3, "RENTER")
	code, _ := a.do(http.MethodPost, "/v1/assets", ownerTok, map[string]any{"asset_id": 1})
	require.Equal(t, http.StatusCreated, code)
	return a
}

func listing(deposit uint64) map[string]any {
	return map[string]any{
		"location":         "123 Test St",
		"number_of_rooms":  2,
		"monthly_rent":     1,
		"security_deposit": deposit,
		"property_type":    "apartment",
		"amenities":        []string{"wifi", "parking"},
	}
}

func TestCreateAndReadAsset(t *testing.T) {
	a := setup(t)

	code, body := a.do(http.MethodGet, "/v1/assets/1", "", nil)
	assert.Equal(t, http.StatusOK, code)
	assert.Equal(t, "1", body["owner"])

	code, _ = a.do(http.MethodPost, "/v1/assets", renterTok, map[string]any{"asset_id": 1})
	assert.Equal(t, http.StatusConflict, code)

	code, _ = a.do(http.MethodPost, "/v1/assets", ownerTok, map[string]any{})
	assert.Equal(t, http.StatusBadRequest, code)

	code, _ = a.do(http.MethodGet, "/v1/assets/9", "", nil)
	assert.Equal(t, http.StatusNotFound, code)

	code, _ = a.do(http.MethodGet, "/v1/assets/abc", "", nil)
	assert.Equal(t, http.StatusBadRequest, code)

	code, _ = a.do(http.MethodPost, "/v1/assets", "", map[string]any{"asset_id": 2})
	assert.Equal(t, http.StatusUnauthorized, code)
}

func TestCreateAssetOnBehalfOf(t *testing.T) {
	a := setup(t)
	code, body := a.do(http.MethodPost, "/v1/assets", renterTok, map[string]any{"asset_id": 5, "owner": "1"})
	require.Equal(t, http.StatusCreated, code)
	assert.Equal(t, "1", body["owner"])
}

// Scenario A.
func TestListAndReadListing(t *testing.T) {
	a := setup(t)

	code, _ := a.do(http.MethodPut, "/v1/assets/1/listing", ownerTok, listing(2))
	require.Equal(t, http.StatusOK, code)
	assert.Equal(t, []string{"/v1/assets/1/listing"}, a.purged.paths)

	code, body := a.do(http.MethodGet, "/v1/assets/1/listing", "", nil)
	require.Equal(t, http.StatusOK, code)
	assert.Equal(t, "123 Test St", body["location"])
	assert.EqualValues(t, 2, body["number_of_rooms"])
	assert.EqualValues(t, 1, body["monthly_rent"])
	assert.EqualValues(t, 2, body["security_deposit"])
	assert.Equal(t, "apartment", body["property_type"])
	assert.Equal(t, []any{"wifi", "parking"}, body["amenities"])

	code, _ = a.do(http.MethodPut, "/v1/assets/1/listing", renterTok, listing(2))
	assert.Equal(t, http.StatusForbidden, code)

	code, _ = a.do(http.MethodPut, "/v1/assets/7/listing", ownerTok, listing(2))
	assert.Equal(t, http.StatusNotFound, code)

	code, _ = a.do(http.MethodGet, "/v1/assets/7/listing", "", nil)
	assert.Equal(t, http.StatusNotFound, code)
}

// Scenario B.
func TestOccupancyExpires(t *testing.T) {
	a := setup(t)

	expires := t0.Add(86400 * time.Second)
	code, body := a.do(http.MethodPut, "/v1/assets/1/user", ownerTok, map[string]any{"occupant": "2", "expires": expires})
	require.Equal(t, http.StatusOK, code)
	assert.Equal(t, "2", body["user"])

	a.clk.Advance(86400 * time.Second)
	code, body = a.do(http.MethodGet, "/v1/assets/1/user", "", nil)
	require.Equal(t, http.StatusOK, code)
	assert.Equal(t, "", body["user"])
	assert.Equal(t, expires.Format(time.RFC3339), body["expires"])

	code, _ = a.do(http.MethodPut, "/v1/assets/1/user", renterTok, map[string]any{"occupant": "2", "expires": expires})
	assert.Equal(t, http.StatusForbidden, code)
	code, _ = a.do(http.MethodPut, "/v1/assets/1/user", ownerTok, map[string]any{"expires": expires})
	assert.Equal(t, http.StatusBadRequest, code)
}

// Scenario C.
func TestDepositEscrowAndReturn(t *testing.T) {
	a := setup(t)
	_, _ = a.do(http.MethodPut, "/v1/assets/1/listing", ownerTok, listing(2))

	code, _ := a.do(http.MethodPost, "/v1/assets/1/deposit", renterTok, map[string]any{"amount": 1})
	assert.Equal(t, http.StatusUnprocessableEntity, code)

	code, body := a.do(http.MethodPost, "/v1/assets/1/deposit", renterTok, map[string]any{"amount": 2})
	require.Equal(t, http.StatusCreated, code)
	assert.EqualValues(t, 2, body["amount"])
	assert.Equal(t, true, body["held"])

	code, _ = a.do(http.MethodPost, "/v1/assets/1/deposit", renterTok, map[string]any{"amount": 2})
	assert.Equal(t, http.StatusConflict, code)

	// No occupant yet.
	code, _ = a.do(http.MethodPost, "/v1/assets/1/deposit/return", ownerTok, nil)
	assert.Equal(t, http.StatusConflict, code)

	_, _ = a.do(http.MethodPut, "/v1/assets/1/user", ownerTok, map[string]any{"occupant": "2", "expires": t0.Add(time.Hour)})

	code, _ = a.do(http.MethodPost, "/v1/assets/1/deposit/return", renterTok, nil)
	assert.Equal(t, http.StatusForbidden, code)

	code, body = a.do(http.MethodPost, "/v1/assets/1/deposit/return", ownerTok, nil)
	require.Equal(t, http.StatusOK, code)
	assert.Equal(t, "2", body["recipient"])
	assert.EqualValues(t, 2, body["amount"])

	code, body = a.do(http.MethodGet, "/v1/me/balance", renterTok, nil)
	require.Equal(t, http.StatusOK, code)
	assert.EqualValues(t, 2, body["balance"])

	code, body = a.do(http.MethodGet, "/v1/assets/1/deposit", "", nil)
	require.Equal(t, http.StatusOK, code)
	assert.EqualValues(t, 0, body["amount"])
	assert.Equal(t, false, body["held"])

	code, _ = a.do(http.MethodPost, "/v1/assets/1/deposit/return", ownerTok, nil)
	assert.Equal(t, http.StatusConflict, code)
}

// Scenario D.
func TestMaintenanceTickets(t *testing.T) {
	a := setup(t)
	_, _ = a.do(http.MethodPut, "/v1/assets/1/user", ownerTok, map[string]any{"occupant": "2", "expires": t0.Add(time.Hour)})

	code, _ := a.do(http.MethodPost, "/v1/assets/1/maintenance", otherTok, map[string]any{"description": "Fix AC"})
	assert.Equal(t, http.StatusForbidden, code)

	code, body := a.do(http.MethodPost, "/v1/assets/1/maintenance", renterTok, map[string]any{"description": "Fix AC"})
	require.Equal(t, http.StatusCreated, code)
	assert.EqualValues(t, 0, body["index"])
	assert.Equal(t, "Fix AC", body["description"])
	assert.Equal(t, false, body["is_resolved"])

	code, _ = a.do(http.MethodPost, "/v1/assets/1/maintenance/0/resolve", renterTok, nil)
	assert.Equal(t, http.StatusForbidden, code)

	code, body = a.do(http.MethodPost, "/v1/assets/1/maintenance/0/resolve", ownerTok, nil)
	require.Equal(t, http.StatusOK, code)
	assert.Equal(t, true, body["is_resolved"])

	code, _ = a.do(http.MethodPost, "/v1/assets/1/maintenance/4/resolve", ownerTok, nil)
	assert.Equal(t, http.StatusNotFound, code)

	code, body = a.do(http.MethodGet, "/v1/assets/1/maintenance", "", nil)
	require.Equal(t, http.StatusOK, code)
	items, ok := body["items"].([]any)
	require.True(t, ok)
	assert.Len(t, items, 1)

	code, _ = a.do(http.MethodGet, "/v1/assets/1/maintenance/-1", "", nil)
	assert.Equal(t, http.StatusNotFound, code)

	a.clk.Advance(time.Hour)
	code, _ = a.do(http.MethodPost, "/v1/assets/1/maintenance", renterTok, map[string]any{"description": "again"})
	assert.Equal(t, http.StatusForbidden, code)
}

func TestMalformedTicketIndexIsNotFound(t *testing.T) {
	a := setup(t)
	for _, idx := range []string{"abc", "-1", "99"} {
		code, _ := a.do(http.MethodGet, "/v1/assets/1/maintenance/"+idx, "", nil)
		assert.Equal(t, http.StatusNotFound, code, "GET index %q", idx)
		code, _ = a.do(http.MethodPost, "/v1/assets/1/maintenance/"+idx+"/resolve", ownerTok, nil)
		assert.Equal(t, http.StatusNotFound, code, "resolve index %q", idx)
	}
}

func TestTransferAsset(t *testing.T) {
	a := setup(t)

	code, _ := a.do(http.MethodPost, "/v1/assets/1/transfer", renterTok, map[string]any{"new_owner": "2"})
	assert.Equal(t, http.StatusForbidden, code)

	code, body := a.do(http.MethodPost, "/v1/assets/1/transfer", ownerTok, map[string]any{"new_owner": "2"})
	require.Equal(t, http.StatusOK, code)
	assert.Equal(t, "2", body["owner"])

	code, _ = a.do(http.MethodPut, "/v1/assets/1/listing", ownerTok, listing(2))
	assert.Equal(t, http.StatusForbidden, code)
	code, _ = a.do(http.MethodPut, "/v1/assets/1/listing", renterTok, listing(2))
	assert.Equal(t, http.StatusOK, code)
}

func TestMe(t *testing.T) {
	a := setup(t)
	code, body := a.do(http.MethodGet, "/v1/me", renterTok, nil)
	require.Equal(t, http.StatusOK, code)
	assert.Equal(t, "2", body["identity"])
	assert.Equal(t, "RENTER", body["role"])
}
