package repository

import (
	"context"
	"database/sql"
	"errors"
	"math"
	"strconv"
	"testing"
	"time"

	"github.com/DATA-DOG/go-sqlmock"
	"github.com/go-sql-driver/mysql"
	"github.com/jonboulle/clockwork"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/iliyamo/rental-ledger/internal/ledger"
)

var t0 = time.Date(2025, 3, 1, 9, 0, 0, 0, time.UTC)

func newMockLedger(t *testing.T) (*ledger.Service, sqlmock.Sqlmock, *sql.DB) {
	t.Helper()
	db, mock, err := sqlmock.New()
	require.NoError(t, err)
	t.Cleanup(func() { _ = db.Close() })
	svc := ledger.NewService(NewLedgerStore(db), clockwork.NewFakeClockAt(t0))
	return svc, mock, db
}

func expectLock(mock sqlmock.Sqlmock, id int64, exists bool) {
	rows := sqlmock.NewRows([]string{"id"})
	if exists {
		rows.AddRow(id)
	}
	mock.ExpectQuery(`SELECT id FROM assets WHERE id = \? FOR UPDATE`).WithArgs(id).WillReturnRows(rows)
}

func expectOwner(mock sqlmock.Sqlmock, id int64, owner string) {
	rows := sqlmock.NewRows([]string{"owner"})
	if owner != "" {
		rows.AddRow(owner)
	}
	mock.ExpectQuery(`SELECT owner FROM assets WHERE id = \?`).WithArgs(id).WillReturnRows(rows)
}

func TestLedgerStore_CreateAsset(t *testing.T) {
	svc, mock, _ := newMockLedger(t)

	mock.ExpectBegin()
	expectLock(mock, 1, false)
	expectOwner(mock, 1, "")
	mock.ExpectExec(`INSERT INTO assets \(id, owner\) VALUES \(\?, \?\)$`).WithArgs(1, "owner").WillReturnResult(sqlmock.NewResult(1, 1))
	mock.ExpectCommit()

	require.NoError(t, svc.CreateAsset(context.Background(), 1, "owner"))
	assert.NoError(t, mock.ExpectationsWereMet())
}

// A concurrent create can commit between the owner lookup and the insert.
func TestLedgerStore_CreateAssetLostRaceIsAlreadyExists(t *testing.T) {
	svc, mock, _ := newMockLedger(t)

	mock.ExpectBegin()
	expectLock(mock, 1, false)
	expectOwner(mock, 1, "")
	mock.ExpectExec(`INSERT INTO assets`).WithArgs(1, "late").
		WillReturnError(&mysql.MySQLError{Number: 1062, Message: "Duplicate entry '1' for key 'PRIMARY'"})
	mock.ExpectRollback()

	err := svc.CreateAsset(context.Background(), 1, "late")
	assert.ErrorIs(t, err, ledger.ErrAlreadyExists)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestLedgerStore_TransferAsset(t *testing.T) {
	svc, mock, _ := newMockLedger(t)

	mock.ExpectBegin()
	expectLock(mock, 1, true)
	expectOwner(mock, 1, "owner")
	mock.ExpectExec(`UPDATE assets SET owner = \? WHERE id = \?`).WithArgs("buyer", 1).WillReturnResult(sqlmock.NewResult(0, 1))
	mock.ExpectExec(`DELETE FROM usage_grants WHERE asset_id = \?`).WithArgs(1).WillReturnResult(sqlmock.NewResult(0, 1))
	mock.ExpectCommit()

	require.NoError(t, svc.TransferAsset(context.Background(), 1, "owner", "buyer"))
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestLedgerStore_SetUser(t *testing.T) {
	svc, mock, _ := newMockLedger(t)
	expires := t0.Add(24 * time.Hour)

	mock.ExpectBegin()
	expectLock(mock, 1, true)
	expectOwner(mock, 1, "owner")
	mock.ExpectExec(`INSERT INTO usage_grants \(asset_id, occupant, expires_at\)`).
		WithArgs(1, "renter", expires).WillReturnResult(sqlmock.NewResult(0, 1))
	mock.ExpectCommit()

	require.NoError(t, svc.SetUser(context.Background(), 1, "owner", "renter", expires))
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestLedgerStore_SetUserNonOwnerRollsBack(t *testing.T) {
	svc, mock, _ := newMockLedger(t)

	mock.ExpectBegin()
	expectLock(mock, 1, true)
	expectOwner(mock, 1, "owner")
	mock.ExpectRollback()

	err := svc.SetUser(context.Background(), 1, "renter", "renter", t0.Add(time.Hour))
	assert.ErrorIs(t, err, ledger.ErrUnauthorized)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func expectListingDeposit(mock sqlmock.Sqlmock, id int64, deposit uint64) {
	mock.ExpectQuery(`FROM listings WHERE asset_id = \?`).WithArgs(id).
		WillReturnRows(sqlmock.NewRows([]string{"location", "number_of_rooms", "monthly_rent", "security_deposit", "property_type", "amenities"}).
			AddRow("123 Test St", 2, 1, deposit, "apartment", []byte(`[]`)))
}

func TestLedgerStore_PaySecurityDeposit(t *testing.T) {
	svc, mock, _ := newMockLedger(t)

	mock.ExpectBegin()
	expectLock(mock, 1, true)
	expectListingDeposit(mock, 1, 2)
	mock.ExpectQuery(`SELECT amount, payer FROM deposits WHERE asset_id = \?`).WithArgs(1).
		WillReturnRows(sqlmock.NewRows([]string{"amount", "payer"}))
	mock.ExpectExec(`INSERT INTO deposits \(asset_id, amount, payer\)`).WithArgs(1, 2, "renter").
		WillReturnResult(sqlmock.NewResult(0, 1))
	mock.ExpectCommit()

	require.NoError(t, svc.PaySecurityDeposit(context.Background(), 1, "renter", 2))
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestLedgerStore_PaySecurityDepositAlreadyEscrowedRollsBack(t *testing.T) {
	svc, mock, _ := newMockLedger(t)

	mock.ExpectBegin()
	expectLock(mock, 1, true)
	expectListingDeposit(mock, 1, 2)
	mock.ExpectQuery(`FROM deposits`).WithArgs(1).
		WillReturnRows(sqlmock.NewRows([]string{"amount", "payer"}).AddRow(2, "renter"))
	mock.ExpectRollback()

	err := svc.PaySecurityDeposit(context.Background(), 1, "addr2", 2)
	assert.ErrorIs(t, err, ledger.ErrAlreadyEscrowed)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestLedgerStore_PaySecurityDepositWrongAmountRollsBack(t *testing.T) {
	svc, mock, _ := newMockLedger(t)

	mock.ExpectBegin()
	expectLock(mock, 1, true)
	expectListingDeposit(mock, 1, 2)
	mock.ExpectRollback()

	err := svc.PaySecurityDeposit(context.Background(), 1, "renter", 1)
	assert.ErrorIs(t, err, ledger.ErrWrongAmount)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestLedgerStore_CreateAssetDuplicateRollsBack(t *testing.T) {
	svc, mock, _ := newMockLedger(t)

	mock.ExpectBegin()
	expectLock(mock, 1, true)
	expectOwner(mock, 1, "owner")
	mock.ExpectRollback()

	err := svc.CreateAsset(context.Background(), 1, "someone")
	assert.ErrorIs(t, err, ledger.ErrAlreadyExists)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestLedgerStore_ListPropertyNonOwnerRollsBack(t *testing.T) {
	svc, mock, _ := newMockLedger(t)

	mock.ExpectBegin()
	expectLock(mock, 1, true)
	expectOwner(mock, 1, "owner")
	mock.ExpectRollback()

	err := svc.ListProperty(context.Background(), 1, "addr2", ledger.Terms{Location: "x"})
	assert.ErrorIs(t, err, ledger.ErrUnauthorized)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestLedgerStore_ListProperty(t *testing.T) {
	svc, mock, _ := newMockLedger(t)

	mock.ExpectBegin()
	expectLock(mock, 1, true)
	expectOwner(mock, 1, "owner")
	mock.ExpectExec(`INSERT INTO listings`).
		WithArgs(1, "123 Test St", 2, 1, 2, "apartment", `["wifi","parking"]`).
		WillReturnResult(sqlmock.NewResult(0, 1))
	mock.ExpectCommit()

	err := svc.ListProperty(context.Background(), 1, "owner", ledger.Terms{
		Location:        "123 Test St",
		NumberOfRooms:   2,
		MonthlyRent:     1,
		SecurityDeposit: 2,
		PropertyType:    "apartment",
		Amenities:       []string{"wifi", "parking"},
	})
	require.NoError(t, err)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestLedgerStore_ListingOf(t *testing.T) {
	svc, mock, _ := newMockLedger(t)

	mock.ExpectQuery(`SELECT location, number_of_rooms, monthly_rent, security_deposit, property_type, amenities FROM listings`).
		WithArgs(1).
		WillReturnRows(sqlmock.NewRows([]string{"location", "number_of_rooms", "monthly_rent", "security_deposit", "property_type", "amenities"}).
			AddRow("123 Test St", 2, 1, 2, "apartment", []byte(`["wifi","parking"]`)))

	l, err := svc.ListingOf(context.Background(), 1)
	require.NoError(t, err)
	assert.Equal(t, ledger.AssetID(1), l.AssetID)
	assert.Equal(t, uint32(2), l.NumberOfRooms)
	assert.Equal(t, ledger.Amount(2), l.SecurityDeposit)
	assert.Equal(t, []string{"wifi", "parking"}, l.Amenities)

	mock.ExpectQuery(`FROM listings`).WithArgs(2).
		WillReturnRows(sqlmock.NewRows([]string{"location", "number_of_rooms", "monthly_rent", "security_deposit", "property_type", "amenities"}))
	_, err = svc.ListingOf(context.Background(), 2)
	assert.ErrorIs(t, err, ledger.ErrNotFound)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestLedgerStore_ReturnSecurityDeposit(t *testing.T) {
	svc, mock, _ := newMockLedger(t)

	mock.ExpectBegin()
	expectLock(mock, 1, true)
	expectOwner(mock, 1, "owner")
	mock.ExpectQuery(`SELECT amount, payer FROM deposits WHERE asset_id = \?`).WithArgs(1).
		WillReturnRows(sqlmock.NewRows([]string{"amount", "payer"}).AddRow(2, "renter"))
	mock.ExpectQuery(`SELECT occupant, expires_at FROM usage_grants WHERE asset_id = \?`).WithArgs(1).
		WillReturnRows(sqlmock.NewRows([]string{"occupant", "expires_at"}).AddRow("renter", t0.Add(time.Hour)))
	mock.ExpectQuery(`SELECT amount FROM balances WHERE identity = \? FOR UPDATE`).WithArgs("renter").
		WillReturnRows(sqlmock.NewRows([]string{"amount"}).AddRow(5))
	mock.ExpectExec(`DELETE FROM deposits WHERE asset_id = \?`).WithArgs(1).WillReturnResult(sqlmock.NewResult(0, 1))
	mock.ExpectExec(`INSERT INTO balances`).WithArgs("renter", 2).WillReturnResult(sqlmock.NewResult(0, 1))
	mock.ExpectCommit()

	payout, err := svc.ReturnSecurityDeposit(context.Background(), 1, "owner")
	require.NoError(t, err)
	assert.Equal(t, ledger.Payout{AssetID: 1, Recipient: "renter", Amount: 2}, payout)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestLedgerStore_ReturnSecurityDepositOverflowRollsBack(t *testing.T) {
	svc, mock, _ := newMockLedger(t)

	mock.ExpectBegin()
	expectLock(mock, 1, true)
	expectOwner(mock, 1, "owner")
	mock.ExpectQuery(`FROM deposits`).WithArgs(1).
		WillReturnRows(sqlmock.NewRows([]string{"amount", "payer"}).AddRow(2, "renter"))
	mock.ExpectQuery(`FROM usage_grants`).WithArgs(1).
		WillReturnRows(sqlmock.NewRows([]string{"occupant", "expires_at"}).AddRow("renter", t0.Add(time.Hour)))
	mock.ExpectQuery(`FROM balances`).WithArgs("renter").
		WillReturnRows(sqlmock.NewRows([]string{"amount"}).AddRow(strconv.FormatUint(math.MaxUint64-1, 10)))
	mock.ExpectRollback()

	_, err := svc.ReturnSecurityDeposit(context.Background(), 1, "owner")
	assert.ErrorIs(t, err, ledger.ErrBalanceOverflow)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestLedgerStore_BalanceOf(t *testing.T) {
	svc, mock, _ := newMockLedger(t)

	mock.ExpectQuery(`SELECT amount FROM balances WHERE identity = \?$`).WithArgs("renter").
		WillReturnRows(sqlmock.NewRows([]string{"amount"}).AddRow(7))
	mock.ExpectQuery(`FROM balances`).WithArgs("nobody").
		WillReturnRows(sqlmock.NewRows([]string{"amount"}))

	bal, err := svc.BalanceOf(context.Background(), "renter")
	require.NoError(t, err)
	assert.Equal(t, ledger.Amount(7), bal)
	bal, err = svc.BalanceOf(context.Background(), "nobody")
	require.NoError(t, err)
	assert.Equal(t, ledger.Amount(0), bal)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestLedgerStore_ReturnSecurityDepositExpiredGrant(t *testing.T) {
	svc, mock, _ := newMockLedger(t)

	mock.ExpectBegin()
	expectLock(mock, 1, true)
	expectOwner(mock, 1, "owner")
	mock.ExpectQuery(`FROM deposits`).WithArgs(1).
		WillReturnRows(sqlmock.NewRows([]string{"amount", "payer"}).AddRow(2, "renter"))
	mock.ExpectQuery(`FROM usage_grants`).WithArgs(1).
		WillReturnRows(sqlmock.NewRows([]string{"occupant", "expires_at"}).AddRow("renter", t0))
	mock.ExpectRollback()

	_, err := svc.ReturnSecurityDeposit(context.Background(), 1, "owner")
	assert.ErrorIs(t, err, ledger.ErrNoActiveOccupant)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestLedgerStore_SubmitMaintenanceRequest(t *testing.T) {
	svc, mock, _ := newMockLedger(t)

	mock.ExpectBegin()
	expectLock(mock, 1, true)
	expectOwner(mock, 1, "owner")
	mock.ExpectQuery(`FROM usage_grants`).WithArgs(1).
		WillReturnRows(sqlmock.NewRows([]string{"occupant", "expires_at"}).AddRow("renter", t0.Add(time.Hour)))
	mock.ExpectQuery(`SELECT COALESCE\(MAX\(idx\) \+ 1, 0\) FROM maintenance_requests`).WithArgs(1).
		WillReturnRows(sqlmock.NewRows([]string{"next"}).AddRow(3))
	mock.ExpectExec(`INSERT INTO maintenance_requests`).WithArgs(1, 3, "Fix AC").WillReturnResult(sqlmock.NewResult(0, 1))
	mock.ExpectCommit()

	idx, err := svc.SubmitMaintenanceRequest(context.Background(), 1, "renter", "Fix AC")
	require.NoError(t, err)
	assert.Equal(t, 3, idx)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestLedgerStore_ResolveMaintenanceRequest(t *testing.T) {
	svc, mock, _ := newMockLedger(t)

	mock.ExpectBegin()
	expectLock(mock, 1, true)
	expectOwner(mock, 1, "owner")
	mock.ExpectQuery(`SELECT description, is_resolved FROM maintenance_requests WHERE asset_id = \? AND idx = \?`).WithArgs(1, 0).
		WillReturnRows(sqlmock.NewRows([]string{"description", "is_resolved"}).AddRow("Fix AC", false))
	mock.ExpectExec(`UPDATE maintenance_requests SET is_resolved = TRUE WHERE asset_id = \? AND idx = \?`).WithArgs(1, 0).
		WillReturnResult(sqlmock.NewResult(0, 1))
	mock.ExpectCommit()

	require.NoError(t, svc.ResolveMaintenanceRequest(context.Background(), 1, "owner", 0))
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestLedgerStore_ResolveMissingTicketRollsBack(t *testing.T) {
	svc, mock, _ := newMockLedger(t)

	mock.ExpectBegin()
	expectLock(mock, 1, true)
	expectOwner(mock, 1, "owner")
	mock.ExpectQuery(`FROM maintenance_requests WHERE asset_id = \? AND idx = \?`).WithArgs(1, 4).
		WillReturnRows(sqlmock.NewRows([]string{"description", "is_resolved"}))
	mock.ExpectRollback()

	err := svc.ResolveMaintenanceRequest(context.Background(), 1, "owner", 4)
	assert.ErrorIs(t, err, ledger.ErrNotFound)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestLedgerStore_MaintenanceRequests(t *testing.T) {
	svc, mock, _ := newMockLedger(t)

	expectOwner(mock, 1, "owner")
	mock.ExpectQuery(`SELECT idx, description, is_resolved FROM maintenance_requests`).WithArgs(1).
		WillReturnRows(sqlmock.NewRows([]string{"idx", "description", "is_resolved"}).
			AddRow(0, "Fix AC", true).
			AddRow(1, "Leaking tap", false))

	reqs, err := svc.MaintenanceRequests(context.Background(), 1)
	require.NoError(t, err)
	require.Len(t, reqs, 2)
	assert.True(t, reqs[0].Resolved)
	assert.Equal(t, "Leaking tap", reqs[1].Description)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestLedgerStore_DatabaseErrorIsNotASentinel(t *testing.T) {
	svc, mock, _ := newMockLedger(t)

	mock.ExpectBegin()
	expectLock(mock, 1, true)
	mock.ExpectQuery(`SELECT owner FROM assets`).WithArgs(1).WillReturnError(errors.New("connection reset"))
	mock.ExpectRollback()

	err := svc.SetUser(context.Background(), 1, "owner", "renter", t0.Add(time.Hour))
	require.Error(t, err)
	assert.False(t, errors.Is(err, ledger.ErrNotFound))
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestLedgerStore_ViewRejectsWrites(t *testing.T) {
	db, _, err := sqlmock.New()
	require.NoError(t, err)
	defer db.Close()

	s := NewLedgerStore(db)
	err = s.View(context.Background(), func(tx ledger.Tx) error {
		return tx.SetOwner(context.Background(), 1, "x")
	})
	assert.ErrorIs(t, err, errReadOnly)
}
