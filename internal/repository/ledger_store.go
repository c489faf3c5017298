package repository

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/iliyamo/rental-ledger/internal/ledger"
)

var errReadOnly = errors.New("repository: write in read-only ledger view")

// LedgerStore persists the rental ledger in MySQL.  It implements
// ledger.Store: every Update runs in one database transaction that first
// locks the asset row with SELECT ... FOR UPDATE, so updates on the same
// asset are serialized across processes and a failed operation is rolled
// back in full.
type LedgerStore struct {
	db *sql.DB
}

// NewLedgerStore returns a LedgerStore bound to the given database.
func NewLedgerStore(db *sql.DB) *LedgerStore { return &LedgerStore{db: db} }

// DB exposes the underlying sql.DB.
func (s *LedgerStore) DB() *sql.DB { return s.db }

// querier is satisfied by both *sql.DB and *sql.Tx.
type querier interface {
	ExecContext(ctx context.Context, query string, args ...any) (sql.Result, error)
	QueryContext(ctx context.Context, query string, args ...any) (*sql.Rows, error)
	QueryRowContext(ctx context.Context, query string, args ...any) *sql.Row
}

// Update implements ledger.Store.
func (s *LedgerStore) Update(ctx context.Context, id ledger.AssetID, fn func(tx ledger.Tx) error) error {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("begin ledger tx: %w", err)
	}
	committed := false
	defer func() {
		if !committed {
			_ = tx.Rollback()
		}
	}()

	// Lock the asset row.  A missing row is fine: the asset is being
	// created and InsertAsset relies on the primary key instead.
	var locked uint64
	err = tx.QueryRowContext(ctx, `SELECT id FROM assets WHERE id = ? FOR UPDATE`, uint64(id)).Scan(&locked)
	if err != nil && !errors.Is(err, sql.ErrNoRows) {
		return fmt.Errorf("lock asset %d: %w", id, err)
	}

	if err := fn(&sqlLedgerTx{q: tx, writable: true}); err != nil {
		return err
	}
	if err := tx.Commit(); err != nil {
		return fmt.Errorf("commit ledger tx: %w", err)
	}
	committed = true
	return nil
}

// View implements ledger.Store.  Reads go straight to the pool.
func (s *LedgerStore) View(ctx context.Context, fn func(tx ledger.Tx) error) error {
	return fn(&sqlLedgerTx{q: s.db})
}

type sqlLedgerTx struct {
	q        querier
	writable bool
}

func (t *sqlLedgerTx) exec(ctx context.Context, query string, args ...any) error {
	if !t.writable {
		return errReadOnly
	}
	_, err := t.q.ExecContext(ctx, query, args...)
	return err
}

func (t *sqlLedgerTx) Owner(ctx context.Context, id ledger.AssetID) (ledger.Identity, bool, error) {
	var owner string
	err := t.q.QueryRowContext(ctx, `SELECT owner FROM assets WHERE id = ?`, uint64(id)).Scan(&owner)
	if errors.Is(err, sql.ErrNoRows) {
		return ledger.NoIdentity, false, nil
	}
	if err != nil {
		return ledger.NoIdentity, false, err
	}
	return ledger.Identity(owner), true, nil
}

// InsertAsset leaves duplicate detection to the primary key: the FOR UPDATE
// lock in Update holds nothing when the row does not exist yet.
func (t *sqlLedgerTx) InsertAsset(ctx context.Context, id ledger.AssetID, owner ledger.Identity) error {
	err := t.exec(ctx, `INSERT INTO assets (id, owner) VALUES (?, ?)`, uint64(id), string(owner))
	if isDuplicateKey(err) {
		return fmt.Errorf("asset %d: %w", id, ledger.ErrAlreadyExists)
	}
	return err
}

func (t *sqlLedgerTx) SetOwner(ctx context.Context, id ledger.AssetID, owner ledger.Identity) error {
	return t.exec(ctx, `UPDATE assets SET owner = ? WHERE id = ?`, string(owner), uint64(id))
}

func (t *sqlLedgerTx) Listing(ctx context.Context, id ledger.AssetID) (ledger.Listing, bool, error) {
	const q = `SELECT location, number_of_rooms, monthly_rent, security_deposit, property_type, amenities FROM listings WHERE asset_id = ?`
	l := ledger.Listing{AssetID: id}
	var (
		rent, deposit uint64
		amenities     []byte
	)
	err := t.q.QueryRowContext(ctx, q, uint64(id)).Scan(
		&l.Location, &l.NumberOfRooms, &rent, &deposit, &l.PropertyType, &amenities,
	)
	if errors.Is(err, sql.ErrNoRows) {
		return ledger.Listing{}, false, nil
	}
	if err != nil {
		return ledger.Listing{}, false, err
	}
	l.MonthlyRent = ledger.Amount(rent)
	l.SecurityDeposit = ledger.Amount(deposit)
	if len(amenities) > 0 {
		if err := json.Unmarshal(amenities, &l.Amenities); err != nil {
			return ledger.Listing{}, false, fmt.Errorf("decode amenities of asset %d: %w", id, err)
		}
	}
	return l, true, nil
}

func (t *sqlLedgerTx) PutListing(ctx context.Context, l ledger.Listing) error {
	amenities := l.Amenities
	if amenities == nil {
		amenities = []string{}
	}
	raw, err := json.Marshal(amenities)
	if err != nil {
		return err
	}
	const q = `INSERT INTO listings (asset_id, location, number_of_rooms, monthly_rent, security_deposit, property_type, amenities) VALUES (?, ?, ?, ?, ?, ?, ?) ON DUPLICATE KEY UPDATE location = VALUES(location), number_of_rooms = VALUES(number_of_rooms), monthly_rent = VALUES(monthly_rent), security_deposit = VALUES(security_deposit), property_type = VALUES(property_type), amenities = VALUES(amenities)`
	return t.exec(ctx, q,
		uint64(l.AssetID), l.Location, l.NumberOfRooms, uint64(l.MonthlyRent),
		uint64(l.SecurityDeposit), l.PropertyType, string(raw))
}

func (t *sqlLedgerTx) Grant(ctx context.Context, id ledger.AssetID) (ledger.Grant, bool, error) {
	var (
		occupant string
		expires  time.Time
	)
	err := t.q.QueryRowContext(ctx,
		`SELECT occupant, expires_at FROM usage_grants WHERE asset_id = ?`, uint64(id),
	).Scan(&occupant, &expires)
	if errors.Is(err, sql.ErrNoRows) {
		return ledger.Grant{}, false, nil
	}
	if err != nil {
		return ledger.Grant{}, false, err
	}
	return ledger.Grant{AssetID: id, Occupant: ledger.Identity(occupant), Expires: expires.UTC()}, true, nil
}

func (t *sqlLedgerTx) PutGrant(ctx context.Context, g ledger.Grant) error {
	return t.exec(ctx,
		`INSERT INTO usage_grants (asset_id, occupant, expires_at) VALUES (?, ?, ?) ON DUPLICATE KEY UPDATE occupant = VALUES(occupant), expires_at = VALUES(expires_at)`,
		uint64(g.AssetID), string(g.Occupant), g.Expires.UTC())
}

func (t *sqlLedgerTx) DeleteGrant(ctx context.Context, id ledger.AssetID) error {
	return t.exec(ctx, `DELETE FROM usage_grants WHERE asset_id = ?`, uint64(id))
}

func (t *sqlLedgerTx) Deposit(ctx context.Context, id ledger.AssetID) (ledger.Deposit, bool, error) {
	var (
		amount uint64
		payer  string
	)
	err := t.q.QueryRowContext(ctx,
		`SELECT amount, payer FROM deposits WHERE asset_id = ?`, uint64(id),
	).Scan(&amount, &payer)
	if errors.Is(err, sql.ErrNoRows) {
		return ledger.Deposit{}, false, nil
	}
	if err != nil {
		return ledger.Deposit{}, false, err
	}
	return ledger.Deposit{AssetID: id, Amount: ledger.Amount(amount), Payer: ledger.Identity(payer)}, true, nil
}

func (t *sqlLedgerTx) PutDeposit(ctx context.Context, d ledger.Deposit) error {
	return t.exec(ctx,
		`INSERT INTO deposits (asset_id, amount, payer) VALUES (?, ?, ?) ON DUPLICATE KEY UPDATE amount = VALUES(amount), payer = VALUES(payer)`,
		uint64(d.AssetID), uint64(d.Amount), string(d.Payer))
}

func (t *sqlLedgerTx) DeleteDeposit(ctx context.Context, id ledger.AssetID) error {
	return t.exec(ctx, `DELETE FROM deposits WHERE asset_id = ?`, uint64(id))
}

func (t *sqlLedgerTx) Requests(ctx context.Context, id ledger.AssetID) ([]ledger.MaintenanceRequest, error) {
	rows, err := t.q.QueryContext(ctx,
		`SELECT idx, description, is_resolved FROM maintenance_requests WHERE asset_id = ? ORDER BY idx`, uint64(id))
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var out []ledger.MaintenanceRequest
	for rows.Next() {
		r := ledger.MaintenanceRequest{AssetID: id}
		if err := rows.Scan(&r.Index, &r.Description, &r.Resolved); err != nil {
			return nil, err
		}
		out = append(out, r)
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}
	return out, nil
}

func (t *sqlLedgerTx) Request(ctx context.Context, id ledger.AssetID, index int) (ledger.MaintenanceRequest, bool, error) {
	if index < 0 {
		return ledger.MaintenanceRequest{}, false, nil
	}
	r := ledger.MaintenanceRequest{AssetID: id, Index: index}
	err := t.q.QueryRowContext(ctx,
		`SELECT description, is_resolved FROM maintenance_requests WHERE asset_id = ? AND idx = ?`,
		uint64(id), index,
	).Scan(&r.Description, &r.Resolved)
	if errors.Is(err, sql.ErrNoRows) {
		return ledger.MaintenanceRequest{}, false, nil
	}
	if err != nil {
		return ledger.MaintenanceRequest{}, false, err
	}
	return r, true, nil
}

// AppendRequest relies on the asset row lock taken by Update to keep the
// next index stable between the MAX read and the insert.
func (t *sqlLedgerTx) AppendRequest(ctx context.Context, id ledger.AssetID, description string) (int, error) {
	if !t.writable {
		return 0, errReadOnly
	}
	var next int
	err := t.q.QueryRowContext(ctx,
		`SELECT COALESCE(MAX(idx) + 1, 0) FROM maintenance_requests WHERE asset_id = ?`, uint64(id),
	).Scan(&next)
	if err != nil {
		return 0, err
	}
	if err := t.exec(ctx,
		`INSERT INTO maintenance_requests (asset_id, idx, description) VALUES (?, ?, ?)`,
		uint64(id), next, description,
	); err != nil {
		return 0, err
	}
	return next, nil
}

func (t *sqlLedgerTx) ResolveRequest(ctx context.Context, id ledger.AssetID, index int) error {
	return t.exec(ctx,
		`UPDATE maintenance_requests SET is_resolved = TRUE WHERE asset_id = ? AND idx = ?`,
		uint64(id), index)
}

// Balance locks the row inside Update so a check against it holds until
// commit.
func (t *sqlLedgerTx) Balance(ctx context.Context, who ledger.Identity) (ledger.Amount, error) {
	q := `SELECT amount FROM balances WHERE identity = ?`
	if t.writable {
		q += ` FOR UPDATE`
	}
	var amount uint64
	err := t.q.QueryRowContext(ctx, q, string(who)).Scan(&amount)
	if errors.Is(err, sql.ErrNoRows) {
		return 0, nil
	}
	if err != nil {
		return 0, err
	}
	return ledger.Amount(amount), nil
}

func (t *sqlLedgerTx) Credit(ctx context.Context, who ledger.Identity, amount ledger.Amount) error {
	return t.exec(ctx,
		`INSERT INTO balances (identity, amount) VALUES (?, ?) ON DUPLICATE KEY UPDATE amount = amount + VALUES(amount)`,
		string(who), uint64(amount))
}
