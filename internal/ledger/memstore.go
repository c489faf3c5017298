package ledger

import (
	"context"
	"errors"
	"fmt"

	memdb "github.com/hashicorp/go-memdb"
)

var errReadOnly = errors.New("ledger: write in read-only transaction")

const (
	assetsTable   = "assets"
	balancesTable = "balances"
)

// assetRecord holds everything keyed by one asset id.  Stored records are
// never mutated: a write inserts a modified clone.
type assetRecord struct {
	ID         AssetID
	Registered bool
	Owner      Identity
	Listing    *Listing
	Grant      *Grant
	Deposit    *Deposit
	Requests   []MaintenanceRequest
}

func (r *assetRecord) clone(id AssetID) *assetRecord {
	if r == nil {
		return &assetRecord{ID: id}
	}
	c := &assetRecord{ID: id, Registered: r.Registered, Owner: r.Owner}
	if r.Listing != nil {
		l := r.Listing.Clone()
		c.Listing = &l
	}
	if r.Grant != nil {
		g := *r.Grant
		c.Grant = &g
	}
	if r.Deposit != nil {
		d := *r.Deposit
		c.Deposit = &d
	}
	if len(r.Requests) > 0 {
		c.Requests = append([]MaintenanceRequest(nil), r.Requests...)
	}
	return c
}

type balanceRecord struct {
	Who    string
	Amount Amount
}

func memSchema() *memdb.DBSchema {
	return &memdb.DBSchema{
		Tables: map[string]*memdb.TableSchema{
			assetsTable: {
				Name: assetsTable,
				Indexes: map[string]*memdb.IndexSchema{
					"id": {Name: "id", Unique: true, Indexer: &memdb.UintFieldIndex{Field: "ID"}},
				},
			},
			balancesTable: {
				Name: balancesTable,
				Indexes: map[string]*memdb.IndexSchema{
					"id": {Name: "id", Unique: true, Indexer: &memdb.StringFieldIndex{Field: "Who"}},
				},
			},
		},
	}
}

// MemStore is an in-process Store backed by go-memdb.  memdb admits one
// write transaction at a time, so updates are serialized across all assets
// while readers work on immutable snapshots.
type MemStore struct {
	db *memdb.MemDB
}

// NewMemStore returns an empty MemStore.
func NewMemStore() *MemStore {
	db, err := memdb.NewMemDB(memSchema())
	if err != nil {
		panic(fmt.Sprintf("ledger: memdb schema: %v", err))
	}
	return &MemStore{db: db}
}

// Update implements Store.  The write transaction is aborted unless fn
// returns nil.
func (s *MemStore) Update(ctx context.Context, _ AssetID, fn func(tx Tx) error) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	txn := s.db.Txn(true)
	defer txn.Abort()

	if err := fn(&memTx{txn: txn, writable: true}); err != nil {
		return err
	}
	txn.Commit()
	return nil
}

// View implements Store.
func (s *MemStore) View(ctx context.Context, fn func(tx Tx) error) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	txn := s.db.Txn(false)
	defer txn.Abort()
	return fn(&memTx{txn: txn})
}

type memTx struct {
	txn      *memdb.Txn
	writable bool
}

// record returns the stored record for id, or nil.  The result must not be
// modified.
func (t *memTx) record(id AssetID) (*assetRecord, error) {
	raw, err := t.txn.First(assetsTable, "id", id)
	if err != nil || raw == nil {
		return nil, err
	}
	return raw.(*assetRecord), nil
}

// modify applies fn to a copy of the record for id and stores the copy.
func (t *memTx) modify(id AssetID, fn func(rec *assetRecord) error) error {
	if !t.writable {
		return errReadOnly
	}
	cur, err := t.record(id)
	if err != nil {
		return err
	}
	rec := cur.clone(id)
	if err := fn(rec); err != nil {
		return err
	}
	return t.txn.Insert(assetsTable, rec)
}

func (t *memTx) Owner(_ context.Context, id AssetID) (Identity, bool, error) {
	rec, err := t.record(id)
	if err != nil || rec == nil || !rec.Registered {
		return NoIdentity, false, err
	}
	return rec.Owner, true, nil
}

func (t *memTx) InsertAsset(_ context.Context, id AssetID, owner Identity) error {
	return t.modify(id, func(rec *assetRecord) error {
		if rec.Registered {
			return fmt.Errorf("asset %d: %w", id, ErrAlreadyExists)
		}
		rec.Registered = true
		rec.Owner = owner
		return nil
	})
}

func (t *memTx) SetOwner(_ context.Context, id AssetID, owner Identity) error {
	return t.modify(id, func(rec *assetRecord) error {
		if !rec.Registered {
			return fmt.Errorf("asset %d: %w", id, ErrNotFound)
		}
		rec.Owner = owner
		return nil
	})
}

func (t *memTx) Listing(_ context.Context, id AssetID) (Listing, bool, error) {
	rec, err := t.record(id)
	if err != nil || rec == nil || rec.Listing == nil {
		return Listing{}, false, err
	}
	return rec.Listing.Clone(), true, nil
}

func (t *memTx) PutListing(_ context.Context, l Listing) error {
	return t.modify(l.AssetID, func(rec *assetRecord) error {
		c := l.Clone()
		rec.Listing = &c
		return nil
	})
}

func (t *memTx) Grant(_ context.Context, id AssetID) (Grant, bool, error) {
	rec, err := t.record(id)
	if err != nil || rec == nil || rec.Grant == nil {
		return Grant{}, false, err
	}
	return *rec.Grant, true, nil
}

func (t *memTx) PutGrant(_ context.Context, g Grant) error {
	return t.modify(g.AssetID, func(rec *assetRecord) error {
		rec.Grant = &g
		return nil
	})
}

func (t *memTx) DeleteGrant(_ context.Context, id AssetID) error {
	return t.modify(id, func(rec *assetRecord) error {
		rec.Grant = nil
		return nil
	})
}

func (t *memTx) Deposit(_ context.Context, id AssetID) (Deposit, bool, error) {
	rec, err := t.record(id)
	if err != nil || rec == nil || rec.Deposit == nil {
		return Deposit{}, false, err
	}
	return *rec.Deposit, true, nil
}

func (t *memTx) PutDeposit(_ context.Context, d Deposit) error {
	return t.modify(d.AssetID, func(rec *assetRecord) error {
		rec.Deposit = &d
		return nil
	})
}

func (t *memTx) DeleteDeposit(_ context.Context, id AssetID) error {
	return t.modify(id, func(rec *assetRecord) error {
		rec.Deposit = nil
		return nil
	})
}

func (t *memTx) Requests(_ context.Context, id AssetID) ([]MaintenanceRequest, error) {
	rec, err := t.record(id)
	if err != nil || rec == nil {
		return nil, err
	}
	return append([]MaintenanceRequest(nil), rec.Requests...), nil
}

func (t *memTx) Request(_ context.Context, id AssetID, index int) (MaintenanceRequest, bool, error) {
	rec, err := t.record(id)
	if err != nil || rec == nil || index < 0 || index >= len(rec.Requests) {
		return MaintenanceRequest{}, false, err
	}
	return rec.Requests[index], true, nil
}

func (t *memTx) AppendRequest(_ context.Context, id AssetID, description string) (int, error) {
	var idx int
	err := t.modify(id, func(rec *assetRecord) error {
		idx = len(rec.Requests)
		rec.Requests = append(rec.Requests, MaintenanceRequest{
			AssetID:     id,
			Index:       idx,
			Description: description,
		})
		return nil
	})
	if err != nil {
		return 0, err
	}
	return idx, nil
}

func (t *memTx) ResolveRequest(_ context.Context, id AssetID, index int) error {
	return t.modify(id, func(rec *assetRecord) error {
		if index < 0 || index >= len(rec.Requests) {
			return fmt.Errorf("maintenance request %d of asset %d: %w", index, id, ErrNotFound)
		}
		rec.Requests[index].Resolved = true
		return nil
	})
}

func (t *memTx) Balance(_ context.Context, who Identity) (Amount, error) {
	raw, err := t.txn.First(balancesTable, "id", string(who))
	if err != nil || raw == nil {
		return 0, err
	}
	return raw.(*balanceRecord).Amount, nil
}

// Credit adds amount to the balance of who.  It refuses to wrap.
func (t *memTx) Credit(ctx context.Context, who Identity, amount Amount) error {
	if !t.writable {
		return errReadOnly
	}
	bal, err := t.Balance(ctx, who)
	if err != nil {
		return err
	}
	if bal > maxAmount-amount {
		return fmt.Errorf("credit %d to %q: %w", amount, who, ErrBalanceOverflow)
	}
	return t.txn.Insert(balancesTable, &balanceRecord{Who: string(who), Amount: bal + amount})
}
