package ledger

import (
	"context"
	"fmt"
)

// CreateAsset registers id with owner.  Any caller may create an asset.
func (s *Service) CreateAsset(ctx context.Context, id AssetID, owner Identity) error {
	if owner == NoIdentity {
		return fmt.Errorf("create asset %d: owner: %w", id, ErrInvalidIdentity)
	}
	err := s.update(ctx, "create_asset", id, func(tx Tx) error {
		_, exists, err := tx.Owner(ctx, id)
		if err != nil {
			return err
		}
		if exists {
			return fmt.Errorf("asset %d: %w", id, ErrAlreadyExists)
		}
		return tx.InsertAsset(ctx, id, owner)
	})
	if err != nil {
		return err
	}
	s.emit(ctx, Event{Type: EventAssetCreated, AssetID: id, Actor: owner, Owner: owner})
	return nil
}

// OwnerOf returns the current owner of id.
func (s *Service) OwnerOf(ctx context.Context, id AssetID) (Identity, error) {
	var owner Identity
	err := s.view(ctx, "owner_of", func(tx Tx) error {
		o, ok, err := tx.Owner(ctx, id)
		if err != nil {
			return err
		}
		if !ok {
			return fmt.Errorf("asset %d: %w", id, ErrNotFound)
		}
		owner = o
		return nil
	})
	return owner, err
}

// TransferAsset hands id over to newOwner.  Only the current owner may
// transfer.  When the owner actually changes, the usage grant is cleared so
// the new owner starts without an occupant; the listing, deposit and tickets
// stay with the asset.
func (s *Service) TransferAsset(ctx context.Context, id AssetID, caller, newOwner Identity) error {
	if newOwner == NoIdentity {
		return fmt.Errorf("transfer asset %d: new owner: %w", id, ErrInvalidIdentity)
	}
	err := s.update(ctx, "transfer_asset", id, func(tx Tx) error {
		if err := requireOwner(ctx, tx, id, caller); err != nil {
			return err
		}
		if newOwner == caller {
			return nil
		}
		if err := tx.SetOwner(ctx, id, newOwner); err != nil {
			return err
		}
		return tx.DeleteGrant(ctx, id)
	})
	if err != nil {
		return err
	}
	s.emit(ctx, Event{Type: EventAssetTransferred, AssetID: id, Actor: caller, Owner: newOwner})
	return nil
}
