package ledger

import (
	"context"
	"fmt"
)

// ListProperty publishes terms for id, replacing any previous listing.  Only
// the owner may list.  No funds move.
func (s *Service) ListProperty(ctx context.Context, id AssetID, caller Identity, terms Terms) error {
	l := Listing{AssetID: id, Terms: terms}.Clone()
	err := s.update(ctx, "list_property", id, func(tx Tx) error {
		if err := requireOwner(ctx, tx, id, caller); err != nil {
			return err
		}
		return tx.PutListing(ctx, l)
	})
	if err != nil {
		return err
	}
	s.emit(ctx, Event{Type: EventAssetListed, AssetID: id, Actor: caller, Listing: &l})
	return nil
}

// ListingOf returns the current listing of id.
func (s *Service) ListingOf(ctx context.Context, id AssetID) (Listing, error) {
	var out Listing
	err := s.view(ctx, "listing_of", func(tx Tx) error {
		l, ok, err := tx.Listing(ctx, id)
		if err != nil {
			return err
		}
		if !ok {
			return fmt.Errorf("listing of asset %d: %w", id, ErrNotFound)
		}
		out = l
		return nil
	})
	return out, err
}
