package ledger

import (
	"context"
	"fmt"
	"time"
)

// SetUser grants occupancy of id to occupant until expires, replacing any
// existing grant.  Only the owner may grant.  An expiry in the past is
// accepted and simply leaves the asset without an active occupant.
func (s *Service) SetUser(ctx context.Context, id AssetID, caller, occupant Identity, expires time.Time) error {
	if occupant == NoIdentity {
		return fmt.Errorf("set user of asset %d: occupant: %w", id, ErrInvalidIdentity)
	}
	g := Grant{AssetID: id, Occupant: occupant, Expires: expires.UTC()}
	err := s.update(ctx, "set_user", id, func(tx Tx) error {
		if err := requireOwner(ctx, tx, id, caller); err != nil {
			return err
		}
		return tx.PutGrant(ctx, g)
	})
	if err != nil {
		return err
	}
	s.emit(ctx, Event{Type: EventUserSet, AssetID: id, Actor: caller, Occupant: occupant, Expires: &g.Expires})
	return nil
}

// UserOf returns the occupant of id whose grant is still active, or
// NoIdentity when there is none.  Unknown assets have no occupant.
func (s *Service) UserOf(ctx context.Context, id AssetID) (Identity, error) {
	now := s.clock.Now()
	var user Identity
	err := s.view(ctx, "user_of", func(tx Tx) error {
		u, err := currentUser(ctx, tx, id, now)
		user = u
		return err
	})
	return user, err
}

// UserExpires returns the stored expiry of the grant on id, or the zero time
// when no grant was ever set.  Unlike UserOf it does not consult the clock.
func (s *Service) UserExpires(ctx context.Context, id AssetID) (time.Time, error) {
	var exp time.Time
	err := s.view(ctx, "user_expires", func(tx Tx) error {
		g, ok, err := tx.Grant(ctx, id)
		if err != nil {
			return err
		}
		if ok {
			exp = g.Expires
		}
		return nil
	})
	return exp, err
}

// IsOccupant reports whether caller currently holds an active grant on id.
func (s *Service) IsOccupant(ctx context.Context, id AssetID, caller Identity) (bool, error) {
	if caller == NoIdentity {
		return false, nil
	}
	user, err := s.UserOf(ctx, id)
	if err != nil {
		return false, err
	}
	return user == caller, nil
}
