package ledger

import (
	"context"
	"fmt"
)

// SubmitMaintenanceRequest appends a ticket to id and returns its index.
// Only the current occupant may file.
func (s *Service) SubmitMaintenanceRequest(ctx context.Context, id AssetID, caller Identity, description string) (int, error) {
	now := s.clock.Now()
	var index int
	err := s.update(ctx, "submit_maintenance_request", id, func(tx Tx) error {
		if err := requireAsset(ctx, tx, id); err != nil {
			return err
		}
		user, err := currentUser(ctx, tx, id, now)
		if err != nil {
			return err
		}
		if caller == NoIdentity || user != caller {
			return fmt.Errorf("asset %d: caller is not the current occupant: %w", id, ErrUnauthorized)
		}
		index, err = tx.AppendRequest(ctx, id, description)
		return err
	})
	if err != nil {
		return 0, err
	}
	idx := index
	s.emit(ctx, Event{Type: EventMaintenanceSubmitted, AssetID: id, Actor: caller, Index: &idx, Text: description})
	return index, nil
}

// ResolveMaintenanceRequest marks ticket index of id as resolved.  Only the
// owner may resolve.  Resolving a resolved ticket succeeds without change
// and emits nothing.
func (s *Service) ResolveMaintenanceRequest(ctx context.Context, id AssetID, caller Identity, index int) error {
	changed := false
	err := s.update(ctx, "resolve_maintenance_request", id, func(tx Tx) error {
		if err := requireOwner(ctx, tx, id, caller); err != nil {
			return err
		}
		req, ok, err := tx.Request(ctx, id, index)
		if err != nil {
			return err
		}
		if !ok {
			return fmt.Errorf("maintenance request %d of asset %d: %w", index, id, ErrNotFound)
		}
		if req.Resolved {
			return nil
		}
		if err := tx.ResolveRequest(ctx, id, index); err != nil {
			return err
		}
		changed = true
		return nil
	})
	if err != nil || !changed {
		return err
	}
	idx := index
	s.emit(ctx, Event{Type: EventMaintenanceResolved, AssetID: id, Actor: caller, Index: &idx})
	return nil
}

// MaintenanceRequest returns ticket index of id.
func (s *Service) MaintenanceRequest(ctx context.Context, id AssetID, index int) (MaintenanceRequest, error) {
	var out MaintenanceRequest
	err := s.view(ctx, "maintenance_request", func(tx Tx) error {
		req, ok, err := tx.Request(ctx, id, index)
		if err != nil {
			return err
		}
		if !ok {
			return fmt.Errorf("maintenance request %d of asset %d: %w", index, id, ErrNotFound)
		}
		out = req
		return nil
	})
	return out, err
}

// MaintenanceRequests returns every ticket of id in append order.
func (s *Service) MaintenanceRequests(ctx context.Context, id AssetID) ([]MaintenanceRequest, error) {
	var out []MaintenanceRequest
	err := s.view(ctx, "maintenance_requests", func(tx Tx) error {
		if err := requireAsset(ctx, tx, id); err != nil {
			return err
		}
		reqs, err := tx.Requests(ctx, id)
		out = reqs
		return err
	})
	return out, err
}
