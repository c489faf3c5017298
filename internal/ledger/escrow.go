package ledger

import (
	"context"
	"fmt"
)

// PaySecurityDeposit escrows amount for id on behalf of payer.  The asset
// must be listed and amount must equal the listed security deposit exactly.
// A second payment while a deposit is held is rejected.
func (s *Service) PaySecurityDeposit(ctx context.Context, id AssetID, payer Identity, amount Amount) error {
	if payer == NoIdentity {
		return fmt.Errorf("pay deposit for asset %d: payer: %w", id, ErrInvalidIdentity)
	}
	err := s.update(ctx, "pay_security_deposit", id, func(tx Tx) error {
		l, ok, err := tx.Listing(ctx, id)
		if err != nil {
			return err
		}
		if !ok {
			return fmt.Errorf("listing of asset %d: %w", id, ErrNotFound)
		}
		if amount != l.SecurityDeposit {
			return fmt.Errorf("asset %d expects deposit %d, got %d: %w", id, l.SecurityDeposit, amount, ErrWrongAmount)
		}
		held, ok, err := tx.Deposit(ctx, id)
		if err != nil {
			return err
		}
		if ok && held.Held() {
			return fmt.Errorf("asset %d: %w", id, ErrAlreadyEscrowed)
		}
		return tx.PutDeposit(ctx, Deposit{AssetID: id, Amount: amount, Payer: payer})
	})
	if err != nil {
		return err
	}
	s.emit(ctx, Event{Type: EventDepositPaid, AssetID: id, Actor: payer, Amount: amount})
	return nil
}

// ReturnSecurityDeposit releases the escrowed deposit of id to the asset's
// current occupant.  Only the owner may trigger the release.  The full
// amount is credited and the escrow is zeroed in the same step.
func (s *Service) ReturnSecurityDeposit(ctx context.Context, id AssetID, caller Identity) (Payout, error) {
	now := s.clock.Now()
	var payout Payout
	err := s.update(ctx, "return_security_deposit", id, func(tx Tx) error {
		if err := requireOwner(ctx, tx, id, caller); err != nil {
			return err
		}
		d, ok, err := tx.Deposit(ctx, id)
		if err != nil {
			return err
		}
		if !ok || !d.Held() {
			return fmt.Errorf("asset %d: %w", id, ErrNothingEscrowed)
		}
		recipient, err := currentUser(ctx, tx, id, now)
		if err != nil {
			return err
		}
		if recipient == NoIdentity {
			return fmt.Errorf("asset %d: %w", id, ErrNoActiveOccupant)
		}
		bal, err := tx.Balance(ctx, recipient)
		if err != nil {
			return err
		}
		if bal > maxAmount-d.Amount {
			return fmt.Errorf("asset %d: crediting %d to %q: %w", id, d.Amount, recipient, ErrBalanceOverflow)
		}
		if err := tx.DeleteDeposit(ctx, id); err != nil {
			return err
		}
		if err := tx.Credit(ctx, recipient, d.Amount); err != nil {
			return err
		}
		payout = Payout{AssetID: id, Recipient: recipient, Amount: d.Amount}
		return nil
	})
	if err != nil {
		return Payout{}, err
	}
	s.emit(ctx, Event{
		Type:     EventDepositReturned,
		AssetID:  id,
		Actor:    caller,
		Occupant: payout.Recipient,
		Amount:   payout.Amount,
	})
	return payout, nil
}

// DepositOf returns the deposit escrowed for id.  When nothing is held the
// returned Deposit has a zero Amount.
func (s *Service) DepositOf(ctx context.Context, id AssetID) (Deposit, error) {
	out := Deposit{AssetID: id}
	err := s.view(ctx, "deposit_of", func(tx Tx) error {
		d, ok, err := tx.Deposit(ctx, id)
		if err != nil {
			return err
		}
		if ok {
			out = d
		}
		return nil
	})
	return out, err
}

// BalanceOf returns the total amount released to who by deposit returns.
func (s *Service) BalanceOf(ctx context.Context, who Identity) (Amount, error) {
	var bal Amount
	err := s.view(ctx, "balance_of", func(tx Tx) error {
		b, err := tx.Balance(ctx, who)
		bal = b
		return err
	})
	return bal, err
}
