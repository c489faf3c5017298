package ledger

import (
	"context"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/jonboulle/clockwork"
	"go.uber.org/zap"
)

// Service exposes the ledger operations.  It holds no state of its own; all
// reads and writes go through the Store.
type Service struct {
	store    Store
	clock    clockwork.Clock
	notifier Notifier
	observer Observer
	log      *zap.Logger
}

// Option configures a Service.
type Option func(*Service)

// WithNotifier sets the destination for committed-mutation events.
func WithNotifier(n Notifier) Option {
	return func(s *Service) {
		if n != nil {
			s.notifier = n
		}
	}
}

// WithObserver sets the per-operation metrics sink.
func WithObserver(o Observer) Option {
	return func(s *Service) { s.observer = o }
}

// WithLogger sets the logger.  The default discards everything.
func WithLogger(l *zap.Logger) Option {
	return func(s *Service) {
		if l != nil {
			s.log = l
		}
	}
}

// NewService builds a Service over store, evaluating expiry with clk.
func NewService(store Store, clk clockwork.Clock, opts ...Option) *Service {
	if store == nil || clk == nil {
		panic("ledger: nil store or clock passed to NewService")
	}
	s := &Service{
		store:    store,
		clock:    clk,
		notifier: nopNotifier{},
		log:      zap.NewNop(),
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// update runs fn as one atomic operation on asset id and records its
// outcome.
func (s *Service) update(ctx context.Context, op string, id AssetID, fn func(tx Tx) error) error {
	start := time.Now()
	err := s.store.Update(ctx, id, fn)
	s.observe(op, err, time.Since(start))
	return err
}

func (s *Service) view(ctx context.Context, op string, fn func(tx Tx) error) error {
	start := time.Now()
	err := s.store.View(ctx, fn)
	s.observe(op, err, time.Since(start))
	return err
}

func (s *Service) observe(op string, err error, elapsed time.Duration) {
	if s.observer != nil {
		s.observer.ObserveOperation(op, err, elapsed)
	}
	if err != nil {
		s.log.Debug("ledger operation rejected", zap.String("op", op), zap.Error(err))
	}
}

// emit publishes ev after its mutation has committed.  A delivery failure is
// logged and otherwise ignored.
func (s *Service) emit(ctx context.Context, ev Event) {
	ev.ID = uuid.New()
	ev.OccurredAt = s.clock.Now().UTC()
	if err := s.notifier.Notify(ctx, ev); err != nil {
		s.log.Warn("event delivery failed",
			zap.String("event", string(ev.Type)),
			zap.Stringer("asset_id", ev.AssetID),
			zap.Error(err),
		)
	}
}

// requireOwner fails unless id is registered and owned by caller.
func requireOwner(ctx context.Context, tx Tx, id AssetID, caller Identity) error {
	owner, ok, err := tx.Owner(ctx, id)
	if err != nil {
		return err
	}
	if !ok {
		return fmt.Errorf("asset %d: %w", id, ErrNotFound)
	}
	if caller == NoIdentity || caller != owner {
		return fmt.Errorf("asset %d: caller is not the owner: %w", id, ErrUnauthorized)
	}
	return nil
}

// currentUser resolves the occupant of id at now.  Expiry is evaluated here
// and nowhere else; the stored grant is never modified by a read.
func currentUser(ctx context.Context, tx Tx, id AssetID, now time.Time) (Identity, error) {
	g, ok, err := tx.Grant(ctx, id)
	if err != nil {
		return NoIdentity, err
	}
	if !ok || !g.Active(now) {
		return NoIdentity, nil
	}
	return g.Occupant, nil
}

func requireAsset(ctx context.Context, tx Tx, id AssetID) error {
	_, ok, err := tx.Owner(ctx, id)
	if err != nil {
		return err
	}
	if !ok {
		return fmt.Errorf("asset %d: %w", id, ErrNotFound)
	}
	return nil
}
