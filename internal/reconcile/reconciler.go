// Package reconcile migrates a guest cart into the server cart once per
// login session.
//
// Lines are submitted one at a time. Each line is dropped from the guest cart
// as soon as the server accepts it, so when a submission fails the guest cart
// holds exactly the lines that were not migrated. Nothing already submitted
// is rolled back, and Retry resubmits only what is left.
package reconcile

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/scentara/storefront-cart/internal/domain"
	"github.com/scentara/storefront-cart/internal/logger"
	"go.uber.org/zap"
)

type State int

const (
	Idle State = iota
	Syncing
	Synced
	Failed
)

func (s State) String() string {
	switch s {
	case Idle:
		return "idle"
	case Syncing:
		return "syncing"
	case Synced:
		return "synced"
	case Failed:
		return "failed"
	default:
		return fmt.Sprintf("state(%d)", int(s))
	}
}

// Terminal reports whether the state ends reconciliation for the session.
func (s State) Terminal() bool {
	return s == Synced || s == Failed
}

// LocalCart is the guest side of the migration.
type LocalCart interface {
	List(ctx context.Context) []domain.LocalCartLine
	Remove(ctx context.Context, productID string, priceOptionIDs []string)
	Clear(ctx context.Context)
}

// RemoteCart is the authenticated side of the migration.
type RemoteCart interface {
	AddItem(ctx context.Context, productID string, priceOptionIDs []string, quantity int) error
}

// DefaultSessionTTL is how long a finished session is remembered. It should
// outlive the tokens issued by the cart API.
const DefaultSessionTTL = 24 * time.Hour

type session struct {
	state      State
	lastErr    error
	finishedAt time.Time
}

// Reconciler tracks only sessions that are syncing or finished. A session
// whose guest cart was empty leaves no entry, and finished sessions are
// dropped once their TTL has passed.
type Reconciler struct {
	mu        sync.Mutex
	sessions  map[string]*session
	ttl       time.Duration
	lastSweep time.Time
	publisher EventPublisher
	log       *zap.Logger
	now       func() time.Time
}

type Option func(*Reconciler)

func WithSessionTTL(d time.Duration) Option {
	return func(r *Reconciler) {
		if d > 0 {
			r.ttl = d
		}
	}
}

func WithClock(now func() time.Time) Option {
	return func(r *Reconciler) { r.now = now }
}

func New(publisher EventPublisher, log *zap.Logger, opts ...Option) *Reconciler {
	if publisher == nil {
		publisher = NopPublisher{}
	}
	r := &Reconciler{
		sessions:  make(map[string]*session),
		ttl:       DefaultSessionTTL,
		publisher: publisher,
		log:       logger.OrNop(log),
		now:       time.Now,
	}
	for _, opt := range opts {
		opt(r)
	}
	r.lastSweep = r.now()
	return r
}

// Sync runs the migration for sessionID if it has not run yet and the guest
// cart has lines. It returns the resulting state; the error is the failed
// submission when the state is Failed. Calls for a session that is syncing
// or already finished return immediately without touching either cart.
func (r *Reconciler) Sync(ctx context.Context, sessionID string, local LocalCart, remote RemoteCart) (State, error) {
	if sessionID == "" {
		return Idle, nil
	}

	r.mu.Lock()
	now := r.now()
	r.sweepLocked(now)
	s, ok := r.sessions[sessionID]
	if !ok || r.expired(s, now) {
		s = &session{}
		r.sessions[sessionID] = s
	}
	if s.state != Idle {
		state, err := s.state, s.lastErr
		r.mu.Unlock()
		return state, err
	}
	s.state = Syncing
	r.mu.Unlock()

	lines := local.List(ctx)
	if len(lines) == 0 {
		r.mu.Lock()
		if r.sessions[sessionID] == s {
			delete(r.sessions, sessionID)
		}
		r.mu.Unlock()
		return Idle, nil
	}

	return r.run(ctx, sessionID, s, lines, local, remote)
}

// Retry reruns a failed migration with the lines still in the guest cart. It
// is meant for an explicit user action; Sync never retries on its own.
func (r *Reconciler) Retry(ctx context.Context, sessionID string, local LocalCart, remote RemoteCart) (State, error) {
	r.mu.Lock()
	if s, ok := r.sessions[sessionID]; ok && s.state == Failed {
		s.state = Idle
		s.lastErr = nil
	}
	r.mu.Unlock()

	return r.Sync(ctx, sessionID, local, remote)
}

func (r *Reconciler) State(sessionID string) State {
	r.mu.Lock()
	defer r.mu.Unlock()

	if s, ok := r.sessions[sessionID]; ok && !r.expired(s, r.now()) {
		return s.state
	}
	return Idle
}

// Forget drops the bookkeeping for a session, e.g. on logout.
func (r *Reconciler) Forget(sessionID string) {
	r.mu.Lock()
	defer r.mu.Unlock()
	delete(r.sessions, sessionID)
}

func (r *Reconciler) run(ctx context.Context, sessionID string, s *session, lines []domain.LocalCartLine, local LocalCart, remote RemoteCart) (State, error) {
	log := logger.WithTrace(ctx, r.log).With(zap.String("session_id", sessionID))
	log.Info("migrating guest cart", zap.Int("lines", len(lines)))

	submitted := 0
	for _, line := range lines {
		if err := remote.AddItem(ctx, line.ProductID, line.PriceOptionIDs, line.Quantity); err != nil {
			log.Warn("guest cart migration failed",
				zap.String("product_id", line.ProductID),
				zap.Strings("price_option_ids", line.PriceOptionIDs),
				zap.Int("submitted", submitted),
				zap.Int("pending", len(lines)-submitted),
				zap.Error(err))

			r.finish(s, Failed, err)
			r.publish(ctx, Event{
				Type:      EventSyncFailed,
				SessionID: sessionID,
				Submitted: submitted,
				Pending:   len(lines) - submitted,
				Error:     err.Error(),
			})
			return Failed, err
		}
		local.Remove(ctx, line.ProductID, line.PriceOptionIDs)
		submitted++
	}

	local.Clear(ctx)
	r.finish(s, Synced, nil)
	log.Info("guest cart migrated", zap.Int("submitted", submitted))
	r.publish(ctx, Event{
		Type:      EventSynced,
		SessionID: sessionID,
		Submitted: submitted,
	})
	return Synced, nil
}

func (r *Reconciler) finish(s *session, state State, err error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	s.state = state
	s.lastErr = err
	s.finishedAt = r.now()
}

func (r *Reconciler) expired(s *session, now time.Time) bool {
	return s.state.Terminal() && now.Sub(s.finishedAt) >= r.ttl
}

// sweepLocked drops expired sessions, at most once per quarter TTL.
func (r *Reconciler) sweepLocked(now time.Time) {
	if now.Sub(r.lastSweep) < r.ttl/4 {
		return
	}
	r.lastSweep = now
	for id, s := range r.sessions {
		if r.expired(s, now) {
			delete(r.sessions, id)
		}
	}
}

func (r *Reconciler) len() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return len(r.sessions)
}

func (r *Reconciler) publish(ctx context.Context, e Event) {
	e.OccurredAt = r.now()
	if err := r.publisher.Publish(ctx, e); err != nil {
		r.log.Warn("failed to publish cart sync event",
			zap.String("type", e.Type),
			zap.String("session_id", e.SessionID),
			zap.Error(err))
	}
}
