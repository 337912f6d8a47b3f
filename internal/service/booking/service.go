package booking

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/kirinyoku/flight-wizard/internal/clock"
	"github.com/kirinyoku/flight-wizard/internal/domain"
	redisrepo "github.com/kirinyoku/flight-wizard/internal/repository/redis"
	"github.com/kirinyoku/flight-wizard/internal/service/wizard"
	"github.com/kirinyoku/flight-wizard/internal/uow"
)

const watchBuffer = 16

type Publisher interface {
	PublishWizardChanged(ctx context.Context, sessionID string, state domain.WizardState) error
}

type Limiter interface {
	Allow(ctx context.Context, id string) (redisrepo.RateDecision, error)
}

type SeatMapCache interface {
	SeatMap(
		ctx context.Context,
		flightNumber string,
		load func(ctx context.Context) ([]domain.SeatWithStatus, error),
	) ([]domain.SeatWithStatus, error)
}

type Config struct {
	IdleTTL        time.Duration
	SessionOptions []wizard.Option
}

// Deps are the optional collaborators of the service. Any of them may be
// nil.
type Deps struct {
	Publisher Publisher
	Limiter   Limiter
	SeatMaps  SeatMapCache
	Clock     clock.Clock
	Logger    *slog.Logger
}

// Service hosts wizard sessions for the HTTP layer. Each session is only
// ever touched inside its own unit of work, which gives the single-threaded
// access the wizard model expects.
type Service struct {
	mu       sync.Mutex
	sessions map[string]*entry

	publisher Publisher
	limiter   Limiter
	seatMaps  SeatMapCache
	clock     clock.Clock
	logger    *slog.Logger
	cfg       Config
}

type entry struct {
	uow     uow.UoW
	session *wizard.Session
	ctrl    *wizard.Controller

	// guarded by Service.mu
	lastUsed time.Time

	// guarded by uow
	watchers    map[int]*watcher
	nextWatcher int
}

type watcher struct {
	ch          chan domain.WizardState
	unsubscribe func()
}

func New(deps Deps, cfg Config) *Service {
	if cfg.IdleTTL <= 0 {
		cfg.IdleTTL = 30 * time.Minute
	}

	if deps.Clock == nil {
		deps.Clock = clock.NewSystem()
	}

	if deps.Logger == nil {
		deps.Logger = slog.New(slog.NewTextHandler(io.Discard, nil))
	}

	return &Service{
		sessions:  make(map[string]*entry),
		publisher: deps.Publisher,
		limiter:   deps.Limiter,
		seatMaps:  deps.SeatMaps,
		clock:     deps.Clock,
		logger:    deps.Logger,
		cfg:       cfg,
	}
}

// Create opens a new wizard session in the Initial state.
//
// Parameters:
//   - ctx: request-scoped context.
//   - clientKey: rate-limit bucket of the caller; empty disables limiting.
//
// Returns:
//   - string: the ID of the new session.
//   - error: booking.ErrRateLimited (as RateLimitedError) if the caller is over the limit.
func (s *Service) Create(ctx context.Context, clientKey string) (string, error) {
	const op = "service.booking.Create"

	if s.limiter != nil && clientKey != "" {
		d, err := s.limiter.Allow(ctx, clientKey)
		if err != nil {
			return "", fmt.Errorf("%s:%w", op, err)
		}
		if !d.Allowed {
			return "", fmt.Errorf("%s:%w", op, RateLimitedError{RetryAfter: d.RetryAfter})
		}
	}

	id := uuid.NewString()

	opts := append([]wizard.Option{
		wizard.WithClock(s.clock),
		wizard.WithLogger(s.logger.With("session_id", id)),
	}, s.cfg.SessionOptions...)

	session := wizard.NewSession(opts...)
	e := &entry{
		session:  session,
		ctrl:     wizard.NewController(session),
		lastUsed: s.clock.Now(),
		watchers: make(map[int]*watcher),
	}

	s.mu.Lock()
	s.sessions[id] = e
	s.mu.Unlock()

	s.logger.Info("wizard session created", "session_id", id)

	return id, nil
}

// Get returns a snapshot of the session.
func (s *Service) Get(ctx context.Context, id string) (domain.WizardSnapshot, error) {
	const op = "service.booking.Get"

	e, err := s.lookup(id)
	if err != nil {
		return domain.WizardSnapshot{}, fmt.Errorf("%s:%w", op, err)
	}

	var snap domain.WizardSnapshot
	err = e.uow.Do(ctx, func(ctx context.Context, after func(uow.AfterCommit)) error {
		snap = e.session.Snapshot()
		return nil
	})
	if err != nil {
		return domain.WizardSnapshot{}, fmt.Errorf("%s:%w", op, err)
	}

	return snap, nil
}

// Delete drops the session and closes its watchers.
func (s *Service) Delete(ctx context.Context, id string) error {
	const op = "service.booking.Delete"

	s.mu.Lock()
	e, ok := s.sessions[id]
	delete(s.sessions, id)
	s.mu.Unlock()

	if !ok {
		return fmt.Errorf("%s:%w", op, ErrSessionNotFound)
	}

	s.close(e)

	return nil
}

func (s *Service) Start(ctx context.Context, id string) (domain.WizardSnapshot, error) {
	return s.apply(ctx, "service.booking.Start", id, func(c *wizard.Controller) bool {
		c.Start()
		return true
	})
}

// PickFlight returns booking.ErrTransitionRejected when the session is not
// choosing a flight or flightID is not in its catalog.
func (s *Service) PickFlight(ctx context.Context, id, flightID string) (domain.WizardSnapshot, error) {
	return s.apply(ctx, "service.booking.PickFlight", id, func(c *wizard.Controller) bool {
		return c.PickFlight(flightID)
	})
}

// PickSeat returns booking.ErrTransitionRejected when the session is not
// choosing a seat or the label is not on the seat map.
func (s *Service) PickSeat(ctx context.Context, id, seat string) (domain.WizardSnapshot, error) {
	return s.apply(ctx, "service.booking.PickSeat", id, func(c *wizard.Controller) bool {
		return c.PickSeat(seat)
	})
}

func (s *Service) Confirm(ctx context.Context, id string) (domain.WizardSnapshot, error) {
	return s.apply(ctx, "service.booking.Confirm", id, func(c *wizard.Controller) bool {
		return c.Confirm()
	})
}

func (s *Service) Finish(ctx context.Context, id string) (domain.WizardSnapshot, error) {
	return s.apply(ctx, "service.booking.Finish", id, func(c *wizard.Controller) bool {
		c.Finish()
		return true
	})
}

func (s *Service) Back(ctx context.Context, id string) (domain.WizardSnapshot, error) {
	return s.apply(ctx, "service.booking.Back", id, func(c *wizard.Controller) bool {
		c.Back()
		return true
	})
}

// SeatMap returns the seats of the selected flight with their taken flags.
//
// Parameters:
//   - ctx: request-scoped context.
//   - id: ID of the session.
//
// Returns:
//   - []domain.SeatWithStatus: seats in seat-map order.
//   - error: booking.ErrNoFlightSelected if no flight has been picked yet.
func (s *Service) SeatMap(ctx context.Context, id string) ([]domain.SeatWithStatus, error) {
	const op = "service.booking.SeatMap"

	e, err := s.lookup(id)
	if err != nil {
		return nil, fmt.Errorf("%s:%w", op, err)
	}

	var number string
	err = e.uow.Do(ctx, func(ctx context.Context, after func(uow.AfterCommit)) error {
		f, ok := e.session.SelectedFlight()
		if !ok {
			return ErrNoFlightSelected
		}
		number = f.Number
		return nil
	})
	if err != nil {
		return nil, fmt.Errorf("%s:%w", op, err)
	}

	load := func(ctx context.Context) ([]domain.SeatWithStatus, error) {
		return RenderSeatMap(number), nil
	}

	if s.seatMaps == nil {
		return load(ctx)
	}

	seats, err := s.seatMaps.SeatMap(ctx, number, load)
	if err != nil {
		s.logger.Warn("seat map cache failed", "flight", number, "error", err)
		return load(ctx)
	}

	return seats, nil
}

// RenderSeatMap lists the seat map of a flight number with the seats the
// wizard reports as taken.
func RenderSeatMap(flightNumber string) []domain.SeatWithStatus {
	seats := wizard.SeatMap()

	taken := make(map[string]struct{})
	for _, label := range wizard.TakenSeats(flightNumber, seats) {
		taken[label] = struct{}{}
	}

	out := make([]domain.SeatWithStatus, 0, len(seats))
	for _, label := range seats {
		_, isTaken := taken[label]
		out = append(out, domain.SeatWithStatus{Label: label, Taken: isTaken})
	}

	return out
}

// Watch streams the session state after every accepted change. Slow readers
// miss intermediate states. The channel is closed by cancel or when the
// session goes away.
func (s *Service) Watch(ctx context.Context, id string) (<-chan domain.WizardState, func(), error) {
	const op = "service.booking.Watch"

	e, err := s.lookup(id)
	if err != nil {
		return nil, nil, fmt.Errorf("%s:%w", op, err)
	}

	w := &watcher{ch: make(chan domain.WizardState, watchBuffer)}
	var wid int

	err = e.uow.Do(ctx, func(ctx context.Context, after func(uow.AfterCommit)) error {
		e.nextWatcher++
		wid = e.nextWatcher
		w.unsubscribe = e.session.Subscribe(func() {
			select {
			case w.ch <- e.session.State():
			default:
			}
		})
		e.watchers[wid] = w
		return nil
	})
	if err != nil {
		return nil, nil, fmt.Errorf("%s:%w", op, err)
	}

	cancel := func() {
		_ = e.uow.Do(context.Background(), func(ctx context.Context, after func(uow.AfterCommit)) error {
			e.stopWatcher(wid)
			return nil
		})
	}

	return w.ch, cancel, nil
}

// EvictIdle drops sessions unused for longer than the idle TTL and returns
// how many were dropped.
func (s *Service) EvictIdle(ctx context.Context) int {
	cutoff := s.clock.Now().Add(-s.cfg.IdleTTL)

	var idle []*entry

	s.mu.Lock()
	for id, e := range s.sessions {
		if e.lastUsed.Before(cutoff) {
			idle = append(idle, e)
			delete(s.sessions, id)
		}
	}
	s.mu.Unlock()

	for _, e := range idle {
		s.close(e)
	}

	if len(idle) > 0 {
		s.logger.Info("evicted idle wizard sessions", "count", len(idle))
	}

	return len(idle)
}

// Len returns the number of live sessions.
func (s *Service) Len() int {
	s.mu.Lock()
	defer s.mu.Unlock()

	return len(s.sessions)
}

func (s *Service) apply(
	ctx context.Context,
	op, id string,
	cmd func(c *wizard.Controller) bool,
) (domain.WizardSnapshot, error) {
	e, err := s.lookup(id)
	if err != nil {
		return domain.WizardSnapshot{}, fmt.Errorf("%s:%w", op, err)
	}

	var snap domain.WizardSnapshot

	err = e.uow.Do(ctx, func(ctx context.Context, after func(uow.AfterCommit)) error {
		changed := false
		unsubscribe := e.session.Subscribe(func() { changed = true })
		ok := cmd(e.ctrl)
		unsubscribe()

		snap = e.session.Snapshot()

		if changed && s.publisher != nil {
			state := snap.State
			after(func(ctx context.Context) {
				if err := s.publisher.PublishWizardChanged(ctx, id, state); err != nil {
					s.logger.Warn("failed to publish wizard change", "session_id", id, "error", err)
				}
			})
		}

		if !ok {
			return ErrTransitionRejected
		}

		return nil
	})
	if err != nil {
		if errors.Is(err, ErrTransitionRejected) {
			return snap, fmt.Errorf("%s:%w", op, err)
		}

		return domain.WizardSnapshot{}, fmt.Errorf("%s:%w", op, err)
	}

	return snap, nil
}

func (s *Service) lookup(id string) (*entry, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	e, ok := s.sessions[id]
	if !ok {
		return nil, ErrSessionNotFound
	}

	e.lastUsed = s.clock.Now()

	return e, nil
}

func (s *Service) close(e *entry) {
	_ = e.uow.Do(context.Background(), func(ctx context.Context, after func(uow.AfterCommit)) error {
		for wid := range e.watchers {
			e.stopWatcher(wid)
		}
		return nil
	})
}

// stopWatcher must be called inside the entry's unit of work.
func (e *entry) stopWatcher(wid int) {
	w, ok := e.watchers[wid]
	if !ok {
		return
	}

	w.unsubscribe()
	close(w.ch)
	delete(e.watchers, wid)
}
