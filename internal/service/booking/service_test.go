package booking

import (
	"context"
	"errors"
	"math/rand/v2"
	"regexp"
	"sync"
	"testing"
	"time"

	"github.com/kirinyoku/flight-wizard/internal/domain"
	redisrepo "github.com/kirinyoku/flight-wizard/internal/repository/redis"
	"github.com/kirinyoku/flight-wizard/internal/service/wizard"
)

type fakeClock struct {
	mu  sync.Mutex
	now time.Time
}

func (c *fakeClock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.now
}

func (c *fakeClock) Advance(d time.Duration) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.now = c.now.Add(d)
}

type published struct {
	sessionID string
	state     domain.WizardState
}

type fakePublisher struct {
	mu     sync.Mutex
	events []published
	err    error
}

func (p *fakePublisher) PublishWizardChanged(_ context.Context, sessionID string, state domain.WizardState) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.events = append(p.events, published{sessionID: sessionID, state: state})
	return p.err
}

type fakeLimiter struct {
	allow bool
	keys  []string
}

func (l *fakeLimiter) Allow(_ context.Context, id string) (redisrepo.RateDecision, error) {
	l.keys = append(l.keys, id)
	if l.allow {
		return redisrepo.RateDecision{Allowed: true, Current: 1}, nil
	}
	return redisrepo.RateDecision{Allowed: false, Current: 11, RetryAfter: 30 * time.Second}, nil
}

type fakeSeatCache struct {
	data  map[string][]domain.SeatWithStatus
	loads int
}

func (c *fakeSeatCache) SeatMap(
	ctx context.Context,
	flightNumber string,
	load func(ctx context.Context) ([]domain.SeatWithStatus, error),
) ([]domain.SeatWithStatus, error) {
	if v, ok := c.data[flightNumber]; ok {
		return v, nil
	}
	c.loads++
	v, err := load(ctx)
	if err != nil {
		return nil, err
	}
	c.data[flightNumber] = v
	return v, nil
}

var codeRe = regexp.MustCompile(`^FW\d{3}-[1-3][A-D]-\d{4}$`)

func newTestService(t *testing.T, deps Deps) (*Service, *fakeClock) {
	t.Helper()

	clk := &fakeClock{now: time.Date(2025, 1, 1, 12, 0, 0, 0, time.UTC)}
	deps.Clock = clk

	svc := New(deps, Config{
		IdleTTL:        10 * time.Minute,
		SessionOptions: []wizard.Option{wizard.WithRand(rand.New(rand.NewPCG(7, 7)))},
	})

	return svc, clk
}

func TestService_Flow(t *testing.T) {
	t.Parallel()

	ctx := context.Background()
	pub := &fakePublisher{}
	svc, _ := newTestService(t, Deps{Publisher: pub})

	id, err := svc.Create(ctx, "")
	if err != nil {
		t.Fatalf("expected no error, got %v", err)
	}

	snap, err := svc.Start(ctx, id)
	if err != nil {
		t.Fatalf("start: %v", err)
	}
	if snap.State != domain.StateFlightEnquiry || len(snap.Flights) != 3 {
		t.Fatalf("unexpected snapshot after start: %+v", snap)
	}

	if snap, err = svc.PickFlight(ctx, id, snap.Flights[1].ID); err != nil {
		t.Fatalf("pick flight: %v", err)
	}
	if snap.SelectedFlight == nil || snap.SelectedFlight.Number != "FW202" {
		t.Fatalf("expected FW202 selected, got %+v", snap.SelectedFlight)
	}

	if _, err = svc.PickSeat(ctx, id, "2A"); err != nil {
		t.Fatalf("pick seat: %v", err)
	}

	snap, err = svc.Confirm(ctx, id)
	if err != nil {
		t.Fatalf("confirm: %v", err)
	}
	if !codeRe.MatchString(snap.ConfirmationCode) {
		t.Fatalf("unexpected confirmation code %q", snap.ConfirmationCode)
	}

	snap, err = svc.Finish(ctx, id)
	if err != nil {
		t.Fatalf("finish: %v", err)
	}
	if snap.State != domain.StateInitial || snap.SelectedFlight != nil {
		t.Fatalf("expected pristine session, got %+v", snap)
	}

	want := []domain.WizardState{
		domain.StateFlightEnquiry,
		domain.StateSeatEnquiry,
		domain.StateReservation,
		domain.StateConfirmation,
		domain.StateInitial,
	}
	if len(pub.events) != len(want) {
		t.Fatalf("expected %d events, got %d", len(want), len(pub.events))
	}
	for i, ev := range pub.events {
		if ev.sessionID != id || ev.state != want[i] {
			t.Fatalf("event %d: expected %s/%s, got %+v", i, id, want[i], ev)
		}
	}
}

func TestService_Rejections(t *testing.T) {
	t.Parallel()

	ctx := context.Background()
	pub := &fakePublisher{}
	svc, _ := newTestService(t, Deps{Publisher: pub})

	t.Run("unknown session", func(t *testing.T) {
		if _, err := svc.Start(ctx, "missing"); !errors.Is(err, ErrSessionNotFound) {
			t.Fatalf("expected ErrSessionNotFound, got %v", err)
		}
		if err := svc.Delete(ctx, "missing"); !errors.Is(err, ErrSessionNotFound) {
			t.Fatalf("expected ErrSessionNotFound, got %v", err)
		}
	})

	t.Run("wrong state", func(t *testing.T) {
		id, _ := svc.Create(ctx, "")
		before := len(pub.events)

		snap, err := svc.PickSeat(ctx, id, "1A")
		if !errors.Is(err, ErrTransitionRejected) {
			t.Fatalf("expected ErrTransitionRejected, got %v", err)
		}
		if snap.State != domain.StateInitial {
			t.Fatalf("expected snapshot of unchanged session, got %s", snap.State)
		}
		if len(pub.events) != before {
			t.Fatalf("expected nothing published for a rejected op")
		}
	})

	t.Run("no-op back publishes nothing", func(t *testing.T) {
		id, _ := svc.Create(ctx, "")
		before := len(pub.events)

		if _, err := svc.Back(ctx, id); err != nil {
			t.Fatalf("expected no error, got %v", err)
		}
		if len(pub.events) != before {
			t.Fatalf("expected nothing published")
		}
	})

	t.Run("publish failures do not fail the op", func(t *testing.T) {
		failing := &fakePublisher{err: errors.New("redis down")}
		svc2, _ := newTestService(t, Deps{Publisher: failing})
		id, _ := svc2.Create(ctx, "")

		if _, err := svc2.Start(ctx, id); err != nil {
			t.Fatalf("expected no error, got %v", err)
		}
	})
}

func TestService_RateLimit(t *testing.T) {
	t.Parallel()

	ctx := context.Background()

	lim := &fakeLimiter{allow: false}
	svc, _ := newTestService(t, Deps{Limiter: lim})

	_, err := svc.Create(ctx, "ip:1.2.3.4")
	if !errors.Is(err, ErrRateLimited) {
		t.Fatalf("expected ErrRateLimited, got %v", err)
	}
	var rl RateLimitedError
	if !errors.As(err, &rl) || rl.RetryAfter != 30*time.Second {
		t.Fatalf("expected retry after 30s, got %v", err)
	}
	if svc.Len() != 0 {
		t.Fatalf("expected no session created")
	}

	if _, err := svc.Create(ctx, ""); err != nil {
		t.Fatalf("expected empty key to bypass limiter, got %v", err)
	}
	if len(lim.keys) != 1 {
		t.Fatalf("expected limiter hit once, got %d", len(lim.keys))
	}
}

func TestService_SeatMap(t *testing.T) {
	t.Parallel()

	ctx := context.Background()
	cache := &fakeSeatCache{data: make(map[string][]domain.SeatWithStatus)}
	svc, _ := newTestService(t, Deps{SeatMaps: cache})

	id, _ := svc.Create(ctx, "")
	if _, err := svc.SeatMap(ctx, id); !errors.Is(err, ErrNoFlightSelected) {
		t.Fatalf("expected ErrNoFlightSelected, got %v", err)
	}

	snap, _ := svc.Start(ctx, id)
	if _, err := svc.PickFlight(ctx, id, snap.Flights[0].ID); err != nil {
		t.Fatalf("pick flight: %v", err)
	}

	seats, err := svc.SeatMap(ctx, id)
	if err != nil {
		t.Fatalf("expected no error, got %v", err)
	}
	if len(seats) != 12 {
		t.Fatalf("expected 12 seats, got %d", len(seats))
	}

	// the rendered map must agree with the session's own view
	e, _ := svc.lookup(id)
	taken := 0
	for _, seat := range seats {
		if seat.Taken != e.session.IsSeatTaken(seat.Label) {
			t.Fatalf("seat %s: taken=%v disagrees with session", seat.Label, seat.Taken)
		}
		if seat.Taken {
			taken++
		}
	}
	if taken != 2 {
		t.Fatalf("expected 2 taken seats, got %d", taken)
	}

	if _, err := svc.SeatMap(ctx, id); err != nil {
		t.Fatalf("expected no error, got %v", err)
	}
	if cache.loads != 1 {
		t.Fatalf("expected one load, got %d", cache.loads)
	}
}

func TestService_Watch(t *testing.T) {
	t.Parallel()

	ctx := context.Background()
	svc, _ := newTestService(t, Deps{})
	id, _ := svc.Create(ctx, "")

	ch, cancel, err := svc.Watch(ctx, id)
	if err != nil {
		t.Fatalf("expected no error, got %v", err)
	}

	snap, _ := svc.Start(ctx, id)
	svc.PickFlight(ctx, id, snap.Flights[0].ID)
	svc.Back(ctx, id)

	want := []domain.WizardState{domain.StateFlightEnquiry, domain.StateSeatEnquiry, domain.StateFlightEnquiry}
	for _, w := range want {
		select {
		case got := <-ch:
			if got != w {
				t.Fatalf("expected %s, got %s", w, got)
			}
		default:
			t.Fatalf("expected %s on the channel", w)
		}
	}

	cancel()
	cancel()
	if _, ok := <-ch; ok {
		t.Fatalf("expected channel closed")
	}

	t.Run("closed on delete", func(t *testing.T) {
		ch, _, err := svc.Watch(ctx, id)
		if err != nil {
			t.Fatalf("expected no error, got %v", err)
		}
		if err := svc.Delete(ctx, id); err != nil {
			t.Fatalf("delete: %v", err)
		}
		if _, ok := <-ch; ok {
			t.Fatalf("expected channel closed")
		}
	})
}

func TestService_EvictIdle(t *testing.T) {
	t.Parallel()

	ctx := context.Background()
	svc, clk := newTestService(t, Deps{})

	stale, _ := svc.Create(ctx, "")
	clk.Advance(6 * time.Minute)
	fresh, _ := svc.Create(ctx, "")
	clk.Advance(6 * time.Minute)

	if n := svc.EvictIdle(ctx); n != 1 {
		t.Fatalf("expected 1 eviction, got %d", n)
	}
	if _, err := svc.Get(ctx, stale); !errors.Is(err, ErrSessionNotFound) {
		t.Fatalf("expected stale session gone, got %v", err)
	}
	if _, err := svc.Get(ctx, fresh); err != nil {
		t.Fatalf("expected fresh session kept, got %v", err)
	}
}

func TestRenderSeatMap(t *testing.T) {
	t.Parallel()

	a := RenderSeatMap("FW101")
	b := RenderSeatMap("FW101")
	for i := range a {
		if a[i] != b[i] {
			t.Fatalf("expected deterministic render, seat %d differs", i)
		}
	}
}
