package wizard

import (
	"fmt"
	"io"
	"log/slog"
	"math/rand/v2"
	"slices"

	"github.com/kirinyoku/flight-wizard/internal/clock"
	"github.com/kirinyoku/flight-wizard/internal/domain"
)

const (
	codeSuffixMin = 1000
	codeSuffixMax = 9999
)

// Session is the booking wizard model. It owns the current step, the loaded
// demo data and the user's selections, and notifies subscribers after every
// accepted mutation.
//
// A Session is not safe for concurrent use. Subscribers are called inline
// and must not call back into the session.
type Session struct {
	clock  clock.Clock
	rng    *rand.Rand
	newID  func() string
	logger *slog.Logger

	state   domain.WizardState
	history []domain.WizardState

	flights []domain.Flight
	seats   []string

	selectedFlight   *domain.Flight
	selectedSeat     string
	confirmationCode string

	// flight ID -> taken seat labels; survives Reset.
	reserved map[string]map[string]struct{}

	observers []observer
	nextObsID int
}

type observer struct {
	id int
	fn func()
}

type Option func(*Session)

func WithClock(c clock.Clock) Option {
	return func(s *Session) { s.clock = c }
}

// WithRand sets the source of confirmation code suffixes.
func WithRand(r *rand.Rand) Option {
	return func(s *Session) { s.rng = r }
}

func WithIDGenerator(fn func() string) Option {
	return func(s *Session) { s.newID = fn }
}

func WithLogger(l *slog.Logger) Option {
	return func(s *Session) { s.logger = l }
}

func NewSession(opts ...Option) *Session {
	s := &Session{
		clock:    clock.NewSystem(),
		newID:    newFlightID,
		logger:   slog.New(slog.NewTextHandler(io.Discard, nil)),
		state:    domain.StateInitial,
		reserved: make(map[string]map[string]struct{}),
	}

	for _, opt := range opts {
		opt(s)
	}

	if s.rng == nil {
		s.rng = rand.New(rand.NewPCG(rand.Uint64(), rand.Uint64()))
	}

	return s
}

// Subscribe registers fn to be called after every accepted mutation. The
// returned func removes the registration.
func (s *Session) Subscribe(fn func()) (unsubscribe func()) {
	s.nextObsID++
	id := s.nextObsID
	s.observers = append(s.observers, observer{id: id, fn: fn})

	return func() {
		s.observers = slices.DeleteFunc(s.observers, func(o observer) bool {
			return o.id == id
		})
	}
}

func (s *Session) notify() {
	for _, o := range slices.Clone(s.observers) {
		o.fn()
	}
}

// Start loads the flight catalog and moves to FlightEnquiry. Ignored
// outside Initial.
func (s *Session) Start() {
	if s.state != domain.StateInitial {
		return
	}

	s.flights = demoFlights(s.clock.Now(), s.newID)
	s.advance(domain.StateFlightEnquiry)
}

// PickFlight selects a flight from the loaded catalog and loads its seat
// map.
func (s *Session) PickFlight(flightID string) bool {
	if s.state != domain.StateFlightEnquiry {
		return false
	}

	idx := slices.IndexFunc(s.flights, func(f domain.Flight) bool {
		return f.ID == flightID
	})
	if idx < 0 {
		return false
	}

	s.selectedFlight = &s.flights[idx]
	s.loadSeats(*s.selectedFlight)
	s.advance(domain.StateSeatEnquiry)

	return true
}

// PickSeat selects a seat of the current flight. Seats reported by
// IsSeatTaken are accepted too; availability is left to the caller.
func (s *Session) PickSeat(label string) bool {
	if s.state != domain.StateSeatEnquiry {
		return false
	}

	if !slices.Contains(s.seats, label) {
		return false
	}

	s.selectedSeat = label
	s.advance(domain.StateReservation)

	return true
}

// Confirm issues a confirmation code of the form NUMBER-SEAT-NNNN.
func (s *Session) Confirm() bool {
	if s.state != domain.StateReservation {
		return false
	}

	if s.selectedFlight == nil || s.selectedSeat == "" {
		return false
	}

	suffix := codeSuffixMin + s.rng.IntN(codeSuffixMax-codeSuffixMin+1)
	s.confirmationCode = fmt.Sprintf("%s-%s-%d", s.selectedFlight.Number, s.selectedSeat, suffix)
	s.advance(domain.StateConfirmation)

	return true
}

// Finish resets a confirmed session. Ignored outside Confirmation.
func (s *Session) Finish() {
	if s.state != domain.StateConfirmation {
		return
	}

	s.reset()
	s.notify()
}

// Back returns to the previous step. Selections are left as they are.
func (s *Session) Back() {
	if len(s.history) == 0 {
		return
	}

	from := s.state
	last := len(s.history) - 1
	s.state = s.history[last]
	s.history = s.history[:last]

	s.logger.Debug("wizard back", "from", from, "to", s.state)
	s.notify()
}

// Reset returns the session to Initial and drops everything loaded or
// selected. Taken-seat data is kept.
func (s *Session) Reset() {
	s.reset()
	s.notify()
}

func (s *Session) reset() {
	s.logger.Debug("wizard reset", "from", s.state)

	s.history = nil
	s.state = domain.StateInitial
	s.flights = nil
	s.seats = nil
	s.selectedFlight = nil
	s.selectedSeat = ""
	s.confirmationCode = ""
}

// IsSeatTaken reports whether label is taken on the selected flight.
func (s *Session) IsSeatTaken(label string) bool {
	if s.selectedFlight == nil {
		return false
	}

	taken, ok := s.reserved[s.selectedFlight.ID]
	if !ok {
		return false
	}

	_, ok = taken[label]
	return ok
}

func (s *Session) State() domain.WizardState { return s.state }

func (s *Session) Flights() []domain.Flight { return slices.Clone(s.flights) }

func (s *Session) Seats() []string { return slices.Clone(s.seats) }

func (s *Session) SelectedFlight() (domain.Flight, bool) {
	if s.selectedFlight == nil {
		return domain.Flight{}, false
	}
	return *s.selectedFlight, true
}

func (s *Session) SelectedSeat() (string, bool) {
	return s.selectedSeat, s.selectedSeat != ""
}

func (s *Session) ConfirmationCode() (string, bool) {
	return s.confirmationCode, s.confirmationCode != ""
}

func (s *Session) CanGoBack() bool { return len(s.history) > 0 }

func (s *Session) Snapshot() domain.WizardSnapshot {
	snap := domain.WizardSnapshot{
		State:            s.state,
		Flights:          s.Flights(),
		Seats:            s.Seats(),
		SelectedSeat:     s.selectedSeat,
		ConfirmationCode: s.confirmationCode,
		CanGoBack:        s.CanGoBack(),
	}

	if f, ok := s.SelectedFlight(); ok {
		snap.SelectedFlight = &f
	}

	return snap
}

func (s *Session) advance(to domain.WizardState) {
	s.logger.Debug("wizard transition", "from", s.state, "to", to)

	s.history = append(s.history, s.state)
	s.state = to
	s.notify()
}

// loadSeats regenerates the seat list and, on first sight of the flight ID,
// its taken seats.
func (s *Session) loadSeats(f domain.Flight) {
	s.seats = SeatMap()

	if _, ok := s.reserved[f.ID]; ok {
		return
	}

	taken := make(map[string]struct{}, takenSeatDraws)
	for _, label := range TakenSeats(f.Number, s.seats) {
		taken[label] = struct{}{}
	}
	s.reserved[f.ID] = taken
}
