package wizard

import (
	"math/rand/v2"
	"strconv"
	"time"

	"github.com/google/uuid"
	"github.com/kirinyoku/flight-wizard/internal/domain"
)

const (
	seatRows       = 3
	seatColumns    = "ABCD"
	takenSeatDraws = 2
)

type flightTemplate struct {
	number         string
	origin         string
	destination    string
	offset         time.Duration
	seatsAvailable int
}

var catalog = []flightTemplate{
	{number: "FW101", origin: "LHR", destination: "JFK", offset: 3 * time.Hour, seatsAvailable: 9},
	{number: "FW202", origin: "CDG", destination: "FCO", offset: 5 * time.Hour, seatsAvailable: 6},
	{number: "FW303", origin: "AMS", destination: "BCN", offset: 7 * time.Hour, seatsAvailable: 4},
}

// demoFlights builds a fresh catalog. IDs are new on every call.
func demoFlights(now time.Time, newID func() string) []domain.Flight {
	base := now.UTC().Add(24 * time.Hour)

	flights := make([]domain.Flight, 0, len(catalog))
	for _, t := range catalog {
		flights = append(flights, domain.Flight{
			ID:             newID(),
			Number:         t.number,
			Origin:         t.origin,
			Destination:    t.destination,
			Departure:      base.Add(t.offset),
			SeatsAvailable: t.seatsAvailable,
		})
	}

	return flights
}

// SeatMap returns the fixed seat labels, row-major: 1A..1D, 2A..2D, 3A..3D.
func SeatMap() []string {
	seats := make([]string, 0, seatRows*len(seatColumns))
	for row := 1; row <= seatRows; row++ {
		for _, col := range seatColumns {
			seats = append(seats, strconv.Itoa(row)+string(col))
		}
	}

	return seats
}

// flightSeed hashes a flight number: start at 19, then seed*31 + c per byte,
// wrapping at 32 bits.
func flightSeed(number string) int32 {
	var seed int32 = 19
	for i := 0; i < len(number); i++ {
		seed = seed*31 + int32(number[i])
	}

	return seed
}

// TakenSeats draws up to two seats without replacement from seats using a
// generator seeded by the flight number. Same number, same result.
func TakenSeats(number string, seats []string) []string {
	seed := uint64(uint32(flightSeed(number)))
	rng := rand.New(rand.NewPCG(seed, seed))

	pool := append([]string(nil), seats...)
	n := min(takenSeatDraws, len(pool))

	taken := make([]string, 0, n)
	for range n {
		i := rng.IntN(len(pool))
		taken = append(taken, pool[i])
		pool = append(pool[:i], pool[i+1:]...)
	}

	return taken
}

func newFlightID() string {
	return uuid.NewString()
}
