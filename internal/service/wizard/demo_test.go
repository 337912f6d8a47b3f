package wizard

import (
	"slices"
	"testing"
)

func TestSeatMap(t *testing.T) {
	t.Parallel()

	want := []string{"1A", "1B", "1C", "1D", "2A", "2B", "2C", "2D", "3A", "3B", "3C", "3D"}
	if got := SeatMap(); !slices.Equal(got, want) {
		t.Fatalf("expected %v, got %v", want, got)
	}
}

func TestFlightSeed(t *testing.T) {
	t.Parallel()

	// 19*31 + 'A' = 654; 654*31 + 'B' = 20340
	if got := flightSeed("AB"); got != 20340 {
		t.Fatalf("expected 20340, got %d", got)
	}
	if got := flightSeed(""); got != 19 {
		t.Fatalf("expected 19, got %d", got)
	}
}

func TestTakenSeats(t *testing.T) {
	t.Parallel()

	seats := SeatMap()

	t.Run("deterministic per flight number", func(t *testing.T) {
		for _, tpl := range catalog {
			a := TakenSeats(tpl.number, seats)
			b := TakenSeats(tpl.number, seats)
			if !slices.Equal(a, b) {
				t.Fatalf("%s: expected same draw, got %v and %v", tpl.number, a, b)
			}
		}
	})

	t.Run("two distinct seats from the map", func(t *testing.T) {
		got := TakenSeats("FW202", seats)
		if len(got) != 2 {
			t.Fatalf("expected 2 seats, got %v", got)
		}
		if got[0] == got[1] {
			t.Fatalf("expected distinct seats, got %v", got)
		}
		for _, label := range got {
			if !slices.Contains(seats, label) {
				t.Fatalf("unexpected seat %q", label)
			}
		}
	})

	t.Run("small pools", func(t *testing.T) {
		if got := TakenSeats("FW303", []string{"1A"}); !slices.Equal(got, []string{"1A"}) {
			t.Fatalf("expected [1A], got %v", got)
		}
		if got := TakenSeats("FW303", nil); len(got) != 0 {
			t.Fatalf("expected no seats, got %v", got)
		}
	})

	t.Run("input is not modified", func(t *testing.T) {
		in := SeatMap()
		_ = TakenSeats("FW101", in)
		if !slices.Equal(in, SeatMap()) {
			t.Fatalf("expected input untouched, got %v", in)
		}
	})
}
