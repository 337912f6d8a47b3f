package domain

import (
	"time"
)

type WizardState string

const (
	StateInitial       WizardState = "initial"
	StateFlightEnquiry WizardState = "flight_enquiry"
	StateSeatEnquiry   WizardState = "seat_enquiry"
	StateReservation   WizardState = "reservation"
	StateConfirmation  WizardState = "confirmation"
)

func (s WizardState) String() string { return string(s) }

type Flight struct {
	ID             string    `json:"id"`
	Number         string    `json:"number"`
	Origin         string    `json:"origin"`
	Destination    string    `json:"destination"`
	Departure      time.Time `json:"departure"`
	SeatsAvailable int       `json:"seats_available"`
}

type SeatWithStatus struct {
	Label string `json:"label"`
	Taken bool   `json:"taken"`
}

// WizardSnapshot is a read-only copy of a wizard session, safe to hand to
// presentation code after the session lock is released.
type WizardSnapshot struct {
	State            WizardState `json:"state"`
	Flights          []Flight    `json:"flights"`
	Seats            []string    `json:"seats"`
	SelectedFlight   *Flight     `json:"selected_flight,omitempty"`
	SelectedSeat     string      `json:"selected_seat,omitempty"`
	ConfirmationCode string      `json:"confirmation_code,omitempty"`
	CanGoBack        bool        `json:"can_go_back"`
}
