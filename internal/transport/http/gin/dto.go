package httpgin

import "github.com/kirinyoku/flight-wizard/internal/domain"

type PickFlightRequest struct {
	FlightID string `json:"flight_id" binding:"required"`
}

type PickSeatRequest struct {
	Seat string `json:"seat" binding:"required"`
}

type ErrorResponse struct {
	Error string `json:"error"`
}

// RejectedResponse is returned with 409 when the wizard refuses a step. It
// carries the unchanged session so the client can re-render.
type RejectedResponse struct {
	Error  string                `json:"error"`
	Wizard domain.WizardSnapshot `json:"wizard"`
}

type CreateSessionResponse struct {
	SessionID string `json:"session_id"`
}
