package service

import (
	"github.com/kirinyoku/flight-wizard/internal/service/booking"
)

type Services struct {
	Booking *booking.Service
}

type Config struct {
	Booking booking.Config
}

func NewServices(deps booking.Deps, cfg Config) *Services {
	return &Services{
		Booking: booking.New(deps, cfg.Booking),
	}
}
