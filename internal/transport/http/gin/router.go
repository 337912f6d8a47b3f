package httpgin

import (
	"context"
	"encoding/json"
	"errors"
	"io"
	"log/slog"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/kirinyoku/flight-wizard/internal/domain"
	redisrepo "github.com/kirinyoku/flight-wizard/internal/repository/redis"
	"github.com/kirinyoku/flight-wizard/internal/service"
	"github.com/kirinyoku/flight-wizard/internal/service/booking"
	swaggerFiles "github.com/swaggo/files"
	ginSwagger "github.com/swaggo/gin-swagger"
)

func NewRouter(
	svcs *service.Services,
	idem *redisrepo.IdempotencyStore,
	logger *slog.Logger,
	middlewares ...gin.HandlerFunc,
) *gin.Engine {
	r := gin.New()

	r.Use(gin.Recovery(), RequestIDMiddleware(), LoggingMiddleware(logger), CORS())
	for _, m := range middlewares {
		if m != nil {
			r.Use(m)
		}
	}

	r.GET("/swagger/*any", ginSwagger.WrapHandler(swaggerFiles.Handler))

	r.GET("/healthz", func(c *gin.Context) {
		c.JSON(http.StatusOK, gin.H{"status": "ok"})
	})

	r.POST("/wizards", handleCreateSession(svcs, idem))

	w := r.Group("/wizards/:id")
	{
		w.GET("", handleGetSession(svcs))
		w.DELETE("", handleDeleteSession(svcs))
		w.GET("/seats", handleSeatMap(svcs))
		w.GET("/events", handleWatch(svcs))

		w.POST("/start", handleStep(svcs.Booking.Start))
		w.POST("/flight", handlePickFlight(svcs))
		w.POST("/seat", handlePickSeat(svcs))
		w.POST("/confirm", handleStep(svcs.Booking.Confirm))
		w.POST("/finish", handleStep(svcs.Booking.Finish))
		w.POST("/back", handleStep(svcs.Booking.Back))
	}

	return r
}

// @Summary  Create wizard session (idempotent)
// @Header   201 {string} Idempotency-Key "echo"
// @Success  201 {object} CreateSessionResponse
// @Failure  409 {object} ErrorResponse "idempotency key in progress"
// @Failure  429 {object} ErrorResponse "rate limited"
// @Router   /wizards [post]
func handleCreateSession(
	svcs *service.Services,
	idem *redisrepo.IdempotencyStore,
) gin.HandlerFunc {
	return func(c *gin.Context) {
		ctx := c.Request.Context()

		idemKey := strings.TrimSpace(c.GetHeader("Idempotency-Key"))
		var idemStorageKey string
		if idem != nil && idemKey != "" {
			idemStorageKey = redisrepo.KeyIdemSession(idemKey)

			if payload, ok, _ := idem.GetResult(ctx, idemStorageKey); ok {
				replayCreated(c, idemKey, payload)
				return
			}

			locked, err := idem.AcquireLock(ctx, idemStorageKey, 60*time.Second)
			if err != nil {
				respondErr(c, err)
				return
			}
			if !locked {
				if payload, ok, _ := idem.GetResult(ctx, idemStorageKey); ok {
					replayCreated(c, idemKey, payload)
					return
				}
				c.Header("Retry-After", "1")
				c.JSON(http.StatusConflict, ErrorResponse{Error: "idempotency key in progress"})
				return
			}
		}

		id, err := svcs.Booking.Create(ctx, "ip:"+c.ClientIP())
		if err != nil {
			if idemStorageKey != "" {
				_ = idem.Release(ctx, idemStorageKey)
			}
			respondErr(c, err)
			return
		}

		resp := CreateSessionResponse{SessionID: id}

		if idemStorageKey != "" {
			b, _ := json.Marshal(resp)
			_ = idem.SaveResult(ctx, idemStorageKey, string(b))
			c.Header("Idempotency-Key", idemKey)
		}

		c.JSON(http.StatusCreated, resp)
	}
}

// @Summary  Get wizard snapshot
// @Param    id  path  string  true  "Session ID"
// @Success  200  {object}  domain.WizardSnapshot
// @Failure  404  {object}  ErrorResponse
// @Router   /wizards/{id} [get]
func handleGetSession(svcs *service.Services) gin.HandlerFunc {
	return func(c *gin.Context) {
		snap, err := svcs.Booking.Get(c.Request.Context(), c.Param("id"))
		if err != nil {
			respondErr(c, err)
			return
		}
		writeJSONWithETag(c, http.StatusOK, snap)
	}
}

// @Summary  Delete wizard session
// @Param    id  path  string  true  "Session ID"
// @Success  204
// @Failure  404  {object}  ErrorResponse
// @Router   /wizards/{id} [delete]
func handleDeleteSession(svcs *service.Services) gin.HandlerFunc {
	return func(c *gin.Context) {
		if err := svcs.Booking.Delete(c.Request.Context(), c.Param("id")); err != nil {
			respondErr(c, err)
			return
		}
		c.Status(http.StatusNoContent)
	}
}

// @Summary  Seat map of the selected flight
// @Param    id  path  string  true  "Session ID"
// @Success  200  {array}   domain.SeatWithStatus
// @Failure  409  {object}  ErrorResponse "no flight selected"
// @Router   /wizards/{id}/seats [get]
func handleSeatMap(svcs *service.Services) gin.HandlerFunc {
	return func(c *gin.Context) {
		seats, err := svcs.Booking.SeatMap(c.Request.Context(), c.Param("id"))
		if err != nil {
			respondErr(c, err)
			return
		}
		writeJSONWithETag(c, http.StatusOK, seats)
	}
}

// @Summary  Stream wizard state changes (server-sent events)
// @Param    id  path  string  true  "Session ID"
// @Produce  text/event-stream
// @Success  200 {string} string "event: state"
// @Router   /wizards/{id}/events [get]
func handleWatch(svcs *service.Services) gin.HandlerFunc {
	return func(c *gin.Context) {
		ctx := c.Request.Context()
		id := c.Param("id")

		snap, err := svcs.Booking.Get(ctx, id)
		if err != nil {
			respondErr(c, err)
			return
		}

		states, cancel, err := svcs.Booking.Watch(ctx, id)
		if err != nil {
			respondErr(c, err)
			return
		}
		defer cancel()

		c.SSEvent("state", snap.State)
		c.Stream(func(w io.Writer) bool {
			select {
			case <-ctx.Done():
				return false
			case st, ok := <-states:
				if !ok {
					return false
				}
				c.SSEvent("state", st)
				return true
			}
		})
	}
}

type stepFunc func(ctx context.Context, id string) (domain.WizardSnapshot, error)

// @Summary  Start, confirm, finish or go back
// @Param    id  path  string  true  "Session ID"
// @Success  200 {object} domain.WizardSnapshot
// @Failure  409 {object} RejectedResponse
// @Router   /wizards/{id}/start [post]
// @Router   /wizards/{id}/confirm [post]
// @Router   /wizards/{id}/finish [post]
// @Router   /wizards/{id}/back [post]
func handleStep(step stepFunc) gin.HandlerFunc {
	return func(c *gin.Context) {
		snap, err := step(c.Request.Context(), c.Param("id"))
		respondStep(c, snap, err)
	}
}

// @Summary  Pick a flight from the catalog
// @Param    id  path  string  true  "Session ID"
// @Param    req body  PickFlightRequest true "payload"
// @Success  200 {object} domain.WizardSnapshot
// @Failure  409 {object} RejectedResponse
// @Router   /wizards/{id}/flight [post]
func handlePickFlight(svcs *service.Services) gin.HandlerFunc {
	return func(c *gin.Context) {
		var req PickFlightRequest
		if err := c.ShouldBindJSON(&req); err != nil {
			badRequest(c, err.Error())
			return
		}
		snap, err := svcs.Booking.PickFlight(c.Request.Context(), c.Param("id"), req.FlightID)
		respondStep(c, snap, err)
	}
}

// @Summary  Pick a seat on the selected flight
// @Param    id  path  string  true  "Session ID"
// @Param    req body  PickSeatRequest true "payload"
// @Success  200 {object} domain.WizardSnapshot
// @Failure  409 {object} RejectedResponse
// @Router   /wizards/{id}/seat [post]
func handlePickSeat(svcs *service.Services) gin.HandlerFunc {
	return func(c *gin.Context) {
		var req PickSeatRequest
		if err := c.ShouldBindJSON(&req); err != nil {
			badRequest(c, err.Error())
			return
		}
		snap, err := svcs.Booking.PickSeat(c.Request.Context(), c.Param("id"), req.Seat)
		respondStep(c, snap, err)
	}
}

// --- Helpers ---

func replayCreated(c *gin.Context, idemKey, payload string) {
	c.Header("Idempotency-Key", idemKey)
	c.Data(http.StatusCreated, "application/json; charset=utf-8", []byte(payload))
}

func respondStep(c *gin.Context, snap domain.WizardSnapshot, err error) {
	if err == nil {
		c.JSON(http.StatusOK, snap)
		return
	}

	if errors.Is(err, booking.ErrTransitionRejected) {
		c.JSON(http.StatusConflict, RejectedResponse{Error: "transition rejected", Wizard: snap})
		return
	}

	respondErr(c, err)
}

func badRequest(c *gin.Context, msg string) {
	c.JSON(http.StatusBadRequest, ErrorResponse{Error: msg})
}

func respondErr(c *gin.Context, err error) {
	var rl booking.RateLimitedError

	switch {
	case errors.As(err, &rl):
		c.Header("Retry-After", strconv.Itoa(int(rl.RetryAfter.Round(time.Second).Seconds())))
		c.JSON(http.StatusTooManyRequests, ErrorResponse{Error: "rate limited"})
	case errors.Is(err, booking.ErrSessionNotFound):
		c.JSON(http.StatusNotFound, ErrorResponse{Error: "wizard session not found"})
	case errors.Is(err, booking.ErrTransitionRejected):
		c.JSON(http.StatusConflict, ErrorResponse{Error: "transition rejected"})
	case errors.Is(err, booking.ErrNoFlightSelected):
		c.JSON(http.StatusConflict, ErrorResponse{Error: "no flight selected"})
	default:
		_ = c.Error(err)
		c.JSON(http.StatusInternalServerError, ErrorResponse{Error: "internal error"})
	}
}
