package http

import (
	"context"
	"encoding/json"
	"net/http"
	"strconv"
	"time"

	"github.com/cockroachdb/errors"
	"github.com/go-chi/chi/v5"
	"github.com/google/uuid"
	"github.com/robertarktes/seat-inventory/internal/domain"
	"github.com/robertarktes/seat-inventory/internal/inventory"
	"github.com/robertarktes/seat-inventory/internal/observability"
)

// ReadinessCheck reports whether a dependency can serve traffic.
type ReadinessCheck func(ctx context.Context) error

type Handlers struct {
	coord  *inventory.Coordinator
	holds  *inventory.HoldManager
	logger observability.Logger
	checks map[string]ReadinessCheck
}

func NewHandlers(coord *inventory.Coordinator, logger observability.Logger, checks map[string]ReadinessCheck) *Handlers {
	return &Handlers{
		coord:  coord,
		holds:  coord.Holds(),
		logger: logger,
		checks: checks,
	}
}

type reservationResponse struct {
	ReservationID uuid.UUID                `json:"reservation_id"`
	BuyerID       int64                    `json:"buyer_id"`
	GameID        int64                    `json:"game_id"`
	SeatIDs       []int64                  `json:"seat_ids"`
	Status        domain.ReservationStatus `json:"status"`
	CreatedAt     time.Time                `json:"created_at"`
}

func toReservationResponse(r domain.Reservation) reservationResponse {
	return reservationResponse{
		ReservationID: r.ID,
		BuyerID:       r.BuyerID,
		GameID:        r.GameID,
		SeatIDs:       r.SeatIDs,
		Status:        r.Status,
		CreatedAt:     r.CreatedAt,
	}
}

type seatResponse struct {
	SeatID        int64             `json:"seat_id"`
	GameID        int64             `json:"game_id"`
	GradeID       int64             `json:"grade_id"`
	Label         string            `json:"label"`
	Status        domain.SeatStatus `json:"status"`
	Version       int64             `json:"version"`
	HoldExpiresAt *time.Time        `json:"hold_expires_at,omitempty"`
}

func (h *Handlers) CreateReservation(w http.ResponseWriter, r *http.Request) {
	buyerID, ok := BuyerFrom(r.Context())
	if !ok {
		writeJSONError(w, http.StatusUnauthorized, "unauthenticated")
		return
	}
	var req struct {
		GameID  int64   `json:"game_id"`
		SeatIDs []int64 `json:"seat_ids"`
	}
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeJSONError(w, http.StatusBadRequest, "malformed body")
		return
	}

	res, err := h.coord.CreateReservation(r.Context(), buyerID, req.GameID, req.SeatIDs)
	if err != nil {
		h.writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusCreated, toReservationResponse(res))
}

func (h *Handlers) CancelReservation(w http.ResponseWriter, r *http.Request) {
	buyerID, ok := BuyerFrom(r.Context())
	if !ok {
		writeJSONError(w, http.StatusUnauthorized, "unauthenticated")
		return
	}
	id, err := uuid.Parse(chi.URLParam(r, "id"))
	if err != nil {
		writeJSONError(w, http.StatusBadRequest, "invalid id")
		return
	}

	res, err := h.coord.CancelReservation(r.Context(), id, buyerID)
	if err != nil {
		h.writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, toReservationResponse(res))
}

func (h *Handlers) HoldSeat(w http.ResponseWriter, r *http.Request) {
	h.acquire(w, r, h.holds.TryHold)
}

func (h *Handlers) SelectSeat(w http.ResponseWriter, r *http.Request) {
	h.acquire(w, r, h.holds.TrySelect)
}

func (h *Handlers) acquire(w http.ResponseWriter, r *http.Request, try func(ctx context.Context, seatID, buyerID int64) (inventory.HoldResult, error)) {
	buyerID, ok := BuyerFrom(r.Context())
	if !ok {
		writeJSONError(w, http.StatusUnauthorized, "unauthenticated")
		return
	}
	seatID, err := strconv.ParseInt(chi.URLParam(r, "id"), 10, 64)
	if err != nil || seatID <= 0 {
		writeJSONError(w, http.StatusBadRequest, "invalid seat id")
		return
	}

	res, err := try(r.Context(), seatID, buyerID)
	if err != nil {
		h.writeError(w, r, err)
		return
	}
	if !res.Acquired() {
		writeJSON(w, http.StatusConflict, map[string]string{"outcome": res.Outcome.String()})
		return
	}
	writeJSON(w, http.StatusCreated, res.Token)
}

// ReleaseHold takes the hold token returned by HoldSeat. Releasing a hold
// that is already gone succeeds.
func (h *Handlers) ReleaseHold(w http.ResponseWriter, r *http.Request) {
	buyerID, ok := BuyerFrom(r.Context())
	if !ok {
		writeJSONError(w, http.StatusUnauthorized, "unauthenticated")
		return
	}
	var token domain.HoldToken
	if err := json.NewDecoder(r.Body).Decode(&token); err != nil || token.SeatID <= 0 {
		writeJSONError(w, http.StatusBadRequest, "malformed hold token")
		return
	}
	if token.BuyerID != buyerID {
		writeJSONError(w, http.StatusForbidden, "hold belongs to another buyer")
		return
	}

	if err := h.coord.ReleaseHold(r.Context(), token); err != nil {
		h.writeError(w, r, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

func (h *Handlers) GetSeat(w http.ResponseWriter, r *http.Request) {
	seatID, err := strconv.ParseInt(chi.URLParam(r, "id"), 10, 64)
	if err != nil || seatID <= 0 {
		writeJSONError(w, http.StatusBadRequest, "invalid seat id")
		return
	}
	seat, err := h.coord.GetSeat(r.Context(), seatID)
	if err != nil {
		h.writeError(w, r, err)
		return
	}
	resp := seatResponse{
		SeatID:  seat.ID,
		GameID:  seat.GameID,
		GradeID: seat.GradeID,
		Label:   seat.Label,
		Status:  seat.Status,
		Version: seat.Version,
	}
	if seat.Status == domain.SeatHeld {
		resp.HoldExpiresAt = &seat.HoldExpiresAt
	}
	writeJSON(w, http.StatusOK, resp)
}

func (h *Handlers) Healthz(w http.ResponseWriter, r *http.Request) {
	w.WriteHeader(http.StatusOK)
	w.Write([]byte("OK"))
}

func (h *Handlers) Readyz(w http.ResponseWriter, r *http.Request) {
	ctx, cancel := context.WithTimeout(r.Context(), 2*time.Second)
	defer cancel()
	for name, check := range h.checks {
		if err := check(ctx); err != nil {
			LoggerFrom(r.Context(), h.logger).WithError(err).WithField("dependency", name).Warn("not ready")
			writeJSONError(w, http.StatusServiceUnavailable, name+" unavailable")
			return
		}
	}
	w.WriteHeader(http.StatusOK)
	w.Write([]byte("Ready"))
}

// statusFor maps inventory errors to HTTP status codes.
func statusFor(err error) int {
	switch {
	case errors.Is(err, domain.ErrInvalidInput):
		return http.StatusBadRequest
	case domain.IsNotFound(err):
		return http.StatusNotFound
	case domain.IsConflict(err):
		return http.StatusConflict
	case errors.Is(err, domain.ErrStoreUnavailable):
		return http.StatusServiceUnavailable
	case errors.IsAny(err, context.Canceled, context.DeadlineExceeded):
		return http.StatusGatewayTimeout
	default:
		return http.StatusInternalServerError
	}
}

func (h *Handlers) writeError(w http.ResponseWriter, r *http.Request, err error) {
	status := statusFor(err)
	if status >= http.StatusInternalServerError {
		LoggerFrom(r.Context(), h.logger).WithError(err).Error("request failed")
		writeJSONError(w, status, http.StatusText(status))
		return
	}
	writeJSONError(w, status, errorMessage(err))
}

// errorMessage names the domain outcome without leaking wrapped detail.
func errorMessage(err error) string {
	for _, sentinel := range []error{
		domain.ErrInvalidInput,
		domain.ErrSeatNotFound,
		domain.ErrGameNotFound,
		domain.ErrReservationNotFound,
		domain.ErrHoldExpired,
		domain.ErrLockTimeout,
		domain.ErrSeatUnavailable,
		domain.ErrContention,
		domain.ErrSerializationFailure,
	} {
		if errors.Is(err, sentinel) {
			return sentinel.Error()
		}
	}
	return err.Error()
}

func writeJSON(w http.ResponseWriter, status int, v interface{}) {
	data, err := json.Marshal(v)
	if err != nil {
		http.Error(w, err.Error(), http.StatusInternalServerError)
		return
	}
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	w.Write(data)
}

func writeJSONError(w http.ResponseWriter, status int, msg string) {
	writeJSON(w, status, map[string]string{"error": msg})
}
