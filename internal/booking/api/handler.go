package api

import (
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"

	"ms-booking/internal/auth"
	"ms-booking/internal/booking"
	"ms-booking/internal/logger"
	"ms-booking/internal/models"
	"ms-booking/internal/utils"
)

type Handler struct {
	Service      *booking.Service
	Locks        *booking.LockManager
	Availability *booking.AvailabilityCalculator
	Logger       *logger.Logger
}

func NewHandler(service *booking.Service, locks *booking.LockManager, availability *booking.AvailabilityCalculator, log *logger.Logger) *Handler {
	return &Handler{
		Service:      service,
		Locks:        locks,
		Availability: availability,
		Logger:       log,
	}
}

// Routes mounts all booking endpoints onto the given router.
func (h *Handler) Routes(r chi.Router) {
	r.Post("/bookings", h.CreateBooking)
	r.Get("/bookings/{bookingID}", h.GetBooking)
	r.Post("/bookings/{bookingID}/confirm", h.ConfirmBooking)
	r.Post("/bookings/{bookingID}/cancel", h.CancelBooking)
	r.Post("/bookings/bulk-cancel", h.BulkCancel)

	r.Get("/listings/{listingID}/availability", h.GetAvailability)
	r.Post("/listings/{listingID}/locks", h.AcquireLock)

	r.Delete("/locks/{lockID}", h.ReleaseLock)
	r.Post("/locks/{lockID}/extend", h.ExtendLock)
}

func (h *Handler) CreateBooking(w http.ResponseWriter, r *http.Request) {
	userID := auth.UserID(r.Context())

	var req models.BookingRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		h.writeError(w, http.StatusBadRequest, "Invalid request body", err)
		return
	}
	if req.ListingID == "" {
		h.writeError(w, http.StatusBadRequest, "listing_id is required", nil)
		return
	}
	h.Logger.Info("API", fmt.Sprintf("CreateBooking: user=%s listing=%s seat=%q", userID, req.ListingID, req.SeatNumber))

	bk, handle, err := h.Service.CreateBooking(r.Context(), req.ListingID, userID, req.SeatNumber)
	if err != nil {
		h.writeServiceError(w, "CreateBooking", err)
		return
	}

	if bk.Status == models.BookingStatusBlocked {
		h.writeError(w, http.StatusForbidden, "Booking blocked", errors.New("booking flagged for review"))
		return
	}

	resp := models.BookingResponse{
		BookingID:   bk.ID,
		BookingRef:  bk.BookingRef,
		ListingID:   bk.ListingID,
		SeatNumber:  bk.SeatNumber,
		Status:      bk.Status,
		HoldExpires: handle.ExpiresAt,
	}
	h.writeJSON(w, http.StatusCreated, utils.SuccessResponse("Booking created", resp))
}

func (h *Handler) GetBooking(w http.ResponseWriter, r *http.Request) {
	bookingID := chi.URLParam(r, "bookingID")

	bk, err := h.Service.GetBooking(r.Context(), bookingID, auth.UserID(r.Context()), auth.IsAdmin(r.Context()))
	if err != nil {
		h.writeServiceError(w, "GetBooking", err)
		return
	}
	h.writeJSON(w, http.StatusOK, utils.SuccessResponse("Booking retrieved", bk))
}

func (h *Handler) ConfirmBooking(w http.ResponseWriter, r *http.Request) {
	bookingID := chi.URLParam(r, "bookingID")
	userID := auth.UserID(r.Context())
	h.Logger.Info("API", fmt.Sprintf("ConfirmBooking: booking=%s user=%s", bookingID, userID))

	bk, err := h.Service.Confirm(r.Context(), bookingID, userID)
	if err != nil {
		h.writeServiceError(w, "ConfirmBooking", err)
		return
	}
	h.writeJSON(w, http.StatusOK, utils.SuccessResponse("Booking confirmed", bk))
}

func (h *Handler) CancelBooking(w http.ResponseWriter, r *http.Request) {
	bookingID := chi.URLParam(r, "bookingID")
	userID := auth.UserID(r.Context())
	admin := auth.IsAdmin(r.Context())

	// Body is optional; an empty cancel is a plain user cancellation.
	var req models.CancelRequest
	if r.Body != nil {
		_ = json.NewDecoder(r.Body).Decode(&req)
	}
	if req.RefundAmount != nil && !admin {
		h.writeError(w, http.StatusForbidden, "Refund override requires admin role", nil)
		return
	}
	h.Logger.Info("API", fmt.Sprintf("CancelBooking: booking=%s user=%s admin=%t", bookingID, userID, admin))

	bk, err := h.Service.Cancel(r.Context(), bookingID, userID, booking.CancelOptions{
		Reason:       req.Reason,
		RefundAmount: req.RefundAmount,
		Admin:        admin,
	})
	if err != nil {
		h.writeServiceError(w, "CancelBooking", err)
		return
	}
	h.writeJSON(w, http.StatusOK, utils.SuccessResponse("Booking cancelled", bk))
}

func (h *Handler) BulkCancel(w http.ResponseWriter, r *http.Request) {
	if !auth.IsAdmin(r.Context()) {
		h.writeError(w, http.StatusForbidden, "Bulk cancel requires admin role", nil)
		return
	}

	var req models.BulkCancelRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		h.writeError(w, http.StatusBadRequest, "Invalid request body", err)
		return
	}
	if len(req.BookingIDs) == 0 {
		h.writeError(w, http.StatusBadRequest, "booking_ids is required", nil)
		return
	}
	h.Logger.Info("API", fmt.Sprintf("BulkCancel: %d bookings", len(req.BookingIDs)))

	results := h.Service.BulkCancel(r.Context(), req.BookingIDs, req.Reason)
	h.writeJSON(w, http.StatusOK, utils.SuccessResponse("Bulk cancel processed", results))
}

func (h *Handler) GetAvailability(w http.ResponseWriter, r *http.Request) {
	listingID := chi.URLParam(r, "listingID")

	availability, err := h.Availability.Availability(r.Context(), listingID)
	if err != nil {
		h.writeServiceError(w, "GetAvailability", err)
		return
	}
	h.writeJSON(w, http.StatusOK, utils.SuccessResponse("Availability computed", availability))
}

func (h *Handler) AcquireLock(w http.ResponseWriter, r *http.Request) {
	listingID := chi.URLParam(r, "listingID")
	userID := auth.UserID(r.Context())

	var req struct {
		SeatNumber string `json:"seat_number"`
	}
	if r.Body != nil {
		_ = json.NewDecoder(r.Body).Decode(&req)
	}
	h.Logger.Info("API", fmt.Sprintf("AcquireLock: listing=%s user=%s seat=%q", listingID, userID, req.SeatNumber))

	handle, err := h.Locks.Acquire(r.Context(), listingID, userID, req.SeatNumber)
	if err != nil {
		h.writeServiceError(w, "AcquireLock", err)
		return
	}
	h.writeJSON(w, http.StatusCreated, utils.SuccessResponse("Seat locked", handle))
}

func (h *Handler) ReleaseLock(w http.ResponseWriter, r *http.Request) {
	lockID := chi.URLParam(r, "lockID")
	userID := auth.UserID(r.Context())
	h.Logger.Info("API", fmt.Sprintf("ReleaseLock: lock=%s user=%s", lockID, userID))

	// Scoped to the caller so one user cannot release another's hold.
	// Releasing an unknown or already-released lock is a no-op.
	released, err := h.Locks.Release(r.Context(), models.LockFilter{LockID: lockID, UserID: userID})
	if err != nil {
		h.writeServiceError(w, "ReleaseLock", err)
		return
	}
	if released == 0 {
		h.Logger.Debug("API", fmt.Sprintf("ReleaseLock: lock %s already released", lockID))
	}
	w.WriteHeader(http.StatusNoContent)
}

func (h *Handler) ExtendLock(w http.ResponseWriter, r *http.Request) {
	lockID := chi.URLParam(r, "lockID")
	userID := auth.UserID(r.Context())

	var req struct {
		Minutes int `json:"minutes"`
	}
	if r.Body != nil {
		_ = json.NewDecoder(r.Body).Decode(&req)
	}
	extra := booking.DefaultLockTTL
	if req.Minutes > 0 {
		extra = time.Duration(req.Minutes) * time.Minute
	}

	// Scoped to the caller like ReleaseLock; another user's lock id is a 404.
	handle, err := h.Locks.Extend(r.Context(), lockID, userID, extra)
	if err != nil {
		h.writeServiceError(w, "ExtendLock", err)
		return
	}
	h.writeJSON(w, http.StatusOK, utils.SuccessResponse("Lock extended", handle))
}

// writeServiceError maps domain sentinels onto HTTP statuses.
func (h *Handler) writeServiceError(w http.ResponseWriter, op string, err error) {
	status := http.StatusInternalServerError
	message := "Internal server error"

	switch {
	case errors.Is(err, booking.ErrSeatTaken):
		status, message = http.StatusConflict, "Seat already taken"
	case errors.Is(err, booking.ErrNoSeatsAvailable):
		status, message = http.StatusConflict, "No seats available"
	case errors.Is(err, booking.ErrCapacityExceeded):
		status, message = http.StatusConflict, "Listing capacity exceeded"
	case errors.Is(err, booking.ErrCancellationClosed):
		status, message = http.StatusConflict, "Cancellation window closed"
	case errors.Is(err, booking.ErrForbidden):
		status, message = http.StatusForbidden, "Forbidden"
	case errors.Is(err, booking.ErrLockNotFound):
		status, message = http.StatusNotFound, "Lock not found or expired"
	case errors.Is(err, booking.ErrListingNotFound):
		status, message = http.StatusNotFound, "Listing not found"
	case errors.Is(err, booking.ErrBookingNotFound):
		status, message = http.StatusNotFound, "Booking not found"
	case errors.Is(err, booking.ErrAlreadyCancelled):
		status, message = http.StatusUnprocessableEntity, "Booking already cancelled"
	case errors.Is(err, booking.ErrRefundFailed):
		status, message = http.StatusBadGateway, "Refund failed, booking not cancelled"
	}

	if status == http.StatusInternalServerError {
		h.Logger.Error("API", fmt.Sprintf("%s: %v", op, err))
	} else {
		h.Logger.Warn("API", fmt.Sprintf("%s: %v", op, err))
	}
	h.writeJSON(w, status, utils.ErrorResponse(message, err.Error()))
}

func (h *Handler) writeError(w http.ResponseWriter, status int, message string, err error) {
	detail := ""
	if err != nil {
		detail = err.Error()
	}
	h.Logger.Warn("API", fmt.Sprintf("%s (%d)", message, status))
	h.writeJSON(w, status, utils.ErrorResponse(message, detail))
}

func (h *Handler) writeJSON(w http.ResponseWriter, status int, payload utils.APIResponse) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(payload); err != nil {
		h.Logger.Error("API", fmt.Sprintf("failed to encode response: %v", err))
	}
}
