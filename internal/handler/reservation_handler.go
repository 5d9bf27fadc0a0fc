package handler

import (
	"net/http"

	"github.com/gin-gonic/gin"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"

	"github.com/jirayu-w/eventseat/internal/dto"
	"github.com/jirayu-w/eventseat/internal/engine"
	"github.com/jirayu-w/eventseat/pkg/middleware"
	"github.com/jirayu-w/eventseat/pkg/telemetry"
)

// ReservationHandler handles booking, cancellation and waitlist requests.
// The acting user always comes from the verified token, never from the body.
type ReservationHandler struct {
	engine *engine.Engine
}

// NewReservationHandler creates a new reservation handler
func NewReservationHandler(eng *engine.Engine) *ReservationHandler {
	return &ReservationHandler{engine: eng}
}

// Book handles POST /events/:id/bookings
func (h *ReservationHandler) Book(c *gin.Context) {
	ctx, span := telemetry.StartSpan(c.Request.Context(), "handler.reservation.book")
	defer span.End()
	c.Request = c.Request.WithContext(ctx)

	userID, ok := h.requireUser(c, span)
	if !ok {
		return
	}
	eventID := c.Param("id")
	span.SetAttributes(
		attribute.String("event_id", eventID),
		attribute.String("user_id", userID),
	)

	out, err := h.engine.Book(ctx, userID, eventID)
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
		handleError(c, err)
		return
	}

	status := http.StatusCreated
	if !out.Changed() {
		status = http.StatusOK
	}

	span.SetAttributes(attribute.String("outcome", string(out.Status)))
	span.SetStatus(codes.Ok, "")
	c.JSON(status, dto.BookOutcomeResponse(eventID, userID, out))
}

// Cancel handles DELETE /events/:id/bookings
func (h *ReservationHandler) Cancel(c *gin.Context) {
	ctx, span := telemetry.StartSpan(c.Request.Context(), "handler.reservation.cancel")
	defer span.End()
	c.Request = c.Request.WithContext(ctx)

	userID, ok := h.requireUser(c, span)
	if !ok {
		return
	}
	eventID := c.Param("id")
	span.SetAttributes(
		attribute.String("event_id", eventID),
		attribute.String("user_id", userID),
	)

	out, err := h.engine.Cancel(ctx, userID, eventID)
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
		handleError(c, err)
		return
	}

	span.SetAttributes(attribute.String("outcome", string(out.Status)))
	span.SetStatus(codes.Ok, "")
	c.JSON(http.StatusOK, dto.CancelOutcomeResponse(eventID, userID, out))
}

// LeaveWaitlist handles DELETE /events/:id/waitlist
func (h *ReservationHandler) LeaveWaitlist(c *gin.Context) {
	ctx, span := telemetry.StartSpan(c.Request.Context(), "handler.reservation.leave_waitlist")
	defer span.End()
	c.Request = c.Request.WithContext(ctx)

	userID, ok := h.requireUser(c, span)
	if !ok {
		return
	}
	eventID := c.Param("id")
	span.SetAttributes(
		attribute.String("event_id", eventID),
		attribute.String("user_id", userID),
	)

	out, err := h.engine.LeaveWaitlist(ctx, userID, eventID)
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
		handleError(c, err)
		return
	}

	span.SetAttributes(attribute.String("outcome", string(out.Status)))
	span.SetStatus(codes.Ok, "")
	c.JSON(http.StatusOK, dto.LeaveOutcomeResponse(eventID, userID, out))
}

// MyReservations handles GET /me/reservations
func (h *ReservationHandler) MyReservations(c *gin.Context) {
	ctx, span := telemetry.StartSpan(c.Request.Context(), "handler.reservation.mine")
	defer span.End()
	c.Request = c.Request.WithContext(ctx)

	userID, ok := h.requireUser(c, span)
	if !ok {
		return
	}
	span.SetAttributes(attribute.String("user_id", userID))

	records, err := h.engine.ActiveRecordsFor(ctx, userID)
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
		handleError(c, err)
		return
	}

	out := make([]*dto.ReservationResponse, 0, len(records))
	for _, r := range records {
		out = append(out, dto.ReservationFromRecord(r))
	}

	span.SetAttributes(attribute.Int("record_count", len(out)))
	span.SetStatus(codes.Ok, "")
	c.JSON(http.StatusOK, dto.SuccessResponse{Success: true, Data: out})
}

func (h *ReservationHandler) requireUser(c *gin.Context, span trace.Span) (string, bool) {
	userID, ok := middleware.GetUserID(c)
	if !ok || userID == "" {
		span.SetStatus(codes.Error, "unauthorized")
		c.JSON(http.StatusUnauthorized, dto.ErrorResponse{
			Error: "unauthorized",
			Code:  "UNAUTHORIZED",
		})
		return "", false
	}
	return userID, true
}
