package availability

import (
	"errors"
	"fmt"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/labstack/echo/v4"

	"github.com/medcal/calendar/internal/domain/calendar"
	"github.com/medcal/calendar/internal/platform/lock"
	"github.com/medcal/calendar/pkg/interval"
	"github.com/medcal/calendar/pkg/pagination"
)

type Handler struct {
	svc *Service
}

func NewHandler(svc *Service) *Handler {
	return &Handler{svc: svc}
}

func (h *Handler) RegisterRoutes(api *echo.Group) {
	api.GET("/doctors", h.ListDoctors)
	api.GET("/doctors/:id/days/:date", h.GetDay)
	api.GET("/doctors/:id/slots", h.ListFreeSlots)
	api.GET("/doctors/:id/availability", h.CheckAvailability)

	api.GET("/availability/doctors", h.ListAvailableDoctors)
	api.POST("/availability/earliest", h.FindEarliest)

	api.POST("/appointments", h.CreateAppointment)
	api.GET("/appointments", h.ListAppointments)
	api.GET("/appointments/:id", h.GetAppointment)
	api.POST("/appointments/:id/cancel", h.CancelAppointment)
}

// -- Doctors --

func (h *Handler) ListDoctors(c echo.Context) error {
	doctors, err := h.svc.ListDoctors(c.Request().Context())
	if err != nil {
		return httpError(err)
	}
	return c.JSON(http.StatusOK, map[string]interface{}{"data": doctors})
}

type dayResponse struct {
	DoctorID     string              `json:"doctor_id"`
	Date         calendar.Date       `json:"date"`
	Intervals    []interval.Interval `json:"intervals"`
	WorkingHours []interval.Interval `json:"working_hours"`
}

func (h *Handler) GetDay(c echo.Context) error {
	date, err := parseDate("date", c.Param("date"))
	if err != nil {
		return httpError(err)
	}
	ctx := c.Request().Context()
	resolved, err := h.svc.ResolveDay(ctx, c.Param("id"), date)
	if err != nil {
		return httpError(err)
	}
	return c.JSON(http.StatusOK, dayResponse{
		DoctorID:     c.Param("id"),
		Date:         date,
		Intervals:    resolved,
		WorkingHours: interval.Union(resolved),
	})
}

func (h *Handler) ListFreeSlots(c echo.Context) error {
	date, err := parseDate("date", c.QueryParam("date"))
	if err != nil {
		return httpError(err)
	}
	g, err := parseMinutes("granularity", c.QueryParam("granularity"))
	if err != nil {
		return httpError(err)
	}
	slots, err := h.svc.FreeSlots(c.Request().Context(), c.Param("id"), date, g)
	if err != nil {
		return httpError(err)
	}
	return c.JSON(http.StatusOK, map[string]interface{}{
		"doctor_id": c.Param("id"),
		"date":      date,
		"slots":     slots,
	})
}

func (h *Handler) CheckAvailability(c echo.Context) error {
	date, start, duration, err := slotQuery(c)
	if err != nil {
		return httpError(err)
	}
	ok, err := h.svc.IsAvailable(c.Request().Context(), c.Param("id"), date, start, duration)
	if err != nil {
		return httpError(err)
	}
	return c.JSON(http.StatusOK, map[string]interface{}{
		"doctor_id": c.Param("id"),
		"date":      date,
		"start":     start,
		"available": ok,
	})
}

// -- Availability search --

func (h *Handler) ListAvailableDoctors(c echo.Context) error {
	date, start, duration, err := slotQuery(c)
	if err != nil {
		return httpError(err)
	}
	doctors, err := h.svc.AvailableDoctors(c.Request().Context(), date, start, duration)
	if err != nil {
		return httpError(err)
	}
	return c.JSON(http.StatusOK, map[string]interface{}{
		"date":  date,
		"start": start,
		"data":  doctors,
	})
}

type earliestRequest struct {
	From          string   `json:"from"`
	To            string   `json:"to"`
	ShiftPriority []string `json:"shift_priority"`
	DoctorIDs     []string `json:"doctor_ids"`
	TieBreak      string   `json:"tie_break"`
}

type earliestResponse struct {
	Found   bool   `json:"found"`
	Match   *Match `json:"match,omitempty"`
	Message string `json:"message,omitempty"`
}

func (h *Handler) FindEarliest(c echo.Context) error {
	var req earliestRequest
	if err := c.Bind(&req); err != nil {
		return echo.NewHTTPError(http.StatusBadRequest, "invalid request body")
	}
	q := EarliestQuery{ShiftPriority: req.ShiftPriority, DoctorIDs: req.DoctorIDs}
	var err error
	if q.From, err = parseDate("from", req.From); err != nil {
		return httpError(err)
	}
	if req.To != "" {
		if q.To, err = parseDate("to", req.To); err != nil {
			return httpError(err)
		}
	}
	if req.TieBreak != "" {
		if q.TieBreak, err = ParseTieBreak(req.TieBreak); err != nil {
			return httpError(err)
		}
	}

	m, err := h.svc.FindEarliest(c.Request().Context(), q)
	if err != nil {
		return httpError(err)
	}
	if m == nil {
		to := q.To
		if to.IsZero() {
			to = q.From
		}
		return c.JSON(http.StatusOK, earliestResponse{
			Message: fmt.Sprintf("no doctor available between %s and %s", q.From, to),
		})
	}
	return c.JSON(http.StatusOK, earliestResponse{Found: true, Match: m})
}

// -- Appointments --

type bookRequest struct {
	DoctorID     string `json:"doctor_id"`
	Date         string `json:"date"`
	StartTime    string `json:"start_time"`
	Duration     int    `json:"duration"`
	PatientName  string `json:"patient_name"`
	PatientEmail string `json:"patient_email"`
	PatientPhone string `json:"patient_phone"`
}

func (h *Handler) CreateAppointment(c echo.Context) error {
	var body bookRequest
	if err := c.Bind(&body); err != nil {
		return echo.NewHTTPError(http.StatusBadRequest, "invalid request body")
	}
	date, err := parseDate("date", body.Date)
	if err != nil {
		return httpError(err)
	}
	start, err := parseTime("start_time", body.StartTime)
	if err != nil {
		return httpError(err)
	}
	if body.Duration < 0 {
		return httpError(invalidf("duration", "must not be negative"))
	}

	appt, err := h.svc.Book(c.Request().Context(), BookRequest{
		DoctorID: body.DoctorID,
		Date:     date,
		Start:    start,
		Duration: time.Duration(body.Duration) * time.Minute,
		Patient: PatientInfo{
			Name:  body.PatientName,
			Email: body.PatientEmail,
			Phone: body.PatientPhone,
		},
	})
	if err != nil {
		return httpError(err)
	}
	return c.JSON(http.StatusCreated, appt)
}

func (h *Handler) ListAppointments(c echo.Context) error {
	pg := pagination.FromContext(c)
	f := calendar.AppointmentFilter{DoctorID: c.QueryParam("doctor_id")}
	var err error
	if v := c.QueryParam("from"); v != "" {
		if f.From, err = parseDate("from", v); err != nil {
			return httpError(err)
		}
	}
	if v := c.QueryParam("to"); v != "" {
		if f.To, err = parseDate("to", v); err != nil {
			return httpError(err)
		}
	}
	switch status := calendar.AppointmentStatus(c.QueryParam("status")); status {
	case "", calendar.StatusBooked, calendar.StatusCanceled:
		f.Status = status
	default:
		return httpError(invalidf("status", "must be %q or %q", calendar.StatusBooked, calendar.StatusCanceled))
	}

	items, total, err := h.svc.ListAppointments(c.Request().Context(), f, pg.Limit, pg.Offset)
	if err != nil {
		return httpError(err)
	}
	resp := pagination.NewResponse(items, total, pg.Limit, pg.Offset).
		WithLinks(c.Request().URL.Path, c.QueryParams())
	return c.JSON(http.StatusOK, resp)
}

func (h *Handler) GetAppointment(c echo.Context) error {
	appt, err := h.svc.GetAppointment(c.Request().Context(), c.Param("id"))
	if err != nil {
		return httpError(err)
	}
	return c.JSON(http.StatusOK, appt)
}

func (h *Handler) CancelAppointment(c echo.Context) error {
	res, err := h.svc.Cancel(c.Request().Context(), c.Param("id"))
	if err != nil {
		return httpError(err)
	}
	if res.Outcome == CancelNotFound {
		return c.JSON(http.StatusNotFound, res)
	}
	return c.JSON(http.StatusOK, res)
}

// -- Helpers --

// httpError maps service errors onto HTTP statuses. Unexpected errors are
// attached as the internal cause so the request logger records them.
func httpError(err error) error {
	var verr *ValidationError
	switch {
	case errors.As(err, &verr):
		return echo.NewHTTPError(http.StatusBadRequest, verr.Error())
	case errors.Is(err, ErrConflict):
		return echo.NewHTTPError(http.StatusConflict, ErrConflict.Error())
	case errors.Is(err, calendar.ErrDoctorNotFound), errors.Is(err, calendar.ErrAppointmentNotFound):
		return echo.NewHTTPError(http.StatusNotFound, err.Error())
	case errors.Is(err, lock.ErrNotAcquired):
		return echo.NewHTTPError(http.StatusServiceUnavailable, "booking is busy, retry shortly").SetInternal(err)
	default:
		return echo.NewHTTPError(http.StatusInternalServerError, "internal error").SetInternal(err)
	}
}

func slotQuery(c echo.Context) (calendar.Date, interval.TimeOfDay, time.Duration, error) {
	date, err := parseDate("date", c.QueryParam("date"))
	if err != nil {
		return calendar.Date{}, 0, 0, err
	}
	start, err := parseTime("start", c.QueryParam("start"))
	if err != nil {
		return calendar.Date{}, 0, 0, err
	}
	duration, err := parseMinutes("duration", c.QueryParam("duration"))
	if err != nil {
		return calendar.Date{}, 0, 0, err
	}
	return date, start, duration, nil
}

func parseDate(field, v string) (calendar.Date, error) {
	if strings.TrimSpace(v) == "" {
		return calendar.Date{}, invalidf(field, "is required")
	}
	d, err := calendar.ParseDate(strings.TrimSpace(v))
	if err != nil {
		return calendar.Date{}, invalid(field, err)
	}
	return d, nil
}

func parseTime(field, v string) (interval.TimeOfDay, error) {
	if strings.TrimSpace(v) == "" {
		return 0, invalidf(field, "is required")
	}
	t, err := interval.ParseTimeOfDay(strings.TrimSpace(v))
	if err != nil {
		return 0, invalid(field, err)
	}
	return t, nil
}

// parseMinutes reads an optional whole number of minutes. Empty is zero.
func parseMinutes(field, v string) (time.Duration, error) {
	if v == "" {
		return 0, nil
	}
	n, err := strconv.Atoi(v)
	if err != nil || n <= 0 {
		return 0, invalidf(field, "must be a positive number of minutes, got %q", v)
	}
	if n > int(maxDuration/time.Minute) {
		return 0, invalidf(field, "must be at most %d minutes, got %d", int(maxDuration/time.Minute), n)
	}
	return time.Duration(n) * time.Minute, nil
}
