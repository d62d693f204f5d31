package tickets_api

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"net/http"
	"strconv"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/pkg/errors"

	"github.com/BearBump/DispatchBox/internal/models"
	"github.com/BearBump/DispatchBox/internal/services/tickets"
	"github.com/BearBump/DispatchBox/internal/storage/pgticket"
	"github.com/BearBump/DispatchBox/internal/workflow"
)

type RateLimiter interface {
	Allow(ctx context.Context, key string, limit int64, window time.Duration) (bool, int64, error)
}

type TicketsAPI struct {
	svc            *tickets.Service
	rl             RateLimiter
	punchPerMinute int64
}

func New(svc *tickets.Service) *TicketsAPI {
	return &TicketsAPI{svc: svc}
}

func (a *TicketsAPI) WithRateLimiter(rl RateLimiter, perMinute int64) *TicketsAPI {
	if rl != nil && perMinute > 0 {
		a.rl = rl
		a.punchPerMinute = perMinute
	}
	return a
}

func (a *TicketsAPI) Routes() chi.Router {
	r := chi.NewRouter()
	r.Post("/tickets", a.createTicket)
	r.Get("/tickets/{id}", a.getTicket)
	r.Post("/tickets/{id}/checkpoints", a.recordCheckpoint)
	r.Post("/tickets/{id}/odometer", a.updateOdometer)
	r.Patch("/tickets/{id}/status", a.completeTicket)
	r.Get("/tickets/{id}/timesheet", a.timesheet)
	r.Get("/tickets/{id}/payroll", a.payroll)
	return r
}

type ticketPayload struct {
	ID          uint64  `json:"id"`
	ClientName  string  `json:"client_name"`
	SiteName    string  `json:"site_name"`
	SiteAddress string  `json:"site_address"`
	Purpose     *string `json:"purpose,omitempty"`
	Status      string  `json:"status"`
	OdoStart    *int64  `json:"odo_start,omitempty"`
	OdoEnd      *int64  `json:"odo_end,omitempty"`
	Description *string `json:"description,omitempty"`
	CreatedAt   string  `json:"createdAt"`
}

func toTicketPayload(t *models.Ticket) ticketPayload {
	return ticketPayload{
		ID:          t.ID,
		ClientName:  t.ClientName,
		SiteName:    t.SiteName,
		SiteAddress: t.SiteAddress,
		Purpose:     t.Purpose,
		Status:      t.Status,
		OdoStart:    t.OdoStart,
		OdoEnd:      t.OdoEnd,
		Description: t.Description,
		CreatedAt:   t.CreatedAt.UTC().Format(time.RFC3339),
	}
}

type checkpointPayload struct {
	Kind       string    `json:"punch_type"`
	RecordedAt time.Time `json:"ts"`
}

func (a *TicketsAPI) createTicket(w http.ResponseWriter, r *http.Request) {
	var body struct {
		ClientName  string  `json:"client_name"`
		SiteName    string  `json:"site_name"`
		SiteAddress string  `json:"site_address"`
		Purpose     *string `json:"purpose"`
	}
	if err := json.NewDecoder(r.Body).Decode(&body); err != nil {
		writeJSON(w, http.StatusBadRequest, errBody("invalid json"))
		return
	}
	if body.ClientName == "" || body.SiteName == "" || body.SiteAddress == "" {
		writeJSON(w, http.StatusBadRequest, errBody("client_name, site_name, site_address are required"))
		return
	}

	t, err := a.svc.CreateTicket(r.Context(), models.TicketCreateInput{
		ClientName:  body.ClientName,
		SiteName:    body.SiteName,
		SiteAddress: body.SiteAddress,
		Purpose:     body.Purpose,
	})
	if err != nil {
		a.writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, toTicketPayload(t))
}

func (a *TicketsAPI) getTicket(w http.ResponseWriter, r *http.Request) {
	id, ok := ticketID(w, r)
	if !ok {
		return
	}
	v, err := a.svc.GetTicket(r.Context(), id)
	if err != nil {
		a.writeError(w, err)
		return
	}

	cps := make([]checkpointPayload, 0, len(v.Checkpoints))
	for _, cp := range v.Checkpoints {
		cps = append(cps, checkpointPayload{Kind: cp.Kind, RecordedAt: cp.RecordedAt})
	}
	seg := workflow.Segments(workflow.CalendarFromCheckpoints(v.Checkpoints))

	writeJSON(w, http.StatusOK, map[string]any{
		"ticket":        toTicketPayload(v.Ticket),
		"punches":       cps,
		"time_segments": toTimesheetPayload(seg),
	})
}

func (a *TicketsAPI) recordCheckpoint(w http.ResponseWriter, r *http.Request) {
	id, ok := ticketID(w, r)
	if !ok {
		return
	}
	var body struct {
		PunchType string `json:"punch_type"`
		OdoValue  *int64 `json:"odo_value"`
	}
	if err := json.NewDecoder(r.Body).Decode(&body); err != nil {
		writeJSON(w, http.StatusBadRequest, errBody("invalid json"))
		return
	}

	if a.rl != nil {
		// Fixed minute window per ticket: a stuck client retrying punches
		// cannot hammer the row lock.
		key := fmt.Sprintf("rl:punch:%d:%s", id, time.Now().UTC().Format("200601021504"))
		allowed, n, err := a.rl.Allow(r.Context(), key, a.punchPerMinute, 70*time.Second)
		if err == nil && !allowed {
			slog.Warn("punch rate limit exceeded", "ticket_id", id, "count", n)
			writeJSON(w, http.StatusTooManyRequests, errBody("too many punches, slow down"))
			return
		}
	}

	res, err := a.svc.RecordCheckpoint(r.Context(), id, body.PunchType, body.OdoValue)
	if err != nil {
		a.writeError(w, err)
		return
	}

	d := res.Decision
	switch d.Outcome {
	case workflow.OutcomeRecorded:
		writeJSON(w, http.StatusOK, map[string]any{
			"ok":             true,
			"ticket_id":      id,
			"punch_type":     body.PunchType,
			"ts":             d.RecordedAt.UTC().Format(time.RFC3339),
			"new_state":      d.NewState,
			"already_exists": false,
		})
	case workflow.OutcomeAlreadyRecorded:
		writeJSON(w, http.StatusOK, map[string]any{
			"ok":             true,
			"ticket_id":      id,
			"punch_type":     body.PunchType,
			"ts":             d.RecordedAt.UTC().Format(time.RFC3339),
			"state":          res.Ticket.Status,
			"already_exists": true,
		})
	default:
		a.writeRejection(w, id, d.Rejection)
	}
}

func (a *TicketsAPI) writeRejection(w http.ResponseWriter, id uint64, rej *workflow.Rejection) {
	if rej.Code == workflow.ReasonUnknownCheckpoint {
		writeJSON(w, http.StatusBadRequest, map[string]any{
			"error":      "invalid punch_type",
			"code":       rej.Code,
			"punch_type": rej.Event,
		})
		return
	}
	body := map[string]any{
		"error":      "punch not allowed in current state",
		"code":       rej.Code,
		"ticket_id":  id,
		"punch_type": rej.Event,
		"state":      rej.State,
	}
	if rej.NextEvent != "" {
		body["next_punch"] = rej.NextEvent
	}
	writeJSON(w, http.StatusConflict, body)
}

func (a *TicketsAPI) updateOdometer(w http.ResponseWriter, r *http.Request) {
	id, ok := ticketID(w, r)
	if !ok {
		return
	}
	var body struct {
		OdoStart *int64 `json:"odo_start"`
		OdoEnd   *int64 `json:"odo_end"`
	}
	if err := json.NewDecoder(r.Body).Decode(&body); err != nil {
		writeJSON(w, http.StatusBadRequest, errBody("invalid json"))
		return
	}
	if body.OdoStart == nil && body.OdoEnd == nil {
		writeJSON(w, http.StatusBadRequest, errBody("odo_start or odo_end is required"))
		return
	}
	if (body.OdoStart != nil && *body.OdoStart < 0) || (body.OdoEnd != nil && *body.OdoEnd < 0) {
		writeJSON(w, http.StatusBadRequest, errBody("odometer values must be non-negative"))
		return
	}

	t, err := a.svc.UpdateOdometer(r.Context(), id, body.OdoStart, body.OdoEnd)
	if err != nil {
		a.writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, toTicketPayload(t))
}

func (a *TicketsAPI) completeTicket(w http.ResponseWriter, r *http.Request) {
	id, ok := ticketID(w, r)
	if !ok {
		return
	}
	var body struct {
		Status      string  `json:"status"`
		Description *string `json:"description"`
	}
	if err := json.NewDecoder(r.Body).Decode(&body); err != nil {
		writeJSON(w, http.StatusBadRequest, errBody("invalid json"))
		return
	}
	// Only the terminal transition goes through this endpoint; everything
	// else advances via punches.
	if body.Status != models.StateCompleted {
		writeJSON(w, http.StatusBadRequest, errBody("only COMPLETED can be set via this endpoint"))
		return
	}

	res, err := a.svc.CompleteTicket(r.Context(), id, body.Description)
	if err != nil {
		a.writeError(w, err)
		return
	}
	if !res.Eligibility.Eligible {
		writeJSON(w, http.StatusConflict, map[string]any{
			"error":   "ticket is not eligible for completion",
			"missing": toMissingPayload(res.Eligibility),
		})
		return
	}
	writeJSON(w, http.StatusOK, toTicketPayload(res.Ticket))
}

type missingPayload struct {
	Category    string   `json:"category"`
	State       string   `json:"state,omitempty"`
	Checkpoints []string `json:"checkpoints,omitempty"`
}

func toMissingPayload(e workflow.Eligibility) []missingPayload {
	out := make([]missingPayload, 0, len(e.Missing))
	for _, m := range e.Missing {
		out = append(out, missingPayload{Category: m.Category, State: m.State, Checkpoints: m.Checkpoints})
	}
	return out
}

func (a *TicketsAPI) timesheet(w http.ResponseWriter, r *http.Request) {
	id, ok := ticketID(w, r)
	if !ok {
		return
	}
	seg, err := a.svc.TimeSegments(r.Context(), id)
	if err != nil {
		a.writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, toTimesheetPayload(seg))
}

func (a *TicketsAPI) payroll(w http.ResponseWriter, r *http.Request) {
	id, ok := ticketID(w, r)
	if !ok {
		return
	}
	e, err := a.svc.PayrollEntry(r.Context(), id)
	if err != nil {
		a.writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{
		"ticket_id":   e.TicketID,
		"travel_ms":   e.TravelMS,
		"work_ms":     e.WorkMS,
		"elapsed_ms":  e.ElapsedMS,
		"computed_at": e.ComputedAt.UTC().Format(time.RFC3339),
	})
}

func (a *TicketsAPI) writeError(w http.ResponseWriter, err error) {
	switch {
	case errors.Is(err, pgticket.ErrTicketNotFound), errors.Is(err, pgticket.ErrPayrollNotFound):
		writeJSON(w, http.StatusNotFound, errBody("not found"))
	case errors.Is(err, pgticket.ErrTicketCompleted):
		writeJSON(w, http.StatusConflict, errBody("ticket is completed and read-only"))
	case errors.Is(err, pgticket.ErrOdometerOrder):
		writeJSON(w, http.StatusConflict, errBody("odo_end must be >= odo_start"))
	default:
		slog.Error("tickets api", "error", err.Error())
		writeJSON(w, http.StatusInternalServerError, errBody("internal error"))
	}
}

func ticketID(w http.ResponseWriter, r *http.Request) (uint64, bool) {
	id, err := strconv.ParseUint(chi.URLParam(r, "id"), 10, 64)
	if err != nil || id == 0 {
		writeJSON(w, http.StatusBadRequest, errBody("invalid ticket id"))
		return 0, false
	}
	return id, true
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}

func errBody(msg string) map[string]string {
	return map[string]string{"error": msg}
}
