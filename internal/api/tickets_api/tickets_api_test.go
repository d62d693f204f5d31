package tickets_api

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/BearBump/DispatchBox/internal/models"
	"github.com/BearBump/DispatchBox/internal/services/tickets"
	"github.com/BearBump/DispatchBox/internal/storage/pgticket"
	"github.com/BearBump/DispatchBox/internal/workflow"
)

// memRepo mirrors the pg storage semantics in memory, same sentinel errors.
type memRepo struct {
	nextID  uint64
	tickets map[uint64]*models.Ticket
	cals    map[uint64]workflow.Calendar
	payroll map[uint64]*models.PayrollEntry
}

func newMemRepo() *memRepo {
	return &memRepo{
		nextID:  1,
		tickets: map[uint64]*models.Ticket{},
		cals:    map[uint64]workflow.Calendar{},
		payroll: map[uint64]*models.PayrollEntry{},
	}
}

func (r *memRepo) CreateTicket(ctx context.Context, in models.TicketCreateInput) (*models.Ticket, error) {
	now := time.Now().UTC()
	t := &models.Ticket{
		ID: r.nextID, ClientName: in.ClientName, SiteName: in.SiteName,
		SiteAddress: in.SiteAddress, Purpose: in.Purpose,
		Status: models.StateCreated, CreatedAt: now, UpdatedAt: now,
	}
	r.nextID++
	r.tickets[t.ID] = t
	r.cals[t.ID] = workflow.Calendar{}
	return t, nil
}

func (r *memRepo) GetTicket(ctx context.Context, id uint64) (*models.Ticket, error) {
	t, ok := r.tickets[id]
	if !ok {
		return nil, pgticket.ErrTicketNotFound
	}
	cp := *t
	return &cp, nil
}

func (r *memRepo) ListCheckpoints(ctx context.Context, ticketID uint64) ([]*models.Checkpoint, error) {
	cal := r.cals[ticketID]
	var out []*models.Checkpoint
	for _, k := range workflow.KindOrder {
		if ts, ok := cal.Get(k); ok {
			out = append(out, &models.Checkpoint{TicketID: ticketID, Kind: k, RecordedAt: ts})
		}
	}
	return out, nil
}

func (r *memRepo) ApplyCheckpoint(ctx context.Context, ticketID uint64, kind string, now time.Time, odoValue *int64) (*pgticket.CheckpointResult, error) {
	t, ok := r.tickets[ticketID]
	if !ok {
		return nil, pgticket.ErrTicketNotFound
	}
	d := workflow.Decide(t.Status, kind, r.cals[ticketID], now)
	if d.Outcome == workflow.OutcomeRecorded {
		r.cals[ticketID].Record(kind, d.RecordedAt)
		t.Status = d.NewState
		if odoValue != nil {
			switch kind {
			case models.CheckpointLeaveHome:
				t.OdoStart = odoValue
			case models.CheckpointReturnHome:
				t.OdoEnd = odoValue
			}
		}
	}
	cp := *t
	return &pgticket.CheckpointResult{Decision: d, Ticket: &cp}, nil
}

func (r *memRepo) UpdateOdometer(ctx context.Context, ticketID uint64, odoStart, odoEnd *int64) (*models.Ticket, error) {
	t, ok := r.tickets[ticketID]
	if !ok {
		return nil, pgticket.ErrTicketNotFound
	}
	if t.Status == models.StateCompleted {
		return nil, pgticket.ErrTicketCompleted
	}
	if odoStart != nil {
		t.OdoStart = odoStart
	}
	if odoEnd != nil {
		t.OdoEnd = odoEnd
	}
	if t.OdoStart != nil && t.OdoEnd != nil && *t.OdoEnd < *t.OdoStart {
		return nil, pgticket.ErrOdometerOrder
	}
	cp := *t
	return &cp, nil
}

func (r *memRepo) CompleteTicket(ctx context.Context, ticketID uint64, description *string) (*pgticket.CompletionResult, error) {
	t, ok := r.tickets[ticketID]
	if !ok {
		return nil, pgticket.ErrTicketNotFound
	}
	cps, _ := r.ListCheckpoints(ctx, ticketID)
	effective := ""
	if t.Description != nil {
		effective = *t.Description
	}
	if description != nil {
		effective = *description
	}
	elig := workflow.CheckCompletion(t.Status, t.OdoStart, t.OdoEnd, effective, r.cals[ticketID])
	if elig.Eligible {
		t.Status = models.StateCompleted
		if description != nil {
			t.Description = description
		}
		t.UpdatedAt = time.Now().UTC()
	}
	cp := *t
	return &pgticket.CompletionResult{Eligibility: elig, Ticket: &cp, Checkpoints: cps}, nil
}

func (r *memRepo) GetPayrollEntry(ctx context.Context, ticketID uint64) (*models.PayrollEntry, error) {
	e, ok := r.payroll[ticketID]
	if !ok {
		return nil, pgticket.ErrPayrollNotFound
	}
	return e, nil
}

func newTestServer(t *testing.T) (*httptest.Server, *memRepo) {
	t.Helper()
	repo := newMemRepo()
	svc := tickets.New(repo, nil, nil, tickets.Topics{}, 0)
	srv := httptest.NewServer(New(svc).Routes())
	t.Cleanup(srv.Close)
	return srv, repo
}

func doJSON(t *testing.T, method, url string, body any) (*http.Response, map[string]any) {
	t.Helper()
	var buf bytes.Buffer
	if body != nil {
		require.NoError(t, json.NewEncoder(&buf).Encode(body))
	}
	req, err := http.NewRequest(method, url, &buf)
	require.NoError(t, err)
	resp, err := http.DefaultClient.Do(req)
	require.NoError(t, err)
	defer resp.Body.Close()

	var out map[string]any
	require.NoError(t, json.NewDecoder(resp.Body).Decode(&out))
	return resp, out
}

func createTicket(t *testing.T, srv *httptest.Server) uint64 {
	t.Helper()
	resp, body := doJSON(t, http.MethodPost, srv.URL+"/tickets", map[string]any{
		"client_name":  "Acme",
		"site_name":    "Plant 4",
		"site_address": "12 Mill Rd",
	})
	require.Equal(t, http.StatusOK, resp.StatusCode)
	return uint64(body["id"].(float64))
}

func punch(t *testing.T, srv *httptest.Server, id uint64, kind string) (*http.Response, map[string]any) {
	t.Helper()
	return doJSON(t, http.MethodPost, fmt.Sprintf("%s/tickets/%d/checkpoints", srv.URL, id),
		map[string]any{"punch_type": kind})
}

func TestAPI_CreateTicket_Validate(t *testing.T) {
	srv, _ := newTestServer(t)

	resp, body := doJSON(t, http.MethodPost, srv.URL+"/tickets", map[string]any{"client_name": "Acme"})
	require.Equal(t, http.StatusBadRequest, resp.StatusCode)
	require.Contains(t, body["error"], "required")
}

func TestAPI_Punch_RecordedAndDuplicate(t *testing.T) {
	srv, _ := newTestServer(t)
	id := createTicket(t, srv)

	resp, body := punch(t, srv, id, models.CheckpointLeaveHome)
	require.Equal(t, http.StatusOK, resp.StatusCode)
	require.Equal(t, true, body["ok"])
	require.Equal(t, false, body["already_exists"])
	require.Equal(t, models.StateLeftHome, body["new_state"])
	firstTS := body["ts"]

	resp, body = punch(t, srv, id, models.CheckpointLeaveHome)
	require.Equal(t, http.StatusOK, resp.StatusCode)
	require.Equal(t, true, body["already_exists"])
	require.Equal(t, firstTS, body["ts"])
}

func TestAPI_Punch_IllegalAndUnknown(t *testing.T) {
	srv, _ := newTestServer(t)
	id := createTicket(t, srv)

	resp, body := punch(t, srv, id, models.CheckpointLeaveSite)
	require.Equal(t, http.StatusConflict, resp.StatusCode)
	require.Equal(t, workflow.ReasonIllegalTransition, body["code"])
	require.Equal(t, models.CheckpointLeaveHome, body["next_punch"])

	resp, body = punch(t, srv, id, "coffee_break")
	require.Equal(t, http.StatusBadRequest, resp.StatusCode)
	require.Equal(t, workflow.ReasonUnknownCheckpoint, body["code"])
}

func TestAPI_Punch_TicketNotFound(t *testing.T) {
	srv, _ := newTestServer(t)

	resp, _ := punch(t, srv, 99, models.CheckpointLeaveHome)
	require.Equal(t, http.StatusNotFound, resp.StatusCode)
}

func TestAPI_Odometer(t *testing.T) {
	srv, _ := newTestServer(t)
	id := createTicket(t, srv)
	url := fmt.Sprintf("%s/tickets/%d/odometer", srv.URL, id)

	resp, _ := doJSON(t, http.MethodPost, url, map[string]any{})
	require.Equal(t, http.StatusBadRequest, resp.StatusCode)

	resp, body := doJSON(t, http.MethodPost, url, map[string]any{"odo_start": 1000, "odo_end": 1150})
	require.Equal(t, http.StatusOK, resp.StatusCode)
	require.Equal(t, float64(1000), body["odo_start"])
	require.Equal(t, float64(1150), body["odo_end"])

	resp, _ = doJSON(t, http.MethodPost, url, map[string]any{"odo_end": 900})
	require.Equal(t, http.StatusConflict, resp.StatusCode)
}

func TestAPI_Complete_MissingThenDone(t *testing.T) {
	srv, _ := newTestServer(t)
	id := createTicket(t, srv)
	statusURL := fmt.Sprintf("%s/tickets/%d/status", srv.URL, id)

	resp, _ := doJSON(t, http.MethodPatch, statusURL, map[string]any{"status": "SITE_LEFT"})
	require.Equal(t, http.StatusBadRequest, resp.StatusCode)

	resp, body := doJSON(t, http.MethodPatch, statusURL, map[string]any{"status": models.StateCompleted})
	require.Equal(t, http.StatusConflict, resp.StatusCode)
	missing := body["missing"].([]any)
	cats := map[string]bool{}
	for _, m := range missing {
		cats[m.(map[string]any)["category"].(string)] = true
	}
	require.True(t, cats[workflow.MissingState])
	require.True(t, cats[workflow.MissingOdometer])
	require.True(t, cats[workflow.MissingDescription])
	require.True(t, cats[workflow.MissingCheckpoints])

	for _, kind := range workflow.KindOrder {
		resp, _ := punch(t, srv, id, kind)
		require.Equal(t, http.StatusOK, resp.StatusCode)
	}
	doJSON(t, http.MethodPost, fmt.Sprintf("%s/tickets/%d/odometer", srv.URL, id),
		map[string]any{"odo_start": 1000, "odo_end": 1150})

	resp, body = doJSON(t, http.MethodPatch, statusURL, map[string]any{
		"status":      models.StateCompleted,
		"description": "swapped the compressor",
	})
	require.Equal(t, http.StatusOK, resp.StatusCode)
	require.Equal(t, models.StateCompleted, body["status"])
	require.Equal(t, "swapped the compressor", body["description"])

	// Completed tickets are read-only: every punch kind is already recorded,
	// so re-punching can only hit the idempotent no-op path.
	resp, body = punch(t, srv, id, models.CheckpointLeaveHome)
	require.Equal(t, http.StatusOK, resp.StatusCode)
	require.Equal(t, true, body["already_exists"])

	resp, _ = doJSON(t, http.MethodPost, fmt.Sprintf("%s/tickets/%d/odometer", srv.URL, id),
		map[string]any{"odo_start": 1200})
	require.Equal(t, http.StatusConflict, resp.StatusCode)
}

func TestAPI_Timesheet(t *testing.T) {
	srv, repo := newTestServer(t)
	id := createTicket(t, srv)

	base := time.Date(2024, 3, 1, 9, 0, 0, 0, time.UTC)
	cal := repo.cals[id]
	cal.Record(models.CheckpointLeaveHome, base)
	cal.Record(models.CheckpointReachWarehouse, base.Add(20*time.Minute))
	cal.Record(models.CheckpointStartSite, base.Add(50*time.Minute))
	cal.Record(models.CheckpointLeaveSite, base.Add(120*time.Minute))
	cal.Record(models.CheckpointReturnWarehouse, base.Add(145*time.Minute))
	cal.Record(models.CheckpointReturnHome, base.Add(170*time.Minute))

	resp, body := doJSON(t, http.MethodGet, fmt.Sprintf("%s/tickets/%d/timesheet", srv.URL, id), nil)
	require.Equal(t, http.StatusOK, resp.StatusCode)

	onSite := body["work_time_on_site"].(map[string]any)
	require.Equal(t, float64(70*60*1000), onSite["ms"])
	require.Equal(t, "1h 10m", onSite["formatted"])

	total := body["total_time"].(map[string]any)
	require.Equal(t, "2h 50m", total["formatted"])

	travel := body["total_travel_time"].(map[string]any)
	require.Equal(t, float64(100*60*1000), travel["ms"])
}

func TestAPI_Timesheet_EmptySegments(t *testing.T) {
	srv, _ := newTestServer(t)
	id := createTicket(t, srv)

	resp, body := doJSON(t, http.MethodGet, fmt.Sprintf("%s/tickets/%d/timesheet", srv.URL, id), nil)
	require.Equal(t, http.StatusOK, resp.StatusCode)

	onSite := body["work_time_on_site"].(map[string]any)
	require.Nil(t, onSite["ms"])
	require.Equal(t, "-", onSite["formatted"])
}

func TestAPI_GetTicket(t *testing.T) {
	srv, _ := newTestServer(t)
	id := createTicket(t, srv)
	punch(t, srv, id, models.CheckpointLeaveHome)

	resp, body := doJSON(t, http.MethodGet, fmt.Sprintf("%s/tickets/%d", srv.URL, id), nil)
	require.Equal(t, http.StatusOK, resp.StatusCode)

	ticket := body["ticket"].(map[string]any)
	require.Equal(t, models.StateLeftHome, ticket["status"])
	require.Len(t, body["punches"].([]any), 1)
	require.Contains(t, body, "time_segments")

	resp, _ = doJSON(t, http.MethodGet, srv.URL+"/tickets/99", nil)
	require.Equal(t, http.StatusNotFound, resp.StatusCode)
}

func TestAPI_Payroll(t *testing.T) {
	srv, repo := newTestServer(t)
	id := createTicket(t, srv)

	resp, _ := doJSON(t, http.MethodGet, fmt.Sprintf("%s/tickets/%d/payroll", srv.URL, id), nil)
	require.Equal(t, http.StatusNotFound, resp.StatusCode)

	travel := int64(100 * 60 * 1000)
	repo.payroll[id] = &models.PayrollEntry{TicketID: id, TravelMS: &travel, ComputedAt: time.Now().UTC()}

	resp, body := doJSON(t, http.MethodGet, fmt.Sprintf("%s/tickets/%d/payroll", srv.URL, id), nil)
	require.Equal(t, http.StatusOK, resp.StatusCode)
	require.Equal(t, float64(travel), body["travel_ms"])
}

type fakeLimiter struct {
	allowed bool
}

func (f *fakeLimiter) Allow(ctx context.Context, key string, limit int64, window time.Duration) (bool, int64, error) {
	return f.allowed, limit, nil
}

func TestAPI_Punch_RateLimited(t *testing.T) {
	repo := newMemRepo()
	svc := tickets.New(repo, nil, nil, tickets.Topics{}, 0)
	srv := httptest.NewServer(New(svc).WithRateLimiter(&fakeLimiter{allowed: false}, 10).Routes())
	t.Cleanup(srv.Close)

	id := createTicket(t, srv)
	resp, _ := punch(t, srv, id, models.CheckpointLeaveHome)
	require.Equal(t, http.StatusTooManyRequests, resp.StatusCode)
}
