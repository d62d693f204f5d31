package tickets

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"time"

	"github.com/pkg/errors"

	"github.com/BearBump/DispatchBox/internal/broker/messages"
	"github.com/BearBump/DispatchBox/internal/cache"
	"github.com/BearBump/DispatchBox/internal/models"
	"github.com/BearBump/DispatchBox/internal/storage/pgticket"
	"github.com/BearBump/DispatchBox/internal/workflow"
)

type Repository interface {
	CreateTicket(ctx context.Context, in models.TicketCreateInput) (*models.Ticket, error)
	GetTicket(ctx context.Context, id uint64) (*models.Ticket, error)
	ListCheckpoints(ctx context.Context, ticketID uint64) ([]*models.Checkpoint, error)
	ApplyCheckpoint(ctx context.Context, ticketID uint64, kind string, now time.Time, odoValue *int64) (*pgticket.CheckpointResult, error)
	UpdateOdometer(ctx context.Context, ticketID uint64, odoStart, odoEnd *int64) (*models.Ticket, error)
	CompleteTicket(ctx context.Context, ticketID uint64, description *string) (*pgticket.CompletionResult, error)
	GetPayrollEntry(ctx context.Context, ticketID uint64) (*models.PayrollEntry, error)
}

type Producer interface {
	Publish(ctx context.Context, topic string, key, value []byte) error
}

type Topics struct {
	TicketCheckpointed string
	TicketCompleted    string
}

type Service struct {
	repo       Repository
	cache      cache.BytesCache
	producer   Producer
	topics     Topics
	currentTTL time.Duration
}

func New(repo Repository, c cache.BytesCache, producer Producer, topics Topics, currentTTL time.Duration) *Service {
	return &Service{repo: repo, cache: c, producer: producer, topics: topics, currentTTL: currentTTL}
}

// TicketView is what GetTicket returns and what the cache holds: the ticket
// row plus its recorded checkpoints.
type TicketView struct {
	Ticket      *models.Ticket       `json:"ticket"`
	Checkpoints []*models.Checkpoint `json:"checkpoints"`
}

func (s *Service) CreateTicket(ctx context.Context, in models.TicketCreateInput) (*models.Ticket, error) {
	if in.ClientName == "" {
		return nil, errors.New("clientName is required")
	}
	if in.SiteName == "" {
		return nil, errors.New("siteName is required")
	}
	if in.SiteAddress == "" {
		return nil, errors.New("siteAddress is required")
	}
	return s.repo.CreateTicket(ctx, in)
}

func (s *Service) GetTicket(ctx context.Context, id uint64) (*TicketView, error) {
	if id == 0 {
		return nil, errors.New("ticketId is required")
	}

	if s.cache != nil && s.currentTTL > 0 {
		if b, ok, err := s.cache.Get(ctx, currentKey(id)); err == nil && ok {
			var v TicketView
			if json.Unmarshal(b, &v) == nil && v.Ticket != nil {
				return &v, nil
			}
		}
	}

	return s.loadAndCache(ctx, id)
}

func (s *Service) loadAndCache(ctx context.Context, id uint64) (*TicketView, error) {
	t, err := s.repo.GetTicket(ctx, id)
	if err != nil {
		return nil, err
	}
	cps, err := s.repo.ListCheckpoints(ctx, id)
	if err != nil {
		return nil, err
	}
	v := &TicketView{Ticket: t, Checkpoints: cps}
	s.cacheView(ctx, v)
	return v, nil
}

// cacheView is best effort: a cache that is down never fails a request.
func (s *Service) cacheView(ctx context.Context, v *TicketView) {
	if s.cache == nil || s.currentTTL <= 0 || v == nil || v.Ticket == nil {
		return
	}
	b, _ := json.Marshal(v)
	_ = s.cache.Set(ctx, currentKey(v.Ticket.ID), b, s.currentTTL)
}

// RecordCheckpoint validates and applies one punch. The timestamp is always
// server-assigned here, never taken from the client.
func (s *Service) RecordCheckpoint(ctx context.Context, ticketID uint64, kind string, odoValue *int64) (*pgticket.CheckpointResult, error) {
	if ticketID == 0 {
		return nil, errors.New("ticketId is required")
	}
	if odoValue != nil && *odoValue < 0 {
		return nil, errors.New("odoValue must be non-negative")
	}

	res, err := s.repo.ApplyCheckpoint(ctx, ticketID, kind, time.Now().UTC(), odoValue)
	if err != nil {
		return nil, err
	}

	if res.Decision.Outcome == workflow.OutcomeRecorded {
		s.refreshCache(ctx, ticketID)
		s.publishCheckpointed(ctx, ticketID, kind, res)
	}
	return res, nil
}

func (s *Service) publishCheckpointed(ctx context.Context, ticketID uint64, kind string, res *pgticket.CheckpointResult) {
	if s.producer == nil || s.topics.TicketCheckpointed == "" {
		return
	}
	b, _ := json.Marshal(messages.TicketCheckpointed{
		TicketID:   ticketID,
		Kind:       kind,
		RecordedAt: res.Decision.RecordedAt,
		NewState:   res.Decision.NewState,
	})
	if err := s.producer.Publish(ctx, s.topics.TicketCheckpointed, ticketKey(ticketID), b); err != nil {
		slog.Error("publish ticket checkpointed", "ticket_id", ticketID, "error", err.Error())
	}
}

func (s *Service) UpdateOdometer(ctx context.Context, ticketID uint64, odoStart, odoEnd *int64) (*models.Ticket, error) {
	if ticketID == 0 {
		return nil, errors.New("ticketId is required")
	}
	if odoStart == nil && odoEnd == nil {
		return nil, errors.New("odoStart or odoEnd is required")
	}
	if odoStart != nil && *odoStart < 0 {
		return nil, errors.New("odoStart must be non-negative")
	}
	if odoEnd != nil && *odoEnd < 0 {
		return nil, errors.New("odoEnd must be non-negative")
	}

	t, err := s.repo.UpdateOdometer(ctx, ticketID, odoStart, odoEnd)
	if err != nil {
		return nil, err
	}
	s.refreshCache(ctx, ticketID)
	return t, nil
}

// CompleteTicket runs the completion validator and, when eligible, performs
// the terminal transition and announces it for payroll.
func (s *Service) CompleteTicket(ctx context.Context, ticketID uint64, description *string) (*pgticket.CompletionResult, error) {
	if ticketID == 0 {
		return nil, errors.New("ticketId is required")
	}

	res, err := s.repo.CompleteTicket(ctx, ticketID, description)
	if err != nil {
		return nil, err
	}
	if !res.Eligibility.Eligible {
		if res.Eligibility.IntegrityMismatch {
			slog.Error("ticket state claims BACK_HOME but checkpoints are missing",
				"ticket_id", ticketID)
		}
		return res, nil
	}

	s.refreshCache(ctx, ticketID)
	s.publishCompleted(ctx, res)
	return res, nil
}

func (s *Service) publishCompleted(ctx context.Context, res *pgticket.CompletionResult) {
	if s.producer == nil || s.topics.TicketCompleted == "" {
		return
	}
	msg := messages.TicketCompleted{
		TicketID:    res.Ticket.ID,
		CompletedAt: res.Ticket.UpdatedAt,
		OdoStart:    res.Ticket.OdoStart,
		OdoEnd:      res.Ticket.OdoEnd,
	}
	for _, cp := range res.Checkpoints {
		msg.Checkpoints = append(msg.Checkpoints, messages.CheckpointStamp{Kind: cp.Kind, RecordedAt: cp.RecordedAt})
	}
	b, _ := json.Marshal(msg)

	// Payroll depends on this message, so retry briefly before giving up; the
	// terminal state is already durable either way.
	var pubErr error
	for i := 0; i < 3; i++ {
		if pubErr = s.producer.Publish(ctx, s.topics.TicketCompleted, ticketKey(res.Ticket.ID), b); pubErr == nil {
			return
		}
		time.Sleep(time.Duration(100*(i+1)) * time.Millisecond)
	}
	slog.Error("publish ticket completed", "ticket_id", res.Ticket.ID, "error", pubErr.Error())
}

// TimeSegments derives the travel/work durations from the current checkpoint
// set. Read only; an incomplete calendar just yields absent segments.
func (s *Service) TimeSegments(ctx context.Context, ticketID uint64) (workflow.TimeSegments, error) {
	if ticketID == 0 {
		return workflow.TimeSegments{}, errors.New("ticketId is required")
	}
	cps, err := s.repo.ListCheckpoints(ctx, ticketID)
	if err != nil {
		return workflow.TimeSegments{}, err
	}
	return workflow.Segments(workflow.CalendarFromCheckpoints(cps)), nil
}

func (s *Service) PayrollEntry(ctx context.Context, ticketID uint64) (*models.PayrollEntry, error) {
	if ticketID == 0 {
		return nil, errors.New("ticketId is required")
	}
	return s.repo.GetPayrollEntry(ctx, ticketID)
}

func (s *Service) refreshCache(ctx context.Context, ticketID uint64) {
	if s.cache == nil || s.currentTTL <= 0 {
		return
	}
	if _, err := s.loadAndCache(ctx, ticketID); err != nil {
		slog.Warn("refresh ticket cache", "ticket_id", ticketID, "error", err.Error())
	}
}

func currentKey(id uint64) string {
	return fmt.Sprintf("ticket:%d:current", id)
}

func ticketKey(id uint64) []byte {
	return []byte(fmt.Sprintf("%d", id))
}
