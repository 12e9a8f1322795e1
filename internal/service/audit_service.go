package service

import (
	"context"
	"log/slog"
	"time"

	"go-photoshare/internal/event"
	"go-photoshare/internal/guard"
	"go-photoshare/internal/model"
)

const auditWriteTimeout = 5 * time.Second

type AuditStore interface {
	Log(ctx context.Context, entry model.AuditEntry) error
	ListForSubject(ctx context.Context, subjectID string, limit int) ([]model.AuditEntry, error)
}

// AuditService records auth lifecycle events drained from the bus.
type AuditService struct {
	store AuditStore
	guard *guard.Guard
}

func NewAuditService(store AuditStore, g *guard.Guard) *AuditService {
	return &AuditService{store: store, guard: g}
}

// Run consumes events until ctx is done or the channel is closed.
func (s *AuditService) Run(ctx context.Context, events <-chan event.Event) {
	for {
		select {
		case <-ctx.Done():
			return
		case e, ok := <-events:
			if !ok {
				return
			}
			s.record(ctx, e)
		}
	}
}

func (s *AuditService) record(ctx context.Context, e event.Event) {
	level := slog.LevelInfo
	if e.Type == event.TypeRefreshReused || e.Type == event.TypeLoginFailed {
		level = slog.LevelWarn
	}
	slog.Log(ctx, level, "auth event", "type", string(e.Type), "actor_id", e.ActorID, "subject_id", e.SubjectID, "event_id", e.ID)

	if s.store == nil {
		return
	}

	writeCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), auditWriteTimeout)
	defer cancel()

	entry := model.AuditEntry{
		ID:         e.ID,
		Type:       string(e.Type),
		ActorID:    e.ActorID,
		SubjectID:  e.SubjectID,
		Attributes: e.Attributes,
		OccurredAt: e.Timestamp,
	}
	if err := s.store.Log(writeCtx, entry); err != nil {
		slog.Warn("audit entry not stored", "event_id", e.ID, "error", err)
	}
}

// History returns the newest events about subjectID.
func (s *AuditService) History(ctx context.Context, actor model.Principal, subjectID string, limit int) ([]model.AuditEntry, error) {
	if !s.guard.Authorize(actor, actionAuditUser, subjectID) {
		return nil, model.ErrForbidden
	}
	if s.store == nil {
		return []model.AuditEntry{}, nil
	}
	return s.store.ListForSubject(ctx, subjectID, limit)
}
