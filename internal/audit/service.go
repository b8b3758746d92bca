package audit

import (
	"context"
	"errors"
	"time"

	"github.com/google/uuid"
)

// Repository is the persistence contract for audit events.
//
// It MUST be append-only. No Update/Delete methods are provided.

type Repository interface {
	Append(ctx context.Context, e Event) error
	ListByCall(ctx context.Context, callID string) ([]Event, error)
}

// Service records call audit events.
//
// Audit is internal-only and best-effort: callers log the returned error and
// move on. A nil *Service is a valid no-op recorder.

type Service struct {
	repo  Repository
	clock func() time.Time
}

func NewService(repo Repository) *Service {
	return &Service{repo: repo, clock: time.Now}
}

var ErrInvalidEvent = errors.New("audit: invalid event")

func (s *Service) Append(ctx context.Context, e Event) error {
	if s == nil || s.repo == nil {
		return nil
	}
	if e.CallID == "" || e.Type == "" {
		return ErrInvalidEvent
	}

	if e.ID == "" {
		e.ID = uuid.NewString()
	}
	if e.CreatedAt.IsZero() {
		e.CreatedAt = s.clock().UTC()
	}
	return s.repo.Append(ctx, e)
}

// LogTransition records a call status change.
func (s *Service) LogTransition(ctx context.Context, callID string, typ EventType, message string) error {
	return s.Append(ctx, Event{CallID: callID, Type: typ, Message: message})
}

// LogItemUpdate records an administrative edit of an action item.
func (s *Service) LogItemUpdate(ctx context.Context, callID, itemID, metadata string) error {
	return s.Append(ctx, Event{
		CallID:   callID,
		Type:     EventTypeItemUpdated,
		Message:  "action item " + itemID + " updated",
		Metadata: metadata,
	})
}

// ListByCall returns the trail for one call, oldest first.
func (s *Service) ListByCall(ctx context.Context, callID string) ([]Event, error) {
	if s == nil || s.repo == nil {
		return nil, nil
	}
	return s.repo.ListByCall(ctx, callID)
}

// SetClock overrides time for tests.
func (s *Service) SetClock(clock func() time.Time) { s.clock = clock }
