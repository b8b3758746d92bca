package calls

import (
	"context"
	"sort"
	"sync"
	"time"

	"github.com/google/uuid"
)

// MemoryRepo is an in-process Repository for tests and degraded single-node
// operation. Behavior must match PostgresRepo for every sequence of calls.

type MemoryRepo struct {
	mu sync.Mutex

	calls     map[string]Call
	chunks    map[string][]TranscriptChunk // call_id -> ordered by insert
	summaries map[string]CallSummary       // call_id -> summary
	items     map[string]ActionItem        // item_id -> item
	itemOrder []string                     // insertion order for stable listing

	// clock is injectable for deterministic tests.
	clock func() time.Time
}

func NewMemoryRepo() *MemoryRepo {
	return &MemoryRepo{
		calls:     map[string]Call{},
		chunks:    map[string][]TranscriptChunk{},
		summaries: map[string]CallSummary{},
		items:     map[string]ActionItem{},
		clock:     time.Now,
	}
}

// SetClock replaces the repository clock. Tests only.
func (r *MemoryRepo) SetClock(clock func() time.Time) { r.clock = clock }

func (r *MemoryRepo) CreateCall(ctx context.Context, call Call) (Call, bool, error) {
	if call.ID == "" {
		call.ID = uuid.NewString()
	}
	if call.AccountName == "" {
		return Call{}, false, ErrInvalidArgument
	}

	r.mu.Lock()
	defer r.mu.Unlock()

	if existing, ok := r.calls[call.ID]; ok {
		return existing, false, nil
	}

	now := r.clock().UTC()
	call.Status = CallStatusInProgress
	if call.StartedAt.IsZero() {
		call.StartedAt = now
	}
	call.EndedAt = nil
	call.DurationSeconds = 0
	call.CreatedAt = now
	call.UpdatedAt = now
	r.calls[call.ID] = call
	return call, true, nil
}

func (r *MemoryRepo) GetCall(ctx context.Context, callID string) (Call, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	call, ok := r.calls[callID]
	if !ok {
		return Call{}, ErrNotFound
	}
	return call, nil
}

func (r *MemoryRepo) ListCallsByDeal(ctx context.Context, dealID int) ([]Call, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	out := make([]Call, 0)
	for _, c := range r.calls {
		if c.DealID == dealID {
			out = append(out, c)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].StartedAt.Before(out[j].StartedAt) })
	return out, nil
}

func (r *MemoryRepo) EndCall(ctx context.Context, callID string) (Call, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	call, ok := r.calls[callID]
	if !ok {
		return Call{}, ErrNotFound
	}
	switch call.Status {
	case CallStatusEnded, CallStatusSummarized:
		// idempotent no-op
		return call, nil
	case CallStatusError:
		return Call{}, ErrTerminalState
	}

	endedAt := r.clock().UTC()
	dur := int(endedAt.Sub(call.StartedAt).Seconds())
	if dur < 0 {
		dur = 0
	}
	call.Status = CallStatusEnded
	call.EndedAt = &endedAt
	call.DurationSeconds = dur
	call.UpdatedAt = endedAt
	r.calls[callID] = call
	return call, nil
}

func (r *MemoryRepo) SetCallSummarized(ctx context.Context, callID string) (Call, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	call, ok := r.calls[callID]
	if !ok {
		return Call{}, ErrNotFound
	}
	if call.Status == CallStatusSummarized {
		return call, nil
	}
	if call.Status != CallStatusEnded {
		// summarized is only reachable through ended
		return Call{}, ErrTerminalState
	}
	call.Status = CallStatusSummarized
	call.UpdatedAt = r.clock().UTC()
	r.calls[callID] = call
	return call, nil
}

func (r *MemoryRepo) MarkCallError(ctx context.Context, callID string) (Call, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	call, ok := r.calls[callID]
	if !ok {
		return Call{}, ErrNotFound
	}
	if call.Status.Terminal() {
		return call, nil
	}
	now := r.clock().UTC()
	call.Status = CallStatusError
	if call.EndedAt == nil {
		call.EndedAt = &now
	}
	call.UpdatedAt = now
	r.calls[callID] = call
	return call, nil
}

func (r *MemoryRepo) PurgeCall(ctx context.Context, callID string) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	if _, ok := r.calls[callID]; !ok {
		return ErrNotFound
	}
	delete(r.calls, callID)
	delete(r.chunks, callID)
	delete(r.summaries, callID)

	kept := r.itemOrder[:0]
	for _, id := range r.itemOrder {
		if item, ok := r.items[id]; ok && item.CallID == callID {
			delete(r.items, id)
			continue
		}
		kept = append(kept, id)
	}
	r.itemOrder = kept
	return nil
}

func (r *MemoryRepo) AddTranscriptChunk(ctx context.Context, chunk TranscriptChunk) (TranscriptChunk, error) {
	if chunk.CallID == "" || chunk.Text == "" {
		return TranscriptChunk{}, ErrInvalidArgument
	}
	if chunk.End < chunk.Start {
		return TranscriptChunk{}, ErrInvalidArgument
	}
	if chunk.ID == "" {
		chunk.ID = uuid.NewString()
	}

	r.mu.Lock()
	defer r.mu.Unlock()
	chunk.CreatedAt = r.clock().UTC()
	r.chunks[chunk.CallID] = append(r.chunks[chunk.CallID], chunk)
	return chunk, nil
}

func (r *MemoryRepo) GetTranscript(ctx context.Context, callID string, from, to float64) ([]TranscriptChunk, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	out := make([]TranscriptChunk, 0)
	for _, c := range r.chunks[callID] {
		if !c.IsFinal {
			continue
		}
		if from >= 0 && c.Start < from {
			continue
		}
		if to >= 0 && c.End > to {
			continue
		}
		out = append(out, c)
	}
	sort.SliceStable(out, func(i, j int) bool { return out[i].Start < out[j].Start })
	return out, nil
}

func (r *MemoryRepo) FullTranscriptText(ctx context.Context, callID string) (string, error) {
	chunks, err := r.GetTranscript(ctx, callID, -1, -1)
	if err != nil {
		return "", err
	}
	return JoinLines(chunks), nil
}

func (r *MemoryRepo) UpsertSummary(ctx context.Context, summary CallSummary) (CallSummary, error) {
	if summary.CallID == "" {
		return CallSummary{}, ErrInvalidArgument
	}

	r.mu.Lock()
	defer r.mu.Unlock()

	now := r.clock().UTC()
	if existing, ok := r.summaries[summary.CallID]; ok {
		// latest wins, identity preserved
		summary.ID = existing.ID
		summary.CreatedAt = existing.CreatedAt
	} else {
		if summary.ID == "" {
			summary.ID = uuid.NewString()
		}
		summary.CreatedAt = now
	}
	summary.GeneratedAt = now
	r.summaries[summary.CallID] = summary
	return summary, nil
}

func (r *MemoryRepo) GetSummary(ctx context.Context, callID string) (CallSummary, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	s, ok := r.summaries[callID]
	if !ok {
		return CallSummary{}, ErrNotFound
	}
	return s, nil
}

func (r *MemoryRepo) CreateActionItems(ctx context.Context, items []ActionItem) ([]ActionItem, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	now := r.clock().UTC()
	out := make([]ActionItem, 0, len(items))
	for _, item := range items {
		if item.CallID == "" || item.Task == "" {
			return nil, ErrInvalidArgument
		}
		if item.ID == "" {
			item.ID = uuid.NewString()
		}
		if !ValidPriority(item.Priority) {
			item.Priority = PriorityMedium
		}
		if !ValidItemStatus(item.Status) {
			item.Status = ItemStatusPending
		}
		item.CreatedAt = now
		item.UpdatedAt = now
		r.items[item.ID] = item
		r.itemOrder = append(r.itemOrder, item.ID)
		out = append(out, item)
	}
	return out, nil
}

func (r *MemoryRepo) ListActionItems(ctx context.Context, callID string) ([]ActionItem, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	out := make([]ActionItem, 0)
	for _, id := range r.itemOrder {
		if item, ok := r.items[id]; ok && item.CallID == callID {
			out = append(out, item)
		}
	}
	return out, nil
}

func (r *MemoryRepo) GetActionItem(ctx context.Context, itemID string) (ActionItem, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	item, ok := r.items[itemID]
	if !ok {
		return ActionItem{}, ErrNotFound
	}
	return item, nil
}

func (r *MemoryRepo) UpdateActionItem(ctx context.Context, itemID string, update ActionItemUpdate) (ActionItem, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	item, ok := r.items[itemID]
	if !ok {
		return ActionItem{}, ErrNotFound
	}
	if update.Task != nil {
		if *update.Task == "" {
			return ActionItem{}, ErrInvalidArgument
		}
		item.Task = *update.Task
	}
	if update.Owner != nil {
		item.Owner = *update.Owner
	}
	if update.DueDate != nil {
		item.DueDate = *update.DueDate
	}
	if update.Priority != nil {
		if !ValidPriority(*update.Priority) {
			return ActionItem{}, ErrInvalidArgument
		}
		item.Priority = *update.Priority
	}
	if update.Status != nil {
		if !ValidItemStatus(*update.Status) {
			return ActionItem{}, ErrInvalidArgument
		}
		item.Status = *update.Status
	}
	item.UpdatedAt = r.clock().UTC()
	r.items[itemID] = item
	return item, nil
}

// JoinLines renders chunks as newline-joined "speaker: text" lines.
func JoinLines(chunks []TranscriptChunk) string {
	if len(chunks) == 0 {
		return ""
	}
	out := chunks[0].Line()
	for _, c := range chunks[1:] {
		out += "\n" + c.Line()
	}
	return out
}
