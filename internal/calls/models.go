package calls

import (
	"encoding/json"
	"strings"
	"time"
)

// Call represents one live session between a seller and a counterparty.
//
// Invariants:
// - EndedAt is set iff Status is ended, summarized or error.
// - DurationSeconds is derived (EndedAt - StartedAt), never trusted from input.
//
// NOTE: This is a domain model only. Transport-specific fields (websocket
// channel, provider session ids) do not belong here.

type Call struct {
	ID          string `json:"id" db:"id"`
	DealID      int    `json:"deal_id" db:"deal_id"`
	AccountName string `json:"account_name" db:"account_name"`
	ContactName string `json:"contact_name,omitempty" db:"contact_name"`

	Status CallStatus `json:"status" db:"status"`

	StartedAt time.Time  `json:"started_at" db:"started_at"`
	EndedAt   *time.Time `json:"ended_at,omitempty" db:"ended_at"`

	// DurationSeconds is recomputed on end; kept as an int for JSON friendliness.
	DurationSeconds int `json:"duration_seconds" db:"duration_seconds"`

	RecordingURL string `json:"recording_url,omitempty" db:"recording_url"`

	CreatedAt time.Time `json:"created_at" db:"created_at"`
	UpdatedAt time.Time `json:"updated_at" db:"updated_at"`
}

type CallStatus string

const (
	CallStatusInProgress CallStatus = "in_progress"
	CallStatusEnded      CallStatus = "ended"
	CallStatusSummarized CallStatus = "summarized"
	CallStatusError      CallStatus = "error"
)

// Terminal reports whether no further transitions are accepted from s.
func (s CallStatus) Terminal() bool {
	return s == CallStatusSummarized || s == CallStatusError
}

// TranscriptChunk is one timestamped, attributed span of transcript text.
// Offsets are seconds relative to call start; End >= Start.
type TranscriptChunk struct {
	ID     string `json:"id" db:"id"`
	CallID string `json:"call_id" db:"call_id"`

	Speaker string  `json:"speaker" db:"speaker"`
	Text    string  `json:"text" db:"text"`
	Start   float64 `json:"start_time" db:"start_time"`
	End     float64 `json:"end_time" db:"end_time"`

	// Confidence is in [0,1].
	Confidence float64 `json:"confidence" db:"confidence"`

	// IsFinal marks the chunk as the definitive rendition of its utterance.
	// Non-final chunks may be superseded upstream; the core does not dedupe.
	IsFinal bool `json:"is_final" db:"is_final"`

	CreatedAt time.Time `json:"created_at" db:"created_at"`
}

// Line renders the chunk as a "speaker: text" transcript line.
func (c TranscriptChunk) Line() string {
	return c.Speaker + ": " + c.Text
}

// CallSummary is the structured post-call summary. At most one per call;
// regeneration replaces the stored row (upsert semantics).
type CallSummary struct {
	ID     string `json:"id" db:"id"`
	CallID string `json:"call_id" db:"call_id"`

	ExecutiveSummary string      `json:"executive_summary" db:"executive_summary"`
	KeyPoints        []string    `json:"key_points" db:"key_points"`
	PainPoints       []PainPoint `json:"pain_points" db:"pain_points"`
	Objections       []Objection `json:"objections" db:"objections"`
	NextSteps        string      `json:"next_steps" db:"next_steps"`

	// DealHealthScore is clamped to [1,10]; 1=lost, 10=won.
	DealHealthScore  int    `json:"deal_health_score" db:"deal_health_score"`
	DealHealthReason string `json:"deal_health_reason" db:"deal_health_reason"`

	GeneratedAt time.Time `json:"generated_at" db:"generated_at"`
	CreatedAt   time.Time `json:"created_at" db:"created_at"`
}

type PainPoint struct {
	Description string `json:"description"`
	Severity    string `json:"severity"` // low, medium, high
	Context     string `json:"context,omitempty"`
}

type Objection struct {
	Description       string `json:"description"`
	Category          string `json:"category"` // pricing, timeline, features, competition, general
	ResponseSuggested string `json:"response_suggested,omitempty"`
}

// ActionItem is a discrete follow-up task derived from a call.
type ActionItem struct {
	ID     string `json:"id" db:"id"`
	CallID string `json:"call_id" db:"call_id"`

	Task    string `json:"task" db:"task"`
	Owner   Owner  `json:"owner" db:"owner"`
	DueDate string `json:"due_date,omitempty" db:"due_date"` // YYYY-MM-DD, empty = none

	Priority ItemPriority `json:"priority" db:"priority"`
	Status   ItemStatus   `json:"status" db:"status"`

	CreatedAt time.Time `json:"created_at" db:"created_at"`
	UpdatedAt time.Time `json:"updated_at" db:"updated_at"`
}

type ItemPriority string

const (
	PriorityHigh   ItemPriority = "high"
	PriorityMedium ItemPriority = "medium"
	PriorityLow    ItemPriority = "low"
)

// ValidPriority reports whether p is one of the known priorities.
func ValidPriority(p ItemPriority) bool {
	switch p {
	case PriorityHigh, PriorityMedium, PriorityLow:
		return true
	default:
		return false
	}
}

type ItemStatus string

const (
	ItemStatusPending    ItemStatus = "pending"
	ItemStatusInProgress ItemStatus = "in_progress"
	ItemStatusCompleted  ItemStatus = "completed"
)

func ValidItemStatus(s ItemStatus) bool {
	switch s {
	case ItemStatusPending, ItemStatusInProgress, ItemStatusCompleted:
		return true
	default:
		return false
	}
}

// Owner is a tagged owner value: the seller role, the customer role, or a
// named person. It marshals as a plain string so the wire shape matches what
// clients and the model produce.
type Owner struct {
	Role OwnerRole
	Name string // set only when Role == OwnerNamed
}

type OwnerRole string

const (
	OwnerSeller   OwnerRole = "seller"
	OwnerCustomer OwnerRole = "customer"
	OwnerNamed    OwnerRole = "named"
)

// SellerOwner is the default owner for synthesized follow-up tasks.
func SellerOwner() Owner { return Owner{Role: OwnerSeller} }

// ParseOwner resolves a free-form owner string. First-person pronouns map to
// the seller role; the literal role words map to their roles; anything else
// is a named owner.
func ParseOwner(s string) Owner {
	trimmed := strings.TrimSpace(s)
	switch strings.ToLower(trimmed) {
	case "", "me", "i", "we", "us", "our team", "seller":
		return Owner{Role: OwnerSeller}
	case "customer", "client", "prospect":
		return Owner{Role: OwnerCustomer}
	default:
		return Owner{Role: OwnerNamed, Name: trimmed}
	}
}

func (o Owner) String() string {
	switch o.Role {
	case OwnerNamed:
		return o.Name
	case OwnerCustomer:
		return "Customer"
	default:
		return "Seller"
	}
}

func (o Owner) MarshalJSON() ([]byte, error) {
	return json.Marshal(o.String())
}

func (o *Owner) UnmarshalJSON(data []byte) error {
	var s string
	if err := json.Unmarshal(data, &s); err != nil {
		return err
	}
	*o = ParseOwner(s)
	return nil
}

// ActionItemUpdate carries the mutable fields of an action item. Nil fields
// are left unchanged.
type ActionItemUpdate struct {
	Task     *string       `json:"task,omitempty"`
	Owner    *Owner        `json:"owner,omitempty"`
	DueDate  *string       `json:"due_date,omitempty"`
	Priority *ItemPriority `json:"priority,omitempty"`
	Status   *ItemStatus   `json:"status,omitempty"`
}
